package proc

import (
	"testing"

	"github.com/kcs1959/kcs-os/kernel/cpu"
	"github.com/kcs1959/kcs-os/kernel/mm/phys"
	"github.com/kcs1959/kcs-os/kernel/mm/pmm"
	"github.com/kcs1959/kcs-os/kernel/mm/vmm"
)

const (
	testRAMBase   = uintptr(0x80000000)
	testRAMSize   = uintptr(1 << 20)
	testStackArea = testRAMBase + 0x10000
	testFreeRAM   = testRAMBase + 0x40000
	testUserBase  = uintptr(0x1000000)
)

type switchCall struct {
	prev, next *cpu.Context
}

func newTestTable(t *testing.T) (*Table, *cpu.Hart, *[]switchCall) {
	t.Helper()

	mem := phys.NewMemory(testRAMBase, testRAMSize)
	var alloc pmm.BumpAllocator
	if err := alloc.Init(mem, testFreeRAM, mem.End()); err != nil {
		t.Fatal(err)
	}

	hart := cpu.NewHart(mem)
	layout := vmm.Layout{
		KernelBase: testRAMBase,
		FreeRAMEnd: mem.End(),
		MMIOBase:   0x10001000,
		UserBase:   testUserBase,
	}

	table, err := NewTable(hart, &alloc, layout, testStackArea)
	if err != nil {
		t.Fatal(err)
	}

	var calls []switchCall
	origSwitch := switchContextFn
	t.Cleanup(func() { switchContextFn = origSwitch })
	switchContextFn = func(_ *cpu.Hart, prev, next *cpu.Context) {
		calls = append(calls, switchCall{prev, next})
	}

	return table, hart, &calls
}

func TestNewTableRejectsUnalignedStacks(t *testing.T) {
	mem := phys.NewMemory(testRAMBase, testRAMSize)
	if _, err := NewTable(cpu.NewHart(mem), nil, vmm.Layout{}, testStackArea+4); err != errStackAreaUnaligned {
		t.Fatalf("expected errStackAreaUnaligned; got %v", err)
	}
}

func TestCreate(t *testing.T) {
	table, hart, _ := newTestTable(t)

	idle, err := table.CreateIdle()
	if err != nil {
		t.Fatal(err)
	}
	if idle.PID != 0 || table.Current() != idle || table.Idle() != idle {
		t.Fatalf("expected idle process with pid 0 to be current; got pid %d", idle.PID)
	}

	p, err := table.Create([]byte("print('hi')"))
	if err != nil {
		t.Fatal(err)
	}

	if p.PID != 2 || p.State != Runnable || p != table.Slot(1) {
		t.Fatalf("expected second slot to hold runnable pid 2; got pid %d state %s", p.PID, p.State)
	}

	if exp := uint32(testStackArea + 2*KernelStackSize); p.StackTop() != exp {
		t.Fatalf("expected stack top 0x%x; got 0x%x", exp, p.StackTop())
	}

	mem := hart.Memory()
	sp := uintptr(p.SavedSP())
	if sp != uintptr(p.StackTop())-cpu.ContextFrameSize {
		t.Fatalf("expected 13 words on the initial stack; sp = 0x%x", sp)
	}
	if ra := mem.Read32(sp); ra != cpu.UserEntryAddr {
		t.Fatalf("expected saved ra to be the user entry trampoline; got 0x%x", ra)
	}
	for i := uintptr(1); i < 13; i++ {
		if v := mem.Read32(sp + 4*i); v != 0 {
			t.Errorf("expected saved s%d to be zero; got 0x%x", i-1, v)
		}
	}

	paddr, flags, kerr := p.PageTable.Translate(testUserBase)
	if kerr != nil {
		t.Fatal(kerr)
	}
	if flags&vmm.FlagUser == 0 || mem.Read8(paddr) != 'p' {
		t.Fatalf("expected user image at UserBase; flags %x byte %q", flags, mem.Read8(paddr))
	}
}

func TestCreateNoFreeSlots(t *testing.T) {
	table, _, _ := newTestTable(t)

	if _, err := table.CreateIdle(); err != nil {
		t.Fatal(err)
	}
	for i := 1; i < MaxProcs; i++ {
		if _, err := table.Create([]byte{1}); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := table.Create([]byte{1}); err != errNoFreeSlots {
		t.Fatalf("expected errNoFreeSlots; got %v", err)
	}

	// Exited slots are never reclaimed.
	table.Slot(3).State = Exited
	if _, err := table.Create([]byte{1}); err != errNoFreeSlots {
		t.Fatalf("expected exited slots to stay occupied; got %v", err)
	}
}

func TestYieldRoundRobin(t *testing.T) {
	table, hart, calls := newTestTable(t)

	if _, err := table.CreateIdle(); err != nil {
		t.Fatal(err)
	}

	const k = 4
	var procs []*Process
	for i := 0; i < k; i++ {
		p, err := table.Create([]byte{1})
		if err != nil {
			t.Fatal(err)
		}
		procs = append(procs, p)
	}

	var visited []int
	for i := 0; i < 2*k; i++ {
		table.Yield()
		visited = append(visited, table.Current().PID)
	}

	if exp := []int{2, 3, 4, 5, 2, 3, 4, 5}; !equalInts(visited, exp) {
		t.Fatalf("expected visit order %v; got %v", exp, visited)
	}

	// Every runnable process is visited within k yields from any start.
	for start := 0; start < k; start++ {
		seen := map[int]bool{}
		for i := 0; i < k; i++ {
			seen[visited[start+i]] = true
		}
		if len(seen) != k {
			t.Fatalf("expected all %d processes within %d yields starting at %d; got %v", k, k, start, seen)
		}
	}

	last := (*calls)[len(*calls)-1]
	if last.prev != &procs[k-2].ctx || last.next != &procs[k-1].ctx {
		t.Fatal("expected the last switch to go from pid 4 to pid 5")
	}

	cur := table.Current()
	if hart.Satp != cur.PageTable.SATP() {
		t.Fatalf("expected satp 0x%x; got 0x%x", cur.PageTable.SATP(), hart.Satp)
	}
	if hart.Sscratch != cur.StackTop() {
		t.Fatalf("expected sscratch to hold the kernel stack top 0x%x; got 0x%x", cur.StackTop(), hart.Sscratch)
	}
}

func TestYieldSkipsExitedAndFallsBackToIdle(t *testing.T) {
	table, _, calls := newTestTable(t)

	idle, _ := table.CreateIdle()
	a, _ := table.Create([]byte{1})
	b, _ := table.Create([]byte{1})

	table.Yield()
	if table.Current() != a {
		t.Fatalf("expected pid %d; got %d", a.PID, table.Current().PID)
	}

	b.State = Exited
	table.Yield()
	if table.Current() != a || len(*calls) != 1 {
		t.Fatal("expected yield to return without switching when the current process is the only candidate")
	}

	a.State = Exited
	table.Yield()
	if table.Current() != idle {
		t.Fatalf("expected idle to run when nothing is runnable; got pid %d", table.Current().PID)
	}
}

func TestExit(t *testing.T) {
	table, _, calls := newTestTable(t)

	var panicked interface{}
	origPanic := panicFn
	defer func() { panicFn = origPanic }()
	panicFn = func(e interface{}) { panicked = e }

	idle, _ := table.CreateIdle()
	p, _ := table.Create([]byte{1})
	table.Yield()

	table.Exit()

	if p.State != Exited {
		t.Fatalf("expected process to be exited; got %s", p.State)
	}
	if table.Current() != idle || len(*calls) != 2 {
		t.Fatal("expected exit to switch to the idle process")
	}

	// The mocked context switch returns, which a real exited process never
	// observes.
	if panicked != errUnreachable {
		t.Fatalf("expected errUnreachable; got %v", panicked)
	}
}

func TestUserEntry(t *testing.T) {
	table, hart, _ := newTestTable(t)

	var panicked interface{}
	origPanic := panicFn
	defer func() { panicFn = origPanic }()
	panicFn = func(e interface{}) { panicked = e }

	var (
		gotMode cpu.Mode
		gotPC   uint32
	)
	hart.SetUserExecutor(func(h *cpu.Hart) {
		gotMode, gotPC = h.Mode(), h.PC
	})

	var gotCause uint32
	hart.SetTrapVector(func(*cpu.TrapFrame) {
		gotCause = hart.Scause
	})

	hart.Sscratch = uint32(testStackArea + KernelStackSize)
	table.userEntry()

	if gotMode != cpu.ModeUser || gotPC != uint32(testUserBase) {
		t.Fatalf("expected user mode at 0x%x; got mode %d pc 0x%x", testUserBase, gotMode, gotPC)
	}
	if gotCause != cpu.CauseIllegalInstruction {
		t.Fatalf("expected a returning program to trap with an illegal instruction; got cause %d", gotCause)
	}
	if panicked != errUserEntryReturned {
		t.Fatalf("expected errUserEntryReturned; got %v", panicked)
	}
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
