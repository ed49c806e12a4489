// Package user implements the user mode runtime. User programs are Lua
// scripts stored as NUL terminated images; the runtime fetches the image
// through the MMU, interprets it with gopher-lua and exposes the system
// calls to the script.
package user

import (
	"bytes"
	_ "embed"

	lua "github.com/yuin/gopher-lua"

	"github.com/kcs1959/kcs-os/abi"
	"github.com/kcs1959/kcs-os/kernel/cpu"
)

const pageSize = 4096

// Shell is the image of the interactive shell.
//
//go:embed shell.lua
var Shell []byte

// Run is a cpu.UserExecutor. It sets up the user stack, interprets the
// program mapped at the hart's PC and exits the process once the program
// finishes. When the program fails Run reports the error on the console and
// returns, which the hart treats as an illegal instruction.
func Run(h *cpu.Hart) {
	h.Regs.SP = abi.UserBase
	sys := NewSyscalls(h)

	src, ok := loadImage(h, h.PC)
	if !ok {
		return
	}

	L := newState(sys)
	defer L.Close()

	if err := L.DoString(src); err != nil {
		sys.Write("lua: " + err.Error() + "\n")
		return
	}

	sys.Exit()
}

// loadImage fetches the NUL terminated program text starting at addr one
// page at a time.
func loadImage(h *cpu.Hart, addr uint32) (string, bool) {
	var (
		src  []byte
		page [pageSize]byte
	)

	for {
		chunk := page[:pageSize-addr%pageSize]
		if !h.Fetch(addr, chunk) {
			return "", false
		}

		if end := bytes.IndexByte(chunk, 0); end >= 0 {
			return string(append(src, chunk[:end]...)), true
		}

		src = append(src, chunk...)
		addr += uint32(len(chunk))
	}
}

// newState returns an interpreter with the base, table, string and math
// libraries and the system call bindings. Functions that reach the host
// file system are removed.
func newState(sys *Syscalls) *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}

	for _, name := range []string{"dofile", "loadfile"} {
		L.SetGlobal(name, lua.LNil)
	}

	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		for i := 1; i <= L.GetTop(); i++ {
			if i > 1 {
				sys.Putchar('\t')
			}
			sys.Write(lua.LVAsString(L.ToStringMeta(L.Get(i))))
		}
		sys.Putchar('\n')
		return 0
	}))

	L.SetGlobal("write", L.NewFunction(func(L *lua.LState) int {
		for i := 1; i <= L.GetTop(); i++ {
			sys.Write(L.CheckString(i))
		}
		return 0
	}))

	L.SetGlobal("sys", L.SetFuncs(L.NewTable(), bindings(sys)))
	return L
}

// bindings returns the Lua functions of the sys table.
func bindings(sys *Syscalls) map[string]lua.LGFunction {
	return map[string]lua.LGFunction{
		"putchar": func(L *lua.LState) int {
			sys.Putchar(byte(L.CheckInt(1)))
			return 0
		},
		"getchar": func(L *lua.LState) int {
			L.Push(lua.LNumber(sys.Getchar()))
			return 1
		},
		"exit": func(L *lua.LState) int {
			sys.Exit()
			return 0
		},
		"create": func(L *lua.LState) int {
			L.Push(lua.LNumber(sys.CreateFile(L.CheckString(1))))
			return 1
		},
		"ls": func(L *lua.LState) int {
			sys.ListRootDir()
			return 0
		},
		"cat": func(L *lua.LState) int {
			sys.CatFirstFile()
			return 0
		},
		"fopen": func(L *lua.LState) int {
			L.Push(lua.LNumber(sys.Fopen(L.CheckString(1), L.OptString(2, "r"))))
			return 1
		},
		"fclose": func(L *lua.LState) int {
			L.Push(lua.LNumber(sys.Fclose(L.CheckInt(1))))
			return 1
		},
		"fgetc": func(L *lua.LState) int {
			L.Push(lua.LNumber(sys.Fgetc(L.CheckInt(1))))
			return 1
		},
		"fputc": func(L *lua.LState) int {
			L.Push(lua.LNumber(sys.Fputc(L.CheckInt(1), byte(L.CheckInt(2)))))
			return 1
		},
		"shutdown": func(L *lua.LState) int {
			sys.Shutdown()
			return 0
		},
	}
}
