package trap

import (
	"github.com/kcs1959/kcs-os/kernel/cpu"
	"github.com/kcs1959/kcs-os/kernel/kfmt"
)

// printFrame outputs a dump of the saved registers to the active console.
func printFrame(f *cpu.TrapFrame) {
	kfmt.Printf("ra  = %8x sp  = %8x gp  = %8x tp  = %8x\n", f.RA, f.SP, f.GP, f.TP)
	kfmt.Printf("t0  = %8x t1  = %8x t2  = %8x t3  = %8x\n", f.T0, f.T1, f.T2, f.T3)
	kfmt.Printf("t4  = %8x t5  = %8x t6  = %8x\n", f.T4, f.T5, f.T6)
	kfmt.Printf("a0  = %8x a1  = %8x a2  = %8x a3  = %8x\n", f.A0, f.A1, f.A2, f.A3)
	kfmt.Printf("a4  = %8x a5  = %8x a6  = %8x a7  = %8x\n", f.A4, f.A5, f.A6, f.A7)
	kfmt.Printf("s0  = %8x s1  = %8x s2  = %8x s3  = %8x\n", f.S0, f.S1, f.S2, f.S3)
	kfmt.Printf("s4  = %8x s5  = %8x s6  = %8x s7  = %8x\n", f.S4, f.S5, f.S6, f.S7)
	kfmt.Printf("s8  = %8x s9  = %8x s10 = %8x s11 = %8x\n", f.S8, f.S9, f.S10, f.S11)
}
