package kfmt

import (
	"bytes"
	"strings"
	"testing"
)

func TestPrintf(t *testing.T) {
	defer func() {
		outputSink = nil
	}()

	// mute vet warnings about malformed printf formatting strings
	printfn := Printf

	specs := []struct {
		fn        func()
		expOutput string
	}{
		{
			func() { printfn("no args") },
			"no args",
		},
		{
			func() { printfn("%t %t", true, false) },
			"true false",
		},
		{
			func() { printfn("%s arg", "STRING") },
			"STRING arg",
		},
		{
			func() { printfn("%s arg", []byte("BYTE SLICE")) },
			"BYTE SLICE arg",
		},
		{
			func() { printfn("'%4s' arg with padding", "ABC") },
			"' ABC' arg with padding",
		},
		{
			func() { printfn("'%4s' arg longer than padding", "ABCDE") },
			"'ABCDE' arg longer than padding",
		},
		{
			func() { printfn("char: %c%c", 'o', uint32('k')) },
			"char: ok",
		},
		{
			func() { printfn("process %d exited", 2) },
			"process 2 exited",
		},
		{
			func() { printfn("uint arg: %o", uint16(0777)) },
			"uint arg: 777",
		},
		{
			func() { printfn("scause=%x", uint32(0xd)) },
			"scause=d",
		},
		{
			func() { printfn("satp: 0x%8x", uint32(0x80080041)) },
			"satp: 0x80080041",
		},
		{
			func() { printfn("'%10d'", uint64(123)) },
			"'       123'",
		},
		{
			func() { printfn("'0x%8x'", uintptr(0x1000)) },
			"'0x00001000'",
		},
		{
			func() { printfn("int arg: %d", int8(-10)) },
			"int arg: -10",
		},
		{
			func() { printfn("int arg: %x", int32(-0xbadf00d)) },
			"int arg: -badf00d",
		},
		{
			func() { printfn("'%10d'", int64(-12345678)) },
			"' -12345678'",
		},
		{
			func() { printfn("'%10d'", int64(-1234567890)) },
			"'-1234567890'",
		},
		{
			func() { printfn("padding longer than maxBufSize '%128x'", int(-0xbadf00d)) },
			"padding longer than maxBufSize '-" + strings.Repeat("0", maxBufSize-8) + "badf00d'",
		},
		{
			func() { printfn("%%%s%d%t", "foo", 123, true) },
			`%foo123true`,
		},
		{
			func() { printfn("100%%") },
			`100%`,
		},
		{
			func() { printfn("more args", "foo", "bar") },
			`more args%!(EXTRA)%!(EXTRA)`,
		},
		{
			func() { printfn("missing args %s") },
			`missing args (MISSING)`,
		},
		{
			func() { printfn("bad verb %Q") },
			`bad verb %!(NOVERB)`,
		},
		{
			func() { printfn("not bool %t", "foo") },
			`not bool %!(WRONGTYPE)`,
		},
		{
			func() { printfn("not int %d", "foo") },
			`not int %!(WRONGTYPE)`,
		},
		{
			func() { printfn("not char %c", "foo") },
			`not char %!(WRONGTYPE)`,
		},
		{
			func() { printfn("not string %s", 123) },
			`not string %!(WRONGTYPE)`,
		},
	}

	var buf bytes.Buffer
	SetOutputSink(&buf)

	for specIndex, spec := range specs {
		buf.Reset()
		spec.fn()

		if got := buf.String(); got != spec.expOutput {
			t.Errorf("[spec %d] expected to get\n%q\ngot:\n%q", specIndex, spec.expOutput, got)
		}
	}
}

func TestPrintfToRingBuffer(t *testing.T) {
	defer func() {
		outputSink = nil
	}()

	outputSink = nil
	earlyPrintBuffer.rIndex, earlyPrintBuffer.wIndex = 0, 0

	Printf("early %s: %d\n", "boot", 42)

	var buf bytes.Buffer
	SetOutputSink(&buf)

	exp := "early boot: 42\n"
	if got := buf.String(); got != exp {
		t.Fatalf("expected to get:\n%q\ngot:\n%q", exp, got)
	}

	buf.Reset()
	Printf("after")
	if got := buf.String(); got != "after" {
		t.Fatalf("expected output to go straight to the sink; got %q", got)
	}
}

func TestFprintf(t *testing.T) {
	var buf bytes.Buffer

	exp := "hello world"
	Fprintf(&buf, "hello %s", "world")

	if got := buf.String(); got != exp {
		t.Fatalf("expected to get:\n%q\ngot:\n%q", exp, got)
	}
}

func TestGetOutputSink(t *testing.T) {
	defer func() {
		outputSink = nil
	}()

	outputSink = nil
	earlyPrintBuffer.rIndex, earlyPrintBuffer.wIndex = 0, 0

	w := GetOutputSink()
	Fprintf(w, "before ")

	var buf bytes.Buffer
	SetOutputSink(&buf)
	Fprintf(w, "after")

	if exp, got := "before after", buf.String(); got != exp {
		t.Fatalf("expected to get %q; got %q", exp, got)
	}
}
