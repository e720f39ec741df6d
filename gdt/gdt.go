package gdt

import "github.com/scialex/reenix-sub000/tinfo"

// per-CPU registers the scheduler loads on every switch: the TSS kernel
// stack pointer and the segment base that points at the TSD table.
type Gdt_t struct {
	kstack uintptr
	tsd    *tinfo.Tsd_t
}

func (g *Gdt_t) Set_kernel_stack(top uintptr) {
	g.kstack = top
}

func (g *Gdt_t) Kernel_stack() uintptr {
	return g.kstack
}

func (g *Gdt_t) Set_tsd(t *tinfo.Tsd_t) {
	if t == nil {
		panic("nil tsd")
	}
	g.tsd = t
}

func (g *Gdt_t) Tsd() *tinfo.Tsd_t {
	return g.tsd
}
