package gdt

import "testing"

import "github.com/scialex/reenix-sub000/tinfo"

func TestLoad(t *testing.T) {
	g := &Gdt_t{}
	tsd := tinfo.MkTsd(0x4000)
	g.Set_kernel_stack(0x8000)
	g.Set_tsd(tsd)
	if g.Kernel_stack() != 0x8000 || g.Tsd() != tsd {
		t.Fatalf("registers not loaded")
	}
	defer func() {
		if recover() == nil {
			t.Fatalf("nil tsd accepted")
		}
	}()
	g.Set_tsd(nil)
}
