package sched

import "fmt"
import "testing"

import "github.com/scialex/reenix-sub000/apic"
import "github.com/scialex/reenix-sub000/defs"
import "github.com/scialex/reenix-sub000/gdt"
import "github.com/scialex/reenix-sub000/intr"
import "github.com/scialex/reenix-sub000/limits"
import "github.com/scialex/reenix-sub000/mem"
import "github.com/scialex/reenix-sub000/vm"

type machine_t struct {
	s    *Sched_t
	apic *apic.Apic_t
	as   *vm.Vm_t
}

func mkmachine(t *testing.T, npages int) *machine_t {
	a := apic.Mkapic()
	phys := mem.Phys_init(0x100000, npages)
	as, err := vm.Mkvm(&vm.Mmu_t{}, phys)
	if err != 0 {
		t.Fatalf("mkvm: %v", err)
	}
	s := Mksched(a, &gdt.Gdt_t{}, phys, limits.MkSysLimit())
	return &machine_t{s: s, apic: a, as: as}
}

func (m *machine_t) mkctx(f Func_t) *Context_t {
	ks, err := m.s.Stacks.Alloc_n(1)
	if err != 0 {
		panic("no stack")
	}
	return Mkcontext(m.s, f, 0, nil, ks, m.as)
}

func TestBootHalt(t *testing.T) {
	m := mkmachine(t, 16)
	h, err := m.s.Boot(func(a1 int, a2 interface{}) interface{} {
		intr.Assert_high(m.s.Gate)
		return fmt.Sprintf("%d %v", a1, a2)
	}, 7, "up", m.as)
	if err != 0 {
		t.Fatalf("boot: %v", err)
	}
	if h.Fatal != nil || h.Val != "7 up" {
		t.Fatalf("got %+v", h)
	}
	if !m.as.Active() {
		t.Fatalf("address space not loaded")
	}
}

func TestBootNomem(t *testing.T) {
	m := mkmachine(t, BOOT_STACK_PAGES)
	_, err := m.s.Boot(func(int, interface{}) interface{} {
		return nil
	}, 0, nil, m.as)
	if err != -defs.ENOMEM {
		t.Fatalf("got %v", err)
	}
}

func TestFatal(t *testing.T) {
	m := mkmachine(t, 16)
	h, _ := m.s.Boot(func(int, interface{}) interface{} {
		panic("boom")
	}, 0, nil, m.as)
	if h.Fatal != "boom" || h.Stack == "" {
		t.Fatalf("got %+v", h)
	}
}

func TestInitialSwitch(t *testing.T) {
	m := mkmachine(t, 32)
	s := m.s
	var order []int
	h, _ := s.Boot(func(int, interface{}) interface{} {
		var cs []*Context_t
		for i := 0; i < 3; i++ {
			i := i
			cs = append(cs, m.mkctx(func(int, interface{}) interface{} {
				if !m.apic.Enabled() || m.apic.Ipl() != intr.LOW {
					panic("interrupts off in new context")
				}
				order = append(order, i)
				if i == 2 {
					s.Halt(order)
				}
				s.Die()
				return nil
			}))
		}
		for _, c := range cs {
			c.Make_runnable()
		}
		s.Reached_idle()
		s.Initial_switch()
		return nil
	}, 0, nil, m.as)
	if h.Fatal != nil {
		t.Fatalf("fatal: %v\n%v", h.Fatal, h.Stack)
	}
	got := h.Val.([]int)
	if len(got) != 3 || got[0] != 0 || got[1] != 1 || got[2] != 2 {
		t.Fatalf("got %v", got)
	}
}

func TestKyield(t *testing.T) {
	m := mkmachine(t, 32)
	s := m.s
	var order string
	mk := func(name string, last bool) *Context_t {
		return m.mkctx(func(int, interface{}) interface{} {
			for i := 0; i < 3; i++ {
				order += name
				s.Current().Kyield()
			}
			if last {
				s.Halt(order)
			}
			s.Die()
			return nil
		})
	}
	h, _ := s.Boot(func(int, interface{}) interface{} {
		mk("a", false).Make_runnable()
		mk("b", true).Make_runnable()
		s.Reached_idle()
		s.Initial_switch()
		return nil
	}, 0, nil, m.as)
	if h.Fatal != nil {
		t.Fatalf("fatal: %v\n%v", h.Fatal, h.Stack)
	}
	if h.Val != "ababab" {
		t.Fatalf("got %v", h.Val)
	}
	if s.Nyield.Get() != 6 {
		t.Fatalf("got %v yields", s.Nyield.Get())
	}
}

func TestDoublePush(t *testing.T) {
	m := mkmachine(t, 16)
	h, _ := m.s.Boot(func(int, interface{}) interface{} {
		c := m.mkctx(func(int, interface{}) interface{} { return nil })
		c.Make_runnable()
		c.Make_runnable()
		return nil
	}, 0, nil, m.as)
	if h.Fatal == nil {
		t.Fatalf("double insertion not caught")
	}
}

func TestReleaseQueued(t *testing.T) {
	m := mkmachine(t, 16)
	h, _ := m.s.Boot(func(int, interface{}) interface{} {
		c := m.mkctx(func(int, interface{}) interface{} { return nil })
		c.Make_runnable()
		c.Release()
		return nil
	}, 0, nil, m.as)
	if h.Fatal != "releasing a runnable context" {
		t.Fatalf("got %+v", h)
	}
}

// the CPU idles with nothing runnable until a device interrupt's handler
// makes a context runnable.
func TestIdleWake(t *testing.T) {
	m := mkmachine(t, 16)
	s := m.s
	h, _ := s.Boot(func(int, interface{}) interface{} {
		c := m.mkctx(func(int, interface{}) interface{} {
			s.Halt("woke")
			return nil
		})
		m.apic.Register(defs.DISK_PRIMARY, func(uint8) {
			c.Make_runnable()
		})
		go m.apic.Raise(defs.DISK_PRIMARY)
		s.Reached_idle()
		s.Initial_switch()
		return nil
	}, 0, nil, m.as)
	if h.Val != "woke" {
		t.Fatalf("got %+v", h)
	}
	if s.Nidle.Get() == 0 {
		t.Fatalf("never idled")
	}
}

func TestCleanupBootstrap(t *testing.T) {
	m := mkmachine(t, 16)
	s := m.s
	phys := s.Stacks.(*mem.Physmem_t)
	h, _ := s.Boot(func(int, interface{}) interface{} {
		c := m.mkctx(func(int, interface{}) interface{} {
			before := phys.Pgcount()
			s.Cleanup_bootstrap()
			s.Halt(phys.Pgcount() - before)
			return nil
		})
		c.Make_runnable()
		s.Reached_idle()
		s.Initial_switch()
		return nil
	}, 0, nil, m.as)
	if h.Val != BOOT_STACK_PAGES {
		t.Fatalf("got %+v", h)
	}
}
