// Package boot assembles a simulated machine (interrupt controller, physical
// memory, MMU, descriptor table, scheduler) and brings the kernel up on it.
package boot

import "fmt"

import "github.com/samber/do"

import "github.com/scialex/reenix-sub000/apic"
import "github.com/scialex/reenix-sub000/defs"
import "github.com/scialex/reenix-sub000/gdt"
import "github.com/scialex/reenix-sub000/limits"
import "github.com/scialex/reenix-sub000/mem"
import "github.com/scialex/reenix-sub000/proc"
import "github.com/scialex/reenix-sub000/sched"
import "github.com/scialex/reenix-sub000/stats"
import "github.com/scialex/reenix-sub000/vm"

const boot_debug bool = false

func dbg(f string, args ...interface{}) {
	if boot_debug {
		fmt.Printf(f, args...)
	}
}

// the lowest physical address handed to the page allocator
const PHYSSTART mem.Pa_t = 0x100000

type Conf_t struct {
	// size of the physical page pool
	Physpages int
	Lims      *limits.Syslimit_t
	// once init runs, fail the first page allocation from every distinct
	// call path
	Failalloc bool
}

func Dfltconf() Conf_t {
	return Conf_t{
		Physpages: 1 << 12,
		Lims:      limits.MkSysLimit(),
	}
}

// bootstrap stack, init thread stack and the kernel page map
func _minpages() int {
	return sched.BOOT_STACK_PAGES + proc.DEFAULT_STACK_PAGES + 1
}

func (c Conf_t) Validate() error {
	if c.Physpages < _minpages() {
		return fmt.Errorf("need at least %d physical pages, have %d",
			_minpages(), c.Physpages)
	}
	if c.Lims == nil {
		return fmt.Errorf("no system limits")
	}
	if c.Lims.Threads.Remain() < 1 {
		return fmt.Errorf("thread limit leaves no room for init")
	}
	return nil
}

// registers every machine component as a lazily built service.
func Mkinjector(cfg Conf_t) (*do.Injector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	i := do.New()
	do.ProvideValue(i, cfg.Lims)
	do.Provide(i, func(i *do.Injector) (*apic.Apic_t, error) {
		return apic.Mkapic(), nil
	})
	do.Provide(i, func(i *do.Injector) (*mem.Physmem_t, error) {
		return mem.Phys_init(PHYSSTART, cfg.Physpages), nil
	})
	do.Provide(i, func(i *do.Injector) (*vm.Mmu_t, error) {
		return &vm.Mmu_t{}, nil
	})
	do.Provide(i, func(i *do.Injector) (*gdt.Gdt_t, error) {
		return &gdt.Gdt_t{}, nil
	})
	do.Provide(i, func(i *do.Injector) (*sched.Sched_t, error) {
		a, err := do.Invoke[*apic.Apic_t](i)
		if err != nil {
			return nil, err
		}
		gd, err := do.Invoke[*gdt.Gdt_t](i)
		if err != nil {
			return nil, err
		}
		phys, err := do.Invoke[*mem.Physmem_t](i)
		if err != nil {
			return nil, err
		}
		lims, err := do.Invoke[*limits.Syslimit_t](i)
		if err != nil {
			return nil, err
		}
		return sched.Mksched(a, gd, phys, lims), nil
	})
	do.Provide(i, func(i *do.Injector) (*vm.Vm_t, error) {
		mmu, err := do.Invoke[*vm.Mmu_t](i)
		if err != nil {
			return nil, err
		}
		phys, err := do.Invoke[*mem.Physmem_t](i)
		if err != nil {
			return nil, err
		}
		kvm, eno := vm.Mkvm(mmu, phys)
		if eno != 0 {
			return nil, fmt.Errorf("kernel page map: errno %d", -eno)
		}
		return kvm, nil
	})
	return i, nil
}

type Kernel_t struct {
	Conf  Conf_t
	Inj   *do.Injector
	Apic  *apic.Apic_t
	Phys  *mem.Physmem_t
	Mmu   *vm.Mmu_t
	Gdt   *gdt.Gdt_t
	Sched *sched.Sched_t
	// the address space shared by every kernel thread
	Kvm *vm.Vm_t

	ran bool
}

func Mkkernel(cfg Conf_t) (*Kernel_t, error) {
	i, err := Mkinjector(cfg)
	if err != nil {
		return nil, err
	}
	k := &Kernel_t{Conf: cfg, Inj: i}
	if k.Apic, err = do.Invoke[*apic.Apic_t](i); err != nil {
		return nil, err
	}
	if k.Phys, err = do.Invoke[*mem.Physmem_t](i); err != nil {
		return nil, err
	}
	if k.Mmu, err = do.Invoke[*vm.Mmu_t](i); err != nil {
		return nil, err
	}
	if k.Gdt, err = do.Invoke[*gdt.Gdt_t](i); err != nil {
		return nil, err
	}
	if k.Sched, err = do.Invoke[*sched.Sched_t](i); err != nil {
		return nil, err
	}
	if k.Kvm, err = do.Invoke[*vm.Vm_t](i); err != nil {
		return nil, err
	}
	dbg("kernel assembled: %v pages free\n", k.Phys.Pgcount())
	return k, nil
}

// boots the kernel. kmain runs on the init thread with interrupts enabled;
// its result is the halt value. returns once the kernel halts.
func (k *Kernel_t) Run(kmain func(*Kernel_t) interface{}) (sched.Halt_t,
	defs.Err_t) {
	if k.ran {
		return sched.Halt_t{}, -defs.EBUSY
	}
	k.ran = true
	s := k.Sched
	var initerr defs.Err_t
	bootf := func(int, interface{}) interface{} {
		initf := func(int, interface{}) interface{} {
			s.Cleanup_bootstrap()
			k.Phys.Fail.Enabled = k.Conf.Failalloc
			s.Halt(kmain(k))
			return nil
		}
		init, err := proc.Mkthread(s, k.Kvm, initf, 0, nil)
		if err != 0 {
			initerr = err
			return nil
		}
		dbg("init is %v\n", init)
		init.Make_runnable()
		s.Reached_idle()
		s.Initial_switch()
		panic("initial switch returned")
	}
	h, err := s.Boot(bootf, 0, nil, k.Kvm)
	if err != 0 {
		return h, err
	}
	return h, initerr
}

// makes a kernel thread running f(a1, a2) and puts it on the run queue.
func (k *Kernel_t) Spawn(f sched.Func_t, a1 int,
	a2 interface{}) (*proc.Thread_t, defs.Err_t) {
	t, err := proc.Mkthread(k.Sched, k.Kvm, f, a1, a2)
	if err != 0 {
		return nil, err
	}
	t.Make_runnable()
	return t, 0
}

// tears the machine down; a CPU left idling is released.
func (k *Kernel_t) Shutdown() error {
	return k.Inj.Shutdown()
}

func (k *Kernel_t) Health() map[string]error {
	return k.Inj.HealthCheck()
}

func (k *Kernel_t) String() string {
	return fmt.Sprintf("%v\n%v%s%s", k.Sched, k.Apic,
		stats.Stats2String(k.Phys), stats.Stats2String(k.Mmu))
}
