package proc_test

import "fmt"
import "testing"

import "github.com/scialex/reenix-sub000/boot"
import "github.com/scialex/reenix-sub000/defs"
import "github.com/scialex/reenix-sub000/limits"
import "github.com/scialex/reenix-sub000/proc"
import "github.com/scialex/reenix-sub000/sched"
import "github.com/scialex/reenix-sub000/vm"

// boots a kernel running kmain on init and returns how it halted.
func runk(t *testing.T, cfg boot.Conf_t,
	kmain func(*boot.Kernel_t) interface{}) sched.Halt_t {
	k, err := boot.Mkkernel(cfg)
	if err != nil {
		t.Fatalf("mkkernel: %v", err)
	}
	defer k.Shutdown()
	h, eno := k.Run(kmain)
	if eno != 0 {
		t.Fatalf("run: %v", eno)
	}
	return h
}

// kmain reports failure by returning an error.
func check(t *testing.T, kmain func(*boot.Kernel_t) error) {
	h := runk(t, boot.Dfltconf(), func(k *boot.Kernel_t) interface{} {
		return kmain(k)
	})
	if h.Fatal != nil {
		t.Fatalf("kernel panic: %v\n%v", h.Fatal, h.Stack)
	}
	if err, _ := h.Val.(error); err != nil {
		t.Fatalf("%v", err)
	}
}

func fatal(t *testing.T, kmain func(*boot.Kernel_t)) interface{} {
	h := runk(t, boot.Dfltconf(), func(k *boot.Kernel_t) interface{} {
		kmain(k)
		return nil
	})
	if h.Fatal == nil {
		t.Fatalf("no kernel panic")
	}
	return h.Fatal
}

func yield_until(k *boot.Kernel_t, f func() bool) {
	for !f() {
		proc.Kyield(k.Sched)
	}
}

func TestJoin(t *testing.T) {
	check(t, func(k *boot.Kernel_t) error {
		free := k.Phys.Pgcount()
		slots := k.Sched.Lims.Threads.Remain()
		th, err := k.Spawn(func(a1 int, a2 interface{}) interface{} {
			return a1 + a2.(int)
		}, 40, 2)
		if err != 0 {
			return fmt.Errorf("spawn: %v", err)
		}
		v, ok := th.Join()
		if !ok || v != 42 {
			return fmt.Errorf("join got %v %v", v, ok)
		}
		if th.State() != proc.EXITED {
			return fmt.Errorf("state %v", th.State())
		}
		if k.Phys.Pgcount() != free {
			return fmt.Errorf("stack leaked")
		}
		if k.Sched.Lims.Threads.Remain() != slots {
			return fmt.Errorf("thread slot leaked")
		}
		return nil
	})
}

func TestSharedAspace(t *testing.T) {
	check(t, func(k *boot.Kernel_t) error {
		refs := k.Phys.Refcnt(k.Kvm.Pmap)
		th, err := k.Spawn(func(int, interface{}) interface{} {
			me := proc.Current(k.Sched)
			return me.Ctx.Aspace().(*vm.Vm_t).Active()
		}, 0, nil)
		if err != 0 {
			return fmt.Errorf("spawn: %v", err)
		}
		if th.Ctx.Aspace() == vm.Aspace_i(k.Kvm) {
			return fmt.Errorf("thread got the kernel handle itself")
		}
		if k.Phys.Refcnt(k.Kvm.Pmap) != refs+1 {
			return fmt.Errorf("page map not shared")
		}
		if v, _ := th.Join(); v != true {
			return fmt.Errorf("thread ran in another address space")
		}
		if k.Phys.Refcnt(k.Kvm.Pmap) != refs {
			return fmt.Errorf("reap kept the page map reference")
		}
		return nil
	})
}

func TestExitSelf(t *testing.T) {
	check(t, func(k *boot.Kernel_t) error {
		th, _ := k.Spawn(func(int, interface{}) interface{} {
			proc.Current(k.Sched).Exit(5)
			return 6
		}, 0, nil)
		if v, _ := th.Join(); v != 5 {
			return fmt.Errorf("got %v", v)
		}
		return nil
	})
}

func TestStates(t *testing.T) {
	check(t, func(k *boot.Kernel_t) error {
		q := proc.Mkqueue(k.Sched)
		th, err := proc.Mkthread(k.Sched, k.Kvm,
			func(int, interface{}) interface{} {
				return q.Wait(true)
			}, 0, nil)
		if err != 0 {
			return fmt.Errorf("mkthread: %v", err)
		}
		if th.State() != proc.NOSTATE {
			return fmt.Errorf("new thread in %v", th.State())
		}
		th.Make_runnable()
		if th.State() != proc.RUN || !th.Ctx.Queued() {
			return fmt.Errorf("runnable thread in %v", th.State())
		}
		if k.Sched.Runnable() != 1 {
			return fmt.Errorf("%v on the run queue", k.Sched.Runnable())
		}
		yield_until(k, func() bool { return q.Len() == 1 })
		if th.State() != proc.SLEEPCANCELLABLE || th.Queue() != q {
			return fmt.Errorf("sleeper %v queue %p", th, th.Queue())
		}
		if th.Ctx.Queued() {
			return fmt.Errorf("sleeper on the run queue")
		}
		if n := q.Signal(); n != 1 {
			return fmt.Errorf("woke %v", n)
		}
		if th.State() != proc.RUN || th.Queue() != nil {
			return fmt.Errorf("woken thread %v queue %p", th, th.Queue())
		}
		if v, _ := th.Join(); v != true {
			return fmt.Errorf("wait returned %v", v)
		}
		return nil
	})
}

func TestBroadcast(t *testing.T) {
	const nthreads = 5
	check(t, func(k *boot.Kernel_t) error {
		q := proc.Mkqueue(k.Sched)
		var ts []*proc.Thread_t
		for i := 0; i < nthreads; i++ {
			th, err := k.Spawn(func(int, interface{}) interface{} {
				return q.Wait(false)
			}, 0, nil)
			if err != 0 {
				return fmt.Errorf("spawn: %v", err)
			}
			ts = append(ts, th)
		}
		yield_until(k, func() bool { return q.Len() == nthreads })
		if n := q.Signal(); n != nthreads {
			return fmt.Errorf("woke %v", n)
		}
		if q.Len() != 0 {
			return fmt.Errorf("%v left", q.Len())
		}
		for _, th := range ts {
			if v, _ := th.Join(); v != true {
				return fmt.Errorf("%v returned %v", th, v)
			}
		}
		if q.Signal() != 0 {
			return fmt.Errorf("signal of empty set woke someone")
		}
		return nil
	})
}

func TestSignalOne(t *testing.T) {
	check(t, func(k *boot.Kernel_t) error {
		q := proc.Mkqueue(k.Sched)
		var order []int
		var ts []*proc.Thread_t
		for i := 0; i < 3; i++ {
			th, _ := k.Spawn(func(id int, _ interface{}) interface{} {
				q.Wait(false)
				order = append(order, id)
				return nil
			}, i, nil)
			ts = append(ts, th)
			yield_until(k, func() bool { return q.Len() == i+1 })
		}
		for i := range ts {
			if !q.Signal_one() {
				return fmt.Errorf("nobody woken")
			}
			ts[i].Join()
		}
		if q.Signal_one() {
			return fmt.Errorf("woke from empty set")
		}
		if fmt.Sprint(order) != "[0 1 2]" {
			return fmt.Errorf("woke in order %v", order)
		}
		return nil
	})
}

func TestCancelSleeping(t *testing.T) {
	check(t, func(k *boot.Kernel_t) error {
		q := proc.Mkqueue(k.Sched)
		th, _ := k.Spawn(func(int, interface{}) interface{} {
			return q.Wait(true)
		}, 0, nil)
		yield_until(k, func() bool { return q.Len() == 1 })
		th.Cancel(9)
		if q.Len() != 0 || th.Queue() != nil {
			return fmt.Errorf("cancelled thread left in wait set")
		}
		if th.State() != proc.RUN || !th.Cancelled() {
			return fmt.Errorf("cancelled sleeper %v", th)
		}
		if v, _ := th.Join(); v != false {
			return fmt.Errorf("wait returned %v", v)
		}
		return nil
	})
}

func TestCancelUncancellable(t *testing.T) {
	check(t, func(k *boot.Kernel_t) error {
		q := proc.Mkqueue(k.Sched)
		th, _ := k.Spawn(func(int, interface{}) interface{} {
			return q.Wait(false)
		}, 0, nil)
		yield_until(k, func() bool { return q.Len() == 1 })
		th.Cancel(9)
		if th.State() != proc.SLEEP || q.Len() != 1 {
			return fmt.Errorf("uncancellable sleep was interrupted")
		}
		proc.Kyield(k.Sched)
		if th.State() != proc.SLEEP {
			return fmt.Errorf("sleeper ran")
		}
		q.Signal()
		if v, _ := th.Join(); v != false {
			return fmt.Errorf("wait returned %v", v)
		}
		return nil
	})
}

func TestCancelBeforeWait(t *testing.T) {
	check(t, func(k *boot.Kernel_t) error {
		q := proc.Mkqueue(k.Sched)
		th, _ := k.Spawn(func(int, interface{}) interface{} {
			return q.Wait(true)
		}, 0, nil)
		th.Cancel(nil)
		if v, _ := th.Join(); v != false {
			return fmt.Errorf("wait returned %v", v)
		}
		if q.Len() != 0 {
			return fmt.Errorf("cancelled thread slept")
		}
		return nil
	})
}

func TestKillOther(t *testing.T) {
	check(t, func(k *boot.Kernel_t) error {
		victim, _ := k.Spawn(func(int, interface{}) interface{} {
			me := proc.Current(k.Sched)
			for !me.Cancelled() {
				proc.Kyield(k.Sched)
			}
			me.Exit(me.Retval)
			return nil
		}, 0, nil)
		for i := 0; i < 4; i++ {
			proc.Kyield(k.Sched)
		}
		victim.Exit("killed")
		if v, _ := victim.Join(); v != "killed" {
			return fmt.Errorf("got %v", v)
		}
		return nil
	})
}

func TestCancelNostate(t *testing.T) {
	fatal(t, func(k *boot.Kernel_t) {
		th, _ := proc.Mkthread(k.Sched, k.Kvm,
			func(int, interface{}) interface{} { return nil }, 0, nil)
		th.Cancel(nil)
	})
}

func TestDoubleReap(t *testing.T) {
	r := fatal(t, func(k *boot.Kernel_t) {
		th, _ := k.Spawn(func(int, interface{}) interface{} {
			return nil
		}, 0, nil)
		th.Join()
		th.Reap()
	})
	if r != "double reap" {
		t.Fatalf("got %v", r)
	}
}

func TestThreadLimit(t *testing.T) {
	cfg := boot.Dfltconf()
	// one for init
	cfg.Lims = &limits.Syslimit_t{Threads: 2}
	h := runk(t, cfg, func(k *boot.Kernel_t) interface{} {
		f := func(int, interface{}) interface{} { return nil }
		a, err := k.Spawn(f, 0, nil)
		if err != 0 {
			return fmt.Errorf("first spawn: %v", err)
		}
		if _, err := k.Spawn(f, 0, nil); err != -defs.ENOMEM {
			return fmt.Errorf("spawn over limit: %v", err)
		}
		if k.Sched.Lims.Lhits.Get() != 1 {
			return fmt.Errorf("limit hit not counted")
		}
		a.Join()
		b, err := k.Spawn(f, 0, nil)
		if err != 0 {
			return fmt.Errorf("retry: %v", err)
		}
		b.Join()
		return nil
	})
	if h.Fatal != nil || h.Val != nil {
		t.Fatalf("got %+v", h)
	}
}

func TestStackExhaustion(t *testing.T) {
	cfg := boot.Dfltconf()
	cfg.Physpages = sched.BOOT_STACK_PAGES + 2*proc.DEFAULT_STACK_PAGES + 1
	h := runk(t, cfg, func(k *boot.Kernel_t) interface{} {
		f := func(int, interface{}) interface{} { return nil }
		slots := k.Sched.Lims.Threads.Remain()
		a, err := k.Spawn(f, 0, nil)
		if err != 0 {
			return fmt.Errorf("first spawn: %v", err)
		}
		if _, err := k.Spawn(f, 0, nil); err != -defs.ENOMEM {
			return fmt.Errorf("spawn without memory: %v", err)
		}
		if k.Sched.Lims.Threads.Remain() != slots-1 {
			return fmt.Errorf("failed spawn kept its thread slot")
		}
		a.Join()
		b, err := k.Spawn(f, 0, nil)
		if err != 0 {
			return fmt.Errorf("retry: %v", err)
		}
		b.Join()
		return nil
	})
	if h.Fatal != nil || h.Val != nil {
		t.Fatalf("got %+v", h)
	}
}

func TestYield(t *testing.T) {
	check(t, func(k *boot.Kernel_t) error {
		s := ""
		f := func(_ int, a interface{}) interface{} {
			for i := 0; i < 3; i++ {
				s += a.(string)
				proc.Kyield(k.Sched)
			}
			return nil
		}
		a, _ := k.Spawn(f, 0, "a")
		b, _ := k.Spawn(f, 0, "b")
		a.Join()
		b.Join()
		if s != "ababab" {
			return fmt.Errorf("got %v", s)
		}
		return nil
	})
}
