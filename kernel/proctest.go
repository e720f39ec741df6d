// Package kernel holds the kernel's self-tests for threads, wait sets,
// locks and interrupts. Every test runs as its own kernel thread and
// reports GOOD or BAD as its exit value.
package kernel

import "fmt"

import "github.com/scialex/reenix-sub000/boot"
import "github.com/scialex/reenix-sub000/defs"
import "github.com/scialex/reenix-sub000/intr"
import "github.com/scialex/reenix-sub000/ksync"
import "github.com/scialex/reenix-sub000/proc"
import "github.com/scialex/reenix-sub000/sched"

const test_debug bool = false

func dbg(f string, args ...interface{}) {
	if test_debug {
		fmt.Printf(f, args...)
	}
}

const (
	BAD  = 0
	GOOD = 1
)

// how high the contested counters count
const COUNT_TO = 200

// a vector nothing else uses
const TESTVEC uint8 = 0x87

type Test_t struct {
	Name string
	Arg  int
	f    func(k *boot.Kernel_t, n int) interface{}
}

type Result_t struct {
	Name string
	Arg  int
	Pass bool
	// the thread's exit value, or the errno if it never ran
	Val interface{}
}

type Report_t struct {
	Pass    int
	Total   int
	Results []Result_t
}

func (r *Report_t) Ok() bool {
	return r.Pass == r.Total
}

func (r *Report_t) String() string {
	s := ""
	for _, res := range r.Results {
		st := "FAIL"
		if res.Pass {
			st = "ok"
		}
		s += fmt.Sprintf("%-4s %s(%d) -> %v\n", st, res.Name, res.Arg,
			res.Val)
	}
	return s + fmt.Sprintf("passed %d of %d tests\n", r.Pass, r.Total)
}

// the standard list.
func Proctests() []Test_t {
	ts := []Test_t{
		{"normal_fork", 0, normal_fork},
		{"kill_self", 0, kill_self},
		{"kill_other", 0, kill_other},
		{"kill_other", 1, kill_other},
		{"kill_other", 4, kill_other},
		{"kill_other", 8, kill_other},
		{"uncontested_mutex", 0, uncontested_mutex},
		{"reentrant_mutex", 3, reentrant_mutex},
	}
	for _, n := range []int{1, 2, 5} {
		ts = append(ts, Test_t{"contested_mutex", n, contested_mutex})
	}
	for _, n := range []int{1, 2, 5} {
		ts = append(ts, Test_t{"better_mutex", n, better_mutex})
	}
	ts = append(ts, []Test_t{
		{"cond_mutex", 3, cond_mutex},
		{"cancel_monitor_wait", 0, cancel_monitor_wait},
		{"spin_counter", 3, spin_counter},
		{"send_ignored_intr", 0, send_ignored_intr},
		{"test_handle_intr", 0, test_handle_intr},
		{"intr_wakeup", 0, intr_wakeup},
	}...)
	return ts
}

// runs each test on its own thread and waits for it. must be called from a
// kernel thread.
func Run(k *boot.Kernel_t, tests []Test_t) *Report_t {
	r := &Report_t{}
	for _, tst := range tests {
		r.Total++
		res := Result_t{Name: tst.Name, Arg: tst.Arg}
		f := tst.f
		entry := func(n int, _ interface{}) interface{} {
			return f(k, n)
		}
		t, err := k.Spawn(entry, tst.Arg, nil)
		if err != 0 {
			res.Val = err
			dbg("test %v could not start: %v\n", tst.Name, err)
			r.Results = append(r.Results, res)
			continue
		}
		v, ok := t.Join()
		if !ok {
			// cancelled ourselves; report what ran
			res.Val = "runner cancelled"
			r.Results = append(r.Results, res)
			break
		}
		res.Val = v
		res.Pass = v == GOOD
		if res.Pass {
			r.Pass++
		}
		dbg("test %v(%v) returned %v\n", tst.Name, tst.Arg, v)
		r.Results = append(r.Results, res)
	}
	return r
}

func normal_fork(k *boot.Kernel_t, _ int) interface{} {
	return GOOD
}

func kill_self(k *boot.Kernel_t, _ int) interface{} {
	proc.Current(k.Sched).Exit(GOOD)
	return BAD
}

// spins until cancelled, then exits with the value it was cancelled with.
func to_die(k *boot.Kernel_t) sched.Func_t {
	return func(int, interface{}) interface{} {
		me := proc.Current(k.Sched)
		for {
			proc.Kyield(k.Sched)
			if me.Cancelled() {
				me.Exit(me.Retval)
			}
			dbg("%v not yet dead\n", me)
		}
	}
}

func to_kill(k *boot.Kernel_t) sched.Func_t {
	return func(n int, a interface{}) interface{} {
		for i := 0; i < n; i++ {
			proc.Kyield(k.Sched)
		}
		a.(*proc.Thread_t).Cancel(GOOD)
		return GOOD
	}
}

func kill_other(k *boot.Kernel_t, n int) interface{} {
	target, err := k.Spawn(to_die(k), 0, nil)
	if err != 0 {
		return BAD
	}
	sniper, err := k.Spawn(to_kill(k), n, target)
	if err != 0 {
		target.Cancel(BAD)
		target.Join()
		return BAD
	}
	sv, ok1 := sniper.Join()
	tv, ok2 := target.Join()
	if ok1 && ok2 && sv == GOOD && tv == GOOD {
		return GOOD
	}
	return BAD
}

func uncontested_mutex(k *boot.Kernel_t, _ int) interface{} {
	m := ksync.Mkmutex(k.Sched, "test a mutex")
	if !m.Lock() {
		return BAD
	}
	if !m.Is_mine() || m.Held() != 1 {
		return BAD
	}
	m.Unlock()
	if m.Holder() != nil {
		return BAD
	}
	return GOOD
}

func reentrant_mutex(k *boot.Kernel_t, n int) interface{} {
	m := ksync.Mkmutex(k.Sched, "reentrant")
	for i := 0; i < n; i++ {
		m.Lock_nocancel()
	}
	if m.Held() != n {
		return BAD
	}
	saved := m.Unlock_all()
	if saved != n || m.Holder() != nil {
		return BAD
	}
	m.Relock_all(saved)
	for i := 0; i < n; i++ {
		if !m.Is_mine() {
			return BAD
		}
		m.Unlock()
	}
	if m.Holder() != nil || m.Held() != 0 {
		return BAD
	}
	return GOOD
}

type counter_t struct {
	s   *sched.Sched_t
	m   *ksync.Kmutex_t
	cnt int
}

// counts to h under a bare Kmutex_t, yielding at awkward moments. returns
// how many increments it did itself.
func counter(h int, a interface{}) interface{} {
	st := a.(*counter_t)
	c := 0
	for {
		if !st.m.Lock() {
			return c
		}
		if c%2 == 0 {
			proc.Kyield(st.s)
		}
		if st.cnt == h {
			st.m.Unlock()
			return c
		}
		st.cnt++
		c++
		if c%5 == 0 {
			proc.Kyield(st.s)
		}
		st.m.Unlock()
		proc.Kyield(st.s)
	}
}

// sums the increments reported by each thread.
func _joinsum(ts []*proc.Thread_t) (int, bool) {
	tot := 0
	ok := true
	for _, t := range ts {
		v, jok := t.Join()
		if !jok {
			return 0, false
		}
		c, isint := v.(int)
		if !isint {
			ok = false
			continue
		}
		tot += c
	}
	return tot, ok
}

func contested_mutex(k *boot.Kernel_t, n int) interface{} {
	st := &counter_t{s: k.Sched, m: ksync.Mkmutex(k.Sched, "contested")}
	var ts []*proc.Thread_t
	for i := 0; i < n; i++ {
		t, err := k.Spawn(counter, COUNT_TO, st)
		if err != 0 {
			return BAD
		}
		ts = append(ts, t)
	}
	tot, ok := _joinsum(ts)
	if !ok || tot != st.cnt || st.cnt != COUNT_TO {
		dbg("counted to %v with %v counters, got %v\n", st.cnt, n, tot)
		return BAD
	}
	return GOOD
}

func better_counter(k *boot.Kernel_t, m *ksync.Mutex_t[int]) sched.Func_t {
	return func(h int, _ interface{}) interface{} {
		c := 0
		for {
			proc.Kyield(k.Sched)
			g := m.Force_lock()
			if c%2 == 0 {
				proc.Kyield(k.Sched)
			}
			v := g.Data()
			if *v == h {
				g.Unlock()
				return c
			}
			*v++
			c++
			if c%5 == 0 {
				proc.Kyield(k.Sched)
			}
			g.Unlock()
		}
	}
}

func better_mutex(k *boot.Kernel_t, n int) interface{} {
	m := ksync.MkMutex(k.Sched, "better contested", 0)
	var ts []*proc.Thread_t
	for i := 0; i < n; i++ {
		t, err := k.Spawn(better_counter(k, m), COUNT_TO, nil)
		if err != 0 {
			return BAD
		}
		ts = append(ts, t)
	}
	tot, ok := _joinsum(ts)
	g, lok := m.Lock()
	if !lok {
		return BAD
	}
	defer g.Unlock()
	if !ok || tot != *g.Data() || tot != COUNT_TO {
		return BAD
	}
	return GOOD
}

// n producers each add one; the consumer sleeps until all have.
func cond_mutex(k *boot.Kernel_t, n int) interface{} {
	cm := ksync.MkCondMutex(k.Sched, "cond", 0, func(v *int) bool {
		return *v >= n
	})
	var ts []*proc.Thread_t
	for i := 0; i < n; i++ {
		t, err := k.Spawn(func(int, interface{}) interface{} {
			proc.Kyield(k.Sched)
			g := cm.Force_lock()
			*g.Data()++
			g.Unlock()
			return GOOD
		}, 0, nil)
		if err != 0 {
			return BAD
		}
		ts = append(ts, t)
	}
	g := cm.Force_lock()
	if !g.Wait() {
		g.Unlock()
		return BAD
	}
	got := *g.Data()
	g.Unlock()
	for _, t := range ts {
		if v, ok := t.Join(); !ok || v != GOOD {
			return BAD
		}
	}
	if got != n {
		return BAD
	}
	return GOOD
}

// a thread sleeping in a monitor wait is cancelled. it must wake with the
// lock held again.
func cancel_monitor_wait(k *boot.Kernel_t, _ int) interface{} {
	sm := ksync.MkSMutex(k.Sched, "monitor")
	sleeper, err := k.Spawn(func(int, interface{}) interface{} {
		g, ok := sm.Lock()
		if !ok {
			return BAD
		}
		woke := g.Wait()
		held := sm.Kmutex().Is_mine()
		g.Unlock()
		if woke || !held {
			return BAD
		}
		return GOOD
	}, 0, nil)
	if err != 0 {
		return BAD
	}
	for sleeper.State() != proc.SLEEPCANCELLABLE {
		proc.Kyield(k.Sched)
	}
	if sm.Kmutex().Holder() != nil {
		return BAD
	}
	sleeper.Cancel(BAD)
	v, ok := sleeper.Join()
	if !ok || v != GOOD {
		return BAD
	}
	return GOOD
}

func spin_counter(k *boot.Kernel_t, n int) interface{} {
	sl := ksync.Mkspinlock(k.Sched)
	cnt := 0
	var ts []*proc.Thread_t
	for i := 0; i < n; i++ {
		t, err := k.Spawn(func(h int, _ interface{}) interface{} {
			c := 0
			for {
				sl.Force_lock()
				if cnt == h {
					sl.Unlock()
					return c
				}
				cnt++
				c++
				if c%3 == 0 {
					proc.Kyield(k.Sched)
				}
				sl.Unlock()
				proc.Kyield(k.Sched)
			}
		}, COUNT_TO, nil)
		if err != 0 {
			return BAD
		}
		ts = append(ts, t)
	}
	tot, ok := _joinsum(ts)
	if !ok || tot != COUNT_TO || cnt != COUNT_TO {
		return BAD
	}
	return GOOD
}

func send_ignored_intr(k *boot.Kernel_t, _ int) interface{} {
	before := k.Apic.Nspurious.Get()
	k.Apic.Trap(defs.SPURIOUS)
	if k.Apic.Nspurious.Get() != before+1 {
		return BAD
	}
	return GOOD
}

func test_handle_intr(k *boot.Kernel_t, _ int) interface{} {
	got := -1
	k.Apic.Register(TESTVEC, func(v uint8) {
		intr.Assert_high(k.Apic)
		got = int(v)
	})
	k.Apic.Trap(TESTVEC)
	k.Apic.Register(TESTVEC, nil)
	if got != int(TESTVEC) {
		return BAD
	}
	return GOOD
}

// sleeps until a device goroutine raises an interrupt whose handler wakes
// us.
func intr_wakeup(k *boot.Kernel_t, _ int) interface{} {
	q := proc.Mkqueue(k.Sched)
	fired := false
	k.Apic.Register(defs.DISK_PRIMARY, func(uint8) {
		fired = true
		q.Signal()
	})
	defer k.Apic.Register(defs.DISK_PRIMARY, nil)
	go k.Apic.Raise(defs.DISK_PRIMARY)
	intr.Block(k.Sched.Gate, func() {
		for !fired {
			q.Wait(false)
		}
	})
	return GOOD
}
