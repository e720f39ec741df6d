package proc

import "fmt"

import "github.com/scialex/reenix-sub000/defs"
import "github.com/scialex/reenix-sub000/intr"
import "github.com/scialex/reenix-sub000/sched"
import "github.com/scialex/reenix-sub000/tinfo"
import "github.com/scialex/reenix-sub000/vm"

const proc_debug bool = false

func dbg(f string, args ...interface{}) {
	if proc_debug {
		fmt.Printf(f, args...)
	}
}

const DEFAULT_STACK_PAGES = 16

type State_t int

const (
	// made but never run
	NOSTATE State_t = iota
	// running or on the run queue
	RUN
	// blocked in a wait set
	SLEEP
	SLEEPCANCELLABLE
	EXITED
)

func (st State_t) String() string {
	switch st {
	case NOSTATE:
		return "NOSTATE"
	case RUN:
		return "RUN"
	case SLEEP:
		return "SLEEP"
	case SLEEPCANCELLABLE:
		return "SLEEPCANCELLABLE"
	case EXITED:
		return "EXITED"
	}
	return fmt.Sprintf("State_t(%d)", int(st))
}

type Thread_t struct {
	Ctx    *sched.Context_t
	Tid    defs.Tid_t
	Retval interface{}

	s         *sched.Sched_t
	state     State_t
	cancelled bool
	// the wait set we are blocked in, if any
	queue *Kqueue_t
	// woken when we exit
	exitq  Kqueue_t
	reaped bool
}

var _ sched.Exiter_i = (*Thread_t)(nil)

// makes a thread that will run f(a1, a2) in address space as once made
// runnable. a page-mapped address space is shared, and released again when
// the thread is reaped. fails with ENOMEM if the thread limit is reached or
// no kernel stack can be allocated.
func Mkthread(s *sched.Sched_t, as vm.Aspace_i, f sched.Func_t, a1 int,
	a2 interface{}) (*Thread_t, defs.Err_t) {
	if !s.Lims.Threads.Take() {
		s.Lims.Lhits.Inc()
		return nil, -defs.ENOMEM
	}
	ks, err := s.Stacks.Alloc_n(DEFAULT_STACK_PAGES)
	if err != 0 {
		s.Lims.Threads.Give()
		return nil, err
	}
	if v, ok := as.(*vm.Vm_t); ok {
		as = v.Share()
	}
	t := &Thread_t{s: s, state: NOSTATE}
	t.Ctx = sched.Mkcontext(s, f, a1, a2, ks, as)
	t.Tid = defs.Tid_t(t.Ctx.Id)
	t.Ctx.Tsd.Set(tinfo.CUR_THREAD_SLOT, t)
	t.exitq.Init(s)
	dbg("new thread %v\n", t)
	return t, 0
}

// the running thread.
func Current(s *sched.Sched_t) *Thread_t {
	tsd := s.Tsd()
	if tsd == nil {
		panic("no tsd installed")
	}
	o, ok := tsd.Get(tinfo.CUR_THREAD_SLOT)
	if !ok {
		panic("no current thread")
	}
	return o.(*Thread_t)
}

// the running thread, if the running context is a thread.
func Current_ok(s *sched.Sched_t) (*Thread_t, bool) {
	tsd := s.Tsd()
	if tsd == nil {
		return nil, false
	}
	o, ok := tsd.Get(tinfo.CUR_THREAD_SLOT)
	if !ok {
		return nil, false
	}
	return o.(*Thread_t), true
}

func (t *Thread_t) Is_current() bool {
	return t.s.Current() == t.Ctx
}

func (t *Thread_t) State() State_t {
	return t.state
}

func (t *Thread_t) Cancelled() bool {
	return t.cancelled
}

// the wait set the thread is blocked in, or nil.
func (t *Thread_t) Queue() *Kqueue_t {
	return t.queue
}

func (t *Thread_t) Make_runnable() {
	intr.Block(t.s.Gate, func() {
		t._make_runnable()
	})
}

func (t *Thread_t) _make_runnable() {
	if t.queue != nil {
		panic("runnable thread still in a wait set")
	}
	switch t.state {
	case RUN:
		return
	case SLEEP, SLEEPCANCELLABLE, NOSTATE:
		t.state = RUN
		t.Ctx.Make_runnable()
	case EXITED:
		panic("exited thread made runnable")
	default:
		panic("bad thread state")
	}
}

// lets every other runnable thread run before the caller continues.
func Kyield(s *sched.Sched_t) {
	Current(s).Ctx.Kyield()
}

// exits the calling thread with v. on any other thread it only cancels it.
func (t *Thread_t) Exit(v interface{}) {
	if t.Is_current() {
		t._exit_self(v)
	} else {
		t.Cancel(v)
	}
}

// marks the thread cancelled. a thread blocked cancellably is pulled out of
// its wait set and made runnable; its wait reports the cancellation. any
// other thread notices at its next cancellable wait.
func (t *Thread_t) Cancel(v interface{}) {
	intr.Block(t.s.Gate, func() {
		t.cancelled = true
		switch t.state {
		case EXITED:
			dbg("cancel of exited thread %v\n", t)
			return
		case NOSTATE:
			panic("cancel of a thread that never ran")
		case RUN, SLEEP:
			t.Retval = v
		case SLEEPCANCELLABLE:
			t.Retval = v
			if t.queue != nil {
				t.queue.Remove(t)
			}
			t._make_runnable()
		default:
			panic("bad thread state")
		}
	})
}

func (t *Thread_t) _exit_self(v interface{}) {
	t.Retval = v
	if t.state != RUN {
		panic("exiting thread not running")
	}
	dbg("%v exited with %v\n", t, v)
	intr.Block(t.s.Gate, func() {
		t.state = EXITED
		t.exitq.Signal()
	})
	t.s.Die()
	panic("returned to exited thread")
}

// waits for t to exit, reaps it and returns its exit value. returns false if
// the caller was cancelled first.
func (t *Thread_t) Join() (interface{}, bool) {
	if t.Is_current() {
		panic("join on self")
	}
	for t.state != EXITED {
		if !t.exitq.Wait(true) {
			return nil, false
		}
	}
	ret := t.Retval
	t.Reap()
	return ret, true
}

// releases the resources of an exited thread.
func (t *Thread_t) Reap() {
	if t.state != EXITED {
		panic("reap of live thread")
	}
	if t.reaped {
		panic("double reap")
	}
	t.reaped = true
	t.Ctx.Release()
	if v, ok := t.Ctx.Aspace().(*vm.Vm_t); ok {
		v.Release()
	}
	t.s.Lims.Threads.Give()
}

func (t *Thread_t) String() string {
	return fmt.Sprintf("thread %d {cancelled: %v, state: %v}", t.Tid,
		t.cancelled, t.state)
}
