package proc

import "fmt"

import "github.com/scialex/reenix-sub000/intr"
import "github.com/scialex/reenix-sub000/sched"

// a set of threads blocked until someone signals the set. owned by whatever
// needs a place to park waiters (a mutex, a device, a monitor).
type Kqueue_t struct {
	s *sched.Sched_t
	// kept in arrival order only so Signal_one is FIFO
	waiters []*Thread_t
}

func Mkqueue(s *sched.Sched_t) *Kqueue_t {
	q := &Kqueue_t{}
	q.Init(s)
	return q
}

func (q *Kqueue_t) Init(s *sched.Sched_t) {
	q.s = s
}

func (q *Kqueue_t) _chk() {
	if q.s == nil {
		panic("wait set used before init")
	}
}

func (q *Kqueue_t) Len() int {
	return len(q.waiters)
}

func (q *Kqueue_t) _add(t *Thread_t) {
	for _, w := range q.waiters {
		if w == t {
			panic("thread already in wait set")
		}
	}
	q.waiters = append(q.waiters, t)
}

func (q *Kqueue_t) _del(t *Thread_t) bool {
	for i, w := range q.waiters {
		if w == t {
			copy(q.waiters[i:], q.waiters[i+1:])
			q.waiters[len(q.waiters)-1] = nil
			q.waiters = q.waiters[:len(q.waiters)-1]
			return true
		}
	}
	return false
}

// blocks the calling thread until the set is signalled. returns false if the
// thread was cancelled, either before the call or while it slept.
func (q *Kqueue_t) Wait(cancellable bool) bool {
	q._chk()
	t := Current(q.s)
	ok := true
	intr.Block(q.s.Gate, func() {
		if cancellable && t.cancelled {
			dbg("%v already cancelled, not waiting\n", t)
			ok = false
			return
		}
		if t.queue != nil {
			panic("thread already waiting")
		}
		t.queue = q
		if cancellable {
			t.state = SLEEPCANCELLABLE
		} else {
			t.state = SLEEP
		}
		q._add(t)
		t.Ctx.Switch()
	})
	if !ok {
		return false
	}
	return !t.cancelled
}

func (q *Kqueue_t) _wakeup(t *Thread_t) {
	t.queue = nil
	t._make_runnable()
	dbg("waking %v\n", t)
}

// wakes every thread in the set. returns how many were woken.
func (q *Kqueue_t) Signal() int {
	q._chk()
	n := 0
	intr.Block(q.s.Gate, func() {
		ws := q.waiters
		q.waiters = nil
		for _, t := range ws {
			q._wakeup(t)
		}
		n = len(ws)
	})
	return n
}

// wakes the thread that has waited longest. returns false if the set was
// empty.
func (q *Kqueue_t) Signal_one() bool {
	q._chk()
	ok := false
	intr.Block(q.s.Gate, func() {
		if len(q.waiters) == 0 {
			return
		}
		t := q.waiters[0]
		q._del(t)
		q._wakeup(t)
		ok = true
	})
	return ok
}

// takes t out of the set without waking it; used by cancellation.
func (q *Kqueue_t) Remove(t *Thread_t) {
	intr.Assert_high(q.s.Gate)
	if t.queue != q {
		panic("removing thread from the wrong wait set")
	}
	t.queue = nil
	if !q._del(t) {
		panic("thread not in its wait set")
	}
}

func (q *Kqueue_t) String() string {
	return fmt.Sprintf("Kqueue_t {waiters: %v}", len(q.waiters))
}
