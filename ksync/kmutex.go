// Package ksync builds kernel locks on top of wait sets: a re-entrant mutex,
// monitor guards that can sleep with the lock released, a predicate-gated
// condition mutex, and a yielding spinlock.
package ksync

import "fmt"
import "sync/atomic"

import "github.com/scialex/reenix-sub000/intr"
import "github.com/scialex/reenix-sub000/proc"
import "github.com/scialex/reenix-sub000/sched"

const ksync_debug bool = false

func dbg(f string, args ...interface{}) {
	if ksync_debug {
		fmt.Printf(f, args...)
	}
}

// a re-entrant mutex. holder is nil iff held is zero. no fairness: whoever
// runs first after an unlock gets the lock.
type Kmutex_t struct {
	Name   string
	s      *sched.Sched_t
	holder atomic.Pointer[proc.Thread_t]
	// hold count; > 1 only when the holder re-entered
	held int
	q    proc.Kqueue_t
}

func Mkmutex(s *sched.Sched_t, name string) *Kmutex_t {
	m := &Kmutex_t{}
	m.Init(s, name)
	return m
}

func (m *Kmutex_t) Init(s *sched.Sched_t, name string) {
	m.Name = name
	m.s = s
	m.q.Init(s)
}

func (m *Kmutex_t) Holder() *proc.Thread_t {
	return m.holder.Load()
}

func (m *Kmutex_t) Held() int {
	return m.held
}

func (m *Kmutex_t) Waiters() int {
	return m.q.Len()
}

func (m *Kmutex_t) Is_mine() bool {
	t, ok := proc.Current_ok(m.s)
	return ok && m.holder.Load() == t
}

// returns true if the lock was taken re-entrantly.
func (m *Kmutex_t) _reenter(t *proc.Thread_t) bool {
	if m.holder.Load() != t {
		return false
	}
	if m.held <= 0 {
		panic("holder with zero hold count")
	}
	m.held++
	return true
}

func (m *Kmutex_t) _lock(cancellable bool) bool {
	t := proc.Current(m.s)
	ok := true
	intr.Block(m.s.Gate, func() {
		if m._reenter(t) {
			return
		}
		for !m.holder.CompareAndSwap(nil, t) {
			if !m.q.Wait(cancellable) && cancellable {
				ok = false
				return
			}
		}
		if m.held != 0 {
			panic("free mutex with hold count")
		}
		m.held = 1
	})
	dbg("%v locked %v: %v\n", t, m, ok)
	return ok
}

// takes the lock, waiting as long as it takes. cancellation is ignored.
func (m *Kmutex_t) Lock_nocancel() {
	m._lock(false)
}

// takes the lock. returns false, without the lock, if the caller was
// cancelled while waiting.
func (m *Kmutex_t) Lock() bool {
	return m._lock(true)
}

// takes the lock only if that needs no waiting. like Lock, it nests: the
// holder always succeeds and each success needs its own Unlock.
func (m *Kmutex_t) Try_lock() bool {
	t := proc.Current(m.s)
	ok := false
	intr.Block(m.s.Gate, func() {
		if m._reenter(t) {
			ok = true
			return
		}
		if m.holder.CompareAndSwap(nil, t) {
			m.held = 1
			ok = true
		}
	})
	return ok
}

func (m *Kmutex_t) Unlock() {
	t := proc.Current(m.s)
	intr.Block(m.s.Gate, func() {
		if m.held <= 0 {
			panic("unlock of unheld mutex " + m.Name)
		}
		if m.holder.Load() != t {
			panic("unlock of mutex " + m.Name + " by non-holder")
		}
		m.held--
		if m.held == 0 {
			m._release(t)
		}
	})
}

func (m *Kmutex_t) _release(t *proc.Thread_t) {
	if !m.holder.CompareAndSwap(t, nil) {
		panic("mutex holder changed under us")
	}
	m.q.Signal()
}

// drops every hold the caller has on the lock and returns how many there
// were. the count must be handed back to Relock_all.
func (m *Kmutex_t) Unlock_all() int {
	t := proc.Current(m.s)
	n := 0
	intr.Block(m.s.Gate, func() {
		if m.held <= 0 || m.holder.Load() != t {
			panic("unlock_all of mutex " + m.Name + " not held by caller")
		}
		n = m.held
		m.held = 0
		m._release(t)
	})
	return n
}

// takes the lock again, uncancellably, and restores a hold count saved by
// Unlock_all.
func (m *Kmutex_t) Relock_all(n int) {
	if n <= 0 {
		panic("bad relock count")
	}
	if m.Is_mine() {
		panic("relock_all of mutex " + m.Name + " already held")
	}
	m.Lock_nocancel()
	intr.Block(m.s.Gate, func() {
		if m.held != 1 {
			panic("relock_all raced")
		}
		m.held = n
	})
}

func (m *Kmutex_t) String() string {
	return fmt.Sprintf("Kmutex_t %s {held: %v, waiters: %v}", m.Name,
		m.held, m.q.Len())
}
