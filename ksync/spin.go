package ksync

import "sync/atomic"

import "github.com/scialex/reenix-sub000/proc"
import "github.com/scialex/reenix-sub000/sched"
import "github.com/scialex/reenix-sub000/stats"

// a lock for very short critical sections. a waiter yields the CPU between
// attempts instead of sleeping in a wait set. not re-entrant.
type Spinlock_t struct {
	s      *sched.Sched_t
	locked atomic.Bool

	Nspins stats.Counter_t
}

func Mkspinlock(s *sched.Sched_t) *Spinlock_t {
	return &Spinlock_t{s: s}
}

func (sl *Spinlock_t) Init(s *sched.Sched_t) {
	sl.s = s
}

func (sl *Spinlock_t) Locked() bool {
	return sl.locked.Load()
}

// returns false, without the lock, if the caller is cancelled before it
// gets it.
func (sl *Spinlock_t) Lock() bool {
	t := proc.Current(sl.s)
	for !sl.locked.CompareAndSwap(false, true) {
		if t.Cancelled() {
			return false
		}
		sl.Nspins.Inc()
		proc.Kyield(sl.s)
	}
	return true
}

func (sl *Spinlock_t) Force_lock() {
	for !sl.locked.CompareAndSwap(false, true) {
		sl.Nspins.Inc()
		proc.Kyield(sl.s)
	}
}

func (sl *Spinlock_t) Try_lock() bool {
	return sl.locked.CompareAndSwap(false, true)
}

func (sl *Spinlock_t) Unlock() {
	if !sl.locked.CompareAndSwap(true, false) {
		panic("unlock of free spinlock")
	}
}
