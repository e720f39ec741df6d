package ksync

import "github.com/scialex/reenix-sub000/intr"
import "github.com/scialex/reenix-sub000/proc"
import "github.com/scialex/reenix-sub000/sched"

// a mutex plus the wait set of a monitor. guards unlock it exactly once.
type SMutex_t struct {
	inner  Kmutex_t
	wqueue proc.Kqueue_t
}

type SGuard_t struct {
	lock     *SMutex_t
	released bool
}

func MkSMutex(s *sched.Sched_t, name string) *SMutex_t {
	m := &SMutex_t{}
	m.Init(s, name)
	return m
}

func (m *SMutex_t) Init(s *sched.Sched_t, name string) {
	m.inner.Init(s, name)
	m.wqueue.Init(s)
}

func (m *SMutex_t) Kmutex() *Kmutex_t {
	return &m.inner
}

// returns false if cancelled before the lock was taken.
func (m *SMutex_t) Lock() (*SGuard_t, bool) {
	if !m.inner.Lock() {
		return nil, false
	}
	return &SGuard_t{lock: m}, true
}

func (m *SMutex_t) Force_lock() *SGuard_t {
	m.inner.Lock_nocancel()
	return &SGuard_t{lock: m}
}

func (m *SMutex_t) Try_lock() (*SGuard_t, bool) {
	if !m.inner.Try_lock() {
		return nil, false
	}
	return &SGuard_t{lock: m}, true
}

// wakes every thread sleeping in a guard's Wait.
func (m *SMutex_t) Signal() int {
	dbg("signal on %v\n", &m.inner)
	return m.wqueue.Signal()
}

func (m *SMutex_t) Sleepers() int {
	return m.wqueue.Len()
}

// releases the lock, sleeps on the monitor's wait set and takes the lock
// back with its old hold count. the lock is held again on return even if
// the sleep was cancelled.
func (m *SMutex_t) _wait(cancellable bool) bool {
	ok := true
	intr.Block(m.inner.s.Gate, func() {
		n := m.inner.Unlock_all()
		ok = m.wqueue.Wait(cancellable)
		m.inner.Relock_all(n)
	})
	return ok
}

// releases the lock. later calls do nothing, so `defer g.Unlock()` is safe
// after an early explicit unlock.
func (g *SGuard_t) Unlock() {
	if g.released {
		return
	}
	g.released = true
	g.lock.inner.Unlock()
}

func (g *SGuard_t) _chk() {
	if g.released {
		panic("wait on released guard")
	}
}

// returns false if cancelled; the lock is held either way.
func (g *SGuard_t) Wait() bool {
	g._chk()
	return g.lock._wait(true)
}

func (g *SGuard_t) Force_wait() {
	g._chk()
	g.lock._wait(false)
}

// a mutex that owns the data it protects.
type Mutex_t[T any] struct {
	lock SMutex_t
	data T
}

type MGuard_t[T any] struct {
	SGuard_t
	data *T
}

func MkMutex[T any](s *sched.Sched_t, name string, data T) *Mutex_t[T] {
	m := &Mutex_t[T]{data: data}
	m.lock.Init(s, name)
	return m
}

func (m *Mutex_t[T]) _guard() *MGuard_t[T] {
	return &MGuard_t[T]{SGuard_t: SGuard_t{lock: &m.lock}, data: &m.data}
}

func (m *Mutex_t[T]) Lock() (*MGuard_t[T], bool) {
	if !m.lock.inner.Lock() {
		return nil, false
	}
	return m._guard(), true
}

func (m *Mutex_t[T]) Force_lock() *MGuard_t[T] {
	m.lock.inner.Lock_nocancel()
	return m._guard()
}

func (m *Mutex_t[T]) Try_lock() (*MGuard_t[T], bool) {
	if !m.lock.inner.Try_lock() {
		return nil, false
	}
	return m._guard(), true
}

func (m *Mutex_t[T]) Signal() int {
	return m.lock.Signal()
}

func (m *Mutex_t[T]) Kmutex() *Kmutex_t {
	return &m.lock.inner
}

func (g *MGuard_t[T]) Data() *T {
	if g.released {
		panic("data access through released guard")
	}
	return g.data
}

// a mutex whose waiters sleep until cond holds on the protected data. a
// guard that is released while cond holds wakes them.
type CondMutex_t[T any] struct {
	cond func(*T) bool
	mtx  Mutex_t[T]
}

type CGuard_t[T any] struct {
	mg  *MGuard_t[T]
	mtx *CondMutex_t[T]
}

func MkCondMutex[T any](s *sched.Sched_t, name string, data T,
	cond func(*T) bool) *CondMutex_t[T] {
	if cond == nil {
		panic("nil condition")
	}
	m := &CondMutex_t[T]{cond: cond}
	m.mtx.data = data
	m.mtx.lock.Init(s, name)
	return m
}

func (m *CondMutex_t[T]) _guard(mg *MGuard_t[T]) *CGuard_t[T] {
	return &CGuard_t[T]{mg: mg, mtx: m}
}

func (m *CondMutex_t[T]) Lock() (*CGuard_t[T], bool) {
	mg, ok := m.mtx.Lock()
	if !ok {
		return nil, false
	}
	return m._guard(mg), true
}

func (m *CondMutex_t[T]) Force_lock() *CGuard_t[T] {
	return m._guard(m.mtx.Force_lock())
}

func (m *CondMutex_t[T]) Try_lock() (*CGuard_t[T], bool) {
	mg, ok := m.mtx.Try_lock()
	if !ok {
		return nil, false
	}
	return m._guard(mg), true
}

func (m *CondMutex_t[T]) Signal() int {
	return m.mtx.Signal()
}

func (m *CondMutex_t[T]) Kmutex() *Kmutex_t {
	return m.mtx.Kmutex()
}

func (g *CGuard_t[T]) Data() *T {
	return g.mg.Data()
}

// wakes the sleepers if the condition holds, then releases the lock.
func (g *CGuard_t[T]) Unlock() {
	if g.mg.released {
		return
	}
	if g.mtx.cond(g.mg.data) {
		g.mtx.Signal()
	}
	g.mg.Unlock()
}

// sleeps until the condition holds. returns false if cancelled first; the
// lock is held either way.
func (g *CGuard_t[T]) Wait() bool {
	for !g.mtx.cond(g.Data()) {
		if !g.mg.Wait() {
			return false
		}
	}
	return true
}

func (g *CGuard_t[T]) Force_wait() {
	for !g.mtx.cond(g.Data()) {
		g.mg.Force_wait()
	}
}
