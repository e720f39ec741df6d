// Package sched holds the execution contexts of a one-CPU kernel and the run
// queue that decides which one owns the CPU. All state here is touched only
// by the running context, and only with interrupts blocked where an
// interrupt handler could also reach it.
package sched

import "fmt"
import "runtime"

import "github.com/scialex/reenix-sub000/caller"
import "github.com/scialex/reenix-sub000/defs"
import "github.com/scialex/reenix-sub000/gdt"
import "github.com/scialex/reenix-sub000/intr"
import "github.com/scialex/reenix-sub000/limits"
import "github.com/scialex/reenix-sub000/mem"
import "github.com/scialex/reenix-sub000/stats"
import "github.com/scialex/reenix-sub000/tinfo"
import "github.com/scialex/reenix-sub000/vm"

const sched_debug bool = false

func dbg(f string, args ...interface{}) {
	if sched_debug {
		fmt.Printf(f, args...)
	}
}

const BOOT_STACK_PAGES = 4

// how the kernel stopped.
type Halt_t struct {
	Val interface{}
	// non-nil if a kernel invariant failed
	Fatal interface{}
	Stack string
	// the interrupt controller was shut down under an idle CPU
	Shutdown bool
}

type Sched_t struct {
	Gate   intr.Gate_i
	Gdt    *gdt.Gdt_t
	Stacks mem.Stackalloc_i
	Lims   *limits.Syslimit_t

	runq        runq_t
	cur         *Context_t
	bootctx     *Context_t
	reachedidle bool
	initswitch  bool
	nextid      int

	halted bool
	// closed once the kernel halts; parked contexts retire
	dead chan struct{}
	done chan Halt_t

	Nswitch stats.Counter_t
	Nyield  stats.Counter_t
	Nidle   stats.Counter_t
	Ndie    stats.Counter_t
}

func Mksched(g intr.Gate_i, gd *gdt.Gdt_t, sa mem.Stackalloc_i,
	lims *limits.Syslimit_t) *Sched_t {
	s := &Sched_t{
		Gate:   g,
		Gdt:    gd,
		Stacks: sa,
		Lims:   lims,
		dead:   make(chan struct{}),
		done:   make(chan Halt_t, 1),
	}
	s.runq.init(s)
	return s
}

func (s *Sched_t) _newid() int {
	s.nextid++
	return s.nextid
}

// the running context.
func (s *Sched_t) Current() *Context_t {
	return s.cur
}

// the installed thread-local slot table.
func (s *Sched_t) Tsd() *tinfo.Tsd_t {
	return s.Gdt.Tsd()
}

func (s *Sched_t) Runnable() int {
	return s.runq.len()
}

// contexts started from now on enable interrupts before running their entry
// function.
func (s *Sched_t) Reached_idle() {
	s.reachedidle = true
}

// runs f(a1, a2) on a fresh bootstrap context with interrupts off and blocks
// the caller until the kernel halts.
func (s *Sched_t) Boot(f Func_t, a1 int, a2 interface{},
	as vm.Aspace_i) (Halt_t, defs.Err_t) {
	if s.bootctx != nil || s.initswitch {
		panic("booted twice")
	}
	ks, err := s.Stacks.Alloc_n(BOOT_STACK_PAGES)
	if err != 0 {
		return Halt_t{}, err
	}
	c := Mkcontext(s, f, a1, a2, ks, as)
	s.bootctx = c
	s.Gate.Set_ipl(intr.HIGH)
	c.launch()
	return <-s.done, 0
}

// hands the CPU from the bootstrap context to the first runnable context.
// never returns.
func (s *Sched_t) Initial_switch() {
	if s.initswitch {
		panic("second initial switch")
	}
	s.initswitch = true
	s.Gate.Set_ipl(intr.HIGH)
	n := s.runq.pop()
	n.Activate()
}

// frees the bootstrap stack; must be called from another context.
func (s *Sched_t) Cleanup_bootstrap() {
	if s.bootctx == nil {
		panic("no bootstrap context")
	}
	if s.bootctx == s.cur {
		panic("still on the bootstrap stack")
	}
	s.bootctx.Release()
	s.bootctx = nil
}

// switches away from the running context for good. never returns.
func (s *Sched_t) Die() {
	s.Gate.Set_ipl(intr.HIGH)
	s.Ndie.Inc()
	dbg("%v dying\n", s.cur)
	n := s.runq.pop()
	n.Activate()
}

// stops the kernel; Boot returns v. never returns.
func (s *Sched_t) Halt(v interface{}) {
	s._halt(Halt_t{Val: v})
	runtime.Goexit()
}

func (s *Sched_t) _halt(h Halt_t) {
	if s.halted {
		return
	}
	s.halted = true
	s.Gate.Disable()
	s.Gate.Set_ipl(intr.HIGH)
	s.done <- h
	close(s.dead)
}

// the machine was torn down while the CPU idled. never returns.
func (s *Sched_t) _shutdown() {
	dbg("shutdown while idle\n")
	s._halt(Halt_t{Shutdown: true})
	runtime.Goexit()
}

// a panic on any context is a failed kernel invariant: stop the kernel and
// report it.
func (s *Sched_t) catch() {
	r := recover()
	if r == nil {
		return
	}
	s._halt(Halt_t{Fatal: r, Stack: caller.Callerdump(2)})
}

func (s *Sched_t) String() string {
	return fmt.Sprintf("sched {cur: %v, runnable: %v}%s", s.cur,
		s.Runnable(), stats.Stats2String(s))
}
