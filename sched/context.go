package sched

import "fmt"
import "runtime"

import "github.com/scialex/reenix-sub000/intr"
import "github.com/scialex/reenix-sub000/mem"
import "github.com/scialex/reenix-sub000/tinfo"
import "github.com/scialex/reenix-sub000/vm"

// entry point of a context; gets the two words given to Mkcontext.
type Func_t func(int, interface{}) interface{}

// implemented by the owner of a context (a thread). the trampoline passes it
// the entry function's result.
type Exiter_i interface {
	Exit(interface{})
}

// the saved resume point. every context is backed by one goroutine which
// only runs while it holds the baton; a context switch hands the baton to
// the next context and blocks until it comes back.
type ccontext_t struct {
	baton chan struct{}
}

type Context_t struct {
	cc     ccontext_t
	Id     int
	Tsd    *tinfo.Tsd_t
	as     vm.Aspace_i
	kstack mem.Kstack_t
	s      *Sched_t

	f  Func_t
	a1 int
	a2 interface{}

	// on the run queue
	queued bool
	// stack freed
	released bool
}

// makes a context whose first resume calls f(a1, a2) on kstack in address
// space as.
func Mkcontext(s *Sched_t, f Func_t, a1 int, a2 interface{},
	kstack mem.Kstack_t, as vm.Aspace_i) *Context_t {
	if as == nil {
		panic("context without address space")
	}
	if !kstack.Valid() {
		panic("context without stack")
	}
	c := &Context_t{
		Id:     s._newid(),
		Tsd:    tinfo.MkTsd(uintptr(kstack.Base)),
		as:     as,
		kstack: kstack,
		s:      s,
		f:      f,
		a1:     a1,
		a2:     a2,
	}
	c.cc.baton = make(chan struct{}, 1)
	go c.trampoline()
	return c
}

func (c *Context_t) Kstack() mem.Kstack_t {
	return c.kstack
}

func (c *Context_t) Aspace() vm.Aspace_i {
	return c.as
}

func (c *Context_t) Queued() bool {
	return c.queued
}

func (c *Context_t) String() string {
	return fmt.Sprintf("ctx %d", c.Id)
}

func (c *Context_t) trampoline() {
	defer c.s.catch()
	c.park()
	if c.s.reachedidle {
		c.s.Gate.Set_ipl(intr.LOW)
		c.s.Gate.Enable()
	}
	r := c.f(c.a1, c.a2)
	if o, ok := c.Tsd.Get(tinfo.CUR_THREAD_SLOT); ok {
		o.(Exiter_i).Exit(r)
		panic("returned from exit")
	}
	// the bootstrap context has no owner
	c.s.Halt(r)
}

// blocks the calling goroutine until c is handed the CPU. a halted kernel
// retires the goroutine instead.
func (c *Context_t) park() {
	select {
	case <-c.cc.baton:
	case <-c.s.dead:
		runtime.Goexit()
	}
}

// installs c's kernel stack, address space and TSD and hands it the CPU.
func (c *Context_t) launch() {
	if c.released {
		panic("switch to released context")
	}
	c.s.Gdt.Set_kernel_stack(c.kstack.Top())
	c.as.Activate()
	c.s.Gdt.Set_tsd(c.Tsd)
	c.s.cur = c
	select {
	case c.cc.baton <- struct{}{}:
	default:
		panic("context already running")
	}
}

// makes c the running context. never returns; the calling goroutine is
// retired.
func (c *Context_t) Activate() {
	c.s.Gate.Set_ipl(intr.HIGH)
	c.launch()
	runtime.Goexit()
}

// save_and_switch: c resumes here exactly once, when a later switch hands
// the CPU back to it.
func (c *Context_t) switch_to(n *Context_t) {
	g := c.s.Gate
	ipl := g.Ipl()
	g.Set_ipl(intr.HIGH)
	c.s.Nswitch.Inc()
	dbg("switch %v -> %v\n", c, n)
	n.launch()
	c.park()
	intr.Assert_high(g)
	g.Set_ipl(ipl)
}

func (c *Context_t) _chkcur() {
	if c.s.cur != c {
		panic("not the running context")
	}
}

func (c *Context_t) Make_runnable() {
	intr.Block(c.s.Gate, func() {
		c.s.runq.push(c)
	})
}

// puts the running context on the run queue and switches away.
func (c *Context_t) Kyield() {
	c._chkcur()
	w := intr.Temporary_ipl(c.s.Gate, intr.HIGH)
	c.s.runq.push(c)
	c.s.Nyield.Inc()
	c.Switch()
	w.Reset()
}

// switches away from the running context without putting it on the run
// queue; it resumes once someone makes it runnable and it is scheduled.
func (c *Context_t) Switch() {
	c._chkcur()
	w := intr.Temporary_ipl(c.s.Gate, intr.HIGH)
	n := c.s.runq.pop()
	c.switch_to(n)
	w.Reset()
}

// frees the kernel stack of a context that will never run again.
func (c *Context_t) Release() {
	if c == c.s.cur {
		panic("releasing the running context")
	}
	if c.queued {
		panic("releasing a runnable context")
	}
	if c.released {
		panic("double release")
	}
	c.released = true
	c.s.Stacks.Free_n(c.kstack)
}
