// Package apic simulates the interrupt hardware of a one-CPU machine: the
// local APIC's task priority register, per-vector masks and handler table,
// and the CPU's interrupt flag. Devices (any goroutine) raise interrupts; the
// CPU takes them at delivery points: Set_ipl, Enable and Wait.
package apic

import "fmt"
import "sync"

import "github.com/scialex/reenix-sub000/defs"
import "github.com/scialex/reenix-sub000/intr"
import "github.com/scialex/reenix-sub000/stats"

const apic_debug bool = false

func dbg(f string, args ...interface{}) {
	if apic_debug {
		fmt.Printf(f, args...)
	}
}

type Apic_t struct {
	// protects the fields below; devices raise interrupts concurrently
	// with the CPU.
	sync.Mutex
	cond     *sync.Cond
	ipl      uint8
	flag     bool
	pending  []uint8
	masked   [defs.MAX_INTERRUPTS]bool
	handlers [defs.MAX_INTERRUPTS]intr.Handler_t
	halted   bool
	dead     bool

	Nirqs     [defs.MAX_INTERRUPTS]stats.Counter_t
	Irqs      stats.Counter_t
	Nspurious stats.Counter_t
	Nhalts    stats.Counter_t
}

var _ intr.Gate_i = (*Apic_t)(nil)

// the CPU comes out of reset with interrupts off and the IPL high.
func Mkapic() *Apic_t {
	a := &Apic_t{ipl: intr.HIGH}
	a.cond = sync.NewCond(&a.Mutex)
	return a
}

func (a *Apic_t) Enable() {
	a.Lock()
	a.flag = true
	a.Unlock()
	a.deliver()
}

func (a *Apic_t) Disable() {
	a.Lock()
	a.flag = false
	a.Unlock()
}

func (a *Apic_t) Enabled() bool {
	a.Lock()
	defer a.Unlock()
	return a.flag
}

func (a *Apic_t) Ipl() uint8 {
	a.Lock()
	defer a.Unlock()
	return a.ipl
}

func (a *Apic_t) Set_ipl(ipl uint8) {
	a.Lock()
	a.ipl = ipl
	a.Unlock()
	a.deliver()
}

func (a *Apic_t) Register(intno uint8, h intr.Handler_t) {
	a.Lock()
	a.handlers[intno] = h
	a.Unlock()
	dbg("apic: handler for %#x\n", intno)
}

func (a *Apic_t) Irq_mask(intno uint8) {
	a.Lock()
	a.masked[intno] = true
	a.Unlock()
}

func (a *Apic_t) Irq_unmask(intno uint8) {
	a.Lock()
	a.masked[intno] = false
	a.Unlock()
}

// posts an interrupt from a device. safe to call from any goroutine.
func (a *Apic_t) Raise(intno uint8) {
	a.Lock()
	defer a.Unlock()
	if a.dead {
		return
	}
	a.pending = append(a.pending, intno)
	a.cond.Broadcast()
}

// sti; hlt. returns false, having delivered nothing, once the controller
// is shut down.
func (a *Apic_t) Wait() bool {
	a.Lock()
	a.flag = true
	for !a._haveone() {
		if a.dead {
			a.halted = false
			a.Unlock()
			return false
		}
		a.halted = true
		a.Nhalts.Inc()
		a.cond.Wait()
	}
	a.halted = false
	a.Unlock()
	a.deliver()
	return true
}

// true if the CPU is sitting in Wait with nothing to do.
func (a *Apic_t) Halted() bool {
	a.Lock()
	defer a.Unlock()
	return a.halted
}

func (a *Apic_t) Pending() int {
	a.Lock()
	defer a.Unlock()
	return len(a.pending)
}

// releases a halted CPU and drops future interrupts; used when tearing down
// the machine.
func (a *Apic_t) Shutdown() error {
	a.Lock()
	a.dead = true
	a.pending = nil
	a.cond.Broadcast()
	a.Unlock()
	return nil
}

// reports a controller that has been shut down.
func (a *Apic_t) HealthCheck() error {
	a.Lock()
	defer a.Unlock()
	if a.dead {
		return fmt.Errorf("apic shut down")
	}
	return nil
}

func (a *Apic_t) String() string {
	a.Lock()
	defer a.Unlock()
	return fmt.Sprintf("apic {ipl: %#x, if: %v, pending: %v}", a.ipl,
		a.flag, len(a.pending))
}

// a vector is taken if the interrupt flag is set, it is not masked and its
// priority class is above the IPL's class.
func (a *Apic_t) _deliverable(intno uint8) bool {
	return a.flag && !a.masked[intno] && intno>>4 > a.ipl>>4
}

func (a *Apic_t) _haveone() bool {
	for _, v := range a.pending {
		if a._deliverable(v) {
			return true
		}
	}
	return false
}

// removes and returns the oldest deliverable pending interrupt.
func (a *Apic_t) _next() (uint8, bool) {
	for i, v := range a.pending {
		if a._deliverable(v) {
			copy(a.pending[i:], a.pending[i+1:])
			a.pending = a.pending[:len(a.pending)-1]
			return v, true
		}
	}
	return 0, false
}

// runs handlers for every deliverable pending interrupt on the calling
// goroutine, which is the CPU. handlers run with the IPL high and the
// interrupt flag clear.
func (a *Apic_t) deliver() {
	for {
		a.Lock()
		v, ok := a._next()
		if !ok {
			a.Unlock()
			return
		}
		h := a.handlers[v]
		oipl, oflag := a.ipl, a.flag
		a.ipl, a.flag = intr.HIGH, false
		a.Unlock()

		a._run(v, h)

		a.Lock()
		a.ipl, a.flag = oipl, oflag
		a.Unlock()
	}
}

func (a *Apic_t) _run(v uint8, h intr.Handler_t) {
	a.Nirqs[v].Inc()
	a.Irqs.Inc()
	if h == nil {
		a.Nspurious.Inc()
		dbg("apic: spurious %#x\n", v)
		return
	}
	h(v)
}

// a software interrupt (int $n): runs the handler for intno right away on
// the calling goroutine, whatever the IPL and interrupt flag.
func (a *Apic_t) Trap(intno uint8) {
	a.Lock()
	h := a.handlers[intno]
	oipl, oflag := a.ipl, a.flag
	a.ipl, a.flag = intr.HIGH, false
	a.Unlock()

	a._run(intno, h)

	a.Lock()
	a.ipl, a.flag = oipl, oflag
	a.Unlock()
	a.deliver()
}
