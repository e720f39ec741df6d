// Package intr describes the interrupt gate: the only mutual exclusion the
// scheduler has. Raising the interrupt priority level (IPL) to HIGH masks
// every hardware interrupt.
package intr

// All interrupts admitted.
const LOW uint8 = 0

// All interrupts blocked.
const HIGH uint8 = 0xff

type Handler_t func(intno uint8)

type Gate_i interface {
	// set/clear the CPU interrupt flag
	Enable()
	Disable()
	Enabled() bool
	Ipl() uint8
	Set_ipl(uint8)
	// atomically sets the interrupt flag and halts until an interrupt has
	// been taken. no interrupt can slip in between the two. returns false
	// if the machine was shut down instead.
	Wait() bool
	Register(intno uint8, h Handler_t)
}

// restores the IPL that was current when it was made.
type Iplwatch_t struct {
	g      Gate_i
	oldipl uint8
}

func Temporary_ipl(g Gate_i, ipl uint8) Iplwatch_t {
	w := Iplwatch_t{g: g, oldipl: g.Ipl()}
	g.Set_ipl(ipl)
	return w
}

func (w Iplwatch_t) Set_ipl(ipl uint8) {
	w.g.Set_ipl(ipl)
}

func (w Iplwatch_t) Reset() {
	w.g.Set_ipl(w.oldipl)
}

func (w Iplwatch_t) Old() uint8 {
	return w.oldipl
}

// runs f with interrupts blocked. a panic in f leaves them blocked; the
// kernel is halting anyway.
func Block(g Gate_i, f func()) {
	w := Temporary_ipl(g, HIGH)
	f()
	w.Reset()
}

func Assert_high(g Gate_i) {
	if g.Ipl() != HIGH {
		panic("interrupts not blocked")
	}
}
