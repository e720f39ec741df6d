package sched

import "github.com/scialex/reenix-sub000/intr"

// contexts eligible to run, in FIFO order. only touched with interrupts
// blocked.
type runq_t struct {
	s      *Sched_t
	q      []*Context_t
	inited bool
}

func (rq *runq_t) init(s *Sched_t) {
	rq.s = s
	rq.q = make([]*Context_t, 0, 16)
	rq.inited = true
}

func (rq *runq_t) push(c *Context_t) {
	if !rq.inited {
		panic("push to run queue before initialization")
	}
	intr.Assert_high(rq.s.Gate)
	if c.queued {
		panic("context already on run queue")
	}
	c.queued = true
	rq.q = append(rq.q, c)
	dbg("%v runnable, %v waiting\n", c, len(rq.q))
}

// removes the head of the queue. when the queue is empty the CPU idles
// until an interrupt handler makes something runnable.
func (rq *runq_t) pop() *Context_t {
	if !rq.inited {
		panic("pop from run queue before initialization")
	}
	g := rq.s.Gate
	for {
		intr.Assert_high(g)
		if len(rq.q) != 0 {
			c := rq.q[0]
			rq.q[0] = nil
			rq.q = rq.q[1:]
			c.queued = false
			return c
		}
		rq.s.Nidle.Inc()
		dbg("nothing to run\n")
		g.Disable()
		g.Set_ipl(intr.LOW)
		if !g.Wait() {
			rq.s._shutdown()
		}
		g.Set_ipl(intr.HIGH)
	}
}

func (rq *runq_t) len() int {
	return len(rq.q)
}
