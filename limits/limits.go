package limits

import "sync/atomic"

import "github.com/scialex/reenix-sub000/stats"

type Sysatomic_t int64

type Syslimit_t struct {
	// live threads, including exited but unreaped ones
	Threads Sysatomic_t
	// number of times a limit was hit
	Lhits stats.Counter_t
}

func MkSysLimit() *Syslimit_t {
	return &Syslimit_t{
		Threads: 1024,
	}
}

func (s *Sysatomic_t) _aptr() *int64 {
	return (*int64)(s)
}

func (s *Sysatomic_t) Given(_n uint) {
	n := int64(_n)
	if n < 0 {
		panic("too mighty")
	}
	atomic.AddInt64(s._aptr(), n)
}

func (s *Sysatomic_t) Taken(_n uint) bool {
	n := int64(_n)
	if n < 0 {
		panic("too mighty")
	}
	g := atomic.AddInt64(s._aptr(), -n)
	if g >= 0 {
		return true
	}
	atomic.AddInt64(s._aptr(), n)
	return false
}

// returns false if the limit has been reached.
func (s *Sysatomic_t) Take() bool {
	return s.Taken(1)
}

func (s *Sysatomic_t) Give() {
	s.Given(1)
}

func (s *Sysatomic_t) Remain() int64 {
	return atomic.LoadInt64(s._aptr())
}
