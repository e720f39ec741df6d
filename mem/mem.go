package mem

import "fmt"
import "sync"

import "github.com/scialex/reenix-sub000/caller"
import "github.com/scialex/reenix-sub000/defs"
import "github.com/scialex/reenix-sub000/stats"

const PGSHIFT uint = 12
const PGSIZE int = 1 << PGSHIFT
const PGOFFSET Pa_t = 0xfff
const PGMASK Pa_t = ^(PGOFFSET)

type Pa_t uintptr

// a kernel stack: npages contiguous physical pages.
type Kstack_t struct {
	Base   Pa_t
	Npages int
}

func (k Kstack_t) Top() uintptr {
	return uintptr(k.Base) + uintptr(k.Npages*PGSIZE)
}

func (k Kstack_t) Valid() bool {
	return k.Npages != 0
}

type Stackalloc_i interface {
	Alloc_n(npages int) (Kstack_t, defs.Err_t)
	Free_n(Kstack_t)
}

type Physpg_t struct {
	Refcnt int32
}

// a pool of physical pages. stacks and page maps are carved from it
// first-fit.
type Physmem_t struct {
	sync.Mutex
	Pgs     []Physpg_t
	start   Pa_t
	freelen int
	// when enabled, fails the first allocation from every distinct call
	// path with ENOMEM.
	Fail caller.Distinct_caller_t

	Nalloc stats.Counter_t
	Nfree  stats.Counter_t
	Nfail  stats.Counter_t
}

var _ Stackalloc_i = (*Physmem_t)(nil)

func Phys_init(start Pa_t, npages int) *Physmem_t {
	if start&PGOFFSET != 0 {
		panic("unaligned start")
	}
	if npages <= 0 {
		panic("no pages")
	}
	return &Physmem_t{
		Pgs:     make([]Physpg_t, npages),
		start:   start,
		freelen: npages,
	}
}

func (phys *Physmem_t) _pg2idx(p_pg Pa_t) int {
	if p_pg&PGOFFSET != 0 || p_pg < phys.start {
		panic(fmt.Sprintf("bad page %#x", p_pg))
	}
	idx := int((p_pg - phys.start) >> PGSHIFT)
	if idx >= len(phys.Pgs) {
		panic(fmt.Sprintf("bad page %#x", p_pg))
	}
	return idx
}

// allocates n contiguous pages. returns ENOMEM if no run of n free pages
// exists.
func (phys *Physmem_t) Alloc_n(n int) (Kstack_t, defs.Err_t) {
	if n <= 0 {
		panic("bad page count")
	}
	phys.Lock()
	defer phys.Unlock()
	if ok, _ := phys.Fail.Distinct(); ok {
		phys.Nfail.Inc()
		return Kstack_t{}, -defs.ENOMEM
	}
	if phys.freelen < n {
		phys.Nfail.Inc()
		return Kstack_t{}, -defs.ENOMEM
	}
	run := 0
	for i := range phys.Pgs {
		if phys.Pgs[i].Refcnt != 0 {
			run = 0
			continue
		}
		run++
		if run == n {
			first := i - n + 1
			for j := first; j <= i; j++ {
				phys.Pgs[j].Refcnt = 1
			}
			phys.freelen -= n
			phys.Nalloc.Inc()
			base := phys.start + Pa_t(first<<PGSHIFT)
			return Kstack_t{Base: base, Npages: n}, 0
		}
	}
	phys.Nfail.Inc()
	return Kstack_t{}, -defs.ENOMEM
}

func (phys *Physmem_t) Free_n(ks Kstack_t) {
	if !ks.Valid() {
		panic("free of empty stack")
	}
	phys.Lock()
	defer phys.Unlock()
	first := phys._pg2idx(ks.Base)
	for i := first; i < first+ks.Npages; i++ {
		if phys.Pgs[i].Refcnt != 1 {
			panic("stack page double free")
		}
		phys.Pgs[i].Refcnt = 0
	}
	phys.freelen += ks.Npages
	phys.Nfree.Inc()
}

// allocates a single page with a reference count of one.
func (phys *Physmem_t) Refpg_new() (Pa_t, bool) {
	ks, err := phys.Alloc_n(1)
	if err != 0 {
		return 0, false
	}
	return ks.Base, true
}

func (phys *Physmem_t) Refcnt(p_pg Pa_t) int {
	phys.Lock()
	defer phys.Unlock()
	return int(phys.Pgs[phys._pg2idx(p_pg)].Refcnt)
}

func (phys *Physmem_t) Refup(p_pg Pa_t) {
	phys.Lock()
	defer phys.Unlock()
	pg := &phys.Pgs[phys._pg2idx(p_pg)]
	if pg.Refcnt <= 0 {
		panic("refup of free page")
	}
	pg.Refcnt++
}

// returns true if the page was freed.
func (phys *Physmem_t) Refdown(p_pg Pa_t) bool {
	phys.Lock()
	defer phys.Unlock()
	pg := &phys.Pgs[phys._pg2idx(p_pg)]
	if pg.Refcnt <= 0 {
		panic("refdown of free page")
	}
	pg.Refcnt--
	if pg.Refcnt == 0 {
		phys.freelen++
		phys.Nfree.Inc()
		return true
	}
	return false
}

func (phys *Physmem_t) Pgcount() int {
	phys.Lock()
	defer phys.Unlock()
	return phys.freelen
}
