// Package tinfo implements the per-context thread-local slot table. The
// scheduler installs a context's table on every switch and otherwise treats
// it as an opaque blob.
package tinfo

import "fmt"

const NSLOTS = 8

// well-known slots
const (
	CUR_THREAD_SLOT = 0
	CUR_PROC_SLOT   = 1
	CUR_PID_SLOT    = 2
)

type Tsd_t struct {
	// base of the kernel stack the table was made for
	Kstack uintptr
	slots  [NSLOTS]interface{}
	used   [NSLOTS]bool
}

func MkTsd(kstack uintptr) *Tsd_t {
	return &Tsd_t{Kstack: kstack}
}

func _chk(slot int) {
	if slot < 0 || slot >= NSLOTS {
		panic(fmt.Sprintf("bad tsd slot %v", slot))
	}
}

func (t *Tsd_t) Get(slot int) (interface{}, bool) {
	_chk(slot)
	return t.slots[slot], t.used[slot]
}

func (t *Tsd_t) Set(slot int, v interface{}) {
	_chk(slot)
	t.slots[slot] = v
	t.used[slot] = true
}

func (t *Tsd_t) Clear(slot int) {
	_chk(slot)
	t.slots[slot] = nil
	t.used[slot] = false
}
