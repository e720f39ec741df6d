// Package vm provides the address-space handles the scheduler swaps on every
// context switch. The scheduler never looks inside one; it only calls
// Activate.
package vm

import "github.com/scialex/reenix-sub000/defs"
import "github.com/scialex/reenix-sub000/mem"
import "github.com/scialex/reenix-sub000/stats"

type Aspace_i interface {
	Activate()
}

// the page-table root register.
type Mmu_t struct {
	Cr3    mem.Pa_t
	Nloads stats.Counter_t
}

type Vm_t struct {
	Pmap mem.Pa_t
	mmu  *Mmu_t
	phys *mem.Physmem_t
}

var _ Aspace_i = (*Vm_t)(nil)

// allocates a fresh page map for a new address space.
func Mkvm(mmu *Mmu_t, phys *mem.Physmem_t) (*Vm_t, defs.Err_t) {
	p_pmap, ok := phys.Refpg_new()
	if !ok {
		return nil, -defs.ENOMEM
	}
	return &Vm_t{Pmap: p_pmap, mmu: mmu, phys: phys}, 0
}

func (v *Vm_t) Activate() {
	if v.Pmap == 0 {
		panic("activating released address space")
	}
	v.mmu.Cr3 = v.Pmap
	v.mmu.Nloads.Inc()
}

func (v *Vm_t) Active() bool {
	return v.Pmap != 0 && v.mmu.Cr3 == v.Pmap
}

// shares the page map with another user; Release drops one reference.
func (v *Vm_t) Share() *Vm_t {
	v.phys.Refup(v.Pmap)
	return &Vm_t{Pmap: v.Pmap, mmu: v.mmu, phys: v.phys}
}

func (v *Vm_t) Release() {
	if v.Pmap == 0 {
		panic("double release")
	}
	v.phys.Refdown(v.Pmap)
	v.Pmap = 0
}
