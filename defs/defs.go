package defs

type Err_t int

const (
	ENOMEM Err_t = 12
	EBUSY  Err_t = 16
)

type Tid_t int

// interrupt vectors
const (
	DISK_PRIMARY = 0xd0
	SPURIOUS     = 0xef

	MAX_INTERRUPTS = 256
)
