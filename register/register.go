// Package register provides typed views of device registers and the bit
// fields inside them, with the write semantics PCI defines for each kind of
// field.
//
// A register's fields are described once, by a Layout. The layout determines
// the register's write mask: the bits that are carried over from the current
// value when any field is written. Write-1-to-clear and reserved-zero bits are
// excluded from the mask, so writing one field never clears an unrelated
// status bit or sets a reserved one. Reserved-preserve bits and bits that are
// not covered by any field are carried over unchanged.
package register

import (
	"fmt"
	"unsafe"

	"github.com/c35s/pcidrv/region"
)

// Value is the type of a register: 8, 16 or 32 bits wide.
type Value interface {
	~uint8 | ~uint16 | ~uint32
}

func width[T Value]() uint {
	var v T
	return uint(unsafe.Sizeof(v)) * 8
}

func ones[T Value]() T {
	return ^T(0)
}

func read[T Value](r region.Region, off uint64) (T, error) {
	switch width[T]() {
	case 8:
		v, err := r.ReadU8(off)
		return T(v), err
	case 16:
		v, err := r.ReadU16(off)
		return T(v), err
	default:
		v, err := r.ReadU32(off)
		return T(v), err
	}
}

func write[T Value](r region.Region, off uint64, v T) error {
	switch width[T]() {
	case 8:
		return r.WriteU8(off, uint8(v))
	case 16:
		return r.WriteU16(off, uint16(v))
	default:
		return r.WriteU32(off, uint32(v))
	}
}

// Register is a read-only register at a fixed offset in a region.
type Register[T Value] struct {
	r      region.Region
	off    uint64
	layout *Layout[T]
}

// At returns the register at off in r. The layout may be nil if the register
// has no fields.
func At[T Value](r region.Region, off uint64, l *Layout[T]) Register[T] {
	return Register[T]{r: r, off: off, layout: l}
}

// Offset returns the offset of the register in its region.
func (x Register[T]) Offset() uint64 {
	return x.off
}

func (x Register[T]) Read() (T, error) {
	return read[T](x.r, x.off)
}

// Flag returns a read-only view of a one-bit field.
func (x Register[T]) Flag(f Field) Flag[T] {
	x.layout.mustHave(f, 1)
	return Flag[T]{reg: x, f: f}
}

// RegisterRW is a register that can also be written.
type RegisterRW[T Value] struct {
	Register[T]
}

// AtRW is like At, but returns a writable register.
func AtRW[T Value](r region.Region, off uint64, l *Layout[T]) RegisterRW[T] {
	return RegisterRW[T]{At(r, off, l)}
}

// Write writes v to the register as is. Use the field accessors to change
// individual fields.
func (x RegisterRW[T]) Write(v T) error {
	return write(x.r, x.off, v)
}

// WriteMask returns the bits that are preserved when a field is written.
func (x RegisterRW[T]) WriteMask() T {
	return x.layout.WriteMask()
}

// FlagRW returns a view of a one-bit RW field.
func (x RegisterRW[T]) FlagRW(f Field) FlagRW[T] {
	x.layout.mustHave(f, 1, RW)
	return FlagRW[T]{reg: x, f: f}
}

// FlagRW1C returns a view of a one-bit write-1-to-clear field.
func (x RegisterRW[T]) FlagRW1C(f Field) FlagRW1C[T] {
	x.layout.mustHave(f, 1, RW1C)
	return FlagRW1C[T]{reg: x, f: f}
}

// update performs a read-modify-write that keeps the write-masked bits of the
// current value, clears the bits in clear and then sets the bits in set.
func (x RegisterRW[T]) update(clear, set T) error {
	old, err := x.Read()
	if err != nil {
		return err
	}

	return x.Write(old&x.WriteMask()&^clear | set)
}

// String formats the register's location for error messages.
func (x Register[T]) String() string {
	return fmt.Sprintf("%d-bit register at %#x", width[T](), x.off)
}
