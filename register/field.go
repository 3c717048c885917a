package register

import (
	"fmt"
	"slices"

	"github.com/c35s/pcidrv/region"
)

// Mode is the access mode of a bit field.
type Mode uint8

const (
	RO    Mode = iota // read-only
	RW                // read-write
	RW1C              // read, write 1 to clear
	RsvdZ             // reserved, must be written as 0
	RsvdP             // reserved, must be preserved on write
)

func (m Mode) String() string {
	switch m {
	case RO:
		return "RO"
	case RW:
		return "RW"
	case RW1C:
		return "RW1C"
	case RsvdZ:
		return "RsvdZ"
	case RsvdP:
		return "RsvdP"
	}

	return fmt.Sprintf("Mode(%d)", uint8(m))
}

// Field is a range of bits in a register.
type Field struct {
	First, Last uint
	Mode        Mode
}

// Bit returns a one-bit field.
func Bit(i uint, m Mode) Field {
	return Field{First: i, Last: i, Mode: m}
}

// Range returns the field of bits first through last, inclusive.
func Range(first, last uint, m Mode) Field {
	return Field{First: first, Last: last, Mode: m}
}

func (f Field) Width() uint {
	return f.Last - f.First + 1
}

func mask[T Value](f Field) T {
	return (ones[T]() >> (width[T]() - f.Width())) << f.First
}

// Layout describes the fields of a register.
type Layout[T Value] struct {
	fields    []Field
	writeMask T
}

// NewLayout returns the layout of a register with the given fields. It panics
// if a field doesn't fit in T or overlaps another.
func NewLayout[T Value](fields ...Field) *Layout[T] {
	l := Layout[T]{
		fields:    fields,
		writeMask: ones[T](),
	}

	var used T
	for _, f := range fields {
		if f.First > f.Last || f.Last >= width[T]() {
			panic(fmt.Sprintf("register: bits [%d, %d] don't fit in %d bits", f.First, f.Last, width[T]()))
		}

		m := mask[T](f)
		if used&m != 0 {
			panic(fmt.Sprintf("register: bits [%d, %d] overlap another field", f.First, f.Last))
		}

		used |= m

		switch f.Mode {
		case RW1C, RsvdZ:
			l.writeMask &^= m
		}
	}

	return &l
}

// WriteMask returns the bits of the register that are preserved when a field
// is written. A nil layout preserves every bit.
func (l *Layout[T]) WriteMask() T {
	if l == nil {
		return ones[T]()
	}

	return l.writeMask
}

// mustHave panics unless f is one of l's fields, n bits wide if n > 0, and has
// one of the given modes if any are given.
func (l *Layout[T]) mustHave(f Field, n uint, modes ...Mode) {
	if l == nil || !slices.Contains(l.fields, f) {
		panic(fmt.Sprintf("register: bits [%d, %d] are not a field of the register", f.First, f.Last))
	}

	if n > 0 && f.Width() != n {
		panic(fmt.Sprintf("register: field [%d, %d] is not %d bits wide", f.First, f.Last, n))
	}

	if len(modes) > 0 && !slices.Contains(modes, f.Mode) {
		panic(fmt.Sprintf("register: field [%d, %d] is %v, not %v", f.First, f.Last, f.Mode, modes))
	}
}

// Flag is a read-only one-bit field.
type Flag[T Value] struct {
	reg Register[T]
	f   Field
}

func (x Flag[T]) Get() (bool, error) {
	return get(x.reg, x.f)
}

func get[T Value](reg Register[T], f Field) (bool, error) {
	v, err := reg.Read()
	if err != nil {
		return false, err
	}

	return v&mask[T](f) != 0, nil
}

// FlagRW is a one-bit field that can be set and cleared.
type FlagRW[T Value] struct {
	reg RegisterRW[T]
	f   Field
}

func (x FlagRW[T]) Get() (bool, error) {
	return get(x.reg.Register, x.f)
}

// Set sets the bit to v, preserving the register's other writable bits.
func (x FlagRW[T]) Set(v bool) error {
	m := mask[T](x.f)
	if v {
		return x.reg.update(m, m)
	}

	return x.reg.update(m, 0)
}

// FlagRW1C is a one-bit field that the device sets and software clears by
// writing 1.
type FlagRW1C[T Value] struct {
	reg RegisterRW[T]
	f   Field
}

func (x FlagRW1C[T]) Get() (bool, error) {
	return get(x.reg.Register, x.f)
}

// Clear writes 1 to the bit. The register's other write-1-to-clear bits are
// written as 0 so they keep their state.
func (x FlagRW1C[T]) Clear() error {
	return x.reg.update(0, mask[T](x.f))
}

// Bits is a read-only multi-bit field whose value has type U.
type Bits[T, U Value] struct {
	reg Register[T]
	f   Field
}

// BitsOf returns a read-only view of field f of reg.
func BitsOf[U, T Value](reg Register[T], f Field) Bits[T, U] {
	reg.layout.mustHave(f, 0)
	if f.Width() > width[U]() {
		panic(fmt.Sprintf("register: field [%d, %d] doesn't fit in %d bits", f.First, f.Last, width[U]()))
	}

	return Bits[T, U]{reg: reg, f: f}
}

func (x Bits[T, U]) Get() (U, error) {
	v, err := x.reg.Read()
	if err != nil {
		return 0, err
	}

	return U((v & mask[T](x.f)) >> x.f.First), nil
}

// BitsRW is a multi-bit RW field whose value has type U.
type BitsRW[T, U Value] struct {
	Bits[T, U]
	rw RegisterRW[T]
}

// BitsRWOf returns a view of RW field f of reg.
func BitsRWOf[U, T Value](reg RegisterRW[T], f Field) BitsRW[T, U] {
	reg.layout.mustHave(f, 0, RW)
	return BitsRW[T, U]{Bits: BitsOf[U](reg.Register, f), rw: reg}
}

// Set writes v to the field, preserving the register's other writable bits.
// It fails if v doesn't fit in the field.
func (x BitsRW[T, U]) Set(v U) error {
	limit := uint64(mask[T](x.f) >> x.f.First)
	if uint64(v) > limit {
		return fmt.Errorf("%w: value %#x too large for field [%d, %d] of %v", region.ErrInvalidInput, v, x.f.First, x.f.Last, x.rw)
	}

	m := mask[T](x.f)
	return x.rw.update(m, T(v)<<x.f.First)
}
