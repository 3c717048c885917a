package region

import (
	"encoding/binary"
	"math/bits"
	"sync/atomic"
	"unsafe"
)

// Memory is a region backed by memory in this process, usually a mapped BAR.
//
// Accesses are performed one unit at a time and never merged or split: device
// memory can have read side effects and may only support some access widths.
// Typed accesses must be naturally aligned.
type Memory struct {
	b     []byte
	perms Permissions
}

var bigEndian = binary.NativeEndian.Uint16([]byte{0, 1}) == 1

// NewMemory returns a region backed by b. The caller must keep b valid for as
// long as the region is in use.
func NewMemory(b []byte, perms Permissions) *Memory {
	return &Memory{b: b, perms: perms}
}

func (m *Memory) view() Subregion {
	return Subregion{root: m, length: m.Len()}
}

func (m *Memory) Len() uint64 {
	return uint64(len(m.b))
}

func (m *Memory) Permissions() Permissions {
	return m.perms
}

func (m *Memory) Addr() (uintptr, bool) {
	if len(m.b) == 0 {
		return 0, false
	}

	return uintptr(unsafe.Pointer(unsafe.SliceData(m.b))), true
}

// check validates a typed access of n bytes.
func (m *Memory) check(off, n uint64, perms Permissions) error {
	if err := checkBounds(off, n, m.Len()); err != nil {
		return err
	}

	if err := checkAlignment(off, n, n); err != nil {
		return err
	}

	return checkPermissions(m.perms, perms)
}

func (m *Memory) ptr(off uint64) unsafe.Pointer {
	return unsafe.Pointer(&m.b[off])
}

func (m *Memory) ReadBytes(off uint64, p []byte) error {
	if err := checkBounds(off, uint64(len(p)), m.Len()); err != nil {
		return err
	}

	if err := checkPermissions(m.perms, Read); err != nil {
		return err
	}

	for i := range p {
		p[i] = *(*byte)(m.ptr(off + uint64(i)))
	}

	return nil
}

func (m *Memory) WriteBytes(off uint64, p []byte) error {
	if err := checkBounds(off, uint64(len(p)), m.Len()); err != nil {
		return err
	}

	if err := checkPermissions(m.perms, Write); err != nil {
		return err
	}

	for i, b := range p {
		*(*byte)(m.ptr(off + uint64(i))) = b
	}

	return nil
}

func (m *Memory) ReadU8(off uint64) (uint8, error) {
	if err := m.check(off, 1, Read); err != nil {
		return 0, err
	}

	return *(*uint8)(m.ptr(off)), nil
}

func (m *Memory) ReadU16(off uint64) (uint16, error) {
	if err := m.check(off, 2, Read); err != nil {
		return 0, err
	}

	v := *(*uint16)(m.ptr(off))
	if bigEndian {
		v = bits.ReverseBytes16(v)
	}

	return v, nil
}

func (m *Memory) ReadU32(off uint64) (uint32, error) {
	if err := m.check(off, 4, Read); err != nil {
		return 0, err
	}

	v := atomic.LoadUint32((*uint32)(m.ptr(off)))
	if bigEndian {
		v = bits.ReverseBytes32(v)
	}

	return v, nil
}

func (m *Memory) WriteU8(off uint64, v uint8) error {
	if err := m.check(off, 1, Write); err != nil {
		return err
	}

	*(*uint8)(m.ptr(off)) = v
	return nil
}

func (m *Memory) WriteU16(off uint64, v uint16) error {
	if err := m.check(off, 2, Write); err != nil {
		return err
	}

	if bigEndian {
		v = bits.ReverseBytes16(v)
	}

	*(*uint16)(m.ptr(off)) = v
	return nil
}

func (m *Memory) WriteU32(off uint64, v uint32) error {
	if err := m.check(off, 4, Write); err != nil {
		return err
	}

	if bigEndian {
		v = bits.ReverseBytes32(v)
	}

	atomic.StoreUint32((*uint32)(m.ptr(off)), v)
	return nil
}
