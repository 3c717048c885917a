// Package region provides bounds-checked, composable views of the address
// spaces a PCI device exposes: configuration space, BARs and the expansion ROM.
//
// A Region is either a root (Memory, File, MappedRegion) or a view of one
// (Subregion, OwningRegion). Views always refer directly to their root, so
// taking a subregion of a subregion costs nothing extra on access.
package region

import (
	"errors"
	"fmt"
)

// Permissions describes which kinds of access a region allows.
type Permissions uint8

const (
	Read Permissions = 1 << iota
	Write

	ReadWrite = Read | Write
)

// NewPermissions returns the permissions for the given flags. It returns false
// if neither flag is set, since a region must allow some kind of access.
func NewPermissions(readable, writable bool) (Permissions, bool) {
	var p Permissions
	if readable {
		p |= Read
	}

	if writable {
		p |= Write
	}

	return p, p != 0
}

func (p Permissions) CanRead() bool { return p&Read != 0 }
func (p Permissions) CanWrite() bool { return p&Write != 0 }

// Contains reports whether p allows every access q allows.
func (p Permissions) Contains(q Permissions) bool {
	return p&q == q
}

func (p Permissions) String() string {
	switch p {
	case Read:
		return "r"
	case Write:
		return "w"
	case ReadWrite:
		return "rw"
	}

	return fmt.Sprintf("Permissions(%d)", uint8(p))
}

// End can be passed as the end of a range to mean "up to the end of the region".
const End = ^uint64(0)

var (
	ErrInvalidInput = errors.New("region: invalid input")
	ErrOutOfBounds  = errors.New("region: access out of bounds")
	ErrUnaligned    = fmt.Errorf("%w: unaligned access", ErrInvalidInput)
	ErrNotMappable  = fmt.Errorf("%w: region is not mappable", ErrInvalidInput)
	ErrPermission   = errors.New("region: permission denied")
	ErrDeviceIO     = errors.New("region: device I/O failed")
	ErrClosed       = errors.New("region: closed")
)

// Region is a range of device-backed addresses. Multi-byte values are
// little-endian. Every access must lie entirely within [0, Len()).
//
// Region can't be implemented outside this package. Use Sub to narrow a
// region, and NewMemory or NewFile to create a new root.
type Region interface {

	// Len returns the length of the region in bytes.
	Len() uint64

	// Permissions returns the kinds of access the region allows.
	Permissions() Permissions

	// Addr returns the address of the first byte of the region if it is
	// backed by memory in this process.
	Addr() (uintptr, bool)

	ReadBytes(off uint64, p []byte) error
	WriteBytes(off uint64, p []byte) error

	ReadU8(off uint64) (uint8, error)
	ReadU16(off uint64) (uint16, error)
	ReadU32(off uint64) (uint32, error)

	WriteU8(off uint64, v uint8) error
	WriteU16(off uint64, v uint16) error
	WriteU32(off uint64, v uint32) error

	// view returns the region as an offset and length into its root.
	view() Subregion
}

// clamp limits [start, end) to [0, n).
func clamp(start, end, n uint64) (uint64, uint64) {
	start = min(start, n)
	end = min(max(end, start), n)
	return start, end
}

// checkBounds returns ErrOutOfBounds unless [off, off+n) fits in [0, length).
func checkBounds(off, n, length uint64) error {
	if n > length || off > length-n {
		return fmt.Errorf("%w: [%#x, %#x) is not in [0x0, %#x)", ErrOutOfBounds, off, off+n, length)
	}

	return nil
}

func checkAlignment(off, n, align uint64) error {
	if off%align != 0 || n%align != 0 {
		return fmt.Errorf("%w: [%#x, %#x) must be %d-byte aligned", ErrUnaligned, off, off+n, align)
	}

	return nil
}

func checkPermissions(have, want Permissions) error {
	if !have.Contains(want) {
		return fmt.Errorf("%w: need %v, have %v", ErrPermission, want, have)
	}

	return nil
}
