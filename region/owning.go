package region

import (
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sync/atomic"
)

// ID identifies a BAR or the expansion ROM of a device. Its value is the
// VFIO region index.
type ID int

const ROM ID = 6

// BAR returns the ID of BAR i. It panics if i is not in [0, 5].
func BAR(i int) ID {
	if i < 0 || i > 5 {
		panic(fmt.Sprintf("region: BAR index %d out of range", i))
	}

	return ID(i)
}

// BARIndex returns the BAR index of id, or false if id is the ROM.
func (id ID) BARIndex() (int, bool) {
	if id < 0 || id > 5 {
		return 0, false
	}

	return int(id), true
}

func (id ID) String() string {
	if i, ok := id.BARIndex(); ok {
		return fmt.Sprintf("BAR%d", i)
	}

	if id == ROM {
		return "ROM"
	}

	return fmt.Sprintf("ID(%d)", int(id))
}

// A Mapper maps parts of a device's BARs or ROM into memory, and counts the
// references that keep the device open. Implementations must keep the device
// open while any mapping they return is alive.
type Mapper interface {

	// MapRegion maps n bytes of region id starting at off.
	MapRegion(id ID, off uint64, n int, perms Permissions) ([]byte, error)

	// UnmapRegion undoes a mapping returned by MapRegion.
	UnmapRegion(id ID, b []byte) error

	// Retain adds a reference to the device.
	Retain()

	// Release drops a reference added by Retain.
	Release() error
}

// OwningRegion is a BAR or ROM, or part of one, that holds a reference to the
// device it belongs to. It can be accessed directly and, if the device allows
// it, mapped into memory. Close drops the reference; copies of an
// OwningRegion share it.
type OwningRegion struct {
	ref      *owner
	backing  Region
	offset   uint64
	length   uint64
	id       ID
	mappable bool
}

// owner is one reference to a Mapper, dropped exactly once.
type owner struct {
	m      Mapper
	id     ID
	closed atomic.Bool
}

func newOwner(m Mapper, id ID) *owner {
	ref := &owner{m: m, id: id}
	runtime.SetFinalizer(ref, (*owner).finalize)
	return ref
}

func (ref *owner) release() error {
	if !ref.closed.CompareAndSwap(false, true) {
		return nil
	}

	runtime.SetFinalizer(ref, nil)
	return ref.m.Release()
}

func (ref *owner) finalize() {
	if ref.closed.CompareAndSwap(false, true) {
		slog.Warn("region: owning region was not closed", "region", ref.id)
		ref.m.Release()
	}
}

// NewOwning returns an OwningRegion covering all of backing. It takes over a
// reference to m that the caller already holds. Offsets passed to m are
// relative to the start of backing.
func NewOwning(m Mapper, backing Region, id ID, mappable bool) OwningRegion {
	return OwningRegion{
		ref:      newOwner(m, id),
		backing:  backing,
		length:   backing.Len(),
		id:       id,
		mappable: mappable,
	}
}

// Close drops the region's reference to its device. Copies share the
// reference, so only the first Close of any of them drops it. Mappings made
// from the region stay valid until they are closed.
func (o OwningRegion) Close() error {
	if o.ref == nil {
		return nil
	}

	return o.ref.release()
}

func (o OwningRegion) view() Subregion {
	return Sub(o.backing, o.offset, o.offset+o.length)
}

func (o OwningRegion) ID() ID { return o.id }
func (o OwningRegion) Mappable() bool { return o.mappable }
func (o OwningRegion) Len() uint64 { return o.length }
func (o OwningRegion) Offset() uint64 { return o.offset }
func (o OwningRegion) Subregion() Subregion { return o.view() }

func (o OwningRegion) Permissions() Permissions { return o.backing.Permissions() }
func (o OwningRegion) Addr() (uintptr, bool) { return o.view().Addr() }
func (o OwningRegion) ReadBytes(off uint64, p []byte) error { return o.view().ReadBytes(off, p) }
func (o OwningRegion) WriteBytes(off uint64, p []byte) error { return o.view().WriteBytes(off, p) }
func (o OwningRegion) ReadU8(off uint64) (uint8, error) { return o.view().ReadU8(off) }
func (o OwningRegion) ReadU16(off uint64) (uint16, error) { return o.view().ReadU16(off) }
func (o OwningRegion) ReadU32(off uint64) (uint32, error) { return o.view().ReadU32(off) }
func (o OwningRegion) WriteU8(off uint64, v uint8) error { return o.view().WriteU8(off, v) }
func (o OwningRegion) WriteU16(off uint64, v uint16) error { return o.view().WriteU16(off, v) }
func (o OwningRegion) WriteU32(off uint64, v uint32) error { return o.view().WriteU32(off, v) }

// OwningSubregion is like Sub, but the result holds its own reference to the
// device and can still be mapped. It must be closed separately.
func (o OwningRegion) OwningSubregion(start, end uint64) OwningRegion {
	start, end = clamp(start, end, o.length)

	if o.ref != nil && !o.ref.closed.Load() {
		o.ref.m.Retain()
		o.ref = newOwner(o.ref.m, o.id)
	}

	o.offset += start
	o.length = end - start
	return o
}

// Map maps [start, end) of the region into memory. The range is clamped to
// the region. The mapping stays valid until the returned MappedRegion is
// closed.
func (o OwningRegion) Map(start, end uint64, perms Permissions) (*MappedRegion, error) {
	if o.ref == nil || o.ref.closed.Load() {
		return nil, fmt.Errorf("%w: map %v", ErrClosed, o.id)
	}

	if !o.mappable {
		return nil, fmt.Errorf("%w: %v", ErrNotMappable, o.id)
	}

	if err := checkPermissions(o.Permissions(), perms); err != nil {
		return nil, fmt.Errorf("%w: map %v", err, o.id)
	}

	start, end = clamp(start, end, o.length)
	if end == start {
		return nil, fmt.Errorf("%w: map %v: empty range", ErrInvalidInput, o.id)
	}

	if end-start > math.MaxInt {
		return nil, fmt.Errorf("%w: map %v: range length %#x is too large", ErrInvalidInput, o.id, end-start)
	}

	b, err := o.ref.m.MapRegion(o.id, o.offset+start, int(end-start), perms)
	if err != nil {
		return nil, fmt.Errorf("%w: map %v [%#x, %#x): %w", ErrDeviceIO, o.id, o.offset+start, o.offset+end, err)
	}

	mr := &MappedRegion{
		m:   o.ref.m,
		id:  o.id,
		mem: NewMemory(b, perms),
	}

	runtime.SetFinalizer(mr, (*MappedRegion).finalize)
	return mr, nil
}

// MappedRegion is a memory mapping of part of a BAR or ROM. It must not be
// copied. Close unmaps it; failing to unmap is fatal.
type MappedRegion struct {
	m      Mapper
	id     ID
	mem    *Memory
	closed atomic.Bool
}

func (r *MappedRegion) ID() ID { return r.id }

// Close unmaps the region. It panics if the unmap fails, since the process
// would otherwise be left with a mapping nothing owns. Calling Close more than
// once has no effect.
func (r *MappedRegion) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}

	runtime.SetFinalizer(r, nil)
	r.unmap()
	return nil
}

func (r *MappedRegion) finalize() {
	if r.closed.CompareAndSwap(false, true) {
		slog.Warn("region: mapped region was not closed", "region", r.id, "len", r.mem.Len())
		r.unmap()
	}
}

func (r *MappedRegion) unmap() {
	if err := r.m.UnmapRegion(r.id, r.mem.b); err != nil {
		panic(fmt.Sprintf("region: unmap %v failed: %v", r.id, err))
	}
}

// memory returns the backing memory, or an error if r is closed.
func (r *MappedRegion) memory() (*Memory, error) {
	if r.closed.Load() {
		return nil, fmt.Errorf("%w: %v", ErrClosed, r.id)
	}

	return r.mem, nil
}

func (r *MappedRegion) view() Subregion {
	return Subregion{root: r, length: r.mem.Len()}
}

func (r *MappedRegion) Len() uint64 { return r.mem.Len() }
func (r *MappedRegion) Permissions() Permissions { return r.mem.Permissions() }

// Addr returns the address of the mapping. It is only valid until Close.
func (r *MappedRegion) Addr() (uintptr, bool) {
	if r.closed.Load() {
		return 0, false
	}

	return r.mem.Addr()
}

func (r *MappedRegion) ReadBytes(off uint64, p []byte) error {
	m, err := r.memory()
	if err != nil {
		return err
	}

	return m.ReadBytes(off, p)
}

func (r *MappedRegion) WriteBytes(off uint64, p []byte) error {
	m, err := r.memory()
	if err != nil {
		return err
	}

	return m.WriteBytes(off, p)
}

func (r *MappedRegion) ReadU8(off uint64) (uint8, error) {
	m, err := r.memory()
	if err != nil {
		return 0, err
	}

	return m.ReadU8(off)
}

func (r *MappedRegion) ReadU16(off uint64) (uint16, error) {
	m, err := r.memory()
	if err != nil {
		return 0, err
	}

	return m.ReadU16(off)
}

func (r *MappedRegion) ReadU32(off uint64) (uint32, error) {
	m, err := r.memory()
	if err != nil {
		return 0, err
	}

	return m.ReadU32(off)
}

func (r *MappedRegion) WriteU8(off uint64, v uint8) error {
	m, err := r.memory()
	if err != nil {
		return err
	}

	return m.WriteU8(off, v)
}

func (r *MappedRegion) WriteU16(off uint64, v uint16) error {
	m, err := r.memory()
	if err != nil {
		return err
	}

	return m.WriteU16(off, v)
}

func (r *MappedRegion) WriteU32(off uint64, v uint32) error {
	m, err := r.memory()
	if err != nil {
		return err
	}

	return m.WriteU32(off, v)
}
