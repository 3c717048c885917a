package region_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/c35s/pcidrv/region"
)

// fakeMapper maps regions by slicing a backing buffer per ID.
type fakeMapper struct {
	backing  map[region.ID][]byte
	maps     int
	unmaps   int
	unmapErr error
	refs     int
	last     struct {
		off uint64
		n   int
	}
}

func (m *fakeMapper) MapRegion(id region.ID, off uint64, n int, perms region.Permissions) ([]byte, error) {
	b, ok := m.backing[id]
	if !ok {
		return nil, fmt.Errorf("no such region: %v", id)
	}

	m.maps++
	m.last.off, m.last.n = off, n
	return b[off : off+uint64(n)], nil
}

func (m *fakeMapper) UnmapRegion(id region.ID, b []byte) error {
	m.unmaps++
	return m.unmapErr
}

func (m *fakeMapper) Retain() {
	m.refs++
}

func (m *fakeMapper) Release() error {
	m.refs--
	return nil
}

func newOwning(perms region.Permissions, mappable bool) (*fakeMapper, region.OwningRegion) {
	buf := make([]byte, 0x1000)
	m := &fakeMapper{backing: map[region.ID][]byte{region.BAR(2): buf}, refs: 1}
	return m, region.NewOwning(m, region.NewMemory(buf, perms), region.BAR(2), mappable)
}

func TestOwningRegion(t *testing.T) {
	t.Run("access", func(t *testing.T) {
		_, o := newOwning(region.ReadWrite, false)
		sub := o.OwningSubregion(0x100, 0x200)

		if err := sub.WriteU32(0x10, 0xcafe); err != nil {
			t.Fatal(err)
		}

		if v, err := o.ReadU32(0x110); err != nil || v != 0xcafe {
			t.Fatalf("u32 %#x != 0xcafe (err: %v)", v, err)
		}

		if sub.Len() != 0x100 || sub.Offset() != 0x100 {
			t.Fatalf("subregion [%#x, +%#x) != [0x100, +0x100)", sub.Offset(), sub.Len())
		}

		if _, err := sub.ReadU8(0x100); !errors.Is(err, region.ErrOutOfBounds) {
			t.Fatalf("read past owning subregion: %v", err)
		}
	})

	t.Run("not mappable", func(t *testing.T) {
		_, o := newOwning(region.ReadWrite, false)
		if _, err := o.Map(0, region.End, region.Read); !errors.Is(err, region.ErrNotMappable) {
			t.Fatalf("map: %v", err)
		}
	})

	t.Run("permissions", func(t *testing.T) {
		m, o := newOwning(region.Read, true)
		if _, err := o.Map(0, region.End, region.ReadWrite); !errors.Is(err, region.ErrPermission) {
			t.Fatalf("map: %v", err)
		}

		if m.maps != 0 {
			t.Fatalf("maps %d != 0", m.maps)
		}
	})

	t.Run("map", func(t *testing.T) {
		m, o := newOwning(region.ReadWrite, true)
		sub := o.OwningSubregion(0x800, region.End)

		mr, err := sub.Map(0x100, 0x10000, region.ReadWrite)
		if err != nil {
			t.Fatal(err)
		}

		if m.last.off != 0x900 || m.last.n != 0x700 {
			t.Fatalf("mapped [%#x, +%#x) != [0x900, +0x700)", m.last.off, m.last.n)
		}

		if err := mr.WriteU16(0, 0xabcd); err != nil {
			t.Fatal(err)
		}

		if v, err := o.ReadU16(0x900); err != nil || v != 0xabcd {
			t.Fatalf("u16 %#x != 0xabcd (err: %v)", v, err)
		}

		if _, ok := mr.Addr(); !ok {
			t.Fatal("mapped region has no address")
		}

		for i := 0; i < 3; i++ {
			if err := mr.Close(); err != nil {
				t.Fatal(err)
			}
		}

		if m.unmaps != 1 {
			t.Fatalf("unmaps %d != 1", m.unmaps)
		}

		if _, err := mr.ReadU16(0); !errors.Is(err, region.ErrClosed) {
			t.Fatalf("read after close: %v", err)
		}

		if _, err := region.Sub(mr, 0, 4).ReadU8(0); !errors.Is(err, region.ErrClosed) {
			t.Fatalf("read subregion after close: %v", err)
		}
	})

	t.Run("references", func(t *testing.T) {
		m, o := newOwning(region.ReadWrite, true)
		sub := o.OwningSubregion(0x100, 0x200)

		if m.refs != 2 {
			t.Fatalf("refs %d != 2", m.refs)
		}

		cp := o
		for _, r := range []region.OwningRegion{o, cp, o} {
			if err := r.Close(); err != nil {
				t.Fatal(err)
			}
		}

		if m.refs != 1 {
			t.Fatalf("refs %d != 1 after closing the region and its copy", m.refs)
		}

		if _, err := o.Map(0, region.End, region.Read); !errors.Is(err, region.ErrClosed) {
			t.Fatalf("map after close: %v", err)
		}

		mr, err := sub.Map(0, region.End, region.Read)
		if err != nil {
			t.Fatal(err)
		}

		if err := sub.Close(); err != nil {
			t.Fatal(err)
		}

		if m.refs != 0 {
			t.Fatalf("refs %d != 0", m.refs)
		}

		if _, err := mr.ReadU32(0); err != nil {
			t.Fatalf("read mapping after closing its region: %v", err)
		}

		mr.Close()

		var zero region.OwningRegion
		if err := zero.Close(); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("unmap failure", func(t *testing.T) {
		m, o := newOwning(region.ReadWrite, true)
		mr, err := o.Map(0, 0x1000, region.Read)
		if err != nil {
			t.Fatal(err)
		}

		m.unmapErr = errors.New("EINVAL")

		defer func() {
			if recover() == nil {
				t.Fatal("failed unmap did not panic")
			}
		}()

		mr.Close()
	})
}

func TestID(t *testing.T) {
	if s := region.BAR(3).String(); s != "BAR3" {
		t.Fatalf("%q != BAR3", s)
	}

	if s := region.ROM.String(); s != "ROM" {
		t.Fatalf("%q != ROM", s)
	}

	if _, ok := region.ROM.BARIndex(); ok {
		t.Fatal("ROM has a BAR index")
	}

	defer func() {
		if recover() == nil {
			t.Fatal("BAR(6) did not panic")
		}
	}()

	region.BAR(6)
}
