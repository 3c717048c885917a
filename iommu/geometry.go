//go:build linux

package iommu

import (
	"cmp"
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
	"slices"
	"unsafe"

	"github.com/c35s/pcidrv/vfio"
)

// Range is a half-open range of IOVAs.
type Range struct {
	Start uint64
	End   uint64
}

// Len returns the number of addresses in the range.
func (r Range) Len() uint64 {
	if r.End < r.Start {
		return 0
	}

	return r.End - r.Start
}

// Contains reports whether [iova, iova+size) lies inside the range.
func (r Range) Contains(iova, size uint64) bool {
	return iova >= r.Start && iova <= r.End && size <= r.End-iova
}

func (r Range) String() string {
	return fmt.Sprintf("[%#x, %#x)", r.Start, r.End)
}

// geometry is what the IOMMU reports about its address space.
type geometry struct {
	alignment      uint64
	ranges         []Range
	maxMappings    uint32
	hasMaxMappings bool
}

const (
	infoSize         = int(unsafe.Sizeof(vfio.IOMMUType1Info{}))
	capHeaderSize    = int(unsafe.Sizeof(vfio.InfoCapHeader{}))
	iovaRangeSize    = int(unsafe.Sizeof(vfio.IOVARange{}))
	iovaRangeCapSize = capHeaderSize + 8
	dmaAvailCapSize  = capHeaderSize + 4
)

var ne = binary.NativeEndian

// queryGeometry asks for the fixed-size info struct first, then asks again
// with a buffer big enough for the capability chain.
func queryGeometry(b Backend, c Handle) (geometry, error) {
	buf := make([]byte, infoSize)
	if err := b.GetIOMMUInfo(c, buf); err != nil {
		return geometry{}, err
	}

	argsz := int(ne.Uint32(buf[0:]))
	if argsz <= infoSize {
		return geometry{}, errors.New("no IOMMU capabilities")
	}

	buf = make([]byte, argsz)
	if err := b.GetIOMMUInfo(c, buf); err != nil {
		return geometry{}, err
	}

	return parseInfo(buf)
}

// parseInfo decodes a vfio_iommu_type1_info and its capability chain.
func parseInfo(buf []byte) (geometry, error) {
	if len(buf) < infoSize {
		return geometry{}, fmt.Errorf("info is %d bytes, want at least %d", len(buf), infoSize)
	}

	var (
		flags     = ne.Uint32(buf[4:])
		pgsizes   = ne.Uint64(buf[8:])
		capOffset = int(ne.Uint32(buf[16:]))
	)

	if flags&vfio.IOMMUInfoPgsizes == 0 || pgsizes == 0 {
		return geometry{}, errors.New("no IOVA alignment requirement")
	}

	if flags&vfio.IOMMUInfoCaps == 0 || capOffset == 0 {
		return geometry{}, errors.New("no IOMMU capabilities")
	}

	g := geometry{
		alignment: 1 << bits.TrailingZeros64(pgsizes),
	}

	var (
		ranges    []Range
		hasRanges bool
	)

	// Offsets must strictly increase, so each header is read at most once.
	for off, prev := capOffset, 0; off != 0; {
		if off <= prev || off < infoSize || off > len(buf)-capHeaderSize {
			return geometry{}, fmt.Errorf("capability at %#x is outside [%#x, %#x)", off, max(prev+1, infoSize), len(buf))
		}

		var (
			id   = ne.Uint16(buf[off:])
			next = int(ne.Uint32(buf[off+4:]))
		)

		switch id {
		case vfio.IOMMUTypeInfoCapIOVARange:
			rs, err := parseIOVARanges(buf[off:])
			if err != nil {
				return geometry{}, fmt.Errorf("capability at %#x: %w", off, err)
			}

			ranges = append(ranges, rs...)
			hasRanges = true

		case vfio.IOMMUTypeInfoCapDMAAvail:
			if len(buf)-off < dmaAvailCapSize {
				return geometry{}, fmt.Errorf("capability at %#x: truncated", off)
			}

			g.maxMappings = ne.Uint32(buf[off+capHeaderSize:])
			g.hasMaxMappings = true
		}

		prev, off = off, next
	}

	if !hasRanges {
		return geometry{}, errors.New("no IOVA range capability")
	}

	rs, err := normalizeRanges(ranges, g.alignment)
	if err != nil {
		return geometry{}, err
	}

	g.ranges = rs
	return g, nil
}

// parseIOVARanges decodes a vfio_iommu_type1_info_cap_iova_range, converting
// its inclusive ends to exclusive ones.
func parseIOVARanges(b []byte) ([]Range, error) {
	if len(b) < iovaRangeCapSize {
		return nil, errors.New("truncated")
	}

	n := int(ne.Uint32(b[capHeaderSize:]))
	if n > (len(b)-iovaRangeCapSize)/iovaRangeSize {
		return nil, fmt.Errorf("%d ranges overflow the info buffer", n)
	}

	rs := make([]Range, n)
	for i := range rs {
		off := iovaRangeCapSize + i*iovaRangeSize

		var (
			start = ne.Uint64(b[off:])
			last  = ne.Uint64(b[off+8:])
		)

		if last < start {
			return nil, fmt.Errorf("range %d ends at %#x before it starts at %#x", i, last, start)
		}

		end := last + 1
		if last == ^uint64(0) {
			end = last
		}

		rs[i] = Range{Start: start, End: end}
	}

	return rs, nil
}

// normalizeRanges sorts ranges by start, reserves IOVA 0 by moving the first
// range up one alignment unit, and rejects overlap. The input is not modified.
func normalizeRanges(ranges []Range, alignment uint64) ([]Range, error) {
	rs := slices.Clone(ranges)
	slices.SortFunc(rs, func(a, b Range) int {
		return cmp.Compare(a.Start, b.Start)
	})

	if len(rs) > 0 && rs[0].Start == 0 {
		rs[0].Start = alignment
		if rs[0].Start >= rs[0].End {
			rs = rs[1:]
		}
	}

	for i := 1; i < len(rs); i++ {
		if rs[i-1].End > rs[i].Start {
			return nil, fmt.Errorf("overlapping IOVA ranges %v and %v", rs[i-1], rs[i])
		}
	}

	return rs, nil
}
