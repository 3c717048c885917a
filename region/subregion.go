package region

// Subregion is a window of another region. The zero value is an empty region
// with no permissions.
type Subregion struct {
	root   Region
	offset uint64
	length uint64
}

// Sub returns the part of r in [start, end). The range is clamped to r, so
// Sub(r, 0, End) is all of r and an out-of-range start yields an empty region.
func Sub(r Region, start, end uint64) Subregion {
	v := r.view()
	start, end = clamp(start, end, v.length)

	return Subregion{
		root:   v.root,
		offset: v.offset + start,
		length: end - start,
	}
}

// Root returns the region s is a view of and the offset of s in it.
func (s Subregion) Root() (Region, uint64) {
	return s.root, s.offset
}

func (s Subregion) view() Subregion {
	return s
}

func (s Subregion) Len() uint64 {
	return s.length
}

func (s Subregion) Permissions() Permissions {
	if s.root == nil {
		return 0
	}

	return s.root.Permissions()
}

func (s Subregion) Addr() (uintptr, bool) {
	if s.root == nil {
		return 0, false
	}

	addr, ok := s.root.Addr()
	if !ok {
		return 0, false
	}

	return addr + uintptr(s.offset), true
}

func (s Subregion) ReadBytes(off uint64, p []byte) error {
	if err := checkBounds(off, uint64(len(p)), s.length); err != nil || len(p) == 0 {
		return err
	}

	return s.root.ReadBytes(s.offset+off, p)
}

func (s Subregion) WriteBytes(off uint64, p []byte) error {
	if err := checkBounds(off, uint64(len(p)), s.length); err != nil || len(p) == 0 {
		return err
	}

	return s.root.WriteBytes(s.offset+off, p)
}

func (s Subregion) ReadU8(off uint64) (uint8, error) {
	if err := checkBounds(off, 1, s.length); err != nil {
		return 0, err
	}

	return s.root.ReadU8(s.offset + off)
}

func (s Subregion) ReadU16(off uint64) (uint16, error) {
	if err := checkBounds(off, 2, s.length); err != nil {
		return 0, err
	}

	return s.root.ReadU16(s.offset + off)
}

func (s Subregion) ReadU32(off uint64) (uint32, error) {
	if err := checkBounds(off, 4, s.length); err != nil {
		return 0, err
	}

	return s.root.ReadU32(s.offset + off)
}

func (s Subregion) WriteU8(off uint64, v uint8) error {
	if err := checkBounds(off, 1, s.length); err != nil {
		return err
	}

	return s.root.WriteU8(s.offset+off, v)
}

func (s Subregion) WriteU16(off uint64, v uint16) error {
	if err := checkBounds(off, 2, s.length); err != nil {
		return err
	}

	return s.root.WriteU16(s.offset+off, v)
}

func (s Subregion) WriteU32(off uint64, v uint32) error {
	if err := checkBounds(off, 4, s.length); err != nil {
		return err
	}

	return s.root.WriteU32(s.offset+off, v)
}
