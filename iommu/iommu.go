//go:build linux

// Package iommu manages VFIO containers: the IOMMU context shared by a set of
// device groups, and the DMA mappings made in it.
package iommu

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"unsafe"

	"github.com/c35s/pcidrv/region"
	"github.com/c35s/pcidrv/vfio"
)

// Config describes a new container.
type Config struct {

	// Groups are the IOMMU group numbers to attach to the container.
	// Duplicates are ignored.
	Groups []int

	// NoIOMMU selects the unsafe no-IOMMU mode. The groups must be
	// noiommu groups, and DMA mapping is not available.
	NoIOMMU bool

	// Backend issues the VFIO requests.
	// If Backend is nil, the container uses the host's VFIO driver.
	Backend Backend
}

// Container is an open VFIO container with its groups attached.
// A Container is shared by reference counting: see Acquire and Close.
type Container struct {
	b       Backend
	fd      Handle
	nums    []int
	groups  map[int]Handle
	noIOMMU bool
	geo     geometry
	refs    atomic.Int32
}

var (
	ErrConfig         = errors.New("iommu: invalid config")
	ErrOpenGroup      = errors.New("iommu: open group failed")
	ErrGroupNotViable = errors.New("iommu: group is not viable")
	ErrOpenContainer  = errors.New("iommu: open container failed")
	ErrCompat         = errors.New("iommu: incompatible VFIO")
	ErrSetContainer   = errors.New("iommu: set container failed")
	ErrSetIOMMU       = errors.New("iommu: set IOMMU failed")
	ErrGeometry       = errors.New("iommu: get IOMMU info failed")
	ErrMapDMA         = errors.New("iommu: map DMA failed")
	ErrUnmapDMA       = errors.New("iommu: unmap DMA failed")
)

// Open opens a container and attaches the configured groups to it.
// Every group must be viable; a group that is not fails Open before the
// container device is opened.
func Open(cfg Config) (*Container, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	c := Container{
		b:       cfg.Backend,
		nums:    cfg.Groups,
		groups:  make(map[int]Handle, len(cfg.Groups)),
		noIOMMU: cfg.NoIOMMU,
	}

	ok := false
	defer func() {
		if !ok {
			c.release()
		}
	}()

	for _, n := range c.nums {
		g, err := c.b.OpenGroup(n, c.noIOMMU)
		if err != nil {
			return nil, fmt.Errorf("%w: group %d: %w", ErrOpenGroup, n, err)
		}

		c.groups[n] = g

		flags, err := c.b.GetGroupStatus(g)
		if err != nil {
			return nil, fmt.Errorf("%w: group %d: %w", ErrOpenGroup, n, err)
		}

		if flags&vfio.GroupFlagsViable == 0 {
			return nil, fmt.Errorf("%w: group %d", ErrGroupNotViable, n)
		}
	}

	fd, err := c.b.OpenContainer()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpenContainer, err)
	}

	c.fd = fd

	ext := vfio.Type1v2IOMMU
	if c.noIOMMU {
		ext = vfio.NoIOMMU
	}

	if err := testCompat(c.b, fd, ext); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCompat, err)
	}

	attached := make(map[int]bool, len(c.nums))
	for _, n := range c.nums {
		if err := c.b.SetContainer(c.groups[n], fd); err != nil {
			c.detach(attached)
			return nil, fmt.Errorf("%w: group %d: %w", ErrSetContainer, n, err)
		}

		attached[n] = true
	}

	if err := c.b.SetIOMMU(fd, ext); err != nil {
		c.detach(attached)
		return nil, fmt.Errorf("%w: %v: %w", ErrSetIOMMU, ext, err)
	}

	if !c.noIOMMU {
		geo, err := queryGeometry(c.b, fd)
		if err != nil {
			c.detach(attached)
			return nil, fmt.Errorf("%w: %w", ErrGeometry, err)
		}

		c.geo = geo
	}

	c.refs.Store(1)
	ok = true

	slog.Debug("iommu container opened",
		"groups", c.nums,
		"model", ext,
		"alignment", c.geo.alignment,
		"ranges", len(c.geo.ranges))

	return &c, nil
}

func (cfg Config) withDefaults() Config {
	if cfg.Backend == nil {
		cfg.Backend = VFIO{}
	}

	gs := slices.Clone(cfg.Groups)
	slices.Sort(gs)
	cfg.Groups = slices.Compact(gs)

	return cfg
}

func (cfg Config) validate() error {
	if len(cfg.Groups) == 0 {
		return errors.New("no groups")
	}

	if cfg.Groups[0] < 0 {
		return fmt.Errorf("group %d is negative", cfg.Groups[0])
	}

	return nil
}

func testCompat(b Backend, fd Handle, ext vfio.Extension) error {
	v, err := b.GetAPIVersion(fd)
	if err != nil {
		return fmt.Errorf("get API version: %w", err)
	}

	if v != vfio.APIVersion {
		return fmt.Errorf("API version is %d, want %d", v, vfio.APIVersion)
	}

	ok, err := b.CheckExtension(fd, ext)
	if err != nil {
		return fmt.Errorf("check extension %v: %w", ext, err)
	}

	if !ok {
		return fmt.Errorf("%v is not supported", ext)
	}

	return nil
}

// Acquire adds a reference to the container. Each Acquire must be matched
// by a Close.
func (c *Container) Acquire() *Container {
	c.refs.Add(1)
	return c
}

// Groups returns the attached group numbers in ascending order.
func (c *Container) Groups() []int {
	return slices.Clone(c.nums)
}

// Group returns the handle of an attached group.
func (c *Container) Group(n int) (Handle, bool) {
	g, ok := c.groups[n]
	return g, ok
}

// NoIOMMU reports whether the container runs without IOMMU protection.
func (c *Container) NoIOMMU() bool {
	return c.noIOMMU
}

// Alignment returns the alignment required of every IOVA, size, and host
// address passed to Map. It is 0 for a no-IOMMU container.
func (c *Container) Alignment() uint64 {
	return c.geo.alignment
}

// ValidIOVARanges returns the sorted, disjoint IOVA ranges that Map accepts.
// IOVA 0 is never valid.
func (c *Container) ValidIOVARanges() []Range {
	return slices.Clone(c.geo.ranges)
}

// MaxMappings returns the number of DMA mappings the container can hold.
func (c *Container) MaxMappings() (uint32, error) {
	if !c.geo.hasMaxMappings {
		return 0, fmt.Errorf("iommu: DMA mapping limit: %w", errors.ErrUnsupported)
	}

	return c.geo.maxMappings, nil
}

// Map maps size bytes of process memory at host to [iova, iova+size) in the
// device address space. The caller keeps the host memory alive and unmoved
// until it calls Unmap, and chooses iova and size to suit Alignment and
// ValidIOVARanges.
func (c *Container) Map(iova, size uint64, host uintptr, perms region.Permissions) error {
	if c.noIOMMU {
		return fmt.Errorf("%w: no-IOMMU container: %w", ErrMapDMA, errors.ErrUnsupported)
	}

	if perms == 0 || !region.ReadWrite.Contains(perms) {
		return fmt.Errorf("%w: %w: permissions %#x", ErrMapDMA, region.ErrInvalidInput, uint8(perms))
	}

	var flags uint32
	if perms.CanRead() {
		flags |= vfio.DMAMapFlagRead
	}

	if perms.CanWrite() {
		flags |= vfio.DMAMapFlagWrite
	}

	m := vfio.DMAMap{
		Flags: flags,
		Vaddr: uint64(host),
		IOVA:  iova,
		Size:  size,
	}

	if err := c.b.MapDMA(c.fd, &m); err != nil {
		return fmt.Errorf("%w: %w: host [%#x, %#x) -> device [%#x, %#x): %w",
			ErrMapDMA, region.ErrDeviceIO, uint64(host), uint64(host)+size, iova, iova+size, err)
	}

	return nil
}

// MapBytes maps b at iova. See Map.
func (c *Container) MapBytes(iova uint64, b []byte, perms region.Permissions) error {
	if len(b) == 0 {
		return fmt.Errorf("%w: %w: empty mapping", ErrMapDMA, region.ErrInvalidInput)
	}

	return c.Map(iova, uint64(len(b)), uintptr(unsafe.Pointer(unsafe.SliceData(b))), perms)
}

// Unmap removes the mappings covering [iova, iova+size). The range must cover
// exactly one or more whole mappings.
func (c *Container) Unmap(iova, size uint64) error {
	if c.noIOMMU {
		return fmt.Errorf("%w: no-IOMMU container: %w", ErrUnmapDMA, errors.ErrUnsupported)
	}

	u := vfio.DMAUnmap{
		IOVA: iova,
		Size: size,
	}

	if err := c.b.UnmapDMA(c.fd, &u); err != nil {
		return fmt.Errorf("%w: %w: device [%#x, %#x): %w", ErrUnmapDMA, region.ErrDeviceIO, iova, iova+size, err)
	}

	if u.Size != size {
		return fmt.Errorf("%w: device [%#x, %#x): unmapped %#x bytes", ErrUnmapDMA, iova, iova+size, u.Size)
	}

	return nil
}

// Reset is not supported by VFIO containers; reset devices individually.
func (c *Container) Reset() error {
	return fmt.Errorf("iommu: reset container: %w", errors.ErrUnsupported)
}

// Close drops a reference to the container. The last Close detaches the
// groups and closes every file.
func (c *Container) Close() error {
	switch n := c.refs.Add(-1); {
	case n > 0:
		return nil
	case n < 0:
		c.refs.Store(0)
		return nil
	}

	all := make(map[int]bool, len(c.nums))
	for _, n := range c.nums {
		all[n] = true
	}

	c.detach(all)
	err := c.release()

	slog.Debug("iommu container closed", "groups", c.nums)
	return err
}

// detach removes the given groups from the container.
func (c *Container) detach(groups map[int]bool) {
	for _, n := range c.nums {
		if !groups[n] {
			continue
		}

		if err := c.b.UnsetContainer(c.groups[n]); err != nil {
			slog.Warn("iommu unset container failed", "group", n, "error", err)
		}
	}
}

// release closes every open file.
func (c *Container) release() error {
	var errs []error
	for _, n := range c.nums {
		if g, ok := c.groups[n]; ok {
			errs = append(errs, g.Close())
			delete(c.groups, n)
		}
	}

	if c.fd != nil {
		errs = append(errs, c.fd.Close())
		c.fd = nil
	}

	return errors.Join(errs...)
}
