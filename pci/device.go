//go:build linux

// Package pci drives PCI devices bound to the vfio-pci driver.
package pci

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/c35s/pcidrv/config"
	"github.com/c35s/pcidrv/iommu"
	"github.com/c35s/pcidrv/region"
	"github.com/c35s/pcidrv/vfio"
	"golang.org/x/sys/unix"
)

// Config describes how to open a device.
type Config struct {

	// Container is the container the device's group is attached to.
	// If Container is nil, Open creates a container holding only the
	// device's group. Open takes its own reference to the container.
	Container *iommu.Container

	// NoIOMMU opens the device's group in no-IOMMU mode when Open
	// creates the container.
	NoIOMMU bool
}

// Device is an open vfio-pci device. It is reference counted: every BAR or
// ROM view and every mapping holds a reference, and the device file is closed
// when the last one is dropped.
type Device struct {
	addr      string
	group     int
	container *iommu.Container
	file      *os.File
	info      vfio.DeviceInfo
	config    *region.File
	regions   [7]*vfio.RegionInfo // BAR0-5, ROM
	maxIRQs   [3]int
	refs      atomic.Int32
}

var (
	ErrConfig = errors.New("pci: invalid config")
	ErrDevice = errors.New("pci: open device failed")
	ErrGroup  = errors.New("pci: group unavailable")
	ErrRegion = errors.New("pci: bad region")
	ErrIRQ    = errors.New("pci: bad interrupt")
)

// Open opens the vfio-pci device at a sysfs path, like
// /sys/bus/pci/devices/0000:00:1f.2.
func Open(path string, cfg Config) (*Device, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	addr, err := Address(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDevice, err)
	}

	group, err := Group(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrGroup, addr, err)
	}

	c := cfg.Container
	if c == nil {
		c, err = iommu.Open(iommu.Config{
			Groups:  []int{group},
			NoIOMMU: cfg.NoIOMMU,
		})

		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrGroup, addr, err)
		}
	} else {
		c.Acquire()
	}

	d, err := open(c, addr, group)
	if err != nil {
		c.Close()
		return nil, err
	}

	slog.Debug("pci device opened", "addr", addr, "group", group, "regions", d.info.NumRegions, "irqs", d.info.NumIRQs)
	return d, nil
}

func (cfg Config) validate() error {
	if cfg.Container != nil && cfg.NoIOMMU != cfg.Container.NoIOMMU() {
		return errors.New("NoIOMMU does not match the container")
	}

	return nil
}

// open gets the device from its group in c and reads its regions and
// interrupts.
func open(c *iommu.Container, addr string, group int) (*Device, error) {
	g, ok := c.Group(group)
	if !ok {
		return nil, fmt.Errorf("%w: %s: group %d is not in the container", ErrGroup, addr, group)
	}

	fd, err := vfio.GetDeviceFD(g, addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDevice, addr, err)
	}

	d := Device{
		addr:      addr,
		group:     group,
		container: c,
		file:      os.NewFile(uintptr(fd), addr),
	}

	if err := d.load(); err != nil {
		d.file.Close()
		return nil, err
	}

	d.refs.Store(1)
	return &d, nil
}

func (d *Device) load() error {
	info, err := vfio.GetDeviceInfo(d.file)
	if err != nil {
		return fmt.Errorf("%w: %s: get info: %w", ErrDevice, d.addr, err)
	}

	if err := checkDeviceInfo(info); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDevice, d.addr, err)
	}

	d.info = info

	for i := range d.maxIRQs {
		irq, err := vfio.GetIRQInfo(d.file, uint32(i))
		if err != nil {
			return fmt.Errorf("%w: %s: get %v info: %w", ErrIRQ, d.addr, InterruptKind(i), err)
		}

		if irq.Flags&vfio.IRQInfoEventFD == 0 {
			return fmt.Errorf("%w: %s: %v does not support eventfds", ErrIRQ, d.addr, InterruptKind(i))
		}

		d.maxIRQs[i] = int(irq.Count)
	}

	cfg, err := vfio.GetRegionInfo(d.file, vfio.PCIConfigRegionIndex)
	if err != nil {
		return fmt.Errorf("%w: %s: get config info: %w", ErrRegion, d.addr, err)
	}

	if err := checkConfigInfo(cfg); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrRegion, d.addr, err)
	}

	d.config = region.NewFile(d.file, cfg.Offset, cfg.Size, region.ReadWrite)

	for i := range d.regions {
		info, err := vfio.GetRegionInfo(d.file, uint32(i))
		if err != nil {
			return fmt.Errorf("%w: %s: get %v info: %w", ErrRegion, d.addr, region.ID(i), err)
		}

		if info.Size == 0 {
			continue
		}

		if _, err := regionPermissions(info); err != nil {
			return fmt.Errorf("%w: %s: %v: %w", ErrRegion, d.addr, region.ID(i), err)
		}

		d.regions[i] = &info
	}

	return nil
}

func checkDeviceInfo(info vfio.DeviceInfo) error {
	if info.Flags&vfio.DeviceFlagsPCI == 0 {
		return errors.New("not a PCI device")
	}

	if info.NumRegions < vfio.PCIConfigRegionIndex+1 {
		return fmt.Errorf("device has %d regions, want at least %d", info.NumRegions, vfio.PCIConfigRegionIndex+1)
	}

	if info.NumIRQs < vfio.PCIMSIXIRQIndex+1 {
		return fmt.Errorf("device has %d interrupt types, want at least %d", info.NumIRQs, vfio.PCIMSIXIRQIndex+1)
	}

	return nil
}

func checkConfigInfo(info vfio.RegionInfo) error {
	if info.Size == 0 {
		return errors.New("config space is empty")
	}

	if p, _ := regionPermissions(info); p != region.ReadWrite {
		return errors.New("config space is not readable and writable")
	}

	return nil
}

func regionPermissions(info vfio.RegionInfo) (region.Permissions, error) {
	p, ok := region.NewPermissions(
		info.Flags&vfio.RegionInfoFlagRead != 0,
		info.Flags&vfio.RegionInfoFlagWrite != 0)

	if !ok {
		return 0, errors.New("region is neither readable nor writable")
	}

	return p, nil
}

// Acquire adds a reference to the device. Each Acquire must be matched by
// a Close.
func (d *Device) Acquire() *Device {
	d.refs.Add(1)
	return d
}

// Close drops a reference to the device. The last Close closes the device
// file and drops the device's reference to its container.
func (d *Device) Close() error {
	switch n := d.refs.Add(-1); {
	case n > 0:
		return nil
	case n < 0:
		d.refs.Store(0)
		return nil
	}

	err := errors.Join(d.file.Close(), d.container.Close())
	slog.Debug("pci device closed", "addr", d.addr)
	return err
}

// Address returns the device's address, like "0000:00:1f.2".
func (d *Device) Address() string {
	return d.addr
}

// Group returns the device's IOMMU group number.
func (d *Device) Group() int {
	return d.group
}

// Container returns the container the device's group is attached to.
func (d *Device) Container() *iommu.Container {
	return d.container
}

// Config returns the device's config space. It does not hold a reference to
// d, so it is usable only while d is open.
func (d *Device) Config() config.Config {
	return config.New(d.config)
}

// BAR returns BAR i, or false if the device does not implement it. The
// region holds a reference to d until it is closed.
func (d *Device) BAR(i int) (region.OwningRegion, bool) {
	if i < 0 || i > 5 {
		return region.OwningRegion{}, false
	}

	return d.owning(region.BAR(i))
}

// ROM returns the expansion ROM, or false if the device has none. The region
// holds a reference to d until it is closed.
func (d *Device) ROM() (region.OwningRegion, bool) {
	return d.owning(region.ROM)
}

func (d *Device) owning(id region.ID) (region.OwningRegion, bool) {
	if id < 0 || int(id) >= len(d.regions) || d.regions[id] == nil {
		return region.OwningRegion{}, false
	}

	info := d.regions[id]
	perms, _ := regionPermissions(*info)
	r := region.NewFile(d.file, info.Offset, info.Size, perms)

	d.Acquire()
	return region.NewOwning(d, r, id, info.Flags&vfio.RegionInfoFlagMmap != 0), true
}

// mappable reports whether region id exists and can be mapped.
func (d *Device) mappable(id region.ID) bool {
	if id < 0 || int(id) >= len(d.regions) || d.regions[id] == nil {
		return false
	}

	return d.regions[id].Flags&vfio.RegionInfoFlagMmap != 0
}

// CanReset reports whether the device supports Reset.
func (d *Device) CanReset() bool {
	return d.info.Flags&vfio.DeviceFlagsReset != 0
}

// Reset resets the device.
func (d *Device) Reset() error {
	if !d.CanReset() {
		return fmt.Errorf("pci: reset %s: %w", d.addr, errors.ErrUnsupported)
	}

	if err := vfio.Reset(d.file); err != nil {
		return fmt.Errorf("%w: reset %s: %w", region.ErrDeviceIO, d.addr, err)
	}

	return nil
}

// MapRegion implements region.Mapper. Each mapping holds a reference to d.
func (d *Device) MapRegion(id region.ID, off uint64, n int, perms region.Permissions) ([]byte, error) {
	if id < 0 || int(id) >= len(d.regions) || d.regions[id] == nil {
		return nil, fmt.Errorf("%w: %s: no region %v", ErrRegion, d.addr, id)
	}

	var prot int
	if perms.CanRead() {
		prot |= unix.PROT_READ
	}

	if perms.CanWrite() {
		prot |= unix.PROT_WRITE
	}

	b, err := unix.Mmap(int(d.file.Fd()), int64(d.regions[id].Offset+off), n, prot, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}

	d.Acquire()
	return b, nil
}

// UnmapRegion implements region.Mapper.
func (d *Device) UnmapRegion(id region.ID, b []byte) error {
	if err := unix.Munmap(b); err != nil {
		return err
	}

	return d.Close()
}

// Retain implements region.Mapper.
func (d *Device) Retain() {
	d.Acquire()
}

// Release implements region.Mapper.
func (d *Device) Release() error {
	return d.Close()
}

var _ region.Mapper = (*Device)(nil)
