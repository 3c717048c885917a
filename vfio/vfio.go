//go:build linux

// Package vfio provides thin wrappers around the Linux VFIO ioctls.
// The structs have the same layout as their C counterparts in linux/vfio.h.
package vfio

import (
	"encoding/binary"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ContainerPath is the path of the VFIO container device.
const ContainerPath = "/dev/vfio/vfio"

// APIVersion is the only VFIO API version.
const APIVersion = 0

// VFIO ioctl request numbers: _IO(VFIO_TYPE, VFIO_BASE + n).
const (
	kGetAPIVersion       = 0x3b64
	kCheckExtension      = 0x3b65
	kSetIOMMU            = 0x3b66
	kGroupGetStatus      = 0x3b67
	kGroupSetContainer   = 0x3b68
	kGroupUnsetContainer = 0x3b69
	kGroupGetDeviceFD    = 0x3b6a
	kDeviceGetInfo       = 0x3b6b
	kDeviceGetRegionInfo = 0x3b6c
	kDeviceGetIRQInfo    = 0x3b6d
	kDeviceSetIRQs       = 0x3b6e
	kDeviceReset         = 0x3b6f
	kIOMMUGetInfo        = 0x3b70
	kIOMMUMapDMA         = 0x3b71
	kIOMMUUnmapDMA       = 0x3b72
)

// Extension is a VFIO extension, usually an IOMMU model.
type Extension int

const (
	Type1IOMMU        Extension = 1
	SPAPRTCEIOMMU     Extension = 2
	Type1v2IOMMU      Extension = 3
	DMACCIOMMU        Extension = 4
	EEH               Extension = 5
	Type1NestingIOMMU Extension = 6
	SPAPRTCEv2IOMMU   Extension = 7
	NoIOMMU           Extension = 8
)

func (e Extension) String() string {
	switch e {
	case Type1IOMMU:
		return "VFIO_TYPE1_IOMMU"
	case SPAPRTCEIOMMU:
		return "VFIO_SPAPR_TCE_IOMMU"
	case Type1v2IOMMU:
		return "VFIO_TYPE1v2_IOMMU"
	case DMACCIOMMU:
		return "VFIO_DMA_CC_IOMMU"
	case EEH:
		return "VFIO_EEH"
	case Type1NestingIOMMU:
		return "VFIO_TYPE1_NESTING_IOMMU"
	case SPAPRTCEv2IOMMU:
		return "VFIO_SPAPR_TCE_v2_IOMMU"
	case NoIOMMU:
		return "VFIO_NOIOMMU_IOMMU"
	}

	return fmt.Sprintf("Extension(%d)", int(e))
}

// AllExtensions returns every known extension.
func AllExtensions() []Extension {
	return []Extension{
		Type1IOMMU,
		SPAPRTCEIOMMU,
		Type1v2IOMMU,
		DMACCIOMMU,
		EEH,
		Type1NestingIOMMU,
		SPAPRTCEv2IOMMU,
		NoIOMMU,
	}
}

// Group status flags.
const (
	GroupFlagsViable       = 1 << 0
	GroupFlagsContainerSet = 1 << 1
)

// GroupStatus has the same layout as the C struct vfio_group_status.
type GroupStatus struct {
	Argsz uint32
	Flags uint32
}

// Device info flags.
const (
	DeviceFlagsReset = 1 << 0
	DeviceFlagsPCI   = 1 << 1
)

// DeviceInfo has the same layout as the C struct vfio_device_info.
type DeviceInfo struct {
	Argsz      uint32
	Flags      uint32
	NumRegions uint32
	NumIRQs    uint32
	CapOffset  uint32
	_          uint32
}

// PCI region indices.
const (
	PCIBAR0RegionIndex   = 0
	PCIBAR5RegionIndex   = 5
	PCIROMRegionIndex    = 6
	PCIConfigRegionIndex = 7
	PCIVGARegionIndex    = 8
)

// Region info flags.
const (
	RegionInfoFlagRead  = 1 << 0
	RegionInfoFlagWrite = 1 << 1
	RegionInfoFlagMmap  = 1 << 2
	RegionInfoFlagCaps  = 1 << 3
)

// RegionInfo has the same layout as the C struct vfio_region_info.
type RegionInfo struct {
	Argsz     uint32
	Flags     uint32
	Index     uint32
	CapOffset uint32
	Size      uint64
	Offset    uint64
}

// PCI interrupt indices.
const (
	PCIINTxIRQIndex = 0
	PCIMSIIRQIndex  = 1
	PCIMSIXIRQIndex = 2
	PCIErrIRQIndex  = 3
	PCIReqIRQIndex  = 4
)

// IRQ info flags.
const (
	IRQInfoEventFD    = 1 << 0
	IRQInfoMaskable   = 1 << 1
	IRQInfoAutomasked = 1 << 2
	IRQInfoNoResize   = 1 << 3
)

// IRQInfo has the same layout as the C struct vfio_irq_info.
type IRQInfo struct {
	Argsz uint32
	Flags uint32
	Index uint32
	Count uint32
}

// IRQ set flags.
const (
	IRQSetDataNone      = 1 << 0
	IRQSetDataBool      = 1 << 1
	IRQSetDataEventFD   = 1 << 2
	IRQSetActionMask    = 1 << 3
	IRQSetActionUnmask  = 1 << 4
	IRQSetActionTrigger = 1 << 5
)

// irqSetHeader has the same layout as the C struct vfio_irq_set without its
// flexible data member.
type irqSetHeader struct {
	Argsz uint32
	Flags uint32
	Index uint32
	Start uint32
	Count uint32
}

// IOMMU info flags.
const (
	IOMMUInfoPgsizes = 1 << 0
	IOMMUInfoCaps    = 1 << 1
)

// IOMMU info capability IDs.
const (
	IOMMUTypeInfoCapIOVARange = 1
	IOMMUTypeInfoCapMigration = 2
	IOMMUTypeInfoCapDMAAvail  = 3
)

// IOMMUType1Info has the same layout as the C struct vfio_iommu_type1_info.
type IOMMUType1Info struct {
	Argsz       uint32
	Flags       uint32
	IOVAPgsizes uint64
	CapOffset   uint32
	_           uint32
}

// InfoCapHeader has the same layout as the C struct vfio_info_cap_header.
type InfoCapHeader struct {
	ID      uint16
	Version uint16
	Next    uint32
}

// IOVARange has the same layout as the C struct vfio_iova_range. End is
// inclusive.
type IOVARange struct {
	Start uint64
	End   uint64
}

// DMA map flags.
const (
	DMAMapFlagRead  = 1 << 0
	DMAMapFlagWrite = 1 << 1
)

// DMAMap has the same layout as the C struct vfio_iommu_type1_dma_map.
type DMAMap struct {
	Argsz uint32
	Flags uint32
	Vaddr uint64
	IOVA  uint64
	Size  uint64
}

// DMAUnmap has the same layout as the C struct vfio_iommu_type1_dma_unmap.
type DMAUnmap struct {
	Argsz uint32
	Flags uint32
	IOVA  uint64
	Size  uint64
}

// OpenContainer opens a new VFIO container.
func OpenContainer() (*os.File, error) {
	return os.OpenFile(ContainerPath, os.O_RDWR|unix.O_CLOEXEC, 0)
}

// GroupPath returns the path of the character device for IOMMU group n.
// Groups of devices bound without IOMMU protection have a distinct name.
func GroupPath(n int, noIOMMU bool) string {
	if noIOMMU {
		return fmt.Sprintf("/dev/vfio/noiommu-%d", n)
	}

	return fmt.Sprintf("/dev/vfio/%d", n)
}

// OpenGroup opens IOMMU group n.
func OpenGroup(n int, noIOMMU bool) (*os.File, error) {
	return os.OpenFile(GroupPath(n, noIOMMU), os.O_RDWR|unix.O_CLOEXEC, 0)
}

// GetAPIVersion returns the VFIO API version. It should always be APIVersion.
func GetAPIVersion(container interface{ Fd() uintptr }) (int, error) {
	v, _, errno := unix.Syscall(unix.SYS_IOCTL, container.Fd(), kGetAPIVersion, 0)
	if errno != 0 {
		return 0, errno
	}

	return int(v), nil
}

// CheckExtension reports whether the container supports an extension.
func CheckExtension(container interface{ Fd() uintptr }, ext Extension) (bool, error) {
	v, _, errno := unix.Syscall(unix.SYS_IOCTL, container.Fd(), kCheckExtension, uintptr(ext))
	if errno != 0 {
		return false, errno
	}

	return v > 0, nil
}

// SetIOMMU sets the container's IOMMU model. At least one group must be
// attached to the container first.
func SetIOMMU(container interface{ Fd() uintptr }, ext Extension) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, container.Fd(), kSetIOMMU, uintptr(ext))
	if errno != 0 {
		return errno
	}

	return nil
}

// GetGroupStatus returns the group's status flags.
func GetGroupStatus(group interface{ Fd() uintptr }) (uint32, error) {
	s := GroupStatus{Argsz: uint32(unsafe.Sizeof(GroupStatus{}))}

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, group.Fd(), kGroupGetStatus, uintptr(unsafe.Pointer(&s)))
	if errno != 0 {
		return 0, errno
	}

	return s.Flags, nil
}

// SetContainer attaches a group to a container.
func SetContainer(group, container interface{ Fd() uintptr }) error {
	fd := int32(container.Fd())

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, group.Fd(), kGroupSetContainer, uintptr(unsafe.Pointer(&fd)))
	if errno != 0 {
		return errno
	}

	return nil
}

// UnsetContainer detaches a group from its container.
func UnsetContainer(group interface{ Fd() uintptr }) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, group.Fd(), kGroupUnsetContainer, 0)
	if errno != 0 {
		return errno
	}

	return nil
}

// GetDeviceFD returns a new file descriptor for the named device in a group.
// PCI devices are named by their address, like "0000:00:1f.2".
func GetDeviceFD(group interface{ Fd() uintptr }, name string) (int, error) {
	p, err := unix.BytePtrFromString(name)
	if err != nil {
		return -1, err
	}

	fd, _, errno := unix.Syscall(unix.SYS_IOCTL, group.Fd(), kGroupGetDeviceFD, uintptr(unsafe.Pointer(p)))
	if errno != 0 {
		return -1, errno
	}

	return int(fd), nil
}

// GetDeviceInfo returns information about a device.
func GetDeviceInfo(device interface{ Fd() uintptr }) (DeviceInfo, error) {
	info := DeviceInfo{Argsz: uint32(unsafe.Sizeof(DeviceInfo{}))}

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, device.Fd(), kDeviceGetInfo, uintptr(unsafe.Pointer(&info)))
	if errno != 0 {
		return DeviceInfo{}, errno
	}

	return info, nil
}

// GetRegionInfo returns information about one of a device's regions.
func GetRegionInfo(device interface{ Fd() uintptr }, index uint32) (RegionInfo, error) {
	info := RegionInfo{
		Argsz: uint32(unsafe.Sizeof(RegionInfo{})),
		Index: index,
	}

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, device.Fd(), kDeviceGetRegionInfo, uintptr(unsafe.Pointer(&info)))
	if errno != 0 {
		return RegionInfo{}, errno
	}

	return info, nil
}

// GetIRQInfo returns information about one of a device's interrupt types.
func GetIRQInfo(device interface{ Fd() uintptr }, index uint32) (IRQInfo, error) {
	info := IRQInfo{
		Argsz: uint32(unsafe.Sizeof(IRQInfo{})),
		Index: index,
	}

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, device.Fd(), kDeviceGetIRQInfo, uintptr(unsafe.Pointer(&info)))
	if errno != 0 {
		return IRQInfo{}, errno
	}

	return info, nil
}

// SetIRQs configures interrupt vectors [start, start+count) of an interrupt
// type. With IRQSetDataEventFD, data holds one eventfd per vector (-1 to
// deassign); with IRQSetDataNone, data is empty and count may be 0 to act on
// every vector.
func SetIRQs(device interface{ Fd() uintptr }, flags, index, start, count uint32, data []int32) error {
	hdr := irqSetHeader{
		Flags: flags,
		Index: index,
		Start: start,
		Count: count,
	}

	n := int(unsafe.Sizeof(hdr)) + 4*len(data)
	hdr.Argsz = uint32(n)

	ne := binary.NativeEndian
	buf := make([]byte, 0, n)
	for _, v := range []uint32{hdr.Argsz, hdr.Flags, hdr.Index, hdr.Start, hdr.Count} {
		buf = ne.AppendUint32(buf, v)
	}

	for _, fd := range data {
		buf = ne.AppendUint32(buf, uint32(fd))
	}

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, device.Fd(), kDeviceSetIRQs, uintptr(unsafe.Pointer(&buf[0])))
	if errno != 0 {
		return errno
	}

	return nil
}

// Reset resets a device. It fails unless the device info has DeviceFlagsReset.
func Reset(device interface{ Fd() uintptr }) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, device.Fd(), kDeviceReset, 0)
	if errno != 0 {
		return errno
	}

	return nil
}

// GetIOMMUInfo fills buf with a vfio_iommu_type1_info and its capability
// chain. The argsz field at the start of buf is set to len(buf); if the kernel
// needs more room, it returns the size it needs in the argsz field.
func GetIOMMUInfo(container interface{ Fd() uintptr }, buf []byte) error {
	if len(buf) < int(unsafe.Sizeof(IOMMUType1Info{})) {
		return unix.EINVAL
	}

	binary.NativeEndian.PutUint32(buf, uint32(len(buf)))

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, container.Fd(), kIOMMUGetInfo, uintptr(unsafe.Pointer(&buf[0])))
	if errno != 0 {
		return errno
	}

	return nil
}

// MapDMA maps [m.Vaddr, m.Vaddr+m.Size) of the process's memory at m.IOVA in
// the container's IOMMU.
func MapDMA(container interface{ Fd() uintptr }, m *DMAMap) error {
	m.Argsz = uint32(unsafe.Sizeof(*m))

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, container.Fd(), kIOMMUMapDMA, uintptr(unsafe.Pointer(m)))
	if errno != 0 {
		return errno
	}

	return nil
}

// UnmapDMA unmaps [u.IOVA, u.IOVA+u.Size). On return, u.Size holds the number
// of bytes actually unmapped.
func UnmapDMA(container interface{ Fd() uintptr }, u *DMAUnmap) error {
	u.Argsz = uint32(unsafe.Sizeof(*u))

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, container.Fd(), kIOMMUUnmapDMA, uintptr(unsafe.Pointer(u)))
	if errno != 0 {
		return errno
	}

	return nil
}
