//go:build linux

package iommu

import (
	"os"

	"github.com/c35s/pcidrv/vfio"
)

// Handle is an open group or container file.
type Handle interface {
	Fd() uintptr
	Close() error
}

// Backend issues the VFIO requests a Container needs.
type Backend interface {
	OpenGroup(n int, noIOMMU bool) (Handle, error)
	OpenContainer() (Handle, error)

	GetGroupStatus(group Handle) (uint32, error)
	SetContainer(group, container Handle) error
	UnsetContainer(group Handle) error

	GetAPIVersion(container Handle) (int, error)
	CheckExtension(container Handle, ext vfio.Extension) (bool, error)
	SetIOMMU(container Handle, ext vfio.Extension) error
	GetIOMMUInfo(container Handle, buf []byte) error
	MapDMA(container Handle, m *vfio.DMAMap) error
	UnmapDMA(container Handle, u *vfio.DMAUnmap) error
}

// VFIO is the Backend for the host's VFIO driver.
type VFIO struct{}

func (VFIO) OpenGroup(n int, noIOMMU bool) (Handle, error) {
	f, err := vfio.OpenGroup(n, noIOMMU)
	if err != nil {
		return nil, err
	}

	return f, nil
}

func (VFIO) OpenContainer() (Handle, error) {
	f, err := vfio.OpenContainer()
	if err != nil {
		return nil, err
	}

	return f, nil
}

func (VFIO) GetGroupStatus(group Handle) (uint32, error) {
	return vfio.GetGroupStatus(group)
}

func (VFIO) SetContainer(group, container Handle) error {
	return vfio.SetContainer(group, container)
}

func (VFIO) UnsetContainer(group Handle) error {
	return vfio.UnsetContainer(group)
}

func (VFIO) GetAPIVersion(container Handle) (int, error) {
	return vfio.GetAPIVersion(container)
}

func (VFIO) CheckExtension(container Handle, ext vfio.Extension) (bool, error) {
	return vfio.CheckExtension(container, ext)
}

func (VFIO) SetIOMMU(container Handle, ext vfio.Extension) error {
	return vfio.SetIOMMU(container, ext)
}

func (VFIO) GetIOMMUInfo(container Handle, buf []byte) error {
	return vfio.GetIOMMUInfo(container, buf)
}

func (VFIO) MapDMA(container Handle, m *vfio.DMAMap) error {
	return vfio.MapDMA(container, m)
}

func (VFIO) UnmapDMA(container Handle, u *vfio.DMAUnmap) error {
	return vfio.UnmapDMA(container, u)
}

var _ Handle = (*os.File)(nil)
