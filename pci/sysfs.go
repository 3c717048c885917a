package pci

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/c35s/pcidrv/config"
	"github.com/c35s/pcidrv/region"
)

// SysfsDevices is where the kernel lists PCI devices.
const SysfsDevices = "/sys/bus/pci/devices"

// Devices returns the sysfs paths of the devices under root, sorted by
// address. If root is empty, it is SysfsDevices.
func Devices(root string) ([]string, error) {
	if root == "" {
		root = SysfsDevices
	}

	ents, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(ents))
	for _, e := range ents {
		paths = append(paths, filepath.Join(root, e.Name()))
	}

	slices.Sort(paths)
	return paths, nil
}

// Address returns the address of the device at a sysfs path, like
// "0000:00:1f.2".
func Address(path string) (string, error) {
	p, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", err
	}

	return filepath.Base(p), nil
}

// Group returns the number of the IOMMU group the device at a sysfs path
// belongs to.
func Group(path string) (int, error) {
	p, err := filepath.EvalSymlinks(filepath.Join(path, "iommu_group"))
	if err != nil {
		return 0, err
	}

	n, err := strconv.Atoi(filepath.Base(p))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("bad IOMMU group %q", filepath.Base(p))
	}

	return n, nil
}

// Driver returns the name of the driver bound to the device at a sysfs path,
// or "" if there is none.
func Driver(path string) (string, error) {
	p, err := filepath.EvalSymlinks(filepath.Join(path, "driver"))
	if os.IsNotExist(err) {
		return "", nil
	}

	if err != nil {
		return "", err
	}

	return filepath.Base(p), nil
}

// SysfsConfig is a device's config space read through its sysfs config file.
type SysfsConfig struct {
	config.Config
	f *os.File
}

// OpenSysfsConfig opens the config space of the device at a sysfs path.
// The region covers only what can be read: unprivileged readers usually see
// just the first 64 bytes.
func OpenSysfsConfig(path string, writable bool) (*SysfsConfig, error) {
	flag, perms := os.O_RDONLY, region.Read
	if writable {
		flag, perms = os.O_RDWR, region.ReadWrite
	}

	f, err := os.OpenFile(filepath.Join(path, "config"), flag, 0)
	if err != nil {
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	n, err := readable(f, fi.Size())
	if err != nil {
		f.Close()
		return nil, err
	}

	r := region.NewFile(f, 0, uint64(n), perms)
	c := SysfsConfig{
		Config: config.New(r),
		f:      f,
	}

	return &c, nil
}

func (c *SysfsConfig) Close() error {
	return c.f.Close()
}

// readable returns how many of the first n bytes of r can be read.
func readable(r io.ReaderAt, n int64) (int64, error) {
	buf := make([]byte, n)
	m, err := r.ReadAt(buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, err
	}

	return int64(m), nil
}
