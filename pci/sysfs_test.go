package pci_test

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/c35s/pcidrv/config"
	"github.com/c35s/pcidrv/pci"
	"github.com/c35s/pcidrv/region"
	"github.com/google/go-cmp/cmp"
)

// fakeSysfs lays out a minimal copy of /sys with two devices and returns the
// path of its bus/pci/devices directory.
func fakeSysfs(t *testing.T) string {
	root := t.TempDir()

	dirs := []string{
		"bus/pci/devices",
		"devices/pci0000:00/0000:00:02.0",
		"devices/pci0000:00/0000:00:1f.2",
		"kernel/iommu_groups/12",
		"kernel/iommu_groups/3",
		"bus/pci/drivers/vfio-pci",
	}

	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	links := [][2]string{
		{"../../../devices/pci0000:00/0000:00:1f.2", "bus/pci/devices/0000:00:1f.2"},
		{"../../../devices/pci0000:00/0000:00:02.0", "bus/pci/devices/0000:00:02.0"},
		{"../../../kernel/iommu_groups/12", "devices/pci0000:00/0000:00:02.0/iommu_group"},
		{"../../../kernel/iommu_groups/3", "devices/pci0000:00/0000:00:1f.2/iommu_group"},
		{"../../../bus/pci/drivers/vfio-pci", "devices/pci0000:00/0000:00:02.0/driver"},
	}

	for _, l := range links {
		if err := os.Symlink(l[0], filepath.Join(root, l[1])); err != nil {
			t.Fatal(err)
		}
	}

	// 0000:00:02.0 has a power management capability and nothing else
	cfg := make([]byte, 0x100)
	binary.LittleEndian.PutUint16(cfg[0x00:], 0x8086)
	binary.LittleEndian.PutUint16(cfg[0x02:], 0x1533)
	binary.LittleEndian.PutUint16(cfg[0x06:], 1<<4)
	cfg[0x34] = 0x40
	cfg[0x40] = config.CapPowerManagement

	p := filepath.Join(root, "devices/pci0000:00/0000:00:02.0/config")
	if err := os.WriteFile(p, cfg, 0o644); err != nil {
		t.Fatal(err)
	}

	return filepath.Join(root, "bus/pci/devices")
}

func TestDevices(t *testing.T) {
	root := fakeSysfs(t)

	paths, err := pci.Devices(root)
	if err != nil {
		t.Fatal(err)
	}

	want := []string{
		filepath.Join(root, "0000:00:02.0"),
		filepath.Join(root, "0000:00:1f.2"),
	}

	if diff := cmp.Diff(want, paths); diff != "" {
		t.Fatal(diff)
	}

	if _, err := pci.Devices(filepath.Join(root, "missing")); err == nil {
		t.Fatal("listed a missing directory")
	}
}

func TestSysfsLinks(t *testing.T) {
	root := fakeSysfs(t)

	devices := []struct {
		name   string
		group  int
		driver string
	}{
		{"0000:00:02.0", 12, "vfio-pci"},
		{"0000:00:1f.2", 3, ""},
	}

	for _, d := range devices {
		t.Run(d.name, func(t *testing.T) {
			path := filepath.Join(root, d.name)

			addr, err := pci.Address(path)
			if err != nil {
				t.Fatal(err)
			}

			if addr != d.name {
				t.Errorf("%q != %q", addr, d.name)
			}

			group, err := pci.Group(path)
			if err != nil {
				t.Fatal(err)
			}

			if group != d.group {
				t.Errorf("%d != %d", group, d.group)
			}

			driver, err := pci.Driver(path)
			if err != nil {
				t.Fatal(err)
			}

			if driver != d.driver {
				t.Errorf("%q != %q", driver, d.driver)
			}
		})
	}

	t.Run("bad group", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.Mkdir(filepath.Join(dir, "noiommu"), 0o755); err != nil {
			t.Fatal(err)
		}

		if err := os.Symlink("noiommu", filepath.Join(dir, "iommu_group")); err != nil {
			t.Fatal(err)
		}

		if _, err := pci.Group(dir); err == nil {
			t.Fatal("parsed a bad group")
		}
	})

	t.Run("no group", func(t *testing.T) {
		if _, err := pci.Group(t.TempDir()); err == nil {
			t.Fatal("found a missing group")
		}
	})
}

func TestOpenSysfsConfig(t *testing.T) {
	root := fakeSysfs(t)

	c, err := pci.OpenSysfsConfig(filepath.Join(root, "0000:00:02.0"), false)
	if err != nil {
		t.Fatal(err)
	}

	defer c.Close()

	if n := c.Region().Len(); n != 0x100 {
		t.Fatalf("%#x != %#x", n, 0x100)
	}

	vid, err := c.VendorID().Read()
	if err != nil {
		t.Fatal(err)
	}

	if vid != 0x8086 {
		t.Errorf("%#04x != %#04x", vid, 0x8086)
	}

	caps, err := c.Capabilities()
	if err != nil {
		t.Fatal(err)
	}

	if len(caps) != 1 || caps[0].ID != config.CapPowerManagement || caps[0].Offset != 0x40 {
		t.Fatalf("caps are %v", caps)
	}

	if err := c.InterruptLine().Write(3); err == nil {
		t.Fatal("wrote a read-only config")
	}

	if _, err := pci.OpenSysfsConfig(filepath.Join(root, "0000:00:1f.2"), false); err == nil {
		t.Fatal("opened a missing config")
	}

	header := filepath.Join(root, "0000:00:1f.2", "config")
	if err := os.WriteFile(header, make([]byte, 0x40), 0o644); err != nil {
		t.Fatal(err)
	}

	short, err := pci.OpenSysfsConfig(filepath.Join(root, "0000:00:1f.2"), false)
	if err != nil {
		t.Fatal(err)
	}

	defer short.Close()

	if n := short.Region().Len(); n != 0x40 {
		t.Fatalf("%#x != %#x", n, 0x40)
	}

	if _, err := short.Capabilities(); !errors.Is(err, region.ErrInvalidInput) {
		t.Fatalf("capabilities of a header-only config: %v", err)
	}
}
