package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/c35s/pcidrv/config"
	"github.com/c35s/pcidrv/region"
)

func TestHeader(t *testing.T) {
	s := newSpace(0x100)
	s.u16(0x00, 0x8086)
	s.u16(0x02, 0x1533)
	s.u8(0x09, 0x01)
	s.u8(0x0a, 0x06)
	s.u8(0x0b, 0x01)
	s.u8(0x0e, 0x80)

	c := s.config()

	t.Run("ids", func(t *testing.T) {
		vendor, err := c.VendorID().Read()
		if err != nil {
			t.Fatal(err)
		}

		device, err := c.DeviceID().Read()
		if err != nil {
			t.Fatal(err)
		}

		if vendor != 0x8086 || device != 0x1533 {
			t.Fatalf("%04x:%04x != 8086:1533", vendor, device)
		}
	})

	t.Run("class code", func(t *testing.T) {
		cc := c.ClassCode()

		base, err := cc.BaseClass().Read()
		if err != nil {
			t.Fatal(err)
		}

		sub, err := cc.SubClass().Read()
		if err != nil {
			t.Fatal(err)
		}

		progIf, err := cc.ProgrammingInterface().Read()
		if err != nil {
			t.Fatal(err)
		}

		if base != 0x01 || sub != 0x06 || progIf != 0x01 {
			t.Fatalf("class %02x%02x%02x != 010601", base, sub, progIf)
		}
	})

	t.Run("header type", func(t *testing.T) {
		mf, err := c.HeaderType().MultiFunction().Get()
		if err != nil {
			t.Fatal(err)
		}

		layout, err := c.HeaderType().Layout().Get()
		if err != nil {
			t.Fatal(err)
		}

		if !mf || layout != 0 {
			t.Fatalf("multi-function %v, layout %d", mf, layout)
		}
	})

	t.Run("command", func(t *testing.T) {
		s.u16(0x04, 0xf800)

		if err := c.Command().BusMasterEnable().Set(true); err != nil {
			t.Fatal(err)
		}

		if err := c.Command().MemorySpaceEnable().Set(true); err != nil {
			t.Fatal(err)
		}

		// reserved-preserve bits are written back as read
		if v := le.Uint16(s[0x04:]); v != 0xf806 {
			t.Fatalf("command %#04x != 0xf806", v)
		}
	})

	t.Run("status", func(t *testing.T) {
		s.u16(0x06, 0xf910)

		set, err := c.Status().DetectedParityError().Get()
		if err != nil {
			t.Fatal(err)
		}

		if !set {
			t.Fatal("detected parity error is not set")
		}

		if err := c.Status().DetectedParityError().Clear(); err != nil {
			t.Fatal(err)
		}

		// only the cleared bit is written as 1
		if v := le.Uint16(s[0x06:]); v != 0x8010 {
			t.Fatalf("status %#04x != 0x8010", v)
		}
	})
}

func TestFileBackedConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	if err := os.WriteFile(path, withExtCaps(), 0o600); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}

	defer f.Close()

	c := config.New(region.NewFile(f, 0, 0x1000, region.Read))

	caps, err := c.Capabilities()
	if err != nil {
		t.Fatal(err)
	}

	if len(caps) != 4 {
		t.Fatalf("%d capabilities != 4", len(caps))
	}

	ext, err := c.ExtendedCapabilities()
	if err != nil {
		t.Fatal(err)
	}

	if len(ext) != 6 {
		t.Fatalf("%d extended capabilities != 6", len(ext))
	}
}
