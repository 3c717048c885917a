package config_test

import (
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/c35s/pcidrv/config"
	"github.com/c35s/pcidrv/region"
	"github.com/google/go-cmp/cmp"
)

var le = binary.LittleEndian

// space is a synthetic configuration space.
type space []byte

func newSpace(n int) space {
	return make(space, n)
}

func (s space) u8(off int, v uint8)   { s[off] = v }
func (s space) u16(off int, v uint16) { le.PutUint16(s[off:], v) }
func (s space) u32(off int, v uint32) { le.PutUint32(s[off:], v) }

// cap writes a capability header at off.
func (s space) cap(off int, id, next uint8) {
	s.u8(off, id)
	s.u8(off+1, next)
}

// extCap writes an extended capability header at off.
func (s space) extCap(off int, id uint16, version uint8, next int) {
	s.u32(off, uint32(id)|uint32(version)<<16|uint32(next)<<20)
}

func (s space) config() config.Config {
	return config.New(region.NewMemory(s, region.ReadWrite))
}

// withCaps returns a 4K config space with the capability list
// [PM, MSI (64-bit), PCIe, MSI-X].
func withCaps() space {
	s := newSpace(0x1000)
	s.u16(0x06, 1<<4)
	s.u8(0x34, 0x43)

	s.cap(0x40, config.CapPowerManagement, 0x50)
	s.cap(0x50, config.CapMSI, 0x70)
	s.u16(0x52, 1<<7)
	s.cap(0x70, config.CapPCIExpress, 0xb0)
	s.cap(0xb0, config.CapMSIX, 0x00)
	return s
}

func ids(caps []config.Capability) []uint8 {
	var out []uint8
	for _, c := range caps {
		out = append(out, c.ID)
	}

	return out
}

func TestCapabilities(t *testing.T) {
	t.Run("list order", func(t *testing.T) {
		caps, err := withCaps().config().Capabilities()
		if err != nil {
			t.Fatal(err)
		}

		want := []uint8{0x01, 0x05, 0x10, 0x11}
		if diff := cmp.Diff(want, ids(caps)); diff != "" {
			t.Fatalf("capability IDs (-want +got):\n%s", diff)
		}

		for _, c := range caps {
			if end := c.Offset + c.Len(); end != 0x100 {
				t.Fatalf("%v ends at %#x, not 0x100", c, end)
			}
		}
	})

	t.Run("no capabilities list", func(t *testing.T) {
		s := withCaps()
		s.u16(0x06, 0)

		caps, err := s.config().Capabilities()
		if err != nil {
			t.Fatal(err)
		}

		if len(caps) != 0 {
			t.Fatalf("found %d capabilities", len(caps))
		}
	})

	t.Run("cycle", func(t *testing.T) {
		s := withCaps()
		s.cap(0x70, config.CapPCIExpress, 0x50)

		_, err := s.config().Capabilities()
		if !errors.Is(err, region.ErrInvalidInput) {
			t.Fatalf("err %v is not ErrInvalidInput", err)
		}

		if !strings.Contains(err.Error(), "cycle") {
			t.Fatalf("err %q doesn't mention a cycle", err)
		}
	})

	t.Run("offset out of range", func(t *testing.T) {
		s := withCaps()
		s.cap(0x50, config.CapMSI, 0x3c)

		if _, err := s.config().Capabilities(); !errors.Is(err, region.ErrInvalidInput) {
			t.Fatalf("err %v is not ErrInvalidInput", err)
		}
	})

	t.Run("short config space", func(t *testing.T) {
		s := withCaps()[:0x40]
		if _, err := s.config().Capabilities(); !errors.Is(err, region.ErrInvalidInput) {
			t.Fatalf("err %v is not ErrInvalidInput", err)
		}
	})
}

func TestOfType(t *testing.T) {
	caps, err := withCaps().config().Capabilities()
	if err != nil {
		t.Fatal(err)
	}

	t.Run("any", func(t *testing.T) {
		all, err := config.OfType(caps, config.AnyCapability)
		if err != nil {
			t.Fatal(err)
		}

		if len(all) != 4 {
			t.Fatalf("%d capabilities != 4", len(all))
		}

		for _, c := range all {
			if c.Len() != 2 {
				t.Fatalf("%v len %#x != 2", c, c.Len())
			}
		}
	})

	t.Run("msi", func(t *testing.T) {
		msi, err := config.OfType(caps, config.MSICapability)
		if err != nil {
			t.Fatal(err)
		}

		if len(msi) != 1 || msi[0].Len() != 0x10 || msi[0].Offset != 0x50 {
			t.Fatalf("unexpected MSI capabilities: %v", msi)
		}

		for _, tc := range []struct {
			kind config.Kind[config.MSI]
			n    int
		}{
			{config.MSI32Capability, 0},
			{config.MSI64Capability, 1},
			{config.MSI32PVMCapability, 0},
			{config.MSI64PVMCapability, 0},
		} {
			got, err := config.OfType(caps, tc.kind)
			if err != nil {
				t.Fatal(err)
			}

			if len(got) != tc.n {
				t.Fatalf("%v: %d != %d", tc.kind, len(got), tc.n)
			}
		}

		upper, ok := msi[0].MessageUpperAddress()
		if !ok || upper.Offset() != 0x08 {
			t.Fatal("64-bit MSI has no upper address register at 0x08")
		}

		if _, ok := msi[0].MaskBits(); ok {
			t.Fatal("MSI without per-vector masking has mask bits")
		}

		if off := msi[0].MessageData().Offset(); off != 0x0c {
			t.Fatalf("message data at %#x != 0xc", off)
		}
	})

	t.Run("pcie", func(t *testing.T) {
		pcie, ok, err := config.Find(caps, config.PCIExpressCapability)
		if err != nil {
			t.Fatal(err)
		}

		if !ok || pcie.Len() != 0x3c {
			t.Fatalf("PCIe capability %v (found %v)", pcie, ok)
		}
	})

	t.Run("missing", func(t *testing.T) {
		vpd, err := config.OfType(caps, config.VPDCapability)
		if err != nil {
			t.Fatal(err)
		}

		if len(vpd) != 0 {
			t.Fatalf("found %d VPD capabilities", len(vpd))
		}
	})
}

func TestMSIControl(t *testing.T) {
	s := withCaps()
	s.u16(0x52, 1<<7|0b011<<1)

	caps, err := s.config().Capabilities()
	if err != nil {
		t.Fatal(err)
	}

	msi, _, err := config.Find(caps, config.MSICapability)
	if err != nil {
		t.Fatal(err)
	}

	mc := msi.MessageControl()

	capable, err := mc.MultipleMessageCapable().Get()
	if err != nil {
		t.Fatal(err)
	}

	if capable != 0b011 {
		t.Fatalf("multiple message capable %d != 3", capable)
	}

	if err := mc.MultipleMessageEnable().Set(0b010); err != nil {
		t.Fatal(err)
	}

	if err := mc.Enable().Set(true); err != nil {
		t.Fatal(err)
	}

	if v := le.Uint16(s[0x52:]); v != 1<<7|0b010<<4|0b011<<1|1 {
		t.Fatalf("message control %#04x", v)
	}

	if err := mc.MultipleMessageEnable().Set(8); !errors.Is(err, region.ErrInvalidInput) {
		t.Fatalf("set too-large value: %v", err)
	}
}

func TestVariableLength(t *testing.T) {
	t.Run("vendor specific", func(t *testing.T) {
		s := newSpace(0x100)
		s.u16(0x06, 1<<4)
		s.u8(0x34, 0x40)
		s.cap(0x40, config.CapVendorSpecific, 0x00)
		s.u8(0x42, 0x0c)

		caps, err := s.config().Capabilities()
		if err != nil {
			t.Fatal(err)
		}

		vs, _, err := config.Find(caps, config.VendorSpecificCapability)
		if err != nil {
			t.Fatal(err)
		}

		if vs.Len() != 0x0c {
			t.Fatalf("len %#x != 0xc", vs.Len())
		}

		s.u8(0x42, 0xd0)
		vs, _, err = config.Find(caps, config.VendorSpecificCapability)
		if err != nil {
			t.Fatal(err)
		}

		if vs.Len() != 0xc0 {
			t.Fatalf("overlong capability len %#x != 0xc0", vs.Len())
		}
	})

	t.Run("enhanced allocation", func(t *testing.T) {
		s := newSpace(0x100)
		s.u16(0x06, 1<<4)
		s.u8(0x34, 0x40)
		s.cap(0x40, config.CapEnhancedAllocation, 0x00)
		s.u8(0x42, 2)
		s.u32(0x44, 2)
		s.u32(0x50, 3)

		caps, err := s.config().Capabilities()
		if err != nil {
			t.Fatal(err)
		}

		ea, ok, err := config.Find(caps, config.EnhancedAllocationCapability)
		if err != nil {
			t.Fatal(err)
		}

		if !ok || ea.Len() != 0x20 {
			t.Fatalf("len %#x != 0x20", ea.Len())
		}
	})
}

func TestCapabilityAtWindowEnd(t *testing.T) {
	s := newSpace(0x1000)
	s.u16(0x06, 1<<4)
	s.u8(0x34, 0xa0)

	s.cap(0xa0, config.CapMSIX, 0xc8)
	s.cap(0xc8, config.CapPowerManagement, 0xd0)
	s.cap(0xd0, config.CapMSI, 0xe0)
	s.cap(0xe0, config.CapPCIExpress, 0x00)
	s.u16(0xe2, 0x0001)

	s.extCap(0x100, config.ExtCapAER, 1, 0x148)
	s.extCap(0x148, config.ExtCapDeviceSerialNumber, 1, 0)

	c := s.config()
	caps, err := c.Capabilities()
	if err != nil {
		t.Fatal(err)
	}

	pcie, err := config.OfType(caps, config.PCIExpressCapability)
	if err != nil {
		t.Fatal(err)
	}

	if len(pcie) != 1 || pcie[0].Len() != 0x20 {
		t.Fatalf("PCI Express capabilities: %v", pcie)
	}

	v, err := pcie[0].Capabilities().Version().Get()
	if err != nil {
		t.Fatal(err)
	}

	if v != 1 {
		t.Fatalf("version %d != 1", v)
	}

	if _, err := pcie[0].LinkStatus2().Read(); !errors.Is(err, region.ErrOutOfBounds) {
		t.Fatalf("read past the window: %v", err)
	}

	ext, err := c.ExtendedCapabilities()
	if err != nil {
		t.Fatal(err)
	}

	var got []uint16
	for _, e := range ext {
		got = append(got, e.ID)
	}

	want := []uint16{config.ExtCapAER, config.ExtCapDeviceSerialNumber}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("extended capability IDs (-want +got):\n%s", diff)
	}
}

// withExtCaps returns withCaps plus an extended capability list.
func withExtCaps() space {
	s := withCaps()
	s.extCap(0x100, config.ExtCapAER, 1, 0x148)
	s.extCap(0x148, config.ExtCapDeviceSerialNumber, 1, 0x158)
	s.u32(0x14c, 0x89abcdef)
	s.u32(0x150, 0x01234567)
	s.extCap(0x158, config.ExtCapPowerBudgeting, 1, 0x168)
	s.extCap(0x168, config.ExtCapSecondaryPCIExpress, 1, 0x180)
	s.extCap(0x180, config.ExtCapLTR, 1, 0x188)
	s.extCap(0x188, config.ExtCapL1PMSubstates, 1, 0)
	return s
}

func TestExtendedCapabilities(t *testing.T) {
	t.Run("list order", func(t *testing.T) {
		ext, err := withExtCaps().config().ExtendedCapabilities()
		if err != nil {
			t.Fatal(err)
		}

		var got []uint16
		for _, c := range ext {
			got = append(got, c.ID)
		}

		want := []uint16{0x0001, 0x0003, 0x0004, 0x0019, 0x0018, 0x001e}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("extended capability IDs (-want +got):\n%s", diff)
		}

		dsn, ok, err := config.FindExt(ext, config.DeviceSerialNumberCapability)
		if err != nil || !ok {
			t.Fatalf("no serial number capability (err: %v)", err)
		}

		sn, err := dsn.SerialNumber()
		if err != nil {
			t.Fatal(err)
		}

		if sn != 0x0123456789abcdef {
			t.Fatalf("serial number %#x", sn)
		}
	})

	t.Run("not pcie", func(t *testing.T) {
		s := withExtCaps()
		s.cap(0x70, config.CapHotSwap, 0xb0)

		ext, err := s.config().ExtendedCapabilities()
		if err != nil {
			t.Fatal(err)
		}

		if len(ext) != 0 {
			t.Fatalf("found %d extended capabilities on a non-PCIe device", len(ext))
		}
	})

	t.Run("cycle", func(t *testing.T) {
		s := withExtCaps()
		s.extCap(0x188, config.ExtCapL1PMSubstates, 1, 0x148)

		_, err := s.config().ExtendedCapabilities()
		if !errors.Is(err, region.ErrInvalidInput) || !strings.Contains(err.Error(), "cycle") {
			t.Fatalf("err %v is not a cycle error", err)
		}
	})

	t.Run("short config space", func(t *testing.T) {
		s := withExtCaps()[:0x100]
		if _, err := s.config().ExtendedCapabilities(); !errors.Is(err, region.ErrInvalidInput) {
			t.Fatalf("err %v is not ErrInvalidInput", err)
		}
	})

	t.Run("vendor specific", func(t *testing.T) {
		s := withCaps()
		s.extCap(0x100, config.ExtCapVendorSpecific, 1, 0x200)
		s.u32(0x104, 0x1234|2<<16|0x18<<20)
		s.extCap(0x200, config.ExtCapVendorSpecific, 0, 0)

		ext, err := s.config().ExtendedCapabilities()
		if err != nil {
			t.Fatal(err)
		}

		vsec, err := config.ExtOfType(ext, config.VendorSpecificExtendedCapability)
		if err != nil {
			t.Fatal(err)
		}

		if len(vsec) != 1 || vsec[0].Len() != 0x18 {
			t.Fatalf("unexpected vendor-specific capabilities: %v", vsec)
		}

		id, err := vsec[0].Header().ID().Get()
		if err != nil {
			t.Fatal(err)
		}

		if id != 0x1234 {
			t.Fatalf("VSEC ID %#x != 0x1234", id)
		}
	})

	t.Run("empty list", func(t *testing.T) {
		ext, err := withCaps().config().ExtendedCapabilities()
		if err != nil {
			t.Fatal(err)
		}

		null, err := config.ExtOfType(ext, config.NullExtendedCapability)
		if err != nil {
			t.Fatal(err)
		}

		if len(ext) != 1 || len(null) != 1 {
			t.Fatalf("%d entries, %d null", len(ext), len(null))
		}
	})
}
