package config

import (
	"fmt"

	"github.com/c35s/pcidrv/region"
	"github.com/c35s/pcidrv/register"
)

// Extended capabilities live in [extCapStart, extCapEnd) at even offsets, so
// a list with more than maxExtCaps entries must contain a cycle.
const (
	extCapStart = 0x100
	extCapEnd   = 0x1000
	maxExtCaps  = (extCapEnd - extCapStart) / 2
)

// Extended capability IDs.
const (
	ExtCapNull                     = 0x0000
	ExtCapAER                      = 0x0001
	ExtCapVirtualChannel           = 0x0002
	ExtCapDeviceSerialNumber       = 0x0003
	ExtCapPowerBudgeting           = 0x0004
	ExtCapRootComplexLinkDecl      = 0x0005
	ExtCapVendorSpecific           = 0x000b
	ExtCapACS                      = 0x000d
	ExtCapARI                      = 0x000e
	ExtCapATS                      = 0x000f
	ExtCapSRIOV                    = 0x0010
	ExtCapMulticast                = 0x0012
	ExtCapPageRequest              = 0x0013
	ExtCapResizableBAR             = 0x0015
	ExtCapDPA                      = 0x0016
	ExtCapTPH                      = 0x0017
	ExtCapLTR                      = 0x0018
	ExtCapSecondaryPCIExpress      = 0x0019
	ExtCapPASID                    = 0x001b
	ExtCapDPC                      = 0x001d
	ExtCapL1PMSubstates            = 0x001e
	ExtCapPTM                      = 0x001f
	ExtCapDesignatedVendorSpecific = 0x0023
	ExtCapDataLinkFeature          = 0x0025
	ExtCapPhysicalLayer16GT        = 0x0026
	ExtCapLaneMarginingAtReceiver  = 0x0027
)

var extCapNames = map[uint16]string{
	ExtCapNull:                     "Null",
	ExtCapAER:                      "Advanced Error Reporting",
	ExtCapVirtualChannel:           "Virtual Channel",
	ExtCapDeviceSerialNumber:       "Device Serial Number",
	ExtCapPowerBudgeting:           "Power Budgeting",
	ExtCapRootComplexLinkDecl:      "Root Complex Link Declaration",
	ExtCapVendorSpecific:           "Vendor-Specific Extended",
	ExtCapACS:                      "Access Control Services",
	ExtCapARI:                      "Alternative Routing-ID Interpretation",
	ExtCapATS:                      "Address Translation Services",
	ExtCapSRIOV:                    "Single Root I/O Virtualization",
	ExtCapMulticast:                "Multicast",
	ExtCapPageRequest:              "Page Request Interface",
	ExtCapResizableBAR:             "Resizable BAR",
	ExtCapDPA:                      "Dynamic Power Allocation",
	ExtCapTPH:                      "TPH Requester",
	ExtCapLTR:                      "Latency Tolerance Reporting",
	ExtCapSecondaryPCIExpress:      "Secondary PCI Express",
	ExtCapPASID:                    "Process Address Space ID",
	ExtCapDPC:                      "Downstream Port Containment",
	ExtCapL1PMSubstates:            "L1 PM Substates",
	ExtCapPTM:                      "Precision Time Measurement",
	ExtCapDataLinkFeature:          "Data Link Feature",
	ExtCapPhysicalLayer16GT:        "Physical Layer 16.0 GT/s",
	ExtCapLaneMarginingAtReceiver:  "Lane Margining at the Receiver",
	ExtCapDesignatedVendorSpecific: "Designated Vendor-Specific",
}

// ExtendedCapabilityName returns a human-readable name for an extended
// capability ID.
func ExtendedCapabilityName(id uint16) string {
	if s, ok := extCapNames[id]; ok {
		return s
	}

	return fmt.Sprintf("Unknown (%#04x)", id)
}

// ExtendedCapability is an entry of the extended capability list. Until it is
// narrowed by ExtOfType, its region extends to the end of configuration space.
type ExtendedCapability struct {
	region.Subregion

	ID      uint16
	Version uint8

	// Offset is the offset of the capability in configuration space.
	Offset uint64
}

func (c ExtendedCapability) String() string {
	return fmt.Sprintf("%s v%d @ %#03x", ExtendedCapabilityName(c.ID), c.Version, c.Offset)
}

// ExtendedCapabilities walks the extended capability list. Only PCI Express
// devices have one: for other devices, it returns nothing without looking past
// the legacy configuration space.
func (c Config) ExtendedCapabilities() ([]ExtendedCapability, error) {
	if c.r.Len() < extCapEnd {
		return nil, fmt.Errorf("%w: config space is %#x bytes long, expected at least %#x", region.ErrInvalidInput, c.r.Len(), extCapEnd)
	}

	caps, err := c.Capabilities()
	if err != nil {
		return nil, err
	}

	if _, ok, err := Find(caps, PCIExpressCapability); err != nil || !ok {
		return nil, err
	}

	var ext []ExtendedCapability
	for next := uint64(extCapStart); next != 0; {
		if next < extCapStart || next >= extCapEnd {
			return nil, fmt.Errorf("%w: extended capability has offset %#03x, should be in [%#x, %#x]", region.ErrInvalidInput, next, extCapStart, extCapEnd-1)
		}

		if next%2 != 0 {
			return nil, fmt.Errorf("%w: extended capability has offset %#03x, expected multiple of two", region.ErrInvalidInput, next)
		}

		if len(ext) == maxExtCaps {
			return nil, fmt.Errorf("%w: found more than %d extended capabilities, which implies a capability list cycle", region.ErrInvalidInput, maxExtCaps)
		}

		sub := region.Sub(c.r, next, extCapEnd)

		hdr, err := sub.ReadU32(0)
		if err != nil {
			return nil, err
		}

		ext = append(ext, ExtendedCapability{
			Subregion: sub,
			ID:        uint16(hdr),
			Version:   uint8(hdr>>16) & 0xf,
			Offset:    next,
		})

		next = uint64(hdr>>20) & 0xffc
	}

	return ext, nil
}

// ExtKind describes a type of extended capability, like Kind does for
// capabilities. The kinds are the package-level ExtKind variables.
type ExtKind[C any] struct {
	name       string
	id         int // -1 matches any ID
	minVersion uint8
	length     func(ExtendedCapability) (uint64, error)
	wrap       func(ExtendedCapability) C
}

func (k ExtKind[C]) String() string {
	return k.name
}

func (k ExtKind[C]) cast(c ExtendedCapability) (C, bool, error) {
	var zero C
	if k.id >= 0 && int(c.ID) != k.id {
		return zero, false, nil
	}

	if c.Version < k.minVersion {
		return zero, false, nil
	}

	n, err := k.length(c)
	if err != nil {
		return zero, false, err
	}

	c.Subregion = region.Sub(c.Subregion, 0, n)
	return k.wrap(c), true, nil
}

// ExtOfType returns the extended capabilities in caps that are of kind k, in
// order, each narrowed to its length and clamped to the end of configuration
// space.
func ExtOfType[C any](caps []ExtendedCapability, k ExtKind[C]) ([]C, error) {
	var out []C
	for _, c := range caps {
		v, ok, err := k.cast(c)
		if err != nil {
			return nil, err
		}

		if ok {
			out = append(out, v)
		}
	}

	return out, nil
}

// FindExt returns the first extended capability in caps of kind k.
func FindExt[C any](caps []ExtendedCapability, k ExtKind[C]) (C, bool, error) {
	for _, c := range caps {
		v, ok, err := k.cast(c)
		if err != nil || ok {
			return v, ok, err
		}
	}

	var zero C
	return zero, false, nil
}

func extFixedLength(n uint64) func(ExtendedCapability) (uint64, error) {
	return func(ExtendedCapability) (uint64, error) {
		return n, nil
	}
}

func extSelf(c ExtendedCapability) ExtendedCapability {
	return c
}

var (
	// AnyExtendedCapability matches every extended capability and covers only
	// its header.
	AnyExtendedCapability = ExtKind[ExtendedCapability]{
		name:   "extended capability",
		id:     -1,
		length: extFixedLength(0x04),
		wrap:   extSelf,
	}

	NullExtendedCapability = ExtKind[ExtendedCapability]{
		name:   "Null",
		id:     ExtCapNull,
		length: extFixedLength(0x04),
		wrap:   extSelf,
	}

	DeviceSerialNumberCapability = ExtKind[DeviceSerialNumber]{
		name:   "Device Serial Number",
		id:     ExtCapDeviceSerialNumber,
		length: extFixedLength(0x0c),
		wrap:   func(c ExtendedCapability) DeviceSerialNumber { return DeviceSerialNumber{c} },
	}

	VendorSpecificExtendedCapability = ExtKind[VendorSpecificExtended]{
		name:       "Vendor-Specific Extended",
		id:         ExtCapVendorSpecific,
		minVersion: 1,
		length: func(c ExtendedCapability) (uint64, error) {
			n, err := VendorSpecificExtended{c}.Header().Length().Get()
			return uint64(n), err
		},
		wrap: func(c ExtendedCapability) VendorSpecificExtended { return VendorSpecificExtended{c} },
	}
)

// DeviceSerialNumber is the Device Serial Number extended capability.
type DeviceSerialNumber struct {
	ExtendedCapability
}

// SerialNumber reads the 64-bit serial number.
func (d DeviceSerialNumber) SerialNumber() (uint64, error) {
	lo, err := d.ReadU32(0x04)
	if err != nil {
		return 0, err
	}

	hi, err := d.ReadU32(0x08)
	if err != nil {
		return 0, err
	}

	return uint64(hi)<<32 | uint64(lo), nil
}

var (
	vsecID     = register.Range(0, 15, register.RO)
	vsecRev    = register.Range(16, 19, register.RO)
	vsecLength = register.Range(20, 31, register.RO)
	vsecLayout = register.NewLayout[uint32](vsecID, vsecRev, vsecLength)
)

// VendorSpecificExtended is a Vendor-Specific Extended capability.
type VendorSpecificExtended struct {
	ExtendedCapability
}

func (v VendorSpecificExtended) Header() VSECHeader {
	return VSECHeader{register.At(v, 0x04, vsecLayout)}
}

// VSECHeader is the vendor-specific header of a Vendor-Specific Extended
// capability.
type VSECHeader struct {
	register.Register[uint32]
}

func (h VSECHeader) ID() register.Bits[uint32, uint16] {
	return register.BitsOf[uint16](h.Register, vsecID)
}

func (h VSECHeader) Rev() register.Bits[uint32, uint8] {
	return register.BitsOf[uint8](h.Register, vsecRev)
}

// Length is the length of the whole capability in bytes.
func (h VSECHeader) Length() register.Bits[uint32, uint16] {
	return register.BitsOf[uint16](h.Register, vsecLength)
}
