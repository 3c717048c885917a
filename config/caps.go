package config

import (
	"fmt"

	"github.com/c35s/pcidrv/region"
)

// Capabilities live in [capStart, capEnd). Each one is at least 1 byte long,
// so a list with more than maxCaps entries must contain a cycle.
const (
	capStart = 0x40
	capEnd   = 0x100
	maxCaps  = capEnd - capStart
)

// Capability IDs.
const (
	CapNull               = 0x00
	CapPowerManagement    = 0x01
	CapAGP                = 0x02
	CapVPD                = 0x03
	CapSlotID             = 0x04
	CapMSI                = 0x05
	CapHotSwap            = 0x06
	CapPCIX               = 0x07
	CapHyperTransport     = 0x08
	CapVendorSpecific     = 0x09
	CapDebugPort          = 0x0a
	CapCompactPCI         = 0x0b
	CapHotPlug            = 0x0c
	CapBridgeSubsystemVID = 0x0d
	CapAGP8x              = 0x0e
	CapSecureDevice       = 0x0f
	CapPCIExpress         = 0x10
	CapMSIX               = 0x11
	CapSATA               = 0x12
	CapAdvancedFeatures   = 0x13
	CapEnhancedAllocation = 0x14
	CapFlatteningPortal   = 0x15
)

var capNames = map[uint8]string{
	CapNull:               "Null",
	CapPowerManagement:    "Power Management",
	CapAGP:                "AGP",
	CapVPD:                "Vital Product Data",
	CapSlotID:             "Slot Identification",
	CapMSI:                "MSI",
	CapHotSwap:            "CompactPCI Hot Swap",
	CapPCIX:               "PCI-X",
	CapHyperTransport:     "HyperTransport",
	CapVendorSpecific:     "Vendor Specific",
	CapDebugPort:          "Debug Port",
	CapCompactPCI:         "CompactPCI Central Resource Control",
	CapHotPlug:            "PCI Hot-Plug",
	CapBridgeSubsystemVID: "Bridge Subsystem Vendor ID",
	CapAGP8x:              "AGP 8x",
	CapSecureDevice:       "Secure Device",
	CapPCIExpress:         "PCI Express",
	CapMSIX:               "MSI-X",
	CapSATA:               "SATA Data/Index Configuration",
	CapAdvancedFeatures:   "Advanced Features",
	CapEnhancedAllocation: "Enhanced Allocation",
	CapFlatteningPortal:   "Flattening Portal Bridge",
}

// CapabilityName returns a human-readable name for a capability ID.
func CapabilityName(id uint8) string {
	if s, ok := capNames[id]; ok {
		return s
	}

	return fmt.Sprintf("Unknown (%#02x)", id)
}

// Capability is an entry of the capability list. Until it is narrowed by
// OfType, its region extends to the end of the legacy configuration space.
type Capability struct {
	region.Subregion

	// ID is the capability ID.
	ID uint8

	// Offset is the offset of the capability in configuration space.
	Offset uint64
}

func (c Capability) String() string {
	return fmt.Sprintf("%s @ %#02x", CapabilityName(c.ID), c.Offset)
}

// Capabilities walks the capability list. It returns the capabilities in list
// order. The list is treated as untrusted: an entry outside [0x40, 0xff] or a
// list long enough to contain a cycle is an error.
func (c Config) Capabilities() ([]Capability, error) {
	if c.r.Len() < capEnd {
		return nil, fmt.Errorf("%w: config space is %#x bytes long, expected at least %#x", region.ErrInvalidInput, c.r.Len(), capEnd)
	}

	present, err := c.Status().CapabilitiesList().Get()
	if err != nil {
		return nil, err
	}

	if !present {
		return nil, nil
	}

	ptr, err := c.r.ReadU8(offCapabilities)
	if err != nil {
		return nil, err
	}

	var caps []Capability
	for next := uint64(ptr & 0xfc); next != 0; {
		if next < capStart || next >= capEnd {
			return nil, fmt.Errorf("%w: capability has offset %#02x, should be in [%#x, %#x]", region.ErrInvalidInput, next, capStart, capEnd-1)
		}

		if len(caps) == maxCaps {
			return nil, fmt.Errorf("%w: found more than %d capabilities, which implies a capability list cycle", region.ErrInvalidInput, maxCaps)
		}

		sub := region.Sub(c.r, next, capEnd)

		id, err := sub.ReadU8(0)
		if err != nil {
			return nil, err
		}

		ptr, err := sub.ReadU8(1)
		if err != nil {
			return nil, err
		}

		caps = append(caps, Capability{Subregion: sub, ID: id, Offset: next})
		next = uint64(ptr & 0xfc)
	}

	return caps, nil
}

// Kind describes a type of capability: which list entries it matches, how
// long a matching entry is, and the type C that represents it. The kinds are
// the package-level Kind variables.
type Kind[C any] struct {
	name   string
	id     int // -1 matches any ID
	match  func(Capability) (bool, error)
	length func(Capability) (uint64, error)
	wrap   func(Capability) C
}

func (k Kind[C]) String() string {
	return k.name
}

// cast returns c as a C if it is of kind k.
func (k Kind[C]) cast(c Capability) (C, bool, error) {
	var zero C
	if k.id >= 0 && int(c.ID) != k.id {
		return zero, false, nil
	}

	if k.match != nil {
		ok, err := k.match(c)
		if err != nil || !ok {
			return zero, false, err
		}
	}

	n, err := k.length(c)
	if err != nil {
		return zero, false, err
	}

	c.Subregion = region.Sub(c.Subregion, 0, n)
	return k.wrap(c), true, nil
}

// OfType returns the capabilities in caps that are of kind k, in order, each
// narrowed to its length and clamped to the end of the capability window.
// Entries of other kinds are skipped.
func OfType[C any](caps []Capability, k Kind[C]) ([]C, error) {
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

// Find returns the first capability in caps of kind k.
func Find[C any](caps []Capability, k Kind[C]) (C, bool, error) {
	for _, c := range caps {
		v, ok, err := k.cast(c)
		if err != nil || ok {
			return v, ok, err
		}
	}

	var zero C
	return zero, false, nil
}

func fixedLength(n uint64) func(Capability) (uint64, error) {
	return func(Capability) (uint64, error) {
		return n, nil
	}
}

func self(c Capability) Capability {
	return c
}
