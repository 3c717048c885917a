package config

import (
	"github.com/c35s/pcidrv/region"
	"github.com/c35s/pcidrv/register"
)

var (
	// AnyCapability matches every capability and covers only its header.
	AnyCapability = Kind[Capability]{
		name:   "capability",
		id:     -1,
		length: fixedLength(0x02),
		wrap:   self,
	}

	NullCapability = Kind[Capability]{
		name:   "Null",
		id:     CapNull,
		length: fixedLength(0x02),
		wrap:   self,
	}

	PowerManagementCapability = Kind[PowerManagement]{
		name:   "Power Management",
		id:     CapPowerManagement,
		length: fixedLength(0x08),
		wrap:   func(c Capability) PowerManagement { return PowerManagement{c} },
	}

	VPDCapability = Kind[VPD]{
		name:   "Vital Product Data",
		id:     CapVPD,
		length: fixedLength(0x08),
		wrap:   func(c Capability) VPD { return VPD{c} },
	}

	// MSICapability matches every MSI capability. MSI32Capability and the
	// other MSI kinds only match one of the four MSI layouts.
	MSICapability = Kind[MSI]{
		name:   "MSI",
		id:     CapMSI,
		length: msiLength,
		wrap:   func(c Capability) MSI { return MSI{c} },
	}

	MSI32Capability    = msiKind("MSI (32-bit)", false, false)
	MSI64Capability    = msiKind("MSI (64-bit)", true, false)
	MSI32PVMCapability = msiKind("MSI (32-bit, per-vector masking)", false, true)
	MSI64PVMCapability = msiKind("MSI (64-bit, per-vector masking)", true, true)

	VendorSpecificCapability = Kind[VendorSpecific]{
		name: "Vendor Specific",
		id:   CapVendorSpecific,
		length: func(c Capability) (uint64, error) {
			n, err := c.ReadU8(0x02)
			return uint64(n), err
		},
		wrap: func(c Capability) VendorSpecific { return VendorSpecific{c} },
	}

	PCIExpressCapability = Kind[PCIExpress]{
		name:   "PCI Express",
		id:     CapPCIExpress,
		length: fixedLength(0x3c),
		wrap:   func(c Capability) PCIExpress { return PCIExpress{c} },
	}

	MSIXCapability = Kind[MSIX]{
		name:   "MSI-X",
		id:     CapMSIX,
		length: fixedLength(0x0c),
		wrap:   func(c Capability) MSIX { return MSIX{c} },
	}

	AdvancedFeaturesCapability = Kind[AdvancedFeatures]{
		name:   "Advanced Features",
		id:     CapAdvancedFeatures,
		length: fixedLength(0x06),
		wrap:   func(c Capability) AdvancedFeatures { return AdvancedFeatures{c} },
	}

	EnhancedAllocationCapability = Kind[EnhancedAllocation]{
		name:   "Enhanced Allocation",
		id:     CapEnhancedAllocation,
		length: eaLength,
		wrap:   func(c Capability) EnhancedAllocation { return EnhancedAllocation{c} },
	}
)

// PowerManagement is the PCI Power Management capability.
type PowerManagement struct {
	Capability
}

var (
	pmcsrPowerState  = register.Range(0, 1, register.RW)
	pmcsrNoSoftReset = register.Bit(3, register.RO)
	pmcsrPMEEnable   = register.Bit(8, register.RW)
	pmcsrDataSelect  = register.Range(9, 12, register.RW)
	pmcsrDataScale   = register.Range(13, 14, register.RO)
	pmcsrPMEStatus   = register.Bit(15, register.RW1C)

	pmcsrLayout = register.NewLayout[uint16](
		pmcsrPowerState, register.Bit(2, register.RsvdP), pmcsrNoSoftReset,
		register.Range(4, 7, register.RsvdP), pmcsrPMEEnable, pmcsrDataSelect,
		pmcsrDataScale, pmcsrPMEStatus,
	)
)

// Capabilities returns the Power Management Capabilities register.
func (p PowerManagement) Capabilities() register.Register[uint16] {
	return register.At[uint16](p, 0x02, nil)
}

// ControlStatus returns the Power Management Control/Status register.
func (p PowerManagement) ControlStatus() PMControlStatus {
	return PMControlStatus{register.AtRW(p, 0x04, pmcsrLayout)}
}

func (p PowerManagement) Data() register.Register[uint8] {
	return register.At[uint8](p, 0x07, nil)
}

type PMControlStatus struct {
	register.RegisterRW[uint16]
}

// PowerState is the current power state: 0 for D0 through 3 for D3hot.
func (s PMControlStatus) PowerState() register.BitsRW[uint16, uint8] {
	return register.BitsRWOf[uint8](s.RegisterRW, pmcsrPowerState)
}

func (s PMControlStatus) NoSoftReset() register.Flag[uint16] {
	return s.Flag(pmcsrNoSoftReset)
}

func (s PMControlStatus) PMEEnable() register.FlagRW[uint16] {
	return s.FlagRW(pmcsrPMEEnable)
}

func (s PMControlStatus) DataSelect() register.BitsRW[uint16, uint8] {
	return register.BitsRWOf[uint8](s.RegisterRW, pmcsrDataSelect)
}

func (s PMControlStatus) DataScale() register.Bits[uint16, uint8] {
	return register.BitsOf[uint8](s.Register, pmcsrDataScale)
}

func (s PMControlStatus) PMEStatus() register.FlagRW1C[uint16] {
	return s.FlagRW1C(pmcsrPMEStatus)
}

// VPD is the Vital Product Data capability.
type VPD struct {
	Capability
}

var (
	vpdAddress = register.Range(0, 14, register.RO)
	vpdFlag    = register.Bit(15, register.RO)
	vpdLayout  = register.NewLayout[uint16](vpdAddress, vpdFlag)
)

// AddressRegister returns the VPD Address register. Its address and flag are
// writable, but only together, so the fields are exposed read-only and the
// register is written whole.
func (v VPD) AddressRegister() VPDAddress {
	return VPDAddress{register.AtRW(v, 0x02, vpdLayout)}
}

func (v VPD) DataRegister() register.RegisterRW[uint32] {
	return register.AtRW[uint32](v, 0x04, nil)
}

type VPDAddress struct {
	register.RegisterRW[uint16]
}

func (a VPDAddress) Address() register.Bits[uint16, uint16] {
	return register.BitsOf[uint16](a.Register, vpdAddress)
}

func (a VPDAddress) F() register.Flag[uint16] {
	return a.Flag(vpdFlag)
}

// VendorSpecific is a vendor-specific capability.
type VendorSpecific struct {
	Capability
}

func (v VendorSpecific) CapabilityLength() register.Register[uint8] {
	return register.At[uint8](v, 0x02, nil)
}

// MSIX is the MSI-X capability.
type MSIX struct {
	Capability
}

var (
	msixTableSize    = register.Range(0, 10, register.RO)
	msixFunctionMask = register.Bit(14, register.RW)
	msixEnable       = register.Bit(15, register.RW)

	msixControlLayout = register.NewLayout[uint16](
		msixTableSize, register.Range(11, 13, register.RsvdP), msixFunctionMask, msixEnable,
	)

	msixBIR    = register.Range(0, 2, register.RO)
	msixOffset = register.Range(3, 31, register.RO)

	msixLocationLayout = register.NewLayout[uint32](msixBIR, msixOffset)
)

func (m MSIX) MessageControl() MSIXControl {
	return MSIXControl{register.AtRW(m, 0x02, msixControlLayout)}
}

// Table returns the location of the MSI-X table.
func (m MSIX) Table() MSIXLocation {
	return MSIXLocation{register.At(m, 0x04, msixLocationLayout)}
}

// PBA returns the location of the pending bit array.
func (m MSIX) PBA() MSIXLocation {
	return MSIXLocation{register.At(m, 0x08, msixLocationLayout)}
}

type MSIXControl struct {
	register.RegisterRW[uint16]
}

// TableSize is the number of table entries minus one.
func (c MSIXControl) TableSize() register.Bits[uint16, uint16] {
	return register.BitsOf[uint16](c.Register, msixTableSize)
}

func (c MSIXControl) FunctionMask() register.FlagRW[uint16] {
	return c.FlagRW(msixFunctionMask)
}

func (c MSIXControl) Enable() register.FlagRW[uint16] {
	return c.FlagRW(msixEnable)
}

// MSIXLocation locates the MSI-X table or PBA in one of the device's BARs.
type MSIXLocation struct {
	register.Register[uint32]
}

// BIR is the index of the BAR that holds the structure.
func (l MSIXLocation) BIR() register.Bits[uint32, uint8] {
	return register.BitsOf[uint8](l.Register, msixBIR)
}

// Offset returns the offset of the structure in its BAR.
func (l MSIXLocation) Offset() (uint64, error) {
	v, err := l.Read()
	if err != nil {
		return 0, err
	}

	return uint64(v &^ 0x7), nil
}

// AdvancedFeatures is the Conventional PCI Advanced Features capability.
type AdvancedFeatures struct {
	Capability
}

var (
	afFLR           = register.Bit(0, register.RW)
	afControlLayout = register.NewLayout[uint8](afFLR, register.Range(1, 7, register.RsvdP))

	afTransactionsPending = register.Bit(0, register.RO)
	afStatusLayout        = register.NewLayout[uint8](afTransactionsPending, register.Range(1, 7, register.RsvdZ))
)

func (a AdvancedFeatures) Capabilities() register.Register[uint8] {
	return register.At[uint8](a, 0x03, nil)
}

// InitiateFLR returns the control bit that starts a function level reset.
func (a AdvancedFeatures) InitiateFLR() register.FlagRW[uint8] {
	return register.AtRW(a, 0x04, afControlLayout).FlagRW(afFLR)
}

func (a AdvancedFeatures) TransactionsPending() register.Flag[uint8] {
	return register.At(a, 0x05, afStatusLayout).Flag(afTransactionsPending)
}

// EnhancedAllocation is the Enhanced Allocation capability.
type EnhancedAllocation struct {
	Capability
}

// NumEntries returns the number of entries in the capability.
func (e EnhancedAllocation) NumEntries() (int, error) {
	n, err := e.ReadU8(0x02)
	return int(n & 0x3f), err
}

// eaLength walks the entries of an Enhanced Allocation capability. Each entry
// starts with a header whose low 3 bits are the number of dwords that follow.
func eaLength(c Capability) (uint64, error) {
	n, err := EnhancedAllocation{c}.NumEntries()
	if err != nil {
		return 0, err
	}

	cursor := uint64(0x04)
	for i := 0; i < n; i++ {
		hdr, err := c.ReadU32(cursor)
		if err != nil {
			return 0, err
		}

		cursor += 4 + uint64(hdr&0x7)*4
	}

	return cursor, nil
}

var _ region.Region = Capability{}
