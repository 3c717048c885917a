package config

import (
	"github.com/c35s/pcidrv/register"
)

var (
	msiEnable                 = register.Bit(0, register.RW)
	msiMultipleMessageCapable = register.Range(1, 3, register.RO)
	msiMultipleMessageEnable  = register.Range(4, 6, register.RW)
	msi64Bit                  = register.Bit(7, register.RO)
	msiPerVectorMasking       = register.Bit(8, register.RO)
	msiExtDataCapable         = register.Bit(9, register.RO)
	msiExtDataEnable          = register.Bit(10, register.RW)

	msiControlLayout = register.NewLayout[uint16](
		msiEnable, msiMultipleMessageCapable, msiMultipleMessageEnable, msi64Bit,
		msiPerVectorMasking, msiExtDataCapable, msiExtDataEnable,
		register.Range(11, 15, register.RsvdP),
	)
)

// MSI is an MSI capability. Its layout depends on whether it supports 64-bit
// addresses and per-vector masking; the register accessors take that into
// account.
type MSI struct {
	Capability
}

func (m MSI) MessageControl() MSIControl {
	return MSIControl{register.AtRW(m, 0x02, msiControlLayout)}
}

func (m MSI) is64Bit() bool {
	return m.Len() == 0x10 || m.Len() == 0x18
}

func (m MSI) hasPVM() bool {
	return m.Len() >= 0x14
}

func (m MSI) MessageAddress() register.RegisterRW[uint32] {
	return register.AtRW[uint32](m, 0x04, nil)
}

// MessageUpperAddress returns the upper 32 bits of the message address. It
// returns false if the capability only supports 32-bit addresses.
func (m MSI) MessageUpperAddress() (register.RegisterRW[uint32], bool) {
	if !m.is64Bit() {
		return register.RegisterRW[uint32]{}, false
	}

	return register.AtRW[uint32](m, 0x08, nil), true
}

func (m MSI) MessageData() register.RegisterRW[uint16] {
	if m.is64Bit() {
		return register.AtRW[uint16](m, 0x0c, nil)
	}

	return register.AtRW[uint16](m, 0x08, nil)
}

// MaskBits returns the per-vector mask register, or false if the capability
// doesn't support per-vector masking.
func (m MSI) MaskBits() (register.RegisterRW[uint32], bool) {
	if !m.hasPVM() {
		return register.RegisterRW[uint32]{}, false
	}

	if m.is64Bit() {
		return register.AtRW[uint32](m, 0x10, nil), true
	}

	return register.AtRW[uint32](m, 0x0c, nil), true
}

// PendingBits returns the per-vector pending register, or false if the
// capability doesn't support per-vector masking.
func (m MSI) PendingBits() (register.Register[uint32], bool) {
	if !m.hasPVM() {
		return register.Register[uint32]{}, false
	}

	if m.is64Bit() {
		return register.At[uint32](m, 0x14, nil), true
	}

	return register.At[uint32](m, 0x10, nil), true
}

// MSIControl is the MSI Message Control register.
type MSIControl struct {
	register.RegisterRW[uint16]
}

func (c MSIControl) Enable() register.FlagRW[uint16] {
	return c.FlagRW(msiEnable)
}

// MultipleMessageCapable is log2 of the number of vectors the function can
// request.
func (c MSIControl) MultipleMessageCapable() register.Bits[uint16, uint8] {
	return register.BitsOf[uint8](c.Register, msiMultipleMessageCapable)
}

// MultipleMessageEnable is log2 of the number of vectors allocated to the
// function.
func (c MSIControl) MultipleMessageEnable() register.BitsRW[uint16, uint8] {
	return register.BitsRWOf[uint8](c.RegisterRW, msiMultipleMessageEnable)
}

func (c MSIControl) AddressCapable64Bit() register.Flag[uint16] {
	return c.Flag(msi64Bit)
}

func (c MSIControl) PerVectorMaskingCapable() register.Flag[uint16] {
	return c.Flag(msiPerVectorMasking)
}

func (c MSIControl) ExtendedMessageDataCapable() register.Flag[uint16] {
	return c.Flag(msiExtDataCapable)
}

func (c MSIControl) ExtendedMessageDataEnable() register.FlagRW[uint16] {
	return c.FlagRW(msiExtDataEnable)
}

// msiFlags reads the two Message Control bits that determine an MSI
// capability's layout.
func msiFlags(c Capability) (is64, pvm bool, err error) {
	ctl, err := c.ReadU16(0x02)
	if err != nil {
		return false, false, err
	}

	return ctl&(1<<7) != 0, ctl&(1<<8) != 0, nil
}

func msiLength(c Capability) (uint64, error) {
	is64, pvm, err := msiFlags(c)
	if err != nil {
		return 0, err
	}

	switch {
	case !is64 && !pvm:
		return 0x0c, nil
	case is64 && !pvm:
		return 0x10, nil
	case !is64 && pvm:
		return 0x14, nil
	default:
		return 0x18, nil
	}
}

// msiKind returns a kind matching only MSI capabilities with the given layout.
func msiKind(name string, is64, pvm bool) Kind[MSI] {
	return Kind[MSI]{
		name: name,
		id:   CapMSI,
		match: func(c Capability) (bool, error) {
			a, b, err := msiFlags(c)
			return a == is64 && b == pvm, err
		},
		length: msiLength,
		wrap:   func(c Capability) MSI { return MSI{c} },
	}
}
