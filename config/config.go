// Package config provides typed access to a PCI device's configuration space:
// the type 0 header, the capability list and the extended capability list.
package config

import (
	"github.com/c35s/pcidrv/region"
	"github.com/c35s/pcidrv/register"
)

// Type 0 header register offsets.
const (
	offVendorID          = 0x00
	offDeviceID          = 0x02
	offCommand           = 0x04
	offStatus            = 0x06
	offRevisionID        = 0x08
	offClassCode         = 0x09
	offCacheLineSize     = 0x0c
	offLatencyTimer      = 0x0d
	offHeaderType        = 0x0e
	offBIST              = 0x0f
	offCardbusCISPointer = 0x28
	offSubsystemVendorID = 0x2c
	offSubsystemID       = 0x2e
	offCapabilities      = 0x34
	offInterruptLine     = 0x3c
	offInterruptPin      = 0x3d
	offMinGnt            = 0x3e
	offMaxLat            = 0x3f
)

// Config is a device's configuration space.
type Config struct {
	r region.Subregion
}

// New returns the configuration space backed by r.
func New(r region.Region) Config {
	return Config{r: region.Sub(r, 0, region.End)}
}

// Region returns the region backing c.
func (c Config) Region() region.Subregion {
	return c.r
}

func (c Config) VendorID() register.Register[uint16] {
	return register.At[uint16](c.r, offVendorID, nil)
}

func (c Config) DeviceID() register.Register[uint16] {
	return register.At[uint16](c.r, offDeviceID, nil)
}

func (c Config) Command() Command {
	return Command{register.AtRW(c.r, offCommand, commandLayout)}
}

func (c Config) Status() Status {
	return Status{register.AtRW(c.r, offStatus, statusLayout)}
}

func (c Config) RevisionID() register.Register[uint8] {
	return register.At[uint8](c.r, offRevisionID, nil)
}

func (c Config) ClassCode() ClassCode {
	return ClassCode{region.Sub(c.r, offClassCode, offClassCode+3)}
}

func (c Config) CacheLineSize() register.RegisterRW[uint8] {
	return register.AtRW[uint8](c.r, offCacheLineSize, nil)
}

func (c Config) LatencyTimer() register.Register[uint8] {
	return register.At[uint8](c.r, offLatencyTimer, nil)
}

func (c Config) HeaderType() HeaderType {
	return HeaderType{register.At(c.r, offHeaderType, headerTypeLayout)}
}

func (c Config) BIST() BIST {
	return BIST{register.AtRW(c.r, offBIST, bistLayout)}
}

func (c Config) CardbusCISPointer() register.Register[uint32] {
	return register.At[uint32](c.r, offCardbusCISPointer, nil)
}

func (c Config) SubsystemVendorID() register.Register[uint16] {
	return register.At[uint16](c.r, offSubsystemVendorID, nil)
}

func (c Config) SubsystemID() register.Register[uint16] {
	return register.At[uint16](c.r, offSubsystemID, nil)
}

func (c Config) InterruptLine() register.RegisterRW[uint8] {
	return register.AtRW[uint8](c.r, offInterruptLine, nil)
}

func (c Config) InterruptPin() register.Register[uint8] {
	return register.At[uint8](c.r, offInterruptPin, nil)
}

func (c Config) MinGnt() register.Register[uint8] {
	return register.At[uint8](c.r, offMinGnt, nil)
}

func (c Config) MaxLat() register.Register[uint8] {
	return register.At[uint8](c.r, offMaxLat, nil)
}

var (
	cmdIOSpace          = register.Bit(0, register.RW)
	cmdMemorySpace      = register.Bit(1, register.RW)
	cmdBusMaster        = register.Bit(2, register.RW)
	cmdSpecialCycles    = register.Bit(3, register.RO)
	cmdMWI              = register.Bit(4, register.RO)
	cmdVGASnoop         = register.Bit(5, register.RO)
	cmdParityError      = register.Bit(6, register.RW)
	cmdIDSELStepping    = register.Bit(7, register.RO)
	cmdSERR             = register.Bit(8, register.RW)
	cmdFastB2B          = register.Bit(9, register.RO)
	cmdInterruptDisable = register.Bit(10, register.RW)

	commandLayout = register.NewLayout[uint16](
		cmdIOSpace, cmdMemorySpace, cmdBusMaster, cmdSpecialCycles, cmdMWI,
		cmdVGASnoop, cmdParityError, cmdIDSELStepping, cmdSERR, cmdFastB2B,
		cmdInterruptDisable, register.Range(11, 15, register.RsvdP),
	)
)

// Command is the Command register.
type Command struct {
	register.RegisterRW[uint16]
}

func (c Command) IOSpaceEnable() register.FlagRW[uint16] {
	return c.FlagRW(cmdIOSpace)
}

func (c Command) MemorySpaceEnable() register.FlagRW[uint16] {
	return c.FlagRW(cmdMemorySpace)
}

func (c Command) BusMasterEnable() register.FlagRW[uint16] {
	return c.FlagRW(cmdBusMaster)
}

func (c Command) SpecialCycleEnable() register.Flag[uint16] {
	return c.Flag(cmdSpecialCycles)
}

func (c Command) MemoryWriteAndInvalidate() register.Flag[uint16] {
	return c.Flag(cmdMWI)
}

func (c Command) VGAPaletteSnoop() register.Flag[uint16] {
	return c.Flag(cmdVGASnoop)
}

func (c Command) ParityErrorResponse() register.FlagRW[uint16] {
	return c.FlagRW(cmdParityError)
}

func (c Command) IDSELSteppingWaitCycle() register.Flag[uint16] {
	return c.Flag(cmdIDSELStepping)
}

func (c Command) SERREnable() register.FlagRW[uint16] {
	return c.FlagRW(cmdSERR)
}

func (c Command) FastBackToBackEnable() register.Flag[uint16] {
	return c.Flag(cmdFastB2B)
}

func (c Command) InterruptDisable() register.FlagRW[uint16] {
	return c.FlagRW(cmdInterruptDisable)
}

var (
	stsImmediateReadiness  = register.Bit(0, register.RO)
	stsInterruptStatus     = register.Bit(3, register.RO)
	stsCapabilitiesList    = register.Bit(4, register.RO)
	sts66MHz               = register.Bit(5, register.RO)
	stsFastB2B             = register.Bit(7, register.RO)
	stsMasterDataParity    = register.Bit(8, register.RW1C)
	stsDEVSELTiming        = register.Range(9, 10, register.RO)
	stsSignaledTargetAbort = register.Bit(11, register.RW1C)
	stsReceivedTargetAbort = register.Bit(12, register.RW1C)
	stsReceivedMasterAbort = register.Bit(13, register.RW1C)
	stsSignaledSystemError = register.Bit(14, register.RW1C)
	stsDetectedParityError = register.Bit(15, register.RW1C)

	statusLayout = register.NewLayout[uint16](
		stsImmediateReadiness, register.Range(1, 2, register.RsvdZ), stsInterruptStatus,
		stsCapabilitiesList, sts66MHz, register.Bit(6, register.RsvdZ), stsFastB2B,
		stsMasterDataParity, stsDEVSELTiming, stsSignaledTargetAbort, stsReceivedTargetAbort,
		stsReceivedMasterAbort, stsSignaledSystemError, stsDetectedParityError,
	)
)

// Status is the Status register.
type Status struct {
	register.RegisterRW[uint16]
}

func (s Status) ImmediateReadiness() register.Flag[uint16] {
	return s.Flag(stsImmediateReadiness)
}

func (s Status) InterruptStatus() register.Flag[uint16] {
	return s.Flag(stsInterruptStatus)
}

func (s Status) CapabilitiesList() register.Flag[uint16] {
	return s.Flag(stsCapabilitiesList)
}

func (s Status) Capable66MHz() register.Flag[uint16] {
	return s.Flag(sts66MHz)
}

func (s Status) FastBackToBackCapable() register.Flag[uint16] {
	return s.Flag(stsFastB2B)
}

func (s Status) MasterDataParityError() register.FlagRW1C[uint16] {
	return s.FlagRW1C(stsMasterDataParity)
}

func (s Status) DEVSELTiming() register.Bits[uint16, uint8] {
	return register.BitsOf[uint8](s.Register, stsDEVSELTiming)
}

func (s Status) SignaledTargetAbort() register.FlagRW1C[uint16] {
	return s.FlagRW1C(stsSignaledTargetAbort)
}

func (s Status) ReceivedTargetAbort() register.FlagRW1C[uint16] {
	return s.FlagRW1C(stsReceivedTargetAbort)
}

func (s Status) ReceivedMasterAbort() register.FlagRW1C[uint16] {
	return s.FlagRW1C(stsReceivedMasterAbort)
}

func (s Status) SignaledSystemError() register.FlagRW1C[uint16] {
	return s.FlagRW1C(stsSignaledSystemError)
}

func (s Status) DetectedParityError() register.FlagRW1C[uint16] {
	return s.FlagRW1C(stsDetectedParityError)
}

// ClassCode is the three-byte Class Code register.
type ClassCode struct {
	r region.Subregion
}

func (c ClassCode) ProgrammingInterface() register.Register[uint8] {
	return register.At[uint8](c.r, 0, nil)
}

func (c ClassCode) SubClass() register.Register[uint8] {
	return register.At[uint8](c.r, 1, nil)
}

func (c ClassCode) BaseClass() register.Register[uint8] {
	return register.At[uint8](c.r, 2, nil)
}

var (
	htLayoutBits     = register.Range(0, 6, register.RO)
	htMultiFunction  = register.Bit(7, register.RO)
	headerTypeLayout = register.NewLayout[uint8](htLayoutBits, htMultiFunction)
)

// HeaderType is the Header Type register.
type HeaderType struct {
	register.Register[uint8]
}

func (h HeaderType) Layout() register.Bits[uint8, uint8] {
	return register.BitsOf[uint8](h.Register, htLayoutBits)
}

func (h HeaderType) MultiFunction() register.Flag[uint8] {
	return h.Flag(htMultiFunction)
}

var (
	bistCompletionCode = register.Range(0, 3, register.RO)
	bistStart          = register.Bit(6, register.RW)
	bistCapable        = register.Bit(7, register.RO)

	bistLayout = register.NewLayout[uint8](
		bistCompletionCode, register.Range(4, 5, register.RsvdP), bistStart, bistCapable,
	)
)

// BIST is the built-in self test register.
type BIST struct {
	register.RegisterRW[uint8]
}

func (b BIST) CompletionCode() register.Bits[uint8, uint8] {
	return register.BitsOf[uint8](b.Register, bistCompletionCode)
}

func (b BIST) Start() register.FlagRW[uint8] {
	return b.FlagRW(bistStart)
}

func (b BIST) Capable() register.Flag[uint8] {
	return b.Flag(bistCapable)
}

