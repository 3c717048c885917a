package config

import (
	"github.com/c35s/pcidrv/register"
)

// PCIExpress is the PCI Express capability.
type PCIExpress struct {
	Capability
}

var (
	pcieCapVersion      = register.Range(0, 3, register.RO)
	pcieCapPortType     = register.Range(4, 7, register.RO)
	pcieCapSlot         = register.Bit(8, register.RO)
	pcieCapInterruptMsg = register.Range(9, 13, register.RO)

	pcieCapsLayout = register.NewLayout[uint16](
		pcieCapVersion, pcieCapPortType, pcieCapSlot, pcieCapInterruptMsg,
		register.Range(14, 15, register.RsvdP),
	)
)

func (p PCIExpress) Capabilities() PCIExpressCapabilities {
	return PCIExpressCapabilities{register.At(p, 0x02, pcieCapsLayout)}
}

type PCIExpressCapabilities struct {
	register.Register[uint16]
}

func (c PCIExpressCapabilities) Version() register.Bits[uint16, uint8] {
	return register.BitsOf[uint8](c.Register, pcieCapVersion)
}

// DevicePortType distinguishes endpoints, root ports, switch ports and so on.
func (c PCIExpressCapabilities) DevicePortType() register.Bits[uint16, uint8] {
	return register.BitsOf[uint8](c.Register, pcieCapPortType)
}

func (c PCIExpressCapabilities) SlotImplemented() register.Flag[uint16] {
	return c.Flag(pcieCapSlot)
}

func (c PCIExpressCapabilities) InterruptMessageNumber() register.Bits[uint16, uint8] {
	return register.BitsOf[uint8](c.Register, pcieCapInterruptMsg)
}

var (
	devcapMaxPayloadSize   = register.Range(0, 2, register.RO)
	devcapPhantomFunctions = register.Range(3, 4, register.RO)
	devcapExtendedTag      = register.Bit(5, register.RO)
	devcapL0sLatency       = register.Range(6, 8, register.RO)
	devcapL1Latency        = register.Range(9, 11, register.RO)
	devcapRoleBasedErrors  = register.Bit(15, register.RO)
	devcapErrCorSubclass   = register.Bit(16, register.RO)
	devcapRxMPSFixed       = register.Bit(17, register.RO)
	devcapSlotPowerValue   = register.Range(18, 25, register.RO)
	devcapSlotPowerScale   = register.Range(26, 27, register.RO)
	devcapFLR              = register.Bit(28, register.RO)
	devcapMixedMPS         = register.Bit(29, register.RO)
	devcapTEEIO            = register.Bit(30, register.RO)

	devcapLayout = register.NewLayout[uint32](
		devcapMaxPayloadSize, devcapPhantomFunctions, devcapExtendedTag, devcapL0sLatency,
		devcapL1Latency, register.Range(12, 14, register.RsvdP), devcapRoleBasedErrors,
		devcapErrCorSubclass, devcapRxMPSFixed, devcapSlotPowerValue, devcapSlotPowerScale,
		devcapFLR, devcapMixedMPS, devcapTEEIO, register.Bit(31, register.RsvdP),
	)
)

func (p PCIExpress) DeviceCapabilities() DeviceCapabilities {
	return DeviceCapabilities{register.At(p, 0x04, devcapLayout)}
}

type DeviceCapabilities struct {
	register.Register[uint32]
}

// MaxPayloadSizeSupported encodes the largest supported payload as 128 << n bytes.
func (c DeviceCapabilities) MaxPayloadSizeSupported() register.Bits[uint32, uint8] {
	return register.BitsOf[uint8](c.Register, devcapMaxPayloadSize)
}

func (c DeviceCapabilities) PhantomFunctionsSupported() register.Bits[uint32, uint8] {
	return register.BitsOf[uint8](c.Register, devcapPhantomFunctions)
}

func (c DeviceCapabilities) ExtendedTagFieldSupported() register.Flag[uint32] {
	return c.Flag(devcapExtendedTag)
}

func (c DeviceCapabilities) EndpointL0sAcceptableLatency() register.Bits[uint32, uint8] {
	return register.BitsOf[uint8](c.Register, devcapL0sLatency)
}

func (c DeviceCapabilities) EndpointL1AcceptableLatency() register.Bits[uint32, uint8] {
	return register.BitsOf[uint8](c.Register, devcapL1Latency)
}

func (c DeviceCapabilities) RoleBasedErrorReporting() register.Flag[uint32] {
	return c.Flag(devcapRoleBasedErrors)
}

func (c DeviceCapabilities) ErrCorSubclassCapable() register.Flag[uint32] {
	return c.Flag(devcapErrCorSubclass)
}

func (c DeviceCapabilities) RxMPSFixed() register.Flag[uint32] {
	return c.Flag(devcapRxMPSFixed)
}

func (c DeviceCapabilities) CapturedSlotPowerLimitValue() register.Bits[uint32, uint8] {
	return register.BitsOf[uint8](c.Register, devcapSlotPowerValue)
}

func (c DeviceCapabilities) CapturedSlotPowerLimitScale() register.Bits[uint32, uint8] {
	return register.BitsOf[uint8](c.Register, devcapSlotPowerScale)
}

func (c DeviceCapabilities) FunctionLevelResetCapable() register.Flag[uint32] {
	return c.Flag(devcapFLR)
}

func (c DeviceCapabilities) MixedMPSSupported() register.Flag[uint32] {
	return c.Flag(devcapMixedMPS)
}

func (c DeviceCapabilities) TEEIOSupported() register.Flag[uint32] {
	return c.Flag(devcapTEEIO)
}

var (
	devctlCorrectableErrors   = register.Bit(0, register.RW)
	devctlNonFatalErrors      = register.Bit(1, register.RW)
	devctlFatalErrors         = register.Bit(2, register.RW)
	devctlUnsupportedRequests = register.Bit(3, register.RW)
	devctlRelaxedOrdering     = register.Bit(4, register.RW)
	devctlMaxPayloadSize      = register.Range(5, 7, register.RW)
	devctlExtendedTag         = register.Bit(8, register.RW)
	devctlPhantomFunctions    = register.Bit(9, register.RW)
	devctlAuxPower            = register.Bit(10, register.RW)
	devctlNoSnoop             = register.Bit(11, register.RW)
	devctlMaxReadRequestSize  = register.Range(12, 14, register.RW)
	devctlInitiateFLR         = register.Bit(15, register.RW)

	devctlLayout = register.NewLayout[uint16](
		devctlCorrectableErrors, devctlNonFatalErrors, devctlFatalErrors,
		devctlUnsupportedRequests, devctlRelaxedOrdering, devctlMaxPayloadSize,
		devctlExtendedTag, devctlPhantomFunctions, devctlAuxPower, devctlNoSnoop,
		devctlMaxReadRequestSize, devctlInitiateFLR,
	)
)

func (p PCIExpress) DeviceControl() DeviceControl {
	return DeviceControl{register.AtRW(p, 0x08, devctlLayout)}
}

type DeviceControl struct {
	register.RegisterRW[uint16]
}

func (c DeviceControl) CorrectableErrorReporting() register.FlagRW[uint16] {
	return c.FlagRW(devctlCorrectableErrors)
}

func (c DeviceControl) NonFatalErrorReporting() register.FlagRW[uint16] {
	return c.FlagRW(devctlNonFatalErrors)
}

func (c DeviceControl) FatalErrorReporting() register.FlagRW[uint16] {
	return c.FlagRW(devctlFatalErrors)
}

func (c DeviceControl) UnsupportedRequestReporting() register.FlagRW[uint16] {
	return c.FlagRW(devctlUnsupportedRequests)
}

func (c DeviceControl) RelaxedOrdering() register.FlagRW[uint16] {
	return c.FlagRW(devctlRelaxedOrdering)
}

func (c DeviceControl) MaxPayloadSize() register.BitsRW[uint16, uint8] {
	return register.BitsRWOf[uint8](c.RegisterRW, devctlMaxPayloadSize)
}

func (c DeviceControl) ExtendedTagField() register.FlagRW[uint16] {
	return c.FlagRW(devctlExtendedTag)
}

func (c DeviceControl) PhantomFunctions() register.FlagRW[uint16] {
	return c.FlagRW(devctlPhantomFunctions)
}

func (c DeviceControl) AuxPowerPM() register.FlagRW[uint16] {
	return c.FlagRW(devctlAuxPower)
}

func (c DeviceControl) NoSnoop() register.FlagRW[uint16] {
	return c.FlagRW(devctlNoSnoop)
}

func (c DeviceControl) MaxReadRequestSize() register.BitsRW[uint16, uint8] {
	return register.BitsRWOf[uint8](c.RegisterRW, devctlMaxReadRequestSize)
}

// InitiateFLR starts a function level reset when set. It always reads as 0.
func (c DeviceControl) InitiateFLR() register.FlagRW[uint16] {
	return c.FlagRW(devctlInitiateFLR)
}

var (
	devstaCorrectableError   = register.Bit(0, register.RW1C)
	devstaNonFatalError      = register.Bit(1, register.RW1C)
	devstaFatalError         = register.Bit(2, register.RW1C)
	devstaUnsupportedRequest = register.Bit(3, register.RW1C)
	devstaAuxPower           = register.Bit(4, register.RO)
	devstaTransactionsPend   = register.Bit(5, register.RO)
	devstaEmergencyPower     = register.Bit(6, register.RW1C)

	devstaLayout = register.NewLayout[uint16](
		devstaCorrectableError, devstaNonFatalError, devstaFatalError,
		devstaUnsupportedRequest, devstaAuxPower, devstaTransactionsPend,
		devstaEmergencyPower, register.Range(7, 15, register.RsvdZ),
	)
)

func (p PCIExpress) DeviceStatus() DeviceStatus {
	return DeviceStatus{register.AtRW(p, 0x0a, devstaLayout)}
}

type DeviceStatus struct {
	register.RegisterRW[uint16]
}

func (s DeviceStatus) CorrectableErrorDetected() register.FlagRW1C[uint16] {
	return s.FlagRW1C(devstaCorrectableError)
}

func (s DeviceStatus) NonFatalErrorDetected() register.FlagRW1C[uint16] {
	return s.FlagRW1C(devstaNonFatalError)
}

func (s DeviceStatus) FatalErrorDetected() register.FlagRW1C[uint16] {
	return s.FlagRW1C(devstaFatalError)
}

func (s DeviceStatus) UnsupportedRequestDetected() register.FlagRW1C[uint16] {
	return s.FlagRW1C(devstaUnsupportedRequest)
}

func (s DeviceStatus) AuxPowerDetected() register.Flag[uint16] {
	return s.Flag(devstaAuxPower)
}

func (s DeviceStatus) TransactionsPending() register.Flag[uint16] {
	return s.Flag(devstaTransactionsPend)
}

func (s DeviceStatus) EmergencyPowerReductionDetected() register.FlagRW1C[uint16] {
	return s.FlagRW1C(devstaEmergencyPower)
}

var (
	lnkcapMaxSpeed     = register.Range(0, 3, register.RO)
	lnkcapMaxWidth     = register.Range(4, 9, register.RO)
	lnkcapASPM         = register.Range(10, 11, register.RO)
	lnkcapL0sExit      = register.Range(12, 14, register.RO)
	lnkcapL1Exit       = register.Range(15, 17, register.RO)
	lnkcapClockPM      = register.Bit(18, register.RO)
	lnkcapSurpriseDown = register.Bit(19, register.RO)
	lnkcapDLLActive    = register.Bit(20, register.RO)
	lnkcapBandwidth    = register.Bit(21, register.RO)
	lnkcapASPMOptional = register.Bit(22, register.RO)
	lnkcapPortNumber   = register.Range(24, 31, register.RO)

	lnkcapLayout = register.NewLayout[uint32](
		lnkcapMaxSpeed, lnkcapMaxWidth, lnkcapASPM, lnkcapL0sExit, lnkcapL1Exit,
		lnkcapClockPM, lnkcapSurpriseDown, lnkcapDLLActive, lnkcapBandwidth,
		lnkcapASPMOptional, register.Bit(23, register.RsvdP), lnkcapPortNumber,
	)
)

func (p PCIExpress) LinkCapabilities() LinkCapabilities {
	return LinkCapabilities{register.At(p, 0x0c, lnkcapLayout)}
}

type LinkCapabilities struct {
	register.Register[uint32]
}

// MaxLinkSpeed indexes the Supported Link Speeds vector, starting at 1.
func (c LinkCapabilities) MaxLinkSpeed() register.Bits[uint32, uint8] {
	return register.BitsOf[uint8](c.Register, lnkcapMaxSpeed)
}

func (c LinkCapabilities) MaxLinkWidth() register.Bits[uint32, uint8] {
	return register.BitsOf[uint8](c.Register, lnkcapMaxWidth)
}

func (c LinkCapabilities) ASPMSupport() register.Bits[uint32, uint8] {
	return register.BitsOf[uint8](c.Register, lnkcapASPM)
}

func (c LinkCapabilities) L0sExitLatency() register.Bits[uint32, uint8] {
	return register.BitsOf[uint8](c.Register, lnkcapL0sExit)
}

func (c LinkCapabilities) L1ExitLatency() register.Bits[uint32, uint8] {
	return register.BitsOf[uint8](c.Register, lnkcapL1Exit)
}

func (c LinkCapabilities) ClockPowerManagement() register.Flag[uint32] {
	return c.Flag(lnkcapClockPM)
}

func (c LinkCapabilities) SurpriseDownErrorReporting() register.Flag[uint32] {
	return c.Flag(lnkcapSurpriseDown)
}

func (c LinkCapabilities) DataLinkLayerActiveReporting() register.Flag[uint32] {
	return c.Flag(lnkcapDLLActive)
}

func (c LinkCapabilities) LinkBandwidthNotification() register.Flag[uint32] {
	return c.Flag(lnkcapBandwidth)
}

func (c LinkCapabilities) ASPMOptionalityCompliance() register.Flag[uint32] {
	return c.Flag(lnkcapASPMOptional)
}

func (c LinkCapabilities) PortNumber() register.Bits[uint32, uint8] {
	return register.BitsOf[uint8](c.Register, lnkcapPortNumber)
}

var (
	lnkctlASPM             = register.Range(0, 1, register.RW)
	lnkctlRCB              = register.Bit(3, register.RW)
	lnkctlDisable          = register.Bit(4, register.RW)
	lnkctlRetrain          = register.Bit(5, register.RW)
	lnkctlCommonClock      = register.Bit(6, register.RW)
	lnkctlExtendedSynch    = register.Bit(7, register.RW)
	lnkctlClockPM          = register.Bit(8, register.RW)
	lnkctlHWAutoWidth      = register.Bit(9, register.RW)
	lnkctlBandwidthMgmtInt = register.Bit(10, register.RW)
	lnkctlAutoBandwidthInt = register.Bit(11, register.RW)
	lnkctlDRSSignaling     = register.Range(14, 15, register.RW)

	lnkctlLayout = register.NewLayout[uint16](
		lnkctlASPM, register.Bit(2, register.RsvdP), lnkctlRCB, lnkctlDisable,
		lnkctlRetrain, lnkctlCommonClock, lnkctlExtendedSynch, lnkctlClockPM,
		lnkctlHWAutoWidth, lnkctlBandwidthMgmtInt, lnkctlAutoBandwidthInt,
		register.Range(12, 13, register.RsvdP), lnkctlDRSSignaling,
	)
)

func (p PCIExpress) LinkControl() LinkControl {
	return LinkControl{register.AtRW(p, 0x10, lnkctlLayout)}
}

type LinkControl struct {
	register.RegisterRW[uint16]
}

func (c LinkControl) ASPMControl() register.BitsRW[uint16, uint8] {
	return register.BitsRWOf[uint8](c.RegisterRW, lnkctlASPM)
}

func (c LinkControl) ReadCompletionBoundary() register.FlagRW[uint16] {
	return c.FlagRW(lnkctlRCB)
}

func (c LinkControl) LinkDisable() register.FlagRW[uint16] {
	return c.FlagRW(lnkctlDisable)
}

func (c LinkControl) RetrainLink() register.FlagRW[uint16] {
	return c.FlagRW(lnkctlRetrain)
}

func (c LinkControl) CommonClockConfiguration() register.FlagRW[uint16] {
	return c.FlagRW(lnkctlCommonClock)
}

func (c LinkControl) ExtendedSynch() register.FlagRW[uint16] {
	return c.FlagRW(lnkctlExtendedSynch)
}

func (c LinkControl) ClockPowerManagement() register.FlagRW[uint16] {
	return c.FlagRW(lnkctlClockPM)
}

func (c LinkControl) HardwareAutonomousWidthDisable() register.FlagRW[uint16] {
	return c.FlagRW(lnkctlHWAutoWidth)
}

func (c LinkControl) BandwidthManagementInterrupt() register.FlagRW[uint16] {
	return c.FlagRW(lnkctlBandwidthMgmtInt)
}

func (c LinkControl) AutonomousBandwidthInterrupt() register.FlagRW[uint16] {
	return c.FlagRW(lnkctlAutoBandwidthInt)
}

func (c LinkControl) DRSSignalingControl() register.BitsRW[uint16, uint8] {
	return register.BitsRWOf[uint8](c.RegisterRW, lnkctlDRSSignaling)
}

var (
	lnkstaSpeed               = register.Range(0, 3, register.RO)
	lnkstaWidth               = register.Range(4, 9, register.RO)
	lnkstaTraining            = register.Bit(11, register.RO)
	lnkstaSlotClock           = register.Bit(12, register.RO)
	lnkstaDLLActive           = register.Bit(13, register.RO)
	lnkstaBandwidthMgmt       = register.Bit(14, register.RW1C)
	lnkstaAutonomousBandwidth = register.Bit(15, register.RW1C)

	lnkstaLayout = register.NewLayout[uint16](
		lnkstaSpeed, lnkstaWidth, register.Bit(10, register.RsvdZ), lnkstaTraining,
		lnkstaSlotClock, lnkstaDLLActive, lnkstaBandwidthMgmt, lnkstaAutonomousBandwidth,
	)
)

func (p PCIExpress) LinkStatus() LinkStatus {
	return LinkStatus{register.AtRW(p, 0x12, lnkstaLayout)}
}

type LinkStatus struct {
	register.RegisterRW[uint16]
}

func (s LinkStatus) CurrentLinkSpeed() register.Bits[uint16, uint8] {
	return register.BitsOf[uint8](s.Register, lnkstaSpeed)
}

func (s LinkStatus) NegotiatedLinkWidth() register.Bits[uint16, uint8] {
	return register.BitsOf[uint8](s.Register, lnkstaWidth)
}

func (s LinkStatus) LinkTraining() register.Flag[uint16] {
	return s.Flag(lnkstaTraining)
}

func (s LinkStatus) SlotClockConfiguration() register.Flag[uint16] {
	return s.Flag(lnkstaSlotClock)
}

func (s LinkStatus) DataLinkLayerLinkActive() register.Flag[uint16] {
	return s.Flag(lnkstaDLLActive)
}

func (s LinkStatus) LinkBandwidthManagementStatus() register.FlagRW1C[uint16] {
	return s.FlagRW1C(lnkstaBandwidthMgmt)
}

func (s LinkStatus) LinkAutonomousBandwidthStatus() register.FlagRW1C[uint16] {
	return s.FlagRW1C(lnkstaAutonomousBandwidth)
}

func (p PCIExpress) DeviceCapabilities2() register.Register[uint32] {
	return register.At[uint32](p, 0x24, nil)
}

func (p PCIExpress) DeviceControl2() register.RegisterRW[uint16] {
	return register.AtRW[uint16](p, 0x28, nil)
}

func (p PCIExpress) LinkCapabilities2() register.Register[uint32] {
	return register.At[uint32](p, 0x2c, nil)
}

func (p PCIExpress) LinkControl2() register.RegisterRW[uint16] {
	return register.AtRW[uint16](p, 0x30, nil)
}

func (p PCIExpress) LinkStatus2() register.RegisterRW[uint16] {
	return register.AtRW[uint16](p, 0x32, nil)
}
