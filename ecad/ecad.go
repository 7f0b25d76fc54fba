package ecad

const (
	Type                  = 0x0000
	Revision              = 0x0001
	Build                 = 0x0002
	FMMUsSupported        = 0x0004
	SyncManagersSupported = 0x0005
	RAMSize               = 0x0006
	PortDescriptor        = 0x0007
	ESCFeaturesSupported  = 0x0008

	ConfiguredStationAddress = 0x0010
	ConfiguredStationAlias   = 0x0012

	DLControl = 0x0100
	DLStatus  = 0x0110

	ALControl    = 0x0120
	ALStatus     = 0x0130
	ALStatusCode = 0x0134
	PDIControl   = 0x0140

	ECATEventMask = 0x0200

	ESIEEPROMInterface   = 0x0500
	EEPROMConfiguration  = 0x0500
	EEPROMPDIAccessState = 0x0501
	EEPROMControlStatus  = 0x0502
	EEPROMAddress        = 0x0504
	EEPROMData           = 0x0508

	FMMUBase       = 0x0600
	FMMUChannelLen = 0x10

	SyncMangerBase                 = 0x0800
	SyncManagerChannelLen          = 0x08
	SyncManagerPhysStartAddrOffset = 0x00
	SyncManagerLengthOffset        = 0x02
	SyncManagerControlOffset       = 0x04
	SyncManagerStatusOffset        = 0x05
	SyncManagerActivateOffset      = 0x06
	SyncManagerPDIControlOffset    = 0x07

	// mailbox full flag in the sync manager status byte
	SyncManagerStatusMailboxFull = 0x08
)

// SyncManager returns the register page address of sync manager channel i.
func SyncManager(i int) uint16 {
	return SyncMangerBase + uint16(i)*SyncManagerChannelLen
}

// FMMU returns the register page address of FMMU channel i.
func FMMU(i int) uint16 {
	return FMMUBase + uint16(i)*FMMUChannelLen
}

// AL state values, low nibble of ALStatus
const (
	ALStateInit   = 0x01
	ALStatePreOp  = 0x02
	ALStateBoot   = 0x03
	ALStateSafeOp = 0x04
	ALStateOp     = 0x08

	ALStateMask   = 0x0f
	ALStateAckErr = 0x10
)

// SII EEPROM word addresses
const (
	SIIVendorID           = 0x0008
	SIIProductCode        = 0x000a
	SIIRevisionNo         = 0x000c
	SIISerialNo           = 0x000e
	SIIBootRxMailbox      = 0x0014
	SIIBootTxMailbox      = 0x0016
	SIIStdRxMailboxOffset = 0x0018
	SIIStdRxMailboxSize   = 0x0019
	SIIStdTxMailboxOffset = 0x001a
	SIIStdTxMailboxSize   = 0x001b
	SIIMailboxProtocols   = 0x001c
)
