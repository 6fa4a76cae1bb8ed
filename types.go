package bthost

import (
	"strings"
	"time"
)

// BTMode is the radio operating mode of an adapter.
type BTMode uint8

const (
	BTModeNone  BTMode = 0
	BTModeDual  BTMode = 1
	BTModeBREDR BTMode = 2
	BTModeLE    BTMode = 3
)

func (m BTMode) String() string {
	switch m {
	case BTModeDual:
		return "dual"
	case BTModeBREDR:
		return "bredr"
	case BTModeLE:
		return "le"
	default:
		return "none"
	}
}

// BTRole is the connection role of the local or remote end.
type BTRole uint8

const (
	RoleNone   BTRole = 0
	RoleMaster BTRole = 1 // central
	RoleSlave  BTRole = 2 // peripheral
)

func (r BTRole) String() string {
	switch r {
	case RoleMaster:
		return "master"
	case RoleSlave:
		return "slave"
	default:
		return "none"
	}
}

// ScanType tags which discovery variant is (or was) running.
type ScanType uint8

const (
	ScanTypeNone  ScanType = 0
	ScanTypeBREDR ScanType = 1 << 0
	ScanTypeLE    ScanType = 1 << 1
	ScanTypeDual  ScanType = ScanTypeBREDR | ScanTypeLE
)

func (s ScanType) String() string {
	switch s {
	case ScanTypeBREDR:
		return "bredr"
	case ScanTypeLE:
		return "le"
	case ScanTypeDual:
		return "dual"
	default:
		return "none"
	}
}

// DiscoveryPolicy governs what happens to a running scan when a discovered
// device gets connected.
type DiscoveryPolicy uint8

const (
	// DiscoveryAutoOff stops discovery when a connection is established and
	// leaves restarting to the application.
	DiscoveryAutoOff DiscoveryPolicy = 0
	// DiscoveryPauseConnectedUntilDisconnected pauses discovery while at
	// least one device is connected and resumes after the last disconnect.
	DiscoveryPauseConnectedUntilDisconnected DiscoveryPolicy = 1
	// DiscoveryPauseConnectedUntilReady resumes as soon as connected devices
	// reached the ready state.
	DiscoveryPauseConnectedUntilReady DiscoveryPolicy = 2
	// DiscoveryAlwaysOn keeps scanning across connections.
	DiscoveryAlwaysOn DiscoveryPolicy = 3
)

func (p DiscoveryPolicy) String() string {
	switch p {
	case DiscoveryPauseConnectedUntilDisconnected:
		return "pause-until-disconnected"
	case DiscoveryPauseConnectedUntilReady:
		return "pause-until-ready"
	case DiscoveryAlwaysOn:
		return "always-on"
	default:
		return "auto-off"
	}
}

// AdapterSetting is the settings bitmask reported by the management
// interface, mirroring the kernel mgmt API bit assignment.
type AdapterSetting uint32

const (
	SettingPowered         AdapterSetting = 1 << 0
	SettingConnectable     AdapterSetting = 1 << 1
	SettingFastConnectable AdapterSetting = 1 << 2
	SettingDiscoverable    AdapterSetting = 1 << 3
	SettingBondable        AdapterSetting = 1 << 4
	SettingLinkSecurity    AdapterSetting = 1 << 5
	SettingSSP             AdapterSetting = 1 << 6
	SettingBREDR           AdapterSetting = 1 << 7
	SettingHS              AdapterSetting = 1 << 8
	SettingLE              AdapterSetting = 1 << 9
	SettingAdvertising     AdapterSetting = 1 << 10
	SettingSecureConn      AdapterSetting = 1 << 11
	SettingDebugKeys       AdapterSetting = 1 << 12
	SettingPrivacy         AdapterSetting = 1 << 13
	SettingConfiguration   AdapterSetting = 1 << 14
	SettingStaticAddress   AdapterSetting = 1 << 15
)

func (s AdapterSetting) Has(bit AdapterSetting) bool { return s&bit != 0 }

func (s AdapterSetting) String() string {
	names := []struct {
		bit  AdapterSetting
		name string
	}{
		{SettingPowered, "powered"},
		{SettingConnectable, "connectable"},
		{SettingDiscoverable, "discoverable"},
		{SettingBondable, "bondable"},
		{SettingSSP, "ssp"},
		{SettingBREDR, "bredr"},
		{SettingLE, "le"},
		{SettingAdvertising, "advertising"},
		{SettingSecureConn, "secure-conn"},
		{SettingPrivacy, "privacy"},
	}
	var out []string
	for _, n := range names {
		if s.Has(n.bit) {
			out = append(out, n.name)
		}
	}
	if len(out) == 0 {
		return "[]"
	}
	return "[" + strings.Join(out, " ") + "]"
}

// PairingMode is the negotiated SMP pairing mechanism.
type PairingMode uint8

const (
	PairingModeNone              PairingMode = 0
	PairingModeNegotiating       PairingMode = 1
	PairingModeJustWorks         PairingMode = 2
	PairingModePasskeyEntryIni   PairingMode = 3
	PairingModePasskeyEntryRes   PairingMode = 4
	PairingModeNumericCompareIni PairingMode = 5
	PairingModeNumericCompareRes PairingMode = 6
	PairingModeOutOfBand         PairingMode = 7
	PairingModePreBonded         PairingMode = 8
)

func (m PairingMode) String() string {
	switch m {
	case PairingModeNegotiating:
		return "negotiating"
	case PairingModeJustWorks:
		return "just-works"
	case PairingModePasskeyEntryIni:
		return "passkey-entry-initiator"
	case PairingModePasskeyEntryRes:
		return "passkey-entry-responder"
	case PairingModeNumericCompareIni:
		return "numeric-compare-initiator"
	case PairingModeNumericCompareRes:
		return "numeric-compare-responder"
	case PairingModeOutOfBand:
		return "out-of-band"
	case PairingModePreBonded:
		return "pre-bonded"
	default:
		return "none"
	}
}

// PairingState is the observable SMP pairing progress of a connection.
type PairingState uint8

const (
	PairingStateNone             PairingState = 0
	PairingStateFailed           PairingState = 1
	PairingStateRequested        PairingState = 2
	PairingStateFeatureExchange  PairingState = 3
	PairingStatePasskeyExpected  PairingState = 4
	PairingStateNumericExpected  PairingState = 5
	PairingStateOOBExpected      PairingState = 6
	PairingStateKeyDistribution  PairingState = 7
	PairingStateCompleted        PairingState = 8
	PairingStatePasskeyNotified  PairingState = 9
	PairingStateProcessStarted   PairingState = 10
	PairingStateProcessCompleted PairingState = PairingStateCompleted
)

func (s PairingState) String() string {
	switch s {
	case PairingStateFailed:
		return "failed"
	case PairingStateRequested:
		return "requested"
	case PairingStateFeatureExchange:
		return "feature-exchange"
	case PairingStatePasskeyExpected:
		return "passkey-expected"
	case PairingStateNumericExpected:
		return "numeric-comparison-expected"
	case PairingStateOOBExpected:
		return "oob-expected"
	case PairingStateKeyDistribution:
		return "key-distribution"
	case PairingStateCompleted:
		return "completed"
	case PairingStatePasskeyNotified:
		return "passkey-notified"
	case PairingStateProcessStarted:
		return "started"
	default:
		return "none"
	}
}

// SecurityLevel is the requested/achieved LE security level.
type SecurityLevel uint8

const (
	SecurityUnset       SecurityLevel = 0
	SecurityNone        SecurityLevel = 1
	SecurityEncOnly     SecurityLevel = 2 // unauthenticated encryption
	SecurityEncAuth     SecurityLevel = 3 // authenticated encryption
	SecurityEncAuthFIPS SecurityLevel = 4 // authenticated LE secure connections
)

func (l SecurityLevel) String() string {
	switch l {
	case SecurityNone:
		return "none"
	case SecurityEncOnly:
		return "enc-only"
	case SecurityEncAuth:
		return "enc-auth"
	case SecurityEncAuthFIPS:
		return "enc-auth-fips"
	default:
		return "unset"
	}
}

// IOCapability is the SMP io capability advertised during pairing
// [Vol 3, Part H, 2.3.2].
type IOCapability uint8

const (
	IOCapDisplayOnly     IOCapability = 0x00
	IOCapDisplayYesNo    IOCapability = 0x01
	IOCapKeyboardOnly    IOCapability = 0x02
	IOCapNoInputNoOutput IOCapability = 0x03
	IOCapKeyboardDisplay IOCapability = 0x04
	IOCapUnset           IOCapability = 0xff
)

func (c IOCapability) String() string {
	switch c {
	case IOCapDisplayOnly:
		return "display-only"
	case IOCapDisplayYesNo:
		return "display-yes-no"
	case IOCapKeyboardOnly:
		return "keyboard-only"
	case IOCapNoInputNoOutput:
		return "no-input-no-output"
	case IOCapKeyboardDisplay:
		return "keyboard-display"
	default:
		return "unset"
	}
}

// LEPHY is the LE physical layer rate bitmask.
type LEPHY uint8

const (
	PHYUnset LEPHY = 0
	PHY1M    LEPHY = 1 << 0
	PHY2M    LEPHY = 1 << 1
	PHYCoded LEPHY = 1 << 2
)

// LEFeatures is the LE feature bitmask read from the controller
// [Vol 6, Part B, 4.6].
type LEFeatures uint64

const (
	LEFeatEncryption    LEFeatures = 1 << 0
	LEFeatConnParamReq  LEFeatures = 1 << 1
	LEFeatExtReject     LEFeatures = 1 << 2
	LEFeatSlaveFeatures LEFeatures = 1 << 3
	LEFeatPing          LEFeatures = 1 << 4
	LEFeatDataLength    LEFeatures = 1 << 5
	LEFeatPrivacy       LEFeatures = 1 << 6
	LEFeatExtScanner    LEFeatures = 1 << 7
	LEFeat2MPHY         LEFeatures = 1 << 8
	LEFeatCodedPHY      LEFeatures = 1 << 11
	LEFeatExtAdv        LEFeatures = 1 << 12
)

// ConnParams are the LE connection establishment parameters, in the units
// the controller expects (1.25ms intervals, 10ms supervision units).
type ConnParams struct {
	ScanInterval     uint16
	ScanWindow       uint16
	IntervalMin      uint16
	IntervalMax      uint16
	Latency          uint16
	SupervisionTO    uint16
	MinCELength      uint16
	MaxCELength      uint16
	ConnectedLatency uint16
}

// DefaultConnParams matches the values the stack uses when the application
// sets nothing: 30-50ms interval, no latency, 4.2s supervision timeout.
func DefaultConnParams() ConnParams {
	return ConnParams{
		ScanInterval:  0x0060,
		ScanWindow:    0x0030,
		IntervalMin:   0x0018,
		IntervalMax:   0x0028,
		Latency:       0x0000,
		SupervisionTO: 0x01a4,
	}
}

// ScanParams are LE scan parameters in 0.625ms units.
type ScanParams struct {
	Active       bool
	Interval     uint16
	Window       uint16
	FilterPolicy uint8
}

// DefaultScanParams is an active 60ms/30ms scan with no filter policy.
func DefaultScanParams() ScanParams {
	return ScanParams{Active: true, Interval: 0x0060, Window: 0x0030}
}

// AdvParams are LE advertising parameters [Vol 4, Part E, 7.8.5].
type AdvParams struct {
	IntervalMin  uint16
	IntervalMax  uint16
	Type         uint8 // ADV_IND, ADV_DIRECT_IND, ADV_SCAN_IND, ADV_NONCONN_IND
	ChannelMap   uint8
	FilterPolicy uint8
}

// Advertising PDU types.
const (
	AdvTypeInd        uint8 = 0x00
	AdvTypeDirectInd  uint8 = 0x01
	AdvTypeScanInd    uint8 = 0x02
	AdvTypeNonconnInd uint8 = 0x03
)

// DefaultAdvParams advertises connectable/undirected on all three channels
// at 100-150ms.
func DefaultAdvParams() AdvParams {
	return AdvParams{
		IntervalMin: 0x00a0,
		IntervalMax: 0x00f0,
		Type:        AdvTypeInd,
		ChannelMap:  0x07,
	}
}

// Timestamp is the event time source; a variable so scenario tests can pin it.
var Timestamp = time.Now
