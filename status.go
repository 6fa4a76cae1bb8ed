package bthost

import "fmt"

// HCIStatus is the closed status code set returned by stack operations.
// Values below 0xf0 are controller error codes [Vol 1, Part F, 1.3]; the
// remainder are host-side extensions. Operational failures travel as
// HCIStatus values, never as errors (errors are reserved for contract
// violations at the call boundary).
type HCIStatus uint8

const (
	StatusSuccess           HCIStatus = 0x00
	StatusUnknownCommand    HCIStatus = 0x01
	StatusUnknownConnID     HCIStatus = 0x02
	StatusHardwareFailure   HCIStatus = 0x03
	StatusPageTimeout       HCIStatus = 0x04
	StatusAuthFailure       HCIStatus = 0x05
	StatusPINOrKeyMissing   HCIStatus = 0x06
	StatusMemoryExceeded    HCIStatus = 0x07
	StatusConnectionTimeout HCIStatus = 0x08
	StatusConnectionLimit   HCIStatus = 0x09
	StatusAlreadyConnected  HCIStatus = 0x0b
	StatusCommandDisallowed HCIStatus = 0x0c
	StatusRejectedResources HCIStatus = 0x0d
	StatusRejectedSecurity  HCIStatus = 0x0e
	StatusInvalidParams     HCIStatus = 0x12
	StatusRemoteTerminated  HCIStatus = 0x13
	StatusLocalTerminated   HCIStatus = 0x16
	StatusUnsupportedFeat   HCIStatus = 0x11
	StatusLMPTimeout        HCIStatus = 0x22
	StatusEncryptionMode    HCIStatus = 0x25
	StatusConnFailedEstab   HCIStatus = 0x3e

	// Host-side extensions, never seen on the wire.
	StatusNotConnected    HCIStatus = 0xfb
	StatusNotPowered      HCIStatus = 0xfc
	StatusInternalTimeout HCIStatus = 0xfd
	StatusInternalFailure HCIStatus = 0xfe
	StatusUnknown         HCIStatus = 0xff
)

var statusNames = map[HCIStatus]string{
	StatusSuccess:           "success",
	StatusUnknownCommand:    "unknown command",
	StatusUnknownConnID:     "unknown connection identifier",
	StatusHardwareFailure:   "hardware failure",
	StatusPageTimeout:       "page timeout",
	StatusAuthFailure:       "authentication failure",
	StatusPINOrKeyMissing:   "pin or key missing",
	StatusMemoryExceeded:    "memory capacity exceeded",
	StatusConnectionTimeout: "connection timeout",
	StatusConnectionLimit:   "connection limit exceeded",
	StatusAlreadyConnected:  "connection already exists",
	StatusCommandDisallowed: "command disallowed",
	StatusRejectedResources: "rejected: limited resources",
	StatusRejectedSecurity:  "rejected: security reasons",
	StatusInvalidParams:     "invalid parameters",
	StatusRemoteTerminated:  "remote user terminated connection",
	StatusLocalTerminated:   "connection terminated by local host",
	StatusUnsupportedFeat:   "unsupported feature or parameter",
	StatusLMPTimeout:        "lmp response timeout",
	StatusEncryptionMode:    "encryption mode not acceptable",
	StatusConnFailedEstab:   "connection failed to be established",
	StatusNotConnected:      "not connected",
	StatusNotPowered:        "adapter not powered",
	StatusInternalTimeout:   "internal timeout",
	StatusInternalFailure:   "internal failure",
	StatusUnknown:           "unknown",
}

func (s HCIStatus) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("status 0x%02x", uint8(s))
}

// IsOK reports success.
func (s HCIStatus) IsOK() bool { return s == StatusSuccess }
