// Package smp implements the Security Manager Protocol over the SMP
// fixed channel of a connection: feature exchange, legacy and LE Secure
// Connections pairing, and transport specific key distribution.
package smp

import (
	"time"

	"github.com/airlinklabs/bthost"
)

const (
	pairingRequest          = 0x01
	pairingResponse         = 0x02
	pairingConfirm          = 0x03
	pairingRandom           = 0x04
	pairingFailed           = 0x05
	encryptionInformation   = 0x06
	masterIdentification    = 0x07
	identityInformation     = 0x08
	identityAddrInformation = 0x09
	signingInformation      = 0x0A
	securityRequest         = 0x0B
	pairingPublicKey        = 0x0C
	pairingDHKeyCheck       = 0x0D
	pairingKeypress         = 0x0E

	passkeyIterationCount = 20
)

// Pairing Failed reason codes [Vol 3, Part H, 3.5.5].
const (
	reasonPasskeyEntryFailed  = 0x01
	reasonOOBNotAvailable     = 0x02
	reasonAuthRequirements    = 0x03
	reasonConfirmValueFailed  = 0x04
	reasonPairingNotSupported = 0x05
	reasonEncryptionKeySize   = 0x06
	reasonCommandNotSupported = 0x07
	reasonUnspecified         = 0x08
	reasonRepeatedAttempts    = 0x09
	reasonInvalidParameters   = 0x0A
	reasonDHKeyCheckFailed    = 0x0B
	reasonNumericCompFailed   = 0x0C
)

var pairingFailedReason = map[byte]string{
	reasonPasskeyEntryFailed:  "passkey entry failed",
	reasonOOBNotAvailable:     "oob not available",
	reasonAuthRequirements:    "authentication requirements",
	reasonConfirmValueFailed:  "confirm value failed",
	reasonPairingNotSupported: "pairing not supported",
	reasonEncryptionKeySize:   "encryption key size",
	reasonCommandNotSupported: "command not supported",
	reasonUnspecified:         "unspecified",
	reasonRepeatedAttempts:    "repeated attempts",
	reasonInvalidParameters:   "invalid parameters",
	reasonDHKeyCheckFailed:    "dhkey check failed",
	reasonNumericCompFailed:   "numeric comparison failed",
}

// AuthReq bits [Vol 3, Part H, 3.5.1].
const (
	authReqBondMask = byte(0x03)
	authReqBond     = byte(0x01)
	authReqMITM     = byte(0x04)
	authReqSC       = byte(0x08)
)

// Key distribution bits [Vol 3, Part H, 3.6.1].
const (
	keyDistEncKey  = byte(0x01)
	keyDistIDKey   = byte(0x02)
	keyDistSignKey = byte(0x04)
)

const defaultPairingTimeout = time.Minute

// Config carries the fields of a Pairing Request/Response PDU.
type Config struct {
	IOCap       byte
	OOBFlag     byte
	AuthReq     byte
	MaxKeySize  byte
	InitKeyDist byte
	RespKeyDist byte
}

// DefaultConfig builds a pairing feature set from the host facing
// security knobs.
func DefaultConfig(io bthost.IOCapability, secureConn, bonding, mitm bool) Config {
	c := Config{
		IOCap:       byte(io),
		MaxKeySize:  16,
		InitKeyDist: keyDistEncKey | keyDistIDKey,
		RespKeyDist: keyDistEncKey | keyDistIDKey,
	}
	if io == bthost.IOCapUnset {
		c.IOCap = byte(bthost.IOCapNoInputNoOutput)
	}
	if secureConn {
		c.AuthReq |= authReqSC
	}
	if bonding {
		c.AuthReq |= authReqBond
	}
	if mitm {
		c.AuthReq |= authReqMITM
	}
	return c
}

// AuthData carries user supplied pairing input: a fixed passkey and/or
// out of band data known ahead of time.
type AuthData struct {
	Passkey int
	OOBData []byte
}

func isLegacy(authReq byte) bool {
	return authReq&authReqSC == 0
}

func buildPairingReq(c Config) []byte {
	return []byte{pairingRequest, c.IOCap, c.OOBFlag, c.AuthReq, c.MaxKeySize, c.InitKeyDist, c.RespKeyDist}
}

func buildPairingRsp(c Config) []byte {
	return []byte{pairingResponse, c.IOCap, c.OOBFlag, c.AuthReq, c.MaxKeySize, c.InitKeyDist, c.RespKeyDist}
}

func parseConfig(in []byte) Config {
	return Config{
		IOCap:       in[0],
		OOBFlag:     in[1],
		AuthReq:     in[2],
		MaxKeySize:  in[3],
		InitKeyDist: in[4],
		RespKeyDist: in[5],
	}
}

// Pairing method selection per the io capability matrices
// [Vol 3, Part H, 2.3.5.1, tables 2.6-2.8]. Rows are the responder's io
// capability, columns the initiator's.
var ioCapsTableSC = [][]bthost.PairingMode{
	{bthost.PairingModeJustWorks, bthost.PairingModeJustWorks, bthost.PairingModePasskeyEntryIni, bthost.PairingModeJustWorks, bthost.PairingModePasskeyEntryIni},
	{bthost.PairingModeJustWorks, bthost.PairingModeNumericCompareIni, bthost.PairingModePasskeyEntryIni, bthost.PairingModeJustWorks, bthost.PairingModeNumericCompareIni},
	{bthost.PairingModePasskeyEntryRes, bthost.PairingModePasskeyEntryRes, bthost.PairingModePasskeyEntryRes, bthost.PairingModeJustWorks, bthost.PairingModePasskeyEntryRes},
	{bthost.PairingModeJustWorks, bthost.PairingModeJustWorks, bthost.PairingModeJustWorks, bthost.PairingModeJustWorks, bthost.PairingModeJustWorks},
	{bthost.PairingModePasskeyEntryRes, bthost.PairingModeNumericCompareIni, bthost.PairingModePasskeyEntryRes, bthost.PairingModeJustWorks, bthost.PairingModeNumericCompareIni},
}

var ioCapsTableLegacy = [][]bthost.PairingMode{
	{bthost.PairingModeJustWorks, bthost.PairingModeJustWorks, bthost.PairingModePasskeyEntryIni, bthost.PairingModeJustWorks, bthost.PairingModePasskeyEntryIni},
	{bthost.PairingModeJustWorks, bthost.PairingModeJustWorks, bthost.PairingModePasskeyEntryIni, bthost.PairingModeJustWorks, bthost.PairingModePasskeyEntryIni},
	{bthost.PairingModePasskeyEntryRes, bthost.PairingModePasskeyEntryRes, bthost.PairingModePasskeyEntryRes, bthost.PairingModeJustWorks, bthost.PairingModePasskeyEntryRes},
	{bthost.PairingModeJustWorks, bthost.PairingModeJustWorks, bthost.PairingModeJustWorks, bthost.PairingModeJustWorks, bthost.PairingModeJustWorks},
	{bthost.PairingModePasskeyEntryRes, bthost.PairingModePasskeyEntryRes, bthost.PairingModePasskeyEntryRes, bthost.PairingModeJustWorks, bthost.PairingModePasskeyEntryRes},
}

func determinePairingMode(req, rsp Config, legacy bool) bthost.PairingMode {
	if req.OOBFlag == 0x01 || rsp.OOBFlag == 0x01 {
		return bthost.PairingModeOutOfBand
	}

	if req.AuthReq&authReqMITM == 0 && rsp.AuthReq&authReqMITM == 0 {
		return bthost.PairingModeJustWorks
	}

	table := ioCapsTableSC
	if legacy {
		table = ioCapsTableLegacy
	}
	if int(req.IOCap) >= len(table) || int(rsp.IOCap) >= len(table) {
		return bthost.PairingModeJustWorks
	}
	return table[rsp.IOCap][req.IOCap]
}
