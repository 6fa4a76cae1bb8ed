package smp

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/airlinklabs/bthost"
)

// pairingContext accumulates the state of one pairing procedure.
// Addresses are kept little-endian with the address type in the seventh
// byte, the form the toolbox functions consume.
type pairingContext struct {
	initiator bool
	request   Config
	response  Config
	authData  AuthData

	localAddr  []byte // 7 bytes
	remoteAddr []byte

	localRandom   []byte
	localConfirm  []byte
	remoteRandom  []byte
	remoteConfirm []byte

	scECDHKeys         *ECDHKeys
	scRemotePubKey     crypto.PublicKey
	scDHKey            []byte
	scMacKey           []byte
	scRemoteDHKeyCheck []byte

	legacy       bool
	mode         bthost.PairingMode
	shortTermKey []byte
	longTermKey  []byte

	passKeyIteration int
	passkey          uint32

	// distributed key material, both directions
	localKeys  bthost.KeySet
	remoteKeys bthost.KeySet
}

func addr7(p bthost.PeerID) []byte {
	a := p.Addr.WireBytes()
	return append(a, byte(p.Type))
}

func newPairingContext(initiator bool, req Config, local, remote bthost.PeerID) *pairingContext {
	return &pairingContext{
		initiator:  initiator,
		request:    req,
		localAddr:  addr7(local),
		remoteAddr: addr7(remote),
	}
}

// initiatorOrder returns (na, nb, a, b): initiator random/address first,
// regardless of the local role.
func (p *pairingContext) initiatorOrder() (na, nb, a, b []byte) {
	if p.initiator {
		return p.localRandom, p.remoteRandom, p.localAddr, p.remoteAddr
	}
	return p.remoteRandom, p.localRandom, p.remoteAddr, p.localAddr
}

func newRandom() ([]byte, error) {
	r := make([]byte, 16)
	if _, err := rand.Read(r); err != nil {
		return nil, err
	}
	return r, nil
}

// checkConfirm verifies the peer's secure connections confirm against
// its random: C = f4(PKremote-x, PKlocal-x, Nremote, 0).
func (p *pairingContext) checkConfirm() error {
	kbx := MarshalPublicKeyX(p.scRemotePubKey)
	kax := MarshalPublicKeyX(p.scECDHKeys.public)

	calcConf, err := smpF4(kbx, kax, p.remoteRandom, 0)
	if err != nil {
		return err
	}

	if !bytes.Equal(calcConf, p.remoteConfirm) {
		return fmt.Errorf("confirm mismatch, exp %v got %v",
			hex.EncodeToString(p.remoteConfirm), hex.EncodeToString(calcConf))
	}

	return nil
}

// generateConfirm produces the local confirm over a fresh local random.
func (p *pairingContext) generateConfirm() ([]byte, error) {
	r, err := newRandom()
	if err != nil {
		return nil, err
	}
	p.localRandom = r

	kax := MarshalPublicKeyX(p.scECDHKeys.public)
	kbx := MarshalPublicKeyX(p.scRemotePubKey)

	conf, err := smpF4(kax, kbx, p.localRandom, 0)
	if err != nil {
		return nil, err
	}
	p.localConfirm = conf
	return conf, nil
}

func passkeyZ(iteration int, key uint32) uint8 {
	return 0x80 | uint8((key>>uint(iteration))&1)
}

func (p *pairingContext) checkPasskeyConfirm() error {
	kbx := MarshalPublicKeyX(p.scRemotePubKey)
	kax := MarshalPublicKeyX(p.scECDHKeys.public)
	z := passkeyZ(p.passKeyIteration, p.passkey)

	calcConf, err := smpF4(kbx, kax, p.remoteRandom, z)
	if err != nil {
		return err
	}

	if !bytes.Equal(p.remoteConfirm, calcConf) {
		return fmt.Errorf("passkey confirm mismatch %d, exp %v got %v",
			p.passKeyIteration, hex.EncodeToString(p.remoteConfirm), hex.EncodeToString(calcConf))
	}

	return nil
}

func (p *pairingContext) generatePassKeyConfirm() ([]byte, error) {
	r, err := newRandom()
	if err != nil {
		return nil, err
	}
	p.localRandom = r

	kax := MarshalPublicKeyX(p.scECDHKeys.public)
	kbx := MarshalPublicKeyX(p.scRemotePubKey)
	z := passkeyZ(p.passKeyIteration, p.passkey)

	conf, err := smpF4(kax, kbx, r, z)
	if err != nil {
		return nil, err
	}
	p.localConfirm = conf
	return conf, nil
}

// compareValue computes the 6-digit numeric comparison value
// Va = g2(PKax, PKbx, Na, Nb).
func (p *pairingContext) compareValue() (uint32, error) {
	localX := MarshalPublicKeyX(p.scECDHKeys.public)
	remoteX := MarshalPublicKeyX(p.scRemotePubKey)

	na, nb, _, _ := p.initiatorOrder()
	if p.initiator {
		return smpG2(localX, remoteX, na, nb)
	}
	return smpG2(remoteX, localX, na, nb)
}

func (p *pairingContext) generateDHKey() error {
	if p == nil || p.scECDHKeys == nil {
		return fmt.Errorf("nil keys")
	}
	if p.scRemotePubKey == nil {
		return fmt.Errorf("missing remote public key")
	}

	dk, err := GenerateSecret(p.scECDHKeys.private, p.scRemotePubKey)
	if err != nil {
		return err
	}
	p.scDHKey = dk
	return nil
}

// calcMacLtk derives MacKey and LTK from the DHKey:
// MacKey || LTK = f5(DHKey, Na, Nb, A, B) [Vol 3, Part H, 2.3.5.6.5].
func (p *pairingContext) calcMacLtk() error {
	if err := p.generateDHKey(); err != nil {
		return err
	}

	na, nb, a, b := p.initiatorOrder()
	mk, ltk, err := smpF5(p.scDHKey, na, nb, a, b)
	if err != nil {
		return err
	}

	p.scMacKey = mk
	p.longTermKey = ltk
	return nil
}

// dhKeyCheckR builds the r input of f6 for the local check value.
func (p *pairingContext) dhKeyCheckR() []byte {
	switch p.mode {
	case bthost.PairingModePasskeyEntryIni, bthost.PairingModePasskeyEntryRes:
		return passkeyR(p.passkey)
	case bthost.PairingModeOutOfBand:
		r := make([]byte, 16)
		copy(r, p.authData.OOBData)
		return r
	default:
		return make([]byte, 16)
	}
}

func ioCapBytes(c Config) []byte {
	// little-endian IOcap field: io capability, oob flag, auth req
	return []byte{c.IOCap, c.OOBFlag, c.AuthReq}
}

// localDHKeyCheck computes Ea (initiator) or Eb (responder).
func (p *pairingContext) localDHKeyCheck() ([]byte, error) {
	na, nb, a, b := p.initiatorOrder()
	if p.initiator {
		return smpF6(p.scMacKey, na, nb, p.dhKeyCheckR(), ioCapBytes(p.request), a, b)
	}
	return smpF6(p.scMacKey, nb, na, p.dhKeyCheckR(), ioCapBytes(p.response), b, a)
}

// checkDHKeyCheck verifies the peer's check value with the peer's io
// capabilities and ordering.
func (p *pairingContext) checkDHKeyCheck() error {
	na, nb, a, b := p.initiatorOrder()

	var exp []byte
	var err error
	if p.initiator {
		exp, err = smpF6(p.scMacKey, nb, na, p.dhKeyCheckR(), ioCapBytes(p.response), b, a)
	} else {
		exp, err = smpF6(p.scMacKey, na, nb, p.dhKeyCheckR(), ioCapBytes(p.request), a, b)
	}
	if err != nil {
		return err
	}

	if !bytes.Equal(exp, p.scRemoteDHKeyCheck) {
		return fmt.Errorf("dhkey check mismatch, exp %v got %v",
			hex.EncodeToString(exp), hex.EncodeToString(p.scRemoteDHKeyCheck))
	}
	return nil
}

func (p *pairingContext) legacyTK() []byte {
	switch p.mode {
	case bthost.PairingModePasskeyEntryIni, bthost.PairingModePasskeyEntryRes:
		return legacyPairingTK(p.passkey)
	default:
		return make([]byte, 16)
	}
}

// generateLegacyConfirm computes the local legacy confirm
// c1(TK, rand, preq, pres, iat, rat, ia, ra) over a fresh random.
func (p *pairingContext) generateLegacyConfirm() ([]byte, error) {
	r, err := newRandom()
	if err != nil {
		return nil, err
	}
	p.localRandom = r

	conf, err := p.legacyConfirm(p.localRandom)
	if err != nil {
		return nil, err
	}
	p.localConfirm = conf
	return conf, nil
}

func (p *pairingContext) legacyConfirm(random []byte) ([]byte, error) {
	preq := buildPairingReq(p.request)
	pres := buildPairingRsp(p.response)

	_, _, a, b := p.initiatorOrder()
	return smpC1(p.legacyTK(), random, preq, pres,
		a[6], b[6], a[:6], b[:6])
}

func (p *pairingContext) checkLegacyConfirm() error {
	c1, err := p.legacyConfirm(p.remoteRandom)
	if err != nil {
		return err
	}

	if !bytes.Equal(p.remoteConfirm, c1) {
		return fmt.Errorf("legacy confirm mismatch, exp %s calc %s",
			hex.EncodeToString(p.remoteConfirm), hex.EncodeToString(c1))
	}
	return nil
}

// calcSTK derives the legacy short term key from both randoms:
// STK = s1(TK, Srand, Mrand) [Vol 3, Part H, 2.3.5.5].
func (p *pairingContext) calcSTK() error {
	na, nb, _, _ := p.initiatorOrder()

	stk, err := smpS1(p.legacyTK(), nb, na)
	if err != nil {
		return err
	}
	p.shortTermKey = stk
	return nil
}

// authenticated reports whether the negotiated method protects against
// MITM.
func (p *pairingContext) authenticated() bool {
	switch p.mode {
	case bthost.PairingModePasskeyEntryIni, bthost.PairingModePasskeyEntryRes,
		bthost.PairingModeNumericCompareIni, bthost.PairingModeNumericCompareRes,
		bthost.PairingModeOutOfBand:
		return true
	}
	return false
}
