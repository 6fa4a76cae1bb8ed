package smp

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/airlinklabs/bthost"
)

type state int

const (
	stateIdle state = iota
	stateWaitPairingResponse
	stateWaitPublicKey
	stateWaitConfirm
	stateWaitRandom
	stateWaitUserInput
	stateWaitDHKeyCheck
	stateKeyDistribution
	stateFinished
	stateError
)

// Manager runs the SMP state machine for one connection, in whichever
// role the link puts it. Handle must be called from the connection's SMP
// delivery goroutine; the exported setters are safe before pairing starts.
type Manager struct {
	config Config
	log    bthost.Logger

	local  bthost.PeerID
	remote bthost.PeerID

	writePDU func([]byte) (int, error)
	encrypt  func(ltk bthost.LongTermKey) error
	stateFn  func(st bthost.PairingState, mode bthost.PairingMode)
	compare  func(value uint32)
	lookup   func(peer bthost.PeerID) (bthost.LongTermKey, bool)
	keysFn   func(local, remote bthost.KeySet)

	localIRK  [16]byte
	localCSRK [16]byte
	authData  AuthData

	pairing *pairingContext
	state   state

	expectKeys int // key PDUs still owed by the peer
	sentKeys   bool

	result chan error
}

// NewManager builds a pairing manager for the link between local and
// remote. initiator selects the SMP role.
func NewManager(config Config, local, remote bthost.PeerID, initiator bool) *Manager {
	m := &Manager{
		config: config,
		local:  local,
		remote: remote,
		log: bthost.GetLogger().ChildLogger(map[string]interface{}{
			"module": "smp",
			"peer":   remote.String(),
		}),
		pairing: newPairingContext(initiator, config, local, remote),
		result:  make(chan error, 1),
	}
	rand.Read(m.localIRK[:])
	rand.Read(m.localCSRK[:])
	return m
}

// SetWritePDUFunc installs the SMP channel writer.
func (m *Manager) SetWritePDUFunc(w func([]byte) (int, error)) { m.writePDU = w }

// SetEncryptFunc installs the link encryption trigger used once key
// material is agreed.
func (m *Manager) SetEncryptFunc(e func(ltk bthost.LongTermKey) error) { m.encrypt = e }

// SetStateFunc installs the pairing progress observer.
func (m *Manager) SetStateFunc(f func(st bthost.PairingState, mode bthost.PairingMode)) {
	m.stateFn = f
}

// SetCompareFunc installs the numeric comparison display callback. The
// owner answers with ConfirmNumericComparison.
func (m *Manager) SetCompareFunc(f func(value uint32)) { m.compare = f }

// SetBondLookupFunc installs the stored-key lookup consulted on a
// security request.
func (m *Manager) SetBondLookupFunc(f func(peer bthost.PeerID) (bthost.LongTermKey, bool)) {
	m.lookup = f
}

// SetKeysFunc installs the sink receiving both key sets when
// distribution completes.
func (m *Manager) SetKeysFunc(f func(local, remote bthost.KeySet)) { m.keysFn = f }

// SetIRK overrides the identity resolving key distributed to peers.
func (m *Manager) SetIRK(irk [16]byte) { m.localIRK = irk }

// SetAuthData presets the pairing secrets used when the peer initiates.
func (m *Manager) SetAuthData(auth AuthData) { m.authData = auth }

func (m *Manager) send(pdu []byte) error {
	if m.writePDU == nil {
		return fmt.Errorf("no smp transport")
	}
	_, err := m.writePDU(pdu)
	return err
}

func (m *Manager) setState(s state, public bthost.PairingState) {
	m.state = s
	if m.stateFn != nil && public != bthost.PairingStateNone {
		m.stateFn(public, m.pairing.mode)
	}
}

func (m *Manager) fail(reason byte, err error) error {
	m.state = stateError
	_ = m.send([]byte{pairingFailed, reason})
	if m.stateFn != nil {
		m.stateFn(bthost.PairingStateFailed, m.pairing.mode)
	}
	select {
	case m.result <- err:
	default:
	}
	return err
}

func (m *Manager) finish() {
	if m.state == stateFinished {
		return
	}
	m.state = stateFinished
	if m.keysFn != nil {
		m.keysFn(m.pairing.localKeys, m.pairing.remoteKeys)
	}
	if m.stateFn != nil {
		m.stateFn(bthost.PairingStateCompleted, m.pairing.mode)
	}
	select {
	case m.result <- nil:
	default:
	}
}

// Pair drives the initiator role to completion or failure within the
// timeout. Passkey and out of band secrets travel in auth.
func (m *Manager) Pair(auth AuthData, to time.Duration) error {
	if m.state != stateIdle {
		return fmt.Errorf("pairing already in progress")
	}
	if to <= 0 {
		to = defaultPairingTimeout
	}

	m.pairing = newPairingContext(true, m.config, m.local, m.remote)
	m.pairing.authData = auth
	m.pairing.passkey = uint32(auth.Passkey)
	if len(auth.OOBData) > 0 {
		m.pairing.request.OOBFlag = 0x01
	}

	m.setState(stateWaitPairingResponse, bthost.PairingStateRequested)
	if err := m.send(buildPairingReq(m.pairing.request)); err != nil {
		m.state = stateError
		return err
	}

	select {
	case err := <-m.result:
		return err
	case <-time.After(to):
		return fmt.Errorf("pairing timed out")
	}
}

// SendSecurityRequest asks the central to initiate pairing or encryption
// [Vol 3, Part H, 3.6.7]. Peripheral role only.
func (m *Manager) SendSecurityRequest() error {
	return m.send([]byte{securityRequest, m.config.AuthReq})
}

// ConfirmNumericComparison resumes a pairing stalled on the comparison
// display. ok=false aborts with Numeric Comparison Failed.
func (m *Manager) ConfirmNumericComparison(ok bool) error {
	if m.state != stateWaitUserInput {
		return fmt.Errorf("no comparison pending")
	}
	if !ok {
		return m.fail(reasonNumericCompFailed, fmt.Errorf("numeric comparison rejected"))
	}
	if m.pairing.initiator {
		return m.continueAfterRandom()
	}
	m.state = stateWaitDHKeyCheck
	return nil
}

// SetPasskey supplies the passkey a stalled pairing is waiting for.
func (m *Manager) SetPasskey(key int) error {
	if m.state != stateWaitUserInput {
		return fmt.Errorf("no passkey request pending")
	}
	m.pairing.passkey = uint32(key)
	if m.pairing.legacy {
		return m.sendLegacyConfirm()
	}
	return m.sendPassKeyConfirm()
}

// Handle processes one inbound SMP PDU.
func (m *Manager) Handle(pdu []byte) error {
	if len(pdu) == 0 {
		return fmt.Errorf("empty smp pdu")
	}
	code, data := pdu[0], pdu[1:]

	switch code {
	case pairingRequest:
		return m.onPairingRequest(data)
	case pairingResponse:
		return m.onPairingResponse(data)
	case pairingConfirm:
		return m.onPairingConfirm(data)
	case pairingRandom:
		return m.onPairingRandom(data)
	case pairingPublicKey:
		return m.onPublicKey(data)
	case pairingDHKeyCheck:
		return m.onDHKeyCheck(data)
	case pairingFailed:
		return m.onPairingFailed(data)
	case securityRequest:
		return m.onSecurityRequest(data)
	case encryptionInformation, masterIdentification,
		identityInformation, identityAddrInformation, signingInformation:
		return m.onKeyDistribution(code, data)
	case pairingKeypress:
		return nil
	default:
		// C.5.1 Pairing Not Supported
		return m.send([]byte{pairingFailed, reasonCommandNotSupported})
	}
}

func (m *Manager) onPairingRequest(in []byte) error {
	if len(in) < 6 {
		return m.fail(reasonInvalidParameters, fmt.Errorf("invalid pairing request length %d", len(in)))
	}
	if m.state != stateIdle {
		return m.fail(reasonRepeatedAttempts, fmt.Errorf("pairing already in progress"))
	}

	m.pairing = newPairingContext(false, m.config, m.local, m.remote)
	m.pairing.request = parseConfig(in)
	m.pairing.response = m.config
	m.pairing.authData = m.authData
	// secure connections only happens when both sides ask for it
	if isLegacy(m.pairing.request.AuthReq) {
		m.pairing.response.AuthReq &^= authReqSC
	}
	m.pairing.legacy = isLegacy(m.pairing.request.AuthReq) || isLegacy(m.pairing.response.AuthReq)
	m.pairing.mode = determinePairingMode(m.pairing.request, m.pairing.response, m.pairing.legacy)
	m.log.Debugf("pairing request, mode %v legacy %v", m.pairing.mode, m.pairing.legacy)

	if err := m.send(buildPairingRsp(m.pairing.response)); err != nil {
		return m.fail(reasonUnspecified, err)
	}

	if m.needPasskey() && m.pairing.authData.Passkey > 0 {
		m.pairing.passkey = uint32(m.pairing.authData.Passkey)
	}

	if m.pairing.legacy {
		m.setState(stateWaitConfirm, bthost.PairingStateFeatureExchange)
		return nil
	}
	m.setState(stateWaitPublicKey, bthost.PairingStateFeatureExchange)
	return nil
}

func (m *Manager) onPairingResponse(in []byte) error {
	if len(in) < 6 {
		return m.fail(reasonInvalidParameters, fmt.Errorf("invalid pairing response length %d", len(in)))
	}
	if m.state != stateWaitPairingResponse {
		return m.fail(reasonUnspecified, fmt.Errorf("unexpected pairing response"))
	}

	m.pairing.response = parseConfig(in)
	m.pairing.legacy = isLegacy(m.pairing.request.AuthReq) || isLegacy(m.pairing.response.AuthReq)
	m.pairing.mode = determinePairingMode(m.pairing.request, m.pairing.response, m.pairing.legacy)
	m.log.Debugf("pairing response, mode %v legacy %v", m.pairing.mode, m.pairing.legacy)

	if m.pairing.mode == bthost.PairingModeOutOfBand && len(m.pairing.authData.OOBData) == 0 {
		return m.fail(reasonOOBNotAvailable, fmt.Errorf("pairing requires oob data but none supplied"))
	}
	if m.stateFn != nil {
		m.stateFn(bthost.PairingStateFeatureExchange, m.pairing.mode)
	}

	if m.pairing.legacy {
		if m.needPasskey() && m.pairing.authData.Passkey < 0 {
			m.setState(stateWaitUserInput, bthost.PairingStatePasskeyExpected)
			return nil
		}
		m.pairing.passkey = uint32(m.pairing.authData.Passkey)
		return m.sendLegacyConfirm()
	}
	return m.sendPublicKey()
}

func (m *Manager) needPasskey() bool {
	switch m.pairing.mode {
	case bthost.PairingModePasskeyEntryIni, bthost.PairingModePasskeyEntryRes:
		return true
	}
	return false
}

func (m *Manager) sendPublicKey() error {
	if m.pairing.scECDHKeys == nil {
		keys, err := GenerateKeys()
		if err != nil {
			return m.fail(reasonUnspecified, err)
		}
		m.pairing.scECDHKeys = keys
	}

	k := MarshalPublicKeyXY(m.pairing.scECDHKeys.public)
	m.setState(stateWaitPublicKey, bthost.PairingStateProcessStarted)
	return m.send(append([]byte{pairingPublicKey}, k...))
}

func (m *Manager) onPublicKey(in []byte) error {
	if len(in) != 64 {
		return m.fail(reasonInvalidParameters, fmt.Errorf("invalid public key length %d", len(in)))
	}

	// CVE-2020-26558: a reflected public key would let the peer skip the
	// dhkey computation entirely.
	if m.pairing.scECDHKeys != nil {
		k := MarshalPublicKeyXY(m.pairing.scECDHKeys.public)
		if string(k) == string(in) {
			return m.fail(reasonInvalidParameters, fmt.Errorf("remote public key matches local public key"))
		}
	}

	pubk, ok := UnmarshalPublicKey(in)
	if !ok {
		return m.fail(reasonInvalidParameters, fmt.Errorf("public key rejected"))
	}
	m.pairing.scRemotePubKey = pubk

	if m.pairing.initiator {
		// responder's confirm comes next
		m.state = stateWaitConfirm
		if m.needPasskey() {
			if m.pairing.authData.Passkey < 0 {
				m.setState(stateWaitUserInput, bthost.PairingStatePasskeyExpected)
				return nil
			}
			return m.sendPassKeyConfirm()
		}
		return nil
	}

	// responder answers with its own public key
	if err := m.sendPublicKey(); err != nil {
		return err
	}
	if m.needPasskey() {
		// initiator sends the first passkey confirm
		m.state = stateWaitConfirm
		return nil
	}
	// just works / numeric comparison: Cb goes out now
	conf, err := m.pairing.generateConfirm()
	if err != nil {
		return m.fail(reasonUnspecified, err)
	}
	m.state = stateWaitRandom
	return m.send(append([]byte{pairingConfirm}, conf...))
}

func (m *Manager) sendPassKeyConfirm() error {
	conf, err := m.pairing.generatePassKeyConfirm()
	if err != nil {
		return m.fail(reasonUnspecified, err)
	}
	m.state = stateWaitConfirm
	return m.send(append([]byte{pairingConfirm}, conf...))
}

func (m *Manager) sendLegacyConfirm() error {
	conf, err := m.pairing.generateLegacyConfirm()
	if err != nil {
		return m.fail(reasonUnspecified, err)
	}
	m.state = stateWaitConfirm
	return m.send(append([]byte{pairingConfirm}, conf...))
}

func (m *Manager) onPairingConfirm(in []byte) error {
	if len(in) != 16 {
		return m.fail(reasonInvalidParameters, fmt.Errorf("invalid confirm length"))
	}
	m.pairing.remoteConfirm = append([]byte{}, in...)

	if m.pairing.initiator {
		// answer with our random
		if m.pairing.legacy || m.needPasskey() {
			m.state = stateWaitRandom
			return m.send(append([]byte{pairingRandom}, m.pairing.localRandom...))
		}
		// just works / numeric: generate the random now
		r, err := newRandom()
		if err != nil {
			return m.fail(reasonUnspecified, err)
		}
		m.pairing.localRandom = r
		m.state = stateWaitRandom
		return m.send(append([]byte{pairingRandom}, r...))
	}

	// responder: confirm received, reply with our confirm
	if m.pairing.legacy {
		if m.needPasskey() && m.pairing.authData.Passkey < 0 {
			m.setState(stateWaitUserInput, bthost.PairingStatePasskeyExpected)
			return nil
		}
		conf, err := m.pairing.generateLegacyConfirm()
		if err != nil {
			return m.fail(reasonUnspecified, err)
		}
		m.state = stateWaitRandom
		return m.send(append([]byte{pairingConfirm}, conf...))
	}

	// secure connections passkey iteration: reply Cbi
	conf, err := m.pairing.generatePassKeyConfirm()
	if err != nil {
		return m.fail(reasonUnspecified, err)
	}
	m.state = stateWaitRandom
	return m.send(append([]byte{pairingConfirm}, conf...))
}

func (m *Manager) onPairingRandom(in []byte) error {
	if len(in) != 16 {
		return m.fail(reasonInvalidParameters, fmt.Errorf("invalid random length"))
	}
	m.pairing.remoteRandom = append([]byte{}, in...)

	if m.pairing.legacy {
		return m.onLegacyRandom()
	}
	return m.onSecureRandom()
}

func (m *Manager) onLegacyRandom() error {
	if err := m.pairing.checkLegacyConfirm(); err != nil {
		return m.fail(reasonConfirmValueFailed, err)
	}

	if !m.pairing.initiator {
		// send our random back, then both sides hold the STK
		if err := m.send(append([]byte{pairingRandom}, m.pairing.localRandom...)); err != nil {
			return m.fail(reasonUnspecified, err)
		}
		if err := m.pairing.calcSTK(); err != nil {
			return m.fail(reasonUnspecified, err)
		}
		return m.startKeyDistribution()
	}

	if err := m.pairing.calcSTK(); err != nil {
		return m.fail(reasonUnspecified, err)
	}
	if m.encrypt != nil {
		ltk := bthost.LongTermKey{EncSize: 16}
		copy(ltk.LTK[:], m.pairing.shortTermKey)
		if err := m.encrypt(ltk); err != nil {
			return m.fail(reasonUnspecified, err)
		}
	}
	return m.startKeyDistribution()
}

func (m *Manager) onSecureRandom() error {
	if m.needPasskey() {
		return m.onPassKeyRandom()
	}

	if m.pairing.initiator {
		if err := m.pairing.checkConfirm(); err != nil {
			return m.fail(reasonConfirmValueFailed, err)
		}
	} else {
		// responder replies with its random; the initiator checked Cb
		if err := m.send(append([]byte{pairingRandom}, m.pairing.localRandom...)); err != nil {
			return m.fail(reasonUnspecified, err)
		}
	}

	if m.isNumericComparison() {
		v, err := m.pairing.compareValue()
		if err != nil {
			return m.fail(reasonUnspecified, err)
		}
		m.setState(stateWaitUserInput, bthost.PairingStateNumericExpected)
		if m.compare != nil {
			m.compare(v)
		}
		return nil
	}

	if m.pairing.initiator {
		return m.continueAfterRandom()
	}
	m.state = stateWaitDHKeyCheck
	return nil
}

func (m *Manager) isNumericComparison() bool {
	switch m.pairing.mode {
	case bthost.PairingModeNumericCompareIni, bthost.PairingModeNumericCompareRes:
		return true
	}
	return false
}

// continueAfterRandom runs auth stage 2 on the initiator: derive MacKey
// and LTK, then send the dhkey check [Vol 3, Part H, 2.3.5.6.5].
func (m *Manager) continueAfterRandom() error {
	if err := m.pairing.calcMacLtk(); err != nil {
		return m.fail(reasonUnspecified, err)
	}
	check, err := m.pairing.localDHKeyCheck()
	if err != nil {
		return m.fail(reasonUnspecified, err)
	}
	m.state = stateWaitDHKeyCheck
	return m.send(append([]byte{pairingDHKeyCheck}, check...))
}

func (m *Manager) onPassKeyRandom() error {
	if m.pairing.initiator {
		// Nbi arrived; verify Cbi
		if err := m.pairing.checkPasskeyConfirm(); err != nil {
			return m.fail(reasonConfirmValueFailed, err)
		}
		m.pairing.passKeyIteration++
		if m.pairing.passKeyIteration < passkeyIterationCount {
			return m.sendPassKeyConfirm()
		}
		return m.continueAfterRandom()
	}

	// responder: Nai arrived; verify Cai, then reveal Nbi
	if err := m.pairing.checkPasskeyConfirm(); err != nil {
		return m.fail(reasonConfirmValueFailed, err)
	}
	if err := m.send(append([]byte{pairingRandom}, m.pairing.localRandom...)); err != nil {
		return m.fail(reasonUnspecified, err)
	}
	m.pairing.passKeyIteration++
	if m.pairing.passKeyIteration < passkeyIterationCount {
		m.state = stateWaitConfirm
		return nil
	}
	m.state = stateWaitDHKeyCheck
	return nil
}

func (m *Manager) onDHKeyCheck(in []byte) error {
	if len(in) != 16 {
		return m.fail(reasonInvalidParameters, fmt.Errorf("invalid dhkey check length"))
	}
	m.pairing.scRemoteDHKeyCheck = append([]byte{}, in...)

	if !m.pairing.initiator {
		// Ea arrives before we have derived anything
		if err := m.pairing.calcMacLtk(); err != nil {
			return m.fail(reasonUnspecified, err)
		}
	}
	if err := m.pairing.checkDHKeyCheck(); err != nil {
		return m.fail(reasonDHKeyCheckFailed, err)
	}

	if !m.pairing.initiator {
		check, err := m.pairing.localDHKeyCheck()
		if err != nil {
			return m.fail(reasonUnspecified, err)
		}
		if err := m.send(append([]byte{pairingDHKeyCheck}, check...)); err != nil {
			return m.fail(reasonUnspecified, err)
		}
		return m.startKeyDistribution()
	}

	if m.encrypt != nil {
		ltk := bthost.LongTermKey{EncSize: 16}
		copy(ltk.LTK[:], m.pairing.longTermKey)
		if err := m.encrypt(ltk); err != nil {
			return m.fail(reasonUnspecified, err)
		}
	}
	return m.startKeyDistribution()
}

func (m *Manager) onPairingFailed(in []byte) error {
	reason := "unknown"
	if len(in) > 0 {
		if r, ok := pairingFailedReason[in[0]]; ok {
			reason = r
		}
	}
	m.state = stateError
	err := fmt.Errorf("pairing failed: %s", reason)
	if m.stateFn != nil {
		m.stateFn(bthost.PairingStateFailed, m.pairing.mode)
	}
	select {
	case m.result <- err:
	default:
	}
	return err
}

func (m *Manager) onSecurityRequest(in []byte) error {
	if len(in) < 1 {
		return fmt.Errorf("invalid security request length")
	}

	if in[0]&authReqBondMask == authReqBond && m.lookup != nil {
		if ltk, ok := m.lookup(m.remote); ok && m.encrypt != nil {
			return m.encrypt(ltk)
		}
	}

	// no stored keys, pair from scratch with the peer's requirements
	go func() {
		req := m.config
		req.AuthReq |= in[0] & (authReqBondMask | authReqMITM)
		m.config = req
		if err := m.Pair(m.pairing.authData, defaultPairingTimeout); err != nil {
			m.log.Errorf("pairing after security request: %v", err)
		}
	}()
	return nil
}

// Key distribution. The responder's keys go first [Vol 3, Part H, 3.6.1];
// each side counts the PDUs it is owed and completes when they are in.

func keyCount(dist byte, legacy bool) int {
	n := 0
	if legacy && dist&keyDistEncKey != 0 {
		n += 2 // encryption information + master identification
	}
	if dist&keyDistIDKey != 0 {
		n += 2 // identity information + identity address information
	}
	if dist&keyDistSignKey != 0 {
		n++
	}
	return n
}

func (m *Manager) distributedBits() (mine, theirs byte) {
	init := m.pairing.response.InitKeyDist & m.pairing.request.InitKeyDist
	resp := m.pairing.response.RespKeyDist & m.pairing.request.RespKeyDist
	if m.pairing.initiator {
		return init, resp
	}
	return resp, init
}

func (m *Manager) startKeyDistribution() error {
	mine, theirs := m.distributedBits()
	m.expectKeys = keyCount(theirs, m.pairing.legacy)

	m.recordOwnLTK()

	m.setState(stateKeyDistribution, bthost.PairingStateKeyDistribution)

	// the responder distributes first; the initiator follows once the
	// responder's keys are in
	if !m.pairing.initiator {
		if err := m.sendKeys(mine); err != nil {
			return err
		}
		m.sentKeys = true
	}
	if m.expectKeys == 0 {
		return m.maybeFinishDistribution()
	}
	return nil
}

// recordOwnLTK captures the pairing derived long term key in the local
// key set. Secure connections produce one shared LTK; legacy pairing
// produces one per direction during distribution.
func (m *Manager) recordOwnLTK() {
	if m.pairing.legacy || len(m.pairing.longTermKey) != 16 {
		return
	}
	ltk := bthost.LongTermKey{EncSize: 16, Properties: bthost.KeyPropSC}
	copy(ltk.LTK[:], m.pairing.longTermKey)
	if !m.pairing.initiator {
		ltk.Properties |= bthost.KeyPropResponder
	}
	if m.pairing.authenticated() {
		ltk.Properties |= bthost.KeyPropAuth
	}
	m.pairing.localKeys.LTK = &ltk

	remote := ltk
	remote.Properties ^= bthost.KeyPropResponder
	m.pairing.remoteKeys.LTK = &remote
}

func (m *Manager) keyProps() bthost.KeyProperty {
	var p bthost.KeyProperty
	if !m.pairing.initiator {
		p |= bthost.KeyPropResponder
	}
	if m.pairing.authenticated() {
		p |= bthost.KeyPropAuth
	}
	if !m.pairing.legacy {
		p |= bthost.KeyPropSC
	}
	return p
}

func (m *Manager) sendKeys(dist byte) error {
	props := m.keyProps()

	if m.pairing.legacy && dist&keyDistEncKey != 0 {
		ltk := bthost.LongTermKey{Properties: props &^ bthost.KeyPropSC, EncSize: 16}
		rand.Read(ltk.LTK[:])
		var ed [2]byte
		var rv [8]byte
		rand.Read(ed[:])
		rand.Read(rv[:])
		ltk.EDiv = binary.LittleEndian.Uint16(ed[:])
		ltk.Rand = binary.LittleEndian.Uint64(rv[:])
		m.pairing.localKeys.LTK = &ltk

		if err := m.send(append([]byte{encryptionInformation}, ltk.LTK[:]...)); err != nil {
			return m.fail(reasonUnspecified, err)
		}
		mi := make([]byte, 11)
		mi[0] = masterIdentification
		binary.LittleEndian.PutUint16(mi[1:], ltk.EDiv)
		binary.LittleEndian.PutUint64(mi[3:], ltk.Rand)
		if err := m.send(mi); err != nil {
			return m.fail(reasonUnspecified, err)
		}
	}

	if dist&keyDistIDKey != 0 {
		irk := bthost.IdentityResolvingKey{Properties: props, IRK: m.localIRK, ID: m.local.Addr, IDAddrType: m.local.Type}
		m.pairing.localKeys.IRK = &irk

		if err := m.send(append([]byte{identityInformation}, m.localIRK[:]...)); err != nil {
			return m.fail(reasonUnspecified, err)
		}
		ia := append([]byte{identityAddrInformation, byte(m.local.Type)}, m.local.Addr.WireBytes()...)
		if err := m.send(ia); err != nil {
			return m.fail(reasonUnspecified, err)
		}
	}

	if dist&keyDistSignKey != 0 {
		csrk := bthost.SignatureResolvingKey{Properties: props, CSRK: m.localCSRK}
		m.pairing.localKeys.CSRK = &csrk
		if err := m.send(append([]byte{signingInformation}, m.localCSRK[:]...)); err != nil {
			return m.fail(reasonUnspecified, err)
		}
	}

	return nil
}

func (m *Manager) onKeyDistribution(code byte, in []byte) error {
	if m.state != stateKeyDistribution {
		return fmt.Errorf("key pdu 0x%02x outside key distribution", code)
	}
	props := m.keyProps() ^ bthost.KeyPropResponder

	switch code {
	case encryptionInformation:
		if len(in) != 16 {
			return m.fail(reasonInvalidParameters, fmt.Errorf("invalid ltk length"))
		}
		ltk := bthost.LongTermKey{Properties: props &^ bthost.KeyPropSC, EncSize: 16}
		copy(ltk.LTK[:], in)
		m.pairing.remoteKeys.LTK = &ltk
	case masterIdentification:
		if len(in) != 10 {
			return m.fail(reasonInvalidParameters, fmt.Errorf("invalid master identification length"))
		}
		if m.pairing.remoteKeys.LTK != nil {
			m.pairing.remoteKeys.LTK.EDiv = binary.LittleEndian.Uint16(in)
			m.pairing.remoteKeys.LTK.Rand = binary.LittleEndian.Uint64(in[2:])
		}
	case identityInformation:
		if len(in) != 16 {
			return m.fail(reasonInvalidParameters, fmt.Errorf("invalid irk length"))
		}
		irk := bthost.IdentityResolvingKey{Properties: props}
		copy(irk.IRK[:], in)
		m.pairing.remoteKeys.IRK = &irk
	case identityAddrInformation:
		if len(in) != 7 {
			return m.fail(reasonInvalidParameters, fmt.Errorf("invalid identity address length"))
		}
		if m.pairing.remoteKeys.IRK != nil {
			m.pairing.remoteKeys.IRK.IDAddrType = bthost.AddrType(in[0])
			m.pairing.remoteKeys.IRK.ID = bthost.EUI48FromWire(in[1:])
		}
	case signingInformation:
		if len(in) != 16 {
			return m.fail(reasonInvalidParameters, fmt.Errorf("invalid csrk length"))
		}
		csrk := bthost.SignatureResolvingKey{Properties: props}
		copy(csrk.CSRK[:], in)
		m.pairing.remoteKeys.CSRK = &csrk
	}

	m.expectKeys--
	if m.expectKeys <= 0 {
		return m.maybeFinishDistribution()
	}
	return nil
}

func (m *Manager) maybeFinishDistribution() error {
	if m.state == stateFinished {
		return nil
	}
	if m.pairing.initiator && !m.sentKeys {
		mine, _ := m.distributedBits()
		if err := m.sendKeys(mine); err != nil {
			return err
		}
		m.sentKeys = true
	}
	m.finish()
	return nil
}

// Mode reports the negotiated pairing mechanism.
func (m *Manager) Mode() bthost.PairingMode { return m.pairing.mode }

// Keys returns the key material agreed in the last completed pairing.
func (m *Manager) Keys() (local, remote bthost.KeySet) {
	return m.pairing.localKeys, m.pairing.remoteKeys
}

// LegacySTK reports the short term key of a completed legacy pairing,
// nil otherwise.
func (m *Manager) LegacySTK() []byte {
	if !m.pairing.legacy {
		return nil
	}
	return m.pairing.shortTermKey
}
