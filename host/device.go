package host

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/airlinklabs/bthost"
	"github.com/airlinklabs/bthost/att"
	"github.com/airlinklabs/bthost/eir"
	"github.com/airlinklabs/bthost/gatt"
	"github.com/airlinklabs/bthost/smp"
)

// DeviceState is the connection lifecycle state of a Device.
type DeviceState int

const (
	DeviceDiscovered DeviceState = iota
	DeviceConnecting
	DeviceConnected
	DeviceDisconnecting
	DeviceDisconnected
)

func (s DeviceState) String() string {
	switch s {
	case DeviceConnecting:
		return "connecting"
	case DeviceConnected:
		return "connected"
	case DeviceDisconnecting:
		return "disconnecting"
	case DeviceDisconnected:
		return "disconnected"
	default:
		return "discovered"
	}
}

const (
	connectTimeout = 15 * time.Second
	encryptTimeout = 10 * time.Second
	pairingTimeout = 30 * time.Second
)

// Device is one remote peer known to an Adapter, created on discovery or
// on an incoming connection and reused across connects. All methods are
// safe to call during teardown; operations on a gone connection return
// not-connected statuses instead of failing hard.
type Device struct {
	adapter *Adapter
	peer    bthost.PeerID
	log     bthost.Logger

	mu      sync.RWMutex
	state   DeviceState
	removed bool

	name    string
	rssi    int8
	txPower int8

	eirInd     *eir.Report
	eirScanRsp *eir.Report
	eirMerged  *eir.Report

	handle uint16
	role   bthost.BTRole
	conn   bthost.Conn
	client *gatt.Client
	smpMgr *smp.Manager

	secLevel  bthost.SecurityLevel
	ioCap     bthost.IOCapability
	encrypted bool
	ready     bool

	pairState    bthost.PairingState
	pairMode     bthost.PairingMode
	numericValue uint32

	// keySets holds LE key material per pairing role: index 0 the
	// initiator's, index 1 the responder's.
	keySets [2]bthost.KeySet

	charListeners []*charListenerEntry

	connRes chan bthost.HCIStatus
}

// newDevice runs with the adapter lock held; it reads the security
// defaults directly.
func newDevice(a *Adapter, peer bthost.PeerID) *Device {
	return &Device{
		adapter:  a,
		peer:     peer,
		log:      a.log.ChildLogger(map[string]interface{}{"device": peer.String()}),
		secLevel: a.secLevel,
		ioCap:    a.ioCap,
	}
}

// Peer returns the device identity within its adapter session.
func (d *Device) Peer() bthost.PeerID { return d.peer }

// Adapter returns the owning adapter.
func (d *Device) Adapter() *Adapter { return d.adapter }

// State returns the current connection lifecycle state.
func (d *Device) State() DeviceState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// Name returns the device name learned from advertising data or the
// Generic Access service.
func (d *Device) Name() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.name
}

// RSSI returns the last observed signal strength.
func (d *Device) RSSI() int8 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.rssi
}

// TxPower returns the advertised transmit power, if any.
func (d *Device) TxPower() int8 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.txPower
}

// ConnHandle returns the controller connection handle, zero when not
// connected.
func (d *Device) ConnHandle() uint16 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.handle
}

// Role returns the local role on the device's connection.
func (d *Device) Role() bthost.BTRole {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.role
}

// EIR returns the merged advertising report: indication data overlaid
// with scan response data.
func (d *Device) EIR() *eir.Report {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.eirMerged
}

// EIRInd returns the report parsed from connectable/non-connectable
// advertising alone.
func (d *Device) EIRInd() *eir.Report {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.eirInd
}

// EIRScanRsp returns the report parsed from scan responses alone.
func (d *Device) EIRScanRsp() *eir.Report {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.eirScanRsp
}

func (d *Device) valid() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return !d.removed
}

// applyReport folds a parsed advertising payload into the device record
// and returns the mask of fields that changed.
func (d *Device) applyReport(rep *eir.Report) eir.DataType {
	d.mu.Lock()
	defer d.mu.Unlock()

	if rep.Source == eir.SourceScanRsp {
		d.eirScanRsp = rep
	} else {
		d.eirInd = rep
	}

	merged := &eir.Report{}
	if d.eirInd != nil {
		*merged = *d.eirInd
	} else {
		*merged = *d.eirScanRsp
	}
	if d.eirInd != nil && d.eirScanRsp != nil {
		merged.Merge(d.eirScanRsp)
	}

	var changed eir.DataType
	if d.eirMerged == nil {
		changed = merged.Set
	} else {
		changed = d.eirMerged.Diff(merged)
	}
	d.eirMerged = merged

	if merged.Set.Has(eir.DataName | eir.DataNameShort) {
		d.name = merged.Name
	}
	if rep.Set.Has(eir.DataRSSI) {
		d.rssi = rep.RSSI
	}
	if merged.Set.Has(eir.DataTxPower) {
		d.txPower = merged.TxPower
	}
	return changed
}

// ConnectDefault connects using the adapter's default connection
// parameters.
func (d *Device) ConnectDefault() bthost.HCIStatus {
	return d.ConnectLE(d.adapter.defaultConnParams())
}

// ConnectLE initiates an LE connection and blocks until it is
// established, refused or timed out.
func (d *Device) ConnectLE(p bthost.ConnParams) bthost.HCIStatus {
	ctrl := d.adapter.controller()
	if ctrl == nil {
		return bthost.StatusNotPowered
	}

	d.mu.Lock()
	switch d.state {
	case DeviceConnected:
		d.mu.Unlock()
		return bthost.StatusAlreadyConnected
	case DeviceConnecting, DeviceDisconnecting:
		d.mu.Unlock()
		return bthost.StatusCommandDisallowed
	}
	d.state = DeviceConnecting
	res := make(chan bthost.HCIStatus, 1)
	d.connRes = res
	d.mu.Unlock()

	if st := ctrl.CreateConnection(d.peer, p); !st.IsOK() {
		d.mu.Lock()
		d.state = DeviceDiscovered
		d.connRes = nil
		d.mu.Unlock()
		return st
	}

	select {
	case st := <-res:
		return st
	case <-time.After(connectTimeout):
		ctrl.CancelConnection()
		d.mu.Lock()
		if d.state == DeviceConnecting {
			d.state = DeviceDiscovered
		}
		d.connRes = nil
		d.mu.Unlock()
		return bthost.StatusInternalTimeout
	}
}

// handleConnComplete consumes a controller connection event for this
// device, on the adapter's event pump goroutine.
func (d *Device) handleConnComplete(status bthost.HCIStatus, handle uint16, role bthost.BTRole, conn bthost.Conn) {
	d.mu.Lock()
	res := d.connRes
	d.connRes = nil

	if !status.IsOK() {
		if d.state == DeviceConnecting {
			d.state = DeviceDiscovered
		}
		d.mu.Unlock()
		if res != nil {
			res <- status
		}
		return
	}

	d.state = DeviceConnected
	d.handle = handle
	d.role = role
	d.conn = conn
	d.encrypted = false
	d.ready = false
	d.pairState = bthost.PairingStateNone
	d.pairMode = bthost.PairingModeNone
	secLevel := d.secLevel
	d.mu.Unlock()

	d.setupSMP(conn, role)
	if role == bthost.RoleMaster {
		d.mu.Lock()
		d.client = gatt.NewClient(conn)
		d.mu.Unlock()
	}

	if res != nil {
		res <- bthost.StatusSuccess
	}
	d.adapter.emitDeviceConnected(d, handle)

	switch {
	case role == bthost.RoleSlave:
		// The peripheral side is usable immediately; security arrives
		// with the central's pairing request.
		d.adapter.serveGATT(d, conn)
		d.markReady()
	case secLevel <= bthost.SecurityNone:
		d.markReady()
	default:
		go d.pair()
	}
}

func (d *Device) markReady() {
	d.mu.Lock()
	if d.ready || d.state != DeviceConnected {
		d.mu.Unlock()
		return
	}
	d.ready = true
	d.mu.Unlock()
	d.adapter.emitDeviceReady(d)
}

// handleDisconnected finalizes teardown once the link is gone.
func (d *Device) handleDisconnected(reason bthost.HCIStatus) {
	d.mu.Lock()
	handle := d.handle
	res := d.connRes
	d.connRes = nil
	d.state = DeviceDisconnected
	d.handle = 0
	d.conn = nil
	d.client = nil
	d.smpMgr = nil
	d.encrypted = false
	d.ready = false
	d.mu.Unlock()

	if res != nil {
		res <- bthost.StatusConnFailedEstab
	}
	d.adapter.emitDeviceDisconnected(d, reason, handle)
}

// Disconnect tears the connection down. The DeviceDisconnected event
// carries the final reason once the controller confirms.
func (d *Device) Disconnect() bthost.HCIStatus {
	d.mu.Lock()
	if d.state != DeviceConnected {
		d.mu.Unlock()
		return bthost.StatusNotConnected
	}
	d.state = DeviceDisconnecting
	conn := d.conn
	d.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			d.log.Warnf("disconnect: %v", err)
			return bthost.StatusInternalFailure
		}
	}
	return bthost.StatusSuccess
}

// Remove disconnects if needed and detaches the device from the
// adapter's device set. Idempotent and safe during teardown.
func (d *Device) Remove() {
	d.mu.Lock()
	if d.removed {
		d.mu.Unlock()
		return
	}
	d.removed = true
	connected := d.state == DeviceConnected
	d.mu.Unlock()

	if connected {
		d.Disconnect()
	}
	d.adapter.detachDevice(d)
}

// ReadRSSI reads the live link RSSI; falls back to the last advertising
// RSSI when not connected.
func (d *Device) ReadRSSI() (int8, error) {
	d.mu.RLock()
	conn := d.conn
	cached := d.rssi
	d.mu.RUnlock()
	if conn == nil {
		return cached, nil
	}
	r, err := conn.ReadRSSI()
	if err != nil {
		return cached, err
	}
	d.mu.Lock()
	d.rssi = r
	d.mu.Unlock()
	return r, nil
}

// phySetter is the optional controller capability behind
// SetConnectedLEPHY.
type phySetter interface {
	SetPHY(handle uint16, tx, rx bthost.LEPHY) bthost.HCIStatus
}

// SetConnectedLEPHY requests new TX/RX PHYs for the connection.
// PHYUnset leaves the direction to the controller's preference.
// Controllers without PHY support answer StatusCommandDisallowed.
func (d *Device) SetConnectedLEPHY(tx, rx bthost.LEPHY) bthost.HCIStatus {
	d.mu.RLock()
	connected := d.state == DeviceConnected
	handle := d.handle
	d.mu.RUnlock()
	if !connected {
		return bthost.StatusNotConnected
	}
	ctrl := d.adapter.controller()
	if ctrl == nil {
		return bthost.StatusNotPowered
	}
	ps, ok := ctrl.(phySetter)
	if !ok {
		return bthost.StatusCommandDisallowed
	}
	return ps.SetPHY(handle, tx, rx)
}

// --- security ---

func (d *Device) setupSMP(conn bthost.Conn, role bthost.BTRole) {
	d.mu.Lock()
	secLevel, ioCap := d.secLevel, d.ioCap
	d.mu.Unlock()

	cfg := smp.DefaultConfig(ioCap,
		secLevel >= bthost.SecurityEncAuthFIPS,
		d.adapter.keyStore() != nil,
		secLevel >= bthost.SecurityEncAuth)

	local := bthost.PeerID{Addr: conn.LocalAddr(), Type: bthost.AddrPublic}
	m := smp.NewManager(cfg, local, d.peer, role == bthost.RoleMaster)
	m.SetWritePDUFunc(conn.WriteSMP)
	m.SetEncryptFunc(func(ltk bthost.LongTermKey) error { return d.encryptLink(conn, ltk) })
	m.SetStateFunc(d.onPairingState)
	m.SetCompareFunc(d.onNumericValue)
	if ks := d.adapter.keyStore(); ks != nil {
		m.SetBondLookupFunc(ks.LongTermKey)
	}
	m.SetKeysFunc(d.onKeysDistributed)
	conn.SetSMPHandler(m.Handle)

	d.mu.Lock()
	d.smpMgr = m
	d.mu.Unlock()
}

func (d *Device) encryptLink(conn bthost.Conn, ltk bthost.LongTermKey) error {
	change := make(chan bthost.EncryptionChangedInfo, 1)
	if err := conn.StartEncryption(ltk, change); err != nil {
		return err
	}
	select {
	case info := <-change:
		if !info.Status.IsOK() || !info.Enabled {
			return errors.Errorf("encryption failed: %s", info.Status)
		}
		d.mu.Lock()
		d.encrypted = true
		d.mu.Unlock()
		return nil
	case <-time.After(encryptTimeout):
		return errors.New("encryption change timed out")
	}
}

func (d *Device) onPairingState(st bthost.PairingState, mode bthost.PairingMode) {
	d.mu.Lock()
	d.pairState = st
	d.pairMode = mode
	d.mu.Unlock()
	d.adapter.emitPairingState(d, st, mode)
	if st == bthost.PairingStateCompleted {
		d.markReady()
	}
}

func (d *Device) onNumericValue(v uint32) {
	d.mu.Lock()
	d.numericValue = v
	d.mu.Unlock()
}

func (d *Device) onKeysDistributed(local, remote bthost.KeySet) {
	d.mu.Lock()
	ini, rsp := local, remote
	if d.role == bthost.RoleSlave {
		ini, rsp = remote, local
	}
	d.keySets[0] = ini
	d.keySets[1] = rsp
	d.mu.Unlock()

	if ks := d.adapter.keyStore(); ks != nil {
		if err := ks.PutPairing(d.peer, local, remote); err != nil {
			d.log.Warnf("persisting keys: %v", err)
		}
	}
}

func (d *Device) pair() {
	d.mu.RLock()
	m := d.smpMgr
	d.mu.RUnlock()
	if m == nil {
		return
	}
	if err := m.Pair(smp.AuthData{}, pairingTimeout); err != nil {
		d.log.Warnf("pairing: %v", err)
	}
}

// SetConnSecurity sets the security level and io capability applied to
// the connection. On an already-connected central link pairing starts
// immediately; progress arrives via DevicePairingState events.
func (d *Device) SetConnSecurity(level bthost.SecurityLevel, ioCap bthost.IOCapability) bthost.HCIStatus {
	d.mu.Lock()
	d.secLevel = level
	d.ioCap = ioCap
	connected := d.state == DeviceConnected
	role := d.role
	d.mu.Unlock()

	if connected && role == bthost.RoleMaster && level > bthost.SecurityNone {
		go d.pair()
	}
	return bthost.StatusSuccess
}

// SetConnSecurityAuto requests the best security the peer supports,
// negotiated during pairing.
func (d *Device) SetConnSecurityAuto(ioCap bthost.IOCapability) bthost.HCIStatus {
	return d.SetConnSecurity(bthost.SecurityEncOnly, ioCap)
}

// SetPairingPasskey supplies the passkey a stalled pairing asked for.
func (d *Device) SetPairingPasskey(passkey uint32) bthost.HCIStatus {
	d.mu.RLock()
	m := d.smpMgr
	d.mu.RUnlock()
	if m == nil {
		return bthost.StatusNotConnected
	}
	if err := m.SetPasskey(int(passkey)); err != nil {
		d.log.Warnf("set passkey: %v", err)
		return bthost.StatusCommandDisallowed
	}
	return bthost.StatusSuccess
}

// SetPairingPasskeyNegative refuses a pending passkey request, aborting
// the pairing.
func (d *Device) SetPairingPasskeyNegative() bthost.HCIStatus {
	return d.SetPairingNumericComparison(false)
}

// SetPairingNumericComparison answers a pending numeric comparison.
func (d *Device) SetPairingNumericComparison(ok bool) bthost.HCIStatus {
	d.mu.RLock()
	m := d.smpMgr
	d.mu.RUnlock()
	if m == nil {
		return bthost.StatusNotConnected
	}
	if err := m.ConfirmNumericComparison(ok); err != nil {
		d.log.Warnf("numeric comparison: %v", err)
		return bthost.StatusCommandDisallowed
	}
	return bthost.StatusSuccess
}

// PairingState returns the current observable pairing progress.
func (d *Device) PairingState() bthost.PairingState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.pairState
}

// PairingMode returns the negotiated pairing mechanism.
func (d *Device) PairingMode() bthost.PairingMode {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.pairMode
}

// PairingNumericValue returns the 6-digit comparison value to display
// while a numeric comparison is pending.
func (d *Device) PairingNumericValue() uint32 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.numericValue
}

func roleIdx(responder bool) int {
	if responder {
		return 1
	}
	return 0
}

func (d *Device) setKeyGuard() error {
	if d.encrypted {
		return bthost.ErrAlreadyPaired
	}
	return nil
}

// LongTermKey returns the distributed LTK of the given pairing role.
func (d *Device) LongTermKey(responder bool) (bthost.LongTermKey, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	k := d.keySets[roleIdx(responder)].LTK
	if k == nil {
		return bthost.LongTermKey{}, bthost.ErrKeyUnset
	}
	return *k, nil
}

// SetLongTermKey installs pre-distributed key material. Rejected while
// the link is encrypted; the active material cannot change mid-session.
func (d *Device) SetLongTermKey(responder bool, k bthost.LongTermKey) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.setKeyGuard(); err != nil {
		return err
	}
	d.keySets[roleIdx(responder)].LTK = &k
	return nil
}

// IdentityResolvingKey returns the distributed IRK of the given role.
func (d *Device) IdentityResolvingKey(responder bool) (bthost.IdentityResolvingKey, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	k := d.keySets[roleIdx(responder)].IRK
	if k == nil {
		return bthost.IdentityResolvingKey{}, bthost.ErrKeyUnset
	}
	return *k, nil
}

// SetIdentityResolvingKey installs a pre-distributed IRK.
func (d *Device) SetIdentityResolvingKey(responder bool, k bthost.IdentityResolvingKey) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.setKeyGuard(); err != nil {
		return err
	}
	d.keySets[roleIdx(responder)].IRK = &k
	return nil
}

// SignatureResolvingKey returns the distributed CSRK of the given role.
func (d *Device) SignatureResolvingKey(responder bool) (bthost.SignatureResolvingKey, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	k := d.keySets[roleIdx(responder)].CSRK
	if k == nil {
		return bthost.SignatureResolvingKey{}, bthost.ErrKeyUnset
	}
	return *k, nil
}

// SetSignatureResolvingKey installs a pre-distributed CSRK.
func (d *Device) SetSignatureResolvingKey(responder bool, k bthost.SignatureResolvingKey) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.setKeyGuard(); err != nil {
		return err
	}
	d.keySets[roleIdx(responder)].CSRK = &k
	return nil
}

// LinkKey returns the derived BR/EDR link key of the given role.
func (d *Device) LinkKey(responder bool) (bthost.LinkKey, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	k := d.keySets[roleIdx(responder)].Link
	if k == nil {
		return bthost.LinkKey{}, bthost.ErrKeyUnset
	}
	return *k, nil
}

// SetLinkKey installs a pre-derived link key.
func (d *Device) SetLinkKey(responder bool, k bthost.LinkKey) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.setKeyGuard(); err != nil {
		return err
	}
	d.keySets[roleIdx(responder)].Link = &k
	return nil
}

// --- GATT client ---

// GetGattServices discovers the peer's attribute tree, or returns the
// already-discovered one. The first call on a connection blocks for the
// discovery round-trips, including the Generic Access name read; repeat
// calls return the cached tree.
func (d *Device) GetGattServices() ([]*bthost.Service, bthost.HCIStatus) {
	d.mu.RLock()
	c := d.client
	d.mu.RUnlock()
	if c == nil {
		return nil, bthost.StatusNotConnected
	}

	if p := c.Profile(); p != nil {
		return p.Services, bthost.StatusSuccess
	}

	if pc := d.adapter.profileCache(); pc != nil {
		if p, err := pc.Load(d.peer); err == nil {
			c.SetProfile(p)
			return p.Services, bthost.StatusSuccess
		}
	}

	if _, err := c.ExchangeMTU(att.MaxMTU); err != nil {
		d.log.Warnf("mtu exchange: %v", err)
	}
	p, err := c.DiscoverProfile()
	if err != nil {
		d.log.Warnf("service discovery: %v", err)
		return nil, bthost.StatusInternalFailure
	}
	if name, err := c.Name(); err == nil && name != "" {
		d.mu.Lock()
		d.name = name
		d.mu.Unlock()
	}

	if pc := d.adapter.profileCache(); pc != nil {
		if err := pc.Store(d.peer, p, true); err != nil {
			d.log.Warnf("profile cache store: %v", err)
		}
	}
	return p.Services, bthost.StatusSuccess
}

// PingGATT issues a lightweight read to verify the peer still answers.
func (d *Device) PingGATT() bool {
	d.mu.RLock()
	c := d.client
	d.mu.RUnlock()
	return c != nil && c.Ping()
}

// ReadCharacteristic reads the characteristic value from the peer.
func (d *Device) ReadCharacteristic(c *bthost.Characteristic) ([]byte, error) {
	cl := d.gattClient()
	if cl == nil {
		return nil, errors.Wrap(bthost.ErrClosed, "gatt client gone")
	}
	return cl.Read(c)
}

// WriteCharacteristic writes the characteristic value. withResponse
// selects the acknowledged Write Request over the Write Command.
func (d *Device) WriteCharacteristic(c *bthost.Characteristic, value []byte, withResponse bool) error {
	cl := d.gattClient()
	if cl == nil {
		return errors.Wrap(bthost.ErrClosed, "gatt client gone")
	}
	if withResponse {
		return cl.Write(c, value)
	}
	return cl.WriteWithoutResponse(c, value)
}

// ReadDescriptor reads a descriptor value from the peer.
func (d *Device) ReadDescriptor(de *bthost.Descriptor) ([]byte, error) {
	cl := d.gattClient()
	if cl == nil {
		return nil, errors.Wrap(bthost.ErrClosed, "gatt client gone")
	}
	return cl.ReadDescriptor(de)
}

// WriteDescriptor writes a descriptor value on the peer.
func (d *Device) WriteDescriptor(de *bthost.Descriptor, value []byte) error {
	cl := d.gattClient()
	if cl == nil {
		return errors.Wrap(bthost.ErrClosed, "gatt client gone")
	}
	return cl.WriteDescriptor(de, value)
}

// ConfigNotificationIndication writes the characteristic's CCCD and
// reports the state actually achieved; the peer may support only one of
// the requested bits. Received events fan out to the char listeners.
func (d *Device) ConfigNotificationIndication(c *bthost.Characteristic, enableNotify, enableIndicate bool) (ok, notifying, indicating bool) {
	cl := d.gattClient()
	if cl == nil {
		return false, false, false
	}
	ok, notifying, indicating, err := cl.ConfigNotificationIndication(c, enableNotify, enableIndicate)
	if err != nil {
		d.log.Warnf("cccd write: %v", err)
		return false, false, false
	}
	if notifying || indicating {
		cl.SetHandler(c, func(value []byte, indicate bool) {
			d.deliverCharEvent(c, value, indicate)
		})
	} else {
		cl.SetHandler(c, nil)
	}
	return ok, notifying, indicating
}

func (d *Device) gattClient() *gatt.Client {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.client
}

func (d *Device) deliverCharEvent(c *bthost.Characteristic, value []byte, indicate bool) {
	d.mu.RLock()
	entries := make([]*charListenerEntry, len(d.charListeners))
	copy(entries, d.charListeners)
	d.mu.RUnlock()

	ts := bthost.Timestamp()
	for _, e := range entries {
		if e.filter != nil && e.filter.ValueHandle != c.ValueHandle {
			continue
		}
		if indicate {
			if e.l.Indication != nil {
				e.l.Indication(c, value, ts)
			}
		} else if e.l.Notification != nil {
			e.l.Notification(c, value, ts)
		}
	}
}

// AddCharListener registers a listener for all characteristic events on
// this device. The same listener instance registers at most once.
func (d *Device) AddCharListener(l *CharListener) error {
	return d.addCharListener(l, nil)
}

// AddCharListenerFor registers a listener restricted to one
// characteristic.
func (d *Device) AddCharListenerFor(l *CharListener, c *bthost.Characteristic) error {
	if c == nil {
		return bthost.ErrInvalidArgument
	}
	return d.addCharListener(l, c)
}

func (d *Device) addCharListener(l *CharListener, filter *bthost.Characteristic) error {
	if l == nil {
		return bthost.ErrInvalidArgument
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range d.charListeners {
		if e.l == l {
			return bthost.ErrAlreadyRegistered
		}
	}
	d.charListeners = append(d.charListeners, &charListenerEntry{l: l, filter: filter})
	return nil
}

// RemoveCharListener removes a listener; false when it was not
// registered, also after GATT teardown.
func (d *Device) RemoveCharListener(l *CharListener) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, e := range d.charListeners {
		if e.l == l {
			d.charListeners = append(d.charListeners[:i], d.charListeners[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveAllAssociatedCharListener removes every listener filtered to the
// given characteristic and returns how many went.
func (d *Device) RemoveAllAssociatedCharListener(c *bthost.Characteristic) int {
	if c == nil {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	kept := d.charListeners[:0]
	removed := 0
	for _, e := range d.charListeners {
		if e.filter != nil && e.filter.ValueHandle == c.ValueHandle {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	d.charListeners = kept
	return removed
}

// RemoveAllCharListener empties the listener registry and returns the
// count removed.
func (d *Device) RemoveAllCharListener() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.charListeners)
	d.charListeners = nil
	return n
}

// --- server role ---

// SendNotification pushes a locally hosted characteristic value to this
// device over the server role connection.
func (d *Device) SendNotification(c *gatt.CharDef, value []byte) bthost.HCIStatus {
	return d.serverPush(c, value, false)
}

// SendIndication pushes a value and blocks for the peer's confirmation.
func (d *Device) SendIndication(c *gatt.CharDef, value []byte) bthost.HCIStatus {
	return d.serverPush(c, value, true)
}

func (d *Device) serverPush(c *gatt.CharDef, value []byte, indicate bool) bthost.HCIStatus {
	srv := d.adapter.gattServer()
	d.mu.RLock()
	conn := d.conn
	connected := d.state == DeviceConnected
	d.mu.RUnlock()
	if srv == nil || conn == nil || !connected {
		return bthost.StatusNotConnected
	}
	var err error
	if indicate {
		err = srv.Indicate(conn, c, value)
	} else {
		err = srv.Notify(conn, c, value)
	}
	if err != nil {
		d.log.Warnf("server push: %v", err)
		return bthost.StatusInternalFailure
	}
	return bthost.StatusSuccess
}
