package host

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/airlinklabs/bthost"
	"github.com/airlinklabs/bthost/cache"
	"github.com/airlinklabs/bthost/eir"
	"github.com/airlinklabs/bthost/gatt"
	"github.com/airlinklabs/bthost/hci"
	"github.com/airlinklabs/bthost/keystore"
)

type discoveryState int

const (
	discStopped discoveryState = iota
	discStarting
	discDiscovering
	discStopping
)

// Adapter owns one controller: radio state, discovery, advertising, the
// set of known devices, and the status listener registry.
type Adapter struct {
	devID uint16
	ctrl  hci.Controller
	log   bthost.Logger
	disp  *dispatcher

	// powerFn, when set by the Manager, toggles power through the
	// management interface instead of the local emulation.
	powerFn func(on bool) (bthost.AdapterSetting, error)

	mu          sync.RWMutex
	initialized bool
	closed      bool
	mode        bthost.BTMode
	addr        bthost.EUI48
	settings    bthost.AdapterSetting

	disc       discoveryState
	discPaused bool
	discPolicy bthost.DiscoveryPolicy
	scanParams bthost.ScanParams
	filterDup  bool

	rssiFilter bool
	rssiFloor  int8

	devices map[bthost.PeerID]*Device
	conns   map[uint16]*Device

	advertising bool
	srv         *gatt.Server

	whitelist map[bthost.PeerID]bool

	secLevel   bthost.SecurityLevel
	ioCap      bthost.IOCapability
	connParams bthost.ConnParams
	keys       *keystore.Store
	profiles   *cache.ProfileCache

	pumpDone chan struct{}
}

// NewAdapter binds a controller to a new adapter. The adapter is idle
// until Initialize brings the controller up. Option failures are logged;
// use Option directly when the error matters.
func NewAdapter(devID uint16, ctrl hci.Controller, opts ...Option) *Adapter {
	a := &Adapter{
		devID: devID,
		ctrl:  ctrl,
		log: bthost.GetLogger().ChildLogger(map[string]interface{}{
			"module": "adapter",
			"dev_id": devID,
		}),
		devices:    make(map[bthost.PeerID]*Device),
		conns:      make(map[uint16]*Device),
		whitelist:  make(map[bthost.PeerID]bool),
		secLevel:   bthost.SecurityUnset,
		ioCap:      bthost.IOCapUnset,
		connParams: bthost.DefaultConnParams(),
		pumpDone:   make(chan struct{}),
	}
	a.disp = newDispatcher(a, a.log)
	if err := a.Option(opts...); err != nil {
		a.log.Warnf("adapter option: %v", err)
	}
	return a
}

// DevID returns the host radio index.
func (a *Adapter) DevID() uint16 { return a.devID }

// Addr returns the controller address, zero before Initialize.
func (a *Adapter) Addr() bthost.EUI48 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.addr
}

// Mode returns the operating mode selected at Initialize.
func (a *Adapter) Mode() bthost.BTMode {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.mode
}

// Settings returns the current settings bitmask.
func (a *Adapter) Settings() bthost.AdapterSetting {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.settings
}

// IsPowered reports whether the radio is up.
func (a *Adapter) IsPowered() bool {
	return a.Settings().Has(bthost.SettingPowered)
}

// IsInitialized reports whether Initialize completed.
func (a *Adapter) IsInitialized() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.initialized
}

// Initialize brings the controller up in the given mode. Idempotent; a
// second call on an initialized adapter is a no-op success.
func (a *Adapter) Initialize(mode bthost.BTMode) bthost.HCIStatus {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return bthost.StatusInternalFailure
	}
	if a.initialized {
		a.mu.Unlock()
		return bthost.StatusSuccess
	}
	a.mu.Unlock()

	if err := a.ctrl.Init(); err != nil {
		a.log.Errorf("controller init: %v", err)
		return bthost.StatusInternalFailure
	}

	a.mu.Lock()
	a.initialized = true
	a.mode = mode
	a.addr = a.ctrl.Addr()
	old := a.settings
	a.settings |= bthost.SettingPowered | bthost.SettingLE
	if mode == bthost.BTModeDual || mode == bthost.BTModeBREDR {
		a.settings |= bthost.SettingBREDR
	}
	cur := a.settings
	a.mu.Unlock()

	go a.pump()
	a.emitSettings(old, cur)
	return bthost.StatusSuccess
}

// SetPowered toggles radio power. The transition is observable through
// an AdapterSettingsChanged event with the powered bit in the changed
// mask.
func (a *Adapter) SetPowered(on bool) bool {
	if a.powerFn != nil {
		cur, err := a.powerFn(on)
		if err == nil {
			a.applySettings(cur)
			return true
		}
		// Enumerators without power control fall through to the local
		// emulation.
		a.log.Debugf("management power toggle unavailable: %v", err)
	}

	a.mu.Lock()
	old := a.settings
	if on {
		a.settings |= bthost.SettingPowered
	} else {
		a.settings &^= bthost.SettingPowered
	}
	cur := a.settings
	a.mu.Unlock()

	if old == cur {
		return true
	}
	if !on {
		a.StopDiscovery()
		a.StopAdvertising()
	}
	a.emitSettings(old, cur)
	return true
}

// applySettings folds in a settings bitmask reported by the management
// interface.
func (a *Adapter) applySettings(cur bthost.AdapterSetting) {
	a.mu.Lock()
	old := a.settings
	a.settings = cur
	a.mu.Unlock()
	if old != cur {
		a.emitSettings(old, cur)
	}
}

// --- discovery ---

// StartDiscovery begins an LE background scan. Zero interval or window
// select the defaults; the policy governs what a connection does to the
// running scan. Starting while already discovering is a no-op success.
func (a *Adapter) StartDiscovery(policy bthost.DiscoveryPolicy, activeScan bool, interval, window uint16, filterPolicy uint8, filterDuplicates bool) bthost.HCIStatus {
	if !a.IsInitialized() || !a.IsPowered() {
		return bthost.StatusNotPowered
	}
	if interval == 0 || window == 0 {
		def := bthost.DefaultScanParams()
		if interval == 0 {
			interval = def.Interval
		}
		if window == 0 {
			window = def.Window
		}
	}

	a.mu.Lock()
	switch a.disc {
	case discDiscovering, discStarting:
		a.mu.Unlock()
		return bthost.StatusSuccess
	case discStopping:
		a.mu.Unlock()
		return bthost.StatusCommandDisallowed
	}
	a.disc = discStarting
	a.discPolicy = policy
	a.discPaused = false
	a.scanParams = bthost.ScanParams{
		Active:       activeScan,
		Interval:     interval,
		Window:       window,
		FilterPolicy: filterPolicy,
	}
	a.filterDup = filterDuplicates
	params := a.scanParams
	a.mu.Unlock()

	if st := a.ctrl.SetScanParams(params); !st.IsOK() {
		a.setDiscState(discStopped)
		return st
	}
	if st := a.ctrl.ScanEnable(true, filterDuplicates); !st.IsOK() {
		a.setDiscState(discStopped)
		return st
	}
	a.setDiscState(discDiscovering)
	a.emitDiscovering(true, policy)
	return bthost.StatusSuccess
}

// StopDiscovery cancels a running scan. Stopping a stopped adapter is a
// no-op success without an event.
func (a *Adapter) StopDiscovery() bthost.HCIStatus {
	a.mu.Lock()
	if a.disc == discStopped {
		a.discPaused = false
		a.mu.Unlock()
		return bthost.StatusSuccess
	}
	a.disc = discStopping
	policy := a.discPolicy
	a.mu.Unlock()

	st := a.ctrl.ScanEnable(false, false)
	a.mu.Lock()
	a.disc = discStopped
	a.discPaused = false
	a.mu.Unlock()
	if !st.IsOK() {
		a.log.Warnf("scan disable: %s", st)
	}
	a.emitDiscovering(false, policy)
	return bthost.StatusSuccess
}

// IsDiscovering reports whether a scan is running.
func (a *Adapter) IsDiscovering() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.disc == discDiscovering
}

// SetScanRSSIFloor drops advertising reports weaker than floor dBm.
// Passing enabled false clears the filter.
func (a *Adapter) SetScanRSSIFloor(enabled bool, floor int8) {
	a.mu.Lock()
	a.rssiFilter = enabled
	a.rssiFloor = floor
	a.mu.Unlock()
}

func (a *Adapter) setDiscState(s discoveryState) {
	a.mu.Lock()
	a.disc = s
	a.mu.Unlock()
}

// pauseDiscovery suspends the scan on connect per the pause policies,
// remembering to resume later.
func (a *Adapter) pauseDiscovery() {
	a.mu.Lock()
	if a.disc != discDiscovering {
		a.mu.Unlock()
		return
	}
	a.disc = discStopped
	a.discPaused = true
	policy := a.discPolicy
	a.mu.Unlock()

	a.ctrl.ScanEnable(false, false)
	a.emitDiscovering(false, policy)
}

func (a *Adapter) resumeDiscovery() {
	a.mu.Lock()
	if !a.discPaused || a.disc != discStopped || !a.settings.Has(bthost.SettingPowered) {
		a.mu.Unlock()
		return
	}
	a.discPaused = false
	a.disc = discStarting
	params := a.scanParams
	filterDup := a.filterDup
	policy := a.discPolicy
	a.mu.Unlock()

	if st := a.ctrl.SetScanParams(params); !st.IsOK() {
		a.setDiscState(discStopped)
		return
	}
	if st := a.ctrl.ScanEnable(true, filterDup); !st.IsOK() {
		a.setDiscState(discStopped)
		return
	}
	a.setDiscState(discDiscovering)
	a.emitDiscovering(true, policy)
}

// DiscoveredDevices returns a snapshot of the tracked device set.
func (a *Adapter) DiscoveredDevices() []*Device {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*Device, 0, len(a.devices))
	for _, d := range a.devices {
		out = append(out, d)
	}
	return out
}

// FindDevice returns the tracked device with the given identity, or nil.
func (a *Adapter) FindDevice(addr bthost.EUI48, typ bthost.AddrType) *Device {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.devices[bthost.PeerID{Addr: addr, Type: typ}]
}

// RemoveDiscoveredDevice drops a device from the discovered set. A
// connected device stays; the call reports false.
func (a *Adapter) RemoveDiscoveredDevice(addr bthost.EUI48, typ bthost.AddrType) bool {
	peer := bthost.PeerID{Addr: addr, Type: typ}
	a.mu.Lock()
	d := a.devices[peer]
	if d == nil || d.State() == DeviceConnected {
		a.mu.Unlock()
		return false
	}
	delete(a.devices, peer)
	a.mu.Unlock()

	d.mu.Lock()
	d.removed = true
	d.mu.Unlock()
	return true
}

// RemoveDiscoveredDevices empties the discovered set, sparing connected
// devices, and returns the count removed.
func (a *Adapter) RemoveDiscoveredDevices() int {
	a.mu.Lock()
	var gone []*Device
	for peer, d := range a.devices {
		if d.State() == DeviceConnected {
			continue
		}
		delete(a.devices, peer)
		gone = append(gone, d)
	}
	a.mu.Unlock()

	for _, d := range gone {
		d.mu.Lock()
		d.removed = true
		d.mu.Unlock()
	}
	return len(gone)
}

// ConnectDevice connects to the device with the given identity, creating
// a record when it was never discovered. Blocks like ConnectDefault.
func (a *Adapter) ConnectDevice(addr bthost.EUI48, typ bthost.AddrType) (*Device, bthost.HCIStatus) {
	a.mu.Lock()
	if a.closed || !a.initialized {
		a.mu.Unlock()
		return nil, bthost.StatusInternalFailure
	}
	peer := bthost.PeerID{Addr: addr, Type: typ}
	d := a.devices[peer]
	if d == nil {
		d = newDevice(a, peer)
		a.devices[peer] = d
	}
	a.mu.Unlock()

	return d, d.ConnectDefault()
}

func (a *Adapter) detachDevice(d *Device) {
	a.mu.Lock()
	if a.devices[d.peer] == d {
		delete(a.devices, d.peer)
	}
	for h, c := range a.conns {
		if c == d {
			delete(a.conns, h)
		}
	}
	a.mu.Unlock()
}

func (a *Adapter) untrackDevice(d *Device) {
	a.mu.Lock()
	if a.devices[d.peer] == d && d.State() != DeviceConnected {
		delete(a.devices, d.peer)
	}
	a.mu.Unlock()
	d.mu.Lock()
	d.removed = true
	d.mu.Unlock()
}

// --- advertising ---

// StartAdvertising begins a peripheral role broadcast. srv, when non
// nil, is served to centrals that connect; rep supplies the payload
// fields, split between advertising data and scan response by the two
// masks. Exactly one session runs per adapter; starting while active
// fails with the command disallowed status and the caller must stop the
// running session first.
func (a *Adapter) StartAdvertising(srv *gatt.Server, rep *eir.Report, advMask, scanRspMask eir.DataType, p bthost.AdvParams) bthost.HCIStatus {
	if !a.IsInitialized() || !a.IsPowered() {
		return bthost.StatusNotPowered
	}

	a.mu.Lock()
	if a.advertising {
		a.mu.Unlock()
		return bthost.StatusCommandDisallowed
	}
	a.mu.Unlock()

	ad, err := buildADPayload(rep, advMask, true)
	if err != nil {
		a.log.Warnf("advertising data: %v", err)
		return bthost.StatusInvalidParams
	}
	sr, err := buildADPayload(rep, scanRspMask, false)
	if err != nil {
		a.log.Warnf("scan response data: %v", err)
		return bthost.StatusInvalidParams
	}
	if p.IntervalMin == 0 || p.IntervalMax == 0 {
		p = bthost.DefaultAdvParams()
	}

	if st := a.ctrl.SetAdvParams(p); !st.IsOK() {
		return st
	}
	if st := a.ctrl.SetAdvData(ad, sr); !st.IsOK() {
		return st
	}
	if st := a.ctrl.AdvEnable(true); !st.IsOK() {
		return st
	}

	a.mu.Lock()
	a.advertising = true
	a.srv = srv
	old := a.settings
	a.settings |= bthost.SettingAdvertising
	cur := a.settings
	a.mu.Unlock()
	a.emitSettings(old, cur)
	return bthost.StatusSuccess
}

// StopAdvertising ends the advertising session. A no-op success when
// none is running.
func (a *Adapter) StopAdvertising() bthost.HCIStatus {
	a.mu.Lock()
	if !a.advertising {
		a.mu.Unlock()
		return bthost.StatusSuccess
	}
	a.advertising = false
	a.srv = nil
	old := a.settings
	a.settings &^= bthost.SettingAdvertising
	cur := a.settings
	a.mu.Unlock()

	if st := a.ctrl.AdvEnable(false); !st.IsOK() {
		a.log.Warnf("adv disable: %s", st)
	}
	a.emitSettings(old, cur)
	return bthost.StatusSuccess
}

// IsAdvertising reports whether an advertising session is active.
func (a *Adapter) IsAdvertising() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.advertising
}

func (a *Adapter) gattServer() *gatt.Server {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.srv
}

func (a *Adapter) serveGATT(d *Device, conn bthost.Conn) {
	srv := a.gattServer()
	if srv == nil {
		return
	}
	go func() {
		if err := srv.Serve(conn); err != nil {
			d.log.Debugf("gatt server session: %v", err)
		}
	}()
}

// buildADPayload assembles AD structures from the report fields selected
// by the mask. The advertising variant leads with a flags structure.
func buildADPayload(rep *eir.Report, mask eir.DataType, advertising bool) ([]byte, error) {
	var fields []eir.Field
	if advertising {
		flags := byte(0x06) // general discoverable, BR/EDR not supported
		if rep != nil && rep.Set.Has(eir.DataFlags) && mask.Has(eir.DataFlags) {
			flags = rep.Flags
		}
		fields = append(fields, eir.Flags(flags))
	}
	if rep != nil {
		if mask.Has(eir.DataName) && rep.Name != "" {
			if rep.NameIsShort {
				fields = append(fields, eir.ShortName(rep.Name))
			} else {
				fields = append(fields, eir.CompleteName(rep.Name))
			}
		}
		if mask.Has(eir.DataTxPower) && rep.Set.Has(eir.DataTxPower) {
			fields = append(fields, eir.TxPower(rep.TxPower))
		}
		if mask.Has(eir.DataServices) {
			for _, u := range rep.Services {
				fields = append(fields, eir.AllUUID(u))
			}
		}
		if mask.Has(eir.DataManufData) && rep.Set.Has(eir.DataManufData) {
			fields = append(fields, eir.ManufacturerData(rep.ManufID, rep.ManufData))
		}
		if mask.Has(eir.DataAppearance) && rep.Set.Has(eir.DataAppearance) {
			fields = append(fields, eir.Appearance(rep.Appearance))
		}
	}
	if len(fields) == 0 {
		return nil, nil
	}
	p, err := eir.NewPacket(fields...)
	if err != nil {
		return nil, err
	}
	return p.Bytes(), nil
}

// --- security defaults ---

// SetServerConnSecurity sets the security level and io capability
// applied to devices that connect from now on; connected devices keep
// what they negotiated.
func (a *Adapter) SetServerConnSecurity(level bthost.SecurityLevel, ioCap bthost.IOCapability) {
	a.mu.Lock()
	a.secLevel = level
	a.ioCap = ioCap
	a.mu.Unlock()
}

// SetDefaultConnParam sets the connection parameters used by
// ConnectDefault.
func (a *Adapter) SetDefaultConnParam(p bthost.ConnParams) {
	a.mu.Lock()
	a.connParams = p
	a.mu.Unlock()
}

// SetSMPKeyPath opens the persisted key store at path; pairing results
// are written there and bonded peers encrypt without re-pairing. An
// empty path closes the store.
func (a *Adapter) SetSMPKeyPath(path string) error {
	a.mu.Lock()
	old := a.keys
	a.keys = nil
	a.mu.Unlock()
	if old != nil {
		old.Close()
	}
	if path == "" {
		return nil
	}
	ks, err := keystore.Open(path)
	if err != nil {
		return errors.Wrap(err, "open smp key store")
	}
	a.mu.Lock()
	a.keys = ks
	a.mu.Unlock()
	return nil
}

// SetProfileCachePath enables the discovered GATT profile cache backed
// by the given file.
func (a *Adapter) SetProfileCachePath(path string) {
	a.mu.Lock()
	if path == "" {
		a.profiles = nil
	} else {
		a.profiles = cache.New(path)
	}
	a.mu.Unlock()
}

func (a *Adapter) defaultConnParams() bthost.ConnParams {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.connParams
}

func (a *Adapter) keyStore() *keystore.Store {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.keys
}

func (a *Adapter) profileCache() *cache.ProfileCache {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.profiles
}

func (a *Adapter) controller() hci.Controller {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed || !a.initialized {
		return nil
	}
	return a.ctrl
}

// --- status listeners ---

// AddStatusListener registers a handler for the adapter and device
// event stream. The same handler instance registers at most once.
func (a *Adapter) AddStatusListener(h *StatusHandler) error {
	return a.disp.addListener(h, nil)
}

// AddStatusListenerFor registers a handler whose device events are
// restricted to one peer; adapter level events still arrive.
func (a *Adapter) AddStatusListenerFor(h *StatusHandler, peer bthost.PeerID) error {
	return a.disp.addListener(h, &peer)
}

// RemoveStatusListener unregisters a handler; false when it was not
// registered.
func (a *Adapter) RemoveStatusListener(h *StatusHandler) bool {
	return a.disp.removeListener(h)
}

// RemoveAllStatusListeners empties the registry and returns the count
// removed.
func (a *Adapter) RemoveAllStatusListeners() int {
	return a.disp.removeAll()
}

// --- controller event pump ---

func (a *Adapter) pump() {
	defer close(a.pumpDone)
	for ev := range a.ctrl.Events() {
		switch e := ev.(type) {
		case hci.AdvReport:
			a.handleAdvReport(e)
		case hci.ConnComplete:
			a.handleConnComplete(e)
		case hci.DisconnComplete:
			a.handleDisconnComplete(e)
		}
	}
}

func (a *Adapter) handleAdvReport(ev hci.AdvReport) {
	rep, err := eir.Parse(ev.Data)
	if err != nil {
		a.log.Debugf("bad adv payload from %s: %v", ev.Peer, err)
		rep = &eir.Report{}
	}
	rep.Peer = ev.Peer
	rep.EvtType = ev.EventType
	rep.RSSI = ev.RSSI
	rep.Connectable = ev.Connectable()
	rep.Set |= eir.DataAddr | eir.DataAddrType | eir.DataEvtType | eir.DataRSSI | eir.DataConnectable
	switch {
	case ev.ScanRsp():
		rep.Source = eir.SourceScanRsp
	case ev.Connectable():
		rep.Source = eir.SourceAdvInd
	default:
		rep.Source = eir.SourceAdvOther
	}

	a.mu.Lock()
	if a.rssiFilter && ev.RSSI < a.rssiFloor {
		a.mu.Unlock()
		return
	}
	d := a.devices[ev.Peer]
	if d == nil {
		if ev.ScanRsp() {
			// A scan response without a prior advertisement carries no
			// usable discovery context.
			a.mu.Unlock()
			return
		}
		d = newDevice(a, ev.Peer)
		a.devices[ev.Peer] = d
		a.mu.Unlock()

		d.applyReport(rep)
		dev := d
		a.disp.emit(statusEvent{
			kind: evtDeviceFound,
			dev:  dev,
			found: func(keep bool) {
				if !keep {
					a.untrackDevice(dev)
				}
			},
		})
		return
	}
	a.mu.Unlock()

	if changed := d.applyReport(rep); changed != eir.DataNone {
		a.disp.emit(statusEvent{kind: evtDeviceUpdated, dev: d, changedData: changed})
	}
}

func (a *Adapter) handleConnComplete(ev hci.ConnComplete) {
	a.mu.Lock()
	d := a.devices[ev.Peer]
	if d == nil && !ev.Status.IsOK() {
		// A canceled or failed connect may complete with a zero peer;
		// match it to the device waiting for a result.
		for _, c := range a.devices {
			if c.State() == DeviceConnecting {
				d = c
				break
			}
		}
	}
	if d == nil {
		if !ev.Status.IsOK() {
			a.mu.Unlock()
			return
		}
		d = newDevice(a, ev.Peer)
		a.devices[ev.Peer] = d
	}
	if ev.Status.IsOK() {
		a.conns[ev.Handle] = d
	}
	a.mu.Unlock()

	d.handleConnComplete(ev.Status, ev.Handle, ev.Role, ev.Conn)

	if ev.Status.IsOK() {
		switch a.discoveryPolicy() {
		case bthost.DiscoveryAutoOff:
			a.StopDiscovery()
		case bthost.DiscoveryPauseConnectedUntilDisconnected,
			bthost.DiscoveryPauseConnectedUntilReady:
			a.pauseDiscovery()
		}
	}
}

func (a *Adapter) handleDisconnComplete(ev hci.DisconnComplete) {
	a.mu.Lock()
	d := a.conns[ev.Handle]
	delete(a.conns, ev.Handle)
	remaining := len(a.conns)
	a.mu.Unlock()
	if d == nil {
		return
	}

	d.handleDisconnected(ev.Reason)

	if remaining == 0 && a.discoveryPolicy() == bthost.DiscoveryPauseConnectedUntilDisconnected {
		a.resumeDiscovery()
	}
}

func (a *Adapter) discoveryPolicy() bthost.DiscoveryPolicy {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.discPolicy
}

// --- event emission ---

func (a *Adapter) emitSettings(old, cur bthost.AdapterSetting) {
	a.disp.emit(statusEvent{
		kind:        evtSettings,
		oldSettings: old,
		newSettings: cur,
		chgSettings: old ^ cur,
	})
}

func (a *Adapter) emitDiscovering(enabled bool, policy bthost.DiscoveryPolicy) {
	a.disp.emit(statusEvent{
		kind:        evtDiscovering,
		scanCurrent: bthost.ScanTypeLE,
		scanChanged: bthost.ScanTypeLE,
		enabled:     enabled,
		policy:      policy,
	})
}

func (a *Adapter) emitDeviceConnected(d *Device, handle uint16) {
	a.disp.emit(statusEvent{kind: evtDeviceConnected, dev: d, handle: handle})
}

func (a *Adapter) emitPairingState(d *Device, st bthost.PairingState, mode bthost.PairingMode) {
	a.disp.emit(statusEvent{kind: evtPairingState, dev: d, pairState: st, pairMode: mode})
}

func (a *Adapter) emitDeviceReady(d *Device) {
	a.disp.emit(statusEvent{kind: evtDeviceReady, dev: d})
	if a.discoveryPolicy() == bthost.DiscoveryPauseConnectedUntilReady {
		a.resumeDiscovery()
	}
}

func (a *Adapter) emitDeviceDisconnected(d *Device, reason bthost.HCIStatus, handle uint16) {
	a.disp.emit(statusEvent{kind: evtDeviceDisconnected, dev: d, reason: reason, handle: handle})
}

// Close tears the adapter down: discovery and advertising stop, every
// connected device disconnects, the controller and key store close.
// Idempotent.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	initialized := a.initialized
	devices := make([]*Device, 0, len(a.devices))
	for _, d := range a.devices {
		devices = append(devices, d)
	}
	ks := a.keys
	a.keys = nil
	a.mu.Unlock()

	if initialized {
		a.StopDiscovery()
		a.StopAdvertising()
	}
	for _, d := range devices {
		d.Remove()
	}
	err := a.ctrl.Close()
	if initialized {
		<-a.pumpDone
	}
	a.disp.close()
	if ks != nil {
		ks.Close()
	}
	return err
}
