package host

import (
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airlinklabs/bthost"
	"github.com/airlinklabs/bthost/eir"
	"github.com/airlinklabs/bthost/gatt"
	"github.com/airlinklabs/bthost/hci"
)

const (
	advIndType  = 0x00
	scanRspType = 0x04
)

var testPeer = bthost.PeerID{
	Addr: bthost.MustParseEUI48("c0:26:df:01:f2:72"),
	Type: bthost.AddrPublic,
}

func newTestAdapter(t *testing.T) (*Adapter, *fakeController) {
	t.Helper()
	fc := newFakeController()
	a := NewAdapter(0, fc)
	require.Equal(t, bthost.StatusSuccess, a.Initialize(bthost.BTModeLE))
	t.Cleanup(func() { a.Close() })
	return a, fc
}

// recorder collects every delivered event for assertions.
type recorder struct {
	mu           sync.Mutex
	settings     []bthost.AdapterSetting // changed masks
	discovering  []bool
	found        []*Device
	foundRet     bool
	updated      []eir.DataType
	connected    []uint16
	pairStates   []bthost.PairingState
	ready        int
	disconnected []bthost.HCIStatus
}

func newRecorder() *recorder { return &recorder{foundRet: true} }

func (r *recorder) handler() *StatusHandler {
	return &StatusHandler{
		AdapterSettingsChanged: func(a *Adapter, old, cur, changed bthost.AdapterSetting, ts time.Time) {
			r.mu.Lock()
			r.settings = append(r.settings, changed)
			r.mu.Unlock()
		},
		DiscoveringChanged: func(a *Adapter, current, changed bthost.ScanType, enabled bool, policy bthost.DiscoveryPolicy, ts time.Time) {
			r.mu.Lock()
			r.discovering = append(r.discovering, enabled)
			r.mu.Unlock()
		},
		DeviceFound: func(d *Device, ts time.Time) bool {
			r.mu.Lock()
			r.found = append(r.found, d)
			ret := r.foundRet
			r.mu.Unlock()
			return ret
		},
		DeviceUpdated: func(d *Device, changed eir.DataType, ts time.Time) {
			r.mu.Lock()
			r.updated = append(r.updated, changed)
			r.mu.Unlock()
		},
		DeviceConnected: func(d *Device, handle uint16, ts time.Time) {
			r.mu.Lock()
			r.connected = append(r.connected, handle)
			r.mu.Unlock()
		},
		DevicePairingState: func(d *Device, state bthost.PairingState, mode bthost.PairingMode, ts time.Time) {
			r.mu.Lock()
			r.pairStates = append(r.pairStates, state)
			r.mu.Unlock()
		},
		DeviceReady: func(d *Device, ts time.Time) {
			r.mu.Lock()
			r.ready++
			r.mu.Unlock()
		},
		DeviceDisconnected: func(d *Device, reason bthost.HCIStatus, handle uint16, ts time.Time) {
			r.mu.Lock()
			r.disconnected = append(r.disconnected, reason)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) discoveringSeq() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.discovering...)
}

func (r *recorder) foundCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.found)
}

func (r *recorder) connectedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.connected)
}

func (r *recorder) readyCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ready
}

func (r *recorder) disconnectedReasons() []bthost.HCIStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bthost.HCIStatus(nil), r.disconnected...)
}

func advPayload(t *testing.T, name string) []byte {
	t.Helper()
	p, err := eir.NewPacket(eir.Flags(0x06), eir.CompleteName(name))
	require.NoError(t, err)
	return p.Bytes()
}

func waitDevice(t *testing.T, a *Adapter, peer bthost.PeerID) *Device {
	t.Helper()
	var d *Device
	require.Eventually(t, func() bool {
		d = a.FindDevice(peer.Addr, peer.Type)
		return d != nil
	}, time.Second, 2*time.Millisecond)
	a.disp.sync()
	return d
}

func TestInitializeIdempotent(t *testing.T) {
	a, _ := newTestAdapter(t)
	assert.Equal(t, bthost.StatusSuccess, a.Initialize(bthost.BTModeLE))
	assert.True(t, a.IsPowered())
	assert.True(t, a.Settings().Has(bthost.SettingLE))
	assert.False(t, a.Addr().IsZero())
}

func TestAdapterOptions(t *testing.T) {
	p := bthost.DefaultConnParams()
	p.IntervalMin = 0x0010
	a := NewAdapter(0, newFakeController(),
		OptConnParams(p),
		OptServerSecurity(bthost.SecurityEncOnly, bthost.IOCapNoInputNoOutput),
	)
	t.Cleanup(func() { a.Close() })

	assert.Equal(t, uint16(0x0010), a.defaultConnParams().IntervalMin)
	a.mu.RLock()
	assert.Equal(t, bthost.SecurityEncOnly, a.secLevel)
	assert.Equal(t, bthost.IOCapNoInputNoOutput, a.ioCap)
	a.mu.RUnlock()

	assert.Error(t, a.Option(OptKeyPath("/dev/null/nope.db")))
}

func TestStatusListenerRegistry(t *testing.T) {
	a, _ := newTestAdapter(t)
	h1, h2 := &StatusHandler{}, &StatusHandler{}

	require.NoError(t, a.AddStatusListener(h1))
	assert.True(t, errors.Is(a.AddStatusListener(h1), bthost.ErrAlreadyRegistered))
	require.NoError(t, a.AddStatusListenerFor(h2, testPeer))

	assert.Equal(t, 2, a.RemoveAllStatusListeners())
	assert.False(t, a.RemoveStatusListener(h1))
}

func TestDiscoveryTransitions(t *testing.T) {
	a, fc := newTestAdapter(t)
	rec := newRecorder()
	require.NoError(t, a.AddStatusListener(rec.handler()))

	st := a.StartDiscovery(bthost.DiscoveryAutoOff, true, 0, 0, 0, false)
	require.Equal(t, bthost.StatusSuccess, st)
	assert.True(t, a.IsDiscovering())

	// already discovering: no-op success, no extra event
	assert.Equal(t, bthost.StatusSuccess, a.StartDiscovery(bthost.DiscoveryAutoOff, true, 0, 0, 0, false))

	assert.Equal(t, bthost.StatusSuccess, a.StopDiscovery())
	assert.False(t, a.IsDiscovering())
	assert.Equal(t, bthost.StatusSuccess, a.StopDiscovery())

	a.disp.sync()
	assert.Equal(t, []bool{true, false}, rec.discoveringSeq())

	fc.mu.Lock()
	defer fc.mu.Unlock()
	assert.Equal(t, []bool{true, false}, fc.scanEnables)
	assert.True(t, fc.scanParams.Active)
	assert.Equal(t, uint16(0x0060), fc.scanParams.Interval)
}

func TestDiscoveryRequiresPower(t *testing.T) {
	fc := newFakeController()
	a := NewAdapter(0, fc)
	t.Cleanup(func() { a.Close() })
	assert.Equal(t, bthost.StatusNotPowered, a.StartDiscovery(bthost.DiscoveryAutoOff, true, 0, 0, 0, false))
}

func TestDeviceFoundAndUpdated(t *testing.T) {
	a, fc := newTestAdapter(t)
	rec := newRecorder()
	require.NoError(t, a.AddStatusListener(rec.handler()))
	require.Equal(t, bthost.StatusSuccess, a.StartDiscovery(bthost.DiscoveryAlwaysOn, true, 0, 0, 0, false))

	fc.advertise(testPeer, advIndType, -60, advPayload(t, "thermo"))
	d := waitDevice(t, a, testPeer)

	assert.Equal(t, 1, rec.foundCount())
	assert.Equal(t, "thermo", d.Name())
	assert.Equal(t, int8(-60), d.RSSI())
	assert.Equal(t, DeviceDiscovered, d.State())
	require.NotNil(t, d.EIRInd())
	assert.Nil(t, d.EIRScanRsp())

	// same device again: updated, not re-found
	fc.advertise(testPeer, advIndType, -48, advPayload(t, "thermo"))
	require.Eventually(t, func() bool { return d.RSSI() == -48 }, time.Second, 2*time.Millisecond)
	a.disp.sync()
	assert.Equal(t, 1, rec.foundCount())

	// scan response merges
	sr, err := eir.NewPacket(eir.TxPower(4))
	require.NoError(t, err)
	fc.advertise(testPeer, scanRspType, -48, sr.Bytes())
	require.Eventually(t, func() bool { return d.TxPower() == 4 }, time.Second, 2*time.Millisecond)
	require.NotNil(t, d.EIRScanRsp())
	require.NotNil(t, d.EIR())
	assert.Equal(t, "thermo", d.EIR().Name)

	assert.Len(t, a.DiscoveredDevices(), 1)
	assert.Same(t, d, a.FindDevice(testPeer.Addr, testPeer.Type))
}

func TestDeviceFoundRejectedIsNotTracked(t *testing.T) {
	a, fc := newTestAdapter(t)
	rec := newRecorder()
	rec.foundRet = false
	require.NoError(t, a.AddStatusListener(rec.handler()))
	require.Equal(t, bthost.StatusSuccess, a.StartDiscovery(bthost.DiscoveryAlwaysOn, true, 0, 0, 0, false))

	fc.advertise(testPeer, advIndType, -60, advPayload(t, "ignored"))
	require.Eventually(t, func() bool { return rec.foundCount() == 1 }, time.Second, 2*time.Millisecond)
	a.disp.sync()
	assert.Empty(t, a.DiscoveredDevices())

	// re-advertising reports the device again
	fc.advertise(testPeer, advIndType, -60, advPayload(t, "ignored"))
	require.Eventually(t, func() bool { return rec.foundCount() == 2 }, time.Second, 2*time.Millisecond)
}

func TestScanRSSIFloor(t *testing.T) {
	a, fc := newTestAdapter(t)
	rec := newRecorder()
	require.NoError(t, a.AddStatusListener(rec.handler()))
	a.SetScanRSSIFloor(true, -70)
	require.Equal(t, bthost.StatusSuccess, a.StartDiscovery(bthost.DiscoveryAlwaysOn, true, 0, 0, 0, false))

	fc.advertise(testPeer, advIndType, -90, advPayload(t, "far"))
	fc.advertise(testPeer, advIndType, -50, advPayload(t, "near"))

	d := waitDevice(t, a, testPeer)
	assert.Equal(t, int8(-50), d.RSSI())
	assert.Equal(t, 1, rec.foundCount())
}

func TestRemoveDiscoveredDevices(t *testing.T) {
	a, fc := newTestAdapter(t)
	require.Equal(t, bthost.StatusSuccess, a.StartDiscovery(bthost.DiscoveryAlwaysOn, true, 0, 0, 0, false))

	fc.advertise(testPeer, advIndType, -60, advPayload(t, "one"))
	waitDevice(t, a, testPeer)

	assert.False(t, a.RemoveDiscoveredDevice(testPeer.Addr, bthost.AddrRandom))
	assert.True(t, a.RemoveDiscoveredDevice(testPeer.Addr, testPeer.Type))
	assert.Nil(t, a.FindDevice(testPeer.Addr, testPeer.Type))

	fc.advertise(testPeer, advIndType, -60, advPayload(t, "one"))
	waitDevice(t, a, testPeer)
	assert.Equal(t, 1, a.RemoveDiscoveredDevices())
	assert.Empty(t, a.DiscoveredDevices())
}

func TestConnectAutoOffScenario(t *testing.T) {
	a, fc := newTestAdapter(t)
	rec := newRecorder()
	require.NoError(t, a.AddStatusListener(rec.handler()))
	require.Equal(t, bthost.StatusSuccess, a.StartDiscovery(bthost.DiscoveryAutoOff, true, 0, 0, 0, false))

	fc.advertise(testPeer, advIndType, -60, advPayload(t, "peripheral"))
	d := waitDevice(t, a, testPeer)

	fc.mu.Lock()
	fc.autoConnect = true
	fc.mu.Unlock()

	require.Equal(t, bthost.StatusSuccess, d.ConnectDefault())
	assert.Equal(t, DeviceConnected, d.State())
	assert.NotZero(t, d.ConnHandle())
	assert.Equal(t, bthost.RoleMaster, d.Role())

	a.disp.sync()
	require.Eventually(t, func() bool { return rec.connectedCount() == 1 }, time.Second, 2*time.Millisecond)
	require.Eventually(t, func() bool { return rec.readyCount() == 1 }, time.Second, 2*time.Millisecond)

	// AUTO_OFF stopped the scan
	require.Eventually(t, func() bool { return !a.IsDiscovering() }, time.Second, 2*time.Millisecond)
	a.disp.sync()
	assert.Equal(t, []bool{true, false}, rec.discoveringSeq())

	// connecting again is refused
	assert.Equal(t, bthost.StatusAlreadyConnected, d.ConnectDefault())
}

func TestDisconnectScenario(t *testing.T) {
	a, fc := newTestAdapter(t)
	rec := newRecorder()
	require.NoError(t, a.AddStatusListener(rec.handler()))

	fc.mu.Lock()
	fc.autoConnect = true
	fc.mu.Unlock()

	d, st := a.ConnectDevice(testPeer.Addr, testPeer.Type)
	require.Equal(t, bthost.StatusSuccess, st)
	require.Equal(t, DeviceConnected, d.State())

	require.Equal(t, bthost.StatusSuccess, d.Disconnect())
	require.Eventually(t, func() bool { return d.State() == DeviceDisconnected }, time.Second, 2*time.Millisecond)
	a.disp.sync()

	reasons := rec.disconnectedReasons()
	require.Len(t, reasons, 1)
	assert.Equal(t, bthost.StatusLocalTerminated, reasons[0])

	// gatt operations after teardown fail with a status, never hang
	svcs, st := d.GetGattServices()
	assert.Nil(t, svcs)
	assert.Equal(t, bthost.StatusNotConnected, st)
	assert.False(t, d.PingGATT())
	assert.Equal(t, bthost.StatusNotConnected, d.Disconnect())

	// removal after teardown is a safe no-op
	d.Remove()
	d.Remove()
}

// phyController is a fakeController that also supports LE Set PHY.
type phyController struct {
	*fakeController

	pmu    sync.Mutex
	handle uint16
	tx, rx bthost.LEPHY
}

func (p *phyController) SetPHY(handle uint16, tx, rx bthost.LEPHY) bthost.HCIStatus {
	p.pmu.Lock()
	p.handle, p.tx, p.rx = handle, tx, rx
	p.pmu.Unlock()
	return bthost.StatusSuccess
}

func TestSetConnectedLEPHY(t *testing.T) {
	pc := &phyController{fakeController: newFakeController()}
	a := NewAdapter(0, pc)
	require.Equal(t, bthost.StatusSuccess, a.Initialize(bthost.BTModeLE))
	t.Cleanup(func() { a.Close() })

	pc.mu.Lock()
	pc.autoConnect = true
	pc.mu.Unlock()

	d, st := a.ConnectDevice(testPeer.Addr, testPeer.Type)
	require.Equal(t, bthost.StatusSuccess, st)

	require.Equal(t, bthost.StatusSuccess, d.SetConnectedLEPHY(bthost.PHY2M, bthost.PHYUnset))
	pc.pmu.Lock()
	assert.Equal(t, d.ConnHandle(), pc.handle)
	assert.Equal(t, bthost.PHY2M, pc.tx)
	assert.Equal(t, bthost.PHYUnset, pc.rx)
	pc.pmu.Unlock()

	require.Equal(t, bthost.StatusSuccess, d.Disconnect())
	require.Eventually(t, func() bool { return d.State() == DeviceDisconnected }, time.Second, 2*time.Millisecond)
	assert.Equal(t, bthost.StatusNotConnected, d.SetConnectedLEPHY(bthost.PHY2M, bthost.PHY2M))
}

func TestSetConnectedLEPHYUnsupported(t *testing.T) {
	a, fc := newTestAdapter(t)
	fc.mu.Lock()
	fc.autoConnect = true
	fc.mu.Unlock()

	d, st := a.ConnectDevice(testPeer.Addr, testPeer.Type)
	require.Equal(t, bthost.StatusSuccess, st)
	assert.Equal(t, bthost.StatusCommandDisallowed, d.SetConnectedLEPHY(bthost.PHY1M, bthost.PHY1M))
}

func TestGattClientEndToEnd(t *testing.T) {
	a, fc := newTestAdapter(t)

	fc.mu.Lock()
	fc.autoConnect = true
	fc.mu.Unlock()

	d, st := a.ConnectDevice(testPeer.Addr, testPeer.Type)
	require.Equal(t, bthost.StatusSuccess, st)

	// stand up the remote peripheral on the far end of the fake link
	ch := &gatt.CharDef{
		UUID:       bthost.UUID16(0x2a37),
		Properties: bthost.CharRead | bthost.CharWrite | bthost.CharNotify,
		Value:      bthost.NewValueFrom([]byte{0x00, 0x48}, 8),
	}
	name := &gatt.CharDef{
		UUID:       bthost.DeviceNameUUID,
		Properties: bthost.CharRead,
		Value:      bthost.NewValueFrom([]byte("pulse"), 16),
	}
	srv := gatt.NewServer([]*gatt.ServiceDef{
		{UUID: bthost.GAPServiceUUID, Primary: true, Chars: []*gatt.CharDef{name}},
		{UUID: bthost.UUID16(0x180d), Primary: true, Chars: []*gatt.CharDef{ch}},
	}, 128)
	periph := fc.peripheral()
	require.NotNil(t, periph)
	go srv.Serve(periph)

	svcs, st := d.GetGattServices()
	require.Equal(t, bthost.StatusSuccess, st)
	require.Len(t, svcs, 2)
	assert.Equal(t, "pulse", d.Name())

	// idempotent: same tree, no re-discovery
	again, st := d.GetGattServices()
	require.Equal(t, bthost.StatusSuccess, st)
	assert.Equal(t, len(svcs), len(again))
	assert.Same(t, svcs[0], again[0])

	assert.True(t, d.PingGATT())

	var hr *bthost.Characteristic
	for _, s := range svcs {
		for _, c := range s.Characteristics {
			if c.UUID.Equal(bthost.UUID16(0x2a37)) {
				hr = c
			}
		}
	}
	require.NotNil(t, hr)

	v, err := d.ReadCharacteristic(hr)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x48}, v)

	require.NoError(t, d.WriteCharacteristic(hr, []byte{0x00, 0x50}, true))
	assert.Equal(t, []byte{0x00, 0x50}, ch.Value.Bytes())

	got := make(chan []byte, 1)
	l := &CharListener{Notification: func(c *bthost.Characteristic, value []byte, ts time.Time) {
		got <- value
	}}
	require.NoError(t, d.AddCharListenerFor(l, hr))
	assert.True(t, errors.Is(d.AddCharListener(l), bthost.ErrAlreadyRegistered))

	ok, notifying, indicating := d.ConfigNotificationIndication(hr, true, false)
	assert.True(t, ok)
	assert.True(t, notifying)
	assert.False(t, indicating)

	require.NoError(t, srv.Notify(periph, ch, []byte{0x00, 0x5a}))
	select {
	case v := <-got:
		assert.Equal(t, []byte{0x00, 0x5a}, v)
	case <-time.After(time.Second):
		t.Fatal("notification not delivered")
	}

	assert.Equal(t, 1, d.RemoveAllAssociatedCharListener(hr))
	assert.False(t, d.RemoveCharListener(l))
	assert.Equal(t, 0, d.RemoveAllCharListener())
}

func TestConfigNotificationReflectsCapability(t *testing.T) {
	a, fc := newTestAdapter(t)

	fc.mu.Lock()
	fc.autoConnect = true
	fc.mu.Unlock()

	d, st := a.ConnectDevice(testPeer.Addr, testPeer.Type)
	require.Equal(t, bthost.StatusSuccess, st)

	// characteristic supports indications only
	ch := &gatt.CharDef{
		UUID:       bthost.UUID16(0x2a05),
		Properties: bthost.CharRead | bthost.CharIndicate,
		Value:      bthost.NewValueFrom([]byte{0x00}, 4),
	}
	srv := gatt.NewServer([]*gatt.ServiceDef{
		{UUID: bthost.UUID16(0x1801), Primary: true, Chars: []*gatt.CharDef{ch}},
	}, 128)
	periph := fc.peripheral()
	require.NotNil(t, periph)
	go srv.Serve(periph)

	svcs, st := d.GetGattServices()
	require.Equal(t, bthost.StatusSuccess, st)
	require.Len(t, svcs, 1)
	c := svcs[0].Characteristics[0]

	ok, notifying, indicating := d.ConfigNotificationIndication(c, true, false)
	assert.True(t, ok)
	assert.False(t, notifying, "notify must reflect peer capability, not the request")
	assert.False(t, indicating)
}

func TestAdvertisingSession(t *testing.T) {
	a, fc := newTestAdapter(t)

	rep := &eir.Report{Name: "beacon", Set: eir.DataName}
	st := a.StartAdvertising(nil, rep, eir.DataFlags|eir.DataName, eir.DataNone, bthost.AdvParams{})
	require.Equal(t, bthost.StatusSuccess, st)
	assert.True(t, a.IsAdvertising())

	// one session per adapter: the caller must stop the running one
	assert.Equal(t, bthost.StatusCommandDisallowed,
		a.StartAdvertising(nil, rep, eir.DataFlags, eir.DataNone, bthost.AdvParams{}))

	fc.mu.Lock()
	assert.Equal(t, []byte{0x02, 0x01, 0x06}, fc.advData[:3])
	assert.Equal(t, bthost.AdvTypeInd, fc.advParams.Type)
	fc.mu.Unlock()

	require.Equal(t, bthost.StatusSuccess, a.StopAdvertising())
	assert.False(t, a.IsAdvertising())
	assert.Equal(t, bthost.StatusSuccess, a.StopAdvertising())
}

func TestWhitelist(t *testing.T) {
	a, fc := newTestAdapter(t)

	assert.False(t, a.IsDeviceWhitelisted(testPeer.Addr, testPeer.Type))
	assert.True(t, a.AddDeviceToWhitelist(testPeer.Addr, testPeer.Type))
	assert.True(t, a.IsDeviceWhitelisted(testPeer.Addr, testPeer.Type))

	fc.mu.Lock()
	assert.True(t, fc.whitelist[testPeer])
	fc.mu.Unlock()

	assert.True(t, a.RemoveDeviceFromWhitelist(testPeer.Addr, testPeer.Type))
	assert.False(t, a.IsDeviceWhitelisted(testPeer.Addr, testPeer.Type))
	assert.False(t, a.RemoveDeviceFromWhitelist(testPeer.Addr, testPeer.Type))
}

func TestKeyMaterialAccessors(t *testing.T) {
	a, fc := newTestAdapter(t)
	require.Equal(t, bthost.StatusSuccess, a.StartDiscovery(bthost.DiscoveryAlwaysOn, true, 0, 0, 0, false))
	fc.advertise(testPeer, advIndType, -60, advPayload(t, "lock"))
	d := waitDevice(t, a, testPeer)

	_, err := d.LongTermKey(false)
	assert.True(t, errors.Is(err, bthost.ErrKeyUnset))

	ltk := bthost.LongTermKey{EncSize: 16, EDiv: 0x1234, Rand: 0xdeadbeef}
	ltk.LTK[0] = 0x99
	require.NoError(t, d.SetLongTermKey(false, ltk))

	got, err := d.LongTermKey(false)
	require.NoError(t, err)
	assert.Equal(t, ltk, got)

	// the responder slot stays independent
	_, err = d.LongTermKey(true)
	assert.True(t, errors.Is(err, bthost.ErrKeyUnset))

	irk := bthost.IdentityResolvingKey{ID: testPeer.Addr}
	irk.IRK[3] = 0x07
	require.NoError(t, d.SetIdentityResolvingKey(true, irk))
	gotIRK, err := d.IdentityResolvingKey(true)
	require.NoError(t, err)
	assert.Equal(t, irk, gotIRK)

	// replacing material on an encrypted link is refused
	d.mu.Lock()
	d.encrypted = true
	d.mu.Unlock()
	assert.True(t, errors.Is(d.SetLongTermKey(false, ltk), bthost.ErrAlreadyPaired))
	assert.True(t, errors.Is(d.SetLinkKey(true, bthost.LinkKey{}), bthost.ErrAlreadyPaired))
}

func TestManagerStaticEnumeration(t *testing.T) {
	enum := NewStaticEnumerator(map[uint16]hci.Controller{
		0: newFakeController(),
		1: newFakeController(),
	})

	m, err := NewManager(enum)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })

	adapters := m.Adapters()
	require.Len(t, adapters, 2)
	assert.Equal(t, uint16(0), adapters[0].DevID())
	assert.Equal(t, uint16(1), adapters[1].DevID())

	a, err := m.Adapter(1)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), a.DevID())

	_, err = m.Adapter(9)
	assert.True(t, errors.Is(err, bthost.ErrNotFound))

	// static enumerator has no power control; the local emulation
	// still toggles the bit
	require.Equal(t, bthost.StatusSuccess, a.Initialize(bthost.BTModeLE))
	assert.True(t, a.SetPowered(false))
	assert.False(t, a.IsPowered())
}
