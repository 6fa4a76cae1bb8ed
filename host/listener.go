// Package host assembles the stack: a Manager enumerating adapters, an
// Adapter per controller driving discovery, advertising and connections,
// and a Device per remote peer carrying pairing and the GATT client.
// Applications observe it all through StatusHandler callbacks.
package host

import (
	"time"

	"github.com/airlinklabs/bthost"
	"github.com/airlinklabs/bthost/eir"
)

// StatusHandler receives adapter and device state transitions. Every
// field is optional; a nil hook is skipped. Hooks run on the adapter's
// dispatch goroutine, one event at a time, so a handler never sees two
// callbacks concurrently and events for one device arrive in the order
// the state machine produced them.
type StatusHandler struct {
	// AdapterSettingsChanged reports a settings bitmask transition;
	// changed holds the bits that flipped.
	AdapterSettingsChanged func(a *Adapter, old, cur, changed bthost.AdapterSetting, ts time.Time)

	// DiscoveringChanged fires on every discovery state transition.
	DiscoveringChanged func(a *Adapter, current, changed bthost.ScanType, enabled bool, policy bthost.DiscoveryPolicy, ts time.Time)

	// DeviceFound reports a newly seen advertiser. Returning false drops
	// the device from the discovered set; it will be reported again on a
	// later advertisement.
	DeviceFound func(d *Device, ts time.Time) bool

	// DeviceUpdated reports changed advertising data for a tracked
	// device; changed is the mask of report fields that differ.
	DeviceUpdated func(d *Device, changed eir.DataType, ts time.Time)

	DeviceConnected    func(d *Device, handle uint16, ts time.Time)
	DevicePairingState func(d *Device, state bthost.PairingState, mode bthost.PairingMode, ts time.Time)

	// DeviceReady fires once the connection is usable by the
	// application: after connection setup and, when security was
	// requested, after pairing and encryption completed.
	DeviceReady func(d *Device, ts time.Time)

	DeviceDisconnected func(d *Device, reason bthost.HCIStatus, handle uint16, ts time.Time)
}

// CharListener receives characteristic value events pushed by a remote
// server. Fields are optional.
type CharListener struct {
	Notification func(c *bthost.Characteristic, value []byte, ts time.Time)
	Indication   func(c *bthost.Characteristic, value []byte, ts time.Time)
}

type listenerEntry struct {
	h      *StatusHandler
	filter *bthost.PeerID
}

func (e *listenerEntry) wants(d *Device) bool {
	if e.filter == nil || d == nil {
		return true
	}
	return d.peer == *e.filter
}

type charListenerEntry struct {
	l      *CharListener
	filter *bthost.Characteristic
}
