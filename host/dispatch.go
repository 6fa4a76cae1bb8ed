package host

import (
	"sync"
	"time"

	"github.com/airlinklabs/bthost"
	"github.com/airlinklabs/bthost/eir"
)

type evtKind int

const (
	evtSettings evtKind = iota
	evtDiscovering
	evtDeviceFound
	evtDeviceUpdated
	evtDeviceConnected
	evtPairingState
	evtDeviceReady
	evtDeviceDisconnected
	evtFlush
)

// statusEvent is one queued transition. Only the fields of its kind are
// set.
type statusEvent struct {
	kind evtKind
	ts   time.Time
	dev  *Device

	oldSettings bthost.AdapterSetting
	newSettings bthost.AdapterSetting
	chgSettings bthost.AdapterSetting

	scanCurrent bthost.ScanType
	scanChanged bthost.ScanType
	enabled     bool
	policy      bthost.DiscoveryPolicy

	changedData eir.DataType
	handle      uint16
	pairState   bthost.PairingState
	pairMode    bthost.PairingMode
	reason      bthost.HCIStatus

	// found receives the aggregated DeviceFound verdict; flush is
	// closed once the queue has drained past this event.
	found func(keep bool)
	flush chan struct{}
}

// dispatcher serializes event delivery for one adapter. A single
// goroutine drains the queue, so listeners see events in emission order
// and never concurrently.
type dispatcher struct {
	a   *Adapter
	log bthost.Logger

	mu        sync.Mutex
	cond      *sync.Cond
	queue     []statusEvent
	listeners []*listenerEntry
	closed    bool
	done      chan struct{}
}

func newDispatcher(a *Adapter, log bthost.Logger) *dispatcher {
	d := &dispatcher{a: a, log: log, done: make(chan struct{})}
	d.cond = sync.NewCond(&d.mu)
	go d.run()
	return d
}

func (d *dispatcher) addListener(h *StatusHandler, filter *bthost.PeerID) error {
	if h == nil {
		return bthost.ErrInvalidArgument
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range d.listeners {
		if e.h == h {
			return bthost.ErrAlreadyRegistered
		}
	}
	d.listeners = append(d.listeners, &listenerEntry{h: h, filter: filter})
	return nil
}

func (d *dispatcher) removeListener(h *StatusHandler) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, e := range d.listeners {
		if e.h == h {
			d.listeners = append(d.listeners[:i], d.listeners[i+1:]...)
			return true
		}
	}
	return false
}

func (d *dispatcher) removeAll() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.listeners)
	d.listeners = nil
	return n
}

func (d *dispatcher) emit(ev statusEvent) {
	if ev.ts.IsZero() {
		ev.ts = bthost.Timestamp()
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		if ev.flush != nil {
			close(ev.flush)
		}
		return
	}
	d.queue = append(d.queue, ev)
	d.cond.Signal()
	d.mu.Unlock()
}

// sync blocks until every event queued before the call has been
// delivered.
func (d *dispatcher) sync() {
	ch := make(chan struct{})
	d.emit(statusEvent{kind: evtFlush, flush: ch})
	<-ch
}

func (d *dispatcher) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.cond.Signal()
	d.mu.Unlock()
	<-d.done
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 && d.closed {
			d.mu.Unlock()
			return
		}
		ev := d.queue[0]
		d.queue = d.queue[1:]
		listeners := make([]*listenerEntry, len(d.listeners))
		copy(listeners, d.listeners)
		d.mu.Unlock()

		d.deliver(ev, listeners)
	}
}

func (d *dispatcher) deliver(ev statusEvent, listeners []*listenerEntry) {
	if ev.kind == evtFlush {
		close(ev.flush)
		return
	}

	// Events about a device that has since been removed are dropped;
	// teardown races against queued delivery are expected here.
	if ev.dev != nil && !ev.dev.valid() {
		d.log.Debugf("dropping %d event for removed device %s", ev.kind, ev.dev.peer)
		if ev.found != nil {
			ev.found(false)
		}
		return
	}

	keep, sawFound := false, false
	for _, e := range listeners {
		if ev.dev != nil && !e.wants(ev.dev) {
			continue
		}
		h := e.h
		switch ev.kind {
		case evtSettings:
			if h.AdapterSettingsChanged != nil {
				h.AdapterSettingsChanged(d.a, ev.oldSettings, ev.newSettings, ev.chgSettings, ev.ts)
			}
		case evtDiscovering:
			if h.DiscoveringChanged != nil {
				h.DiscoveringChanged(d.a, ev.scanCurrent, ev.scanChanged, ev.enabled, ev.policy, ev.ts)
			}
		case evtDeviceFound:
			if h.DeviceFound != nil {
				sawFound = true
				if h.DeviceFound(ev.dev, ev.ts) {
					keep = true
				}
			}
		case evtDeviceUpdated:
			if h.DeviceUpdated != nil {
				h.DeviceUpdated(ev.dev, ev.changedData, ev.ts)
			}
		case evtDeviceConnected:
			if h.DeviceConnected != nil {
				h.DeviceConnected(ev.dev, ev.handle, ev.ts)
			}
		case evtPairingState:
			if h.DevicePairingState != nil {
				h.DevicePairingState(ev.dev, ev.pairState, ev.pairMode, ev.ts)
			}
		case evtDeviceReady:
			if h.DeviceReady != nil {
				h.DeviceReady(ev.dev, ev.ts)
			}
		case evtDeviceDisconnected:
			if h.DeviceDisconnected != nil {
				h.DeviceDisconnected(ev.dev, ev.reason, ev.handle, ev.ts)
			}
		}
	}

	if ev.found != nil {
		ev.found(keep || !sawFound)
	}
}
