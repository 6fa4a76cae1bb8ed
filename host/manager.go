package host

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/airlinklabs/bthost"
	"github.com/airlinklabs/bthost/hci"
)

// EnumEvent is a hotplug or settings change reported by an Enumerator.
type EnumEvent struct {
	Index uint16

	// Added and Removed mark index hotplug; when both are false the
	// event is a settings change.
	Added   bool
	Removed bool

	Settings bthost.AdapterSetting
}

// Enumerator abstracts how adapters are found and powered: the BlueZ
// management socket on Linux, or a static table for fixed transports and
// tests.
type Enumerator interface {
	// Indices lists the currently bound radio indices.
	Indices() ([]uint16, error)

	// Controller opens the controller behind an index.
	Controller(index uint16) (hci.Controller, error)

	// SetPowered toggles radio power and returns the settings in
	// effect afterwards.
	SetPowered(index uint16, on bool) (bthost.AdapterSetting, error)

	// Events delivers hotplug and settings changes; may return nil
	// when the enumerator has no event source.
	Events() <-chan EnumEvent

	Close() error
}

// Manager is the registry of adapters on this host. It is an explicit
// object with its own lifecycle; construct one per process scope that
// needs radios and Close it when done.
type Manager struct {
	enum Enumerator
	log  bthost.Logger

	mu       sync.Mutex
	adapters map[uint16]*Adapter
	closed   bool

	hotplug func(a *Adapter, added bool)

	done chan struct{}
}

// NewManager enumerates the currently bound radios and binds an Adapter
// to each. Hotplug keeps the set current afterwards.
func NewManager(enum Enumerator) (*Manager, error) {
	m := &Manager{
		enum:     enum,
		log:      bthost.GetLogger().ChildLogger(map[string]interface{}{"module": "manager"}),
		adapters: make(map[uint16]*Adapter),
		done:     make(chan struct{}),
	}

	indices, err := enum.Indices()
	if err != nil {
		return nil, errors.Wrap(err, "enumerating adapters")
	}
	for _, idx := range indices {
		if err := m.bind(idx); err != nil {
			m.log.Warnf("binding adapter %d: %v", idx, err)
		}
	}

	if ch := enum.Events(); ch != nil {
		go m.watch(ch)
	} else {
		close(m.done)
	}
	return m, nil
}

// SetAdapterHandler installs a callback for adapter hotplug. The
// callback runs on the manager's event goroutine.
func (m *Manager) SetAdapterHandler(h func(a *Adapter, added bool)) {
	m.mu.Lock()
	m.hotplug = h
	m.mu.Unlock()
}

// Adapters returns the currently bound adapters, ordered by index.
func (m *Manager) Adapters() []*Adapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Adapter, 0, len(m.adapters))
	for _, a := range m.adapters {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DevID() < out[j].DevID() })
	return out
}

// Adapter returns the adapter bound to the given radio index.
func (m *Manager) Adapter(devID uint16) (*Adapter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.adapters[devID]
	if a == nil {
		return nil, errors.Wrapf(bthost.ErrNotFound, "adapter %d", devID)
	}
	return a, nil
}

func (m *Manager) bind(idx uint16) error {
	ctrl, err := m.enum.Controller(idx)
	if err != nil {
		return err
	}
	a := NewAdapter(idx, ctrl)
	a.powerFn = func(on bool) (bthost.AdapterSetting, error) {
		return m.enum.SetPowered(idx, on)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		a.Close()
		return bthost.ErrClosed
	}
	m.adapters[idx] = a
	m.mu.Unlock()
	return nil
}

func (m *Manager) watch(ch <-chan EnumEvent) {
	defer close(m.done)
	for ev := range ch {
		switch {
		case ev.Added:
			if err := m.bind(ev.Index); err != nil {
				m.log.Warnf("hotplug bind %d: %v", ev.Index, err)
				continue
			}
			m.notify(ev.Index, true)
		case ev.Removed:
			m.mu.Lock()
			a := m.adapters[ev.Index]
			delete(m.adapters, ev.Index)
			m.mu.Unlock()
			if a != nil {
				m.notify(ev.Index, false)
				a.Close()
			}
		default:
			m.mu.Lock()
			a := m.adapters[ev.Index]
			m.mu.Unlock()
			if a != nil {
				a.applySettings(ev.Settings)
			}
		}
	}
}

func (m *Manager) notify(idx uint16, added bool) {
	m.mu.Lock()
	h := m.hotplug
	a := m.adapters[idx]
	m.mu.Unlock()
	if h != nil && (a != nil || !added) {
		h(a, added)
	}
}

// Close tears down every adapter and the enumerator.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	adapters := make([]*Adapter, 0, len(m.adapters))
	for _, a := range m.adapters {
		adapters = append(adapters, a)
	}
	m.adapters = make(map[uint16]*Adapter)
	m.mu.Unlock()

	for _, a := range adapters {
		if err := a.Close(); err != nil {
			m.log.Warnf("closing adapter %d: %v", a.DevID(), err)
		}
	}
	err := m.enum.Close()
	<-m.done
	return err
}

// StaticEnumerator serves a fixed index-to-controller table: fixed
// serial transports, or fakes in tests. It reports no hotplug.
type StaticEnumerator struct {
	mu    sync.Mutex
	ctrls map[uint16]hci.Controller
}

// NewStaticEnumerator builds an enumerator over a fixed controller set.
func NewStaticEnumerator(ctrls map[uint16]hci.Controller) *StaticEnumerator {
	c := make(map[uint16]hci.Controller, len(ctrls))
	for k, v := range ctrls {
		c[k] = v
	}
	return &StaticEnumerator{ctrls: c}
}

func (s *StaticEnumerator) Indices() ([]uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint16, 0, len(s.ctrls))
	for idx := range s.ctrls {
		out = append(out, idx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *StaticEnumerator) Controller(index uint16) (hci.Controller, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.ctrls[index]
	if c == nil {
		return nil, errors.Wrapf(bthost.ErrNotFound, "controller %d", index)
	}
	return c, nil
}

func (s *StaticEnumerator) SetPowered(index uint16, on bool) (bthost.AdapterSetting, error) {
	return 0, errors.New("static enumerator has no power control")
}

func (s *StaticEnumerator) Events() <-chan EnumEvent { return nil }

func (s *StaticEnumerator) Close() error { return nil }
