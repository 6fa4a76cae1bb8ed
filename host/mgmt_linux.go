//go:build linux

package host

import (
	"github.com/pkg/errors"

	"github.com/airlinklabs/bthost"
	"github.com/airlinklabs/bthost/hci"
	"github.com/airlinklabs/bthost/hci/mgmt"
	"github.com/airlinklabs/bthost/hci/socket"
)

// MgmtEnumerator finds adapters through the BlueZ management socket and
// opens each as a raw HCI user channel. Requires CAP_NET_ADMIN and the
// device unmanaged by bluetoothd.
type MgmtEnumerator struct {
	client *mgmt.Client
	events chan EnumEvent
}

// NewMgmtEnumerator opens the management control channel.
func NewMgmtEnumerator() (*MgmtEnumerator, error) {
	c, err := mgmt.New()
	if err != nil {
		return nil, err
	}
	e := &MgmtEnumerator{client: c, events: make(chan EnumEvent, 8)}
	go e.translate()
	return e, nil
}

func (e *MgmtEnumerator) translate() {
	defer close(e.events)
	for ev := range e.client.Events() {
		switch v := ev.(type) {
		case mgmt.IndexAdded:
			e.events <- EnumEvent{Index: v.Index, Added: true}
		case mgmt.IndexRemoved:
			e.events <- EnumEvent{Index: v.Index, Removed: true}
		case mgmt.NewSettings:
			e.events <- EnumEvent{Index: v.Index, Settings: v.Settings}
		}
	}
}

func (e *MgmtEnumerator) Indices() ([]uint16, error) {
	return e.client.ReadIndexList()
}

func (e *MgmtEnumerator) Controller(index uint16) (hci.Controller, error) {
	skt, err := socket.New(int(index))
	if err != nil {
		return nil, errors.Wrapf(err, "opening hci%d", index)
	}
	return hci.NewHCI(skt), nil
}

func (e *MgmtEnumerator) SetPowered(index uint16, on bool) (bthost.AdapterSetting, error) {
	return e.client.SetPowered(index, on)
}

func (e *MgmtEnumerator) Events() <-chan EnumEvent { return e.events }

func (e *MgmtEnumerator) Close() error { return e.client.Close() }
