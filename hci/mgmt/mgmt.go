//go:build linux

// Package mgmt speaks the BlueZ management protocol on the HCI control
// channel. The host uses it to enumerate adapter indices, toggle power
// and watch hotplug and settings events without claiming the device.
package mgmt

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/airlinklabs/bthost"
)

// Management opcodes (mgmt-api.txt).
const (
	opReadVersion        = 0x0001
	opReadIndexList      = 0x0003
	opReadControllerInfo = 0x0004
	opSetPowered         = 0x0005
)

// Management event codes.
const (
	evtCommandComplete = 0x0001
	evtCommandStatus   = 0x0002
	evtIndexAdded      = 0x0004
	evtIndexRemoved    = 0x0005
	evtNewSettings     = 0x0006
)

// indexNone addresses commands not bound to one controller.
const indexNone = 0xffff

const cmdTimeout = 5 * time.Second

// Event is a management event. Concrete types: IndexAdded, IndexRemoved,
// NewSettings.
type Event interface {
	isMgmtEvent()
}

// IndexAdded reports a controller appearing.
type IndexAdded struct {
	Index uint16
}

// IndexRemoved reports a controller going away.
type IndexRemoved struct {
	Index uint16
}

// NewSettings reports a settings bitmask change on a controller.
type NewSettings struct {
	Index    uint16
	Settings bthost.AdapterSetting
}

func (IndexAdded) isMgmtEvent()   {}
func (IndexRemoved) isMgmtEvent() {}
func (NewSettings) isMgmtEvent()  {}

// ControllerInfo is the static description of one controller.
type ControllerInfo struct {
	Addr              bthost.EUI48
	Version           uint8
	Manufacturer      uint16
	SupportedSettings bthost.AdapterSetting
	CurrentSettings   bthost.AdapterSetting
	Name              string
}

type rsp struct {
	status uint8
	data   []byte
}

// Client is a management channel client. Safe for concurrent use.
type Client struct {
	fd  int
	log bthost.Logger

	wmu     sync.Mutex
	mu      sync.Mutex
	pending map[uint16]chan rsp

	events chan Event

	cmu  sync.Mutex
	done chan struct{}
}

// New binds the management control channel.
func New() (*Client, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_RAW, unix.BTPROTO_HCI)
	if err != nil {
		return nil, errors.Wrap(err, "can't create socket")
	}
	sa := unix.SockaddrHCI{Dev: indexNone, Channel: unix.HCI_CHANNEL_CONTROL}
	if err := unix.Bind(fd, &sa); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "can't bind control channel")
	}

	c := &Client{
		fd:      fd,
		log:     bthost.GetLogger().ChildLogger(map[string]interface{}{"sys": "mgmt"}),
		pending: make(map[uint16]chan rsp),
		events:  make(chan Event, 16),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Events delivers hotplug and settings events. Closed on Close.
func (c *Client) Events() <-chan Event { return c.events }

// Close shuts the channel down.
func (c *Client) Close() error {
	c.cmu.Lock()
	defer c.cmu.Unlock()
	select {
	case <-c.done:
		return nil
	default:
		close(c.done)
		return unix.Close(c.fd)
	}
}

// ReadIndexList returns the indices of all registered controllers.
func (c *Client) ReadIndexList() ([]uint16, error) {
	data, err := c.cmd(opReadIndexList, indexNone, nil)
	if err != nil {
		return nil, err
	}
	if len(data) < 2 {
		return nil, errors.New("short index list")
	}
	n := int(binary.LittleEndian.Uint16(data[0:2]))
	if len(data) < 2+2*n {
		return nil, errors.New("truncated index list")
	}
	idx := make([]uint16, n)
	for i := 0; i < n; i++ {
		idx[i] = binary.LittleEndian.Uint16(data[2+2*i:])
	}
	return idx, nil
}

// ReadControllerInfo returns the description of one controller.
func (c *Client) ReadControllerInfo(index uint16) (ControllerInfo, error) {
	data, err := c.cmd(opReadControllerInfo, index, nil)
	if err != nil {
		return ControllerInfo{}, err
	}
	if len(data) < 280 {
		return ControllerInfo{}, errors.Errorf("short controller info: %d", len(data))
	}
	name := data[31:280]
	end := 0
	for end < len(name) && name[end] != 0 {
		end++
	}
	return ControllerInfo{
		Addr:              bthost.EUI48FromWire(data[0:6]),
		Version:           data[6],
		Manufacturer:      binary.LittleEndian.Uint16(data[7:9]),
		SupportedSettings: bthost.AdapterSetting(binary.LittleEndian.Uint32(data[9:13])),
		CurrentSettings:   bthost.AdapterSetting(binary.LittleEndian.Uint32(data[13:17])),
		Name:              string(name[:end]),
	}, nil
}

// SetPowered toggles a controller and returns the resulting settings.
func (c *Client) SetPowered(index uint16, on bool) (bthost.AdapterSetting, error) {
	v := byte(0)
	if on {
		v = 1
	}
	data, err := c.cmd(opSetPowered, index, []byte{v})
	if err != nil {
		return 0, err
	}
	if len(data) < 4 {
		return 0, errors.New("short settings")
	}
	return bthost.AdapterSetting(binary.LittleEndian.Uint32(data)), nil
}

func (c *Client) cmd(op, index uint16, params []byte) ([]byte, error) {
	ch := make(chan rsp, 1)
	c.mu.Lock()
	if _, busy := c.pending[op]; busy {
		c.mu.Unlock()
		return nil, errors.Errorf("mgmt command 0x%04x pending", op)
	}
	c.pending[op] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, op)
		c.mu.Unlock()
	}()

	b := make([]byte, 6+len(params))
	binary.LittleEndian.PutUint16(b[0:2], op)
	binary.LittleEndian.PutUint16(b[2:4], index)
	binary.LittleEndian.PutUint16(b[4:6], uint16(len(params)))
	copy(b[6:], params)

	c.wmu.Lock()
	_, err := unix.Write(c.fd, b)
	c.wmu.Unlock()
	if err != nil {
		return nil, errors.Wrap(err, "mgmt write")
	}

	select {
	case <-c.done:
		return nil, errors.New("mgmt closed")
	case <-time.After(cmdTimeout):
		return nil, errors.Errorf("mgmt command 0x%04x timeout", op)
	case r := <-ch:
		if r.status != 0x00 {
			return nil, errors.Errorf("mgmt command 0x%04x failed: 0x%02x", op, r.status)
		}
		return r.data, nil
	}
}

func (c *Client) readLoop() {
	defer close(c.events)

	buf := make([]byte, 4096)
	for {
		n, err := unix.Read(c.fd, buf)
		if err != nil || n < 6 {
			select {
			case <-c.done:
				return
			default:
			}
			if err != nil {
				c.log.Errorf("mgmt read: %v", err)
				return
			}
			continue
		}

		code := binary.LittleEndian.Uint16(buf[0:2])
		index := binary.LittleEndian.Uint16(buf[2:4])
		plen := int(binary.LittleEndian.Uint16(buf[4:6]))
		if 6+plen > n {
			c.log.Warnf("truncated mgmt event 0x%04x", code)
			continue
		}
		params := make([]byte, plen)
		copy(params, buf[6:6+plen])

		c.handle(code, index, params)
	}
}

func (c *Client) handle(code, index uint16, params []byte) {
	switch code {
	case evtCommandComplete:
		if len(params) < 3 {
			return
		}
		c.complete(binary.LittleEndian.Uint16(params[0:2]), rsp{status: params[2], data: params[3:]})
	case evtCommandStatus:
		if len(params) < 3 {
			return
		}
		c.complete(binary.LittleEndian.Uint16(params[0:2]), rsp{status: params[2]})
	case evtIndexAdded:
		c.emit(IndexAdded{Index: index})
	case evtIndexRemoved:
		c.emit(IndexRemoved{Index: index})
	case evtNewSettings:
		if len(params) < 4 {
			return
		}
		c.emit(NewSettings{
			Index:    index,
			Settings: bthost.AdapterSetting(binary.LittleEndian.Uint32(params)),
		})
	default:
		// unsolicited events we don't track
	}
}

func (c *Client) complete(op uint16, r rsp) {
	c.mu.Lock()
	ch := c.pending[op]
	c.mu.Unlock()
	if ch != nil {
		select {
		case ch <- r:
		default:
		}
	}
}

func (c *Client) emit(e Event) {
	select {
	case c.events <- e:
	default:
		c.log.Warnf("mgmt event queue full, dropping %T", e)
	}
}
