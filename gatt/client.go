package gatt

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/airlinklabs/bthost"
	"github.com/airlinklabs/bthost/att"
)

const requestTimeout = 30 * time.Second

// NotificationHandler receives a characteristic value pushed by the server.
// The indicate flag distinguishes indications from notifications;
// confirmations are sent by the client before the handler runs.
type NotificationHandler func(value []byte, indicate bool)

// Client drives the GATT client role on one connection. At most one
// request is outstanding at a time [Vol 3, Part F, 3.3.2]; callers block
// until the matching response or the sequential protocol timeout.
type Client struct {
	conn bthost.Conn
	log  bthost.Logger

	reqmu sync.Mutex // serializes requests on the wire
	rspc  chan []byte

	mu      sync.Mutex
	profile *bthost.Profile
	name    string
	subs    map[uint16]NotificationHandler
	closed  bool
}

// NewClient wraps conn and starts the receive loop.
func NewClient(conn bthost.Conn) *Client {
	p := &Client{
		conn: conn,
		log: bthost.GetLogger().ChildLogger(map[string]interface{}{
			"module": "gatt-client",
			"peer":   conn.RemoteAddr().String(),
		}),
		rspc: make(chan []byte),
		subs: make(map[uint16]NotificationHandler),
	}
	go p.loop()
	return p
}

func (p *Client) loop() {
	buf := make([]byte, att.MaxMTU)
	for {
		n, err := p.conn.Read(buf)
		if err != nil {
			p.mu.Lock()
			p.closed = true
			p.mu.Unlock()
			close(p.rspc)
			return
		}
		if n == 0 {
			continue
		}
		b := make([]byte, n)
		copy(b, buf[:n])

		switch op := att.Opcode(b); {
		case op == att.NotificationCode || op == att.IndicationCode:
			p.deliver(b, op == att.IndicationCode)
		case att.IsResponse(op):
			select {
			case p.rspc <- b:
			case <-time.After(requestTimeout):
				p.log.Warnf("dropping late response 0x%02x", op)
			}
		default:
			p.log.Debugf("ignoring pdu 0x%02x", op)
		}
	}
}

func (p *Client) deliver(b []byte, indicate bool) {
	h, value, err := att.ParseHandleValue(b)
	if err != nil {
		p.log.Warn("malformed handle value pdu")
		return
	}
	if indicate {
		// Confirm first so a slow handler cannot stall the server.
		if _, err := p.conn.Write(att.Confirmation()); err != nil {
			p.log.Errorf("confirmation failed: %v", err)
		}
	}
	p.mu.Lock()
	fn := p.subs[h]
	p.mu.Unlock()
	if fn != nil {
		fn(value, indicate)
	}
}

// request sends req and waits for the matching response. An Error
// Response is surfaced as an att.Error.
func (p *Client) request(req []byte) ([]byte, error) {
	p.reqmu.Lock()
	defer p.reqmu.Unlock()

	if _, err := p.conn.Write(req); err != nil {
		return nil, errors.Wrap(err, "att request")
	}
	select {
	case rsp, ok := <-p.rspc:
		if !ok {
			return nil, bthost.ErrClosed
		}
		if att.Opcode(rsp) == att.ErrorRspCode {
			_, _, e, err := att.ParseErrorRsp(rsp)
			if err != nil {
				return nil, att.ErrInvalidResponse
			}
			return nil, e
		}
		return rsp, nil
	case <-p.conn.Disconnected():
		return nil, bthost.ErrClosed
	case <-time.After(requestTimeout):
		return nil, att.ErrSeqProtoTimeout
	}
}

// ExchangeMTU negotiates the ATT MTU and applies the agreed value to the
// connection.
func (p *Client) ExchangeMTU(rxMTU int) (int, error) {
	if rxMTU < att.DefaultMTU || rxMTU > att.MaxMTU {
		return 0, bthost.ErrInvalidArgument
	}
	rsp, err := p.request(att.ExchangeMTUReq(uint16(rxMTU)))
	if err != nil {
		return 0, err
	}
	server, err := att.ParseMTU(rsp)
	if err != nil {
		return 0, err
	}
	mtu := rxMTU
	if int(server) < mtu {
		mtu = int(server)
	}
	p.conn.SetRxMTU(mtu)
	p.conn.SetTxMTU(mtu)
	return mtu, nil
}

// DiscoverProfile walks the remote attribute table and returns the full
// service tree. The result is cached; later calls return the same
// profile without touching the wire.
func (p *Client) DiscoverProfile() (*bthost.Profile, error) {
	p.mu.Lock()
	cached := p.profile
	p.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	ss, err := p.discoverServices()
	if err != nil {
		return nil, err
	}
	for _, s := range ss {
		if err := p.discoverCharacteristics(s); err != nil {
			return nil, err
		}
		for _, c := range s.Characteristics {
			if err := p.discoverDescriptors(c); err != nil {
				return nil, err
			}
		}
	}
	profile := &bthost.Profile{Services: ss}

	p.mu.Lock()
	p.profile = profile
	p.mu.Unlock()
	return profile, nil
}

// SetProfile installs a previously cached service tree, skipping
// over-the-air discovery.
func (p *Client) SetProfile(profile *bthost.Profile) {
	profile.RestoreCCCD()
	p.mu.Lock()
	p.profile = profile
	p.mu.Unlock()
}

// Profile returns the cached service tree, or nil before discovery.
func (p *Client) Profile() *bthost.Profile {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.profile
}

func (p *Client) discoverServices() ([]*bthost.Service, error) {
	var ss []*bthost.Service
	start := uint16(0x0001)
	for {
		rsp, err := p.request(att.ReadByGroupTypeReq(start, 0xFFFF, bthost.PrimaryServiceUUID))
		if err == att.ErrAttrNotFound {
			return ss, nil
		}
		if err != nil {
			return nil, err
		}
		entryLen, data, err := att.ParseListRsp(att.ReadByGroupTypeRspCode, rsp)
		if err != nil || int(entryLen) < 6 || len(data)%int(entryLen) != 0 {
			return nil, att.ErrInvalidResponse
		}
		var endh uint16
		for i := 0; i+int(entryLen) <= len(data); i += int(entryLen) {
			e := data[i : i+int(entryLen)]
			endh = binary.LittleEndian.Uint16(e[2:])
			ss = append(ss, &bthost.Service{
				UUID:      append(bthost.UUID{}, e[4:]...),
				Primary:   true,
				Handle:    binary.LittleEndian.Uint16(e),
				EndHandle: endh,
			})
		}
		if endh == 0xFFFF {
			return ss, nil
		}
		start = endh + 1
	}
}

func (p *Client) discoverCharacteristics(s *bthost.Service) error {
	var last *bthost.Characteristic
	start := s.Handle
	for start <= s.EndHandle {
		rsp, err := p.request(att.ReadByTypeReq(start, s.EndHandle, bthost.CharacteristicUUID))
		if err == att.ErrAttrNotFound {
			break
		}
		if err != nil {
			return err
		}
		entryLen, data, err := att.ParseListRsp(att.ReadByTypeRspCode, rsp)
		if err != nil || int(entryLen) < 7 || len(data)%int(entryLen) != 0 {
			return att.ErrInvalidResponse
		}
		for i := 0; i+int(entryLen) <= len(data); i += int(entryLen) {
			e := data[i : i+int(entryLen)]
			c := &bthost.Characteristic{
				Handle:      binary.LittleEndian.Uint16(e),
				Property:    bthost.Property(e[2]),
				ValueHandle: binary.LittleEndian.Uint16(e[3:]),
				UUID:        append(bthost.UUID{}, e[5:]...),
				EndHandle:   s.EndHandle,
			}
			if last != nil {
				last.EndHandle = c.Handle - 1
			}
			last = c
			s.Characteristics = append(s.Characteristics, c)
		}
		if last.ValueHandle == 0xFFFF {
			break
		}
		start = last.ValueHandle + 1
	}
	return nil
}

func (p *Client) discoverDescriptors(c *bthost.Characteristic) error {
	if c.ValueHandle >= c.EndHandle {
		return nil
	}
	start := c.ValueHandle + 1
	for start <= c.EndHandle {
		rsp, err := p.request(att.FindInformationReq(start, c.EndHandle))
		if err == att.ErrAttrNotFound {
			break
		}
		if err != nil {
			return err
		}
		format, data, err := att.ParseListRsp(att.FindInformationRspCode, rsp)
		if err != nil {
			return att.ErrInvalidResponse
		}
		uuidLen := 2
		if format == 0x02 {
			uuidLen = 16
		}
		entryLen := 2 + uuidLen
		if len(data) == 0 || len(data)%entryLen != 0 {
			return att.ErrInvalidResponse
		}
		var h uint16
		for i := 0; i+entryLen <= len(data); i += entryLen {
			e := data[i : i+entryLen]
			h = binary.LittleEndian.Uint16(e)
			d := &bthost.Descriptor{
				Handle: h,
				UUID:   append(bthost.UUID{}, e[2:]...),
			}
			c.Descriptors = append(c.Descriptors, d)
			if d.UUID.Equal(bthost.ClientCharConfigUUID) {
				c.CCCD = d
			}
		}
		if h == 0xFFFF || h >= c.EndHandle {
			break
		}
		start = h + 1
	}
	return nil
}

// Read reads the characteristic value. Values longer than MTU-1 arrive
// truncated; long reads are not issued.
func (p *Client) Read(c *bthost.Characteristic) ([]byte, error) {
	return p.readHandle(c.ValueHandle)
}

// ReadDescriptor reads a descriptor value.
func (p *Client) ReadDescriptor(d *bthost.Descriptor) ([]byte, error) {
	return p.readHandle(d.Handle)
}

func (p *Client) readHandle(h uint16) ([]byte, error) {
	rsp, err := p.request(att.ReadReq(h))
	if err != nil {
		return nil, err
	}
	if att.Opcode(rsp) != att.ReadRspCode {
		return nil, att.ErrInvalidResponse
	}
	return rsp[1:], nil
}

// Write writes the characteristic value and waits for the response.
func (p *Client) Write(c *bthost.Characteristic, value []byte) error {
	_, err := p.request(att.WriteReq(c.ValueHandle, value))
	return err
}

// WriteWithoutResponse issues a Write Command; no acknowledgement is
// awaited or given.
func (p *Client) WriteWithoutResponse(c *bthost.Characteristic, value []byte) error {
	_, err := p.conn.Write(att.WriteCmd(c.ValueHandle, value))
	return err
}

// WriteDescriptor writes a descriptor value and waits for the response.
func (p *Client) WriteDescriptor(d *bthost.Descriptor, value []byte) error {
	_, err := p.request(att.WriteReq(d.Handle, value))
	return err
}

// ConfigNotificationIndication writes the characteristic's Client
// Characteristic Configuration and reads it back, reporting the state
// the server actually accepted. Requested modes the characteristic does
// not support are cleared before the write.
func (p *Client) ConfigNotificationIndication(c *bthost.Characteristic, enableNotify, enableIndicate bool) (ok, notifying, indicating bool, err error) {
	if c.CCCD == nil {
		return false, false, false, nil
	}
	var bits uint16
	if enableNotify && c.Property&bthost.CharNotify != 0 {
		bits |= cccNotify
	}
	if enableIndicate && c.Property&bthost.CharIndicate != 0 {
		bits |= cccIndicate
	}
	v := []byte{byte(bits), byte(bits >> 8)}
	if err := p.WriteDescriptor(c.CCCD, v); err != nil {
		return false, false, false, err
	}
	got, err := p.ReadDescriptor(c.CCCD)
	if err != nil || len(got) != 2 {
		// Write went through; trust the requested state.
		return true, bits&cccNotify != 0, bits&cccIndicate != 0, nil
	}
	actual := binary.LittleEndian.Uint16(got)
	return true, actual&cccNotify != 0, actual&cccIndicate != 0, nil
}

// Subscribe enables notifications (or indications) on c and registers h
// for pushed values. It reports the achieved configuration.
func (p *Client) Subscribe(c *bthost.Characteristic, indicate bool, h NotificationHandler) (notifying, indicating bool, err error) {
	ok, n, i, err := p.ConfigNotificationIndication(c, !indicate, indicate)
	if err != nil {
		return false, false, err
	}
	if !ok {
		return false, false, errors.New("characteristic has no client characteristic configuration")
	}
	p.mu.Lock()
	p.subs[c.ValueHandle] = h
	p.mu.Unlock()
	return n, i, nil
}

// Unsubscribe disables server pushes on c and drops its handler.
func (p *Client) Unsubscribe(c *bthost.Characteristic) error {
	p.mu.Lock()
	delete(p.subs, c.ValueHandle)
	p.mu.Unlock()
	if c.CCCD == nil {
		return nil
	}
	return p.WriteDescriptor(c.CCCD, []byte{0x00, 0x00})
}

// SetHandler registers h for pushed values on c without touching the
// descriptor, for callers managing the configuration themselves.
func (p *Client) SetHandler(c *bthost.Characteristic, h NotificationHandler) {
	p.mu.Lock()
	if h == nil {
		delete(p.subs, c.ValueHandle)
	} else {
		p.subs[c.ValueHandle] = h
	}
	p.mu.Unlock()
}

// Name reads the GAP Device Name characteristic, caching the result.
// It returns an empty string when the peer does not expose one.
func (p *Client) Name() (string, error) {
	p.mu.Lock()
	cached := p.name
	p.mu.Unlock()
	if cached != "" {
		return cached, nil
	}
	profile, err := p.DiscoverProfile()
	if err != nil {
		return "", err
	}
	c := profile.FindCharacteristic(bthost.DeviceNameUUID)
	if c == nil {
		return "", nil
	}
	v, err := p.Read(c)
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	p.name = string(v)
	p.mu.Unlock()
	return string(v), nil
}

// Ping verifies the peer still answers at the ATT layer by reading the
// GAP Device Name. A peer without one still counts as alive when it
// answers the discovery traffic.
func (p *Client) Ping() bool {
	_, err := p.Name()
	return err == nil
}
