package gatt

import (
	"encoding/binary"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/airlinklabs/bthost"
	"github.com/airlinklabs/bthost/att"
)

// ServiceDef declares one service hosted by the local GATT server.
type ServiceDef struct {
	UUID    bthost.UUID
	Primary bool
	Chars   []*CharDef

	handle    uint16
	endHandle uint16
}

// CharDef declares a characteristic inside a ServiceDef. Value holds the
// backing storage; writes beyond its capacity are rejected on the wire.
type CharDef struct {
	UUID        bthost.UUID
	Properties  bthost.Property
	Value       *bthost.Value
	Descriptors []*DescDef

	handle      uint16
	valueHandle uint16
	endHandle   uint16
}

// DescDef declares a descriptor inside a CharDef. A Client Characteristic
// Configuration descriptor does not need to be declared; one is added
// automatically when the characteristic is notifiable or indicatable.
type DescDef struct {
	UUID  bthost.UUID
	Value *bthost.Value

	handle uint16
}

// Handle reports the attribute handle assigned to the service declaration.
func (s *ServiceDef) Handle() uint16 { return s.handle }

// EndHandle reports the last handle of the service group.
func (s *ServiceDef) EndHandle() uint16 { return s.endHandle }

// Handle reports the characteristic declaration handle.
func (c *CharDef) Handle() uint16 { return c.handle }

// ValueHandle reports the characteristic value handle.
func (c *CharDef) ValueHandle() uint16 { return c.valueHandle }

// Handle reports the descriptor handle.
func (d *DescDef) Handle() uint16 { return d.handle }

// ServerListener receives callbacks from the request loop. All fields are
// optional; a nil permission hook allows the access. Hooks run on the
// per-connection serving goroutine, so a slow hook stalls that client only.
type ServerListener struct {
	Connected    func(peer bthost.PeerID, mtu int)
	Disconnected func(peer bthost.PeerID)
	MTUChanged   func(peer bthost.PeerID, mtu int)

	// Permission hooks return false to refuse with Read/Write Not Permitted.
	ReadCharValue  func(peer bthost.PeerID, s *ServiceDef, c *CharDef) bool
	ReadDescValue  func(peer bthost.PeerID, s *ServiceDef, c *CharDef, d *DescDef) bool
	WriteCharValue func(peer bthost.PeerID, s *ServiceDef, c *CharDef, value []byte) bool
	WriteDescValue func(peer bthost.PeerID, s *ServiceDef, c *CharDef, d *DescDef, value []byte) bool

	// Done hooks fire after the value storage has been updated.
	WriteCharValueDone func(peer bthost.PeerID, s *ServiceDef, c *CharDef)
	WriteDescValueDone func(peer bthost.PeerID, s *ServiceDef, c *CharDef, d *DescDef)

	ClientCharConfigChanged func(peer bthost.PeerID, s *ServiceDef, c *CharDef, d *DescDef, notify, indicate bool)
}

const (
	cccNotify   = 0x0001
	cccIndicate = 0x0002

	indicationTimeout = 30 * time.Second
)

// Server hosts a GATT attribute table and serves it to connected centrals.
// Client Characteristic Configuration state is tracked per connection and
// reset when the connection goes away.
type Server struct {
	MaxMTU   int
	Listener *ServerListener

	db  *db
	log bthost.Logger

	mu       sync.Mutex
	sessions map[uint16]*session
}

// NewServer assigns handles to the given services and returns a server
// ready to Serve connections. maxMTU is clamped to the ATT ceiling; zero
// selects the default MTU.
func NewServer(services []*ServiceDef, maxMTU int) *Server {
	if maxMTU <= 0 {
		maxMTU = att.DefaultMTU
	}
	if maxMTU > att.MaxMTU {
		maxMTU = att.MaxMTU
	}
	for _, s := range services {
		for _, c := range s.Chars {
			ensureCCCD(c)
		}
	}
	return &Server{
		MaxMTU:   maxMTU,
		db:       newDB(services, 1),
		log:      bthost.GetLogger().ChildLogger(map[string]interface{}{"module": "gatt-server"}),
		sessions: make(map[uint16]*session),
	}
}

func ensureCCCD(c *CharDef) {
	if c.Properties&(bthost.CharNotify|bthost.CharIndicate) == 0 {
		return
	}
	for _, d := range c.Descriptors {
		if d.UUID.Equal(bthost.ClientCharConfigUUID) {
			return
		}
	}
	c.Descriptors = append(c.Descriptors, &DescDef{
		UUID:  bthost.ClientCharConfigUUID,
		Value: bthost.NewFixedValue(2),
	})
}

// session is the per-connection serving state.
type session struct {
	conn bthost.Conn
	peer bthost.PeerID
	mtu  int

	mu      sync.Mutex
	ccc     map[uint16]uint16 // char value handle -> ccc bits
	confirm chan struct{}
}

// Serve answers ATT requests on conn until it closes. It blocks; run it
// on its own goroutine per connection.
func (srv *Server) Serve(conn bthost.Conn) error {
	s := &session{
		conn:    conn,
		peer:    conn.RemoteAddr(),
		mtu:     att.DefaultMTU,
		ccc:     make(map[uint16]uint16),
		confirm: make(chan struct{}, 1),
	}
	srv.mu.Lock()
	srv.sessions[conn.Handle()] = s
	srv.mu.Unlock()

	if srv.Listener != nil && srv.Listener.Connected != nil {
		srv.Listener.Connected(s.peer, s.mtu)
	}

	defer func() {
		srv.mu.Lock()
		delete(srv.sessions, conn.Handle())
		srv.mu.Unlock()
		if srv.Listener != nil && srv.Listener.Disconnected != nil {
			srv.Listener.Disconnected(s.peer)
		}
	}()

	buf := make([]byte, att.MaxMTU)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if n == 0 {
			continue
		}
		req := buf[:n]
		if att.Opcode(req) == att.ConfirmationCode {
			select {
			case s.confirm <- struct{}{}:
			default:
			}
			continue
		}
		rsp := srv.handle(s, req)
		if rsp == nil {
			continue // commands get no response
		}
		if _, err := conn.Write(rsp); err != nil {
			return err
		}
	}
}

func (srv *Server) handle(s *session, req []byte) []byte {
	op := att.Opcode(req)
	switch op {
	case att.ExchangeMTUReqCode:
		return srv.exchangeMTU(s, req)
	case att.ReadByGroupTypeReqCode:
		return srv.readByGroup(s, req)
	case att.ReadByTypeReqCode:
		return srv.readByType(s, req)
	case att.FindInformationReqCode:
		return srv.findInfo(s, req)
	case att.ReadReqCode:
		return srv.read(s, req)
	case att.WriteReqCode:
		return srv.write(s, req, true)
	case att.WriteCmdCode:
		srv.write(s, req, false)
		return nil
	default:
		srv.log.Debugf("unsupported request 0x%02x from %s", op, s.peer)
		return att.ErrorRsp(op, 0, att.ErrReqNotSupp)
	}
}

func (srv *Server) exchangeMTU(s *session, req []byte) []byte {
	client, err := att.ParseMTU(req)
	if err != nil {
		return att.ErrorRsp(att.ExchangeMTUReqCode, 0, att.ErrInvalidPDU)
	}
	mtu := srv.MaxMTU
	if int(client) < mtu {
		mtu = int(client)
	}
	if mtu < att.DefaultMTU {
		mtu = att.DefaultMTU
	}
	s.mu.Lock()
	s.mtu = mtu
	s.mu.Unlock()
	s.conn.SetTxMTU(mtu)
	s.conn.SetRxMTU(mtu)
	if srv.Listener != nil && srv.Listener.MTUChanged != nil {
		srv.Listener.MTUChanged(s.peer, mtu)
	}
	return att.ExchangeMTURsp(uint16(srv.MaxMTU))
}

func (srv *Server) readByGroup(s *session, req []byte) []byte {
	start, end, typ, err := att.ParseHandleRange(req)
	if err != nil || start == 0 || start > end {
		return att.ErrorRsp(att.ReadByGroupTypeReqCode, start, att.ErrInvalidHandle)
	}
	u := bthost.UUID(typ)
	if !u.Equal(bthost.PrimaryServiceUUID) && !u.Equal(bthost.SecondaryServiceUUID) {
		return att.ErrorRsp(att.ReadByGroupTypeReqCode, start, att.ErrUnsuppGroupType)
	}
	el, data := groupEntries(srv.db.subrange(start, end), s.mtuNow())
	if len(data) == 0 {
		return att.ErrorRsp(att.ReadByGroupTypeReqCode, start, att.ErrAttrNotFound)
	}
	return att.ListRsp(att.ReadByGroupTypeRspCode, uint8(el), data)
}

func (srv *Server) readByType(s *session, req []byte) []byte {
	start, end, typ, err := att.ParseHandleRange(req)
	if err != nil || start == 0 || start > end {
		return att.ErrorRsp(att.ReadByTypeReqCode, start, att.ErrInvalidHandle)
	}
	el, data := typeEntries(srv.db.subrange(start, end), bthost.UUID(typ), s.mtuNow())
	if len(data) == 0 {
		return att.ErrorRsp(att.ReadByTypeReqCode, start, att.ErrAttrNotFound)
	}
	return att.ListRsp(att.ReadByTypeRspCode, uint8(el), data)
}

func (srv *Server) findInfo(s *session, req []byte) []byte {
	if len(req) != 5 {
		return att.ErrorRsp(att.FindInformationReqCode, 0, att.ErrInvalidPDU)
	}
	start := binary.LittleEndian.Uint16(req[1:])
	end := binary.LittleEndian.Uint16(req[3:])
	if start == 0 || start > end {
		return att.ErrorRsp(att.FindInformationReqCode, start, att.ErrInvalidHandle)
	}
	format, data := infoEntries(srv.db.subrange(start, end), s.mtuNow())
	if len(data) == 0 {
		return att.ErrorRsp(att.FindInformationReqCode, start, att.ErrAttrNotFound)
	}
	return att.ListRsp(att.FindInformationRspCode, format, data)
}

func (srv *Server) read(s *session, req []byte) []byte {
	if len(req) != 3 {
		return att.ErrorRsp(att.ReadReqCode, 0, att.ErrInvalidPDU)
	}
	h := binary.LittleEndian.Uint16(req[1:])
	a, ok := srv.db.at(h)
	if !ok {
		return att.ErrorRsp(att.ReadReqCode, h, att.ErrInvalidHandle)
	}

	var v []byte
	switch a.kind {
	case kindService, kindCharDecl:
		v = a.v
	case kindCharValue:
		if a.char.Properties&bthost.CharRead == 0 {
			return att.ErrorRsp(att.ReadReqCode, h, att.ErrReadNotPerm)
		}
		if l := srv.Listener; l != nil && l.ReadCharValue != nil && !l.ReadCharValue(s.peer, a.svc, a.char) {
			return att.ErrorRsp(att.ReadReqCode, h, att.ErrReadNotPerm)
		}
		if a.char.Value != nil {
			v = a.char.Value.Bytes()
		}
	case kindDesc:
		if a.typ.Equal(bthost.ClientCharConfigUUID) {
			s.mu.Lock()
			bits := s.ccc[a.char.valueHandle]
			s.mu.Unlock()
			v = []byte{byte(bits), byte(bits >> 8)}
			break
		}
		if l := srv.Listener; l != nil && l.ReadDescValue != nil && !l.ReadDescValue(s.peer, a.svc, a.char, a.desc) {
			return att.ErrorRsp(att.ReadReqCode, h, att.ErrReadNotPerm)
		}
		if a.desc.Value != nil {
			v = a.desc.Value.Bytes()
		}
	}

	if max := s.mtuNow() - 1; len(v) > max {
		v = v[:max]
	}
	return att.ReadRsp(v)
}

func (srv *Server) write(s *session, req []byte, withRsp bool) []byte {
	op := att.Opcode(req)
	if len(req) < 3 {
		return att.ErrorRsp(op, 0, att.ErrInvalidPDU)
	}
	h := binary.LittleEndian.Uint16(req[1:])
	value := req[3:]
	a, ok := srv.db.at(h)
	if !ok {
		return att.ErrorRsp(op, h, att.ErrInvalidHandle)
	}

	l := srv.Listener
	switch a.kind {
	case kindCharValue:
		writable := bthost.CharWrite
		if !withRsp {
			writable = bthost.CharWriteNR
		}
		if a.char.Properties&writable == 0 {
			return att.ErrorRsp(op, h, att.ErrWriteNotPerm)
		}
		if l != nil && l.WriteCharValue != nil && !l.WriteCharValue(s.peer, a.svc, a.char, value) {
			return att.ErrorRsp(op, h, att.ErrWriteNotPerm)
		}
		if a.char.Value != nil && !a.char.Value.Set(value) {
			return att.ErrorRsp(op, h, att.ErrInvalAttrValueLen)
		}
		if l != nil && l.WriteCharValueDone != nil {
			l.WriteCharValueDone(s.peer, a.svc, a.char)
		}
	case kindDesc:
		if a.typ.Equal(bthost.ClientCharConfigUUID) {
			return srv.writeCCC(s, a, op, value)
		}
		if l != nil && l.WriteDescValue != nil && !l.WriteDescValue(s.peer, a.svc, a.char, a.desc, value) {
			return att.ErrorRsp(op, h, att.ErrWriteNotPerm)
		}
		if a.desc.Value != nil && !a.desc.Value.Set(value) {
			return att.ErrorRsp(op, h, att.ErrInvalAttrValueLen)
		}
		if l != nil && l.WriteDescValueDone != nil {
			l.WriteDescValueDone(s.peer, a.svc, a.char, a.desc)
		}
	default:
		return att.ErrorRsp(op, h, att.ErrWriteNotPerm)
	}

	if withRsp {
		return att.WriteRsp()
	}
	return nil
}

func (srv *Server) writeCCC(s *session, a *attr, op uint8, value []byte) []byte {
	if len(value) != 2 {
		return att.ErrorRsp(op, a.h, att.ErrInvalAttrValueLen)
	}
	bits := binary.LittleEndian.Uint16(value)

	// Bits the characteristic cannot deliver are silently cleared; the
	// client learns the achieved state by reading the descriptor back.
	if a.char.Properties&bthost.CharNotify == 0 {
		bits &^= cccNotify
	}
	if a.char.Properties&bthost.CharIndicate == 0 {
		bits &^= cccIndicate
	}

	s.mu.Lock()
	prev := s.ccc[a.char.valueHandle]
	s.ccc[a.char.valueHandle] = bits
	s.mu.Unlock()

	if prev != bits {
		if l := srv.Listener; l != nil && l.ClientCharConfigChanged != nil {
			l.ClientCharConfigChanged(s.peer, a.svc, a.char, a.desc,
				bits&cccNotify != 0, bits&cccIndicate != 0)
		}
	}
	if op == att.WriteReqCode {
		return att.WriteRsp()
	}
	return nil
}

func (s *session) mtuNow() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mtu
}

func (srv *Server) sessionFor(conn bthost.Conn) (*session, error) {
	srv.mu.Lock()
	s, ok := srv.sessions[conn.Handle()]
	srv.mu.Unlock()
	if !ok {
		return nil, errors.New("connection is not served")
	}
	return s, nil
}

// Notify pushes the characteristic value to conn. It is a no-op error if
// the client has not enabled notifications.
func (srv *Server) Notify(conn bthost.Conn, c *CharDef, value []byte) error {
	s, err := srv.sessionFor(conn)
	if err != nil {
		return err
	}
	s.mu.Lock()
	enabled := s.ccc[c.valueHandle]&cccNotify != 0
	mtu := s.mtu
	s.mu.Unlock()
	if !enabled {
		return errors.New("notifications not enabled by client")
	}
	if len(value) > mtu-3 {
		value = value[:mtu-3]
	}
	_, err = conn.Write(att.Notification(c.valueHandle, value))
	return errors.Wrap(err, "gatt notify")
}

// Indicate pushes the characteristic value to conn and blocks until the
// client confirms receipt or the indication times out.
func (srv *Server) Indicate(conn bthost.Conn, c *CharDef, value []byte) error {
	s, err := srv.sessionFor(conn)
	if err != nil {
		return err
	}
	s.mu.Lock()
	enabled := s.ccc[c.valueHandle]&cccIndicate != 0
	mtu := s.mtu
	s.mu.Unlock()
	if !enabled {
		return errors.New("indications not enabled by client")
	}
	if len(value) > mtu-3 {
		value = value[:mtu-3]
	}

	// Drain a stale confirmation before arming a new wait.
	select {
	case <-s.confirm:
	default:
	}
	if _, err = conn.Write(att.Indication(c.valueHandle, value)); err != nil {
		return errors.Wrap(err, "gatt indicate")
	}
	select {
	case <-s.confirm:
		return nil
	case <-conn.Disconnected():
		return errors.New("disconnected before confirmation")
	case <-time.After(indicationTimeout):
		return att.ErrSeqProtoTimeout
	}
}

// ClientConfig reports the notification/indication state conn has set up
// for the characteristic.
func (srv *Server) ClientConfig(conn bthost.Conn, c *CharDef) (notify, indicate bool) {
	s, err := srv.sessionFor(conn)
	if err != nil {
		return false, false
	}
	s.mu.Lock()
	bits := s.ccc[c.valueHandle]
	s.mu.Unlock()
	return bits&cccNotify != 0, bits&cccIndicate != 0
}
