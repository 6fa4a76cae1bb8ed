package hci

import (
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/airlinklabs/bthost"
)

type handlerFn func(b []byte) error

type pkt struct {
	cmd  Command
	done chan []byte
}

// StatusError carries a non-success controller status code through an
// error return.
type StatusError struct {
	Status bthost.HCIStatus
}

func (e StatusError) Error() string { return e.Status.String() }

// toStatus folds an error from Send into a status code.
func toStatus(err error) bthost.HCIStatus {
	if err == nil {
		return bthost.StatusSuccess
	}
	var se StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return bthost.StatusInternalFailure
}

// HCI implements Controller on a byte transport (raw socket or H4 UART).
type HCI struct {
	log bthost.Logger
	skt io.ReadWriteCloser

	// Host to controller command flow control [Vol 2, Part E, 4.4].
	chCmdBufs chan []byte
	muSent    sync.Mutex
	sent      map[int]*pkt

	evth map[int]handlerFn
	subh map[int]handlerFn

	// ACL buffer geometry reported by the controller.
	bufSize int
	bufCnt  int

	addr    bthost.EUI48
	txPwrLv int

	// Packet based data flow control for LE-U [Vol 2, Part E, 4.1.1].
	txTokens chan struct{}

	muConns sync.Mutex
	conns   map[uint16]*Conn

	events chan Event

	muClose   sync.Mutex
	done      chan struct{}
	sktRxChan chan []byte
	err       error
}

// NewHCI wraps a controller transport. Call Init before anything else.
func NewHCI(skt io.ReadWriteCloser) *HCI {
	return &HCI{
		log:       bthost.GetLogger().ChildLogger(map[string]interface{}{"sys": "hci"}),
		skt:       skt,
		chCmdBufs: make(chan []byte, chCmdBufChanSize),
		sent:      make(map[int]*pkt),
		evth:      make(map[int]handlerFn),
		subh:      make(map[int]handlerFn),
		conns:     make(map[uint16]*Conn),
		events:    make(chan Event, 64),
		done:      make(chan struct{}),
		sktRxChan: make(chan []byte, 16),
	}
}

// Init resets the controller and reads its address and buffer geometry.
func (h *HCI) Init() error {
	h.evth[commandCompleteCode] = h.handleCommandComplete
	h.evth[commandStatusCode] = h.handleCommandStatus
	h.evth[disconnectionCompleteCode] = h.handleDisconnectionComplete
	h.evth[numberOfCompletedPacketsCode] = h.handleNumberOfCompletedPackets
	h.evth[encryptionChangeCode] = h.handleEncryptionChange
	h.evth[leMetaCode] = h.handleLEMeta

	h.subh[leAdvertisingReportSubCode] = h.handleLEAdvertisingReport
	h.subh[leConnectionCompleteSubCode] = h.handleLEConnectionComplete
	h.subh[leConnectionUpdateCompleteSubCode] = func([]byte) error { return nil }
	h.subh[leLongTermKeyRequestSubCode] = h.handleLELongTermKeyRequest

	h.setAllowedCommands(1)
	go h.sktReadLoop()
	go h.sktProcessLoop()

	if err := h.reset(); err != nil {
		return err
	}

	// Minimum 27 bytes: 4 bytes L2CAP header plus the 23 byte default
	// ATT payload [Vol 2, Part E, 4.1.1].
	h.txTokens = make(chan struct{}, h.bufCnt)
	for i := 0; i < h.bufCnt; i++ {
		h.txTokens <- struct{}{}
	}
	return nil
}

func (h *HCI) reset() error {
	if err := h.Send(&Reset{}, nil); err != nil {
		return errors.Wrap(err, "reset")
	}

	bdaddr := ReadBDADDRRP{}
	if err := h.Send(&ReadBDADDR{}, &bdaddr); err != nil {
		return errors.Wrap(err, "read bd_addr")
	}
	h.addr = bthost.EUI48FromWire(bdaddr.BDADDR[:])

	// Not supported on LE-only controllers [Vol 2, Part E, 7.4.5];
	// fall back to the LE buffer geometry below.
	bufSize := ReadBufferSizeRP{}
	if err := h.Send(&ReadBufferSize{}, &bufSize); err == nil {
		h.bufCnt = int(bufSize.HCTotalNumACLDataPackets)
		h.bufSize = int(bufSize.HCACLDataPacketLength)
	}

	leBufSize := LEReadBufferSizeRP{}
	if err := h.Send(&LEReadBufferSize{}, &leBufSize); err != nil {
		return errors.Wrap(err, "le read buffer size")
	}
	if leBufSize.HCTotalNumLEDataPackets != 0 {
		h.bufCnt = int(leBufSize.HCTotalNumLEDataPackets)
		h.bufSize = int(leBufSize.HCLEDataPacketLength)
	}
	if h.bufCnt == 0 || h.bufSize < 27 {
		return errors.Errorf("implausible buffer geometry: %d x %d", h.bufCnt, h.bufSize)
	}

	txPwr := LEReadAdvertisingChannelTxPowerRP{}
	if err := h.Send(&LEReadAdvertisingChannelTxPower{}, &txPwr); err == nil {
		h.txPwrLv = int(txPwr.TransmitPowerLevel)
	}

	if err := h.Send(&LESetEventMask{LEEventMask: 0x000000000000001f}, nil); err != nil {
		return errors.Wrap(err, "le set event mask")
	}
	if err := h.Send(&SetEventMask{EventMask: 0x3dbff807fffbffff}, nil); err != nil {
		return errors.Wrap(err, "set event mask")
	}
	if err := h.Send(&WriteLEHostSupport{LESupportedHost: 1}, nil); err != nil {
		// BR/EDR-only setting, optional on LE controllers.
		h.log.Debugf("write le host support: %v", err)
	}
	return nil
}

// Addr returns the controller BD_ADDR.
func (h *HCI) Addr() bthost.EUI48 { return h.addr }

// TxPowerLevel returns the advertising channel transmit power in dBm.
func (h *HCI) TxPowerLevel() int { return h.txPwrLv }

// Events implements Controller.
func (h *HCI) Events() <-chan Event { return h.events }

// Close shuts the transport down and tears down every connection.
func (h *HCI) Close() error {
	h.muClose.Lock()
	defer h.muClose.Unlock()
	select {
	case <-h.done:
		return nil
	default:
		close(h.done)
	}
	return nil
}

func (h *HCI) isOpen() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Send issues one command and unmarshals its return parameters into r. A
// non-success status byte comes back as a StatusError.
func (h *HCI) Send(c Command, r CommandRP) error {
	b, err := h.send(c)
	if err != nil {
		return err
	}
	if len(b) > 0 && b[0] != 0x00 {
		return StatusError{Status: bthost.HCIStatus(b[0])}
	}
	if r != nil {
		return r.Unmarshal(b)
	}
	return nil
}

// sendStatus is Send for callers speaking in status codes.
func (h *HCI) sendStatus(c Command) bthost.HCIStatus {
	return toStatus(h.Send(c, nil))
}

func (h *HCI) send(c Command) ([]byte, error) {
	if h.err != nil {
		return nil, h.err
	}

	h.muSent.Lock()
	if _, pending := h.sent[c.OpCode()]; pending {
		h.muSent.Unlock()
		return nil, errors.Errorf("command 0x%04x pending", c.OpCode())
	}
	p := &pkt{c, make(chan []byte)}
	h.sent[c.OpCode()] = p
	h.muSent.Unlock()

	defer func() {
		h.muSent.Lock()
		delete(h.sent, c.OpCode())
		h.muSent.Unlock()
	}()

	var b []byte
	select {
	case <-h.done:
		return nil, errors.New("hci closed")
	case b = <-h.chCmdBufs:
	case <-time.After(chCmdBufTimeout):
		return nil, errors.New("command buffer timeout")
	}

	b[0] = pktTypeCommand
	b[1] = byte(c.OpCode())
	b[2] = byte(c.OpCode() >> 8)
	b[3] = byte(c.Len())
	if err := c.Marshal(b[4:]); err != nil {
		return nil, errors.Wrap(err, "marshal cmd")
	}

	if n, err := h.skt.Write(b[:4+c.Len()]); err != nil {
		h.close(errors.Wrap(err, "send cmd"))
		return nil, err
	} else if n != 4+c.Len() {
		err = errors.New("short cmd write")
		h.close(err)
		return nil, err
	}

	// A stuck command means the controller link is gone; don't let the
	// caller hang with it.
	select {
	case <-time.After(cmdRspTimeout):
		return nil, errors.Errorf("no response to command 0x%04x", c.OpCode())
	case <-h.done:
		return nil, h.err
	case rsp := <-p.done:
		return rsp, nil
	}
}

func (h *HCI) sktReadLoop() {
	defer close(h.sktRxChan)

	b := make([]byte, 4096)
	for {
		n, err := h.skt.Read(b)
		switch {
		case n == 0 && err == nil:
			// read timeout
			select {
			case <-h.done:
				return
			default:
				continue
			}
		case err != nil:
			h.err = err
			return
		default:
			p := make([]byte, n)
			copy(p, b)
			h.sktRxChan <- p
		}
	}
}

func (h *HCI) sktProcessLoop() {
	defer h.cleanup()

	for {
		var p []byte
		var ok bool
		select {
		case <-h.done:
			h.err = io.EOF
			return
		case p, ok = <-h.sktRxChan:
			if !ok {
				if h.err == nil {
					h.err = io.EOF
				}
				return
			}
		}

		if err := h.handlePkt(p); err != nil {
			h.log.Errorf("pkt: %v", err)
		}
	}
}

func (h *HCI) handlePkt(b []byte) error {
	if len(b) < 1 {
		return errors.New("empty packet")
	}
	t, b := b[0], b[1:]
	switch t {
	case pktTypeACLData:
		return h.handleACL(b)
	case pktTypeEvent:
		return h.handleEvt(b)
	case pktTypeVendor:
		// some controllers tack vendor packets on, ignore them
		return nil
	default:
		return errors.Errorf("unsupported packet type 0x%02x", t)
	}
}

func (h *HCI) handleACL(b []byte) error {
	if len(b) < 4 {
		return errors.New("truncated acl packet")
	}
	handle := aclPacket(b).handle()

	h.muConns.Lock()
	c, ok := h.conns[handle]
	h.muConns.Unlock()
	if !ok {
		h.log.Warnf("acl packet for unknown handle 0x%04x", handle)
		return nil
	}

	select {
	case c.chInPkt <- b:
	case <-c.done:
	}
	return nil
}

func (h *HCI) handleEvt(b []byte) error {
	if len(b) < 2 {
		return errors.New("truncated event packet")
	}
	code, plen := int(b[0]), int(b[1])
	if plen != len(b[2:]) {
		return errors.Errorf("invalid event packet: % X", b)
	}
	if f := h.evth[code]; f != nil {
		return f(b[2:])
	}
	if code == 0xff {
		// vendor event
		return nil
	}
	return errors.Errorf("unsupported event 0x%02x", code)
}

func (h *HCI) handleLEMeta(b []byte) error {
	if len(b) < 1 {
		return errors.New("empty le meta event")
	}
	if f := h.subh[int(b[0])]; f != nil {
		return f(b)
	}
	return errors.Errorf("unsupported le event 0x%02x", b[0])
}

func (h *HCI) handleCommandComplete(b []byte) error {
	e := commandComplete(b)
	h.setAllowedCommands(int(e.numHCICommandPackets()))

	// NOP, flow control only [Vol 2, Part E, 4.4]
	if e.commandOpcode() == 0x0000 {
		return nil
	}

	h.muSent.Lock()
	p, found := h.sent[int(e.commandOpcode())]
	h.muSent.Unlock()
	if !found {
		return errors.Errorf("complete for unsent command 0x%04x", e.commandOpcode())
	}

	select {
	case <-h.done:
	case p.done <- e.returnParameters():
	}
	return nil
}

func (h *HCI) handleCommandStatus(b []byte) error {
	e := commandStatus(b)
	h.setAllowedCommands(int(e.numHCICommandPackets()))

	h.muSent.Lock()
	p, found := h.sent[int(e.commandOpcode())]
	h.muSent.Unlock()
	if !found {
		return errors.Errorf("status for unsent command 0x%04x", e.commandOpcode())
	}

	select {
	case <-h.done:
	case p.done <- []byte{e.status()}:
	}
	return nil
}

func (h *HCI) handleLEAdvertisingReport(b []byte) error {
	e := leAdvertisingReport(b)
	nr, err := e.numReports()
	if err != nil {
		return err
	}
	for i := 0; i < nr; i++ {
		et, err := e.eventType(i)
		if err != nil {
			return err
		}
		at, err := e.addressType(i)
		if err != nil {
			return err
		}
		addr, err := e.address(i)
		if err != nil {
			return err
		}
		data, err := e.data(i)
		if err != nil {
			return err
		}
		rssi, err := e.rssi(i)
		if err != nil {
			return err
		}
		h.emit(AdvReport{
			Peer: bthost.PeerID{
				Addr: bthost.EUI48FromWire(addr),
				Type: bthost.AddrType(at),
			},
			EventType: et,
			RSSI:      rssi,
			Data:      append([]byte(nil), data...),
		})
	}
	return nil
}

func (h *HCI) handleLEConnectionComplete(b []byte) error {
	e := leConnectionComplete(b)
	peer := bthost.PeerID{
		Addr: bthost.EUI48FromWire(e.peerAddress()),
		Type: bthost.AddrType(e.peerAddressType()),
	}

	if e.status() != 0x00 {
		// 0x02 (unknown connection id) is a successful cancel
		h.emit(ConnComplete{
			Status: bthost.HCIStatus(e.status()),
			Peer:   peer,
		})
		return nil
	}

	role := bthost.RoleMaster
	if e.role() == roleSlave {
		role = bthost.RoleSlave
	}
	c := newConn(h, e.connectionHandle(), role, peer)
	h.muConns.Lock()
	h.conns[e.connectionHandle()] = c
	h.muConns.Unlock()
	go c.run()

	h.emit(ConnComplete{
		Status:   bthost.StatusSuccess,
		Handle:   e.connectionHandle(),
		Role:     role,
		Peer:     peer,
		Interval: e.connInterval(),
		Conn:     c,
	})
	return nil
}

func (h *HCI) handleDisconnectionComplete(b []byte) error {
	e := disconnectionComplete(b)
	h.cleanupConnectionHandle(e.connectionHandle())
	h.emit(DisconnComplete{
		Handle: e.connectionHandle(),
		Reason: bthost.HCIStatus(e.reason()),
	})
	return nil
}

func (h *HCI) handleEncryptionChange(b []byte) error {
	e := encryptionChange(b)
	h.muConns.Lock()
	c, found := h.conns[e.connectionHandle()]
	h.muConns.Unlock()
	if !found {
		return errors.Errorf("encryption change for unknown handle 0x%04x", e.connectionHandle())
	}
	c.handleEncryptionChanged(bthost.HCIStatus(e.status()), e.encryptionEnabled() == 1)
	return nil
}

func (h *HCI) handleNumberOfCompletedPackets(b []byte) error {
	e := numberOfCompletedPackets(b)
	h.muConns.Lock()
	defer h.muConns.Unlock()
	for i := 0; i < int(e.numberOfHandles()); i++ {
		c, found := h.conns[e.connectionHandle(i)]
		if !found {
			continue
		}
		for j := 0; j < int(e.completedPackets(i)); j++ {
			if c.pending > 0 {
				c.pending--
				h.releaseTx()
			}
		}
	}
	return nil
}

func (h *HCI) handleLELongTermKeyRequest(b []byte) error {
	e := leLongTermKeyRequest(b)
	h.muConns.Lock()
	c, found := h.conns[e.connectionHandle()]
	h.muConns.Unlock()

	if found {
		if ltk, ok := c.requestLTK(e.encryptedDiversifier(), e.randomNumber()); ok {
			return h.Send(&LELongTermKeyRequestReply{
				ConnectionHandle: e.connectionHandle(),
				LongTermKey:      ltk,
			}, nil)
		}
	}
	return h.Send(&LELongTermKeyRequestNegativeReply{
		ConnectionHandle: e.connectionHandle(),
	}, nil)
}

func (h *HCI) cleanupConnectionHandle(handle uint16) {
	h.muConns.Lock()
	c, found := h.conns[handle]
	if found {
		delete(h.conns, handle)
		// recycle buffers the link still held [Vol 2, Part E, 4.3]
		for ; c.pending > 0; c.pending-- {
			h.releaseTx()
		}
	}
	h.muConns.Unlock()
	if found {
		c.closeInternal()
	}
}

func (h *HCI) cleanup() {
	h.close(nil)

	h.muConns.Lock()
	handles := make([]uint16, 0, len(h.conns))
	for handle := range h.conns {
		handles = append(handles, handle)
	}
	h.muConns.Unlock()
	for _, handle := range handles {
		h.cleanupConnectionHandle(handle)
	}

	close(h.events)
}

func (h *HCI) close(err error) {
	if h.err == nil {
		h.err = err
	}
	h.skt.Close()
}

func (h *HCI) emit(e Event) {
	select {
	case h.events <- e:
	default:
		h.log.Warnf("event queue full, dropping %T", e)
	}
}

func (h *HCI) setAllowedCommands(n int) {
	if n > chCmdBufChanSize {
		n = chCmdBufChanSize
	}
	for len(h.chCmdBufs) < n {
		select {
		case <-h.done:
			return
		case h.chCmdBufs <- make([]byte, chCmdBufElementSize):
		default:
			return
		}
	}
}

// acquireTx blocks until a controller buffer is free.
func (h *HCI) acquireTx(c *Conn) error {
	select {
	case <-h.done:
		return io.ErrClosedPipe
	case <-c.done:
		return io.ErrClosedPipe
	case <-h.txTokens:
	}
	h.muConns.Lock()
	c.pending++
	h.muConns.Unlock()
	return nil
}

func (h *HCI) releaseTx() {
	select {
	case h.txTokens <- struct{}{}:
	default:
	}
}

// Controller surface.

// SetScanParams implements Controller.
func (h *HCI) SetScanParams(p bthost.ScanParams) bthost.HCIStatus {
	scanType := uint8(0x00)
	if p.Active {
		scanType = 0x01
	}
	return h.sendStatus(&LESetScanParameters{
		LEScanType:           scanType,
		LEScanInterval:       p.Interval,
		LEScanWindow:         p.Window,
		ScanningFilterPolicy: p.FilterPolicy,
	})
}

// ScanEnable implements Controller.
func (h *HCI) ScanEnable(enable, filterDuplicates bool) bthost.HCIStatus {
	c := &LESetScanEnable{}
	if enable {
		c.LEScanEnable = 1
	}
	if filterDuplicates {
		c.FilterDuplicates = 1
	}
	return h.sendStatus(c)
}

// SetAdvParams implements Controller.
func (h *HCI) SetAdvParams(p bthost.AdvParams) bthost.HCIStatus {
	return h.sendStatus(&LESetAdvertisingParameters{
		AdvertisingIntervalMin:  p.IntervalMin,
		AdvertisingIntervalMax:  p.IntervalMax,
		AdvertisingType:         p.Type,
		AdvertisingChannelMap:   p.ChannelMap,
		AdvertisingFilterPolicy: p.FilterPolicy,
	})
}

// SetAdvData implements Controller.
func (h *HCI) SetAdvData(ad, scanRsp []byte) bthost.HCIStatus {
	if len(ad) > 31 || len(scanRsp) > 31 {
		return bthost.StatusInvalidParams
	}
	adCmd := &LESetAdvertisingData{AdvertisingDataLength: uint8(len(ad))}
	copy(adCmd.AdvertisingData[:], ad)
	if st := h.sendStatus(adCmd); !st.IsOK() {
		return st
	}
	srCmd := &LESetScanResponseData{ScanResponseDataLength: uint8(len(scanRsp))}
	copy(srCmd.ScanResponseData[:], scanRsp)
	return h.sendStatus(srCmd)
}

// AdvEnable implements Controller.
func (h *HCI) AdvEnable(enable bool) bthost.HCIStatus {
	c := &LESetAdvertiseEnable{}
	if enable {
		c.AdvertisingEnable = 1
	}
	return h.sendStatus(c)
}

// CreateConnection implements Controller.
func (h *HCI) CreateConnection(peer bthost.PeerID, p bthost.ConnParams) bthost.HCIStatus {
	c := &LECreateConnection{
		LEScanInterval:     p.ScanInterval,
		LEScanWindow:       p.ScanWindow,
		PeerAddressType:    uint8(peer.Type),
		ConnIntervalMin:    p.IntervalMin,
		ConnIntervalMax:    p.IntervalMax,
		ConnLatency:        p.Latency,
		SupervisionTimeout: p.SupervisionTO,
		MinimumCELength:    p.MinCELength,
		MaximumCELength:    p.MaxCELength,
	}
	copy(c.PeerAddress[:], peer.Addr.WireBytes())
	return h.sendStatus(c)
}

// CancelConnection implements Controller.
func (h *HCI) CancelConnection() bthost.HCIStatus {
	return h.sendStatus(&LECreateConnectionCancel{})
}

// Disconnect implements Controller.
func (h *HCI) Disconnect(handle uint16, reason bthost.HCIStatus) bthost.HCIStatus {
	return h.sendStatus(&Disconnect{
		ConnectionHandle: handle,
		Reason:           uint8(reason),
	})
}

// SetPHY requests new TX/RX PHYs for a connection. The controller
// answers with a command status; the achieved rates arrive later as an
// LE PHY Update Complete event.
func (h *HCI) SetPHY(handle uint16, tx, rx bthost.LEPHY) bthost.HCIStatus {
	c := &LESetPHY{ConnectionHandle: handle}
	if tx == bthost.PHYUnset {
		c.AllPHYs |= 0x01
	} else {
		c.TXPHYs = uint8(tx)
	}
	if rx == bthost.PHYUnset {
		c.AllPHYs |= 0x02
	} else {
		c.RXPHYs = uint8(rx)
	}
	return h.sendStatus(c)
}

// WhitelistAdd implements Controller.
func (h *HCI) WhitelistAdd(peer bthost.PeerID) bthost.HCIStatus {
	c := &LEAddDeviceToWhiteList{AddressType: uint8(peer.Type)}
	copy(c.Address[:], peer.Addr.WireBytes())
	return h.sendStatus(c)
}

// WhitelistRemove implements Controller.
func (h *HCI) WhitelistRemove(peer bthost.PeerID) bthost.HCIStatus {
	c := &LERemoveDeviceFromWhiteList{AddressType: uint8(peer.Type)}
	copy(c.Address[:], peer.Addr.WireBytes())
	return h.sendStatus(c)
}

// WhitelistClear implements Controller.
func (h *HCI) WhitelistClear() bthost.HCIStatus {
	return h.sendStatus(&LEClearWhiteList{})
}
