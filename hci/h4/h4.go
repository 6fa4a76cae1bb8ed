// Package h4 frames HCI over a UART or TCP byte stream per the H4
// transport [Vol 4, Part A].
package h4

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/jacobsa/go-serial/serial"
	"github.com/pkg/errors"
)

const rxQueueSize = 64

type h4 struct {
	stream io.ReadWriteCloser

	rmu sync.Mutex
	wmu sync.Mutex
	cmu sync.Mutex

	frame   *frame
	rxQueue chan []byte
	done    chan struct{}
}

// DefaultSerialOptions returns the usual 115200 8N1 settings with the
// short inter-character timeout the frame assembler relies on.
func DefaultSerialOptions() serial.OpenOptions {
	return serial.OpenOptions{
		BaudRate:              115200,
		DataBits:              8,
		StopBits:              1,
		InterCharacterTimeout: 100,
	}
}

// NewSerial opens an H4 transport on a serial port.
func NewSerial(opts serial.OpenOptions) (io.ReadWriteCloser, error) {
	opts.MinimumReadSize = 0
	if opts.InterCharacterTimeout == 0 {
		opts.InterCharacterTimeout = 100
	}

	sp, err := serial.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "open serial port")
	}

	// flush whatever the controller buffered across our restarts
	sp.Write([]byte{0x01, 0x03, 0x0c, 0x00}) // reset
	time.Sleep(250 * time.Millisecond)
	if _, err := sp.Read(make([]byte, 2048)); err != nil {
		sp.Close()
		return nil, errors.Wrap(err, "flush serial port")
	}

	return newH4(sp), nil
}

// NewSocket opens an H4 transport on a TCP endpoint, as exposed by
// emulators and UART bridges.
func NewSocket(addr string, timeout time.Duration) (io.ReadWriteCloser, error) {
	c, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, errors.Wrap(err, "dial h4 socket")
	}
	return newH4(&connWithTimeout{c: c, timeout: timeout}), nil
}

func newH4(stream io.ReadWriteCloser) *h4 {
	rx := make(chan []byte, rxQueueSize)
	h := &h4{
		stream:  stream,
		frame:   newFrame(rx),
		rxQueue: rx,
		done:    make(chan struct{}),
	}
	go h.rxLoop()
	return h
}

func (h *h4) Read(p []byte) (int, error) {
	if !h.isOpen() {
		return 0, io.EOF
	}

	h.rmu.Lock()
	defer h.rmu.Unlock()

	select {
	case <-h.done:
		return 0, io.EOF
	case t := <-h.rxQueue:
		if len(p) < len(t) {
			return 0, io.ErrShortBuffer
		}
		return copy(p, t), nil
	case <-time.After(time.Second):
		// read timeout, caller polls again
		return 0, nil
	}
}

func (h *h4) Write(p []byte) (int, error) {
	if !h.isOpen() {
		return 0, io.EOF
	}
	h.wmu.Lock()
	defer h.wmu.Unlock()
	n, err := h.stream.Write(p)
	return n, errors.Wrap(err, "can't write h4")
}

func (h *h4) Close() error {
	h.cmu.Lock()
	defer h.cmu.Unlock()

	select {
	case <-h.done:
		return nil
	default:
		close(h.done)
		h.rmu.Lock()
		err := h.stream.Close()
		h.rmu.Unlock()
		return errors.Wrap(err, "can't close h4")
	}
}

func (h *h4) isOpen() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func (h *h4) rxLoop() {
	tmp := make([]byte, 512)
	for {
		select {
		case <-h.done:
			return
		default:
		}

		n, err := h.stream.Read(tmp)
		if err != nil || n == 0 {
			continue
		}
		h.frame.assemble(tmp[:n])
	}
}

type connWithTimeout struct {
	c       net.Conn
	timeout time.Duration
}

func (cwt *connWithTimeout) Read(b []byte) (int, error) {
	cwt.c.SetReadDeadline(time.Now().Add(cwt.timeout))
	return cwt.c.Read(b)
}

func (cwt *connWithTimeout) Write(b []byte) (int, error) {
	cwt.c.SetWriteDeadline(time.Now().Add(cwt.timeout))
	return cwt.c.Write(b)
}

func (cwt *connWithTimeout) Close() error {
	return cwt.c.Close()
}
