package h4

import (
	"time"

	"github.com/pkg/errors"
)

// UART HCI packet indicators [Vol 4, Part A, 2].
const (
	aclPacket   byte = 0x02
	eventPacket byte = 0x04
)

const frameTimeout = 500 * time.Millisecond

// frame reassembles HCI packets from the byte stream of a UART. Complete
// packets, indicator byte included, go to out.
type frame struct {
	b       []byte
	pktType byte
	timeout time.Time
	out     chan []byte
}

func newFrame(out chan []byte) *frame {
	return &frame{
		b:   make([]byte, 0, 256),
		out: out,
	}
}

func (f *frame) assemble(b []byte) {
	if len(b) == 0 {
		return
	}
	if !f.timeout.IsZero() && time.Now().After(f.timeout) {
		// never completed, resync on the next indicator
		f.reset()
	}

	if len(f.b) == 0 {
		rem, err := f.sync(b)
		if err != nil {
			return
		}
		b = rem
	}
	f.b = append(f.b, b...)

	total, err := f.length()
	if err != nil || len(f.b) < total {
		return
	}

	out := make([]byte, total)
	copy(out, f.b)
	f.out <- out

	rem := make([]byte, len(f.b)-total)
	copy(rem, f.b[total:])
	f.reset()
	f.assemble(rem)
}

func (f *frame) reset() {
	f.b = f.b[:0]
	f.timeout = time.Time{}
}

// sync scans for a packet indicator and returns the bytes from it on.
func (f *frame) sync(b []byte) ([]byte, error) {
	for i, v := range b {
		if v == eventPacket || v == aclPacket {
			f.pktType = v
			f.timeout = time.Now().Add(frameTimeout)
			return b[i:], nil
		}
	}
	return nil, errors.New("no packet indicator")
}

// length returns the full packet length once enough of the header is in.
func (f *frame) length() (int, error) {
	switch f.pktType {
	case eventPacket:
		// indicator + code + plen
		if len(f.b) < 3 {
			return 0, errors.New("short event header")
		}
		return 3 + int(f.b[2]), nil
	case aclPacket:
		// indicator + handle(2) + dlen(2)
		if len(f.b) < 5 {
			return 0, errors.New("short acl header")
		}
		return 5 + (int(f.b[3]) | int(f.b[4])<<8), nil
	default:
		return 0, errors.Errorf("invalid packet type 0x%02x", f.pktType)
	}
}
