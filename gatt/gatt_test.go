package gatt

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airlinklabs/bthost"
	"github.com/airlinklabs/bthost/att"
)

var (
	testSvcUUID  = bthost.MustParseUUID("F0000000-0451-4000-B000-000000000000")
	testCharUUID = bthost.MustParseUUID("F0000001-0451-4000-B000-000000000000")
	testDescUUID = bthost.UUID16(0x2901)
)

func testServer(t *testing.T, listener *ServerListener) (*Server, *CharDef, *Client, bthost.Conn) {
	ch := &CharDef{
		UUID:       testCharUUID,
		Properties: bthost.CharRead | bthost.CharWrite | bthost.CharNotify | bthost.CharIndicate,
		Value:      bthost.NewValueFrom([]byte("hello"), 32),
		Descriptors: []*DescDef{
			{UUID: testDescUUID, Value: bthost.NewValueFrom([]byte("user desc"), 16)},
		},
	}
	name := &CharDef{
		UUID:       bthost.DeviceNameUUID,
		Properties: bthost.CharRead,
		Value:      bthost.NewValueFrom([]byte("pipetest"), 16),
	}
	srv := NewServer([]*ServiceDef{
		{UUID: bthost.GAPServiceUUID, Primary: true, Chars: []*CharDef{name}},
		{UUID: testSvcUUID, Primary: true, Chars: []*CharDef{ch}},
	}, 128)
	srv.Listener = listener

	central, peripheral := newConnPair(0x0040)
	go srv.Serve(peripheral)
	t.Cleanup(func() { central.Close() })
	return srv, ch, NewClient(central), peripheral
}

func TestHandleAssignment(t *testing.T) {
	_, ch, _, _ := testServer(t, nil)
	// GAP: decl 1, char 2, value 3; test svc: decl 4, char 5, value 6,
	// user desc 7, auto cccd 8.
	assert.Equal(t, uint16(5), ch.Handle())
	assert.Equal(t, uint16(6), ch.ValueHandle())
	require.Len(t, ch.Descriptors, 2)
	assert.Equal(t, uint16(7), ch.Descriptors[0].Handle())
	assert.True(t, ch.Descriptors[1].UUID.Equal(bthost.ClientCharConfigUUID))
	assert.Equal(t, uint16(8), ch.Descriptors[1].Handle())
}

func TestDiscoverProfile(t *testing.T) {
	_, _, cl, _ := testServer(t, nil)

	profile, err := cl.DiscoverProfile()
	require.Nil(t, err)
	require.Len(t, profile.Services, 2)

	s := profile.FindService(testSvcUUID)
	require.NotNil(t, s)
	assert.Equal(t, uint16(0xFFFF), s.EndHandle)

	c := profile.FindCharacteristic(testCharUUID)
	require.NotNil(t, c)
	assert.Equal(t, bthost.CharRead|bthost.CharWrite|bthost.CharNotify|bthost.CharIndicate, c.Property)
	require.NotNil(t, c.CCCD)
	assert.Len(t, c.Descriptors, 2)

	// second call serves from cache
	again, err := cl.DiscoverProfile()
	require.Nil(t, err)
	assert.True(t, profile == again)
}

func TestReadWrite(t *testing.T) {
	_, ch, cl, _ := testServer(t, nil)

	profile, err := cl.DiscoverProfile()
	require.Nil(t, err)
	c := profile.FindCharacteristic(testCharUUID)
	require.NotNil(t, c)

	v, err := cl.Read(c)
	require.Nil(t, err)
	assert.Equal(t, []byte("hello"), v)

	require.Nil(t, cl.Write(c, []byte("goodbye")))
	assert.Equal(t, []byte("goodbye"), ch.Value.Bytes())

	d := c.FindDescriptor(testDescUUID)
	require.NotNil(t, d)
	v, err = cl.ReadDescriptor(d)
	require.Nil(t, err)
	assert.Equal(t, []byte("user desc"), v)
}

func TestWriteTooLong(t *testing.T) {
	_, _, cl, _ := testServer(t, nil)

	profile, err := cl.DiscoverProfile()
	require.Nil(t, err)
	c := profile.FindCharacteristic(testCharUUID)

	_, err = cl.ExchangeMTU(128)
	require.Nil(t, err)

	err = cl.Write(c, make([]byte, 64)) // capacity is 32
	require.NotNil(t, err)
	assert.Equal(t, "invalid attribute value length", err.Error())
}

func TestExchangeMTU(t *testing.T) {
	_, _, cl, peripheral := testServer(t, nil)

	mtu, err := cl.ExchangeMTU(247)
	require.Nil(t, err)
	assert.Equal(t, 128, mtu) // server side caps at 128
	assert.Equal(t, 128, peripheral.TxMTU())
}

func TestConfigNotificationIndication(t *testing.T) {
	var mu sync.Mutex
	var gotNotify, gotIndicate bool
	listener := &ServerListener{
		ClientCharConfigChanged: func(peer bthost.PeerID, s *ServiceDef, c *CharDef, d *DescDef, notify, indicate bool) {
			mu.Lock()
			gotNotify, gotIndicate = notify, indicate
			mu.Unlock()
		},
	}
	srv, ch, cl, peripheral := testServer(t, listener)

	profile, err := cl.DiscoverProfile()
	require.Nil(t, err)
	c := profile.FindCharacteristic(testCharUUID)

	ok, n, i, err := cl.ConfigNotificationIndication(c, true, true)
	require.Nil(t, err)
	assert.True(t, ok)
	assert.True(t, n)
	assert.True(t, i)

	mu.Lock()
	assert.True(t, gotNotify)
	assert.True(t, gotIndicate)
	mu.Unlock()

	sn, si := srv.ClientConfig(peripheral, ch)
	assert.True(t, sn)
	assert.True(t, si)

	ok, n, i, err = cl.ConfigNotificationIndication(c, false, false)
	require.Nil(t, err)
	assert.True(t, ok)
	assert.False(t, n)
	assert.False(t, i)
}

func TestConfigMasksUnsupportedModes(t *testing.T) {
	notifyOnly := &CharDef{
		UUID:       testCharUUID,
		Properties: bthost.CharRead | bthost.CharNotify,
		Value:      bthost.NewValueFrom([]byte{1}, 4),
	}
	srv := NewServer([]*ServiceDef{
		{UUID: testSvcUUID, Primary: true, Chars: []*CharDef{notifyOnly}},
	}, 0)
	central, peripheral := newConnPair(0x0041)
	go srv.Serve(peripheral)
	defer central.Close()
	cl := NewClient(central)

	profile, err := cl.DiscoverProfile()
	require.Nil(t, err)
	c := profile.FindCharacteristic(testCharUUID)
	require.NotNil(t, c.CCCD)

	ok, n, i, err := cl.ConfigNotificationIndication(c, true, true)
	require.Nil(t, err)
	assert.True(t, ok)
	assert.True(t, n)
	assert.False(t, i) // indicate not in properties
}

func TestNotifyAndIndicate(t *testing.T) {
	srv, ch, cl, peripheral := testServer(t, nil)

	profile, err := cl.DiscoverProfile()
	require.Nil(t, err)
	c := profile.FindCharacteristic(testCharUUID)

	// pushing before subscription is refused
	require.NotNil(t, srv.Notify(peripheral, ch, []byte("x")))

	type push struct {
		value    []byte
		indicate bool
	}
	pushes := make(chan push, 4)
	n, i, err := cl.Subscribe(c, false, func(value []byte, indicate bool) {
		pushes <- push{value, indicate}
	})
	require.Nil(t, err)
	assert.True(t, n)
	assert.False(t, i)

	require.Nil(t, srv.Notify(peripheral, ch, []byte("ping")))
	select {
	case p := <-pushes:
		assert.Equal(t, []byte("ping"), p.value)
		assert.False(t, p.indicate)
	case <-time.After(time.Second):
		t.Fatal("notification not delivered")
	}

	// switch to indications; Indicate blocks until the confirmation
	n, i, err = cl.Subscribe(c, true, func(value []byte, indicate bool) {
		pushes <- push{value, indicate}
	})
	require.Nil(t, err)
	assert.False(t, n)
	assert.True(t, i)

	require.Nil(t, srv.Indicate(peripheral, ch, []byte("pong")))
	select {
	case p := <-pushes:
		assert.Equal(t, []byte("pong"), p.value)
		assert.True(t, p.indicate)
	case <-time.After(time.Second):
		t.Fatal("indication not delivered")
	}

	require.Nil(t, cl.Unsubscribe(c))
	require.NotNil(t, srv.Notify(peripheral, ch, []byte("gone")))
}

func TestName(t *testing.T) {
	_, _, cl, _ := testServer(t, nil)

	name, err := cl.Name()
	require.Nil(t, err)
	assert.Equal(t, "pipetest", name)
	assert.True(t, cl.Ping())
}

// scriptedPeer answers every ATT request on conn with the canned
// response answer returns.
func scriptedPeer(conn bthost.Conn, answer func(req []byte) []byte) {
	go func() {
		buf := make([]byte, att.MaxMTU)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			if rsp := answer(buf[:n]); rsp != nil {
				if _, err := conn.Write(rsp); err != nil {
					return
				}
			}
		}
	}()
}

func discoverAgainst(t *testing.T, answer func(req []byte) []byte) error {
	t.Helper()
	central, peripheral := newConnPair(0x0042)
	defer central.Close()
	scriptedPeer(peripheral, answer)
	cl := NewClient(central)

	done := make(chan error, 1)
	go func() {
		_, err := cl.DiscoverProfile()
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("discovery did not terminate")
		return nil
	}
}

func TestDiscoveryRejectsEntrylessTypeResponse(t *testing.T) {
	// one valid service; characteristic discovery answered with a
	// header-only Read By Type Response
	err := discoverAgainst(t, func(req []byte) []byte {
		switch req[0] {
		case att.ReadByGroupTypeReqCode:
			e := make([]byte, 6)
			binary.LittleEndian.PutUint16(e, 0x0001)
			binary.LittleEndian.PutUint16(e[2:], 0xFFFF)
			copy(e[4:], bthost.UUID16(0x180d))
			return att.ListRsp(att.ReadByGroupTypeRspCode, 6, e)
		case att.ReadByTypeReqCode:
			return att.ListRsp(att.ReadByTypeRspCode, 7, nil)
		}
		return att.ErrorRsp(req[0], 0, att.ErrReqNotSupp)
	})
	require.NotNil(t, err)
}

func TestDiscoveryRejectsEntrylessGroupResponse(t *testing.T) {
	err := discoverAgainst(t, func(req []byte) []byte {
		if req[0] == att.ReadByGroupTypeReqCode {
			return att.ListRsp(att.ReadByGroupTypeRspCode, 6, nil)
		}
		return att.ErrorRsp(req[0], 0, att.ErrReqNotSupp)
	})
	require.NotNil(t, err)
}

func TestListenerVeto(t *testing.T) {
	listener := &ServerListener{
		ReadCharValue: func(peer bthost.PeerID, s *ServiceDef, c *CharDef) bool {
			return !c.UUID.Equal(testCharUUID)
		},
		WriteCharValue: func(peer bthost.PeerID, s *ServiceDef, c *CharDef, value []byte) bool {
			return false
		},
	}
	_, _, cl, _ := testServer(t, listener)

	profile, err := cl.DiscoverProfile()
	require.Nil(t, err)
	c := profile.FindCharacteristic(testCharUUID)

	_, err = cl.Read(c)
	require.NotNil(t, err)
	assert.Equal(t, "read not permitted", err.Error())

	err = cl.Write(c, []byte("nope"))
	require.NotNil(t, err)
	assert.Equal(t, "write not permitted", err.Error())
}
