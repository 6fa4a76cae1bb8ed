package smp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airlinklabs/bthost"
)

var (
	centralID    = bthost.PeerID{Addr: bthost.MustParseEUI48("00:1A:7D:DA:71:13"), Type: bthost.AddrPublic}
	peripheralID = bthost.PeerID{Addr: bthost.MustParseEUI48("C0:26:DF:01:F2:72"), Type: bthost.AddrRandom}
)

type pairedEnd struct {
	m    *Manager
	keys chan [2]bthost.KeySet
}

// linkManagers wires two managers through buffered channels with a pump
// goroutine per direction, mimicking the SMP fixed channel.
func linkManagers(t *testing.T, ini, res Config) (*pairedEnd, *pairedEnd) {
	a := &pairedEnd{m: NewManager(ini, centralID, peripheralID, true), keys: make(chan [2]bthost.KeySet, 1)}
	b := &pairedEnd{m: NewManager(res, peripheralID, centralID, false), keys: make(chan [2]bthost.KeySet, 1)}

	pump := func(dst *Manager) (func([]byte) (int, error), chan []byte) {
		ch := make(chan []byte, 32)
		go func() {
			for pdu := range ch {
				if err := dst.Handle(pdu); err != nil {
					t.Logf("handle: %v", err)
				}
			}
		}()
		return func(pdu []byte) (int, error) {
			cp := make([]byte, len(pdu))
			copy(cp, pdu)
			ch <- cp
			return len(pdu), nil
		}, ch
	}

	wa, cha := pump(b.m)
	wb, chb := pump(a.m)
	a.m.SetWritePDUFunc(wa)
	b.m.SetWritePDUFunc(wb)
	t.Cleanup(func() { close(cha); close(chb) })

	a.m.SetKeysFunc(func(local, remote bthost.KeySet) { a.keys <- [2]bthost.KeySet{local, remote} })
	b.m.SetKeysFunc(func(local, remote bthost.KeySet) { b.keys <- [2]bthost.KeySet{local, remote} })
	return a, b
}

func waitKeys(t *testing.T, e *pairedEnd) (local, remote bthost.KeySet) {
	select {
	case ks := <-e.keys:
		return ks[0], ks[1]
	case <-time.After(5 * time.Second):
		t.Fatal("key distribution did not complete")
		return
	}
}

func TestJustWorksSecureConnections(t *testing.T) {
	cfg := DefaultConfig(bthost.IOCapNoInputNoOutput, true, true, false)
	a, b := linkManagers(t, cfg, cfg)

	require.Nil(t, a.m.Pair(AuthData{}, 5*time.Second))
	assert.Equal(t, bthost.PairingModeJustWorks, a.m.Mode())

	aLocal, aRemote := waitKeys(t, a)
	bLocal, bRemote := waitKeys(t, b)

	// one shared LTK, derived not distributed
	require.NotNil(t, aLocal.LTK)
	require.NotNil(t, bLocal.LTK)
	assert.Equal(t, aLocal.LTK.LTK, bLocal.LTK.LTK)
	assert.NotEqual(t, [16]byte{}, aLocal.LTK.LTK)
	assert.True(t, aLocal.LTK.Properties&bthost.KeyPropSC != 0)
	assert.True(t, aLocal.LTK.Properties&bthost.KeyPropResponder == 0)
	assert.True(t, bLocal.LTK.Properties&bthost.KeyPropResponder != 0)
	assert.True(t, aLocal.LTK.Properties&bthost.KeyPropAuth == 0)

	// identity keys crossed over intact
	require.NotNil(t, aRemote.IRK)
	require.NotNil(t, bRemote.IRK)
	assert.Equal(t, bLocal.IRK.IRK, aRemote.IRK.IRK)
	assert.Equal(t, aLocal.IRK.IRK, bRemote.IRK.IRK)
	assert.Equal(t, peripheralID.Addr, aRemote.IRK.ID)
	assert.Equal(t, centralID.Addr, bRemote.IRK.ID)
}

func TestPasskeySecureConnections(t *testing.T) {
	ini := DefaultConfig(bthost.IOCapKeyboardOnly, true, true, true)
	res := DefaultConfig(bthost.IOCapDisplayOnly, true, true, true)
	a, b := linkManagers(t, ini, res)
	b.m.SetAuthData(AuthData{Passkey: 123456})

	require.Nil(t, a.m.Pair(AuthData{Passkey: 123456}, 5*time.Second))
	assert.Equal(t, bthost.PairingModePasskeyEntryIni, a.m.Mode())

	aLocal, _ := waitKeys(t, a)
	bLocal, _ := waitKeys(t, b)
	assert.Equal(t, aLocal.LTK.LTK, bLocal.LTK.LTK)
	assert.True(t, aLocal.LTK.Properties&bthost.KeyPropAuth != 0)
}

func TestPasskeyMismatchFails(t *testing.T) {
	ini := DefaultConfig(bthost.IOCapKeyboardOnly, true, true, true)
	res := DefaultConfig(bthost.IOCapDisplayOnly, true, true, true)
	a, b := linkManagers(t, ini, res)
	b.m.SetAuthData(AuthData{Passkey: 111111})

	err := a.m.Pair(AuthData{Passkey: 222222}, 5*time.Second)
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "pairing failed")
}

func TestNumericComparison(t *testing.T) {
	cfg := DefaultConfig(bthost.IOCapDisplayYesNo, true, true, true)
	a, b := linkManagers(t, cfg, cfg)

	values := make(chan uint32, 2)
	a.m.SetCompareFunc(func(v uint32) {
		values <- v
		a.m.ConfirmNumericComparison(true)
	})
	b.m.SetCompareFunc(func(v uint32) {
		values <- v
		b.m.ConfirmNumericComparison(true)
	})

	require.Nil(t, a.m.Pair(AuthData{}, 5*time.Second))
	assert.Equal(t, bthost.PairingModeNumericCompareIni, a.m.Mode())

	v1 := <-values
	v2 := <-values
	assert.Equal(t, v1, v2)
	assert.True(t, v1 < 1000000)

	aLocal, _ := waitKeys(t, a)
	bLocal, _ := waitKeys(t, b)
	assert.Equal(t, aLocal.LTK.LTK, bLocal.LTK.LTK)
	assert.True(t, aLocal.LTK.Properties&bthost.KeyPropAuth != 0)
}

func TestNumericComparisonRejected(t *testing.T) {
	cfg := DefaultConfig(bthost.IOCapDisplayYesNo, true, true, true)
	a, _ := linkManagers(t, cfg, cfg)

	a.m.SetCompareFunc(func(v uint32) {
		a.m.ConfirmNumericComparison(false)
	})

	err := a.m.Pair(AuthData{}, 5*time.Second)
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "numeric comparison")
}

func TestLegacyJustWorks(t *testing.T) {
	cfg := DefaultConfig(bthost.IOCapNoInputNoOutput, false, true, false)
	a, b := linkManagers(t, cfg, cfg)

	require.Nil(t, a.m.Pair(AuthData{}, 5*time.Second))

	// both sides hold the same short term key
	require.NotNil(t, a.m.LegacySTK())
	assert.Equal(t, b.m.LegacySTK(), a.m.LegacySTK())

	aLocal, aRemote := waitKeys(t, a)
	bLocal, bRemote := waitKeys(t, b)

	// legacy distributes a random LTK per direction
	require.NotNil(t, aRemote.LTK)
	require.NotNil(t, bLocal.LTK)
	assert.Equal(t, bLocal.LTK.LTK, aRemote.LTK.LTK)
	assert.Equal(t, bLocal.LTK.EDiv, aRemote.LTK.EDiv)
	assert.Equal(t, bLocal.LTK.Rand, aRemote.LTK.Rand)
	assert.Equal(t, aLocal.LTK.LTK, bRemote.LTK.LTK)
	assert.True(t, aRemote.LTK.Properties&bthost.KeyPropSC == 0)
}

func TestSecureConnectionsFallsBackToLegacy(t *testing.T) {
	ini := DefaultConfig(bthost.IOCapNoInputNoOutput, true, true, false)
	res := DefaultConfig(bthost.IOCapNoInputNoOutput, false, true, false)
	a, b := linkManagers(t, ini, res)

	require.Nil(t, a.m.Pair(AuthData{}, 5*time.Second))
	require.NotNil(t, a.m.LegacySTK())
	assert.Equal(t, b.m.LegacySTK(), a.m.LegacySTK())
}

func TestEncryptTriggeredWithDerivedLTK(t *testing.T) {
	cfg := DefaultConfig(bthost.IOCapNoInputNoOutput, true, true, false)
	a, b := linkManagers(t, cfg, cfg)

	encrypted := make(chan bthost.LongTermKey, 1)
	a.m.SetEncryptFunc(func(ltk bthost.LongTermKey) error {
		encrypted <- ltk
		return nil
	})

	require.Nil(t, a.m.Pair(AuthData{}, 5*time.Second))

	select {
	case ltk := <-encrypted:
		aLocal, _ := waitKeys(t, a)
		assert.Equal(t, aLocal.LTK.LTK, ltk.LTK)
	case <-time.After(time.Second):
		t.Fatal("encryption not requested")
	}
	_, _ = waitKeys(t, b)
}
