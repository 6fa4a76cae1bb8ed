package cache

import (
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airlinklabs/bthost"
)

func testProfile() *bthost.Profile {
	cccd := &bthost.Descriptor{UUID: bthost.ClientCharConfigUUID, Handle: 4}
	c := &bthost.Characteristic{
		UUID:        bthost.UUID16(0x2a37),
		Property:    bthost.CharNotify,
		Handle:      2,
		ValueHandle: 3,
		EndHandle:   4,
		Descriptors: []*bthost.Descriptor{cccd},
		CCCD:        cccd,
	}
	return &bthost.Profile{
		Services: []*bthost.Service{{
			UUID:            bthost.UUID16(0x180d),
			Primary:         true,
			Handle:          1,
			EndHandle:       4,
			Characteristics: []*bthost.Characteristic{c},
		}},
	}
}

func testCache(t *testing.T) *ProfileCache {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "gatt.cache"))
}

func peer(s string) bthost.PeerID {
	return bthost.PeerID{Addr: bthost.MustParseEUI48(s), Type: bthost.AddrPublic}
}

func TestStoreLoad(t *testing.T) {
	c := testCache(t)
	p := peer("12:34:56:78:90:ab")
	want := testProfile()

	require.NoError(t, c.Store(p, want, false))

	got, err := c.Load(p)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// CCCD shortcut survives the round trip
	require.NotNil(t, got.Services[0].Characteristics[0].CCCD)
	assert.Equal(t, uint16(4), got.Services[0].Characteristics[0].CCCD.Handle)
}

func TestLoadUnknownPeer(t *testing.T) {
	c := testCache(t)
	_, err := c.Load(peer("12:34:56:78:90:ab"))
	assert.True(t, errors.Is(err, bthost.ErrNotFound))
}

func TestStoreNoReplace(t *testing.T) {
	c := testCache(t)
	p := peer("12:34:56:78:90:ab")

	require.NoError(t, c.Store(p, testProfile(), false))
	assert.Error(t, c.Store(p, testProfile(), false))
	assert.NoError(t, c.Store(p, testProfile(), true))
}

func TestForget(t *testing.T) {
	c := testCache(t)
	p1 := peer("12:34:56:78:90:ab")
	p2 := peer("aa:bb:cc:dd:ee:ff")

	require.NoError(t, c.Store(p1, testProfile(), false))
	require.NoError(t, c.Store(p2, testProfile(), false))

	require.NoError(t, c.Forget(p1))
	_, err := c.Load(p1)
	assert.True(t, errors.Is(err, bthost.ErrNotFound))
	_, err = c.Load(p2)
	assert.NoError(t, err)

	// unknown peers are a no-op
	assert.NoError(t, c.Forget(p1))
}

func TestClear(t *testing.T) {
	c := testCache(t)
	p := peer("12:34:56:78:90:ab")
	require.NoError(t, c.Store(p, testProfile(), false))

	require.NoError(t, c.Clear())
	_, err := c.Load(p)
	assert.True(t, errors.Is(err, bthost.ErrNotFound))

	// clearing an absent file is fine
	assert.NoError(t, c.Clear())
}
