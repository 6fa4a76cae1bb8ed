package keystore

import (
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airlinklabs/bthost"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "keys.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testPeer() bthost.PeerID {
	return bthost.PeerID{
		Addr: bthost.MustParseEUI48("00:1a:7d:da:71:13"),
		Type: bthost.AddrPublic,
	}
}

func fullKeySet() bthost.KeySet {
	return bthost.KeySet{
		LTK: &bthost.LongTermKey{
			Properties: bthost.KeyPropSC | bthost.KeyPropAuth,
			EncSize:    16,
			EDiv:       0x1234,
			Rand:       0xdeadbeefcafe,
			LTK:        [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		},
		IRK: &bthost.IdentityResolvingKey{
			IRK:        [16]byte{0xaa, 0xbb},
			ID:         bthost.MustParseEUI48("c0:26:df:01:f2:72"),
			IDAddrType: bthost.AddrRandom,
		},
		CSRK: &bthost.SignatureResolvingKey{
			CSRK:    [16]byte{0x11, 0x22},
			Counter: 7,
		},
	}
}

func TestRoundTrip(t *testing.T) {
	s := openTestStore(t)
	peer := testPeer()
	want := fullKeySet()

	require.NoError(t, s.Put(peer, SideRemote, want))

	got, err := s.Get(peer, SideRemote)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// the other side has no record
	_, err = s.Get(peer, SideLocal)
	assert.True(t, errors.Is(err, bthost.ErrNotFound))
}

func TestPartialKeySet(t *testing.T) {
	s := openTestStore(t)
	peer := testPeer()
	want := bthost.KeySet{
		LTK: &bthost.LongTermKey{EncSize: 16, LTK: [16]byte{9}},
	}

	require.NoError(t, s.Put(peer, SideLocal, want))

	got, err := s.Get(peer, SideLocal)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Nil(t, got.IRK)
	assert.Nil(t, got.CSRK)
	assert.Nil(t, got.Link)
}

func TestPutPairingAndLongTermKey(t *testing.T) {
	s := openTestStore(t)
	peer := testPeer()

	local := bthost.KeySet{LTK: &bthost.LongTermKey{EncSize: 16, LTK: [16]byte{1}}}
	remote := bthost.KeySet{LTK: &bthost.LongTermKey{EncSize: 16, LTK: [16]byte{2}}}
	require.NoError(t, s.PutPairing(peer, local, remote))

	// remote side wins when both are present
	ltk, ok := s.LongTermKey(peer)
	require.True(t, ok)
	assert.Equal(t, *remote.LTK, ltk)

	// falls back to the local key when the remote one is absent
	require.NoError(t, s.Put(peer, SideRemote, bthost.KeySet{}))
	ltk, ok = s.LongTermKey(peer)
	require.True(t, ok)
	assert.Equal(t, *local.LTK, ltk)
}

func TestLongTermKeyUnknownPeer(t *testing.T) {
	s := openTestStore(t)
	_, ok := s.LongTermKey(testPeer())
	assert.False(t, ok)
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)
	peer := testPeer()
	require.NoError(t, s.PutPairing(peer, fullKeySet(), fullKeySet()))

	require.NoError(t, s.Delete(peer))
	_, err := s.Get(peer, SideLocal)
	assert.True(t, errors.Is(err, bthost.ErrNotFound))
	_, err = s.Get(peer, SideRemote)
	assert.True(t, errors.Is(err, bthost.ErrNotFound))

	// deleting again is fine
	require.NoError(t, s.Delete(peer))
}

func TestPeers(t *testing.T) {
	s := openTestStore(t)

	peers, err := s.Peers()
	require.NoError(t, err)
	assert.Empty(t, peers)

	p1 := testPeer()
	p2 := bthost.PeerID{Addr: bthost.MustParseEUI48("c0:26:df:01:f2:72"), Type: bthost.AddrRandom}
	require.NoError(t, s.PutPairing(p1, fullKeySet(), fullKeySet()))
	require.NoError(t, s.Put(p2, SideRemote, fullKeySet()))

	peers, err = s.Peers()
	require.NoError(t, err)
	assert.ElementsMatch(t, []bthost.PeerID{p1, p2}, peers)
}

func TestAddressTypeDistinguishesPeers(t *testing.T) {
	s := openTestStore(t)
	pub := testPeer()
	rnd := bthost.PeerID{Addr: pub.Addr, Type: bthost.AddrRandom}

	require.NoError(t, s.Put(pub, SideRemote, bthost.KeySet{
		LTK: &bthost.LongTermKey{EncSize: 16, LTK: [16]byte{1}},
	}))

	_, err := s.Get(rnd, SideRemote)
	assert.True(t, errors.Is(err, bthost.ErrNotFound))
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.db")
	peer := testPeer()
	want := fullKeySet()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(peer, SideRemote, want))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(peer, SideRemote)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
