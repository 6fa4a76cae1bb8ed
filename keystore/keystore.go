// Package keystore persists SMP key material across process restarts.
// Records are stored in a bbolt file keyed by peer identity and pairing
// side, using the fixed binary layouts from the key records themselves so
// files stay byte-compatible between versions.
package keystore

import (
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/airlinklabs/bthost"
)

var bucketKeys = []byte("keys")

// Side selects which half of a completed pairing a record belongs to.
type Side byte

const (
	SideLocal  Side = 0 // keys this host distributed
	SideRemote Side = 1 // keys the peer distributed
)

// Store is a bbolt backed key database. Safe for concurrent use.
type Store struct {
	db  *bolt.DB
	log bthost.Logger
}

// Open opens or creates the key database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "open key store")
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketKeys)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create key bucket")
	}

	return &Store{
		db:  db,
		log: bthost.GetLogger().ChildLogger(map[string]interface{}{"sys": "keystore"}),
	}, nil
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// recordKey is addr wire bytes + addr type + side: 8 bytes, unique per
// (peer, side).
func recordKey(peer bthost.PeerID, side Side) []byte {
	k := make([]byte, 0, 8)
	k = append(k, peer.Addr.WireBytes()...)
	k = append(k, byte(peer.Type), byte(side))
	return k
}

// Put stores one side's key set for a peer, replacing any prior record.
func (s *Store) Put(peer bthost.PeerID, side Side, ks bthost.KeySet) error {
	rec := marshalKeySet(ks)
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKeys).Put(recordKey(peer, side), rec)
	})
	if err != nil {
		return errors.Wrapf(err, "store keys for %s", peer)
	}
	s.log.Debugf("stored %d key bytes for %s side %d", len(rec), peer, side)
	return nil
}

// Get loads one side's key set for a peer. Returns bthost.ErrNotFound when
// no record exists.
func (s *Store) Get(peer bthost.PeerID, side Side) (bthost.KeySet, error) {
	var ks bthost.KeySet
	err := s.db.View(func(tx *bolt.Tx) error {
		rec := tx.Bucket(bucketKeys).Get(recordKey(peer, side))
		if rec == nil {
			return bthost.ErrNotFound
		}
		var err error
		ks, err = unmarshalKeySet(rec)
		return err
	})
	if err != nil {
		return bthost.KeySet{}, errors.Wrapf(err, "load keys for %s", peer)
	}
	return ks, nil
}

// PutPairing stores both halves of a completed pairing in one transaction.
func (s *Store) PutPairing(peer bthost.PeerID, local, remote bthost.KeySet) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKeys)
		if err := b.Put(recordKey(peer, SideLocal), marshalKeySet(local)); err != nil {
			return err
		}
		return b.Put(recordKey(peer, SideRemote), marshalKeySet(remote))
	})
	return errors.Wrapf(err, "store pairing for %s", peer)
}

// LongTermKey returns the usable LTK for re-encrypting a link to peer:
// the peer's distributed LTK when present, otherwise the locally
// distributed one. The bool reports whether a valid key was found.
func (s *Store) LongTermKey(peer bthost.PeerID) (bthost.LongTermKey, bool) {
	for _, side := range []Side{SideRemote, SideLocal} {
		ks, err := s.Get(peer, side)
		if err != nil {
			continue
		}
		if ks.LTK != nil && ks.LTK.IsValid() {
			return *ks.LTK, true
		}
	}
	return bthost.LongTermKey{}, false
}

// Delete removes every record for peer. Unknown peers are a no-op.
func (s *Store) Delete(peer bthost.PeerID) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKeys)
		if err := b.Delete(recordKey(peer, SideLocal)); err != nil {
			return err
		}
		return b.Delete(recordKey(peer, SideRemote))
	})
	return errors.Wrapf(err, "delete keys for %s", peer)
}

// Peers lists every peer identity with at least one stored record.
func (s *Store) Peers() ([]bthost.PeerID, error) {
	seen := make(map[bthost.PeerID]bool)
	var peers []bthost.PeerID
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKeys).ForEach(func(k, v []byte) error {
			if len(k) != 8 {
				return errors.Errorf("malformed record key of %d bytes", len(k))
			}
			p := bthost.PeerID{
				Addr: bthost.EUI48FromWire(k[:6]),
				Type: bthost.AddrType(k[6]),
			}
			if !seen[p] {
				seen[p] = true
				peers = append(peers, p)
			}
			return nil
		})
	})
	return peers, err
}

// Key set record layout: one presence bitmap byte followed by the present
// records in bitmap order, each at its fixed marshaled size.
const (
	hasLTK  = 1 << 0
	hasIRK  = 1 << 1
	hasCSRK = 1 << 2
	hasLink = 1 << 3
)

func marshalKeySet(ks bthost.KeySet) []byte {
	rec := []byte{0}
	if ks.LTK != nil {
		rec[0] |= hasLTK
		rec = append(rec, ks.LTK.Marshal()...)
	}
	if ks.IRK != nil {
		rec[0] |= hasIRK
		rec = append(rec, ks.IRK.Marshal()...)
	}
	if ks.CSRK != nil {
		rec[0] |= hasCSRK
		rec = append(rec, ks.CSRK.Marshal()...)
	}
	if ks.Link != nil {
		rec[0] |= hasLink
		rec = append(rec, ks.Link.Marshal()...)
	}
	return rec
}

func unmarshalKeySet(rec []byte) (bthost.KeySet, error) {
	var ks bthost.KeySet
	if len(rec) < 1 {
		return ks, errors.New("empty key set record")
	}
	bits, rest := rec[0], rec[1:]

	take := func(n int) ([]byte, error) {
		if len(rest) < n {
			return nil, errors.Errorf("key set record truncated, need %d have %d", n, len(rest))
		}
		b := rest[:n]
		rest = rest[n:]
		return b, nil
	}

	if bits&hasLTK != 0 {
		b, err := take(bthost.LongTermKeySize)
		if err != nil {
			return ks, err
		}
		ks.LTK = new(bthost.LongTermKey)
		if err := ks.LTK.Unmarshal(b); err != nil {
			return ks, err
		}
	}
	if bits&hasIRK != 0 {
		b, err := take(bthost.IdentityResolvingKeySize)
		if err != nil {
			return ks, err
		}
		ks.IRK = new(bthost.IdentityResolvingKey)
		if err := ks.IRK.Unmarshal(b); err != nil {
			return ks, err
		}
	}
	if bits&hasCSRK != 0 {
		b, err := take(bthost.SignatureResolvingKeySize)
		if err != nil {
			return ks, err
		}
		ks.CSRK = new(bthost.SignatureResolvingKey)
		if err := ks.CSRK.Unmarshal(b); err != nil {
			return ks, err
		}
	}
	if bits&hasLink != 0 {
		b, err := take(bthost.LinkKeySize)
		if err != nil {
			return ks, err
		}
		ks.Link = new(bthost.LinkKey)
		if err := ks.Link.Unmarshal(b); err != nil {
			return ks, err
		}
	}
	if len(rest) != 0 {
		return ks, errors.Errorf("%d trailing bytes in key set record", len(rest))
	}
	return ks, nil
}
