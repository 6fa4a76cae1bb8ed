// Package cache persists discovered GATT profiles to a JSON file so a
// reconnecting client can skip service discovery.
package cache

import (
	"os"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/airlinklabs/bthost"
)

// ProfileCache stores one discovered attribute tree per peer.
type ProfileCache struct {
	filename string
	lock     sync.RWMutex
}

// New returns a cache backed by the given file. The file is created on
// first store.
func New(filename string) *ProfileCache {
	return &ProfileCache{filename: filename}
}

// Store saves the profile discovered on peer. With replace false an
// existing entry for the peer is an error.
func (pc *ProfileCache) Store(peer bthost.PeerID, profile *bthost.Profile, replace bool) error {
	pc.lock.Lock()
	defer pc.lock.Unlock()

	cache, err := pc.loadExisting()
	if err != nil {
		return err
	}

	key := peer.String()
	if _, ok := cache[key]; ok && !replace {
		return errors.Errorf("cache already contains gatt db for %s", key)
	}
	cache[key] = profile

	return pc.storeCache(cache)
}

// Load returns the cached profile for peer, or bthost.ErrNotFound.
func (pc *ProfileCache) Load(peer bthost.PeerID) (*bthost.Profile, error) {
	pc.lock.RLock()
	defer pc.lock.RUnlock()

	cache, err := pc.loadExisting()
	if err != nil {
		return nil, err
	}

	p, ok := cache[peer.String()]
	if !ok {
		return nil, errors.Wrapf(bthost.ErrNotFound, "gatt db for %s", peer)
	}
	relink(p)
	return p, nil
}

// Forget drops the entry for peer, if any.
func (pc *ProfileCache) Forget(peer bthost.PeerID) error {
	pc.lock.Lock()
	defer pc.lock.Unlock()

	cache, err := pc.loadExisting()
	if err != nil {
		return err
	}
	if _, ok := cache[peer.String()]; !ok {
		return nil
	}
	delete(cache, peer.String())
	return pc.storeCache(cache)
}

// Clear removes the backing file.
func (pc *ProfileCache) Clear() error {
	pc.lock.Lock()
	defer pc.lock.Unlock()

	err := os.Remove(pc.filename)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// relink rebuilds the CCCD shortcuts the JSON form leaves out.
func relink(p *bthost.Profile) {
	for _, s := range p.Services {
		for _, c := range s.Characteristics {
			for _, d := range c.Descriptors {
				if d.UUID.Equal(bthost.ClientCharConfigUUID) {
					c.CCCD = d
				}
			}
		}
	}
}

func (pc *ProfileCache) loadExisting() (map[string]*bthost.Profile, error) {
	in, err := os.ReadFile(pc.filename)
	if os.IsNotExist(err) {
		return map[string]*bthost.Profile{}, nil
	}
	if err != nil {
		return nil, err
	}

	var cache map[string]*bthost.Profile
	if err := jsoniter.Unmarshal(in, &cache); err != nil {
		return nil, errors.Wrap(err, "corrupt gatt cache")
	}
	return cache, nil
}

func (pc *ProfileCache) storeCache(cache map[string]*bthost.Profile) error {
	out, err := jsoniter.Marshal(cache)
	if err != nil {
		return err
	}
	return os.WriteFile(pc.filename, out, 0644)
}
