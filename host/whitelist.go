package host

import "github.com/airlinklabs/bthost"

// AddDeviceToWhitelist puts a peer on the controller filter accept
// list. The list is independent of discovery state.
func (a *Adapter) AddDeviceToWhitelist(addr bthost.EUI48, typ bthost.AddrType) bool {
	ctrl := a.controller()
	if ctrl == nil {
		return false
	}
	peer := bthost.PeerID{Addr: addr, Type: typ}

	a.mu.Lock()
	if a.whitelist[peer] {
		a.mu.Unlock()
		return true
	}
	a.mu.Unlock()

	if st := ctrl.WhitelistAdd(peer); !st.IsOK() {
		a.log.Warnf("whitelist add %s: %s", peer, st)
		return false
	}
	a.mu.Lock()
	a.whitelist[peer] = true
	a.mu.Unlock()
	return true
}

// RemoveDeviceFromWhitelist takes a peer off the filter accept list.
func (a *Adapter) RemoveDeviceFromWhitelist(addr bthost.EUI48, typ bthost.AddrType) bool {
	ctrl := a.controller()
	if ctrl == nil {
		return false
	}
	peer := bthost.PeerID{Addr: addr, Type: typ}

	a.mu.Lock()
	if !a.whitelist[peer] {
		a.mu.Unlock()
		return false
	}
	delete(a.whitelist, peer)
	a.mu.Unlock()

	if st := ctrl.WhitelistRemove(peer); !st.IsOK() {
		a.log.Warnf("whitelist remove %s: %s", peer, st)
		return false
	}
	return true
}

// IsDeviceWhitelisted reports whether the peer is on the filter accept
// list.
func (a *Adapter) IsDeviceWhitelisted(addr bthost.EUI48, typ bthost.AddrType) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.whitelist[bthost.PeerID{Addr: addr, Type: typ}]
}
