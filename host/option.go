package host

import (
	"github.com/airlinklabs/bthost"
)

// An Option is a configuration function, which configures the adapter.
type Option func(*Adapter) error

// Option applies the given options in order, stopping at the first
// failure.
func (a *Adapter) Option(opts ...Option) error {
	for _, o := range opts {
		if err := o(a); err != nil {
			return err
		}
	}
	return nil
}

// OptConnParams overrides the default connection parameters.
func OptConnParams(p bthost.ConnParams) Option {
	return func(a *Adapter) error {
		a.SetDefaultConnParam(p)
		return nil
	}
}

// OptServerSecurity sets the security level and IO capability new
// connections start from.
func OptServerSecurity(level bthost.SecurityLevel, ioCap bthost.IOCapability) Option {
	return func(a *Adapter) error {
		a.SetServerConnSecurity(level, ioCap)
		return nil
	}
}

// OptKeyPath opens the persistent SMP key store at path.
func OptKeyPath(path string) Option {
	return func(a *Adapter) error {
		return a.SetSMPKeyPath(path)
	}
}

// OptScanRSSIFloor drops advertising reports weaker than floor dBm.
func OptScanRSSIFloor(floor int8) Option {
	return func(a *Adapter) error {
		a.SetScanRSSIFloor(true, floor)
		return nil
	}
}

// OptProfileCachePath enables the discovered-GATT-profile cache file.
func OptProfileCachePath(path string) Option {
	return func(a *Adapter) error {
		a.SetProfileCachePath(path)
		return nil
	}
}
