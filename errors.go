package bthost

import "errors"

// Contract-violation errors. Operational failures are HCIStatus values;
// these errors fire only for programming mistakes at the call boundary.
var (
	// ErrNotFound is returned when looking up an unbound adapter index or
	// an unknown device.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyRegistered is returned when registering the same listener
	// instance twice.
	ErrAlreadyRegistered = errors.New("listener already registered")

	// ErrAlreadyPaired is returned when setting key material on a device
	// whose link is currently encrypted with conflicting material.
	ErrAlreadyPaired = errors.New("device already paired")

	// ErrKeyUnset is returned when reading key material that was never
	// distributed or set.
	ErrKeyUnset = errors.New("key not set")

	// ErrInvalidArgument means one or more of the arguments are invalid.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrClosed is returned when operating on a closed manager, adapter or
	// connection where the caller did not expect teardown.
	ErrClosed = errors.New("closed")

	// ErrEIRPacketTooLong is returned when an advertising payload exceeds
	// the legacy 31 byte limit.
	ErrEIRPacketTooLong = errors.New("max packet length is 31")
)
