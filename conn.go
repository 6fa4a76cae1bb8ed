package bthost

import "io"

// EncryptionChangedInfo reports the outcome of a link encryption attempt.
type EncryptionChangedInfo struct {
	Status  HCIStatus
	Enabled bool
}

// Conn is the per-connection bearer the GATT and SMP layers run on. Read
// and Write move exactly one ATT PDU per call; the SMP channel is carried
// separately, mirroring the L2CAP fixed-channel split.
type Conn interface {
	io.ReadWriteCloser

	// Handle returns the connection handle assigned by the controller.
	Handle() uint16

	// Role returns the local role on this connection.
	Role() BTRole

	// LocalAddr returns the local controller address.
	LocalAddr() EUI48

	// RemoteAddr returns the remote device identity.
	RemoteAddr() PeerID

	// RxMTU returns the ATT_MTU the local side can accept.
	RxMTU() int
	SetRxMTU(mtu int)

	// TxMTU returns the ATT_MTU the remote side can accept.
	TxMTU() int
	SetTxMTU(mtu int)

	// ReadRSSI returns the current RSSI of the link.
	ReadRSSI() (int8, error)

	// Disconnected is closed when the link goes down, whichever side
	// initiated it.
	Disconnected() <-chan struct{}

	// WriteSMP sends one SMP PDU to the peer.
	WriteSMP(pdu []byte) (int, error)

	// SetSMPHandler installs the receiver for inbound SMP PDUs.
	SetSMPHandler(h func(pdu []byte) error)

	// StartEncryption asks the controller to encrypt the link with the
	// given key; completion arrives on the change channel.
	StartEncryption(ltk LongTermKey, change chan EncryptionChangedInfo) error
}
