// Package hci drives a Bluetooth LE controller over the HCI command and
// event interface [Vol 4, Part E]. The Controller interface is the
// boundary the host stack runs on; HCI implements it on a byte transport
// and test fakes implement it in process.
package hci

import (
	"github.com/airlinklabs/bthost"
)

// Event is a controller event delivered to the host layer. The concrete
// types below are the full set.
type Event interface {
	isEvent()
}

// AdvReport is one LE advertising report [Vol 4, Part E, 7.7.65.2].
type AdvReport struct {
	Peer      bthost.PeerID
	EventType uint8 // ADV_IND .. SCAN_RSP
	RSSI      int8
	Data      []byte
}

// ScanRsp reports whether the report carries scan response data.
func (a AdvReport) ScanRsp() bool { return a.EventType == evtTypScanRsp }

// Connectable reports whether the advertiser accepts connections.
func (a AdvReport) Connectable() bool {
	return a.EventType == evtTypAdvInd || a.EventType == evtTypAdvDirectInd
}

// ConnComplete reports the outcome of connection establishment, both for
// locally initiated connections and for accepted ones while advertising.
// Conn is nil unless Status is success.
type ConnComplete struct {
	Status   bthost.HCIStatus
	Handle   uint16
	Role     bthost.BTRole
	Peer     bthost.PeerID
	Interval uint16
	Conn     bthost.Conn
}

// DisconnComplete reports a link going down, whichever side initiated it.
type DisconnComplete struct {
	Handle uint16
	Reason bthost.HCIStatus
}

func (AdvReport) isEvent()       {}
func (ConnComplete) isEvent()    {}
func (DisconnComplete) isEvent() {}

// Controller is the host-to-controller boundary. All methods returning
// HCIStatus translate controller errors to status codes; errors are
// reserved for transport failures.
type Controller interface {
	// Init brings the controller up: reset, buffer and address discovery,
	// event mask configuration.
	Init() error
	Close() error

	// Addr returns the controller BD_ADDR.
	Addr() bthost.EUI48

	// Scanning.
	SetScanParams(p bthost.ScanParams) bthost.HCIStatus
	ScanEnable(enable, filterDuplicates bool) bthost.HCIStatus

	// Advertising.
	SetAdvParams(p bthost.AdvParams) bthost.HCIStatus
	SetAdvData(ad, scanRsp []byte) bthost.HCIStatus
	AdvEnable(enable bool) bthost.HCIStatus

	// Connections. CreateConnection completes asynchronously with a
	// ConnComplete event.
	CreateConnection(peer bthost.PeerID, p bthost.ConnParams) bthost.HCIStatus
	CancelConnection() bthost.HCIStatus
	Disconnect(handle uint16, reason bthost.HCIStatus) bthost.HCIStatus

	// Filter accept list.
	WhitelistAdd(peer bthost.PeerID) bthost.HCIStatus
	WhitelistRemove(peer bthost.PeerID) bthost.HCIStatus
	WhitelistClear() bthost.HCIStatus

	// Events delivers advertising reports and connection lifecycle
	// events. The channel closes when the controller shuts down.
	Events() <-chan Event
}
