// Package eir models extended inquiry response / advertising payloads:
// a typed report parsed from AD structures, and a packet builder for the
// advertising side. Refer to Supplement to Bluetooth Core Specification,
// CSSv6, Part A.
package eir

import (
	"fmt"
	"strings"

	"github.com/airlinklabs/bthost"
)

// DataType is the bitmask of report fields that are actually present.
// DeviceUpdated events carry the mask of fields that changed.
type DataType uint32

const (
	DataNone        DataType = 0
	DataEvtType     DataType = 1 << 0
	DataAddrType    DataType = 1 << 1
	DataAddr        DataType = 1 << 2
	DataFlags       DataType = 1 << 3
	DataName        DataType = 1 << 4
	DataNameShort   DataType = 1 << 5
	DataRSSI        DataType = 1 << 6
	DataTxPower     DataType = 1 << 7
	DataManufData   DataType = 1 << 8
	DataServices    DataType = 1 << 9
	DataServiceData DataType = 1 << 10
	DataSolicited   DataType = 1 << 11
	DataAppearance  DataType = 1 << 12
	DataConnectable DataType = 1 << 13
)

func (t DataType) Has(bit DataType) bool { return t&bit != 0 }

func (t DataType) String() string {
	names := []struct {
		bit  DataType
		name string
	}{
		{DataEvtType, "evt-type"},
		{DataAddrType, "addr-type"},
		{DataAddr, "addr"},
		{DataFlags, "flags"},
		{DataName, "name"},
		{DataNameShort, "name-short"},
		{DataRSSI, "rssi"},
		{DataTxPower, "tx-power"},
		{DataManufData, "manuf-data"},
		{DataServices, "services"},
		{DataServiceData, "service-data"},
		{DataSolicited, "solicited"},
		{DataAppearance, "appearance"},
		{DataConnectable, "connectable"},
	}
	var out []string
	for _, n := range names {
		if t.Has(n.bit) {
			out = append(out, n.name)
		}
	}
	if len(out) == 0 {
		return "[]"
	}
	return "[" + strings.Join(out, " ") + "]"
}

// Source tags which advertising variant a report was parsed from.
type Source uint8

const (
	SourceNone     Source = 0
	SourceAdvInd   Source = 1 // connectable undirected advertising
	SourceScanRsp  Source = 2 // scan response
	SourceAdvOther Source = 3 // non-connectable / directed variants
)

// ServiceData pairs a service UUID with its advertised payload.
type ServiceData struct {
	UUID bthost.UUID
	Data []byte
}

// Report is one parsed advertising payload. Set tracks which fields the
// payload actually carried; absent fields keep their zero values.
type Report struct {
	Set DataType

	Source      Source
	Peer        bthost.PeerID
	EvtType     uint8
	Flags       uint8
	Name        string
	NameIsShort bool
	RSSI        int8
	TxPower     int8
	ManufID     uint16
	ManufData   []byte
	Services    []bthost.UUID
	ServiceData []ServiceData
	Solicited   []bthost.UUID
	Appearance  uint16
	Connectable bool
}

// Merge folds a scan response into an advertising report, keeping the
// fields already set where the scan response is silent.
func (r *Report) Merge(sr *Report) {
	if sr == nil {
		return
	}
	if sr.Set.Has(DataName) && !r.Set.Has(DataName) || (sr.Set.Has(DataName) && r.NameIsShort && !sr.NameIsShort) {
		r.Name = sr.Name
		r.NameIsShort = sr.NameIsShort
		r.Set |= DataName
	}
	if sr.Set.Has(DataTxPower) && !r.Set.Has(DataTxPower) {
		r.TxPower = sr.TxPower
		r.Set |= DataTxPower
	}
	if sr.Set.Has(DataManufData) && !r.Set.Has(DataManufData) {
		r.ManufID = sr.ManufID
		r.ManufData = sr.ManufData
		r.Set |= DataManufData
	}
	r.Services = append(r.Services, sr.Services...)
	if len(sr.Services) > 0 {
		r.Set |= DataServices
	}
	r.ServiceData = append(r.ServiceData, sr.ServiceData...)
	if len(sr.ServiceData) > 0 {
		r.Set |= DataServiceData
	}
}

// Diff returns the mask of fields on which n differs from r, the changed
// set a DeviceUpdated event reports.
func (r *Report) Diff(n *Report) DataType {
	var d DataType
	if n.Set.Has(DataName) && n.Name != r.Name {
		d |= DataName
	}
	if n.Set.Has(DataRSSI) && n.RSSI != r.RSSI {
		d |= DataRSSI
	}
	if n.Set.Has(DataTxPower) && n.TxPower != r.TxPower {
		d |= DataTxPower
	}
	if n.Set.Has(DataManufData) && string(n.ManufData) != string(r.ManufData) {
		d |= DataManufData
	}
	if n.Set.Has(DataServices) && len(n.Services) != len(r.Services) {
		d |= DataServices
	}
	if n.Set.Has(DataFlags) && n.Flags != r.Flags {
		d |= DataFlags
	}
	return d
}

func (r *Report) String() string {
	return fmt.Sprintf("eir{%s name=%q rssi=%d set=%s}", r.Peer, r.Name, r.RSSI, r.Set)
}
