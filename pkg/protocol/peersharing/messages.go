// Package peersharing implements the peer-sharing mini-protocol
// (channel 10, protocol version 11+): gossip of peer addresses.
package peersharing

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/ouroboros-go/relay/pkg/protocol"
)

const (
	LabelShareRequest uint64 = 0
	LabelSharePeers   uint64 = 1
	LabelDone         uint64 = 2
)

// ShareRequest asks the peer for up to Amount gossiped addresses.
type ShareRequest struct {
	Amount uint8
}

func (m *ShareRequest) Label() uint64 { return LabelShareRequest }
func (m *ShareRequest) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([]interface{}{LabelShareRequest, m.Amount})
}
func (m *ShareRequest) UnmarshalCBOR(data []byte) error {
	fields, err := fieldsWithLabel(data, LabelShareRequest, 2)
	if err != nil {
		return err
	}
	return cbor.Unmarshal(fields[1], &m.Amount)
}

// SharePeers answers a ShareRequest. An empty list is a valid answer.
type SharePeers struct {
	Addresses []protocol.PeerAddress
}

func (m *SharePeers) Label() uint64 { return LabelSharePeers }
func (m *SharePeers) MarshalCBOR() ([]byte, error) {
	addrs := m.Addresses
	if addrs == nil {
		addrs = []protocol.PeerAddress{}
	}
	return cbor.Marshal([]interface{}{LabelSharePeers, addrs})
}
func (m *SharePeers) UnmarshalCBOR(data []byte) error {
	fields, err := fieldsWithLabel(data, LabelSharePeers, 2)
	if err != nil {
		return err
	}
	var addrs []protocol.PeerAddress
	if err := cbor.Unmarshal(fields[1], &addrs); err != nil {
		return err
	}
	m.Addresses = addrs
	return nil
}

// Done terminates the mini-protocol.
type Done struct{}

func (m *Done) Label() uint64                  { return LabelDone }
func (m *Done) MarshalCBOR() ([]byte, error)   { return cbor.Marshal([]interface{}{LabelDone}) }
func (m *Done) UnmarshalCBOR(data []byte) error { _, err := fieldsWithLabel(data, LabelDone, 1); return err }

func fieldsWithLabel(data []byte, wantLabel uint64, wantLen int) ([]cbor.RawMessage, error) {
	var fields []cbor.RawMessage
	if err := cbor.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	if len(fields) != wantLen {
		return nil, fmt.Errorf("peersharing: wants %d fields, got %d", wantLen, len(fields))
	}
	var label uint64
	if err := cbor.Unmarshal(fields[0], &label); err != nil {
		return nil, err
	}
	if label != wantLabel {
		return nil, fmt.Errorf("peersharing: wants label %d, got %d", wantLabel, label)
	}
	return fields, nil
}

// NewDecoder returns a protocol.Decoder for peer-sharing messages.
func NewDecoder() protocol.Decoder {
	return protocol.Decoder{New: func(label uint64) protocol.Message {
		switch label {
		case LabelShareRequest:
			return &ShareRequest{}
		case LabelSharePeers:
			return &SharePeers{}
		case LabelDone:
			return &Done{}
		default:
			return nil
		}
	}}
}
