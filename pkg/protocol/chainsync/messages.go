// Package chainsync implements the chain-sync mini-protocol (channel 2
// for N2N headers, 5 for N2C blocks): intersection finding and
// roll-forward/roll-backward streaming of chain content.
package chainsync

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/ouroboros-go/relay/pkg/protocol"
)

// Message wire labels.
const (
	LabelRequestNext       uint64 = 0
	LabelAwaitReply        uint64 = 1
	LabelRollForward       uint64 = 2
	LabelRollBackward      uint64 = 3
	LabelFindIntersect     uint64 = 4
	LabelIntersectFound    uint64 = 5
	LabelIntersectNotFound uint64 = 6
	LabelDone              uint64 = 7
)

// Byron is the era tag for Byron-era headers, which carry an extra
// (subtag, value) pair instead of an encoded-CBOR byte string.
const Byron uint64 = 0

// HeaderContent is an era-tagged chain-sync header payload. Byron
// headers carry ByronSubTag alongside HeaderBytes; Shelley-and-later
// headers wrap HeaderBytes in a #6.24 encoded-CBOR tag.
type HeaderContent struct {
	Era         uint64
	ByronSubTag uint64
	HeaderBytes []byte
}

// MarshalCBOR encodes `[era, byronPair|encodedCBOR]`.
func (h HeaderContent) MarshalCBOR() ([]byte, error) {
	if h.Era == Byron {
		return cbor.Marshal([]interface{}{h.Era, []interface{}{h.ByronSubTag, h.HeaderBytes}})
	}
	return cbor.Marshal([]interface{}{h.Era, protocol.EncodedCBOR{Bytes: h.HeaderBytes}})
}

// UnmarshalCBOR decodes an era-tagged header content.
func (h *HeaderContent) UnmarshalCBOR(data []byte) error {
	var fields []cbor.RawMessage
	if err := cbor.Unmarshal(data, &fields); err != nil {
		return err
	}
	if len(fields) != 2 {
		return fmt.Errorf("chainsync: header content wants 2 fields, got %d", len(fields))
	}
	if err := cbor.Unmarshal(fields[0], &h.Era); err != nil {
		return err
	}
	if h.Era == Byron {
		var inner []cbor.RawMessage
		if err := cbor.Unmarshal(fields[1], &inner); err != nil {
			return err
		}
		if len(inner) != 2 {
			return fmt.Errorf("chainsync: byron header wants (subtag, value)")
		}
		if err := cbor.Unmarshal(inner[0], &h.ByronSubTag); err != nil {
			return err
		}
		return cbor.Unmarshal(inner[1], &h.HeaderBytes)
	}
	var enc protocol.EncodedCBOR
	if err := enc.UnmarshalCBOR(fields[1]); err != nil {
		return err
	}
	h.HeaderBytes = enc.Bytes
	return nil
}

// RequestNext asks the server for the next chain update.
type RequestNext struct{}

func (m *RequestNext) Label() uint64 { return LabelRequestNext }
func (m *RequestNext) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([]interface{}{LabelRequestNext})
}
func (m *RequestNext) UnmarshalCBOR(data []byte) error {
	return expectLabelOnly(data, LabelRequestNext, "RequestNext")
}

// AwaitReply tells the client the server has nothing new yet and will
// reply once it does.
type AwaitReply struct{}

func (m *AwaitReply) Label() uint64 { return LabelAwaitReply }
func (m *AwaitReply) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([]interface{}{LabelAwaitReply})
}
func (m *AwaitReply) UnmarshalCBOR(data []byte) error {
	return expectLabelOnly(data, LabelAwaitReply, "AwaitReply")
}

// RollForward delivers the next header/block content plus the
// server's current tip.
type RollForward struct {
	Content HeaderContent
	Tip     protocol.Tip
}

func (m *RollForward) Label() uint64 { return LabelRollForward }
func (m *RollForward) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([]interface{}{LabelRollForward, m.Content, m.Tip})
}
func (m *RollForward) UnmarshalCBOR(data []byte) error {
	fields, err := fieldsWithLabel(data, LabelRollForward, 3)
	if err != nil {
		return err
	}
	if err := cbor.Unmarshal(fields[1], &m.Content); err != nil {
		return err
	}
	return cbor.Unmarshal(fields[2], &m.Tip)
}

// RollBackward instructs the client to roll back to point, alongside
// the server's current tip.
type RollBackward struct {
	Point protocol.Point
	Tip   protocol.Tip
}

func (m *RollBackward) Label() uint64 { return LabelRollBackward }
func (m *RollBackward) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([]interface{}{LabelRollBackward, m.Point, m.Tip})
}
func (m *RollBackward) UnmarshalCBOR(data []byte) error {
	fields, err := fieldsWithLabel(data, LabelRollBackward, 3)
	if err != nil {
		return err
	}
	if err := cbor.Unmarshal(fields[1], &m.Point); err != nil {
		return err
	}
	return cbor.Unmarshal(fields[2], &m.Tip)
}

// FindIntersect asks the server to locate the best of the given
// candidate points on its chain, ordered best-known first.
type FindIntersect struct {
	Points []protocol.Point
}

func (m *FindIntersect) Label() uint64 { return LabelFindIntersect }
func (m *FindIntersect) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([]interface{}{LabelFindIntersect, m.Points})
}
func (m *FindIntersect) UnmarshalCBOR(data []byte) error {
	fields, err := fieldsWithLabel(data, LabelFindIntersect, 2)
	if err != nil {
		return err
	}
	return cbor.Unmarshal(fields[1], &m.Points)
}

// IntersectFound reports the intersection point the server picked.
type IntersectFound struct {
	Point protocol.Point
	Tip   protocol.Tip
}

func (m *IntersectFound) Label() uint64 { return LabelIntersectFound }
func (m *IntersectFound) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([]interface{}{LabelIntersectFound, m.Point, m.Tip})
}
func (m *IntersectFound) UnmarshalCBOR(data []byte) error {
	fields, err := fieldsWithLabel(data, LabelIntersectFound, 3)
	if err != nil {
		return err
	}
	if err := cbor.Unmarshal(fields[1], &m.Point); err != nil {
		return err
	}
	return cbor.Unmarshal(fields[2], &m.Tip)
}

// IntersectNotFound reports that none of the client's candidates exist
// on the server's chain.
type IntersectNotFound struct {
	Tip protocol.Tip
}

func (m *IntersectNotFound) Label() uint64 { return LabelIntersectNotFound }
func (m *IntersectNotFound) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([]interface{}{LabelIntersectNotFound, m.Tip})
}
func (m *IntersectNotFound) UnmarshalCBOR(data []byte) error {
	fields, err := fieldsWithLabel(data, LabelIntersectNotFound, 2)
	if err != nil {
		return err
	}
	return cbor.Unmarshal(fields[1], &m.Tip)
}

// Done terminates the mini-protocol.
type Done struct{}

func (m *Done) Label() uint64 { return LabelDone }
func (m *Done) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([]interface{}{LabelDone})
}
func (m *Done) UnmarshalCBOR(data []byte) error {
	return expectLabelOnly(data, LabelDone, "Done")
}

func expectLabelOnly(data []byte, label uint64, name string) error {
	fields, err := fieldsWithLabel(data, label, 1)
	_ = fields
	if err != nil {
		return fmt.Errorf("chainsync: %s: %w", name, err)
	}
	return nil
}

func fieldsWithLabel(data []byte, wantLabel uint64, wantLen int) ([]cbor.RawMessage, error) {
	var fields []cbor.RawMessage
	if err := cbor.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	if len(fields) != wantLen {
		return nil, fmt.Errorf("wants %d fields, got %d", wantLen, len(fields))
	}
	var label uint64
	if err := cbor.Unmarshal(fields[0], &label); err != nil {
		return nil, err
	}
	if label != wantLabel {
		return nil, fmt.Errorf("wants label %d, got %d", wantLabel, label)
	}
	return fields, nil
}

// NewDecoder returns a protocol.Decoder able to construct zero values
// of every chain-sync message by label.
func NewDecoder() protocol.Decoder {
	return protocol.Decoder{New: func(label uint64) protocol.Message {
		switch label {
		case LabelRequestNext:
			return &RequestNext{}
		case LabelAwaitReply:
			return &AwaitReply{}
		case LabelRollForward:
			return &RollForward{}
		case LabelRollBackward:
			return &RollBackward{}
		case LabelFindIntersect:
			return &FindIntersect{}
		case LabelIntersectFound:
			return &IntersectFound{}
		case LabelIntersectNotFound:
			return &IntersectNotFound{}
		case LabelDone:
			return &Done{}
		default:
			return nil
		}
	}}
}
