// Package keepalive implements the keep-alive mini-protocol
// (channel 8): a two-message cookie ping/pong used to detect dead
// connections between periods of otherwise idle traffic.
package keepalive

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/ouroboros-go/relay/pkg/protocol"
)

const (
	LabelKeepAlive         uint64 = 0
	LabelResponseKeepAlive uint64 = 1
	LabelDone              uint64 = 2
)

// Cookie is an opaque 16-bit value echoed back by the responder.
type Cookie uint16

// KeepAlive is sent by the client at least every 20 seconds.
type KeepAlive struct {
	Cookie Cookie
}

func (m *KeepAlive) Label() uint64 { return LabelKeepAlive }
func (m *KeepAlive) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([]interface{}{LabelKeepAlive, m.Cookie})
}
func (m *KeepAlive) UnmarshalCBOR(data []byte) error {
	fields, err := fieldsWithLabel(data, LabelKeepAlive, 2)
	if err != nil {
		return err
	}
	return cbor.Unmarshal(fields[1], &m.Cookie)
}

// ResponseKeepAlive echoes the cookie from the most recent KeepAlive.
type ResponseKeepAlive struct {
	Cookie Cookie
}

func (m *ResponseKeepAlive) Label() uint64 { return LabelResponseKeepAlive }
func (m *ResponseKeepAlive) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([]interface{}{LabelResponseKeepAlive, m.Cookie})
}
func (m *ResponseKeepAlive) UnmarshalCBOR(data []byte) error {
	fields, err := fieldsWithLabel(data, LabelResponseKeepAlive, 2)
	if err != nil {
		return err
	}
	return cbor.Unmarshal(fields[1], &m.Cookie)
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
		return nil, fmt.Errorf("keepalive: wants %d fields, got %d", wantLen, len(fields))
	}
	var label uint64
	if err := cbor.Unmarshal(fields[0], &label); err != nil {
		return nil, err
	}
	if label != wantLabel {
		return nil, fmt.Errorf("keepalive: wants label %d, got %d", wantLabel, label)
	}
	return fields, nil
}

// NewDecoder returns a protocol.Decoder for keep-alive messages.
func NewDecoder() protocol.Decoder {
	return protocol.Decoder{New: func(label uint64) protocol.Message {
		switch label {
		case LabelKeepAlive:
			return &KeepAlive{}
		case LabelResponseKeepAlive:
			return &ResponseKeepAlive{}
		case LabelDone:
			return &Done{}
		default:
			return nil
		}
	}}
}
