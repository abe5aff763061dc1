// Package blockfetch implements the block-fetch mini-protocol
// (channel 3): range-based block body retrieval.
package blockfetch

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/ouroboros-go/relay/pkg/protocol"
)

// Message wire labels.
const (
	LabelRequestRange uint64 = 0
	LabelClientDone   uint64 = 1
	LabelStartBatch   uint64 = 2
	LabelNoBlocks     uint64 = 3
	LabelBlock        uint64 = 4
	LabelBatchDone    uint64 = 5
)

// Range is an inclusive (start, end) point pair.
type Range struct {
	Start protocol.Point
	End   protocol.Point
}

// RequestRange asks the server for every block in [Range.Start, Range.End].
type RequestRange struct {
	Range Range
}

func (m *RequestRange) Label() uint64 { return LabelRequestRange }
func (m *RequestRange) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([]interface{}{LabelRequestRange, m.Range.Start, m.Range.End})
}
func (m *RequestRange) UnmarshalCBOR(data []byte) error {
	fields, err := fieldsWithLabel(data, LabelRequestRange, 3)
	if err != nil {
		return err
	}
	if err := cbor.Unmarshal(fields[1], &m.Range.Start); err != nil {
		return err
	}
	return cbor.Unmarshal(fields[2], &m.Range.End)
}

// ClientDone terminates the mini-protocol.
type ClientDone struct{}

func (m *ClientDone) Label() uint64 { return LabelClientDone }
func (m *ClientDone) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([]interface{}{LabelClientDone})
}
func (m *ClientDone) UnmarshalCBOR(data []byte) error {
	_, err := fieldsWithLabel(data, LabelClientDone, 1)
	return err
}

// StartBatch announces the beginning of a non-empty block stream.
type StartBatch struct{}

func (m *StartBatch) Label() uint64 { return LabelStartBatch }
func (m *StartBatch) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([]interface{}{LabelStartBatch})
}
func (m *StartBatch) UnmarshalCBOR(data []byte) error {
	_, err := fieldsWithLabel(data, LabelStartBatch, 1)
	return err
}

// NoBlocks reports that the requested range contains nothing the
// server has.
type NoBlocks struct{}

func (m *NoBlocks) Label() uint64 { return LabelNoBlocks }
func (m *NoBlocks) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([]interface{}{LabelNoBlocks})
}
func (m *NoBlocks) UnmarshalCBOR(data []byte) error {
	_, err := fieldsWithLabel(data, LabelNoBlocks, 1)
	return err
}

// Block carries one opaque block body, wrapped in the #6.24
// encoded-CBOR tag per spec.md §6.
type Block struct {
	Body []byte
}

func (m *Block) Label() uint64 { return LabelBlock }
func (m *Block) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([]interface{}{LabelBlock, protocol.EncodedCBOR{Bytes: m.Body}})
}
func (m *Block) UnmarshalCBOR(data []byte) error {
	fields, err := fieldsWithLabel(data, LabelBlock, 2)
	if err != nil {
		return err
	}
	var enc protocol.EncodedCBOR
	if err := enc.UnmarshalCBOR(fields[1]); err != nil {
		return err
	}
	m.Body = enc.Bytes
	return nil
}

// BatchDone closes out a block stream.
type BatchDone struct{}

func (m *BatchDone) Label() uint64 { return LabelBatchDone }
func (m *BatchDone) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([]interface{}{LabelBatchDone})
}
func (m *BatchDone) UnmarshalCBOR(data []byte) error {
	_, err := fieldsWithLabel(data, LabelBatchDone, 1)
	return err
}

func fieldsWithLabel(data []byte, wantLabel uint64, wantLen int) ([]cbor.RawMessage, error) {
	var fields []cbor.RawMessage
	if err := cbor.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	if len(fields) != wantLen {
		return nil, fmt.Errorf("blockfetch: wants %d fields, got %d", wantLen, len(fields))
	}
	var label uint64
	if err := cbor.Unmarshal(fields[0], &label); err != nil {
		return nil, err
	}
	if label != wantLabel {
		return nil, fmt.Errorf("blockfetch: wants label %d, got %d", wantLabel, label)
	}
	return fields, nil
}

// NewDecoder returns a protocol.Decoder for block-fetch messages.
func NewDecoder() protocol.Decoder {
	return protocol.Decoder{New: func(label uint64) protocol.Message {
		switch label {
		case LabelRequestRange:
			return &RequestRange{}
		case LabelClientDone:
			return &ClientDone{}
		case LabelStartBatch:
			return &StartBatch{}
		case LabelNoBlocks:
			return &NoBlocks{}
		case LabelBlock:
			return &Block{}
		case LabelBatchDone:
			return &BatchDone{}
		default:
			return nil
		}
	}}
}
