// Package localtxsubmission implements the local-tx-submission
// mini-protocol (channel 6): a client submits a single era-tagged
// transaction over the node-to-client socket and gets an accept or
// reject decision back.
package localtxsubmission

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/ouroboros-go/relay/pkg/protocol"
)

const (
	LabelSubmitTx uint64 = 0
	LabelAcceptTx uint64 = 1
	LabelRejectTx uint64 = 2
	LabelDone     uint64 = 3
)

// EraTx is an era-tagged transaction body, wrapped in the #6.24
// encoded-CBOR tag.
type EraTx struct {
	Era  uint64
	Body []byte
}

func (t EraTx) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([]interface{}{t.Era, protocol.EncodedCBOR{Bytes: t.Body}})
}

func (t *EraTx) UnmarshalCBOR(data []byte) error {
	var fields []cbor.RawMessage
	if err := cbor.Unmarshal(data, &fields); err != nil {
		return err
	}
	if len(fields) != 2 {
		return fmt.Errorf("localtxsubmission: era tx wants 2 fields, got %d", len(fields))
	}
	if err := cbor.Unmarshal(fields[0], &t.Era); err != nil {
		return err
	}
	var enc protocol.EncodedCBOR
	if err := enc.UnmarshalCBOR(fields[1]); err != nil {
		return err
	}
	t.Body = enc.Bytes
	return nil
}

// SubmitTx submits one transaction for mempool admission.
type SubmitTx struct {
	Tx EraTx
}

func (m *SubmitTx) Label() uint64 { return LabelSubmitTx }
func (m *SubmitTx) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([]interface{}{LabelSubmitTx, m.Tx})
}
func (m *SubmitTx) UnmarshalCBOR(data []byte) error {
	fields, err := fieldsWithLabel(data, LabelSubmitTx, 2)
	if err != nil {
		return err
	}
	return cbor.Unmarshal(fields[1], &m.Tx)
}

// AcceptTx reports that the submitted transaction was admitted.
type AcceptTx struct{}

func (m *AcceptTx) Label() uint64                  { return LabelAcceptTx }
func (m *AcceptTx) MarshalCBOR() ([]byte, error)   { return cbor.Marshal([]interface{}{LabelAcceptTx}) }
func (m *AcceptTx) UnmarshalCBOR(data []byte) error { _, err := fieldsWithLabel(data, LabelAcceptTx, 1); return err }

// RejectTx reports that the submitted transaction was refused, with
// an opaque era-tagged validation-error CBOR payload.
type RejectTx struct {
	Era    uint64
	Reason []byte
}

func (m *RejectTx) Label() uint64 { return LabelRejectTx }
func (m *RejectTx) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([]interface{}{LabelRejectTx, m.Era, protocol.EncodedCBOR{Bytes: m.Reason}})
}
func (m *RejectTx) UnmarshalCBOR(data []byte) error {
	fields, err := fieldsWithLabel(data, LabelRejectTx, 3)
	if err != nil {
		return err
	}
	if err := cbor.Unmarshal(fields[1], &m.Era); err != nil {
		return err
	}
	var enc protocol.EncodedCBOR
	if err := enc.UnmarshalCBOR(fields[2]); err != nil {
		return err
	}
	m.Reason = enc.Bytes
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
		return nil, fmt.Errorf("localtxsubmission: wants %d fields, got %d", wantLen, len(fields))
	}
	var label uint64
	if err := cbor.Unmarshal(fields[0], &label); err != nil {
		return nil, err
	}
	if label != wantLabel {
		return nil, fmt.Errorf("localtxsubmission: wants label %d, got %d", wantLabel, label)
	}
	return fields, nil
}

// NewDecoder returns a protocol.Decoder for local-tx-submission messages.
func NewDecoder() protocol.Decoder {
	return protocol.Decoder{New: func(label uint64) protocol.Message {
		switch label {
		case LabelSubmitTx:
			return &SubmitTx{}
		case LabelAcceptTx:
			return &AcceptTx{}
		case LabelRejectTx:
			return &RejectTx{}
		case LabelDone:
			return &Done{}
		default:
			return nil
		}
	}}
}
