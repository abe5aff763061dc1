// Package txsubmission implements the tx-submission mini-protocol
// (channel 4). Unlike chain-sync and block-fetch, the side that holds
// agency in Idle is the *puller* (the node wanting transactions), not
// the node that produced them; this package names that side Initiator
// and the producing side Responder regardless of which end opened the
// TCP connection, matching the convention used by every other package
// in this module.
package txsubmission

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/ouroboros-go/relay/pkg/protocol"
)

const (
	LabelInit          uint64 = 0
	LabelRequestTxIds  uint64 = 1
	LabelRequestTxs    uint64 = 2
	LabelReplyTxIds    uint64 = 3
	LabelReplyTxs      uint64 = 4
	LabelDone          uint64 = 5
)

// TxID is an era-tagged transaction identifier: `[era, idBytes]`.
type TxID struct {
	Era   uint64
	Bytes []byte
}

func (t TxID) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([]interface{}{t.Era, t.Bytes})
}

func (t *TxID) UnmarshalCBOR(data []byte) error {
	var fields []cbor.RawMessage
	if err := cbor.Unmarshal(data, &fields); err != nil {
		return err
	}
	if len(fields) != 2 {
		return fmt.Errorf("txsubmission: tx id wants 2 fields, got %d", len(fields))
	}
	if err := cbor.Unmarshal(fields[0], &t.Era); err != nil {
		return err
	}
	return cbor.Unmarshal(fields[1], &t.Bytes)
}

// TxBody is an era-tagged transaction body, with the body itself
// wrapped in the #6.24 encoded-CBOR tag: `[era, #6.24(bytes)]`.
type TxBody struct {
	Era  uint64
	Body []byte
}

func (b TxBody) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([]interface{}{b.Era, protocol.EncodedCBOR{Bytes: b.Body}})
}

func (b *TxBody) UnmarshalCBOR(data []byte) error {
	var fields []cbor.RawMessage
	if err := cbor.Unmarshal(data, &fields); err != nil {
		return err
	}
	if len(fields) != 2 {
		return fmt.Errorf("txsubmission: tx body wants 2 fields, got %d", len(fields))
	}
	if err := cbor.Unmarshal(fields[0], &b.Era); err != nil {
		return err
	}
	var enc protocol.EncodedCBOR
	if err := enc.UnmarshalCBOR(fields[1]); err != nil {
		return err
	}
	b.Body = enc.Bytes
	return nil
}

// TxIDAndSize pairs an id with its body's on-wire size in bytes.
type TxIDAndSize struct {
	ID   TxID
	Size uint32
}

// Init hands agency to the puller; sent once by the producing side.
type Init struct{}

func (m *Init) Label() uint64                  { return LabelInit }
func (m *Init) MarshalCBOR() ([]byte, error)   { return cbor.Marshal([]interface{}{LabelInit}) }
func (m *Init) UnmarshalCBOR(data []byte) error { _, err := fieldsWithLabel(data, LabelInit, 1); return err }

// RequestTxIds asks for up to Req new ids, acknowledging Ack
// previously advertised ids as now settled. Blocking selects whether
// the producer may withhold a reply until it has at least one id (or
// answer Done if it never will).
type RequestTxIds struct {
	Blocking bool
	Ack      uint16
	Req      uint16
}

func (m *RequestTxIds) Label() uint64 { return LabelRequestTxIds }
func (m *RequestTxIds) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([]interface{}{LabelRequestTxIds, m.Blocking, m.Ack, m.Req})
}
func (m *RequestTxIds) UnmarshalCBOR(data []byte) error {
	fields, err := fieldsWithLabel(data, LabelRequestTxIds, 4)
	if err != nil {
		return err
	}
	if err := cbor.Unmarshal(fields[1], &m.Blocking); err != nil {
		return err
	}
	if err := cbor.Unmarshal(fields[2], &m.Ack); err != nil {
		return err
	}
	return cbor.Unmarshal(fields[3], &m.Req)
}

// RequestTxs asks for the bodies of the listed ids.
type RequestTxs struct {
	IDs []TxID
}

func (m *RequestTxs) Label() uint64 { return LabelRequestTxs }
func (m *RequestTxs) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([]interface{}{LabelRequestTxs, m.IDs})
}
func (m *RequestTxs) UnmarshalCBOR(data []byte) error {
	fields, err := fieldsWithLabel(data, LabelRequestTxs, 2)
	if err != nil {
		return err
	}
	return cbor.Unmarshal(fields[1], &m.IDs)
}

// ReplyTxIds answers a RequestTxIds with newly advertised ids.
type ReplyTxIds struct {
	Items []TxIDAndSize
}

func (m *ReplyTxIds) Label() uint64 { return LabelReplyTxIds }
func (m *ReplyTxIds) MarshalCBOR() ([]byte, error) {
	enc := make([][]interface{}, len(m.Items))
	for i, it := range m.Items {
		enc[i] = []interface{}{it.ID, it.Size}
	}
	return cbor.Marshal([]interface{}{LabelReplyTxIds, enc})
}
func (m *ReplyTxIds) UnmarshalCBOR(data []byte) error {
	fields, err := fieldsWithLabel(data, LabelReplyTxIds, 2)
	if err != nil {
		return err
	}
	var raw []cbor.RawMessage
	if err := cbor.Unmarshal(fields[1], &raw); err != nil {
		return err
	}
	items := make([]TxIDAndSize, len(raw))
	for i, r := range raw {
		var pair []cbor.RawMessage
		if err := cbor.Unmarshal(r, &pair); err != nil {
			return err
		}
		if len(pair) != 2 {
			return fmt.Errorf("txsubmission: tx id/size pair wants 2 fields, got %d", len(pair))
		}
		if err := cbor.Unmarshal(pair[0], &items[i].ID); err != nil {
			return err
		}
		if err := cbor.Unmarshal(pair[1], &items[i].Size); err != nil {
			return err
		}
	}
	m.Items = items
	return nil
}

// ReplyTxs answers a RequestTxs with the requested bodies, in the
// order asked.
type ReplyTxs struct {
	Bodies []TxBody
}

func (m *ReplyTxs) Label() uint64 { return LabelReplyTxs }
func (m *ReplyTxs) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([]interface{}{LabelReplyTxs, m.Bodies})
}
func (m *ReplyTxs) UnmarshalCBOR(data []byte) error {
	fields, err := fieldsWithLabel(data, LabelReplyTxs, 2)
	if err != nil {
		return err
	}
	return cbor.Unmarshal(fields[1], &m.Bodies)
}

// Done terminates the mini-protocol; only legal while blocking.
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
		return nil, fmt.Errorf("txsubmission: wants %d fields, got %d", wantLen, len(fields))
	}
	var label uint64
	if err := cbor.Unmarshal(fields[0], &label); err != nil {
		return nil, err
	}
	if label != wantLabel {
		return nil, fmt.Errorf("txsubmission: wants label %d, got %d", wantLabel, label)
	}
	return fields, nil
}

// NewDecoder returns a protocol.Decoder for tx-submission messages.
func NewDecoder() protocol.Decoder {
	return protocol.Decoder{New: func(label uint64) protocol.Message {
		switch label {
		case LabelInit:
			return &Init{}
		case LabelRequestTxIds:
			return &RequestTxIds{}
		case LabelRequestTxs:
			return &RequestTxs{}
		case LabelReplyTxIds:
			return &ReplyTxIds{}
		case LabelReplyTxs:
			return &ReplyTxs{}
		case LabelDone:
			return &Done{}
		default:
			return nil
		}
	}}
}
