// Package localtxmonitor implements the local-tx-monitor mini-protocol
// (channel 9): a read-only window onto the node's mempool.
package localtxmonitor

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/ouroboros-go/relay/pkg/protocol"
)

const (
	LabelAcquire        uint64 = 0
	LabelAcquired       uint64 = 1
	LabelNextTx         uint64 = 2
	LabelReplyNextTx    uint64 = 3
	LabelHasTx          uint64 = 4
	LabelReplyHasTx     uint64 = 5
	LabelGetSizes       uint64 = 6
	LabelReplyGetSizes  uint64 = 7
	LabelRelease        uint64 = 8
	LabelDone           uint64 = 9
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
		return fmt.Errorf("localtxmonitor: era tx wants 2 fields, got %d", len(fields))
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

// Acquire snapshots the current mempool for the duration of the
// acquisition.
type Acquire struct{}

func (m *Acquire) Label() uint64                  { return LabelAcquire }
func (m *Acquire) MarshalCBOR() ([]byte, error)   { return cbor.Marshal([]interface{}{LabelAcquire}) }
func (m *Acquire) UnmarshalCBOR(data []byte) error { _, err := fieldsWithLabel(data, LabelAcquire, 1); return err }

// Acquired confirms the snapshot, reporting the slot it was taken at.
type Acquired struct {
	Slot uint64
}

func (m *Acquired) Label() uint64 { return LabelAcquired }
func (m *Acquired) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([]interface{}{LabelAcquired, m.Slot})
}
func (m *Acquired) UnmarshalCBOR(data []byte) error {
	fields, err := fieldsWithLabel(data, LabelAcquired, 2)
	if err != nil {
		return err
	}
	return cbor.Unmarshal(fields[1], &m.Slot)
}

// NextTx asks for the next transaction in mempool order not yet seen
// by this acquisition.
type NextTx struct{}

func (m *NextTx) Label() uint64                  { return LabelNextTx }
func (m *NextTx) MarshalCBOR() ([]byte, error)   { return cbor.Marshal([]interface{}{LabelNextTx}) }
func (m *NextTx) UnmarshalCBOR(data []byte) error { _, err := fieldsWithLabel(data, LabelNextTx, 1); return err }

// ReplyNextTx answers NextTx; Tx is nil once the mempool is exhausted.
type ReplyNextTx struct {
	Tx *EraTx
}

func (m *ReplyNextTx) Label() uint64 { return LabelReplyNextTx }
func (m *ReplyNextTx) MarshalCBOR() ([]byte, error) {
	if m.Tx == nil {
		return cbor.Marshal([]interface{}{LabelReplyNextTx})
	}
	return cbor.Marshal([]interface{}{LabelReplyNextTx, *m.Tx})
}
func (m *ReplyNextTx) UnmarshalCBOR(data []byte) error {
	var fields []cbor.RawMessage
	if err := cbor.Unmarshal(data, &fields); err != nil {
		return err
	}
	if len(fields) < 1 || len(fields) > 2 {
		return fmt.Errorf("localtxmonitor: reply-next-tx wants 1 or 2 fields, got %d", len(fields))
	}
	var label uint64
	if err := cbor.Unmarshal(fields[0], &label); err != nil {
		return err
	}
	if label != LabelReplyNextTx {
		return fmt.Errorf("localtxmonitor: wants label %d, got %d", LabelReplyNextTx, label)
	}
	if len(fields) == 1 {
		m.Tx = nil
		return nil
	}
	var tx EraTx
	if err := cbor.Unmarshal(fields[1], &tx); err != nil {
		return err
	}
	m.Tx = &tx
	return nil
}

// HasTx asks whether a specific era-tagged id is present in the
// acquired mempool snapshot.
type HasTx struct {
	Era uint64
	ID  []byte
}

func (m *HasTx) Label() uint64 { return LabelHasTx }
func (m *HasTx) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([]interface{}{LabelHasTx, m.Era, m.ID})
}
func (m *HasTx) UnmarshalCBOR(data []byte) error {
	fields, err := fieldsWithLabel(data, LabelHasTx, 3)
	if err != nil {
		return err
	}
	if err := cbor.Unmarshal(fields[1], &m.Era); err != nil {
		return err
	}
	return cbor.Unmarshal(fields[2], &m.ID)
}

// ReplyHasTx answers HasTx.
type ReplyHasTx struct {
	Present bool
}

func (m *ReplyHasTx) Label() uint64 { return LabelReplyHasTx }
func (m *ReplyHasTx) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([]interface{}{LabelReplyHasTx, m.Present})
}
func (m *ReplyHasTx) UnmarshalCBOR(data []byte) error {
	fields, err := fieldsWithLabel(data, LabelReplyHasTx, 2)
	if err != nil {
		return err
	}
	return cbor.Unmarshal(fields[1], &m.Present)
}

// GetSizes asks for current mempool capacity statistics.
type GetSizes struct{}

func (m *GetSizes) Label() uint64                  { return LabelGetSizes }
func (m *GetSizes) MarshalCBOR() ([]byte, error)   { return cbor.Marshal([]interface{}{LabelGetSizes}) }
func (m *GetSizes) UnmarshalCBOR(data []byte) error { _, err := fieldsWithLabel(data, LabelGetSizes, 1); return err }

// ReplyGetSizes answers GetSizes.
type ReplyGetSizes struct {
	Capacity    uint32
	CurrentSize uint32
	NumberOfTxs uint32
}

func (m *ReplyGetSizes) Label() uint64 { return LabelReplyGetSizes }
func (m *ReplyGetSizes) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([]interface{}{LabelReplyGetSizes, m.Capacity, m.CurrentSize, m.NumberOfTxs})
}
func (m *ReplyGetSizes) UnmarshalCBOR(data []byte) error {
	fields, err := fieldsWithLabel(data, LabelReplyGetSizes, 4)
	if err != nil {
		return err
	}
	if err := cbor.Unmarshal(fields[1], &m.Capacity); err != nil {
		return err
	}
	if err := cbor.Unmarshal(fields[2], &m.CurrentSize); err != nil {
		return err
	}
	return cbor.Unmarshal(fields[3], &m.NumberOfTxs)
}

// Release gives up the mempool snapshot.
type Release struct{}

func (m *Release) Label() uint64                  { return LabelRelease }
func (m *Release) MarshalCBOR() ([]byte, error)   { return cbor.Marshal([]interface{}{LabelRelease}) }
func (m *Release) UnmarshalCBOR(data []byte) error { _, err := fieldsWithLabel(data, LabelRelease, 1); return err }

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
		return nil, fmt.Errorf("localtxmonitor: wants %d fields, got %d", wantLen, len(fields))
	}
	var label uint64
	if err := cbor.Unmarshal(fields[0], &label); err != nil {
		return nil, err
	}
	if label != wantLabel {
		return nil, fmt.Errorf("localtxmonitor: wants label %d, got %d", wantLabel, label)
	}
	return fields, nil
}

// NewDecoder returns a protocol.Decoder for local-tx-monitor messages.
func NewDecoder() protocol.Decoder {
	return protocol.Decoder{New: func(label uint64) protocol.Message {
		switch label {
		case LabelAcquire:
			return &Acquire{}
		case LabelAcquired:
			return &Acquired{}
		case LabelNextTx:
			return &NextTx{}
		case LabelReplyNextTx:
			return &ReplyNextTx{}
		case LabelHasTx:
			return &HasTx{}
		case LabelReplyHasTx:
			return &ReplyHasTx{}
		case LabelGetSizes:
			return &GetSizes{}
		case LabelReplyGetSizes:
			return &ReplyGetSizes{}
		case LabelRelease:
			return &Release{}
		case LabelDone:
			return &Done{}
		default:
			return nil
		}
	}}
}
