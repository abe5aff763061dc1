// Package localstatequery implements the local-state-query
// mini-protocol (channel 7): point-in-time ledger queries against a
// node over its local (node-to-client) socket.
package localstatequery

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/ouroboros-go/relay/pkg/protocol"
)

const (
	LabelAcquire    uint64 = 0
	LabelAcquired   uint64 = 1
	LabelFailure    uint64 = 2
	LabelQuery      uint64 = 3
	LabelResult     uint64 = 4
	LabelReAcquire  uint64 = 5
	LabelRelease    uint64 = 6
	LabelDone       uint64 = 7
)

// FailureReason is why an Acquire/ReAcquire could not be satisfied.
type FailureReason uint64

const (
	PointTooOld FailureReason = iota
	PointNotOnChain
)

// QueryKind discriminates the top-level query types.
type QueryKind uint64

const (
	QueryGetSystemStart QueryKind = iota
	QueryGetChainBlockNo
	QueryGetChainPoint
	QueryLedgerQuery
)

// LedgerQueryKind discriminates the two shapes a LedgerQuery body can
// take; the era/body pair is otherwise an opaque CBOR subtree whose
// decoder is chosen by the caller based on Era.
type LedgerQueryKind uint64

const (
	LedgerQueryBlock LedgerQueryKind = iota
	LedgerQueryHardFork
)

// Query is a top-level local-state-query request. Only the fields
// relevant to Kind are meaningful.
type Query struct {
	Kind            QueryKind
	LedgerQueryKind LedgerQueryKind
	Era             uint64
	Body            []byte
}

func (q Query) MarshalCBOR() ([]byte, error) {
	switch q.Kind {
	case QueryGetSystemStart, QueryGetChainBlockNo, QueryGetChainPoint:
		return cbor.Marshal([]interface{}{q.Kind})
	case QueryLedgerQuery:
		return cbor.Marshal([]interface{}{q.Kind, q.LedgerQueryKind, q.Era, protocol.EncodedCBOR{Bytes: q.Body}})
	default:
		return nil, fmt.Errorf("localstatequery: unknown query kind %d", q.Kind)
	}
}

func (q *Query) UnmarshalCBOR(data []byte) error {
	var fields []cbor.RawMessage
	if err := cbor.Unmarshal(data, &fields); err != nil {
		return err
	}
	if len(fields) == 0 {
		return fmt.Errorf("localstatequery: empty query")
	}
	if err := cbor.Unmarshal(fields[0], &q.Kind); err != nil {
		return err
	}
	switch q.Kind {
	case QueryGetSystemStart, QueryGetChainBlockNo, QueryGetChainPoint:
		if len(fields) != 1 {
			return fmt.Errorf("localstatequery: query kind %d wants 1 field, got %d", q.Kind, len(fields))
		}
	case QueryLedgerQuery:
		if len(fields) != 4 {
			return fmt.Errorf("localstatequery: ledger query wants 4 fields, got %d", len(fields))
		}
		if err := cbor.Unmarshal(fields[1], &q.LedgerQueryKind); err != nil {
			return err
		}
		if err := cbor.Unmarshal(fields[2], &q.Era); err != nil {
			return err
		}
		var enc protocol.EncodedCBOR
		if err := enc.UnmarshalCBOR(fields[3]); err != nil {
			return err
		}
		q.Body = enc.Bytes
	default:
		return fmt.Errorf("localstatequery: unknown query kind %d", q.Kind)
	}
	return nil
}

// Acquire pins the ledger state at Point (nil means the current tip).
type Acquire struct {
	Point *protocol.Point
}

func (m *Acquire) Label() uint64 { return LabelAcquire }
func (m *Acquire) MarshalCBOR() ([]byte, error) {
	return marshalOptionalPoint(LabelAcquire, m.Point)
}
func (m *Acquire) UnmarshalCBOR(data []byte) error {
	p, err := unmarshalOptionalPoint(data, LabelAcquire)
	if err != nil {
		return err
	}
	m.Point = p
	return nil
}

// Acquired confirms a successful Acquire/ReAcquire.
type Acquired struct{}

func (m *Acquired) Label() uint64                  { return LabelAcquired }
func (m *Acquired) MarshalCBOR() ([]byte, error)   { return cbor.Marshal([]interface{}{LabelAcquired}) }
func (m *Acquired) UnmarshalCBOR(data []byte) error { _, err := fieldsWithLabel(data, LabelAcquired, 1); return err }

// Failure reports why Acquire/ReAcquire did not succeed.
type Failure struct {
	Reason FailureReason
}

func (m *Failure) Label() uint64 { return LabelFailure }
func (m *Failure) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([]interface{}{LabelFailure, m.Reason})
}
func (m *Failure) UnmarshalCBOR(data []byte) error {
	fields, err := fieldsWithLabel(data, LabelFailure, 2)
	if err != nil {
		return err
	}
	return cbor.Unmarshal(fields[1], &m.Reason)
}

// QueryMsg carries a Query while the ledger state is acquired.
// (Named QueryMsg, not Query, to avoid colliding with the Query type.)
type QueryMsg struct {
	Q Query
}

func (m *QueryMsg) Label() uint64 { return LabelQuery }
func (m *QueryMsg) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([]interface{}{LabelQuery, m.Q})
}
func (m *QueryMsg) UnmarshalCBOR(data []byte) error {
	fields, err := fieldsWithLabel(data, LabelQuery, 2)
	if err != nil {
		return err
	}
	return cbor.Unmarshal(fields[1], &m.Q)
}

// Result answers a Query with an opaque CBOR subtree; the query type
// the caller sent determines how to decode Bytes.
type Result struct {
	Bytes []byte
}

func (m *Result) Label() uint64 { return LabelResult }
func (m *Result) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([]interface{}{LabelResult, protocol.EncodedCBOR{Bytes: m.Bytes}})
}
func (m *Result) UnmarshalCBOR(data []byte) error {
	fields, err := fieldsWithLabel(data, LabelResult, 2)
	if err != nil {
		return err
	}
	var enc protocol.EncodedCBOR
	if err := enc.UnmarshalCBOR(fields[1]); err != nil {
		return err
	}
	m.Bytes = enc.Bytes
	return nil
}

// ReAcquire moves the acquired point without releasing first.
type ReAcquire struct {
	Point *protocol.Point
}

func (m *ReAcquire) Label() uint64 { return LabelReAcquire }
func (m *ReAcquire) MarshalCBOR() ([]byte, error) {
	return marshalOptionalPoint(LabelReAcquire, m.Point)
}
func (m *ReAcquire) UnmarshalCBOR(data []byte) error {
	p, err := unmarshalOptionalPoint(data, LabelReAcquire)
	if err != nil {
		return err
	}
	m.Point = p
	return nil
}

// Release gives up the acquired ledger state.
type Release struct{}

func (m *Release) Label() uint64                  { return LabelRelease }
func (m *Release) MarshalCBOR() ([]byte, error)   { return cbor.Marshal([]interface{}{LabelRelease}) }
func (m *Release) UnmarshalCBOR(data []byte) error { _, err := fieldsWithLabel(data, LabelRelease, 1); return err }

// Done terminates the mini-protocol.
type Done struct{}

func (m *Done) Label() uint64                  { return LabelDone }
func (m *Done) MarshalCBOR() ([]byte, error)   { return cbor.Marshal([]interface{}{LabelDone}) }
func (m *Done) UnmarshalCBOR(data []byte) error { _, err := fieldsWithLabel(data, LabelDone, 1); return err }

func marshalOptionalPoint(label uint64, p *protocol.Point) ([]byte, error) {
	if p == nil {
		return cbor.Marshal([]interface{}{label})
	}
	return cbor.Marshal([]interface{}{label, *p})
}

func unmarshalOptionalPoint(data []byte, wantLabel uint64) (*protocol.Point, error) {
	var fields []cbor.RawMessage
	if err := cbor.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	if len(fields) < 1 || len(fields) > 2 {
		return nil, fmt.Errorf("localstatequery: wants 1 or 2 fields, got %d", len(fields))
	}
	var label uint64
	if err := cbor.Unmarshal(fields[0], &label); err != nil {
		return nil, err
	}
	if label != wantLabel {
		return nil, fmt.Errorf("localstatequery: wants label %d, got %d", wantLabel, label)
	}
	if len(fields) == 1 {
		return nil, nil
	}
	var p protocol.Point
	if err := cbor.Unmarshal(fields[1], &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func fieldsWithLabel(data []byte, wantLabel uint64, wantLen int) ([]cbor.RawMessage, error) {
	var fields []cbor.RawMessage
	if err := cbor.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	if len(fields) != wantLen {
		return nil, fmt.Errorf("localstatequery: wants %d fields, got %d", wantLen, len(fields))
	}
	var label uint64
	if err := cbor.Unmarshal(fields[0], &label); err != nil {
		return nil, err
	}
	if label != wantLabel {
		return nil, fmt.Errorf("localstatequery: wants label %d, got %d", wantLabel, label)
	}
	return fields, nil
}

// NewDecoder returns a protocol.Decoder for local-state-query messages.
func NewDecoder() protocol.Decoder {
	return protocol.Decoder{New: func(label uint64) protocol.Message {
		switch label {
		case LabelAcquire:
			return &Acquire{}
		case LabelAcquired:
			return &Acquired{}
		case LabelFailure:
			return &Failure{}
		case LabelQuery:
			return &QueryMsg{}
		case LabelResult:
			return &Result{}
		case LabelReAcquire:
			return &ReAcquire{}
		case LabelRelease:
			return &Release{}
		case LabelDone:
			return &Done{}
		default:
			return nil
		}
	}}
}
