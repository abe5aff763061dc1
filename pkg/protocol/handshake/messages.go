package handshake

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/ouroboros-go/relay/pkg/protocol"
)

// Wire labels for handshake messages (shared by N2N and N2C flavors).
const (
	LabelPropose    uint64 = 0
	LabelAccept     uint64 = 1
	LabelRefuse     uint64 = 2
	LabelQueryReply uint64 = 3
)

// RefuseReasonKind discriminates the three ways a responder can refuse
// a proposal.
type RefuseReasonKind uint64

const (
	ReasonVersionMismatch       RefuseReasonKind = 0
	ReasonHandshakeDecodeError  RefuseReasonKind = 1
	ReasonRefused               RefuseReasonKind = 2
)

// RefuseReason is the sum type carried by a Refuse message.
type RefuseReason struct {
	Kind    RefuseReasonKind
	Offered []VersionNumber // ReasonVersionMismatch
	Version VersionNumber   // ReasonHandshakeDecodeError, ReasonRefused
	Msg     string          // ReasonHandshakeDecodeError, ReasonRefused
}

// NewVersionMismatch builds a VersionMismatch refusal.
func NewVersionMismatch(offered []VersionNumber) RefuseReason {
	return RefuseReason{Kind: ReasonVersionMismatch, Offered: offered}
}

// NewHandshakeDecodeError builds a HandshakeDecodeError refusal.
func NewHandshakeDecodeError(version VersionNumber, msg string) RefuseReason {
	return RefuseReason{Kind: ReasonHandshakeDecodeError, Version: version, Msg: msg}
}

// NewRefused builds a Refused refusal (data mismatch).
func NewRefused(version VersionNumber, msg string) RefuseReason {
	return RefuseReason{Kind: ReasonRefused, Version: version, Msg: msg}
}

// MarshalCBOR encodes the reason as `[kind, ...args]`.
func (r RefuseReason) MarshalCBOR() ([]byte, error) {
	switch r.Kind {
	case ReasonVersionMismatch:
		return cbor.Marshal([]interface{}{uint64(r.Kind), r.Offered})
	case ReasonHandshakeDecodeError:
		return cbor.Marshal([]interface{}{uint64(r.Kind), uint64(r.Version), r.Msg})
	case ReasonRefused:
		return cbor.Marshal([]interface{}{uint64(r.Kind), uint64(r.Version), r.Msg})
	default:
		return nil, fmt.Errorf("handshake: unknown refuse reason kind %d", r.Kind)
	}
}

// UnmarshalCBOR decodes a refuse reason.
func (r *RefuseReason) UnmarshalCBOR(data []byte) error {
	var fields []cbor.RawMessage
	if err := cbor.Unmarshal(data, &fields); err != nil {
		return err
	}
	if len(fields) == 0 {
		return fmt.Errorf("handshake: empty refuse reason")
	}
	var kind uint64
	if err := cbor.Unmarshal(fields[0], &kind); err != nil {
		return err
	}
	r.Kind = RefuseReasonKind(kind)
	switch r.Kind {
	case ReasonVersionMismatch:
		if len(fields) < 2 {
			return fmt.Errorf("handshake: VersionMismatch needs offered list")
		}
		return cbor.Unmarshal(fields[1], &r.Offered)
	case ReasonHandshakeDecodeError, ReasonRefused:
		if len(fields) < 3 {
			return fmt.Errorf("handshake: refuse reason %d needs version and message", r.Kind)
		}
		var v uint64
		if err := cbor.Unmarshal(fields[1], &v); err != nil {
			return err
		}
		r.Version = VersionNumber(v)
		return cbor.Unmarshal(fields[2], &r.Msg)
	default:
		return fmt.Errorf("handshake: unknown refuse reason kind %d", r.Kind)
	}
}

// ---- node-to-node messages ----

// ProposeN2N is the initiator's opening handshake message.
type ProposeN2N struct {
	Table N2NVersionTable
}

func (m *ProposeN2N) Label() uint64 { return LabelPropose }

func (m *ProposeN2N) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([]interface{}{LabelPropose, m.Table})
}

func (m *ProposeN2N) UnmarshalCBOR(data []byte) error {
	var fields []cbor.RawMessage
	if err := cbor.Unmarshal(data, &fields); err != nil {
		return err
	}
	if len(fields) != 2 {
		return fmt.Errorf("handshake: Propose wants 2 fields, got %d", len(fields))
	}
	table, err := DecodeN2NVersionTable(fields[1])
	if err != nil {
		return err
	}
	m.Table = table
	return nil
}

// AcceptN2N is the responder's chosen-version reply.
type AcceptN2N struct {
	Version VersionNumber
	Data    *N2NVersionData
}

func (m *AcceptN2N) Label() uint64 { return LabelAccept }

func (m *AcceptN2N) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([]interface{}{LabelAccept, uint64(m.Version), m.Data})
}

func (m *AcceptN2N) UnmarshalCBOR(data []byte) error {
	var fields []cbor.RawMessage
	if err := cbor.Unmarshal(data, &fields); err != nil {
		return err
	}
	if len(fields) != 3 {
		return fmt.Errorf("handshake: Accept wants 3 fields, got %d", len(fields))
	}
	var v uint64
	if err := cbor.Unmarshal(fields[1], &v); err != nil {
		return err
	}
	m.Version = VersionNumber(v)
	data, err := DecodeN2NVersionData(m.Version, fields[2])
	if err != nil {
		return err
	}
	m.Data = data
	return nil
}

// RefuseN2N is the responder's rejection.
type RefuseN2N struct {
	Reason RefuseReason
}

func (m *RefuseN2N) Label() uint64 { return LabelRefuse }
func (m *RefuseN2N) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([]interface{}{LabelRefuse, m.Reason})
}
func (m *RefuseN2N) UnmarshalCBOR(data []byte) error {
	var fields []cbor.RawMessage
	if err := cbor.Unmarshal(data, &fields); err != nil {
		return err
	}
	if len(fields) != 2 {
		return fmt.Errorf("handshake: Refuse wants 2 fields, got %d", len(fields))
	}
	return cbor.Unmarshal(fields[1], &m.Reason)
}

// QueryReplyN2N answers a version-query proposal with the responder's
// full supported version table instead of accepting/refusing.
type QueryReplyN2N struct {
	Table N2NVersionTable
}

func (m *QueryReplyN2N) Label() uint64 { return LabelQueryReply }
func (m *QueryReplyN2N) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([]interface{}{LabelQueryReply, m.Table})
}
func (m *QueryReplyN2N) UnmarshalCBOR(data []byte) error {
	var fields []cbor.RawMessage
	if err := cbor.Unmarshal(data, &fields); err != nil {
		return err
	}
	if len(fields) != 2 {
		return fmt.Errorf("handshake: QueryReply wants 2 fields, got %d", len(fields))
	}
	table, err := DecodeN2NVersionTable(fields[1])
	if err != nil {
		return err
	}
	m.Table = table
	return nil
}

// ---- node-to-client messages ----

// ProposeN2C is the initiator's opening handshake message for local
// (node-to-client) connections.
type ProposeN2C struct {
	Table N2CVersionTable
}

func (m *ProposeN2C) Label() uint64 { return LabelPropose }
func (m *ProposeN2C) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([]interface{}{LabelPropose, m.Table})
}
func (m *ProposeN2C) UnmarshalCBOR(data []byte) error {
	var fields []cbor.RawMessage
	if err := cbor.Unmarshal(data, &fields); err != nil {
		return err
	}
	if len(fields) != 2 {
		return fmt.Errorf("handshake: Propose wants 2 fields, got %d", len(fields))
	}
	table, err := DecodeN2CVersionTable(fields[1])
	if err != nil {
		return err
	}
	m.Table = table
	return nil
}

// AcceptN2C is the responder's chosen-version reply for N2C.
type AcceptN2C struct {
	Version VersionNumber
	Data    *N2CVersionData
}

func (m *AcceptN2C) Label() uint64 { return LabelAccept }
func (m *AcceptN2C) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([]interface{}{LabelAccept, uint64(m.Version), m.Data})
}
func (m *AcceptN2C) UnmarshalCBOR(data []byte) error {
	var fields []cbor.RawMessage
	if err := cbor.Unmarshal(data, &fields); err != nil {
		return err
	}
	if len(fields) != 3 {
		return fmt.Errorf("handshake: Accept wants 3 fields, got %d", len(fields))
	}
	var v uint64
	if err := cbor.Unmarshal(fields[1], &v); err != nil {
		return err
	}
	m.Version = VersionNumber(v)
	data, err := DecodeN2CVersionData(m.Version, fields[2])
	if err != nil {
		return err
	}
	m.Data = data
	return nil
}

// RefuseN2C is the responder's rejection for N2C.
type RefuseN2C struct {
	Reason RefuseReason
}

func (m *RefuseN2C) Label() uint64 { return LabelRefuse }
func (m *RefuseN2C) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([]interface{}{LabelRefuse, m.Reason})
}
func (m *RefuseN2C) UnmarshalCBOR(data []byte) error {
	var fields []cbor.RawMessage
	if err := cbor.Unmarshal(data, &fields); err != nil {
		return err
	}
	if len(fields) != 2 {
		return fmt.Errorf("handshake: Refuse wants 2 fields, got %d", len(fields))
	}
	return cbor.Unmarshal(fields[1], &m.Reason)
}

// QueryReplyN2C answers a version-query proposal for N2C.
type QueryReplyN2C struct {
	Table N2CVersionTable
}

func (m *QueryReplyN2C) Label() uint64 { return LabelQueryReply }
func (m *QueryReplyN2C) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([]interface{}{LabelQueryReply, m.Table})
}
func (m *QueryReplyN2C) UnmarshalCBOR(data []byte) error {
	var fields []cbor.RawMessage
	if err := cbor.Unmarshal(data, &fields); err != nil {
		return err
	}
	if len(fields) != 2 {
		return fmt.Errorf("handshake: QueryReply wants 2 fields, got %d", len(fields))
	}
	table, err := DecodeN2CVersionTable(fields[1])
	if err != nil {
		return err
	}
	m.Table = table
	return nil
}

// NewN2NDecoder returns a decoder for the node-to-node handshake
// message set.
func NewN2NDecoder() protocol.Decoder {
	return protocol.Decoder{New: func(label uint64) protocol.Message {
		switch label {
		case LabelPropose:
			return &ProposeN2N{}
		case LabelAccept:
			return &AcceptN2N{}
		case LabelRefuse:
			return &RefuseN2N{}
		case LabelQueryReply:
			return &QueryReplyN2N{}
		default:
			return nil
		}
	}}
}

// NewN2CDecoder returns a decoder for the node-to-client handshake
// message set.
func NewN2CDecoder() protocol.Decoder {
	return protocol.Decoder{New: func(label uint64) protocol.Message {
		switch label {
		case LabelPropose:
			return &ProposeN2C{}
		case LabelAccept:
			return &AcceptN2C{}
		case LabelRefuse:
			return &RefuseN2C{}
		case LabelQueryReply:
			return &QueryReplyN2C{}
		default:
			return nil
		}
	}}
}
