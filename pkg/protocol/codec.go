package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// Message is implemented by every mini-protocol message variant. Each
// concrete type encodes as a CBOR array `[label, ...args]` through its
// own MarshalCBOR/UnmarshalCBOR methods, with Label() returning the
// first element as a plain value for dispatch.
type Message interface {
	// Label returns this message's wire label, the first element of
	// its CBOR array encoding.
	Label() uint64
}

// ErrNeedMoreData is returned by Decode when the supplied bytes do not
// yet contain one complete CBOR item. Callers should buffer more bytes
// from the wire and retry; the input is never partially consumed on
// this error.
var ErrNeedMoreData = errors.New("protocol: need more data")

// Encode serializes a message to its canonical CBOR array form.
func Encode(m Message) ([]byte, error) {
	opts := cbor.CoreDetEncOptions()
	em, err := opts.EncMode()
	if err != nil {
		return nil, err
	}
	return em.Marshal(m)
}

// Decoder turns a per-channel byte buffer into decoded Messages, one
// registry per mini-protocol (each protocol package supplies its own
// label -> constructor table).
type Decoder struct {
	// New returns a zero value of the concrete message type for the
	// given label, or nil if the label is unknown.
	New func(label uint64) Message
}

// Decode consumes at most one message from the front of data. It
// returns the message, the number of bytes consumed, and an error.
// ErrNeedMoreData means data holds a truncated item; data is never
// mutated and the caller should retry once more bytes arrive.
func (d Decoder) Decode(data []byte) (Message, int, error) {
	if len(data) == 0 {
		return nil, 0, ErrNeedMoreData
	}

	// Pass 1: decode the top-level array generically to learn its
	// label and how many bytes it occupies, without committing to a
	// concrete type yet.
	r := bytes.NewReader(data)
	dec := cbor.NewDecoder(r)
	var peek []cbor.RawMessage
	if err := dec.Decode(&peek); err != nil {
		if isShortRead(err) {
			return nil, 0, ErrNeedMoreData
		}
		return nil, 0, fmt.Errorf("protocol: decode envelope: %w", err)
	}
	consumed := dec.NumBytesRead()
	if len(peek) == 0 {
		return nil, 0, fmt.Errorf("protocol: empty message array")
	}

	var label uint64
	if err := cbor.Unmarshal(peek[0], &label); err != nil {
		return nil, 0, fmt.Errorf("protocol: decode label: %w", err)
	}

	msg := d.New(label)
	if msg == nil {
		return nil, 0, fmt.Errorf("protocol: unknown message label %d", label)
	}

	// Pass 2: decode the same bytes into the concrete type, through
	// its UnmarshalCBOR, now that we know which one it is.
	if err := cbor.Unmarshal(data[:consumed], msg); err != nil {
		return nil, 0, fmt.Errorf("protocol: decode message label %d: %w", label, err)
	}
	return msg, consumed, nil
}

func isShortRead(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

// EncodedCBORTag is the CBOR tag (#6.24) used to wrap era-tagged
// transaction bodies and chain-sync N2C block content as an opaque
// encoded-CBOR byte string.
const EncodedCBORTag = 24

// EncodedCBOR wraps bytes that are themselves a CBOR-encoded item, per
// the #6.24 "encoded CBOR data item" tag.
type EncodedCBOR struct {
	Bytes []byte
}

// MarshalCBOR implements cbor.Marshaler.
func (e EncodedCBOR) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(cbor.Tag{Number: EncodedCBORTag, Content: e.Bytes})
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (e *EncodedCBOR) UnmarshalCBOR(data []byte) error {
	var tag cbor.Tag
	if err := cbor.Unmarshal(data, &tag); err != nil {
		return err
	}
	if tag.Number != EncodedCBORTag {
		return fmt.Errorf("protocol: expected tag %d, got %d", EncodedCBORTag, tag.Number)
	}
	b, ok := tag.Content.([]byte)
	if !ok {
		return fmt.Errorf("protocol: encoded-CBOR tag content is not a byte string")
	}
	e.Bytes = b
	return nil
}
