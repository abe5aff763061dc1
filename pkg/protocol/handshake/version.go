// Package handshake implements the Ouroboros handshake mini-protocol
// (channel 0): version negotiation between an initiator and a
// responder, in both its node-to-node and node-to-client flavors.
package handshake

import (
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"
)

// VersionNumber is a negotiated protocol version.
type VersionNumber uint64

// Well-known node-to-node and node-to-client version ranges (spec.md §6).
const (
	N2NVersionMin = VersionNumber(7)
	N2NVersionMax = VersionNumber(13)

	N2CVersionMin = VersionNumber(1)
	N2CVersionMax = VersionNumber(16)

	// n2nPeerSharingSince is the first N2N version carrying a
	// peer-sharing byte and a query flag.
	n2nPeerSharingSince = VersionNumber(11)
	// n2cQuerySince is the first N2C version carrying a query flag.
	n2cQuerySince = VersionNumber(15)
)

// N2NVersionData is the version-specific handshake parameter set
// exchanged over node-to-node connections.
type N2NVersionData struct {
	NetworkMagic           uint64
	InitiatorOnlyDiffusion bool
	PeerSharing            uint8
	Query                  bool

	version VersionNumber
}

// NewN2NVersionData builds version data for the given version number,
// recording whether the peer-sharing byte and query flag apply.
func NewN2NVersionData(version VersionNumber, magic uint64, initiatorOnlyDiffusion bool, peerSharing uint8, query bool) *N2NVersionData {
	return &N2NVersionData{
		NetworkMagic:           magic,
		InitiatorOnlyDiffusion: initiatorOnlyDiffusion,
		PeerSharing:            peerSharing,
		Query:                  query,
		version:                version,
	}
}

// Equal compares the fields that are actually present for this
// version; fields only meaningful from n2nPeerSharingSince onward are
// ignored below that version, matching what a peer on an older version
// could possibly have sent.
func (d *N2NVersionData) Equal(other *N2NVersionData) bool {
	if d == nil || other == nil {
		return d == other
	}
	if d.NetworkMagic != other.NetworkMagic || d.InitiatorOnlyDiffusion != other.InitiatorOnlyDiffusion {
		return false
	}
	if d.version >= n2nPeerSharingSince && other.version >= n2nPeerSharingSince {
		if d.PeerSharing != other.PeerSharing || d.Query != other.Query {
			return false
		}
	}
	return true
}

// MarshalCBOR encodes the version data as a definite-length array whose
// arity depends on the version it was constructed for.
func (d *N2NVersionData) MarshalCBOR() ([]byte, error) {
	if d.version >= n2nPeerSharingSince {
		return cbor.Marshal([]interface{}{d.NetworkMagic, d.InitiatorOnlyDiffusion, d.PeerSharing, d.Query})
	}
	return cbor.Marshal([]interface{}{d.NetworkMagic, d.InitiatorOnlyDiffusion})
}

// DecodeN2NVersionData decodes version data known to be for the given
// version number (the version is the VersionTable's key, supplied by
// the caller; it cannot be recovered from the bytes alone).
func DecodeN2NVersionData(version VersionNumber, data []byte) (*N2NVersionData, error) {
	var fields []cbor.RawMessage
	if err := cbor.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("handshake: decode n2n version data: %w", err)
	}
	d := &N2NVersionData{version: version}
	if len(fields) < 2 {
		return nil, fmt.Errorf("handshake: n2n version data needs at least 2 fields, got %d", len(fields))
	}
	if err := cbor.Unmarshal(fields[0], &d.NetworkMagic); err != nil {
		return nil, err
	}
	if err := cbor.Unmarshal(fields[1], &d.InitiatorOnlyDiffusion); err != nil {
		return nil, err
	}
	if version >= n2nPeerSharingSince && len(fields) >= 4 {
		if err := cbor.Unmarshal(fields[2], &d.PeerSharing); err != nil {
			return nil, err
		}
		if err := cbor.Unmarshal(fields[3], &d.Query); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// N2CVersionData is the version-specific handshake parameter set
// exchanged over node-to-client (local) connections.
type N2CVersionData struct {
	NetworkMagic uint64
	Query        bool

	version VersionNumber
}

// NewN2CVersionData builds version data for the given N2C version.
func NewN2CVersionData(version VersionNumber, magic uint64, query bool) *N2CVersionData {
	return &N2CVersionData{NetworkMagic: magic, Query: query, version: version}
}

// Equal compares fields meaningful for both sides' versions.
func (d *N2CVersionData) Equal(other *N2CVersionData) bool {
	if d == nil || other == nil {
		return d == other
	}
	if d.NetworkMagic != other.NetworkMagic {
		return false
	}
	if d.version >= n2cQuerySince && other.version >= n2cQuerySince {
		return d.Query == other.Query
	}
	return true
}

// MarshalCBOR encodes the version data, including Query only from
// n2cQuerySince onward.
func (d *N2CVersionData) MarshalCBOR() ([]byte, error) {
	if d.version >= n2cQuerySince {
		return cbor.Marshal([]interface{}{d.NetworkMagic, d.Query})
	}
	return cbor.Marshal([]interface{}{d.NetworkMagic})
}

// DecodeN2CVersionData decodes version data known to be for the given
// N2C version number.
func DecodeN2CVersionData(version VersionNumber, data []byte) (*N2CVersionData, error) {
	var fields []cbor.RawMessage
	if err := cbor.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("handshake: decode n2c version data: %w", err)
	}
	if len(fields) < 1 {
		return nil, fmt.Errorf("handshake: n2c version data needs at least 1 field")
	}
	d := &N2CVersionData{version: version}
	if err := cbor.Unmarshal(fields[0], &d.NetworkMagic); err != nil {
		return nil, err
	}
	if version >= n2cQuerySince && len(fields) >= 2 {
		if err := cbor.Unmarshal(fields[1], &d.Query); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// N2NVersionTable maps an offered N2N version number to its parameters.
type N2NVersionTable map[VersionNumber]*N2NVersionData

// MarshalCBOR encodes the table as a CBOR map with ascending numeric
// keys, per spec.md §3 "VersionTable".
func (t N2NVersionTable) MarshalCBOR() ([]byte, error) {
	keys := sortedKeys(t)
	m := make(map[uint64]*N2NVersionData, len(t))
	for _, k := range keys {
		m[uint64(k)] = t[k]
	}
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	return em.Marshal(m)
}

// DecodeN2NVersionTable decodes a wire version table.
func DecodeN2NVersionTable(data []byte) (N2NVersionTable, error) {
	var raw map[uint64]cbor.RawMessage
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("handshake: decode n2n version table: %w", err)
	}
	out := make(N2NVersionTable, len(raw))
	for k, v := range raw {
		vd, err := DecodeN2NVersionData(VersionNumber(k), v)
		if err != nil {
			return nil, err
		}
		out[VersionNumber(k)] = vd
	}
	return out, nil
}

// Versions returns the table's version numbers in ascending order.
func (t N2NVersionTable) Versions() []VersionNumber { return sortedKeys(t) }

// N2CVersionTable maps an offered N2C version number to its parameters.
type N2CVersionTable map[VersionNumber]*N2CVersionData

// MarshalCBOR encodes the table as a CBOR map with ascending numeric keys.
func (t N2CVersionTable) MarshalCBOR() ([]byte, error) {
	keys := sortedKeys(t)
	m := make(map[uint64]*N2CVersionData, len(t))
	for _, k := range keys {
		m[uint64(k)] = t[k]
	}
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	return em.Marshal(m)
}

// DecodeN2CVersionTable decodes a wire version table.
func DecodeN2CVersionTable(data []byte) (N2CVersionTable, error) {
	var raw map[uint64]cbor.RawMessage
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("handshake: decode n2c version table: %w", err)
	}
	out := make(N2CVersionTable, len(raw))
	for k, v := range raw {
		vd, err := DecodeN2CVersionData(VersionNumber(k), v)
		if err != nil {
			return nil, err
		}
		out[VersionNumber(k)] = vd
	}
	return out, nil
}

// Versions returns the table's version numbers in ascending order.
func (t N2CVersionTable) Versions() []VersionNumber { return sortedKeys(t) }

func sortedKeys[V any](m map[VersionNumber]V) []VersionNumber {
	keys := make([]VersionNumber, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
