// Package amgcache stores the reusable per-slice state of automatic mask generation.
package amgcache

import (
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"

	"go.viam.com/maskprop/oracle"
)

// SchemaVersion is the version written into every encoded entry. Entries of other versions
// are rejected when decoded.
const SchemaVersion = 1

var (
	// ErrCacheMiss is returned by stores that hold no entry for a slice.
	ErrCacheMiss = errors.New("amg cache miss")
	// ErrVersionMismatch is returned when an encoded entry has an unsupported schema version.
	ErrVersionMismatch = errors.New("amg cache entry has an unsupported schema version")
)

// Kind tags the payload of an entry.
type Kind string

const (
	// KindAMG entries hold the opaque state of a prompt grid generator.
	KindAMG Kind = "amg"
	// KindDecoder entries hold the dense predictions of a decoder based generator.
	KindDecoder Kind = "decoder"
)

// AMGState is the opaque state of a prompt grid generator.
type AMGState struct {
	Blob []byte `bson:"blob"`
}

// DecoderState holds the per-pixel predictions of an instance segmentation decoder.
type DecoderState struct {
	Height            int       `bson:"height"`
	Width             int       `bson:"width"`
	Foreground        []float32 `bson:"foreground"`
	BoundaryDistances []float32 `bson:"boundary_distances"`
	CenterDistances   []float32 `bson:"center_distances"`
}

// Entry is the cached state of one slice. OracleID names the generator that computed it;
// entries are only reused by the same generator.
type Entry struct {
	SchemaVersion int           `bson:"schema_version"`
	OracleID      string        `bson:"oracle_id"`
	Slice         int           `bson:"slice"`
	Kind          Kind          `bson:"kind"`
	AMG           *AMGState     `bson:"amg,omitempty"`
	Decoder       *DecoderState `bson:"decoder,omitempty"`
	CreatedAt     time.Time     `bson:"created_at"`
}

// NewEntry wraps the state computed by a generator.
func NewEntry(oracleID string, slice int, state oracle.State, createdAt time.Time) (*Entry, error) {
	e := &Entry{
		SchemaVersion: SchemaVersion,
		OracleID:      oracleID,
		Slice:         slice,
		CreatedAt:     createdAt,
	}
	switch state.Kind {
	case oracle.KindAMG:
		e.Kind = KindAMG
		e.AMG = &AMGState{Blob: state.Blob}
	case oracle.KindDecoder:
		if state.Decoder == nil {
			return nil, errors.New("decoder state without decoder output")
		}
		e.Kind = KindDecoder
		e.Decoder = &DecoderState{
			Height:            state.Decoder.Height,
			Width:             state.Decoder.Width,
			Foreground:        state.Decoder.Foreground,
			BoundaryDistances: state.Decoder.BoundaryDistances,
			CenterDistances:   state.Decoder.CenterDistances,
		}
	default:
		return nil, errors.Errorf("unknown generator state kind %q", state.Kind)
	}
	return e, e.Validate()
}

// Validate checks that the payload matches the kind tag.
func (e *Entry) Validate() error {
	if e.SchemaVersion != SchemaVersion {
		return errors.Wrapf(ErrVersionMismatch, "got version %d, expected %d", e.SchemaVersion, SchemaVersion)
	}
	if e.Slice < 0 {
		return errors.Errorf("negative slice %d", e.Slice)
	}
	switch e.Kind {
	case KindAMG:
		if e.AMG == nil || e.Decoder != nil {
			return errors.New("amg entry must carry exactly the amg payload")
		}
	case KindDecoder:
		if e.Decoder == nil || e.AMG != nil {
			return errors.New("decoder entry must carry exactly the decoder payload")
		}
		n := e.Decoder.Height * e.Decoder.Width
		if len(e.Decoder.Foreground) != n || len(e.Decoder.BoundaryDistances) != n || len(e.Decoder.CenterDistances) != n {
			return errors.Errorf("decoder maps do not match the %dx%d shape", e.Decoder.Width, e.Decoder.Height)
		}
	default:
		return errors.Errorf("unknown entry kind %q", e.Kind)
	}
	return nil
}

// State converts the entry back into generator state.
func (e *Entry) State() oracle.State {
	switch e.Kind {
	case KindDecoder:
		return oracle.State{Kind: oracle.KindDecoder, Decoder: &oracle.DecoderOutput{
			Height:            e.Decoder.Height,
			Width:             e.Decoder.Width,
			Foreground:        e.Decoder.Foreground,
			BoundaryDistances: e.Decoder.BoundaryDistances,
			CenterDistances:   e.Decoder.CenterDistances,
		}}
	default:
		return oracle.State{Kind: oracle.KindAMG, Blob: e.AMG.Blob}
	}
}

// Marshal encodes a valid entry as BSON.
func Marshal(e *Entry) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return bson.Marshal(e)
}

// Unmarshal decodes and validates a BSON entry.
func Unmarshal(data []byte) (*Entry, error) {
	var header struct {
		SchemaVersion int `bson:"schema_version"`
	}
	if err := bson.Unmarshal(data, &header); err != nil {
		return nil, errors.Wrap(err, "decoding amg cache entry")
	}
	if header.SchemaVersion != SchemaVersion {
		return nil, errors.Wrapf(ErrVersionMismatch, "got version %d, expected %d", header.SchemaVersion, SchemaVersion)
	}
	var e Entry
	if err := bson.Unmarshal(data, &e); err != nil {
		return nil, errors.Wrap(err, "decoding amg cache entry")
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}
