package sample

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/bits"
)

/*
Package sample defines the sample model emitted by the column-store engine,
along with its wire encoding. A sample associates a series ID and a timestamp
with one of three payload variants: a scalar float, a tuple of floats with a
presence bitmap (produced by joins), or an opaque event blob.

Encoded samples are length-prefixed so that variable-length payloads can be
concatenated into a single buffer and re-split by the consumer on the payload
size field.
*/

////////////////////////////////////////////////////////////////////////////////

// SeriesID identifies a series.
type SeriesID uint64

// Timestamp is a monotonic logical time.
type Timestamp uint64

// PayloadType discriminates the payload variants.
type PayloadType uint16

const (
	// PayloadFloat is a single 64-bit float value.
	PayloadFloat PayloadType = iota
	// PayloadTuple is a presence bitmap plus one packed float per set bit,
	// in column declaration order.
	PayloadTuple
	// PayloadEvent is an opaque byte blob.
	PayloadEvent
)

func (t PayloadType) String() string {
	switch t {
	case PayloadFloat:
		return "float"
	case PayloadTuple:
		return "tuple"
	case PayloadEvent:
		return "event"
	}
	return fmt.Sprintf("payload(%d)", uint16(t))
}

const (
	// HeaderSize is the fixed encoded header: series ID (8), timestamp (8),
	// payload type (2), payload size (2), and the first eight payload bytes.
	HeaderSize = 28

	// FloatSize is the encoded size of a float sample. The value occupies the
	// header's payload slot, so there are no trailing bytes.
	FloatSize = HeaderSize
)

// ErrShortBuffer is returned when an encode or decode target is too small.
var ErrShortBuffer = errors.New("short buffer")

// Payload is a tagged variant. Only the fields selected by Type are
// meaningful.
type Payload struct {
	Type   PayloadType
	Float  float64   // PayloadFloat
	Bitmap uint64    // PayloadTuple: mask of present columns
	Values []float64 // PayloadTuple: one per set bit, column order
	Data   []byte    // PayloadEvent
}

// Sample is one element of an output stream.
type Sample struct {
	SeriesID  SeriesID
	Timestamp Timestamp
	Payload   Payload
}

// NewFloat returns a float sample.
func NewFloat(id SeriesID, ts Timestamp, value float64) Sample {
	return Sample{id, ts, Payload{Type: PayloadFloat, Float: value}}
}

// NewTuple returns a tuple sample. The values slice must hold one element per
// set bit of the bitmap, in column order.
func NewTuple(id SeriesID, ts Timestamp, bitmap uint64, values []float64) Sample {
	return Sample{id, ts, Payload{Type: PayloadTuple, Bitmap: bitmap, Values: values}}
}

// NewEvent returns an event sample.
func NewEvent(id SeriesID, ts Timestamp, data []byte) Sample {
	return Sample{id, ts, Payload{Type: PayloadEvent, Data: data}}
}

// TupleSize returns the encoded size of a tuple sample with the given
// presence bitmap. The size is driven by the popcount of the bitmap, one
// packed value per set bit.
func TupleSize(bitmap uint64) int {
	return HeaderSize + 8*bits.OnesCount64(bitmap)
}

// EncodedSize returns the number of bytes Encode will write.
func (s Sample) EncodedSize() int {
	switch s.Payload.Type {
	case PayloadTuple:
		return TupleSize(s.Payload.Bitmap)
	case PayloadEvent:
		return HeaderSize + len(s.Payload.Data)
	default:
		return FloatSize
	}
}

// Encode writes the sample to dst and returns the number of bytes written.
func (s Sample) Encode(dst []byte) (int, error) {
	size := s.EncodedSize()
	if len(dst) < size {
		return 0, ErrShortBuffer
	}
	if size > math.MaxUint16 {
		return 0, fmt.Errorf("sample too large: %d bytes", size)
	}
	binary.LittleEndian.PutUint64(dst[0:8], uint64(s.SeriesID))
	binary.LittleEndian.PutUint64(dst[8:16], uint64(s.Timestamp))
	binary.LittleEndian.PutUint16(dst[16:18], uint16(s.Payload.Type))
	binary.LittleEndian.PutUint16(dst[18:20], uint16(size))
	switch s.Payload.Type {
	case PayloadFloat:
		binary.LittleEndian.PutUint64(dst[20:28], math.Float64bits(s.Payload.Float))
	case PayloadTuple:
		if len(s.Payload.Values) != bits.OnesCount64(s.Payload.Bitmap) {
			return 0, fmt.Errorf("tuple has %d values for bitmap %b", len(s.Payload.Values), s.Payload.Bitmap)
		}
		binary.LittleEndian.PutUint64(dst[20:28], s.Payload.Bitmap)
		for i, v := range s.Payload.Values {
			binary.LittleEndian.PutUint64(dst[28+8*i:], math.Float64bits(v))
		}
	case PayloadEvent:
		binary.LittleEndian.PutUint64(dst[20:28], 0)
		copy(dst[28:], s.Payload.Data)
	default:
		return 0, fmt.Errorf("unrecognized payload type %d", s.Payload.Type)
	}
	return size, nil
}

// Decode reads one sample from the front of buf and returns it along with the
// number of bytes consumed. Consumers split concatenated samples by calling
// Decode repeatedly, advancing by the returned count.
func Decode(buf []byte) (Sample, int, error) {
	if len(buf) < HeaderSize {
		return Sample{}, 0, ErrShortBuffer
	}
	size := int(binary.LittleEndian.Uint16(buf[18:20]))
	if size < HeaderSize || size > len(buf) {
		return Sample{}, 0, fmt.Errorf("invalid payload size %d in %d-byte buffer", size, len(buf))
	}
	s := Sample{
		SeriesID:  SeriesID(binary.LittleEndian.Uint64(buf[0:8])),
		Timestamp: Timestamp(binary.LittleEndian.Uint64(buf[8:16])),
	}
	s.Payload.Type = PayloadType(binary.LittleEndian.Uint16(buf[16:18]))
	switch s.Payload.Type {
	case PayloadFloat:
		s.Payload.Float = math.Float64frombits(binary.LittleEndian.Uint64(buf[20:28]))
	case PayloadTuple:
		s.Payload.Bitmap = binary.LittleEndian.Uint64(buf[20:28])
		n := bits.OnesCount64(s.Payload.Bitmap)
		if size != TupleSize(s.Payload.Bitmap) {
			return Sample{}, 0, fmt.Errorf("tuple size %d does not match bitmap %b", size, s.Payload.Bitmap)
		}
		s.Payload.Values = make([]float64, n)
		for i := 0; i < n; i++ {
			s.Payload.Values[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[28+8*i:]))
		}
	case PayloadEvent:
		s.Payload.Data = make([]byte, size-HeaderSize)
		copy(s.Payload.Data, buf[28:size])
	default:
		return Sample{}, 0, fmt.Errorf("unrecognized payload type %d", s.Payload.Type)
	}
	return s, size, nil
}
