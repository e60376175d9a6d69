package sample_test

import (
	"testing"

	"github.com/strata-tsdb/strata/sample"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	cases := []struct {
		assertion string
		input     sample.Sample
		size      int
	}{
		{
			"float sample has no trailing bytes",
			sample.NewFloat(1, 42, 3.5),
			sample.FloatSize,
		},
		{
			"tuple size follows the bitmap popcount",
			sample.NewTuple(1, 42, 0b101, []float64{1, 3}),
			sample.HeaderSize + 16,
		},
		{
			"full tuple",
			sample.NewTuple(9, 7, 0b111, []float64{1, 2, 3}),
			sample.HeaderSize + 24,
		},
		{
			"event carries its blob in the trailing bytes",
			sample.NewEvent(2, 9, []byte("opaque event body")),
			sample.HeaderSize + 17,
		},
		{
			"empty event",
			sample.NewEvent(2, 9, []byte{}),
			sample.HeaderSize,
		},
	}
	for _, c := range cases {
		t.Run(c.assertion, func(t *testing.T) {
			require.Equal(t, c.size, c.input.EncodedSize())
			buf := make([]byte, c.size)
			n, err := c.input.Encode(buf)
			require.NoError(t, err)
			require.Equal(t, c.size, n)
			decoded, consumed, err := sample.Decode(buf)
			require.NoError(t, err)
			assert.Equal(t, c.size, consumed)
			assert.Equal(t, c.input, decoded)
		})
	}
}

func TestDecodeSplitsConcatenatedSamples(t *testing.T) {
	samples := []sample.Sample{
		sample.NewFloat(1, 1, 10),
		sample.NewTuple(1, 2, 0b11, []float64{2, 20}),
		sample.NewEvent(2, 3, []byte("ev")),
		sample.NewFloat(3, 4, 40),
	}
	buf := make([]byte, 0, 4096)
	for _, s := range samples {
		chunk := make([]byte, s.EncodedSize())
		n, err := s.Encode(chunk)
		require.NoError(t, err)
		buf = append(buf, chunk[:n]...)
	}
	var decoded []sample.Sample
	for len(buf) > 0 {
		s, consumed, err := sample.Decode(buf)
		require.NoError(t, err)
		decoded = append(decoded, s)
		buf = buf[consumed:]
	}
	require.Equal(t, samples, decoded)
}

func TestEncodeShortBuffer(t *testing.T) {
	s := sample.NewTuple(1, 1, 0b11, []float64{1, 2})
	buf := make([]byte, s.EncodedSize()-1)
	_, err := s.Encode(buf)
	require.ErrorIs(t, err, sample.ErrShortBuffer)
}

func TestEncodeTupleValueCountMismatch(t *testing.T) {
	s := sample.NewTuple(1, 1, 0b11, []float64{1})
	buf := make([]byte, 4096)
	_, err := s.Encode(buf)
	require.Error(t, err)
}

func TestDecodeShortBuffer(t *testing.T) {
	_, _, err := sample.Decode(make([]byte, sample.HeaderSize-1))
	require.ErrorIs(t, err, sample.ErrShortBuffer)
}
