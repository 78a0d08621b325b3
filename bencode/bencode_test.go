package bencode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeRoundTripScenario(t *testing.T) {
	// spec.md §8 scenario 1: Encode round-trip.
	v := Dict(map[string]Value{
		"a":  Str("b"),
		"cd": Int(42),
		"l":  List(Int(1), Int(2), Int(3)),
	})
	got := Encode(v)
	assert.Equal(t, "d1:a1:b2:cdi42e1:lli1ei2ei3eee", string(got))
}

func TestDecodeEncodeRoundTrip(t *testing.T) {
	cases := []string{
		"i0e",
		"i42e",
		"i-42e",
		"0:",
		"4:spam",
		"le",
		"l4:spam4:eggse",
		"de",
		"d3:cow3:moo4:spam4:eggse",
		"d4:spaml1:a1:bee",
	}
	for _, c := range cases {
		v, err := Decode([]byte(c))
		require.NoError(t, err, c)
		assert.Equal(t, c, string(Encode(v)), "round trip for %q", c)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	cases := map[string]error{
		"i-0e":           ErrMalformedInt,
		"i03e":           ErrMalformedInt,
		"02:xy":          ErrMalformedLen,
		"i1ex":           ErrTrailingData,
		"l":              ErrUnterminated,
		"d":              ErrUnterminated,
		"li1e":           ErrUnterminated,
		"d1:ai1e1:ai2ee": ErrDuplicateKey,
	}
	for input, wantErr := range cases {
		_, err := Decode([]byte(input))
		require.Error(t, err, input)
		assert.ErrorIs(t, err, wantErr, input)
	}
}

func TestDecodeToleratesOutOfOrderKeys(t *testing.T) {
	// spec.md §8 documents this as optional; this implementation accepts.
	v, err := Decode([]byte("d1:bi1e1:ai2ee"))
	require.NoError(t, err)
	d, ok := v.Dict()
	require.True(t, ok)
	b, _ := d["a"].Int()
	assert.Equal(t, int64(2), b)
}

func TestEncodeMapKeyOrdering(t *testing.T) {
	v := Dict(map[string]Value{
		"z": Int(1),
		"a": Int(2),
		"m": Int(3),
	})
	got := string(Encode(v))
	assert.Equal(t, "d1:ai2e1:mi3e1:zi1ee", got)
}

func TestEncodeBoolAndRaw(t *testing.T) {
	assert.Equal(t, "i1e", string(Encode(Bool(true))))
	assert.Equal(t, "i0e", string(Encode(Bool(false))))
	assert.Equal(t, "i99e", string(Encode(Raw([]byte("i99e")))))
}

func TestDecodeZeroLengthString(t *testing.T) {
	v, err := Decode([]byte("0:"))
	require.NoError(t, err)
	b, ok := v.Bytes()
	require.True(t, ok)
	assert.Empty(t, b)
}

func TestDecodeLengthOverrun(t *testing.T) {
	_, err := Decode([]byte("5:ab"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLengthOverrun)
}

func TestDecodeUnknownPrefix(t *testing.T) {
	_, err := Decode([]byte("x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownPrefix)
}
