package bencode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingArgs struct {
	ID    string `bencode:"id"`
	Extra *int   `bencode:"extra,omitempty"`
}

type pingMsg struct {
	T string    `bencode:"t"`
	Y string    `bencode:"y"`
	Q string    `bencode:"q,omitempty"`
	A *pingArgs `bencode:"a,omitempty"`
}

func TestMarshalStructOmitsEmpty(t *testing.T) {
	msg := pingMsg{T: "aa", Y: "q", Q: "ping", A: &pingArgs{ID: "0123456789abcdefghij"}}
	data, err := Marshal(msg)
	require.NoError(t, err)
	assert.Equal(t, "d1:a d2:id20:0123456789abcdefghije1:q4:ping1:t2:aa1:y1:qe", stripSpaces(string(data)))
}

// stripSpaces removes the literal space used above purely to make the
// expected dict readable; the encoder never emits spaces.
func stripSpaces(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != ' ' {
			out = append(out, s[i])
		}
	}
	return string(out)
}

func TestUnmarshalStruct(t *testing.T) {
	data, err := Marshal(pingMsg{T: "aa", Y: "q", Q: "ping", A: &pingArgs{ID: "abc"}})
	require.NoError(t, err)

	var out pingMsg
	require.NoError(t, Unmarshal(data, &out))
	assert.Equal(t, "aa", out.T)
	assert.Equal(t, "q", out.Y)
	assert.Equal(t, "ping", out.Q)
	require.NotNil(t, out.A)
	assert.Equal(t, "abc", out.A.ID)
}

func TestMarshalByteArray(t *testing.T) {
	type withID struct {
		ID [4]byte `bencode:"id"`
	}
	in := withID{ID: [4]byte{1, 2, 3, 4}}
	data, err := Marshal(in)
	require.NoError(t, err)

	var out withID
	require.NoError(t, Unmarshal(data, &out))
	assert.Equal(t, in.ID, out.ID)
}
