package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// §8 scenario 1: decode a masked client text frame "Hello".
func TestDecodeHelloMasked(t *testing.T) {
	input := []byte{0x81, 0x85, 0x37, 0xFA, 0x21, 0x3D, 0x7F, 0x9F, 0x4D, 0x51, 0x58}
	res := Decode(input, 0)
	require.Equal(t, OutcomeFrame, res.Outcome)
	assert.True(t, res.Frame.FIN)
	assert.Equal(t, OpText, res.Frame.Opcode)
	assert.True(t, res.Frame.Masked)
	assert.Equal(t, "Hello", string(res.Frame.Payload))
	assert.Equal(t, 11, res.Consumed)
}

// §8 scenario 2: encode text "Hello" server-side, unmasked.
func TestEncodeHelloUnmasked(t *testing.T) {
	got := Encode(OpText, []byte("Hello"), false)
	want := []byte{0x81, 0x05, 0x48, 0x65, 0x6C, 0x6C, 0x6F}
	assert.Equal(t, want, got)
}

// §8 scenario 3: fragmented "Hello" delivered as TEXT then CONT(FIN=1),
// masked as all client frames must be.
func TestDecodeFragmentedHello(t *testing.T) {
	first := []byte{0x01, 0x83, 0x00, 0x00, 0x00, 0x00, 0x48, 0x65, 0x6C}
	res1 := Decode(first, 0)
	require.Equal(t, OutcomeFrame, res1.Outcome)
	assert.False(t, res1.Frame.FIN)
	assert.Equal(t, OpText, res1.Frame.Opcode)
	assert.Equal(t, "Hel", string(res1.Frame.Payload))

	second := []byte{0x80, 0x82, 0x00, 0x00, 0x00, 0x00, 0x6C, 0x6F}
	res2 := Decode(second, 0)
	require.Equal(t, OutcomeFrame, res2.Outcome)
	assert.True(t, res2.Frame.FIN)
	assert.Equal(t, OpContinuation, res2.Frame.Opcode)
	assert.Equal(t, "lo", string(res2.Frame.Payload))
}

// §8 scenario 4: extended 16-bit length header for a 260-byte masked payload.
func TestDecodeExtended16BitLength(t *testing.T) {
	payload := make([]byte, 260)
	res := Decode(Encode(OpBinary, payload, true), 0)
	require.Equal(t, OutcomeFrame, res.Outcome)
	assert.Equal(t, OpBinary, res.Frame.Opcode)
	assert.Len(t, res.Frame.Payload, 260)
}

// §8 round-trip property: decode(encode(opcode, P, mask=true)) yields
// the same opcode and payload back, as a client frame always would.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		opcode  Opcode
		payload []byte
	}{
		{OpText, []byte("")},
		{OpBinary, []byte("x")},
		{OpBinary, make([]byte, 125)},
		{OpBinary, make([]byte, 126)},
		{OpBinary, make([]byte, 65536)},
	}
	for _, c := range cases {
		encoded := Encode(c.opcode, c.payload, true)
		res := Decode(encoded, 0)
		require.Equal(t, OutcomeFrame, res.Outcome)
		assert.Equal(t, c.opcode, res.Frame.Opcode)
		assert.Equal(t, c.payload, res.Frame.Payload)
		assert.Equal(t, len(encoded), res.Consumed)
	}
}

// §8 property: any strict prefix of a valid encoded frame yields NeedMore.
func TestDecodeNeedMoreOnPrefix(t *testing.T) {
	encoded := Encode(OpBinary, []byte("hello world"), true)
	for n := 0; n < len(encoded); n++ {
		res := Decode(encoded[:n], 0)
		require.Equal(t, OutcomeNeedMore, res.Outcome, "prefix length %d", n)
		assert.Greater(t, res.MinBytes, 0)
	}
}

// spec §4.1/§6: the server never accepts an unmasked frame from a
// client, data or control, and closes with 1002 on any violation.
func TestDecodeRejectsUnmaskedClientFrame(t *testing.T) {
	unmasked := Encode(OpText, []byte("hi"), false)
	res := Decode(unmasked, 0)
	require.Equal(t, OutcomeProtocolError, res.Outcome)
	assert.Equal(t, CloseProtocolError, res.CloseCode)
}

func TestDecodeRejectsUnmaskedControlFrame(t *testing.T) {
	unmasked := Encode(OpPing, []byte("ping"), false)
	res := Decode(unmasked, 0)
	require.Equal(t, OutcomeProtocolError, res.Outcome)
	assert.Equal(t, CloseProtocolError, res.CloseCode)
}

func TestDecodeRejects126MarkerWithSmallActualLength(t *testing.T) {
	// 126 marker but actual length < 126 is a protocol error.
	buf := []byte{0x82, 0xFE, 0x00, 0x05, 'h', 'e', 'l', 'l', 'o'}
	res := Decode(buf, 0)
	assert.Equal(t, OutcomeProtocolError, res.Outcome)
}

func TestDecodeRejectsCloseWithOneBytePayload(t *testing.T) {
	buf := []byte{0x88, 0x81, 0x00, 0x00, 0x00, 0x01}
	res := Decode(buf, 0)
	assert.Equal(t, OutcomeProtocolError, res.Outcome)
}

func TestDecodeCapsAtMaxPayload(t *testing.T) {
	encoded := Encode(OpBinary, make([]byte, 100), true)
	res := Decode(encoded, 10)
	assert.Equal(t, OutcomeProtocolError, res.Outcome)
	assert.Equal(t, CloseMessageTooBig, res.CloseCode)
}
