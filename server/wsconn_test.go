package server

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConnPair(t *testing.T) (*Conn, net.Conn) {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	_ = serverSide.SetDeadline(time.Now().Add(2 * time.Second))
	return NewConn(serverSide, 0, NewLogger(nil)), clientSide
}

func TestSendMessageRoundTrip(t *testing.T) {
	conn, raw := newConnPair(t)
	defer raw.Close()

	done := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 1024)
		n, _ := raw.Read(buf)
		done <- buf[:n]
	}()

	_, err := conn.SendMessage(OpBinary, []byte("hi"))
	require.NoError(t, err)

	// The server never masks its own frames (spec §4.1), so this
	// compares directly against Encode's unmasked wire form rather
	// than going through Decode, which enforces the client-masking
	// rule and would reject it.
	wire := <-done
	assert.Equal(t, Encode(OpBinary, []byte("hi"), false), wire)
}

func TestReceiveMessageFragmentedAcrossReads(t *testing.T) {
	conn, raw := newConnPair(t)
	defer raw.Close()

	full := append(
		append([]byte{0x01, 0x83, 0x00, 0x00, 0x00, 0x00}, 'H', 'e', 'l'),
		append([]byte{0x80, 0x82, 0x00, 0x00, 0x00, 0x00}, 'l', 'o')...,
	)
	go func() {
		raw.Write(full[:8])
		time.Sleep(10 * time.Millisecond)
		raw.Write(full[8:])
	}()

	var res ReceiveResult
	for i := 0; i < 20; i++ {
		res = conn.ReceiveMessage()
		if res.Outcome == ReceiveMessage {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, ReceiveMessage, res.Outcome)
	assert.Equal(t, OpText, res.Opcode)
	assert.Equal(t, "Hello", string(res.Data))
}

func TestReceiveMessageClosedIsIdempotent(t *testing.T) {
	conn, raw := newConnPair(t)
	defer raw.Close()

	closeFrame := Encode(OpClose, closePayload(CloseNormal, "bye"), true)
	go raw.Write(closeFrame)
	go func() {
		discard := make([]byte, 64)
		for {
			if _, err := raw.Read(discard); err != nil {
				return
			}
		}
	}()

	var first, second ReceiveResult
	for i := 0; i < 20; i++ {
		first = conn.ReceiveMessage()
		if first.Outcome == ReceiveClosed {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, ReceiveClosed, first.Outcome)
	second = conn.ReceiveMessage()
	assert.Equal(t, first, second)
}

func TestPingIsAnsweredWithPong(t *testing.T) {
	conn, raw := newConnPair(t)
	defer raw.Close()

	ping := Encode(OpPing, []byte("ping-data"), true)
	go raw.Write(ping)
	go conn.ReceiveMessage()

	buf := make([]byte, 64)
	n, err := raw.Read(buf)
	require.NoError(t, err)
	// The server's pong reply is itself unmasked, so parse it with the
	// same direct-comparison approach as TestSendMessageRoundTrip.
	assert.Equal(t, Encode(OpPong, []byte("ping-data"), false), buf[:n])
}

// spec §6: fragmenting a message across many sub-cap frames must not
// bypass the configured max inbound message size.
func TestReceiveMessageFragmentedExceedsMaxSize(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	_ = serverSide.SetDeadline(time.Now().Add(2 * time.Second))
	conn := NewConn(serverSide, 10, NewLogger(nil))
	defer clientSide.Close()

	first := Encode(OpText, []byte("12345"), true)
	first[0] = 0x01 // FIN=0: fragment start
	second := Encode(OpContinuation, []byte("67890"), true)
	second[0] = 0x00 // FIN=0: still more to come
	third := Encode(OpContinuation, []byte("1"), true)
	third[0] = 0x80 // FIN=1: would complete the message if allowed

	go func() {
		clientSide.Write(first)
		time.Sleep(5 * time.Millisecond)
		clientSide.Write(second)
		time.Sleep(5 * time.Millisecond)
		clientSide.Write(third)
	}()
	go func() {
		discard := make([]byte, 64)
		for {
			if _, err := clientSide.Read(discard); err != nil {
				return
			}
		}
	}()

	var res ReceiveResult
	for i := 0; i < 40; i++ {
		res = conn.ReceiveMessage()
		if res.Outcome == ReceiveClosed {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, ReceiveClosed, res.Outcome)
	assert.Equal(t, CloseMessageTooBig, res.CloseCode)
}
