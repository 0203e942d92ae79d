package server

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"unicode/utf8"

	"github.com/pion/transport/packetio"
)

// maxReadChunk bounds how much we pull off the transport per Read call
// before handing the bytes to Decode; it has no bearing on the maximum
// message size, which Decode enforces per frame via maxPayload and
// handleFrame enforces across the fragments of one message.
const maxReadChunk = 4096

// partialMessage accumulates the payload of a fragmented message in
// progress, along with the opcode of its first frame (spec §3).
type partialMessage struct {
	opcode  Opcode
	payload []byte
}

// ReceiveOutcome distinguishes the four possible results of
// ReceiveMessage, per spec §4.2.
type ReceiveOutcome int

const (
	ReceiveMessage ReceiveOutcome = iota
	ReceiveWouldBlock
	ReceiveClosed
	ReceiveError
)

// ReceiveResult is the result of one ReceiveMessage call.
type ReceiveResult struct {
	Outcome ReceiveOutcome

	Opcode Opcode
	Data   []byte

	CloseCode uint16
	Reason    string

	Err error
}

// SendOutcome distinguishes the two possible results of SendMessage.
type SendOutcome int

const (
	SendOK SendOutcome = iota
	SendWouldBlock
)

// Conn is the C2 message-stream adapter: a stateful wrapper over a
// duplex byte transport that reassembles fragments, answers pings, and
// performs the close handshake (spec §3: Message stream state).
type Conn struct {
	transport io.ReadWriteCloser

	maxMessageSize int64

	sendScratch *packetio.Buffer // holds a queued frame until the transport drains it
	readBuf     []byte           // bytes pulled from transport, not yet decoded

	partial *partialMessage

	closeSent     bool
	closeReceived bool
	closeCode     uint16
	closeReason   string

	log *Logger
}

// NewConn wraps transport in a message stream. maxMessageSize bounds
// the total size of a (possibly reassembled) inbound message; 0 means
// the spec's default of 2 MiB.
func NewConn(transport io.ReadWriteCloser, maxMessageSize int64, log *Logger) *Conn {
	if maxMessageSize <= 0 {
		maxMessageSize = 2 * 1024 * 1024
	}
	send := packetio.NewBuffer()
	send.SetLimitSize(uint32(maxMessageSize) + maxFrameHeaderLen)
	return &Conn{
		transport:      transport,
		maxMessageSize: maxMessageSize,
		sendScratch:    send,
		log:            log,
	}
}

// Pending reports whether the decode scratch already holds at least one
// more whole frame, so the caller need not wait on the transport
// readiness signal again (spec §4.2: pending()).
func (c *Conn) Pending() bool {
	if len(c.readBuf) < 2 {
		return false
	}
	res := Decode(c.readBuf, c.maxMessageSize)
	return res.Outcome == OutcomeFrame
}

// SendMessage atomically encodes and queues a single non-fragmented
// frame. It reports SendWouldBlock if the transport cannot accept the
// whole frame right now; outstanding bytes stay in the send scratch
// buffer and no new message is accepted until it drains (spec §4.2).
func (c *Conn) SendMessage(opcode Opcode, payload []byte) (SendOutcome, error) {
	if c.sendScratch.Count() > 0 {
		outcome, err := c.flushSend()
		if err != nil || outcome == SendWouldBlock {
			return outcome, err
		}
	}
	frame := Encode(opcode, payload, false)
	if _, err := c.sendScratch.Write(frame); err != nil {
		return SendOK, newTransportError(err)
	}
	return c.flushSend()
}

// flushSend drains whatever is sitting in the send scratch buffer onto
// the transport, stopping (without error) the moment the transport
// can't take any more right now.
func (c *Conn) flushSend() (SendOutcome, error) {
	// The scratch buffer hands back one whole frame per Read, so buf must
	// be able to hold the largest frame the scratch limit admits.
	buf := make([]byte, int(c.maxMessageSize)+maxFrameHeaderLen)
	for c.sendScratch.Count() > 0 {
		n, err := c.sendScratch.Read(buf)
		if err != nil {
			return SendOK, newTransportError(err)
		}
		if _, err := c.transport.Write(buf[:n]); err != nil {
			if isWouldBlock(err) {
				return SendWouldBlock, nil
			}
			return SendOK, newTransportError(err)
		}
	}
	return SendOK, nil
}

// Close queues a CLOSE frame once; idempotent (spec §4.2).
func (c *Conn) Close(code uint16, reason string) error {
	if c.closeSent {
		return nil
	}
	c.closeSent = true
	payload := closePayload(code, reason)
	_, err := c.SendMessage(OpClose, payload)
	return err
}

func closePayload(code uint16, reason string) []byte {
	if len(reason) > maxControlPayload-2 {
		reason = reason[:maxControlPayload-5] + "..."
	}
	buf := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(buf[:2], code)
	copy(buf[2:], reason)
	return buf
}

// ReceiveMessage returns one message's worth of data, answering control
// frames transparently along the way (spec §4.2). After Closed is
// returned once, every subsequent call returns the same Closed result
// (spec §8: idempotence).
func (c *Conn) ReceiveMessage() ReceiveResult {
	if c.closeReceived {
		return ReceiveResult{Outcome: ReceiveClosed, CloseCode: c.closeCode, Reason: c.closeReason}
	}

	for {
		res := Decode(c.readBuf, c.maxMessageSize)
		switch res.Outcome {
		case OutcomeNeedMore:
			if !c.readMore() {
				return ReceiveResult{Outcome: ReceiveWouldBlock}
			}
			continue

		case OutcomeProtocolError:
			return c.protoErr(res.Reason)

		case OutcomeFrame:
			c.readBuf = c.readBuf[res.Consumed:]
			out, done := c.handleFrame(res.Frame)
			if done {
				return out
			}
			// Control frame consumed, or mid-fragment continuation
			// with no deliverable message yet: loop for more.
		}
	}
}

// readMore pulls up to maxReadChunk bytes from the transport and
// appends them to readBuf. It returns false (without error) when the
// transport signals it has nothing available right now; a hard error
// or EOF is folded into a synthetic abnormal-closure (1006) close so the
// caller still gets a well-formed terminal ReceiveResult on the next call.
func (c *Conn) readMore() bool {
	chunk := make([]byte, maxReadChunk)
	n, err := c.transport.Read(chunk)
	if n > 0 {
		c.readBuf = append(c.readBuf, chunk[:n]...)
	}
	if err != nil {
		if isWouldBlock(err) {
			return n > 0
		}
		reason := "target closed"
		if err != io.EOF {
			reason = err.Error()
		}
		c.closeReceived = true
		c.closeCode, c.closeReason = CloseAbnormal, reason
		return n > 0
	}
	return true
}

// handleFrame dispatches one decoded frame per the C2 state table in
// spec §4.2. done indicates ReceiveMessage should return `out` now;
// otherwise the caller loops to decode the next buffered frame.
func (c *Conn) handleFrame(f Frame) (ReceiveResult, bool) {
	switch f.Opcode {
	case OpPing:
		_, _ = c.sendControl(OpPong, f.Payload)
		return ReceiveResult{}, false

	case OpPong:
		return ReceiveResult{}, false

	case OpClose:
		c.closeReceived = true
		code, reason := parseClosePayload(f.Payload)
		c.closeCode, c.closeReason = code, reason
		if !c.closeSent {
			_ = c.Close(code, "")
		}
		return ReceiveResult{Outcome: ReceiveClosed, CloseCode: code, Reason: reason}, true

	case OpText, OpBinary:
		if c.partial != nil {
			return c.protoErr("data frame while a fragmented message is in progress"), true
		}
		if f.FIN {
			return ReceiveResult{Outcome: ReceiveMessage, Opcode: f.Opcode, Data: f.Payload}, true
		}
		if int64(len(f.Payload)) > c.maxMessageSize {
			return c.closeErr(CloseMessageTooBig, "fragmented message exceeds configured size cap"), true
		}
		c.partial = &partialMessage{opcode: f.Opcode, payload: append([]byte(nil), f.Payload...)}
		return ReceiveResult{}, false

	case OpContinuation:
		if c.partial == nil {
			return c.protoErr("continuation frame without an open fragmented message"), true
		}
		c.partial.payload = append(c.partial.payload, f.Payload...)
		if int64(len(c.partial.payload)) > c.maxMessageSize {
			c.partial = nil
			return c.closeErr(CloseMessageTooBig, "fragmented message exceeds configured size cap"), true
		}
		if f.FIN {
			data := c.partial.payload
			opcode := c.partial.opcode
			c.partial = nil
			return ReceiveResult{Outcome: ReceiveMessage, Opcode: opcode, Data: data}, true
		}
		return ReceiveResult{}, false
	}
	return ReceiveResult{}, false
}

func (c *Conn) protoErr(reason string) ReceiveResult {
	return c.closeErr(CloseProtocolError, reason)
}

// closeErr queues a CLOSE frame with the given code/reason, marks the
// stream as closed, and returns the terminal ReceiveClosed result.
func (c *Conn) closeErr(code uint16, reason string) ReceiveResult {
	_ = c.Close(code, reason)
	c.closeReceived = true
	c.closeCode, c.closeReason = code, reason
	return ReceiveResult{Outcome: ReceiveClosed, CloseCode: code, Reason: reason}
}

// sendControl writes a control frame directly to the transport ahead of
// any pending data frames, per spec §5 ("PONGs ... jump the queue").
func (c *Conn) sendControl(opcode Opcode, payload []byte) (SendOutcome, error) {
	frame := Encode(opcode, payload, false)
	if _, err := c.transport.Write(frame); err != nil {
		if isWouldBlock(err) {
			return SendWouldBlock, nil
		}
		return SendOK, newTransportError(err)
	}
	return SendOK, nil
}

func parseClosePayload(payload []byte) (uint16, string) {
	if len(payload) < 2 {
		return CloseNoStatusRecvd, ""
	}
	code := binary.BigEndian.Uint16(payload[:2])
	reason := string(payload[2:])
	if reason != "" && !utf8.ValidString(reason) {
		return CloseProtocolError, "invalid utf8 in close reason"
	}
	return code, reason
}

func isWouldBlock(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}
