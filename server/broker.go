package server

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nuid"
	"golang.org/x/time/rate"
)

// BrokerState is the C4 connection lifecycle, exactly per spec §4.4:
// INIT → VALIDATED → AUTHED → CONNECTED → PUMPING → CLOSING → CLOSED.
// Token/origin/auth validation (VALIDATED, AUTHED) happens inside the
// upgrade handshake itself (server/upgrade.go), since those checks
// must be able to reject with an HTTP status before the 101 response
// is written; the broker picks up already in possession of a resolved
// Target and simply records the state for logging before moving on to
// CONNECTED.
type BrokerState int

const (
	StateInit BrokerState = iota
	StateValidated
	StateAuthed
	StateConnected
	StatePumping
	StateClosing
	StateClosed
)

func (s BrokerState) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateValidated:
		return "VALIDATED"
	case StateAuthed:
		return "AUTHED"
	case StateConnected:
		return "CONNECTED"
	case StatePumping:
		return "PUMPING"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

// pumpChunk bounds a single target→client read, per spec §4.4 point 5
// ("read up to N bytes from target").
const pumpChunk = 32 * 1024

// Broker drives one upgraded connection through dial, pump, and
// teardown (spec §4.4). One Broker instance serves exactly one
// connection and is never reused, mirroring the teacher's per-client
// goroutine model (spec §5).
type Broker struct {
	opts *Options
	log  *Logger

	connID string

	mu    sync.Mutex
	state BrokerState

	cancel context.CancelFunc
}

// NewBroker prepares a broker for one freshly upgraded connection. Its
// connection ID comes from nuid.Next() and is threaded through every
// subsequent log line.
func NewBroker(opts *Options, log *Logger) *Broker {
	id := nuid.Next()
	return &Broker{
		opts:   opts,
		log:    log.WithConn(id),
		connID: id,
		state:  StateInit,
	}
}

func (b *Broker) setState(s BrokerState) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

// State returns the broker's current lifecycle state.
func (b *Broker) State() BrokerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Cancel requests an orderly shutdown regardless of which pump
// direction is currently blocked (spec §5: "the broker task exposes a
// cancel signal").
func (b *Broker) Cancel() {
	b.mu.Lock()
	cancel := b.cancel
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run executes steps 4–7 of spec §4.4 against an already-upgraded
// connection: dial the resolved target, pump both directions
// concurrently, and tear down on the first terminal condition from
// either side. It blocks until the connection is fully closed.
func (b *Broker) Run(conn *Conn, target Target) error {
	b.setState(StateValidated)
	b.setState(StateAuthed)

	dialed, err := dialTarget(target)
	if err != nil {
		terr := newTargetError(err, "failed to connect to target")
		b.log.Errorf("target dial failed: %v", terr)
		_ = conn.Close(CloseInternalError, "connection to target failed")
		b.setState(StateClosed)
		return terr
	}
	defer dialed.Close()
	b.setState(StateConnected)
	b.log.Noticef("connected to target")

	var rec *Recorder
	if b.opts != nil && b.opts.RecordDir != "" {
		session := RecordingSessionID(target.Host, b.connID)
		r, err := NewRecorder(b.opts.RecordDir, session)
		if err != nil {
			b.log.Warnf("failed to open recording file: %v", err)
		} else {
			rec = r
			defer rec.Close()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.mu.Lock()
	b.cancel = cancel
	b.mu.Unlock()
	defer cancel()

	var limiter *rate.Limiter
	if b.opts != nil && b.opts.TargetReadRate > 0 {
		burst := b.opts.TargetReadBurst
		if burst <= 0 {
			burst = pumpChunk
		}
		limiter = rate.NewLimiter(rate.Limit(b.opts.TargetReadRate), burst)
	}

	b.setState(StatePumping)

	errCh := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		errCh <- b.pumpClientToTarget(ctx, conn, dialed, rec)
	}()
	go func() {
		defer wg.Done()
		errCh <- b.pumpTargetToClient(ctx, conn, dialed, rec, limiter)
	}()

	var first error
	go func() {
		wg.Wait()
		close(errCh)
	}()
	for e := range errCh {
		if first == nil {
			first = e
		}
		cancel() // first terminal condition from either side triggers teardown (spec §4.4 point 7)
	}

	b.setState(StateClosing)
	b.teardown(conn, dialed)
	b.setState(StateClosed)
	return first
}

// teardown implements spec §4.4 point 7: flush a best-effort CLOSE,
// shut the target half-duplex down, and release everything, all
// bounded by a 1s timeout (spec §5).
func (b *Broker) teardown(conn *Conn, dialed net.Conn) {
	timeout := time.Second
	if b.opts != nil && b.opts.ShutdownFlushTimeout > 0 {
		timeout = b.opts.ShutdownFlushTimeout
	}

	done := make(chan struct{})
	go func() {
		_ = conn.Close(CloseNormal, "")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		b.log.Warnf("close flush timed out, forcing teardown")
	}

	if tcp, ok := dialed.(*net.TCPConn); ok {
		_ = tcp.CloseWrite()
	}
	_ = dialed.Close()
}

// pumpClientToTarget is the client→target half of spec §4.4 point 5:
// receive a message from C2, run it through the interceptor if any,
// and write the result to the target.
func (b *Broker) pumpClientToTarget(ctx context.Context, conn *Conn, target net.Conn, rec *Recorder) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		res := conn.ReceiveMessage()
		switch res.Outcome {
		case ReceiveClosed:
			return nil
		case ReceiveError:
			return newTransportError(res.Err)
		case ReceiveWouldBlock:
			time.Sleep(5 * time.Millisecond)
			continue
		}

		data := res.Data
		if b.opts != nil && b.opts.Interceptor != nil {
			data = b.opts.Interceptor.FromClient(data)
			b.drainInjected(conn, target)
		}
		if data == nil {
			continue
		}
		if rec != nil {
			_ = rec.WriteOutgoing(data)
		}
		if _, err := target.Write(data); err != nil {
			return newTargetError(err, "write to target failed")
		}
	}
}

// pumpTargetToClient is the target→client half of spec §4.4 point 5:
// read up to pumpChunk bytes from the target, run them through the
// interceptor if any, and send the result as a single BINARY message.
func (b *Broker) pumpTargetToClient(ctx context.Context, conn *Conn, target net.Conn, rec *Recorder, limiter *rate.Limiter) error {
	buf := make([]byte, pumpChunk)
	for {
		if ctx.Err() != nil {
			return nil
		}
		readBuf := buf
		if limiter != nil && limiter.Burst() < len(readBuf) {
			readBuf = readBuf[:limiter.Burst()]
		}
		n, err := target.Read(readBuf)
		if n > 0 && limiter != nil {
			// Charge one token per byte read, so the limiter shapes bytes.
			if werr := limiter.WaitN(ctx, n); werr != nil {
				return nil
			}
		}
		if n > 0 {
			data := append([]byte(nil), buf[:n]...)
			if b.opts != nil && b.opts.Interceptor != nil {
				data = b.opts.Interceptor.FromTarget(data)
				b.drainInjected(conn, target)
			}
			if data != nil {
				if rec != nil {
					_ = rec.WriteIncoming(data)
				}
				for {
					outcome, serr := conn.SendMessage(OpBinary, data)
					if serr != nil {
						return newTransportError(serr)
					}
					if outcome == SendOK {
						break
					}
					time.Sleep(5 * time.Millisecond)
				}
			}
		}
		if err != nil {
			if err == context.Canceled {
				return nil
			}
			return newTargetError(err, "read from target failed")
		}
	}
}

// drainInjected flushes any side-channel bytes the interceptor wants
// pushed immediately toward either peer (spec §4.5).
func (b *Broker) drainInjected(conn *Conn, target net.Conn) {
	toClient, toTarget := b.opts.Interceptor.Injected()
	for _, chunk := range toClient {
		_, _ = conn.SendMessage(OpBinary, chunk)
	}
	for _, chunk := range toTarget {
		_, _ = target.Write(chunk)
	}
}

// dialTarget opens the resolved backend per spec §4.4 point 4: TCP or
// UNIX stream socket.
func dialTarget(target Target) (net.Conn, error) {
	switch target.Kind {
	case TargetUnix:
		return net.Dial("unix", target.Path)
	default:
		addr := net.JoinHostPort(target.Host, strconv.Itoa(int(target.Port)))
		return net.DialTimeout("tcp", addr, 10*time.Second)
	}
}
