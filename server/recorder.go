package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/minio/highwayhash"
)

// recorderHashKey is a fixed 32-byte key for the HighwayHash used to
// derive recording filenames. It doesn't need to be secret (the
// recording itself is never authenticated against it); it only needs
// to be a stable, well-distributed 256-bit key, which is all
// highwayhash.New requires.
var recorderHashKey = [32]byte{
	0x77, 0x65, 0x62, 0x73, 0x6f, 0x63, 0x6b, 0x69,
	0x66, 0x79, 0x2d, 0x72, 0x65, 0x63, 0x6f, 0x72,
	0x64, 0x65, 0x72, 0x2d, 0x68, 0x61, 0x73, 0x68,
	0x2d, 0x6b, 0x65, 0x79, 0x2d, 0x76, 0x31, 0x00,
}

// Recorder writes the replay-tooling format described in spec §6: a
// JavaScript array literal of string-encoded frames, framed by
// `var VNC_frame_data = [` ... `];`. It exists purely for replay
// tooling, never for correctness of the bridge itself.
type Recorder struct {
	f     *os.File
	start time.Time
}

// NewRecorder opens "<dir>/<session>.rec" and writes the array header.
// The broker derives session from the target host and the connection's
// correlation ID via RecordingSessionID.
func NewRecorder(dir, session string) (*Recorder, error) {
	if dir == "" {
		return nil, nil
	}
	path := filepath.Join(dir, session+".rec")
	f, err := os.Create(path)
	if err != nil {
		return nil, newConfigError(err, "failed to open recording file")
	}
	if _, err := f.WriteString("var VNC_frame_data = [\n"); err != nil {
		f.Close()
		return nil, newTransportError(err)
	}
	return &Recorder{f: f, start: time.Now()}, nil
}

// RecordingSessionID derives a short, collision-resistant filename
// suffix from a token and a per-connection correlation ID, so two
// concurrent sessions using the same token never collide.
func RecordingSessionID(token, connID string) string {
	h, err := highwayhash.New(recorderHashKey[:])
	if err != nil {
		// Only reachable if recorderHashKey were ever not exactly 32
		// bytes, which it always is.
		return connID
	}
	h.Write([]byte(token + "|" + connID))
	return connID + "-" + fmt.Sprintf("%x", h.Sum64())
}

func (r *Recorder) elapsedMillis() string {
	return strconv.FormatInt(time.Since(r.start).Milliseconds(), 10)
}

// WriteOutgoing records bytes sent toward the target (client→target),
// using the "{<ms>{<payload>" encoding from spec §6.
func (r *Recorder) WriteOutgoing(payload []byte) error {
	if r == nil {
		return nil
	}
	return r.writeEntry("{" + r.elapsedMillis() + "{" + string(payload))
}

// WriteIncoming records bytes received from the target (target→client),
// using the "}<ms>}<payload>" encoding from spec §6.
func (r *Recorder) WriteIncoming(payload []byte) error {
	if r == nil {
		return nil
	}
	return r.writeEntry("}" + r.elapsedMillis() + "}" + string(payload))
}

func (r *Recorder) writeEntry(entry string) error {
	_, err := fmt.Fprintf(r.f, "%q,\n", entry)
	if err != nil {
		return newTransportError(err)
	}
	return nil
}

// Close finishes the array literal and closes the file.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	if _, err := r.f.WriteString("'EOF'];\n"); err != nil {
		r.f.Close()
		return newTransportError(err)
	}
	return r.f.Close()
}
