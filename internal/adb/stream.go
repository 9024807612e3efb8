package adb

import (
	"sync"
	"time"

	"github.com/scrcpy-core/adbcore/internal/coreerr"
	"github.com/scrcpy-core/adbcore/internal/ringbuf"
)

// Stream is one logical multiplexed connection opened over a Session,
// backed by a dedicated ring buffer fed by the session's receive loop.
type Stream struct {
	localID  int32
	remoteID int32

	// canMultipleSend mirrors the peer's view of this stream's send
	// discipline: true allows repeated WRTE without waiting between
	// them, matching a positive local id; false (single-send, negative
	// local id) is used for one-shot commands like shell execs.
	canMultipleSend bool

	mu       sync.Mutex
	canWrite bool
	closed   bool

	ring *ringbuf.RingBuffer
}

func newStream(localID, remoteID int32, canMultipleSend bool, capacity int) *Stream {
	return &Stream{
		localID:         localID,
		remoteID:        remoteID,
		canMultipleSend: canMultipleSend,
		ring:            ringbuf.New(capacity),
	}
}

// LocalID returns this stream's locally assigned id, negative when it is
// single-send only.
func (s *Stream) LocalID() int32 { return s.localID }

// RemoteID returns the peer-assigned id for this stream, or 0 before the
// peer's OKAY response to OPEN has arrived.
func (s *Stream) RemoteID() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteID
}

func (s *Stream) setRemoteID(id int32) {
	s.mu.Lock()
	s.remoteID = id
	s.canWrite = true
	s.mu.Unlock()
}

// markWritable is invoked when an OKAY referencing this stream arrives.
// scrcpy's protocol ignores the resulting flow-control gate for writes
// (see Session.Write); it exists mainly to mark the stream as having
// completed its OPEN round trip.
func (s *Stream) markWritable() {
	s.mu.Lock()
	s.canWrite = true
	s.mu.Unlock()
}

// deliver is called by the session's receive loop with a WRTE payload
// addressed to this stream. It never blocks: a full ring buffer drops
// the payload with a warning, matching the reference implementation's
// "prefer new data flowing over perfect delivery" behavior under
// backpressure it cannot otherwise apply (OKAY being ignored for flow
// control upstream).
func (s *Stream) deliver(data []byte) int {
	written := 0
	for written < len(data) {
		region := s.ring.WriteRegion()
		if region == nil {
			break
		}
		n := copy(region, data[written:])
		s.ring.CommitWrite(n)
		written += n
	}
	return written
}

// IsClosed reports whether CLSE has been seen for this stream, locally
// or from the peer.
func (s *Stream) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Stream) markClosed() {
	s.mu.Lock()
	alreadyClosed := s.closed
	s.closed = true
	s.mu.Unlock()
	if !alreadyClosed {
		s.ring.Close()
	}
}

// Read copies up to len(buf) bytes into buf, blocking until at least one
// byte is available, the stream closes, or timeout elapses. It returns
// the number of bytes read and, if the stream is closed with no data
// left, coreerr.StreamClosed.
func (s *Stream) Read(buf []byte, timeoutMs int) (int, error) {
	return s.read(buf, timeoutMs, false)
}

// ReadExact fills buf completely, blocking across multiple ring buffer
// waits if necessary, or returns an error if the stream closes first.
func (s *Stream) ReadExact(buf []byte, timeoutMs int) error {
	_, err := s.read(buf, timeoutMs, true)
	return err
}

func (s *Stream) read(buf []byte, timeoutMs int, exact bool) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}

	timeout := waitTimeout(timeoutMs)
	total := 0
	for total < len(buf) {
		// Always wait for just 1 byte, even in exact mode: waiting for
		// the full remaining length would require the whole frame to be
		// resident in the ring buffer at once, which deadlocks any frame
		// larger than the ring's capacity (e.g. a multi-megabyte video
		// keyframe against a much smaller per-stream ring). Draining
		// incrementally into buf bounds frame size by the caller's
		// buffer, not the ring.
		if !s.ring.WaitForData(1, timeout) {
			if s.ring.IsClosed() && s.ring.Size() == 0 {
				if total > 0 && !exact {
					return total, nil
				}
				return total, coreerr.StreamClosed
			}
			return total, coreerr.Timeout
		}

		region := s.ring.ReadRegion()
		if region == nil {
			continue
		}
		n := copy(buf[total:], region)
		s.ring.ConsumeRead(n)
		total += n

		if !exact && n > 0 {
			return total, nil
		}
	}
	return total, nil
}

func waitTimeout(timeoutMs int) time.Duration {
	if timeoutMs < 0 {
		return ringbuf.WaitForever
	}
	return time.Duration(timeoutMs) * time.Millisecond
}
