// Package decoder defines the Decoder capability stream tasks hand
// frames to, a session-scoped registry of concrete decoders keyed by
// handle, and the backpressure-aware push helper every framer task uses
// to submit a frame without blocking the receive path indefinitely.
package decoder

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scrcpy-core/adbcore/internal/coreerr"
	"github.com/scrcpy-core/adbcore/internal/logging"
)

// CODECDATA is the only flag bit submit_input callers need to know
// about: it marks a buffer as codec-configuration data rather than a
// decodable frame.
const CODECDATA uint32 = 8

// ErrWouldBlock is returned by AcquireInput when the decoder's input
// pool is momentarily empty; it is not a failure of the decoder itself,
// just backpressure, and callers are expected to retry.
var ErrWouldBlock = errors.New("decoder: acquire_input would block")

// Config carries everything a Decoder needs to initialize: codec
// identity, video dimensions or audio format, and an opaque surface
// handle for video decoders that render directly to a platform surface.
// The core never interprets SurfaceHandle beyond passing it through.
type Config struct {
	CodecType     string
	Width, Height uint32
	SampleRate    uint32
	Channels      uint32
	SurfaceHandle string
}

// InputBuffer is a handle to a decoder-owned input slot: Data is sized
// to the buffer's writable capacity, and the stream task copies its
// frame bytes into Data[:n] before calling SubmitInput.
type InputBuffer struct {
	Index int
	Data  []byte
}

// Decoder is the capability-typed port every concrete codec
// implementation satisfies. It deliberately has no base type to
// inherit from: callers hold a Decoder value and never know which
// concrete codec backs it.
type Decoder interface {
	Init(cfg Config) error
	Start() error
	AcquireInput(timeout time.Duration) (*InputBuffer, error)
	SubmitInput(buf *InputBuffer, pts uint64, size int, flags uint32) error
	Stop() error
}

// Registry is a session-scoped map from an opaque handle to the
// concrete Decoder it was issued for. Unlike a process-global registry,
// a Registry's lifetime matches its owning mirror.Session, so handles
// from one session can never be confused with another's.
type Registry struct {
	mu       sync.Mutex
	decoders map[uuid.UUID]Decoder
}

// NewRegistry creates an empty decoder registry.
func NewRegistry() *Registry {
	return &Registry{decoders: make(map[uuid.UUID]Decoder)}
}

// Register issues a fresh handle for d and returns it.
func (r *Registry) Register(d Decoder) uuid.UUID {
	handle := uuid.New()
	r.mu.Lock()
	r.decoders[handle] = d
	r.mu.Unlock()
	return handle
}

// Get resolves handle to its Decoder, if still registered.
func (r *Registry) Get(handle uuid.UUID) (Decoder, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.decoders[handle]
	return d, ok
}

// Remove stops tracking handle. It does not call Stop on the decoder;
// callers are expected to have done that already.
func (r *Registry) Remove(handle uuid.UUID) {
	r.mu.Lock()
	delete(r.decoders, handle)
	r.mu.Unlock()
}

// BackpressurePolicy controls how long PushWithBackpressure retries a
// WouldBlock before giving up on a frame.
type BackpressurePolicy struct {
	RetryDelay time.Duration
	// MaxRetries bounds the retry loop; 0 (Unbounded true) retries
	// forever, logging periodically, the policy audio uses since
	// dropping audio is worse for perceived quality than a bounded
	// video frame drop.
	MaxRetries int
	Unbounded  bool
	// LogEvery controls how often an unbounded retry logs while still
	// waiting, so a stalled decoder doesn't spam the log once per
	// RetryDelay forever.
	LogEvery int
}

// VideoBackpressure is the ~500 x 10ms = 5s video retry window from the
// reference implementation.
func VideoBackpressure() BackpressurePolicy {
	return BackpressurePolicy{RetryDelay: 10 * time.Millisecond, MaxRetries: 500}
}

// AudioBackpressure retries indefinitely with periodic logging, per the
// reference implementation's "audio glitches are worse than a stalled
// decoder" tradeoff.
func AudioBackpressure() BackpressurePolicy {
	return BackpressurePolicy{RetryDelay: 10 * time.Millisecond, Unbounded: true, LogEvery: 100}
}

// PushWithBackpressure submits data to dec, retrying AcquireInput under
// the given policy. Under a bounded policy, a frame that never gets a
// buffer within MaxRetries attempts is dropped with a log line and
// coreerr.BufferPoolExhausted is returned; an unbounded policy retries
// until a buffer is available, logging every LogEvery attempts.
func PushWithBackpressure(dec Decoder, data []byte, pts uint64, flags uint32, policy BackpressurePolicy, streamLabel string) error {
	log := logging.Compat()
	attempt := 0
	for {
		buf, err := dec.AcquireInput(policy.RetryDelay)
		if err == nil {
			n := copy(buf.Data, data)
			if err := dec.SubmitInput(buf, pts, n, flags); err != nil {
				return coreerr.Wrap(coreerr.KindDecoderFatal, "decoder: submit_input failed", err)
			}
			return nil
		}
		if !errors.Is(err, ErrWouldBlock) {
			return coreerr.Wrap(coreerr.KindDecoderFatal, "decoder: acquire_input failed", err)
		}

		attempt++
		if policy.Unbounded {
			if policy.LogEvery > 0 && attempt%policy.LogEvery == 0 {
				log.Warnf("decoder: %s still waiting for an input buffer after %d attempts", streamLabel, attempt)
			}
			continue
		}
		if attempt >= policy.MaxRetries {
			log.Warnf("decoder: %s dropped a %d-byte frame after %d failed acquire_input attempts", streamLabel, len(data), attempt)
			return coreerr.BufferPoolExhausted
		}
	}
}
