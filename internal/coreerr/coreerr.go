// Package coreerr defines the error kinds that cross package boundaries
// in adbcore, so callers can branch with errors.Is regardless of which
// package wrapped the underlying cause.
package coreerr

import "errors"

// Kind identifies one of the error categories a caller can match on.
type Kind string

const (
	// KindTransportBroken means the underlying connection failed (reset,
	// EOF, write error) — the session is no longer usable.
	KindTransportBroken Kind = "transport_broken"
	// KindStreamClosed means an operation targeted an adb.Stream that
	// has already been closed locally or remotely.
	KindStreamClosed Kind = "stream_closed"
	// KindTimeout means a bounded wait (handshake, ring buffer read)
	// expired before the condition it was waiting on was satisfied.
	KindTimeout Kind = "timeout"
	// KindProtocolError means a peer sent bytes that don't parse as a
	// valid ADB message or scrcpy frame.
	KindProtocolError Kind = "protocol_error"
	// KindAuthFailed means the RSA auth handshake was rejected or timed
	// out waiting for device confirmation.
	KindAuthFailed Kind = "auth_failed"
	// KindDecoderInitFailed means a Decoder's Init/Start call returned an
	// error; the owning stream task never starts its frame loop.
	KindDecoderInitFailed Kind = "decoder_init_failed"
	// KindDecoderFatal means a Decoder failed after having been
	// successfully initialized; the stream task tears itself down.
	KindDecoderFatal Kind = "decoder_fatal"
	// KindBufferPoolExhausted means a decoder's input buffer pool stayed
	// empty for a whole bounded backpressure window and the frame was
	// dropped. The send queue and ring buffers drop with a warning
	// instead of returning it.
	KindBufferPoolExhausted Kind = "buffer_pool_exhausted"
	// KindWouldBlock means a non-blocking read (timeout == transport.NonBlocking)
	// found no data immediately available. Distinct from KindTimeout,
	// which means a bounded wait expired.
	KindWouldBlock Kind = "would_block"
)

// Error is a typed error carrying one of the Kind values above plus a
// human-readable message and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a *Error with the same Kind, so callers
// can do errors.Is(err, coreerr.New(coreerr.KindTimeout, "")).
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

// New constructs an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// sentinels usable directly with errors.Is(err, coreerr.TransportBroken).
var (
	TransportBroken     = New(KindTransportBroken, "transport broken")
	StreamClosed        = New(KindStreamClosed, "stream closed")
	Timeout             = New(KindTimeout, "timeout")
	ProtocolError       = New(KindProtocolError, "protocol error")
	AuthFailed          = New(KindAuthFailed, "auth failed")
	DecoderInitFailed   = New(KindDecoderInitFailed, "decoder init failed")
	DecoderFatal        = New(KindDecoderFatal, "decoder fatal")
	BufferPoolExhausted = New(KindBufferPoolExhausted, "buffer pool exhausted")
	WouldBlock          = New(KindWouldBlock, "would block")
)
