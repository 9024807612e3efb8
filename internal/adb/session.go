// Package adb implements the ADB session multiplexer: a single transport
// connection carrying many logical streams (OPEN/WRTE/OKAY/CLSE), RSA
// authentication, and the sync:/shell: helpers built on top of streams.
package adb

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vishalkuo/bimap"
	"k8s.io/utils/keymutex"

	"github.com/scrcpy-core/adbcore/config"
	"github.com/scrcpy-core/adbcore/internal/adbproto"
	"github.com/scrcpy-core/adbcore/internal/auth"
	"github.com/scrcpy-core/adbcore/internal/coreerr"
	"github.com/scrcpy-core/adbcore/internal/logging"
	"github.com/scrcpy-core/adbcore/internal/transport"
)

// Session multiplexes many logical streams over one transport Channel.
// A Session's send goroutine starts the moment the Session is created;
// the handshake writes its own CNXN/AUTH messages directly on the
// channel, and the receive goroutine only starts after Connect succeeds,
// because the handshake reads its own replies synchronously off the
// channel rather than through the dispatch loop.
type Session struct {
	channel *transport.Channel
	keyPair *auth.KeyPair

	localIDPool atomic.Int32
	peerMaxData atomic.Uint32

	closed atomic.Bool

	streamsMu sync.Mutex
	streams   map[int32]*Stream
	// remoteIDs mirrors streams as a local_id<->remote_id lookup, kept
	// bidirectional so either id can be resolved to the other; dispatch
	// itself finds streams by local id through streams.
	remoteIDs *bimap.BiMap[int32, int32]
	// streamLocks serializes the close-vs-in-flight-delivery race for a
	// single stream: StreamClose (caller goroutine) and dispatch's
	// WRTE/CLSE handling (receive goroutine) can race on the same
	// stream id, and a single session-wide mutex would serialize
	// unrelated streams for no reason.
	streamLocks keymutex.KeyMutex

	waitMu sync.Mutex
	waitCv *sync.Cond

	// sendMu serializes enqueue against Close's close(sendQueue): both
	// check/set s.closed and touch sendQueue, and without a shared lock
	// a send can race a close of the same channel and panic.
	sendMu         sync.Mutex
	sendQueue      chan []byte
	sendQueueBytes atomic.Uint64
	sendDone       chan struct{}
	log            *logging.Logger
}

// New creates a Session over channel and immediately starts its send
// goroutine. Call Connect before using the session for anything else.
func New(channel *transport.Channel, keyPair *auth.KeyPair) *Session {
	s := &Session{
		channel:     channel,
		keyPair:     keyPair,
		streams:     make(map[int32]*Stream),
		remoteIDs:   bimap.NewBiMap[int32, int32](),
		streamLocks: keymutex.NewHashed(0),
		sendQueue:   make(chan []byte, config.MaxSendQueue()),
		sendDone:    make(chan struct{}),
		log:         logging.Compat(),
	}
	s.localIDPool.Store(1)
	s.peerMaxData.Store(adbproto.ConnectMaxData)
	s.waitCv = sync.NewCond(&s.waitMu)
	go s.sendLoop()
	return s
}

// OnWaitAuth is invoked once a signature challenge has been rejected and
// the session has fallen back to sending its RSA public key, giving the
// caller a chance to prompt "accept this connection?" on the peer
// device before the public-key timeout elapses.
type OnWaitAuth func()

// Connect performs the CNXN/AUTH handshake. On success it records the
// peer's advertised maxData and starts the receive goroutine.
func (s *Session) Connect(onWaitAuth OnWaitAuth) error {
	if err := s.channel.Write(adbproto.GenerateConnect()); err != nil {
		return coreerr.Wrap(coreerr.KindTransportBroken, "adb: send CNXN", err)
	}

	cmd, arg0, arg1, payload, err := s.readMessage(config.ConnectTimeout())
	if err != nil {
		return err
	}

	switch cmd {
	case adbproto.CmdCnxn:
		s.adoptPeerMaxData(arg1)
	case adbproto.CmdAuth:
		if err := s.runAuth(arg0, payload, onWaitAuth); err != nil {
			return err
		}
	default:
		return coreerr.New(coreerr.KindProtocolError, fmt.Sprintf("adb: unexpected handshake response %08x", uint32(cmd)))
	}

	go s.recvLoop()
	return nil
}

func (s *Session) adoptPeerMaxData(arg1 uint32) {
	if arg1 > 0 {
		s.peerMaxData.Store(arg1)
	}
}

func (s *Session) runAuth(authType uint32, token []byte, onWaitAuth OnWaitAuth) error {
	if authType != adbproto.AuthTypeToken {
		return coreerr.New(coreerr.KindProtocolError, "adb: expected AUTH token challenge")
	}
	if s.keyPair == nil {
		return coreerr.New(coreerr.KindAuthFailed, "adb: peer requires authentication but no key pair was provided")
	}

	sig := s.keyPair.Sign(token)
	if err := s.channel.Write(adbproto.GenerateAuth(adbproto.AuthTypeSignature, sig)); err != nil {
		return coreerr.Wrap(coreerr.KindTransportBroken, "adb: send AUTH signature", err)
	}

	cmd, _, arg1, _, err := s.readMessage(config.AuthSignatureTimeout())
	if err != nil {
		return err
	}
	if cmd == adbproto.CmdCnxn {
		s.adoptPeerMaxData(arg1)
		return nil
	}

	// Signature was rejected; fall back to sending our RSA public key so
	// the user can authorize this key on the peer device.
	if onWaitAuth != nil {
		onWaitAuth()
	}
	if err := s.channel.Write(adbproto.GenerateAuth(adbproto.AuthTypeRSAPublic, s.keyPair.PublicKeyMessage())); err != nil {
		return coreerr.Wrap(coreerr.KindTransportBroken, "adb: send AUTH public key", err)
	}

	cmd, _, arg1, _, err = s.readMessage(config.AuthPubKeyTimeout())
	if err != nil {
		if errors.Is(err, coreerr.Timeout) {
			return coreerr.Wrap(coreerr.KindAuthFailed, "adb: timed out waiting for device confirmation", err)
		}
		return err
	}
	if cmd != adbproto.CmdCnxn {
		return coreerr.New(coreerr.KindAuthFailed, "adb: peer rejected RSA public key")
	}
	s.adoptPeerMaxData(arg1)
	return nil
}

// readMessage performs a synchronous header+payload read directly on
// the channel, used only during the handshake, before the receive
// goroutine exists to claim incoming messages.
func (s *Session) readMessage(timeout time.Duration) (adbproto.Command, uint32, uint32, []byte, error) {
	header := make([]byte, adbproto.HeaderLength)
	if err := s.channel.ReadExact(header, timeout); err != nil {
		return 0, 0, 0, nil, coreerr.Wrap(coreerr.KindTransportBroken, "adb: read handshake header", err)
	}
	cmd, arg0, arg1, payloadLen, err := adbproto.DecodeHeader(header)
	if err != nil {
		return 0, 0, 0, nil, err
	}
	var payload []byte
	if payloadLen > 0 {
		payload = make([]byte, payloadLen)
		if err := s.channel.ReadExact(payload, timeout); err != nil {
			return 0, 0, 0, nil, coreerr.Wrap(coreerr.KindTransportBroken, "adb: read handshake payload", err)
		}
	}
	return cmd, arg0, arg1, payload, nil
}

// maxData returns the negotiated maximum payload size for WRTE chunks.
func (s *Session) maxData() int {
	return int(s.peerMaxData.Load())
}

// Open starts a new logical stream to destination (e.g. "shell:ls",
// "sync:", "tcp:5555"). canMultipleSend false marks the stream
// single-send, which the wire format encodes by negating the whole
// local id rather than flagging just its sign bit.
func (s *Session) Open(destination string, canMultipleSend bool) (*Stream, error) {
	if s.closed.Load() {
		return nil, coreerr.TransportBroken
	}

	localID := s.localIDPool.Add(1) - 1
	if localID == 0 {
		localID = s.localIDPool.Add(1) - 1
	}
	if !canMultipleSend {
		localID = -localID
	}

	stream := newStream(localID, 0, canMultipleSend, config.RingBufferCapacity())
	s.streamsMu.Lock()
	s.streams[localID] = stream
	s.streamsMu.Unlock()

	s.enqueue(adbproto.GenerateOpen(localID, destination))

	// A peer that never answers never broadcasts, so a timer wakes the
	// wait once the deadline has passed.
	timeout := config.ConnectTimeout()
	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, func() {
		s.waitMu.Lock()
		s.waitCv.Broadcast()
		s.waitMu.Unlock()
	})
	s.waitMu.Lock()
	for stream.RemoteID() == 0 && !stream.IsClosed() && time.Now().Before(deadline) {
		s.waitCv.Wait()
	}
	s.waitMu.Unlock()
	timer.Stop()

	if stream.IsClosed() {
		s.removeStream(localID)
		return nil, coreerr.New(coreerr.KindProtocolError, fmt.Sprintf("adb: peer refused to open %q", destination))
	}
	if stream.RemoteID() == 0 {
		s.removeStream(localID)
		return nil, coreerr.Timeout
	}
	return stream, nil
}

func streamKey(localID int32) string {
	return strconv.Itoa(int(localID))
}

// bindOrLookup resolves localID to its Stream, creating a new
// reverse-opened binding {local_id: localID, remote_id: remoteID} if the
// peer references a local id that is not in the registry (one this side
// never OPENed, or one already removed by StreamClose or a failed Open).
// The reference
// implementation is lenient here rather than replying CLSE to an
// unrecognized id, so a peer-originated stream (e.g. a device-initiated
// socket) is accepted transparently; see DESIGN.md.
func (s *Session) bindOrLookup(localID, remoteID int32) *Stream {
	s.streamsMu.Lock()
	stream := s.streams[localID]
	if stream == nil {
		stream = newStream(localID, remoteID, true, config.RingBufferCapacity())
		s.streams[localID] = stream
		s.streamsMu.Unlock()
		s.remoteIDs.Insert(localID, remoteID)
		s.waitMu.Lock()
		s.waitCv.Broadcast()
		s.waitMu.Unlock()
		s.log.Debugf("adb: reverse-opened stream local=%d remote=%d", localID, remoteID)
		return stream
	}
	s.streamsMu.Unlock()
	return stream
}

func (s *Session) removeStream(localID int32) {
	s.streamsMu.Lock()
	delete(s.streams, localID)
	s.streamsMu.Unlock()
	s.remoteIDs.Delete(localID)
}

// Write sends data on stream, chunked to stay within the negotiated
// maxData. Writes do not wait on the stream's OKAY-derived canWrite
// flag: scrcpy's protocol ignores OKAY for flow control, trading the
// data-integrity guarantee OKAY exists for against not stalling a video
// pipeline on a slow ack.
func (s *Session) Write(stream *Stream, data []byte) error {
	if stream.IsClosed() {
		return coreerr.StreamClosed
	}
	chunkSize := s.maxData() - 128
	if chunkSize <= 0 {
		chunkSize = s.maxData()
	}
	for len(data) > 0 {
		n := chunkSize
		if n > len(data) {
			n = len(data)
		}
		s.enqueue(adbproto.GenerateWrite(stream.localID, stream.RemoteID(), data[:n]))
		data = data[n:]
	}
	return nil
}

// StreamClose sends CLSE for stream and marks it closed locally. It is
// safe to call more than once.
func (s *Session) StreamClose(stream *Stream) {
	key := streamKey(stream.localID)
	s.streamLocks.LockKey(key)
	defer s.streamLocks.UnlockKey(key)

	if stream.IsClosed() {
		return
	}
	s.enqueue(adbproto.GenerateClose(stream.localID, stream.RemoteID()))
	stream.markClosed()
	s.removeStream(stream.localID)
}

// enqueue hands data to the send goroutine, dropping it with a warning
// if the queue is backed up past its configured count cap or its
// approximate byte budget, matching the reference sender's
// bounded-queue-with-drop behavior under overload (spec.md §4.3: "a
// count cap and/or a byte cap"). Guarded by sendMu against Close closing
// sendQueue concurrently: a closed session silently drops rather than
// panicking on a send to a closed channel.
func (s *Session) enqueue(data []byte) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.closed.Load() {
		return
	}
	if s.sendQueueBytes.Load()+uint64(len(data)) > uint64(config.MaxSendQueueBytes()) {
		s.log.Warnf("adb: send queue byte budget exceeded, dropping %d-byte message", len(data))
		return
	}
	select {
	case s.sendQueue <- data:
		s.sendQueueBytes.Add(uint64(len(data)))
	default:
		s.log.Warnf("adb: send queue full, dropping %d-byte message", len(data))
	}
}

func (s *Session) sendLoop() {
	defer close(s.sendDone)
	for data := range s.sendQueue {
		s.sendQueueBytes.Add(^(uint64(len(data)) - 1)) // atomic subtract
		if err := s.channel.Write(data); err != nil {
			s.log.Errorf("adb: write failed, closing session: %v", err)
			s.Close()
			return
		}
	}
}

func (s *Session) recvLoop() {
	for {
		header := make([]byte, adbproto.HeaderLength)
		if err := s.channel.ReadExact(header, transport.Forever); err != nil {
			if !s.closed.Load() {
				s.log.Warnf("adb: receive loop ending: %v", err)
			}
			s.Close()
			return
		}
		cmd, arg0, arg1, payloadLen, err := adbproto.DecodeHeader(header)
		if err != nil {
			s.log.Warnf("adb: malformed header: %v", err)
			continue
		}
		var payload []byte
		if payloadLen > 0 {
			payload = make([]byte, payloadLen)
			if err := s.channel.ReadExact(payload, transport.Forever); err != nil {
				s.log.Warnf("adb: receive loop ending: %v", err)
				s.Close()
				return
			}
		}
		s.dispatch(cmd, arg0, arg1, payload)
	}
}

// dispatch handles one fully-read message. WRTE is routed zero-copy into
// the destination stream's ring buffer and acknowledged with OKAY only
// after the full payload has been consumed.
func (s *Session) dispatch(cmd adbproto.Command, arg0, arg1 uint32, payload []byte) {
	switch cmd {
	case adbproto.CmdOkay:
		localID := int32(arg1)
		remoteID := int32(arg0)
		s.streamsMu.Lock()
		stream := s.streams[localID]
		s.streamsMu.Unlock()
		if stream == nil {
			return
		}
		if stream.RemoteID() == 0 {
			stream.setRemoteID(remoteID)
			s.remoteIDs.Insert(localID, remoteID)
			s.waitMu.Lock()
			s.waitCv.Broadcast()
			s.waitMu.Unlock()
		} else {
			stream.markWritable()
		}

	case adbproto.CmdWrte:
		localID := int32(arg1)
		remoteID := int32(arg0)
		key := streamKey(localID)
		s.streamLocks.LockKey(key)
		stream := s.bindOrLookup(localID, remoteID)
		if stream == nil || stream.IsClosed() {
			s.streamLocks.UnlockKey(key)
			return
		}
		n := stream.deliver(payload)
		s.streamLocks.UnlockKey(key)
		if n < len(payload) {
			s.log.Warnf("adb: stream %d ring buffer full, dropped %d of %d bytes", localID, len(payload)-n, len(payload))
		}
		s.enqueue(adbproto.GenerateOkay(localID, remoteID))

	case adbproto.CmdClse:
		localID := int32(arg1)
		key := streamKey(localID)
		s.streamLocks.LockKey(key)
		s.streamsMu.Lock()
		stream := s.streams[localID]
		s.streamsMu.Unlock()
		if stream == nil {
			// Peer closing a stream that is not in the registry
			// (never bound, or already reaped by StreamClose): nothing
			// to do.
			s.streamLocks.UnlockKey(key)
			return
		}
		stream.markClosed()
		s.streamLocks.UnlockKey(key)
		s.waitMu.Lock()
		s.waitCv.Broadcast()
		s.waitMu.Unlock()

	default:
		s.log.Debugf("adb: ignoring unexpected message %08x", uint32(cmd))
	}
}

// Close tears the session down: it stops accepting new sends, closes
// every open stream, and closes the underlying channel. Safe to call
// more than once or concurrently.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.streamsMu.Lock()
	streams := make([]*Stream, 0, len(s.streams))
	for _, st := range s.streams {
		streams = append(streams, st)
	}
	s.streamsMu.Unlock()
	for _, st := range streams {
		st.markClosed()
	}

	s.waitMu.Lock()
	s.waitCv.Broadcast()
	s.waitMu.Unlock()

	// s.closed is already true at this point (set above), so any enqueue
	// that acquires sendMu after us observes it and returns without
	// sending; any enqueue already holding sendMu finishes its send
	// before we can acquire it here. Either way close(sendQueue) never
	// races a concurrent send.
	s.sendMu.Lock()
	close(s.sendQueue)
	s.sendMu.Unlock()
	return s.channel.Close()
}

// IsClosed reports whether Close has been called.
func (s *Session) IsClosed() bool {
	return s.closed.Load()
}
