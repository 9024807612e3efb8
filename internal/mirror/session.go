// Package mirror is the top-level orchestrator: it owns the ADB
// session, the RSA keypair, the three scrcpy stream tasks, and the
// decoder registry, and exposes the single surface an application
// embeds this module through.
package mirror

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/scrcpy-core/adbcore/internal/adb"
	"github.com/scrcpy-core/adbcore/internal/auth"
	"github.com/scrcpy-core/adbcore/internal/coreerr"
	"github.com/scrcpy-core/adbcore/internal/decoder"
	"github.com/scrcpy-core/adbcore/internal/framer"
	"github.com/scrcpy-core/adbcore/internal/logging"
	"github.com/scrcpy-core/adbcore/internal/transport"
)

// StreamConfig names the three ADB sockets scrcpy's server opens and
// the decoder configuration each stream task needs at Init time.
type StreamConfig struct {
	VideoDest   string
	AudioDest   string
	ControlDest string

	VideoDecoder  decoder.Decoder
	AudioDecoder  decoder.Decoder
	SurfaceHandle string
	SampleRate    uint32
	Channels      uint32
}

// Session is one mirrored device connection: an authenticated ADB
// multiplexer session plus, once StartStreams is called, the three
// scrcpy stream tasks running against logical streams opened on it.
//
// A Session is scoped to one device connection for its whole
// lifetime; unlike the reference's process-global source registry,
// nothing about a Session is shared across connections, so its
// decoder Registry handles can never be confused with another
// Session's.
type Session struct {
	ID uuid.UUID

	adbSession *adb.Session
	decoders   *decoder.Registry
	log        *logging.Logger

	mu            sync.Mutex
	openStreams   map[int32]*adb.Stream
	videoStream   *adb.Stream
	audioStream   *adb.Stream
	controlStream *adb.Stream
	videoHandle   uuid.UUID
	audioHandle   uuid.UUID

	streamWG       sync.WaitGroup
	streamsStarted bool
	events         chan<- Event
}

// Event is the JSON-payload event vocabulary streamed out of
// StartStreams: video_config, audio_config, audio_disabled,
// first_frame, clipboard, disconnected, error.
type Event = framer.Event

// Open dials endpoint, loads or generates a keypair rooted at keyDir,
// and completes the ADB CNXN/AUTH handshake. onWaitAuth, if non-nil, is
// invoked once the token has been signed and rejected, right before the
// RSA public key is sent — the moment a caller would want to prompt
// "confirm this computer on your device".
func Open(ctx context.Context, endpoint string, keyDir string, onWaitAuth func()) (*Session, error) {
	channel, err := transport.Dial(endpoint)
	if err != nil {
		return nil, err
	}

	keyPair, err := auth.LoadOrGenerate(keyDir)
	if err != nil {
		_ = channel.Close()
		return nil, coreerr.Wrap(coreerr.KindAuthFailed, "mirror: load keypair", err)
	}

	adbSession := adb.New(channel, keyPair)

	connectDone := make(chan error, 1)
	go func() { connectDone <- adbSession.Connect(onWaitAuth) }()

	select {
	case err := <-connectDone:
		if err != nil {
			_ = adbSession.Close()
			return nil, err
		}
	case <-ctx.Done():
		_ = adbSession.Close()
		return nil, ctx.Err()
	}

	return newSession(adbSession), nil
}

func newSession(adbSession *adb.Session) *Session {
	return &Session{
		ID:         uuid.New(),
		adbSession: adbSession,
		decoders:   decoder.NewRegistry(),
		log:        logging.Compat(),
	}
}

// OpenStream opens a raw logical stream to dest and returns its local
// id, for callers that want direct control (sync:, shell:, arbitrary
// ADB services) without going through the scrcpy stream tasks.
func (s *Session) OpenStream(dest string, multiSend bool) (int32, error) {
	stream, err := s.adbSession.Open(dest, multiSend)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openStreams == nil {
		s.openStreams = make(map[int32]*adb.Stream)
	}
	s.openStreams[stream.LocalID()] = stream
	return stream.LocalID(), nil
}

// StreamRead reads from the logical stream previously returned by
// OpenStream, blocking up to timeoutMs (negative blocks forever).
func (s *Session) StreamRead(localID int32, buf []byte, timeoutMs int) (int, error) {
	stream, err := s.lookupStream(localID)
	if err != nil {
		return 0, err
	}
	return stream.Read(buf, timeoutMs)
}

// StreamWrite writes data to the logical stream localID.
func (s *Session) StreamWrite(localID int32, data []byte) error {
	stream, err := s.lookupStream(localID)
	if err != nil {
		return err
	}
	return s.adbSession.Write(stream, data)
}

// StreamClose closes the logical stream localID.
func (s *Session) StreamClose(localID int32) error {
	stream, err := s.lookupStream(localID)
	if err != nil {
		return err
	}
	s.adbSession.StreamClose(stream)
	s.mu.Lock()
	delete(s.openStreams, localID)
	s.mu.Unlock()
	return nil
}

func (s *Session) lookupStream(localID int32) (*adb.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stream, ok := s.openStreams[localID]
	if !ok {
		return nil, coreerr.New(coreerr.KindProtocolError, fmt.Sprintf("mirror: no open stream %d", localID))
	}
	return stream, nil
}

// StartStreams opens the scrcpy video/audio/control sockets and spawns
// one goroutine per stream, each running its framer task until the
// stream closes or a fatal error occurs. A framer-level error ends only
// that stream's task and is logged (decoder failures, an unknown video
// codec and the audio error sentinel are also reported as "error" events
// on sink); it does not tear the session down, matching spec's
// propagation rule that only the receive
// goroutine's own TransportBroken closes the whole session.
func (s *Session) StartStreams(cfg StreamConfig, sink chan<- Event) error {
	s.mu.Lock()
	if s.streamsStarted {
		s.mu.Unlock()
		return coreerr.New(coreerr.KindProtocolError, "mirror: streams already started")
	}
	s.mu.Unlock()

	videoStream, err := s.adbSession.Open(cfg.VideoDest, true)
	if err != nil {
		return err
	}
	audioStream, err := s.adbSession.Open(cfg.AudioDest, true)
	if err != nil {
		s.adbSession.StreamClose(videoStream)
		return err
	}
	controlStream, err := s.adbSession.Open(cfg.ControlDest, true)
	if err != nil {
		s.adbSession.StreamClose(videoStream)
		s.adbSession.StreamClose(audioStream)
		return err
	}

	videoHandle := s.decoders.Register(cfg.VideoDecoder)
	audioHandle := s.decoders.Register(cfg.AudioDecoder)

	s.mu.Lock()
	s.videoStream = videoStream
	s.audioStream = audioStream
	s.controlStream = controlStream
	s.videoHandle = videoHandle
	s.audioHandle = audioHandle
	s.streamsStarted = true
	s.events = sink
	s.mu.Unlock()

	s.streamWG.Add(3)
	go func() {
		defer s.streamWG.Done()
		if err := framer.RunVideoTask(videoStream, cfg.VideoDecoder, cfg.SurfaceHandle, sink); err != nil {
			s.log.Errorf("mirror: video task ended: %v", err)
		}
	}()
	go func() {
		defer s.streamWG.Done()
		if err := framer.RunAudioTask(audioStream, cfg.AudioDecoder, cfg.SampleRate, cfg.Channels, sink); err != nil {
			s.log.Errorf("mirror: audio task ended: %v", err)
		}
	}()
	go func() {
		defer s.streamWG.Done()
		if err := framer.RunControlTask(controlStream, sink); err != nil {
			s.log.Errorf("mirror: control task ended: %v", err)
		}
	}()

	return nil
}

// StopStreams closes the three scrcpy logical streams and waits for
// their tasks to return.
func (s *Session) StopStreams() {
	s.mu.Lock()
	started := s.streamsStarted
	video, audio, control := s.videoStream, s.audioStream, s.controlStream
	videoHandle, audioHandle := s.videoHandle, s.audioHandle
	s.videoStream, s.audioStream, s.controlStream = nil, nil, nil
	s.streamsStarted = false
	s.mu.Unlock()

	if !started {
		return
	}
	if video != nil {
		s.adbSession.StreamClose(video)
	}
	if audio != nil {
		s.adbSession.StreamClose(audio)
	}
	if control != nil {
		s.adbSession.StreamClose(control)
	}
	s.streamWG.Wait()

	if dec, ok := s.decoders.Get(videoHandle); ok {
		_ = dec.Stop()
		s.decoders.Remove(videoHandle)
	}
	if dec, ok := s.decoders.Get(audioHandle); ok {
		_ = dec.Stop()
		s.decoders.Remove(audioHandle)
	}
}

// SendControl writes a raw scrcpy control message (already framed by
// the caller per the injected-event wire format) to the control
// stream.
func (s *Session) SendControl(data []byte) error {
	s.mu.Lock()
	control := s.controlStream
	s.mu.Unlock()
	if control == nil {
		return coreerr.New(coreerr.KindProtocolError, "mirror: control stream not started")
	}
	return s.adbSession.Write(control, data)
}

// Close tears down every stream task and the underlying ADB session.
func (s *Session) Close() error {
	s.StopStreams()
	return s.adbSession.Close()
}
