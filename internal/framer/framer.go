// Package framer implements the three scrcpy v2 stream tasks — video,
// audio, control — each running on its own goroutine over a
// *adb.Stream, decoding the wire framing into decoder hand-offs and
// application-visible Events.
package framer

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/scrcpy-core/adbcore/internal/adb"
	"github.com/scrcpy-core/adbcore/internal/coreerr"
	"github.com/scrcpy-core/adbcore/internal/decoder"
	"github.com/scrcpy-core/adbcore/internal/logging"
	"github.com/scrcpy-core/adbcore/internal/scrcpyproto"
)

// Event is a string-tagged, JSON-payload message delivered to the
// application. Minimum vocabulary matches the reference exactly:
// video_config, audio_config, audio_disabled, first_frame, clipboard,
// disconnected, error.
type Event struct {
	Type string
	Data []byte
}

func newEvent(eventType string, payload interface{}) Event {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(`{}`)
	}
	return Event{Type: eventType, Data: data}
}

func emit(sink chan<- Event, ev Event) {
	select {
	case sink <- ev:
	default:
		// A stalled event consumer must never block a stream task;
		// dropping an event here is preferable to stalling decode.
	}
}

// VideoConfigPayload is the JSON body of a video_config event.
type VideoConfigPayload struct {
	CodecID    uint32 `json:"codec_id"`
	CodecType  string `json:"codec_type"`
	Width      uint32 `json:"width"`
	Height     uint32 `json:"height"`
	DeviceName string `json:"device_name"`
}

// AudioConfigPayload is the JSON body of an audio_config event.
type AudioConfigPayload struct {
	CodecID   uint32 `json:"codec_id"`
	CodecType string `json:"codec_type"`
}

// ErrorPayload is the JSON body of an error event.
type ErrorPayload struct {
	Message string `json:"message"`
}

const readTimeoutMs = -1 // block forever; Session.Close unblocks via StreamClosed

// RunVideoTask reads the video stream's framing, initializes dec with
// the negotiated codec/dimensions/surface, and submits every frame
// (merging CONFIG packets into the following frame) until the stream
// closes or a protocol error occurs.
func RunVideoTask(stream *adb.Stream, dec decoder.Decoder, surfaceHandle string, sink chan<- Event) error {
	log := logging.Compat()

	header := make([]byte, 1+scrcpyproto.DeviceNameLength+12)
	if err := stream.ReadExact(header, readTimeoutMs); err != nil {
		return terminate(sink, "video", err)
	}

	deviceName := nulTerminated(header[1 : 1+scrcpyproto.DeviceNameLength])
	codecOffset := 1 + scrcpyproto.DeviceNameLength
	rawCodecID := binary.BigEndian.Uint32(header[codecOffset : codecOffset+4])
	width := binary.BigEndian.Uint32(header[codecOffset+4 : codecOffset+8])
	height := binary.BigEndian.Uint32(header[codecOffset+8 : codecOffset+12])

	codecID, ok := scrcpyproto.NormalizeVideoCodecID(rawCodecID)
	if !ok {
		err := coreerr.New(coreerr.KindProtocolError, fmt.Sprintf("framer: unknown video codec id 0x%08x", rawCodecID))
		emit(sink, newEvent("error", ErrorPayload{Message: err.Error()}))
		return terminate(sink, "video", err)
	}

	if err := dec.Init(decoder.Config{
		CodecType:     scrcpyproto.VideoCodecName(codecID),
		Width:         width,
		Height:        height,
		SurfaceHandle: surfaceHandle,
	}); err != nil {
		emit(sink, newEvent("error", ErrorPayload{Message: err.Error()}))
		return coreerr.Wrap(coreerr.KindDecoderInitFailed, "framer: video decoder init", err)
	}
	if err := dec.Start(); err != nil {
		emit(sink, newEvent("error", ErrorPayload{Message: err.Error()}))
		return coreerr.Wrap(coreerr.KindDecoderInitFailed, "framer: video decoder start", err)
	}

	emit(sink, newEvent("video_config", VideoConfigPayload{
		CodecID:    uint32(codecID),
		CodecType:  scrcpyproto.VideoCodecName(codecID),
		Width:      width,
		Height:     height,
		DeviceName: deviceName,
	}))

	policy := decoder.VideoBackpressure()
	firstFrameSent := false
	var pendingConfig []byte

	for {
		pts, data, err := readFrame(stream, scrcpyproto.MaxFrameSize)
		if err != nil {
			return terminate(sink, "video", err)
		}

		isConfig := pts&scrcpyproto.PacketFlagConfig != 0
		cleanPTS := pts & scrcpyproto.PTSMask

		if isConfig {
			// Buffer and prepend to the next non-config packet rather
			// than submitting immediately with CODEC_DATA set: some
			// decoders require SPS/PPS in the same buffer as the first
			// IDR frame.
			pendingConfig = append(pendingConfig[:0:0], data...)
			continue
		}

		submitData := data
		if pendingConfig != nil {
			submitData = append(append([]byte(nil), pendingConfig...), data...)
			pendingConfig = nil
		}

		if err := decoder.PushWithBackpressure(dec, submitData, cleanPTS, 0, policy, "video"); err != nil {
			if errors.Is(err, coreerr.BufferPoolExhausted) {
				continue
			}
			log.Errorf("framer: video decoder fatal: %v", err)
			emit(sink, newEvent("error", ErrorPayload{Message: err.Error()}))
			return terminate(sink, "video", err)
		}

		if !firstFrameSent {
			firstFrameSent = true
			emit(sink, newEvent("first_frame", struct{}{}))
		}
	}
}

// RunAudioTask reads the audio stream's codec header and frame loop.
// Unlike video, there is no configuration-packet merge: audio codecs
// frame CSD differently and the config bit is only used to recover the
// real PTS.
func RunAudioTask(stream *adb.Stream, dec decoder.Decoder, sampleRate, channels uint32, sink chan<- Event) error {
	log := logging.Compat()

	header := make([]byte, 4)
	if err := stream.ReadExact(header, readTimeoutMs); err != nil {
		return terminate(sink, "audio", err)
	}
	rawCodecID := binary.BigEndian.Uint32(header)

	switch scrcpyproto.CodecID(rawCodecID) {
	case scrcpyproto.AudioDisabled:
		emit(sink, newEvent("audio_disabled", struct{}{}))
		return nil
	case scrcpyproto.AudioError:
		err := coreerr.New(coreerr.KindProtocolError, "framer: peer reported audio configuration error")
		emit(sink, newEvent("error", ErrorPayload{Message: err.Error()}))
		return terminate(sink, "audio", err)
	}

	codecName := scrcpyproto.AudioCodecName(scrcpyproto.CodecID(rawCodecID))
	if codecName == "" {
		log.Warnf("framer: unknown audio codec id 0x%08x, falling back to opus", rawCodecID)
		codecName = "opus"
	}

	if err := dec.Init(decoder.Config{CodecType: codecName, SampleRate: sampleRate, Channels: channels}); err != nil {
		emit(sink, newEvent("error", ErrorPayload{Message: err.Error()}))
		return coreerr.Wrap(coreerr.KindDecoderInitFailed, "framer: audio decoder init", err)
	}
	if err := dec.Start(); err != nil {
		emit(sink, newEvent("error", ErrorPayload{Message: err.Error()}))
		return coreerr.Wrap(coreerr.KindDecoderInitFailed, "framer: audio decoder start", err)
	}

	emit(sink, newEvent("audio_config", AudioConfigPayload{CodecID: rawCodecID, CodecType: codecName}))

	policy := decoder.AudioBackpressure()
	for {
		pts, data, err := readFrame(stream, scrcpyproto.MaxAudioFrameSize)
		if err != nil {
			return terminate(sink, "audio", err)
		}
		cleanPTS := pts & scrcpyproto.PTSMask

		if err := decoder.PushWithBackpressure(dec, data, cleanPTS, 0, policy, "audio"); err != nil {
			if errors.Is(err, coreerr.BufferPoolExhausted) {
				continue
			}
			log.Errorf("framer: audio decoder fatal: %v", err)
			emit(sink, newEvent("error", ErrorPayload{Message: err.Error()}))
			return terminate(sink, "audio", err)
		}
	}
}

// RunControlTask reads device-to-host control feedback messages and
// emits a clipboard event for each clipboard message; ACK_CLIPBOARD and
// UHID output messages are read and discarded without an event. It
// never initiates writes; outbound control (keys, touch) is a direct
// Session.Write passthrough invoked by the application.
func RunControlTask(stream *adb.Stream, sink chan<- Event) error {
	log := logging.Compat()
	for {
		tag := make([]byte, 1)
		if err := stream.ReadExact(tag, readTimeoutMs); err != nil {
			return terminate(sink, "control", err)
		}

		switch tag[0] {
		case scrcpyproto.ControlClipboard:
			lenBuf := make([]byte, 4)
			if err := stream.ReadExact(lenBuf, readTimeoutMs); err != nil {
				return terminate(sink, "control", err)
			}
			length := binary.BigEndian.Uint32(lenBuf)
			if length > scrcpyproto.MaxClipboardLength {
				err := coreerr.New(coreerr.KindProtocolError, "framer: clipboard payload exceeds cap")
				return terminate(sink, "control", err)
			}
			text := make([]byte, length)
			if err := stream.ReadExact(text, readTimeoutMs); err != nil {
				return terminate(sink, "control", err)
			}
			emit(sink, Event{Type: "clipboard", Data: text})

		case scrcpyproto.ControlAckClipboard:
			discard := make([]byte, 8)
			if err := stream.ReadExact(discard, readTimeoutMs); err != nil {
				return terminate(sink, "control", err)
			}

		case scrcpyproto.ControlUHIDOutput:
			idAndLen := make([]byte, 4)
			if err := stream.ReadExact(idAndLen, readTimeoutMs); err != nil {
				return terminate(sink, "control", err)
			}
			length := binary.BigEndian.Uint16(idAndLen[2:4])
			discard := make([]byte, length)
			if err := stream.ReadExact(discard, readTimeoutMs); err != nil {
				return terminate(sink, "control", err)
			}

		default:
			log.Warnf("framer: control stream: unknown message tag 0x%02x, skipping", tag[0])
		}
	}
}

// readFrame reads one pts(8 BE)/size(4 BE)/data(size) record, rejecting
// a declared size of zero or above maxSize as a protocol error.
func readFrame(stream *adb.Stream, maxSize int) (uint64, []byte, error) {
	header := make([]byte, 12)
	if err := stream.ReadExact(header, readTimeoutMs); err != nil {
		return 0, nil, err
	}
	pts := binary.BigEndian.Uint64(header[0:8])
	size := binary.BigEndian.Uint32(header[8:12])
	if size == 0 || int(size) > maxSize {
		return 0, nil, coreerr.New(coreerr.KindProtocolError, fmt.Sprintf("framer: invalid frame size %d", size))
	}
	data := make([]byte, size)
	if err := stream.ReadExact(data, readTimeoutMs); err != nil {
		return 0, nil, err
	}
	return pts, data, nil
}

func nulTerminated(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// terminate distinguishes a clean stream closure (emits disconnected)
// from a genuine protocol/transport failure (the error propagates to
// the caller, which decides whether the whole session tears down).
func terminate(sink chan<- Event, which string, err error) error {
	if errors.Is(err, coreerr.StreamClosed) {
		emit(sink, newEvent("disconnected", which))
		return nil
	}
	return err
}
