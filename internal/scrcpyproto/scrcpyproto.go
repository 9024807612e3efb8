// Package scrcpyproto defines the wire constants for scrcpy v2 video,
// audio, and control streams: codec identifiers, the PTS bit layout, and
// the control-feedback message tags.
package scrcpyproto

// CodecID identifies a stream's codec on the wire, either as a small
// integer (video's legacy numbering) or a 4-character ASCII tag.
type CodecID uint32

// Video codec ids.
const (
	CodecH264 CodecID = 0x68323634 // "h264"
	CodecH265 CodecID = 0x68323635 // "h265"
	CodecAV1  CodecID = 0x00617631 // "av1"
)

// legacyVideoCodecID maps the short-form integer ids some server builds
// still emit (0, 1, 2) onto their ASCII-tag equivalents.
var legacyVideoCodecID = map[CodecID]CodecID{
	0: CodecH264,
	1: CodecH265,
	2: CodecAV1,
}

// NormalizeVideoCodecID resolves a wire codec id to its canonical
// 4-character form, accounting for the legacy 0/1/2 short codes.
func NormalizeVideoCodecID(id uint32) (CodecID, bool) {
	if canonical, ok := legacyVideoCodecID[CodecID(id)]; ok {
		return canonical, true
	}
	switch CodecID(id) {
	case CodecH264, CodecH265, CodecAV1:
		return CodecID(id), true
	default:
		return 0, false
	}
}

// VideoCodecName returns the lowercase codec name used in video_config
// events ("h264", "h265", "av1").
func VideoCodecName(id CodecID) string {
	switch id {
	case CodecH264:
		return "h264"
	case CodecH265:
		return "h265"
	case CodecAV1:
		return "av1"
	default:
		return "unknown"
	}
}

// Audio codec ids and the two sentinel values sent in place of a real
// codec id when audio is unavailable.
const (
	CodecOpus CodecID = 0x6f707573 // "opus"
	CodecAAC  CodecID = 0x00616163 // "\0aac"
	CodecFLAC CodecID = 0x666c6163 // "flac"
	CodecRaw  CodecID = 0x00726177 // "\0raw"

	AudioDisabled CodecID = 0x00000000
	AudioError    CodecID = 0x00000001
)

// AudioCodecName returns the lowercase codec name used in audio_config
// events, or "" for an id this package doesn't recognize.
func AudioCodecName(id CodecID) string {
	switch id {
	case CodecOpus:
		return "opus"
	case CodecAAC:
		return "aac"
	case CodecFLAC:
		return "flac"
	case CodecRaw:
		return "raw"
	default:
		return ""
	}
}

// PTS bit layout: bit 63 flags a codec-configuration packet, bit 62
// flags a key frame, and the remaining 62 bits are presentation time in
// microseconds.
const (
	PacketFlagConfig uint64 = 1 << 63
	PacketFlagKey    uint64 = 1 << 62
	PTSMask          uint64 = PacketFlagKey - 1
)

// CODECDATA is the decoder-facing flag value signaling "this buffer is
// codec-configuration data, not a decodable frame" — the value the
// reference decoder abstraction uses at its submit-input boundary.
const CODECDATA uint32 = 8

// MaxFrameSize bounds a single video frame payload; a larger declared
// size is almost certainly a desynchronized stream, not a real frame.
const MaxFrameSize = 20 * 1024 * 1024

// MaxAudioFrameSize is audio's narrower cap, since legitimate audio
// frames are always small and the reference implementation treats a
// larger one as corruption rather than raising the video ceiling.
const MaxAudioFrameSize = 1 * 1024 * 1024

// DeviceNameLength is the fixed, NUL-padded device name field at the
// start of a video stream.
const DeviceNameLength = 64

// MaxClipboardLength bounds CLIPBOARD control messages.
const MaxClipboardLength = 100000

// Control message tags, the first byte of every control-feedback
// message.
const (
	ControlClipboard    byte = 0
	ControlAckClipboard byte = 1
	ControlUHIDOutput   byte = 2
)
