// Package adbproto implements the ADB wire message codec: the 24-byte
// header, payload checksum, and the message constructors for every
// command the session multiplexer needs to emit.
package adbproto

import (
	"encoding/binary"

	"github.com/scrcpy-core/adbcore/internal/coreerr"
)

// HeaderLength is the fixed size of an ADB message header in bytes.
const HeaderLength = 24

// Command identifies one of the six ADB message types.
type Command uint32

// Command tags. The numeric values are the little-endian interpretation
// of the four-character ASCII tag, matching the wire format exactly.
const (
	CmdAuth Command = 0x48545541 // "AUTH"
	CmdCnxn Command = 0x4e584e43 // "CNXN"
	CmdOpen Command = 0x4e45504f // "OPEN"
	CmdOkay Command = 0x59414b4f // "OKAY"
	CmdClse Command = 0x45534c43 // "CLSE"
	CmdWrte Command = 0x45545257 // "WRTE"
)

// Auth sub-types carried in arg0 of an AUTH message.
const (
	AuthTypeToken     uint32 = 1
	AuthTypeSignature uint32 = 2
	AuthTypeRSAPublic uint32 = 3
)

// Connection parameters exchanged during the initial handshake.
const (
	ConnectVersion uint32 = 0x01000000
	// ConnectMaxData is deliberately capped at 15KiB: some USB transports
	// only support 16KiB transfers, so the reference implementation
	// stays a notch under that regardless of transport.
	ConnectMaxData uint32 = 15 * 1024
)

// ConnectPayload is the system identity string sent with CNXN: "host::\0".
var ConnectPayload = []byte{0x68, 0x6f, 0x73, 0x74, 0x3a, 0x3a, 0x00}

// Message is a decoded ADB wire message.
type Message struct {
	Command Command
	Arg0    uint32
	Arg1    uint32
	Payload []byte
}

// DecodeHeader parses a 24-byte header into its command/arg0/arg1/length
// fields. It does not validate the checksum or magic field, matching the
// reference parser, which accepts whatever the peer sends and treats
// checksum mismatches as the peer's problem rather than tearing down the
// session.
func DecodeHeader(header []byte) (cmd Command, arg0, arg1, payloadLen uint32, err error) {
	if len(header) != HeaderLength {
		return 0, 0, 0, 0, coreerr.New(coreerr.KindProtocolError, "adbproto: short header")
	}
	cmd = Command(binary.LittleEndian.Uint32(header[0:4]))
	arg0 = binary.LittleEndian.Uint32(header[4:8])
	arg1 = binary.LittleEndian.Uint32(header[8:12])
	payloadLen = binary.LittleEndian.Uint32(header[12:16])
	return cmd, arg0, arg1, payloadLen, nil
}

func payloadChecksum(payload []byte) uint32 {
	var sum uint32
	for _, b := range payload {
		sum += uint32(b)
	}
	return sum
}

// generateMessage builds a complete wire message: header followed by
// payload.
func generateMessage(cmd Command, arg0, arg1 uint32, payload []byte) []byte {
	buf := make([]byte, HeaderLength+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(cmd))
	binary.LittleEndian.PutUint32(buf[4:8], arg0)
	binary.LittleEndian.PutUint32(buf[8:12], arg1)
	if len(payload) == 0 {
		binary.LittleEndian.PutUint32(buf[12:16], 0)
		binary.LittleEndian.PutUint32(buf[16:20], 0)
	} else {
		binary.LittleEndian.PutUint32(buf[12:16], uint32(len(payload)))
		binary.LittleEndian.PutUint32(buf[16:20], payloadChecksum(payload))
	}
	binary.LittleEndian.PutUint32(buf[20:24], ^uint32(cmd))
	copy(buf[HeaderLength:], payload)
	return buf
}

// GenerateConnect builds the initial CNXN message.
func GenerateConnect() []byte {
	return generateMessage(CmdCnxn, ConnectVersion, ConnectMaxData, ConnectPayload)
}

// GenerateAuth builds an AUTH message of the given sub-type.
func GenerateAuth(authType uint32, data []byte) []byte {
	return generateMessage(CmdAuth, authType, 0, data)
}

// GenerateOpen builds an OPEN message requesting dest, with localID as
// the initiating side's stream id.
func GenerateOpen(localID int32, dest string) []byte {
	payload := append([]byte(dest), 0)
	return generateMessage(CmdOpen, uint32(localID), 0, payload)
}

// GenerateWrite builds a WRTE message carrying data on the stream
// identified by (localID, remoteID).
func GenerateWrite(localID, remoteID int32, data []byte) []byte {
	return generateMessage(CmdWrte, uint32(localID), uint32(remoteID), data)
}

// GenerateClose builds a CLSE message for the stream identified by
// (localID, remoteID).
func GenerateClose(localID, remoteID int32) []byte {
	return generateMessage(CmdClse, uint32(localID), uint32(remoteID), nil)
}

// GenerateOkay builds an OKAY acknowledgment for the stream identified by
// (localID, remoteID).
func GenerateOkay(localID, remoteID int32) []byte {
	return generateMessage(CmdOkay, uint32(localID), uint32(remoteID), nil)
}

// GenerateSyncHeader builds an 8-byte sync: sub-protocol header: a
// 4-character ASCII id followed by a little-endian int32 argument. Used
// by PushFile's SEND/DATA/DONE/QUIT exchange.
func GenerateSyncHeader(id [4]byte, arg int32) []byte {
	buf := make([]byte, 8)
	copy(buf[0:4], id[:])
	binary.LittleEndian.PutUint32(buf[4:8], uint32(arg))
	return buf
}
