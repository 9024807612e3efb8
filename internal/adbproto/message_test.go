package adbproto

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateConnectRoundTrip(t *testing.T) {
	msg := GenerateConnect()
	require.Len(t, msg, HeaderLength+len(ConnectPayload))

	cmd, arg0, arg1, payloadLen, err := DecodeHeader(msg[:HeaderLength])
	require.NoError(t, err)
	assert.Equal(t, CmdCnxn, cmd)
	assert.Equal(t, ConnectVersion, arg0)
	assert.Equal(t, ConnectMaxData, arg1)
	assert.EqualValues(t, len(ConnectPayload), payloadLen)
	assert.Equal(t, ConnectPayload, msg[HeaderLength:])

	magic := binary.LittleEndian.Uint32(msg[20:24])
	assert.Equal(t, ^uint32(CmdCnxn), magic)
}

func TestChecksumIsSumOfPayloadBytes(t *testing.T) {
	payload := []byte{1, 2, 3, 250}
	msg := GenerateWrite(5, 7, payload)
	checksum := binary.LittleEndian.Uint32(msg[16:20])
	assert.EqualValues(t, 1+2+3+250, checksum)
}

func TestGenerateCloseHasNoPayload(t *testing.T) {
	msg := GenerateClose(3, 4)
	require.Len(t, msg, HeaderLength)
	cmd, arg0, arg1, payloadLen, err := DecodeHeader(msg)
	require.NoError(t, err)
	assert.Equal(t, CmdClse, cmd)
	assert.EqualValues(t, 3, arg0)
	assert.EqualValues(t, 4, arg1)
	assert.EqualValues(t, 0, payloadLen)
}

func TestGenerateOpenAppendsNulTerminator(t *testing.T) {
	msg := GenerateOpen(9, "shell:ls")
	payload := msg[HeaderLength:]
	assert.Equal(t, byte(0), payload[len(payload)-1])
	assert.Equal(t, "shell:ls", string(payload[:len(payload)-1]))
}

func TestDecodeHeaderRejectsShortInput(t *testing.T) {
	_, _, _, _, err := DecodeHeader(make([]byte, 10))
	assert.Error(t, err)
}

func TestGenerateSyncHeaderLayout(t *testing.T) {
	buf := GenerateSyncHeader([4]byte{'S', 'E', 'N', 'D'}, 420)
	require.Len(t, buf, 8)
	assert.Equal(t, "SEND", string(buf[0:4]))
	assert.EqualValues(t, 420, binary.LittleEndian.Uint32(buf[4:8]))
}
