package scrcpyproto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeVideoCodecIDAcceptsLegacyShortCodes(t *testing.T) {
	id, ok := NormalizeVideoCodecID(0)
	assert.True(t, ok)
	assert.Equal(t, CodecH264, id)

	id, ok = NormalizeVideoCodecID(uint32(CodecAV1))
	assert.True(t, ok)
	assert.Equal(t, CodecAV1, id)

	_, ok = NormalizeVideoCodecID(0x12345678)
	assert.False(t, ok)
}

func TestVideoCodecNameMatchesSpecTable(t *testing.T) {
	assert.Equal(t, "h264", VideoCodecName(CodecH264))
	assert.Equal(t, "h265", VideoCodecName(CodecH265))
	assert.Equal(t, "av1", VideoCodecName(CodecAV1))
}

func TestPTSMaskClearsTopTwoBits(t *testing.T) {
	pts := PacketFlagConfig | PacketFlagKey | 12345
	assert.EqualValues(t, 12345, pts&PTSMask)
}
