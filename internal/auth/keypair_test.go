package auth

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateProducesVerifiableSignature(t *testing.T) {
	kp, err := Generate()
	require.NoError(t, err)

	token := sha1.Sum([]byte("a random auth challenge"))
	sig := kp.Sign(token[:])
	require.Len(t, sig, 256)

	err = rsa.VerifyPKCS1v15(&kp.priv.PublicKey, crypto.SHA1, token[:], sig)
	assert.NoError(t, err)
}

func TestSignaturePaddingIsExactly236Bytes(t *testing.T) {
	// 256-byte RSA block minus a 20-byte SHA-1 token.
	assert.Len(t, signaturePadding, 236)
	assert.Equal(t, byte(0x00), signaturePadding[0])
	assert.Equal(t, byte(0x01), signaturePadding[1])
	assert.Equal(t, byte(0x00), signaturePadding[220])
}

func TestPublicKeyMessageFormat(t *testing.T) {
	kp, err := Generate()
	require.NoError(t, err)

	msg := string(kp.PublicKeyMessage())
	parts := strings.SplitN(msg, " ", 2)
	require.Len(t, parts, 2)
	assert.Equal(t, Tag, parts[1])

	blob, err := base64.StdEncoding.DecodeString(parts[0])
	require.NoError(t, err)
	assert.Len(t, blob, publicBlobLen)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	kp, err := Generate()
	require.NoError(t, err)
	require.NoError(t, kp.Save(dir))

	loaded, err := Load(filepath.Join(dir, "adbkey"))
	require.NoError(t, err)
	assert.Equal(t, kp.priv.N, loaded.priv.N)
	assert.Equal(t, kp.priv.D, loaded.priv.D)

	data, err := os.ReadFile(filepath.Join(dir, "adbkey.pub"))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(data), Tag))
	assert.False(t, strings.HasSuffix(string(data), "\n"))
}

func TestLoadOrGenerateCreatesThenReuses(t *testing.T) {
	dir := t.TempDir()

	first, err := LoadOrGenerate(dir)
	require.NoError(t, err)

	second, err := LoadOrGenerate(dir)
	require.NoError(t, err)

	assert.Equal(t, first.priv.N, second.priv.N)
}

func TestSignEmptyTokenReturnsSingleZeroByte(t *testing.T) {
	kp, err := Generate()
	require.NoError(t, err)

	assert.Equal(t, []byte{0}, kp.Sign(nil))
}
