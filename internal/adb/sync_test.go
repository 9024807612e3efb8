package adb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrcpy-core/adbcore/internal/adbproto"
)

func connectSession(t *testing.T) (*Session, *fakePeer) {
	t.Helper()
	session, peer := newTestSession(t)
	done := make(chan error, 1)
	go func() { done <- session.Connect(nil) }()
	cmd, _, _, _ := peer.readMessage(t)
	require.Equal(t, adbproto.CmdCnxn, cmd)
	peer.send(adbproto.GenerateConnect())
	require.NoError(t, <-done)
	return session, peer
}

func TestPushFileSendsSyncProtocolAndSucceeds(t *testing.T) {
	session, peer := connectSession(t)

	dir := t.TempDir()
	localPath := filepath.Join(dir, "payload.bin")
	require.NoError(t, os.WriteFile(localPath, []byte("small file contents"), 0o644))

	pushErr := make(chan error, 1)
	go func() { pushErr <- session.PushFile(localPath, "/data/local/tmp/payload.bin", 0o644) }()

	cmd, arg0, _, _ := peer.readMessage(t)
	require.Equal(t, adbproto.CmdOpen, cmd)
	localID := int32(arg0)
	const remoteID = 7
	peer.send(adbproto.GenerateOkay(remoteID, localID))

	cmd, _, _, payload := peer.readMessage(t)
	require.Equal(t, adbproto.CmdWrte, cmd)
	assert.Equal(t, "SEND", string(payload[0:4]))
	peer.send(adbproto.GenerateOkay(remoteID, localID))

	cmd, _, _, payload = peer.readMessage(t)
	require.Equal(t, adbproto.CmdWrte, cmd)
	assert.Equal(t, "DATA", string(payload[0:4]))
	assert.Equal(t, "small file contents", string(payload[8:]))
	peer.send(adbproto.GenerateOkay(remoteID, localID))

	cmd, _, _, payload = peer.readMessage(t)
	require.Equal(t, adbproto.CmdWrte, cmd)
	assert.Equal(t, "DONE", string(payload[0:4]))
	peer.send(adbproto.GenerateOkay(remoteID, localID))

	cmd, _, _, payload = peer.readMessage(t)
	require.Equal(t, adbproto.CmdWrte, cmd)
	assert.Equal(t, "QUIT", string(payload[0:4]))
	peer.send(adbproto.GenerateOkay(remoteID, localID))

	peer.send(adbproto.GenerateWrite(remoteID, localID, []byte("OKAY\x00\x00\x00\x00")))
	cmd, _, _, _ = peer.readMessage(t) // client's auto-OKAY for that WRTE
	require.Equal(t, adbproto.CmdOkay, cmd)

	peer.send(adbproto.GenerateClose(remoteID, localID))

	require.NoError(t, <-pushErr)
}
