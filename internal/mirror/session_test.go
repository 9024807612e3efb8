package mirror

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrcpy-core/adbcore/internal/adb"
	"github.com/scrcpy-core/adbcore/internal/adbproto"
	"github.com/scrcpy-core/adbcore/internal/decoder"
	"github.com/scrcpy-core/adbcore/internal/transport"
)

// fakeDecoder satisfies decoder.Decoder without ever blocking, enough
// to drive a stream task to its first submitted frame.
type fakeDecoder struct {
	submitted int
}

func (f *fakeDecoder) Init(cfg decoder.Config) error { return nil }
func (f *fakeDecoder) Start() error                  { return nil }
func (f *fakeDecoder) AcquireInput(timeout time.Duration) (*decoder.InputBuffer, error) {
	return &decoder.InputBuffer{Data: make([]byte, 1 << 16)}, nil
}
func (f *fakeDecoder) SubmitInput(buf *decoder.InputBuffer, pts uint64, size int, flags uint32) error {
	f.submitted++
	return nil
}
func (f *fakeDecoder) Stop() error { return nil }

type fakePeer struct {
	conn net.Conn
}

func (p *fakePeer) readMessage(t *testing.T) (adbproto.Command, uint32, uint32, []byte) {
	t.Helper()
	header := make([]byte, adbproto.HeaderLength)
	_, err := readFull(p.conn, header)
	require.NoError(t, err)
	cmd, arg0, arg1, payloadLen, err := adbproto.DecodeHeader(header)
	require.NoError(t, err)
	var payload []byte
	if payloadLen > 0 {
		payload = make([]byte, payloadLen)
		_, err = readFull(p.conn, payload)
		require.NoError(t, err)
	}
	return cmd, arg0, arg1, payload
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (p *fakePeer) send(msg []byte) { _, _ = p.conn.Write(msg) }

func newConnectedSession(t *testing.T) (*Session, *fakePeer) {
	t.Helper()
	clientConn, peerConn := net.Pipe()
	t.Cleanup(func() { _ = clientConn.Close(); _ = peerConn.Close() })

	channel := transport.Wrap(clientConn)
	adbSession := adb.New(channel, nil)
	peer := &fakePeer{conn: peerConn}

	done := make(chan error, 1)
	go func() { done <- adbSession.Connect(nil) }()
	cmd, _, _, _ := peer.readMessage(t)
	require.Equal(t, adbproto.CmdCnxn, cmd)
	peer.send(adbproto.GenerateConnect())
	require.NoError(t, <-done)

	return newSession(adbSession), peer
}

// acceptOpen drains one OPEN request from the peer, replies OKAY, and
// returns the client's assigned localID.
func acceptOpen(t *testing.T, peer *fakePeer, remoteID int32) int32 {
	t.Helper()
	cmd, arg0, _, _ := peer.readMessage(t)
	require.Equal(t, adbproto.CmdOpen, cmd)
	localID := int32(arg0)
	peer.send(adbproto.GenerateOkay(remoteID, localID))
	return localID
}

func videoHeader(codecID, width, height uint32) []byte {
	buf := make([]byte, 1+64+12)
	binary.BigEndian.PutUint32(buf[65:69], codecID)
	binary.BigEndian.PutUint32(buf[69:73], width)
	binary.BigEndian.PutUint32(buf[73:77], height)
	return buf
}

func frame(pts uint64, data []byte) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint64(buf[0:8], pts)
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(data)))
	return append(buf, data...)
}

func TestStartStreamsOpensAllThreeSocketsAndRunsFramers(t *testing.T) {
	session, peer := newConnectedSession(t)
	defer func() { _ = session.Close() }()

	videoDec := &fakeDecoder{}
	audioDec := &fakeDecoder{}
	sink := make(chan Event, 32)

	startDone := make(chan error, 1)
	go func() {
		startDone <- session.StartStreams(StreamConfig{
			VideoDest:    "scrcpy:video",
			AudioDest:    "scrcpy:audio",
			ControlDest:  "scrcpy:control",
			VideoDecoder: videoDec,
			AudioDecoder: audioDec,
		}, sink)
	}()

	const videoRemote, audioRemote, controlRemote = 10, 11, 12
	videoLocal := acceptOpen(t, peer, videoRemote)
	audioLocal := acceptOpen(t, peer, audioRemote)
	controlLocal := acceptOpen(t, peer, controlRemote)
	require.NoError(t, <-startDone)

	peer.send(adbproto.GenerateWrite(videoRemote, videoLocal, videoHeader(0x68323634, 100, 200)))
	cmd, _, _, _ := peer.readMessage(t)
	require.Equal(t, adbproto.CmdOkay, cmd)

	ev := <-sink
	assert.Equal(t, "video_config", ev.Type)

	peer.send(adbproto.GenerateWrite(audioRemote, audioLocal, []byte{0, 0, 0, 0}))
	cmd, _, _, _ = peer.readMessage(t)
	require.Equal(t, adbproto.CmdOkay, cmd)

	ev = <-sink
	assert.Equal(t, "audio_disabled", ev.Type)

	_ = controlLocal
	session.StopStreams()
}

func TestOpenStreamReadWriteCloseRoundTrip(t *testing.T) {
	session, peer := newConnectedSession(t)
	defer func() { _ = session.Close() }()

	openDone := make(chan struct{})
	var localID int32
	var openErr error
	go func() {
		localID, openErr = session.OpenStream("shell:ls", true)
		close(openDone)
	}()

	const remoteID = 7
	peerLocalID := acceptOpen(t, peer, remoteID)
	<-openDone
	require.NoError(t, openErr)

	require.NoError(t, session.StreamWrite(localID, []byte("hi")))
	cmd, _, _, payload := peer.readMessage(t)
	require.Equal(t, adbproto.CmdWrte, cmd)
	assert.Equal(t, "hi", string(payload))
	peer.send(adbproto.GenerateOkay(remoteID, peerLocalID))

	peer.send(adbproto.GenerateWrite(remoteID, peerLocalID, []byte("echo")))
	cmd, _, _, _ = peer.readMessage(t)
	require.Equal(t, adbproto.CmdOkay, cmd)

	buf := make([]byte, 4)
	n, err := session.StreamRead(localID, buf, 2000)
	require.NoError(t, err)
	assert.Equal(t, "echo", string(buf[:n]))

	require.NoError(t, session.StreamClose(localID))
}

func TestSendControlFailsBeforeStreamsStart(t *testing.T) {
	session, _ := newConnectedSession(t)
	defer func() { _ = session.Close() }()

	err := session.SendControl([]byte{0})
	assert.Error(t, err)
}
