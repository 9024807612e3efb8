package adb

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/scrcpy-core/adbcore/internal/adbproto"
	"github.com/scrcpy-core/adbcore/internal/coreerr"
)

// syncDataChunk is the reference implementation's sync: DATA chunk size:
// 10240 bytes, reduced by the 8-byte sync header that accompanies each
// chunk.
const syncDataChunk = 10240 - 8

// syncDoneTimestamp is the fixed mtime the reference pushFile sends with
// DONE, rather than the real file mtime.
const syncDoneTimestamp = 1704038400

var (
	syncIDSend = [4]byte{'S', 'E', 'N', 'D'}
	syncIDData = [4]byte{'D', 'A', 'T', 'A'}
	syncIDDone = [4]byte{'D', 'O', 'N', 'E'}
	syncIDQuit = [4]byte{'Q', 'U', 'I', 'T'}
	syncIDOkay = [4]byte{'O', 'K', 'A', 'Y'}
	syncIDFail = [4]byte{'F', 'A', 'I', 'L'}
)

// PushFile copies local to remotePath on the peer with the given
// permission bits, using the sync: SEND/DATA/DONE/QUIT exchange.
func (s *Session) PushFile(local, remotePath string, mode uint32) error {
	f, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("adb: open %s: %w", local, err)
	}
	defer f.Close()

	stream, err := s.Open("sync:", true)
	if err != nil {
		return err
	}
	defer s.StreamClose(stream)

	spec := fmt.Sprintf("%s,%d", remotePath, mode&0o777)
	sendBody := append(adbproto.GenerateSyncHeader(syncIDSend, int32(len(spec))), []byte(spec)...)
	if err := s.Write(stream, sendBody); err != nil {
		return err
	}

	buf := make([]byte, syncDataChunk)
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			chunk := append(adbproto.GenerateSyncHeader(syncIDData, int32(n)), buf[:n]...)
			if err := s.Write(stream, chunk); err != nil {
				return err
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("adb: read %s: %w", local, readErr)
		}
	}

	if err := s.Write(stream, adbproto.GenerateSyncHeader(syncIDDone, syncDoneTimestamp)); err != nil {
		return err
	}
	if err := s.Write(stream, adbproto.GenerateSyncHeader(syncIDQuit, 0)); err != nil {
		return err
	}

	status := make([]byte, 8)
	if err := stream.ReadExact(status, 10000); err != nil {
		return err
	}
	if string(status[0:4]) == string(syncIDFail[:]) {
		length := int32(status[4]) | int32(status[5])<<8 | int32(status[6])<<16 | int32(status[7])<<24
		msg := make([]byte, length)
		_ = stream.ReadExact(msg, 2000)
		return coreerr.New(coreerr.KindProtocolError, fmt.Sprintf("adb: push failed: %s", string(msg)))
	}
	if string(status[0:4]) != string(syncIDOkay[:]) {
		return coreerr.New(coreerr.KindProtocolError, "adb: unexpected sync status")
	}
	return nil
}

// RunShellCommand executes cmd in a single-send shell: stream and
// returns its combined stdout/stderr, matching the adbd shell service's
// behavior of mixing both on the one stream it hands back.
func (s *Session) RunShellCommand(cmd string) (string, error) {
	stream, err := s.Open("shell:"+cmd, false)
	if err != nil {
		return "", err
	}
	defer s.StreamClose(stream)

	output, err := s.readAllBeforeClose(stream)
	if err != nil {
		return "", err
	}
	return string(output), nil
}

// RestartOnTCPIP asks adbd to switch its listening transport to TCP on
// port, the same restart mechanism "adb tcpip <port>" performs.
func (s *Session) RestartOnTCPIP(port int) error {
	stream, err := s.Open(fmt.Sprintf("tcpip:%d", port), false)
	if err != nil {
		return err
	}
	defer s.StreamClose(stream)

	_, err = s.readAllBeforeClose(stream)
	return err
}

// readAllBeforeClose drains stream until the peer closes it, the
// pattern every single-send command stream (shell:, tcpip:) follows:
// there's no explicit length, just read until CLSE.
func (s *Session) readAllBeforeClose(stream *Stream) ([]byte, error) {
	var out []byte
	buf := make([]byte, 4096)
	for {
		n, err := stream.Read(buf, 30000)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err != nil {
			if errors.Is(err, coreerr.StreamClosed) {
				return out, nil
			}
			return out, err
		}
		if n == 0 {
			return out, nil
		}
	}
}
