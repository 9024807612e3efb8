package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrcpy-core/adbcore/internal/coreerr"
)

func TestReadExactNonBlockingFailsWithNoData(t *testing.T) {
	clientConn, peerConn := net.Pipe()
	t.Cleanup(func() { _ = clientConn.Close(); _ = peerConn.Close() })

	ch := Wrap(clientConn)
	buf := make([]byte, 4)
	err := ch.ReadExact(buf, NonBlocking)
	require.Error(t, err)
	assert.ErrorIs(t, err, coreerr.WouldBlock)
}

func TestReadExactForeverBlocksUntilDataArrives(t *testing.T) {
	clientConn, peerConn := net.Pipe()
	t.Cleanup(func() { _ = clientConn.Close(); _ = peerConn.Close() })

	ch := Wrap(clientConn)
	go func() {
		time.Sleep(10 * time.Millisecond)
		_, _ = peerConn.Write([]byte("pong"))
	}()

	buf := make([]byte, 4)
	err := ch.ReadExact(buf, Forever)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(buf))
}
