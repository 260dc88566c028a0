package network

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learnedindex/pkg/common"
	"learnedindex/pkg/config"
	"learnedindex/pkg/core/store"
	"learnedindex/pkg/protocol"
)

func newServer(t *testing.T) *TCPServer {
	t.Helper()
	cfg := config.Default().Index
	cfg.BucketCount = 2
	st, err := store.New(context.Background(), cfg, []common.KeyType{1, 2, 3, 4}, nil)
	require.NoError(t, err)
	return NewTCPServer(st)
}

func TestServeAfterShutdownReturns(t *testing.T) {
	srv := newServer(t)
	require.NoError(t, srv.Shutdown())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, srv.Serve(ln))

	// The listener was closed, so nothing accepts on it any more.
	_, err = ln.Accept()
	assert.ErrorIs(t, err, net.ErrClosed)
}

func TestShutdownClosesOpenConnections(t *testing.T) {
	srv := newServer(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, protocol.Encode(conn, protocol.OpEval, protocol.EncodeKey(3), nil))
	resp, err := protocol.Decode(conn)
	require.NoError(t, err)
	assert.Equal(t, byte(protocol.RespVal), resp.Op)

	require.NoError(t, srv.Shutdown())
	require.NoError(t, <-done)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)

	// Connections arriving after Shutdown are refused.
	_, err = net.DialTimeout("tcp", ln.Addr().String(), time.Second)
	assert.Error(t, err)
}
