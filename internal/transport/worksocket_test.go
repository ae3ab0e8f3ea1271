package transport

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestFrameRoundTrip(t *testing.T) {
	sizes := []int{0, 1, 3, 4, 255, 256, 4096, 65535}
	for _, n := range sizes {
		payload := bytes.Repeat([]byte{byte(n)}, n)

		decoded, err := DecodeFrame(EncodeFrame(payload))
		require.NoError(t, err)
		assert.Equal(t, payload, decoded, "size %d", n)

		read, err := ReadFrame(bytes.NewReader(EncodeFrame(payload)), 0)
		require.NoError(t, err)
		assert.Equal(t, payload, read, "size %d", n)
	}
}

func TestFrameLittleEndian(t *testing.T) {
	frame := EncodeFrame([]byte("HW\n"))
	assert.Equal(t, []byte{3, 0, 0, 0}, frame[:4])
}

func TestDecodeFrameErrors(t *testing.T) {
	_, err := DecodeFrame([]byte{1, 0})
	assert.ErrorIs(t, err, ErrShortFrame)

	_, err = DecodeFrame([]byte{5, 0, 0, 0, 'a'})
	assert.ErrorIs(t, err, ErrShortFrame)
}

func TestReadFrameTooLarge(t *testing.T) {
	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], 1000)

	_, err := ReadFrame(bytes.NewReader(header[:]), 10)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestReadFrameShortRead(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{8, 0, 0, 0, 'a'}), 0)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func newPipeSocket(t *testing.T, opts Options) (*WorkSocket, net.Conn) {
	t.Helper()
	local, remote := net.Pipe()
	ws := NewWorkSocket("pipe", local, opts, zaptest.NewLogger(t))
	t.Cleanup(func() {
		ws.Close()
		remote.Close()
	})
	return ws, remote
}

func TestWorkSocketSendFramesPayload(t *testing.T) {
	ws, remote := newPipeSocket(t, Options{})

	require.NoError(t, ws.Send([]byte("VOL 1\n")))

	got, err := ReadFrame(remote, 0)
	require.NoError(t, err)
	assert.Equal(t, "VOL 1\n", string(got))
}

func TestWorkSocketReceiveInOrder(t *testing.T) {
	ws, remote := newPipeSocket(t, Options{})

	go func() {
		remote.Write(EncodeFrame([]byte("first")))
		remote.Write(EncodeFrame([]byte("second")))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	first, err := ws.Receive(ctx)
	require.NoError(t, err)
	second, err := ws.Receive(ctx)
	require.NoError(t, err)

	assert.Equal(t, "first", string(first))
	assert.Equal(t, "second", string(second))
}

func TestWorkSocketSkipsEmptyPayload(t *testing.T) {
	ws, remote := newPipeSocket(t, Options{})

	require.NoError(t, ws.Send(nil))
	require.NoError(t, ws.Send([]byte("HW\n")))

	got, err := ReadFrame(remote, 0)
	require.NoError(t, err)
	assert.Equal(t, "HW\n", string(got))
}

func TestWorkSocketKeepAlive(t *testing.T) {
	ws, remote := newPipeSocket(t, Options{
		KeepAlivePeriod:  20 * time.Millisecond,
		KeepAlivePayload: []byte("\n"),
	})
	_ = ws

	remote.SetReadDeadline(time.Now().Add(time.Second))
	got, err := ReadFrame(remote, 0)
	require.NoError(t, err)
	assert.Equal(t, "\n", string(got))
}

func TestWorkSocketPeerCloseTearsDown(t *testing.T) {
	ws, remote := newPipeSocket(t, Options{})

	require.NoError(t, remote.Close())

	select {
	case <-ws.Done():
	case <-time.After(time.Second):
		t.Fatal("work socket did not tear down after peer close")
	}
	assert.Error(t, ws.Err())
	assert.ErrorIs(t, ws.Send([]byte("x")), ErrClosed)
}

func TestWorkSocketCloseIdempotent(t *testing.T) {
	ws, _ := newPipeSocket(t, Options{KeepAlivePeriod: time.Hour, KeepAlivePayload: []byte("\n")})

	assert.NoError(t, ws.Close())
	assert.NoError(t, ws.Close())

	_, err := ws.Receive(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, ws.Err())
}
