package wire

import (
	"bytes"
	"testing"
	"testing/iotest"

	"github.com/and161185/p2p-share/internal/errs"
	"github.com/stretchr/testify/require"
)

func TestBitmapRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	bitmap := []byte{1, 1, 0, 1}
	require.NoError(t, WriteBitmap(&buf, 9, bitmap))
	require.Equal(t, 16+len(bitmap), buf.Len())

	h, got, err := ReadBitmap(iotest.OneByteReader(&buf))
	require.NoError(t, err)
	require.Equal(t, int32(4), h.TotalChunks)
	require.Equal(t, uint32(9), h.RequestID)
	require.Equal(t, bitmap, got)
}

func TestBitmapTooLarge(t *testing.T) {
	t.Parallel()

	err := WriteBitmap(&bytes.Buffer{}, 0, make([]byte, MaxBitmapSize+1))
	require.ErrorIs(t, err, errs.ErrInvalidInput)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, &BitmapHeader{
		Header:      Header{Command: CmdBitmap},
		TotalChunks: 1,
		BitmapSize:  MaxBitmapSize + 1,
	}))
	_, _, err = ReadBitmap(&buf)
	require.ErrorIs(t, err, errs.ErrProtocol)
}

func TestChunkRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	payload := bytes.Repeat([]byte("z"), 1000)
	require.NoError(t, WriteChunk(&buf, 5, 3, payload))

	h, got, err := ReadChunk(iotest.HalfReader(&buf), 1024)
	require.NoError(t, err)
	require.Equal(t, int32(3), h.Index)
	require.Equal(t, int32(len(payload)), h.Length)
	require.Equal(t, payload, got)
}

func TestChunkRejectedIndex(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteChunk(&buf, 1, 99, nil))
	require.Equal(t, 16, buf.Len())

	h, got, err := ReadChunk(&buf, 1024)
	require.NoError(t, err)
	require.Equal(t, int32(99), h.Index)
	require.Empty(t, got)
}

func TestChunkOversize(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteChunk(&buf, 1, 0, make([]byte, 10)))
	_, _, err := ReadChunk(&buf, 9)
	require.ErrorIs(t, err, errs.ErrProtocol)
}

func TestHandshakeRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, &HandshakeRequest{
		Header: Header{Command: CmdHandshake, RequestID: 2},
		Hash:   "deadbeef",
	}))
	require.NoError(t, Write(&buf, &HandshakeResponse{
		Header: Header{Command: CmdHandshakeResult, RequestID: 2},
		Status: HandshakeNoFile,
	}))

	var req HandshakeRequest
	require.NoError(t, Read(&buf, CmdHandshake, &req))
	require.Equal(t, "deadbeef", req.Hash)

	var res HandshakeResponse
	require.NoError(t, Read(&buf, CmdHandshakeResult, &res))
	require.Equal(t, HandshakeNoFile, res.Status)
}
