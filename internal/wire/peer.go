package wire

import (
	"fmt"
	"io"

	"github.com/and161185/p2p-share/internal/errs"
)

// Peer protocol commands.
const (
	CmdHandshake       Command = 201
	CmdHandshakeResult Command = 202
	CmdBitmap          Command = 203
	CmdChunkRequest    Command = 204
	CmdChunkData       Command = 205
	CmdDisconnect      Command = 206
)

// HandshakeStatus answers a handshake.
type HandshakeStatus int32

const (
	HandshakeOk     HandshakeStatus = 0
	HandshakeNoFile HandshakeStatus = 1
	HandshakeBusy   HandshakeStatus = 2
)

// MaxBitmapSize bounds the bitmap a receiver accepts, in bytes (one per chunk).
const MaxBitmapSize = 65536

// HandshakeRequest opens a transfer for Hash.
type HandshakeRequest struct {
	Header
	Hash string
}

func (HandshakeRequest) Size() int { return HeaderSize + HashCap }
func (m HandshakeRequest) encode(e *encoder) { e.str(m.Hash, HashCap) }
func (m *HandshakeRequest) decode(d *decoder) { m.Hash = d.str(HashCap) }

// HandshakeResponse tells the requester whether the content is served here.
type HandshakeResponse struct {
	Header
	Status HandshakeStatus
}

func (HandshakeResponse) Size() int { return HeaderSize + 4 }
func (m HandshakeResponse) encode(e *encoder) { e.int32(int32(m.Status)) }
func (m *HandshakeResponse) decode(d *decoder) { m.Status = HandshakeStatus(d.int32()) }

// BitmapHeader precedes BitmapSize availability bytes.
type BitmapHeader struct {
	Header
	TotalChunks int32
	BitmapSize  int32
}

func (BitmapHeader) Size() int { return HeaderSize + 8 }

func (m BitmapHeader) encode(e *encoder) {
	e.int32(m.TotalChunks)
	e.int32(m.BitmapSize)
}

func (m *BitmapHeader) decode(d *decoder) {
	m.TotalChunks = d.int32()
	m.BitmapSize = d.int32()
}

// ChunkRequest asks for one chunk by index.
type ChunkRequest struct {
	Header
	Index int32
}

func (ChunkRequest) Size() int { return HeaderSize + 4 }
func (m ChunkRequest) encode(e *encoder) { e.int32(m.Index) }
func (m *ChunkRequest) decode(d *decoder) { m.Index = d.int32() }

// ChunkHeader precedes Length raw payload bytes. Length 0 means the index was rejected.
type ChunkHeader struct {
	Header
	Index  int32
	Length int32
}

func (ChunkHeader) Size() int { return HeaderSize + 8 }

func (m ChunkHeader) encode(e *encoder) {
	e.int32(m.Index)
	e.int32(m.Length)
}

func (m *ChunkHeader) decode(d *decoder) {
	m.Index = d.int32()
	m.Length = d.int32()
}

// Disconnect ends a peer session early.
type Disconnect struct {
	Header
}

func (Disconnect) Size() int { return HeaderSize }
func (Disconnect) encode(*encoder) {}
func (*Disconnect) decode(*decoder) {}

// WriteBitmap sends the bitmap descriptor followed by one byte per chunk.
func WriteBitmap(w io.Writer, requestID uint32, bitmap []byte) error {
	if len(bitmap) > MaxBitmapSize {
		return fmt.Errorf("%w: bitmap of %d chunks exceeds %d", errs.ErrInvalidInput, len(bitmap), MaxBitmapSize)
	}
	h := BitmapHeader{
		Header:      Header{Command: CmdBitmap, RequestID: requestID},
		TotalChunks: int32(len(bitmap)),
		BitmapSize:  int32(len(bitmap)),
	}
	b, err := Marshal(&h)
	if err != nil {
		return err
	}
	_, err = w.Write(append(b, bitmap...))
	return err
}

// ReadBitmap reads a bitmap descriptor and its payload.
func ReadBitmap(r io.Reader) (BitmapHeader, []byte, error) {
	var h BitmapHeader
	if err := Read(r, CmdBitmap, &h); err != nil {
		return BitmapHeader{}, nil, err
	}
	if h.BitmapSize < 0 || h.BitmapSize > MaxBitmapSize || h.TotalChunks < 0 {
		return BitmapHeader{}, nil, fmt.Errorf("%w: bitmap size %d", errs.ErrProtocol, h.BitmapSize)
	}
	bitmap := make([]byte, h.BitmapSize)
	if _, err := io.ReadFull(r, bitmap); err != nil {
		return BitmapHeader{}, nil, err
	}
	return h, bitmap, nil
}

// WriteChunk sends the chunk descriptor and then the payload.
func WriteChunk(w io.Writer, requestID uint32, index int32, payload []byte) error {
	h := ChunkHeader{
		Header: Header{Command: CmdChunkData, RequestID: requestID},
		Index:  index,
		Length: int32(len(payload)),
	}
	if err := Write(w, &h); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

// ReadChunk reads a chunk descriptor and up to maxLen payload bytes into a new slice.
func ReadChunk(r io.Reader, maxLen int) (ChunkHeader, []byte, error) {
	var h ChunkHeader
	if err := Read(r, CmdChunkData, &h); err != nil {
		return ChunkHeader{}, nil, err
	}
	if h.Length < 0 || int(h.Length) > maxLen {
		return ChunkHeader{}, nil, fmt.Errorf("%w: chunk length %d", errs.ErrProtocol, h.Length)
	}
	payload := make([]byte, h.Length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return ChunkHeader{}, nil, err
	}
	return h, payload, nil
}
