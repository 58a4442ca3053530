package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// HeaderSize is the length of the big-endian frame length prefix.
const HeaderSize = 4

// DefaultMaxFrameBytes bounds frame payloads when no limit is configured.
const DefaultMaxFrameBytes = 16 << 20

// ErrFrameTooLarge is returned when a peer announces a frame above the limit.
// The stream cannot be resynchronised after it.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// FrameReader reads length-prefixed frames from a byte stream, independent of
// how the underlying reader chunks its data.
type FrameReader struct {
	r   *bufio.Reader
	max int
	hdr [HeaderSize]byte
}

// NewFrameReader wraps r. A non-positive maxBytes selects DefaultMaxFrameBytes.
func NewFrameReader(r io.Reader, maxBytes int) *FrameReader {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFrameBytes
	}
	return &FrameReader{r: bufio.NewReader(r), max: maxBytes}
}

// ReadFrame blocks until one complete frame is available and returns its payload.
//
// Postcondition: io.EOF is returned only on a clean boundary; a stream cut
// mid-frame yields io.ErrUnexpectedEOF.
func (f *FrameReader) ReadFrame() ([]byte, error) {
	if _, err := io.ReadFull(f.r, f.hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(f.hdr[:])
	if uint64(n) > uint64(f.max) {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, f.max)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(f.r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}

// ReadMessage reads one frame and decodes it. Decode failures yield *Invalid;
// the returned error is reserved for transport failures.
func (f *FrameReader) ReadMessage() (Message, error) {
	payload, err := f.ReadFrame()
	if err != nil {
		return nil, err
	}
	return Parse(payload), nil
}

// AppendFrame appends the length prefix and payload to dst.
func AppendFrame(dst, payload []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...)
}

// WriteFrame writes payload as one frame in a single Write call.
func WriteFrame(w io.Writer, payload []byte) error {
	_, err := w.Write(AppendFrame(make([]byte, 0, HeaderSize+len(payload)), payload))
	return err
}

// EncodeFrame encodes msg and frames it.
func EncodeFrame(msg Message) ([]byte, error) {
	body, err := Encode(msg)
	if err != nil {
		return nil, err
	}
	return AppendFrame(make([]byte, 0, HeaderSize+len(body)), body), nil
}

// WriteMessage encodes msg and writes it as one frame.
func WriteMessage(w io.Writer, msg Message) error {
	frame, err := EncodeFrame(msg)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}
