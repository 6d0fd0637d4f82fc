package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/opd-ai/peerchat/limits"
)

// frameHeaderSize is the length prefix size: a 4-byte big-endian unsigned integer.
const frameHeaderSize = 4

var (
	// ErrMalformedFrame indicates a frame that could not be parsed, including a
	// zero length prefix.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrFrameTooLarge indicates a length prefix above limits.MaxFrameSize.
	ErrFrameTooLarge = errors.New("frame too large")
)

// EncodeFrame returns the length-prefixed wire form of env.
func EncodeFrame(env *Envelope) ([]byte, error) {
	body, err := MarshalEnvelope(env)
	if err != nil {
		return nil, err
	}
	if len(body) > limits.MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(body))
	}

	frame := make([]byte, frameHeaderSize, frameHeaderSize+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	return append(frame, body...), nil
}

// WriteFrame writes one length-prefixed envelope to w.
func WriteFrame(w io.Writer, env *Envelope) error {
	frame, err := EncodeFrame(env)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// ReadFrame reads one complete frame from r and decodes its envelope. Partial reads are
// reassembled. It returns io.EOF only when r ends cleanly before a header byte.
func ReadFrame(r io.Reader) (*Envelope, error) {
	body, err := readFrameBody(r)
	if err != nil {
		return nil, err
	}
	return UnmarshalEnvelope(body)
}

func readFrameBody(r io.Reader) ([]byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(header[:])
	if err := limits.ValidateFrameLength(length); err != nil {
		if errors.Is(err, limits.ErrMessageEmpty) {
			return nil, fmt.Errorf("%w: zero length", ErrMalformedFrame)
		}
		return nil, fmt.Errorf("%w: declared %d bytes", ErrFrameTooLarge, length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return body, nil
}
