package dockerapi

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// The engine multiplexes stdout and stderr onto one attach connection when
// the container has no TTY. Each frame is an 8-byte header (stream type,
// three zero bytes, big-endian payload length) followed by the payload.

type StreamType byte

const (
	StreamStdin  StreamType = 0
	StreamStdout StreamType = 1
	StreamStderr StreamType = 2
)

func (t StreamType) String() string {
	switch t {
	case StreamStdin:
		return "stdin"
	case StreamStdout:
		return "stdout"
	case StreamStderr:
		return "stderr"
	}
	return fmt.Sprintf("stream(%d)", byte(t))
}

type Frame struct {
	Stream  StreamType
	Payload []byte
}

const frameHeaderSize = 8

// maxFramePayload rejects absurd lengths, which usually mean the connection
// carries a raw TTY stream rather than multiplexed frames.
const maxFramePayload = 16 * 1024 * 1024

// ReadFrames demultiplexes frames from r and hands each one to onFrame. It
// returns nil on a clean end-of-stream (the connection closed on a frame
// boundary) and an error otherwise. Payloads are freshly allocated per
// frame; onFrame may retain them.
func ReadFrames(r io.Reader, onFrame func(Frame)) error {
	header := make([]byte, frameHeaderSize)
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read frame header: %w", err)
		}
		size := binary.BigEndian.Uint32(header[4:frameHeaderSize])
		if size > maxFramePayload {
			return fmt.Errorf("frame payload of %d bytes exceeds limit; is the stream multiplexed?", size)
		}
		payload := make([]byte, size)
		if _, err := io.ReadFull(r, payload); err != nil {
			return fmt.Errorf("read frame payload: %w", err)
		}
		onFrame(Frame{Stream: StreamType(header[0]), Payload: payload})
	}
}

// WriteFrame encodes a single multiplexed frame. The engine side of the
// protocol; used by tests and fakes standing in for a real daemon.
func WriteFrame(w io.Writer, frame Frame) error {
	header := make([]byte, frameHeaderSize)
	header[0] = byte(frame.Stream)
	binary.BigEndian.PutUint32(header[4:frameHeaderSize], uint32(len(frame.Payload)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(frame.Payload)
	return err
}
