package net

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Feed frames are [2 bytes LE: total length including the header][payload].
// The first payload byte is the opcode, so an empty payload is never valid.
const (
	frameHeaderSize = 2
	// MaxFramePayload is the largest payload a 16-bit length can carry.
	MaxFramePayload = 1<<16 - 1 - frameHeaderSize
)

// ErrFrameSize marks a frame whose length header is out of range.
var ErrFrameSize = errors.New("feed frame size out of range")

// ReadFrame reads one feed frame and returns its payload without the header.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("read frame header: %w", err)
	}

	total := int(binary.LittleEndian.Uint16(header[:]))
	n := total - frameHeaderSize
	if n <= 0 {
		return nil, fmt.Errorf("frame length %d: %w", total, ErrFrameSize)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload (%d bytes): %w", n, err)
	}
	return payload, nil
}

// WriteFrame writes data as one feed frame with a single Write, so frames
// from concurrent writers on a locked conn never interleave.
func WriteFrame(w io.Writer, data []byte) error {
	if len(data) == 0 || len(data) > MaxFramePayload {
		return fmt.Errorf("payload %d bytes: %w", len(data), ErrFrameSize)
	}
	buf := make([]byte, frameHeaderSize+len(data))
	binary.LittleEndian.PutUint16(buf, uint16(len(buf)))
	copy(buf[frameHeaderSize:], data)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}
