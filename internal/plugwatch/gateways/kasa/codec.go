package kasa

import (
	"encoding/binary"
	"fmt"
	"io"
)

// initialKey seeds the autokey XOR cipher used by the local protocol.
const initialKey byte = 171

// maxFrame bounds a response payload; sysinfo replies are a few KiB.
const maxFrame = 64 << 10

// Encrypt applies the autokey cipher: each output byte becomes the key for the next.
func Encrypt(plain []byte) []byte {
	out := make([]byte, len(plain))
	key := initialKey
	for i, b := range plain {
		key ^= b
		out[i] = key
	}
	return out
}

// Decrypt reverses Encrypt.
func Decrypt(cipher []byte) []byte {
	out := make([]byte, len(cipher))
	key := initialKey
	for i, c := range cipher {
		out[i] = key ^ c
		key = c
	}
	return out
}

// WriteFrame encrypts payload and writes it with a 4-byte big-endian length prefix.
func WriteFrame(w io.Writer, payload []byte) error {
	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[4:], Encrypt(payload))
	_, err := w.Write(frame)
	return err
}

// ReadFrame reads one length-prefixed frame and returns the decrypted payload.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > maxFrame {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit of %d", n, maxFrame)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return Decrypt(body), nil
}
