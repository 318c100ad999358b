// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/tether-dev/tether/lib/codec"
	"github.com/tether-dev/tether/lib/ipc"
)

// lengthHeaderSize is the fixed size of the frame length prefix: a
// big-endian uint32 counting the CBOR body bytes that follow.
const lengthHeaderSize = 4

// maxEnvelopeSize is the maximum allowed frame body. 64 MB is generous
// for RPC traffic; the guard turns a desynchronized stream into an
// error instead of a giant allocation.
const maxEnvelopeSize = 64 * 1024 * 1024

// WriteEnvelope frames envelope onto w as [4-byte length][CBOR body].
// The frame is assembled in *buffer (grown as needed and reused across
// calls) and written with a single Write so the envelope hits the pipe
// as one contiguous chunk.
func WriteEnvelope(w io.Writer, buffer *[]byte, envelope ipc.Envelope) error {
	body, err := codec.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}
	// Same guard as the read side: never emit a frame a conforming
	// peer would reject (or whose length the uint32 prefix cannot
	// carry).
	if len(body) > maxEnvelopeSize {
		return fmt.Errorf("frame length %d exceeds maximum %d", len(body), maxEnvelopeSize)
	}

	frame := append((*buffer)[:0], 0, 0, 0, 0)
	binary.BigEndian.PutUint32(frame[:lengthHeaderSize], uint32(len(body)))
	frame = append(frame, body...)
	*buffer = frame

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// ReadEnvelope reads one frame from r. The length header and body may
// each arrive split across arbitrarily many underlying reads; both are
// accumulated with io.ReadFull. A stream that closes cleanly at a
// frame boundary returns io.EOF; one that ends mid-frame returns an
// error wrapping io.ErrUnexpectedEOF. *buffer is reused across calls
// for the frame body.
func ReadEnvelope(r io.Reader, buffer *[]byte) (ipc.Envelope, error) {
	var header [lengthHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			// Zero bytes before the header: clean closure.
			return ipc.Envelope{}, io.EOF
		}
		return ipc.Envelope{}, fmt.Errorf("reading frame header: %w", err)
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > maxEnvelopeSize {
		return ipc.Envelope{}, fmt.Errorf("frame length %d exceeds maximum %d", length, maxEnvelopeSize)
	}

	if cap(*buffer) < int(length) {
		*buffer = make([]byte, length)
	}
	body := (*buffer)[:length]
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return ipc.Envelope{}, fmt.Errorf("reading frame body: %w", err)
	}

	var envelope ipc.Envelope
	if err := codec.Unmarshal(body, &envelope); err != nil {
		return ipc.Envelope{}, fmt.Errorf("decoding envelope: %w", err)
	}
	return envelope, nil
}
