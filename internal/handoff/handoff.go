// Package handoff carries a JSON value across a same-binary re-exec
// boundary over a pipe. It is deliberately simpler than the external wire
// protocol: there is no magic number or version, since both ends are
// always the same build of this binary.
package handoff

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

const maxPayload = 1 << 20

// Write encodes v as JSON and writes it to w as a 4-byte big-endian length
// prefix followed by the JSON body.
func Write(w io.Writer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("handoff: marshal: %w", err)
	}
	if len(body) > maxPayload {
		return fmt.Errorf("handoff: payload too large (%d > %d)", len(body), maxPayload)
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(body)))

	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("handoff: write length: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("handoff: write body: %w", err)
	}
	return nil
}

// Read reads a length-prefixed JSON value from r and decodes it into v.
func Read(r io.Reader, v any) error {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return fmt.Errorf("handoff: read length: %w", err)
	}
	length := binary.BigEndian.Uint32(prefix[:])
	if length > maxPayload {
		return fmt.Errorf("handoff: payload too large (%d > %d)", length, maxPayload)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("handoff: read body: %w", err)
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("handoff: unmarshal: %w", err)
	}
	return nil
}
