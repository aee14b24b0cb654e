// Package cursor encodes and decodes Relay-style connection cursors.
// Cursors are opaque base64 strings wrapping the zero-based offset of an
// edge within its connection.
package cursor

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

const prefix = "arrayconnection:"

// EncodeCursor builds the cursor of the edge at offset.
func EncodeCursor(offset int) string {
	return base64.StdEncoding.EncodeToString([]byte(prefix + strconv.Itoa(offset)))
}

// DecodeCursor returns the edge offset a cursor points at.
func DecodeCursor(raw string) (int, error) {
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid cursor: %w", err)
	}
	digits, ok := strings.CutPrefix(string(data), prefix)
	if !ok {
		return 0, fmt.Errorf("invalid cursor format: expected %q prefix", prefix)
	}
	offset, err := strconv.Atoi(digits)
	if err != nil {
		return 0, fmt.Errorf("invalid cursor offset: %w", err)
	}
	if offset < 0 {
		return 0, fmt.Errorf("invalid cursor: negative offset %d", offset)
	}
	return offset, nil
}

// SkipAfter is the number of edges to skip to page past the cursor. An
// empty cursor skips nothing.
func SkipAfter(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	offset, err := DecodeCursor(raw)
	if err != nil {
		return 0, err
	}
	return offset + 1, nil
}
