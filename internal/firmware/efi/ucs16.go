package efi

import (
	"bytes"
	"fmt"

	"golang.org/x/text/encoding/unicode"
)

var ucs16 = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// EncodeName returns the UTF-16LE encoding of s including the CHAR16 null
// terminator, i.e. the exact NameSize bytes stored in a variable record.
func EncodeName(s string) ([]byte, error) {
	b, err := ucs16.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("encode name %q: %w", s, err)
	}
	return append(b, 0, 0), nil
}

// MustEncodeName is EncodeName for names known to be valid.
func MustEncodeName(s string) []byte {
	b, err := EncodeName(s)
	if err != nil {
		panic(err)
	}
	return b
}

// DecodeName decodes a UTF-16LE name, stopping at the first null CHAR16.
// A trailing odd byte is ignored.
func DecodeName(b []byte) (string, error) {
	b = b[:len(b)&^1]
	if n := TerminatorIndex(b); n >= 0 {
		b = b[:n]
	}
	out, err := ucs16.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("decode name: %w", err)
	}
	return string(out), nil
}

// TerminatorIndex returns the byte offset of the first null CHAR16 in b, or -1.
func TerminatorIndex(b []byte) int {
	for i := 0; i+1 < len(b); i += 2 {
		if b[i] == 0 && b[i+1] == 0 {
			return i
		}
	}
	return -1
}

// NameEqual compares a stored name (NameSize bytes, terminated) against an
// encoded lookup name without decoding either side.
func NameEqual(stored, encoded []byte) bool {
	if n := TerminatorIndex(stored); n >= 0 {
		stored = stored[:n]
	}
	if n := TerminatorIndex(encoded); n >= 0 {
		encoded = encoded[:n]
	}
	return bytes.Equal(stored, encoded)
}
