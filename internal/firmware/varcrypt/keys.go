package varcrypt

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/bmcpi/varstore/internal/firmware/efi"
)

const (
	// KeySize is the derived AES-256 key length.
	KeySize = 32

	keyLabel = "VAR_ENC_KEY"
)

// DeriveKey derives the per-variable key:
//
//	HKDF-SHA256(rootKey, salt=nil,
//	    info = name(UTF-16LE, terminated) ":" guid ":" LE32(attrs &^ AP) "VAR_ENC_KEY")
//
// The append-write bit is masked so appends decrypt with the base key.
func DeriveKey(rootKey []byte, id efi.Identity, attrs efi.Attributes) ([]byte, error) {
	if len(rootKey) == 0 {
		return nil, fmt.Errorf("derive key: empty root key: %w", efi.ErrInvalidParameter)
	}
	name, err := efi.EncodeName(id.Name)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	info := make([]byte, 0, len(name)+1+16+1+4+len(keyLabel))
	info = append(info, name...)
	info = append(info, ':')
	info = append(info, id.GUID[:]...)
	info = append(info, ':')
	info = binary.LittleEndian.AppendUint32(info, uint32(attrs&^efi.AttrAppendWrite))
	info = append(info, keyLabel...)

	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, rootKey, nil, info), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}
