// Package varcrypt implements the variable encryption codec: the cipher
// header that prefixes protected variable data, per-variable key derivation
// and AES-CBC encryption of the payload.
package varcrypt

import (
	"crypto/aes"
	"encoding/binary"
	"fmt"

	"github.com/bmcpi/varstore/internal/firmware/efi"
)

// DataType tags the payload that follows the cipher header.
type DataType uint32

const (
	DataTypeNull DataType = 0x0000
	DataTypeAES  DataType = 0x0006
)

func (t DataType) String() string {
	switch t {
	case DataTypeNull:
		return "null"
	case DataTypeAES:
		return "aes"
	}
	return fmt.Sprintf("0x%04x", uint32(t))
}

const (
	// HeaderSize is the size of the fixed cipher header.
	HeaderSize = 32
	BlockSize  = aes.BlockSize
)

// Info is the decoded cipher header.
type Info struct {
	DataType       DataType
	HeaderSize     uint32
	PlainDataSize  uint32
	CipherDataSize uint32
	IV             [BlockSize]byte
}

// Validate checks the header invariants against a containing buffer of
// bufLen bytes.
func (i *Info) Validate(bufLen int) error {
	switch {
	case i.CipherDataSize%BlockSize != 0:
		return fmt.Errorf("cipher size %d is not a multiple of %d: %w", i.CipherDataSize, BlockSize, efi.ErrCompromisedData)
	case i.PlainDataSize > i.CipherDataSize:
		return fmt.Errorf("plain size %d exceeds cipher size %d: %w", i.PlainDataSize, i.CipherDataSize, efi.ErrCompromisedData)
	case i.HeaderSize < HeaderSize:
		return fmt.Errorf("header size %d below %d: %w", i.HeaderSize, HeaderSize, efi.ErrCompromisedData)
	case uint64(i.HeaderSize)+uint64(i.CipherDataSize) > uint64(bufLen):
		return fmt.Errorf("header %d + cipher %d exceeds buffer of %d: %w",
			i.HeaderSize, i.CipherDataSize, bufLen, efi.ErrCompromisedData)
	}
	return nil
}

// Size is the number of bytes the header and ciphertext occupy.
func (i *Info) Size() int {
	return int(i.HeaderSize) + int(i.CipherDataSize)
}

// GetCipherDataInfo decodes and validates the cipher header at the start of
// data. It returns efi.ErrNotFound when data carries no cipher header and
// efi.ErrCompromisedData when the header breaks its invariants.
func GetCipherDataInfo(data []byte) (Info, error) {
	if len(data) < HeaderSize {
		return Info{}, fmt.Errorf("cipher header: %d bytes: %w", len(data), efi.ErrNotFound)
	}
	info := Info{
		DataType:       DataType(binary.LittleEndian.Uint32(data[0:4])),
		HeaderSize:     binary.LittleEndian.Uint32(data[4:8]),
		PlainDataSize:  binary.LittleEndian.Uint32(data[8:12]),
		CipherDataSize: binary.LittleEndian.Uint32(data[12:16]),
	}
	copy(info.IV[:], data[16:32])

	if info.DataType != DataTypeAES && info.DataType != DataTypeNull {
		return Info{}, fmt.Errorf("cipher header: data type %s: %w", info.DataType, efi.ErrNotFound)
	}
	if err := info.Validate(len(data)); err != nil {
		return Info{}, err
	}
	return info, nil
}

// SetCipherDataInfo validates info against data and overwrites the header
// at the start of data.
func SetCipherDataInfo(data []byte, info Info) error {
	if len(data) < HeaderSize {
		return fmt.Errorf("cipher header: %d bytes: %w", len(data), efi.ErrBufferTooSmall)
	}
	if info.DataType != DataTypeAES && info.DataType != DataTypeNull {
		return fmt.Errorf("cipher header: data type %s: %w", info.DataType, efi.ErrInvalidParameter)
	}
	if err := info.Validate(len(data)); err != nil {
		return err
	}
	putHeader(data, &info)
	return nil
}

func putHeader(b []byte, info *Info) {
	binary.LittleEndian.PutUint32(b[0:4], uint32(info.DataType))
	binary.LittleEndian.PutUint32(b[4:8], info.HeaderSize)
	binary.LittleEndian.PutUint32(b[8:12], info.PlainDataSize)
	binary.LittleEndian.PutUint32(b[12:16], info.CipherDataSize)
	copy(b[16:32], info.IV[:])
}
