package varstore

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/bmcpi/varstore/internal/firmware/efi"
)

const (
	// VolumeSignature is "_FVH".
	VolumeSignature uint32 = 0x4856465f

	volumeHeaderMin = 72
	volumeScanStep  = 1024
)

// ErrNoVolume is returned when an image holds no NV data firmware volume.
var ErrNoVolume = errors.New("nv data firmware volume not found")

// VolumeHeader is the EFI_FIRMWARE_VOLUME_HEADER of a firmware image.
type VolumeHeader struct {
	Offset         int
	FileSystemGUID efi.GUID
	Length         uint64
	Signature      uint32
	Attributes     uint32
	HeaderLength   uint16
	Checksum       uint16
	ExtHeader      uint16
	Revision       uint8
	Blocks         uint32
	BlockSize      uint32
}

// FindNvData returns the offset of the NV data volume in image. FFS volumes
// are skipped by their length, anything else is probed every 1 KiB.
func FindNvData(image []byte) (int, error) {
	offset := 0
	for offset+volumeHeaderMin <= len(image) {
		guid := efi.ReadGUID(image, offset+16)
		if guid == efi.SystemNvDataFvGUID {
			return offset, nil
		}
		if guid == efi.FfsVolumeGUID {
			length := binary.LittleEndian.Uint64(image[offset+32 : offset+40])
			if length > 0 && length <= uint64(len(image)-offset) {
				offset += int(length)
				continue
			}
		}
		offset += volumeScanStep
	}
	return -1, ErrNoVolume
}

// ParseVolumeHeader decodes and checks the volume header at offset.
func ParseVolumeHeader(image []byte, offset int) (VolumeHeader, error) {
	if offset < 0 || offset+volumeHeaderMin > len(image) {
		return VolumeHeader{}, fmt.Errorf("volume at 0x%x: truncated header: %w", offset, efi.ErrUnsupported)
	}
	b := image[offset:]
	h := VolumeHeader{
		Offset:         offset,
		FileSystemGUID: efi.ReadGUID(b, 16),
		Length:         binary.LittleEndian.Uint64(b[32:40]),
		Signature:      binary.LittleEndian.Uint32(b[40:44]),
		Attributes:     binary.LittleEndian.Uint32(b[44:48]),
		HeaderLength:   binary.LittleEndian.Uint16(b[48:50]),
		Checksum:       binary.LittleEndian.Uint16(b[50:52]),
		ExtHeader:      binary.LittleEndian.Uint16(b[52:54]),
		Revision:       b[55],
		Blocks:         binary.LittleEndian.Uint32(b[56:60]),
		BlockSize:      binary.LittleEndian.Uint32(b[60:64]),
	}

	if h.Signature != VolumeSignature {
		return h, fmt.Errorf("volume at 0x%x: not a firmware volume: %w", offset, efi.ErrUnsupported)
	}
	hlen := int(h.HeaderLength)
	if hlen < volumeHeaderMin || hlen%2 != 0 || offset+hlen > len(image) {
		return h, fmt.Errorf("volume at 0x%x: header length %d: %w", offset, hlen, efi.ErrUnsupported)
	}
	if h.Length < uint64(hlen) || h.Length > uint64(len(image)-offset) {
		return h, fmt.Errorf("volume at 0x%x: length 0x%x: %w", offset, h.Length, efi.ErrUnsupported)
	}
	if sum := checksum16(b[:hlen]); sum != 0 {
		return h, fmt.Errorf("volume at 0x%x: checksum mismatch 0x%04x: %w", offset, sum, efi.ErrUnsupported)
	}
	return h, nil
}

// VolumeStore returns the variable store region held by the NV data volume
// of a firmware image, together with the volume header.
func VolumeStore(image []byte) ([]byte, VolumeHeader, error) {
	offset, err := FindNvData(image)
	if err != nil {
		return nil, VolumeHeader{}, err
	}
	h, err := ParseVolumeHeader(image, offset)
	if err != nil {
		return nil, h, err
	}
	if h.FileSystemGUID != efi.SystemNvDataFvGUID {
		return nil, h, fmt.Errorf("volume %s: not a variable store: %w", h.FileSystemGUID.Name(), efi.ErrUnsupported)
	}
	start := offset + int(h.HeaderLength)
	return image[start : offset+int(h.Length)], h, nil
}

// checksum16 sums b as little-endian 16-bit words. A valid header sums to 0.
func checksum16(b []byte) uint16 {
	var sum uint16
	for i := 0; i+1 < len(b); i += 2 {
		sum += binary.LittleEndian.Uint16(b[i:])
	}
	return sum
}
