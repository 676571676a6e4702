package varstore

import (
	"encoding/binary"
	"fmt"

	"github.com/bmcpi/varstore/internal/firmware/efi"
)

// StoreType identifies a store and doubles as its search precedence.
type StoreType int

const (
	StoreHob StoreType = iota
	StoreNv
	storeTypeMax
)

func (t StoreType) String() string {
	switch t {
	case StoreHob:
		return "hob"
	case StoreNv:
		return "nv"
	}
	return fmt.Sprintf("store(%d)", int(t))
}

// MarshalText implements encoding.TextMarshaler.
func (t StoreType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *StoreType) UnmarshalText(b []byte) error {
	switch string(b) {
	case "hob":
		*t = StoreHob
	case "nv":
		*t = StoreNv
	default:
		return fmt.Errorf("unknown store type %q", b)
	}
	return nil
}

// StoreStatus is the health of a store header.
type StoreStatus int

const (
	StoreValid StoreStatus = iota
	StoreRaw
	StoreInvalid
)

func (s StoreStatus) String() string {
	switch s {
	case StoreValid:
		return "valid"
	case StoreRaw:
		return "raw"
	}
	return "invalid"
}

const (
	StoreHeaderSize = 28

	StoreFormatted uint8 = 0x5a
	StoreHealthy   uint8 = 0xfe

	DefaultAlignment = 4
)

// Header is the VARIABLE_STORE_HEADER.
type Header struct {
	Signature efi.GUID
	Size      uint32
	Format    uint8
	State     uint8
}

// ParseHeader decodes a store header. The caller checks len(b) >= StoreHeaderSize.
func ParseHeader(b []byte) Header {
	return Header{
		Signature: efi.ReadGUID(b, 0),
		Size:      binary.LittleEndian.Uint32(b[16:20]),
		Format:    b[20],
		State:     b[21],
	}
}

// Status classifies the header.
func (h Header) Status() StoreStatus {
	if (h.Signature == efi.VariableStoreGUID || h.Signature == efi.AuthenticatedVariableGUID) &&
		h.Format == StoreFormatted && h.State == StoreHealthy {
		return StoreValid
	}
	if h.Signature == erasedGUID && h.Size == 0xffffffff && h.Format == 0xff && h.State == 0xff {
		return StoreRaw
	}
	return StoreInvalid
}

// Authenticated reports whether records use the authenticated header layout.
func (h Header) Authenticated() bool {
	return h.Signature == efi.AuthenticatedVariableGUID
}

var erasedGUID = efi.GUID{
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
}

// Store is one validated variable store. It owns its bytes and is immutable.
type Store struct {
	Type   StoreType
	Header Header

	data      []byte
	start     int
	end       int
	alignment int
}

// NewStore validates the header at the start of region and returns the store.
// A raw (erased) store yields efi.ErrNotFound, any other bad header
// efi.ErrUnsupported.
func NewStore(t StoreType, region []byte, alignment int) (*Store, error) {
	if alignment <= 0 || alignment&(alignment-1) != 0 {
		return nil, fmt.Errorf("%s store: alignment %d is not a power of two: %w", t, alignment, efi.ErrInvalidParameter)
	}
	if len(region) < StoreHeaderSize {
		return nil, fmt.Errorf("%s store: %d bytes: %w", t, len(region), efi.ErrNotFound)
	}

	h := ParseHeader(region)
	switch h.Status() {
	case StoreRaw:
		return nil, fmt.Errorf("%s store is raw: %w", t, efi.ErrNotFound)
	case StoreInvalid:
		return nil, fmt.Errorf("%s store: signature=%s format=0x%x state=0x%x: %w",
			t, h.Signature, h.Format, h.State, efi.ErrUnsupported)
	}
	if h.Size < StoreHeaderSize || uint64(h.Size) > uint64(len(region)) {
		return nil, fmt.Errorf("%s store: size 0x%x outside region of 0x%x bytes: %w",
			t, h.Size, len(region), efi.ErrUnsupported)
	}

	return &Store{
		Type:      t,
		Header:    h,
		data:      region[:h.Size],
		start:     align(StoreHeaderSize, alignment),
		end:       int(h.Size),
		alignment: alignment,
	}, nil
}

// Start is the offset of the first record slot.
func (s *Store) Start() int { return s.start }

// End is the offset one past the last byte of the store.
func (s *Store) End() int { return s.end }

// Alignment is the record alignment of the store.
func (s *Store) Alignment() int { return s.alignment }

// Bytes returns the raw store region including its header.
func (s *Store) Bytes() []byte { return s.data }

func align(n, a int) int {
	return (n + a - 1) &^ (a - 1)
}
