package varstore

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/bmcpi/varstore/internal/firmware/efi"
)

const (
	// StartID marks the beginning of every variable record.
	StartID uint16 = 0x55aa

	PlainHeaderSize = 32
	AuthHeaderSize  = 60
)

// RecordState is the raw state byte of a record. States are applied by
// clearing bits, so a record moves 0xff -> 0x7f -> 0x3f -> 0x3e -> 0x3c.
type RecordState uint8

const (
	StateErased              RecordState = 0xff
	StateHeaderValidOnly     RecordState = 0x7f
	StateAdded               RecordState = 0x3f
	StateInDeletedTransition RecordState = 0x3e
	StateDeleted             RecordState = 0x3c
)

// Live reports whether the record is visible to readers.
func (s RecordState) Live() bool {
	return s == StateAdded || s == StateInDeletedTransition
}

func (s RecordState) String() string {
	switch s {
	case StateAdded:
		return "added"
	case StateInDeletedTransition:
		return "in-deleted-transition"
	case StateHeaderValidOnly:
		return "header-valid-only"
	case StateErased:
		return "erased"
	}
	return "deleted"
}

// Record parse errors. Any of them ends the walk of a store.
var (
	ErrMalformedRecord = errors.New("malformed variable record")
	ErrTruncatedRecord = fmt.Errorf("%w: truncated header", ErrMalformedRecord)
	ErrBadStartID      = fmt.Errorf("%w: bad start id", ErrMalformedRecord)
	ErrErasedField     = fmt.Errorf("%w: erased field", ErrMalformedRecord)
)

// Record is a decoded record header. Offset is relative to the start of
// the store region that holds it.
type Record struct {
	Offset     int
	State      RecordState
	Attributes efi.Attributes
	NameSize   uint32
	DataSize   uint32
	GUID       efi.GUID

	Authenticated  bool
	MonotonicCount uint64
	TimeStamp      [16]byte
	PubKeyIndex    uint32
}

// HeaderSize is the on-disk size of the record header.
func (r *Record) HeaderSize() int {
	if r.Authenticated {
		return AuthHeaderSize
	}
	return PlainHeaderSize
}

// ParseRecord decodes the record header at the start of b. The header layout
// is selected by authenticated, which follows the store signature.
func ParseRecord(b []byte, authenticated bool) (Record, error) {
	size := PlainHeaderSize
	if authenticated {
		size = AuthHeaderSize
	}
	if len(b) < size {
		return Record{}, ErrTruncatedRecord
	}
	if id := binary.LittleEndian.Uint16(b[0:2]); id != StartID {
		return Record{}, fmt.Errorf("%w 0x%04x", ErrBadStartID, id)
	}

	r := Record{
		State:         RecordState(b[2]),
		Attributes:    efi.Attributes(binary.LittleEndian.Uint32(b[4:8])),
		Authenticated: authenticated,
	}
	if authenticated {
		r.MonotonicCount = binary.LittleEndian.Uint64(b[8:16])
		copy(r.TimeStamp[:], b[16:32])
		r.PubKeyIndex = binary.LittleEndian.Uint32(b[32:36])
		r.NameSize = binary.LittleEndian.Uint32(b[36:40])
		r.DataSize = binary.LittleEndian.Uint32(b[40:44])
		r.GUID = efi.ReadGUID(b, 44)
	} else {
		r.NameSize = binary.LittleEndian.Uint32(b[8:12])
		r.DataSize = binary.LittleEndian.Uint32(b[12:16])
		r.GUID = efi.ReadGUID(b, 16)
	}

	switch {
	case r.State == StateErased:
		return Record{}, fmt.Errorf("%w: state", ErrErasedField)
	case r.NameSize == 0xffffffff:
		return Record{}, fmt.Errorf("%w: name size", ErrErasedField)
	case r.DataSize == 0xffffffff:
		return Record{}, fmt.Errorf("%w: data size", ErrErasedField)
	case r.Attributes == 0xffffffff:
		return Record{}, fmt.Errorf("%w: attributes", ErrErasedField)
	}
	return r, nil
}

// RecordRef addresses a record by store and offset.
type RecordRef struct {
	Store  StoreType
	Offset int
}
