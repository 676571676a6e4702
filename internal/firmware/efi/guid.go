package efi

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// GUID is an EFI_GUID in its on-disk byte order: the first three fields are
// little-endian, the trailing eight bytes are stored as-is.
type GUID [16]byte

// Well known GUIDs.
var (
	GlobalVariableGUID        = MustParseGUID("8be4df61-93ca-11d2-aa0d-00e098032b8c")
	VariableStoreGUID         = MustParseGUID("ddcf3616-3275-4164-98b6-fe85707ffe7d")
	AuthenticatedVariableGUID = MustParseGUID("aaf32c78-947b-439a-a180-2e144ec37792")
	SystemNvDataFvGUID        = MustParseGUID("8d1b55ed-bebf-40b7-8246-d8bd7d64edbe")
	FfsVolumeGUID             = MustParseGUID("8c8ce578-8a3d-4f1c-9935-896185c32dd3")
)

var guidNames = map[GUID]string{
	GlobalVariableGUID:        "EfiGlobalVariable",
	VariableStoreGUID:         "EfiVariable",
	AuthenticatedVariableGUID: "EfiAuthenticatedVariable",
	SystemNvDataFvGUID:        "EfiSystemNvDataFv",
	FfsVolumeGUID:             "Ffs",
}

// ParseGUID parses the canonical textual form
// ("8be4df61-93ca-11d2-aa0d-00e098032b8c", braces accepted).
func ParseGUID(s string) (GUID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return GUID{}, fmt.Errorf("parse guid %q: %w", s, err)
	}
	return FromUUID(u), nil
}

// MustParseGUID is ParseGUID for package level constants.
func MustParseGUID(s string) GUID {
	g, err := ParseGUID(s)
	if err != nil {
		panic(err)
	}
	return g
}

// FromUUID converts a big-endian RFC 4122 UUID into the mixed-endian EFI layout.
func FromUUID(u uuid.UUID) GUID {
	var g GUID
	binary.LittleEndian.PutUint32(g[0:4], binary.BigEndian.Uint32(u[0:4]))
	binary.LittleEndian.PutUint16(g[4:6], binary.BigEndian.Uint16(u[4:6]))
	binary.LittleEndian.PutUint16(g[6:8], binary.BigEndian.Uint16(u[6:8]))
	copy(g[8:], u[8:])
	return g
}

// UUID returns the RFC 4122 byte order of g.
func (g GUID) UUID() uuid.UUID {
	var u uuid.UUID
	binary.BigEndian.PutUint32(u[0:4], binary.LittleEndian.Uint32(g[0:4]))
	binary.BigEndian.PutUint16(u[4:6], binary.LittleEndian.Uint16(g[4:6]))
	binary.BigEndian.PutUint16(u[6:8], binary.LittleEndian.Uint16(g[6:8]))
	copy(u[8:], g[8:])
	return u
}

// ReadGUID copies a GUID out of b at offset. The caller checks bounds.
func ReadGUID(b []byte, offset int) GUID {
	var g GUID
	copy(g[:], b[offset:offset+16])
	return g
}

func (g GUID) String() string {
	return g.UUID().String()
}

// Name returns the symbolic name of a well known GUID, or its string form.
func (g GUID) Name() string {
	if n, ok := guidNames[g]; ok {
		return n
	}
	return g.String()
}

// IsZero reports whether g is the all-zero GUID.
func (g GUID) IsZero() bool {
	return g == GUID{}
}

// MarshalText implements encoding.TextMarshaler.
func (g GUID) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (g *GUID) UnmarshalText(b []byte) error {
	parsed, err := ParseGUID(string(b))
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}
