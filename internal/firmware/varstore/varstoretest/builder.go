// Package varstoretest builds byte exact variable stores and firmware
// volumes for tests.
package varstoretest

import (
	"encoding/binary"

	"github.com/bmcpi/varstore/internal/firmware/efi"
	"github.com/bmcpi/varstore/internal/firmware/varstore"
)

const DefaultAttributes = efi.AttrNonVolatile | efi.AttrBootserviceAccess | efi.AttrRuntimeAccess

// GUIDA and GUIDB are vendor GUIDs for test variables.
var (
	GUIDA = efi.MustParseGUID("11111111-2222-3333-4444-555555555555")
	GUIDB = efi.MustParseGUID("aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee")
)

// Record describes one record to emit.
type Record struct {
	Name       string
	GUID       efi.GUID
	State      varstore.RecordState
	Attributes efi.Attributes
	Data       []byte

	MonotonicCount uint64
	PubKeyIndex    uint32

	// Raw, when set, is emitted verbatim instead of an encoded record.
	Raw []byte
}

// StoreBuilder lays out a variable store.
type StoreBuilder struct {
	Authenticated bool
	Alignment     int
	// Size is the store size including the header. Zero sizes the store to
	// its records plus 64 erased bytes.
	Size int

	records []Record
	offsets []int
}

// NewStore returns a builder for an authenticated store with 4 byte alignment.
func NewStore() *StoreBuilder {
	return &StoreBuilder{Authenticated: true, Alignment: varstore.DefaultAlignment}
}

// Plain switches to the 32 byte record header.
func (b *StoreBuilder) Plain() *StoreBuilder {
	b.Authenticated = false
	return b
}

// Add appends an Added record with default attributes.
func (b *StoreBuilder) Add(name string, guid efi.GUID, data []byte) *StoreBuilder {
	return b.Record(Record{Name: name, GUID: guid, State: varstore.StateAdded, Attributes: DefaultAttributes, Data: data})
}

// AddState appends a record in the given state.
func (b *StoreBuilder) AddState(name string, guid efi.GUID, state varstore.RecordState, data []byte) *StoreBuilder {
	return b.Record(Record{Name: name, GUID: guid, State: state, Attributes: DefaultAttributes, Data: data})
}

// Record appends r.
func (b *StoreBuilder) Record(r Record) *StoreBuilder {
	b.records = append(b.records, r)
	return b
}

// Offsets returns the store offsets of the records emitted by the last Bytes call.
func (b *StoreBuilder) Offsets() []int {
	return b.offsets
}

// Bytes encodes the store.
func (b *StoreBuilder) Bytes() []byte {
	align := b.Alignment
	if align == 0 {
		align = varstore.DefaultAlignment
	}

	body := make([]byte, pad(varstore.StoreHeaderSize, align))
	for i := varstore.StoreHeaderSize; i < len(body); i++ {
		body[i] = 0xff
	}
	b.offsets = b.offsets[:0]
	for _, r := range b.records {
		b.offsets = append(b.offsets, len(body))
		if r.Raw != nil {
			body = append(body, r.Raw...)
		} else {
			body = append(body, b.encode(r, align)...)
		}
	}

	size := b.Size
	if size == 0 {
		size = len(body) + 64
	}
	for len(body) < size {
		body = append(body, 0xff)
	}

	sig := efi.VariableStoreGUID
	if b.Authenticated {
		sig = efi.AuthenticatedVariableGUID
	}
	copy(body[0:16], sig[:])
	binary.LittleEndian.PutUint32(body[16:20], uint32(size))
	body[20] = varstore.StoreFormatted
	body[21] = varstore.StoreHealthy
	for i := 22; i < varstore.StoreHeaderSize; i++ {
		body[i] = 0
	}
	return body
}

func (b *StoreBuilder) encode(r Record, align int) []byte {
	name := efi.MustEncodeName(r.Name)

	var hdr []byte
	if b.Authenticated {
		hdr = make([]byte, varstore.AuthHeaderSize)
		binary.LittleEndian.PutUint64(hdr[8:16], r.MonotonicCount)
		binary.LittleEndian.PutUint32(hdr[32:36], r.PubKeyIndex)
		binary.LittleEndian.PutUint32(hdr[36:40], uint32(len(name)))
		binary.LittleEndian.PutUint32(hdr[40:44], uint32(len(r.Data)))
		copy(hdr[44:60], r.GUID[:])
	} else {
		hdr = make([]byte, varstore.PlainHeaderSize)
		binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(name)))
		binary.LittleEndian.PutUint32(hdr[12:16], uint32(len(r.Data)))
		copy(hdr[16:32], r.GUID[:])
	}
	binary.LittleEndian.PutUint16(hdr[0:2], varstore.StartID)
	hdr[2] = byte(r.State)
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(r.Attributes))

	out := append(hdr, name...)
	out = padFF(out, align)
	out = append(out, r.Data...)
	return padFF(out, align)
}

// Volume wraps a store in an NV data firmware volume with a valid checksum.
func Volume(store []byte) []byte {
	const hlen = 72
	length := pad(hlen+len(store), 4096)
	vol := make([]byte, length)
	for i := hlen + len(store); i < length; i++ {
		vol[i] = 0xff
	}
	copy(vol[16:32], efi.SystemNvDataFvGUID[:])
	binary.LittleEndian.PutUint64(vol[32:40], uint64(length))
	binary.LittleEndian.PutUint32(vol[40:44], varstore.VolumeSignature)
	binary.LittleEndian.PutUint32(vol[44:48], 0x0004feff)
	binary.LittleEndian.PutUint16(vol[48:50], hlen)
	vol[55] = 2
	binary.LittleEndian.PutUint32(vol[56:60], uint32(length/4096))
	binary.LittleEndian.PutUint32(vol[60:64], 4096)

	var sum uint16
	for i := 0; i < hlen; i += 2 {
		sum += binary.LittleEndian.Uint16(vol[i:])
	}
	binary.LittleEndian.PutUint16(vol[50:52], -sum)

	copy(vol[hlen:], store)
	return vol
}

// Image places volume after an FFS volume of ffsLen bytes, the way a
// firmware image carries its code ahead of the variables.
func Image(volume []byte, ffsLen int) []byte {
	ffs := make([]byte, ffsLen)
	copy(ffs[16:32], efi.FfsVolumeGUID[:])
	binary.LittleEndian.PutUint64(ffs[32:40], uint64(ffsLen))
	binary.LittleEndian.PutUint32(ffs[40:44], varstore.VolumeSignature)
	return append(ffs, volume...)
}

// Erased returns n bytes of erased flash.
func Erased(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = 0xff
	}
	return b
}

func pad(n, a int) int {
	return (n + a - 1) &^ (a - 1)
}

func padFF(b []byte, a int) []byte {
	for len(b)%a != 0 {
		b = append(b, 0xff)
	}
	return b
}
