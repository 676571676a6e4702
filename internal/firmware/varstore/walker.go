package varstore

import (
	"fmt"

	"github.com/ccoveille/go-safecast"
)

// Record decodes the record at off and checks that its name and data lie
// inside the store.
func (s *Store) Record(off int) (Record, error) {
	if off < s.start || off >= s.end {
		return Record{}, fmt.Errorf("%w: offset 0x%x outside store", ErrMalformedRecord, off)
	}
	r, err := ParseRecord(s.data[off:s.end], s.Header.Authenticated())
	if err != nil {
		return Record{}, fmt.Errorf("record at 0x%x: %w", off, err)
	}
	r.Offset = off

	nameSize, err := safecast.ToInt(r.NameSize)
	if err != nil {
		return Record{}, fmt.Errorf("record at 0x%x: name size: %w", off, err)
	}
	dataSize, err := safecast.ToInt(r.DataSize)
	if err != nil {
		return Record{}, fmt.Errorf("record at 0x%x: data size: %w", off, err)
	}
	name := off + r.HeaderSize()
	if nameSize > s.end-name {
		return Record{}, fmt.Errorf("%w: name at 0x%x overruns store", ErrMalformedRecord, off)
	}
	data := align(name+nameSize, s.alignment)
	if data > s.end || dataSize > s.end-data {
		return Record{}, fmt.Errorf("%w: data at 0x%x overruns store", ErrMalformedRecord, off)
	}
	return r, nil
}

// Name returns the stored UTF-16LE name of r, terminator included.
func (s *Store) Name(r *Record) []byte {
	name := r.Offset + r.HeaderSize()
	return s.data[name : name+int(r.NameSize)]
}

// Data returns the stored payload of r.
func (s *Store) Data(r *Record) []byte {
	data := s.dataOffset(r)
	return s.data[data : data+int(r.DataSize)]
}

func (s *Store) dataOffset(r *Record) int {
	return align(r.Offset+r.HeaderSize()+int(r.NameSize), s.alignment)
}

// FirstRecord returns the offset of the first record if it is well formed.
func (s *Store) FirstRecord() (int, bool) {
	if _, err := s.Record(s.start); err != nil {
		return 0, false
	}
	return s.start, true
}

// NextRecord returns the offset of the record following cur. It returns
// false when cur is malformed, when the next offset reaches the store end,
// or when the next record is malformed.
func (s *Store) NextRecord(cur int) (int, bool) {
	r, err := s.Record(cur)
	if err != nil {
		return 0, false
	}
	next := align(s.dataOffset(&r)+int(r.DataSize), s.alignment)
	if next >= s.end {
		return 0, false
	}
	if _, err := s.Record(next); err != nil {
		return 0, false
	}
	return next, true
}

// Records walks every well-formed record of the store in physical order.
func (s *Store) Records() []Record {
	var out []Record
	for off, ok := s.FirstRecord(); ok; off, ok = s.NextRecord(off) {
		r, _ := s.Record(off)
		out = append(out, r)
	}
	return out
}
