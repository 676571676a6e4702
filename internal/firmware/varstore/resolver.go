package varstore

import (
	"errors"
	"fmt"

	"github.com/bmcpi/varstore/internal/firmware/efi"
)

// VariablePointerTrack is the result of a lookup: the resolved record and
// the bounds of the store that holds it.
type VariablePointerTrack struct {
	Store   *Store
	Start   int
	End     int
	Current int
	Record  Record
}

// Ref returns the address of the resolved record.
func (p *VariablePointerTrack) Ref() RecordRef {
	return RecordRef{Store: p.Store.Type, Offset: p.Current}
}

// lookup is an identity search key. An empty name matches any record.
type lookup struct {
	name []byte
	guid efi.GUID
	any  bool
}

func newLookup(name []byte, guid *efi.GUID) lookup {
	k := lookup{name: name, any: len(name) < 2 || efi.TerminatorIndex(name) == 0}
	if guid != nil {
		k.guid = *guid
	}
	return k
}

func (k *lookup) matches(s *Store, r *Record) bool {
	if k.any {
		return true
	}
	return r.GUID == k.guid && efi.NameEqual(s.Name(r), k.name)
}

// FindVariable resolves name and guid across the stores in precedence order.
// The first store holding a match wins. An empty name with a nil or zero
// guid matches the first live record.
func (e *Engine) FindVariable(name string, guid *efi.GUID) (VariablePointerTrack, error) {
	if err := e.usable(); err != nil {
		return VariablePointerTrack{}, err
	}
	if name != "" && guid == nil {
		return VariablePointerTrack{}, fmt.Errorf("find %q: nil vendor guid: %w", name, efi.ErrInvalidParameter)
	}
	if name == "" && guid != nil && !guid.IsZero() {
		return VariablePointerTrack{}, fmt.Errorf("find: empty name with vendor guid %s: %w", guid, efi.ErrInvalidParameter)
	}
	encoded, err := efi.EncodeName(name)
	if err != nil {
		return VariablePointerTrack{}, fmt.Errorf("%w: %w", efi.ErrInvalidParameter, err)
	}
	return e.find(newLookup(encoded, guid))
}

func (e *Engine) find(key lookup) (VariablePointerTrack, error) {
	e.stats.Lookups++
	for t := StoreHob; t < storeTypeMax; t++ {
		if e.stores[t] == nil {
			continue
		}
		track, err := e.findInStore(t, key)
		if err == nil {
			return track, nil
		}
		if !errors.Is(err, efi.ErrNotFound) {
			return VariablePointerTrack{}, err
		}
	}
	return VariablePointerTrack{}, efi.ErrNotFound
}

// findInStore searches one store. Indexed records are checked first; the
// unindexed tail is walked only while the index has not gone through the
// whole store. An Added match wins over an InDeletedTransition one.
func (e *Engine) findInStore(t StoreType, key lookup) (VariablePointerTrack, error) {
	s := e.stores[t]
	idx := e.index(t)

	candidate := -1
	for _, off := range idx.offsets() {
		e.stats.IndexEntriesScanned++
		r, err := s.Record(off)
		if err != nil {
			break
		}
		if !key.matches(s, &r) {
			continue
		}
		if r.State == StateAdded || key.any {
			e.stats.IndexHits++
			e.log.V(1).Info("index hit", "store", t, "offset", off)
			return e.track(s, r), nil
		}
		candidate = off
	}

	if !idx.GoneThrough {
		e.stats.TailWalks++
		var off int
		var ok bool
		if last, indexed := idx.resume(); indexed {
			off, ok = s.NextRecord(last)
		} else {
			off, ok = s.FirstRecord()
		}
		for ; ok; off, ok = s.NextRecord(off) {
			e.stats.RecordsWalked++
			r, err := s.Record(off)
			if err != nil {
				break
			}
			if !r.State.Live() {
				continue
			}
			idx.update(off)
			if !key.matches(s, &r) {
				continue
			}
			if r.State == StateAdded || key.any {
				e.log.V(1).Info("tail match", "store", t, "offset", off, "indexed", idx.Len())
				return e.track(s, r), nil
			}
			candidate = off
		}
		idx.complete()
	}

	if candidate < 0 {
		return VariablePointerTrack{}, efi.ErrNotFound
	}
	r, err := s.Record(candidate)
	if err != nil {
		return VariablePointerTrack{}, efi.ErrNotFound
	}
	return e.track(s, r), nil
}

func (e *Engine) track(s *Store, r Record) VariablePointerTrack {
	return VariablePointerTrack{
		Store:   s,
		Start:   s.Start(),
		End:     s.End(),
		Current: r.Offset,
		Record:  r,
	}
}

// index returns the index table of a store, creating it on first use.
func (e *Engine) index(t StoreType) *IndexTable {
	if e.indexes[t] == nil {
		e.indexes[t] = newIndexTable(e.stores[t].Start(), e.indexCapacity)
	}
	return e.indexes[t]
}
