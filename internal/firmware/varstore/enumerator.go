package varstore

import (
	"errors"

	"github.com/bmcpi/varstore/internal/firmware/efi"
)

// next returns the variable that follows key in enumeration order: stores
// in precedence order, then physical order. An empty key starts at the
// first record of the first store.
func (e *Engine) next(key lookup) (VariablePointerTrack, error) {
	t := StoreHob
	var cur int
	var ok bool

	if key.any {
		t = storeTypeMax
		for st := StoreHob; st < storeTypeMax; st++ {
			if e.stores[st] != nil {
				t = st
				cur, ok = e.stores[st].FirstRecord()
				break
			}
		}
	} else {
		track, err := e.find(key)
		if err != nil {
			return VariablePointerTrack{}, err
		}
		t = track.Store.Type
		cur, ok = track.Store.NextRecord(track.Current)
	}

	for {
		for !ok {
			t = e.nextStore(t)
			if t == storeTypeMax {
				return VariablePointerTrack{}, efi.ErrNotFound
			}
			cur, ok = e.stores[t].FirstRecord()
		}

		s := e.stores[t]
		r, err := s.Record(cur)
		if err != nil {
			ok = false
			continue
		}
		if r.State.Live() {
			shadowed, err := e.shadowed(s, &r)
			if err != nil {
				return VariablePointerTrack{}, err
			}
			if !shadowed {
				return e.track(s, r), nil
			}
		}
		cur, ok = s.NextRecord(cur)
	}
}

// nextStore returns the next present store after t, or storeTypeMax.
func (e *Engine) nextStore(t StoreType) StoreType {
	for t++; t < storeTypeMax; t++ {
		if e.stores[t] != nil {
			return t
		}
	}
	return storeTypeMax
}

// shadowed reports whether a live record is hidden from enumeration: a
// record whose identity resolves to another copy in its own store, a record
// without a name, or an Nv record whose identity exists in the Hob store.
func (e *Engine) shadowed(s *Store, r *Record) (bool, error) {
	key := newLookup(s.Name(r), &r.GUID)
	if key.any {
		return true, nil
	}

	track, err := e.findInStore(s.Type, key)
	switch {
	case err == nil && track.Current != r.Offset:
		e.stats.Shadowed++
		return true, nil
	case err != nil && !errors.Is(err, efi.ErrNotFound):
		return false, err
	}

	if s.Type == StoreNv && e.stores[StoreHob] != nil {
		_, err := e.findInStore(StoreHob, key)
		if err == nil {
			e.stats.Shadowed++
			return true, nil
		}
		if !errors.Is(err, efi.ErrNotFound) {
			return false, err
		}
	}
	return false, nil
}
