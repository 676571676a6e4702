package varstore

import (
	"errors"
	"fmt"

	"github.com/bmcpi/varstore/internal/firmware/efi"
	"github.com/bmcpi/varstore/internal/firmware/varcrypt"
)

// GetVariable copies the value of name into data. It returns the variable
// attributes and the size of the value. When data is too short, the size
// and attributes are still returned, data is left untouched and the error
// is efi.ErrBufferTooSmall.
func (e *Engine) GetVariable(name string, guid *efi.GUID, data []byte) (efi.Attributes, int, error) {
	if err := e.usable(); err != nil {
		return 0, 0, err
	}
	if guid == nil {
		return 0, 0, fmt.Errorf("get %q: nil vendor guid: %w", name, efi.ErrInvalidParameter)
	}
	if name == "" {
		return 0, 0, efi.ErrNotFound
	}

	track, err := e.FindVariable(name, guid)
	if err != nil {
		return 0, 0, err
	}
	value, err := e.value(&track)
	if err != nil {
		return 0, 0, err
	}

	attrs := track.Record.Attributes
	if len(data) < len(value) {
		return attrs, len(value), fmt.Errorf("get %s: need %d bytes: %w",
			efi.Identity{Name: name, GUID: *guid}, len(value), efi.ErrBufferTooSmall)
	}
	copy(data, value)
	return attrs, len(value), nil
}

// Lookup returns a copy of the resolved variable.
func (e *Engine) Lookup(id efi.Identity) (*efi.Variable, error) {
	attrs, size, err := e.GetVariable(id.Name, &id.GUID, nil)
	if err != nil && !errors.Is(err, efi.ErrBufferTooSmall) {
		return nil, err
	}
	v := &efi.Variable{Name: id.Name, GUID: id.GUID, Attributes: attrs, Data: make([]byte, size)}
	if _, _, err := e.GetVariable(id.Name, &id.GUID, v.Data); err != nil {
		return nil, err
	}
	return v, nil
}

// GetNextVariableName advances an enumeration. On input name holds the
// UTF-16LE, null terminated name last returned (empty to start) within its
// first *nameSize bytes, and guid its vendor GUID. On success both are
// replaced by the next variable and *nameSize is set to the stored name
// size. When name is too small *nameSize reports the required size and
// efi.ErrBufferTooSmall is returned. The end of the enumeration is
// efi.ErrNotFound.
func (e *Engine) GetNextVariableName(nameSize *int, name []byte, guid *efi.GUID) error {
	if err := e.usable(); err != nil {
		return err
	}
	if nameSize == nil || guid == nil || *nameSize < 0 || *nameSize > len(name) {
		return efi.ErrInvalidParameter
	}
	in := name[:*nameSize]
	end := efi.TerminatorIndex(in)
	if end < 0 {
		return fmt.Errorf("name is not null terminated: %w", efi.ErrInvalidParameter)
	}

	track, err := e.next(newLookup(in[:end+2], guid))
	if err != nil {
		return err
	}

	stored := track.Store.Name(&track.Record)
	if len(stored) > *nameSize {
		*nameSize = len(stored)
		return efi.ErrBufferTooSmall
	}
	copy(name, stored)
	*nameSize = len(stored)
	*guid = track.Record.GUID
	return nil
}

// NextVariable returns the identity following prev in enumeration order.
// The zero Identity starts the enumeration; efi.ErrNotFound ends it.
func (e *Engine) NextVariable(prev efi.Identity) (efi.Identity, error) {
	if err := e.usable(); err != nil {
		return efi.Identity{}, err
	}
	encoded, err := efi.EncodeName(prev.Name)
	if err != nil {
		return efi.Identity{}, fmt.Errorf("%w: %w", efi.ErrInvalidParameter, err)
	}
	track, err := e.next(newLookup(encoded, &prev.GUID))
	if err != nil {
		return efi.Identity{}, err
	}
	return e.identity(&track)
}

// Variables enumerates every visible identity.
func (e *Engine) Variables() ([]efi.Identity, error) {
	var ids []efi.Identity
	var cur efi.Identity
	for {
		next, err := e.NextVariable(cur)
		if errors.Is(err, efi.ErrNotFound) {
			return ids, nil
		}
		if err != nil {
			return ids, err
		}
		ids = append(ids, next)
		cur = next
	}
}

// GetCipherDataInfo returns the cipher header of a stored variable.
func (e *Engine) GetCipherDataInfo(name string, guid *efi.GUID) (varcrypt.Info, error) {
	track, err := e.FindVariable(name, guid)
	if err != nil {
		return varcrypt.Info{}, err
	}
	return varcrypt.GetCipherDataInfo(track.Store.Data(&track.Record))
}

// SetCipherDataInfo returns a copy of the stored payload of a variable with
// its cipher header replaced by info. Stores are read only, so the result
// is meant for a writer.
func (e *Engine) SetCipherDataInfo(name string, guid *efi.GUID, info varcrypt.Info) ([]byte, error) {
	track, err := e.FindVariable(name, guid)
	if err != nil {
		return nil, err
	}
	data := append([]byte(nil), track.Store.Data(&track.Record)...)
	if err := varcrypt.SetCipherDataInfo(data, info); err != nil {
		return nil, err
	}
	return data, nil
}

// value returns the plaintext payload of a resolved record. Protected
// payloads are decrypted once per record and kept until Close.
func (e *Engine) value(track *VariablePointerTrack) ([]byte, error) {
	raw := track.Store.Data(&track.Record)
	id, err := e.identity(track)
	if err != nil {
		return nil, err
	}
	if !e.Protected(id) {
		return raw, nil
	}

	ref := track.Ref()
	if p, ok := e.plain[ref]; ok {
		e.stats.PlainCacheHits++
		return p, nil
	}

	buf, err := varcrypt.NewCipherBuffer(append([]byte(nil), raw...))
	if errors.Is(err, efi.ErrNotFound) {
		return nil, fmt.Errorf("%s: protected variable has no cipher header: %w", id, efi.ErrCompromisedData)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", id, err)
	}
	plain, err := e.codec.DecryptInPlace(buf, id, track.Record.Attributes)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", id, err)
	}
	e.stats.Decrypts++
	e.plain[ref] = plain.Plaintext()
	return plain.Plaintext(), nil
}

func (e *Engine) identity(track *VariablePointerTrack) (efi.Identity, error) {
	name, err := efi.DecodeName(track.Store.Name(&track.Record))
	if err != nil {
		return efi.Identity{}, fmt.Errorf("record at 0x%x: %w", track.Current, err)
	}
	return efi.Identity{Name: name, GUID: track.Record.GUID}, nil
}
