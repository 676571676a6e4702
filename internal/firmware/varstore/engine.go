// Package varstore reads UEFI variable stores: it walks the log structured
// record format, indexes live records lazily, resolves identities across the
// Hob and Nv stores and decrypts protected payloads.
package varstore

import (
	"errors"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/bmcpi/varstore/internal/firmware/efi"
	"github.com/bmcpi/varstore/internal/firmware/varcrypt"
)

// ErrClosed is returned by an Engine after Close.
var ErrClosed = errors.New("varstore engine closed")

// Stats counts engine activity since creation.
type Stats struct {
	Lookups             uint64 `json:"lookups"`
	IndexHits           uint64 `json:"indexHits"`
	IndexEntriesScanned uint64 `json:"indexEntriesScanned"`
	TailWalks           uint64 `json:"tailWalks"`
	RecordsWalked       uint64 `json:"recordsWalked"`
	Shadowed            uint64 `json:"shadowed"`
	Decrypts            uint64 `json:"decrypts"`
	PlainCacheHits      uint64 `json:"plainCacheHits"`
}

// Add returns the field-wise sum of s and o.
func (s Stats) Add(o Stats) Stats {
	return Stats{
		Lookups:             s.Lookups + o.Lookups,
		IndexHits:           s.IndexHits + o.IndexHits,
		IndexEntriesScanned: s.IndexEntriesScanned + o.IndexEntriesScanned,
		TailWalks:           s.TailWalks + o.TailWalks,
		RecordsWalked:       s.RecordsWalked + o.RecordsWalked,
		Shadowed:            s.Shadowed + o.Shadowed,
		Decrypts:            s.Decrypts + o.Decrypts,
		PlainCacheHits:      s.PlainCacheHits + o.PlainCacheHits,
	}
}

// IndexStats describes the index table of one store.
type IndexStats struct {
	Store       StoreType `json:"store"`
	Entries     int       `json:"entries"`
	Capacity    int       `json:"capacity"`
	GoneThrough bool      `json:"goneThrough"`
	Stopped     bool      `json:"stopped"`
}

// Engine is the read context for one boot stage. It owns the stores, their
// index tables and the plaintext cache.
//
// An Engine serves one call at a time. Lookups mutate the index tables, so
// callers that share an Engine between goroutines must serialize access.
type Engine struct {
	log           logr.Logger
	stores        [storeTypeMax]*Store
	indexes       [storeTypeMax]*IndexTable
	indexCapacity int

	codec  *varcrypt.Codec
	exempt map[efi.Identity]struct{}
	plain  map[RecordRef][]byte

	stats  Stats
	closed bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l logr.Logger) Option {
	return func(e *Engine) { e.log = l.WithName("varstore") }
}

// WithIndexCapacity bounds the number of entries per index table.
func WithIndexCapacity(n int) Option {
	return func(e *Engine) { e.indexCapacity = n }
}

// WithCipher protects every variable with codec except the exempt identities.
func WithCipher(codec *varcrypt.Codec, exempt ...efi.Identity) Option {
	return func(e *Engine) {
		e.codec = codec
		for _, id := range exempt {
			e.exempt[id] = struct{}{}
		}
	}
}

// NewEngine returns an engine over stores. At most one store of each type
// may be given.
func NewEngine(stores []*Store, opts ...Option) (*Engine, error) {
	e := &Engine{
		log:           logr.Discard(),
		indexCapacity: DefaultIndexCapacity,
		exempt:        map[efi.Identity]struct{}{},
		plain:         map[RecordRef][]byte{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.indexCapacity < 0 {
		return nil, fmt.Errorf("index capacity %d: %w", e.indexCapacity, efi.ErrInvalidParameter)
	}

	for _, s := range stores {
		if s == nil {
			continue
		}
		if s.Type < 0 || s.Type >= storeTypeMax {
			return nil, fmt.Errorf("%s: %w", s.Type, efi.ErrInvalidParameter)
		}
		if e.stores[s.Type] != nil {
			return nil, fmt.Errorf("duplicate %s store: %w", s.Type, efi.ErrInvalidParameter)
		}
		e.stores[s.Type] = s
		e.log.Info("store attached", "store", s.Type, "signature", s.Header.Signature.Name(),
			"size", s.Header.Size, "authenticated", s.Header.Authenticated())
	}
	return e, nil
}

// Close ends the boot stage: index tables and cached plaintext are dropped
// and further calls fail with ErrClosed.
func (e *Engine) Close() error {
	if e.closed {
		return ErrClosed
	}
	e.closed = true
	e.indexes = [storeTypeMax]*IndexTable{}
	for ref, p := range e.plain {
		clear(p)
		delete(e.plain, ref)
	}
	e.log.V(1).Info("engine closed", "lookups", e.stats.Lookups)
	return nil
}

func (e *Engine) usable() error {
	if e.closed {
		return ErrClosed
	}
	return nil
}

// Store returns the attached store of type t, or nil.
func (e *Engine) Store(t StoreType) *Store {
	if t < 0 || t >= storeTypeMax {
		return nil
	}
	return e.stores[t]
}

// Stats returns a snapshot of the activity counters.
func (e *Engine) Stats() Stats {
	return e.stats
}

// IndexStats describes the index tables built so far.
func (e *Engine) IndexStats() []IndexStats {
	var out []IndexStats
	for t := StoreHob; t < storeTypeMax; t++ {
		if e.stores[t] == nil {
			continue
		}
		st := IndexStats{Store: t, Capacity: e.indexCapacity}
		if idx := e.indexes[t]; idx != nil {
			st.Entries = idx.Len()
			st.GoneThrough = idx.GoneThrough
			st.Stopped = idx.Stopped()
		}
		out = append(out, st)
	}
	return out
}

// Protected reports whether the payload of id is stored encrypted.
func (e *Engine) Protected(id efi.Identity) bool {
	if e.codec == nil {
		return false
	}
	_, ok := e.exempt[id]
	return !ok
}
