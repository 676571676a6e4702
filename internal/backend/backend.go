// Package backend holds the interfaces that variable backends implement and
// the API handlers take in.
package backend

import (
	"context"

	"github.com/bmcpi/varstore/internal/firmware/efi"
	"github.com/bmcpi/varstore/internal/firmware/varcrypt"
	"github.com/bmcpi/varstore/internal/firmware/varstore"
)

// VariableReader is the interface for reading variables from a backend.
type VariableReader interface {
	// Get returns the resolved value of a variable.
	Get(context.Context, efi.Identity) (*efi.Variable, error)
	// List returns every visible variable in enumeration order.
	List(context.Context) ([]efi.Variable, error)
	// CipherInfo returns the cipher header stored with a variable.
	CipherInfo(context.Context, efi.Identity) (varcrypt.Info, error)
}

// StoreInspector describes the stores behind a backend.
type StoreInspector interface {
	Stores(context.Context) ([]StoreInfo, error)
}

// StatsReporter exposes engine counters.
type StatsReporter interface {
	Stats() varstore.Stats
}

// StoreInfo summarizes one loaded store.
type StoreInfo struct {
	Type          string              `json:"type"`
	Path          string              `json:"path"`
	Signature     string              `json:"signature"`
	Size          uint32              `json:"size"`
	Status        string              `json:"status"`
	Authenticated bool                `json:"authenticated"`
	Records       int                 `json:"records"`
	Live          int                 `json:"live"`
	Index         varstore.IndexStats `json:"index"`
}
