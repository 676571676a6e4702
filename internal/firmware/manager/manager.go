// Package manager provides a read-only view of the boot configuration held in
// a variable store.
package manager

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-logr/logr"

	"github.com/bmcpi/varstore/internal/backend"
	"github.com/bmcpi/varstore/internal/firmware/efi"
)

// BootEntry is a decoded Boot#### variable.
type BootEntry struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	DevPath  string `json:"devpath"`
	Enabled  bool   `json:"enabled"`
	Hidden   bool   `json:"hidden,omitempty"`
	OptData  string `json:"optdata,omitempty"`
	Position int    `json:"position"`
}

// BootConfig is the boot manager state of a store.
type BootConfig struct {
	Order   []string    `json:"order"`
	Next    string      `json:"next,omitempty"`
	Current string      `json:"current,omitempty"`
	Timeout *uint16     `json:"timeout,omitempty"`
	Entries []BootEntry `json:"entries"`
}

// Manager reads the boot manager variables through a backend.
type Manager struct {
	reader backend.VariableReader
	logger logr.Logger
}

// New creates a Manager reading from reader.
func New(reader backend.VariableReader, logger logr.Logger) *Manager {
	return &Manager{
		reader: reader,
		logger: logger.WithName("boot-manager"),
	}
}

func global(name string) efi.Identity {
	return efi.Identity{Name: name, GUID: efi.GlobalVariableGUID}
}

// BootOrder retrieves the current boot order as Boot#### names.
func (m *Manager) BootOrder(ctx context.Context) ([]string, error) {
	v, err := m.reader.Get(ctx, global("BootOrder"))
	if err != nil {
		return nil, err
	}
	order, err := efi.ParseBootOrder(v.Data)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(order))
	for i, n := range order {
		names[i] = optionName(n)
	}
	return names, nil
}

// BootNext returns the one-shot boot option.
func (m *Manager) BootNext(ctx context.Context) (uint16, error) {
	return m.readUint16(ctx, "BootNext")
}

// BootCurrent returns the option the firmware booted from.
func (m *Manager) BootCurrent(ctx context.Context) (uint16, error) {
	return m.readUint16(ctx, "BootCurrent")
}

// Timeout returns the boot manager timeout in seconds.
func (m *Manager) Timeout(ctx context.Context) (uint16, error) {
	return m.readUint16(ctx, "Timeout")
}

func (m *Manager) readUint16(ctx context.Context, name string) (uint16, error) {
	v, err := m.reader.Get(ctx, global(name))
	if err != nil {
		return 0, err
	}
	if len(v.Data) != 2 {
		return 0, fmt.Errorf("%s: invalid data length %d", name, len(v.Data))
	}
	return binary.LittleEndian.Uint16(v.Data), nil
}

// BootEntries retrieves all boot entries. Entries missing from BootOrder
// have Position -1.
func (m *Manager) BootEntries(ctx context.Context) ([]BootEntry, error) {
	vars, err := m.reader.List(ctx)
	if err != nil {
		return nil, err
	}

	var entries []BootEntry
	for i := range vars {
		v := &vars[i]
		if v.GUID != efi.GlobalVariableGUID {
			continue
		}
		id, ok := optionID(v.Name)
		if !ok {
			continue
		}
		opt, err := efi.ParseLoadOption(v.Data)
		if err != nil {
			m.logger.Info("Skipping invalid boot entry", "name", v.Name, "data_len", len(v.Data), "error", err)
			continue
		}

		entry := BootEntry{
			ID:       id,
			Name:     opt.Title,
			DevPath:  opt.DevicePath.String(),
			Enabled:  opt.Active(),
			Hidden:   opt.Hidden(),
			Position: -1,
		}
		if opt.OptData != nil {
			entry.OptData = hex.EncodeToString(opt.OptData)
		}
		entries = append(entries, entry)
	}

	order, err := m.BootOrder(ctx)
	switch {
	case errors.Is(err, efi.ErrNotFound):
		return entries, nil
	case err != nil:
		return nil, err
	}
	for i, name := range order {
		for j := range entries {
			if "Boot"+entries[j].ID == name {
				entries[j].Position = i
				break
			}
		}
	}
	return entries, nil
}

// Summary collects the boot order, the BootNext and BootCurrent options, the
// timeout and all entries. Variables that are absent are left empty.
func (m *Manager) Summary(ctx context.Context) (*BootConfig, error) {
	cfg := &BootConfig{Order: []string{}}

	order, err := m.BootOrder(ctx)
	if err != nil && !errors.Is(err, efi.ErrNotFound) {
		return nil, err
	}
	if order != nil {
		cfg.Order = order
	}

	if n, err := m.BootNext(ctx); err == nil {
		cfg.Next = optionName(n)
	} else if !errors.Is(err, efi.ErrNotFound) {
		return nil, err
	}
	if n, err := m.BootCurrent(ctx); err == nil {
		cfg.Current = optionName(n)
	} else if !errors.Is(err, efi.ErrNotFound) {
		return nil, err
	}
	if t, err := m.Timeout(ctx); err == nil {
		cfg.Timeout = &t
	} else if !errors.Is(err, efi.ErrNotFound) {
		return nil, err
	}

	entries, err := m.BootEntries(ctx)
	if err != nil {
		return nil, err
	}
	cfg.Entries = entries
	if cfg.Entries == nil {
		cfg.Entries = []BootEntry{}
	}
	return cfg, nil
}

func optionName(n uint16) string {
	return fmt.Sprintf("Boot%04X", n)
}

// optionID returns the hex suffix of a Boot#### name.
func optionID(name string) (string, bool) {
	id, ok := strings.CutPrefix(name, "Boot")
	if !ok || len(id) != 4 || strings.ToUpper(id) != id {
		return "", false
	}
	if _, err := strconv.ParseUint(id, 16, 16); err != nil {
		return "", false
	}
	return id, true
}
