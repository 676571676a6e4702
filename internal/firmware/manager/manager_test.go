package manager_test

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmcpi/varstore/internal/firmware/efi"
	"github.com/bmcpi/varstore/internal/firmware/manager"
	"github.com/bmcpi/varstore/internal/firmware/varcrypt"
)

var vendorGUID = efi.MustParseGUID("11111111-2222-3333-4444-555555555555")

// fakeReader serves variables in insertion order.
type fakeReader struct {
	vars    []efi.Variable
	listErr error
}

func (f *fakeReader) add(name string, guid efi.GUID, data []byte) *fakeReader {
	f.vars = append(f.vars, efi.Variable{Name: name, GUID: guid, Attributes: efi.AttrNonVolatile, Data: data})
	return f
}

func (f *fakeReader) Get(_ context.Context, id efi.Identity) (*efi.Variable, error) {
	for i := range f.vars {
		if f.vars[i].Identity() == id {
			v := f.vars[i]
			return &v, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", id, efi.ErrNotFound)
}

func (f *fakeReader) List(context.Context) ([]efi.Variable, error) {
	return f.vars, f.listErr
}

func (f *fakeReader) CipherInfo(context.Context, efi.Identity) (varcrypt.Info, error) {
	return varcrypt.Info{}, efi.ErrNotFound
}

func u16(vals ...uint16) []byte {
	var b []byte
	for _, v := range vals {
		b = binary.LittleEndian.AppendUint16(b, v)
	}
	return b
}

func loadOption(attr uint32, title string, optData []byte) []byte {
	data := binary.LittleEndian.AppendUint32(nil, attr)
	end := []byte{0x7f, 0xff, 0x04, 0x00}
	data = binary.LittleEndian.AppendUint16(data, uint16(len(end)))
	data = append(data, efi.MustEncodeName(title)...)
	data = append(data, end...)
	return append(data, optData...)
}

func newReader() *fakeReader {
	r := &fakeReader{}
	return r.
		add("BootOrder", efi.GlobalVariableGUID, u16(2, 0)).
		add("Boot0000", efi.GlobalVariableGUID, loadOption(efi.LoadOptionActive, "UEFI Shell", nil)).
		add("Boot0001", efi.GlobalVariableGUID, loadOption(efi.LoadOptionHidden, "Setup", []byte{0xde, 0xad})).
		add("Boot0002", efi.GlobalVariableGUID, loadOption(efi.LoadOptionActive, "PXE", nil)).
		add("Boot0003", vendorGUID, loadOption(efi.LoadOptionActive, "Other vendor", nil)).
		add("Boot0004", efi.GlobalVariableGUID, []byte{1, 2}).
		add("BootNext", efi.GlobalVariableGUID, u16(1)).
		add("Timeout", efi.GlobalVariableGUID, u16(5))
}

func TestBootOrder(t *testing.T) {
	m := manager.New(newReader(), logr.Discard())

	order, err := m.BootOrder(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Boot0002", "Boot0000"}, order)

	_, err = manager.New(&fakeReader{}, logr.Discard()).BootOrder(context.Background())
	assert.ErrorIs(t, err, efi.ErrNotFound)

	odd := (&fakeReader{}).add("BootOrder", efi.GlobalVariableGUID, []byte{1, 0, 2})
	_, err = manager.New(odd, logr.Discard()).BootOrder(context.Background())
	assert.Error(t, err)
}

func TestBootEntries(t *testing.T) {
	m := manager.New(newReader(), logr.Discard())

	entries, err := m.BootEntries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, manager.BootEntry{ID: "0000", Name: "UEFI Shell", DevPath: entries[0].DevPath, Enabled: true, Position: 1}, entries[0])
	assert.Equal(t, "0001", entries[1].ID)
	assert.False(t, entries[1].Enabled)
	assert.True(t, entries[1].Hidden)
	assert.Equal(t, "dead", entries[1].OptData)
	assert.Equal(t, -1, entries[1].Position)
	assert.Equal(t, "PXE", entries[2].Name)
	assert.Equal(t, 0, entries[2].Position)
}

func TestBootEntriesWithoutOrder(t *testing.T) {
	r := (&fakeReader{}).add("Boot000A", efi.GlobalVariableGUID, loadOption(efi.LoadOptionActive, "Disk", nil))
	entries, err := manager.New(r, logr.Discard()).BootEntries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "000A", entries[0].ID)
	assert.Equal(t, -1, entries[0].Position)

	r.listErr = errors.New("boom")
	_, err = manager.New(r, logr.Discard()).BootEntries(context.Background())
	assert.Error(t, err)
}

func TestSummary(t *testing.T) {
	cfg, err := manager.New(newReader(), logr.Discard()).Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Boot0002", "Boot0000"}, cfg.Order)
	assert.Equal(t, "Boot0001", cfg.Next)
	assert.Empty(t, cfg.Current)
	require.NotNil(t, cfg.Timeout)
	assert.Equal(t, uint16(5), *cfg.Timeout)
	assert.Len(t, cfg.Entries, 3)

	cfg, err = manager.New(&fakeReader{}, logr.Discard()).Summary(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cfg.Order)
	assert.NotNil(t, cfg.Entries)
	assert.Nil(t, cfg.Timeout)

	bad := (&fakeReader{}).add("Timeout", efi.GlobalVariableGUID, []byte{5})
	_, err = manager.New(bad, logr.Discard()).Summary(context.Background())
	assert.Error(t, err)
}
