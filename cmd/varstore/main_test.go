package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/ghodss/yaml"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmcpi/varstore/internal/firmware/efi"
	"github.com/bmcpi/varstore/internal/firmware/manager"
	"github.com/bmcpi/varstore/internal/firmware/varcrypt"
	"github.com/bmcpi/varstore/internal/firmware/varstore"
	"github.com/bmcpi/varstore/internal/firmware/varstore/varstoretest"
)

var testRootKey = []byte("0123456789abcdef0123456789abcdef")

// resetFlags restores every flag of cmd and its children to its default.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.PersistentFlags().VisitAll(reset)
	cmd.Flags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// runCmd executes the CLI against an in-memory file system.
func runCmd(t *testing.T, mem afero.Fs, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	orig := fs
	fs = mem
	t.Cleanup(func() { fs = orig })

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func loadOption(title string) []byte {
	data := binary.LittleEndian.AppendUint32(nil, efi.LoadOptionActive)
	end := []byte{0x7f, 0xff, 0x04, 0x00}
	data = binary.LittleEndian.AppendUint16(data, uint16(len(end)))
	data = append(data, efi.MustEncodeName(title)...)
	return append(data, end...)
}

func testImage(t *testing.T) afero.Fs {
	t.Helper()
	codec, err := varcrypt.NewCodec(testRootKey)
	require.NoError(t, err)
	secret, err := codec.Encrypt([]byte("hunter2"), efi.Identity{Name: "Secret", GUID: varstoretest.GUIDA}, varstoretest.DefaultAttributes)
	require.NoError(t, err)

	store := varstoretest.NewStore().
		Add("BootOrder", efi.GlobalVariableGUID, []byte{1, 0, 0, 0}).
		Add("Boot0001", efi.GlobalVariableGUID, loadOption("UEFI Shell")).
		Add("Secret", varstoretest.GUIDA, secret)

	mem := afero.NewMemMapFs()
	img := varstoretest.Image(varstoretest.Volume(store.Bytes()), 4096)
	require.NoError(t, afero.WriteFile(mem, "/fw/RPI_EFI.fd", img, 0o644))
	return mem
}

func TestListCommand(t *testing.T) {
	mem := testImage(t)

	out, err := runCmd(t, mem, "list", "--nv", "/fw/RPI_EFI.fd")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "BootOrder")
	assert.Contains(t, out, "Boot0001")
	assert.Contains(t, out, "NV|BS|RT")

	out, err = runCmd(t, mem, "list", "--nv", "/fw/RPI_EFI.fd", "-o", "json")
	require.NoError(t, err)
	var list efi.VariableListJSON
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list.Variables, 3)
	assert.Equal(t, "BootOrder", list.Variables[0].Name)

	out, err = runCmd(t, mem, "list", "--nv", "/fw/RPI_EFI.fd", "-o", "yaml")
	require.NoError(t, err)
	require.NoError(t, yaml.Unmarshal([]byte(out), &list))
	assert.Equal(t, 2, list.Version)
}

func TestGetCommand(t *testing.T) {
	mem := testImage(t)

	tests := []struct {
		name        string
		args        []string
		wantErr     bool
		wantContain []string
	}{
		{
			name:        "boot order",
			args:        []string{"get", "--nv", "/fw/RPI_EFI.fd", "BootOrder"},
			wantContain: []string{"Order:      Boot0001,Boot0000"},
		},
		{
			name:        "load option",
			args:        []string{"get", "--nv", "/fw/RPI_EFI.fd", "Boot0001"},
			wantContain: []string{"UEFI Shell", "EfiGlobalVariable"},
		},
		{
			name:        "protected",
			args:        []string{"get", "--nv", "/fw/RPI_EFI.fd", "--root-key", hex.EncodeToString(testRootKey), "Secret", varstoretest.GUIDA.String()},
			wantContain: []string{"hunter2"},
		},
		{
			name:        "json",
			args:        []string{"get", "--nv", "/fw/RPI_EFI.fd", "BootOrder", "-o", "json"},
			wantContain: []string{`"data": "01000000"`},
		},
		{name: "missing", args: []string{"get", "--nv", "/fw/RPI_EFI.fd", "Nope"}, wantErr: true},
		{name: "bad guid", args: []string{"get", "--nv", "/fw/RPI_EFI.fd", "Secret", "xyz"}, wantErr: true},
		{name: "no store", args: []string{"get", "BootOrder"}, wantErr: true},
		{name: "bad output", args: []string{"get", "--nv", "/fw/RPI_EFI.fd", "BootOrder", "-o", "xml"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runCmd(t, mem, tt.args...)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			for _, want := range tt.wantContain {
				assert.Contains(t, out, want)
			}
		})
	}
}

func TestInfoCommand(t *testing.T) {
	mem := testImage(t)

	out, err := runCmd(t, mem, "info", "--nv", "/fw/RPI_EFI.fd", "-o", "json")
	require.NoError(t, err)

	var res infoOutput
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Stores, 1)
	s := res.Stores[0]
	assert.Equal(t, "nv", s.Type)
	assert.Equal(t, 3, s.Records)
	assert.Equal(t, 3, s.Live)
	assert.Equal(t, varstore.StoreNv, s.Index.Store)
	// Every lookup ended on a match, so no walk reached the end of the store.
	assert.False(t, s.Index.GoneThrough)
	assert.Equal(t, 3, s.Index.Entries)
}

func TestCipherInfoCommand(t *testing.T) {
	mem := testImage(t)

	out, err := runCmd(t, mem, "cipher-info", "--nv", "/fw/RPI_EFI.fd", "Secret", varstoretest.GUIDA.String(), "-o", "json")
	require.NoError(t, err)

	var res cipherOutput
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "aes", res.DataType)
	assert.Equal(t, uint32(7), res.PlainDataSize)
	assert.Equal(t, uint32(16), res.CipherDataSize)

	_, err = runCmd(t, mem, "cipher-info", "--nv", "/fw/RPI_EFI.fd", "BootOrder")
	assert.ErrorIs(t, err, efi.ErrNotFound)
}

func TestBootCommand(t *testing.T) {
	mem := testImage(t)

	out, err := runCmd(t, mem, "boot", "--nv", "/fw/RPI_EFI.fd")
	require.NoError(t, err)
	assert.Contains(t, out, "BootOrder:   Boot0001,Boot0000")
	assert.Contains(t, out, "UEFI Shell")

	out, err = runCmd(t, mem, "boot", "--nv", "/fw/RPI_EFI.fd", "-o", "json")
	require.NoError(t, err)
	var cfg manager.BootConfig
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	require.Len(t, cfg.Entries, 1)
	assert.Equal(t, "0001", cfg.Entries[0].ID)
	assert.Equal(t, 0, cfg.Entries[0].Position)
	assert.True(t, cfg.Entries[0].Enabled)
}
