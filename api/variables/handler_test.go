package variables_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmcpi/varstore/api/variables"
	"github.com/bmcpi/varstore/internal/backend"
	"github.com/bmcpi/varstore/internal/firmware/efi"
	"github.com/bmcpi/varstore/internal/firmware/manager"
	"github.com/bmcpi/varstore/internal/firmware/varcrypt"
)

var guidA = efi.MustParseGUID("11111111-2222-3333-4444-555555555555")

type fakeReader struct {
	vars   map[efi.Identity]efi.Variable
	info   map[efi.Identity]varcrypt.Info
	broken map[efi.Identity]error
}

func (f *fakeReader) Get(_ context.Context, id efi.Identity) (*efi.Variable, error) {
	if err, ok := f.broken[id]; ok {
		return nil, err
	}
	v, ok := f.vars[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, efi.ErrNotFound)
	}
	return &v, nil
}

func (f *fakeReader) List(context.Context) ([]efi.Variable, error) {
	return []efi.Variable{f.vars[efi.Identity{Name: "Lang", GUID: guidA}]}, nil
}

func (f *fakeReader) CipherInfo(_ context.Context, id efi.Identity) (varcrypt.Info, error) {
	info, ok := f.info[id]
	if !ok {
		return varcrypt.Info{}, efi.ErrNotFound
	}
	return info, nil
}

type fakeStores []backend.StoreInfo

func (f fakeStores) Stores(context.Context) ([]backend.StoreInfo, error) { return f, nil }

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	lang := efi.Identity{Name: "Lang", GUID: guidA}
	secret := efi.Identity{Name: "Secret", GUID: guidA}
	reader := &fakeReader{
		vars: map[efi.Identity]efi.Variable{
			lang: {Name: "Lang", GUID: guidA, Attributes: efi.AttrNonVolatile | efi.AttrBootserviceAccess, Data: []byte("en")},
		},
		info: map[efi.Identity]varcrypt.Info{
			secret: {DataType: varcrypt.DataTypeAES, HeaderSize: varcrypt.HeaderSize, PlainDataSize: 7, CipherDataSize: 16},
		},
		broken: map[efi.Identity]error{
			{Name: "Broken", GUID: guidA}: fmt.Errorf("broken: %w", efi.ErrCompromisedData),
		},
	}
	stores := fakeStores{{Type: "nv", Path: "/fw/RPI_EFI.fd", Records: 2, Live: 1}}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	mux := http.NewServeMux()
	variables.New(logger, reader, stores).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func TestGetVariable(t *testing.T) {
	srv := newServer(t)

	var body map[string]any
	code := getJSON(t, srv.URL+"/variables/"+guidA.String()+"/Lang", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Lang", body["name"])
	assert.Equal(t, "656e", body["data"])
	assert.Equal(t, "NV|BS", body["attributes"])
	assert.EqualValues(t, 2, body["size"])
}

func TestGetVariableErrors(t *testing.T) {
	srv := newServer(t)

	tests := map[string]struct {
		path string
		code int
	}{
		"missing":     {path: "/variables/" + guidA.String() + "/Nope", code: http.StatusNotFound},
		"bad guid":    {path: "/variables/not-a-guid/Lang", code: http.StatusBadRequest},
		"compromised": {path: "/variables/" + guidA.String() + "/Broken", code: http.StatusUnprocessableEntity},
		"no cipher":   {path: "/variables/" + guidA.String() + "/Lang/cipher", code: http.StatusNotFound},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			var body map[string]any
			assert.Equal(t, tt.code, getJSON(t, srv.URL+tt.path, &body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestListVariables(t *testing.T) {
	srv := newServer(t)

	var list efi.VariableListJSON
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/variables", &list))
	assert.Equal(t, 2, list.Version)
	require.Len(t, list.Variables, 1)
	assert.Equal(t, "Lang", list.Variables[0].Name)
	assert.Equal(t, guidA.String(), list.Variables[0].GUID)
}

func TestCipherInfo(t *testing.T) {
	srv := newServer(t)

	var body map[string]any
	code := getJSON(t, srv.URL+"/variables/"+guidA.String()+"/Secret/cipher", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "aes", body["data_type"])
	assert.EqualValues(t, 7, body["plain_data_size"])
	assert.EqualValues(t, 16, body["cipher_data_size"])
	assert.Len(t, body["iv"], 32)
}

func TestStores(t *testing.T) {
	srv := newServer(t)

	var stores []backend.StoreInfo
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/stores", &stores))
	require.Len(t, stores, 1)
	assert.Equal(t, "nv", stores[0].Type)
	assert.Equal(t, 1, stores[0].Live)
}

func TestBootConfig(t *testing.T) {
	srv := newServer(t)

	var cfg manager.BootConfig
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/boot", &cfg))
	assert.Empty(t, cfg.Order)
	assert.Empty(t, cfg.Entries)
	assert.Nil(t, cfg.Timeout)
}
