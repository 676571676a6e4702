package efi_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmcpi/varstore/internal/firmware/efi"
)

func TestGUIDByteOrder(t *testing.T) {
	g, err := efi.ParseGUID("8be4df61-93ca-11d2-aa0d-00e098032b8c")
	require.NoError(t, err)

	want := efi.GUID{0x61, 0xdf, 0xe4, 0x8b, 0xca, 0x93, 0xd2, 0x11, 0xaa, 0x0d, 0x00, 0xe0, 0x98, 0x03, 0x2b, 0x8c}
	assert.Equal(t, want, g)
	assert.Equal(t, efi.GlobalVariableGUID, g)
	assert.Equal(t, "8be4df61-93ca-11d2-aa0d-00e098032b8c", g.String())
	assert.Equal(t, uuid.MustParse("8be4df61-93ca-11d2-aa0d-00e098032b8c"), g.UUID())
	assert.Equal(t, "EfiGlobalVariable", g.Name())

	braced, err := efi.ParseGUID("{8BE4DF61-93CA-11D2-AA0D-00E098032B8C}")
	require.NoError(t, err)
	assert.Equal(t, g, braced)

	_, err = efi.ParseGUID("not-a-guid")
	assert.Error(t, err)

	assert.True(t, efi.GUID{}.IsZero())
	assert.Equal(t, g, efi.ReadGUID(append([]byte{0xff}, want[:]...), 1))
}

func TestGUIDText(t *testing.T) {
	type wrapper struct {
		GUID efi.GUID `json:"guid"`
	}
	out, err := json.Marshal(wrapper{GUID: efi.AuthenticatedVariableGUID})
	require.NoError(t, err)
	assert.JSONEq(t, `{"guid":"aaf32c78-947b-439a-a180-2e144ec37792"}`, string(out))

	var w wrapper
	require.NoError(t, json.Unmarshal(out, &w))
	assert.Equal(t, efi.AuthenticatedVariableGUID, w.GUID)
}

func TestNames(t *testing.T) {
	b, err := efi.EncodeName("Boot0001")
	require.NoError(t, err)
	assert.Len(t, b, 18)
	assert.Equal(t, []byte{'B', 0, 'o', 0}, b[:4])
	assert.Equal(t, []byte{0, 0}, b[16:])

	s, err := efi.DecodeName(append(b, 'x', 0))
	require.NoError(t, err)
	assert.Equal(t, "Boot0001", s)

	s, err = efi.DecodeName([]byte{'A', 0, 'B'})
	require.NoError(t, err)
	assert.Equal(t, "A", s)

	assert.Equal(t, 16, efi.TerminatorIndex(b))
	assert.Equal(t, -1, efi.TerminatorIndex([]byte{'A', 0}))

	assert.True(t, efi.NameEqual(b, efi.MustEncodeName("Boot0001")))
	assert.True(t, efi.NameEqual(append(b, 0xff, 0xff), efi.MustEncodeName("Boot0001")))
	assert.False(t, efi.NameEqual(b, efi.MustEncodeName("Boot000")))

	snowman := efi.MustEncodeName("☃")
	s, err = efi.DecodeName(snowman)
	require.NoError(t, err)
	assert.Equal(t, "☃", s)
}

func TestAttributes(t *testing.T) {
	a := efi.AttrNonVolatile | efi.AttrBootserviceAccess | efi.AttrRuntimeAccess
	assert.Equal(t, "NV|BS|RT", a.String())
	assert.Equal(t, "-", efi.Attributes(0).String())
	assert.True(t, a.Has(efi.AttrNonVolatile|efi.AttrRuntimeAccess))
	assert.False(t, a.Has(efi.AttrAppendWrite))
}

func TestStatus(t *testing.T) {
	err := fmt.Errorf("lookup: %w", efi.ErrBufferTooSmall)
	assert.True(t, errors.Is(err, efi.ErrBufferTooSmall))
	assert.False(t, errors.Is(err, efi.ErrNotFound))
	assert.Equal(t, uint64(5), efi.ErrBufferTooSmall.Code())
	assert.Equal(t, uint64(14), efi.ErrNotFound.Code())
	assert.Equal(t, "compromised data", efi.ErrCompromisedData.Error())
}

func TestParseIdentity(t *testing.T) {
	id, err := efi.ParseIdentity("PlatformLang:8be4df61-93ca-11d2-aa0d-00e098032b8c")
	require.NoError(t, err)
	assert.Equal(t, efi.Identity{Name: "PlatformLang", GUID: efi.GlobalVariableGUID}, id)

	id, err = efi.ParseIdentity("a:b:8be4df61-93ca-11d2-aa0d-00e098032b8c")
	require.NoError(t, err)
	assert.Equal(t, "a:b", id.Name)

	for _, bad := range []string{"Lang", ":8be4df61-93ca-11d2-aa0d-00e098032b8c", "Lang:zz"} {
		_, err := efi.ParseIdentity(bad)
		assert.Error(t, err, bad)
	}
}

func TestVariableListJSON(t *testing.T) {
	vars := []efi.Variable{
		{Name: "BootOrder", GUID: efi.GlobalVariableGUID, Attributes: 7, Data: []byte{1, 0, 2, 0}},
		{Name: "Empty", GUID: efi.GlobalVariableGUID, Attributes: 3},
	}
	out, err := json.Marshal(efi.MarshalVariableList(vars))
	require.NoError(t, err)
	assert.Contains(t, string(out), `"data":"01000200"`)

	back, err := efi.UnmarshalVariableList(out)
	require.NoError(t, err)
	require.Len(t, back, 2)
	assert.Equal(t, vars[0], back[0])
	assert.Equal(t, vars[1].Identity(), back[1].Identity())
	assert.Empty(t, back[1].Data)

	_, err = efi.UnmarshalVariableList([]byte(`{"version":1,"variables":[]}`))
	assert.Error(t, err)
}
