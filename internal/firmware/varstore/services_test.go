package varstore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmcpi/varstore/internal/firmware/efi"
	"github.com/bmcpi/varstore/internal/firmware/varcrypt"
	"github.com/bmcpi/varstore/internal/firmware/varstore"
	"github.com/bmcpi/varstore/internal/firmware/varstore/varstoretest"
)

var rootKey = []byte("0123456789abcdef0123456789abcdef")

func encrypted(t *testing.T, codec *varcrypt.Codec, name string, guid efi.GUID, plain []byte) []byte {
	t.Helper()
	data, err := codec.Encrypt(plain, efi.Identity{Name: name, GUID: guid}, varstoretest.DefaultAttributes)
	require.NoError(t, err)
	return data
}

func TestProtectedVariables(t *testing.T) {
	codec, err := varcrypt.NewCodec(rootKey)
	require.NoError(t, err)

	nv := newStore(t, varstore.StoreNv, varstoretest.NewStore().
		Add("Boot0001", guidA, encrypted(t, codec, "Boot0001", guidA, []byte{0x12, 0x34})).
		Add("Lang", guidA, []byte("en-US")).
		Add("Broken", guidA, []byte{1, 2, 3}))
	exempt := efi.Identity{Name: "Lang", GUID: guidA}
	e := newEngine(t, []*varstore.Store{nv}, varstore.WithCipher(codec, exempt))

	assert.True(t, e.Protected(efi.Identity{Name: "Boot0001", GUID: guidA}))
	assert.False(t, e.Protected(exempt))

	_, size, err := e.GetVariable("Boot0001", &guidA, nil)
	assert.ErrorIs(t, err, efi.ErrBufferTooSmall)
	assert.Equal(t, 2, size)

	assert.Equal(t, []byte{0x12, 0x34}, getValue(t, e, "Boot0001", guidA))
	assert.Equal(t, []byte{0x12, 0x34}, getValue(t, e, "Boot0001", guidA))
	assert.Equal(t, uint64(1), e.Stats().Decrypts)
	assert.Equal(t, uint64(2), e.Stats().PlainCacheHits)

	assert.Equal(t, []byte("en-US"), getValue(t, e, "Lang", guidA))

	_, _, err = e.GetVariable("Broken", &guidA, make([]byte, 16))
	assert.ErrorIs(t, err, efi.ErrCompromisedData)

	// The store itself keeps the ciphertext.
	track, err := e.FindVariable("Boot0001", &guidA)
	require.NoError(t, err)
	info, err := varcrypt.GetCipherDataInfo(nv.Data(&track.Record))
	require.NoError(t, err)
	assert.Equal(t, varcrypt.DataTypeAES, info.DataType)
}

func TestProtectedVariableWrongKey(t *testing.T) {
	writer, err := varcrypt.NewCodec(rootKey)
	require.NoError(t, err)
	reader, err := varcrypt.NewCodec([]byte("another root key"))
	require.NoError(t, err)

	nv := newStore(t, varstore.StoreNv, varstoretest.NewStore().
		Add("Secret", guidB, encrypted(t, writer, "Secret", guidB, []byte("hunter2"))))
	e := newEngine(t, []*varstore.Store{nv}, varstore.WithCipher(reader))

	got := getValue(t, e, "Secret", guidB)
	assert.Len(t, got, len("hunter2"))
	assert.NotEqual(t, []byte("hunter2"), got)
}

func TestCompromisedCipherHeader(t *testing.T) {
	codec, err := varcrypt.NewCodec(rootKey)
	require.NoError(t, err)
	data := encrypted(t, codec, "Boot0001", guidA, []byte{1, 2, 3})
	data[12]++ // CipherDataSize no longer a multiple of the block size

	nv := newStore(t, varstore.StoreNv, varstoretest.NewStore().Add("Boot0001", guidA, data))
	e := newEngine(t, []*varstore.Store{nv}, varstore.WithCipher(codec))

	_, _, err = e.GetVariable("Boot0001", &guidA, make([]byte, 16))
	assert.ErrorIs(t, err, efi.ErrCompromisedData)

	_, err = e.GetCipherDataInfo("Boot0001", &guidA)
	assert.ErrorIs(t, err, efi.ErrCompromisedData)
}

func TestEngineCipherDataInfo(t *testing.T) {
	codec, err := varcrypt.NewCodec(rootKey)
	require.NoError(t, err)
	nv := newStore(t, varstore.StoreNv, varstoretest.NewStore().
		Add("Boot0001", guidA, encrypted(t, codec, "Boot0001", guidA, make([]byte, 17))).
		Add("Plain", guidA, []byte{1}))
	e := newEngine(t, []*varstore.Store{nv})

	info, err := e.GetCipherDataInfo("Boot0001", &guidA)
	require.NoError(t, err)
	assert.Equal(t, uint32(17), info.PlainDataSize)
	assert.Equal(t, uint32(32), info.CipherDataSize)
	assert.Equal(t, uint32(varcrypt.HeaderSize), info.HeaderSize)

	_, err = e.GetCipherDataInfo("Plain", &guidA)
	assert.ErrorIs(t, err, efi.ErrNotFound)

	info.DataType = varcrypt.DataTypeNull
	data, err := e.SetCipherDataInfo("Boot0001", &guidA, info)
	require.NoError(t, err)
	got, err := varcrypt.GetCipherDataInfo(data)
	require.NoError(t, err)
	assert.Equal(t, varcrypt.DataTypeNull, got.DataType)

	// The stored record is untouched.
	info, err = e.GetCipherDataInfo("Boot0001", &guidA)
	require.NoError(t, err)
	assert.Equal(t, varcrypt.DataTypeAES, info.DataType)

	info.CipherDataSize = 48
	_, err = e.SetCipherDataInfo("Boot0001", &guidA, info)
	assert.ErrorIs(t, err, efi.ErrCompromisedData)
}
