package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptAES(t *testing.T) {
	key, err := NewAESKey()
	require.NoError(t, err)

	plain := []byte("the quick brown fox")
	ct, err := EncryptAES(plain, key)
	require.NoError(t, err)
	assert.NotEqual(t, plain, ct)

	got, err := DecryptAES(ct, key)
	require.NoError(t, err)
	assert.Equal(t, plain, got)
}

func TestEncryptAES_UniqueNonces(t *testing.T) {
	key, err := NewAESKey()
	require.NoError(t, err)

	ct1, err := EncryptAES([]byte("same"), key)
	require.NoError(t, err)
	ct2, err := EncryptAES([]byte("same"), key)
	require.NoError(t, err)
	assert.NotEqual(t, ct1, ct2)
}

func TestDecryptAES_WrongKey(t *testing.T) {
	key1, _ := NewAESKey()
	key2, _ := NewAESKey()

	ct, err := EncryptAES([]byte("secret"), key1)
	require.NoError(t, err)

	_, err = DecryptAES(ct, key2)
	assert.Error(t, err)
}

func TestAESWithAAD(t *testing.T) {
	key, _ := NewAESKey()

	ct, err := EncryptAESWithAAD([]byte("value"), key, []byte("access_token"))
	require.NoError(t, err)

	got, err := DecryptAESWithAAD(ct, key, []byte("access_token"))
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), got)

	// Mismatched AAD must fail authentication.
	_, err = DecryptAESWithAAD(ct, key, []byte("refresh_token"))
	assert.Error(t, err)
}

func TestAES_BadKeySize(t *testing.T) {
	_, err := EncryptAES([]byte("x"), []byte("short"))
	assert.Error(t, err)

	_, err = DecryptAES([]byte("x"), []byte("short"))
	assert.Error(t, err)
}

func TestDecryptAES_TruncatedCiphertext(t *testing.T) {
	key, _ := NewAESKey()
	_, err := DecryptAES([]byte{0x01, 0x02}, key)
	assert.Error(t, err)
}

func TestHKDF_Deterministic(t *testing.T) {
	seed := []byte("seed material")

	k1, err := HKDF(seed, nil, []byte("credstore"))
	require.NoError(t, err)
	k2, err := HKDF(seed, nil, []byte("credstore"))
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, HKDFKeyLength)

	k3, err := HKDF(seed, nil, []byte("other"))
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)
}

func TestArgon2id_CompareRoundTrip(t *testing.T) {
	salt, err := RandomBytes(16)
	require.NoError(t, err)
	params := DefaultArgon2idParams()

	key, err := DeriveArgon2idKey("correct horse", salt, params)
	require.NoError(t, err)

	ok, err := CompareArgon2idKey("correct horse", salt, params, key)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = CompareArgon2idKey("wrong horse", salt, params, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWipeBytes(t *testing.T) {
	b := []byte{1, 2, 3}
	WipeBytes(b)
	assert.Equal(t, []byte{0, 0, 0}, b)
}

func TestCopyBytes_Independent(t *testing.T) {
	src := []byte{1, 2, 3}
	dst := CopyBytes(src)
	dst[0] = 9
	assert.Equal(t, byte(1), src[0])
}

func TestNormalize(t *testing.T) {
	// U+00E9 and e + combining acute normalize to the same sequence.
	assert.Equal(t, Normalize("café"), Normalize("café"))
}

func TestHexRoundTrip(t *testing.T) {
	b, err := RandomBytes(8)
	require.NoError(t, err)
	got, err := HexDecode(HexEncode(b))
	require.NoError(t, err)
	assert.Equal(t, b, got)
}
