package crypto

import (
	"encoding/base64"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))

func TestParseKey(t *testing.T) {
	k, err := ParseKey(testKey)
	require.NoError(t, err)
	assert.Len(t, k, 32)

	_, err = ParseKey("not base64!")
	assert.Error(t, err)
	_, err = ParseKey(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.Error(t, err)
}

func TestEncryptDecrypt(t *testing.T) {
	k, err := ParseKey(testKey)
	require.NoError(t, err)
	data := []byte(`{"order_id":"ORD-1"}`)

	c1, err := Encrypt(data, k)
	require.NoError(t, err)
	c2, err := Encrypt(data, k)
	require.NoError(t, err)
	assert.NotEqual(t, c1, c2, "nonce should be random")

	out, err := Decrypt(c1, k)
	require.NoError(t, err)
	assert.Equal(t, data, out)

	c1[len(c1)-1] ^= 0xff
	_, err = Decrypt(c1, k)
	assert.Error(t, err)

	_, err = Decrypt([]byte("x"), k)
	assert.ErrorIs(t, err, ErrShortCiphertext)
}

func TestSimpleHash(t *testing.T) {
	h := SimpleHash("orders_ORD-1")
	assert.Equal(t, h, SimpleHash("orders_ORD-1"))
	assert.NotEqual(t, h, SimpleHash("orders_ORD-2"))
	assert.False(t, strings.ContainsAny(h, "+/="))
}

func BenchmarkSimpleHash(b *testing.B) {
	for i := 0; i < b.N; i++ {
		SimpleHash(fmt.Sprintf("some random long string with then a num: %d", i))
	}
}
