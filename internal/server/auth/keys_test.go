package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKey(t *testing.T) {
	key, der, err := GenerateKey()
	require.NoError(t, err)
	assert.Equal(t, KeyBits, key.N.BitLen())

	pub, err := x509.ParsePKIXPublicKey(der)
	require.NoError(t, err)
	assert.True(t, key.PublicKey.Equal(pub.(*rsa.PublicKey)))
}
