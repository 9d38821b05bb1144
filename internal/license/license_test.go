package license

import (
	"crypto/ed25519"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIssuer(t *testing.T) (*Issuer, ed25519.PublicKey) {
	t.Helper()
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	signer, err := NewSigner(kp.PrivateKey)
	require.NoError(t, err)
	return NewIssuer(signer), kp.PublicKey
}

func TestSignAndVerify(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	signer, err := NewSigner(kp.PrivateKey)
	require.NoError(t, err)

	payload := []byte("payload")
	sig := signer.Sign(payload)
	assert.True(t, Verify(payload, sig, kp.PublicKey))
	assert.False(t, Verify([]byte("other"), sig, kp.PublicKey))
	assert.False(t, Verify(payload, sig[:10], kp.PublicKey))
	assert.False(t, Verify(payload, sig, ed25519.PublicKey("short")))
	assert.Equal(t, kp.PublicKey, signer.PublicKey())
}

func TestParseKeys(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	pub, err := ParsePublicKey(kp.PublicKeyHex())
	require.NoError(t, err)
	assert.Equal(t, kp.PublicKey, pub)

	priv, err := ParsePrivateKey(kp.PrivateKeyHex())
	require.NoError(t, err)
	assert.Equal(t, kp.PrivateKey, priv)

	fromSeed, err := ParsePrivateKey(hex.EncodeToString(kp.PrivateKey.Seed()))
	require.NoError(t, err)
	assert.Equal(t, kp.PrivateKey, fromSeed)

	_, err = ParsePublicKey("zz")
	assert.ErrorIs(t, err, ErrInvalidPublicKey)
	_, err = ParsePrivateKey("abcd")
	assert.ErrorIs(t, err, ErrInvalidPrivateKey)
	_, err = NewSigner([]byte("short"))
	assert.ErrorIs(t, err, ErrInvalidPrivateKey)
}

func TestIssue(t *testing.T) {
	issuer, _ := newTestIssuer(t)

	token, claims, err := issuer.Issue("cust-123", TierGrowth, time.Hour)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(token, "VBZ-1."))
	assert.Equal(t, "cust-123", claims.CustomerID)
	assert.Equal(t, TierGrowth, claims.Tier)
	assert.Equal(t, time.Hour, claims.ExpiresAt.Sub(claims.IssuedAt))

	token2, claims2, err := issuer.Issue("cust-123", TierGrowth, time.Hour)
	require.NoError(t, err)
	assert.NotEqual(t, token, token2)
	assert.NotEqual(t, claims.TokenID, claims2.TokenID)
}

func TestIssue_InvalidInputs(t *testing.T) {
	issuer, _ := newTestIssuer(t)

	_, _, err := issuer.Issue("", TierDev, time.Hour)
	assert.Error(t, err)

	_, _, err = issuer.Issue("cust", Tier(9), time.Hour)
	assert.Error(t, err)

	_, _, err = issuer.Issue("cust", TierDev, 0)
	assert.Error(t, err)
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "****", MaskToken("short"))
	assert.Equal(t, "VBZ-1.abcdef****", MaskToken("VBZ-1.abcdefghijklmnop"))
}
