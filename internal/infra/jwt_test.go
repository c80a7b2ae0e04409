package infra

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTVerifier_RoundTrip(t *testing.T) {
	v, err := NewJWTVerifier("0123456789abcdef0123", "campuspool")
	require.NoError(t, err)

	tok, err := v.Mint("u-42", "driver", time.Minute)
	require.NoError(t, err)

	id, err := v.VerifyIDToken(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, "u-42", id.UID)
	assert.Equal(t, "driver", id.Role)
}

func TestJWTVerifier_Rejects(t *testing.T) {
	v, _ := NewJWTVerifier("0123456789abcdef0123", "campuspool")
	other, _ := NewJWTVerifier("another-secret-of-length", "campuspool")
	wrongIssuer, _ := NewJWTVerifier("0123456789abcdef0123", "elsewhere")

	expired, err := v.Mint("u-1", "rider", -time.Minute)
	require.NoError(t, err)
	foreign, _ := other.Mint("u-1", "rider", time.Minute)
	misissued, _ := wrongIssuer.Mint("u-1", "rider", time.Minute)

	for name, tok := range map[string]string{
		"expired":      expired,
		"wrong secret": foreign,
		"wrong issuer": misissued,
		"garbage":      "not.a.jwt",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := v.VerifyIDToken(context.Background(), tok)
			assert.Error(t, err)
		})
	}

	_, err = NewJWTVerifier("short", "")
	assert.Error(t, err)
}
