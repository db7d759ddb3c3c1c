package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifier_RoundTrip(t *testing.T) {
	v := NewVerifier("test-secret")

	token := v.Mint("u1", "alice")
	claims, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "alice", claims.Username)
}

func TestVerifier_RejectsTampering(t *testing.T) {
	v := NewVerifier("test-secret")
	other := NewVerifier("other-secret")

	cases := []struct {
		name  string
		token string
	}{
		{"wrong secret", other.Mint("u1", "alice")},
		{"garbage", "not-a-token"},
		{"two parts", "YQ.YQ"},
		{"bad base64", "!!!.YQ.YQ"},
		{"truncated signature", v.Mint("u1", "alice")[:20]},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.Verify(tc.token)
			assert.Error(t, err)
		})
	}
}

func TestVerifier_UsernameWithDots(t *testing.T) {
	v := NewVerifier("test-secret")

	// base64url segments never contain '.', so dotted usernames survive.
	token := v.Mint("u2", "a.b.c")
	claims, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "a.b.c", claims.Username)
}
