package auth_test

import (
	"strings"
	"testing"

	"github.com/kiranshivaraju/tenantgate/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestPasswords_HashAndVerify(t *testing.T) {
	p := auth.NewPasswords(bcrypt.MinCost)

	hash, err := p.Hash("correct horse")
	require.NoError(t, err)
	assert.NotContains(t, hash, "correct horse")

	ok, err := p.Verify(hash, "correct horse")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPasswords_MismatchIsNotAnError(t *testing.T) {
	p := auth.NewPasswords(bcrypt.MinCost)
	hash, err := p.Hash("secret1")
	require.NoError(t, err)

	ok, err := p.Verify(hash, "secret2")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestPasswords_MalformedHashIsAnError(t *testing.T) {
	p := auth.NewPasswords(bcrypt.MinCost)

	ok, err := p.Verify("not-a-bcrypt-hash", "whatever")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestPasswords_SaltedHashesDiffer(t *testing.T) {
	p := auth.NewPasswords(bcrypt.MinCost)
	a, err := p.Hash("same-password")
	require.NoError(t, err)
	b, err := p.Hash("same-password")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"too short", "abc", true},
		{"minimum", "abcdef", false},
		{"too long", strings.Repeat("x", 73), true},
		{"maximum", strings.Repeat("x", 72), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := auth.ValidatePassword(tt.password)
			if tt.wantErr {
				assert.Equal(t, auth.ReasonValidation, auth.ReasonOf(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}
