package auth_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/kiranshivaraju/tenantgate/internal/auth"
	"github.com/kiranshivaraju/tenantgate/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKey_Format(t *testing.T) {
	gen, err := auth.GenerateKey()
	require.NoError(t, err)

	assert.Regexp(t, `^ak_[a-f0-9]{16}_[a-f0-9]{64}$`, gen.FullKey)
	assert.True(t, strings.HasPrefix(gen.FullKey, gen.KeyID+"_"))
	assert.Len(t, gen.KeyID, 19)
	assert.Equal(t, auth.HashKey(gen.FullKey), gen.Hash)
	assert.NotContains(t, gen.Hash, gen.FullKey)

	keyID, err := auth.ParseKeyID(gen.FullKey)
	require.NoError(t, err)
	assert.Equal(t, gen.KeyID, keyID)
}

func TestGenerateKey_Unique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		gen, err := auth.GenerateKey()
		require.NoError(t, err)
		assert.False(t, seen[gen.FullKey])
		seen[gen.FullKey] = true
	}
}

func TestParseKeyID_Malformed(t *testing.T) {
	valid := "ak_0123456789abcdef_" + strings.Repeat("a", 64)
	tests := map[string]string{
		"empty":             "",
		"wrong prefix":      "sk_0123456789abcdef_" + strings.Repeat("a", 64),
		"short key id":      "ak_0123_" + strings.Repeat("a", 64),
		"short secret":      "ak_0123456789abcdef_" + strings.Repeat("a", 63),
		"uppercase hex":     strings.ToUpper(valid),
		"trailing garbage":  valid + "x",
		"missing separator": strings.Replace(valid, "_", "", 2),
	}
	for name, presented := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := auth.ParseKeyID(presented)
			assert.Equal(t, auth.ReasonMalformedCredential, auth.ReasonOf(err))
		})
	}
	_, err := auth.ParseKeyID(valid)
	assert.NoError(t, err)
}

func TestLooksLikeAPIKey(t *testing.T) {
	assert.True(t, auth.LooksLikeAPIKey("ak_123"))
	assert.False(t, auth.LooksLikeAPIKey("eyJhbGciOi"))
	assert.False(t, auth.LooksLikeAPIKey(""))
}

func TestVerify_RoundTrip(t *testing.T) {
	f := newFixture(t)
	tenant := f.tenant(t, true)
	admin := f.user(t, tenant.ID, models.RoleAdmin, "password1")
	key, full := f.apiKey(t, admin, auth.CreateKeyInput{Name: "ci"})

	got, err := f.keys.Verify(context.Background(), full)
	require.NoError(t, err)
	assert.Equal(t, key.ID, got.ID)
	assert.Equal(t, tenant.ID, got.TenantID)
}

func TestVerify_FlippedCharacterFails(t *testing.T) {
	f := newFixture(t)
	tenant := f.tenant(t, true)
	admin := f.user(t, tenant.ID, models.RoleAdmin, "password1")
	_, full := f.apiKey(t, admin, auth.CreateKeyInput{Name: "ci"})

	last := full[len(full)-1]
	replacement := "0"
	if last == '0' {
		replacement = "1"
	}
	tampered := full[:len(full)-1] + replacement

	got, err := f.keys.Verify(context.Background(), tampered)
	assert.Equal(t, auth.ReasonInvalidCredential, auth.ReasonOf(err))
	require.NotNil(t, got, "key id matched so the record is returned for attribution")
}

func TestVerify_UnknownKey(t *testing.T) {
	f := newFixture(t)
	gen, err := auth.GenerateKey()
	require.NoError(t, err)

	got, err := f.keys.Verify(context.Background(), gen.FullKey)
	assert.Nil(t, got)
	assert.Equal(t, auth.ReasonInvalidCredential, auth.ReasonOf(err))
}

func TestVerify_MalformedNeverReachesStorage(t *testing.T) {
	f := newFixture(t)
	got, err := f.keys.Verify(context.Background(), "ak_nothex")
	assert.Nil(t, got)
	assert.Equal(t, auth.ReasonMalformedCredential, auth.ReasonOf(err))
}

func TestVerify_Expired(t *testing.T) {
	f := newFixture(t)
	tenant := f.tenant(t, true)
	admin := f.user(t, tenant.ID, models.RoleAdmin, "password1")
	_, full := f.apiKey(t, admin, auth.CreateKeyInput{Name: "short", ExpiresIn: "30d"})

	f.keys.SetClock(func() time.Time { return time.Now().Add(31 * 24 * time.Hour) })
	_, err := f.keys.Verify(context.Background(), full)
	assert.Equal(t, auth.ReasonExpiredCredential, auth.ReasonOf(err))
}

func TestVerify_Revoked(t *testing.T) {
	f := newFixture(t)
	tenant := f.tenant(t, true)
	admin := f.user(t, tenant.ID, models.RoleAdmin, "password1")
	key, full := f.apiKey(t, admin, auth.CreateKeyInput{Name: "ci"})

	_, err := f.keys.Revoke(context.Background(), f.userPrincipal(t, admin), key.ID, testMeta)
	require.NoError(t, err)

	_, err = f.keys.Verify(context.Background(), full)
	assert.Equal(t, auth.ReasonInvalidCredential, auth.ReasonOf(err))
}
