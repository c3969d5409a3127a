package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/hivemind/hivemind/internal/store"
	"github.com/hivemind/hivemind/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	codec := NewTokenCodec("test-secret", time.Hour)

	token, err := codec.Issue(Identity{TenantID: "acme", AgentID: "agent-1", Tier: models.TierPro})
	require.NoError(t, err)

	id, err := codec.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "acme", id.TenantID)
	assert.Equal(t, "agent-1", id.AgentID)
	assert.Equal(t, models.TierPro, id.Tier)
}

func TestTokenTamperingRejected(t *testing.T) {
	codec := NewTokenCodec("test-secret", time.Hour)
	token, err := codec.Issue(Identity{TenantID: "acme", AgentID: "agent-1"})
	require.NoError(t, err)

	_, err = codec.Verify(token + "x")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = codec.Verify("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenWrongSecretRejected(t *testing.T) {
	token, err := NewTokenCodec("secret-a", time.Hour).
		Issue(Identity{TenantID: "acme", AgentID: "agent-1"})
	require.NoError(t, err)

	_, err = NewTokenCodec("secret-b", time.Hour).Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenDefaultsUnknownTierToFree(t *testing.T) {
	codec := NewTokenCodec("test-secret", 0)
	token, err := codec.Issue(Identity{TenantID: "acme", AgentID: "agent-1", Tier: models.Tier("vip")})
	require.NoError(t, err)

	id, err := codec.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, models.TierFree, id.Tier)
}

func TestAPIKeyMintAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	svc := NewAPIKeyService(store.NewMemoryStore())

	plaintext, key, err := svc.Mint(ctx, "acme", "agent-1", models.TierEnterprise)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(plaintext, KeyPrefix))
	assert.Equal(t, plaintext[:11], key.KeyPrefix)
	assert.NotContains(t, key.KeyHash, plaintext, "only the hash is stored")

	id, err := svc.Authenticate(ctx, plaintext)
	require.NoError(t, err)
	assert.Equal(t, "acme", id.TenantID)
	assert.Equal(t, models.TierEnterprise, id.Tier)
}

func TestAPIKeyAuthenticateCountsRequests(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	svc := NewAPIKeyService(st)

	plaintext, key, err := svc.Mint(ctx, "acme", "agent-1", models.TierFree)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := svc.Authenticate(ctx, plaintext)
		require.NoError(t, err)
	}

	keys, err := st.ListAPIKeys(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, key.ID, keys[0].ID)
	assert.Equal(t, 3, keys[0].RequestCount)
}

func TestAPIKeyRevokedRejected(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	svc := NewAPIKeyService(st)

	plaintext, key, err := svc.Mint(ctx, "acme", "agent-1", models.TierFree)
	require.NoError(t, err)
	require.NoError(t, st.RevokeAPIKey(ctx, key.ID, "acme"))

	_, err = svc.Authenticate(ctx, plaintext)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestAPIKeyUnknownRejected(t *testing.T) {
	svc := NewAPIKeyService(store.NewMemoryStore())
	_, err := svc.Authenticate(context.Background(), "hm_deadbeefdeadbeefdeadbeef")
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = svc.Authenticate(context.Background(), "sk_wrong_prefix")
	assert.ErrorIs(t, err, ErrInvalidKey)
}
