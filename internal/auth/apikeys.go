package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hivemind/hivemind/internal/store"
	"github.com/hivemind/hivemind/pkg/models"
	"github.com/rs/zerolog/log"
)

// KeyPrefix marks HiveMind API keys. Everything after it is random.
const KeyPrefix = "hm_"

// ErrInvalidKey is returned for unknown or revoked API keys.
var ErrInvalidKey = errors.New("invalid api key")

// APIKeyService mints and authenticates hm_ keys. Only the SHA-256 hash is
// stored; the plaintext is shown once at mint time.
type APIKeyService struct {
	store store.APIKeyStore
}

func NewAPIKeyService(st store.APIKeyStore) *APIKeyService {
	return &APIKeyService{store: st}
}

// Mint creates a key for (tenant, agent) at the given tier and returns the
// plaintext alongside the stored record.
func (s *APIKeyService) Mint(ctx context.Context, tenantID, agentID string, tier models.Tier) (string, *models.APIKey, error) {
	if !tier.Valid() {
		tier = models.TierFree
	}
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, fmt.Errorf("key entropy: %w", err)
	}
	plaintext := KeyPrefix + hex.EncodeToString(raw)

	key := &models.APIKey{
		KeyPrefix:              plaintext[:len(KeyPrefix)+8],
		KeyHash:                HashKey(plaintext),
		TenantID:               tenantID,
		AgentID:                agentID,
		Tier:                   tier,
		BillingPeriodStart:     time.Now().UTC(),
		BillingPeriodResetDays: 30,
		IsActive:               true,
	}
	if err := s.store.CreateAPIKey(ctx, key); err != nil {
		return "", nil, fmt.Errorf("store api key: %w", err)
	}
	return plaintext, key, nil
}

// Authenticate resolves a plaintext key to an identity, rolling the billing
// period and counting the request.
func (s *APIKeyService) Authenticate(ctx context.Context, plaintext string) (*Identity, error) {
	if !strings.HasPrefix(plaintext, KeyPrefix) {
		return nil, ErrInvalidKey
	}
	key, err := s.store.GetAPIKeyByHash(ctx, HashKey(plaintext))
	if err != nil {
		var nf *store.ErrNotFound
		if errors.As(err, &nf) {
			return nil, ErrInvalidKey
		}
		return nil, fmt.Errorf("api key lookup: %w", err)
	}
	if !key.IsActive {
		return nil, ErrInvalidKey
	}

	now := time.Now().UTC()
	periodStart := key.BillingPeriodStart
	count := key.RequestCount + 1
	resetAfter := time.Duration(key.BillingPeriodResetDays) * 24 * time.Hour
	if key.BillingPeriodResetDays > 0 && now.Sub(periodStart) > resetAfter {
		periodStart = now
		count = 1
	}
	if err := s.store.UpdateAPIKeyUsage(ctx, key.ID, count, periodStart); err != nil {
		log.Warn().Err(err).Str("key_prefix", key.KeyPrefix).Msg("API key usage update failed")
	}

	return &Identity{TenantID: key.TenantID, AgentID: key.AgentID, Tier: key.Tier}, nil
}

// HashKey hashes a plaintext key for storage and lookup.
func HashKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}
