// Package auth issues and verifies agent credentials: HMAC-signed bearer
// tokens for session auth and hm_ API keys for long-lived programmatic
// access.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/hivemind/hivemind/pkg/models"
)

// ErrInvalidToken is returned for malformed, tampered, or expired tokens.
var ErrInvalidToken = errors.New("invalid token")

// Identity is the authenticated caller: an agent acting within a tenant.
type Identity struct {
	TenantID string      `json:"tenant_id"`
	AgentID  string      `json:"agent_id"`
	Tier     models.Tier `json:"tier"`
}

type tokenClaims struct {
	TenantID  string      `json:"tenant_id"`
	AgentID   string      `json:"agent_id"`
	Tier      models.Tier `json:"tier,omitempty"`
	IssuedAt  int64       `json:"iat"`
	ExpiresAt int64       `json:"exp"`
}

// TokenCodec signs and verifies bearer tokens with HMAC-SHA256.
type TokenCodec struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenCodec builds a codec from the deployment secret. ttl <= 0 means
// tokens never expire.
func NewTokenCodec(secret string, ttl time.Duration) *TokenCodec {
	return &TokenCodec{secret: []byte(secret), ttl: ttl}
}

// Issue mints a token for the identity.
func (c *TokenCodec) Issue(id Identity) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		TenantID: id.TenantID,
		AgentID:  id.AgentID,
		Tier:     id.Tier,
		IssuedAt: now.Unix(),
	}
	if c.ttl > 0 {
		claims.ExpiresAt = now.Add(c.ttl).Unix()
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + c.sign(encoded), nil
}

// Verify checks the signature and expiry and returns the embedded identity.
func (c *TokenCodec) Verify(token string) (*Identity, error) {
	encoded, sig, ok := strings.Cut(token, ".")
	if !ok {
		return nil, ErrInvalidToken
	}
	if subtle.ConstantTimeCompare([]byte(sig), []byte(c.sign(encoded))) != 1 {
		return nil, ErrInvalidToken
	}
	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrInvalidToken
	}
	var claims tokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, ErrInvalidToken
	}
	if claims.TenantID == "" || claims.AgentID == "" {
		return nil, ErrInvalidToken
	}
	if claims.ExpiresAt > 0 && time.Now().Unix() > claims.ExpiresAt {
		return nil, ErrInvalidToken
	}
	tier := claims.Tier
	if !tier.Valid() {
		tier = models.TierFree
	}
	return &Identity{TenantID: claims.TenantID, AgentID: claims.AgentID, Tier: tier}, nil
}

func (c *TokenCodec) sign(encoded string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(encoded))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
