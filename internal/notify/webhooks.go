package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hivemind/hivemind/internal/store"
	"github.com/hivemind/hivemind/pkg/models"
	"github.com/rs/zerolog/log"
)

// EventKnowledgePublished is the webhook event type for approved items.
const EventKnowledgePublished = "knowledge.published"

const (
	webhookTimeout  = 10 * time.Second
	webhookAttempts = 3
	webhookBackoff  = 5 * time.Second
)

// WebhookPayload is the body POSTed to registered endpoints. Content is never
// included; receivers fetch through the API with their own credentials.
type WebhookPayload struct {
	Event           string    `json:"event"`
	KnowledgeItemID string    `json:"knowledge_item_id"`
	TenantID        string    `json:"tenant_id"`
	Category        string    `json:"category"`
	Timestamp       time.Time `json:"timestamp"`
}

// Dispatcher delivers events to a tenant's registered webhook endpoints.
type Dispatcher struct {
	store  store.WebhookStore
	client *http.Client
	// sleep is swappable in tests
	sleep func(time.Duration)
}

func NewDispatcher(st store.WebhookStore) *Dispatcher {
	return &Dispatcher{
		store:  st,
		client: &http.Client{Timeout: webhookTimeout},
		sleep:  time.Sleep,
	}
}

// Notify fans the event out to every active, subscribed endpoint of the
// item's tenant. Runs in its own goroutine per endpoint; delivery is best
// effort and never blocks the pipeline.
func (d *Dispatcher) Notify(ctx context.Context, eventType string, item *models.KnowledgeItem) {
	endpoints, err := d.store.ListActiveWebhooks(ctx, item.TenantID)
	if err != nil {
		log.Warn().Err(err).Str("tenant_id", item.TenantID).Msg("Webhook listing failed")
		return
	}

	payload := WebhookPayload{
		Event:           eventType,
		KnowledgeItemID: item.ID.String(),
		TenantID:        item.TenantID,
		Category:        string(item.Category),
		Timestamp:       time.Now().UTC(),
	}
	for i := range endpoints {
		endpoint := endpoints[i]
		if !endpoint.Subscribes(eventType) {
			continue
		}
		go d.deliver(endpoint, payload)
	}
}

func (d *Dispatcher) deliver(endpoint models.WebhookEndpoint, payload WebhookPayload) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Webhook payload marshal failed")
		return
	}

	for attempt := 1; attempt <= webhookAttempts; attempt++ {
		if err := d.post(endpoint, body); err == nil {
			log.Debug().Str("url", endpoint.URL).Int("attempt", attempt).Msg("Webhook delivered")
			return
		} else {
			log.Warn().Err(err).Str("url", endpoint.URL).Int("attempt", attempt).Msg("Webhook delivery failed")
		}
		if attempt < webhookAttempts {
			d.sleep(webhookBackoff)
		}
	}
	log.Error().Str("url", endpoint.URL).Msg("Webhook delivery abandoned")
}

func (d *Dispatcher) post(endpoint models.WebhookEndpoint, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if endpoint.Secret != "" {
		req.Header.Set("X-HiveMind-Signature", Sign(endpoint.Secret, body))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}

// Sign computes the signature header value for a webhook body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
