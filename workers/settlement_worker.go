package workers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"xp-ledger-system/models"

	"gorm.io/gorm"
)

// RedemptionRequested is the outbound event the settlement collaborator
// consumes to move token-equivalent value. The collaborator later calls back
// with an external reference; this service never blocks on that confirmation.
type RedemptionRequested struct {
	UserID        string `json:"user_id"`
	RedemptionID  string `json:"redemption_id"`
	CreditsIssued int64  `json:"credits_issued"`
}

// SettlementClient dispatches pending redemption events to the settlement service.
type SettlementClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	DB         *gorm.DB
}

func NewSettlementClient(db *gorm.DB) *SettlementClient {
	baseURL := os.Getenv("SETTLEMENT_SERVICE_URL")
	if baseURL == "" {
		log.Fatal("SETTLEMENT_SERVICE_URL environment variable is required")
	}
	token := os.Getenv("LEDGER_SERVICE_TOKEN")
	if token == "" {
		log.Fatal("LEDGER_SERVICE_TOKEN environment variable is required for settlement dispatch")
	}

	return &SettlementClient{
		BaseURL: baseURL,
		Token:   token,
		DB:      db,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *SettlementClient) dispatch(ctx context.Context, event RedemptionRequested) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST",
		fmt.Sprintf("%s/api/v1/settlement/redemptions", c.BaseURL), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call settlement service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("settlement service returned status %d: %s", resp.StatusCode, string(msg))
	}
	return nil
}

// PollRedemptions dispatches RedemptionRequested events for every redemption
// that has not been sent yet. Failures are retried on the next tick; the
// redemption itself committed long before, so the user's balance is safe
// either way.
func PollRedemptions(ctx context.Context, client *SettlementClient, pollInterval time.Duration) {
	log.Println("Starting settlement dispatch polling...")

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Settlement polling stopped.")
			return
		case <-ticker.C:
			var pending []models.Redemption
			if err := client.DB.
				Where("dispatched_at IS NULL").
				Order("created_at ASC").
				Limit(100).
				Find(&pending).Error; err != nil {
				log.Printf("❌ Error loading pending redemptions: %v", err)
				continue
			}

			if len(pending) == 0 {
				continue
			}
			log.Printf("📤 Dispatching %d redemption event(s) to settlement service.", len(pending))

			for _, r := range pending {
				event := RedemptionRequested{
					UserID:        r.UserID,
					RedemptionID:  r.ID,
					CreditsIssued: r.CreditsIssued,
				}
				if err := client.dispatch(ctx, event); err != nil {
					log.Printf("❌ Failed to dispatch redemption %s: %v", r.ID, err)
					continue
				}

				now := time.Now().UTC()
				if err := client.DB.Model(&models.Redemption{}).
					Where("id = ? AND dispatched_at IS NULL", r.ID).
					UpdateColumn("dispatched_at", now).Error; err != nil {
					log.Printf("❌ Failed to mark redemption %s dispatched: %v", r.ID, err)
				}
			}
		}
	}
}
