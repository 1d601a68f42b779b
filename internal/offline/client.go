package offline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"kasirku/backend/internal/domain"
	"kasirku/backend/internal/store"
)

// Client is the offline-capable terminal side of the sync protocol. Sales
// are captured into the durable queue immediately, whether or not the
// backend is reachable, and a background syncer drains the queue whenever
// connectivity returns.
type Client struct {
	queue     QueueStore
	serverURL string
	http      *http.Client
	batchSize int

	mu       sync.Mutex
	inFlight bool
	token    string
}

func NewClient(queue QueueStore, serverURL string) *Client {
	return &Client{
		queue:     queue,
		serverURL: serverURL,
		http:      &http.Client{Timeout: 10 * time.Second},
		batchSize: 50,
	}
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) Login(ctx context.Context, username string, password string) error {
	payload, err := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+"/api/v1/auth/login", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("login failed: status %d: %s", resp.StatusCode, string(body))
	}

	var login domain.LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&login); err != nil {
		return err
	}
	c.SetToken(login.AccessToken)
	return nil
}

type CaptureItem struct {
	ProductID int64
	Quantity  int
	Price     int64
}

type CaptureInput struct {
	CustomerName  string
	PaymentMethod string
	PaymentAmount int64
	Items         []CaptureItem
}

// Capture records a sale locally and returns immediately. The record gets
// its client-generated id here; the server never mints one for it. A best
// effort sync is kicked off in the background when the capture succeeds.
func (c *Client) Capture(ctx context.Context, input CaptureInput) (domain.ClientRecord, error) {
	if len(input.Items) == 0 {
		return domain.ClientRecord{}, fmt.Errorf("%w: no items", store.ErrInvalidTransaction)
	}

	total := int64(0)
	items := make([]domain.ClientItem, 0, len(input.Items))
	for _, item := range input.Items {
		if item.ProductID < 1 || item.Quantity < 1 || item.Price < 0 {
			return domain.ClientRecord{}, fmt.Errorf("%w: bad item for product %d", store.ErrInvalidTransaction, item.ProductID)
		}
		total += item.Price * int64(item.Quantity)
		items = append(items, domain.ClientItem{
			ProductID:    item.ProductID,
			Quantity:     item.Quantity,
			Price:        item.Price,
			ClientItemID: uuid.NewString(),
		})
	}

	record := domain.ClientRecord{
		ClientID:      uuid.NewString(),
		CustomerName:  input.CustomerName,
		TotalAmount:   total,
		PaymentMethod: input.PaymentMethod,
		PaymentAmount: input.PaymentAmount,
		Items:         items,
		CreatedAt:     time.Now().UTC(),
	}

	if err := c.queue.Enqueue(ctx, record); err != nil {
		return domain.ClientRecord{}, err
	}

	go func() {
		syncCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if _, err := c.SyncNow(syncCtx); err != nil && err != ErrSyncInFlight {
			log.Printf("[offline] background sync after capture failed: %v", err)
		}
	}()

	return record, nil
}

// Online probes the backend health endpoint.
func (c *Client) Online(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, c.serverURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

type SyncOutcome struct {
	Uploaded  int
	Skipped   int
	Failed    int
	Remaining int
}

// SyncNow drains one batch from the local queue. Only one sync runs at a
// time; a second caller gets ErrSyncInFlight instead of a duplicate upload.
// Records the server reports success or skipped for are deleted from the
// queue; failed records stay for the next attempt.
func (c *Client) SyncNow(ctx context.Context) (SyncOutcome, error) {
	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return SyncOutcome{}, ErrSyncInFlight
	}
	c.inFlight = true
	token := c.token
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inFlight = false
		c.mu.Unlock()
	}()

	records, err := c.queue.List(ctx, c.batchSize)
	if err != nil {
		return SyncOutcome{}, err
	}
	if len(records) == 0 {
		return SyncOutcome{}, nil
	}

	if !c.Online(ctx) {
		remaining, _ := c.queue.Count(ctx)
		return SyncOutcome{Remaining: remaining}, fmt.Errorf("server unreachable")
	}

	payload, err := json.Marshal(domain.SyncRequest{Transactions: records})
	if err != nil {
		return SyncOutcome{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+"/api/v1/sync/transactions", bytes.NewReader(payload))
	if err != nil {
		return SyncOutcome{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return SyncOutcome{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return SyncOutcome{}, fmt.Errorf("sync rejected: status %d: %s", resp.StatusCode, string(body))
	}

	var synced domain.SyncResponse
	if err := json.NewDecoder(resp.Body).Decode(&synced); err != nil {
		return SyncOutcome{}, err
	}

	outcome := SyncOutcome{}
	settled := make([]string, 0, len(synced.Results))
	for _, result := range synced.Results {
		switch result.Status {
		case domain.SyncOutcomeSuccess:
			outcome.Uploaded++
			settled = append(settled, result.ClientID)
		case domain.SyncOutcomeSkipped:
			outcome.Skipped++
			settled = append(settled, result.ClientID)
		default:
			outcome.Failed++
			log.Printf("[offline] record %s failed on server: %s", result.ClientID, result.Message)
		}
	}

	if err := c.queue.Delete(ctx, settled); err != nil {
		return outcome, err
	}

	outcome.Remaining, err = c.queue.Count(ctx)
	if err != nil {
		return outcome, err
	}
	return outcome, nil
}

// Run drives the background syncer until ctx is cancelled.
func (c *Client) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			outcome, err := c.SyncNow(ctx)
			if err != nil {
				if err != ErrSyncInFlight {
					log.Printf("[offline] periodic sync failed: %v", err)
				}
				continue
			}
			if outcome.Uploaded > 0 || outcome.Skipped > 0 || outcome.Failed > 0 {
				log.Printf("[offline] sync: uploaded=%d skipped=%d failed=%d remaining=%d",
					outcome.Uploaded, outcome.Skipped, outcome.Failed, outcome.Remaining)
			}
		}
	}
}
