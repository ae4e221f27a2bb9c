package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/magasin/saga-orchestrator/internal/saga"
)

const (
	headerAPIKey         = "X-API-Key"
	headerIdempotencyKey = "X-Idempotency-Key"
)

// HTTPConfig configures the HTTP gateway adapter. Timeout bounds every
// single attempt; RetryCount and RetryDelay bound the retry loop around
// attempts that fail with a retryable condition.
type HTTPConfig struct {
	InventoryURL string
	CatalogueURL string
	OrdersURL    string
	APIKey       string
	Timeout      time.Duration
	RetryCount   uint64
	RetryDelay   time.Duration
}

// HTTPGateway talks JSON over HTTP to the inventory, catalogue and order
// services (through the platform API gateway). Only ServiceUnavailable
// conditions (network errors, timeouts, 5xx) are retried; business
// rejections come back immediately.
type HTTPGateway struct {
	cfg    HTTPConfig
	client *http.Client
}

var _ Gateway = (*HTTPGateway)(nil)

func NewHTTPGateway(cfg HTTPConfig) *HTTPGateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryCount == 0 {
		cfg.RetryCount = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &HTTPGateway{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (g *HTTPGateway) CheckStock(ctx context.Context, storeID, productID string, quantity int) (StockStatus, error) {
	url := fmt.Sprintf("%s/stocks/%s/%s?quantite=%d",
		g.cfg.InventoryURL, storeID, productID, quantity)

	var resp struct {
		ProductID string `json:"produit_id"`
		Quantity  int    `json:"quantite"`
		Available bool   `json:"disponible"`
	}
	if err := g.call(ctx, "inventaire", http.MethodGet, url, nil, &resp); err != nil {
		return StockStatus{}, err
	}
	return StockStatus{ProductID: productID, Available: resp.Available, Quantity: resp.Quantity}, nil
}

func (g *HTTPGateway) ReserveStock(ctx context.Context, storeID, productID string, quantity int) (string, error) {
	url := g.cfg.InventoryURL + "/reservations"
	body := map[string]any{
		"produit_id": productID,
		"quantite":   quantity,
		"magasin_id": storeID,
	}

	var resp struct {
		ReservationID string `json:"reservation_id"`
	}
	if err := g.call(ctx, "inventaire", http.MethodPost, url, body, &resp); err != nil {
		return "", err
	}
	if resp.ReservationID == "" {
		return "", saga.NewServiceUnavailable("inventaire", "reservation response missing reservation_id", nil)
	}
	return resp.ReservationID, nil
}

func (g *HTTPGateway) ReleaseStock(ctx context.Context, reservationID string) error {
	url := g.cfg.InventoryURL + "/reservations/" + reservationID
	return g.call(ctx, "inventaire", http.MethodDelete, url, nil, nil)
}

func (g *HTTPGateway) CreateOrder(ctx context.Context, req OrderRequest) (string, error) {
	url := g.cfg.OrdersURL
	lines := make([]map[string]any, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, map[string]any{
			"produit_id":    l.ProductID,
			"quantite":      l.Quantity,
			"prix_unitaire": l.UnitPrice,
			"montant_ligne": l.Amount(),
		})
	}
	body := map[string]any{
		"saga_id":       req.SagaID,
		"client_id":     req.ClientID,
		"magasin_id":    req.StoreID,
		"montant_total": req.TotalAmount,
		"lignes":        lines,
	}

	var resp struct {
		OrderID string `json:"commande_id"`
	}
	if err := g.call(ctx, "commandes", http.MethodPost, url, body, &resp); err != nil {
		return "", err
	}
	if resp.OrderID == "" {
		return "", saga.NewServiceUnavailable("commandes", "order response missing commande_id", nil)
	}
	return resp.OrderID, nil
}

func (g *HTTPGateway) GetProduct(ctx context.Context, productID string) (ProductInfo, error) {
	url := g.cfg.CatalogueURL + "/produits/" + productID

	var resp struct {
		ID          string  `json:"id"`
		Name        string  `json:"nom"`
		Price       float64 `json:"prix"`
		Category    string  `json:"categorie"`
		Description string  `json:"description"`
	}
	if err := g.call(ctx, "catalogue", http.MethodGet, url, nil, &resp); err != nil {
		return ProductInfo{}, err
	}
	return ProductInfo{
		ID:          resp.ID,
		Name:        resp.Name,
		Price:       resp.Price,
		Category:    resp.Category,
		Description: resp.Description,
	}, nil
}

// call performs one logical gateway operation: marshal, send, classify and
// decode, retrying retryable failures on a constant delay. Permanent
// (business) failures abort the retry loop immediately.
func (g *HTTPGateway) call(ctx context.Context, service, method, url string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("gateway: encode %s request: %w", service, err)
		}
	}

	attempt := func() error {
		err := g.doOnce(ctx, service, method, url, payload, out)
		if err != nil && saga.KindOf(err) != saga.KindServiceUnavailable {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(g.cfg.RetryDelay), g.cfg.RetryCount),
		ctx)

	return backoff.RetryNotify(attempt, policy, func(err error, wait time.Duration) {
		slog.WarnContext(ctx, "gateway call failed, retrying",
			"service", service, "url", url, "wait", wait, "error", err)
	})
}

func (g *HTTPGateway) doOnce(ctx context.Context, service, method, url string, payload []byte, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("gateway: build %s request: %w", service, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.cfg.APIKey != "" {
		req.Header.Set(headerAPIKey, g.cfg.APIKey)
	}
	if key := IdempotencyKeyFromContext(ctx); key != "" {
		req.Header.Set(headerIdempotencyKey, key)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return saga.NewServiceUnavailable(service, method+" "+url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return saga.NewServiceUnavailable(service, "read response body", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil || len(raw) == 0 {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return saga.NewServiceUnavailable(service, "decode response body", err)
		}
		return nil
	case resp.StatusCode >= 500:
		return saga.NewServiceUnavailable(service,
			fmt.Sprintf("%s %s returned %d", method, url, resp.StatusCode), nil)
	default:
		// 4xx is the service refusing the request on business grounds.
		return saga.NewBusinessRejection(service, rejectionReason(raw, resp.StatusCode))
	}
}

func rejectionReason(raw []byte, status int) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return fmt.Sprintf("rejected with status %d", status)
}
