package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"maintenix.io/internal/pdp"
	"maintenix.io/internal/trust"
)

// Decider asks the PDP about (userID, permission) on behalf of the tenant at host.
type Decider interface {
	Decide(ctx context.Context, host, userID, permission string) (pdp.Decision, error)
}

// HTTPDecider calls POST /rbac/decide on the internal service.
type HTTPDecider struct {
	url    string
	secret string
	client *http.Client
}

func NewHTTPDecider(decideURL, secret string, timeout time.Duration) *HTTPDecider {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPDecider{
		url:    decideURL,
		secret: secret,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type decideRequest struct {
	UserID     string `json:"userId"`
	Permission string `json:"permission"`
}

func (d *HTTPDecider) Decide(ctx context.Context, host, userID, permission string) (pdp.Decision, error) {
	payload, err := json.Marshal(decideRequest{UserID: userID, Permission: permission})
	if err != nil {
		return pdp.Decision{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(payload))
	if err != nil {
		return pdp.Decision{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-Host", host)
	trust.Inject(req.Header, d.secret, "")

	resp, err := d.client.Do(req)
	if err != nil {
		return pdp.Decision{}, fmt.Errorf("pdp call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return pdp.Decision{}, fmt.Errorf("pdp call: unexpected status %d", resp.StatusCode)
	}
	var dec pdp.Decision
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&dec); err != nil {
		return pdp.Decision{}, fmt.Errorf("pdp decode: %w", err)
	}
	return dec, nil
}
