package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/openclaw/bridge/pkg/message"
)

const defaultTokenTTL = 2 * time.Minute

// HTTPConfig configures the production gateway client. Signing secret
// and issuer must match the receiving runtime's verification config.
type HTTPConfig struct {
	IngestURL     string
	SigningSecret string
	Issuer        string
	TokenTTL      time.Duration
}

// HTTPGateway posts canonical messages to the runtime's ingest
// endpoint. Each request carries a short-lived HS256 bearer token; the
// token is minted per request so a stolen one is worth minutes, not
// sessions.
type HTTPGateway struct {
	config     HTTPConfig
	httpClient *http.Client
	now        func() time.Time
}

func NewHTTPGateway(config HTTPConfig) *HTTPGateway {
	if config.TokenTTL <= 0 {
		config.TokenTTL = defaultTokenTTL
	}
	return &HTTPGateway{
		config:     config,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		now:        time.Now,
	}
}

func (g *HTTPGateway) Ingest(ctx context.Context, msg message.Canonical) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("gateway encode message: %w", err)
	}

	token, err := g.mintToken(msg.MessageID)
	if err != nil {
		return fmt.Errorf("gateway mint token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.config.IngestURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("gateway build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	res, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway ingest: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("gateway ingest failed: status %d: %s", res.StatusCode, bytes.TrimSpace(detail))
	}
	return nil
}

func (g *HTTPGateway) mintToken(messageID string) (string, error) {
	now := g.now().UTC()
	claims := jwt.RegisteredClaims{
		ID:        messageID,
		Subject:   "bridge",
		Issuer:    g.config.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(g.config.TokenTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(g.config.SigningSecret))
}
