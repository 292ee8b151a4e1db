package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// RPCClient is the production Client over a signal-cli-rest-api
// deployment.
type RPCClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewRPCClient(baseURL string) *RPCClient {
	return &RPCClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *RPCClient) SendMessage(ctx context.Context, recipient, text string) error {
	body, err := json.Marshal(map[string]any{
		"message":    text,
		"number":     recipient,
		"recipients": []string{recipient},
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/send", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("signal sendMessage: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("signal sendMessage failed: %d", res.StatusCode)
	}
	return nil
}
