package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const defaultBaseURL = "https://graph.facebook.com/v21.0"

// APIClient is the production Client over the Meta graph messages API.
type APIClient struct {
	accessToken   string
	phoneNumberID string
	baseURL       string
	httpClient    *http.Client
}

func NewAPIClient(accessToken, phoneNumberID string) *APIClient {
	return &APIClient{
		accessToken:   accessToken,
		phoneNumberID: phoneNumberID,
		baseURL:       defaultBaseURL,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *APIClient) SendText(ctx context.Context, to, body string) error {
	payload, err := json.Marshal(map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text":              map[string]string{"body": body},
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp sendText: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("whatsapp sendText failed: %d", res.StatusCode)
	}
	return nil
}
