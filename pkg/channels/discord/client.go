package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const defaultBaseURL = "https://discord.com/api/v10"

// APIClient is the production Client over the Discord REST API.
type APIClient struct {
	botToken   string
	baseURL    string
	httpClient *http.Client
}

func NewAPIClient(botToken string) *APIClient {
	return &APIClient{
		botToken:   botToken,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *APIClient) CreateMessage(ctx context.Context, channelID, content string) error {
	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/channels/%s/messages", c.baseURL, channelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bot "+c.botToken)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("discord create message: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("discord create message failed: %d", res.StatusCode)
	}
	return nil
}
