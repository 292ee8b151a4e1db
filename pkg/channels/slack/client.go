package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const defaultBaseURL = "https://slack.com/api"

// APIClient is the production Client over the Slack Web API.
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

func (c *APIClient) PostMessage(ctx context.Context, channel, text string) error {
	body, err := json.Marshal(map[string]string{"channel": channel, "text": text})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat.postMessage", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.botToken)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("slack chat.postMessage: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("slack chat.postMessage HTTP error: %d", res.StatusCode)
	}

	var reply struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(res.Body).Decode(&reply); err != nil {
		return fmt.Errorf("slack chat.postMessage response: %w", err)
	}
	if !reply.OK {
		if reply.Error == "" {
			reply.Error = "unknown"
		}
		return fmt.Errorf("slack chat.postMessage API error: %s", reply.Error)
	}
	return nil
}
