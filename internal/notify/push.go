// Package notify delivers per-student attendance notifications through a
// push gateway. Delivery is best effort: failures are logged and never affect
// attendance data.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// PushClient is an HTTP client for the push gateway.
type PushClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewPushClient creates a new push gateway client.
func NewPushClient(baseURL, apiKey string) *PushClient {
	return &PushClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{},
	}
}

// pushMessage is the gateway send payload.
type pushMessage struct {
	To    string            `json:"to"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Send delivers one notification to a destination token.
func (c *PushClient) Send(ctx context.Context, token, title, body string, data map[string]string) error {
	msg := pushMessage{To: token, Title: title, Body: body, Data: data}

	jsonBody, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("could not marshal push message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/send", bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("push gateway returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
