package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"steerbench/internal/steerable"
)

const defaultTimeout = 60 * time.Second

// client is a minimal REST client for a honcho-style session memory service.
// Safe for concurrent use.
type client struct {
	baseURL    string
	httpClient *http.Client
}

func newClient(baseURL string, timeout time.Duration) *client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type idResponse struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

func (c *client) getOrCreateApp(ctx context.Context, name string) (string, error) {
	var resp idResponse
	err := c.post(ctx, "/apps/get_or_create", map[string]any{"name": name}, &resp)
	return resp.ID, err
}

func (c *client) getOrCreateUser(ctx context.Context, appID, name string) (string, error) {
	var resp idResponse
	path := fmt.Sprintf("/apps/%s/users/get_or_create", url.PathEscape(appID))
	err := c.post(ctx, path, map[string]any{"name": name}, &resp)
	return resp.ID, err
}

func (c *client) createSession(ctx context.Context, appID, userID string) (string, error) {
	var resp idResponse
	path := fmt.Sprintf("/apps/%s/users/%s/sessions", url.PathEscape(appID), url.PathEscape(userID))
	err := c.post(ctx, path, map[string]any{}, &resp)
	return resp.ID, err
}

func (c *client) createMessage(ctx context.Context, appID, userID, sessionID, content string, isUser bool) error {
	path := fmt.Sprintf("/apps/%s/users/%s/sessions/%s/messages",
		url.PathEscape(appID), url.PathEscape(userID), url.PathEscape(sessionID))
	return c.post(ctx, path, map[string]any{"content": content, "is_user": isUser}, nil)
}

type chatResponse struct {
	Content string `json:"content"`
}

func (c *client) chat(ctx context.Context, appID, userID, sessionID string, queries []string) (string, error) {
	var resp chatResponse
	path := fmt.Sprintf("/apps/%s/users/%s/sessions/%s/chat",
		url.PathEscape(appID), url.PathEscape(userID), url.PathEscape(sessionID))
	err := c.post(ctx, path, map[string]any{"queries": queries}, &resp)
	return resp.Content, err
}

type metamessageList struct {
	Items []struct {
		Content string `json:"content"`
	} `json:"items"`
}

// userRepresentation returns the latest derived user representation for the
// session, or "" while the service is still digesting the messages.
func (c *client) userRepresentation(ctx context.Context, appID, userID, sessionID string) (string, error) {
	path := fmt.Sprintf("/apps/%s/users/%s/sessions/%s/metamessages?metamessage_type=user_representation",
		url.PathEscape(appID), url.PathEscape(userID), url.PathEscape(sessionID))
	var resp metamessageList
	if err := c.get(ctx, path, &resp); err != nil {
		return "", err
	}
	if len(resp.Items) == 0 {
		return "", nil
	}
	return resp.Items[len(resp.Items)-1].Content, nil
}

func (c *client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, out)
}

// do executes the request and maps failures onto the retry contract: network
// faults, 429, and 5xx are transient; other non-2xx statuses are fatal.
func (c *client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return ctxErr
		}
		return steerable.Transient("session", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		err := fmt.Errorf("session service returned status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return steerable.Transient("session", err)
		}
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
