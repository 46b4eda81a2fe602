package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"corpchat/pkg/events"
)

// APIClient talks to the REST side of the server: session tokens and chat backlogs.
type APIClient struct {
	BaseURL string
	HTTP    *http.Client
}

type envelope[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status int
	Code   string
	Msg    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api %d %s: %s", e.Status, e.Code, e.Msg)
}

// Session picks an identity and returns its access token.
func (c *APIClient) Session(ctx context.Context, userID string) (string, error) {
	body, err := json.Marshal(map[string]string{"user_id": userID})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/session", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	var out envelope[struct {
		AccessToken string `json:"access_token"`
	}]
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	return out.Data.AccessToken, nil
}

// Backlog fetches the most recent limit messages of a chat, oldest first.
func (c *APIClient) Backlog(ctx context.Context, token string, ref ChatRef, limit int) ([]events.Message, error) {
	path := "/v1/chats/direct/" + url.PathEscape(ref.ID) + "/messages"
	if ref.IsGroup {
		path = "/v1/chats/groups/" + url.PathEscape(ref.ID) + "/messages"
	}
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	var out envelope[struct {
		Messages []events.Message `json:"messages"`
	}]
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out.Data.Messages, nil
}

func (c *APIClient) do(req *http.Request, out interface{}) error {
	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var failed envelope[json.RawMessage]
		_ = json.NewDecoder(resp.Body).Decode(&failed)
		return &APIError{Status: resp.StatusCode, Code: failed.Code, Msg: failed.Error}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
