package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"flowtabs/internal/model"
)

// Client talks to a running companion's HTTP API.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient accepts either a full URL or a listen address like
// "127.0.0.1:5000".
func NewClient(addr string) *Client {
	base := strings.TrimRight(strings.TrimSpace(addr), "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{BaseURL: base, HTTP: &http.Client{Timeout: 10 * time.Second}}
}

// StatusError is a non-2xx response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: %s", http.StatusText(e.Code))
	}
	return fmt.Sprintf("api: %s: %s", http.StatusText(e.Code), e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errorBody
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &eb) != nil || eb.Error == "" {
			eb.Error = strings.TrimSpace(string(raw))
		}
		return &StatusError{Code: resp.StatusCode, Message: eb.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) Views(ctx context.Context) (model.Views, error) {
	var v model.Views
	err := c.do(ctx, http.MethodGet, "/views", nil, &v)
	return v, err
}

func (c *Client) SetFavorite(ctx context.Context, key model.Key, favorite bool) error {
	return c.do(ctx, http.MethodPost, "/favorites", FavoriteRequest{Kind: key.Kind, ID: key.ID, Favorite: favorite}, nil)
}

func (c *Client) Activate(ctx context.Context, key model.Key) error {
	return c.do(ctx, http.MethodPost, "/activate", ActivateRequest{Kind: key.Kind, ID: key.ID}, nil)
}

func (c *Client) Search(ctx context.Context, query string) error {
	return c.do(ctx, http.MethodPost, "/search", SearchRequest{Query: query}, nil)
}
