package ctl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/session-foundation/seshd/internal/api"
)

// maxResponseBytes bounds how much of a daemon response the client will
// buffer.
const maxResponseBytes = 8 << 20

// Client talks to a running account daemon over its Unix domain socket.
type Client struct {
	http *http.Client
}

// New creates a client for the daemon listening on socketPath.
func New(socketPath string) *Client {
	return &Client{
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(raw)
	}

	// The host is ignored; the transport always dials the socket.
	req, err := http.NewRequestWithContext(ctx, method, "http://seshd"+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("is the daemon running? %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("daemon error: %s", apiErr.Error)
		}
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// Status fetches the daemon status.
func (c *Client) Status(ctx context.Context) (*api.StatusResponse, error) {
	var out api.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/v1/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Contacts lists the account's contacts.
func (c *Client) Contacts(ctx context.Context) ([]api.ContactView, error) {
	var out []api.ContactView
	if err := c.do(ctx, http.MethodGet, "/v1/contacts", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetNickname sets or clears a contact's local nickname.
func (c *Client) SetNickname(ctx context.Context, contactID, nickname string) error {
	return c.do(ctx, http.MethodPost, "/v1/contacts/nickname", map[string]string{
		"contact_id": contactID,
		"nickname":   nickname,
	}, nil)
}

// Approve marks a contact approved.
func (c *Client) Approve(ctx context.Context, contactID string) error {
	return c.do(ctx, http.MethodPost, "/v1/contacts/approve", map[string]string{
		"contact_id": contactID,
	}, nil)
}

// SetBlocked sets a contact's blocked flag.
func (c *Client) SetBlocked(ctx context.Context, contactID string, blocked bool) error {
	return c.do(ctx, http.MethodPost, "/v1/contacts/block", map[string]any{
		"contact_id": contactID,
		"blocked":    blocked,
	}, nil)
}

// Hide hides the conversations for the given contacts.
func (c *Client) Hide(ctx context.Context, contactIDs []string) error {
	return c.do(ctx, http.MethodPost, "/v1/contacts/hide", map[string]any{
		"contact_ids": contactIDs,
	}, nil)
}

// Remove deletes the given contacts and their conversations.
func (c *Client) Remove(ctx context.Context, contactIDs []string) error {
	return c.do(ctx, http.MethodPost, "/v1/contacts/remove", map[string]any{
		"contact_ids": contactIDs,
	}, nil)
}

// SyncStatus fetches sync state and push queue depth.
func (c *Client) SyncStatus(ctx context.Context) (*api.SyncStatusResponse, error) {
	var out api.SyncStatusResponse
	if err := c.do(ctx, http.MethodGet, "/v1/sync/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ForcePush drains the push queue immediately.
func (c *Client) ForcePush(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/sync/push", nil, nil)
}
