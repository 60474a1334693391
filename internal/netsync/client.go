package netsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/andreasstove999/lead-portal/reconciler-go/internal/clients"
)

var ErrUserNotFound = errors.New("partner network user not found")

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type SyncMetadata struct {
	UserIDSource string `json:"user_id_source"`
	CachedUserID string `json:"cached_user_id,omitempty"`
	Installment  int    `json:"installment"`
	Source       string `json:"source"`
}

// SyncRequest is the body of POST /sync/payments.
type SyncRequest struct {
	UserID      string       `json:"user_id"`
	PaymentID   string       `json:"payment_id"`
	LeadID      string       `json:"lead_id"`
	AmountMinor int64        `json:"amount_minor"`
	Currency    string       `json:"currency"`
	Method      string       `json:"method"`
	Status      string       `json:"status"`
	Metadata    SyncMetadata `json:"metadata"`
}

// Client talks to the partner network's identity admin API and its payment
// sync endpoint. Every call carries the service key as a bearer token.
type Client struct {
	c          *clients.Client
	serviceKey string
}

func NewClient(base *clients.Client, serviceKey string) *Client {
	return &Client{c: base, serviceKey: serviceKey}
}

func (n *Client) headers() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+n.serviceKey)
	h.Set("Accept", "application/json")
	return h
}

func (n *Client) GetUser(ctx context.Context, id string) (*User, error) {
	resp, err := n.c.Do(ctx, http.MethodGet, "/admin/users/"+url.PathEscape(id), "", nil, n.headers())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrUserNotFound
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var u User
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	if u.ID == "" {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (n *Client) ListUsers(ctx context.Context, page, perPage int) ([]User, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))

	resp, err := n.c.Do(ctx, http.MethodGet, "/admin/users", q.Encode(), nil, n.headers())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var body struct {
		Users []User `json:"users"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode users page %d: %w", page, err)
	}
	return body.Users, nil
}

// SyncPayment upserts a confirmed payment. The receiver deduplicates on idempotencyKey.
func (n *Client) SyncPayment(ctx context.Context, req SyncRequest, idempotencyKey string) error {
	b, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal sync request: %w", err)
	}

	h := n.headers()
	h.Set("Content-Type", "application/json")
	h.Set("Idempotency-Key", idempotencyKey)

	resp, err := n.c.Do(ctx, http.MethodPost, "/sync/payments", "", bytes.NewReader(b), h)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("partner network responded %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
}
