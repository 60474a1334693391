// Package parcelowgw creates Parcelow orders through its OAuth protected API.
package parcelowgw

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/andreasstove999/lead-portal/reconciler-go/internal/clients"
)

const ordersPath = "/api/orders"

type Options struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Timeout      time.Duration
}

type OrderRequest struct {
	Reference   string
	AmountMinor int64
	Currency    string
	Name        string
	Email       string
	Document    string
	Installment int
}

type Order struct {
	ID          string
	CheckoutURL string
}

type Client struct {
	base        *clients.Client
	redirectURL string
}

// NewClient returns a client whose requests carry a client-credentials token.
// Tokens are cached and refreshed by the oauth2 transport.
func NewClient(opts Options) (*Client, error) {
	cc := clientcredentials.Config{
		ClientID:     opts.ClientID,
		ClientSecret: opts.ClientSecret,
		TokenURL:     opts.TokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}

	// The token exchange honours the timeout through the context client.
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: opts.Timeout})
	hc := cc.Client(ctx)
	hc.Timeout = opts.Timeout

	base, err := clients.NewClient("parcelow", opts.BaseURL, hc)
	if err != nil {
		return nil, err
	}
	return &Client{base: base, redirectURL: opts.RedirectURL}, nil
}

type orderBody struct {
	Reference   string        `json:"reference"`
	Amount      int64         `json:"amount_cents"`
	Currency    string        `json:"currency"`
	RedirectURL string        `json:"redirect_url,omitempty"`
	Installment int           `json:"installment"`
	Client      orderCustomer `json:"client"`
}

type orderCustomer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	CPF   string `json:"cpf"`
}

type orderResponse struct {
	ID          json.Number `json:"id"`
	CheckoutURL string      `json:"url_checkout"`
}

func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	body, err := json.Marshal(orderBody{
		Reference:   req.Reference,
		Amount:      req.AmountMinor,
		Currency:    req.Currency,
		RedirectURL: c.redirectURL,
		Installment: req.Installment,
		Client:      orderCustomer{Name: req.Name, Email: req.Email, CPF: req.Document},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal order: %w", err)
	}

	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")

	resp, err := c.base.Do(ctx, http.MethodPost, ordersPath, "", bytes.NewReader(body), h)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("parcelow create order: status %d: %s", resp.StatusCode, bytes.TrimSpace(b))
	}

	var out orderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode parcelow order: %w", err)
	}
	if out.ID == "" {
		return nil, fmt.Errorf("parcelow create order: response without order id")
	}
	return &Order{ID: out.ID.String(), CheckoutURL: out.CheckoutURL}, nil
}
