// Package stripegw creates Checkout Sessions and reads PaymentIntents.
package stripegw

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

type SessionRequest struct {
	PaymentID   string
	Reference   string
	Email       string
	AmountMinor int64
	Currency    string
	Method      string
	Installment int
}

type Session struct {
	ID  string
	URL string
}

type Options struct {
	APIKey     string
	SuccessURL string
	CancelURL  string
	// BackendURL overrides the API host, for tests.
	BackendURL string
}

type Client struct {
	api        *client.API
	successURL string
	cancelURL  string
}

func NewClient(opts Options, logger logrus.FieldLogger) *Client {
	cfg := &stripe.BackendConfig{LeveledLogger: logger, MaxNetworkRetries: stripe.Int64(2)}
	if opts.BackendURL != "" {
		cfg.URL = stripe.String(opts.BackendURL)
	}
	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, cfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, cfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, cfg),
	}
	return &Client{
		api:        client.New(opts.APIKey, backends),
		successURL: opts.SuccessURL,
		cancelURL:  opts.CancelURL,
	}
}

// CreateCheckoutSession opens a one-item payment session. The local reference
// travels as client_reference_id and the payment id as metadata.
func (c *Client) CreateCheckoutSession(ctx context.Context, req SessionRequest) (*Session, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(c.successURL),
		CancelURL:         stripe.String(c.cancelURL),
		ClientReferenceID: stripe.String(req.Reference),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(req.Currency)),
				UnitAmount: stripe.Int64(req.AmountMinor),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(fmt.Sprintf("Installment %d", req.Installment)),
				},
			},
			Quantity: stripe.Int64(1),
		}},
	}
	if req.Method != "" {
		params.PaymentMethodTypes = stripe.StringSlice([]string{req.Method})
	}
	if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	params.Context = ctx
	params.AddMetadata("payment_id", req.PaymentID)
	params.AddMetadata("installment", fmt.Sprint(req.Installment))
	params.SetIdempotencyKey("checkout:" + req.PaymentID)

	s, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return &Session{ID: s.ID, URL: s.URL}, nil
}

// PaymentMethodType returns the type of the method that paid the intent.
func (c *Client) PaymentMethodType(ctx context.Context, paymentIntentID string) (string, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	params.AddExpand("payment_method")

	pi, err := c.api.PaymentIntents.Get(paymentIntentID, params)
	if err != nil {
		return "", fmt.Errorf("get payment intent: %w", err)
	}
	if pi.PaymentMethod != nil && pi.PaymentMethod.Type != "" {
		return string(pi.PaymentMethod.Type), nil
	}
	if len(pi.PaymentMethodTypes) == 1 {
		return pi.PaymentMethodTypes[0], nil
	}
	return "", nil
}
