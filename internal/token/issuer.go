package token

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultTTL      = 30 * 24 * time.Hour
	DefaultLinkPath = "/forms/consultation"
	maxAttempts     = 10
)

// ErrTokenSpaceExhausted is returned when every generation attempt collided.
var ErrTokenSpaceExhausted = errors.New("token space exhausted")

type Options struct {
	TTL      time.Duration
	LinkPath string
}

type Issuer struct {
	repo     Repository
	ttl      time.Duration
	linkPath string
	logger   logrus.FieldLogger
	now      func() time.Time
	generate func() (string, error)
}

func NewIssuer(repo Repository, opts Options, logger logrus.FieldLogger) *Issuer {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.LinkPath == "" {
		opts.LinkPath = DefaultLinkPath
	}
	return &Issuer{
		repo:     repo,
		ttl:      opts.TTL,
		linkPath: opts.LinkPath,
		logger:   logger,
		now:      time.Now,
		generate: Generate,
	}
}

// Issue returns the live token of the context, creating one if none exists.
// Repeated calls with the same context return the same token.
func (i *Issuer) Issue(ctx context.Context, c Context) (*ApprovalToken, error) {
	key, err := c.Key()
	if err != nil {
		return nil, err
	}
	now := i.now().UTC()

	live, err := i.repo.FindLive(ctx, key, now)
	if err == nil {
		return live, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if err := i.repo.SupersedeExpired(ctx, key, now); err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		candidate, err := i.generate()
		if err != nil {
			return nil, err
		}

		taken, err := i.repo.Exists(ctx, candidate)
		if err != nil {
			return nil, err
		}
		if taken {
			continue
		}

		t := &ApprovalToken{
			Token:            candidate,
			ContextKey:       key,
			LeadID:           c.LeadID,
			TermAcceptanceID: c.TermAcceptanceID,
			PaymentID:        c.PaymentID,
			PaymentProofID:   c.PaymentProofID,
			ExpiresAt:        now.Add(i.ttl),
		}
		err = i.repo.Insert(ctx, t)
		switch {
		case err == nil:
			return t, nil
		case errors.Is(err, ErrTokenCollision):
			continue
		case errors.Is(err, ErrContextTaken):
			winner, err := i.repo.FindLive(ctx, key, now)
			if err != nil {
				return nil, fmt.Errorf("read concurrent token: %w", err)
			}
			return winner, nil
		default:
			return nil, err
		}
	}

	i.logger.WithField("context", key).Error("token generation exhausted all attempts")
	return nil, fmt.Errorf("issue token for %s after %d attempts: %w", key, maxAttempts, ErrTokenSpaceExhausted)
}

// Link returns the relative path a client follows to use the token.
func (i *Issuer) Link(token string) string {
	return i.linkPath + "?token=" + url.QueryEscape(token)
}

// Existing returns the most recently issued token of the context, whatever its
// state. Used to answer retried approvals with the token they already got.
func (i *Issuer) Existing(ctx context.Context, c Context) (*ApprovalToken, error) {
	key, err := c.Key()
	if err != nil {
		return nil, err
	}
	return i.repo.Latest(ctx, key)
}
