package netsync

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	usersPerPage = 200
	maxUserPages = 50
)

// Provenance records how a partner network user id was obtained.
type Provenance string

const (
	ProvenanceCached          Provenance = "cached"
	ProvenanceResolvedByEmail Provenance = "resolved_by_email"
)

var ErrUnresolved = errors.New("partner network user could not be resolved")

type UserDirectory interface {
	GetUser(ctx context.Context, id string) (*User, error)
	ListUsers(ctx context.Context, page, perPage int) ([]User, error)
}

// Resolver finds the partner network user for a lead. Matching by email is a
// reconciliation heuristic; it must not be used for authorization.
type Resolver struct {
	dir    UserDirectory
	logger logrus.FieldLogger
}

func NewResolver(dir UserDirectory, logger logrus.FieldLogger) *Resolver {
	return &Resolver{dir: dir, logger: logger}
}

// Resolve verifies cachedID with a point lookup and falls back to an exact,
// case-insensitive email search over the user listing.
func (r *Resolver) Resolve(ctx context.Context, cachedID, email string) (string, Provenance, error) {
	if cachedID != "" {
		u, err := r.dir.GetUser(ctx, cachedID)
		switch {
		case err == nil:
			return u.ID, ProvenanceCached, nil
		case errors.Is(err, ErrUserNotFound):
			r.logger.WithField("cached_user_id", cachedID).Warn("cached partner user id no longer exists")
		default:
			r.logger.WithError(err).WithField("cached_user_id", cachedID).Warn("partner user lookup failed, falling back to email")
		}
	}

	want := strings.ToLower(strings.TrimSpace(email))
	if want == "" {
		return "", "", ErrUnresolved
	}

	for page := 1; page <= maxUserPages; page++ {
		users, err := r.dir.ListUsers(ctx, page, usersPerPage)
		if err != nil {
			return "", "", fmt.Errorf("list partner users: %w", err)
		}
		for _, u := range users {
			if strings.ToLower(strings.TrimSpace(u.Email)) == want {
				return u.ID, ProvenanceResolvedByEmail, nil
			}
		}
		if len(users) < usersPerPage {
			break
		}
	}
	return "", "", ErrUnresolved
}
