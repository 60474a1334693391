package token

import (
	"context"
	"sort"
	"time"
)

// memRepo enforces the same uniqueness rules as the approval_tokens table.
type memRepo struct {
	tokens      map[string]*ApprovalToken
	superseded  map[string]bool
	inserts     int
	existsCalls int
	onInsert    func(t *ApprovalToken) error
}

func newMemRepo() *memRepo {
	return &memRepo{tokens: map[string]*ApprovalToken{}, superseded: map[string]bool{}}
}

func (m *memRepo) live(key string, now time.Time) []*ApprovalToken {
	var out []*ApprovalToken
	for _, t := range m.tokens {
		if t.ContextKey == key && t.UsedAt == nil && !m.superseded[t.Token] && t.ExpiresAt.After(now) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *memRepo) FindLive(_ context.Context, key string, now time.Time) (*ApprovalToken, error) {
	if l := m.live(key, now); len(l) > 0 {
		return l[0], nil
	}
	return nil, ErrNotFound
}

func (m *memRepo) Latest(_ context.Context, key string) (*ApprovalToken, error) {
	var latest *ApprovalToken
	for _, t := range m.tokens {
		if t.ContextKey == key && (latest == nil || t.CreatedAt.After(latest.CreatedAt)) {
			latest = t
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest, nil
}

func (m *memRepo) Exists(_ context.Context, token string) (bool, error) {
	m.existsCalls++
	_, ok := m.tokens[token]
	return ok, nil
}

func (m *memRepo) SupersedeExpired(_ context.Context, key string, now time.Time) error {
	for _, t := range m.tokens {
		if t.ContextKey == key && t.UsedAt == nil && !t.ExpiresAt.After(now) {
			m.superseded[t.Token] = true
		}
	}
	return nil
}

func (m *memRepo) Insert(_ context.Context, t *ApprovalToken) error {
	if m.onInsert != nil {
		if err := m.onInsert(t); err != nil {
			return err
		}
	}
	if _, ok := m.tokens[t.Token]; ok {
		return ErrTokenCollision
	}
	for _, existing := range m.tokens {
		if existing.ContextKey == t.ContextKey && existing.UsedAt == nil && !m.superseded[existing.Token] {
			return ErrContextTaken
		}
	}
	m.inserts++
	t.CreatedAt = time.Now()
	m.tokens[t.Token] = t
	return nil
}

func sequence(values ...string) func() (string, error) {
	i := 0
	return func() (string, error) {
		v := values[i%len(values)]
		i++
		return v, nil
	}
}
