package token

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andreasstove999/lead-portal/reconciler-go/internal/logging"
)

var fixedNow = time.Date(2025, 5, 10, 9, 0, 0, 0, time.UTC)

func newTestIssuer(repo Repository) *Issuer {
	iss := NewIssuer(repo, Options{}, logging.Discard())
	iss.now = func() time.Time { return fixedNow }
	return iss
}

func TestGenerate_Format(t *testing.T) {
	re := regexp.MustCompile(`^tk_[A-Za-z0-9]{32}$`)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		tok, err := Generate()
		require.NoError(t, err)
		assert.Regexp(t, re, tok)
		assert.False(t, seen[tok], "duplicate token %s", tok)
		seen[tok] = true
	}
}

func TestIssue_SameContextReturnsSameToken(t *testing.T) {
	repo := newMemRepo()
	iss := newTestIssuer(repo)
	ctx := context.Background()
	c := Context{LeadID: "lead-1", TermAcceptanceID: "ta-1", PaymentID: "pay-1"}

	first, err := iss.Issue(ctx, c)
	require.NoError(t, err)
	second, err := iss.Issue(ctx, c)
	require.NoError(t, err)

	assert.Equal(t, first.Token, second.Token)
	assert.Equal(t, 1, repo.inserts)
	assert.Len(t, repo.live("lead:lead-1|ta:ta-1", fixedNow), 1)
	assert.Equal(t, fixedNow.Add(30*24*time.Hour), first.ExpiresAt)
}

func TestIssue_DifferentContextsGetDifferentTokens(t *testing.T) {
	repo := newMemRepo()
	iss := newTestIssuer(repo)
	ctx := context.Background()

	a, err := iss.Issue(ctx, Context{LeadID: "lead-1", TermAcceptanceID: "ta-1"})
	require.NoError(t, err)
	b, err := iss.Issue(ctx, Context{LeadID: "lead-1", PaymentProofID: "proof-1"})
	require.NoError(t, err)

	assert.NotEqual(t, a.Token, b.Token)
	assert.Equal(t, "lead:lead-1|proof:proof-1", b.ContextKey)
}

func TestIssue_RetriesOnCollision(t *testing.T) {
	repo := newMemRepo()
	repo.tokens["tk_taken"] = &ApprovalToken{Token: "tk_taken", ContextKey: "other", ExpiresAt: fixedNow.Add(time.Hour)}
	iss := newTestIssuer(repo)
	iss.generate = sequence("tk_taken", "tk_taken", "tk_fresh")

	got, err := iss.Issue(context.Background(), Context{LeadID: "lead-1", TermAcceptanceID: "ta-1"})
	require.NoError(t, err)
	assert.Equal(t, "tk_fresh", got.Token)
	assert.Equal(t, 3, repo.existsCalls)
}

func TestIssue_RetriesOnInsertCollision(t *testing.T) {
	repo := newMemRepo()
	calls := 0
	repo.onInsert = func(*ApprovalToken) error {
		calls++
		if calls == 1 {
			return ErrTokenCollision
		}
		return nil
	}
	iss := newTestIssuer(repo)
	iss.generate = sequence("tk_one", "tk_two")

	got, err := iss.Issue(context.Background(), Context{LeadID: "lead-1", TermAcceptanceID: "ta-1"})
	require.NoError(t, err)
	assert.Equal(t, "tk_two", got.Token)
}

func TestIssue_ExhaustionFailsHard(t *testing.T) {
	repo := newMemRepo()
	repo.tokens["tk_taken"] = &ApprovalToken{Token: "tk_taken", ContextKey: "other", ExpiresAt: fixedNow.Add(time.Hour)}
	iss := newTestIssuer(repo)
	iss.generate = sequence("tk_taken")

	_, err := iss.Issue(context.Background(), Context{LeadID: "lead-1", TermAcceptanceID: "ta-1"})
	require.ErrorIs(t, err, ErrTokenSpaceExhausted)
	assert.Equal(t, maxAttempts, repo.existsCalls)
	assert.Zero(t, repo.inserts)
}

func TestIssue_ConcurrentIssuerWins(t *testing.T) {
	repo := newMemRepo()
	winner := &ApprovalToken{
		Token:      "tk_winner",
		ContextKey: "lead:lead-1|ta:ta-1",
		LeadID:     "lead-1",
		ExpiresAt:  fixedNow.Add(time.Hour),
	}
	repo.onInsert = func(*ApprovalToken) error {
		// Another request commits its token between our lookup and insert.
		repo.tokens[winner.Token] = winner
		repo.onInsert = nil
		return ErrContextTaken
	}
	iss := newTestIssuer(repo)

	got, err := iss.Issue(context.Background(), Context{LeadID: "lead-1", TermAcceptanceID: "ta-1"})
	require.NoError(t, err)
	assert.Equal(t, "tk_winner", got.Token)
}

func TestIssue_ReplacesExpiredToken(t *testing.T) {
	repo := newMemRepo()
	repo.tokens["tk_old"] = &ApprovalToken{
		Token:      "tk_old",
		ContextKey: "lead:lead-1|ta:ta-1",
		ExpiresAt:  fixedNow.Add(-time.Minute),
	}
	iss := newTestIssuer(repo)

	got, err := iss.Issue(context.Background(), Context{LeadID: "lead-1", TermAcceptanceID: "ta-1"})
	require.NoError(t, err)
	assert.NotEqual(t, "tk_old", got.Token)
	assert.True(t, repo.superseded["tk_old"])
}

func TestIssue_RequiresLead(t *testing.T) {
	_, err := newTestIssuer(newMemRepo()).Issue(context.Background(), Context{TermAcceptanceID: "ta-1"})
	assert.Error(t, err)
}

func TestApprovalToken_Valid(t *testing.T) {
	used := fixedNow.Add(-time.Minute)
	tests := map[string]struct {
		tok  ApprovalToken
		want bool
	}{
		"fresh":   {tok: ApprovalToken{ExpiresAt: fixedNow.Add(time.Hour)}, want: true},
		"expired": {tok: ApprovalToken{ExpiresAt: fixedNow}, want: false},
		"used":    {tok: ApprovalToken{ExpiresAt: fixedNow.Add(time.Hour), UsedAt: &used}, want: false},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.tok.Valid(fixedNow))
		})
	}
}

func TestIssuer_LinkIsRelative(t *testing.T) {
	iss := newTestIssuer(newMemRepo())
	assert.Equal(t, "/forms/consultation?token=tk_abc", iss.Link("tk_abc"))
}

func TestIssuer_ExistingReturnsUsedToken(t *testing.T) {
	repo := newMemRepo()
	used := fixedNow.Add(-time.Hour)
	repo.tokens["tk_used"] = &ApprovalToken{
		Token:      "tk_used",
		ContextKey: "lead:lead-1|proof:proof-1",
		ExpiresAt:  fixedNow.Add(time.Hour),
		UsedAt:     &used,
		CreatedAt:  fixedNow.Add(-2 * time.Hour),
	}
	iss := newTestIssuer(repo)

	got, err := iss.Existing(context.Background(), Context{LeadID: "lead-1", PaymentProofID: "proof-1"})
	require.NoError(t, err)
	assert.Equal(t, "tk_used", got.Token)

	_, err = iss.Existing(context.Background(), Context{LeadID: "lead-1", PaymentProofID: "proof-2"})
	assert.ErrorIs(t, err, ErrNotFound)
}
