package payment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andreasstove999/lead-portal/reconciler-go/internal/lead"
)

func at(hour int) time.Time {
	return time.Date(2025, 5, 10, hour, 0, 0, 0, time.UTC)
}

func TestSelectRelevant_ConfirmedOutranksNewerPending(t *testing.T) {
	rows := []Payment{
		{ID: "A", Status: RawPending, CreatedAt: at(10)},
		{ID: "B", Status: RawCompleted, CreatedAt: at(9)},
	}

	got := SelectRelevant(rows, nil)
	require.NotNil(t, got)
	assert.Equal(t, "B", got.ID)
}

func TestSelectRelevant_Idempotent(t *testing.T) {
	rows := []Payment{
		{ID: "A", Status: RawPending, CreatedAt: at(10)},
		{ID: "B", Status: RawCompleted, CreatedAt: at(9)},
		{ID: "C", Status: RawRedirectedToZelle, CreatedAt: at(11)},
	}
	reversed := []Payment{rows[2], rows[1], rows[0]}

	first := SelectRelevant(rows, nil)
	second := SelectRelevant(rows, nil)
	third := SelectRelevant(reversed, nil)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.ID, third.ID)
}

func TestSelectRelevant(t *testing.T) {
	ta := &lead.TermAcceptance{ID: "ta-2"}

	tests := map[string]struct {
		rows []Payment
		ta   *lead.TermAcceptance
		want string
	}{
		"empty": {
			rows: nil,
			want: "",
		},
		"newest confirmed without context": {
			rows: []Payment{
				{ID: "A", Status: RawCompleted, CreatedAt: at(8)},
				{ID: "B", Status: RawZelleConfirmed, CreatedAt: at(9)},
			},
			want: "B",
		},
		"confirmed matching context beats newer confirmed": {
			rows: []Payment{
				{ID: "A", Status: RawCompleted, TermAcceptanceID: "ta-2", CreatedAt: at(8)},
				{ID: "B", Status: RawCompleted, TermAcceptanceID: "ta-1", CreatedAt: at(9)},
			},
			ta:   ta,
			want: "A",
		},
		"confirmed for other context still outranks pending": {
			rows: []Payment{
				{ID: "A", Status: RawCompleted, TermAcceptanceID: "ta-1", CreatedAt: at(8)},
				{ID: "B", Status: RawPending, TermAcceptanceID: "ta-2", CreatedAt: at(9)},
			},
			ta:   ta,
			want: "A",
		},
		"pending scoped to context": {
			rows: []Payment{
				{ID: "A", Status: RawPending, TermAcceptanceID: "ta-2", CreatedAt: at(8)},
				{ID: "B", Status: RawPending, TermAcceptanceID: "ta-1", CreatedAt: at(9)},
			},
			ta:   ta,
			want: "A",
		},
		"pending without acceptance is a wildcard": {
			rows: []Payment{
				{ID: "A", Status: RawPending, TermAcceptanceID: "ta-2", CreatedAt: at(8)},
				{ID: "B", Status: RawPending, CreatedAt: at(9)},
			},
			ta:   ta,
			want: "B",
		},
		"no pending matches context": {
			rows: []Payment{
				{ID: "A", Status: RawPending, TermAcceptanceID: "ta-1", CreatedAt: at(8)},
			},
			ta:   ta,
			want: "",
		},
		"tie on created_at broken by id": {
			rows: []Payment{
				{ID: "a1", Status: RawPending, CreatedAt: at(8)},
				{ID: "b2", Status: RawPending, CreatedAt: at(8)},
			},
			want: "b2",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got := SelectRelevant(tt.rows, tt.ta)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.ID)
		})
	}
}

func TestFilterInstallment(t *testing.T) {
	rows := []Payment{
		{ID: "A", Metadata: Metadata{KeyInstallment: float64(1)}},
		{ID: "B", Metadata: Metadata{KeyInstallment: "2"}},
		{ID: "C", Metadata: Metadata{}},
	}

	first := FilterInstallment(rows, 1)
	second := FilterInstallment(rows, 2)

	assert.Len(t, first, 2)
	require.Len(t, second, 1)
	assert.Equal(t, "B", second[0].ID)
}
