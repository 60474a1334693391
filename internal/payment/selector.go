package payment

import (
	"sort"

	"github.com/andreasstove999/lead-portal/reconciler-go/internal/lead"
)

// SelectRelevant picks the one payment surfaced for a (lead, installment)
// pair. Confirmed rows always outrank unconfirmed ones regardless of age.
// With a term acceptance, a confirmed row for that acceptance wins over other
// confirmed rows, and unconfirmed rows must match it or carry no acceptance.
// Returns nil when nothing qualifies.
func SelectRelevant(rows []Payment, ta *lead.TermAcceptance) *Payment {
	ordered := newestFirst(rows)

	var confirmed, other []*Payment
	for i := range ordered {
		p := &ordered[i]
		if IsConfirmedPaid(p) {
			confirmed = append(confirmed, p)
		} else {
			other = append(other, p)
		}
	}

	if len(confirmed) > 0 {
		if ta != nil {
			for _, p := range confirmed {
				if p.TermAcceptanceID == ta.ID {
					return p
				}
			}
		}
		return confirmed[0]
	}

	for _, p := range other {
		if ta == nil || p.TermAcceptanceID == "" || p.TermAcceptanceID == ta.ID {
			return p
		}
	}
	return nil
}

// FilterInstallment returns the rows tagged with the given installment part.
func FilterInstallment(rows []Payment, part int) []Payment {
	out := make([]Payment, 0, len(rows))
	for _, p := range rows {
		if p.Installment() == part {
			out = append(out, p)
		}
	}
	return out
}

// newestFirst returns a sorted copy; ties on created_at fall back to id so the
// order does not depend on the input order.
func newestFirst(rows []Payment) []Payment {
	out := make([]Payment, len(rows))
	copy(out, rows)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}
