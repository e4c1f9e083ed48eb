package digest

import (
	"errors"
	"fmt"

	"finpulse/internal/types"
)

// maxLineItems is the truncation limit for per-occurrence dates in the
// digest content. Counts and totals always cover the full run.
const maxLineItems = 10

// ErrEmpty is returned when there are no occurrences to summarize.
var ErrEmpty = errors.New("digest: no occurrences to summarize")

// Generator builds catch-up digest notifications. Stateless.
type Generator struct{}

// NewGenerator creates a Generator.
func NewGenerator() *Generator {
	return &Generator{}
}

// Generate builds a digest notification for one rule's backfill. occs must
// be the occurrences a single run materialized, in ascending date order;
// formattedTotal is the summed amount already converted and formatted for
// the user. The caller stamps ID, UserID and CreatedAt.
func (g *Generator) Generate(rule *types.RecurringRule, occs []types.Occurrence, formattedTotal string) (*types.Notification, error) {
	if len(occs) == 0 {
		return nil, ErrEmpty
	}

	content := Content{
		RuleID:      rule.ID,
		RuleName:    rule.Name,
		Count:       len(occs),
		PeriodStart: occs[0].OccurredOn,
		PeriodEnd:   occs[len(occs)-1].OccurredOn,
		Total:       formattedTotal,
	}

	limit := len(occs)
	if limit > maxLineItems {
		content.RemainingCount = len(occs) - maxLineItems
		limit = maxLineItems
	}
	content.Dates = make([]string, 0, limit)
	for _, occ := range occs[:limit] {
		content.Dates = append(content.Dates, occ.OccurredOn.Format("2006-01-02"))
	}

	span := fmt.Sprintf("%s to %s",
		content.PeriodStart.Format("Jan 2"),
		content.PeriodEnd.Format("Jan 2, 2006"),
	)

	return &types.Notification{
		Kind:     types.NoticeCatchUpDigest,
		Title:    fmt.Sprintf("%s: %d occurrences recorded", rule.Name, len(occs)),
		Body:     fmt.Sprintf("%d occurrences of %s from %s were recorded while catching up (total %s).", len(occs), rule.Name, span, formattedTotal),
		RuleID:   rule.ID,
		RuleName: rule.Name,
		Amount:   formattedTotal,
		Extra: map[string]any{
			"digest": content,
		},
	}, nil
}
