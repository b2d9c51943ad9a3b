/*
Package sla resolves SLA rules by specificity, computes target settlement
dates against a holiday calendar collaborator, and derives fees.

The resolution shape — a set of scoped rules evaluated against a request
context, most-specific match wins — is the same shape as the teacher's
routing.Engine, which evaluates a priority-ordered list of AND-conditions
against a RoutingContext. Here the ordering key is not an assigned
priority but a count of non-null scope columns, with a fixed deterministic
tie-break, per the resolution rule in the specification.
*/
package sla

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/AlfredDev/alfred/services/payouts/internal/apperr"
	"github.com/AlfredDev/alfred/services/payouts/internal/store"
)

// HolidayCalendar answers whether a date is a business day in a country.
// Out of scope for this engine; consumed as an external collaborator.
type HolidayCalendar interface {
	IsBusinessDay(date time.Time, country string) bool
}

// Request describes the scope columns a rule is resolved against.
type Request struct {
	ConnectorID string
	Rail        string
	Country     string
	Currency    string
	Priority    store.Priority
}

// Resolver resolves the most specific SLARule for a request and derives
// target settlement dates and fees from it.
type Resolver struct {
	rulesSrc rulesSource
	holidays HolidayCalendar
	logger   zerolog.Logger
}

type rulesSource interface {
	ListActiveSLARules(ctx context.Context) ([]*store.SLARule, error)
}

// NewResolver builds a Resolver over the durable SLA rule table.
func NewResolver(rules rulesSource, holidays HolidayCalendar, logger zerolog.Logger) *Resolver {
	return &Resolver{
		rulesSrc: rules,
		holidays: holidays,
		logger:   logger.With().Str("component", "sla-resolver").Logger(),
	}
}

// scopeOrder is the deterministic tie-break order named by the
// specification: connector, rail, country, currency, priority. A rule
// that is non-null on an earlier column in this list wins a tie.
var scopeOrder = []string{"connector", "rail", "country", "currency", "priority"}

// specificity returns the number of non-null scope columns that match req,
// and whether every non-null column matched (a hard requirement — a
// non-null column that conflicts disqualifies the rule entirely).
func specificity(r *store.SLARule, req Request) (count int, matched bool, nonNullMask [5]bool) {
	matched = true
	check := func(idx int, ruleVal *string, reqVal string) {
		if ruleVal == nil {
			return
		}
		nonNullMask[idx] = true
		if *ruleVal == reqVal {
			count++
		} else {
			matched = false
		}
	}
	check(0, r.ConnectorID, req.ConnectorID)
	check(1, r.Rail, req.Rail)
	check(2, r.Country, req.Country)
	check(3, r.Currency, req.Currency)
	if r.Priority != nil {
		nonNullMask[4] = true
		if *r.Priority == req.Priority {
			count++
		} else {
			matched = false
		}
	}
	return
}

// ResolveRule returns the most specific active rule matching req, or nil
// if none match (callers fall back to a default T+2 business days rule).
func (res *Resolver) ResolveRule(ctx context.Context, req Request) (*store.SLARule, error) {
	rules, err := res.rulesSrc.ListActiveSLARules(ctx)
	if err != nil {
		return nil, err
	}

	var best *store.SLARule
	var bestCount int
	var bestMask [5]bool

	for _, r := range rules {
		count, matched, mask := specificity(r, req)
		if !matched {
			continue
		}
		if best == nil || count > bestCount || (count == bestCount && earlierColumnWins(mask, bestMask)) {
			best = r
			bestCount = count
			bestMask = mask
		}
	}

	if best != nil {
		res.logger.Debug().Int("specificity", bestCount).Msg("sla rule resolved")
	}
	return best, nil
}

// earlierColumnWins breaks a specificity tie: among rules with an equal
// count of non-null matching columns, the one non-null on the earliest
// scopeOrder column wins.
func earlierColumnWins(candidate, current [5]bool) bool {
	for i := range scopeOrder {
		if candidate[i] && !current[i] {
			return true
		}
		if !candidate[i] && current[i] {
			return false
		}
	}
	return false
}

// defaultProcessingDays + defaultSettlementDays realize the "default T+2
// business days" fallback when no rule matches.
const (
	defaultProcessingDays = 1
	defaultSettlementDays = 1
)

// TargetSettlementDate advances from createdAt.Date by the rule's
// processing_days + settlement_days calendar days, skipping weekends
// and/or holidays as configured. A nil rule uses the T+2 default.
func (res *Resolver) TargetSettlementDate(rule *store.SLARule, createdAt time.Time, country string) time.Time {
	processingDays := defaultProcessingDays
	settlementDays := defaultSettlementDays
	excludeWeekends := true
	excludeHolidays := true

	if rule != nil {
		processingDays = rule.ProcessingDays
		settlementDays = rule.SettlementDays
		excludeWeekends = rule.ExcludeWeekends
		excludeHolidays = rule.ExcludeHolidays
	}

	total := processingDays + settlementDays
	date := time.Date(createdAt.Year(), createdAt.Month(), createdAt.Day(), 0, 0, 0, 0, createdAt.Location())

	advanced := 0
	for advanced < total {
		date = date.AddDate(0, 0, 1)
		if excludeWeekends && (date.Weekday() == time.Saturday || date.Weekday() == time.Sunday) {
			continue
		}
		if excludeHolidays && res.holidays != nil && !res.holidays.IsBusinessDay(date, country) {
			continue
		}
		advanced++
	}
	return date
}

// Fee derives (internalFee, bankFee) from the rule. bankFee is always
// zero at creation time; it is updated later from the connector response.
func (res *Resolver) Fee(rule *store.SLARule, amount decimal.Decimal) (internalFee, bankFee decimal.Decimal, err error) {
	if amount.IsNegative() || amount.IsZero() {
		return decimal.Zero, decimal.Zero, apperr.New(apperr.KindInvalidRequest, "amount must be positive")
	}
	if rule == nil {
		return decimal.Zero, decimal.Zero, nil
	}

	fee := rule.BaseFee.Add(rule.PercentageFee.Mul(amount))
	if fee.LessThan(rule.MinFee) {
		fee = rule.MinFee
	}
	if rule.MaxFee.GreaterThan(decimal.Zero) && fee.GreaterThan(rule.MaxFee) {
		fee = rule.MaxFee
	}
	return fee.Round(2), decimal.Zero, nil
}
