package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mfbaptista/billcycle/internal/domain"
	"github.com/mfbaptista/billcycle/internal/period"
)

// AssembleStatement collects the credit-channel lines of one billing
// period without side effects: real transactions whose effective payment
// date falls in the window, plus one projected line per monthly
// recurring template not yet materialized in the period. The total is
// the sum of all lines.
func (s *EngineService) AssembleStatement(ctx context.Context, ownerID string, accountID *string, p period.Period) (*domain.AssembledStatement, error) {
	ctx, span := engineTracer.Start(ctx, "EngineService.AssembleStatement")
	defer span.End()

	real, err := s.store.ListByChannelInRange(ctx, ownerID, accountID, domain.ChannelCredit, p.Start, p.End)
	if err != nil {
		return nil, fmt.Errorf("list credit transactions: %w", err)
	}

	assembled := &domain.AssembledStatement{Total: decimal.Zero}
	seen := make(map[string]struct{}, len(real))
	for _, tx := range real {
		line := domain.StatementLine{
			TransactionID: tx.ID,
			Description:   tx.Description,
			Amount:        tx.Amount,
			Date:          tx.EffectivePaymentDate(),
			Projected:     false,
		}
		assembled.Lines = append(assembled.Lines, line)
		assembled.Total = assembled.Total.Add(tx.Amount)
		seen[dedupKey(tx.Description, tx.Amount, line.Date)] = struct{}{}
	}

	templates, err := s.store.ListRecurringTemplates(ctx, ownerID, accountID, domain.ChannelCredit, domain.RecurrenceMonthly, p.ClosingDate)
	if err != nil {
		return nil, fmt.Errorf("list recurring templates: %w", err)
	}

	for _, tpl := range templates {
		occ, ok := occurrenceIn(tpl.Date.Day(), p)
		if !ok {
			continue
		}
		// A materialized transaction with the same description and
		// amount in the occurrence month wins over the projection.
		if _, dup := seen[dedupKey(tpl.Description, tpl.Amount, occ)]; dup {
			continue
		}
		assembled.Lines = append(assembled.Lines, domain.StatementLine{
			TransactionID: tpl.ID,
			Description:   tpl.Description,
			Amount:        tpl.Amount,
			Date:          occ,
			Projected:     true,
		})
		assembled.Total = assembled.Total.Add(tpl.Amount)
	}

	sort.Slice(assembled.Lines, func(i, j int) bool {
		if !assembled.Lines[i].Date.Equal(assembled.Lines[j].Date) {
			return assembled.Lines[i].Date.Before(assembled.Lines[j].Date)
		}
		return assembled.Lines[i].Description < assembled.Lines[j].Description
	})

	s.logger.Debug("statement assembled",
		zap.String("owner_id", ownerID),
		zap.Time("closing_date", p.ClosingDate),
		zap.Int("lines", len(assembled.Lines)),
		zap.String("total", assembled.Total.StringFixed(2)),
	)
	return assembled, nil
}

// dedupKey matches a projected occurrence against a materialized
// transaction of the same month.
func dedupKey(description string, amount decimal.Decimal, date time.Time) string {
	return fmt.Sprintf("%s|%s|%d-%d", description, amount.String(), date.Year(), date.Month())
}

// occurrenceIn projects a monthly template (by its day of month, clamped
// to each month's length) into the period window. A period can span two
// calendar months; at most one occurrence falls inside it.
func occurrenceIn(day int, p period.Period) (time.Time, bool) {
	months := []time.Time{p.Start, p.End}
	for _, m := range months {
		y, mo, _ := m.Date()
		occ := time.Date(y, mo, minInt(day, period.DaysIn(y, mo)), 0, 0, 0, 0, time.UTC)
		if !occ.Before(p.Start) && !occ.After(p.End) {
			return occ, true
		}
	}
	return time.Time{}, false
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
