// Package assess computes financing risk and offers: per-customer
// concentration risk from payment history, and per-invoice rate/advance
// decisions. All monetary arithmetic uses decimals.
package assess

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/finbridge/invoice-financing-api/internal/domain"
	"github.com/finbridge/invoice-financing-api/internal/port"
)

// Clock returns the current time. Injected so assessments are testable
// against fixed dates.
type Clock func() time.Time

var (
	maxRisk = decimal.NewFromInt(1)

	baseRate    = decimal.NewFromInt(5)
	rateSlope   = decimal.NewFromInt(4)
	advanceRate = decimal.RequireFromString("0.9")
)

// RiskAssessor scores a customer's concentration risk against the company's
// outstanding receivables.
type RiskAssessor struct {
	client port.AccountingClient
	logger *zap.Logger
}

// NewRiskAssessor creates a risk assessor backed by the accounting client.
func NewRiskAssessor(client port.AccountingClient, logger *zap.Logger) *RiskAssessor {
	return &RiskAssessor{client: client, logger: logger}
}

// AssessCustomer computes the customer's risk score. A customer with fewer
// than two settled invoices has no usable payment history and scores the
// maximum risk of 1. Otherwise risk is the customer's share of the company's
// total unpaid amount.
func (r *RiskAssessor) AssessCustomer(ctx context.Context, companyID uuid.UUID, customerID string, customerUnpaid, companyUnpaidTotal decimal.Decimal) (*domain.CustomerRisk, error) {
	paid, err := r.client.ListPaidInvoicesForCustomer(ctx, companyID, customerID)
	if err != nil {
		return nil, err
	}

	if len(paid) < 2 || !companyUnpaidTotal.IsPositive() {
		r.logger.Debug("customer has insufficient payment history",
			zap.String("customer_id", customerID),
			zap.Int("paid_invoices", len(paid)),
		)
		return &domain.CustomerRisk{CustomerID: customerID, Risk: maxRisk}, nil
	}

	return &domain.CustomerRisk{
		CustomerID: customerID,
		Risk:       customerUnpaid.Div(companyUnpaidTotal),
	}, nil
}

// InvoiceAssessor computes the financing offer for an eligible invoice.
type InvoiceAssessor struct {
	clock Clock
}

// NewInvoiceAssessor creates an invoice assessor. A nil clock defaults to
// time.Now.
func NewInvoiceAssessor(clock Clock) *InvoiceAssessor {
	if clock == nil {
		clock = time.Now
	}
	return &InvoiceAssessor{clock: clock}
}

// DaysLeftToPay returns whole days from today until the invoice due date.
// Negative for overdue invoices.
func (a *InvoiceAssessor) DaysLeftToPay(inv domain.Invoice) int {
	return daysBetween(a.clock(), inv.DueDate)
}

// AssessInvoice prices the financing offer for one invoice. The rate scales
// linearly with how much of the payment term has elapsed, from 5.0 at issue
// down to 1.0 at the due date, rounded to one decimal place. The advance is
// 90% of the amount due.
func (a *InvoiceAssessor) AssessInvoice(inv domain.Invoice) domain.InvoiceDecision {
	term := daysBetween(inv.IssueDate, inv.DueDate)
	left := daysBetween(a.clock(), inv.DueDate)

	ratio := decimal.Zero
	if term > 0 {
		ratio = decimal.NewFromInt(int64(left)).Div(decimal.NewFromInt(int64(term)))
	}
	rate := baseRate.Sub(rateSlope.Mul(ratio)).Round(1)

	return domain.InvoiceDecision{
		InvoiceID:   inv.ID,
		InvoiceNo:   inv.InvoiceNumber,
		AmountDue:   inv.AmountDue,
		OfferAmount: inv.AmountDue.Mul(advanceRate),
		Rate:        rate,
	}
}

// daysBetween counts whole calendar days from a to b, both truncated to
// midnight UTC.
func daysBetween(a, b time.Time) int {
	return int(truncateToDay(b).Sub(truncateToDay(a)) / (24 * time.Hour))
}

func truncateToDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
