package assess_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/finbridge/invoice-financing-api/internal/assess"
	"github.com/finbridge/invoice-financing-api/internal/domain"
)

// --- Mocks ---

type mockAccountingClient struct {
	paidInvoices []domain.Invoice
	paidErr      error
}

func (m *mockAccountingClient) CreateCompany(_ context.Context, _ string) (*domain.Company, error) {
	return nil, nil
}

func (m *mockAccountingClient) ListAccountingPlatforms(_ context.Context) ([]domain.Platform, error) {
	return nil, nil
}

func (m *mockAccountingClient) ListUnpaidInvoices(_ context.Context, _ uuid.UUID) ([]domain.Invoice, error) {
	return nil, nil
}

func (m *mockAccountingClient) ListCustomers(_ context.Context, _ uuid.UUID) ([]domain.Customer, error) {
	return nil, nil
}

func (m *mockAccountingClient) ListPaidInvoicesForCustomer(_ context.Context, _ uuid.UUID, _ string) ([]domain.Invoice, error) {
	return m.paidInvoices, m.paidErr
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

// --- RiskAssessor ---

func TestAssessCustomer_InsufficientHistory(t *testing.T) {
	client := &mockAccountingClient{
		paidInvoices: []domain.Invoice{{ID: "inv-1"}},
	}
	ra := assess.NewRiskAssessor(client, zap.NewNop())

	risk, err := ra.AssessCustomer(context.Background(), uuid.New(), "cust-1",
		decimal.NewFromInt(100), decimal.NewFromInt(1000))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if !risk.Risk.Equal(decimal.NewFromInt(1)) {
		t.Errorf("expected maximum risk 1 for customer with one paid invoice, got %s", risk.Risk)
	}
}

func TestAssessCustomer_ConcentrationShare(t *testing.T) {
	client := &mockAccountingClient{
		paidInvoices: []domain.Invoice{{ID: "inv-1"}, {ID: "inv-2"}},
	}
	ra := assess.NewRiskAssessor(client, zap.NewNop())

	risk, err := ra.AssessCustomer(context.Background(), uuid.New(), "cust-1",
		decimal.NewFromInt(300), decimal.NewFromInt(1000))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if !risk.Risk.Equal(decimal.RequireFromString("0.3")) {
		t.Errorf("expected risk 0.3, got %s", risk.Risk)
	}
}

func TestAssessCustomer_FetchError(t *testing.T) {
	client := &mockAccountingClient{paidErr: errors.New("connection refused")}
	ra := assess.NewRiskAssessor(client, zap.NewNop())

	_, err := ra.AssessCustomer(context.Background(), uuid.New(), "cust-1",
		decimal.NewFromInt(100), decimal.NewFromInt(1000))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// --- InvoiceAssessor ---

func TestAssessInvoice_RateAndOffer(t *testing.T) {
	ia := assess.NewInvoiceAssessor(fixedClock)

	// 30-day term, 20 days left: rate = 5 - 4*(20/30) = 2.333... -> 2.3
	inv := domain.Invoice{
		ID:            "inv-1",
		InvoiceNumber: "INV-001",
		IssueDate:     fixedNow.AddDate(0, 0, -10),
		DueDate:       fixedNow.AddDate(0, 0, 20),
		AmountDue:     decimal.NewFromInt(200),
	}

	d := ia.AssessInvoice(inv)

	if !d.Rate.Equal(decimal.RequireFromString("2.3")) {
		t.Errorf("expected rate 2.3, got %s", d.Rate)
	}
	if !d.OfferAmount.Equal(decimal.NewFromInt(180)) {
		t.Errorf("expected offer 180, got %s", d.OfferAmount)
	}
	if d.InvoiceID != "inv-1" || d.InvoiceNo != "INV-001" {
		t.Errorf("decision should carry invoice identifiers, got %+v", d)
	}
}

func TestAssessInvoice_RateAtIssueDate(t *testing.T) {
	ia := assess.NewInvoiceAssessor(fixedClock)

	// Issued today: full term left, rate = 5 - 4*(30/30) = 1.0
	inv := domain.Invoice{
		IssueDate: fixedNow,
		DueDate:   fixedNow.AddDate(0, 0, 30),
		AmountDue: decimal.NewFromInt(100),
	}

	d := ia.AssessInvoice(inv)
	if !d.Rate.Equal(decimal.RequireFromString("1")) {
		t.Errorf("expected rate 1.0 for freshly issued invoice, got %s", d.Rate)
	}
}

func TestAssessInvoice_ZeroTerm(t *testing.T) {
	ia := assess.NewInvoiceAssessor(fixedClock)

	// Due same day as issued: rate stays at the base
	inv := domain.Invoice{
		IssueDate: fixedNow,
		DueDate:   fixedNow,
		AmountDue: decimal.NewFromInt(100),
	}

	d := ia.AssessInvoice(inv)
	if !d.Rate.Equal(decimal.NewFromInt(5)) {
		t.Errorf("expected base rate 5 for zero-term invoice, got %s", d.Rate)
	}
}

func TestDaysLeftToPay(t *testing.T) {
	ia := assess.NewInvoiceAssessor(fixedClock)

	tests := []struct {
		name string
		due  time.Time
		want int
	}{
		{"two weeks out", fixedNow.AddDate(0, 0, 14), 14},
		{"due tomorrow", fixedNow.AddDate(0, 0, 1), 1},
		{"overdue", fixedNow.AddDate(0, 0, -3), -3},
		{"time of day ignored", time.Date(2026, 3, 15, 23, 59, 0, 0, time.UTC), 14},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ia.DaysLeftToPay(domain.Invoice{DueDate: tt.due})
			if got != tt.want {
				t.Errorf("expected %d days, got %d", tt.want, got)
			}
		})
	}
}
