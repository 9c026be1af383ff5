package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/finbridge/invoice-financing-api/internal/assess"
	"github.com/finbridge/invoice-financing-api/internal/domain"
	"github.com/finbridge/invoice-financing-api/internal/infra/observability"
	"github.com/finbridge/invoice-financing-api/internal/port"
)

var tracer = otel.Tracer("service/financing")

// ProcessorParams are the tunable decision parameters of the pipeline.
type ProcessorParams struct {
	RiskConcentrationThreshold decimal.Decimal
	MinDaysLeftToPay           int
	HomeCountry                string
	MaxConcurrency             int
}

// Processor runs the financing decision pipeline for an application whose
// data collection has completed.
type Processor struct {
	client   port.AccountingClient
	store    port.ApplicationStore
	risk     *assess.RiskAssessor
	invoices *assess.InvoiceAssessor
	metrics  *observability.Metrics
	logger   *zap.Logger
	params   ProcessorParams
}

// NewProcessor creates the financing processor with all dependencies injected.
func NewProcessor(
	client port.AccountingClient,
	store port.ApplicationStore,
	risk *assess.RiskAssessor,
	invoices *assess.InvoiceAssessor,
	metrics *observability.Metrics,
	logger *zap.Logger,
	params ProcessorParams,
) *Processor {
	return &Processor{
		client:   client,
		store:    store,
		risk:     risk,
		invoices: invoices,
		metrics:  metrics,
		logger:   logger,
		params:   params,
	}
}

// ProcessFinancingForApplication moves the application to Processing, runs
// the decision pipeline and records the terminal outcome. Any failure marks
// the application ProcessingError before the error is returned; there is no
// re-entry from a terminal state.
func (p *Processor) ProcessFinancingForApplication(ctx context.Context, id uuid.UUID) error {
	ctx, span := tracer.Start(ctx, "Processor.ProcessFinancingForApplication")
	defer span.End()
	span.SetAttributes(attribute.String("application.id", id.String()))

	start := time.Now()
	defer func() {
		p.metrics.RecordRequestDuration("process_financing", time.Since(start))
	}()

	app, err := p.store.GetApplication(id)
	if err != nil {
		return err
	}

	if err := p.store.UpdateApplicationStatus(id, domain.StatusProcessing); err != nil {
		return err
	}

	decisions, err := p.computeDecisions(ctx, app.CompanyID)
	if err != nil {
		p.logger.Error("financing pipeline failed",
			zap.String("application_id", id.String()),
			zap.Error(err),
		)
		p.metrics.IncrProcessingRun("error")

		if updateErr := p.store.UpdateApplicationStatus(id, domain.StatusProcessingError); updateErr != nil {
			p.logger.Error("failed to record processing error state",
				zap.String("application_id", id.String()),
				zap.Error(updateErr),
			)
		}
		return &domain.ErrProcessing{ApplicationID: id, Err: err}
	}

	if err := p.store.AddInvoiceDecisions(id, decisions); err != nil {
		return err
	}
	if err := p.store.UpdateApplicationStatus(id, domain.StatusComplete); err != nil {
		return err
	}

	p.metrics.IncrProcessingRun("complete")
	p.metrics.AddDecisionsIssued(len(decisions))
	p.logger.Info("financing pipeline complete",
		zap.String("application_id", id.String()),
		zap.Int("decisions", len(decisions)),
	)
	return nil
}

// computeDecisions produces the financing offers for the company's eligible
// invoices. An empty unpaid set is a valid outcome with zero offers.
func (p *Processor) computeDecisions(ctx context.Context, companyID uuid.UUID) ([]domain.InvoiceDecision, error) {
	ctx, span := tracer.Start(ctx, "Processor.computeDecisions")
	defer span.End()

	unpaid, err := p.client.ListUnpaidInvoices(ctx, companyID)
	if err != nil {
		p.metrics.IncrExternalError("accounting")
		return nil, fmt.Errorf("unpaid invoices fetch: %w", err)
	}
	if len(unpaid) == 0 {
		p.logger.Info("no financeable invoices found", zap.String("company_id", companyID.String()))
		return []domain.InvoiceDecision{}, nil
	}

	customers, err := p.client.ListCustomers(ctx, companyID)
	if err != nil {
		p.metrics.IncrExternalError("accounting")
		return nil, fmt.Errorf("customers fetch: %w", err)
	}

	qualifying := make(map[string]struct{}, len(customers))
	for _, c := range customers {
		if c.Qualifies(p.params.HomeCountry) {
			qualifying[c.ID] = struct{}{}
		}
	}

	// Per-customer and company-wide outstanding totals over the whole
	// unpaid set, qualifying or not.
	companyTotal := decimal.Zero
	customerUnpaid := make(map[string]decimal.Decimal)
	for _, inv := range unpaid {
		companyTotal = companyTotal.Add(inv.AmountDue)
		customerUnpaid[inv.CustomerID] = customerUnpaid[inv.CustomerID].Add(inv.AmountDue)
	}

	// Distinct qualifying customers with outstanding invoices, scored
	// concurrently. One failed score fails the whole run.
	var toScore []string
	for customerID := range customerUnpaid {
		if _, ok := qualifying[customerID]; ok {
			toScore = append(toScore, customerID)
		}
	}

	var (
		mu      sync.Mutex
		lowRisk = make(map[string]struct{}, len(toScore))
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.params.MaxConcurrency)

	for _, customerID := range toScore {
		customerID := customerID
		g.Go(func() error {
			risk, err := p.risk.AssessCustomer(gCtx, companyID, customerID, customerUnpaid[customerID], companyTotal)
			if err != nil {
				p.metrics.IncrExternalError("accounting")
				return fmt.Errorf("risk assessment for customer %s: %w", customerID, err)
			}

			if risk.Risk.LessThan(p.params.RiskConcentrationThreshold) {
				mu.Lock()
				lowRisk[customerID] = struct{}{}
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Offer terms for invoices of low-risk customers with enough of the
	// payment window left, preserving the platform's invoice order.
	decisions := make([]domain.InvoiceDecision, 0, len(unpaid))
	for _, inv := range unpaid {
		if _, ok := lowRisk[inv.CustomerID]; !ok {
			continue
		}
		if p.invoices.DaysLeftToPay(inv) < p.params.MinDaysLeftToPay {
			continue
		}
		decisions = append(decisions, p.invoices.AssessInvoice(inv))
	}

	span.SetAttributes(attribute.Int("decisions.count", len(decisions)))
	return decisions, nil
}
