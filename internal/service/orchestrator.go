package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/finbridge/invoice-financing-api/internal/domain"
	"github.com/finbridge/invoice-financing-api/internal/infra/observability"
	"github.com/finbridge/invoice-financing-api/internal/port"
)

// linkedStatus is the connection status value that signals the applicant has
// completed linking. Anything else is ignored.
const linkedStatus = "Linked"

// requirementForDataType maps the platform's dataType discriminator to the
// application requirement it fulfils. Unknown data types are ignored.
var requirementForDataType = map[string]domain.Requirement{
	"invoices":  domain.RequirementInvoices,
	"customers": domain.RequirementCustomers,
}

// Orchestrator drives the application lifecycle: creation, webhook alerts
// and the hand-off into the financing pipeline.
type Orchestrator struct {
	store       port.ApplicationStore
	client      port.AccountingClient
	catalog     port.PlatformCatalog
	processor   port.FinancingProcessor
	metrics     *observability.Metrics
	logger      *zap.Logger
	linkBaseURL string
}

// NewOrchestrator creates the application orchestrator with all dependencies
// injected.
func NewOrchestrator(
	store port.ApplicationStore,
	client port.AccountingClient,
	catalog port.PlatformCatalog,
	processor port.FinancingProcessor,
	metrics *observability.Metrics,
	logger *zap.Logger,
	linkBaseURL string,
) *Orchestrator {
	return &Orchestrator{
		store:       store,
		client:      client,
		catalog:     catalog,
		processor:   processor,
		metrics:     metrics,
		logger:      logger,
		linkBaseURL: linkBaseURL,
	}
}

// CreateApplication provisions a backing company at the accounting platform
// and records a new application in the Started state. The returned details
// include the link-flow URL the applicant uses to connect their accounting
// software.
func (o *Orchestrator) CreateApplication(ctx context.Context) (*domain.NewApplicationDetails, error) {
	ctx, span := tracer.Start(ctx, "Orchestrator.CreateApplication")
	defer span.End()

	id := uuid.New()
	span.SetAttributes(attribute.String("application.id", id.String()))

	company, err := o.client.CreateCompany(ctx, id.String())
	if err != nil {
		o.metrics.IncrExternalError("accounting")
		return nil, fmt.Errorf("company provisioning: %w", err)
	}

	details, err := o.store.CreateApplication(id, company.ID)
	if err != nil {
		return nil, err
	}
	details.LinkURL = fmt.Sprintf("%s/company/%s", o.linkBaseURL, company.ID)

	o.metrics.IncrApplicationCreated()
	o.logger.Info("application started",
		zap.String("application_id", id.String()),
		zap.String("company_id", company.ID.String()),
	)
	return details, nil
}

// GetApplication returns the application's current state.
func (o *Orchestrator) GetApplication(ctx context.Context, id uuid.UUID) (*domain.Application, error) {
	_, span := tracer.Start(ctx, "Orchestrator.GetApplication")
	defer span.End()
	span.SetAttributes(attribute.String("application.id", id.String()))

	return o.store.GetApplication(id)
}

// HandleConnectionStatus processes a data-connection status alert. Only a
// transition to Linked on an accounting-type platform advances the
// application; every other alert is acknowledged and dropped.
func (o *Orchestrator) HandleConnectionStatus(ctx context.Context, alert domain.ConnectionStatusAlert) error {
	ctx, span := tracer.Start(ctx, "Orchestrator.HandleConnectionStatus")
	defer span.End()
	span.SetAttributes(attribute.String("company.id", alert.CompanyID.String()))

	o.metrics.IncrAlertReceived("connection_status")

	isAccounting, err := o.catalog.IsAccountingPlatform(ctx, alert.Data.PlatformKey)
	if err != nil {
		o.metrics.IncrExternalError("accounting")
		return fmt.Errorf("platform catalog lookup: %w", err)
	}
	if !isAccounting {
		o.logger.Debug("ignoring non-accounting connection",
			zap.String("company_id", alert.CompanyID.String()),
			zap.String("platform_key", alert.Data.PlatformKey),
		)
		return nil
	}

	app, err := o.store.GetApplicationByCompanyID(alert.CompanyID)
	if err != nil {
		return err
	}
	if app.Status.Terminal() {
		o.logger.Warn("dropping connection alert for settled application",
			zap.String("application_id", app.ID.String()),
			zap.String("status", string(app.Status)),
		)
		return nil
	}

	// The connection id is recorded regardless of status so later sync
	// alerts can be matched against it.
	if err := o.store.SetAccountingConnectionForCompany(alert.CompanyID, alert.Data.DataConnectionID); err != nil {
		return err
	}

	if alert.Data.NewStatus != linkedStatus {
		o.logger.Debug("connection not linked yet",
			zap.String("company_id", alert.CompanyID.String()),
			zap.String("new_status", alert.Data.NewStatus),
		)
		return nil
	}
	return o.store.UpdateApplicationStatus(app.ID, domain.StatusAccountsLinked)
}

// HandleDataTypeSync processes a sync-complete alert for one data type. When
// the last outstanding requirement is fulfilled the financing pipeline runs
// before the alert is acknowledged, so the platform retries on failure.
func (o *Orchestrator) HandleDataTypeSync(ctx context.Context, alert domain.DataSyncCompleteAlert) error {
	ctx, span := tracer.Start(ctx, "Orchestrator.HandleDataTypeSync")
	defer span.End()
	span.SetAttributes(
		attribute.String("company.id", alert.CompanyID.String()),
		attribute.String("data.type", alert.Data.DataType),
	)

	o.metrics.IncrAlertReceived("datatype_sync_complete")

	app, err := o.store.GetApplicationByCompanyID(alert.CompanyID)
	if err != nil {
		return err
	}

	if app.AccountingConnectionID == nil {
		return &domain.ErrPrecondition{
			Message: fmt.Sprintf("no accounting connection linked for company %s", alert.CompanyID),
		}
	}
	if *app.AccountingConnectionID != alert.DataConnectionID {
		o.logger.Debug("ignoring sync alert for unknown connection",
			zap.String("company_id", alert.CompanyID.String()),
			zap.String("connection_id", alert.DataConnectionID.String()),
		)
		return nil
	}
	if app.Status.Terminal() {
		o.logger.Warn("dropping sync alert for settled application",
			zap.String("application_id", app.ID.String()),
			zap.String("status", string(app.Status)),
		)
		return nil
	}

	requirement, ok := requirementForDataType[alert.Data.DataType]
	if !ok {
		o.logger.Debug("ignoring sync alert for untracked data type",
			zap.String("company_id", alert.CompanyID.String()),
			zap.String("data_type", alert.Data.DataType),
		)
		return nil
	}

	if err := o.store.AddFulfilledRequirementForCompany(alert.CompanyID, requirement); err != nil {
		return err
	}

	status, err := o.store.RefreshCollectionStatus(app.ID)
	if err != nil {
		return err
	}
	if status != domain.StatusDataCollectionComplete {
		return nil
	}

	return o.processor.ProcessFinancingForApplication(ctx, app.ID)
}
