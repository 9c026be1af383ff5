package service_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/finbridge/invoice-financing-api/internal/domain"
	"github.com/finbridge/invoice-financing-api/internal/infra/observability"
	"github.com/finbridge/invoice-financing-api/internal/service"
	"github.com/finbridge/invoice-financing-api/internal/store"
)

const testLinkBaseURL = "https://link.example.com"

func buildOrchestrator(client *mockAccounting, applications *store.Memory, catalog *mockCatalog, processor *mockProcessor) *service.Orchestrator {
	return service.NewOrchestrator(
		applications,
		client,
		catalog,
		processor,
		observability.NewMetrics(),
		zap.NewNop(),
		testLinkBaseURL,
	)
}

func startedApplication(t *testing.T, applications *store.Memory) (appID, companyID uuid.UUID) {
	t.Helper()
	appID, companyID = uuid.New(), uuid.New()
	if _, err := applications.CreateApplication(appID, companyID); err != nil {
		t.Fatalf("failed to seed application: %v", err)
	}
	return appID, companyID
}

func linkedAlert(companyID, connID uuid.UUID) domain.ConnectionStatusAlert {
	return domain.ConnectionStatusAlert{
		CompanyID: companyID,
		Data: domain.ConnectionStatusAlertData{
			DataConnectionID: connID,
			NewStatus:        "Linked",
			PlatformKey:      "xero",
		},
	}
}

// --- CreateApplication ---

func TestCreateApplication(t *testing.T) {
	companyID := uuid.New()
	client := &mockAccounting{company: &domain.Company{ID: companyID}}
	applications := store.NewMemory(zap.NewNop())

	orch := buildOrchestrator(client, applications, &mockCatalog{}, &mockProcessor{})

	details, err := orch.CreateApplication(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if details.Status != domain.StatusStarted {
		t.Errorf("expected Started, got %s", details.Status)
	}
	wantURL := testLinkBaseURL + "/company/" + companyID.String()
	if details.LinkURL != wantURL {
		t.Errorf("expected link url %s, got %s", wantURL, details.LinkURL)
	}

	if _, err := applications.GetApplicationByCompanyID(companyID); err != nil {
		t.Errorf("expected application recorded for company, got %v", err)
	}
}

func TestCreateApplication_CompanyProvisioningFails(t *testing.T) {
	client := &mockAccounting{companyErr: errors.New("upstream 500")}
	orch := buildOrchestrator(client, store.NewMemory(zap.NewNop()), &mockCatalog{}, &mockProcessor{})

	_, err := orch.CreateApplication(context.Background())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "company provisioning") {
		t.Errorf("expected provisioning error, got %v", err)
	}
}

// --- HandleConnectionStatus ---

func TestHandleConnectionStatus_Linked(t *testing.T) {
	applications := store.NewMemory(zap.NewNop())
	appID, companyID := startedApplication(t, applications)
	connID := uuid.New()

	catalog := &mockCatalog{accountingKeys: map[string]bool{"xero": true}}
	orch := buildOrchestrator(&mockAccounting{}, applications, catalog, &mockProcessor{})

	if err := orch.HandleConnectionStatus(context.Background(), linkedAlert(companyID, connID)); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	app, _ := applications.GetApplication(appID)
	if app.Status != domain.StatusAccountsLinked {
		t.Errorf("expected AccountsLinked, got %s", app.Status)
	}
	if app.AccountingConnectionID == nil || *app.AccountingConnectionID != connID {
		t.Errorf("expected connection %s recorded, got %v", connID, app.AccountingConnectionID)
	}
}

func TestHandleConnectionStatus_RecordsConnectionBeforeLinked(t *testing.T) {
	applications := store.NewMemory(zap.NewNop())
	appID, companyID := startedApplication(t, applications)
	connID := uuid.New()

	alert := linkedAlert(companyID, connID)
	alert.Data.NewStatus = "PendingAuth"

	catalog := &mockCatalog{accountingKeys: map[string]bool{"xero": true}}
	orch := buildOrchestrator(&mockAccounting{}, applications, catalog, &mockProcessor{})
	if err := orch.HandleConnectionStatus(context.Background(), alert); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	app, _ := applications.GetApplication(appID)
	if app.Status != domain.StatusStarted {
		t.Errorf("status must only advance on Linked, got %s", app.Status)
	}
	if app.AccountingConnectionID == nil || *app.AccountingConnectionID != connID {
		t.Errorf("connection id must be recorded even before Linked, got %v", app.AccountingConnectionID)
	}
}

func TestHandleConnectionStatus_IgnoresNonAccountingPlatform(t *testing.T) {
	applications := store.NewMemory(zap.NewNop())
	appID, companyID := startedApplication(t, applications)

	catalog := &mockCatalog{accountingKeys: map[string]bool{"quickbooks": true}} // xero not accounting here
	orch := buildOrchestrator(&mockAccounting{}, applications, catalog, &mockProcessor{})

	if err := orch.HandleConnectionStatus(context.Background(), linkedAlert(companyID, uuid.New())); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	app, _ := applications.GetApplication(appID)
	if app.Status != domain.StatusStarted {
		t.Errorf("expected Started, got %s", app.Status)
	}
}

func TestHandleConnectionStatus_UnknownCompany(t *testing.T) {
	catalog := &mockCatalog{accountingKeys: map[string]bool{"xero": true}}
	orch := buildOrchestrator(&mockAccounting{}, store.NewMemory(zap.NewNop()), catalog, &mockProcessor{})

	err := orch.HandleConnectionStatus(context.Background(), linkedAlert(uuid.New(), uuid.New()))

	var notFound *domain.ErrNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHandleConnectionStatus_SettledApplicationUntouched(t *testing.T) {
	applications := store.NewMemory(zap.NewNop())
	appID, companyID := startedApplication(t, applications)
	applications.UpdateApplicationStatus(appID, domain.StatusComplete)

	catalog := &mockCatalog{accountingKeys: map[string]bool{"xero": true}}
	orch := buildOrchestrator(&mockAccounting{}, applications, catalog, &mockProcessor{})

	if err := orch.HandleConnectionStatus(context.Background(), linkedAlert(companyID, uuid.New())); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	app, _ := applications.GetApplication(appID)
	if app.Status != domain.StatusComplete {
		t.Errorf("replayed alert must not revert a settled application, got %s", app.Status)
	}
}

// --- HandleDataTypeSync ---

func syncAlert(companyID, connID uuid.UUID, dataType string) domain.DataSyncCompleteAlert {
	return domain.DataSyncCompleteAlert{
		CompanyID:        companyID,
		DataConnectionID: connID,
		Data:             domain.DataSyncCompleteAlertData{DataType: dataType},
	}
}

func TestHandleDataTypeSync_NoConnectionLinked(t *testing.T) {
	applications := store.NewMemory(zap.NewNop())
	_, companyID := startedApplication(t, applications)

	orch := buildOrchestrator(&mockAccounting{}, applications, &mockCatalog{}, &mockProcessor{})
	err := orch.HandleDataTypeSync(context.Background(), syncAlert(companyID, uuid.New(), "invoices"))

	var precondition *domain.ErrPrecondition
	if !errors.As(err, &precondition) {
		t.Fatalf("expected ErrPrecondition, got %v", err)
	}
}

func TestHandleDataTypeSync_MismatchedConnectionIgnored(t *testing.T) {
	applications := store.NewMemory(zap.NewNop())
	appID, companyID := startedApplication(t, applications)
	applications.SetAccountingConnectionForCompany(companyID, uuid.New())

	orch := buildOrchestrator(&mockAccounting{}, applications, &mockCatalog{}, &mockProcessor{})
	if err := orch.HandleDataTypeSync(context.Background(), syncAlert(companyID, uuid.New(), "invoices")); err != nil {
		t.Fatalf("expected silent drop, got %v", err)
	}

	app, _ := applications.GetApplication(appID)
	if len(app.Requirements) != 0 {
		t.Errorf("mismatched connection must not fulfil requirements, got %v", app.Requirements)
	}
}

func TestHandleDataTypeSync_UnknownDataTypeIgnored(t *testing.T) {
	applications := store.NewMemory(zap.NewNop())
	appID, companyID := startedApplication(t, applications)
	connID := uuid.New()
	applications.SetAccountingConnectionForCompany(companyID, connID)

	orch := buildOrchestrator(&mockAccounting{}, applications, &mockCatalog{}, &mockProcessor{})
	if err := orch.HandleDataTypeSync(context.Background(), syncAlert(companyID, connID, "bankTransactions")); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	app, _ := applications.GetApplication(appID)
	if len(app.Requirements) != 0 {
		t.Errorf("untracked data type must not fulfil requirements, got %v", app.Requirements)
	}
}

func TestHandleDataTypeSync_RunsPipelineWhenCollectionCompletes(t *testing.T) {
	applications := store.NewMemory(zap.NewNop())
	appID, companyID := startedApplication(t, applications)
	connID := uuid.New()
	applications.UpdateApplicationStatus(appID, domain.StatusAccountsLinked)
	applications.SetAccountingConnectionForCompany(companyID, connID)

	processor := &mockProcessor{}
	orch := buildOrchestrator(&mockAccounting{}, applications, &mockCatalog{}, processor)

	// First sync: still collecting, pipeline not triggered
	if err := orch.HandleDataTypeSync(context.Background(), syncAlert(companyID, connID, "invoices")); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(processor.calls) != 0 {
		t.Fatalf("pipeline must not run before all requirements fulfilled")
	}
	if status, _ := applications.GetApplicationStatus(appID); status != domain.StatusCollectingData {
		t.Errorf("expected CollectingData, got %s", status)
	}

	// Second sync: collection complete, pipeline runs
	if err := orch.HandleDataTypeSync(context.Background(), syncAlert(companyID, connID, "customers")); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(processor.calls) != 1 || processor.calls[0] != appID {
		t.Fatalf("expected one pipeline run for %s, got %v", appID, processor.calls)
	}
}

func TestHandleDataTypeSync_PipelineErrorPropagates(t *testing.T) {
	applications := store.NewMemory(zap.NewNop())
	appID, companyID := startedApplication(t, applications)
	connID := uuid.New()
	applications.UpdateApplicationStatus(appID, domain.StatusAccountsLinked)
	applications.SetAccountingConnectionForCompany(companyID, connID)

	processor := &mockProcessor{err: &domain.ErrProcessing{ApplicationID: appID, Err: errors.New("upstream 500")}}
	orch := buildOrchestrator(&mockAccounting{}, applications, &mockCatalog{}, processor)

	orch.HandleDataTypeSync(context.Background(), syncAlert(companyID, connID, "invoices"))
	err := orch.HandleDataTypeSync(context.Background(), syncAlert(companyID, connID, "customers"))

	var processing *domain.ErrProcessing
	if !errors.As(err, &processing) {
		t.Fatalf("expected ErrProcessing, got %v", err)
	}
}
