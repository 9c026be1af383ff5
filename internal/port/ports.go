// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"

	"github.com/google/uuid"

	"github.com/finbridge/invoice-financing-api/internal/domain"
)

// AccountingClient retrieves accounting data for a company from the external
// accounting platform. List operations aggregate all server-side pages into a
// single slice before returning.
type AccountingClient interface {
	CreateCompany(ctx context.Context, name string) (*domain.Company, error)
	ListAccountingPlatforms(ctx context.Context) ([]domain.Platform, error)
	ListUnpaidInvoices(ctx context.Context, companyID uuid.UUID) ([]domain.Invoice, error)
	ListCustomers(ctx context.Context, companyID uuid.UUID) ([]domain.Customer, error)
	ListPaidInvoicesForCustomer(ctx context.Context, companyID uuid.UUID, customerID string) ([]domain.Invoice, error)
}

// PlatformCatalog resolves whether a connector key denotes an accounting-type
// data source.
type PlatformCatalog interface {
	IsAccountingPlatform(ctx context.Context, platformKey string) (bool, error)
}

// ApplicationStore owns all application records and is the single point of
// mutation. Reads return snapshots; callers never see shared state.
type ApplicationStore interface {
	CreateApplication(id, companyID uuid.UUID) (*domain.NewApplicationDetails, error)
	GetApplication(id uuid.UUID) (*domain.Application, error)
	GetApplicationByCompanyID(companyID uuid.UUID) (*domain.Application, error)
	GetApplicationStatus(id uuid.UUID) (domain.Status, error)
	UpdateApplicationStatus(id uuid.UUID, status domain.Status) error
	SetAccountingConnectionForCompany(companyID, connectionID uuid.UUID) error
	AddFulfilledRequirementForCompany(companyID uuid.UUID, requirement domain.Requirement) error
	AddInvoiceDecisions(id uuid.UUID, decisions []domain.InvoiceDecision) error

	// RefreshCollectionStatus atomically recomputes the collection status from
	// the fulfilled requirements (CollectingData vs DataCollectionComplete)
	// and returns the resulting status. Terminal applications are left
	// untouched.
	RefreshCollectionStatus(id uuid.UUID) (domain.Status, error)
}

// FinancingProcessor runs the financing pipeline for one application.
type FinancingProcessor interface {
	ProcessFinancingForApplication(ctx context.Context, id uuid.UUID) error
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}
