// Package store holds application records. The in-memory implementation is
// the single point of mutation for application state; all reads return
// snapshot copies so callers never share internal state.
package store

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/finbridge/invoice-financing-api/internal/domain"
)

// Memory is a thread-safe in-memory application store.
type Memory struct {
	mu        sync.RWMutex
	byID      map[uuid.UUID]*domain.Application
	byCompany map[uuid.UUID]uuid.UUID
	logger    *zap.Logger
}

// NewMemory creates an empty in-memory store.
func NewMemory(logger *zap.Logger) *Memory {
	return &Memory{
		byID:      make(map[uuid.UUID]*domain.Application),
		byCompany: make(map[uuid.UUID]uuid.UUID),
		logger:    logger,
	}
}

// CreateApplication records a new application in the Started state.
func (s *Memory) CreateApplication(id, companyID uuid.UUID) (*domain.NewApplicationDetails, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[id]; exists {
		return nil, &domain.ErrDuplicate{Resource: "application", ID: id.String()}
	}

	s.byID[id] = &domain.Application{
		ID:        id,
		CompanyID: companyID,
		Status:    domain.StatusStarted,
	}
	s.byCompany[companyID] = id

	s.logger.Info("application created",
		zap.String("application_id", id.String()),
		zap.String("company_id", companyID.String()),
	)

	return &domain.NewApplicationDetails{
		ID:        id,
		Status:    domain.StatusStarted,
		CompanyID: companyID,
	}, nil
}

// GetApplication returns a snapshot of the application.
func (s *Memory) GetApplication(id uuid.UUID) (*domain.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	app, ok := s.byID[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "application", ID: id.String()}
	}
	return snapshot(app), nil
}

// GetApplicationByCompanyID returns a snapshot of the application backed by
// the given company.
func (s *Memory) GetApplicationByCompanyID(companyID uuid.UUID) (*domain.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byCompany[companyID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "application", ID: companyID.String()}
	}
	return snapshot(s.byID[id]), nil
}

// GetApplicationStatus returns the application's current status.
func (s *Memory) GetApplicationStatus(id uuid.UUID) (domain.Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	app, ok := s.byID[id]
	if !ok {
		return "", &domain.ErrNotFound{Resource: "application", ID: id.String()}
	}
	return app.Status, nil
}

// UpdateApplicationStatus sets the application's status.
func (s *Memory) UpdateApplicationStatus(id uuid.UUID, status domain.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	app, ok := s.byID[id]
	if !ok {
		return &domain.ErrNotFound{Resource: "application", ID: id.String()}
	}

	s.logger.Info("application status changed",
		zap.String("application_id", id.String()),
		zap.String("from", string(app.Status)),
		zap.String("to", string(status)),
	)
	app.Status = status
	return nil
}

// SetAccountingConnectionForCompany records the accounting data connection
// linked by the applicant.
func (s *Memory) SetAccountingConnectionForCompany(companyID, connectionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	app, err := s.byCompanyLocked(companyID)
	if err != nil {
		return err
	}

	conn := connectionID
	app.AccountingConnectionID = &conn
	return nil
}

// AddFulfilledRequirementForCompany marks one data requirement as synced.
// Repeated fulfilment of the same requirement is a no-op.
func (s *Memory) AddFulfilledRequirementForCompany(companyID uuid.UUID, requirement domain.Requirement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	app, err := s.byCompanyLocked(companyID)
	if err != nil {
		return err
	}

	if !app.HasRequirement(requirement) {
		app.Requirements = append(app.Requirements, requirement)
	}
	return nil
}

// AddInvoiceDecisions attaches the computed financing decisions.
func (s *Memory) AddInvoiceDecisions(id uuid.UUID, decisions []domain.InvoiceDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	app, ok := s.byID[id]
	if !ok {
		return &domain.ErrNotFound{Resource: "application", ID: id.String()}
	}

	app.Decisions = append([]domain.InvoiceDecision(nil), decisions...)
	return nil
}

// RefreshCollectionStatus recomputes the collection status from the fulfilled
// requirements under one lock, so concurrent sync alerts cannot interleave
// between the requirement check and the status write. Applications past data
// collection (Processing or terminal) are left untouched.
func (s *Memory) RefreshCollectionStatus(id uuid.UUID) (domain.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	app, ok := s.byID[id]
	if !ok {
		return "", &domain.ErrNotFound{Resource: "application", ID: id.String()}
	}

	switch app.Status {
	case domain.StatusAccountsLinked, domain.StatusCollectingData, domain.StatusDataCollectionComplete:
		if app.RequirementsMet() {
			app.Status = domain.StatusDataCollectionComplete
		} else {
			app.Status = domain.StatusCollectingData
		}
	}
	return app.Status, nil
}

func (s *Memory) byCompanyLocked(companyID uuid.UUID) (*domain.Application, error) {
	id, ok := s.byCompany[companyID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "application", ID: companyID.String()}
	}
	return s.byID[id], nil
}

// snapshot deep-copies an application so callers cannot mutate stored state.
func snapshot(app *domain.Application) *domain.Application {
	cp := *app
	if app.AccountingConnectionID != nil {
		conn := *app.AccountingConnectionID
		cp.AccountingConnectionID = &conn
	}
	cp.Requirements = append([]domain.Requirement(nil), app.Requirements...)
	cp.Decisions = append([]domain.InvoiceDecision(nil), app.Decisions...)
	return &cp
}
