// Package domain defines the core business entities for the invoice
// financing service. These models are independent of external services and
// represent the canonical data structures used throughout the application.
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ============================================================
// Application lifecycle
// ============================================================

// Status is the lifecycle state of a financing application.
type Status string

const (
	StatusStarted                Status = "Started"
	StatusAccountsLinked         Status = "AccountsLinked"
	StatusCollectingData         Status = "CollectingData"
	StatusDataCollectionComplete Status = "DataCollectionComplete"
	StatusProcessing             Status = "Processing"
	StatusComplete               Status = "Complete"
	StatusProcessingError        Status = "ProcessingError"
)

// Terminal reports whether no further alert may move the application.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusProcessingError
}

// Requirement is a data category that must be synced from the accounting
// platform before financing decisions can be computed.
type Requirement string

const (
	RequirementInvoices  Requirement = "Invoices"
	RequirementCustomers Requirement = "Customers"
)

// AllRequirements is the full, statically known requirement set.
var AllRequirements = []Requirement{RequirementInvoices, RequirementCustomers}

// Application is a single financing request tracked end-to-end from creation
// to a terminal outcome. Only status and decisions are serialized to clients;
// the remaining fields are internal bookkeeping.
type Application struct {
	ID                     uuid.UUID     `json:"-"`
	CompanyID              uuid.UUID     `json:"-"`
	AccountingConnectionID *uuid.UUID    `json:"-"`
	Requirements           []Requirement `json:"-"`

	Status    Status            `json:"status"`
	Decisions []InvoiceDecision `json:"decisions,omitempty"`
}

// HasRequirement reports whether the requirement is already fulfilled.
func (a *Application) HasRequirement(r Requirement) bool {
	for _, have := range a.Requirements {
		if have == r {
			return true
		}
	}
	return false
}

// RequirementsMet reports whether every requirement in the full set is
// fulfilled.
func (a *Application) RequirementsMet() bool {
	for _, want := range AllRequirements {
		if !a.HasRequirement(want) {
			return false
		}
	}
	return true
}

// NewApplicationDetails is returned when an application is started. The
// company id is internal and never serialized to clients.
type NewApplicationDetails struct {
	ID        uuid.UUID `json:"id"`
	Status    Status    `json:"status"`
	LinkURL   string    `json:"linkUrl"`
	CompanyID uuid.UUID `json:"-"`
}

// ============================================================
// Accounting platform data
// ============================================================

// Company is the backing record provisioned at the accounting platform for
// each application.
type Company struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// Platform is an accounting-platform connector listed by the catalog.
type Platform struct {
	Key string `json:"key"`
}

// Address is a country-coded customer address.
type Address struct {
	Country string `json:"country"`
}

// Customer is a debtor of the applicant company, as synced from the
// accounting platform.
type Customer struct {
	ID                 string    `json:"id"`
	RegistrationNumber string    `json:"registrationNumber"`
	Addresses          []Address `json:"addresses"`
}

// Qualifies reports whether the customer is eligible for risk scoring:
// every address is in the home country and a registration number is present.
func (c *Customer) Qualifies(homeCountry string) bool {
	if c.RegistrationNumber == "" {
		return false
	}
	for _, a := range c.Addresses {
		if a.Country != homeCountry {
			return false
		}
	}
	return true
}

// Invoice is a receivable of the applicant company.
type Invoice struct {
	ID            string          `json:"id"`
	InvoiceNumber string          `json:"invoiceNumber"`
	IssueDate     time.Time       `json:"issueDate"`
	DueDate       time.Time       `json:"dueDate"`
	AmountDue     decimal.Decimal `json:"amountDue"`
	CustomerID    string          `json:"customerId"`
}

// CustomerRisk is the concentration risk computed for one customer during a
// processing run. It is transient and never persisted.
type CustomerRisk struct {
	CustomerID string
	Risk       decimal.Decimal
}

// InvoiceDecision is the financing offer computed for a single eligible
// invoice: the advance amount and the rate.
type InvoiceDecision struct {
	InvoiceID   string          `json:"invoiceId"`
	InvoiceNo   string          `json:"invoiceNo"`
	AmountDue   decimal.Decimal `json:"amountDue"`
	OfferAmount decimal.Decimal `json:"offerAmount"`
	Rate        decimal.Decimal `json:"rate"`
}

// ============================================================
// Webhook alerts
// ============================================================

// ConnectionStatusAlert notifies that a company's data connection changed
// status (e.g. the applicant linked their accounting platform).
type ConnectionStatusAlert struct {
	CompanyID uuid.UUID                 `json:"companyId"`
	Data      ConnectionStatusAlertData `json:"data"`
}

// ConnectionStatusAlertData is the payload of a connection-status alert.
type ConnectionStatusAlertData struct {
	DataConnectionID uuid.UUID `json:"dataConnectionId"`
	NewStatus        string    `json:"newStatus"`
	PlatformKey      string    `json:"platformKey"`
}

// DataSyncCompleteAlert notifies that one data type finished syncing for a
// company's data connection.
type DataSyncCompleteAlert struct {
	CompanyID        uuid.UUID                 `json:"companyId"`
	DataConnectionID uuid.UUID                 `json:"dataConnectionId"`
	Data             DataSyncCompleteAlertData `json:"data"`
}

// DataSyncCompleteAlertData is the payload of a sync-complete alert.
type DataSyncCompleteAlertData struct {
	DataType string `json:"dataType"`
}

// ============================================================
// Operational API responses
// ============================================================

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded, unhealthy
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth represents the health of an individual dependency.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	LatencyMs   int64  `json:"latencyMs"`
	LastChecked string `json:"lastChecked"`
}

// PipelineMetrics is returned by GET /v1/metrics/pipeline.
type PipelineMetrics struct {
	ApplicationsCreated int64   `json:"totalApplications"`
	AlertsReceived      int64   `json:"alertsReceived"`
	ProcessingRuns      int64   `json:"processingRuns"`
	ProcessingErrors    int64   `json:"processingErrors"`
	DecisionsIssued     int64   `json:"decisionsIssued"`
	ErrorRate           float64 `json:"errorRate"`
	CatalogCacheHitRate float64 `json:"catalogCacheHitRate"`
}
