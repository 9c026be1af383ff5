// Package accounting provides a client for the external accounting
// platform API: company provisioning, the integration catalog, and the
// synced invoice/customer data sets.
package accounting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/finbridge/invoice-financing-api/internal/domain"
	"github.com/finbridge/invoice-financing-api/internal/infra/resilience"
)

var tracer = otel.Tracer("accounting")

// Client wraps HTTP calls to the accounting platform API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	pageSize   int
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
	bulkhead   *resilience.Bulkhead
	logger     *zap.Logger
}

// NewClient creates an accounting platform client.
func NewClient(httpClient *http.Client, baseURL, apiKey string, pageSize int, cb *gobreaker.CircuitBreaker, cfg resilience.Config, bulkhead *resilience.Bulkhead, logger *zap.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		apiKey:     apiKey,
		pageSize:   pageSize,
		cb:         cb,
		cfg:        cfg,
		bulkhead:   bulkhead,
		logger:     logger,
	}
}

// doRequest executes one authenticated request against the platform API.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, payload any) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		c.logger.Error("accounting: failed to create request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}

	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("accounting: request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Error("accounting: failed to read response body",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("accounting: non-2xx response",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)),
		)
		return nil, fmt.Errorf("accounting platform returned status %d: %s", resp.StatusCode, string(body))
	}

	if trimmed := bytes.TrimSpace(body); len(trimmed) == 0 || string(trimmed) == "null" {
		c.logger.Warn("accounting: null payload",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return nil, fmt.Errorf("accounting platform returned a null payload for %s", path)
	}

	c.logger.Debug("accounting: request OK",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
	)

	return body, nil
}

// doResilient wraps one request with the bulkhead, circuit breaker and retry.
// The bulkhead caps concurrent outbound calls during the risk fan-out.
func (c *Client) doResilient(ctx context.Context, method, path string, query url.Values, payload any) ([]byte, error) {
	if err := c.bulkhead.Acquire(ctx); err != nil {
		return nil, err
	}
	defer c.bulkhead.Release()

	var body []byte
	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			var reqErr error
			body, reqErr = c.doRequest(ctx, method, path, query, payload)
			return reqErr
		})
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &domain.ErrCircuitOpen{Service: "accounting"}
		}
		return nil, err
	}
	return body, nil
}

// page is the envelope the platform wraps every paginated data set in.
type page[T any] struct {
	Results      []T `json:"results"`
	PageNumber   int `json:"pageNumber"`
	PageSize     int `json:"pageSize"`
	TotalResults int `json:"totalResults"`
}

// listPaginated walks every server-side page of path and aggregates the
// results. The platform signals the last page via pageNumber*pageSize
// reaching totalResults.
func listPaginated[T any](ctx context.Context, c *Client, path, query string) ([]T, error) {
	var all []T

	for pageNumber := 1; ; pageNumber++ {
		q := url.Values{}
		q.Set("page", strconv.Itoa(pageNumber))
		q.Set("pageSize", strconv.Itoa(c.pageSize))
		if query != "" {
			q.Set("query", query)
		}

		body, err := c.doResilient(ctx, http.MethodGet, path, q, nil)
		if err != nil {
			return nil, err
		}

		var p page[T]
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("failed to decode page %d of %s: %w", pageNumber, path, err)
		}

		all = append(all, p.Results...)

		if p.PageNumber*p.PageSize >= p.TotalResults {
			return all, nil
		}
	}
}

// --- Companies API ---

type wireCompany struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// CreateCompany provisions a company record at the accounting platform.
func (c *Client) CreateCompany(ctx context.Context, name string) (*domain.Company, error) {
	ctx, span := tracer.Start(ctx, "Accounting.CreateCompany")
	defer span.End()

	body, err := c.doResilient(ctx, http.MethodPost, "/companies", nil, map[string]string{"name": name})
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "accounting/companies", Err: err}
	}

	var company wireCompany
	if err := json.Unmarshal(body, &company); err != nil {
		return nil, &domain.ErrExternalService{Service: "accounting/companies", Err: fmt.Errorf("failed to decode company: %w", err)}
	}
	if company.ID == uuid.Nil {
		return nil, &domain.ErrExternalService{Service: "accounting/companies", Err: fmt.Errorf("company payload missing id")}
	}

	span.SetAttributes(attribute.String("company.id", company.ID.String()))
	return &domain.Company{ID: company.ID, Name: company.Name}, nil
}

// --- Integrations API ---

type wirePlatform struct {
	Key string `json:"key"`
}

// ListAccountingPlatforms lists every integration of accounting source type.
func (c *Client) ListAccountingPlatforms(ctx context.Context) ([]domain.Platform, error) {
	ctx, span := tracer.Start(ctx, "Accounting.ListAccountingPlatforms")
	defer span.End()

	rows, err := listPaginated[wirePlatform](ctx, c, "/integrations", "sourceType = Accounting")
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "accounting/integrations", Err: err}
	}

	platforms := make([]domain.Platform, 0, len(rows))
	for _, r := range rows {
		platforms = append(platforms, domain.Platform{Key: r.Key})
	}
	return platforms, nil
}

// --- Company data APIs ---

type wireAddress struct {
	Country string `json:"country"`
}

type wireCustomer struct {
	ID                 string        `json:"id"`
	RegistrationNumber string        `json:"registrationNumber"`
	Addresses          []wireAddress `json:"addresses"`
}

type wireInvoice struct {
	ID            string          `json:"id"`
	InvoiceNumber string          `json:"invoiceNumber"`
	IssueDate     string          `json:"issueDate"`
	DueDate       string          `json:"dueDate"`
	AmountDue     decimal.Decimal `json:"amountDue"`
	CustomerRef   struct {
		ID string `json:"id"`
	} `json:"customerRef"`
}

// unpaidInvoicesQuery selects open USD receivables in the financeable
// amount band.
const unpaidInvoicesQuery = "{status = submitted || status = partiallyPaid} && currency = USD && {amountDue > 50 && amountDue <= 1000}"

// ListUnpaidInvoices lists the company's open receivables eligible for a
// financing offer.
func (c *Client) ListUnpaidInvoices(ctx context.Context, companyID uuid.UUID) ([]domain.Invoice, error) {
	ctx, span := tracer.Start(ctx, "Accounting.ListUnpaidInvoices")
	defer span.End()
	span.SetAttributes(attribute.String("company.id", companyID.String()))

	path := fmt.Sprintf("/companies/%s/data/invoices", companyID)
	rows, err := listPaginated[wireInvoice](ctx, c, path, unpaidInvoicesQuery)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "accounting/invoices", Err: err}
	}

	invoices, err := toInvoices(rows)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "accounting/invoices", Err: err}
	}
	return invoices, nil
}

// ListCustomers lists all customers synced for the company.
func (c *Client) ListCustomers(ctx context.Context, companyID uuid.UUID) ([]domain.Customer, error) {
	ctx, span := tracer.Start(ctx, "Accounting.ListCustomers")
	defer span.End()
	span.SetAttributes(attribute.String("company.id", companyID.String()))

	path := fmt.Sprintf("/companies/%s/data/customers", companyID)
	rows, err := listPaginated[wireCustomer](ctx, c, path, "")
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "accounting/customers", Err: err}
	}

	customers := make([]domain.Customer, 0, len(rows))
	for _, r := range rows {
		addresses := make([]domain.Address, 0, len(r.Addresses))
		for _, a := range r.Addresses {
			addresses = append(addresses, domain.Address{Country: a.Country})
		}
		customers = append(customers, domain.Customer{
			ID:                 r.ID,
			RegistrationNumber: r.RegistrationNumber,
			Addresses:          addresses,
		})
	}
	return customers, nil
}

// ListPaidInvoicesForCustomer lists the company's settled invoices for one
// customer, used for payment-history risk scoring.
func (c *Client) ListPaidInvoicesForCustomer(ctx context.Context, companyID uuid.UUID, customerID string) ([]domain.Invoice, error) {
	ctx, span := tracer.Start(ctx, "Accounting.ListPaidInvoicesForCustomer")
	defer span.End()
	span.SetAttributes(
		attribute.String("company.id", companyID.String()),
		attribute.String("customer.id", customerID),
	)

	path := fmt.Sprintf("/companies/%s/data/invoices", companyID)
	query := fmt.Sprintf("status = paid && customerRef.id = %s", customerID)
	rows, err := listPaginated[wireInvoice](ctx, c, path, query)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "accounting/invoices", Err: err}
	}

	invoices, err := toInvoices(rows)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "accounting/invoices", Err: err}
	}
	return invoices, nil
}

func toInvoices(rows []wireInvoice) ([]domain.Invoice, error) {
	invoices := make([]domain.Invoice, 0, len(rows))
	for _, r := range rows {
		issue, err := parseDate(r.IssueDate)
		if err != nil {
			return nil, fmt.Errorf("invoice %s: bad issueDate %q: %w", r.ID, r.IssueDate, err)
		}
		due, err := parseDate(r.DueDate)
		if err != nil {
			return nil, fmt.Errorf("invoice %s: bad dueDate %q: %w", r.ID, r.DueDate, err)
		}
		invoices = append(invoices, domain.Invoice{
			ID:            r.ID,
			InvoiceNumber: r.InvoiceNumber,
			IssueDate:     issue,
			DueDate:       due,
			AmountDue:     r.AmountDue,
			CustomerID:    r.CustomerRef.ID,
		})
	}
	return invoices, nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
