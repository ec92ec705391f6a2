/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

AMOUNTS:
  money.Money marshals as a decimal string ("170.50") and accepts either a
  string or a JSON number on input. Dates are YYYY-MM-DD.

VALIDATION:
  Shape is checked with go-playground/validator struct tags before the
  request reaches the domain; business rules stay in ledger and document.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/subledger/document"
	"github.com/warp/subledger/ledger"
	"github.com/warp/subledger/money"
)

const dateLayout = "2006-01-02"

// =============================================================================
// ENTITIES
// =============================================================================

// EntityDTO represents a customer or supplier in API responses.
type EntityDTO struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Phone      string       `json:"phone,omitempty"`
	LedgerType string       `json:"ledger_type"`
	Balance    *money.Money `json:"balance,omitempty"`
	CreatedAt  string       `json:"created_at,omitempty"`
}

// CreateEntityRequest is the request to register a customer or supplier.
type CreateEntityRequest struct {
	ID         string `json:"id" validate:"required,max=64"`
	Name       string `json:"name" validate:"required,max=200"`
	Phone      string `json:"phone" validate:"omitempty,max=32"`
	LedgerType string `json:"ledger_type" validate:"required,oneof=customer supplier"`
}

func toEntityDTO(e ledger.Entity) EntityDTO {
	return EntityDTO{
		ID:         string(e.ID),
		Name:       e.Name,
		Phone:      e.Phone,
		LedgerType: string(e.LedgerType),
		CreatedAt:  e.CreatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// ENTRIES
// =============================================================================

// EntryDTO represents a ledger entry with its running balance.
type EntryDTO struct {
	ID              string      `json:"id"`
	EntityID        string      `json:"entity_id"`
	LedgerType      string      `json:"ledger_type"`
	TransactionType string      `json:"transaction_type"`
	TransactionDate string      `json:"transaction_date"`
	Description     string      `json:"description,omitempty"`
	Reference       string      `json:"reference,omitempty"`
	PaymentMethod   string      `json:"payment_method,omitempty"`
	Notes           string      `json:"notes,omitempty"`
	Debit           money.Money `json:"debit"`
	Credit          money.Money `json:"credit"`
	Balance         money.Money `json:"balance"`
	ReferenceID     string      `json:"reference_id,omitempty"`
	SystemGenerated bool        `json:"system_generated"`
	CreatedAt       string      `json:"created_at"`
}

func toEntryDTO(e ledger.Entry) EntryDTO {
	return EntryDTO{
		ID:              string(e.ID),
		EntityID:        string(e.EntityID),
		LedgerType:      string(e.LedgerType),
		TransactionType: string(e.TransactionType),
		TransactionDate: e.TransactionDate.Format(dateLayout),
		Description:     e.Description,
		Reference:       e.Reference,
		PaymentMethod:   e.PaymentMethod,
		Notes:           e.Notes,
		Debit:           e.Debit,
		Credit:          e.Credit,
		Balance:         e.Balance,
		ReferenceID:     e.ReferenceID,
		SystemGenerated: e.IsSystemGenerated(),
		CreatedAt:       e.CreatedAt.Format(time.RFC3339),
	}
}

func toEntryDTOs(entries []ledger.Entry) []EntryDTO {
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	return dtos
}

// CreateEntryRequest is a manual entry: opening balance, adjustment, note
// or out-of-band payment. It cannot carry a document reference.
type CreateEntryRequest struct {
	TransactionType string      `json:"transaction_type" validate:"required"`
	TransactionDate string      `json:"transaction_date" validate:"required,datetime=2006-01-02"`
	Description     string      `json:"description" validate:"max=500"`
	Reference       string      `json:"reference" validate:"max=100"`
	PaymentMethod   string      `json:"payment_method" validate:"max=50"`
	Notes           string      `json:"notes" validate:"max=2000"`
	Debit           money.Money `json:"debit"`
	Credit          money.Money `json:"credit"`
	IdempotencyKey  string      `json:"idempotency_key" validate:"max=200"`
}

// UpdateEntryRequest patches the non-amount fields of a manual entry.
// Amounts are not accepted: delete and re-enter instead.
type UpdateEntryRequest struct {
	TransactionDate *string `json:"transaction_date" validate:"omitempty,datetime=2006-01-02"`
	Description     *string `json:"description" validate:"omitempty,max=500"`
	Reference       *string `json:"reference" validate:"omitempty,max=100"`
	PaymentMethod   *string `json:"payment_method" validate:"omitempty,max=50"`
	Notes           *string `json:"notes" validate:"omitempty,max=2000"`
}

// BalanceDTO is an entity's balance, optionally as of a date.
type BalanceDTO struct {
	EntityID   string      `json:"entity_id"`
	LedgerType string      `json:"ledger_type"`
	Balance    money.Money `json:"balance"`
	AsOf       string      `json:"as_of,omitempty"`
}

// VerificationDTO is the result of a reconciliation check.
type VerificationDTO struct {
	EntityID   string      `json:"entity_id"`
	Consistent bool        `json:"consistent"`
	Stale      bool        `json:"stale"`
	Stored     money.Money `json:"stored"`
	Derived    money.Money `json:"derived"`
	Entries    int         `json:"entries"`
}

func toVerificationDTO(v ledger.Verification) VerificationDTO {
	return VerificationDTO{
		EntityID:   string(v.EntityID),
		Consistent: v.Consistent,
		Stale:      v.Stale,
		Stored:     v.Stored,
		Derived:    v.Derived,
		Entries:    v.Entries,
	}
}

// SweepReportDTO is a reconciliation pass over every entity.
type SweepReportDTO struct {
	RanAt   string            `json:"ran_at"`
	Checked int               `json:"checked"`
	Stale   int               `json:"stale"`
	Drifted []VerificationDTO `json:"drifted"`
}

func toSweepReportDTO(r SweepReport) SweepReportDTO {
	drifted := make([]VerificationDTO, len(r.Drifted))
	for i, v := range r.Drifted {
		drifted[i] = toVerificationDTO(v)
	}
	return SweepReportDTO{
		RanAt:   r.RanAt.Format(time.RFC3339),
		Checked: r.Checked,
		Stale:   r.Stale,
		Drifted: drifted,
	}
}

// =============================================================================
// DOCUMENTS
// =============================================================================

// ItemRequest is one document line.
type ItemRequest struct {
	ProductID string          `json:"product_id" validate:"max=64"`
	Name      string          `json:"name" validate:"max=200"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice money.Money     `json:"unit_price"`
	Cost      money.Money     `json:"cost"`
}

// TotalsRequest computes totals and payment state without posting.
type TotalsRequest struct {
	Items          []ItemRequest   `json:"items" validate:"dive"`
	Discount       money.Money     `json:"discount"`
	TaxRate        decimal.Decimal `json:"tax_rate"`
	DeliveryCharge money.Money     `json:"delivery_charge"`
	ServiceCharge  money.Money     `json:"service_charge"`
	PaymentType    string          `json:"payment_type" validate:"omitempty,oneof=cash credit pending"`
	PaidAmount     money.Money     `json:"paid_amount"`
}

// TotalsDTO is the financial summary plus derived payment state.
type TotalsDTO struct {
	Subtotal    money.Money `json:"subtotal"`
	Discount    money.Money `json:"discount"`
	Taxable     money.Money `json:"taxable"`
	Tax         money.Money `json:"tax"`
	Total       money.Money `json:"total"`
	TotalCost   money.Money `json:"total_cost"`
	TotalProfit money.Money `json:"total_profit"`
	PaidAmount  money.Money `json:"paid_amount"`
	Balance     money.Money `json:"balance"`
}

func toTotalsDTO(t document.Totals, paid, balance money.Money) TotalsDTO {
	return TotalsDTO{
		Subtotal:    t.Subtotal,
		Discount:    t.Discount,
		Taxable:     t.Taxable,
		Tax:         t.Tax,
		Total:       t.Total,
		TotalCost:   t.TotalCost,
		TotalProfit: t.TotalProfit,
		PaidAmount:  paid,
		Balance:     balance,
	}
}

// PostDocumentRequest finalizes and posts a sale or purchase.
type PostDocumentRequest struct {
	ID       string `json:"id" validate:"required,max=64"`
	Number   string `json:"number" validate:"max=64"`
	Kind     string `json:"kind" validate:"required,oneof=sale purchase"`
	EntityID string `json:"entity_id" validate:"max=64"`
	Date     string `json:"date" validate:"required,datetime=2006-01-02"`

	Items          []ItemRequest   `json:"items" validate:"required,min=1,dive"`
	Discount       money.Money     `json:"discount"`
	TaxRate        decimal.Decimal `json:"tax_rate"`
	DeliveryCharge money.Money     `json:"delivery_charge"`
	ServiceCharge  money.Money     `json:"service_charge"`

	PaymentType   string      `json:"payment_type" validate:"omitempty,oneof=cash credit pending"`
	PaymentMethod string      `json:"payment_method" validate:"max=50"`
	PaidAmount    money.Money `json:"paid_amount"`
	DueDate       string      `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
}

// PostDocumentResponse reports what posting wrote.
type PostDocumentResponse struct {
	DocumentID string     `json:"document_id"`
	Status     string     `json:"status"`
	Totals     TotalsDTO  `json:"totals"`
	Entries    []EntryDTO `json:"entries"`
}

// CancelDocumentRequest reverses a posted document on one entity's ledger.
type CancelDocumentRequest struct {
	EntityID string `json:"entity_id" validate:"required,max=64"`
	Date     string `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Field   string `json:"field,omitempty"`
}
