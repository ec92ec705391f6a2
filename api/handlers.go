/*
handlers.go - HTTP API handlers for the subledger

PURPOSE:
  Exposes the ledger, document totals and posting via REST. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Entities:
    GET    /api/entities                         List customers and suppliers
    POST   /api/entities                         Register one
    GET    /api/entities/{id}                    Entity with current balance

  Ledger:
    GET    /api/entities/{id}/entries            Entries with running balance
    POST   /api/entities/{id}/entries            Manual entry
    GET    /api/entities/{id}/balance            ?as_of=YYYY-MM-DD
    PATCH  /api/entries/{id}                     Edit a manual entry
    DELETE /api/entries/{id}                     Delete a manual entry

  Reconciliation:
    GET    /api/entities/{id}/reconciliation     Check cached vs derived
    POST   /api/entities/{id}/reconciliation/rebuild
    GET    /api/reconciliation                   Last sweep over all entities
    POST   /api/reconciliation/run               Sweep all entities now

  Documents:
    POST   /api/documents/totals                 Compute totals only
    POST   /api/documents/post                   Finalize and post
    POST   /api/documents/{id}/cancel            Reverse posted entries

  Scenarios:
    GET    /api/scenarios                        List demo scenarios
    GET    /api/scenarios/current                Currently loaded scenario
    POST   /api/scenarios/load                   Load a demo scenario

REQUEST FLOW:
  1. Decode JSON
  2. Validate shape (validator struct tags)
  3. Call domain logic (ledger, document, posting)
  4. Serialize response
  5. Map domain errors to statuses (errors.go)

SECURITY NOTE:
  No authentication or authorization. Identity and access control belong to
  the deployment in front of this service.

SEE ALSO:
  - dto.go: Request/response data structures
  - errors.go: Error to status mapping
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/warp/subledger/document"
	"github.com/warp/subledger/ledger"
	"github.com/warp/subledger/money"
	"github.com/warp/subledger/posting"
	"golang.org/x/sync/singleflight"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Resetter clears all stored data. Scenarios use it.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger *ledger.Ledger
	Poster *posting.Poster
	Store  Resetter
	// Sweeper is the background reconciliation scheduler, if one runs.
	Sweeper *ReconciliationScheduler

	log      zerolog.Logger
	validate *validator.Validate
	balances singleflight.Group

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler. store may be nil, which disables
// scenario loading.
func NewHandler(l *ledger.Ledger, p *posting.Poster, store Resetter, log zerolog.Logger) *Handler {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		Ledger:   l,
		Poster:   p,
		Store:    store,
		log:      log,
		validate: v,
	}
}

// decode reads the JSON body into dst and validates it. It writes the
// error response itself and reports whether the handler should continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeValidationError(w, err)
		return false
	}
	return true
}

// =============================================================================
// ENTITY HANDLERS
// =============================================================================

// ListEntities returns all customers and suppliers.
func (h *Handler) ListEntities(w http.ResponseWriter, r *http.Request) {
	entities, err := h.Ledger.Entities(r.Context())
	if err != nil {
		h.writeDomainError(w, r, "Failed to list entities", err)
		return
	}

	kind := r.URL.Query().Get("ledger_type")
	dtos := make([]EntityDTO, 0, len(entities))
	for _, e := range entities {
		if kind != "" && string(e.LedgerType) != kind {
			continue
		}
		dtos = append(dtos, toEntityDTO(e))
	}

	writeJSON(w, http.StatusOK, dtos)
}

// CreateEntity registers a customer or supplier.
func (h *Handler) CreateEntity(w http.ResponseWriter, r *http.Request) {
	var req CreateEntityRequest
	if !h.decode(w, r, &req) {
		return
	}

	if _, err := h.Ledger.Entity(r.Context(), ledger.EntityID(req.ID)); err == nil {
		writeError(w, http.StatusConflict, "Entity already exists", nil)
		return
	}

	e, err := h.Ledger.RegisterEntity(r.Context(), ledger.Entity{
		ID:         ledger.EntityID(req.ID),
		Name:       req.Name,
		Phone:      req.Phone,
		LedgerType: ledger.LedgerType(req.LedgerType),
	})
	if err != nil {
		h.writeDomainError(w, r, "Failed to create entity", err)
		return
	}

	writeJSON(w, http.StatusCreated, toEntityDTO(e))
}

// GetEntity returns a single entity with its current balance.
func (h *Handler) GetEntity(w http.ResponseWriter, r *http.Request) {
	id := ledger.EntityID(chi.URLParam(r, "id"))

	e, err := h.Ledger.Entity(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, "Entity not found", err)
		return
	}
	bal, err := h.balance(r.Context(), id, time.Time{})
	if err != nil {
		h.writeDomainError(w, r, "Failed to compute balance", err)
		return
	}

	dto := toEntityDTO(e)
	dto.Balance = &bal
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

// ListEntries returns an entity's entries in ledger order with running
// balances.
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	id := ledger.EntityID(chi.URLParam(r, "id"))
	if _, err := h.Ledger.Entity(r.Context(), id); err != nil {
		h.writeDomainError(w, r, "Entity not found", err)
		return
	}

	seq, err := h.Ledger.Entries(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, "Failed to list entries", err)
		return
	}

	dtos := []EntryDTO{}
	for e := range seq {
		dtos = append(dtos, toEntryDTO(e))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateEntry appends a manual entry.
func (h *Handler) CreateEntry(w http.ResponseWriter, r *http.Request) {
	id := ledger.EntityID(chi.URLParam(r, "id"))

	var req CreateEntryRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, err := time.Parse(dateLayout, req.TransactionDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid transaction_date format (use YYYY-MM-DD)", err)
		return
	}

	e, err := h.Ledger.Append(r.Context(), ledger.Entry{
		EntityID:        id,
		TransactionType: ledger.TransactionType(req.TransactionType),
		TransactionDate: date,
		Description:     req.Description,
		Reference:       req.Reference,
		PaymentMethod:   req.PaymentMethod,
		Notes:           req.Notes,
		Debit:           req.Debit,
		Credit:          req.Credit,
		IdempotencyKey:  req.IdempotencyKey,
	})
	if err != nil {
		h.writeDomainError(w, r, "Failed to create entry", err)
		return
	}

	writeJSON(w, http.StatusCreated, toEntryDTO(e))
}

// UpdateEntry edits the non-amount fields of a manual entry.
func (h *Handler) UpdateEntry(w http.ResponseWriter, r *http.Request) {
	id := ledger.EntryID(chi.URLParam(r, "id"))

	var req UpdateEntryRequest
	if !h.decode(w, r, &req) {
		return
	}
	patch := ledger.Patch{
		Description:   req.Description,
		Reference:     req.Reference,
		PaymentMethod: req.PaymentMethod,
		Notes:         req.Notes,
	}
	if req.TransactionDate != nil {
		date, err := time.Parse(dateLayout, *req.TransactionDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid transaction_date format (use YYYY-MM-DD)", err)
			return
		}
		patch.TransactionDate = &date
	}

	e, err := h.Ledger.Update(r.Context(), id, patch)
	if err != nil {
		h.writeDomainError(w, r, "Failed to update entry", err)
		return
	}

	writeJSON(w, http.StatusOK, toEntryDTO(e))
}

// DeleteEntry removes a manual entry.
func (h *Handler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	id := ledger.EntryID(chi.URLParam(r, "id"))

	if err := h.Ledger.Delete(r.Context(), id); err != nil {
		h.writeDomainError(w, r, "Failed to delete entry", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetBalance returns the entity's balance, optionally as of a date
// (inclusive of that whole day).
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := ledger.EntityID(chi.URLParam(r, "id"))

	e, err := h.Ledger.Entity(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, "Entity not found", err)
		return
	}

	var asOf time.Time
	asOfStr := r.URL.Query().Get("as_of")
	if asOfStr != "" {
		asOf, err = time.Parse(dateLayout, asOfStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid as_of format (use YYYY-MM-DD)", err)
			return
		}
	}

	bal, err := h.balance(r.Context(), id, asOf)
	if err != nil {
		h.writeDomainError(w, r, "Failed to compute balance", err)
		return
	}

	writeJSON(w, http.StatusOK, BalanceDTO{
		EntityID:   string(id),
		LedgerType: string(e.LedgerType),
		Balance:    bal,
		AsOf:       asOfStr,
	})
}

// balance coalesces concurrent reads of the same entity and date into one
// replay of its history.
func (h *Handler) balance(ctx context.Context, id ledger.EntityID, asOf time.Time) (money.Money, error) {
	key := string(id)
	if !asOf.IsZero() {
		key += "@" + asOf.Format(dateLayout)
	}
	ch := h.balances.DoChan(key, func() (any, error) {
		// Detached so one caller's cancellation doesn't fail the others.
		ctx := context.WithoutCancel(ctx)
		if asOf.IsZero() {
			return h.Ledger.Balance(ctx, id)
		}
		return h.Ledger.BalanceAsOf(ctx, id, ledger.EndOfDay(asOf))
	})
	select {
	case <-ctx.Done():
		return money.Zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return money.Zero, res.Err
		}
		return res.Val.(money.Money), nil
	}
}

// =============================================================================
// RECONCILIATION HANDLERS
// =============================================================================

// GetReconciliation reports whether the cached balance matches history.
// Drift is reported, never corrected here.
func (h *Handler) GetReconciliation(w http.ResponseWriter, r *http.Request) {
	id := ledger.EntityID(chi.URLParam(r, "id"))
	if _, err := h.Ledger.Entity(r.Context(), id); err != nil {
		h.writeDomainError(w, r, "Entity not found", err)
		return
	}

	v, err := h.Ledger.Verify(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, "Failed to verify balance", err)
		return
	}

	writeJSON(w, http.StatusOK, toVerificationDTO(v))
}

// RebuildReconciliation rewrites running and cached balances from history.
func (h *Handler) RebuildReconciliation(w http.ResponseWriter, r *http.Request) {
	id := ledger.EntityID(chi.URLParam(r, "id"))

	v, err := h.Ledger.Rebuild(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, "Failed to rebuild balances", err)
		return
	}

	h.log.Info().Str("entity_id", string(id)).Msg("balances rebuilt via API")
	writeJSON(w, http.StatusOK, toVerificationDTO(v))
}

// GetSweepReport returns the last background sweep, running one if none
// has happened yet.
func (h *Handler) GetSweepReport(w http.ResponseWriter, r *http.Request) {
	if h.Sweeper != nil {
		if report, ok := h.Sweeper.LastReport(); ok {
			writeJSON(w, http.StatusOK, toSweepReportDTO(report))
			return
		}
	}
	h.RunSweep(w, r)
}

// RunSweep verifies every entity now.
func (h *Handler) RunSweep(w http.ResponseWriter, r *http.Request) {
	sweeper := h.Sweeper
	if sweeper == nil {
		sweeper = NewReconciliationScheduler(h.Ledger, 0, h.log)
	}
	report, err := sweeper.RunNow(r.Context())
	if err != nil {
		h.writeDomainError(w, r, "Failed to verify balances", err)
		return
	}
	writeJSON(w, http.StatusOK, toSweepReportDTO(report))
}

// =============================================================================
// DOCUMENT HANDLERS
// =============================================================================

// ComputeTotals returns totals and payment state for a draft without
// touching any ledger.
func (h *Handler) ComputeTotals(w http.ResponseWriter, r *http.Request) {
	var req TotalsRequest
	if !h.decode(w, r, &req) {
		return
	}

	totals, err := document.ComputeTotals(toItems(req.Items), req.Discount, req.TaxRate, req.DeliveryCharge, req.ServiceCharge)
	if err != nil {
		h.writeDomainError(w, r, "Invalid document", err)
		return
	}
	pt := document.PaymentType(req.PaymentType)
	paid, balance, err := document.DerivePayment(pt, totals.Total, req.PaidAmount)
	if err != nil {
		h.writeDomainError(w, r, "Invalid document", err)
		return
	}

	writeJSON(w, http.StatusOK, toTotalsDTO(totals, paid, balance))
}

// PostDocument builds, finalizes and posts a sale or purchase.
func (h *Handler) PostDocument(w http.ResponseWriter, r *http.Request) {
	var req PostDocumentRequest
	if !h.decode(w, r, &req) {
		return
	}

	doc, err := buildDocument(req)
	if err != nil {
		h.writeDomainError(w, r, "Invalid document", err)
		return
	}
	if err := doc.Finalize(); err != nil {
		h.writeDomainError(w, r, "Document cannot be finalized", err)
		return
	}

	entries, err := h.Poster.Post(r.Context(), doc)
	if err != nil {
		h.writeDomainError(w, r, "Failed to post document", err)
		return
	}

	writeJSON(w, http.StatusCreated, PostDocumentResponse{
		DocumentID: doc.ID,
		Status:     string(doc.Status),
		Totals:     toTotalsDTO(doc.Totals, doc.PaidAmount, doc.Balance),
		Entries:    toEntryDTOs(entries),
	})
}

// CancelDocument reverses every un-reversed entry the document posted to
// the given entity.
func (h *Handler) CancelDocument(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "id")

	var req CancelDocumentRequest
	if !h.decode(w, r, &req) {
		return
	}
	at := time.Now().UTC().Truncate(24 * time.Hour)
	if req.Date != "" {
		d, err := time.Parse(dateLayout, req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
			return
		}
		at = d
	}

	entries, err := h.Poster.Reverse(r.Context(), ledger.EntityID(req.EntityID), docID, at)
	if err != nil {
		h.writeDomainError(w, r, "Failed to cancel document", err)
		return
	}

	writeJSON(w, http.StatusOK, PostDocumentResponse{
		DocumentID: docID,
		Status:     string(document.StatusCancelled),
		Entries:    toEntryDTOs(entries),
	})
}

func toItems(reqs []ItemRequest) []document.Item {
	items := make([]document.Item, len(reqs))
	for i, it := range reqs {
		items[i] = document.Item{
			ProductID: it.ProductID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			Cost:      it.Cost,
		}
	}
	return items
}

// buildDocument replays the request through the document's editing
// operations so that every rule a UI edit would hit applies here too.
func buildDocument(req PostDocumentRequest) (*document.Document, error) {
	date, err := time.Parse(dateLayout, req.Date)
	if err != nil {
		return nil, ledger.Invalid("date", "use YYYY-MM-DD")
	}
	doc := document.New(document.Kind(req.Kind), req.ID, ledger.EntityID(req.EntityID), date)
	if req.Number != "" {
		doc.Number = req.Number
	}
	doc.PaymentMethod = req.PaymentMethod

	for _, it := range toItems(req.Items) {
		if err := doc.AddItem(it); err != nil {
			return nil, err
		}
	}
	if err := doc.SetDiscount(req.Discount); err != nil {
		return nil, err
	}
	if err := doc.SetTaxRate(req.TaxRate); err != nil {
		return nil, err
	}
	if err := doc.SetCharges(req.DeliveryCharge, req.ServiceCharge); err != nil {
		return nil, err
	}
	if req.PaymentType != "" {
		if err := doc.SetPaymentType(document.PaymentType(req.PaymentType)); err != nil {
			return nil, err
		}
	}
	switch doc.PaymentType {
	case document.PaymentCredit, document.PaymentExplicit:
		if err := doc.SetPaidAmount(req.PaidAmount); err != nil {
			return nil, err
		}
	}
	if req.DueDate != "" {
		due, err := time.Parse(dateLayout, req.DueDate)
		if err != nil {
			return nil, ledger.Invalid("due_date", "use YYYY-MM-DD")
		}
		if err := doc.SetDueDate(due); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
