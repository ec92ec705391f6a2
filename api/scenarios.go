/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	ledgers for demos. Each scenario registers customers or suppliers and
	writes entries through the same ledger and posting paths the API uses.

AVAILABLE SCENARIOS:

	customer-receivable: sale then partial payment, balance per day
	supplier-settled:    purchase paid the same day, entered out of order
	posted-invoice:      credit invoice posted from a document, immutable
	cancelled-purchase:  purchase posted then cancelled by reversal

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Register entities and rebuild their cached balance from empty history
 3. Append manual entries or post documents

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "posted-invoice"}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/subledger/document"
	"github.com/warp/subledger/ledger"
	"github.com/warp/subledger/money"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "customer-receivable",
		Name:        "Customer Receivable",
		Description: "Sale of 500 on day 1, payment of 200 on day 2: balance 500 then 300",
	},
	{
		ID:          "supplier-settled",
		Name:        "Settled Supplier",
		Description: "Purchase of 1000 paid in full the same day, entered payment first: balance 0",
	},
	{
		ID:          "posted-invoice",
		Name:        "Posted Invoice",
		Description: "Credit invoice of 220 with 50 paid, posted from a document; its entries are immutable",
	},
	{
		ID:          "cancelled-purchase",
		Name:        "Cancelled Purchase",
		Description: "Purchase posted then cancelled: reversal entries bring the supplier back to 0",
	},
}

var scenarioLoaders = map[string]func(h *Handler, ctx context.Context) error{
	"customer-receivable": (*Handler).loadCustomerReceivable,
	"supplier-settled":    (*Handler).loadSupplierSettled,
	"posted-invoice":      (*Handler).loadPostedInvoice,
	"cancelled-purchase":  (*Handler).loadCancelledPurchase,
}

func scenarioDay(n int) time.Time {
	return time.Date(2025, time.March, n, 0, 0, 0, 0, time.UTC)
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}
	if h.Store == nil {
		writeError(w, http.StatusNotImplemented, "Scenarios are disabled for this store", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		h.writeDomainError(w, r, "Failed to reset store", err)
		return
	}
	h.currentScenario = ""

	if err := load(h, ctx); err != nil {
		h.writeDomainError(w, r, fmt.Sprintf("Failed to load scenario %s", req.ScenarioID), err)
		return
	}

	h.currentScenario = req.ScenarioID
	h.log.Info().Str("scenario", req.ScenarioID).Msg("scenario loaded")
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// seedEntity registers e and rewrites its cached balance from its (empty)
// history, so a shared cache that outlived the reset cannot report drift.
func (h *Handler) seedEntity(ctx context.Context, e ledger.Entity) error {
	if _, err := h.Ledger.RegisterEntity(ctx, e); err != nil {
		return err
	}
	_, err := h.Ledger.Rebuild(ctx, e.ID)
	return err
}

func (h *Handler) loadCustomerReceivable(ctx context.Context) error {
	if err := h.seedEntity(ctx, ledger.Entity{ID: "cust-acme", Name: "Acme Retail", Phone: "555-0100", LedgerType: ledger.LedgerCustomer}); err != nil {
		return err
	}
	_, err := h.Ledger.Append(ctx, ledger.Entry{
		EntityID: "cust-acme", TransactionType: ledger.TxSale, TransactionDate: scenarioDay(1),
		Description: "Counter sale on account", Debit: money.FromInt(500),
	})
	if err != nil {
		return err
	}
	_, err = h.Ledger.Append(ctx, ledger.Entry{
		EntityID: "cust-acme", TransactionType: ledger.TxPaymentReceived, TransactionDate: scenarioDay(2),
		Description: "Part payment", PaymentMethod: "cash", Credit: money.FromInt(200),
	})
	return err
}

func (h *Handler) loadSupplierSettled(ctx context.Context) error {
	if err := h.seedEntity(ctx, ledger.Entity{ID: "supp-bolt", Name: "Bolt Wholesale", LedgerType: ledger.LedgerSupplier}); err != nil {
		return err
	}
	// Payment first: ledger order is by date then insertion, and the
	// balance is the same either way.
	_, err := h.Ledger.Append(ctx, ledger.Entry{
		EntityID: "supp-bolt", TransactionType: ledger.TxPaymentMade, TransactionDate: scenarioDay(1),
		Description: "Bank transfer", PaymentMethod: "bank", Debit: money.FromInt(1000),
	})
	if err != nil {
		return err
	}
	_, err = h.Ledger.Append(ctx, ledger.Entry{
		EntityID: "supp-bolt", TransactionType: ledger.TxPurchase, TransactionDate: scenarioDay(1),
		Description: "Stock purchase", Credit: money.FromInt(1000),
	})
	return err
}

func (h *Handler) loadPostedInvoice(ctx context.Context) error {
	if err := h.seedEntity(ctx, ledger.Entity{ID: "cust-acme", Name: "Acme Retail", LedgerType: ledger.LedgerCustomer}); err != nil {
		return err
	}
	if _, err := h.Ledger.Append(ctx, ledger.Entry{
		EntityID: "cust-acme", TransactionType: ledger.TxOpeningBalance, TransactionDate: scenarioDay(1),
		Description: "Balance brought forward", Debit: money.FromInt(75),
	}); err != nil {
		return err
	}

	doc := document.New(document.KindSale, "INV-1", "cust-acme", scenarioDay(3))
	steps := []func() error{
		func() error {
			return doc.AddItem(document.Item{ProductID: "SKU-100", Name: "Widget", Quantity: decimal.NewFromInt(2), UnitPrice: money.FromInt(100), Cost: money.FromInt(60)})
		},
		func() error { return doc.SetTaxRate(decimal.NewFromInt(10)) },
		func() error { return doc.SetPaymentType(document.PaymentCredit) },
		func() error { return doc.SetPaidAmount(money.FromInt(50)) },
		func() error { return doc.SetDueDate(scenarioDay(31)) },
		doc.Finalize,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	_, err := h.Poster.Post(ctx, doc)
	return err
}

func (h *Handler) loadCancelledPurchase(ctx context.Context) error {
	if err := h.seedEntity(ctx, ledger.Entity{ID: "supp-bolt", Name: "Bolt Wholesale", LedgerType: ledger.LedgerSupplier}); err != nil {
		return err
	}

	doc := document.New(document.KindPurchase, "PO-7", "supp-bolt", scenarioDay(4))
	doc.PaymentMethod = "bank"
	if err := doc.AddItem(document.Item{ProductID: "SKU-200", Name: "Bolts (box)", Quantity: decimal.NewFromInt(10), UnitPrice: money.FromInt(40), Cost: money.FromInt(40)}); err != nil {
		return err
	}
	if err := doc.SetPaidAmount(money.FromInt(150)); err != nil {
		return err
	}
	if err := doc.Finalize(); err != nil {
		return err
	}
	if _, err := h.Poster.Post(ctx, doc); err != nil {
		return err
	}
	_, err := h.Poster.Cancel(ctx, doc)
	return err
}
