package posting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/subledger/document"
	"github.com/warp/subledger/ledger"
)

// Poster applies the posting rules against a Ledger.
type Poster struct {
	ledger *ledger.Ledger
	log    zerolog.Logger
}

func NewPoster(l *ledger.Ledger, log zerolog.Logger) *Poster {
	return &Poster{ledger: l, log: log}
}

// Post stores the entries of a finalized document as one batch. A walk-in
// sale returns no entries and no error.
//
// Posting is refused while the entity fails reconciliation; the operator
// rebuilds first.
func (p *Poster) Post(ctx context.Context, doc *document.Document) ([]ledger.Entry, error) {
	drafts, err := Post(doc)
	if err != nil {
		return nil, err
	}
	if len(drafts) == 0 {
		return nil, nil
	}

	existing, err := p.ledger.ByReference(ctx, doc.EntityID, doc.ID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyPosted, doc.ID)
	}
	if err := p.ledger.Require(ctx, doc.EntityID); err != nil {
		return nil, err
	}

	stored, err := p.ledger.AppendBatch(ctx, drafts)
	if errors.Is(err, ledger.ErrDuplicateIdempotencyKey) {
		// lost a race with a concurrent post of the same document
		return nil, fmt.Errorf("%w: %s", ErrAlreadyPosted, doc.ID)
	}
	if err != nil {
		return nil, err
	}

	p.log.Info().
		Str("document_id", doc.ID).
		Str("entity_id", string(doc.EntityID)).
		Str("total", doc.Totals.Total.String()).
		Int("entries", len(stored)).
		Msg("document posted")
	return stored, nil
}

// Reverse appends offsetting entries for every un-reversed entry the
// document posted to entityID, dated at.
func (p *Poster) Reverse(ctx context.Context, entityID ledger.EntityID, docID string, at time.Time) ([]ledger.Entry, error) {
	originals, err := p.ledger.ByReference(ctx, entityID, docID)
	if err != nil {
		return nil, err
	}
	drafts, err := Reverse(docID, originals, at)
	if err != nil {
		return nil, err
	}
	if len(drafts) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNothingToReverse, docID)
	}
	if err := p.ledger.Require(ctx, entityID); err != nil {
		return nil, err
	}

	stored, err := p.ledger.AppendBatch(ctx, drafts)
	if errors.Is(err, ledger.ErrDuplicateIdempotencyKey) {
		return nil, fmt.Errorf("%w: %s", ErrNothingToReverse, docID)
	}
	if err != nil {
		return nil, err
	}

	p.log.Info().
		Str("document_id", docID).
		Str("entity_id", string(entityID)).
		Int("entries", len(stored)).
		Msg("document reversed")
	return stored, nil
}

// Cancel reverses a finalized document's entries, dated on the document's
// own date, and marks it cancelled. The document is only cancelled once
// the reversal is stored.
func (p *Poster) Cancel(ctx context.Context, doc *document.Document) ([]ledger.Entry, error) {
	if doc.Status != document.StatusFinalized {
		return nil, fmt.Errorf("%w: %s is %s", document.ErrNotFinalized, doc.ID, doc.Status)
	}
	if doc.IsWalkIn() {
		return nil, doc.Cancel()
	}

	stored, err := p.Reverse(ctx, doc.EntityID, doc.ID, doc.Date)
	if err != nil && !errors.Is(err, ErrNothingToReverse) {
		return nil, err
	}
	if err := doc.Cancel(); err != nil {
		return nil, err
	}
	return stored, nil
}
