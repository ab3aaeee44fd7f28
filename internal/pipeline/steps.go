package pipeline

import (
	"context"
	"errors"

	"github.com/dvloznov/receipt-flow/internal/domain"
	"github.com/dvloznov/receipt-flow/internal/logger"
	"github.com/dvloznov/receipt-flow/internal/matcher"
)

// errNoTransaction is returned when a step that needs the matched
// transaction runs before one was chosen.
var errNoTransaction = errors.New("no transaction selected")

// Step is a single stage of the per-receipt pipeline.
type Step interface {
	Name() string
	Execute(ctx context.Context, state *ReceiptState) error
}

// ReceiptState holds the shared state across all steps for one receipt.
type ReceiptState struct {
	File       domain.InboxFile
	Image      []byte
	Receipt    domain.ExtractedReceipt
	Candidates []domain.CandidateTransaction
	Outcome    matcher.Outcome

	Transaction *domain.CandidateTransaction
	Attachment  *domain.ReceiptAttachment
	Account     domain.AccountItem
	Deal        *domain.Deal

	// Halted stops the pipeline after the current step without an error.
	Halted bool
}

// Step 1: DownloadStep fetches the image bytes from the inbox.
type DownloadStep struct {
	Inbox Inbox
}

func (s *DownloadStep) Name() string { return "download" }

func (s *DownloadStep) Execute(ctx context.Context, state *ReceiptState) error {
	image, err := s.Inbox.Download(ctx, state.File.ID)
	if err != nil {
		return err
	}
	state.Image = image
	return nil
}

// Step 2: ExtractStep reads the receipt fields from the image.
type ExtractStep struct {
	Extractor Extractor
}

func (s *ExtractStep) Name() string { return "extract" }

func (s *ExtractStep) Execute(ctx context.Context, state *ReceiptState) error {
	receipt, err := s.Extractor.Extract(ctx, state.Image, state.File.Name)
	if err != nil {
		return err
	}
	state.Receipt = receipt

	log := logger.FromContext(ctx)
	log.Debug().
		Interface("receipt", receipt).
		Msg("Receipt extracted")
	return nil
}

// Step 3: FetchCandidatesStep loads the unregistered transactions. It runs for
// every receipt since earlier receipts in the batch may have consumed some.
type FetchCandidatesStep struct {
	Accounting Accounting
}

func (s *FetchCandidatesStep) Name() string { return "fetch_candidates" }

func (s *FetchCandidatesStep) Execute(ctx context.Context, state *ReceiptState) error {
	candidates, err := s.Accounting.ListUnregistered(ctx)
	if err != nil {
		return err
	}
	state.Candidates = candidates
	return nil
}

// Step 4: MatchStep runs the matcher and halts on NoMatch.
type MatchStep struct{}

func (s *MatchStep) Name() string { return "match" }

func (s *MatchStep) Execute(ctx context.Context, state *ReceiptState) error {
	state.Outcome = matcher.Match(state.Receipt, state.Candidates)
	log := logger.FromContext(ctx)

	switch o := state.Outcome.(type) {
	case matcher.NoMatch:
		log.Info().
			Int("candidates", len(state.Candidates)).
			Msg("No matching transaction found, keeping pending")
		state.Halted = true
	case matcher.Matched:
		tx := o.Transaction
		state.Transaction = &tx
	case matcher.Ambiguous:
		log.Info().
			Int("candidates", len(o.Candidates)).
			Msg("Multiple candidate transactions")
	}
	return nil
}

// Step 5: DisambiguateStep asks the selector to pick among ambiguous candidates.
// An ID outside the candidate set falls back to the first candidate.
type DisambiguateStep struct {
	Selector Selector
}

func (s *DisambiguateStep) Name() string { return "disambiguate" }

func (s *DisambiguateStep) Execute(ctx context.Context, state *ReceiptState) error {
	ambiguous, ok := state.Outcome.(matcher.Ambiguous)
	if !ok {
		return nil
	}
	if len(ambiguous.Candidates) == 0 {
		state.Halted = true
		return nil
	}

	id, err := s.Selector.SelectBest(ctx, state.Receipt, ambiguous.Candidates)
	if err != nil {
		return err
	}

	for _, c := range ambiguous.Candidates {
		if c.ID == id {
			tx := c
			state.Transaction = &tx
			return nil
		}
	}

	tx := ambiguous.Candidates[0]
	state.Transaction = &tx
	log := logger.FromContext(ctx)
	log.Warn().
		Int64("selected_id", id).
		Int64("fallback_id", tx.ID).
		Msg("Selected transaction not among candidates, using first candidate")
	return nil
}

// Step 6: UploadReceiptStep attaches the image to the accounting backend.
type UploadReceiptStep struct {
	Accounting Accounting
}

func (s *UploadReceiptStep) Name() string { return "upload_receipt" }

func (s *UploadReceiptStep) Execute(ctx context.Context, state *ReceiptState) error {
	attachment, err := s.Accounting.UploadReceipt(ctx, state.Image, state.File.Name)
	if err != nil {
		return err
	}
	state.Attachment = &attachment
	return nil
}

// Step 7: ResolveAccountStep maps the suggested account code.
type ResolveAccountStep struct {
	Resolver AccountResolver
}

func (s *ResolveAccountStep) Name() string { return "resolve_account" }

func (s *ResolveAccountStep) Execute(ctx context.Context, state *ReceiptState) error {
	account, err := s.Resolver.Resolve(ctx, state.Receipt.SuggestedAccountCode)
	if err != nil {
		return err
	}
	state.Account = account
	return nil
}

// Step 8: CreateDealStep files the expense deal.
type CreateDealStep struct {
	Accounting Accounting
	CompanyID  int64
}

func (s *CreateDealStep) Name() string { return "create_deal" }

func (s *CreateDealStep) Execute(ctx context.Context, state *ReceiptState) error {
	if state.Transaction == nil || state.Attachment == nil {
		return errNoTransaction
	}
	req := buildDealRequest(s.CompanyID, *state.Transaction, state.Account, state.Receipt, state.Attachment.ID)
	deal, err := s.Accounting.CreateDeal(ctx, req)
	if err != nil {
		return err
	}
	state.Deal = &deal
	return nil
}

// Step 9: ReconcileStep links the wallet transaction to the new deal.
type ReconcileStep struct {
	Accounting Accounting
}

func (s *ReconcileStep) Name() string { return "reconcile" }

func (s *ReconcileStep) Execute(ctx context.Context, state *ReceiptState) error {
	if state.Transaction == nil || state.Deal == nil {
		return errNoTransaction
	}
	return s.Accounting.Reconcile(ctx, state.Transaction.ID, state.Deal.ID)
}

// Step 10: ArchiveStep moves the image under the transaction's year-month.
type ArchiveStep struct {
	Inbox Inbox
}

func (s *ArchiveStep) Name() string { return "archive" }

func (s *ArchiveStep) Execute(ctx context.Context, state *ReceiptState) error {
	if state.Transaction == nil {
		return errNoTransaction
	}
	return s.Inbox.Archive(ctx, state.File.ID, state.Transaction.YearMonth())
}

// StepError records which step failed. Error returns the underlying message unchanged.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return e.Err.Error() }

func (e *StepError) Unwrap() error { return e.Err }

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []Step
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...Step) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs the steps sequentially, stopping at the first error or when a
// step halts the receipt.
func (p *Pipeline) Execute(ctx context.Context, state *ReceiptState) error {
	for _, step := range p.steps {
		if err := step.Execute(ctx, state); err != nil {
			return &StepError{Step: step.Name(), Err: err}
		}
		if state.Halted {
			return nil
		}
	}
	return nil
}

// Steps returns the step names in execution order.
func (p *Pipeline) Steps() []string {
	names := make([]string, len(p.steps))
	for i, s := range p.steps {
		names[i] = s.Name()
	}
	return names
}

// NewReceiptPipeline creates the standard 10-step receipt pipeline.
func NewReceiptPipeline(inbox Inbox, extractor Extractor, selector Selector, accounting Accounting, resolver AccountResolver, companyID int64) *Pipeline {
	return NewPipeline(
		&DownloadStep{Inbox: inbox},
		&ExtractStep{Extractor: extractor},
		&FetchCandidatesStep{Accounting: accounting},
		&MatchStep{},
		&DisambiguateStep{Selector: selector},
		&UploadReceiptStep{Accounting: accounting},
		&ResolveAccountStep{Resolver: resolver},
		&CreateDealStep{Accounting: accounting, CompanyID: companyID},
		&ReconcileStep{Accounting: accounting},
		&ArchiveStep{Inbox: inbox},
	)
}
