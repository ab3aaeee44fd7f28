// Package pipeline runs the per-receipt reconciliation pipeline over the inbox.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/receipt-flow/internal/domain"
	"github.com/dvloznov/receipt-flow/internal/logger"
)

// DefaultItemDelay is the pause after every receipt, respecting the
// accounting backend's rate limit.
const DefaultItemDelay = time.Second

// Options configures a Processor.
type Options struct {
	CompanyID int64
	ItemDelay time.Duration

	// Sleep and Now are replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

// Processor processes pending receipts one at a time.
type Processor struct {
	inbox    Inbox
	pipeline *Pipeline
	opts     Options
}

// NewProcessor wires the collaborators into the standard receipt pipeline.
func NewProcessor(inbox Inbox, extractor Extractor, selector Selector, accounting Accounting, resolver AccountResolver, opts Options) *Processor {
	return NewProcessorWithPipeline(inbox, NewReceiptPipeline(inbox, extractor, selector, accounting, resolver, opts.CompanyID), opts)
}

// NewProcessorWithPipeline uses a custom pipeline.
func NewProcessorWithPipeline(inbox Inbox, p *Pipeline, opts Options) *Processor {
	if opts.ItemDelay < 0 {
		opts.ItemDelay = 0
	}
	if opts.Sleep == nil {
		opts.Sleep = sleep
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Processor{inbox: inbox, pipeline: p, opts: opts}
}

// ProcessAll processes every pending receipt in listing order. The only error
// returned is a failure to list the inbox; per-receipt failures become results.
//
// Cancelling ctx stops the batch at the next receipt boundary. A receipt that
// has started always runs to completion.
func (p *Processor) ProcessAll(ctx context.Context) ([]domain.ProcessingResult, error) {
	log := logger.Component(logger.FromContext(ctx), "pipeline")
	log.Info().Strs("steps", p.pipeline.Steps()).Msg("Starting batch processing")

	files, err := p.inbox.ListPending(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Batch processing failed")
		return nil, fmt.Errorf("ProcessAll: list pending: %w", err)
	}

	results := make([]domain.ProcessingResult, 0, len(files))
	if len(files) == 0 {
		log.Info().Msg("No pending receipts found")
		return results, nil
	}

	log.Info().Int("count", len(files)).Msg("Processing receipts")

	// Strictly sequential: each receipt sees the candidates left by the previous one.
	for i, file := range files {
		if err := ctx.Err(); err != nil {
			log.Warn().Err(err).
				Int("processed", i).
				Int("remaining", len(files)-i).
				Msg("Batch stopped before next receipt")
			break
		}
		results = append(results, p.ProcessOne(ctx, file))
		if p.opts.ItemDelay > 0 {
			_ = p.opts.Sleep(ctx, p.opts.ItemDelay)
		}
	}

	summary := domain.Summarize(results)
	log.Info().
		Int("total", summary.Total).
		Int("success", summary.Success).
		Int("pending", summary.Pending).
		Int("error", summary.Error).
		Msg("Batch processing completed")

	return results, nil
}

// ProcessOne runs the pipeline for a single receipt. It never fails; errors
// and panics are recorded in the returned result. Cancellation of ctx is not
// propagated to the steps, so a filed deal is always reconciled and archived.
func (p *Processor) ProcessOne(ctx context.Context, file domain.InboxFile) (result domain.ProcessingResult) {
	log := logger.WithFields(logger.Component(logger.FromContext(ctx), "pipeline"), map[string]interface{}{
		"receipt_id": file.ID,
		"file_name":  file.Name,
	})
	ctx = logger.WithContext(context.WithoutCancel(ctx), log)

	log.Info().Msg("Processing receipt")

	result = domain.ProcessingResult{
		ReceiptID: file.ID,
		FileName:  file.Name,
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Panic while processing receipt")
			result.Status = domain.ResultError
			result.Error = fmt.Sprintf("panic: %v", r)
			result.ProcessedAt = p.opts.Now()
		}
	}()

	state := &ReceiptState{File: file}
	err := p.pipeline.Execute(ctx, state)
	result.ProcessedAt = p.opts.Now()

	if err != nil {
		ev := log.Error().Err(err)
		var stepErr *StepError
		if errors.As(err, &stepErr) {
			ev = ev.Str("step", stepErr.Step)
		}
		ev.Msg("Failed to process receipt")
		result.Status = domain.ResultError
		result.Error = err.Error()
		return result
	}

	if state.Transaction == nil || state.Deal == nil {
		result.Status = domain.ResultPending
		return result
	}

	txID := state.Transaction.ID
	dealID := state.Deal.ID
	result.Status = domain.ResultSuccess
	result.WalletTxnID = &txID
	result.DealID = &dealID
	if state.Attachment != nil {
		attachmentID := state.Attachment.ID
		result.FreeeReceiptID = &attachmentID
	}

	log.Info().
		Int64("deal_id", dealID).
		Int64("transaction_id", txID).
		Msg("Receipt processed successfully")
	return result
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
