package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"paragon/internal/category"
	"paragon/internal/scanning"
)

// Context is the accumulator threaded through the pipeline steps. It is only
// ever extended: a step consumes the fields set by its predecessors and may
// add its own, never remove any.
type Context struct {
	FilePath   string
	UserID     string
	StartTime  time.Time
	AIConsent  bool
	Categories []category.Category
	Extraction *scanning.Extraction
	Result     *ProcessResult
}

// Step is one pipeline stage. A nil return extends the context; an error
// aborts the remaining steps and propagates unchanged.
type Step func(ctx context.Context, pc *Context) error

// Pipeline runs the receipt extraction steps strictly in order. Retry, where
// applicable, lives entirely inside the model client; the orchestrator never
// retries a step.
type Pipeline struct {
	profiles   ProfileStore
	categories CategoryStore
	blobs      BlobStore
	extractor  scanning.Extractor
	timeSource TimeSource
	steps      []Step
}

// NewPipeline creates a pipeline over the given collaborators.
func NewPipeline(profiles ProfileStore, categories CategoryStore, blobs BlobStore, extractor scanning.Extractor) *Pipeline {
	return NewPipelineWithDeps(profiles, categories, blobs, extractor, defaultTimeSource{})
}

// NewPipelineWithDeps creates a pipeline with a custom time source for
// testing.
func NewPipelineWithDeps(profiles ProfileStore, categories CategoryStore, blobs BlobStore, extractor scanning.Extractor, timeSource TimeSource) *Pipeline {
	p := &Pipeline{
		profiles:   profiles,
		categories: categories,
		blobs:      blobs,
		extractor:  extractor,
		timeSource: timeSource,
	}
	p.steps = []Step{
		p.checkConsent,
		p.checkOwnership,
		p.fetchCategories,
		p.invokeModel,
		p.mapCategories,
	}
	return p
}

// Process runs a receipt through the pipeline. The first failing step aborts
// the run; a completed run is guaranteed to carry a result.
func (p *Pipeline) Process(ctx context.Context, userID, filePath string) (*ProcessResult, error) {
	pc := &Context{
		FilePath:  filePath,
		UserID:    userID,
		StartTime: p.timeSource.Now(),
	}

	for _, step := range p.steps {
		if err := step(ctx, pc); err != nil {
			return nil, err
		}
	}

	if pc.Result == nil {
		return nil, NewError(CodeInternal, "pipeline completed without a result")
	}

	slog.Info("Receipt processed",
		"user_id", userID,
		"file_path", filePath,
		"expense_groups", len(pc.Result.Expenses),
		"processing_time_ms", pc.Result.ProcessingTime,
	)
	return pc.Result, nil
}

// checkConsent verifies the user's AI processing consent. An unreadable
// profile counts as consent not given.
func (p *Pipeline) checkConsent(_ context.Context, pc *Context) error {
	consent, err := p.profiles.GetConsent(pc.UserID)
	if err != nil {
		return WrapError(CodeConsentRequired, "reading consent flag", err)
	}
	if !consent {
		return NewError(CodeConsentRequired, "user has not consented to AI processing")
	}
	pc.AIConsent = true
	return nil
}

// checkOwnership verifies that the file path embeds the authenticated user's
// id as its second segment. Purely structural, no store access.
func (p *Pipeline) checkOwnership(_ context.Context, pc *Context) error {
	segments := strings.Split(pc.FilePath, "/")
	if len(segments) < 3 || segments[0] != "receipts" {
		return NewError(CodeForbidden, "file path does not follow the receipts/{userId}/... convention")
	}
	if segments[1] != pc.UserID {
		return NewError(CodeForbidden, "file was uploaded by a different user")
	}
	return nil
}

// fetchCategories loads the canonical category list. The matcher requires at
// least one category, so an empty list is a failure.
func (p *Pipeline) fetchCategories(_ context.Context, pc *Context) error {
	categories, err := p.categories.ListCategories()
	if err != nil {
		return WrapError(CodeInternal, "fetching categories", err)
	}
	if len(categories) == 0 {
		return NewError(CodeInternal, "no canonical categories configured")
	}
	pc.Categories = categories
	return nil
}

// invokeModel loads the stored file and runs the model extraction.
func (p *Pipeline) invokeModel(ctx context.Context, pc *Context) error {
	data, contentType, err := p.blobs.Get(pc.FilePath)
	if err != nil {
		return WrapError(CodeInternal, "reading uploaded file", err)
	}

	extraction, err := p.extractor.Extract(ctx, data, contentType)
	if err != nil {
		return classifyExtractionError(err)
	}
	if extraction == nil {
		return NewError(CodeInternal, "model returned no payload")
	}

	pc.Extraction = extraction
	return nil
}

// classifyExtractionError maps provider failures onto boundary error codes.
func classifyExtractionError(err error) error {
	var perr *scanning.Error
	if errors.As(err, &perr) {
		switch perr.Kind {
		case scanning.KindRateLimit:
			return WrapError(CodeRateLimit, "model provider rate limited", err)
		case scanning.KindTimeout:
			return WrapError(CodeTimeout, "model call timed out", err)
		case scanning.KindValidation:
			return WrapError(CodeValidation, "model response failed validation", err)
		}
		return WrapError(CodeInternal, "model call failed", err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"):
		return WrapError(CodeRateLimit, "model provider rate limited", err)
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		return WrapError(CodeTimeout, "model call timed out", err)
	}
	return WrapError(CodeInternal, "model call failed", err)
}

// mapCategories reconciles the extraction against the canonical categories
// and assembles the terminal result.
func (p *Pipeline) mapCategories(_ context.Context, pc *Context) error {
	if len(pc.Categories) == 0 || pc.Extraction == nil {
		// Earlier steps guarantee these; reaching here without them is an
		// unrecoverable invariant violation.
		return NewError(CodeInternal, "category mapping entered without prerequisites")
	}

	items := make([]category.Item, 0, len(pc.Extraction.Items))
	for _, it := range pc.Extraction.Items {
		items = append(items, category.Item{
			Name:     it.Name,
			Amount:   it.Amount,
			Category: it.Category,
		})
	}

	pc.Result = &ProcessResult{
		Expenses:       category.MapExpenses(items, pc.Categories),
		TotalAmount:    fmt.Sprintf("%.2f", pc.Extraction.Total),
		Currency:       Currency,
		ReceiptDate:    pc.Extraction.Date,
		ProcessingTime: p.timeSource.Now().Sub(pc.StartTime).Milliseconds(),
	}
	return nil
}
