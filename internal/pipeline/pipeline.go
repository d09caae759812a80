package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spendsight/spendsight/internal/inference"
	"github.com/spendsight/spendsight/internal/llm"
	"github.com/spendsight/spendsight/internal/models"
	"github.com/spendsight/spendsight/internal/storage"
)

// Pipeline drives one document from queued to a terminal status. It is the
// only writer of the failed status; stage errors bubble up here and are
// classified as fatal (skip retry, mark failed now) or transient (leave the
// document processing and let the queue retry).
type Pipeline struct {
	docs       DocumentStore
	rasterizer PageRasterizer
	validator  *Validator
	extractor  *Extractor
	committer  *Committer
	ruleSource RuleSource
	categories CategoryReader
	merchants  MerchantContext
	notifier   Notifier
	recipients RecipientResolver
	inf        inference.Client
	blobs      storage.Storage
	bucket     string

	model           string
	validationPages int
}

type Config struct {
	Model           string
	ValidationPages int
}

func New(
	docs DocumentStore,
	rasterizer PageRasterizer,
	validator *Validator,
	extractor *Extractor,
	committer *Committer,
	ruleSource RuleSource,
	categories CategoryReader,
	merchants MerchantContext,
	notifier Notifier,
	recipients RecipientResolver,
	inf inference.Client,
	blobs storage.Storage,
	bucket string,
	cfg Config,
) *Pipeline {
	return &Pipeline{
		docs:            docs,
		rasterizer:      rasterizer,
		validator:       validator,
		extractor:       extractor,
		committer:       committer,
		ruleSource:      ruleSource,
		categories:      categories,
		merchants:       merchants,
		notifier:        notifier,
		recipients:      recipients,
		inf:             inf,
		blobs:           blobs,
		bucket:          bucket,
		model:           cfg.Model,
		validationPages: cfg.ValidationPages,
	}
}

// Run processes one document end to end. Safe to call again after a crashed
// or retried attempt: terminal documents are a no-op and a document already
// in processing is picked up where the state machine allows.
func (p *Pipeline) Run(ctx context.Context, docID uuid.UUID) error {
	doc, err := p.docs.Get(ctx, docID)
	if err != nil {
		return fmt.Errorf("load document %s: %w", docID, err)
	}

	if models.IsTerminalStatus(doc.Status) {
		slog.Info("document already terminal, skipping", "document_id", docID, "status", doc.Status)
		return nil
	}

	if doc.Status == models.DocStatusQueued {
		ok, err := p.docs.Transition(ctx, docID, models.DocStatusQueued, models.DocStatusProcessing, nil)
		if err != nil {
			return fmt.Errorf("start processing: %w", err)
		}
		if !ok {
			// Lost a race, most likely to a cancel. Re-read and bail if so.
			doc, err = p.docs.Get(ctx, docID)
			if err != nil {
				return fmt.Errorf("reload document %s: %w", docID, err)
			}
			if doc.Status != models.DocStatusProcessing {
				slog.Info("document left queued state before processing started", "document_id", docID, "status", doc.Status)
				return nil
			}
		}
	}

	var extraction *Extraction
	if doc.Subtype == models.SubtypeCSV {
		extraction, err = p.runCSV(ctx, doc)
	} else {
		extraction, err = p.runPDF(ctx, doc)
	}
	if err != nil {
		return p.classify(ctx, doc, err)
	}

	reconcileBalances(doc.ID, extraction)

	ruleSet, err := p.ruleSource.ListForEvaluation(ctx, doc.TenantID)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}

	result, err := p.committer.Commit(ctx, doc, extraction, ruleSet)
	if err != nil {
		return p.classify(ctx, doc, fmt.Errorf("commit import: %w", err))
	}
	if result.NoOp {
		slog.Info("import skipped, document no longer processing", "document_id", docID)
		return nil
	}

	slog.Info("import committed",
		"document_id", docID,
		"inserted", result.Inserted,
		"skipped", result.Skipped,
		"categories_created", result.CategoriesCreated,
		"rules_applied", result.RulesApplied)
	return nil
}

func (p *Pipeline) runPDF(ctx context.Context, doc *models.Document) (*Extraction, error) {
	prefix, err := p.rasterizer.Rasterize(ctx, doc, p.validationPages)
	if err != nil {
		// A PDF that cannot be opened or has no pages will never succeed.
		return nil, fatal(fmt.Errorf("rasterize validation pages: %w", err))
	}

	verdict, err := p.validator.Validate(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}
	if !verdict.Valid {
		return nil, fatal(rejection{reason: verdict.Reason})
	}

	if err := p.docs.SetSubtype(ctx, doc.ID, verdict.Subtype); err != nil {
		slog.Warn("failed to persist document subtype", "document_id", doc.ID, "error", err)
	}

	// Metadata enrichment is best-effort and runs alongside extraction.
	go p.enrichMetadata(context.WithoutCancel(ctx), doc, prefix[0])

	pages, err := p.rasterizer.Rasterize(ctx, doc, 0)
	if err != nil {
		return nil, fmt.Errorf("rasterize all pages: %w", err)
	}
	if err := p.docs.SetPageCount(ctx, doc.ID, len(pages)); err != nil {
		slog.Warn("failed to persist page count", "document_id", doc.ID, "error", err)
	}

	return p.extractor.ExtractPDF(ctx, pages, p.hints(ctx, doc.TenantID))
}

func (p *Pipeline) runCSV(ctx context.Context, doc *models.Document) (*Extraction, error) {
	rc, err := p.blobs.Download(ctx, p.bucket, doc.FilePath)
	if err != nil {
		return nil, fmt.Errorf("download csv: %w", err)
	}
	raw, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return p.extractor.ExtractCSV(ctx, doc, raw, p.hints(ctx, doc.TenantID))
}

func (p *Pipeline) hints(ctx context.Context, tenantID uuid.UUID) ExtractionHints {
	var hints ExtractionHints
	cats, err := p.categories.ListActive(ctx, tenantID)
	if err != nil {
		slog.Warn("could not load category hints", "tenant_id", tenantID, "error", err)
	}
	for _, c := range cats {
		hints.CategoryNames = append(hints.CategoryNames, c.Name)
	}
	mappings, err := p.merchants.Recent(ctx, tenantID, 25)
	if err != nil {
		slog.Warn("could not load merchant mapping hints", "tenant_id", tenantID, "error", err)
	}
	hints.Mappings = mappings
	return hints
}

// rejection carries a validator vocabulary key through the error chain so
// classify can store user-facing text instead of the generic reason.
type rejection struct {
	reason string
}

func (r rejection) Error() string {
	return "document rejected: " + r.reason
}

// classify turns a stage error into the document's fate. Fatal errors mark
// the document failed now; transient ones leave it processing for the queue
// to retry. The returned error always propagates so the worker sees it.
func (p *Pipeline) classify(ctx context.Context, doc *models.Document, err error) error {
	if !errors.Is(err, ErrFatal) {
		return err
	}

	reason := genericFailureReason
	var rej rejection
	if errors.As(err, &rej) {
		reason = RejectionText(rej.reason)
	}
	p.markFailed(ctx, doc, reason)
	return err
}

// MarkFailed records a terminal failure with the generic user-facing reason.
// The queue worker calls this when retries are exhausted.
func (p *Pipeline) MarkFailed(ctx context.Context, docID uuid.UUID) {
	doc, err := p.docs.Get(ctx, docID)
	if err != nil {
		slog.Error("could not load document to mark failed", "document_id", docID, "error", err)
		return
	}
	p.markFailed(ctx, doc, genericFailureReason)
}

func (p *Pipeline) markFailed(ctx context.Context, doc *models.Document, reason string) {
	ok, err := p.docs.Transition(ctx, doc.ID, models.DocStatusProcessing, models.DocStatusFailed, &reason)
	if err != nil {
		slog.Error("failed status write errored", "document_id", doc.ID, "error", err)
		return
	}
	if !ok {
		// Cancelled (or otherwise terminal) in the meantime, leave it alone.
		slog.Info("skipping failed status write, document no longer processing", "document_id", doc.ID)
		return
	}

	email, err := p.recipients.OwnerEmail(ctx, doc.TenantID)
	if err != nil {
		slog.Warn("could not resolve notification recipient", "tenant_id", doc.TenantID, "error", err)
		return
	}
	p.notifier.Send("import_failed", email, map[string]any{
		"document_id": doc.ID.String(),
		"filename":    doc.OriginalFilename,
		"reason":      reason,
	})
}

// reconcileBalances sanity-checks the extraction against the statement's own
// balances when both are present. A mismatch is only a signal that extraction
// missed or misread rows; the import still proceeds.
func reconcileBalances(docID uuid.UUID, extraction *Extraction) {
	if extraction.OpeningBalanceMinor == nil || extraction.ClosingBalanceMinor == nil {
		return
	}
	var spent int64
	for _, c := range extraction.Candidates {
		spent += c.AmountMinor
	}
	expected := *extraction.OpeningBalanceMinor - spent
	if expected != *extraction.ClosingBalanceMinor {
		slog.Warn("extracted transactions do not reconcile with statement balances",
			"document_id", docID,
			"opening_minor", *extraction.OpeningBalanceMinor,
			"closing_minor", *extraction.ClosingBalanceMinor,
			"expected_closing_minor", expected)
	}
}

type metadataOutput struct {
	PeriodStart  string `json:"period_start"`
	PeriodEnd    string `json:"period_end"`
	AccountLabel string `json:"account_label"`
}

// enrichMetadata reads the statement period and account label off the first
// page. Failures are logged and never affect the import.
func (p *Pipeline) enrichMetadata(ctx context.Context, doc *models.Document, firstPage []byte) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	var out metadataOutput
	err := p.inf.GenerateStructured(ctx, inference.Request{
		Model:  p.model,
		System: metadataSystemPrompt,
		Messages: []llm.Message{{
			Role:    "user",
			Content: "First page of the statement.",
			Images:  [][]byte{firstPage},
		}},
		Schema: []inference.SchemaField{
			{Name: "period_start", Type: "string", Description: "statement period start, YYYY-MM-DD or empty", Required: false},
			{Name: "period_end", Type: "string", Description: "statement period end, YYYY-MM-DD or empty", Required: false},
			{Name: "account_label", Type: "string", Description: "short account label, e.g. bank name and last four digits", Required: false},
		},
	}, &out)
	if err != nil {
		slog.Warn("metadata enrichment failed", "document_id", doc.ID, "error", err)
		return
	}

	meta := StatementMetadata{AccountLabel: strings.TrimSpace(out.AccountLabel)}
	if t, err := time.Parse("2006-01-02", out.PeriodStart); err == nil {
		meta.PeriodStart = &t
	}
	if t, err := time.Parse("2006-01-02", out.PeriodEnd); err == nil {
		meta.PeriodEnd = &t
	}
	if meta.PeriodStart == nil && meta.PeriodEnd == nil && meta.AccountLabel == "" {
		return
	}

	if err := p.docs.SetStatementMetadata(ctx, doc.ID, meta); err != nil {
		slog.Warn("failed to persist statement metadata", "document_id", doc.ID, "error", err)
	}
}
