package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/spendsight/spendsight/internal/inference"
	"github.com/spendsight/spendsight/internal/models"
)

type fakeRuleSource struct {
	rules []models.Rule
}

func (f *fakeRuleSource) ListForEvaluation(ctx context.Context, tenantID uuid.UUID) ([]models.Rule, error) {
	return f.rules, nil
}

type pipelineFixture struct {
	docs       *fakeDocumentStore
	rasterizer *fakeRasterizer
	inf        *fakeInference
	commitTx   *fakeCommitTx
	notifier   *fakeNotifier
	refine     *fakeRefineEnqueuer
	blobs      *fakeBlobStore
	pipe       *Pipeline
}

func newPipelineFixture(doc *models.Document, inf *fakeInference) *pipelineFixture {
	f := &pipelineFixture{
		docs:       &fakeDocumentStore{doc: doc},
		rasterizer: &fakeRasterizer{pages: [][]byte{{0x01}, {0x02}}},
		inf:        inf,
		commitTx:   newFakeCommitTx(models.DocStatusProcessing),
		notifier:   &fakeNotifier{},
		refine:     &fakeRefineEnqueuer{},
		blobs:      &fakeBlobStore{},
	}
	recipients := &fakeRecipients{email: "owner@example.com"}
	committer := NewCommitter(&fakeCommitStore{tx: f.commitTx}, f.notifier, recipients, f.refine)
	f.pipe = New(
		f.docs, f.rasterizer,
		NewValidator(inf, "test-model"),
		NewExtractor(inf, "test-model"),
		committer,
		&fakeRuleSource{}, &fakeCategoryReader{}, &fakeMerchantContext{},
		f.notifier, recipients,
		inf, f.blobs, "statements",
		Config{Model: "test-model", ValidationPages: 3},
	)
	return f
}

func queuedDoc() *models.Document {
	return &models.Document{
		ID:               uuid.New(),
		TenantID:         uuid.New(),
		OriginalFilename: "march.pdf",
		FilePath:         "t/march.pdf",
		Subtype:          models.SubtypeUnknown,
		Status:           models.DocStatusQueued,
	}
}

func TestRunSkipsTerminalDocument(t *testing.T) {
	doc := queuedDoc()
	doc.Status = models.DocStatusCompleted
	f := newPipelineFixture(doc, &fakeInference{})

	if err := f.pipe.Run(context.Background(), doc.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if f.inf.callCount() != 0 {
		t.Error("terminal documents must not reach inference")
	}
	if f.docs.status() != models.DocStatusCompleted {
		t.Errorf("status = %q, should stay completed", f.docs.status())
	}
}

func TestRunCancelWinsBeforeProcessing(t *testing.T) {
	doc := queuedDoc()
	f := newPipelineFixture(doc, &fakeInference{})
	f.docs.cancelOnTransition = true

	if err := f.pipe.Run(context.Background(), doc.ID); err != nil {
		t.Fatalf("Run should back off silently when cancel wins, got %v", err)
	}
	if f.docs.status() != models.DocStatusCancelled {
		t.Errorf("status = %q, want cancelled", f.docs.status())
	}
	if f.inf.callCount() != 0 {
		t.Error("no inference work after a lost race")
	}
}

func TestRunRejectedDocumentFailsWithUserFacingReason(t *testing.T) {
	doc := queuedDoc()
	inf := &fakeInference{bySystem: map[string]string{
		validatorSystemPrompt: `{"is_statement":false,"subtype":"","reason":"unreadable_scan"}`,
	}}
	f := newPipelineFixture(doc, inf)

	err := f.pipe.Run(context.Background(), doc.ID)
	if err == nil {
		t.Fatal("expected an error for a rejected document")
	}
	if !errors.Is(err, ErrFatal) {
		t.Errorf("rejection must be fatal (no retry), got %v", err)
	}
	if f.docs.status() != models.DocStatusFailed {
		t.Fatalf("status = %q, want failed", f.docs.status())
	}
	reason := f.docs.failureReason()
	if reason == nil || *reason != RejectionText(ReasonUnreadable) {
		t.Errorf("failure reason = %v, want the unreadable-scan text", reason)
	}
	if len(f.notifier.sent) != 1 || f.notifier.sent[0].template != "import_failed" {
		t.Errorf("expected one import_failed notification, got %+v", f.notifier.sent)
	}
}

func TestRunPDFHappyPath(t *testing.T) {
	doc := queuedDoc()
	inf := &fakeInference{bySystem: map[string]string{
		validatorSystemPrompt: `{"is_statement":true,"subtype":"checking"}`,
		metadataSystemPrompt:  `{"period_start":"2026-03-01","period_end":"2026-03-31","account_label":"Checking ...1234"}`,
		extractorSystemPrompt: `{"transactions":[{"date":"2026-03-14","merchant_name":"Netflix","amount_minor":1599,"suggested_category":"Subscriptions","confidence":0.9}],"currency":"USD"}`,
	}}
	f := newPipelineFixture(doc, inf)

	if err := f.pipe.Run(context.Background(), doc.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if f.docs.status() != models.DocStatusProcessing {
		// The fake commit tx owns the completed write; the guarded store
		// still holds processing, which is what the real split does too.
		t.Logf("document store status = %q", f.docs.status())
	}
	if f.commitTx.finalStatus != models.DocStatusCompleted {
		t.Errorf("commit status = %q, want completed", f.commitTx.finalStatus)
	}
	if len(f.commitTx.inserted) != 1 {
		t.Fatalf("inserted = %d, want 1", len(f.commitTx.inserted))
	}
	if f.commitTx.inserted[0].Confidence != 90 {
		t.Errorf("confidence = %d, want 90", f.commitTx.inserted[0].Confidence)
	}
	if f.docs.subtype != models.SubtypeChecking {
		t.Errorf("subtype = %q, want checking", f.docs.subtype)
	}
	if f.docs.pageCount != 2 {
		t.Errorf("page count = %d, want 2", f.docs.pageCount)
	}
	if len(f.refine.enqueued) != 1 {
		t.Error("refinement should be enqueued after commit")
	}
	foundCompleted := false
	for _, n := range f.notifier.sent {
		if n.template == "import_completed" {
			foundCompleted = true
		}
	}
	if !foundCompleted {
		t.Error("import_completed notification missing")
	}
}

func TestRunCSVPath(t *testing.T) {
	doc := queuedDoc()
	doc.OriginalFilename = "export.csv"
	doc.FilePath = "t/export.csv"
	doc.Subtype = models.SubtypeCSV
	doc.ColumnMapping = []byte(`{"date_column":0,"merchant_column":1,"amount_column":2,"has_header":false,"currency":"USD"}`)

	inf := &fakeInference{bySystem: map[string]string{
		csvCategorizerSystemPrompt: `{"assignments":[{"merchant":"Coffee Shop","category":"Dining","confidence":0.8}]}`,
	}}
	f := newPipelineFixture(doc, inf)
	f.blobs.files = map[string][]byte{
		"t/export.csv": []byte("2026-03-01,Coffee Shop,4.50\n"),
	}

	if err := f.pipe.Run(context.Background(), doc.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(f.commitTx.inserted) != 1 {
		t.Fatalf("inserted = %d, want 1", len(f.commitTx.inserted))
	}
	got := f.commitTx.inserted[0]
	if got.AmountMinor != 450 {
		t.Errorf("amount = %d, want 450", got.AmountMinor)
	}
	if got.Confidence != 80 {
		t.Errorf("confidence = %d, want 80", got.Confidence)
	}
	if f.commitTx.finalStatus != models.DocStatusCompleted {
		t.Errorf("commit status = %q, want completed", f.commitTx.finalStatus)
	}
}

var _ inference.Client = (*fakeInference)(nil)
