package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spendsight/spendsight/internal/inference"
	"github.com/spendsight/spendsight/internal/models"
)

// fakeInference replays canned JSON responses, one per call. The last
// response repeats when calls outnumber responses. Safe for concurrent use
// because the metadata stage calls it from its own goroutine.
type fakeInference struct {
	mu        sync.Mutex
	responses []string
	bySystem  map[string]string // optional routing by system prompt
	calls     []inference.Request
	err       error
}

func (f *fakeInference) GenerateStructured(ctx context.Context, req inference.Request, target any) error {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	idx := len(f.calls) - 1
	f.mu.Unlock()

	if f.err != nil {
		return f.err
	}
	if f.bySystem != nil {
		resp, ok := f.bySystem[req.System]
		if !ok {
			return fmt.Errorf("no canned response for system prompt %q", req.System)
		}
		return json.Unmarshal([]byte(resp), target)
	}
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	return json.Unmarshal([]byte(f.responses[idx]), target)
}

func (f *fakeInference) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type categoryInsert struct {
	names []string
}

// fakeCommitTx is an in-memory CommitTx. Category names are keyed lowercase
// the way the real store compares them. concurrent lists names another
// import inserts between the lookup and the create; like the real conflict
// clause, those rows resolve to an id but do not count as created here.
type fakeCommitTx struct {
	status      string
	categories  map[string]uuid.UUID
	live        map[uuid.UUID]bool
	creates     []categoryInsert
	concurrent  []string
	inserted    []models.Transaction
	finalStatus string
}

func newFakeCommitTx(status string) *fakeCommitTx {
	return &fakeCommitTx{
		status:     status,
		categories: make(map[string]uuid.UUID),
		live:       make(map[uuid.UUID]bool),
	}
}

func (f *fakeCommitTx) DocumentStatus(ctx context.Context, docID uuid.UUID) (string, error) {
	return f.status, nil
}

func (f *fakeCommitTx) CategoriesByNames(ctx context.Context, tenantID uuid.UUID, names []string) (map[string]uuid.UUID, error) {
	out := make(map[string]uuid.UUID)
	for _, n := range names {
		if id, ok := f.categories[strings.ToLower(n)]; ok {
			out[strings.ToLower(n)] = id
		}
	}
	return out, nil
}

func (f *fakeCommitTx) CreateCategories(ctx context.Context, tenantID uuid.UUID, names []string) (map[string]uuid.UUID, int, error) {
	f.creates = append(f.creates, categoryInsert{names: names})
	for _, n := range f.concurrent {
		if _, ok := f.categories[strings.ToLower(n)]; !ok {
			id := uuid.New()
			f.categories[strings.ToLower(n)] = id
			f.live[id] = true
		}
	}
	f.concurrent = nil

	created := 0
	for _, n := range names {
		if _, ok := f.categories[strings.ToLower(n)]; !ok {
			id := uuid.New()
			f.categories[strings.ToLower(n)] = id
			f.live[id] = true
			created++
		}
	}
	byName, err := f.CategoriesByNames(ctx, tenantID, names)
	return byName, created, err
}

func (f *fakeCommitTx) LiveCategoryIDs(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
	out := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		out[id] = f.live[id]
	}
	return out, nil
}

func (f *fakeCommitTx) InsertTransactions(ctx context.Context, txs []models.Transaction) error {
	f.inserted = append(f.inserted, txs...)
	return nil
}

func (f *fakeCommitTx) SetDocumentStatus(ctx context.Context, docID uuid.UUID, status string) error {
	f.finalStatus = status
	return nil
}

type fakeCommitStore struct {
	tx *fakeCommitTx
}

func (f *fakeCommitStore) RunInTx(ctx context.Context, fn func(tx CommitTx) error) error {
	return fn(f.tx)
}

type sentNotification struct {
	template  string
	recipient string
	params    map[string]any
}

type fakeNotifier struct {
	sent []sentNotification
}

func (f *fakeNotifier) Send(template, recipient string, params map[string]any) {
	f.sent = append(f.sent, sentNotification{template: template, recipient: recipient, params: params})
}

type fakeRecipients struct {
	email string
}

func (f *fakeRecipients) OwnerEmail(ctx context.Context, tenantID uuid.UUID) (string, error) {
	return f.email, nil
}

type fakeRefineEnqueuer struct {
	enqueued []uuid.UUID
}

func (f *fakeRefineEnqueuer) EnqueueRefine(docID, tenantID uuid.UUID) error {
	f.enqueued = append(f.enqueued, docID)
	return nil
}

type categorizationUpdate struct {
	id         uuid.UUID
	categoryID *uuid.UUID
	confidence int
}

type fakeTransactionStore struct {
	txs     []models.Transaction
	updates []categorizationUpdate
}

func (f *fakeTransactionStore) ListBelowConfidence(ctx context.Context, docID uuid.UUID, threshold int) ([]models.Transaction, error) {
	var out []models.Transaction
	for _, t := range f.txs {
		if t.Confidence < threshold {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTransactionStore) UpdateCategorization(ctx context.Context, id uuid.UUID, categoryID *uuid.UUID, confidence int) error {
	f.updates = append(f.updates, categorizationUpdate{id: id, categoryID: categoryID, confidence: confidence})
	for i := range f.txs {
		if f.txs[i].ID == id {
			f.txs[i].CategoryID = categoryID
			f.txs[i].Confidence = confidence
		}
	}
	return nil
}

type fakeCategoryReader struct {
	cats []models.Category
}

func (f *fakeCategoryReader) ListActive(ctx context.Context, tenantID uuid.UUID) ([]models.Category, error) {
	return f.cats, nil
}

type fakeMerchantContext struct {
	recent  []models.MerchantMapping
	similar []models.MerchantMapping
}

func (f *fakeMerchantContext) Recent(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.MerchantMapping, error) {
	return f.recent, nil
}

func (f *fakeMerchantContext) Similar(ctx context.Context, tenantID uuid.UUID, merchant string, k int) ([]models.MerchantMapping, error) {
	return f.similar, nil
}

// fakeDocumentStore keeps one document in memory and honors the transition
// guard the way the real store's WHERE clause does. cancelOnTransition
// simulates a cancel sneaking in ahead of a guarded write.
type fakeDocumentStore struct {
	mu                 sync.Mutex
	doc                *models.Document
	cancelOnTransition bool
	subtype            string
	pageCount          int
	metadata           *StatementMetadata
}

func (f *fakeDocumentStore) Get(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *f.doc
	return &copied, nil
}

func (f *fakeDocumentStore) Transition(ctx context.Context, id uuid.UUID, from, to string, reason *string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !models.CanTransition(from, to) {
		return false, fmt.Errorf("illegal status transition %s -> %s", from, to)
	}
	if f.cancelOnTransition {
		f.doc.Status = models.DocStatusCancelled
		f.cancelOnTransition = false
		return false, nil
	}
	if f.doc.Status != from {
		return false, nil
	}
	f.doc.Status = to
	f.doc.FailureReason = reason
	return true, nil
}

func (f *fakeDocumentStore) SetPageCount(ctx context.Context, id uuid.UUID, n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pageCount = n
	return nil
}

func (f *fakeDocumentStore) SetSubtype(ctx context.Context, id uuid.UUID, subtype string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subtype = subtype
	return nil
}

func (f *fakeDocumentStore) SetStatementMetadata(ctx context.Context, id uuid.UUID, meta StatementMetadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metadata = &meta
	return nil
}

func (f *fakeDocumentStore) status() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.doc.Status
}

func (f *fakeDocumentStore) failureReason() *string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.doc.FailureReason
}

type fakeRasterizer struct {
	pages [][]byte
	err   error
}

func (f *fakeRasterizer) Rasterize(ctx context.Context, doc *models.Document, maxPages int) ([][]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	if maxPages > 0 && maxPages < len(f.pages) {
		return f.pages[:maxPages], nil
	}
	return f.pages, nil
}

// fakeBlobStore serves canned file contents by path.
type fakeBlobStore struct {
	files map[string][]byte
}

func (f *fakeBlobStore) Upload(ctx context.Context, bucket, path string, data io.Reader, contentType string) error {
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if f.files == nil {
		f.files = make(map[string][]byte)
	}
	f.files[path] = raw
	return nil
}

func (f *fakeBlobStore) Download(ctx context.Context, bucket, path string) (io.ReadCloser, error) {
	raw, ok := f.files[path]
	if !ok {
		return nil, fmt.Errorf("not found: %s", path)
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (f *fakeBlobStore) Delete(ctx context.Context, bucket, path string) error {
	delete(f.files, path)
	return nil
}

func (f *fakeBlobStore) Exists(ctx context.Context, bucket, path string) (bool, error) {
	_, ok := f.files[path]
	return ok, nil
}

func (f *fakeBlobStore) SignedDownloadURL(ctx context.Context, bucket, path string, ttl time.Duration) (string, error) {
	return "https://blobs.test/" + path, nil
}

