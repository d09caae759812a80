package pipeline

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spendsight/spendsight/internal/models"
)

// fakePageIndex is an in-memory page count index.
type fakePageIndex struct {
	vals map[string]int
	sets int
}

func (f *fakePageIndex) Get(ctx context.Context, key string, dest interface{}) error {
	n, ok := f.vals[key]
	if !ok {
		return errors.New("index miss")
	}
	*dest.(*int) = n
	return nil
}

func (f *fakePageIndex) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if f.vals == nil {
		f.vals = make(map[string]int)
	}
	f.vals[key] = value.(int)
	f.sets++
	return nil
}

func rasterizerDoc() *models.Document {
	return &models.Document{ID: uuid.New(), TenantID: uuid.New(), FilePath: "orig.pdf"}
}

func TestIndexPagesOnlyAfterFullRender(t *testing.T) {
	doc := rasterizerDoc()
	index := &fakePageIndex{}
	r := NewRasterizer(&fakeBlobStore{}, index, "documents", 150)

	// A prefix-limited render must not publish the full page count.
	r.indexPages(context.Background(), doc, 3, 7)
	if index.sets != 0 {
		t.Fatal("prefix render must not write the page index")
	}

	r.indexPages(context.Background(), doc, 7, 7)
	if got := index.vals[pageIndexKey(doc)]; got != 7 {
		t.Errorf("index = %d, want 7", got)
	}
}

func TestRasterizeServesCachedPages(t *testing.T) {
	doc := rasterizerDoc()
	blobs := &fakeBlobStore{files: map[string][]byte{
		pagePath(doc, 0): []byte("page-0"),
		pagePath(doc, 1): []byte("page-1"),
	}}
	index := &fakePageIndex{vals: map[string]int{pageIndexKey(doc): 2}}
	r := NewRasterizer(blobs, index, "documents", 150)

	pages, err := r.Rasterize(context.Background(), doc, 0)
	if err != nil {
		t.Fatalf("Rasterize: %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("got %d pages, want 2", len(pages))
	}
	if !bytes.Equal(pages[0], []byte("page-0")) {
		t.Error("pages must come back in order")
	}

	// Prefix requests serve from the same cached set.
	prefix, err := r.Rasterize(context.Background(), doc, 1)
	if err != nil {
		t.Fatalf("Rasterize prefix: %v", err)
	}
	if len(prefix) != 1 {
		t.Errorf("got %d prefix pages, want 1", len(prefix))
	}
}

func TestFromCacheRejectsIncompleteBlobSet(t *testing.T) {
	doc := rasterizerDoc()
	// Index claims 3 pages but only one blob exists.
	blobs := &fakeBlobStore{files: map[string][]byte{
		pagePath(doc, 0): []byte("page-0"),
	}}
	index := &fakePageIndex{vals: map[string]int{pageIndexKey(doc): 3}}
	r := NewRasterizer(blobs, index, "documents", 150)

	if _, ok := r.fromCache(context.Background(), doc, 0); ok {
		t.Fatal("missing page blob must force a fresh conversion")
	}
}
