package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/gen2brain/go-fitz"
	"github.com/ledongthuc/pdf"
	"github.com/spendsight/spendsight/internal/cache"
	"github.com/spendsight/spendsight/internal/models"
	"github.com/spendsight/spendsight/internal/storage"
)

// pageIndex records how many page images exist for a document. The redis
// cache satisfies it.
type pageIndex interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// Rasterizer converts statement PDFs into PNG page images stored alongside
// the original. Conversion is idempotent: a redis index plus blob existence
// checks let repeat runs return cached pages without re-invoking the
// renderer. Racing conversions of the same document are safe because they
// produce identical output.
type Rasterizer struct {
	store  storage.Storage
	index  pageIndex
	bucket string
	dpi    int
}

func NewRasterizer(store storage.Storage, index pageIndex, bucket string, dpi int) *Rasterizer {
	return &Rasterizer{store: store, index: index, bucket: bucket, dpi: dpi}
}

func pagePath(doc *models.Document, page int) string {
	return fmt.Sprintf("%s/%s/pages/page-%03d.png", doc.TenantID, doc.ID, page)
}

func pageIndexKey(doc *models.Document) string {
	return "pages:" + doc.ID.String()
}

// Rasterize returns the document's page images in order. maxPages = 0 means
// all pages. Zero renderable pages is an error; the caller treats it as
// fatal for the document.
func (r *Rasterizer) Rasterize(ctx context.Context, doc *models.Document, maxPages int) ([][]byte, error) {
	if pages, ok := r.fromCache(ctx, doc, maxPages); ok {
		return pages, nil
	}

	raw, err := r.downloadOriginal(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("download original: %w", err)
	}

	// Cheap preflight before handing the bytes to the renderer.
	if _, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw))); err != nil {
		return nil, fmt.Errorf("preflight pdf: %w", err)
	}

	fdoc, err := fitz.NewFromMemory(raw)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer fdoc.Close()

	total := fdoc.NumPage()
	if total == 0 {
		return nil, fmt.Errorf("pdf produced zero pages")
	}

	limit := total
	if maxPages > 0 && maxPages < total {
		limit = maxPages
	}

	pages := make([][]byte, 0, limit)
	for i := 0; i < limit; i++ {
		img, err := fdoc.ImagePNG(i, float64(r.dpi))
		if err != nil {
			return nil, fmt.Errorf("render page %d: %w", i, err)
		}

		path := pagePath(doc, i)
		if exists, err := r.store.Exists(ctx, r.bucket, path); err != nil || !exists {
			if err := r.store.Upload(ctx, r.bucket, path, bytes.NewReader(img), "image/png"); err != nil {
				return nil, fmt.Errorf("store page %d: %w", i, err)
			}
		}
		pages = append(pages, img)
	}

	r.indexPages(ctx, doc, limit, total)

	return pages, nil
}

// indexPages records the page count once every page image is in blob storage.
// A prefix-limited render leaves the index unset so the next full render does
// not trust pages that were never uploaded.
func (r *Rasterizer) indexPages(ctx context.Context, doc *models.Document, rendered, total int) {
	if rendered != total {
		return
	}
	if err := r.index.Set(ctx, pageIndexKey(doc), total, 24*time.Hour); err != nil {
		slog.Warn("page index cache write failed", "document_id", doc.ID, "error", err)
	}
}

func (r *Rasterizer) fromCache(ctx context.Context, doc *models.Document, maxPages int) ([][]byte, bool) {
	var total int
	if err := r.index.Get(ctx, pageIndexKey(doc), &total); err != nil {
		if !cache.IsMiss(err) {
			slog.Warn("page index cache read failed", "document_id", doc.ID, "error", err)
		}
		return nil, false
	}
	if total <= 0 {
		return nil, false
	}

	limit := total
	if maxPages > 0 && maxPages < total {
		limit = maxPages
	}

	pages := make([][]byte, 0, limit)
	for i := 0; i < limit; i++ {
		rc, err := r.store.Download(ctx, r.bucket, pagePath(doc, i))
		if err != nil {
			// Index said the pages exist but one is missing: fall back to
			// a fresh conversion.
			return nil, false
		}
		img, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, false
		}
		pages = append(pages, img)
	}
	return pages, true
}

func (r *Rasterizer) downloadOriginal(ctx context.Context, doc *models.Document) ([]byte, error) {
	rc, err := r.store.Download(ctx, r.bucket, doc.FilePath)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
