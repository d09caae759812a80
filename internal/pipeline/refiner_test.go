package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spendsight/spendsight/internal/models"
)

func newTestRefiner(txs *fakeTransactionStore, cats []models.Category, inf *fakeInference) *Refiner {
	return NewRefiner(txs, &fakeCategoryReader{cats: cats}, &fakeMerchantContext{}, inf, "test-model", 70)
}

func TestRefineNothingBelowThresholdIsSilent(t *testing.T) {
	inf := &fakeInference{}
	store := &fakeTransactionStore{txs: []models.Transaction{
		{ID: uuid.New(), Confidence: 90},
		{ID: uuid.New(), Confidence: 75},
	}}
	r := newTestRefiner(store, nil, inf)

	result, err := r.Refine(context.Background(), uuid.New(), uuid.New())
	if err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if result.Reviewed != 0 || result.Updated != 0 {
		t.Errorf("expected a silent no-op, got %+v", result)
	}
	if len(inf.calls) != 0 {
		t.Error("no inference call should be made when nothing is below threshold")
	}
}

func TestRefineUpdatesOnlyOnImprovement(t *testing.T) {
	groceries := models.Category{ID: uuid.New(), Name: "Groceries"}
	dining := models.Category{ID: uuid.New(), Name: "Dining"}

	sameCat := uuid.New()
	txSame := models.Transaction{ID: sameCat, CategoryID: &groceries.ID, Confidence: 50, MerchantName: "REWE", Date: time.Now()}
	txBetter := models.Transaction{ID: uuid.New(), Confidence: 30, MerchantName: "Trattoria Roma", Date: time.Now()}
	txWorse := models.Transaction{ID: uuid.New(), CategoryID: &dining.ID, Confidence: 60, MerchantName: "Unknown Corp", Date: time.Now()}

	inf := &fakeInference{responses: []string{fmt.Sprintf(
		`{"transactions":[
			{"id":%q,"category":"Groceries","confidence":0.4},
			{"id":%q,"category":"Dining","confidence":0.9},
			{"id":%q,"category":"","confidence":0.2}
		]}`, txSame.ID, txBetter.ID, txWorse.ID)}}

	store := &fakeTransactionStore{txs: []models.Transaction{txSame, txBetter, txWorse}}
	r := newTestRefiner(store, []models.Category{groceries, dining}, inf)

	result, err := r.Refine(context.Background(), uuid.New(), uuid.New())
	if err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if result.Reviewed != 3 {
		t.Errorf("reviewed = %d, want 3", result.Reviewed)
	}
	// Same category at lower confidence and an empty category at lower
	// confidence change nothing; only the real improvement lands.
	if result.Updated != 1 {
		t.Fatalf("updated = %d, want 1", result.Updated)
	}
	if len(store.updates) != 1 || store.updates[0].id != txBetter.ID {
		t.Fatalf("wrong transaction updated: %+v", store.updates)
	}
	if store.updates[0].categoryID == nil || *store.updates[0].categoryID != dining.ID {
		t.Error("improved transaction should be recategorized to Dining")
	}
	if store.updates[0].confidence != 90 {
		t.Errorf("confidence = %d, want 90", store.updates[0].confidence)
	}
	if result.ImprovedAboveThreshold != 1 {
		t.Errorf("improved above threshold = %d, want 1", result.ImprovedAboveThreshold)
	}
}

func TestRefineNeverInventsCategories(t *testing.T) {
	groceries := models.Category{ID: uuid.New(), Name: "Groceries"}
	tx := models.Transaction{ID: uuid.New(), Confidence: 40, MerchantName: "Mystery Shop", Date: time.Now()}

	// Model tries to return a category that does not exist.
	inf := &fakeInference{responses: []string{fmt.Sprintf(
		`{"transactions":[{"id":%q,"category":"Crypto Gambling","confidence":0.95}]}`, tx.ID)}}

	store := &fakeTransactionStore{txs: []models.Transaction{tx}}
	r := newTestRefiner(store, []models.Category{groceries}, inf)

	result, err := r.Refine(context.Background(), uuid.New(), uuid.New())
	if err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if result.Updated != 1 {
		t.Fatalf("updated = %d, want 1 (confidence raise only)", result.Updated)
	}
	if store.updates[0].categoryID != nil {
		t.Error("an unknown category name must not be assigned")
	}
	if store.updates[0].confidence != 95 {
		t.Errorf("confidence = %d, want 95", store.updates[0].confidence)
	}
}

func TestRefineSecondRunConverges(t *testing.T) {
	dining := models.Category{ID: uuid.New(), Name: "Dining"}
	tx := models.Transaction{ID: uuid.New(), Confidence: 30, MerchantName: "Trattoria", Date: time.Now()}

	inf := &fakeInference{responses: []string{fmt.Sprintf(
		`{"transactions":[{"id":%q,"category":"Dining","confidence":0.9}]}`, tx.ID)}}

	store := &fakeTransactionStore{txs: []models.Transaction{tx}}
	r := newTestRefiner(store, []models.Category{dining}, inf)

	first, err := r.Refine(context.Background(), uuid.New(), uuid.New())
	if err != nil {
		t.Fatalf("first Refine: %v", err)
	}
	if first.Updated != 1 {
		t.Fatalf("first run updated = %d, want 1", first.Updated)
	}

	second, err := r.Refine(context.Background(), uuid.New(), uuid.New())
	if err != nil {
		t.Fatalf("second Refine: %v", err)
	}
	if second.Reviewed != 0 || second.Updated != 0 {
		t.Errorf("second run should find nothing below threshold, got %+v", second)
	}
}
