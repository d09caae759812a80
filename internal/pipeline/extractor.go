package pipeline

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spendsight/spendsight/internal/inference"
	"github.com/spendsight/spendsight/internal/llm"
	"github.com/spendsight/spendsight/internal/models"
)

// pagesPerExtractionCall bounds how many page images go into a single vision
// request. Batches overlap nothing; duplicates across batch boundaries are
// collapsed by dedup below.
const pagesPerExtractionCall = 4

// ExtractionHints is tenant context fed to the model. Category names steer
// suggestions toward existing categories; merchant mappings raise confidence
// when they match but never force an assignment.
type ExtractionHints struct {
	CategoryNames []string
	Mappings      []models.MerchantMapping
}

// Extraction is the extractor's output for one document. Balances are minor
// units and nil when the statement does not show them.
type Extraction struct {
	Candidates          []models.Candidate
	Currency            string
	OpeningBalanceMinor *int64
	ClosingBalanceMinor *int64
}

// Extractor turns page images or CSV rows into transaction candidates.
type Extractor struct {
	inf   inference.Client
	model string
}

func NewExtractor(inf inference.Client, model string) *Extractor {
	return &Extractor{inf: inf, model: model}
}

type extractedTransaction struct {
	Date              string  `json:"date"`
	MerchantName      string  `json:"merchant_name"`
	Description       string  `json:"description"`
	AmountMinor       int64   `json:"amount_minor"`
	Currency          string  `json:"currency"`
	SuggestedCategory string  `json:"suggested_category"`
	Confidence        float64 `json:"confidence"`
}

type extractorOutput struct {
	Transactions        []extractedTransaction `json:"transactions"`
	Currency            string                 `json:"currency"`
	OpeningBalanceMinor *int64                 `json:"opening_balance_minor"`
	ClosingBalanceMinor *int64                 `json:"closing_balance_minor"`
}

// ExtractPDF runs vision extraction over the full page set in bounded
// batches and returns deduplicated candidates.
func (e *Extractor) ExtractPDF(ctx context.Context, pages [][]byte, hints ExtractionHints) (*Extraction, error) {
	result := &Extraction{}

	for start := 0; start < len(pages); start += pagesPerExtractionCall {
		end := start + pagesPerExtractionCall
		if end > len(pages) {
			end = len(pages)
		}

		var out extractorOutput
		err := e.inf.GenerateStructured(ctx, inference.Request{
			Model:  e.model,
			System: extractorSystemPrompt,
			Messages: []llm.Message{{
				Role:    "user",
				Content: fmt.Sprintf("Statement pages %d-%d.\n\n%s", start+1, end, hintsText(hints)),
				Images:  pages[start:end],
			}},
			Schema: extractionSchema(),
		}, &out)
		if err != nil {
			return nil, fmt.Errorf("extract pages %d-%d: %w", start+1, end, err)
		}

		if result.Currency == "" && out.Currency != "" {
			result.Currency = out.Currency
		}
		// Opening balance usually sits on the first page, closing on the
		// last, so keep the first and latest sighting respectively.
		if result.OpeningBalanceMinor == nil && out.OpeningBalanceMinor != nil {
			result.OpeningBalanceMinor = out.OpeningBalanceMinor
		}
		if out.ClosingBalanceMinor != nil {
			result.ClosingBalanceMinor = out.ClosingBalanceMinor
		}
		for _, t := range out.Transactions {
			c, ok := toCandidate(t, result.Currency)
			if !ok {
				continue
			}
			result.Candidates = append(result.Candidates, c)
		}
	}

	result.Candidates = dedupCandidates(result.Candidates)
	return result, nil
}

func extractionSchema() []inference.SchemaField {
	return []inference.SchemaField{
		{Name: "transactions", Type: "array", Description: "objects with date, merchant_name, description, amount_minor, currency, suggested_category, confidence", Required: true},
		{Name: "currency", Type: "string", Description: "ISO 4217 currency code of the statement", Required: false},
		{Name: "opening_balance_minor", Type: "number", Description: "opening balance in minor units, omit if not shown", Required: false},
		{Name: "closing_balance_minor", Type: "number", Description: "closing balance in minor units, omit if not shown", Required: false},
	}
}

func hintsText(hints ExtractionHints) string {
	var sb strings.Builder
	if len(hints.CategoryNames) > 0 {
		sb.WriteString("Existing categories: ")
		sb.WriteString(strings.Join(hints.CategoryNames, ", "))
		sb.WriteString("\n")
	}
	if len(hints.Mappings) > 0 {
		sb.WriteString("Confirmed merchant mappings:\n")
		for _, m := range hints.Mappings {
			fmt.Fprintf(&sb, "- %s => %s\n", m.MerchantName, m.CategoryName)
		}
	}
	return sb.String()
}

func toCandidate(t extractedTransaction, fallbackCurrency string) (models.Candidate, bool) {
	date, err := time.Parse("2006-01-02", t.Date)
	if err != nil {
		slog.Debug("dropping extracted row with unparseable date", "date", t.Date, "merchant", t.MerchantName)
		return models.Candidate{}, false
	}
	merchant := strings.TrimSpace(t.MerchantName)
	if merchant == "" {
		return models.Candidate{}, false
	}
	currency := t.Currency
	if currency == "" {
		currency = fallbackCurrency
	}
	return models.Candidate{
		Date:              date,
		MerchantName:      merchant,
		Description:       strings.TrimSpace(t.Description),
		AmountMinor:       t.AmountMinor,
		Currency:          currency,
		SuggestedCategory: strings.TrimSpace(t.SuggestedCategory),
		Confidence:        normalizeConfidence(t.Confidence),
	}, true
}

// normalizeConfidence maps model output onto the 0-100 integer scale. Values
// at or below 1 are treated as fractions, then everything is clamped.
func normalizeConfidence(v float64) int {
	if v <= 1 {
		v *= 100
	}
	n := int(v + 0.5)
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}

// dedupCandidates collapses rows that share date, merchant (case-insensitive)
// and amount, keeping the first occurrence.
func dedupCandidates(in []models.Candidate) []models.Candidate {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, c := range in {
		key := fmt.Sprintf("%s|%s|%d", c.Date.Format("2006-01-02"), strings.ToLower(c.MerchantName), c.AmountMinor)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

// csvColumnMapping is the stored answer set from CSV submission, telling the
// parser which column holds what.
type csvColumnMapping struct {
	DateColumn        int    `json:"date_column"`
	MerchantColumn    int    `json:"merchant_column"`
	DescriptionColumn *int   `json:"description_column,omitempty"`
	AmountColumn      int    `json:"amount_column"`
	DateFormat        string `json:"date_format,omitempty"` // Go layout, default 2006-01-02
	HasHeader         bool   `json:"has_header"`
	// ExpensesNegative describes the source file's sign convention. Storage
	// always uses positive-is-expense.
	ExpensesNegative bool   `json:"expenses_negative"`
	Currency         string `json:"currency,omitempty"`
}

type csvCategoryAssignment struct {
	Merchant   string  `json:"merchant"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

type csvCategorizerOutput struct {
	Assignments []csvCategoryAssignment `json:"assignments"`
}

// ExtractCSV parses the uploaded CSV using the document's column mapping and
// then asks the model to categorize the distinct merchants in one call.
func (e *Extractor) ExtractCSV(ctx context.Context, doc *models.Document, raw []byte, hints ExtractionHints) (*Extraction, error) {
	var mapping csvColumnMapping
	if err := json.Unmarshal(doc.ColumnMapping, &mapping); err != nil {
		return nil, fatal(fmt.Errorf("decode column mapping: %w", err))
	}

	candidates, err := parseCSVRows(raw, mapping)
	if err != nil {
		return nil, fatal(fmt.Errorf("parse csv: %w", err))
	}
	candidates = dedupCandidates(candidates)

	if len(candidates) > 0 {
		if err := e.categorizeCSV(ctx, candidates, hints); err != nil {
			return nil, err
		}
	}

	return &Extraction{Candidates: candidates, Currency: mapping.Currency}, nil
}

func parseCSVRows(raw []byte, mapping csvColumnMapping) ([]models.Candidate, error) {
	reader := csv.NewReader(bytes.NewReader(raw))
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if mapping.HasHeader && len(rows) > 0 {
		rows = rows[1:]
	}

	layout := mapping.DateFormat
	if layout == "" {
		layout = "2006-01-02"
	}

	maxCol := mapping.DateColumn
	if mapping.MerchantColumn > maxCol {
		maxCol = mapping.MerchantColumn
	}
	if mapping.AmountColumn > maxCol {
		maxCol = mapping.AmountColumn
	}

	var out []models.Candidate
	for i, row := range rows {
		if len(row) <= maxCol {
			return nil, fmt.Errorf("row %d has %d columns, need at least %d", i+1, len(row), maxCol+1)
		}
		date, err := time.Parse(layout, strings.TrimSpace(row[mapping.DateColumn]))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		amount, err := parseAmountMinor(row[mapping.AmountColumn])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		if mapping.ExpensesNegative {
			amount = -amount
		}
		merchant := strings.TrimSpace(row[mapping.MerchantColumn])
		if merchant == "" {
			continue
		}
		description := ""
		if mapping.DescriptionColumn != nil && len(row) > *mapping.DescriptionColumn {
			description = strings.TrimSpace(row[*mapping.DescriptionColumn])
		}
		out = append(out, models.Candidate{
			Date:         date,
			MerchantName: merchant,
			Description:  description,
			AmountMinor:  amount,
			Currency:     mapping.Currency,
		})
	}
	return out, nil
}

// parseAmountMinor converts a display amount like "1,234.56", "-12.30" or
// "(45.00)" into signed minor units.
func parseAmountMinor(s string) (int64, error) {
	s = strings.TrimSpace(s)
	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = s[1 : len(s)-1]
	}
	s = strings.TrimLeft(s, "$€£ ")
	s = strings.ReplaceAll(s, ",", "")
	if strings.HasPrefix(s, "-") {
		neg = !neg
		s = s[1:]
	}
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}

	whole, frac := s, "00"
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" {
		whole = "0"
	}
	switch len(frac) {
	case 0:
		frac = "00"
	case 1:
		frac += "0"
	case 2:
	default:
		return 0, fmt.Errorf("amount %q has more than two decimal places", s)
	}

	var minor int64
	for _, r := range whole + frac {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("invalid amount %q", s)
		}
		minor = minor*10 + int64(r-'0')
	}
	if neg {
		minor = -minor
	}
	return minor, nil
}

func (e *Extractor) categorizeCSV(ctx context.Context, candidates []models.Candidate, hints ExtractionHints) error {
	distinct := make([]string, 0)
	seen := make(map[string]bool)
	for _, c := range candidates {
		key := strings.ToLower(c.MerchantName)
		if !seen[key] {
			seen[key] = true
			distinct = append(distinct, c.MerchantName)
		}
	}

	var out csvCategorizerOutput
	err := e.inf.GenerateStructured(ctx, inference.Request{
		Model:  e.model,
		System: csvCategorizerSystemPrompt,
		Messages: []llm.Message{{
			Role:    "user",
			Content: fmt.Sprintf("%sMerchants:\n%s", hintsText(hints), strings.Join(distinct, "\n")),
		}},
		Schema: []inference.SchemaField{
			{Name: "assignments", Type: "array", Description: "objects with merchant, category, confidence", Required: true},
		},
	}, &out)
	if err != nil {
		return fmt.Errorf("categorize csv merchants: %w", err)
	}

	byMerchant := make(map[string]csvCategoryAssignment, len(out.Assignments))
	for _, a := range out.Assignments {
		byMerchant[strings.ToLower(strings.TrimSpace(a.Merchant))] = a
	}
	for i := range candidates {
		a, ok := byMerchant[strings.ToLower(candidates[i].MerchantName)]
		if !ok {
			continue
		}
		candidates[i].SuggestedCategory = strings.TrimSpace(a.Category)
		candidates[i].Confidence = normalizeConfidence(a.Confidence)
	}
	return nil
}
