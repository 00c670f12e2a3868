package normalize

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"smartdeals/internal/model"
)

var priceRe = regexp.MustCompile(`^\$\d+\.\d{2}$`)

func fixedNormalizer(mode IDMode, now time.Time) *Normalizer {
	return &Normalizer{Mode: mode, Now: func() time.Time { return now }}
}

func TestNormalize_PriceRoundTrip(t *testing.T) {
	n := fixedNormalizer(IDContent, time.Now())
	cases := []struct {
		in   any
		want string
	}{
		{"$12.5", "$12.50"},
		{"12.50", "$12.50"},
		{"€12,50", "$1250.00"},
		{nil, "$0.00"},
		{"abc", "$0.00"},
		{19.999, "$20.00"},
		{"$1,299.00", "$1299.00"},
		{"1.2.3", "$0.00"},
	}
	for _, c := range cases {
		p, err := n.Normalize(model.RawProduct{Title: "x", Price: c.in})
		if err != nil {
			t.Fatalf("normalize(%v): %v", c.in, err)
		}
		if !priceRe.MatchString(p.Price) || !priceRe.MatchString(p.OriginalPrice) {
			t.Fatalf("price %v rendered as %q/%q", c.in, p.Price, p.OriginalPrice)
		}
		if p.Price != c.want {
			t.Fatalf("price %v: got=%s want=%s", c.in, p.Price, c.want)
		}
	}
}

type explodingDate struct{}

func (explodingDate) ToDate() (time.Time, error) { panic("boom") }

type failingDate struct{}

func (failingDate) ToDate() (time.Time, error) { return time.Time{}, errors.New("bad") }

func TestNormalize_TimestampSafety(t *testing.T) {
	now := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	n := fixedNormalizer(IDContent, now)
	cases := []struct {
		in   model.Timestamp
		want string
	}{
		{model.Timestamp{}, "2025-03-04T05:06:07.000Z"},
		{model.ISOTimestamp("not-a-date"), "2025-03-04T05:06:07.000Z"},
		{model.EpochTimestamp(1700000000000), "2023-11-14T22:13:20.000Z"},
		{model.EpochTimestamp(1700000000), "2023-11-14T22:13:20.000Z"},
		{model.ISOTimestamp("2024-01-02T03:04:05Z"), "2024-01-02T03:04:05.000Z"},
		{model.ISOTimestamp("2024-01-02"), "2024-01-02T00:00:00.000Z"},
		{model.WrappedTimestamp(model.BackendTimestamp{Seconds: 1700000000}), "2023-11-14T22:13:20.000Z"},
		{model.WrappedTimestamp(failingDate{}), "2025-03-04T05:06:07.000Z"},
		{model.EpochTimestamp(1e20), "2025-03-04T05:06:07.000Z"},
	}
	for _, c := range cases {
		p, err := n.Normalize(model.RawProduct{Title: "x", CreatedAt: c.in})
		if err != nil {
			t.Fatalf("normalize(%+v): %v", c.in, err)
		}
		if p.CreatedAt != c.want {
			t.Fatalf("createdAt %+v: got=%s want=%s", c.in, p.CreatedAt, c.want)
		}
		if _, err := time.Parse(time.RFC3339, p.CreatedAt); err != nil {
			t.Fatalf("createdAt %q is not ISO-8601: %v", p.CreatedAt, err)
		}
	}
}

func TestNormalize_PanickingConverterIsMalformed(t *testing.T) {
	n := fixedNormalizer(IDContent, time.Now())
	_, err := n.Normalize(model.RawProduct{Title: "x", CreatedAt: model.WrappedTimestamp(explodingDate{})})
	if !errors.Is(err, ErrMalformedRecord) {
		t.Fatalf("want ErrMalformedRecord, got %v", err)
	}
}

func TestNormalize_Defaults(t *testing.T) {
	n := fixedNormalizer(IDContent, time.Now())
	p, err := n.Normalize(model.RawProduct{})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if p.Name != DefaultName || p.Link != DefaultLink || p.Category != DefaultCategory {
		t.Fatalf("defaults not applied: %+v", p)
	}
	if p.Rating != DefaultRating || p.Reviews != 0 || p.Discount != 0 || p.Featured {
		t.Fatalf("numeric defaults not applied: %+v", p)
	}
	if p.Features == nil || len(p.Features) != 0 || p.ProductReviews == nil {
		t.Fatalf("slices should be empty, not nil: %+v", p)
	}
	if p.ID == "" {
		t.Fatalf("id must never be empty")
	}
}

func TestNormalize_LooseFields(t *testing.T) {
	n := fixedNormalizer(IDContent, time.Now())
	p, err := n.Normalize(model.RawProduct{
		ID:            "p1",
		Title:         "  Kindle  ",
		Price:         "$99.99",
		OriginalPrice: "$149.99",
		Rating:        "4.6 out of 5",
		Reviews:       "12,345 ratings",
		Features:      "Glare-free, Waterproof\n 16 GB ",
		Featured:      "true",
		Category:      "  Electronics ",
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if p.Name != "Kindle" || p.Rating != 4.6 || p.Reviews != 12345 || !p.Featured {
		t.Fatalf("unexpected product: %+v", p)
	}
	if p.Category != "electronics" {
		t.Fatalf("category not lower-cased and trimmed: %q", p.Category)
	}
	if p.Discount != 33 {
		t.Fatalf("discount derived from prices: got %d want 33", p.Discount)
	}
	if len(p.Features) != 3 || p.Features[2] != "16 GB" {
		t.Fatalf("features: %#v", p.Features)
	}
	if len(p.ProductReviews) != 3 {
		t.Fatalf("want 3 synthesized reviews, got %d", len(p.ProductReviews))
	}
	again, _ := n.Normalize(model.RawProduct{ID: "p1", Title: "Kindle", Rating: 4.6, Reviews: 12345})
	if again.ProductReviews[0] != p.ProductReviews[0] {
		t.Fatalf("synthesized reviews should be stable per id")
	}
}

func TestNormalize_ClampsOutOfRange(t *testing.T) {
	n := fixedNormalizer(IDContent, time.Now())
	p, _ := n.Normalize(model.RawProduct{Title: "x", Rating: 11.0, Reviews: -4.0, Discount: "150%"})
	if p.Rating != 5 || p.Reviews != 0 || p.Discount != 100 {
		t.Fatalf("clamping failed: %+v", p)
	}
}

func TestNormalize_SuppliedReviews(t *testing.T) {
	n := fixedNormalizer(IDContent, time.Now())
	p, _ := n.Normalize(model.RawProduct{
		Title:   "x",
		Reviews: 99.0,
		ProductReviews: []model.RawReview{
			{Name: "Ana", Rating: 9.0, Text: "great", Date: model.ISOTimestamp("2024-05-01")},
			{},
		},
	})
	if len(p.ProductReviews) != 2 {
		t.Fatalf("supplied reviews should be kept as-is in count, got %d", len(p.ProductReviews))
	}
	r := p.ProductReviews[0]
	if r.Reviewer != "Ana" || r.Rating != 5 || r.Comment != "great" || r.Date != "2024-05-01T00:00:00.000Z" {
		t.Fatalf("unexpected review: %+v", r)
	}
	if p.ProductReviews[1].Reviewer != defaultReviewer {
		t.Fatalf("missing reviewer should default: %+v", p.ProductReviews[1])
	}
}

func TestBatch_ContentHashStableWithinCall(t *testing.T) {
	n := fixedNormalizer(IDSalted, time.Now())
	b := n.Batch()
	r1 := model.RawProduct{Title: "Echo", Link: "https://x/y", Category: "a", Price: "1"}
	r2 := model.RawProduct{Name: "Echo", Link: "https://x/y", Category: "a", Price: "1", Rating: 3.0}
	p1, _ := b.Normalize(r1)
	p2, _ := b.Normalize(r2)
	if p1.ID != p2.ID {
		t.Fatalf("same content in one batch should share an id: %s vs %s", p1.ID, p2.ID)
	}
}
