package normalize

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"smartdeals/internal/model"
)

const (
	DefaultName     = "Untitled Product"
	DefaultLink     = "#"
	DefaultCategory = "uncategorized"
	DefaultRating   = 5.0
	maxRating       = 5.0
)

var numberPattern = regexp.MustCompile(`-?\d+(\.\d+)?`)

// ErrMalformedRecord marks a record that could not be normalized at all.
var ErrMalformedRecord = errors.New("malformed product record")

// Normalizer turns raw records into canonical products.
type Normalizer struct {
	Mode IDMode
	// Now is the clock used for missing timestamps and salted ids.
	Now func() time.Time
}

// New returns a Normalizer using the wall clock.
func New(mode IDMode) *Normalizer {
	return &Normalizer{Mode: mode, Now: time.Now}
}

// Batch fixes the clock for a group of records so that identical content in
// the same call gets the same id and the same fallback timestamp.
func (n *Normalizer) Batch() *Batch {
	now := time.Now
	if n.Now != nil {
		now = n.Now
	}
	return &Batch{mode: n.Mode, now: now().UTC()}
}

// Normalize normalizes a single record in its own batch.
func (n *Normalizer) Normalize(r model.RawProduct) (model.Product, error) {
	return n.Batch().Normalize(r)
}

// Batch normalizes records against a single captured instant.
type Batch struct {
	mode IDMode
	now  time.Time
}

// Now is the instant captured by the batch.
func (b *Batch) Now() time.Time { return b.now }

// CreatedAt resolves the record's timestamp against the batch clock.
func (b *Batch) CreatedAt(r model.RawProduct) (t time.Time, err error) {
	defer recoverMalformed(&err)
	return ResolveTime(r.CreatedAt, b.now), nil
}

// ID returns the id the record will be cached under.
func (b *Batch) ID(r model.RawProduct) string { return AssignID(r, b.mode, b.now) }

// Normalize never fails on missing or badly typed fields; it only reports
// ErrMalformedRecord when a wrapped timestamp converter panics.
func (b *Batch) Normalize(r model.RawProduct) (p model.Product, err error) {
	defer recoverMalformed(&err)

	created := ResolveTime(r.CreatedAt, b.now)
	price := ParsePrice(r.Price)
	original := price
	if r.OriginalPrice != nil {
		original = ParsePrice(r.OriginalPrice)
	}
	rating := parseRating(r.Rating)

	p = model.Product{
		ID:            b.ID(r),
		Name:          orDefault(r.DisplayName(), DefaultName),
		Price:         FormatPrice(price),
		OriginalPrice: FormatPrice(original),
		Image:         r.Image.Trimmed(),
		Link:          orDefault(r.Link.Trimmed(), DefaultLink),
		Category:      orDefault(strings.ToLower(r.Category.Trimmed()), DefaultCategory),
		Rating:        rating,
		Reviews:       parseCount(r.Reviews),
		Discount:      parseDiscount(r.Discount, price, original),
		Features:      parseFeatures(r.Features),
		Featured:      parseBool(r.Featured),
		CreatedAt:     FormatTime(created),
	}
	p.ProductReviews = buildReviews(r.ProductReviews, p, created, b.now)
	return p, nil
}

func recoverMalformed(err *error) {
	if rec := recover(); rec != nil {
		*err = fmt.Errorf("%w: %v", ErrMalformedRecord, rec)
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func parseNumber(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, false
		}
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case string:
		m := numberPattern.FindString(strings.ReplaceAll(x, ",", ""))
		if m == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(m, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func parseRating(v any) float64 {
	f, ok := parseNumber(v)
	if !ok {
		return DefaultRating
	}
	return math.Max(0, math.Min(maxRating, f))
}

func parseCount(v any) int {
	f, ok := parseNumber(v)
	if !ok || f < 0 {
		return 0
	}
	if f > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(f)
}

func parseDiscount(v any, price, original decimal.Decimal) int {
	if f, ok := parseNumber(v); ok {
		return clampPercent(int(math.Round(f)))
	}
	if original.GreaterThan(price) && price.IsPositive() {
		pct := original.Sub(price).Div(original).Mul(decimal.NewFromInt(100)).Round(0)
		return clampPercent(int(pct.IntPart()))
	}
	return 0
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func parseFeatures(v any) []string {
	out := []string{}
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	switch x := v.(type) {
	case []any:
		for _, e := range x {
			add(looseText(e))
		}
	case []string:
		for _, e := range x {
			add(e)
		}
	case string:
		for _, e := range strings.FieldsFunc(x, func(r rune) bool { return r == '\n' || r == ',' || r == '|' }) {
			add(e)
		}
	}
	return out
}

func parseBool(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "1", "yes", "y":
			return true
		}
	}
	return false
}
