package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"smartdeals/internal/model"
	"smartdeals/internal/snapshot"
)

// columnFields maps normalized header text to record fields.
var columnFields = map[string]string{
	"id":             "id",
	"title":          "title",
	"name":           "name",
	"price":          "price",
	"originalprice":  "originalPrice",
	"original price": "originalPrice",
	"image":          "image",
	"link":           "link",
	"url":            "link",
	"category":       "category",
	"rating":         "rating",
	"reviews":        "reviews",
	"discount":       "discount",
	"features":       "features",
	"featured":       "featured",
	"createdat":      "createdAt",
	"created at":     "createdAt",
}

// XLSXFeed reads products from a spreadsheet whose first row is a header.
// Cells are passed through as text and normalized like any other feed.
type XLSXFeed struct {
	path  string
	sheet string
	ready *Readiness
}

// NewXLSXFeed reads sheet, or the first sheet when sheet is empty.
func NewXLSXFeed(path, sheet string) *XLSXFeed {
	return &XLSXFeed{path: path, sheet: sheet, ready: Resolved()}
}

func (x *XLSXFeed) Ready() <-chan struct{} { return x.ready.Done() }

func (x *XLSXFeed) Fetch(ctx context.Context) ([]model.RawProduct, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := excelize.OpenFile(x.path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrUnavailable, x.path, err)
	}
	defer f.Close()

	sheet := x.sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("%w: %s has no sheets", ErrUnavailable, x.path)
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("%w: read sheet %s: %w", ErrUnavailable, sheet, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	fields := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		fields[i] = columnFields[strings.ToLower(strings.TrimSpace(h))]
	}
	items := make([]map[string]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		item := map[string]string{}
		for i, cell := range row {
			if i >= len(fields) || fields[i] == "" || strings.TrimSpace(cell) == "" {
				continue
			}
			item[fields[i]] = cell
		}
		if len(item) > 0 {
			items = append(items, item)
		}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encode rows: %w", err)
	}
	records, _, err := snapshot.DecodeRecords(b)
	if err != nil {
		return nil, fmt.Errorf("decode rows: %w", err)
	}
	return records, nil
}
