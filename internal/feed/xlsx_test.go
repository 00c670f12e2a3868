package feed

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"
)

func writeWorkbook(t *testing.T, rows [][]any) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		r := row
		if err := f.SetSheetRow("Sheet1", cell, &r); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	path := filepath.Join(t.TempDir(), "feed.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	return path
}

func TestXLSXFeed_Fetch(t *testing.T) {
	path := writeWorkbook(t, [][]any{
		{"Title", "Price", "Original Price", "Link", "Category", "Featured", "Features", "Created At", "Ignored"},
		{"Echo Dot", "$49.99", "$59.99", "https://amzn.to/x", "Electronics", "true", "Alexa|Compact", "2024-01-02T03:04:05Z", "zzz"},
		{"Kindle", "99", "", "https://amzn.to/k"},
	})
	got, err := NewXLSXFeed(path, "").Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 records, got %d: %+v", len(got), got)
	}
	first := got[0]
	if first.Title != "Echo Dot" || first.Link != "https://amzn.to/x" || first.Category != "Electronics" {
		t.Fatalf("unexpected first record: %+v", first)
	}
	if first.Price != "$49.99" || first.OriginalPrice != "$59.99" || first.Featured != "true" {
		t.Fatalf("unexpected loose fields: %+v", first)
	}
	if first.CreatedAt.Kind.String() != "iso" {
		t.Fatalf("createdAt kind = %s", first.CreatedAt.Kind)
	}
	if got[1].OriginalPrice != nil {
		t.Fatalf("empty cell should be absent, got %v", got[1].OriginalPrice)
	}
}

func TestXLSXFeed_Missing(t *testing.T) {
	_, err := NewXLSXFeed(filepath.Join(t.TempDir(), "nope.xlsx"), "").Fetch(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("want ErrUnavailable, got %v", err)
	}
}
