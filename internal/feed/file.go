package feed

import (
	"context"
	"fmt"
	"os"

	"smartdeals/internal/model"
	"smartdeals/internal/snapshot"
)

// FileFeed reads a JSON snapshot from disk on every Fetch.
type FileFeed struct {
	path  string
	ready *Readiness
}

func NewFileFeed(path string) *FileFeed {
	return &FileFeed{path: path, ready: Resolved()}
}

func (f *FileFeed) Ready() <-chan struct{} { return f.ready.Done() }

func (f *FileFeed) Fetch(ctx context.Context) ([]model.RawProduct, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	records, _, err := snapshot.DecodeRecords(data)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", ErrUnavailable, f.path, err)
	}
	return records, nil
}
