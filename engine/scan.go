package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/reelops/vaultfast/store"
)

// SubmitDir walks a directory iteratively and submits every regular file.
// The walk is stack-based rather than recursive so very deep trees cannot
// blow the stack. Files that already have an unfinished job are skipped with
// a log line; any other submission error stops the walk.
func (q *Queue) SubmitDir(ctx context.Context, root string) ([]*store.UploadRecord, error) {
	info, err := q.fs.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat source %s: %w", root, err)
	}

	if !info.IsDir() {
		rec, err := q.Submit(root)
		if err != nil {
			return nil, err
		}
		return []*store.UploadRecord{rec}, nil
	}

	var recs []*store.UploadRecord
	stack := []string{root}

	for len(stack) > 0 {
		select {
		case <-ctx.Done():
			return recs, ctx.Err()
		default:
		}

		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := q.fs.ReadDir(dir)
		if err != nil {
			return recs, fmt.Errorf("failed to list directory %s: %w", dir, err)
		}

		for _, entry := range entries {
			path := filepath.Join(dir, entry.Name())
			if entry.IsDir() {
				stack = append(stack, path)
				continue
			}
			if !entry.Type().IsRegular() {
				continue
			}

			rec, err := q.Submit(path)
			if err != nil {
				if errors.Is(err, ErrDuplicateSource) {
					q.log.Info("skipping already queued file", slog.String("source", path))
					continue
				}
				return recs, err
			}
			recs = append(recs, rec)
		}
	}

	return recs, nil
}
