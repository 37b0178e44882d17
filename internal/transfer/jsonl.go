// Package transfer moves todo items in and out of a replica as JSONL, one
// item per line.
package transfer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/natefinch/atomic"
	"github.com/tailscale/hujson"

	"github.com/mschirtzinger/todosync/internal/table"
	"github.com/mschirtzinger/todosync/internal/todo"
)

// maxLineSize bounds one JSONL line.
const maxLineSize = 1 << 20

// ExportResult contains statistics about an export
type ExportResult struct {
	Items int
	Done  int
}

// ImportOptions contains configuration for an import
type ImportOptions struct {
	DryRun bool // Parse and validate without saving

	// SkipExisting skips lines whose remote id is already known to the
	// table, so re-importing an export of the same replica is a no-op.
	SkipExisting bool
}

// ImportResult contains statistics about an import
type ImportResult struct {
	Imported int
	Skipped  int
	Errors   []string
}

// Export writes every item of tbl to w, oldest change first.
func Export(ctx context.Context, tbl table.Table, w io.Writer) (*ExportResult, error) {
	items, err := tbl.List(ctx, todo.Filter{}, todo.OrderBy{Field: todo.OrderUpdatedAt})
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}

	result := &ExportResult{}
	bw := bufio.NewWriter(w)
	for _, item := range items {
		line, err := item.MarshalJSONL()
		if err != nil {
			return nil, err
		}
		if _, err := bw.Write(line); err != nil {
			return nil, fmt.Errorf("failed to write item: %w", err)
		}
		result.Items++
		if item.Done {
			result.Done++
		}
	}
	if err := bw.Flush(); err != nil {
		return nil, fmt.Errorf("failed to write export: %w", err)
	}
	return result, nil
}

// ExportFile writes the export to path atomically; a failed export leaves
// any previous file in place.
func ExportFile(ctx context.Context, tbl table.Table, path string) (*ExportResult, error) {
	var buf bytes.Buffer
	result, err := Export(ctx, tbl, &buf)
	if err != nil {
		return nil, err
	}
	if err := atomic.WriteFile(path, &buf); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return result, nil
}

// Import reads JSONL from r and saves each item through tbl as a new
// record. Lines may carry comments and trailing commas. Blank lines and
// comment-only lines are ignored. Tombstones are skipped. A bad line is
// recorded in the result and the import continues.
func Import(ctx context.Context, tbl table.Table, r io.Reader, opts ImportOptions) (*ImportResult, error) {
	result := &ImportResult{}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		if err := ctx.Err(); err != nil {
			return result, err
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || bytes.HasPrefix(line, []byte("//")) {
			continue
		}

		item, err := parseLine(line)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: %v", lineNum, err))
			continue
		}
		if item.Deleted {
			result.Skipped++
			continue
		}

		if opts.SkipExisting && item.ID != "" {
			_, err := tbl.Get(ctx, item.ID)
			if err == nil {
				result.Skipped++
				continue
			}
			if !errors.Is(err, table.ErrNotFound) {
				return result, fmt.Errorf("line %d: failed to look up %s: %w", lineNum, item.ID, err)
			}
		}

		// Imported items are new records on this replica.
		fresh := &todo.Item{Name: item.Name, Done: item.Done}
		if err := fresh.Validate(); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: %v", lineNum, err))
			continue
		}

		if !opts.DryRun {
			if err := tbl.Save(ctx, fresh); err != nil {
				return result, fmt.Errorf("line %d: failed to save %q: %w", lineNum, fresh.Name, err)
			}
		}
		result.Imported++
	}
	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("failed to read JSONL at line %d: %w", lineNum+1, err)
	}

	return result, nil
}

// ImportFile imports the JSONL file at path.
func ImportFile(ctx context.Context, tbl table.Table, path string, opts ImportOptions) (*ImportResult, error) {
	// #nosec G304 - controlled path from CLI
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open JSONL file: %w", err)
	}
	defer file.Close()

	return Import(ctx, tbl, file, opts)
}

func parseLine(line []byte) (*todo.Item, error) {
	standardized, err := hujson.Standardize(line)
	if err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	var item todo.Item
	if err := json.Unmarshal(standardized, &item); err != nil {
		return nil, fmt.Errorf("invalid item: %w", err)
	}
	item.Name = strings.TrimSpace(item.Name)
	return &item, nil
}
