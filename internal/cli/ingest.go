package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/fatih/color"
)

type ingester interface {
	Ingest(ctx context.Context, path string, progress func(done, total int)) (int, error)
}

// ingestFile loads path into the agent, drawing a progress line on w.
func ingestFile(ctx context.Context, w io.Writer, ag ingester, path string) error {
	name := filepath.Base(path)
	n, err := ag.Ingest(ctx, path, func(done, total int) {
		fmt.Fprintf(w, "\rEmbedding %s: %d/%d chunks", name, done, total)
	})
	if err != nil {
		fmt.Fprintln(w)
		return fmt.Errorf("failed to ingest %s: %w", name, err)
	}
	fmt.Fprintf(w, "\r%s %s (%d chunks)\n", color.GreenString("Loaded"), name, n)
	return nil
}
