package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jgoulah/meterscraper/internal/log"
)

// maxDumpedControls caps the control dump written to the log
const maxDumpedControls = 25

// diagnostics writes screenshots for humans chasing selector drift. Failures
// are logged and never change the outcome of a flow.
type diagnostics struct {
	dir string
	now func() time.Time
}

func (d diagnostics) screenshot(ctx context.Context, page Page, stage string) string {
	if page == nil || d.dir == "" {
		return ""
	}
	logger := log.Ctx(ctx).With(slog.String("stage", stage))

	buf, err := page.Screenshot(ctx)
	if err != nil {
		logger.WarnContext(ctx, "failed to capture screenshot", slog.Any("error", err))
		return ""
	}

	path := filepath.Join(d.dir, fmt.Sprintf("debug_%s_%d.png", stage, d.now().Unix()))
	if err := os.WriteFile(path, buf, 0644); err != nil {
		logger.WarnContext(ctx, "failed to save screenshot", slog.Any("error", err))
		return ""
	}
	logger.InfoContext(ctx, "saved screenshot", slog.String("path", path))
	return path
}

// dumpControls logs the visible interactive elements of the page
func (d diagnostics) dumpControls(ctx context.Context, page Page) []Control {
	controls, err := page.Controls(ctx)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to list controls", slog.Any("error", err))
		return nil
	}

	log.Ctx(ctx).InfoContext(ctx, "visible controls on page", slog.Int("count", len(controls)))
	for i, c := range controls {
		if i == maxDumpedControls {
			break
		}
		log.Ctx(ctx).InfoContext(
			ctx,
			"control",
			slog.Int("index", i+1),
			slog.String("tag", c.Tag),
			slog.String("text", c.Text),
			slog.String("label", c.Label),
			slog.String("class", c.Class),
		)
	}
	return controls
}
