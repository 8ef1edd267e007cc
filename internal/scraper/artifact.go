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

// DefaultPatterns are the file names an export may arrive as
var DefaultPatterns = []string{"*.csv", "*.CSV", "*.xlsx", "*.txt"}

const pollInterval = 500 * time.Millisecond

// ArtifactWatcher finds the file a download produced by diffing the download
// directory against a snapshot taken before the download was triggered
type ArtifactWatcher struct {
	Dir      string
	Patterns []string
	// Recency is how recently a pre-existing file must have changed to be
	// accepted when no new file shows up
	Recency time.Duration
	// Wait is how long each round of polling lasts
	Wait time.Duration

	before map[string]bool
	now    func() time.Time
}

// NewArtifactWatcher watches dir for the default export patterns
func NewArtifactWatcher(dir string, wait, recency time.Duration) *ArtifactWatcher {
	return &ArtifactWatcher{
		Dir:      dir,
		Patterns: DefaultPatterns,
		Recency:  recency,
		Wait:     wait,
		now:      time.Now,
	}
}

// Snapshot records the files present before the download
func (w *ArtifactWatcher) Snapshot() error {
	files, err := w.list()
	if err != nil {
		return err
	}
	w.before = make(map[string]bool, len(files))
	for _, f := range files {
		w.before[f] = true
	}
	return nil
}

// Await polls for a new file. When none appears it accepts the newest file
// changed within Recency, otherwise it polls one more round before giving up.
// A value on wake ends the current sleep early.
func (w *ArtifactWatcher) Await(ctx context.Context, wake <-chan struct{}) (*Artifact, error) {
	logger := log.Ctx(ctx).With(slog.String("dir", w.Dir))

	if a, err := w.poll(ctx, wake); a != nil || err != nil {
		return a, err
	}

	newest, err := w.newest(false)
	if err != nil {
		return nil, err
	}
	if newest != nil && w.now().Sub(newest.ModTime) < w.Recency {
		logger.InfoContext(ctx, "using recently modified file", slog.String("path", newest.Path))
		return newest, nil
	}

	logger.InfoContext(ctx, "no new file yet, waiting once more", slog.Duration("wait", w.Wait))
	if a, err := w.poll(ctx, wake); a != nil || err != nil {
		return a, err
	}

	return nil, fmt.Errorf("%w in %s", ErrNoArtifactFound, w.Dir)
}

// poll checks for a new file until Wait elapses
func (w *ArtifactWatcher) poll(ctx context.Context, wake <-chan struct{}) (*Artifact, error) {
	deadline := w.now().Add(w.Wait)
	for {
		a, err := w.newest(true)
		if err != nil || a != nil {
			return a, err
		}

		remaining := deadline.Sub(w.now())
		if remaining <= 0 {
			return nil, nil
		}

		t := time.NewTimer(min(pollInterval, remaining))
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-wake:
			t.Stop()
		case <-t.C:
		}
	}
}

// newest returns the most recently modified matching file, only among files
// absent from the snapshot when onlyNew is set
func (w *ArtifactWatcher) newest(onlyNew bool) (*Artifact, error) {
	files, err := w.list()
	if err != nil {
		return nil, err
	}

	var best *Artifact
	for _, path := range files {
		if onlyNew && w.before[path] {
			continue
		}
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if best == nil || info.ModTime().After(best.ModTime) {
			best = &Artifact{Path: path, Size: info.Size(), ModTime: info.ModTime(), Source: "browser"}
		}
	}
	return best, nil
}

func (w *ArtifactWatcher) list() ([]string, error) {
	seen := map[string]bool{}
	var files []string
	for _, pattern := range w.Patterns {
		matches, err := filepath.Glob(filepath.Join(w.Dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", w.Dir, err)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				files = append(files, m)
			}
		}
	}
	return files, nil
}
