// Package fetch downloads the versioned auxiliary binaries declared in task
// config.json files.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/throw-if-null/bitbucket-tasks/internal/discovery"
	"github.com/throw-if-null/bitbucket-tasks/internal/paths"
	"go.uber.org/zap"
)

// ErrDownload wraps every failed download.
var ErrDownload = errors.New("download failed")

// DefaultBinaryName is the file name each versioned binary is stored under.
const DefaultBinaryName = "nuget.exe"

// Download is one binary to fetch.
type Download struct {
	Task    string
	Version string
	URL     string
	Dest    string
}

// Fetcher downloads task binaries over HTTP with bounded concurrency.
type Fetcher struct {
	client      *http.Client
	logger      *zap.Logger
	binaryName  string
	concurrency int
}

// New returns a Fetcher. A concurrency <= 0 runs every download at once.
func New(client *http.Client, logger *zap.Logger, binaryName string, concurrency int) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if binaryName == "" {
		binaryName = DefaultBinaryName
	}
	return &Fetcher{client: client, logger: logger, binaryName: binaryName, concurrency: concurrency}
}

// Plan lists the downloads declared by tasks, ordered by task then version.
func (f *Fetcher) Plan(tasks []discovery.Task) ([]Download, error) {
	var out []Download
	for _, t := range discovery.WithBinaries(tasks) {
		versions := make([]string, 0, len(t.Config.Binaries))
		for v := range t.Config.Binaries {
			versions = append(versions, v)
		}
		sort.Strings(versions)
		for _, v := range versions {
			dest, err := paths.BinaryPath(t.Dir, t.Config.Paths.Binaries, v, f.binaryName)
			if err != nil {
				return nil, fmt.Errorf("task %s: %w", t.Name, err)
			}
			out = append(out, Download{Task: t.Name, Version: v, URL: t.Config.Binaries[v], Dest: dest})
		}
	}
	return out, nil
}

// Fetch downloads every missing binary of tasks. A destination file that
// already exists is treated as up to date and not requested again. All
// downloads are awaited and their failures joined.
func (f *Fetcher) Fetch(ctx context.Context, tasks []discovery.Task) error {
	downloads, err := f.Plan(tasks)
	if err != nil {
		return err
	}

	limit := f.concurrency
	if limit <= 0 || limit > len(downloads) {
		limit = len(downloads)
	}
	sem := make(chan struct{}, max(limit, 1))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, d := range downloads {
		wg.Add(1)
		go func(d Download) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				mu.Lock()
				errs = append(errs, fmt.Errorf("%w: %s: %v", ErrDownload, d.URL, ctx.Err()))
				mu.Unlock()
				return
			}
			defer func() { <-sem }()

			if err := f.fetchOne(ctx, d); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(d)
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (f *Fetcher) fetchOne(ctx context.Context, d Download) error {
	if _, err := os.Stat(d.Dest); err == nil {
		f.logger.Info("target file already exists, skipping download", zap.String("task", d.Task), zap.String("dest", d.Dest))
		return nil
	}

	f.logger.Info("downloading", zap.String("task", d.Task), zap.String("url", d.URL), zap.String("dest", d.Dest))
	if err := os.MkdirAll(filepath.Dir(d.Dest), 0o755); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDownload, d.URL, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDownload, d.URL, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDownload, d.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s: %s", ErrDownload, d.URL, resp.Status)
	}

	// the final name only appears once the body is complete
	part := d.Dest + ".part"
	out, err := os.OpenFile(part, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o755)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDownload, d.URL, err)
	}
	n, err := io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(part)
		return fmt.Errorf("%w: %s: %v", ErrDownload, d.URL, err)
	}
	if err := os.Rename(part, d.Dest); err != nil {
		_ = os.Remove(part)
		return fmt.Errorf("%w: %s: %v", ErrDownload, d.URL, err)
	}

	f.logger.Info("finished download", zap.String("dest", d.Dest), zap.Int64("bytes", n))
	return nil
}
