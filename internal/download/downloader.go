// Package download retrieves binary media assets with a bounded worker pool
// and per-item failure isolation.
package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hzen9499/Squidle-Imaging-Processing/internal/reconcile"
	"github.com/hzen9499/Squidle-Imaging-Processing/internal/table"
)

// Item is one unit of download work.
type Item struct {
	MediaID int64
	URL     string
}

// Ledger records saved assets and answers whether one is already on disk.
// Satisfied by *manifest.Store; nil disables the ledger.
type Ledger interface {
	RecordAsset(runID string, mediaID int64, sourceURL, localPath string, sizeBytes int64) error
	AssetPath(mediaID int64, sourceURL string) (string, bool)
}

// Downloader fetches assets concurrently. One bad URL never aborts the
// batch; its media id is simply absent from the result map.
type Downloader struct {
	httpClient *http.Client
	workers    int
	ledger     Ledger
	runID      string
	logger     *zap.Logger
}

// New creates a downloader with the given worker bound. ledger may be nil.
func New(workers int, ledger Ledger, logger *zap.Logger) *Downloader {
	if workers < 1 {
		workers = 1
	}
	return &Downloader{
		httpClient: &http.Client{
			Timeout: 120 * time.Second, // one asset, not the batch
		},
		workers: workers,
		ledger:  ledger,
		logger:  logger,
	}
}

// SetRunID tags ledger entries with the current pipeline run.
func (d *Downloader) SetRunID(runID string) {
	d.runID = runID
}

// ItemsFromTable builds the work list from a media table. Rows with an
// unparseable id or an empty URL are skipped before scheduling; they are not
// failures.
func ItemsFromTable(t table.Table, idColumn, urlColumn string) []Item {
	idIdx := t.ColumnIndex(idColumn)
	urlIdx := t.ColumnIndex(urlColumn)
	if idIdx < 0 || urlIdx < 0 {
		return nil
	}

	var items []Item
	for _, row := range t.Rows {
		mid, ok := reconcile.CoerceID(row[idIdx])
		if !ok || row[urlIdx] == "" {
			continue
		}
		items = append(items, Item{MediaID: mid, URL: row[urlIdx]})
	}
	return items
}

// FetchAll downloads every item into outDir and returns a map from media id
// to the saved local path. Only the output directory setup can fail the
// call; download errors are logged per item and leave that id out of the
// map. The submitted work set does not depend on the worker count, and the
// map content does not depend on completion order.
func (d *Downloader) FetchAll(ctx context.Context, items []Item, outDir string) (map[int64]string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	jobs := make(chan Item)
	saved := make(map[int64]string, len(items))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range jobs {
				p, err := d.fetchOne(ctx, item, outDir)
				if err != nil {
					d.logger.Warn("Download failed",
						zap.Int64("media_id", item.MediaID), zap.Error(err))
					continue
				}
				mu.Lock()
				saved[item.MediaID] = p
				mu.Unlock()
			}
		}()
	}

	for _, item := range items {
		jobs <- item
	}
	close(jobs)
	wg.Wait()

	return saved, nil
}

func (d *Downloader) fetchOne(ctx context.Context, item Item, outDir string) (string, error) {
	target := filepath.Join(outDir, LocalName(item.MediaID, item.URL))

	if d.ledger != nil {
		if p, ok := d.ledger.AssetPath(item.MediaID, item.URL); ok {
			if _, err := os.Stat(p); err == nil {
				d.logger.Debug("Asset already downloaded",
					zap.Int64("media_id", item.MediaID), zap.String("path", p))
				return p, nil
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, item.URL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch asset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("asset fetch returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read asset body: %w", err)
	}
	if len(body) == 0 {
		return "", fmt.Errorf("asset body was empty")
	}

	if err := os.WriteFile(target, body, 0o644); err != nil {
		return "", fmt.Errorf("failed to save asset: %w", err)
	}

	if d.ledger != nil {
		if err := d.ledger.RecordAsset(d.runID, item.MediaID, item.URL, target, int64(len(body))); err != nil {
			d.logger.Warn("Failed to record asset in manifest",
				zap.Int64("media_id", item.MediaID), zap.Error(err))
		}
	}
	return target, nil
}

// LocalName derives the deterministic artifact name for a media id and
// source URL: "<id>_<basename of the URL path>".
func LocalName(mediaID int64, sourceURL string) string {
	base := "asset"
	if u, err := url.Parse(sourceURL); err == nil {
		if b := path.Base(u.Path); b != "" && b != "." && b != "/" {
			base = b
		}
	}
	return fmt.Sprintf("%d_%s", mediaID, base)
}
