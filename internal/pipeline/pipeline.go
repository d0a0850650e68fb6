// Package pipeline wires the export, reconciliation, and download stages
// into the two entry flows: a whole-collection bundle and a single media
// item with its annotations.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hzen9499/Squidle-Imaging-Processing/internal/config"
	"github.com/hzen9499/Squidle-Imaging-Processing/internal/download"
	"github.com/hzen9499/Squidle-Imaging-Processing/internal/export"
	"github.com/hzen9499/Squidle-Imaging-Processing/internal/manifest"
	"github.com/hzen9499/Squidle-Imaging-Processing/internal/normalize"
	"github.com/hzen9499/Squidle-Imaging-Processing/internal/overlay"
	"github.com/hzen9499/Squidle-Imaging-Processing/internal/reconcile"
	"github.com/hzen9499/Squidle-Imaging-Processing/internal/sqapi"
	"github.com/hzen9499/Squidle-Imaging-Processing/internal/table"
)

// Pipeline holds the collaborators of both flows. The manifest store is
// optional; without it runs are still tagged with an id for log correlation.
type Pipeline struct {
	cfg        *config.Config
	api        *sqapi.Client
	exporter   *export.Exporter
	downloader *download.Downloader
	store      *manifest.Store
	logger     *zap.Logger
}

// New creates a pipeline.
func New(cfg *config.Config, api *sqapi.Client, exporter *export.Exporter, downloader *download.Downloader, store *manifest.Store, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		api:        api,
		exporter:   exporter,
		downloader: downloader,
		store:      store,
		logger:     logger,
	}
}

func (p *Pipeline) beginRun(kind string, scopeID int64) string {
	if p.store != nil {
		runID, err := p.store.BeginRun(kind, scopeID)
		if err == nil {
			p.downloader.SetRunID(runID)
			return runID
		}
		p.logger.Warn("Failed to record run in manifest", zap.Error(err))
	}
	runID := uuid.New().String()
	p.downloader.SetRunID(runID)
	return runID
}

func (p *Pipeline) finishRun(runID string, rows, assets int) {
	if p.store == nil {
		return
	}
	if err := p.store.FinishRun(runID, rows, assets); err != nil {
		p.logger.Warn("Failed to finish run in manifest", zap.Error(err))
	}
}

// RunCollectionBundle exports one media collection and one annotation set,
// hard-filters the annotations to media that are demonstrably part of the
// collection, persists both tables as CSV, and optionally downloads the
// collection's images.
func (p *Pipeline) RunCollectionBundle(ctx context.Context) error {
	cfg := p.cfg
	if err := os.MkdirAll(cfg.OutDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	runID := p.beginRun("collection_bundle", cfg.CollectionID)
	p.logger.Info("Collection bundle started",
		zap.String("run_id", runID),
		zap.Int64("collection_id", cfg.CollectionID),
		zap.Int64("annotation_set_id", cfg.AnnotationSetID))

	// Media first: the authoritative list of what is in this collection.
	media, err := p.exporter.MediaCollection(ctx, cfg.CollectionID, cfg.MediaFields)
	if err != nil {
		return err
	}
	mediaCSV := filepath.Join(cfg.OutDir, fmt.Sprintf("collection_%d.csv", cfg.CollectionID))
	if err := media.WriteFile(mediaCSV); err != nil {
		return err
	}
	p.logger.Info("Media exported", zap.Int("rows", len(media.Rows)), zap.String("path", mediaCSV))

	mediaIDs, err := reconcile.MediaIDSet(media)
	if err != nil {
		return err
	}

	// Annotations, hard-filtered to the collection's media.
	ann, err := p.exporter.AnnotationSet(ctx, cfg.AnnotationSetID, cfg.AnnotationFields)
	if err != nil {
		return err
	}
	ann, err = reconcile.FilterToMedia(ann, mediaIDs)
	if err != nil {
		return err
	}

	decorateProvenance(&ann, cfg.CollectionID, cfg.AnnotationSetID)

	annCSV := filepath.Join(cfg.OutDir, fmt.Sprintf("annset_%d__filtered_to_collection_%d.csv",
		cfg.AnnotationSetID, cfg.CollectionID))
	if err := ann.WriteFile(annCSV); err != nil {
		return err
	}
	p.logger.Info("Annotations exported", zap.Int("rows", len(ann.Rows)), zap.String("path", annCSV))

	assetCount := 0
	if cfg.DownloadImages {
		items := download.ItemsFromTable(media, "id", "path_best")
		saved, err := p.downloader.FetchAll(ctx, items, filepath.Join(cfg.OutDir, "images"))
		if err != nil {
			return err
		}
		assetCount = len(saved)
		p.logger.Info("Images downloaded",
			zap.Int("saved", assetCount), zap.Int("requested", len(items)))
	}

	p.finishRun(runID, len(ann.Rows), assetCount)
	return nil
}

// RunSingleMedia exports one media item's metadata, optionally downloads its
// image, retrieves its annotations (all of them, or an explicit id subset
// via per-id GETs), and optionally draws a marker overlay.
func (p *Pipeline) RunSingleMedia(ctx context.Context) error {
	cfg := p.cfg
	if err := os.MkdirAll(cfg.OutDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	runID := p.beginRun("single_media", cfg.MediaID)
	p.logger.Info("Single-media export started",
		zap.String("run_id", runID), zap.Int64("media_id", cfg.MediaID))

	media, err := p.api.Get(ctx, fmt.Sprintf("/api/media/%d", cfg.MediaID))
	if err != nil {
		return fmt.Errorf("media %d fetch failed: %w", cfg.MediaID, err)
	}

	mediaTable := normalize.Records([]map[string]any{media}, cfg.MediaFields)
	mediaCSV := filepath.Join(cfg.OutDir, fmt.Sprintf("media_%d.csv", cfg.MediaID))
	if err := mediaTable.WriteFile(mediaCSV); err != nil {
		return err
	}
	p.logger.Info("Media metadata exported", zap.String("path", mediaCSV))

	localImage := ""
	assetCount := 0
	if cfg.DownloadImages {
		url := normalize.Lookup(media, "path_best", "")
		if url == "" {
			return fmt.Errorf("media %d has no path_best; cannot download", cfg.MediaID)
		}
		saved, err := p.downloader.FetchAll(ctx, []download.Item{{MediaID: cfg.MediaID, URL: url}}, cfg.OutDir)
		if err != nil {
			return err
		}
		var ok bool
		if localImage, ok = saved[cfg.MediaID]; !ok {
			return fmt.Errorf("failed to download image for media %d", cfg.MediaID)
		}
		assetCount = 1
		p.logger.Info("Image saved", zap.String("path", localImage))
	}

	var ann table.Table
	subsetTag := ""
	if len(cfg.AnnotationIDs) > 0 {
		ann = p.exporter.AnnotationsByID(ctx, cfg.AnnotationIDs, cfg.MediaID,
			cfg.AnnotationSetID, cfg.EnforceAnnotationSet, cfg.AnnotationFields)
		subsetTag = "__subset"
	} else {
		ann, err = p.exporter.AnnotationsForMedia(ctx, cfg.MediaID, cfg.AnnotationSetID, cfg.AnnotationFields)
		if err != nil {
			return err
		}
	}

	if ann.IsEmpty() {
		p.logger.Info("No annotations returned for this media with the current filters")
		p.finishRun(runID, 0, assetCount)
		return nil
	}

	ann.SetConstant("requested_media_id", strconv.FormatInt(cfg.MediaID, 10))
	if cfg.AnnotationSetID != 0 && !ann.HasColumn("annotation_set_id") {
		ann.SetConstant("annotation_set_id", strconv.FormatInt(cfg.AnnotationSetID, 10))
	}
	if localImage != "" {
		ann.SetConstant("local_image_path", localImage)
	}

	annCSV := filepath.Join(cfg.OutDir, fmt.Sprintf("annotations_for_media_%d%s.csv", cfg.MediaID, subsetTag))
	if err := ann.WriteFile(annCSV); err != nil {
		return err
	}
	p.logger.Info("Annotations exported", zap.Int("rows", len(ann.Rows)), zap.String("path", annCSV))

	if cfg.DrawOverlay && localImage != "" {
		if _, _, err := overlay.DrawMarkers(localImage, ann, p.logger); err != nil {
			// The overlay is best-effort decoration, never a pipeline fault.
			p.logger.Warn("Overlay skipped", zap.Error(err))
		}
	}

	p.finishRun(runID, len(ann.Rows), assetCount)
	return nil
}

// decorateProvenance stamps the audit columns onto a filtered annotation
// table: the source collection, and the annotation set when the upstream
// data did not return it.
func decorateProvenance(ann *table.Table, collectionID, annotationSetID int64) {
	ann.SetConstant("collection_id", strconv.FormatInt(collectionID, 10))
	if !ann.HasColumn("annotation_set_id") {
		ann.SetConstant("annotation_set_id", strconv.FormatInt(annotationSetID, 10))
	}
}
