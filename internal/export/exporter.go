// Package export retrieves tabular media and annotation data from the
// annotation service, tolerating the schema and availability differences
// between deployments.
package export

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hzen9499/Squidle-Imaging-Processing/internal/normalize"
	"github.com/hzen9499/Squidle-Imaging-Processing/internal/reconcile"
	"github.com/hzen9499/Squidle-Imaging-Processing/internal/sqapi"
	"github.com/hzen9499/Squidle-Imaging-Processing/internal/table"
)

// mediaRefPaths are the dotted spellings under which annotation exports may
// carry the owning media's id. The list is ordered; deployments differ and
// the ambiguity is a property of the upstream source, not a bug here.
var mediaRefPaths = []string{"point.media.id", "point.media_id"}

const annotationQueryLimit = 200000

// Exporter produces flat tables from the annotation service. The preferred
// path asks the server to flatten records into CSV; when that pipeline is
// unavailable the raw nested JSON is fetched and flattened locally.
type Exporter struct {
	api    *sqapi.Client
	logger *zap.Logger
}

// NewExporter creates a new exporter.
func NewExporter(api *sqapi.Client, logger *zap.Logger) *Exporter {
	return &Exporter{api: api, logger: logger}
}

// withRequiredColumns appends the columns the pipeline itself depends on
// (media id and asset URL), keeping the caller's order for the rest.
func withRequiredColumns(fields []string, required ...string) []string {
	out := append([]string(nil), fields...)
	for _, req := range required {
		present := false
		for _, f := range out {
			if f == req {
				present = true
				break
			}
		}
		if !present {
			out = append(out, req)
		}
	}
	return out
}

// MediaCollection exports the media of one collection as a flat table. The
// id and path_best columns are always included on top of the caller's field
// list; they anchor filtering and downloads.
func (e *Exporter) MediaCollection(ctx context.Context, collectionID int64, fields []string) (table.Table, error) {
	include := withRequiredColumns(fields, "id", "path_best")
	resource := fmt.Sprintf("/api/media_collection/%d/export", collectionID)

	res, err := e.api.Export(resource).
		IncludeColumns(include...).
		FileOp("json_normalize", "pandas").
		Template("dataframe.csv").
		Execute(ctx)
	if err == nil {
		return table.ReadCSV(strings.NewReader(res.Text()))
	}
	e.logger.Warn("Server-side media export failed, falling back to JSON",
		zap.Int64("collection_id", collectionID), zap.Error(err))

	res, err = e.api.Export(resource).
		IncludeColumns(include...).
		Template("json").
		Execute(ctx)
	if err != nil {
		return table.Table{}, fmt.Errorf("media collection %d export failed on both paths: %w", collectionID, err)
	}
	recs, err := decodeRecords(res)
	if err != nil {
		return table.Table{}, fmt.Errorf("media collection %d export: %w", collectionID, err)
	}
	return normalize.Records(recs, include), nil
}

// AnnotationSet exports a whole annotation set as a flat table. When the
// service rejects the inclusion list the export is retried without it and
// the intersection of requested columns actually present is kept.
func (e *Exporter) AnnotationSet(ctx context.Context, annotationSetID int64, fields []string) (table.Table, error) {
	resource := fmt.Sprintf("/api/annotation_set/%d/export", annotationSetID)

	res, err := e.api.Export(resource).
		IncludeColumns(fields...).
		FileOp("json_normalize", "pandas").
		Template("dataframe.csv").
		Execute(ctx)
	if err == nil {
		return table.ReadCSV(strings.NewReader(res.Text()))
	}
	e.logger.Warn("Annotation set export with inclusion list failed, retrying without it",
		zap.Int64("annotation_set_id", annotationSetID), zap.Error(err))

	res, err = e.api.Export(resource).
		FileOp("json_normalize", "pandas").
		Template("dataframe.csv").
		Execute(ctx)
	if err != nil {
		return table.Table{}, fmt.Errorf("annotation set %d export failed on both paths: %w", annotationSetID, err)
	}
	t, err := table.ReadCSV(strings.NewReader(res.Text()))
	if err != nil {
		return table.Table{}, fmt.Errorf("annotation set %d export: %w", annotationSetID, err)
	}
	if len(fields) > 0 {
		t = t.Select(fields)
	}
	return t, nil
}

// AnnotationsForMedia exports every annotation attached to one media item,
// optionally restricted to an annotation set. Each candidate media-ref
// spelling is tried with the server-side CSV pipeline, then again with the
// JSON fallback; the first non-error response wins. Exhausting all
// candidates yields an empty table with the requested columns, which is a
// valid outcome, not a fault.
func (e *Exporter) AnnotationsForMedia(ctx context.Context, mediaID int64, annotationSetID int64, fields []string) (table.Table, error) {
	for _, csvPath := range []bool{true, false} {
		for _, mediaField := range mediaRefPaths {
			t, err := e.annotationsForMediaVia(ctx, mediaField, csvPath, mediaID, annotationSetID, fields)
			if err != nil {
				e.logger.Warn("Annotation query candidate failed",
					zap.String("media_field", mediaField),
					zap.Bool("server_side_csv", csvPath),
					zap.Error(err))
				continue
			}
			return t, nil
		}
	}
	return table.New(fields), nil
}

func (e *Exporter) annotationsForMediaVia(ctx context.Context, mediaField string, csvPath bool, mediaID, annotationSetID int64, fields []string) (table.Table, error) {
	req := e.api.Export("/api/annotation/export").
		IncludeColumns(fields...).
		Limit(annotationQueryLimit)
	if annotationSetID != 0 {
		req = req.Filter("annotation_set_id", "eq", annotationSetID)
	}
	req = req.Filter(mediaField, "eq", mediaID)

	if csvPath {
		req = req.FileOp("json_normalize", "pandas").Template("dataframe.csv")
	} else {
		req = req.Template("json")
	}

	res, err := req.Execute(ctx)
	if err != nil {
		return table.Table{}, err
	}

	var t table.Table
	if csvPath {
		t, err = table.ReadCSV(strings.NewReader(res.Text()))
		if err != nil {
			return table.Table{}, err
		}
	} else {
		recs, err := decodeRecords(res)
		if err != nil {
			return table.Table{}, err
		}
		t = normalize.Records(recs, fields)
	}

	// The server filter is advisory under schema ambiguity; re-check locally
	// that every row really references the requested media.
	if !t.IsEmpty() {
		t, err = reconcile.FilterToMedia(t, map[int64]struct{}{mediaID: {}})
		if err != nil {
			return table.Table{}, err
		}
	}
	return t, nil
}

// decodeRecords unwraps a raw JSON export payload. The service wraps record
// lists in an "objects" envelope but bare arrays appear too.
func decodeRecords(res *sqapi.Result) ([]map[string]any, error) {
	var envelope struct {
		Objects []map[string]any `json:"objects"`
	}
	if err := res.JSON(&envelope); err == nil && envelope.Objects != nil {
		return envelope.Objects, nil
	}
	var recs []map[string]any
	if err := res.JSON(&recs); err != nil {
		return nil, fmt.Errorf("unrecognized export payload: %w", err)
	}
	return recs, nil
}
