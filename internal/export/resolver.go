package export

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hzen9499/Squidle-Imaging-Processing/internal/normalize"
	"github.com/hzen9499/Squidle-Imaging-Processing/internal/reconcile"
	"github.com/hzen9499/Squidle-Imaging-Processing/internal/table"
)

// annotationSetRefPaths are the dotted spellings under which a record may
// carry its owning annotation set's id.
var annotationSetRefPaths = []string{"annotation_set_id", "point.annotation_set_id"}

// AnnotationsByID fetches an explicit list of annotations one GET at a time
// and validates each record in three stages: it must exist, it must belong
// to mediaID, and, when annotationSetID is set and enforcement is on, it
// must belong to that set. Records failing a stage are logged and skipped;
// a failed fetch skips that id only. The batch never aborts, and an empty
// result with the requested columns is a valid outcome.
func (e *Exporter) AnnotationsByID(ctx context.Context, annotationIDs []int64, mediaID int64, annotationSetID int64, enforceSet bool, fields []string) table.Table {
	t := table.New(fields)

	for _, aid := range annotationIDs {
		rec, err := e.api.Get(ctx, fmt.Sprintf("/api/annotation/%d", aid))
		if err != nil {
			e.logger.Warn("Annotation fetch failed", zap.Int64("annotation_id", aid), zap.Error(err))
			continue
		}
		if normalize.Lookup(rec, "id", "") == "" {
			e.logger.Warn("Annotation not found", zap.Int64("annotation_id", aid))
			continue
		}

		mediaRef, ok := reconcile.CoerceID(normalize.FirstLookup(rec, mediaRefPaths, ""))
		if !ok || mediaRef != mediaID {
			e.logger.Warn("Annotation belongs to a different media, skipping",
				zap.Int64("annotation_id", aid),
				zap.Int64("media_id", mediaRef),
				zap.Int64("requested_media_id", mediaID))
			continue
		}

		if annotationSetID != 0 && enforceSet {
			setRef, ok := reconcile.CoerceID(normalize.FirstLookup(rec, annotationSetRefPaths, ""))
			if !ok || setRef != annotationSetID {
				e.logger.Warn("Annotation belongs to a different set, skipping",
					zap.Int64("annotation_id", aid),
					zap.Int64("annotation_set_id", setRef),
					zap.Int64("requested_annotation_set_id", annotationSetID))
				continue
			}
		}

		t.Append(normalize.Project(rec, fields, ""))
	}

	return t
}
