package export

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"go.uber.org/zap"

	"github.com/hzen9499/Squidle-Imaging-Processing/internal/sqapi"
)

func newTestExporter(t *testing.T, handler http.Handler) *Exporter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	api, err := sqapi.NewClient(srv.URL, "test-token", zap.NewNop())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return NewExporter(api, zap.NewNop())
}

func mediaObjects() []map[string]any {
	return []map[string]any{
		{"id": float64(1), "path_best": "http://x/a.jpg", "pose": map[string]any{"lat": -33.1}},
		{"id": float64(2), "path_best": "http://x/b.jpg", "pose": map[string]any{"lat": -33.2}},
	}
}

const mediaCSV = "id,path_best,pose.lat\n1,http://x/a.jpg,-33.1\n2,http://x/b.jpg,-33.2\n"

// Both export paths must be row-equivalent when they succeed: same ids, same
// requested-column values.
func TestMediaCollectionFallbackEquivalence(t *testing.T) {
	serveCSV := true
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/media_collection/14/export" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("template") == "dataframe.csv" {
			if !serveCSV {
				http.Error(w, "normalize pipeline unavailable", http.StatusInternalServerError)
				return
			}
			w.Write([]byte(mediaCSV))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"objects": mediaObjects()})
	})

	e := newTestExporter(t, handler)
	fields := []string{"id", "path_best", "pose.lat"}

	preferred, err := e.MediaCollection(context.Background(), 14, fields)
	if err != nil {
		t.Fatalf("preferred path failed: %v", err)
	}

	serveCSV = false
	fallback, err := e.MediaCollection(context.Background(), 14, fields)
	if err != nil {
		t.Fatalf("fallback path failed: %v", err)
	}

	if !reflect.DeepEqual(preferred.Columns, fallback.Columns) {
		t.Fatalf("columns differ: %v vs %v", preferred.Columns, fallback.Columns)
	}
	if !reflect.DeepEqual(preferred.Rows, fallback.Rows) {
		t.Fatalf("rows differ: %v vs %v", preferred.Rows, fallback.Rows)
	}
}

func TestMediaCollectionBothPathsFail(t *testing.T) {
	e := newTestExporter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))

	if _, err := e.MediaCollection(context.Background(), 14, []string{"id"}); err == nil {
		t.Fatalf("expected error when both paths fail")
	}
}

func TestMediaCollectionForcesRequiredColumns(t *testing.T) {
	var gotInclude []string
	e := newTestExporter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.Unmarshal([]byte(r.URL.Query().Get("include_columns")), &gotInclude)
		w.Write([]byte("id,path_best\n1,http://x/a.jpg\n"))
	}))

	if _, err := e.MediaCollection(context.Background(), 14, []string{"pose.lat"}); err != nil {
		t.Fatalf("export failed: %v", err)
	}

	want := []string{"pose.lat", "id", "path_best"}
	if !reflect.DeepEqual(gotInclude, want) {
		t.Fatalf("include_columns = %v, want %v", gotInclude, want)
	}
}

// When the inclusion list is rejected, the export retries without it and
// keeps only the requested columns actually present.
func TestAnnotationSetRetriesWithoutIncludeColumns(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("include_columns") != "" {
			http.Error(w, "unknown column", http.StatusBadRequest)
			return
		}
		w.Write([]byte("id,point.media.id,internal_flag\n10,1,x\n"))
	})

	e := newTestExporter(t, handler)

	got, err := e.AnnotationSet(context.Background(), 17, []string{"id", "point.media.id", "label.name"})
	if err != nil {
		t.Fatalf("AnnotationSet failed: %v", err)
	}
	// label.name was requested but never served; it is silently dropped.
	want := []string{"id", "point.media.id"}
	if !reflect.DeepEqual(got.Columns, want) {
		t.Fatalf("columns = %v, want %v", got.Columns, want)
	}
	if len(got.Rows) != 1 || got.Rows[0][0] != "10" {
		t.Fatalf("unexpected rows: %v", got.Rows)
	}
}

// The constrained annotation query tries each candidate media-ref spelling
// in turn and accepts the first that produces a non-error response.
func TestAnnotationsForMediaTriesCandidatePaths(t *testing.T) {
	var tried []string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var q struct {
			Filters []sqapi.Filter `json:"filters"`
		}
		json.Unmarshal([]byte(r.URL.Query().Get("q")), &q)

		mediaField := ""
		for _, f := range q.Filters {
			if f.Name == "point.media.id" || f.Name == "point.media_id" {
				mediaField = f.Name
			}
		}
		tried = append(tried, mediaField)

		if mediaField == "point.media.id" {
			http.Error(w, "unknown filter field", http.StatusBadRequest)
			return
		}
		w.Write([]byte("id,point.media_id\n10,7\n11,8\n"))
	})

	e := newTestExporter(t, handler)

	got, err := e.AnnotationsForMedia(context.Background(), 7, 0, []string{"id", "point.media_id"})
	if err != nil {
		t.Fatalf("AnnotationsForMedia failed: %v", err)
	}
	if len(tried) < 2 || tried[0] != "point.media.id" || tried[1] != "point.media_id" {
		t.Fatalf("candidate order wrong: %v", tried)
	}
	// The row referencing media 8 is re-filtered out locally.
	if len(got.Rows) != 1 || got.Rows[0][0] != "10" {
		t.Fatalf("unexpected rows: %v", got.Rows)
	}
}

func TestAnnotationsForMediaExhaustedYieldsEmptyTable(t *testing.T) {
	e := newTestExporter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))

	fields := []string{"id", "point.media.id"}
	got, err := e.AnnotationsForMedia(context.Background(), 7, 0, fields)
	if err != nil {
		t.Fatalf("exhaustion must not be an error, got %v", err)
	}
	if !got.IsEmpty() {
		t.Fatalf("expected empty table")
	}
	if !reflect.DeepEqual(got.Columns, fields) {
		t.Fatalf("empty table should carry requested columns, got %v", got.Columns)
	}
}
