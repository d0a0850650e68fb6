package export

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"testing"
)

func annotationRecord(id, mediaID, setID int64) map[string]any {
	return map[string]any{
		"id":                float64(id),
		"type":              "point",
		"annotation_set_id": float64(setID),
		"point": map[string]any{
			"x": 10.5,
			"y": 20.5,
			"media": map[string]any{
				"id": float64(mediaID),
			},
		},
	}
}

func annotationMux(records map[int64]map[string]any) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/annotation/", func(w http.ResponseWriter, r *http.Request) {
		var id int64
		if _, err := fmt.Sscanf(r.URL.Path, "/api/annotation/%d", &id); err != nil {
			http.NotFound(w, r)
			return
		}
		rec, ok := records[id]
		if !ok {
			// The service answers with an empty record rather than a 404.
			rec = map[string]any{"id": nil}
		}
		json.NewEncoder(w).Encode(rec)
	})
	return mux
}

var resolverFields = []string{"id", "point.x", "point.y", "point.media.id"}

// Requesting [A, B] for media M where B belongs to a different media yields
// a one-row result; B is skipped, not fatal.
func TestAnnotationsByIDMediaMismatch(t *testing.T) {
	e := newTestExporter(t, annotationMux(map[int64]map[string]any{
		100: annotationRecord(100, 7, 1),
		101: annotationRecord(101, 8, 1),
	}))

	got := e.AnnotationsByID(context.Background(), []int64{100, 101}, 7, 0, false, resolverFields)
	if len(got.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(got.Rows))
	}
	want := []string{"100", "10.5", "20.5", "7"}
	if !reflect.DeepEqual(got.Rows[0], want) {
		t.Fatalf("row = %v, want %v", got.Rows[0], want)
	}
}

func TestAnnotationsByIDNotFoundSkipped(t *testing.T) {
	e := newTestExporter(t, annotationMux(map[int64]map[string]any{
		100: annotationRecord(100, 7, 1),
	}))

	got := e.AnnotationsByID(context.Background(), []int64{100, 999}, 7, 0, false, resolverFields)
	if len(got.Rows) != 1 {
		t.Fatalf("expected missing id to be skipped, got %d rows", len(got.Rows))
	}
}

func TestAnnotationsByIDEnforcesAnnotationSet(t *testing.T) {
	e := newTestExporter(t, annotationMux(map[int64]map[string]any{
		100: annotationRecord(100, 7, 1),
		101: annotationRecord(101, 7, 2),
	}))

	got := e.AnnotationsByID(context.Background(), []int64{100, 101}, 7, 1, true, resolverFields)
	if len(got.Rows) != 1 || got.Rows[0][0] != "100" {
		t.Fatalf("set enforcement failed: %v", got.Rows)
	}

	// Without enforcement both pass.
	got = e.AnnotationsByID(context.Background(), []int64{100, 101}, 7, 1, false, resolverFields)
	if len(got.Rows) != 2 {
		t.Fatalf("expected 2 rows without enforcement, got %d", len(got.Rows))
	}
}

func TestAnnotationsByIDAlternateMediaSpelling(t *testing.T) {
	rec := map[string]any{
		"id": float64(100),
		"point": map[string]any{
			"x":        1.0,
			"y":        2.0,
			"media_id": float64(7),
		},
	}
	e := newTestExporter(t, annotationMux(map[int64]map[string]any{100: rec}))

	got := e.AnnotationsByID(context.Background(), []int64{100}, 7, 0, false, resolverFields)
	if len(got.Rows) != 1 {
		t.Fatalf("alternate media spelling not resolved: %v", got.Rows)
	}
}

// An empty identifier list is a valid request: an empty table with the
// requested columns, not an error.
func TestAnnotationsByIDEmptyList(t *testing.T) {
	e := newTestExporter(t, annotationMux(nil))

	got := e.AnnotationsByID(context.Background(), nil, 7, 0, false, resolverFields)
	if !got.IsEmpty() {
		t.Fatalf("expected empty table")
	}
	if !reflect.DeepEqual(got.Columns, resolverFields) {
		t.Fatalf("columns = %v, want %v", got.Columns, resolverFields)
	}
}

func TestAnnotationsByIDFetchFailureIsolated(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/annotation/100", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(annotationRecord(100, 7, 1))
	})
	mux.HandleFunc("/api/annotation/101", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	e := newTestExporter(t, mux)

	got := e.AnnotationsByID(context.Background(), []int64{101, 100}, 7, 0, false, resolverFields)
	if len(got.Rows) != 1 || got.Rows[0][0] != "100" {
		t.Fatalf("failed fetch should not abort the batch: %v", got.Rows)
	}
}
