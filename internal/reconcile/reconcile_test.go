package reconcile

import (
	"errors"
	"testing"

	"github.com/hzen9499/Squidle-Imaging-Processing/internal/table"
)

func TestDetectMediaIDColumn(t *testing.T) {
	tests := []struct {
		name    string
		columns []string
		want    string
	}{
		{
			name:    "canonical dotted path",
			columns: []string{"id", "label.name", "point.media.id"},
			want:    "point.media.id",
		},
		{
			name:    "canonical preferred over loose match",
			columns: []string{"other_media_id_ref", "point.media.id"},
			want:    "point.media.id",
		},
		{
			name:    "snake case variant",
			columns: []string{"id", "point_media_id"},
			want:    "point_media_id",
		},
		{
			name:    "case insensitive",
			columns: []string{"Point.Media.ID"},
			want:    "Point.Media.ID",
		},
		{
			name:    "substring fallback",
			columns: []string{"id", "owning_media_identifier"},
			want:    "owning_media_identifier",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectMediaIDColumn(tt.columns)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("detected %q, want %q", got, tt.want)
			}
			// Detection is deterministic for a fixed column set.
			again, _ := DetectMediaIDColumn(tt.columns)
			if again != got {
				t.Fatalf("second detection returned %q", again)
			}
		})
	}
}

func TestDetectMediaIDColumnFailure(t *testing.T) {
	_, err := DetectMediaIDColumn([]string{"id", "label.name", "created_at"})
	if !errors.Is(err, ErrNoMediaIDColumn) {
		t.Fatalf("expected ErrNoMediaIDColumn, got %v", err)
	}
}

func TestCoerceID(t *testing.T) {
	tests := []struct {
		in   string
		want int64
		ok   bool
	}{
		{in: "123", want: 123, ok: true},
		{in: " 123 ", want: 123, ok: true},
		{in: "123.0", want: 123, ok: true},
		{in: "123.5", ok: false},
		{in: "bad", ok: false},
		{in: "", ok: false},
	}

	for _, tt := range tests {
		got, ok := CoerceID(tt.in)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Fatalf("CoerceID(%q) = (%d, %v), want (%d, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestMediaIDSet(t *testing.T) {
	media := table.New([]string{"id", "path_best"})
	media.Append([]string{"1", "http://x/a.jpg"})
	media.Append([]string{"2", "http://x/b.jpg"})
	media.Append([]string{"junk", "http://x/c.jpg"})

	ids, err := MediaIDSet(media)
	if err != nil {
		t.Fatalf("MediaIDSet failed: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids, got %v", ids)
	}

	noID := table.New([]string{"path_best"})
	if _, err := MediaIDSet(noID); err == nil {
		t.Fatalf("expected error for table without id column")
	}
}

func TestFilterToMedia(t *testing.T) {
	ann := table.New([]string{"id", "point.media.id", "label.name"})
	ann.Append([]string{"10", "1", "Sand"})
	ann.Append([]string{"11", "2", "Rock"})
	ann.Append([]string{"12", "4", "Kelp"})
	ann.Append([]string{"13", "bad", "Coral"})

	ids := map[int64]struct{}{1: {}, 2: {}, 3: {}}

	out, err := FilterToMedia(ann, ids)
	if err != nil {
		t.Fatalf("FilterToMedia failed: %v", err)
	}
	if len(out.Rows) != 2 {
		t.Fatalf("expected 2 retained rows, got %d", len(out.Rows))
	}
	if out.Rows[0][0] != "10" || out.Rows[1][0] != "11" {
		t.Fatalf("unexpected retained rows: %v", out.Rows)
	}
}

func TestFilterToMediaEmptyInput(t *testing.T) {
	empty := table.New([]string{"id", "point.media.id"})
	out, err := FilterToMedia(empty, map[int64]struct{}{1: {}})
	if err != nil {
		t.Fatalf("empty table should pass through, got %v", err)
	}
	if !out.IsEmpty() {
		t.Fatalf("expected empty output")
	}
}

func TestFilterToMediaSchemaFault(t *testing.T) {
	ann := table.New([]string{"id", "label.name"})
	ann.Append([]string{"10", "Sand"})

	_, err := FilterToMedia(ann, map[int64]struct{}{1: {}})
	if !errors.Is(err, ErrNoMediaIDColumn) {
		t.Fatalf("expected schema fault, got %v", err)
	}
}
