package sqapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Filter is an equality-style predicate on a dotted field path, serialized
// into the export query.
type Filter struct {
	Name  string `json:"name"`
	Op    string `json:"op"`
	Value any    `json:"val"`
}

type fileOp struct {
	Method string `json:"method"`
	Module string `json:"module,omitempty"`
}

// ExportRequest builds an export call against a resource path. The zero
// template requests the service default; callers normally ask for either
// "dataframe.csv" (server-side flatten) or "json" (raw nested records).
type ExportRequest struct {
	client         *Client
	resource       string
	includeColumns []string
	filters        []Filter
	fileOps        []fileOp
	template       string
	limit          int
	offset         int
}

// Export starts building an export request for a resource path, e.g.
// /api/annotation_set/17711/export.
func (c *Client) Export(resource string) *ExportRequest {
	return &ExportRequest{client: c, resource: resource}
}

// IncludeColumns restricts the export to the given dotted field paths.
func (r *ExportRequest) IncludeColumns(columns ...string) *ExportRequest {
	r.includeColumns = append(r.includeColumns, columns...)
	return r
}

// Filter adds a predicate on a dotted field path ("eq", "in", ...).
func (r *ExportRequest) Filter(name, op string, value any) *ExportRequest {
	r.filters = append(r.filters, Filter{Name: name, Op: op, Value: value})
	return r
}

// FileOp appends a server-side transformation of the result, e.g.
// ("json_normalize", "pandas") to flatten nested records into a row-per-record
// table before templating.
func (r *ExportRequest) FileOp(method, module string) *ExportRequest {
	r.fileOps = append(r.fileOps, fileOp{Method: method, Module: module})
	return r
}

// Template selects the output representation.
func (r *ExportRequest) Template(name string) *ExportRequest {
	r.template = name
	return r
}

// Limit caps the number of exported rows.
func (r *ExportRequest) Limit(n int) *ExportRequest {
	r.limit = n
	return r
}

// Offset skips the first n rows.
func (r *ExportRequest) Offset(n int) *ExportRequest {
	r.offset = n
	return r
}

func (r *ExportRequest) buildURL() (string, error) {
	q := url.Values{}

	query := map[string]any{}
	if len(r.filters) > 0 {
		query["filters"] = r.filters
	}
	if r.limit > 0 {
		query["limit"] = r.limit
	}
	if r.offset > 0 {
		query["offset"] = r.offset
	}
	if len(query) > 0 {
		b, err := json.Marshal(query)
		if err != nil {
			return "", fmt.Errorf("failed to marshal query: %w", err)
		}
		q.Set("q", string(b))
	}

	if len(r.includeColumns) > 0 {
		b, err := json.Marshal(r.includeColumns)
		if err != nil {
			return "", fmt.Errorf("failed to marshal include_columns: %w", err)
		}
		q.Set("include_columns", string(b))
	}

	if len(r.fileOps) > 0 {
		b, err := json.Marshal(map[string]any{"operations": r.fileOps})
		if err != nil {
			return "", fmt.Errorf("failed to marshal file operations: %w", err)
		}
		q.Set("f", string(b))
	}

	if r.template != "" {
		q.Set("template", r.template)
	}

	u := r.client.host + r.resource
	if enc := q.Encode(); enc != "" {
		u += "?" + enc
	}
	return u, nil
}

// taskStatus is the body of a 202 export task and of its status polls.
type taskStatus struct {
	Status    string `json:"status"`
	StatusURL string `json:"status_url"`
	ResultURL string `json:"result_url"`
	Message   string `json:"message"`
}

// Result is the body of a completed export call.
type Result struct {
	Body []byte
}

// Text returns the raw payload, e.g. CSV text.
func (res *Result) Text() string {
	return string(res.Body)
}

// JSON decodes the payload into v.
func (res *Result) JSON(v any) error {
	if err := json.Unmarshal(res.Body, v); err != nil {
		return fmt.Errorf("failed to parse export payload: %w", err)
	}
	return nil
}

// Execute performs the export. A 200 carries the result directly; a 202
// means the service queued a task, which is polled via its status URL until
// done and then fetched from the result URL. Any non-2xx status is an error.
func (r *ExportRequest) Execute(ctx context.Context) (*Result, error) {
	u, err := r.buildURL()
	if err != nil {
		return nil, err
	}

	status, body, err := r.client.doRaw(ctx, u)
	if err != nil {
		return nil, err
	}

	switch status {
	case http.StatusOK:
		return &Result{Body: body}, nil
	case http.StatusAccepted:
		var task taskStatus
		if err := json.Unmarshal(body, &task); err != nil {
			return nil, fmt.Errorf("failed to parse export task: %w", err)
		}
		return r.pollTask(ctx, task)
	default:
		return nil, fmt.Errorf("export %s returned status %d", r.resource, status)
	}
}

func (r *ExportRequest) pollTask(ctx context.Context, task taskStatus) (*Result, error) {
	c := r.client
	statusURL := absoluteURL(c.host, task.StatusURL)

	for task.Status != "done" {
		if task.Status == "failed" || task.Status == "error" {
			return nil, fmt.Errorf("export task failed: %s", task.Message)
		}
		if statusURL == "" {
			return nil, fmt.Errorf("export task carried no status URL")
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}

		status, body, err := c.doRaw(ctx, statusURL)
		if err != nil {
			return nil, fmt.Errorf("export task poll failed: %w", err)
		}
		if status != http.StatusOK && status != http.StatusAccepted {
			return nil, fmt.Errorf("export task poll returned status %d", status)
		}
		if err := json.Unmarshal(body, &task); err != nil {
			return nil, fmt.Errorf("failed to parse export task status: %w", err)
		}
	}

	resultURL := absoluteURL(c.host, task.ResultURL)
	if resultURL == "" {
		return nil, fmt.Errorf("export task finished without a result URL")
	}

	c.logger.Debug("Export task completed", zap.String("resource", r.resource))

	status, body, err := c.doRaw(ctx, resultURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch export result: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("export result fetch returned status %d", status)
	}
	return &Result{Body: body}, nil
}

func absoluteURL(host, ref string) string {
	if ref == "" || strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	return host + ref
}
