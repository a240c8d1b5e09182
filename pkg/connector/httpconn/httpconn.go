// Package httpconn resolves manual-style action descriptors against an HTTP
// API. Reads are synchronous, or asynchronous when the API answers with a job
// id that is polled until its result can be fetched.
package httpconn

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dsrkit/dsrkit/pkg/connector"
	"github.com/dsrkit/dsrkit/pkg/queryconfig"
	"github.com/dsrkit/dsrkit/pkg/telemetry"
)

var tracer = otel.Tracer("dsrkit/pkg/connector/httpconn")

const correlationIDToken = "{correlation_id}"

// Endpoint is one API call. Path may contain {correlation_id}. RowsPath is a
// gjson path to the returned records; empty means the whole body.
type Endpoint struct {
	Method   string `json:"method" mapstructure:"method"`
	Path     string `json:"path" mapstructure:"path"`
	RowsPath string `json:"rows_path" mapstructure:"rows_path"`
}

type Config struct {
	BaseURL string            `json:"base_url" mapstructure:"base_url"`
	Headers map[string]string `json:"headers" mapstructure:"headers"`

	Read   Endpoint `json:"read" mapstructure:"read"`
	Update Endpoint `json:"update" mapstructure:"update"`

	// CorrelationPath makes reads asynchronous: it locates the job id in the
	// read response.
	CorrelationPath string   `json:"correlation_path" mapstructure:"correlation_path"`
	Status          Endpoint `json:"status" mapstructure:"status"`
	CompletePath    string   `json:"complete_path" mapstructure:"complete_path"`
	SkipResultPath  string   `json:"skip_result_path" mapstructure:"skip_result_path"`
	Result          Endpoint `json:"result" mapstructure:"result"`

	IgnoreStatusCodes []int         `json:"ignore_status_codes" mapstructure:"ignore_status_codes"`
	RetryMax          int           `json:"retry_max" mapstructure:"retry_max"`
	Timeout           time.Duration `json:"timeout" mapstructure:"timeout"`
}

type Connector struct {
	key    string
	cfg    Config
	client *retryablehttp.Client
}

var (
	_ connector.AsyncConnector    = (*Connector)(nil)
	_ connector.StatusCodeIgnorer = (*Connector)(nil)
)

func New(key string, cfg Config) (*Connector, error) {
	if _, err := url.Parse(cfg.BaseURL); err != nil || cfg.BaseURL == "" {
		return nil, fmt.Errorf("connector %s: invalid base url %q", key, cfg.BaseURL)
	}
	if cfg.Read.Path == "" {
		return nil, fmt.Errorf("connector %s: read endpoint is required", key)
	}
	if cfg.CorrelationPath != "" && (cfg.Status.Path == "" || cfg.Result.Path == "" || cfg.CompletePath == "") {
		return nil, fmt.Errorf("connector %s: async reads need status, result and complete_path", key)
	}

	client := retryablehttp.NewClient()
	client.Logger = nil
	client.RetryMax = cfg.RetryMax
	client.RetryWaitMin = 50 * time.Millisecond
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	if cfg.Timeout > 0 {
		client.HTTPClient.Timeout = cfg.Timeout
	}
	return &Connector{key: key, cfg: cfg, client: client}, nil
}

func (c *Connector) Key() string { return c.key }

func (c *Connector) ConnectionType() queryconfig.ConnectionType { return queryconfig.HTTP }

func (c *Connector) IgnoredStatusCodes() []int { return c.cfg.IgnoreStatusCodes }

func (c *Connector) async() bool { return c.cfg.CorrelationPath != "" }

type response struct {
	status int
	body   []byte
}

func (r response) ok() bool {
	return r.status >= 200 && r.status < 300
}

func (c *Connector) do(ctx context.Context, e Endpoint, correlationID string, query url.Values, body any) (response, error) {
	method := e.Method
	if method == "" {
		method = http.MethodGet
	}
	target := strings.TrimSuffix(c.cfg.BaseURL, "/") + strings.ReplaceAll(e.Path, correlationIDToken, url.PathEscape(correlationID))
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return response{}, err
		}
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, target, payload)
	if err != nil {
		return response{}, err
	}
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	telemetry.InjectHTTPHeaders(ctx, req.Header)

	resp, err := c.client.Do(req)
	if err != nil {
		return response{}, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return response{}, err
	}
	return response{status: resp.StatusCode, body: data}, nil
}

func (c *Connector) statusError(method string, r response) error {
	return fmt.Errorf("connector %s: %s returned status %d: %s", c.key, method, r.status, strings.TrimSpace(string(r.body)))
}

// rows extracts records at path: an array of objects, or a single object.
func rows(body []byte, path string) []map[string]any {
	res := gjson.ParseBytes(body)
	if path != "" {
		res = res.Get(path)
	}

	var out []map[string]any
	switch {
	case res.IsArray():
		for _, item := range res.Array() {
			if row, ok := item.Value().(map[string]any); ok {
				out = append(out, row)
			}
		}
	case res.IsObject():
		if row, ok := res.Value().(map[string]any); ok {
			out = append(out, row)
		}
	}
	return out
}

// lookups expands the locators into one query per value, in a stable order.
func lookups(action *queryconfig.ManualAction) []url.Values {
	fields := make([]string, 0, len(action.Locators))
	for f := range action.Locators {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	var out []url.Values
	for _, f := range fields {
		for _, v := range action.Locators[f] {
			out = append(out, url.Values{f: {fmt.Sprint(v)}})
		}
	}
	return out
}

// Retrieve calls the read endpoint once per locator value. Calls failing with
// an ignored status contribute nothing.
func (c *Connector) Retrieve(ctx context.Context, stmt queryconfig.Statement) connector.Result {
	ctx, span := tracer.Start(ctx, "httpconn.Retrieve")
	span.SetAttributes(attribute.String("connector", c.key))
	defer span.End()

	action, ok := stmt.(*queryconfig.ManualAction)
	if !ok {
		return connector.Failed(fmt.Errorf("connector %s cannot run %T", c.key, stmt))
	}

	var (
		out            []map[string]any
		correlationIDs []string
	)
	for _, query := range lookups(action) {
		r, err := c.do(ctx, c.cfg.Read, "", query, nil)
		if err != nil {
			return connector.Failed(fmt.Errorf("connector %s: read: %w", c.key, err))
		}
		if !r.ok() {
			if connector.IsIgnored(c, r.status) {
				continue
			}
			return connector.Failed(c.statusError("read", r))
		}

		if !c.async() {
			out = append(out, rows(r.body, c.cfg.Read.RowsPath)...)
			continue
		}
		id := gjson.GetBytes(r.body, c.cfg.CorrelationPath).String()
		if id == "" {
			return connector.Failed(fmt.Errorf("connector %s: read response has no %q", c.key, c.cfg.CorrelationPath))
		}
		correlationIDs = append(correlationIDs, id)
	}

	if c.async() {
		return connector.Pending(correlationIDs...)
	}
	return connector.Ready(out)
}

func (c *Connector) CheckAsyncStatus(ctx context.Context, correlationID string) (connector.AsyncStatus, error) {
	ctx, span := tracer.Start(ctx, "httpconn.CheckAsyncStatus")
	defer span.End()

	r, err := c.do(ctx, c.cfg.Status, correlationID, nil, nil)
	if err != nil {
		return connector.AsyncStatus{}, fmt.Errorf("connector %s: status: %w", c.key, err)
	}
	if !r.ok() {
		return connector.AsyncStatus{}, c.statusError("status", r)
	}

	status := connector.AsyncStatus{Complete: gjson.GetBytes(r.body, c.cfg.CompletePath).Bool()}
	if c.cfg.SkipResultPath != "" {
		status.SkipResultFetch = gjson.GetBytes(r.body, c.cfg.SkipResultPath).Bool()
	}
	return status, nil
}

func (c *Connector) FetchAsyncResult(ctx context.Context, correlationID string) ([]map[string]any, error) {
	ctx, span := tracer.Start(ctx, "httpconn.FetchAsyncResult")
	defer span.End()

	r, err := c.do(ctx, c.cfg.Result, correlationID, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("connector %s: result: %w", c.key, err)
	}
	if !r.ok() {
		return nil, c.statusError("result", r)
	}
	return rows(r.body, c.cfg.Result.RowsPath), nil
}

// Mask sends one update per action, locating the record by its primary key.
func (c *Connector) Mask(ctx context.Context, stmts []queryconfig.Statement) connector.Result {
	ctx, span := tracer.Start(ctx, "httpconn.Mask")
	span.SetAttributes(attribute.String("connector", c.key), attribute.Int("statements", len(stmts)))
	defer span.End()

	if c.cfg.Update.Path == "" {
		return connector.Failed(fmt.Errorf("connector %s has no update endpoint", c.key))
	}
	update := c.cfg.Update
	if update.Method == "" {
		update.Method = http.MethodPatch
	}

	masked := 0
	for _, stmt := range stmts {
		action, ok := stmt.(*queryconfig.ManualAction)
		if !ok {
			return connector.Failed(fmt.Errorf("connector %s cannot run %T", c.key, stmt))
		}
		query := url.Values{}
		for _, q := range lookups(action) {
			for k, v := range q {
				query[k] = append(query[k], v...)
			}
		}
		r, err := c.do(ctx, update, "", query, action.Update)
		if err != nil {
			return connector.Failed(fmt.Errorf("connector %s: update: %w", c.key, err))
		}
		if !r.ok() {
			if connector.IsIgnored(c, r.status) {
				continue
			}
			return connector.Failed(c.statusError("update", r))
		}
		masked++
	}
	return connector.Masked(masked)
}

func (c *Connector) Test(context.Context) error {
	return nil
}

func (c *Connector) Close() error {
	c.client.HTTPClient.CloseIdleConnections()
	return nil
}
