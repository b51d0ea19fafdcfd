package plannr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/go-querystring/query"
	"golang.org/x/oauth2"

	"github.com/rorycl/crmkit/config"
)

// DefaultBaseURL is the production Plannr API.
const DefaultBaseURL = "https://api.plannrcrm.com"

// maxBulkUpsert is the maximum number of accounts accepted by one bulk upsert.
const maxBulkUpsert = 5000

// maxListLimit is the largest page size accepted by collection endpoints.
const maxListLimit = 2000

// defaultListLimit is used when no ListOptions are provided.
const defaultListLimit = 100

// UserAgent is sent with every request.
var UserAgent = "crmkit/1.0"

// Client is a wrapper for making authenticated calls to the Plannr API.
//
// Requests are paced: a request is not started until minInterval has passed
// since the previous one. The Client is not safe for concurrent use.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	clientPath  string
	userAgent   string
	minInterval time.Duration
	lastRequest time.Time
	log         *slog.Logger

	// set by options, consumed by NewClient
	baseHTTPClient *http.Client
	timeout        time.Duration
	timeoutSet     bool
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying http client. The bearer token transport
// wraps its Transport. A non-zero Timeout on hc is kept unless WithTimeout is
// also given.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.baseHTTPClient = hc }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.log = logger }
}

// WithMinInterval sets the minimum interval between requests. Zero disables
// client side pacing.
func WithMinInterval(d time.Duration) Option {
	return func(c *Client) { c.minInterval = d }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
		c.timeoutSet = true
	}
}

// WithClientPath sets the path used by CreateClient.
func WithClientPath(p string) Option {
	return func(c *Client) { c.clientPath = p }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// NewClient returns a Plannr client authenticating with the provided bearer
// token. An empty or placeholder token is rejected before any request is made.
func NewClient(ctx context.Context, baseURL, token string, opts ...Option) (*Client, error) {
	if config.IsPlaceholderToken(token) {
		return nil, ErrMissingToken
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", baseURL, err)
	}

	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		clientPath:  config.DefaultClientPath,
		userAgent:   UserAgent,
		minInterval: config.DefaultMinRequestInterval,
		timeout:     config.DefaultRequestTimeout,
	}
	for _, o := range opts {
		o(c)
	}

	if c.log == nil {
		c.log = slog.New(slog.NewTextHandler(
			os.Stdout,
			&slog.HandlerOptions{Level: slog.LevelInfo},
		))
	}

	// oauth2.NewClient uses the http client held in the context as the base
	// transport for the bearer token.
	if c.baseHTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.baseHTTPClient)
	}
	tokenSource := oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	})
	c.httpClient = oauth2.NewClient(ctx, tokenSource)
	if c.baseHTTPClient != nil && c.baseHTTPClient.Timeout > 0 && !c.timeoutSet {
		c.timeout = c.baseHTTPClient.Timeout
	}
	c.httpClient.Timeout = c.timeout

	return c, nil
}

// List fetches a page of records of the given resource.
func (c *Client) List(ctx context.Context, r Resource, opts *ListOptions) ([]Object, error) {
	params, err := listParams(opts)
	if err != nil {
		return nil, err
	}
	var records []Object
	if _, err := c.do(ctx, http.MethodGet, "/"+string(r), params, nil, &records); err != nil {
		c.log.Error(fmt.Sprintf("List %s: %v", r, err))
		return nil, err
	}
	c.log.Debug(fmt.Sprintf("List %s: retrieved %d records", r, len(records)))
	return records, nil
}

// Get fetches a single record by id. The id may be a Plannr _id, an external
// id with the "extid-" prefix or a source id with the "srcid-" prefix.
func (c *Client) Get(ctx context.Context, r Resource, id string) (Object, error) {
	var record Object
	if _, err := c.do(ctx, http.MethodGet, resourcePath(r, id), nil, nil, &record); err != nil {
		c.log.Error(fmt.Sprintf("Get %s %s: %v", r, id, err))
		return nil, err
	}
	return record, nil
}

// Create creates a record.
func (c *Client) Create(ctx context.Context, r Resource, data any) (Object, error) {
	var record Object
	if _, err := c.do(ctx, http.MethodPost, "/"+string(r), nil, data, &record); err != nil {
		c.log.Error(fmt.Sprintf("Create %s: %v", r, err))
		return nil, err
	}
	c.log.Info(fmt.Sprintf("Create %s: created %s", r, record.ID()))
	return record, nil
}

// Update replaces a record.
func (c *Client) Update(ctx context.Context, r Resource, id string, data any) (Object, error) {
	var record Object
	if _, err := c.do(ctx, http.MethodPut, resourcePath(r, id), nil, data, &record); err != nil {
		c.log.Error(fmt.Sprintf("Update %s %s: %v", r, id, err))
		return nil, err
	}
	return record, nil
}

// Delete deletes a record, returning the deletion confirmation.
func (c *Client) Delete(ctx context.Context, r Resource, id string) (Object, error) {
	var confirmation Object
	if _, err := c.do(ctx, http.MethodDelete, resourcePath(r, id), nil, nil, &confirmation); err != nil {
		c.log.Error(fmt.Sprintf("Delete %s %s: %v", r, id, err))
		return nil, err
	}
	return confirmation, nil
}

// BulkUpsertAccounts creates or updates up to 5000 accounts in one call. A 206
// response reports partial success and is returned without error.
func (c *Client) BulkUpsertAccounts(ctx context.Context, accounts []Object) (Object, error) {
	if len(accounts) > maxBulkUpsert {
		c.log.Error("BulkUpsertAccounts: too many accounts in a single batch")
		return nil, ErrBulkTooLarge
	}
	var result Object
	status, err := c.do(ctx, http.MethodPut, "/"+string(Accounts), nil, accounts, &result)
	if err != nil {
		c.log.Error(fmt.Sprintf("BulkUpsertAccounts: %v", err))
		return nil, err
	}
	if status == http.StatusPartialContent {
		c.log.Warn(fmt.Sprintf("BulkUpsertAccounts: partial success for %d accounts", len(accounts)))
	}
	return result, nil
}

// CompleteTask marks a task as complete.
func (c *Client) CompleteTask(ctx context.Context, id string) (Object, error) {
	var record Object
	if _, err := c.do(ctx, http.MethodPatch, resourcePath(Tasks, id)+"/complete", nil, nil, &record); err != nil {
		return nil, err
	}
	return record, nil
}

// TriggerAutomation triggers an automation blueprint.
func (c *Client) TriggerAutomation(ctx context.Context, blueprintID string, data any) (Object, error) {
	if data == nil {
		data = map[string]any{}
	}
	var result Object
	if _, err := c.do(ctx, http.MethodPost, resourcePath(AutomationBlueprints, blueprintID)+"/trigger", nil, data, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// FormSubmissions fetches the submissions for a form.
func (c *Client) FormSubmissions(ctx context.Context, formID string, opts *ListOptions) ([]Object, error) {
	params, err := listParams(opts)
	if err != nil {
		return nil, err
	}
	var records []Object
	if _, err := c.do(ctx, http.MethodGet, resourcePath(Forms, formID)+"/submissions", params, nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// FirmInfo fetches the current firm.
func (c *Client) FirmInfo(ctx context.Context) (Object, error) {
	var firm Object
	if _, err := c.do(ctx, http.MethodGet, "/firms/current", nil, nil, &firm); err != nil {
		return nil, err
	}
	return firm, nil
}

// Employees fetches a page of employees.
func (c *Client) Employees(ctx context.Context, opts *ListOptions) ([]Object, error) {
	params, err := listParams(opts)
	if err != nil {
		return nil, err
	}
	var employees []Object
	if _, err := c.do(ctx, http.MethodGet, "/employees", params, nil, &employees); err != nil {
		return nil, err
	}
	return employees, nil
}

// Search searches across Plannr records, optionally restricted to one model
// type such as "Account".
func (c *Client) Search(ctx context.Context, q, modelType string, limit int) ([]Object, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	params, err := query.Values(searchOptions{Query: q, Type: modelType, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("could not encode search parameters: %w", err)
	}
	var results []Object
	if _, err := c.do(ctx, http.MethodGet, "/search", params, nil, &results); err != nil {
		c.log.Error(fmt.Sprintf("Search %q: %v", q, err))
		return nil, err
	}
	return results, nil
}

// APIUsage fetches the current API usage statistics.
func (c *Client) APIUsage(ctx context.Context) (Object, error) {
	var usage Object
	if _, err := c.do(ctx, http.MethodGet, "/api/usage", nil, nil, &usage); err != nil {
		return nil, err
	}
	return usage, nil
}

// CreateClient creates a single client record at the configured client path.
// Any 2xx response is a success; the created identifier is taken from the
// response body when present.
func (c *Client) CreateClient(ctx context.Context, record ClientRecord) (Created, error) {
	var body Object
	status, err := c.do(ctx, http.MethodPost, c.clientPath, nil, record, &body)
	if err != nil {
		c.log.Debug(fmt.Sprintf("CreateClient %s: %v", record.FullName(), err))
		return Created{}, err
	}
	created := Created{ID: body.ID(), StatusCode: status, Data: body}
	if created.ID == "" {
		c.log.Warn(fmt.Sprintf("CreateClient %s: response carried no identifier", record.FullName()))
	}
	return created, nil
}

// pace blocks until minInterval has passed since the last request.
func (c *Client) pace(ctx context.Context) error {
	if c.minInterval > 0 && !c.lastRequest.IsZero() {
		wait := c.minInterval - time.Since(c.lastRequest)
		if wait > 0 {
			t := time.NewTimer(wait)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
			}
		}
	}
	c.lastRequest = time.Now()
	return nil
}

// newRequest is a helper to create a new HTTP request with common headers.
func (c *Client) newRequest(ctx context.Context, method, path string, params url.Values, body []byte) (*http.Request, error) {
	requestURL := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(params) > 0 {
		requestURL += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// do is a helper to execute a paced HTTP request and decode the JSON response
// into v. It returns the response status code. Failures are reported as
// *APIError values, other than local marshalling and request construction
// errors.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, payload any, v any) (int, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	if err := c.pace(ctx); err != nil {
		return 0, err
	}

	req, err := c.newRequest(ctx, method, path, params, body)
	if err != nil {
		return 0, err
	}
	c.log.Debug(fmt.Sprintf("%s %s", method, req.URL.Redacted()))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, &APIError{Message: fmt.Sprintf("Request failed: %v", err), Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, &APIError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("Request failed: reading response body: %v", err),
			Err:        err,
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var data map[string]any
		_ = json.Unmarshal(respBody, &data)
		return resp.StatusCode, newStatusError(resp.StatusCode, respBody, data)
	}

	if v == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return resp.StatusCode, nil
	}
	if err := json.Unmarshal(respBody, v); err != nil {
		// Plain text success bodies are returned as a message.
		if obj, ok := v.(*Object); ok {
			*obj = Object{"message": string(respBody)}
			return resp.StatusCode, nil
		}
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, nil
}

// resourcePath returns the path to a single record.
func resourcePath(r Resource, id string) string {
	return "/" + string(r) + "/" + url.PathEscape(id)
}

// listParams encodes list options, applying the default page size.
func listParams(opts *ListOptions) (url.Values, error) {
	if opts == nil {
		opts = &ListOptions{Limit: defaultListLimit}
	}
	if opts.Limit > maxListLimit {
		return nil, fmt.Errorf("limit %d exceeds the maximum of %d", opts.Limit, maxListLimit)
	}
	params, err := query.Values(opts)
	if err != nil {
		return nil, fmt.Errorf("could not encode list parameters: %w", err)
	}
	return params, nil
}
