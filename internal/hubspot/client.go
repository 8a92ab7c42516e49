// Package hubspot is a minimal client for the three HubSpot endpoints the
// recovery run needs: form submissions, contact search and contact update.
//
// Every request, including retries, waits on the Pacer first and reports
// the response headers back to it, so callers cannot bypass pacing. Only
// submission page reads are retried; a contact search or update is sent
// exactly once and its failure is returned to the caller.
package hubspot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/formrecovery/internal/model"
)

// DefaultBaseURL is the public HubSpot API host.
const DefaultBaseURL = "https://api.hubapi.com"

const maxErrorBody = 4 << 10

// Pacer gates upstream calls. Wait is called before every request and
// Observe after every response.
type Pacer interface {
	Wait(ctx context.Context) error
	Observe(h http.Header)
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Pacer      Pacer
	MaxRetries int // extra attempts for a failed submission page read
	UserAgent  string
	Logger     *slog.Logger
}

// Client talks to the HubSpot REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	pacer      Pacer
	maxRetries int
	userAgent  string
	logger     *slog.Logger
}

// NewClient builds a Client. A nil Pacer is an error: unpaced calls are
// never allowed.
func NewClient(opts Options) (*Client, error) {
	if opts.Pacer == nil {
		return nil, errors.New("hubspot: pacer is required")
	}
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("hubspot: invalid base url %q: %w", base, err)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retries := opts.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return &Client{
		baseURL:    base,
		token:      strings.TrimSpace(opts.Token),
		httpClient: httpClient,
		pacer:      opts.Pacer,
		maxRetries: retries,
		userAgent:  opts.UserAgent,
		logger:     logger,
	}, nil
}

// ListFormSubmissions fetches one page of submissions for formID, starting
// after the given cursor. An empty Next in the result means no more pages.
func (c *Client) ListFormSubmissions(ctx context.Context, formID, after string, limit int) (model.SubmissionPage, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if after != "" {
		q.Set("after", after)
	}
	path := "/form-integrations/v1/submissions/forms/" + url.PathEscape(formID) + "?" + q.Encode()

	var resp submissionsResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return model.SubmissionPage{}, err
	}
	page := model.SubmissionPage{
		Submissions: make([]model.Submission, 0, len(resp.Results)),
		Next:        resp.Paging.next(),
	}
	for _, s := range resp.Results {
		page.Submissions = append(page.Submissions, s.toSubmission())
	}
	return page, nil
}

// SearchContactsByEmail runs an equality search on property and returns up
// to limit contacts with the requested properties.
func (c *Client) SearchContactsByEmail(ctx context.Context, property, email string, properties []string, limit int) ([]model.Contact, error) {
	body := searchRequest{
		FilterGroups: []filterGroup{{Filters: []filter{{
			PropertyName: property,
			Operator:     "EQ",
			Value:        email,
		}}}},
		Properties: properties,
		Limit:      limit,
	}
	var resp searchResponse
	if err := c.doJSON(ctx, http.MethodPost, "/crm/v3/objects/contacts/search", body, &resp); err != nil {
		return nil, err
	}
	contacts := make([]model.Contact, 0, len(resp.Results))
	for _, r := range resp.Results {
		contacts = append(contacts, r.toContact())
	}
	return contacts, nil
}

// UpdateContact patches the given properties on one contact.
func (c *Client) UpdateContact(ctx context.Context, contactID string, properties map[string]string) error {
	path := "/crm/v3/objects/contacts/" + url.PathEscape(contactID)
	return c.doJSON(ctx, http.MethodPatch, path, updateRequest{Properties: properties}, nil)
}

func (c *Client) doJSON(ctx context.Context, method, requestPath string, body any, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, requestPath, err)
		}
	}

	for attempt := 0; ; attempt++ {
		if err := c.pacer.Wait(ctx); err != nil {
			return err
		}

		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() == nil && c.retryable(method, attempt) {
				c.logger.Warn("upstream request failed, retrying",
					"method", method, "path", requestPath, "attempt", attempt+1, "error", err)
				continue
			}
			return fmt.Errorf("%s %s: %w", method, requestPath, err)
		}
		c.pacer.Observe(resp.Header)

		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return fmt.Errorf("read %s %s: %w", method, requestPath, readErr)
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payload) == 0 {
				return nil
			}
			if err := json.Unmarshal(payload, out); err != nil {
				return fmt.Errorf("decode %s %s: %w", method, requestPath, err)
			}
			return nil
		}

		if isTransient(resp.StatusCode) && c.retryable(method, attempt) {
			c.logger.Warn("upstream throttled or unavailable, retrying",
				"method", method, "path", requestPath, "status", resp.StatusCode, "attempt", attempt+1)
			continue
		}

		return newHTTPError(method, requestPath, resp.StatusCode, payload)
	}
}

// retryable reports whether another attempt may follow a failed one.
// Searches and updates are counted per submission, so only GET retries.
func (c *Client) retryable(method string, attempt int) bool {
	return method == http.MethodGet && attempt < c.maxRetries
}

func newHTTPError(method, path string, status int, payload []byte) *HTTPError {
	var errPayload struct {
		Category string `json:"category"`
		Message  string `json:"message"`
	}
	_ = json.Unmarshal(payload, &errPayload)
	msg := errPayload.Message
	if msg == "" {
		if len(payload) > maxErrorBody {
			payload = payload[:maxErrorBody]
		}
		msg = strings.TrimSpace(string(payload))
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return &HTTPError{
		Method:     method,
		Path:       path,
		StatusCode: status,
		Category:   errPayload.Category,
		Message:    msg,
	}
}
