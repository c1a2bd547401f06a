// Package graphql talks to the analysis API gateway: queries and mutations
// over HTTP, subscriptions over a WebSocket, and response decoding for the
// json, transit+json and msgpack encodings the gateway serves.
package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	ContentTypeJSON    = "application/json"
	ContentTypeTransit = "application/transit+json"
	ContentTypeMsgpack = "application/msgpack"
)

// Encoding selects the Accept header sent with every request.
type Encoding string

const (
	EncodingJSON    Encoding = "json"
	EncodingTransit Encoding = "transit"
	EncodingMsgpack Encoding = "msgpack"
)

// Valid reports whether e is a supported encoding.
func (e Encoding) Valid() bool {
	switch e {
	case EncodingJSON, EncodingTransit, EncodingMsgpack:
		return true
	}
	return false
}

func (e Encoding) accept() string {
	switch e {
	case EncodingTransit:
		return ContentTypeTransit
	case EncodingMsgpack:
		return ContentTypeMsgpack
	}
	return ContentTypeJSON
}

// Observer is told how long each operation took.
type Observer interface {
	ObserveRequest(operation string, d time.Duration, err error)
}

// Request is a GraphQL operation.
type Request struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
	OperationName string         `json:"operationName,omitempty"`
}

// ErrorMessage is one entry of a GraphQL errors array.
type ErrorMessage struct {
	Message string `json:"message"`
	Path    []any  `json:"path,omitempty"`
}

// Error is returned when the gateway answers with GraphQL errors.
type Error struct {
	Operation string
	Errors    []ErrorMessage
}

func (e *Error) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, m := range e.Errors {
		msgs = append(msgs, m.Message)
	}
	return fmt.Sprintf("graphql %s: %s", e.Operation, strings.Join(msgs, "; "))
}

type response struct {
	Data   json.RawMessage `json:"data"`
	Errors []ErrorMessage  `json:"errors"`
}

// Options configures a Client.
type Options struct {
	URL            string
	Encoding       Encoding
	Timeout        time.Duration
	MaxRetries     int
	RetryDelayBase time.Duration
	Observer       Observer
}

// Client provides access to the gateway's GraphQL endpoint.
type Client struct {
	url            string
	encoding       Encoding
	httpClient     *http.Client
	maxRetries     int
	retryDelayBase time.Duration
	observer       Observer
}

// NewClient creates a new gateway client
func NewClient(opts Options) *Client {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryDelayBase <= 0 {
		opts.RetryDelayBase = time.Second
	}
	if !opts.Encoding.Valid() {
		opts.Encoding = EncodingJSON
	}
	return &Client{
		url:      opts.URL,
		encoding: opts.Encoding,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		maxRetries:     opts.MaxRetries,
		retryDelayBase: opts.RetryDelayBase,
		observer:       opts.Observer,
	}
}

// Do runs req and decodes the data object into out. out may be nil.
func (c *Client) Do(ctx context.Context, req Request, out any) (err error) {
	start := time.Now()
	defer func() {
		if c.observer != nil {
			c.observer.ObserveRequest(req.OperationName, time.Since(start), err)
		}
	}()

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", req.OperationName, err)
	}

	resp, err := c.doRequest(ctx, body)
	if err != nil {
		return fmt.Errorf("failed to execute %s: %w", req.OperationName, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", req.OperationName, err)
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s failed with status %d: %s", req.OperationName, resp.StatusCode, truncate(string(payload), 200))
	}

	var decoded response
	if err := DecodeResponse(resp.Header.Get("Content-Type"), payload, &decoded); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", req.OperationName, err)
	}
	if len(decoded.Errors) > 0 {
		return &Error{Operation: req.OperationName, Errors: decoded.Errors}
	}
	if out == nil || len(decoded.Data) == 0 || string(decoded.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(decoded.Data, out); err != nil {
		return fmt.Errorf("failed to decode %s data: %w", req.OperationName, err)
	}
	return nil
}

// DecodeResponse decodes body according to contentType into out. Transit and
// msgpack bodies are first reduced to plain values and then decoded as JSON,
// so out only needs json tags.
func DecodeResponse(contentType string, body []byte, out any) error {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = ContentTypeJSON
	}

	switch mediaType {
	case ContentTypeTransit:
		v, err := DecodeTransit(body)
		if err != nil {
			return err
		}
		return reencode(Flatten(v), out)
	case ContentTypeMsgpack:
		var v any
		if err := msgpack.Unmarshal(body, &v); err != nil {
			return fmt.Errorf("failed to parse msgpack body: %w", err)
		}
		return reencode(Flatten(v), out)
	}
	return json.Unmarshal(body, out)
}

func reencode(v any, out any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

// doRequest performs the POST with retry logic
func (c *Client) doRequest(ctx context.Context, body []byte) (*http.Response, error) {
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(i) * c.retryDelayBase):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", ContentTypeJSON)
		req.Header.Set("Accept", c.encoding.accept())

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		}

		return resp, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
