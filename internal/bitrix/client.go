// Package bitrix implements the REST transport to a Bitrix24 webhook endpoint.
// Every call is synchronous request/response with a fixed timeout; failures are
// classified into the kinds callers need to pick a degrade-or-propagate policy.
package bitrix

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultTimeout    = 30 * time.Second
	errorBodyPreview  = 500
	methodJSONSuffix  = ".json"
	contentTypeJSON   = "application/json"
	contentTypeHeader = "Content-Type"
)

// Response is the Bitrix REST envelope. Result stays raw so each caller can
// decode it into the shape its method returns (object, list, scalar).
type Response struct {
	Result           json.RawMessage `json:"result"`
	Next             *int            `json:"next"`
	Total            int             `json:"total"`
	ErrorCode        string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
}

// HasResult reports whether the envelope carries a usable result payload.
func (r *Response) HasResult() bool {
	trimmed := bytes.TrimSpace(r.Result)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// ClientConfig describes one webhook endpoint binding.
type ClientConfig struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client issues REST calls against a single Bitrix webhook base URL.
type Client struct {
	base       string
	httpClient *http.Client
	logger     *zap.Logger
}

var errMissingBaseURL = errors.New("bitrix: base URL is required")

// NewClient validates the endpoint binding and returns a ready client.
func NewClient(cfg ClientConfig) (*Client, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil, errMissingBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("bitrix: invalid base URL: %w", err)
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		base:       base,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// BaseURL returns the normalized webhook base this client is bound to.
func (c *Client) BaseURL() string {
	return c.base
}

// Get issues a GET call for the given method path with query parameters.
func (c *Client) Get(ctx context.Context, method string, query url.Values) (*Response, error) {
	endpoint := c.methodURL(method)
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, newNetworkError(err)
	}
	return c.do(request, method)
}

// Post issues a POST call with a JSON body.
func (c *Client) Post(ctx context.Context, method string, body any) (*Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, newNetworkError(err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), bytes.NewReader(payload))
	if err != nil {
		return nil, newNetworkError(err)
	}
	request.Header.Set(contentTypeHeader, contentTypeJSON)
	return c.do(request, method)
}

func (c *Client) methodURL(method string) string {
	if !strings.HasSuffix(method, methodJSONSuffix) {
		method += methodJSONSuffix
	}
	return c.base + method
}

func (c *Client) do(request *http.Request, method string) (*Response, error) {
	httpResponse, err := c.httpClient.Do(request)
	if err != nil {
		c.logger.Warn("bitrix call failed", zap.String("method", method), zap.Error(err))
		return nil, newNetworkError(err)
	}
	defer httpResponse.Body.Close()

	body, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return nil, newNetworkError(err)
	}

	var envelope Response
	if err := json.Unmarshal(body, &envelope); err != nil {
		preview := string(body)
		if len(preview) > errorBodyPreview {
			preview = preview[:errorBodyPreview]
		}
		c.logger.Warn("bitrix response not decodable", zap.String("method", method))
		return nil, newDecodeError(preview)
	}

	return &envelope, nil
}

// Result decodes the envelope's result into out, surfacing fetch-failed when
// the upstream carried an error payload or no result at all.
func Result(response *Response, out any) error {
	if response.ErrorCode != "" {
		return newFetchFailedError(response.ErrorCode, response.ErrorDescription)
	}
	if !response.HasResult() {
		return newFetchFailedError("", "response carried no result")
	}
	if err := json.Unmarshal(response.Result, out); err != nil {
		return newFetchFailedError("malformed_result", err.Error())
	}
	return nil
}
