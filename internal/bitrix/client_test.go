package bitrix

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestCallAppendsJSONSuffixAndDecodesResult(t *testing.T) {
	var requestedPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestedPath = r.URL.Path
		w.Write([]byte(`{"result": {"ID": "7"}, "total": 1}`)) //nolint:errcheck
	}))
	defer upstream.Close()

	client, err := NewClient(ClientConfig{BaseURL: upstream.URL})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	response, err := client.Get(context.Background(), "crm.lead.get", nil)
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if requestedPath != "/crm.lead.get.json" {
		t.Fatalf("expected .json suffix on method path, got %q", requestedPath)
	}

	var record map[string]any
	if err := Result(response, &record); err != nil {
		t.Fatalf("result decode failed: %v", err)
	}
	if record["ID"] != "7" {
		t.Fatalf("unexpected record: %v", record)
	}
}

func TestCallClassifiesNetworkFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	upstream.Close()

	client, err := NewClient(ClientConfig{BaseURL: upstream.URL})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	_, err = client.Get(context.Background(), "crm.lead.list", nil)
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("expected network error kind, got %v", err)
	}
}

func TestCallClassifiesDecodeFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json</html>")) //nolint:errcheck
	}))
	defer upstream.Close()

	client, err := NewClient(ClientConfig{BaseURL: upstream.URL})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	_, err = client.Get(context.Background(), "crm.lead.list", nil)
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("expected decode error kind, got %v", err)
	}
}

func TestResultSurfacesUpstreamErrorPayload(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error": "INVALID_ENTITY", "error_description": "no such entity"}`)) //nolint:errcheck
	}))
	defer upstream.Close()

	client, err := NewClient(ClientConfig{BaseURL: upstream.URL})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	response, err := client.Get(context.Background(), "crm.bogus.fields", nil)
	if err != nil {
		t.Fatalf("transport should succeed, got %v", err)
	}

	var out map[string]any
	err = Result(response, &out)
	if !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("expected fetch-failed kind, got %v", err)
	}
	var payload *Error
	if !errors.As(err, &payload) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if payload.Code != "INVALID_ENTITY" || payload.Description != "no such entity" {
		t.Fatalf("upstream payload not carried: %+v", payload)
	}
}

func TestResultRejectsMissingResult(t *testing.T) {
	response := &Response{}
	var out map[string]any
	if err := Result(response, &out); !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("expected fetch-failed for missing result, got %v", err)
	}

	response = &Response{Result: []byte("null")}
	if err := Result(response, &out); !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("expected fetch-failed for null result, got %v", err)
	}
}

func TestPostSendsJSONBody(t *testing.T) {
	var contentType string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		w.Write([]byte(`{"result": true}`)) //nolint:errcheck
	}))
	defer upstream.Close()

	client, err := NewClient(ClientConfig{BaseURL: upstream.URL})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	if _, err := client.Post(context.Background(), "crm.lead.update", map[string]any{"id": "1"}); err != nil {
		t.Fatalf("post failed: %v", err)
	}
	if contentType != "application/json" {
		t.Fatalf("expected JSON content type, got %q", contentType)
	}
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(ClientConfig{}); err == nil {
		t.Fatal("expected error for missing base URL")
	}
}

func TestGetEncodesQueryParameters(t *testing.T) {
	var rawQuery string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawQuery = r.URL.RawQuery
		w.Write([]byte(`{"result": []}`)) //nolint:errcheck
	}))
	defer upstream.Close()

	client, err := NewClient(ClientConfig{BaseURL: upstream.URL})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	query := url.Values{}
	query.Set("start", "50")
	if _, err := client.Get(context.Background(), "user.get", query); err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if rawQuery != "start=50" {
		t.Fatalf("unexpected query: %q", rawQuery)
	}
}
