package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func newFakeCRM(t *testing.T, routes map[string]string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if body, known := routes[r.URL.Path]; known {
			w.Write([]byte(body)) //nolint:errcheck
			return
		}
		w.Write([]byte(`{"error": "unknown_method", "error_description": "` + r.URL.Path + `"}`)) //nolint:errcheck
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	handler, err := NewHTTPHandler(Dependencies{})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return handler
}

func doRequest(t *testing.T, handler http.Handler, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	request := httptest.NewRequest(method, target, reader)
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeEnvelope(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("response not decodable: %v: %s", err, recorder.Body.String())
	}
	return payload
}

func TestHealthEndpoint(t *testing.T) {
	handler := newTestRouter(t)
	recorder := doRequest(t, handler, http.MethodGet, "/health", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
}

func TestMissingBaseParameterAnswersStructuredError(t *testing.T) {
	handler := newTestRouter(t)
	recorder := doRequest(t, handler, http.MethodGet, "/fields/lead", "")

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	payload := decodeEnvelope(t, recorder)
	if payload["success"] != false || payload["error"] != "missing_base" {
		t.Fatalf("unexpected envelope: %v", payload)
	}
}

func TestFieldsEndpointServesCatalog(t *testing.T) {
	crm := newFakeCRM(t, map[string]string{
		"/crm.lead.fields.json":         `{"result": {"TITLE": {"listLabel": "Subject"}}}`,
		"/crm.lead.userfield.list.json": `{"result": []}`,
	})

	handler := newTestRouter(t)
	recorder := doRequest(t, handler, http.MethodGet, "/fields/lead?base="+crm.URL, "")

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeEnvelope(t, recorder)
	if payload["success"] != true {
		t.Fatalf("unexpected envelope: %v", payload)
	}
	result := payload["result"].(map[string]any)
	for _, key := range []string{"code_to_label", "label_to_code", "code_to_type", "enums", "code_to_id"} {
		if _, present := result[key]; !present {
			t.Fatalf("catalog missing %s: %v", key, result)
		}
	}
	labels := result["code_to_label"].(map[string]any)
	if labels["TITLE"] != "Subject" {
		t.Fatalf("unexpected labels: %v", labels)
	}
}

func TestFieldsEndpointPropagatesSchemaFailure(t *testing.T) {
	crm := newFakeCRM(t, nil)

	handler := newTestRouter(t)
	recorder := doRequest(t, handler, http.MethodGet, "/fields/lead?base="+crm.URL, "")

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing schema, got %d", recorder.Code)
	}
	payload := decodeEnvelope(t, recorder)
	if payload["error"] != "unknown_method" {
		t.Fatalf("upstream error code not surfaced: %v", payload)
	}
}

func TestDuplicatesEndpoint(t *testing.T) {
	crm := newFakeCRM(t, map[string]string{
		"/crm.lead.fields.json": `{"result": {
			"UF_A": {"listLabel": "Same"},
			"UF_B": {"listLabel": "Same"}
		}}`,
		"/crm.lead.userfield.list.json": `{"result": []}`,
	})

	handler := newTestRouter(t)
	recorder := doRequest(t, handler, http.MethodGet, "/fields/lead/duplicates?base="+crm.URL, "")

	payload := decodeEnvelope(t, recorder)
	if payload["total"] != float64(1) {
		t.Fatalf("expected one duplicate group, got %v", payload)
	}
}

func TestListEndpointAnswersRowsAndTotal(t *testing.T) {
	crm := newFakeCRM(t, map[string]string{
		"/user.get.json":      `{"result": [{"ID": "5", "NAME": "Jane", "LAST_NAME": "Doe"}]}`,
		"/crm.lead.list.json": `{"result": [{"ID": "1", "TITLE": "x", "ASSIGNED_BY_ID": "5"}]}`,
	})

	handler := newTestRouter(t)
	recorder := doRequest(t, handler, http.MethodGet, "/list/lead?base="+crm.URL, "")

	payload := decodeEnvelope(t, recorder)
	if payload["success"] != true || payload["total"] != float64(1) {
		t.Fatalf("unexpected envelope: %v", payload)
	}
	rows := payload["result"].([]any)
	row := rows[0].(map[string]any)
	if row["ASSIGNED_BY_ID"] != "Jane Doe" {
		t.Fatalf("reference not resolved through the endpoint: %v", row)
	}
}

func TestUpdateEndpointReportsMissingLinkedContact(t *testing.T) {
	crm := newFakeCRM(t, map[string]string{
		"/crm.deal.get.json": `{"result": {"ID": "10"}}`,
	})

	handler := newTestRouter(t)
	recorder := doRequest(t, handler, http.MethodPost,
		"/update/deal/10?base="+crm.URL, `{"fields": {"NAME": "A"}}`)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeEnvelope(t, recorder)
	if payload["success"] != false {
		t.Fatalf("unexpected envelope: %v", payload)
	}
}

func TestDeleteUserfieldsReportsPerIDOutcomes(t *testing.T) {
	crm := newFakeCRM(t, map[string]string{
		"/crm.lead.userfield.delete.json": `{"result": true}`,
	})

	handler := newTestRouter(t)
	recorder := doRequest(t, handler, http.MethodPost,
		"/fields/delete?base="+crm.URL, `{"ids": [42, 43]}`)

	payload := decodeEnvelope(t, recorder)
	outcomes := payload["result"].([]any)
	if len(outcomes) != 2 {
		t.Fatalf("expected one outcome per id, got %v", outcomes)
	}
	first := outcomes[0].(map[string]any)
	if first["status"] != "ok" {
		t.Fatalf("unexpected outcome: %v", first)
	}
}

func TestTemplateEndpointStreamsWorkbook(t *testing.T) {
	crm := newFakeCRM(t, map[string]string{
		"/crm.lead.fields.json":         `{"result": {"TITLE": {"listLabel": "Title"}}}`,
		"/crm.lead.userfield.list.json": `{"result": []}`,
	})

	handler := newTestRouter(t)
	recorder := doRequest(t, handler, http.MethodGet, "/template/lead?base="+crm.URL, "")

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if contentType := recorder.Header().Get("Content-Type"); !strings.Contains(contentType, "spreadsheetml") {
		t.Fatalf("unexpected content type: %q", contentType)
	}
	if disposition := recorder.Header().Get("Content-Disposition"); !strings.Contains(disposition, "lead_template.xlsx") {
		t.Fatalf("unexpected disposition: %q", disposition)
	}
}

func TestFetchMultipleSkipsUnfetchableIDs(t *testing.T) {
	crm := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/crm.lead.get.json" || r.URL.Query().Get("id") != "1" {
			w.Write([]byte(`{"error": "not_found", "error_description": "missing"}`)) //nolint:errcheck
			return
		}
		w.Write([]byte(`{"result": {"ID": "1", "TITLE": "only"}}`)) //nolint:errcheck
	}))
	defer crm.Close()

	handler := newTestRouter(t)
	recorder := doRequest(t, handler, http.MethodGet,
		"/fetch/multiple?base="+crm.URL+"&entity=lead&ids=1,2", "")

	payload := decodeEnvelope(t, recorder)
	if payload["total"] != float64(1) {
		t.Fatalf("expected the unfetchable id to be skipped, got %v", payload)
	}
	row := payload["result"].([]any)[0].(map[string]any)
	if row["TITLE"] != "only" || row["PHONE_VALUE"] != "" {
		t.Fatalf("expected flattened fetched record: %v", row)
	}
}

func TestDefaultBaseURLIsUsedWhenQueryOmitsIt(t *testing.T) {
	crm := newFakeCRM(t, map[string]string{
		"/crm.lead.fields.json":         `{"result": {"TITLE": {"listLabel": "Title"}}}`,
		"/crm.lead.userfield.list.json": `{"result": []}`,
	})

	gin.SetMode(gin.TestMode)
	handler, err := NewHTTPHandler(Dependencies{DefaultBaseURL: crm.URL})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	recorder := doRequest(t, handler, http.MethodGet, "/fields/lead", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected default base to apply, got %d: %s", recorder.Code, recorder.Body.String())
	}
}
