package tools

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/solarlytics/analyst/internal/models"
)

func TestClientCallShapesRequest(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &gotBody)
		w.Write([]byte(`{"status":"ok","payload":{"anomalies":[]}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	resp, err := c.InverterHealth(context.Background(), "925", 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotPath != "/tools/"+models.OpInverterHealth {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotBody["logger_id"] != "925" || gotBody["days"] != float64(7) {
		t.Errorf("unexpected params: %v", gotBody)
	}
	if !resp.Status.Succeeded() {
		t.Errorf("expected ok status, got %s", resp.Status)
	}
}

func TestClientDecodesEnvelopeStatuses(t *testing.T) {
	cases := []struct {
		body string
		want models.DataStatus
	}{
		{`{"status":"success","payload":{}}`, models.DataStatusSuccess},
		{`{"status":"no_data"}`, models.DataStatusNoData},
		{`{"status":"no_data_in_window","availableRange":{"start":"2026-05-01","end":"2026-08-10"}}`, models.DataStatusNoDataInWindow},
		{`{"status":"error","message":"boom"}`, models.DataStatusError},
	}
	for _, tc := range cases {
		body, want := tc.body, tc.want
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(body))
		}))
		c := NewClient(srv.URL)
		resp, err := c.FleetOverview(context.Background())
		srv.Close()
		if err != nil {
			t.Fatalf("body %s: unexpected error: %v", body, err)
		}
		if resp.Status != want {
			t.Errorf("body %s: expected status %s, got %s", body, want, resp.Status)
		}
	}
}

func TestClientWrapsBarePayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"loggers":[]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	resp, err := c.ListLoggers(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Status != models.DataStatusOK {
		t.Errorf("bare payload must default to ok, got %s", resp.Status)
	}
	if string(resp.Payload) != `{"loggers":[]}` {
		t.Errorf("unexpected payload: %s", resp.Payload)
	}
}

func TestClientUnwrapsStringifiedJSONPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok","payload":"{\"count\":2}"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	resp, err := c.FleetOverview(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(resp.Payload) != `{"count":2}` {
		t.Errorf("stringified JSON must be unwrapped, got %s", resp.Payload)
	}
}

func TestClientKeepsPlainStringPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok","payload":"all systems nominal"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	resp, err := c.FleetOverview(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(resp.Payload) != `"all systems nominal"` {
		t.Errorf("plain string payload must stay quoted, got %s", resp.Payload)
	}
}

func TestClientHTTPErrorBecomesErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	resp, err := c.FleetOverview(context.Background())
	if err != nil {
		t.Fatalf("HTTP failure must map to a status, not an error: %v", err)
	}
	if resp.Status != models.DataStatusError {
		t.Errorf("expected error status, got %s", resp.Status)
	}
}

func TestClientTransportErrorReturnsError(t *testing.T) {
	c := NewClient("http://127.0.0.1:1")
	if _, err := c.FleetOverview(context.Background()); err == nil {
		t.Error("expected a transport error")
	}
}

func TestDecodeLoggerList(t *testing.T) {
	envelope := models.ToolResponse{
		Status:  models.DataStatusOK,
		Payload: []byte(`{"count":2,"loggers":[{"loggerId":"925","loggerType":"GoodWe"},{"loggerId":"926","loggerType":"SMA"}]}`),
	}
	loggers, err := DecodeLoggerList(envelope)
	if err != nil || len(loggers) != 2 || loggers[0].LoggerID != "925" {
		t.Errorf("envelope decode failed: %v, %v", loggers, err)
	}

	bare := models.ToolResponse{
		Status:  models.DataStatusOK,
		Payload: []byte(`[{"loggerId":"930"}]`),
	}
	loggers, err = DecodeLoggerList(bare)
	if err != nil || len(loggers) != 1 || loggers[0].LoggerID != "930" {
		t.Errorf("bare array decode failed: %v, %v", loggers, err)
	}

	if _, err := DecodeLoggerList(models.ToolResponse{Status: models.DataStatusNoData}); err == nil {
		t.Error("failed status must not decode")
	}

	loggers, err = DecodeLoggerList(models.ToolResponse{Status: models.DataStatusOK})
	if err != nil || loggers != nil {
		t.Errorf("empty payload must decode to nil, got %v, %v", loggers, err)
	}
}

func TestAnchorDate(t *testing.T) {
	loggers := []models.LoggerInfo{
		{LoggerID: "925", LatestData: "2026-08-10T23:55:00"},
		{LoggerID: "926", LatestData: "2026-08-12T10:00:00"},
		{LoggerID: "930", LatestData: "2026-08-11"},
	}
	if got := AnchorDate(loggers); got != "2026-08-12" {
		t.Errorf("expected 2026-08-12, got %q", got)
	}
	if got := AnchorDate(nil); got != "" {
		t.Errorf("empty catalog must anchor to nothing, got %q", got)
	}
}
