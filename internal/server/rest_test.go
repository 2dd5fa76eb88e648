package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/coffersTech/logstore/internal/engine"
	"github.com/coffersTech/logstore/internal/ingest"
	"github.com/coffersTech/logstore/internal/metrics"
	"github.com/coffersTech/logstore/internal/model"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func postLogs(t *testing.T, h *harness, body, token string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, h.http.URL+"/logs", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var raw json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	return resp, raw
}

func TestREST_SingleEvent(t *testing.T) {
	h := newHarness(t, nil)

	// 2026-10-16T09:00:01.500Z
	resp, body := postLogs(t, h, `{"deviceId": 9, "timeStamp": 1792141201500, "eventType": "ERROR", "eventMessage": "door open"}`, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out RestResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, RestResponse{Status: "SUCCESS", Message: "Message from device:9 successfully processed"}, out)

	h.flush(t)
	got, err := h.store.Read(engine.KeyFor(now))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int32(9), got[0].DeviceID)
	assert.Equal(t, model.EventError, got[0].EventType)
	assert.Equal(t, "2026-10-16T09:00:01.500Z", got[0].Timestamp.Format(model.TimestampLayout))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.AcksTotal.WithLabelValues(transportREST, metrics.StatusSuccess)))
}

func TestREST_InvalidEvents(t *testing.T) {
	h := newHarness(t, nil)
	cases := map[string]string{
		"not json":          `{"deviceId":`,
		"missing device":    `{"timeStamp": 1}`,
		"device too large":  `{"deviceId": 4294967296, "timeStamp": 1}`,
		"missing timestamp": `{"deviceId": 1}`,
		"string timestamp":  `{"deviceId": 1, "timeStamp": "yesterday"}`,
		"year 10000":        `{"deviceId": 1, "timeStamp": 253402300800000}`,
		"before year 1":     `{"deviceId": 1, "timeStamp": -62135596800001}`,
		"unknown type name": `{"deviceId": 1, "timeStamp": 1, "eventType": "FATAL"}`,
		"numeric message":   `{"deviceId": 1, "timeStamp": 1, "eventMessage": 5}`,
		"scalar body":       `42`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			resp, raw := postLogs(t, h, body, "")
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			var out RestResponse
			require.NoError(t, json.Unmarshal(raw, &out))
			assert.Equal(t, "ERROR", out.Status)
		})
	}
	assert.Zero(t, h.engine.GetStats().Buffered)
}

func TestREST_NumericAndLowercaseEventTypes(t *testing.T) {
	h := newHarness(t, nil)
	resp, _ := postLogs(t, h, `{"deviceId": 1, "timeStamp": 1792141201000, "eventType": "warning"}`, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = postLogs(t, h, `{"deviceId": 1, "timeStamp": 1792141202000, "eventType": 9}`, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, map[string]int{"WARNING": 1, "9": 1}, h.engine.GetStats().EventTypes)
}

func TestREST_Batch(t *testing.T) {
	h := newHarness(t, nil)
	body := `[
		{"deviceId": 1, "timeStamp": 1792141203000, "eventType": "INFORMATION"},
		{"deviceId": 2},
		{"deviceId": 3, "timeStamp": 1792141201000, "eventType": "WARNING"}
	]`
	resp, raw := postLogs(t, h, body, "")
	assert.Equal(t, http.StatusMultiStatus, resp.StatusCode)

	var out []RestResponse
	require.NoError(t, json.Unmarshal(raw, &out))
	require.Len(t, out, 3)
	assert.Equal(t, "SUCCESS", out[0].Status)
	assert.Equal(t, "ERROR", out[1].Status)
	assert.Equal(t, "timeStamp is required", out[1].Message)
	assert.Equal(t, "Message from device:3 successfully processed", out[2].Message)

	h.flush(t)
	got, err := h.store.Read(engine.KeyFor(now))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int32(3), got[0].DeviceID)
	assert.Equal(t, int32(1), got[1].DeviceID)
}

func TestREST_BatchAllValid(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.BatchLimit = 1 })
	resp, _ := postLogs(t, h, `[{"deviceId": 1, "timeStamp": 1}, {"deviceId": 2, "timeStamp": 2}]`, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestREST_BearerToken(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	h := newHarness(t, func(o *Options) { o.IngestTokenHash = string(hash) })
	body := `{"deviceId": 1, "timeStamp": 1792141201000}`

	resp, _ := postLogs(t, h, body, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = postLogs(t, h, body, "wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = postLogs(t, h, body, "s3cret")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

type failingSink struct{}

func (failingSink) Store(context.Context, string, model.LogRecord) error {
	return errors.New("cluster red")
}
func (failingSink) IndexExists(context.Context, string) (bool, error) { return true, nil }
func (failingSink) CreateIndex(context.Context, string) error         { return nil }

func TestREST_SinkFailure(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		logger, _ := test.NewNullLogger()
		o.Pipeline = ingest.NewIndexPipeline(failingSink{}, "logs", logger, o.Metrics)
		o.Stats = nil
	})

	resp, raw := postLogs(t, h, `{"deviceId": 1, "timeStamp": 1792141201000}`, "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	var out RestResponse
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Contains(t, out.Message, "cluster red")

	statsResp, err := http.Get(h.http.URL + "/api/stats")
	require.NoError(t, err)
	defer statsResp.Body.Close()
	var stats map[string]any
	require.NoError(t, json.NewDecoder(statsResp.Body).Decode(&stats))
	assert.Equal(t, "index", stats["mode"])
}
