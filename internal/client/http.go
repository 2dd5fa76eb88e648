package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coffersTech/logstore/internal/model"
)

// Response is the body of a POST /logs reply.
type Response struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// event is the REST representation of a record; timeStamp is epoch milliseconds.
type event struct {
	DeviceID     int32           `json:"deviceId"`
	TimeStamp    int64           `json:"timeStamp"`
	EventType    model.EventType `json:"eventType"`
	EventMessage string          `json:"eventMessage"`
}

// HTTPClient posts events to the REST endpoint.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewHTTPClient creates a client for the server at baseURL, e.g. http://localhost:8080.
// token may be empty.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

// Post sends one event.
func (c *HTTPClient) Post(ctx context.Context, rec model.LogRecord) (Response, error) {
	var resp Response
	data, err := json.Marshal(event{
		DeviceID:     rec.DeviceID,
		TimeStamp:    rec.Timestamp.UnixMilli(),
		EventType:    rec.EventType,
		EventMessage: rec.EventMessage,
	})
	if err != nil {
		return resp, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/logs", bytes.NewReader(data))
	if err != nil {
		return resp, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	httpResp, err := c.http.Do(req)
	if err != nil {
		return resp, err
	}
	defer httpResp.Body.Close()

	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return resp, fmt.Errorf("decode response: HTTP %d: %w", httpResp.StatusCode, err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return resp, fmt.Errorf("send failed: HTTP %d: %s", httpResp.StatusCode, resp.Message)
	}
	return resp, nil
}
