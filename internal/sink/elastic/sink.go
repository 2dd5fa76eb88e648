// Package elastic stores log records in an Elasticsearch index.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/coffersTech/logstore/internal/model"
	elasticsearch "github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/sirupsen/logrus"
)

// indexMapping keeps timeStamp sortable and eventType exact-match.
const indexMapping = `{
  "mappings": {
    "properties": {
      "deviceId":     {"type": "integer"},
      "timeStamp":    {"type": "date"},
      "eventType":    {"type": "keyword"},
      "eventMessage": {"type": "text"}
    }
  }
}`

// Config holds the connection settings for the cluster.
type Config struct {
	Addresses []string
	Username  string
	Password  string
	// Transport overrides the HTTP transport, mainly for tests.
	Transport http.RoundTripper
}

// Sink implements ingest.Sink on top of the official Go client.
type Sink struct {
	client *elasticsearch.Client
	logger logrus.FieldLogger
}

// New creates a Sink. No request is made until the first call.
func New(cfg Config, logger logrus.FieldLogger) (*Sink, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	return &Sink{client: client, logger: logger.WithField("component", "elastic")}, nil
}

// IndexExists reports whether index exists.
func (s *Sink) IndexExists(ctx context.Context, index string) (bool, error) {
	res, err := s.client.Indices.Exists([]string{index}, s.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return false, err
	}
	defer drain(res)

	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, responseError("check index", res)
	}
}

// CreateIndex creates index with the record mapping.
func (s *Sink) CreateIndex(ctx context.Context, index string) error {
	res, err := s.client.Indices.Create(index,
		s.client.Indices.Create.WithContext(ctx),
		s.client.Indices.Create.WithBody(strings.NewReader(indexMapping)),
	)
	if err != nil {
		return err
	}
	defer drain(res)
	if res.IsError() {
		return responseError("create index", res)
	}
	s.logger.WithField("index", index).Info("Created index")
	return nil
}

// Store indexes rec as a new document.
func (s *Sink) Store(ctx context.Context, index string, rec model.LogRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	res, err := s.client.Index(index, bytes.NewReader(body), s.client.Index.WithContext(ctx))
	if err != nil {
		return err
	}
	defer drain(res)
	if res.IsError() {
		return responseError("index document", res)
	}
	return nil
}

func responseError(op string, res *esapi.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
	return fmt.Errorf("%s: %s: %s", op, res.Status(), bytes.TrimSpace(msg))
}

func drain(res *esapi.Response) {
	io.Copy(io.Discard, res.Body)
	res.Body.Close()
}
