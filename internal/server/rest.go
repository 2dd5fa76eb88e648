package server

import (
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/coffersTech/logstore/internal/codec"
	"github.com/coffersTech/logstore/internal/ingest"
	"github.com/coffersTech/logstore/internal/model"
	"github.com/gin-gonic/gin"
	"github.com/valyala/fastjson"
	"golang.org/x/crypto/bcrypt"
)

const (
	transportREST = "rest"

	maxBodySize = 8 << 20
)

// RestResponse is the body returned by POST /logs.
type RestResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// handleLogs serves POST /logs. The body is one event object or an array of them:
//
//	{"deviceId": 7, "timeStamp": 1760605201000, "eventType": "ERROR", "eventMessage": "..."}
//
// timeStamp is milliseconds since the Unix epoch. Events are encoded to the wire
// format and run through the same pipeline as gateway traffic.
func (s *Server) handleLogs(c *gin.Context) {
	if !s.authorized(c.Request) {
		c.Header("WWW-Authenticate", `Bearer realm="logstore"`)
		c.JSON(http.StatusUnauthorized, RestResponse{Status: ingest.StatusError, Message: "Unauthorized"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodySize+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, RestResponse{Status: ingest.StatusError, Message: "Failed to read body"})
		return
	}
	if len(body) > maxBodySize {
		c.JSON(http.StatusRequestEntityTooLarge, RestResponse{Status: ingest.StatusError, Message: "Body too large"})
		return
	}

	p := s.parser.Get()
	defer s.parser.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, RestResponse{Status: ingest.StatusError, Message: fmt.Sprintf("Invalid JSON: %v", err)})
		return
	}

	if v.Type() == fastjson.TypeArray {
		s.handleLogBatch(c, v)
		return
	}

	rec, err := parseEvent(v)
	if err != nil {
		s.countAck(transportREST, ingest.NewError(err.Error()))
		c.JSON(http.StatusBadRequest, RestResponse{Status: ingest.StatusError, Message: err.Error()})
		return
	}
	ack := s.pipeline.Handle(c.Request.Context(), codec.Encode(rec))
	s.countAck(transportREST, ack)
	if !ack.OK() {
		c.JSON(http.StatusBadGateway, RestResponse{Status: ingest.StatusError, Message: fmt.Sprint(ack.Payload)})
		return
	}
	c.JSON(http.StatusOK, successResponse(rec.DeviceID))
}

// handleLogBatch processes an array body concurrently and reports one result per element.
func (s *Server) handleLogBatch(c *gin.Context, v *fastjson.Value) {
	items, _ := v.Array()
	results := make([]RestResponse, len(items))

	// Elements that fail validation never reach the pipeline.
	var (
		msgs [][]byte
		idx  []int
		recs []model.LogRecord
	)
	for i, item := range items {
		rec, err := parseEvent(item)
		if err != nil {
			results[i] = RestResponse{Status: ingest.StatusError, Message: err.Error()}
			s.countAck(transportREST, ingest.NewError(err.Error()))
			continue
		}
		msgs = append(msgs, codec.Encode(rec))
		idx = append(idx, i)
		recs = append(recs, rec)
	}

	acks, err := ingest.HandleBatch(c.Request.Context(), s.pipeline, msgs, s.batchLimit)
	for j, ack := range acks {
		s.countAck(transportREST, ack)
		if ack.OK() {
			results[idx[j]] = successResponse(recs[j].DeviceID)
		} else {
			results[idx[j]] = RestResponse{Status: ingest.StatusError, Message: fmt.Sprint(ack.Payload)}
		}
	}

	status := http.StatusOK
	if err != nil || len(msgs) < len(items) {
		status = http.StatusMultiStatus
	}
	c.JSON(status, results)
}

func successResponse(deviceID int32) RestResponse {
	return RestResponse{
		Status:  ingest.StatusSuccess,
		Message: fmt.Sprintf("Message from device:%d successfully processed", deviceID),
	}
}

// parseEvent validates one REST event object.
func parseEvent(v *fastjson.Value) (model.LogRecord, error) {
	if v.Type() != fastjson.TypeObject {
		return model.LogRecord{}, errors.New("event must be a JSON object")
	}

	idVal := v.Get("deviceId")
	if idVal == nil {
		return model.LogRecord{}, errors.New("deviceId is required")
	}
	id, err := idVal.Int64()
	if err != nil || id < math.MinInt32 || id > math.MaxInt32 {
		return model.LogRecord{}, errors.New("deviceId must be a 32-bit integer")
	}

	tsVal := v.Get("timeStamp")
	if tsVal == nil {
		return model.LogRecord{}, errors.New("timeStamp is required")
	}
	ms, err := tsVal.Int64()
	if err != nil {
		return model.LogRecord{}, errors.New("timeStamp must be milliseconds since the epoch")
	}
	if ms < codec.MinSeconds*1000 || ms > codec.MaxSeconds*1000+999 {
		return model.LogRecord{}, errors.New("timeStamp must fall within years 1 to 9999")
	}

	eventType := model.EventInformation
	if tv := v.Get("eventType"); tv != nil {
		switch tv.Type() {
		case fastjson.TypeString:
			eventType, err = model.ParseEventType(strings.ToUpper(string(tv.GetStringBytes())))
			if err != nil {
				return model.LogRecord{}, err
			}
		case fastjson.TypeNumber:
			n, err := tv.Int()
			if err != nil || n < math.MinInt32 || n > math.MaxInt32 {
				return model.LogRecord{}, errors.New("eventType must be a name or a 32-bit integer")
			}
			eventType = model.EventType(n)
		default:
			return model.LogRecord{}, errors.New("eventType must be a name or a number")
		}
	}

	var msg string
	if mv := v.Get("eventMessage"); mv != nil {
		b, err := mv.StringBytes()
		if err != nil {
			return model.LogRecord{}, errors.New("eventMessage must be a string")
		}
		if !utf8.Valid(b) {
			return model.LogRecord{}, errors.New("eventMessage must be valid UTF-8")
		}
		msg = string(b)
	}

	return model.LogRecord{
		DeviceID:     int32(id),
		Timestamp:    time.UnixMilli(ms).UTC(),
		EventType:    eventType,
		EventMessage: msg,
	}, nil
}

// authorized checks the bearer token against the configured bcrypt hash.
func (s *Server) authorized(r *http.Request) bool {
	if s.tokenHash == nil {
		return true
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(s.tokenHash, []byte(token)) == nil
}
