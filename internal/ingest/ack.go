package ingest

import "github.com/coffersTech/logstore/internal/model"

// Ack statuses.
const (
	StatusSuccess = "SUCCESS"
	StatusError   = "ERROR"
)

// PayloadTypeUTF8 is the only payload type acks carry.
const PayloadTypeUTF8 = "UTF-8"

// Ack is the response sent to the producer for every inbound message.
// Payload is the decoded record on success and an error string otherwise.
type Ack struct {
	Status      string `json:"status"`
	PayloadType string `json:"payloadType"`
	Payload     any    `json:"payload"`
}

// NewSuccess acknowledges rec.
func NewSuccess(rec model.LogRecord) Ack {
	return Ack{Status: StatusSuccess, PayloadType: PayloadTypeUTF8, Payload: rec}
}

// NewError reports a failure to the producer.
func NewError(msg string) Ack {
	return Ack{Status: StatusError, PayloadType: PayloadTypeUTF8, Payload: msg}
}

// OK reports whether the ack is a success.
func (a Ack) OK() bool { return a.Status == StatusSuccess }
