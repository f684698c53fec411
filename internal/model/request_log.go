package model

import (
	"encoding/json"
	"time"
)

// RequestLogRecord 代表一次请求的访问日志记录
// JSON field order is the wire order: requestId, ip, useTime, api, method,
// parameters, responseStatus, response.
type RequestLogRecord struct {
	RequestID      string              `json:"requestId"`
	IP             string              `json:"ip"`
	UseTime        int64               `json:"useTime"` // 耗时 (毫秒)
	API            string              `json:"api"`
	Method         string              `json:"method"`
	Parameters     map[string][]string `json:"parameters"`
	ResponseStatus int                 `json:"responseStatus"`
	Response       string              `json:"response,omitempty"`

	Error     string `json:"error,omitempty"`     // downstream error, if any
	Truncated bool   `json:"truncated,omitempty"` // logged body was cut at the capture limit

	// WriteBody gates Response. Forced off for non-JSON responses.
	WriteBody bool `json:"-"`
}

func NewRequestLogRecord() *RequestLogRecord {
	return &RequestLogRecord{
		Parameters: map[string][]string{},
		WriteBody:  true,
	}
}

// Line renders the record as a single JSON line.
func (r *RequestLogRecord) Line() (string, error) {
	out := *r
	if !out.WriteBody {
		out.Response = ""
		out.Truncated = false
	}
	if out.Parameters == nil {
		out.Parameters = map[string][]string{}
	}
	b, err := json.Marshal(&out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// StoredRequestLog is a record line as kept by the sinks.
type StoredRequestLog struct {
	Category string          `json:"category"`
	Record   json.RawMessage `json:"record"`
	LoggedAt time.Time       `json:"logged_at"`
}
