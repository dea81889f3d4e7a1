package model

import (
	"fmt"
	"time"

	apperrors "github.com/msageha/termcmd/internal/errors"
)

// Sender identifies where a raw command came from. Both fields are optional.
type Sender struct {
	ID       string `json:"sender_id,omitempty" yaml:"sender_id,omitempty"`
	Endpoint string `json:"sender_endpoint,omitempty" yaml:"sender_endpoint,omitempty"`
}

// Request is a single raw command. It is immutable once created.
type Request struct {
	ID             string `json:"id" yaml:"id"`
	Raw            string `json:"raw" yaml:"raw"`
	BatchID        string `json:"batch_id,omitempty" yaml:"batch_id,omitempty"`
	SenderID       string `json:"sender_id,omitempty" yaml:"sender_id,omitempty"`
	SenderEndpoint string `json:"sender_endpoint,omitempty" yaml:"sender_endpoint,omitempty"`
}

// Equal compares requests by id.
func (r Request) Equal(other Request) bool {
	return r.ID == other.ID
}

// Result is the outcome of routing one request.
type Result struct {
	RequestID string        `json:"request_id"`
	Value     any           `json:"value,omitempty"`
	Err       error         `json:"-"`
	ErrorCode string        `json:"error_code,omitempty"`
	Error     string        `json:"error,omitempty"`
	Elapsed   time.Duration `json:"elapsed_ns"`
}

// NewResult builds a result slot, copying the error code and message into
// their serializable fields.
func NewResult(requestID string, value any, err error, elapsed time.Duration) *Result {
	res := &Result{
		RequestID: requestID,
		Value:     value,
		Err:       err,
		Elapsed:   elapsed,
	}
	if err != nil {
		res.ErrorCode = string(apperrors.GetCode(err))
		res.Error = err.Error()
	}
	return res
}

// Failed reports whether routing produced an error.
func (r *Result) Failed() bool {
	return r != nil && (r.Err != nil || r.ErrorCode != "")
}

// Envelope groups the requests of one submission with their results.
// Results[i] is nil until Requests[i] has been routed.
type Envelope struct {
	Requests       []Request `json:"requests"`
	Results        []*Result `json:"results"`
	BatchID        string    `json:"batch_id,omitempty"`
	SenderID       string    `json:"sender_id,omitempty"`
	SenderEndpoint string    `json:"sender_endpoint,omitempty"`
}

// NewEnvelope creates an envelope with an empty result slot per request and
// validates it.
func NewEnvelope(batchID string, sender Sender, requests ...Request) (*Envelope, error) {
	env := &Envelope{
		Requests:       requests,
		Results:        make([]*Result, len(requests)),
		BatchID:        batchID,
		SenderID:       sender.ID,
		SenderEndpoint: sender.Endpoint,
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}

// Validate checks the envelope invariants.
func (e *Envelope) Validate() error {
	if len(e.Requests) != len(e.Results) {
		return apperrors.New(apperrors.CodeInvalidRequest,
			"the envelope requests and results are out of sync. requests=%d results=%d", len(e.Requests), len(e.Results))
	}
	if len(e.Requests) == 0 {
		return apperrors.New(apperrors.CodeInvalidRequest, "the envelope does not contain any requests")
	}
	if len(e.Requests) > 1 && e.BatchID == "" {
		return apperrors.New(apperrors.CodeInvalidRequest,
			"the batch id is required for an envelope with multiple requests. count=%d", len(e.Requests))
	}
	return nil
}

// Len returns the number of requests.
func (e *Envelope) Len() int {
	return len(e.Requests)
}

// Complete reports whether every request has a result.
func (e *Envelope) Complete() bool {
	for _, r := range e.Results {
		if r == nil {
			return false
		}
	}
	return true
}

// Sender returns the sender the envelope was submitted by.
func (e *Envelope) Sender() Sender {
	return Sender{ID: e.SenderID, Endpoint: e.SenderEndpoint}
}

// Receipt reports the ids assigned when an envelope is accepted.
func (e *Envelope) Receipt() Receipt {
	ids := make([]string, len(e.Requests))
	for i, r := range e.Requests {
		ids[i] = r.ID
	}
	return Receipt{BatchID: e.BatchID, RequestIDs: ids}
}

func (e *Envelope) String() string {
	if e.BatchID != "" {
		return fmt.Sprintf("batch=%s requests=%d", e.BatchID, len(e.Requests))
	}
	if len(e.Requests) == 1 {
		return fmt.Sprintf("request=%s", e.Requests[0].ID)
	}
	return fmt.Sprintf("requests=%d", len(e.Requests))
}

// Receipt is returned to callers that enqueue work.
type Receipt struct {
	BatchID    string   `json:"batch_id,omitempty"`
	RequestIDs []string `json:"request_ids"`
}
