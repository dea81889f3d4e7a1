// Package uds is the unix-socket transport between the termcmd CLI and the
// daemon. Every message is one length-prefixed JSON frame.
package uds

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	apperrors "github.com/msageha/termcmd/internal/errors"
	"github.com/msageha/termcmd/internal/model"
)

const ProtocolVersion = 1

// MaxFrameSize caps a single frame payload.
const MaxFrameSize = 10 * 1024 * 1024

// DefaultSocketName is the socket filename inside .termcmd/.
const DefaultSocketName = "daemon.sock"

// Commands served by the daemon.
const (
	CmdPing     = "ping"
	CmdEnqueue  = "enqueue"
	CmdProcess  = "process"
	CmdFeed     = "feed"
	CmdSnapshot = "snapshot"
	CmdCollect  = "collect"
	CmdReload   = "reload"
	CmdShutdown = "shutdown"
)

// Request is one client call. SenderID names the terminal the client acts
// for; commands whose params omit a sender fall back to it.
type Request struct {
	ProtocolVersion int             `json:"protocol_version"`
	Command         string          `json:"command"`
	SenderID        string          `json:"sender_id,omitempty"`
	Params          json.RawMessage `json:"params,omitempty"`
}

type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *ErrorDetail    `json:"error,omitempty"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Transport-level error codes. Processing failures carry the
// internal/errors code instead.
const (
	ErrCodeProtocolMismatch = "PROTOCOL_MISMATCH"
	ErrCodeUnknownCommand   = "UNKNOWN_COMMAND"
	ErrCodeInternal         = "INTERNAL_ERROR"
	ErrCodeBadParams        = "BAD_PARAMS"
)

// SubmitParams is used by enqueue and process.
type SubmitParams struct {
	Raw            string `json:"raw"`
	SenderID       string `json:"sender_id,omitempty"`
	SenderEndpoint string `json:"sender_endpoint,omitempty"`
}

func (p SubmitParams) Sender() model.Sender {
	return model.Sender{ID: p.SenderID, Endpoint: p.SenderEndpoint}
}

// FeedParams carries one chunk of a sender's byte stream. Data is base64 in
// JSON.
type FeedParams struct {
	SenderID       string `json:"sender_id"`
	SenderEndpoint string `json:"sender_endpoint,omitempty"`
	Data           []byte `json:"data"`
}

type CollectParams struct {
	SenderID string `json:"sender_id,omitempty"`
	Max      int    `json:"max,omitempty"`
}

type PingResult struct {
	Version     string       `json:"version"`
	State       string       `json:"state"`
	Pending     int          `json:"pending"`
	Descriptors int          `json:"descriptors"`
	Senders     []SenderInfo `json:"senders,omitempty"`
}

// SenderInfo is the server's view of one sender's recent calls.
type SenderInfo struct {
	ID          string    `json:"id"`
	Requests    int       `json:"requests"`
	Failures    int       `json:"failures"`
	LastCommand string    `json:"last_command"`
	LastSeen    time.Time `json:"last_seen"`
}

// FeedResult lists the batches a chunk completed. Errors holds the messages
// of frames that were rejected.
type FeedResult struct {
	Receipts []model.Receipt `json:"receipts,omitempty"`
	Buffered int             `json:"buffered"`
	Errors   []string        `json:"errors,omitempty"`
}

type SnapshotResult struct {
	Requests []model.Request `json:"requests"`
}

type ReloadResult struct {
	Descriptors int `json:"descriptors"`
}

type CollectResult struct {
	Envelopes []*model.Envelope `json:"envelopes"`
	Remaining int               `json:"remaining"`
}

func NewRequest(command string, params any) (*Request, error) {
	req := &Request{
		ProtocolVersion: ProtocolVersion,
		Command:         command,
	}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = data
	}
	return req, nil
}

// DecodeParams unmarshals the request params into v.
func (r *Request) DecodeParams(v any) error {
	if len(r.Params) == 0 {
		return apperrors.New(apperrors.CodeInvalidRequest, "the %s command requires params", r.Command)
	}
	if err := json.Unmarshal(r.Params, v); err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidRequest, err, "decode %s params", r.Command)
	}
	return nil
}

func SuccessResponse(data any) *Response {
	resp := &Response{Success: true}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return ErrorResponse(ErrCodeInternal, fmt.Sprintf("marshal response: %v", err))
		}
		resp.Data = raw
	}
	return resp
}

func ErrorResponse(code, message string) *Response {
	return &Response{
		Success: false,
		Error: &ErrorDetail{
			Code:    code,
			Message: message,
		},
	}
}

// ErrorFromErr turns an error into a response, keeping the internal/errors
// code when there is one.
func ErrorFromErr(err error) *Response {
	code := apperrors.GetCode(err)
	if code == apperrors.CodeUnknown {
		return ErrorResponse(ErrCodeInternal, err.Error())
	}
	return ErrorResponse(string(code), strings.TrimPrefix(err.Error(), string(code)+": "))
}

// Err rebuilds the error carried by a failed response, or returns nil.
func (r *Response) Err() error {
	if r.Success {
		return nil
	}
	if r.Error == nil {
		return apperrors.New(apperrors.CodeUnknown, "the daemon returned an error without details")
	}
	return apperrors.New(apperrors.Code(r.Error.Code), "%s", r.Error.Message)
}

// Decode unmarshals the response data into v, or returns the response error.
func (r *Response) Decode(v any) error {
	if err := r.Err(); err != nil {
		return err
	}
	if v == nil || len(r.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("unmarshal response data: %w", err)
	}
	return nil
}

// WriteFrame writes [4-byte BigEndian length][JSON payload].
func WriteFrame(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if len(data) > MaxFrameSize {
		return fmt.Errorf("frame too large: %d bytes", len(data))
	}

	if err := binary.Write(w, binary.BigEndian, uint32(len(data))); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one frame written by WriteFrame into v.
func ReadFrame(r io.Reader, v any) error {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return fmt.Errorf("read frame length: %w", err)
	}
	if length > MaxFrameSize {
		return fmt.Errorf("frame too large: %d bytes", length)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return fmt.Errorf("read frame payload: %w", err)
	}
	if err := json.Unmarshal(buf, v); err != nil {
		return fmt.Errorf("unmarshal frame: %w", err)
	}
	return nil
}
