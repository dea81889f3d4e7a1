// Package queue turns raw command text into envelopes and routes them, either
// through a FIFO dispatch loop or directly on the caller's goroutine.
package queue

import (
	"strings"

	apperrors "github.com/msageha/termcmd/internal/errors"
	"github.com/msageha/termcmd/internal/model"
	"github.com/msageha/termcmd/internal/text"
)

// Splitter validates raw text and splits it into an envelope of requests.
type Splitter struct {
	maxLength        int
	batchEnabled     bool
	batchDelimiter   string
	commandDelimiter string
	text             *text.Handler
	newID            func(hint string) (string, error)
}

func NewSplitter(cfg model.ProcessorConfig, h *text.Handler) *Splitter {
	if h == nil {
		h = text.Default()
	}
	return &Splitter{
		maxLength:        cfg.MaxRawLength,
		batchEnabled:     cfg.BatchEnabled,
		batchDelimiter:   cfg.BatchDelimiter,
		commandDelimiter: cfg.CommandDelimiter,
		text:             h,
		newID:            model.GenerateID,
	}
}

// Split builds an envelope from raw. With batching enabled raw must end with
// exactly one batch delimiter; the body is split on the command delimiter and
// empty segments are dropped. With batching disabled raw is one request.
func (s *Splitter) Split(raw string, sender model.Sender) (*model.Envelope, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, apperrors.New(apperrors.CodeInvalidRequest, "the request is empty")
	}
	if n := s.text.Length(raw); s.maxLength > 0 && n > s.maxLength {
		return nil, apperrors.New(apperrors.CodeInvalidConfiguration,
			"the request exceeds the maximum length. length=%d max=%d", n, s.maxLength)
	}

	if !s.batchEnabled {
		req, err := s.request(raw, "", sender)
		if err != nil {
			return nil, err
		}
		return model.NewEnvelope("", sender, req)
	}

	commands, err := s.commands(raw)
	if err != nil {
		return nil, err
	}

	batchID := ""
	if len(commands) > 1 {
		if batchID, err = s.newID(model.IDHintBatch); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeServerError, err, "generate batch id")
		}
	}
	requests := make([]model.Request, 0, len(commands))
	for _, c := range commands {
		req, err := s.request(c, batchID, sender)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	return model.NewEnvelope(batchID, sender, requests...)
}

func (s *Splitter) commands(raw string) ([]string, error) {
	body := strings.TrimSpace(raw)
	if strings.Count(body, s.batchDelimiter) != 1 || !strings.HasSuffix(body, s.batchDelimiter) {
		return nil, apperrors.New(apperrors.CodeInvalidRequest,
			"the batch delimiter must appear once at the end, not missing or placed elsewhere. delimiter=%s", s.batchDelimiter)
	}
	body = strings.TrimSuffix(body, s.batchDelimiter)

	var commands []string
	for _, part := range splitAny(body, s.commandDelimiter, s.batchDelimiter) {
		if part = strings.TrimSpace(part); part != "" {
			commands = append(commands, part)
		}
	}
	if len(commands) == 0 {
		return nil, apperrors.New(apperrors.CodeInvalidRequest, "the batch does not contain any commands")
	}
	return commands, nil
}

func (s *Splitter) request(raw, batchID string, sender model.Sender) (model.Request, error) {
	id, err := s.newID(model.IDHintRequest)
	if err != nil {
		return model.Request{}, apperrors.Wrap(apperrors.CodeServerError, err, "generate request id")
	}
	return model.Request{
		ID:             id,
		Raw:            raw,
		BatchID:        batchID,
		SenderID:       sender.ID,
		SenderEndpoint: sender.Endpoint,
	}, nil
}

// splitAny splits s at every occurrence of any non-empty separator.
func splitAny(s string, seps ...string) []string {
	var parts []string
	for {
		idx, width := -1, 0
		for _, sep := range seps {
			if sep == "" {
				continue
			}
			if i := strings.Index(s, sep); i >= 0 && (idx < 0 || i < idx) {
				idx, width = i, len(sep)
			}
		}
		if idx < 0 {
			return append(parts, s)
		}
		parts = append(parts, s[:idx])
		s = s[idx+width:]
	}
}
