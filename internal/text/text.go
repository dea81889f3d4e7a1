// Package text implements the encoding and comparison rules applied to raw
// command text.
package text

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"

	apperrors "github.com/msageha/termcmd/internal/errors"
	"github.com/msageha/termcmd/internal/model"
)

// Handler decodes and encodes bytes with the configured encoding and compares
// identifiers under the configured case rule. A Handler is safe for
// concurrent use.
type Handler struct {
	name          string
	enc           encoding.Encoding
	caseSensitive bool
}

// NewHandler creates a Handler from config. The encoding name is looked up in
// the IANA index; an empty name means UTF-8.
func NewHandler(cfg model.TextConfig) (*Handler, error) {
	enc, name, err := lookupEncoding(cfg.Encoding)
	if err != nil {
		return nil, err
	}
	return &Handler{name: name, enc: enc, caseSensitive: cfg.CaseSensitive}, nil
}

// Default returns a case-sensitive UTF-8 handler.
func Default() *Handler {
	return &Handler{name: "UTF-8", enc: unicode.UTF8, caseSensitive: true}
}

func lookupEncoding(name string) (encoding.Encoding, string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return unicode.UTF8, "UTF-8", nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, "", apperrors.Wrap(apperrors.CodeInvalidConfiguration, err, "the text encoding is not supported. encoding=%s", name)
	}
	if enc == nil {
		return nil, "", apperrors.New(apperrors.CodeInvalidConfiguration, "the text encoding is not supported. encoding=%s", name)
	}
	canonical, err := ianaindex.IANA.Name(enc)
	if err != nil {
		canonical = name
	}
	return enc, canonical, nil
}

// Encoding returns the canonical encoding name.
func (h *Handler) Encoding() string {
	return h.name
}

// CaseSensitive reports whether comparisons are case-sensitive.
func (h *Handler) CaseSensitive() bool {
	return h.caseSensitive
}

// Decode converts bytes in the configured encoding to a string.
func (h *Handler) Decode(b []byte) (string, error) {
	if h.enc == unicode.UTF8 {
		if !utf8.Valid(b) {
			return "", apperrors.New(apperrors.CodeInvalidRequest, "the input is not valid %s", h.name)
		}
		return string(b), nil
	}
	out, err := h.enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeInvalidRequest, err, "decode %s", h.name)
	}
	return string(out), nil
}

// Encode converts a string to bytes in the configured encoding.
func (h *Handler) Encode(s string) ([]byte, error) {
	if h.enc == unicode.UTF8 {
		return []byte(s), nil
	}
	out, err := h.enc.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", h.name, err)
	}
	return out, nil
}

// Equal compares two identifiers under the case rule.
func (h *Handler) Equal(a, b string) bool {
	if h.caseSensitive {
		return a == b
	}
	return h.Key(a) == h.Key(b)
}

// Key normalizes an identifier for use as a map key. Case-insensitive handlers
// apply Unicode case folding.
func (h *Handler) Key(s string) string {
	if h.caseSensitive {
		return s
	}
	// Casers are stateful, so each call gets its own.
	return cases.Fold().String(s)
}

// Length returns the length of s in characters.
func (h *Handler) Length(s string) int {
	return utf8.RuneCountInString(s)
}
