// Package tokenizer splits raw command text into ordered tokens and raw
// option key/value pairs.
//
// Everything before the first "<separator><option prefix>" (or alias prefix)
// is the token section; everything after it is the option section. Text
// enclosed in the quote string is opaque to both scans.
package tokenizer

import (
	"strings"
	"unicode/utf8"

	apperrors "github.com/msageha/termcmd/internal/errors"
	"github.com/msageha/termcmd/internal/model"
)

// TrueValue is the value recorded for an option given without one.
const TrueValue = "true"

type Tokenizer struct {
	separator      string
	optionPrefix   string
	aliasPrefix    string
	valueSeparator string
	quote          string

	optionStarts []string
}

// New creates a tokenizer. Separator, both prefixes and the value separator
// are required; an empty quote disables quoting.
func New(cfg model.TokenizerConfig) (*Tokenizer, error) {
	if cfg.Separator == "" || cfg.OptionPrefix == "" || cfg.OptionAliasPrefix == "" || cfg.OptionValueSeparator == "" {
		return nil, apperrors.New(apperrors.CodeInvalidConfiguration,
			"the tokenizer separators and prefixes are required. separator=%q option_prefix=%q alias_prefix=%q value_separator=%q",
			cfg.Separator, cfg.OptionPrefix, cfg.OptionAliasPrefix, cfg.OptionValueSeparator)
	}
	return &Tokenizer{
		separator:      cfg.Separator,
		optionPrefix:   cfg.OptionPrefix,
		aliasPrefix:    cfg.OptionAliasPrefix,
		valueSeparator: cfg.OptionValueSeparator,
		quote:          cfg.Quote,
		optionStarts: []string{
			cfg.Separator + cfg.OptionPrefix,
			cfg.Separator + cfg.OptionAliasPrefix,
		},
	}, nil
}

// Tokenize parses raw. Empty or whitespace-only input yields an empty result.
func (t *Tokenizer) Tokenize(raw string) (model.ParsedRequest, error) {
	parsed := model.ParsedRequest{Options: make(map[string]string)}

	text := strings.TrimSpace(raw)
	if text == "" {
		return parsed, nil
	}

	var tokenPart, optionPart string
	if t.isOptionKey(text) {
		optionPart = text
	} else {
		idx, open := t.index(text, t.optionStarts...)
		if open != "" {
			return parsed, unterminated(apperrors.CodeInvalidArgument, open)
		}
		if idx < 0 {
			tokenPart = text
		} else {
			tokenPart = text[:idx]
			optionPart = text[idx+len(t.separator):]
		}
	}

	tokens, err := t.splitTokens(tokenPart)
	if err != nil {
		return parsed, err
	}
	parsed.Tokens = tokens

	if err := t.splitOptions(optionPart, parsed.Options); err != nil {
		return parsed, err
	}
	return parsed, nil
}

func (t *Tokenizer) splitTokens(s string) ([]string, error) {
	var tokens []string
	for s != "" {
		idx, open := t.index(s, t.separator)
		if open != "" {
			return nil, unterminated(apperrors.CodeInvalidArgument, open)
		}
		part := s
		if idx < 0 {
			s = ""
		} else {
			part = s[:idx]
			s = s[idx+len(t.separator):]
		}
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		tokens = append(tokens, t.unquote(part))
	}
	return tokens, nil
}

func (t *Tokenizer) splitOptions(s string, into map[string]string) error {
	for s != "" {
		idx, open := t.index(s, t.optionStarts...)
		if open != "" {
			return unterminated(apperrors.CodeInvalidOption, open)
		}
		segment := s
		if idx < 0 {
			s = ""
		} else {
			segment = s[:idx]
			s = s[idx+len(t.separator):]
		}
		if err := t.addOption(segment, into); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tokenizer) addOption(segment string, into map[string]string) error {
	segment = strings.TrimSpace(segment)
	if segment == "" {
		return nil
	}

	key, value := segment, ""
	idx, open := t.index(segment, t.valueSeparator)
	if open != "" {
		return unterminated(apperrors.CodeInvalidOption, open)
	}
	if idx >= 0 {
		key = strings.TrimSpace(segment[:idx])
		value = strings.TrimSpace(segment[idx+len(t.valueSeparator):])
	}

	if key == t.optionPrefix || key == t.aliasPrefix || !t.isOptionKey(key) {
		return apperrors.New(apperrors.CodeInvalidOption, "the option name is missing. fragment=%s", segment)
	}
	if _, dup := into[key]; dup {
		return apperrors.New(apperrors.CodeInvalidOption, "the option is specified more than once. option=%s", key)
	}

	if value == "" {
		value = TrueValue
	} else {
		value = t.unquote(value)
	}
	into[key] = value
	return nil
}

func (t *Tokenizer) isOptionKey(s string) bool {
	return strings.HasPrefix(s, t.optionPrefix) || strings.HasPrefix(s, t.aliasPrefix)
}

// index returns the byte offset of the first needle in s that is not inside a
// quoted span, or -1. If a quote is opened but never closed, open holds the
// unterminated fragment.
func (t *Tokenizer) index(s string, needles ...string) (idx int, open string) {
	for i := 0; i < len(s); {
		if t.quote != "" && strings.HasPrefix(s[i:], t.quote) {
			rest := s[i+len(t.quote):]
			end := strings.Index(rest, t.quote)
			if end < 0 {
				return -1, s[i:]
			}
			i += len(t.quote) + end + len(t.quote)
			continue
		}
		for _, n := range needles {
			if strings.HasPrefix(s[i:], n) {
				return i, ""
			}
		}
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return -1, ""
}

func (t *Tokenizer) unquote(s string) string {
	q := t.quote
	if q != "" && len(s) >= 2*len(q) && strings.HasPrefix(s, q) && strings.HasSuffix(s, q) {
		return s[len(q) : len(s)-len(q)]
	}
	return s
}

func unterminated(code apperrors.Code, fragment string) error {
	return apperrors.New(code, "the quoted text is not terminated. fragment=%s", fragment)
}
