// Package model defines termcmd's requests, envelopes, command descriptors and configuration.
package model

import (
	"time"

	apperrors "github.com/msageha/termcmd/internal/errors"
)

type Config struct {
	Processor ProcessorConfig `yaml:"processor" toml:"processor"`
	Tokenizer TokenizerConfig `yaml:"tokenizer" toml:"tokenizer"`
	Text      TextConfig      `yaml:"text" toml:"text"`
	Stream    StreamConfig    `yaml:"stream" toml:"stream"`
	Commands  CommandsConfig  `yaml:"commands" toml:"commands"`
	Daemon    DaemonConfig    `yaml:"daemon" toml:"daemon"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

type ProcessorConfig struct {
	MaxRawLength     int    `yaml:"max_raw_length" toml:"max_raw_length" env:"TERMCMD_MAX_RAW_LENGTH"`
	BatchEnabled     bool   `yaml:"batch_enabled" toml:"batch_enabled" env:"TERMCMD_BATCH_ENABLED"`
	BatchDelimiter   string `yaml:"batch_delimiter" toml:"batch_delimiter" env:"TERMCMD_BATCH_DELIMITER"`
	CommandDelimiter string `yaml:"command_delimiter" toml:"command_delimiter" env:"TERMCMD_COMMAND_DELIMITER"`
	RouteTimeoutMs   int    `yaml:"route_timeout_ms" toml:"route_timeout_ms" env:"TERMCMD_ROUTE_TIMEOUT_MS"`
	ResponseEnabled  bool   `yaml:"response_enabled" toml:"response_enabled" env:"TERMCMD_RESPONSE_ENABLED"`
	ResponseOrder    string `yaml:"response_order" toml:"response_order" env:"TERMCMD_RESPONSE_ORDER"` // "lifo" (default) or "fifo"
}

// RouteTimeout returns the per-request route timeout.
func (c ProcessorConfig) RouteTimeout() time.Duration {
	return time.Duration(c.RouteTimeoutMs) * time.Millisecond
}

type TokenizerConfig struct {
	Separator            string `yaml:"separator" toml:"separator" env:"TERMCMD_SEPARATOR"`
	OptionPrefix         string `yaml:"option_prefix" toml:"option_prefix" env:"TERMCMD_OPTION_PREFIX"`
	OptionAliasPrefix    string `yaml:"option_alias_prefix" toml:"option_alias_prefix" env:"TERMCMD_OPTION_ALIAS_PREFIX"`
	OptionValueSeparator string `yaml:"option_value_separator" toml:"option_value_separator" env:"TERMCMD_OPTION_VALUE_SEPARATOR"`
	Quote                string `yaml:"quote" toml:"quote" env:"TERMCMD_QUOTE"` // empty disables quoting
}

type TextConfig struct {
	Encoding      string `yaml:"encoding" toml:"encoding" env:"TERMCMD_TEXT_ENCODING"`
	CaseSensitive bool   `yaml:"case_sensitive" toml:"case_sensitive" env:"TERMCMD_TEXT_CASE_SENSITIVE"`
}

type StreamConfig struct {
	Delimiter       string `yaml:"delimiter" toml:"delimiter" env:"TERMCMD_STREAM_DELIMITER"` // empty uses processor.batch_delimiter
	IdleExpirySec   int    `yaml:"idle_expiry_sec" toml:"idle_expiry_sec" env:"TERMCMD_STREAM_IDLE_EXPIRY_SEC"`
	MaxBacklogBytes int    `yaml:"max_backlog_bytes" toml:"max_backlog_bytes" env:"TERMCMD_STREAM_MAX_BACKLOG_BYTES"`
}

type CommandsConfig struct {
	Path  string `yaml:"path" toml:"path" env:"TERMCMD_COMMANDS_PATH"`
	Watch bool   `yaml:"watch" toml:"watch" env:"TERMCMD_COMMANDS_WATCH"`
}

type DaemonConfig struct {
	ShutdownTimeoutSec int `yaml:"shutdown_timeout_sec" toml:"shutdown_timeout_sec" env:"TERMCMD_SHUTDOWN_TIMEOUT_SEC"`
	SweepIntervalSec   int `yaml:"sweep_interval_sec" toml:"sweep_interval_sec" env:"TERMCMD_SWEEP_INTERVAL_SEC"`
	OutboxSize         int `yaml:"outbox_size" toml:"outbox_size" env:"TERMCMD_OUTBOX_SIZE"`
}

type LoggingConfig struct {
	Level string `yaml:"level" toml:"level" env:"TERMCMD_LOG_LEVEL"`
}

// Response delivery orders.
const (
	ResponseOrderLIFO = "lifo"
	ResponseOrderFIFO = "fifo"
)

// DefaultConfig returns the configuration used when no file overrides it.
func DefaultConfig() Config {
	return Config{
		Processor: ProcessorConfig{
			MaxRawLength:     4096,
			BatchEnabled:     false,
			BatchDelimiter:   "$EOM$",
			CommandDelimiter: "$CMD$",
			RouteTimeoutMs:   25000,
			ResponseOrder:    ResponseOrderLIFO,
		},
		Tokenizer: TokenizerConfig{
			Separator:            " ",
			OptionPrefix:         "--",
			OptionAliasPrefix:    "-",
			OptionValueSeparator: " ",
			Quote:                `"`,
		},
		Text: TextConfig{
			Encoding:      "utf-8",
			CaseSensitive: true,
		},
		Stream: StreamConfig{
			IdleExpirySec:   300,
			MaxBacklogBytes: 1 << 20,
		},
		Commands: CommandsConfig{
			Path:  "commands.yaml",
			Watch: true,
		},
		Daemon: DaemonConfig{
			ShutdownTimeoutSec: 30,
			SweepIntervalSec:   30,
			OutboxSize:         100,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// StreamDelimiter returns the delimiter the frame assembler splits on.
func (c Config) StreamDelimiter() string {
	if c.Stream.Delimiter != "" {
		return c.Stream.Delimiter
	}
	return c.Processor.BatchDelimiter
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	p := c.Processor
	if p.MaxRawLength <= 0 {
		return invalidConfig("processor.max_raw_length must be positive, got %d", p.MaxRawLength)
	}
	if p.RouteTimeoutMs <= 0 {
		return invalidConfig("processor.route_timeout_ms must be positive, got %d", p.RouteTimeoutMs)
	}
	if p.BatchEnabled {
		if p.BatchDelimiter == "" {
			return invalidConfig("processor.batch_delimiter is required when batching is enabled")
		}
		if p.CommandDelimiter == "" {
			return invalidConfig("processor.command_delimiter is required when batching is enabled")
		}
		if p.BatchDelimiter == p.CommandDelimiter {
			return invalidConfig("processor.batch_delimiter and processor.command_delimiter must differ, got %q", p.BatchDelimiter)
		}
	}
	switch p.ResponseOrder {
	case "", ResponseOrderLIFO, ResponseOrderFIFO:
	default:
		return invalidConfig("processor.response_order must be lifo or fifo, got %q", p.ResponseOrder)
	}

	t := c.Tokenizer
	if t.Separator == "" {
		return invalidConfig("tokenizer.separator is required")
	}
	if t.OptionPrefix == "" || t.OptionAliasPrefix == "" {
		return invalidConfig("tokenizer.option_prefix and tokenizer.option_alias_prefix are required")
	}
	if t.OptionValueSeparator == "" {
		return invalidConfig("tokenizer.option_value_separator is required")
	}
	if t.Quote != "" && (t.Quote == t.Separator || t.Quote == t.OptionValueSeparator) {
		return invalidConfig("tokenizer.quote must differ from the separators, got %q", t.Quote)
	}

	if c.Stream.IdleExpirySec < 0 {
		return invalidConfig("stream.idle_expiry_sec must not be negative, got %d", c.Stream.IdleExpirySec)
	}
	if c.Stream.MaxBacklogBytes < 0 {
		return invalidConfig("stream.max_backlog_bytes must not be negative, got %d", c.Stream.MaxBacklogBytes)
	}
	return nil
}

func invalidConfig(format string, args ...any) error {
	return apperrors.New(apperrors.CodeInvalidConfiguration, format, args...)
}
