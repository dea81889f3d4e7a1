// Package errors provides the typed error taxonomy shared by the ingestion,
// tokenizer and resolver layers.
package errors

// Code is a stable, machine-readable error code.
type Code string

const (
	// CodeUnknown is reported for errors that are not domain errors.
	CodeUnknown Code = "UNKNOWN"

	// Ingestion errors
	CodeInvalidRequest       Code = "INVALID_REQUEST"
	CodeInvalidConfiguration Code = "INVALID_CONFIGURATION"

	// Hierarchy errors
	CodeMissingCommand Code = "MISSING_COMMAND"
	CodeInvalidCommand Code = "INVALID_COMMAND"

	// Argument binding errors
	CodeInvalidArgument     Code = "INVALID_ARGUMENT"
	CodeUnsupportedArgument Code = "UNSUPPORTED_ARGUMENT"

	// Option binding errors
	CodeInvalidOption     Code = "INVALID_OPTION"
	CodeUnsupportedOption Code = "UNSUPPORTED_OPTION"

	// Processing errors
	CodeServerError    Code = "SERVER_ERROR"
	CodeRequestTimeout Code = "REQUEST_TIMEOUT"
)

// Validation reports whether the code describes malformed caller input, as
// opposed to a processing failure.
func (c Code) Validation() bool {
	switch c {
	case CodeInvalidRequest,
		CodeInvalidConfiguration,
		CodeMissingCommand,
		CodeInvalidCommand,
		CodeInvalidArgument,
		CodeUnsupportedArgument,
		CodeInvalidOption,
		CodeUnsupportedOption:
		return true
	default:
		return false
	}
}
