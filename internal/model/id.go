package model

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// Hints used for generated ids.
const (
	IDHintRequest = "req"
	IDHintBatch   = "batch"
)

var (
	idRegex   = regexp.MustCompile(`^(?:([a-z][a-z0-9]*)_)?([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})$`)
	hintRegex = regexp.MustCompile(`^[a-z][a-z0-9]*$`)
)

// GenerateID returns "<hint>_<uuid>" or a bare uuid when hint is empty. UUIDs
// are version 7, so ids sort by creation time.
func GenerateID(hint string) (string, error) {
	if hint != "" && !hintRegex.MatchString(hint) {
		return "", fmt.Errorf("invalid id hint: %q", hint)
	}
	u, err := uuid.NewV7()
	if err != nil {
		u = uuid.New()
	}
	if hint == "" {
		return u.String(), nil
	}
	return fmt.Sprintf("%s_%s", hint, u.String()), nil
}

// MustGenerateID is GenerateID for hints known to be valid.
func MustGenerateID(hint string) string {
	id, err := GenerateID(hint)
	if err != nil {
		panic(err)
	}
	return id
}

func ValidateID(id string) bool {
	return idRegex.MatchString(id)
}

// ParseIDHint returns the hint portion of a generated id ("" for bare uuids).
func ParseIDHint(id string) (string, error) {
	match := idRegex.FindStringSubmatch(id)
	if match == nil {
		return "", fmt.Errorf("invalid ID format: %s", id)
	}
	return match[1], nil
}

// ParseIDTimestamp extracts the creation time embedded in a version 7 id.
func ParseIDTimestamp(id string) (time.Time, error) {
	match := idRegex.FindStringSubmatch(id)
	if match == nil {
		return time.Time{}, fmt.Errorf("invalid ID format: %s", id)
	}
	u, err := uuid.Parse(match[2])
	if err != nil {
		return time.Time{}, fmt.Errorf("parse uuid from ID %s: %w", id, err)
	}
	if u.Version() != 7 {
		return time.Time{}, fmt.Errorf("ID %s does not carry a timestamp", id)
	}
	sec, nsec := u.Time().UnixTime()
	return time.Unix(sec, nsec), nil
}
