package model

import (
	"fmt"
	"slices"
	"strings"
)

// CommandType describes where a command sits in the hierarchy.
type CommandType string

const (
	CommandTypeRoot       CommandType = "root"
	CommandTypeGroup      CommandType = "group"
	CommandTypeSubCommand CommandType = "subcommand"
)

var validCommandTypes = map[CommandType]bool{
	CommandTypeRoot:       true,
	CommandTypeGroup:      true,
	CommandTypeSubCommand: true,
}

// Valid reports whether t is a known command type.
func (t CommandType) Valid() bool {
	return validCommandTypes[t]
}

// ArgumentDescriptor describes one positional argument.
type ArgumentDescriptor struct {
	ID          string `yaml:"id" toml:"id"`
	Description string `yaml:"description" toml:"description"`
	DataType    string `yaml:"data_type" toml:"data_type"`
	Required    bool   `yaml:"required" toml:"required"`
}

// OptionDescriptor describes one named option. Alias is optional.
type OptionDescriptor struct {
	ID          string `yaml:"id" toml:"id"`
	Alias       string `yaml:"alias,omitempty" toml:"alias,omitempty"`
	Description string `yaml:"description" toml:"description"`
	DataType    string `yaml:"data_type" toml:"data_type"`
	Required    bool   `yaml:"required" toml:"required"`
}

// CommandDescriptor is the static metadata for a command. Descriptors are
// read-only once registered.
type CommandDescriptor struct {
	ID          string               `yaml:"id" toml:"id"`
	Name        string               `yaml:"name" toml:"name"`
	Description string               `yaml:"description" toml:"description"`
	Type        CommandType          `yaml:"type" toml:"type"`
	Flags       []string             `yaml:"flags,omitempty" toml:"flags,omitempty"`
	OwnerIDs    []string             `yaml:"owners,omitempty" toml:"owners,omitempty"`
	Arguments   []ArgumentDescriptor `yaml:"arguments,omitempty" toml:"arguments,omitempty"`
	Options     []OptionDescriptor   `yaml:"options,omitempty" toml:"options,omitempty"`
}

// IsRoot reports whether the command declares no owners.
func (d *CommandDescriptor) IsRoot() bool {
	return len(d.OwnerIDs) == 0
}

// EqualFunc compares two identifiers. A nil EqualFunc compares exactly.
type EqualFunc func(a, b string) bool

func (eq EqualFunc) equal(a, b string) bool {
	if eq == nil {
		return a == b
	}
	return eq(a, b)
}

// IsOwnedBy reports whether ownerID is one of the declared owners.
func (d *CommandDescriptor) IsOwnedBy(ownerID string, eq EqualFunc) bool {
	return slices.ContainsFunc(d.OwnerIDs, func(o string) bool { return eq.equal(o, ownerID) })
}

// HasFlag reports whether the descriptor carries flag (case-insensitive).
func (d *CommandDescriptor) HasFlag(flag string) bool {
	for _, f := range d.Flags {
		if strings.EqualFold(f, flag) {
			return true
		}
	}
	return false
}

// OptionByID returns the option with the given id.
func (d *CommandDescriptor) OptionByID(id string, eq EqualFunc) (*OptionDescriptor, bool) {
	for i := range d.Options {
		if eq.equal(d.Options[i].ID, id) {
			return &d.Options[i], true
		}
	}
	return nil, false
}

// OptionByAlias returns the option with the given alias.
func (d *CommandDescriptor) OptionByAlias(alias string, eq EqualFunc) (*OptionDescriptor, bool) {
	if alias == "" {
		return nil, false
	}
	for i := range d.Options {
		if d.Options[i].Alias != "" && eq.equal(d.Options[i].Alias, alias) {
			return &d.Options[i], true
		}
	}
	return nil, false
}

func (d *CommandDescriptor) String() string {
	return fmt.Sprintf("%s(%s)", d.ID, d.Type)
}

// Argument is a positional value bound to its descriptor.
type Argument struct {
	Descriptor *ArgumentDescriptor
	Value      string
}

// Option is a named value bound to its descriptor.
type Option struct {
	Descriptor *OptionDescriptor
	Value      string
}

// Command is a descriptor with its bound arguments and options. Options are
// keyed by option id.
type Command struct {
	Descriptor *CommandDescriptor
	Arguments  []Argument
	Options    map[string]Option
}

// Argument returns the bound value of the argument with the given id.
func (c *Command) Argument(id string) (string, bool) {
	for _, a := range c.Arguments {
		if a.Descriptor.ID == id {
			return a.Value, true
		}
	}
	return "", false
}

// Option returns the bound value of the option with the given id.
func (c *Command) Option(id string) (string, bool) {
	o, ok := c.Options[id]
	if !ok {
		return "", false
	}
	return o.Value, true
}

// ParsedRequest is the tokenizer output: ordered tokens and raw option
// key/value pairs. Option keys keep their prefix.
type ParsedRequest struct {
	Tokens  []string
	Options map[string]string
}

// Empty reports whether nothing was parsed.
func (p ParsedRequest) Empty() bool {
	return len(p.Tokens) == 0 && len(p.Options) == 0
}

// ParsedCommand is the resolver output. Hierarchy lists the ancestors of the
// resolved command from the root down, excluding the command itself.
type ParsedCommand struct {
	Request   Request
	Command   *Command
	Hierarchy []*CommandDescriptor
}

// Path returns the ids from the root to the resolved command.
func (p *ParsedCommand) Path() []string {
	path := make([]string, 0, len(p.Hierarchy)+1)
	for _, d := range p.Hierarchy {
		path = append(path, d.ID)
	}
	return append(path, p.Command.Descriptor.ID)
}
