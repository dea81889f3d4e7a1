// Package templates embeds the default workspace files written by termcmd init.
package templates

import "embed"

//go:embed config.yaml commands.yaml
var FS embed.FS
