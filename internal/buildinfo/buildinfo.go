// Package buildinfo carries version metadata set at link time:
//
//	go build -ldflags "-X scanbrain/internal/buildinfo.Version=v1.2.0 -X scanbrain/internal/buildinfo.Commit=abc123"
package buildinfo

import (
	"fmt"
	"runtime"
)

var (
	Version = "dev"
	Commit  = ""
	BuiltAt = ""
)

func Info() map[string]string {
	return map[string]string{
		"version": Version,
		"commit":  Commit,
		"builtAt": BuiltAt,
		"go":      runtime.Version(),
	}
}

// String is the one-line form printed by the version command.
func String() string {
	s := "scanbrain " + Version
	if Commit != "" {
		s += fmt.Sprintf(" (%s)", Commit)
	}
	if BuiltAt != "" {
		s += " built " + BuiltAt
	}
	return s + " " + runtime.Version()
}
