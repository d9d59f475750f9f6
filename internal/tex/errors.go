package tex

import (
	"errors"
	"fmt"
	"path/filepath"
)

// ErrUnsupported matches every ConfigError.
var ErrUnsupported = errors.New("unsupported configuration")

// ConfigError reports an unknown diagram command or compiler.
type ConfigError struct {
	Field string
	Value string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("unsupported %s %q", e.Field, e.Value)
}

// Is reports whether target is ErrUnsupported.
func (e *ConfigError) Is(target error) bool {
	return target == ErrUnsupported
}

// Stage identifies a step of the external toolchain.
type Stage int

// Toolchain stages.
const (
	StageCompile Stage = iota + 1
	StageConvert
)

func (s Stage) String() string {
	switch s {
	case StageCompile:
		return "compile"
	case StageConvert:
		return "convert"
	default:
		return "unknown"
	}
}

// RenderError reports a failed toolchain stage. Dir is the working directory
// of the failed run; it is left on disk for inspection.
type RenderError struct {
	Stage   Stage
	Program string
	Digest  string
	Dir     string
	Err     error
}

// LogPath returns the compiler log of a failed compile stage, or "".
func (e *RenderError) LogPath() string {
	if e.Stage != StageCompile || e.Dir == "" {
		return ""
	}
	return filepath.Join(e.Dir, e.Digest+".log")
}

// Error implements the error interface.
func (e *RenderError) Error() string {
	msg := fmt.Sprintf("%s stage (%s) failed for %s: %v", e.Stage, e.Program, e.Digest, e.Err)
	if log := e.LogPath(); log != "" {
		msg += "; see " + log
	} else if e.Dir != "" {
		msg += "; artifacts in " + e.Dir
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RenderError) Unwrap() error {
	return e.Err
}
