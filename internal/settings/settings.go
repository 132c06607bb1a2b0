// Package settings implements the settings-override cascade: a precedence
// merge of global, folder, and conversation scopes into the effective
// configuration applied to a turn.
package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Scope holds the overridable settings of one level of the cascade. Nil
// fields inherit from the broader scope; AutoAllow patterns accumulate
// across scopes instead of replacing.
type Scope struct {
	Model          *string  `yaml:"model,omitempty"`
	PermissionMode *string  `yaml:"permissionMode,omitempty"`
	MaxBudgetUSD   *float64 `yaml:"maxBudgetUSD,omitempty"`
	MaxTurns       *int     `yaml:"maxTurns,omitempty"`
	AutoAllow      []string `yaml:"autoAllow,omitempty"`
}

// Permission modes accepted by the runtime.
const (
	PermissionAsk  = "ask"
	PermissionEdit = "acceptEdits"
	PermissionFull = "bypassApprovals"
)

// Effective is the fully resolved configuration for a conversation.
type Effective struct {
	Model          string
	PermissionMode string
	MaxBudgetUSD   float64
	MaxTurns       int
	AutoAllow      []string
}

// Defaults returns the configuration used when no scope overrides anything.
func Defaults() Effective {
	return Effective{
		Model:          "default",
		PermissionMode: PermissionAsk,
	}
}

// Resolve merges the cascade, narrowest scope last: conversation overrides
// folder overrides global. AutoAllow patterns concatenate broad to narrow.
func Resolve(global, folder, conversation Scope) Effective {
	eff := Defaults()
	for _, scope := range []Scope{global, folder, conversation} {
		if scope.Model != nil {
			eff.Model = *scope.Model
		}
		if scope.PermissionMode != nil {
			eff.PermissionMode = *scope.PermissionMode
		}
		if scope.MaxBudgetUSD != nil {
			eff.MaxBudgetUSD = *scope.MaxBudgetUSD
		}
		if scope.MaxTurns != nil {
			eff.MaxTurns = *scope.MaxTurns
		}
		eff.AutoAllow = append(eff.AutoAllow, scope.AutoAllow...)
	}
	return eff
}

// Load reads a scope from a YAML file. A missing file is an empty scope.
func Load(path string) (Scope, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Scope{}, nil
	}
	if err != nil {
		return Scope{}, fmt.Errorf("read settings %s: %w", path, err)
	}
	var scope Scope
	if err := yaml.Unmarshal(data, &scope); err != nil {
		return Scope{}, fmt.Errorf("parse settings %s: %w", path, err)
	}
	return scope, nil
}

// FromEnv overlays TURNSTREAM_* environment variables on a scope. Malformed
// numeric values are ignored.
func FromEnv(scope Scope) Scope {
	if v := os.Getenv("TURNSTREAM_MODEL"); v != "" {
		scope.Model = &v
	}
	if v := os.Getenv("TURNSTREAM_PERMISSION_MODE"); v != "" {
		scope.PermissionMode = &v
	}
	if v := os.Getenv("TURNSTREAM_MAX_BUDGET_USD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			scope.MaxBudgetUSD = &f
		}
	}
	if v := os.Getenv("TURNSTREAM_MAX_TURNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			scope.MaxTurns = &n
		}
	}
	return scope
}

// DataDir returns the directory holding the database and settings files.
func DataDir() string {
	if dir := os.Getenv("TURNSTREAM_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".turnstream")
}
