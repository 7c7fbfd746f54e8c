// Package service wires the security, batch, dirops, watch, and auxops
// components into the set of public operations a transport layer calls
// into, grounded in the teacher's top-level session/configuration wiring
// (pkg/configuration/configuration.go, pkg/configuration/size.go).
package service

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/sandboxfs/sandboxfs/pkg/logging"
	"github.com/sandboxfs/sandboxfs/pkg/security"
)

// defaultMaxFileSize is the default per-file byte cap (100 MiB).
const defaultMaxFileSize = 100 * 1024 * 1024

// defaultMaxBatchSize is the default cumulative batch byte cap (1 GiB).
const defaultMaxBatchSize = 1024 * 1024 * 1024

// defaultMaxOpsPerMinute is the default sliding-window rate limit.
const defaultMaxOpsPerMinute = 100

// ByteSize is a uint64 that unmarshals from either a bare JSON number
// (interpreted as bytes) or a human-friendly string ("100MB", "1GiB"),
// adapted from the teacher's configuration.ByteSize
// (pkg/configuration/size.go), which wraps the same
// github.com/dustin/go-humanize parser for TOML instead of JSON.
type ByteSize uint64

// UnmarshalJSON implements json.Unmarshaler.
func (s *ByteSize) UnmarshalJSON(data []byte) error {
	var asNumber uint64
	if err := json.Unmarshal(data, &asNumber); err == nil {
		*s = ByteSize(asNumber)
		return nil
	}

	var asString string
	if err := json.Unmarshal(data, &asString); err != nil {
		return errors.Wrap(err, "byte size must be a number or a human-friendly string")
	}

	value, err := humanize.ParseBytes(asString)
	if err != nil {
		return err
	}
	*s = ByteSize(value)
	return nil
}

// FileConfig is the on-disk JSON configuration document shape.
type FileConfig struct {
	WorkspaceRoot          string    `json:"workspaceRoot"`
	AllowedSubdirectories  []string  `json:"allowedSubdirectories"`
	BlockedPaths           []string  `json:"blockedPaths"`
	BlockedPatterns        []string  `json:"blockedPatterns"`
	MaxFileSize            *ByteSize `json:"maxFileSize"`
	MaxBatchSize           *ByteSize `json:"maxBatchSize"`
	MaxOperationsPerMinute *int      `json:"maxOperationsPerMinute"`
	EnableAuditLog         *bool     `json:"enableAuditLog"`
	ReadOnly               bool      `json:"readOnly"`
	// LogLevel names the minimum severity the service logger emits
	// ("disabled", "error", "warn", "info", "debug"); it defaults to
	// "info" when omitted or unrecognized.
	LogLevel string `json:"logLevel"`
}

// LoadConfig reads and decodes a FileConfig from path.
func LoadConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read configuration file")
	}

	var config FileConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, errors.Wrap(err, "unable to parse configuration file")
	}
	return &config, nil
}

// BuildPolicyConfig converts a decoded FileConfig into an immutable
// security.PolicyConfig, applying the specification's documented defaults
// for any field the document omits and compiling blockedPatterns with the
// path-anchored glob grammar.
func BuildPolicyConfig(config *FileConfig) (*security.PolicyConfig, error) {
	if config.WorkspaceRoot == "" {
		return nil, errors.New("workspaceRoot is required")
	}
	if !filepath.IsAbs(config.WorkspaceRoot) {
		return nil, errors.New("workspaceRoot must be an absolute path")
	}

	info, err := os.Stat(config.WorkspaceRoot)
	if err != nil {
		return nil, errors.Wrap(err, "unable to stat workspaceRoot")
	}
	if !info.IsDir() {
		return nil, errors.New("workspaceRoot must be a directory")
	}

	workspaceRoot := filepath.Clean(config.WorkspaceRoot)

	allowedSubdirs := make([]string, 0, len(config.AllowedSubdirectories))
	for _, dir := range config.AllowedSubdirectories {
		allowedSubdirs = append(allowedSubdirs, resolveUnderWorkspace(workspaceRoot, dir))
	}

	blockedPaths := make([]string, 0, len(config.BlockedPaths))
	for _, dir := range config.BlockedPaths {
		blockedPaths = append(blockedPaths, resolveUnderWorkspace(workspaceRoot, dir))
	}

	blockedPatterns := make([]*security.CompiledPattern, 0, len(config.BlockedPatterns))
	for _, pattern := range config.BlockedPatterns {
		compiled, err := security.CompileBlockedPattern(pattern)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid blocked pattern %q", pattern)
		}
		blockedPatterns = append(blockedPatterns, compiled)
	}

	maxFileSize := int64(defaultMaxFileSize)
	if config.MaxFileSize != nil {
		maxFileSize = int64(*config.MaxFileSize)
	}
	maxBatchSize := int64(defaultMaxBatchSize)
	if config.MaxBatchSize != nil {
		maxBatchSize = int64(*config.MaxBatchSize)
	}
	maxOpsPerMinute := defaultMaxOpsPerMinute
	if config.MaxOperationsPerMinute != nil {
		maxOpsPerMinute = *config.MaxOperationsPerMinute
	}
	auditEnabled := true
	if config.EnableAuditLog != nil {
		auditEnabled = *config.EnableAuditLog
	}

	return &security.PolicyConfig{
		WorkspaceRoot:   workspaceRoot,
		AllowedSubdirs:  allowedSubdirs,
		BlockedPaths:    blockedPaths,
		BlockedPatterns: blockedPatterns,
		MaxFileSize:     maxFileSize,
		MaxBatchSize:    maxBatchSize,
		MaxOpsPerMinute: maxOpsPerMinute,
		ReadOnly:        config.ReadOnly,
		AuditEnabled:    auditEnabled,
	}, nil
}

// ResolveLogLevel decodes config's logLevel field via logging.NameToLevel,
// defaulting to logging.LevelInfo when the field is empty or unrecognized.
func ResolveLogLevel(config *FileConfig) logging.Level {
	if config.LogLevel == "" {
		return logging.LevelInfo
	}
	level, ok := logging.NameToLevel(config.LogLevel)
	if !ok {
		return logging.LevelInfo
	}
	return level
}

// resolveUnderWorkspace joins a possibly-relative configuration path
// against workspaceRoot and cleans it.
func resolveUnderWorkspace(workspaceRoot, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Clean(filepath.Join(workspaceRoot, path))
}
