// Package sandbox provides policy-checked, resource-limited subprocess
// execution. Sandboxing here means wall-time enforcement plus filesystem
// and network policy checks, not kernel-level isolation.
package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Policy names a predefined sandbox configuration.
type Policy string

const (
	PolicyUnrestricted   Policy = "unrestricted" // no restrictions (dangerous)
	PolicyStandard       Policy = "standard"     // default restrictions
	PolicyStrict         Policy = "strict"       // maximum restrictions
	PolicyNetworkOnly    Policy = "network_only" // network allowed, no filesystem
	PolicyFilesystemOnly Policy = "filesystem_only"
)

// ParsePolicy converts a policy name to a Policy, defaulting to standard
// for unknown names.
func ParsePolicy(s string) Policy {
	switch Policy(s) {
	case PolicyUnrestricted, PolicyStandard, PolicyStrict, PolicyNetworkOnly, PolicyFilesystemOnly:
		return Policy(s)
	default:
		return PolicyStandard
	}
}

// ResourceLimits bounds a sandboxed execution. Only MaxWallSeconds is
// strictly enforced; the other limits are policy metadata recorded in the
// result's resource usage.
type ResourceLimits struct {
	MaxCPUSeconds  float64 `json:"max_cpu_seconds"`
	MaxWallSeconds float64 `json:"max_wall_seconds"`
	MaxMemoryMB    int     `json:"max_memory_mb"`
	MaxProcesses   int     `json:"max_processes"`
	MaxFileSizeMB  int     `json:"max_file_size_mb"`
	MaxOpenFiles   int     `json:"max_open_files"`
}

// FilesystemPolicy controls which paths may be read or written.
type FilesystemPolicy struct {
	AllowedReadPaths  []string `json:"allowed_read_paths"`
	AllowedWritePaths []string `json:"allowed_write_paths"`
	DeniedPaths       []string `json:"denied_paths"`
	AllowTempFiles    bool     `json:"allow_temp_files"`
	TempDir           string   `json:"temp_dir,omitempty"`
}

// NetworkPolicy controls outbound host and port access.
type NetworkPolicy struct {
	AllowOutbound bool     `json:"allow_outbound"`
	AllowInbound  bool     `json:"allow_inbound"`
	AllowedHosts  []string `json:"allowed_hosts"`
	DeniedHosts   []string `json:"denied_hosts"`
	AllowedPorts  []int    `json:"allowed_ports"`
	DeniedPorts   []int    `json:"denied_ports"`
}

// Config is a complete sandbox configuration.
type Config struct {
	Policy      Policy            `json:"policy"`
	Resources   ResourceLimits    `json:"resources"`
	Filesystem  FilesystemPolicy  `json:"filesystem"`
	Network     NetworkPolicy     `json:"network"`
	WorkingDir  string            `json:"working_dir,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	InheritEnv  bool              `json:"inherit_env"`
}

// Result captures the outcome of a sandboxed execution.
type Result struct {
	Success         bool           `json:"success"`
	Output          string         `json:"output"`
	Error           string         `json:"error"`
	ExitCode        int            `json:"exit_code"`
	DurationSeconds float64        `json:"duration_seconds"`
	ResourceUsage   map[string]any `json:"resource_usage,omitempty"`
	Violations      []string       `json:"violations,omitempty"`
}

// Option overrides a field of a preset configuration.
type Option func(*Config)

// WithResources replaces the resource limits.
func WithResources(r ResourceLimits) Option {
	return func(c *Config) { c.Resources = r }
}

// WithMaxWallSeconds overrides only the wall time limit.
func WithMaxWallSeconds(seconds float64) Option {
	return func(c *Config) { c.Resources.MaxWallSeconds = seconds }
}

// WithFilesystem replaces the filesystem policy.
func WithFilesystem(f FilesystemPolicy) Option {
	return func(c *Config) { c.Filesystem = f }
}

// WithNetwork replaces the network policy.
func WithNetwork(n NetworkPolicy) Option {
	return func(c *Config) { c.Network = n }
}

// WithWorkingDir sets an explicit working directory instead of a scratch dir.
func WithWorkingDir(dir string) Option {
	return func(c *Config) { c.WorkingDir = dir }
}

// WithEnvironment sets environment overrides applied on top of any
// inherited environment.
func WithEnvironment(env map[string]string) Option {
	return func(c *Config) { c.Environment = env }
}

// WithInheritEnv controls whether the parent environment is inherited.
func WithInheritEnv(inherit bool) Option {
	return func(c *Config) { c.InheritEnv = inherit }
}

// defaultDeniedPaths are blocked under every policy except unrestricted.
var defaultDeniedPaths = []string{
	"/etc/passwd", "/etc/shadow", "/etc/sudoers",
	"~/.ssh", "~/.gnupg", "~/.aws", "~/.config",
}

// defaultDeniedHosts blocks cloud metadata endpoints and the local host.
var defaultDeniedHosts = []string{
	"169.254.169.254",
	"metadata.google.internal",
	"localhost", "127.0.0.1",
}

// NewConfig builds a configuration from a named policy preset, then applies
// the given overrides in order.
func NewConfig(policy Policy, opts ...Option) Config {
	cfg := Config{
		Policy: policy,
		Resources: ResourceLimits{
			MaxCPUSeconds:  30,
			MaxWallSeconds: 60,
			MaxMemoryMB:    512,
			MaxProcesses:   10,
			MaxFileSizeMB:  100,
			MaxOpenFiles:   100,
		},
		Filesystem: FilesystemPolicy{
			DeniedPaths:    append([]string(nil), defaultDeniedPaths...),
			AllowTempFiles: true,
		},
		Network: NetworkPolicy{
			AllowOutbound: true,
			DeniedHosts:   append([]string(nil), defaultDeniedHosts...),
			DeniedPorts:   []int{22, 23, 25}, // SSH, Telnet, SMTP
		},
	}

	switch policy {
	case PolicyUnrestricted:
		cfg.Resources.MaxCPUSeconds = 300
		cfg.Resources.MaxWallSeconds = 600
		cfg.Resources.MaxMemoryMB = 4096
		cfg.Filesystem.DeniedPaths = nil
		cfg.Network.DeniedHosts = nil
	case PolicyStrict:
		cfg.Resources.MaxCPUSeconds = 10
		cfg.Resources.MaxWallSeconds = 30
		cfg.Resources.MaxMemoryMB = 256
		cfg.Filesystem.AllowedReadPaths = []string{"/tmp"}
		cfg.Filesystem.AllowedWritePaths = nil
		cfg.Network.AllowOutbound = false
	case PolicyNetworkOnly:
		cfg.Filesystem.AllowedReadPaths = nil
		cfg.Filesystem.AllowedWritePaths = nil
		cfg.Filesystem.AllowTempFiles = false
	case PolicyFilesystemOnly:
		cfg.Network.AllowOutbound = false
		cfg.Network.AllowInbound = false
	}

	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// expandPath resolves "~" and makes the path absolute.
func expandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

// CheckPathAllowed reports whether the filesystem policy permits the given
// action ("read" or "write") on path. Denied paths always win; a non-empty
// allow list then restricts access to listed prefixes.
func CheckPathAllowed(path string, policy FilesystemPolicy, action string) (bool, string) {
	path = expandPath(path)

	for _, denied := range policy.DeniedPaths {
		denied = expandPath(denied)
		if path == denied || strings.HasPrefix(path, denied) {
			return false, fmt.Sprintf("Path %s is in denied list", path)
		}
	}

	allowed := policy.AllowedReadPaths
	if action != "read" {
		allowed = policy.AllowedWritePaths
	}
	if len(allowed) == 0 {
		return true, ""
	}

	for _, a := range allowed {
		a = expandPath(a)
		if path == a || strings.HasPrefix(path, a) {
			return true, ""
		}
	}
	return false, fmt.Sprintf("Path %s not in allowed list for %s", path, action)
}

// CheckHostAllowed reports whether the network policy permits outbound
// connections to host. Denied hosts match exactly or as a domain suffix.
func CheckHostAllowed(host string, policy NetworkPolicy) (bool, string) {
	if !policy.AllowOutbound {
		return false, "Outbound network access is disabled"
	}

	for _, denied := range policy.DeniedHosts {
		if host == denied || strings.HasSuffix(host, "."+denied) {
			return false, fmt.Sprintf("Host %s is in denied list", host)
		}
	}

	if len(policy.AllowedHosts) > 0 {
		for _, a := range policy.AllowedHosts {
			if host == a || strings.HasSuffix(host, "."+a) {
				return true, ""
			}
		}
		return false, fmt.Sprintf("Host %s not in allowed list", host)
	}
	return true, ""
}

// CheckPortAllowed reports whether the network policy permits the port.
func CheckPortAllowed(port int, policy NetworkPolicy) (bool, string) {
	for _, p := range policy.DeniedPorts {
		if port == p {
			return false, fmt.Sprintf("Port %d is in denied list", port)
		}
	}
	if len(policy.AllowedPorts) > 0 {
		for _, p := range policy.AllowedPorts {
			if port == p {
				return true, ""
			}
		}
		return false, fmt.Sprintf("Port %d not in allowed list", port)
	}
	return true, ""
}
