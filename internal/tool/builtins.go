package tool

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/agentos/agentos/internal/sandbox"
)

const (
	maxToolOutputBytes = 50000
	maxFileReadBytes   = 100000
	maxListEntries     = 1000
)

// RegisterBuiltins registers the built-in tool set: shell execution through
// the sandbox executor, file access, and HTTP requests.
func RegisterBuiltins(r *Registry, exec *sandbox.Executor, defaultPolicy sandbox.Policy) {
	r.Register(shellExecuteSchema, shellExecute(exec, defaultPolicy))
	r.Register(fileReadSchema, fileRead)
	r.Register(fileWriteSchema, fileWrite)
	r.Register(fileListSchema, fileList)
	r.Register(httpRequestSchema, httpRequest)
	r.Register(httpGetSchema, httpGet)
}

var shellExecuteSchema = Schema{
	Name:        "shell.execute",
	Description: "Execute a shell command and return the output. Use for running programs, scripts, or system commands.",
	Parameters: []Parameter{
		{Name: "command", Type: "string", Description: "The shell command to execute", Required: true},
		{Name: "timeout", Type: "integer", Description: "Timeout in seconds (default 30)", Default: 30},
		{Name: "working_dir", Type: "string", Description: "Working directory for the command"},
	},
	RequiredCapabilities: []string{"shell:*:execute"},
}

func shellExecute(exec *sandbox.Executor, policy sandbox.Policy) Func {
	return func(ctx context.Context, params map[string]any) (string, error) {
		command, err := requireString(params, "command")
		if err != nil {
			return "", err
		}
		timeout := optInt(params, "timeout", 30)

		opts := []sandbox.Option{sandbox.WithMaxWallSeconds(float64(timeout))}
		if dir := optString(params, "working_dir", ""); dir != "" {
			opts = append(opts, sandbox.WithWorkingDir(dir))
		}
		cfg := sandbox.NewConfig(policy, opts...)

		result, err := exec.ExecuteCommand(ctx, command, cfg, agentIDFrom(ctx))
		if err != nil {
			return "", fmt.Errorf("shell execution failed: %w", err)
		}
		for _, v := range result.Violations {
			if strings.Contains(v, "wall time limit") {
				return "", ErrTimeout
			}
		}

		var parts []string
		if result.Output != "" {
			parts = append(parts, result.Output)
		}
		if result.Error != "" {
			parts = append(parts, "[stderr]\n"+result.Error)
		}
		output := "(no output)"
		if len(parts) > 0 {
			output = strings.Join(parts, "\n")
		}
		if result.ExitCode != 0 {
			output += fmt.Sprintf("\n[exit code: %d]", result.ExitCode)
		}
		return truncate(output, maxToolOutputBytes), nil
	}
}

var fileReadSchema = Schema{
	Name:        "file.read",
	Description: "Read the contents of a file. Returns the file content as text.",
	Parameters: []Parameter{
		{Name: "path", Type: "string", Description: "Path to the file to read", Required: true},
		{Name: "max_bytes", Type: "integer", Description: "Maximum bytes to read (default 100KB)", Default: maxFileReadBytes},
	},
	RequiredCapabilities: []string{"file:*:read"},
}

func fileRead(ctx context.Context, params map[string]any) (string, error) {
	path, err := requireString(params, "path")
	if err != nil {
		return "", err
	}
	maxBytes := optInt(params, "max_bytes", maxFileReadBytes)

	path = expandUser(path)
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("file not found: %s", path)
	}
	if info.IsDir() {
		return "", fmt.Errorf("not a file: %s", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, int64(maxBytes)))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return fmt.Sprintf("(binary file, %d bytes)", len(data)), nil
	}
	content := string(data)
	if len(data) >= maxBytes {
		content += "\n...(truncated)"
	}
	return content, nil
}

var fileWriteSchema = Schema{
	Name:        "file.write",
	Description: "Write content to a file. Creates the file if it doesn't exist.",
	Parameters: []Parameter{
		{Name: "path", Type: "string", Description: "Path to the file to write", Required: true},
		{Name: "content", Type: "string", Description: "Content to write to the file", Required: true},
		{Name: "append", Type: "boolean", Description: "Append to file instead of overwriting", Default: false},
	},
	RequiredCapabilities: []string{"file:*:write"},
}

func fileWrite(ctx context.Context, params map[string]any) (string, error) {
	path, err := requireString(params, "path")
	if err != nil {
		return "", err
	}
	content, err := requireString(params, "content")
	if err != nil {
		return "", err
	}
	doAppend := optBool(params, "append", false)

	path = expandUser(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}

	flags := os.O_CREATE | os.O_WRONLY
	action := "Wrote"
	if doAppend {
		flags |= os.O_APPEND
		action = "Appended to"
	} else {
		flags |= os.O_TRUNC
	}

	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %d characters to %s", action, len(content), path), nil
}

var fileListSchema = Schema{
	Name:        "file.list",
	Description: "List files and directories in a path.",
	Parameters: []Parameter{
		{Name: "path", Type: "string", Description: "Directory path to list", Required: true},
		{Name: "recursive", Type: "boolean", Description: "List recursively", Default: false},
	},
	RequiredCapabilities: []string{"file:*:read"},
}

func fileList(ctx context.Context, params map[string]any) (string, error) {
	path, err := requireString(params, "path")
	if err != nil {
		return "", err
	}
	recursive := optBool(params, "recursive", false)

	path = expandUser(path)
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("directory not found: %s", path)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", path)
	}

	var entries []string
	if recursive {
		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil || p == path {
				return walkErr
			}
			rel, relErr := filepath.Rel(path, p)
			if relErr != nil {
				return relErr
			}
			entries = append(entries, fmt.Sprintf("[%s] %s", typeChar(d.IsDir()), rel))
			return nil
		})
	} else {
		var list []fs.DirEntry
		list, err = os.ReadDir(path)
		for _, d := range list {
			entries = append(entries, fmt.Sprintf("[%s] %s", typeChar(d.IsDir()), d.Name()))
		}
	}
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "(empty directory)", nil
	}

	sort.Strings(entries)
	if len(entries) > maxListEntries {
		entries = append(entries[:maxListEntries], "...(truncated)")
	}
	return strings.Join(entries, "\n"), nil
}

var httpRequestSchema = Schema{
	Name:        "http.request",
	Description: "Make an HTTP request to a URL. Supports GET, POST, PUT, DELETE methods.",
	Parameters: []Parameter{
		{Name: "url", Type: "string", Description: "The URL to request", Required: true},
		{Name: "method", Type: "string", Description: "HTTP method (GET, POST, PUT, DELETE)", Default: "GET"},
		{Name: "headers", Type: "object", Description: "HTTP headers as key-value pairs"},
		{Name: "body", Type: "string", Description: "Request body (for POST/PUT)"},
		{Name: "timeout", Type: "integer", Description: "Timeout in seconds", Default: 30},
	},
	RequiredCapabilities: []string{"http:*:request"},
}

func httpRequest(ctx context.Context, params map[string]any) (string, error) {
	url, err := requireString(params, "url")
	if err != nil {
		return "", err
	}
	method := strings.ToUpper(optString(params, "method", "GET"))
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch, http.MethodHead:
	default:
		return "", fmt.Errorf("unsupported HTTP method: %s", method)
	}
	timeout := optInt(params, "timeout", 30)

	var bodyReader io.Reader
	if body := optString(params, "body", ""); body != "" {
		bodyReader = strings.NewReader(body)
	}

	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, url, bodyReader)
	if err != nil {
		return "", err
	}
	if headers, ok := params["headers"].(map[string]any); ok {
		for k, v := range headers {
			req.Header.Set(k, fmt.Sprint(v))
		}
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded {
			return "", ErrTimeout
		}
		return "", err
	}
	defer resp.Body.Close()

	var sb strings.Builder
	fmt.Fprintf(&sb, "Status: %s\n\nHeaders:\n", resp.Status)
	for key, values := range resp.Header {
		fmt.Fprintf(&sb, "  %s: %s\n", key, strings.Join(values, ", "))
	}
	sb.WriteString("\nBody:\n")

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxToolOutputBytes+1))
	if err != nil {
		return "", err
	}
	if utf8.Valid(data) {
		sb.WriteString(truncate(string(data), maxToolOutputBytes))
	} else {
		fmt.Fprintf(&sb, "(binary response, %d bytes)", len(data))
	}
	return sb.String(), nil
}

var httpGetSchema = Schema{
	Name:        "http.get",
	Description: "Make a GET request to a URL. Simpler version of http.request for basic fetches.",
	Parameters: []Parameter{
		{Name: "url", Type: "string", Description: "The URL to fetch", Required: true},
	},
	RequiredCapabilities: []string{"http:*:request"},
}

func httpGet(ctx context.Context, params map[string]any) (string, error) {
	return httpRequest(ctx, map[string]any{"url": params["url"]})
}

func typeChar(isDir bool) string {
	if isDir {
		return "d"
	}
	return "f"
}

func expandUser(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}
	return path
}

func truncate(s string, limit int) string {
	if len(s) > limit {
		return s[:limit] + "\n...(truncated)"
	}
	return s
}

func requireString(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", fmt.Errorf("missing required parameter: %s", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("parameter %s must be a string", key)
	}
	return s, nil
}

func optString(params map[string]any, key, def string) string {
	if s, ok := params[key].(string); ok {
		return s
	}
	return def
}

// optInt tolerates both int and float64 since JSON decoding yields float64.
func optInt(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

func optBool(params map[string]any, key string, def bool) bool {
	if b, ok := params[key].(bool); ok {
		return b
	}
	return def
}
