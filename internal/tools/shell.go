package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// ShellTool runs a command through the host shell. Grounded on the
// teacher's internal/tools/exec.ExecTool, trimmed to the gateway's needs
// (no background/detached execution, no sandbox pool).
type ShellTool struct {
	workDir string
}

// NewShellTool builds a shell tool rooted at workDir.
func NewShellTool(workDir string) *ShellTool {
	return &ShellTool{workDir: workDir}
}

// ShellSchema is the JSON schema validated against every shell tool call.
var ShellSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "command": {"type": "string", "description": "Shell command to execute"},
    "cwd": {"type": "string", "description": "Working directory relative to the workspace"}
  },
  "required": ["command"]
}`)

func (t *ShellTool) Invoke(ctx context.Context, callID string, input json.RawMessage, progress func(string)) (string, json.RawMessage, error) {
	var params struct {
		Command string `json:"command"`
		Cwd     string `json:"cwd"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return "", nil, fmt.Errorf("invalid shell input: %w", err)
	}
	command := strings.TrimSpace(params.Command)
	if command == "" {
		return "", nil, fmt.Errorf("command is required")
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.Dir = t.workDir
	if params.Cwd != "" {
		cmd.Dir = t.workDir + "/" + params.Cwd
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if progress != nil {
		progress("running: " + command)
	}

	err := cmd.Run()
	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	details, _ := json.Marshal(map[string]any{
		"exitCode": exitCode,
		"stderr":   stderr.String(),
	})
	if err != nil {
		return stdout.String() + stderr.String(), details, fmt.Errorf("command failed: %w", err)
	}
	return stdout.String(), details, nil
}
