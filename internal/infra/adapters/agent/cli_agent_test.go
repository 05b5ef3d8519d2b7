package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"omnicoder/internal/domain"
	"omnicoder/internal/domain/ports/adapter"
	"omnicoder/internal/infra/logging"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// writeScript creates a fake agent binary that receives the same flags as the real one.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	path := filepath.Join(t.TempDir(), "fake-agent")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestCLIAgent_ReportsChangedFiles(t *testing.T) {
	work := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(work, "untouched.txt"), []byte("old"), 0o644))
	script := writeScript(t, `mkdir -p src && printf 'export const a = 1\n' > src/a.ts && echo "created src/a.ts"`)

	a := NewCLIAgent(Config{Command: script, Workdir: work, Timeout: 10 * time.Second}, logging.Nop())
	res, err := a.Execute(context.Background(), adapter.AgentRequest{TaskID: "t1", AssistantResponse: "create src/a.ts"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "created src/a.ts", res.Output)
	assert.Equal(t, "export const a = 1\n", res.Files["src/a.ts"])
	assert.NotContains(t, res.Files, "untouched.txt")
}

func TestCLIAgent_ForwardsFlags(t *testing.T) {
	script := writeScript(t, `echo "$1|$3 $4|$5 $6"; case "$2" in *"## Instructions"*"do the thing"*) ;; *) exit 3;; esac`)
	a := NewCLIAgent(Config{Command: script, Workdir: t.TempDir(), MaxTurns: 7, Timeout: 10 * time.Second}, logging.Nop())
	res, err := a.Execute(context.Background(), adapter.AgentRequest{UserMessage: "do the thing"})
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "-p|--output-format text|--max-turns 7", res.Output)
}

func TestCLIAgent_FailureCarriesStderr(t *testing.T) {
	script := writeScript(t, `echo "boom" >&2; exit 2`)
	a := NewCLIAgent(Config{Command: script, Workdir: t.TempDir(), Timeout: 10 * time.Second}, logging.Nop())
	res, err := a.Execute(context.Background(), adapter.AgentRequest{UserMessage: "x"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "boom", res.Error)
}

func TestCLIAgent_Timeout(t *testing.T) {
	script := writeScript(t, `exec sleep 5`)
	a := NewCLIAgent(Config{Command: script, Workdir: t.TempDir(), Timeout: 100 * time.Millisecond}, logging.Nop())
	res, err := a.Execute(context.Background(), adapter.AgentRequest{UserMessage: "x"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "timed out")
}

func TestCLIAgent_MissingBinary(t *testing.T) {
	a := NewCLIAgent(Config{Command: "definitely-not-a-real-agent-binary"}, logging.Nop())
	assert.False(t, a.Available())
	_, err := a.Execute(context.Background(), adapter.AgentRequest{UserMessage: "x"})
	assert.True(t, errors.Is(err, domain.ErrBridgeUnavailable))
}

func TestInstruction(t *testing.T) {
	assert.Equal(t, "design", Instruction(adapter.AgentRequest{UserMessage: "ask", AssistantResponse: " design "}))
	assert.Equal(t, "ask", Instruction(adapter.AgentRequest{UserMessage: "ask"}))
}
