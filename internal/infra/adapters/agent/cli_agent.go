// Package agent runs an external command-line coding agent for bridge mode.
package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"omnicoder/internal/domain"
	"omnicoder/internal/domain/ports/adapter"
)

var _ adapter.CodingAgent = (*CLIAgent)(nil)

const (
	maxOutputBytes = 64 << 10
	settleDelay    = 150 * time.Millisecond
)

// executorPreamble pins the agent to literal execution.
const executorPreamble = `You are a code executor. Do not make your own decisions or design anything.
Execute the instructions below exactly as written.
Do not add improvements or extra changes.
Do not touch files that the instructions do not mention.

## Instructions
%s

## Rules
- Create or modify only the files named in the instructions
- Write only the content the instructions specify
- No independent judgement
- When finished, print only a summary of the changes`

type Config struct {
	Command  string
	Workdir  string
	MaxTurns int
	Timeout  time.Duration
}

// CLIAgent shells out once per task and reports the files it touched.
type CLIAgent struct {
	cfg Config
	log *zerolog.Logger
}

func NewCLIAgent(cfg Config, logger *zerolog.Logger) *CLIAgent {
	if cfg.Command == "" {
		cfg.Command = "claude"
	}
	if cfg.Workdir == "" {
		cfg.Workdir = "."
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	l := logger.With().Str("component", "cli_agent").Logger()
	return &CLIAgent{cfg: cfg, log: &l}
}

// Instruction picks the text forwarded to the agent: the prior assistant turn when present,
// otherwise the user's request.
func Instruction(req adapter.AgentRequest) string {
	if s := strings.TrimSpace(req.AssistantResponse); s != "" {
		return s
	}
	return strings.TrimSpace(req.UserMessage)
}

// Available reports whether the agent binary can be found.
func (a *CLIAgent) Available() bool {
	_, err := exec.LookPath(a.cfg.Command)
	return err == nil
}

func (a *CLIAgent) Execute(ctx context.Context, req adapter.AgentRequest) (*adapter.AgentResult, error) {
	bin, err := exec.LookPath(a.cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrBridgeUnavailable, err)
	}
	workdir, err := filepath.Abs(a.cfg.Workdir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrBridgeUnavailable, err)
	}

	log := a.log.With().Str("task_id", req.TaskID).Logger()
	collector, err := newChangeCollector(workdir, &log)
	if err != nil {
		log.Warn().Err(err).Msg("file watcher unavailable, changed files will not be reported")
	}

	runCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	prompt := fmt.Sprintf(executorPreamble, Instruction(req))
	cmd := exec.CommandContext(runCtx, bin,
		"-p", prompt,
		"--output-format", "text",
		"--max-turns", strconv.Itoa(a.cfg.MaxTurns),
	)
	cmd.Dir = workdir
	var stdout, stderr limitedBuffer
	stdout.max, stderr.max = maxOutputBytes, maxOutputBytes
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()

	var files map[string]string
	if collector != nil {
		files = collector.stop(settleDelay)
	}

	res := &adapter.AgentResult{
		Success: runErr == nil,
		Output:  strings.TrimSpace(stdout.String()),
		Files:   files,
	}
	if runErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		res.Error = strings.TrimSpace(stderr.String())
		var exitErr *exec.ExitError
		switch {
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			res.Error = fmt.Sprintf("timed out after %s", a.cfg.Timeout)
		case res.Error == "" && errors.As(runErr, &exitErr):
			res.Error = fmt.Sprintf("exit %d", exitErr.ExitCode())
		case res.Error == "":
			res.Error = runErr.Error()
		}
	}
	log.Info().Bool("success", res.Success).Int("files", len(files)).Dur("duration", time.Since(start)).Msg("coding agent finished")
	return res, nil
}

// limitedBuffer keeps the first max bytes and discards the rest.
type limitedBuffer struct {
	bytes.Buffer
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.Len(); room > 0 {
		if len(p) > room {
			b.Buffer.Write(p[:room])
		} else {
			b.Buffer.Write(p)
		}
	}
	return len(p), nil
}
