package engine

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/cfshim/internal/infrastructure/logging"
	"github.com/GriffinCanCode/cfshim/internal/shim"
)

// External pipes scripts to a node, deno or bun process on stdin and reads
// the answer from the last line of stdout.
type External struct {
	command string
	path    string
	args    []string
	opts    Options
	logger  *logging.Logger
}

// NewExternal resolves command in PATH.
func NewExternal(command string, opts Options) (*External, error) {
	opts = opts.withDefaults()
	path, err := exec.LookPath(command)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrRuntimeNotFound, command, err)
	}
	return &External{
		command: command,
		path:    path,
		args:    stdinArgs(command),
		opts:    opts,
		logger:  opts.Logger.Named("engine." + command),
	}, nil
}

// stdinArgs makes each runtime read its program from stdin.
func stdinArgs(command string) []string {
	switch command {
	case "deno", "bun":
		return []string{"run", "-"}
	default:
		return nil
	}
}

func (e *External) Name() string { return e.command }

func (e *External) Eval(ctx context.Context, script string) (string, error) {
	prelude, err := shim.Prelude(shim.Config{})
	if err != nil {
		return "", err
	}
	literal, err := sonic.MarshalString(script)
	if err != nil {
		return "", fmt.Errorf("engine: encode script: %w", err)
	}

	var b strings.Builder
	b.WriteString(prelude)
	b.WriteString("\nvar __result = (0, eval)(")
	b.WriteString(literal)
	b.WriteString(");\nif (__result !== undefined && __result !== null) console.log(String(__result));\n")

	out, err := e.run(ctx, b.String())
	if err != nil {
		return "", err
	}
	return lastLine(out), nil
}

func (e *External) Solve(ctx context.Context, job Job) (string, error) {
	prelude, err := shim.Prelude(job.shimConfig())
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(prelude)
	b.WriteString("\n")
	for _, script := range job.Scripts {
		b.WriteString(script)
		b.WriteString(";\n")
	}
	fmt.Fprintf(&b, "setTimeout(function () {\n\ttry {\n\t\tvar answer = %s;\n\t\tif (answer !== undefined && answer !== null) console.log(String(answer));\n\t} catch (e) {}\n}, %d);\n",
		job.answerExpr(), e.opts.AnswerDelay.Milliseconds())

	out, err := e.run(ctx, b.String())
	if err != nil {
		return "", err
	}
	answer := lastLine(out)
	if answer == "" {
		return "", ErrNoAnswer
	}
	return answer, nil
}

func (e *External) Close() error { return nil }

func (e *External) run(ctx context.Context, script string) (string, error) {
	if e.opts.Sandbox.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Sandbox.Timeout+e.opts.AnswerDelay)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, e.path, e.args...)
	cmd.Stdin = strings.NewReader(script)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("engine: %s: %w", e.command, ctx.Err())
		}
		return "", fmt.Errorf("engine: %s failed: %w: %s", e.command, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// lastLine skips console noise a challenge script may print before the
// answer.
func lastLine(out string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
