// Package compile drives the external sing-box compiler over a directory of
// rule-set JSON files.
package compile

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cinmou/singbox-rules/internal/errors"
	"github.com/cinmou/singbox-rules/internal/observability"
)

// Driver invokes the external compiler once per input file, strictly
// sequentially, aborting on the first failure. The external tool's output
// streams are passed through untouched; its diagnostics are the only
// diagnostics the user gets for a failed compile.
type Driver struct {
	command string
	timeout time.Duration // 0 disables the per-invocation timeout
	stdout  io.Writer
	stderr  io.Writer
}

func NewDriver(command string, timeout time.Duration) *Driver {
	return &Driver{
		command: command,
		timeout: timeout,
		stdout:  os.Stdout,
		stderr:  os.Stderr,
	}
}

// CompileAll compiles every *.json file directly inside jsonDir into srsDir,
// creating srsDir first. Inputs are processed in sorted name order so a
// partial failure always leaves the same prefix behind. It returns the number
// of files compiled.
func (d *Driver) CompileAll(ctx context.Context, jsonDir, srsDir string) (int, error) {
	ctx, span := observability.Tracer.Start(ctx, "driver.CompileAll")
	defer span.End()

	if err := os.MkdirAll(srsDir, 0o755); err != nil {
		return 0, errors.Wrap(err, errors.CodeEnv, "create srs output directory")
	}

	inputs, err := listInputs(jsonDir)
	if err != nil {
		return 0, err
	}

	for i, name := range inputs {
		inPath := filepath.Join(jsonDir, name)
		outPath := filepath.Join(srsDir, strings.TrimSuffix(name, ".json")+".srs")

		if err := d.compileOne(ctx, inPath, outPath); err != nil {
			return i, err
		}
		slog.Debug("rule-set compiled", "input", inPath, "output", outPath)
	}

	return len(inputs), nil
}

// listInputs returns the sorted *.json entries directly inside dir. A missing
// directory yields an empty set, matching shell glob behavior.
func listInputs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.CodeEnv, "enumerate json input directory")
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(entry.Name(), ".json") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (d *Driver) compileOne(ctx context.Context, inPath, outPath string) error {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, d.command, "rule-set", "compile", "--output", outPath, inPath)
	cmd.Stdout = d.stdout
	cmd.Stderr = d.stderr

	start := time.Now()
	err := cmd.Run()
	observability.CompileDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		observability.CompileFailuresTotal.Inc()
		derr := errors.AddContext(
			errors.Wrap(err, errors.CodeCompile, "compile rule-set"),
			errors.CtxPath, inPath)
		var exitErr *exec.ExitError
		if stderrors.As(err, &exitErr) {
			derr = errors.AddContext(derr, errors.CtxExitCode, exitErr.ExitCode())
		}
		return derr
	}
	return nil
}
