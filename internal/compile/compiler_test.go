package compile

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/cinmou/singbox-rules/internal/errors"
)

// stubCompiler writes a shell script that mimics the external tool: it copies
// the input to the --output path, or exits 1 when the input contains "FAIL".
func stubCompiler(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub compiler script requires a POSIX shell")
	}

	script := `#!/bin/sh
# args: rule-set compile --output <out> <in>
out="$4"
in="$5"
if grep -q FAIL "$in"; then
  echo "compile error: $in" >&2
  exit 1
fi
cp "$in" "$out"
`
	path := filepath.Join(t.TempDir(), "fake-sing-box")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeInput(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestCompileAll(t *testing.T) {
	root := t.TempDir()
	jsonDir := filepath.Join(root, "output", "json")
	srsDir := filepath.Join(root, "output", "srs")
	if err := os.MkdirAll(jsonDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeInput(t, jsonDir, "a.json", `{"version":3}`)
	writeInput(t, jsonDir, "b.json", `{"version":3}`)
	writeInput(t, jsonDir, "notes.txt", "ignore me")

	d := NewDriver(stubCompiler(t), 0)
	n, err := d.CompileAll(context.Background(), jsonDir, srsDir)
	if err != nil {
		t.Fatalf("CompileAll failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 compiled files, got %d", n)
	}

	for _, name := range []string{"a.srs", "b.srs"} {
		if _, err := os.Stat(filepath.Join(srsDir, name)); err != nil {
			t.Errorf("Expected output %s: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(srsDir, "notes.srs")); !os.IsNotExist(err) {
		t.Error("Non-JSON input must not produce an output")
	}
}

func TestCompileAllEmptyInput(t *testing.T) {
	root := t.TempDir()
	jsonDir := filepath.Join(root, "output", "json")
	srsDir := filepath.Join(root, "output", "srs")
	if err := os.MkdirAll(jsonDir, 0o755); err != nil {
		t.Fatal(err)
	}

	d := NewDriver(stubCompiler(t), 0)
	n, err := d.CompileAll(context.Background(), jsonDir, srsDir)
	if err != nil {
		t.Fatalf("CompileAll failed on empty input: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected 0 compiled files, got %d", n)
	}
	if _, err := os.Stat(srsDir); err != nil {
		t.Errorf("Output directory should still be created: %v", err)
	}
}

func TestCompileAllMissingInputDir(t *testing.T) {
	root := t.TempDir()

	d := NewDriver(stubCompiler(t), 0)
	n, err := d.CompileAll(context.Background(),
		filepath.Join(root, "does-not-exist"), filepath.Join(root, "srs"))
	if err != nil {
		t.Fatalf("Missing input dir should behave like an empty one: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected 0 compiled files, got %d", n)
	}
}

func TestCompileAllExistingOutputDir(t *testing.T) {
	root := t.TempDir()
	jsonDir := filepath.Join(root, "json")
	srsDir := filepath.Join(root, "srs")
	if err := os.MkdirAll(jsonDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(srsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeInput(t, srsDir, "stale.srs", "old artifact")
	writeInput(t, jsonDir, "a.json", `{"version":3}`)

	d := NewDriver(stubCompiler(t), 0)
	if _, err := d.CompileAll(context.Background(), jsonDir, srsDir); err != nil {
		t.Fatalf("Existing non-empty output dir must not fail the run: %v", err)
	}
}

func TestCompileAllFailFast(t *testing.T) {
	root := t.TempDir()
	jsonDir := filepath.Join(root, "json")
	srsDir := filepath.Join(root, "srs")
	if err := os.MkdirAll(jsonDir, 0o755); err != nil {
		t.Fatal(err)
	}
	// Sorted order: a.json compiles, bad.json fails, z.json is never reached.
	writeInput(t, jsonDir, "a.json", `{"version":3}`)
	writeInput(t, jsonDir, "bad.json", `FAIL`)
	writeInput(t, jsonDir, "z.json", `{"version":3}`)

	d := NewDriver(stubCompiler(t), 0)
	n, err := d.CompileAll(context.Background(), jsonDir, srsDir)
	if err == nil {
		t.Fatal("Expected failure from bad.json")
	}
	if !errors.IsCode(err, errors.CodeCompile) {
		t.Errorf("Expected COMPILE_ERROR, got %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 file compiled before the failure, got %d", n)
	}

	if _, statErr := os.Stat(filepath.Join(srsDir, "a.srs")); statErr != nil {
		t.Error("a.srs should exist from before the failure")
	}
	if _, statErr := os.Stat(filepath.Join(srsDir, "z.srs")); !os.IsNotExist(statErr) {
		t.Error("z.srs must not exist, processing stops at the failure")
	}

	var de *errors.DomainError
	if !stderrors.As(err, &de) {
		t.Fatal("Expected DomainError")
	}
	if de.Context[errors.CtxExitCode] != 1 {
		t.Errorf("Expected exit code 1 in context, got %v", de.Context[errors.CtxExitCode])
	}
}

func TestCompileAllMissingCompiler(t *testing.T) {
	root := t.TempDir()
	jsonDir := filepath.Join(root, "json")
	if err := os.MkdirAll(jsonDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeInput(t, jsonDir, "a.json", `{"version":3}`)

	d := NewDriver(filepath.Join(root, "no-such-binary"), 0)
	_, err := d.CompileAll(context.Background(), jsonDir, filepath.Join(root, "srs"))
	if err == nil {
		t.Fatal("Expected error for missing compiler binary")
	}
	if !errors.IsCode(err, errors.CodeCompile) {
		t.Errorf("Expected COMPILE_ERROR, got %v", err)
	}
}

func TestCompileAllTimeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("stub compiler script requires a POSIX shell")
	}
	root := t.TempDir()
	jsonDir := filepath.Join(root, "json")
	if err := os.MkdirAll(jsonDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeInput(t, jsonDir, "a.json", `{"version":3}`)

	slow := filepath.Join(root, "slow-sing-box")
	if err := os.WriteFile(slow, []byte("#!/bin/sh\nsleep 60\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	d := NewDriver(slow, 100*time.Millisecond)
	start := time.Now()
	_, err := d.CompileAll(context.Background(), jsonDir, filepath.Join(root, "srs"))
	if err == nil {
		t.Fatal("Expected timeout error")
	}
	if time.Since(start) > 10*time.Second {
		t.Error("Timeout did not take effect")
	}
}
