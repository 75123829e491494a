// Package pyenv queries a Python interpreter for its module search path.
package pyenv

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const queryTimeout = 10 * time.Second

const sysPathScript = "import sys\nfor p in sys.path:\n    print(p)\n"

// SysPath runs python and returns the non-empty entries of its sys.path in
// order.
func SysPath(ctx context.Context, python string) ([]string, error) {
	stdout, stderr, err := runPython(ctx, python, "-c", sysPathScript)
	if err != nil {
		if stderr != "" {
			return nil, fmt.Errorf("%s failed: %s", python, stderr)
		}
		return nil, err
	}
	return parseLines(stdout), nil
}

func runPython(ctx context.Context, python string, args ...string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, python, args...)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		stderrText := strings.TrimSpace(stderr.String())
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, stderrText, fmt.Errorf("%s timed out after %s", python, queryTimeout)
		}
		return nil, stderrText, fmt.Errorf("failed to run %s: %w", python, err)
	}

	return stdout.Bytes(), strings.TrimSpace(stderr.String()), nil
}

func parseLines(out []byte) []string {
	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}
