// Package pcp wraps the external Performance Co-Pilot toolchain. The rest of
// the pipeline sees PCP as a narrow service: list the metrics an archive
// contains, probe a set of names for queryability, and stream sampled rows.
package pcp

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Scanner buffer for pmrep output. Rows carry one column per exported metric,
// so a single line can run to megabytes on metric-dense archives.
const maxLineBytes = 10 * 1024 * 1024

// Runner abstracts the pminfo/pmrep binaries so the validator and streamer
// can be tested without a PCP installation.
type Runner interface {
	// Inventory lists every metric name the archive reports, in tool order.
	// A non-zero exit from the inventory tool is an error.
	Inventory(ctx context.Context, archive string) ([]string, error)

	// Probe requests a single sample for the given names. It reports true
	// when the invocation succeeds with non-empty output. A failed or empty
	// probe is (false, nil); only a spawn-level problem returns an error.
	Probe(ctx context.Context, archive string, names []string) (bool, error)

	// Stream starts a sampling run over the whole archive and returns the
	// line stream. The caller consumes lines incrementally and then calls
	// Wait for the tool's exit status.
	Stream(ctx context.Context, archive string, step time.Duration, names []string) (SampleStream, error)
}

// SampleStream is one running invocation of the sampling tool.
type SampleStream interface {
	// Scan advances to the next output line, like bufio.Scanner.
	Scan() bool
	// Text returns the current line.
	Text() string
	// Err returns the first error encountered while reading.
	Err() error
	// Wait blocks until the tool exits and returns its exit error, if any.
	Wait() error
}

// ExecRunner shells out to the real PCP binaries.
type ExecRunner struct{}

var _ Runner = ExecRunner{}

func (ExecRunner) Inventory(ctx context.Context, archive string) ([]string, error) {
	cmd := exec.CommandContext(ctx, "pminfo", "-a", archive)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("pminfo failed: %w, output: %s", err, strings.TrimSpace(string(output)))
	}

	lines := strings.Split(string(output), "\n")
	names := make([]string, 0, len(lines))
	for _, line := range lines {
		if name := strings.TrimSpace(line); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

func (ExecRunner) Probe(ctx context.Context, archive string, names []string) (bool, error) {
	args := []string{"-a", archive, "-s", "1", "-o", "csv", "--ignore-unknown"}
	args = append(args, names...)

	cmd := exec.CommandContext(ctx, "pmrep", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			// The tool ran and rejected the request: probe result, not a fault.
			return false, nil
		}
		return false, fmt.Errorf("failed to run pmrep: %w", err)
	}
	return len(strings.TrimSpace(string(output))) > 0, nil
}

func (ExecRunner) Stream(ctx context.Context, archive string, step time.Duration, names []string) (SampleStream, error) {
	args := []string{
		"-a", archive,
		"-t", fmt.Sprintf("%dsec", int(step.Seconds())),
		"-o", "csv",
		"-U",
		"--ignore-unknown",
	}
	args = append(args, names...)

	cmd := exec.CommandContext(ctx, "pmrep", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start pmrep: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	return &execStream{scanner: scanner, cmd: cmd}, nil
}

type execStream struct {
	scanner *bufio.Scanner
	cmd     *exec.Cmd
}

func (s *execStream) Scan() bool   { return s.scanner.Scan() }
func (s *execStream) Text() string { return s.scanner.Text() }
func (s *execStream) Err() error   { return s.scanner.Err() }
func (s *execStream) Wait() error  { return s.cmd.Wait() }
