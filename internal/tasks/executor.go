package tasks

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/nx/nxclaw/internal/shared"
)

const maxTaskOutputBytes = 16 * 1024

// Executor runs a single shell command to completion and reports its result.
// Both HostExecutor and DockerExecutor satisfy the same launch protocol:
// stdout/stderr captured and redacted, exit code, and any spawn error.
type Executor interface {
	Exec(ctx context.Context, command, workDir string) (stdout, stderr string, exitCode int, err error)
}

// denyList blocks destructive commands regardless of executor, matching the
// launch protocol's guard before any child is spawned.
var denyList = map[string]struct{}{
	"rm": {}, "rmdir": {}, "mkfs": {}, "dd": {}, "shutdown": {}, "reboot": {},
	"halt": {}, "poweroff": {}, "kill": {}, "killall": {}, "pkill": {},
	"sudo": {}, "su": {}, "chmod": {}, "chown": {},
}

func checkDenyList(command string) error {
	for _, op := range []string{";", "$(", "`"} {
		if strings.Contains(command, op) {
			return fmt.Errorf("tasks: command contains disallowed operator %q", op)
		}
	}
	for _, seg := range splitCommandSegments(command) {
		for _, tok := range strings.Fields(seg) {
			if _, blocked := denyList[tok]; blocked {
				return fmt.Errorf("tasks: command %q is on the deny list", tok)
			}
		}
	}
	return nil
}

func splitCommandSegments(cmd string) []string {
	var segments []string
	current := cmd
	for current != "" {
		minIdx := len(current)
		matchLen := 0
		for _, op := range []string{"||", "&&", "|"} {
			if idx := strings.Index(current, op); idx >= 0 && idx < minIdx {
				minIdx = idx
				matchLen = len(op)
			}
		}
		if matchLen > 0 {
			if seg := strings.TrimSpace(current[:minIdx]); seg != "" {
				segments = append(segments, seg)
			}
			current = current[minIdx+matchLen:]
		} else {
			if seg := strings.TrimSpace(current); seg != "" {
				segments = append(segments, seg)
			}
			break
		}
	}
	return segments
}

// HostExecutor runs the command directly via `sh -c` on the host.
type HostExecutor struct{}

func (HostExecutor) Exec(ctx context.Context, command, workDir string) (stdout, stderr string, exitCode int, err error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	if workDir != "" {
		cmd.Dir = workDir
	}
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	runErr := cmd.Run()
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return "", "", -1, runErr
		}
	}
	return truncateOutput(shared.Redact(outBuf.String())), truncateOutput(shared.Redact(errBuf.String())), exitCode, nil
}

func truncateOutput(s string) string {
	if len(s) <= maxTaskOutputBytes {
		return s
	}
	return s[:maxTaskOutputBytes] + "\n... (truncated)"
}

// DockerExecutor runs each command in a fresh, auto-removed container bound
// to a fixed workspace directory, used when Config.SandboxImage is set.
type DockerExecutor struct {
	client      *client.Client
	image       string
	memoryBytes int64
	networkMode string
	workspace   string
}

// NewDockerExecutor dials the local Docker daemon via the environment.
func NewDockerExecutor(cfg Config) (*DockerExecutor, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("tasks: docker client: %w", err)
	}
	memoryMB := cfg.SandboxMemoryMB
	if memoryMB <= 0 {
		memoryMB = 512
	}
	networkMode := cfg.SandboxNetworkMode
	if networkMode == "" {
		networkMode = "none"
	}
	return &DockerExecutor{
		client:      cli,
		image:       cfg.SandboxImage,
		memoryBytes: memoryMB * 1024 * 1024,
		networkMode: networkMode,
		workspace:   cfg.SandboxWorkspace,
	}, nil
}

func (d *DockerExecutor) Exec(ctx context.Context, command, workDir string) (stdout, stderr string, exitCode int, err error) {
	resp, err := d.client.ContainerCreate(ctx, &container.Config{
		Image:      d.image,
		Cmd:        []string{"sh", "-c", command},
		WorkingDir: "/workspace",
	}, &container.HostConfig{
		Resources:   container.Resources{Memory: d.memoryBytes},
		NetworkMode: container.NetworkMode(d.networkMode),
		Binds:       []string{fmt.Sprintf("%s:/workspace", d.workspace)},
		AutoRemove:  true,
	}, nil, nil, "")
	if err != nil {
		return "", "", -1, fmt.Errorf("tasks: create container: %w", err)
	}
	id := resp.ID

	if err := d.client.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return "", "", -1, fmt.Errorf("tasks: start container: %w", err)
	}

	statusCh, errCh := d.client.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return "", "", -1, fmt.Errorf("tasks: wait container: %w", err)
	case status := <-statusCh:
		exitCode = int(status.StatusCode)
	case <-ctx.Done():
		_ = d.client.ContainerKill(ctx, id, "SIGKILL")
		return "", "command timed out", -1, ctx.Err()
	}

	logs, err := d.client.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", "", exitCode, fmt.Errorf("tasks: container logs: %w", err)
	}
	defer logs.Close()

	var outBuf, errBuf bytes.Buffer
	_, _ = stdcopy.StdCopy(&outBuf, &errBuf, logs)
	return truncateOutput(shared.Redact(outBuf.String())), truncateOutput(shared.Redact(errBuf.String())), exitCode, nil
}

func (d *DockerExecutor) Close() error { return d.client.Close() }
