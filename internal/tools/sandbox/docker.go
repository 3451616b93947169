package sandbox

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// Resource limits and image selection for the Docker-backed runner. Grounded
// on internal/container/manager.go's DockerManager, but run one-shot
// containers per execution instead of a long-lived per-user container: a
// code-execution tool call has no session state worth keeping warm between
// calls the way an interactive playground shell does.
const (
	pythonImage      = "python:3.12-slim"
	nodeImage        = "node:20-slim"
	containerUser    = "1000:1000"
	workDir          = "/work"
	memoryLimitBytes = 256 * 1024 * 1024
	cpuQuota         = 50000 // 0.5 CPU, matches cpu.cfs_quota_us at the default 100ms period
	pidsLimit        = 128
	stopTimeoutSecs  = 5
)

// dockerRunner executes code inside a disposable container: no network, a
// memory/CPU/PID ceiling, and the workspace directory bind-mounted so
// set_result(files=[...]) output lands back on the host the same way it
// does for subprocessRunner.
type dockerRunner struct {
	cli *client.Client
}

// newDockerRunner probes for a reachable Docker daemon and returns nil,
// false if none is found, so callers can fall back to subprocessRunner
// without the caller needing to know anything about Docker itself.
func newDockerRunner() (*dockerRunner, bool) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		slog.Debug("docker daemon not reachable, sandbox falls back to subprocess execution", "error", err)
		return nil, false
	}
	return &dockerRunner{cli: cli}, true
}

func (r *dockerRunner) run(ctx context.Context, req runRequest) runResult {
	ctx, cancel := context.WithTimeout(ctx, req.timeout)
	defer cancel()

	var image, bin, prelude, postlude, ext string
	switch req.runtime {
	case "node":
		image, bin, prelude, postlude, ext = nodeImage, "node", jsPrelude, jsPostlude, "sandbox-*.js"
	default:
		image, bin, prelude, postlude, ext = pythonImage, "python3", pyPrelude, pyPostlude, "sandbox-*.py"
	}

	script := prelude + "\n" + req.code + "\n" + postlude
	tmpFile, err := os.CreateTemp(req.workspaceDir, ext)
	if err != nil {
		return runResult{err: "create temp file: " + err.Error(), exitCode: -1}
	}
	tmpName := tmpFile.Name()
	defer os.Remove(tmpName)
	if _, err := tmpFile.WriteString(script); err != nil {
		tmpFile.Close()
		return runResult{err: "write script: " + err.Error(), exitCode: -1}
	}
	tmpFile.Close()
	scriptName := tmpName[strings.LastIndexByte(tmpName, os.PathSeparator)+1:]

	config := &container.Config{
		Image:      image,
		Cmd:        []string{bin, workDir + "/" + scriptName},
		User:       containerUser,
		WorkingDir: workDir,
		Env:        []string{"LANG=en_US.UTF-8"},
	}
	hostConfig := &container.HostConfig{
		NetworkMode: "none",
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: req.workspaceDir,
			Target: workDir,
		}},
		Resources: container.Resources{
			Memory:    memoryLimitBytes,
			CPUQuota:  cpuQuota,
			PidsLimit: ptr(int64(pidsLimit)),
		},
	}

	created, err := r.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, "")
	if err != nil {
		return runResult{err: "create container: " + err.Error(), exitCode: -1}
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		timeout := stopTimeoutSecs
		_ = r.cli.ContainerStop(stopCtx, created.ID, container.StopOptions{Timeout: &timeout})
		_ = r.cli.ContainerRemove(stopCtx, created.ID, container.RemoveOptions{Force: true})
	}()

	if err := r.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return runResult{err: "start container: " + err.Error(), exitCode: -1}
	}

	waitCh, errCh := r.cli.ContainerWait(ctx, created.ID, container.WaitConditionNotRunning)
	var exitCode int
	select {
	case err := <-errCh:
		if ctx.Err() == context.DeadlineExceeded {
			return runResult{err: fmt.Sprintf("execution timed out after %s", req.timeout), exitCode: -1}
		}
		if err != nil {
			return runResult{err: "wait container: " + err.Error(), exitCode: -1}
		}
	case status := <-waitCh:
		exitCode = int(status.StatusCode)
	}

	logs, err := r.cli.ContainerLogs(ctx, created.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return runResult{err: "read logs: " + err.Error(), exitCode: exitCode}
	}
	defer logs.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	_, _ = stdcopy.StdCopy(&stdoutBuf, &stderrBuf, logs)

	var resultJSON string
	var resultFiles []string
	scanner := bufio.NewScanner(strings.NewReader(stdoutBuf.String()))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		var msg struct {
			Type  string   `json:"type"`
			Data  any      `json:"data"`
			Files []string `json:"files"`
		}
		if json.Unmarshal([]byte(line), &msg) != nil {
			continue
		}
		switch msg.Type {
		case "result":
			b, _ := json.Marshal(msg.Data)
			resultJSON = string(b)
		case "result_files":
			resultFiles = msg.Files
		}
	}

	res := runResult{stdout: resultJSON, stderr: stderrBuf.String(), exitCode: exitCode, files: resultFiles}
	if exitCode != 0 {
		res.err = res.stderr
	}
	return res
}

func ptr[T any](v T) *T { return &v }
