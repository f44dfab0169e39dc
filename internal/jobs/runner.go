package jobs

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// RunResult is what a Runner reports for a finished job. LogPath points
// at the run's log file once one exists, on failure too.
type RunResult struct {
	AvatarURL string
	LogPath   string
}

// CommandRunner launches the inference script as a subprocess, streaming
// its combined output to a per-job log file under the output dir.
type CommandRunner struct {
	Python     string
	ScriptPath string
	BaseModel  string
	WorkDir    string
}

// Run blocks until the subprocess exits. A zero exit code yields the
// avatar artifact path; anything else is a failure.
func (r *CommandRunner) Run(ctx context.Context, jobID string, req Request) (RunResult, error) {
	outputDir := req.OutputDir
	if outputDir == "" {
		outputDir = os.TempDir()
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return RunResult{}, fmt.Errorf("create output dir: %w", err)
	}

	logPath := filepath.Join(outputDir, jobID+".log")
	logFile, err := os.Create(logPath)
	if err != nil {
		return RunResult{}, fmt.Errorf("create job log: %w", err)
	}
	defer logFile.Close()

	args := []string{
		r.ScriptPath,
		"--data_dir", req.DataDir,
		"--output_dir", outputDir,
	}
	if r.BaseModel != "" {
		args = append(args, "--base_model_path", r.BaseModel)
	}
	args = append(args, req.ExtraArgs...)

	cmd := exec.CommandContext(ctx, r.Python, args...)
	cmd.Dir = r.WorkDir
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Run(); err != nil {
		return RunResult{LogPath: logPath}, fmt.Errorf("inference failed: %w", err)
	}

	return RunResult{
		AvatarURL: filepath.Join(outputDir, jobID+".glb"),
		LogPath:   logPath,
	}, nil
}

// StubRunner completes after a fixed delay with a canned result. Used for
// local development and tests.
type StubRunner struct {
	Delay     time.Duration
	AvatarURL string
	LogPath   string
	Err       error
}

func (r *StubRunner) Run(ctx context.Context, jobID string, req Request) (RunResult, error) {
	if r.Delay > 0 {
		timer := time.NewTimer(r.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return RunResult{}, ctx.Err()
		case <-timer.C:
		}
	}
	if r.Err != nil {
		return RunResult{LogPath: r.LogPath}, r.Err
	}
	res := RunResult{AvatarURL: r.AvatarURL, LogPath: r.LogPath}
	if res.AvatarURL == "" {
		res.AvatarURL = "https://cdn.fitroom.dev/avatars/" + jobID + ".glb"
	}
	return res, nil
}
