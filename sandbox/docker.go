package sandbox

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"go.opentelemetry.io/otel/codes"

	"github.com/wishub/skillhub/internal/jsonrepair"
	"github.com/wishub/skillhub/internal/telemetry"
	"github.com/wishub/skillhub/internal/util"
	"github.com/wishub/skillhub/log"
	"github.com/wishub/skillhub/skill"
)

var sandboxLog = log.Named("sandbox")

// DockerRunner is a Runner backed by the Docker Engine API. Every call to
// Execute starts one fresh container and removes it on every exit path —
// success, error, timeout, or panic recovery — per the isolation policy's
// hard invariant.
type DockerRunner struct {
	client *dockerclient.Client
	cache  imageCache
}

// DockerRunnerOption configures NewDockerRunner.
type DockerRunnerOption func(*DockerRunner)

// WithImageCache overrides the default process-local image cache, e.g.
// with a Redis-backed cache shared across a fleet of runner hosts.
func WithImageCache(c imageCache) DockerRunnerOption {
	return func(r *DockerRunner) { r.cache = c }
}

// NewDockerRunner connects to the Docker daemon via the standard
// environment (DOCKER_HOST et al.) and negotiates the API version.
func NewDockerRunner(opts ...DockerRunnerOption) (*DockerRunner, error) {
	cli, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	r := &DockerRunner{client: cli, cache: newMemoryImageCache()}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Close releases the underlying Docker client connection.
func (r *DockerRunner) Close() error { return r.client.Close() }

// Execute implements Runner.
func (r *DockerRunner) Execute(
	ctx context.Context,
	skillID string,
	language skill.Language,
	codeBlob []byte,
	inputs map[string]any,
	timeout time.Duration,
) (result RunResult, err error) {
	ctx, span := telemetry.Tracer.Start(ctx, telemetry.SpanSandboxExecute)
	span.SetAttributes(
		telemetry.KeySkillID.String(skillID),
		telemetry.KeyLanguage.String(string(language)),
	)
	defer span.End()

	spec, err := resolveLanguage(language)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return RunResult{Status: RunError, ErrorMessage: err.Error()}, nil
	}

	if err := r.ensureImage(ctx, spec.Image); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return RunResult{Status: RunError, ErrorMessage: fmt.Sprintf("pulling image: %v", err)}, nil
	}

	inputsJSON, err := json.Marshal(inputs)
	if err != nil {
		return RunResult{Status: RunError, ErrorMessage: fmt.Sprintf("encoding inputs: %v", err)}, nil
	}

	containerName := fmt.Sprintf("skill_%s_%s", sanitizeName(skillID), util.NewUUIDString()[:8])
	containerID, err := r.createContainer(ctx, containerName, spec)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return RunResult{Status: RunError, ErrorMessage: fmt.Sprintf("creating container: %v", err)}, nil
	}
	span.SetAttributes(telemetry.KeyContainerID.String(containerID))

	// Hard invariant: the container is always removed, on every exit path.
	defer func() {
		removeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if rmErr := r.client.ContainerRemove(removeCtx, containerID,
			container.RemoveOptions{Force: true}); rmErr != nil {
			log.With(sandboxLog, "container_id", containerID, "skill_id", skillID).Warnf("failed to remove container: %v", rmErr)
		}
	}()

	if err := r.stageWorkspace(ctx, containerID, spec, codeBlob, inputsJSON); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return RunResult{Status: RunError, ErrorMessage: fmt.Sprintf("staging workspace: %v", err), ContainerID: containerID}, nil
	}

	if err := r.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return RunResult{Status: RunError, ErrorMessage: fmt.Sprintf("starting container: %v", err), ContainerID: containerID}, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	statusCh, errCh := r.client.ContainerWait(waitCtx, containerID, container.WaitConditionNotRunning)
	var exitCode int64
	select {
	case <-waitCtx.Done():
		_ = r.client.ContainerKill(context.Background(), containerID, "KILL")
		return RunResult{Status: RunTimeout, ContainerID: containerID}, nil
	case waitErr := <-errCh:
		if waitErr != nil {
			_ = r.client.ContainerKill(context.Background(), containerID, "KILL")
			return RunResult{Status: RunTimeout, ContainerID: containerID}, nil
		}
	case st := <-statusCh:
		exitCode = st.StatusCode
	}

	stdout, stderr, err := r.containerLogs(context.Background(), containerID)
	if err != nil {
		return RunResult{Status: RunError, ErrorMessage: fmt.Sprintf("reading logs: %v", err), ContainerID: containerID}, nil
	}

	if exitCode != 0 {
		msg := strings.TrimSpace(stderr)
		if msg == "" {
			msg = fmt.Sprintf("exit code %d", exitCode)
		}
		return RunResult{Status: RunError, ErrorMessage: msg, ContainerID: containerID}, nil
	}

	outputs, err := parseLastLineJSON(stdout)
	if err != nil {
		return RunResult{Status: RunError, ErrorMessage: err.Error(), ContainerID: containerID}, nil
	}
	return RunResult{Status: RunSuccess, Outputs: outputs, ContainerID: containerID}, nil
}

// ensureImage pulls spec's image if it hasn't already been pulled on this
// host, per protocol step (a).
func (r *DockerRunner) ensureImage(ctx context.Context, imageRef string) error {
	if r.cache.Pulled(ctx, imageRef) {
		return nil
	}
	reader, err := r.client.ImagePull(ctx, imageRef, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return err
	}
	r.cache.MarkPulled(ctx, imageRef)
	return nil
}

func (r *DockerRunner) createContainer(ctx context.Context, name string, spec languageSpec) (string, error) {
	cfg := &container.Config{
		Image:      spec.Image,
		Cmd:        spec.Command,
		WorkingDir: workspaceDir,
		Env:        []string{sandboxEnvVar},
		Tty:        false,
	}
	hostCfg := &container.HostConfig{
		NetworkMode:    "none",
		ReadonlyRootfs: true,
		AutoRemove:     false, // removed explicitly so logs can be read first
		Resources: container.Resources{
			Memory:    memoryLimitBytes,
			CPUShares: cpuShareWeight,
		},
		Tmpfs: map[string]string{workspaceDir: "rw,exec"},
	}
	resp, err := r.client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

// stageWorkspace copies the decoded code blob and inputs.json into the
// container's scratch workspace mount via CopyToContainer, per protocol
// step (b).
func (r *DockerRunner) stageWorkspace(ctx context.Context, containerID string, spec languageSpec, code, inputsJSON []byte) error {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	files := map[string][]byte{
		spec.CodeFile: code,
		"inputs.json": inputsJSON,
	}
	for name, content := range files {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if _, err := tw.Write(content); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return r.client.CopyToContainer(ctx, containerID, workspaceDir, &buf, container.CopyToContainerOptions{})
}

func (r *DockerRunner) containerLogs(ctx context.Context, containerID string) (stdout, stderr string, err error) {
	reader, err := r.client.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", "", err
	}
	defer reader.Close()

	var outBuf, errBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&outBuf, &errBuf, reader); err != nil {
		return "", "", err
	}
	return outBuf.String(), errBuf.String(), nil
}

// parseLastLineJSON implements protocol step (f): the bootstrap prints the
// result as the final line on stdout. jsonrepair salvages a truncated or
// lightly malformed line before giving up.
func parseLastLineJSON(stdout string) (map[string]any, error) {
	lines := strings.Split(strings.TrimRight(stdout, "\n"), "\n")
	if len(lines) == 0 {
		return nil, fmt.Errorf("no output produced")
	}
	last := strings.TrimSpace(lines[len(lines)-1])
	if last == "" {
		return nil, fmt.Errorf("no output produced")
	}

	var outputs map[string]any
	if err := json.Unmarshal([]byte(last), &outputs); err == nil {
		return outputs, nil
	}

	repaired, err := jsonrepair.Repair([]byte(last))
	if err != nil {
		return nil, fmt.Errorf("parsing output: %w", err)
	}
	if err := json.Unmarshal(repaired, &outputs); err != nil {
		return nil, fmt.Errorf("parsing repaired output: %w", err)
	}
	return outputs, nil
}

func sanitizeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
