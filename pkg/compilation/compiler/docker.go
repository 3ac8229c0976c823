package compiler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/platinummonkey/webcompile/pkg/compilation"
	"github.com/platinummonkey/webcompile/pkg/compilation/config"
	"github.com/sirupsen/logrus"
)

// Container mount points
const (
	containerInputDir  = "/input"
	containerOutputDir = "/output"
)

// DockerConfig holds container resource limits
type DockerConfig struct {
	MemoryLimit int64         // Memory limit in bytes (see config.DefaultDockerMemoryLimit)
	CPULimit    float64       // CPU limit (see config.DefaultDockerCPULimit)
	Timeout     time.Duration // Execution timeout (see config.DefaultCompilationTimeout)
	Env         map[string]string
}

// DefaultDockerConfig returns default container limits
func DefaultDockerConfig() DockerConfig {
	return DockerConfig{
		MemoryLimit: config.DefaultDockerMemoryLimit,
		CPULimit:    config.DefaultDockerCPULimit,
		Timeout:     config.DefaultCompilationTimeout,
	}
}

// DockerCompiler runs the language compiler inside a container. Inputs are
// staged into a read-only input mount and the assembly is copied back from
// the output mount.
type DockerCompiler struct {
	client   *client.Client
	registry *Registry
	config   DockerConfig
	logger   *logrus.Logger

	mu         sync.Mutex
	imageCache map[string]bool // Track pulled images
	cleanupIDs []string        // Container IDs to cleanup
}

// NewDockerCompiler connects to the Docker daemon and creates the service
func NewDockerCompiler(registry *Registry, cfg DockerConfig, logger *logrus.Logger) (*DockerCompiler, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDockerNotAvailable, err)
	}

	// Verify Docker is available
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("%w: %v", ErrDockerNotAvailable, err)
	}

	return newDockerCompiler(cli, registry, cfg, logger), nil
}

func newDockerCompiler(cli *client.Client, registry *Registry, cfg DockerConfig, logger *logrus.Logger) *DockerCompiler {
	defaults := DefaultDockerConfig()
	if cfg.MemoryLimit == 0 {
		cfg.MemoryLimit = defaults.MemoryLimit
	}
	if cfg.CPULimit == 0 {
		cfg.CPULimit = defaults.CPULimit
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaults.Timeout
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &DockerCompiler{
		client:     cli,
		registry:   registry,
		config:     cfg,
		logger:     logger,
		imageCache: make(map[string]bool),
	}
}

// Compile implements compilation.CompilerService
func (d *DockerCompiler) Compile(ctx context.Context, req *compilation.CompileRequest) (*compilation.CompileResponse, error) {
	spec, err := d.registry.Get(req.Language)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", req.Language, err)
	}

	fullImage := spec.FullDockerImage()
	if err := d.PullImage(ctx, fullImage); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImagePullFailed, err)
	}

	inputDir, err := os.MkdirTemp("", "webcompile-input-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create input directory: %w", err)
	}
	defer os.RemoveAll(inputDir)

	outputDir, err := os.MkdirTemp("", "webcompile-output-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	defer os.RemoveAll(outputDir)

	stage, err := stageInputs(req, inputDir)
	if err != nil {
		return nil, err
	}
	cmd := BuildArgs(spec, req, stage.containerPath)

	start := time.Now()
	containerID, err := d.createContainer(ctx, fullImage, cmd, inputDir, outputDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContainerFailed, err)
	}
	defer d.removeContainer(containerID)

	if err := d.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("%w: start failed: %v", ErrContainerFailed, err)
	}

	// Wait for container with timeout
	execCtx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	resp := &compilation.CompileResponse{}
	statusCh, errCh := d.client.ContainerWait(execCtx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return nil, fmt.Errorf("%w: wait failed: %v", ErrContainerFailed, err)
		}
	case status := <-statusCh:
		resp.ExitCode = int(status.StatusCode)
	case <-execCtx.Done():
		return nil, ErrTimeout
	}
	resp.Duration = time.Since(start)

	logs, err := d.client.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err == nil {
		var stdout, stderr bytes.Buffer
		stdcopy.StdCopy(&stdout, &stderr, logs)
		logs.Close()
		resp.Diagnostics = append(ParseDiagnostics(stdout.String()), ParseDiagnostics(stderr.String())...)
	}

	d.logger.WithFields(logrus.Fields{
		"language":    spec.ID,
		"image":       fullImage,
		"exit_code":   resp.ExitCode,
		"diagnostics": len(resp.Diagnostics),
		"duration":    resp.Duration,
	}).Debug("Container compiler finished")

	if resp.ExitCode != 0 || hasErrors(resp.Diagnostics) {
		return resp, nil
	}

	built := filepath.Join(outputDir, filepath.Base(req.OutputPath))
	if err := copyFile(built, req.OutputPath); err != nil {
		if os.IsNotExist(err) {
			resp.ExitCode = 1
			resp.Diagnostics = append(resp.Diagnostics, compilation.Diagnostic{
				Severity: compilation.SeverityError,
				Message:  "compiler produced no output",
			})
			return resp, nil
		}
		if os.IsPermission(err) {
			return nil, fmt.Errorf("%w: %v", compilation.ErrOutputLocked, err)
		}
		return nil, fmt.Errorf("failed to copy assembly: %w", err)
	}
	resp.AssemblyPath = req.OutputPath
	return resp, nil
}

// staging maps host paths to their location inside the input mount
type staging struct {
	paths map[string]string
}

func (s *staging) containerPath(hostPath string) string {
	if p, ok := s.paths[hostPath]; ok {
		return p
	}
	return hostPath
}

// stageInputs copies sources, resources and references into inputDir. The
// output path maps into the output mount.
func stageInputs(req *compilation.CompileRequest, inputDir string) (*staging, error) {
	s := &staging{paths: make(map[string]string)}
	s.paths[req.OutputPath] = containerOutputDir + "/" + filepath.Base(req.OutputPath)

	groups := []struct {
		sub   string
		files []string
	}{
		{"src", req.SourceFiles},
		{"res", req.Resources},
		{"refs", req.References},
	}
	for _, g := range groups {
		used := make(map[string]bool)
		for i, hostPath := range g.files {
			if _, done := s.paths[hostPath]; done {
				continue
			}
			name := filepath.Base(hostPath)
			if used[name] {
				name = fmt.Sprintf("%d_%s", i, name)
			}
			used[name] = true

			dst := filepath.Join(inputDir, g.sub, name)
			if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
				return nil, fmt.Errorf("failed to create staging directory: %w", err)
			}
			if err := copyFile(hostPath, dst); err != nil {
				return nil, fmt.Errorf("failed to stage %s: %w", hostPath, err)
			}
			s.paths[hostPath] = containerInputDir + "/" + g.sub + "/" + name
		}
	}
	return s, nil
}

// PullImage ensures the Docker image is available locally
func (d *DockerCompiler) PullImage(ctx context.Context, imageRef string) error {
	d.mu.Lock()
	cached := d.imageCache[imageRef]
	d.mu.Unlock()
	if cached {
		return nil
	}

	// Check if image exists locally
	if _, err := d.client.ImageInspect(ctx, imageRef); err == nil {
		d.markPulled(imageRef)
		return nil
	}

	pullCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	reader, err := d.client.ImagePull(pullCtx, imageRef, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %v", imageRef, err)
	}
	defer reader.Close()

	// Read pull output to completion
	io.Copy(io.Discard, reader)

	d.markPulled(imageRef)
	return nil
}

func (d *DockerCompiler) markPulled(imageRef string) {
	d.mu.Lock()
	d.imageCache[imageRef] = true
	d.mu.Unlock()
}

// createContainer creates a container with the input and output mounts
func (d *DockerCompiler) createContainer(ctx context.Context, imageRef string, cmd []string, inputDir, outputDir string) (string, error) {
	env := make([]string, 0, len(d.config.Env))
	for k, v := range d.config.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	cfg := &container.Config{
		Image:        imageRef,
		Cmd:          cmd,
		Env:          env,
		WorkingDir:   containerInputDir,
		AttachStdout: true,
		AttachStderr: true,
	}

	hostConfig := &container.HostConfig{
		Binds: []string{
			fmt.Sprintf("%s:%s:ro", inputDir, containerInputDir),
			fmt.Sprintf("%s:%s", outputDir, containerOutputDir),
		},
		Resources: container.Resources{
			Memory:   d.config.MemoryLimit,
			NanoCPUs: int64(d.config.CPULimit * 1e9),
		},
		NetworkMode: "none",
	}

	resp, err := d.client.ContainerCreate(ctx, cfg, hostConfig, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("failed to create container: %v", err)
	}

	d.mu.Lock()
	d.cleanupIDs = append(d.cleanupIDs, resp.ID)
	d.mu.Unlock()
	return resp.ID, nil
}

func (d *DockerCompiler) removeContainer(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := d.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil {
		d.logger.WithError(err).WithField("container", id).Warn("Failed to remove container")
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for i, cid := range d.cleanupIDs {
		if cid == id {
			d.cleanupIDs = append(d.cleanupIDs[:i], d.cleanupIDs[i+1:]...)
			break
		}
	}
}

// Cleanup removes containers left behind by failed removals
func (d *DockerCompiler) Cleanup(ctx context.Context) error {
	d.mu.Lock()
	ids := d.cleanupIDs
	d.cleanupIDs = nil
	d.mu.Unlock()

	for _, id := range ids {
		d.client.ContainerRemove(ctx, id, container.RemoveOptions{
			Force:         true,
			RemoveVolumes: true,
		})
	}
	return nil
}

// Close releases resources
func (d *DockerCompiler) Close() error {
	if err := d.Cleanup(context.Background()); err != nil {
		return err
	}
	if d.client != nil {
		return d.client.Close()
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
