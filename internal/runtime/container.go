package runtime

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"sync"
)

// StartOptions contains parameters for launching an agent container.
type StartOptions struct {
	// Prompt is the task prompt handed to the agent.
	Prompt string
	// WorkingDir is the worktree mounted as the agent's working directory.
	WorkingDir string
	// PlanID and TaskID are passed through for container labeling.
	PlanID string
	TaskID string
	// Image is the sandbox image to run.
	Image string
	// Model is the model identifier, empty for the image default.
	Model string
	// Flags are extra arguments appended to the container start.
	Flags []string
}

// Process is a running agent container.
type Process interface {
	// Events returns the stream of parsed events. Closed on exit.
	Events() <-chan StreamEvent
	// Wait blocks until the process exits and returns its exit code.
	Wait() (int, error)
	// Kill terminates the process immediately. Idempotent.
	Kill() error
}

// ContainerRunner launches agent containers.
// This abstraction allows faking container execution in tests.
type ContainerRunner interface {
	// Start launches a container and begins streaming its events.
	Start(ctx context.Context, opts StartOptions) (Process, error)
}

// DockerRunner implements ContainerRunner by shelling out to docker run.
type DockerRunner struct{}

// NewDockerRunner creates a DockerRunner.
func NewDockerRunner() *DockerRunner {
	return &DockerRunner{}
}

// Start launches the agent container with the worktree bind-mounted as its
// working directory and stream-json output on stdout.
func (r *DockerRunner) Start(ctx context.Context, opts StartOptions) (Process, error) {
	args := []string{
		"run", "--rm",
		"-v", opts.WorkingDir + ":/workspace",
		"-w", "/workspace",
		"--label", "planfleet.plan=" + opts.PlanID,
		"--label", "planfleet.task=" + opts.TaskID,
	}
	args = append(args, opts.Flags...)
	args = append(args, opts.Image,
		"--output-format", "stream-json",
		"--print", "--verbose",
	)
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	args = append(args, "-p", opts.Prompt)

	proc := newContainerProcess(ctx)
	if err := proc.start("docker", args...); err != nil {
		return nil, err
	}
	return proc, nil
}

// containerProcess supervises one docker run invocation.
type containerProcess struct {
	cmd    *exec.Cmd
	ctx    context.Context
	cancel context.CancelFunc

	eventCh    chan StreamEvent
	stderrBuf  []byte
	done       chan struct{}
	stderrDone chan struct{}
	once       sync.Once
	mu         sync.Mutex
	started    bool
}

func newContainerProcess(ctx context.Context) *containerProcess {
	ctx, cancel := context.WithCancel(ctx)
	return &containerProcess{
		ctx:        ctx,
		cancel:     cancel,
		eventCh:    make(chan StreamEvent, 100),
		done:       make(chan struct{}),
		stderrDone: make(chan struct{}),
	}
}

// start launches the command and begins reading its output.
func (p *containerProcess) start(name string, args ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return fmt.Errorf("process already started")
	}

	p.cmd = exec.CommandContext(p.ctx, name, args...)

	stdout, err := p.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := p.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := p.cmd.Start(); err != nil {
		return fmt.Errorf("start container: %w", err)
	}
	p.started = true

	go p.readStdout(stdout)
	go p.readStderr(stderr)
	return nil
}

// readStdout reads and parses JSON events line by line.
func (p *containerProcess) readStdout(stdout interface{ Read([]byte) (int, error) }) {
	defer close(p.eventCh)
	defer close(p.done)

	scanner := bufio.NewScanner(stdout)
	// Large buffer for big JSON objects.
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		event, err := parseStreamEvent(line)
		if err != nil {
			event = StreamEvent{
				Type:  StreamEventError,
				Error: fmt.Sprintf("parse error: %v", err),
				Raw:   append([]byte(nil), line...),
			}
		}

		select {
		case p.eventCh <- event:
		case <-p.ctx.Done():
			return
		}
	}

	if err := scanner.Err(); err != nil && p.ctx.Err() == nil {
		p.eventCh <- StreamEvent{
			Type:  StreamEventError,
			Error: fmt.Sprintf("read error: %v", err),
		}
	}
}

// readStderr captures stderr for inclusion in failure errors.
func (p *containerProcess) readStderr(stderr interface{ Read([]byte) (int, error) }) {
	defer close(p.stderrDone)

	scanner := bufio.NewScanner(stderr)
	buf := make([]byte, 16*1024)
	scanner.Buffer(buf, 256*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		p.mu.Lock()
		p.stderrBuf = append(p.stderrBuf, line...)
		p.stderrBuf = append(p.stderrBuf, '\n')
		p.mu.Unlock()
	}
}

// Events returns the stream of parsed events.
func (p *containerProcess) Events() <-chan StreamEvent {
	return p.eventCh
}

// Wait blocks until the process exits and returns its exit code.
func (p *containerProcess) Wait() (int, error) {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return -1, fmt.Errorf("process not started")
	}
	p.mu.Unlock()

	// Let the output readers drain before reaping the process.
	<-p.done
	<-p.stderrDone

	err := p.cmd.Wait()
	code := p.cmd.ProcessState.ExitCode()
	if err != nil {
		p.mu.Lock()
		stderr := string(p.stderrBuf)
		p.mu.Unlock()
		if stderr != "" {
			return code, fmt.Errorf("container exited: %w; stderr: %s", err, stderr)
		}
		return code, fmt.Errorf("container exited: %w", err)
	}
	return code, nil
}

// Kill terminates the process immediately.
func (p *containerProcess) Kill() error {
	p.once.Do(func() {
		p.cancel()
	})

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started || p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

// Verify the implementations at compile time.
var (
	_ ContainerRunner = (*DockerRunner)(nil)
	_ Process         = (*containerProcess)(nil)
)
