package render

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cnc5/glacier/pkg/log"
	"github.com/cnc5/glacier/pkg/types"
)

// killPollInterval bounds how long a running render keeps going after Kill()
const killPollInterval = 250 * time.Millisecond

// StateSink receives every task state transition before the transition call
// returns. Implemented by the auth manager, which persists the new state,
// logs it, and publishes a lifecycle event.
type StateSink interface {
	Update(taskID string, state types.TaskState)
}

// Options configures supervisor construction
type Options struct {
	UploadFacility string
	BlenderBin     string
	NvidiaSMIPath  string // defaults to NvidiaSMIPath when empty
}

// Supervisor owns one render task: the child process, its progress line, the
// kill flag, and the packaged artifact path. It is the only writer of the
// task's state after creation.
type Supervisor struct {
	taskID        string
	blendFilePath string
	startFrame    string
	endFrame      string
	blenderBin    string
	outputDir     string
	device        types.RenderDevice
	sink          StateSink
	logger        zerolog.Logger

	mu       sync.Mutex
	state    types.TaskState
	lastLine string
	tarPath  string
	killed   bool
	started  bool
	packed   bool
}

// NewSupervisor creates the per-task output directory, picks the compute
// device, and reports SCHEDULED through the sink. Frame bounds arrive as
// digit strings validated by the API layer.
func NewSupervisor(taskID, blendFilePath, startFrame, endFrame string, sink StateSink, opts Options) (*Supervisor, error) {
	smiPath := opts.NvidiaSMIPath
	if smiPath == "" {
		smiPath = NvidiaSMIPath
	}

	s := &Supervisor{
		taskID:        taskID,
		blendFilePath: blendFilePath,
		startFrame:    startFrame,
		endFrame:      endFrame,
		blenderBin:    opts.BlenderBin,
		outputDir:     filepath.Join(opts.UploadFacility, taskID),
		device:        DetectDevice(smiPath),
		sink:          sink,
		logger:        log.WithTaskID(taskID),
		state:         types.TaskStateCreated,
	}

	if err := os.Mkdir(s.outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	s.setState(types.TaskStateScheduled)
	return s, nil
}

// TaskID returns the supervised task's id
func (s *Supervisor) TaskID() string {
	return s.taskID
}

// State returns the current task state
func (s *Supervisor) State() types.TaskState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastLine returns the most recent non-empty output line of the render
// binary. This is the client-visible progress proxy.
func (s *Supervisor) LastLine() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastLine
}

// TarPath returns the packaged artifact path, empty until PACKED
func (s *Supervisor) TarPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tarPath
}

// Device returns the compute device chosen at construction
func (s *Supervisor) Device() types.RenderDevice {
	return s.device
}

func (s *Supervisor) setState(state types.TaskState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()

	s.sink.Update(s.taskID, state)
}

// Render spawns the render binary and transitions SCHEDULED to RUNNING. The
// child is supervised by a dedicated goroutine, so Render returns
// immediately. Calling it again, or in any state other than SCHEDULED, is a
// no-op.
func (s *Supervisor) Render() {
	s.mu.Lock()
	if s.started || s.state != types.TaskStateScheduled {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	// The output path must end with a separator: blender treats a bare
	// path as a filename prefix, not a directory.
	cmd := exec.Command(s.blenderBin,
		"-b", s.blendFilePath,
		"-E", "CYCLES",
		"-o", s.outputDir+string(os.PathSeparator),
		"-noaudio",
		"-s", s.startFrame,
		"-e", s.endFrame,
		"-a",
		"--", "--cycles-device", string(s.device),
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to open render output pipe")
		s.setState(types.TaskStateFailedBlender)
		return
	}
	// Merge stderr into the stdout pipe; the line stream is opaque anyway.
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		s.logger.Error().Err(err).Msg("failed to start render binary")
		s.setState(types.TaskStateFailedBlender)
		return
	}

	s.logger.Info().
		Str("device", string(s.device)).
		Int("pid", cmd.Process.Pid).
		Msg("render started")
	s.setState(types.TaskStateRunning)

	lineCh := make(chan struct{})
	go s.consumeOutput(stdout, lineCh)
	go s.supervise(cmd, lineCh)
}

// consumeOutput overwrites lastLine with each non-empty line of the child's
// merged output until the stream closes.
func (s *Supervisor) consumeOutput(r io.Reader, done chan<- struct{}) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" {
			continue
		}
		s.mu.Lock()
		s.lastLine = line
		s.mu.Unlock()
	}
	close(done)
}

// supervise blocks until the child exits or the kill flag is observed
func (s *Supervisor) supervise(cmd *exec.Cmd, lineCh <-chan struct{}) {
	waitCh := make(chan error, 1)
	go func() {
		<-lineCh // drain the pipe before Wait closes it
		waitCh <- cmd.Wait()
	}()

	ticker := time.NewTicker(killPollInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-waitCh:
			if s.isKilled() {
				s.logger.Info().Msg("render killed")
				s.setState(types.TaskStateKilled)
				return
			}
			if err != nil {
				s.logger.Error().Err(err).Msg("render binary failed")
				s.setState(types.TaskStateFailedBlender)
				return
			}
			s.logger.Info().Msg("render completed")
			s.setState(types.TaskStateCompleted)
			return

		case <-ticker.C:
			if s.isKilled() {
				if cmd.Process != nil {
					_ = cmd.Process.Kill()
				}
				<-waitCh
				s.logger.Info().Msg("render killed")
				s.setState(types.TaskStateKilled)
				return
			}
		}
	}
}

func (s *Supervisor) isKilled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.killed
}

// Kill requests cooperative termination. Idempotent; a no-op once the task is
// in a terminal state.
func (s *Supervisor) Kill() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return
	}
	s.killed = true
}

// PackOutput tars the output directory into <scratch>/<task_id>.tar.gz.
// Only meaningful in COMPLETED; invoked by the scheduler, synchronously.
func (s *Supervisor) PackOutput() {
	s.mu.Lock()
	if s.packed || s.state != types.TaskStateCompleted {
		s.mu.Unlock()
		return
	}
	s.packed = true
	tarPath := s.outputDir + ".tar.gz"
	s.mu.Unlock()

	s.setState(types.TaskStateCompressing)

	cmd := exec.Command("tar", "-zcpf", tarPath, "-C", filepath.Dir(s.outputDir), filepath.Base(s.outputDir))
	if out, err := cmd.CombinedOutput(); err != nil {
		s.logger.Error().Err(err).Str("output", strings.TrimSpace(string(out))).Msg("failed to pack output")
		s.setState(types.TaskStateFailedTar)
		return
	}

	s.mu.Lock()
	s.tarPath = tarPath
	s.mu.Unlock()

	s.logger.Info().Str("tar_path", tarPath).Msg("output packed")
	s.setState(types.TaskStatePacked)
}

// Done transitions PACKED to DONE after the artifact bytes have been written
// to the client. Invoked by the result-download handler.
func (s *Supervisor) Done() {
	s.mu.Lock()
	if s.state != types.TaskStatePacked {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.setState(types.TaskStateDone)
}

// Cleanup removes the uploaded scene file, the output directory, and the
// packaged artifact. Invoked by task deletion; the caller kills first.
func (s *Supervisor) Cleanup() error {
	s.mu.Lock()
	tarPath := s.tarPath
	s.mu.Unlock()

	var errs []error
	if err := os.Remove(s.blendFilePath); err != nil && !os.IsNotExist(err) {
		errs = append(errs, err)
	}
	if err := os.RemoveAll(s.outputDir); err != nil {
		errs = append(errs, err)
	}
	if tarPath != "" {
		if err := os.Remove(tarPath); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to clean up task %s: %v", s.taskID, errs)
	}
	return nil
}
