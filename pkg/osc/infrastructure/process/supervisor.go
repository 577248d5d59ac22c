// Package process supervises pt-online-schema-change subprocesses: it streams their merged output
// as parsed progress events, keeps a bounded tail, and stops them on request.
package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/tigerroll/mysqler/pkg/osc/core/application/port"
	"github.com/tigerroll/mysqler/pkg/osc/core/config"
	model "github.com/tigerroll/mysqler/pkg/osc/core/domain/model"
	"github.com/tigerroll/mysqler/pkg/osc/core/metrics"
	"github.com/tigerroll/mysqler/pkg/osc/support/util/exception"
	"github.com/tigerroll/mysqler/pkg/osc/support/util/logger"
)

const module = "supervisor"

// maxLineBytes bounds a single output line; the rest of a longer line is discarded.
const maxLineBytes = 1 << 20

// errExitUnknown is reported for adopted processes, whose exit status cannot be collected.
var errExitUnknown = errors.New("process was adopted after a restart; exit status unknown")

// Supervisor spawns subprocesses through a Runner.
type Supervisor struct {
	runner      Runner
	grace       time.Duration
	tailLines   int
	eventBuffer int
	poll        time.Duration
	recorder    metrics.MetricRecorder
}

// NewSupervisor creates a Supervisor with the configured runner.
func NewSupervisor(cfg *config.SupervisorConfig, recorder metrics.MetricRecorder) (*Supervisor, error) {
	var runner Runner
	switch cfg.Runner {
	case "local", "":
		runner = NewLocalRunner(cfg.Shell)
	case "docker":
		runner = NewDockerRunner(cfg.Docker)
	default:
		return nil, fmt.Errorf("unsupported supervisor runner: %s", cfg.Runner)
	}
	return NewSupervisorWithRunner(runner, cfg, recorder), nil
}

// NewSupervisorWithRunner creates a Supervisor around an explicit runner.
func NewSupervisorWithRunner(runner Runner, cfg *config.SupervisorConfig, recorder metrics.MetricRecorder) *Supervisor {
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	s := &Supervisor{
		runner:      runner,
		grace:       cfg.GracePeriod,
		tailLines:   cfg.TailLines,
		eventBuffer: cfg.EventBuffer,
		poll:        cfg.AdoptPollInterval,
		recorder:    recorder,
	}
	if s.eventBuffer < 1 {
		s.eventBuffer = 1
	}
	if s.poll <= 0 {
		s.poll = 2 * time.Second
	}
	return s
}

// Spawn starts spec's command. The subprocess outlives ctx; use the handle to stop it.
func (s *Supervisor) Spawn(ctx context.Context, spec port.ProcessSpec) (port.ProcessHandle, error) {
	cmd, id, err := s.runner.Prepare(spec)
	if err != nil {
		return nil, exception.NewProcessError(module, -1, nil, err)
	}

	// An OS pipe delivers EOF only once every writer, grandchildren included, has exited.
	r, w, err := os.Pipe()
	if err != nil {
		return nil, exception.NewProcessError(module, -1, nil, fmt.Errorf("failed to create output pipe: %w", err))
	}
	cmd.Stdout = w
	cmd.Stderr = w
	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return nil, exception.NewProcessError(module, -1, nil, fmt.Errorf("failed to start %s process: %w", s.runner.Name(), err))
	}
	w.Close()

	if id == "" {
		id = strconv.Itoa(cmd.Process.Pid)
	}
	h := &handle{
		id:       id,
		jobID:    spec.JobID,
		cmd:      cmd,
		runner:   s.runner,
		grace:    s.grace,
		events:   make(chan model.ProgressEvent, s.eventBuffer),
		tail:     NewTailBuffer(s.tailLines),
		done:     make(chan struct{}),
		recorder: s.recorder,
	}
	h.alive.Store(true)
	logger.Infof("Supervisor: started job %s (%s runner, id %s)", spec.JobID, s.runner.Name(), id)

	go h.run(r)
	return h, nil
}

// Adopt watches a process left running by an earlier instance until it exits.
func (s *Supervisor) Adopt(jobID, handleID string) (port.ProcessHandle, bool) {
	if !s.runner.Alive(handleID) {
		return nil, false
	}
	h := &handle{
		id:       handleID,
		jobID:    jobID,
		runner:   s.runner,
		grace:    s.grace,
		events:   make(chan model.ProgressEvent),
		tail:     NewTailBuffer(s.tailLines),
		done:     make(chan struct{}),
		recorder: s.recorder,
	}
	h.alive.Store(true)
	close(h.events)
	logger.Infof("Supervisor: adopted job %s (%s runner, id %s)", jobID, s.runner.Name(), handleID)

	go h.watch(s.poll)
	return h, true
}

type handle struct {
	id       string
	jobID    string
	cmd      *exec.Cmd
	runner   Runner
	grace    time.Duration
	events   chan model.ProgressEvent
	tail     *TailBuffer
	done     chan struct{}
	result   port.ProcessResult
	recorder metrics.MetricRecorder

	alive         atomic.Bool
	stopRequested atomic.Bool
	stopMu        sync.Mutex
	dropped       int
}

func (h *handle) ID() string                          { return h.id }
func (h *handle) Events() <-chan model.ProgressEvent { return h.events }
func (h *handle) IsAlive() bool                       { return h.alive.Load() }

func (h *handle) Wait() port.ProcessResult {
	<-h.done
	return h.result
}

// readLine returns the next line without its terminator, truncated to maxLineBytes.
func readLine(br *bufio.Reader) (string, error) {
	var buf []byte
	for {
		frag, isPrefix, err := br.ReadLine()
		if room := maxLineBytes - len(buf); room > 0 {
			if len(frag) > room {
				frag = frag[:room]
			}
			buf = append(buf, frag...)
		}
		if err != nil {
			if len(buf) > 0 {
				return string(buf), nil
			}
			return "", err
		}
		if !isPrefix {
			return string(buf), nil
		}
	}
}

// run reads output until EOF, then reaps the process. It is the only sender on events.
func (h *handle) run(r *os.File) {
	defer close(h.done)
	defer r.Close()

	br := bufio.NewReaderSize(r, 64*1024)
	var readErr error
	for {
		line, err := readLine(br)
		if err != nil {
			if err != io.EOF {
				readErr = err
				// Keep the pipe empty so the child never blocks writing to it.
				_, _ = io.Copy(io.Discard, r)
			}
			break
		}
		h.tail.Add(line)
		ev := ParseLine(line)
		if ev.Parsed {
			select {
			case h.events <- ev:
			default:
				h.dropped++
			}
			continue
		}
		h.events <- ev
	}
	waitErr := h.cmd.Wait()
	h.alive.Store(false)
	close(h.events)

	res := port.ProcessResult{Tail: h.tail.Lines(), Signaled: h.stopRequested.Load()}
	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
		res.ExitCode = 0
	case errors.As(waitErr, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			res.ExitCode = 128 + int(ws.Signal())
		}
	default:
		res.ExitCode = -1
		res.Err = waitErr
	}
	if res.Err == nil && readErr != nil {
		res.Err = fmt.Errorf("failed to read process output: %w", readErr)
	}
	if h.dropped > 0 {
		logger.Warnf("Supervisor: dropped %d progress events of job %s", h.dropped, h.jobID)
		h.recorder.RecordDroppedEvents(context.Background(), h.dropped)
	}
	h.result = res
	logger.Infof("Supervisor: job %s exited with code %d", h.jobID, res.ExitCode)
}

// watch polls an adopted process until it is gone.
func (h *handle) watch(interval time.Duration) {
	defer close(h.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		if !h.runner.Alive(h.id) {
			break
		}
	}
	h.alive.Store(false)
	h.result = port.ProcessResult{ExitCode: -1, Err: errExitUnknown, Signaled: h.stopRequested.Load()}
	logger.Infof("Supervisor: adopted job %s is no longer running", h.jobID)
}

// Stop interrupts the process. A graceful stop escalates to a kill when the process is still alive
// after the grace period.
func (h *handle) Stop(graceful bool) error {
	h.stopMu.Lock()
	defer h.stopMu.Unlock()

	if !h.IsAlive() {
		return nil
	}
	h.stopRequested.Store(true)
	if !graceful {
		logger.Infof("Supervisor: killing job %s", h.jobID)
		return h.runner.Kill(h.cmd, h.id)
	}

	logger.Infof("Supervisor: interrupting job %s (grace %s)", h.jobID, h.grace)
	if err := h.runner.Interrupt(h.cmd, h.id, h.grace); err != nil {
		logger.Warnf("Supervisor: interrupt of job %s failed, killing: %v", h.jobID, err)
		return h.runner.Kill(h.cmd, h.id)
	}
	go func() {
		timer := time.NewTimer(h.grace)
		defer timer.Stop()
		select {
		case <-h.done:
		case <-timer.C:
			logger.Warnf("Supervisor: job %s still alive after %s, killing", h.jobID, h.grace)
			if err := h.runner.Kill(h.cmd, h.id); err != nil {
				logger.Errorf("Supervisor: kill of job %s failed: %v", h.jobID, err)
			}
		}
	}()
	return nil
}

var (
	_ port.Supervisor    = (*Supervisor)(nil)
	_ port.ProcessHandle = (*handle)(nil)
)
