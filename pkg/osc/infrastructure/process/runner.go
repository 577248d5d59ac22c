package process

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/tigerroll/mysqler/pkg/osc/core/application/port"
	"github.com/tigerroll/mysqler/pkg/osc/core/command"
	"github.com/tigerroll/mysqler/pkg/osc/core/config"
)

// Runner turns a ProcessSpec into an executable command and knows how to stop it.
type Runner interface {
	Name() string
	// Prepare returns the command to start and the handle id to report; an empty id means the pid.
	Prepare(spec port.ProcessSpec) (*exec.Cmd, string, error)
	// Interrupt asks the process to stop; Kill stops it now. cmd is nil for adopted processes.
	Interrupt(cmd *exec.Cmd, id string, grace time.Duration) error
	Kill(cmd *exec.Cmd, id string) error
	// Alive reports whether the process with handle id is still running.
	Alive(id string) bool
}

func environ(extra map[string]string) []string {
	env := os.Environ()
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}

// signalGroup signals the process group led by cmd, which Prepare creates with Setpgid.
func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return signalPgid(cmd.Process.Pid, sig)
}

func signalPgid(pgid int, sig syscall.Signal) error {
	err := syscall.Kill(-pgid, sig)
	if err == syscall.ESRCH {
		return nil
	}
	return err
}

// pidAlive probes pid with signal 0. EPERM means it exists under another user.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}

// LocalRunner runs the command through a shell on this host.
type LocalRunner struct {
	shell string
}

// NewLocalRunner creates a runner using shell (sh when empty).
func NewLocalRunner(shell string) *LocalRunner {
	if shell == "" {
		shell = "sh"
	}
	return &LocalRunner{shell: shell}
}

func (r *LocalRunner) Name() string { return "local" }

func (r *LocalRunner) Prepare(spec port.ProcessSpec) (*exec.Cmd, string, error) {
	cmd := exec.Command(r.shell, "-c", spec.Command)
	cmd.Env = environ(spec.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd, "", nil
}

func (r *LocalRunner) Interrupt(cmd *exec.Cmd, id string, grace time.Duration) error {
	return r.signal(cmd, id, syscall.SIGINT)
}

func (r *LocalRunner) Kill(cmd *exec.Cmd, id string) error {
	return r.signal(cmd, id, syscall.SIGKILL)
}

// signal targets the group of cmd, or the group led by pid id for an adopted process.
func (r *LocalRunner) signal(cmd *exec.Cmd, id string, sig syscall.Signal) error {
	if cmd != nil {
		return signalGroup(cmd, sig)
	}
	pid, err := strconv.Atoi(id)
	if err != nil {
		return fmt.Errorf("invalid process id %q: %w", id, err)
	}
	return signalPgid(pid, sig)
}

func (r *LocalRunner) Alive(id string) bool {
	pid, err := strconv.Atoi(id)
	if err != nil {
		return false
	}
	return pidAlive(pid)
}

// DockerRunner runs the command inside a percona-toolkit container. The password travels in
// MYSQL_PWD instead of the container's argument list.
type DockerRunner struct {
	cfg config.DockerConfig
}

// NewDockerRunner creates a runner from the docker configuration.
func NewDockerRunner(cfg config.DockerConfig) *DockerRunner {
	if cfg.Binary == "" {
		cfg.Binary = "docker"
	}
	return &DockerRunner{cfg: cfg}
}

func (r *DockerRunner) Name() string { return "docker" }

// ContainerName is the name given to the container of jobID.
func ContainerName(jobID string) string {
	return "mysqler-" + jobID
}

// RewriteCommand replaces the password argument with a reference to MYSQL_PWD and points
// loopback hosts at the host alias.
func (r *DockerRunner) RewriteCommand(spec port.ProcessSpec) string {
	cmdline := spec.Command
	if spec.Password != "" {
		cmdline = strings.Replace(cmdline, command.PasswordArg(spec.Password), `--password="$MYSQL_PWD"`, 1)
	}
	if r.cfg.HostAlias != "" {
		for _, loopback := range []string{"localhost", "127.0.0.1"} {
			cmdline = strings.Replace(cmdline, "--host="+loopback+command.Separator, "--host="+r.cfg.HostAlias+command.Separator, 1)
		}
	}
	return cmdline
}

func (r *DockerRunner) Prepare(spec port.ProcessSpec) (*exec.Cmd, string, error) {
	if spec.JobID == "" {
		return nil, "", fmt.Errorf("docker runner requires a job id")
	}
	name := ContainerName(spec.JobID)
	args := []string{"run", "--rm", "--name", name}
	if r.cfg.Network != "" {
		args = append(args, "--network", r.cfg.Network)
	}
	if r.cfg.HostAlias == "host.docker.internal" {
		args = append(args, "--add-host", "host.docker.internal:host-gateway")
	}
	args = append(args, "-e", "MYSQL_PWD")
	for k := range spec.Env {
		args = append(args, "-e", k)
	}
	args = append(args, r.cfg.Image, "sh", "-lc", r.RewriteCommand(spec))

	cmd := exec.Command(r.cfg.Binary, args...)
	env := environ(spec.Env)
	cmd.Env = append(env, "MYSQL_PWD="+spec.Password)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd, name, nil
}

// Alive asks the docker daemon whether the container is running. A missing container is not.
func (r *DockerRunner) Alive(id string) bool {
	out, err := exec.Command(r.cfg.Binary, "inspect", "-f", "{{.State.Running}}", id).Output()
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(out)) == "true"
}

func (r *DockerRunner) Interrupt(cmd *exec.Cmd, id string, grace time.Duration) error {
	secs := int(grace / time.Second)
	out, err := exec.Command(r.cfg.Binary, "stop", "-t", fmt.Sprintf("%d", secs), id).CombinedOutput()
	if err != nil {
		return fmt.Errorf("docker stop failed: %v, output: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (r *DockerRunner) Kill(cmd *exec.Cmd, id string) error {
	out, err := exec.Command(r.cfg.Binary, "kill", id).CombinedOutput()
	if err != nil {
		// The container may already be gone; make sure the client dies too.
		_ = signalGroup(cmd, syscall.SIGKILL)
		return fmt.Errorf("docker kill failed: %v, output: %s", err, strings.TrimSpace(string(out)))
	}
	return signalGroup(cmd, syscall.SIGKILL)
}
