package pool

import (
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/loykin/mcpgate/internal/logger"
)

// Spec describes how to launch a stdio backend process. A Spec is immutable
// once the process is spawned; changing the launch configuration requires
// terminating the old process and spawning a new one.
type Spec struct {
	Command string            `json:"command" mapstructure:"command"`
	Args    []string          `json:"args,omitempty" mapstructure:"args"`
	Env     map[string]string `json:"env,omitempty" mapstructure:"env"`
	Cwd     string            `json:"cwd,omitempty" mapstructure:"cwd"`
	Log     logger.Config     `json:"log,omitempty" mapstructure:"log"`
}

// buildCmd constructs the exec.Cmd for this spec. Env entries overlay the
// host environment. The child gets its own process group so signals reach
// any grandchildren it spawns.
func (s Spec) buildCmd() *exec.Cmd {
	// #nosec G204 -- command comes from operator-owned configuration
	cmd := exec.Command(s.Command, s.Args...)
	if s.Cwd != "" {
		cmd.Dir = s.Cwd
	}
	if len(s.Env) > 0 {
		env := os.Environ()
		for k, v := range s.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd
}

// Status is the observable state of one server id in the pool.
type Status struct {
	Running     bool      `json:"running"`
	PID         int       `json:"pid,omitempty"`
	Initialized bool      `json:"initialized,omitempty"`
	LastUsed    time.Time `json:"last_used,omitempty"`
}
