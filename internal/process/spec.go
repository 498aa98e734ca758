package process

import (
	"errors"
	"os/exec"
	"strconv"
	"strings"

	"github.com/loykin/xpol/internal/logger"
)

// Spec describes the worker executable the supervisor runs.
type Spec struct {
	Name    string        `json:"name" mapstructure:"name"`
	Command string        `json:"command" mapstructure:"command"`   // path to the worker executable
	Args    []string      `json:"args" mapstructure:"args"`         // arguments placed before the supervisor pid
	WorkDir string        `json:"work_dir" mapstructure:"work_dir"` // optional working dir
	Env     []string      `json:"env" mapstructure:"env"`           // per-worker env overrides ("K=V")
	PIDFile string        `json:"pid_file" mapstructure:"pid_file"` // optional worker pid file
	Log     logger.Config `json:"log" mapstructure:"log"`           // optional stdout/stderr capture
}

// Validate checks the fields Start relies on.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Command) == "" {
		return errors.New("worker command is required")
	}
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("worker name is required")
	}
	return nil
}

// BuildCommand constructs the worker command. The worker is exec'd directly,
// never through a shell, and receives supervisorPID as its last argument so
// it can address signals back to the supervisor.
func (s Spec) BuildCommand(supervisorPID int) *exec.Cmd {
	args := make([]string, 0, len(s.Args)+1)
	args = append(args, s.Args...)
	args = append(args, strconv.Itoa(supervisorPID))
	// #nosec G204 -- the executable comes from operator configuration
	return exec.Command(s.Command, args...)
}
