package process

import (
	"errors"
	"os/exec"
	"strings"
	"time"

	"github.com/loykin/proxyvisr/internal/logger"
)

// ConfigPlaceholder in Spec.Args is replaced with the config file path.
const ConfigPlaceholder = "{config}"

// DefaultDrainTimeout bounds how long output is read after the core exits.
const DefaultDrainTimeout = 2 * time.Second

// Argument presets for the supported proxy core families.
var (
	SingBoxArgs  = []string{"run", "-c", ConfigPlaceholder, "--disable-color"}
	TrojanGoArgs = []string{"-config", ConfigPlaceholder}
)

var ErrNoBinary = errors.New("proxy core binary is not configured")

// Spec describes how to launch the proxy core.
type Spec struct {
	Name    string   `json:"name" mapstructure:"name"`
	Binary  string   `json:"binary" mapstructure:"binary"`
	Args    []string `json:"args" mapstructure:"args"`
	WorkDir string   `json:"work_dir" mapstructure:"work_dir"`
	// PIDFile, when set, records the running core so a leftover one can be
	// found after a crash of proxyvisr itself.
	PIDFile string `json:"pid_file" mapstructure:"pid_file"`
	// DrainTimeout is how long stdout/stderr may stay open after the core
	// exited, e.g. because a grandchild inherited them.
	DrainTimeout time.Duration     `json:"drain_timeout" mapstructure:"drain_timeout"`
	Log          logger.FileConfig `json:"log" mapstructure:"log"`
}

func (s Spec) Validate() error {
	if strings.TrimSpace(s.Binary) == "" {
		return ErrNoBinary
	}
	return nil
}

// BuildArgs substitutes the config path into Args. When no argument
// carries the placeholder the path is appended.
func (s Spec) BuildArgs(configPath string) []string {
	out := make([]string, 0, len(s.Args)+1)
	replaced := false
	for _, a := range s.Args {
		if strings.Contains(a, ConfigPlaceholder) {
			a = strings.ReplaceAll(a, ConfigPlaceholder, configPath)
			replaced = true
		}
		out = append(out, a)
	}
	if !replaced {
		out = append(out, configPath)
	}
	return out
}

// BuildCommand constructs the *exec.Cmd for configPath. Stdio and process
// attributes are set by Start.
func (s Spec) BuildCommand(configPath string, mergedEnv []string) *exec.Cmd {
	// #nosec G204 -- binary and args come from operator configuration
	cmd := exec.Command(s.Binary, s.BuildArgs(configPath)...)
	if s.WorkDir != "" {
		cmd.Dir = s.WorkDir
	}
	if len(mergedEnv) > 0 {
		cmd.Env = mergedEnv
	}
	configureSysProcAttr(cmd)
	return cmd
}

func (s Spec) drainTimeout() time.Duration {
	if s.DrainTimeout <= 0 {
		return DefaultDrainTimeout
	}
	return s.DrainTimeout
}
