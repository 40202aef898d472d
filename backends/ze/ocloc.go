package ze

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// OclocEnv is the environment variable with the path to the offline compiler executable. If not set, "ocloc"
// is searched in $PATH.
const OclocEnv = "KERNELRT_OCLOC"

// Ocloc runs the offline compiler executable in a temporary directory.
type Ocloc struct {
	// Path to the executable.
	Path string

	// Context, if set, bounds the compilation: the process is killed when it's done.
	Context context.Context
}

var _ Compiler = (*Ocloc)(nil)

// NewOcloc returns the offline compiler given by $KERNELRT_OCLOC, or found in $PATH.
func NewOcloc() (*Ocloc, error) {
	if p := os.Getenv(OclocEnv); p != "" {
		return &Ocloc{Path: p}, nil
	}
	p, err := exec.LookPath("ocloc")
	if err != nil {
		return nil, errors.Wrapf(err, "offline compiler not found: install ocloc or set %s", OclocEnv)
	}
	return &Ocloc{Path: p}, nil
}

// Invoke implements Compiler. The combined output of the compiler is returned as "stdout.log".
func (c *Ocloc) Invoke(args []string, sources map[string][]byte) (map[string][]byte, error) {
	dir, err := os.MkdirTemp("", "kernelrt-ocloc-")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create a temporary directory for ocloc")
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			klog.Errorf("ze: failed to remove %q: %v", dir, err)
		}
	}()
	for name, contents := range sources {
		if err := os.WriteFile(filepath.Join(dir, name), contents, 0o644); err != nil {
			return nil, errors.Wrapf(err, "failed to write %q for ocloc", name)
		}
	}

	ctx := c.Context
	if ctx == nil {
		ctx = context.Background()
	}
	cmd := exec.CommandContext(ctx, c.Path, args...)
	cmd.Dir = dir
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	runErr := cmd.Run()
	var exitErr *exec.ExitError
	if runErr != nil && !errors.As(runErr, &exitErr) {
		return nil, errors.Wrapf(runErr, "failed to run %s", cmd)
	}
	if runErr != nil {
		// A failed compilation is reported by the missing binary, with the log.
		klog.V(1).Infof("ze: %s exited with %v", cmd, runErr)
	}

	outputs := map[string][]byte{compilerLogFileName: output.Bytes()}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list ocloc outputs in %q", dir)
	}
	for _, entry := range entries {
		if entry.IsDir() || sources[entry.Name()] != nil {
			continue
		}
		contents, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read ocloc output %q", entry.Name())
		}
		if entry.Name() == compilerLogFileName {
			contents = append(outputs[compilerLogFileName], contents...)
		}
		outputs[entry.Name()] = contents
	}
	return outputs, nil
}
