// Package hooks runs the executables dropped into <config>/scripts/
// after a successful download/upload/delete, one goroutine per
// invocation so a slow hook never blocks the next transfer
// (SPEC_FULL.md §6, a supplemented feature grounded on the original
// antfs-cli's hook subprocess dispatch).
package hooks

import (
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

// Action identifies why a hook fired.
type Action string

const (
	ActionDownload Action = "DOWNLOAD"
	ActionUpload   Action = "UPLOAD"
	ActionDelete   Action = "DELETE"
)

// Runner discovers executables under dir and fires them concurrently.
type Runner struct {
	dir    string
	logger *logrus.Logger
	wg     sync.WaitGroup
}

func NewRunner(dir string, logger *logrus.Logger) *Runner {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Runner{dir: dir, logger: logger}
}

// Fire launches every executable in the scripts directory with argv
// (action, path, fitType), logging each hook's exit status without
// blocking the caller or affecting sync outcome.
func (r *Runner) Fire(action Action, path, fitType string) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			r.logger.WithError(err).Warn("reading hooks directory")
		}
		return
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		script := filepath.Join(r.dir, entry.Name())
		info, err := entry.Info()
		if err != nil || info.Mode()&0o111 == 0 {
			continue
		}

		r.wg.Add(1)
		go func(script string) {
			defer r.wg.Done()
			cmd := exec.Command(script, string(action), path, fitType)
			out, err := cmd.CombinedOutput()
			entry := r.logger.WithFields(logrus.Fields{"hook": script, "action": action})
			if err != nil {
				entry.WithError(err).WithField("output", string(out)).Warn("hook exited with error")
				return
			}
			entry.Debug("hook completed")
		}(script)
	}
}

// Wait blocks until every hook fired so far has completed. Useful at
// shutdown; not required between individual Fire calls since hooks
// are meant to run concurrently with the next download.
func (r *Runner) Wait() { r.wg.Wait() }
