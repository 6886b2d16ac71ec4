//go:build !windows

package supervisor

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// configureProcess puts the worker in its own process group so a stop reaches
// the browser and helpers it spawns: SIGTERM first, SIGKILL after grace.
func configureProcess(cmd *exec.Cmd, grace time.Duration) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		pgid := cmd.Process.Pid
		if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil {
			if errors.Is(err, syscall.ESRCH) {
				return os.ErrProcessDone
			}
			return err
		}
		time.AfterFunc(grace, func() {
			_ = syscall.Kill(-pgid, syscall.SIGKILL)
		})
		return nil
	}
	cmd.WaitDelay = grace
}
