package helper

import "syscall"

// sysProcAttr kills the helper when the bridge process dies, so the runtime
// never outlives its owner even on an unclean exit.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Pdeathsig: syscall.SIGKILL}
}
