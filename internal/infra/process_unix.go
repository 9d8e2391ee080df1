//go:build unix

package infra

import (
	"errors"
	"syscall"
)

// processAlive はシグナル0を送って pid のプロセスが存在するか確認する。
func processAlive(pid int) bool {
	err := syscall.Kill(pid, syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
