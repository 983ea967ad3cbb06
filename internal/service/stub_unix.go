//go:build !windows
// +build !windows

package service

import (
	"errors"
	"time"
)

var errUnsupported = errors.New("service management is only available on windows")

// RunService runs the application in the foreground; there is no service manager
func RunService(isDebug bool, app *Application) error {
	return app.Run()
}

func InstallService(exePath string) error { return errUnsupported }

func UninstallService() error { return errUnsupported }

func StartService() error { return errUnsupported }

func StopService(timeout time.Duration) error { return errUnsupported }

func IsWindowsService() (bool, error) { return false, nil }
