//go:build windows
// +build windows

package service

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/debug"
	"golang.org/x/sys/windows/svc/eventlog"
	"golang.org/x/sys/windows/svc/mgr"
)

const (
	ServiceName        = "SignVrtl"
	ServiceDisplayName = "Sign VRTL Service"
	ServiceDescription = "Signature workflow service: sign requests, audit chain and reminders"
)

// restart after 5s, 10s, then 30s; the failure count resets after a day
var recoveryActions = []mgr.RecoveryAction{
	{Type: mgr.ServiceRestart, Delay: 5 * time.Second},
	{Type: mgr.ServiceRestart, Delay: 10 * time.Second},
	{Type: mgr.ServiceRestart, Delay: 30 * time.Second},
}

const recoveryResetSeconds = 24 * 60 * 60

type signService struct {
	app  *Application
	elog debug.Log
}

func (s *signService) Execute(args []string, r <-chan svc.ChangeRequest, changes chan<- svc.Status) (bool, uint32) {
	const accepted = svc.AcceptStop | svc.AcceptShutdown
	changes <- svc.Status{State: svc.StartPending}

	runErr := make(chan error, 1)
	go func() { runErr <- s.app.Run() }()

	select {
	case <-s.app.Ready():
	case err := <-runErr:
		s.elog.Error(1, fmt.Sprintf("%s failed to start: %v", ServiceName, err))
		return true, 1
	}

	changes <- svc.Status{State: svc.Running, Accepts: accepted}
	s.elog.Info(1, fmt.Sprintf("%s service started", ServiceName))

	for {
		select {
		case err := <-runErr:
			if err != nil {
				s.elog.Error(1, fmt.Sprintf("%s stopped unexpectedly: %v", ServiceName, err))
				return true, 2
			}
			return false, 0
		case c := <-r:
			switch c.Cmd {
			case svc.Interrogate:
				changes <- c.CurrentStatus
			case svc.Stop, svc.Shutdown:
				changes <- svc.Status{State: svc.StopPending}
				s.elog.Info(1, fmt.Sprintf("%s service stopping", ServiceName))
				if err := s.app.Shutdown(); err != nil {
					s.elog.Warning(1, fmt.Sprintf("%s stopped with error: %v", ServiceName, err))
				}
				return false, 0
			default:
				s.elog.Error(1, fmt.Sprintf("unexpected control request #%d", c.Cmd))
			}
		}
	}
}

// RunService hands the application to the service control manager, or to the
// console runner when isDebug is set.
func RunService(isDebug bool, app *Application) error {
	var (
		elog debug.Log
		err  error
	)
	if isDebug {
		elog = debug.New(ServiceName)
	} else if elog, err = eventlog.Open(ServiceName); err != nil {
		return fmt.Errorf("failed to open event log: %w", err)
	}
	defer elog.Close()

	run := svc.Run
	if isDebug {
		run = debug.Run
	}
	if err := run(ServiceName, &signService{app: app, elog: elog}); err != nil {
		elog.Error(1, fmt.Sprintf("%s service failed: %v", ServiceName, err))
		return err
	}
	elog.Info(1, fmt.Sprintf("%s service stopped", ServiceName))
	return nil
}

func withManager(fn func(m *mgr.Mgr) error) error {
	m, err := mgr.Connect()
	if err != nil {
		return fmt.Errorf("failed to connect to service manager: %w", err)
	}
	defer m.Disconnect()
	return fn(m)
}

func withService(fn func(s *mgr.Service) error) error {
	return withManager(func(m *mgr.Mgr) error {
		s, err := m.OpenService(ServiceName)
		if err != nil {
			return fmt.Errorf("service %s not installed: %w", ServiceName, err)
		}
		defer s.Close()
		return fn(s)
	})
}

// InstallService registers exePath as an auto-start service. Event log and recovery
// setup failures are returned as warnings after the service exists.
func InstallService(exePath string) error {
	return withManager(func(m *mgr.Mgr) error {
		if s, err := m.OpenService(ServiceName); err == nil {
			s.Close()
			return fmt.Errorf("service %s already exists", ServiceName)
		}

		s, err := m.CreateService(ServiceName, exePath, mgr.Config{
			DisplayName: ServiceDisplayName,
			Description: ServiceDescription,
			StartType:   mgr.StartAutomatic,
		})
		if err != nil {
			return err
		}
		defer s.Close()

		var warnings []error
		if err := eventlog.InstallAsEventCreate(ServiceName, eventlog.Error|eventlog.Warning|eventlog.Info); err != nil {
			warnings = append(warnings, fmt.Errorf("event log source: %w", err))
		}
		if err := s.SetRecoveryActions(recoveryActions, recoveryResetSeconds); err != nil {
			warnings = append(warnings, fmt.Errorf("recovery actions: %w", err))
		}
		if len(warnings) > 0 {
			return &InstallWarning{Err: errors.Join(warnings...)}
		}
		return nil
	})
}

func UninstallService() error {
	return withService(func(s *mgr.Service) error {
		_ = eventlog.Remove(ServiceName)
		return s.Delete()
	})
}

func StartService() error {
	return withService(func(s *mgr.Service) error {
		return s.Start()
	})
}

// StopService asks the service to stop and waits up to timeout for it to do so
func StopService(timeout time.Duration) error {
	return withService(func(s *mgr.Service) error {
		status, err := s.Control(svc.Stop)
		if err != nil {
			return err
		}
		deadline := time.Now().Add(timeout)
		for status.State != svc.Stopped {
			if time.Now().After(deadline) {
				return fmt.Errorf("service %s did not stop within %s", ServiceName, timeout)
			}
			time.Sleep(300 * time.Millisecond)
			if status, err = s.Query(); err != nil {
				return err
			}
		}
		return nil
	})
}

func IsWindowsService() (bool, error) {
	return svc.IsWindowsService()
}
