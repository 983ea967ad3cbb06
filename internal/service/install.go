package service

// InstallWarning reports a service that was installed but not fully configured
type InstallWarning struct {
	Err error
}

func (w *InstallWarning) Error() string {
	return "service installed with warnings: " + w.Err.Error()
}

func (w *InstallWarning) Unwrap() error { return w.Err }
