package module

import (
	"errors"
	"fmt"
)

var (
	ErrNoActiveModule = errors.New("no active module")
	ErrModuleNotFound = errors.New("module not found")
)

type CapabilityNotSupportedError struct {
	Module    string
	Operation string
}

func (e *CapabilityNotSupportedError) Error() string {
	return fmt.Sprintf("module %q does not support %s", e.Module, e.Operation)
}

// InstallError reports a module source that could not be turned into a live
// module. Reason is meant to be shown to the user as is.
type InstallError struct {
	Reason string
	Err    error
}

func (e *InstallError) Error() string {
	if nil != e.Err {
		return fmt.Sprintf("module install failed: %s: %v", e.Reason, e.Err)
	}
	return "module install failed: " + e.Reason
}

func (e *InstallError) Unwrap() error {
	return e.Err
}
