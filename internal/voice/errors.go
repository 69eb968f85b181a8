package voice

import (
	"errors"
	"fmt"

	"github.com/containerd/errdefs"
)

// ErrAlreadyRunning is returned by Start when a session is not Idle.
var ErrAlreadyRunning = fmt.Errorf("voice session already running: %w", errdefs.ErrFailedPrecondition)

// ErrStopped is returned by Start when Stop interrupts acquisition.
var ErrStopped = fmt.Errorf("voice session stopped while opening: %w", errdefs.ErrAborted)

// Cause classifies why a device could not be acquired.
type Cause int

const (
	CauseUnknown Cause = iota
	CausePermissionDenied
	CauseNotFound
	CauseBusy
	CauseUnsupported
)

func (c Cause) String() string {
	switch c {
	case CausePermissionDenied:
		return "permission_denied"
	case CauseNotFound:
		return "not_found"
	case CauseBusy:
		return "busy"
	case CauseUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// CauseFromName maps a browser media error name to a Cause.
func CauseFromName(name string) Cause {
	switch name {
	case "NotAllowedError", "PermissionDeniedError", "SecurityError":
		return CausePermissionDenied
	case "NotFoundError", "DevicesNotFoundError", "OverconstrainedError":
		return CauseNotFound
	case "NotReadableError", "TrackStartError", "AbortError":
		return CauseBusy
	case "NotSupportedError", "TypeError":
		return CauseUnsupported
	default:
		return CauseUnknown
	}
}

// DeviceError reports a failure to acquire the microphone or an audio context.
type DeviceError struct {
	Device string
	Cause  Cause
	Err    error
}

func (e *DeviceError) Error() string {
	var msg string
	switch e.Cause {
	case CausePermissionDenied:
		msg = "microphone access denied; enable it in the browser settings"
	case CauseNotFound:
		msg = "no microphone found; connect one and try again"
	case CauseBusy:
		msg = "microphone is in use by another application"
	case CauseUnsupported:
		msg = "audio capture is not supported in this browser"
	default:
		msg = "could not open " + e.Device
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *DeviceError) Unwrap() []error {
	var class error
	switch e.Cause {
	case CausePermissionDenied:
		class = errdefs.ErrPermissionDenied
	case CauseNotFound:
		class = errdefs.ErrNotFound
	case CauseBusy:
		class = errdefs.ErrUnavailable
	case CauseUnsupported:
		class = errdefs.ErrNotImplemented
	default:
		class = errdefs.ErrUnknown
	}
	if e.Err == nil {
		return []error{class}
	}
	return []error{e.Err, class}
}

// ConnectionError reports a failure to open the streaming connection.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return "failed to connect to voice service: " + e.Err.Error()
}

func (e *ConnectionError) Unwrap() []error {
	return []error{e.Err, errdefs.ErrUnavailable}
}

// LiveError reports an error raised by an open streaming connection.
type LiveError struct {
	Err error
}

func (e *LiveError) Error() string {
	return "voice connection error: " + e.Err.Error()
}

func (e *LiveError) Unwrap() []error {
	return []error{e.Err, errdefs.ErrUnavailable}
}

func asDeviceError(device string, err error) error {
	var de *DeviceError
	if errors.As(err, &de) {
		if de.Device == "" {
			de.Device = device
		}
		return de
	}
	return &DeviceError{Device: device, Err: err}
}
