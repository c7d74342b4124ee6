package device

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Error codes reported by the machine.
const (
	CodeOperationError    = "OPERATION_ERROR"
	CodeUnknownCommand    = "L_UNKNOWN_COMMAND"
	CodeControlSocketMode = "CONTROL_SOCKET_MODE_ERROR"
	CodeTimeout           = "TIMEOUT"
	CodeCameraClosed      = "CAMERA_CLOSED"
)

var (
	// ErrCameraLink marks failures of the camera connection itself, as
	// opposed to motion or mode errors.
	ErrCameraLink = errors.New("camera connection failed")
	// ErrEmptyFrame is returned when the camera answers with no image.
	ErrEmptyFrame = fmt.Errorf("%w: camera connection closed unexpectedly", ErrCameraLink)
	// ErrUnknownMachine is returned when asked for a machine that is not
	// connected.
	ErrUnknownMachine = errors.New("machine not connected")
)

// CommandError is a machine's rejection of a command.
type CommandError struct {
	Command string
	Codes   []string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("machine rejected %s: %s", e.Command, strings.Join(e.Codes, " "))
}

// Has reports whether the machine reported code.
func (e *CommandError) Has(code string) bool {
	return slices.Contains(e.Codes, code)
}

// HasCode reports whether err is a CommandError carrying code.
func HasCode(err error, code string) bool {
	var ce *CommandError
	return errors.As(err, &ce) && ce.Has(code)
}
