package serialmux

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.bug.st/serial"
)

// DefaultBaudRate is the rate the machine's USB serial bridge runs at.
const DefaultBaudRate = 115200

// DefaultFrame is the character framing the machine expects.
const DefaultFrame = "8N1"

// PortOptions are the settings used to open the machine's port. Frame is
// written as data bits, parity and stop bits, e.g. "8N1" or "7E2".
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	Frame    string `json:"frame"`
}

var frameRE = regexp.MustCompile(`^([5-8])([NEO])([12])$`)

// SerialMode validates the options and converts them to the mode
// go.bug.st/serial opens a port with. Zero values take the defaults.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	baud := o.BaudRate
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	frame := strings.ToUpper(strings.TrimSpace(o.Frame))
	if frame == "" {
		frame = DefaultFrame
	}
	m := frameRE.FindStringSubmatch(frame)
	if m == nil {
		return nil, fmt.Errorf("invalid serial frame %q: want data bits, parity and stop bits like %q", o.Frame, DefaultFrame)
	}

	dataBits, _ := strconv.Atoi(m[1])
	mode := &serial.Mode{BaudRate: baud, DataBits: dataBits}
	switch m[2] {
	case "N":
		mode.Parity = serial.NoParity
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	}
	if m[3] == "2" {
		mode.StopBits = serial.TwoStopBits
	} else {
		mode.StopBits = serial.OneStopBit
	}
	return mode, nil
}

func (o PortOptions) String() string {
	mode, err := o.SerialMode()
	if err != nil {
		return fmt.Sprintf("%d/%s", o.BaudRate, o.Frame)
	}
	frame := strings.ToUpper(strings.TrimSpace(o.Frame))
	if frame == "" {
		frame = DefaultFrame
	}
	return fmt.Sprintf("%d/%s", mode.BaudRate, frame)
}
