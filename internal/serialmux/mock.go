package serialmux

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
)

// BufferPort is a SerialPorter over fixed input. Reads drain Input and then
// return io.EOF; writes are collected. WriteError fails the next write.
type BufferPort struct {
	mu         sync.Mutex
	input      *bytes.Reader
	written    bytes.Buffer
	WriteError error
	closed     bool
}

// NewBufferPort returns a port that reads input.
func NewBufferPort(input string) *BufferPort {
	return &BufferPort{input: bytes.NewReader([]byte(input))}
}

func (p *BufferPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errors.New("serial port closed")
	}
	return p.input.Read(b)
}

func (p *BufferPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errors.New("serial port closed")
	}
	if err := p.WriteError; err != nil {
		p.WriteError = nil
		return 0, err
	}
	return p.written.Write(b)
}

func (p *BufferPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Written returns everything written so far.
func (p *BufferPort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

// ScriptedPort is a SerialPorter that answers each command line written to
// it with the lines returned by Respond. It stands in for a machine in the
// serial protocol tests.
type ScriptedPort struct {
	// Respond maps one command line (without newline) to reply lines.
	Respond func(command string) []string

	mu       sync.Mutex
	partial  bytes.Buffer
	commands []string
	closed   bool

	outbox chan string
	r      *io.PipeReader
	w      *io.PipeWriter
}

// NewScriptedPort starts a port whose replies come from respond.
func NewScriptedPort(respond func(command string) []string) *ScriptedPort {
	r, w := io.Pipe()
	p := &ScriptedPort{
		Respond: respond,
		outbox:  make(chan string, 256),
		r:       r,
		w:       w,
	}
	go func() {
		defer w.Close()
		for line := range p.outbox {
			if _, err := io.WriteString(w, line+"\n"); err != nil {
				return
			}
		}
	}()
	return p
}

func (p *ScriptedPort) Read(b []byte) (int, error) { return p.r.Read(b) }

func (p *ScriptedPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errors.New("serial port closed")
	}
	p.partial.Write(b)
	for {
		line, err := p.partial.ReadString('\n')
		if err != nil {
			// keep the incomplete tail for the next write
			p.partial.Reset()
			p.partial.WriteString(line)
			break
		}
		cmd := strings.TrimRight(line, "\r\n")
		p.commands = append(p.commands, cmd)
		if p.Respond == nil {
			continue
		}
		for _, reply := range p.Respond(cmd) {
			p.outbox <- reply
		}
	}
	return len(b), nil
}

// Emit queues an unsolicited line from the machine.
func (p *ScriptedPort) Emit(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.outbox <- line
	}
}

// Commands returns every command line received so far.
func (p *ScriptedPort) Commands() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.commands...)
}

func (p *ScriptedPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.outbox)
	return p.r.Close()
}
