package serialmux

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

func echoMachine(command string) []string {
	switch {
	case command == "hello":
		return []string{`{"status":"ok","value":{"model":"fbb2"}}`}
	case command == "silent":
		return nil
	case strings.HasPrefix(command, "chatty"):
		return []string{"# moving", `{"status":"ok"}`}
	default:
		return []string{`{"status":"ok","value":"` + command + `"}`}
	}
}

func startMux(t *testing.T, respond func(string) []string) (*SerialMux[*ScriptedPort], *ScriptedPort) {
	t.Helper()
	port := NewScriptedPort(respond)
	mux := NewSerialMux(port)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = mux.Monitor(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		mux.Close()
		<-done
	})
	return mux, port
}

func TestRequestReturnsReply(t *testing.T) {
	t.Parallel()
	mux, port := startMux(t, echoMachine)

	reply, err := mux.Request(context.Background(), "home")
	require.NoError(t, err)
	assert.Equal(t, `{"status":"ok","value":"home"}`, reply)

	reply, err = mux.Request(context.Background(), "chatty move")
	require.NoError(t, err)
	assert.Equal(t, `{"status":"ok"}`, reply, "non-reply lines are not taken as the reply")

	assert.Equal(t, []string{"home", "chatty move"}, port.Commands())
}

func TestInitializeHandshake(t *testing.T) {
	t.Parallel()
	mux, _ := startMux(t, echoMachine)

	reply, err := mux.Initialize(context.Background())
	require.NoError(t, err)
	assert.Contains(t, reply, "fbb2")
}

func TestRequestTimesOut(t *testing.T) {
	t.Parallel()
	mux, _ := startMux(t, echoMachine)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := mux.Request(ctx, "silent")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), `"silent"`)
}

func TestRequestAfterClose(t *testing.T) {
	t.Parallel()
	mux := NewSerialMux(NewScriptedPort(echoMachine))
	require.NoError(t, mux.Close())

	_, err := mux.Request(context.Background(), "home")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSubscribersSeeEveryLine(t *testing.T) {
	t.Parallel()
	mux, port := startMux(t, echoMachine)

	id, ch := mux.Subscribe()
	defer mux.Unsubscribe(id)

	port.Emit("# door open")
	_, err := mux.Request(context.Background(), "chatty")
	require.NoError(t, err)

	var got []string
	for len(got) < 3 {
		select {
		case line := <-ch:
			got = append(got, line)
		case <-time.After(time.Second):
			t.Fatalf("timed out, got %v", got)
		}
	}
	assert.Equal(t, []string{"# door open", "# moving", `{"status":"ok"}`}, got)
}

func TestCloseClosesSubscribers(t *testing.T) {
	t.Parallel()
	mux := NewSerialMux(NewScriptedPort(nil))
	_, ch := mux.Subscribe()
	require.NoError(t, mux.Close())

	_, ok := <-ch
	assert.False(t, ok)
}

func TestSendCommandWriteError(t *testing.T) {
	t.Parallel()
	port := NewBufferPort("")
	port.WriteError = errors.New("unplugged")
	mux := NewSerialMux(port)

	err := mux.SendCommand("home")
	require.Error(t, err)

	require.NoError(t, mux.SendCommand("home"))
	assert.Equal(t, "home\n", port.Written())
}

func TestMonitorReturnsOnEOF(t *testing.T) {
	t.Parallel()
	mux := NewSerialMux(NewBufferPort("# boot\n"))

	err := mux.Monitor(context.Background())
	assert.NoError(t, err)
}

func TestClassifyPayload(t *testing.T) {
	t.Parallel()
	tests := []struct {
		line string
		want string
	}{
		{`{"status":"ok"}`, EventTypeReply},
		{`{"status":"error","error":["TIMEOUT"]}`, EventTypeReply},
		{`{"status":"ok","image":"AAAA"}`, EventTypeFrame},
		{`# homing`, EventTypeMessage},
		{`{"progress":0.5}`, EventTypeMessage},
		{``, EventTypeMessage},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyPayload(tt.line), tt.line)
	}
}

func TestElidePayload(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "short", ElidePayload("short"))
	long := strings.Repeat("x", 1000)
	assert.Len(t, []rune(ElidePayload(long)), elideAfter+1)
}

// localHostRequest creates an httptest request that appears to come from localhost.
// This bypasses tsweb.AllowDebugAccess which checks for loopback IPs.
func localHostRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func TestAdminSendCommandAPI(t *testing.T) {
	t.Parallel()
	mux, _ := startMux(t, echoMachine)
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	tests := []struct {
		name       string
		method     string
		form       url.Values
		wantStatus int
		wantBody   string
	}{
		{"reply is returned", http.MethodPost, url.Values{"command": {"home"}}, http.StatusOK, `"value":"home"`},
		{"empty command", http.MethodPost, url.Values{"command": {" "}}, http.StatusBadRequest, "Missing command"},
		{"wrong method", http.MethodGet, nil, http.StatusMethodNotAllowed, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := localHostRequest(tt.method, "/debug/send-command-api", strings.NewReader(tt.form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			rec := httptest.NewRecorder()
			httpMux.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}
}

func TestDisabledSerialMux(t *testing.T) {
	t.Parallel()
	d := NewDisabledSerialMux()

	_, err := d.Request(context.Background(), "home")
	assert.ErrorIs(t, err, ErrDisabled)

	id, ch := d.Subscribe()
	d.Unsubscribe(id)
	_, ok := <-ch
	assert.False(t, ok)

	_, ch = d.Subscribe()
	require.NoError(t, d.Close())
	_, ok = <-ch
	assert.False(t, ok)

	_, ch = d.Subscribe()
	_, ok = <-ch
	assert.False(t, ok, "subscribing after close yields a closed channel")

	httpMux := http.NewServeMux()
	d.AttachAdminRoutes(httpMux)
	form := url.Values{"command": {"home"}}
	req := localHostRequest(http.MethodPost, "/debug/send-command-api", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	httpMux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestPortOptionsSerialMode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		in      PortOptions
		want    serial.Mode
		wantErr bool
	}{
		{"defaults", PortOptions{}, serial.Mode{BaudRate: DefaultBaudRate, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit}, false},
		{"even parity", PortOptions{BaudRate: 9600, Frame: "7e2"}, serial.Mode{BaudRate: 9600, DataBits: 7, Parity: serial.EvenParity, StopBits: serial.TwoStopBits}, false},
		{"odd parity", PortOptions{Frame: " 8O1 "}, serial.Mode{BaudRate: DefaultBaudRate, DataBits: 8, Parity: serial.OddParity, StopBits: serial.OneStopBit}, false},
		{"bad data bits", PortOptions{Frame: "9N1"}, serial.Mode{}, true},
		{"bad stop bits", PortOptions{Frame: "8N3"}, serial.Mode{}, true},
		{"bad parity", PortOptions{Frame: "8M1"}, serial.Mode{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mode, err := tt.in.SerialMode()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, *mode)
		})
	}

	assert.Equal(t, "115200/8N1", PortOptions{}.String())
	assert.Equal(t, "9600/7E2", PortOptions{BaudRate: 9600, Frame: "7e2"}.String())
}
