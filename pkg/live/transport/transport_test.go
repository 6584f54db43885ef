package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-go/shikkha/pkg/core"
	"github.com/vango-go/shikkha/pkg/core/audio"
	"github.com/vango-go/shikkha/pkg/live/protocol"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

type recorder struct {
	mu       sync.Mutex
	opened   chan struct{}
	messages chan []protocol.Event
	closed   chan int
	errs     chan error
	calls    int
}

func newRecorder() *recorder {
	return &recorder{
		opened:   make(chan struct{}, 1),
		messages: make(chan []protocol.Event, 16),
		closed:   make(chan int, 4),
		errs:     make(chan error, 4),
	}
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnOpen:    func() { r.opened <- struct{}{} },
		OnMessage: func(evs []protocol.Event) { r.messages <- evs },
		OnClose: func(code int, reason string) {
			r.mu.Lock()
			r.calls++
			r.mu.Unlock()
			r.closed <- code
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.calls++
			r.mu.Unlock()
			r.errs <- err
		},
	}
}

func (r *recorder) terminalCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func waitOpen(t *testing.T, r *recorder) {
	t.Helper()
	select {
	case <-r.opened:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for open")
	}
}

func TestDial_SetupThenMediaInOrder(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	received := make(chan []byte, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- data
			if strings.Contains(string(data), `"setup"`) {
				_ = conn.WriteMessage(websocket.BinaryMessage, []byte(`{"setupComplete":{}}`))
			}
		}
	}))
	defer srv.Close()

	rec := newRecorder()
	conn, err := Dial(context.Background(), Config{
		URL:   wsURL(srv),
		Setup: protocol.NewSetup("", "tutor"),
	}, rec.callbacks())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	select {
	case first := <-received:
		var msg protocol.ClientSetup
		if err := json.Unmarshal(first, &msg); err != nil || msg.Setup.Model == "" {
			t.Fatalf("first frame is not setup: %s", first)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("setup not received")
	}
	waitOpen(t, rec)

	for i := 0; i < 3; i++ {
		blob := audio.Blob{Data: audio.EncodeBytes([]byte{byte(i), 0}), MIMEType: audio.PCMMIMEType(16000)}
		if err := conn.SendMedia(blob); err != nil {
			t.Fatalf("SendMedia(%d) error = %v", i, err)
		}
	}
	for i := 0; i < 3; i++ {
		select {
		case data := <-received:
			var msg protocol.ClientRealtimeInput
			if err := json.Unmarshal(data, &msg); err != nil {
				t.Fatalf("unmarshal media: %v", err)
			}
			chunk := msg.RealtimeInput.MediaChunks[0]
			if chunk.MIMEType != "audio/pcm;rate=16000" {
				t.Fatalf("mimeType=%q", chunk.MIMEType)
			}
			raw, _ := audio.DecodeText(chunk.Data)
			if raw[0] != byte(i) {
				t.Fatalf("frame %d arrived out of order (got %d)", i, raw[0])
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("media frame %d not received", i)
		}
	}
}

func TestDial_DeliversDecodedEvents(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"setupComplete":{}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"serverContent":{"inputTranscription":{"text":"hi"},"turnComplete":true}}`))
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	rec := newRecorder()
	conn, err := Dial(context.Background(), Config{URL: wsURL(srv)}, rec.callbacks())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	waitOpen(t, rec)

	select {
	case evs := <-rec.messages:
		if len(evs) != 2 {
			t.Fatalf("events=%#v", evs)
		}
		if tr, ok := evs[0].(protocol.Transcription); !ok || tr.Text != "hi" {
			t.Fatalf("events[0]=%#v", evs[0])
		}
		if _, ok := evs[1].(protocol.TurnComplete); !ok {
			t.Fatalf("events[1]=%#v", evs[1])
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no message delivered")
	}
}

func TestDial_HandshakeForbiddenIsCredentialError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "API key not valid", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := Dial(context.Background(), Config{URL: wsURL(srv)}, Callbacks{})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !core.IsType(err, core.ErrCredential) {
		t.Fatalf("error = %v, want credential_error", err)
	}
}

func TestDial_UnreachableIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	_, err := Dial(context.Background(), Config{URL: url}, Callbacks{})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !core.IsType(err, core.ErrTransport) {
		t.Fatalf("error = %v, want transport_error", err)
	}
}

func TestDial_PolicyCloseBeforeSetupIsCredentialError(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "denied"), time.Now().Add(time.Second))
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	rec := newRecorder()
	conn, err := Dial(context.Background(), Config{URL: wsURL(srv)}, rec.callbacks())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	select {
	case err := <-rec.errs:
		if !core.IsType(err, core.ErrCredential) {
			t.Fatalf("error = %v, want credential_error", err)
		}
	case <-rec.closed:
		t.Fatalf("OnClose fired, want OnError")
	case <-time.After(2 * time.Second):
		t.Fatalf("no terminal callback")
	}
}

func TestConn_RemoteNormalCloseFiresOnCloseOnce(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"setupComplete":{}}`))
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	rec := newRecorder()
	conn, err := Dial(context.Background(), Config{URL: wsURL(srv)}, rec.callbacks())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	waitOpen(t, rec)

	select {
	case code := <-rec.closed:
		if code != websocket.CloseNormalClosure {
			t.Fatalf("close code=%d", code)
		}
	case err := <-rec.errs:
		t.Fatalf("OnError(%v), want OnClose", err)
	case <-time.After(2 * time.Second):
		t.Fatalf("no close callback")
	}

	select {
	case <-conn.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("Done() not closed after remote close")
	}
	if n := rec.terminalCalls(); n != 1 {
		t.Fatalf("terminal callbacks=%d, want 1", n)
	}
}

func TestConn_LocalCloseIsIdempotentAndSilent(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"setupComplete":{}}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	rec := newRecorder()
	conn, err := Dial(context.Background(), Config{URL: wsURL(srv)}, rec.callbacks())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	waitOpen(t, rec)

	conn.Close()
	conn.Close()

	select {
	case <-conn.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("Done() not closed after Close")
	}
	if n := rec.terminalCalls(); n != 0 {
		t.Fatalf("terminal callbacks after local close=%d, want 0", n)
	}
	if err := conn.SendMedia(audio.Blob{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("SendMedia after Close error = %v, want ErrClosed", err)
	}
}

func TestDial_RequiresURL(t *testing.T) {
	if _, err := Dial(context.Background(), Config{}, Callbacks{}); !core.IsType(err, core.ErrInvalidRequest) {
		t.Fatalf("error = %v, want invalid_request_error", err)
	}
}
