package e2e

// Full-stack tests over a real HTTP server: artifact store, device
// negotiation, admission gate, manager and the HTTP/WebSocket surfaces are
// all live. Only the inference runtime is scripted.

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chatd/internal/artifact"
	"chatd/internal/config"
	"chatd/internal/device"
	"chatd/internal/engine"
	"chatd/internal/gate"
	"chatd/internal/httpapi"
	"chatd/internal/manager"
	"chatd/pkg/types"
)

type echoBackend struct{ tokens []string }

func (b *echoBackend) Name() string { return "e2e" }

func (b *echoBackend) Bind(ctx context.Context, path, devName string, options map[string]string) (engine.Runner, error) {
	return &echoRunner{tokens: b.tokens}, nil
}

type echoRunner struct{ tokens []string }

func (r *echoRunner) Generate(ctx context.Context, prompt string, settings engine.Settings, onToken func(string) error) error {
	for _, tok := range r.tokens {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := onToken(tok); err != nil {
			return err
		}
	}
	return nil
}

func (r *echoRunner) Close() error { return nil }

func newServer(t *testing.T, backend engine.Backend) *httptest.Server {
	t.Helper()
	cfg := config.Default()
	cfg.Model.ModelsDir = t.TempDir()

	dir := filepath.Join(cfg.Model.ModelsDir, strings.ReplaceAll(cfg.Model.RepoID, "/", "_"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, name := range artifact.RequiredFiles {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("seed"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	store, err := artifact.NewStore(artifact.StoreConfig{
		Dir:      cfg.Model.ModelsDir,
		Endpoint: "http://127.0.0.1:0",
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	profiles := make([]device.Profile, 0, len(cfg.Devices))
	for _, d := range cfg.Devices {
		profiles = append(profiles, device.Profile{Name: d.Name, Rank: d.Rank, Options: d.Options})
	}
	g := gate.New(cfg.Server.MaxQueueDepth, cfg.Server.MaxWait())
	mgr := manager.New(cfg, store, device.New(backend, profiles, zerolog.Nop()), g, zerolog.Nop())
	t.Cleanup(func() { mgr.Close() })

	srv := httptest.NewServer(httpapi.NewMux(mgr))
	t.Cleanup(srv.Close)
	return srv
}

func TestChatRoundTrip(t *testing.T) {
	srv := newServer(t, &echoBackend{tokens: []string{"The ", "answer ", "is ", "42."}})

	body := bytes.NewBufferString(`{"message":"what is the answer?"}`)
	resp, err := http.Post(srv.URL+"/api/chat", "application/json", body)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	var chat types.ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if chat.Response != "The answer is 42." {
		t.Fatalf("unexpected response: %q", chat.Response)
	}
	if chat.TokensGenerated != 4 || chat.InferenceTime <= 0 {
		t.Fatalf("unexpected stats: %+v", chat)
	}

	// Pipeline is bound now, health must report the first-ranked device.
	hr, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	defer hr.Body.Close()
	var health types.HealthResponse
	if err := json.NewDecoder(hr.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "healthy" || !health.ModelLoaded || !health.NPUAvailable {
		t.Fatalf("unexpected health: %+v", health)
	}
}

func TestWebSocketRoundTrip(t *testing.T) {
	srv := newServer(t, &echoBackend{tokens: []string{"hi ", "there"}})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat/e2e-client"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	data, _ := json.Marshal(types.MessageData{Message: "hello"})
	if err := conn.WriteJSON(types.Frame{Type: types.FrameMessage, Data: data}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var got []string
	sawStart := false
	for {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var f types.Frame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("read: %v", err)
		}
		switch f.Type {
		case types.FrameStart:
			sawStart = true
		case types.FrameToken:
			var d types.TokenData
			if err := json.Unmarshal(f.Data, &d); err != nil {
				t.Fatalf("decode token: %v", err)
			}
			got = append(got, d.Token)
		case types.FrameComplete:
			if !sawStart {
				t.Fatalf("complete before start")
			}
			if strings.Join(got, "") != "hi there" {
				t.Fatalf("unexpected tokens: %q", got)
			}
			return
		default:
			t.Fatalf("unexpected frame %s", f.Type)
		}
	}
}

func TestDegradedWithoutRuntime(t *testing.T) {
	// The default build carries the stub backend, every bind attempt fails
	// and the service keeps serving in degraded health.
	if engine.Built() {
		t.Skip("real inference runtime compiled in")
	}
	srv := newServer(t, engine.NewBackend(2048))

	rr, err := http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("get readyz: %v", err)
	}
	rr.Body.Close()
	if rr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("readyz status=%d", rr.StatusCode)
	}

	body := bytes.NewBufferString(`{"message":"hi"}`)
	cr, err := http.Post(srv.URL+"/api/chat", "application/json", body)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	cr.Body.Close()
	if cr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("chat status=%d", cr.StatusCode)
	}

	hr, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	defer hr.Body.Close()
	var health types.HealthResponse
	if err := json.NewDecoder(hr.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "degraded" || health.ModelLoaded {
		t.Fatalf("unexpected health: %+v", health)
	}
}
