package lyria_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/vibecast/pkg/musicgen"
	"github.com/MrWong99/vibecast/pkg/musicgen/lyria"
	"github.com/coder/websocket"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startLyriaServer launches a test WebSocket server. The handler function
// receives the accepted *websocket.Conn. The server is automatically closed
// when the test finishes.
func startLyriaServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one WebSocket text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("readJSON: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("readJSON unmarshal: %v", err)
	}
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

// sendSetupComplete sends the server-side setupComplete ack.
func sendSetupComplete(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	writeJSON(t, conn, map[string]any{"setupComplete": map[string]any{}})
}

// newProvider creates a Provider pointing at the given test server.
func newProvider(srv *httptest.Server) *lyria.Provider {
	return lyria.New("test-api-key", lyria.WithBaseURL(wsURL(srv)))
}

// ── Option constructor tests ───────────────────────────────────────────────────

func TestNew_DefaultValues(t *testing.T) {
	t.Parallel()
	p := lyria.New("my-key")
	if p == nil {
		t.Fatal("New returned nil")
	}
}

func TestWithModel_SetsModel(t *testing.T) {
	t.Parallel()

	modelCh := make(chan string, 1)

	srv := startLyriaServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg struct {
			Setup struct {
				Model string `json:"model"`
			} `json:"setup"`
		}
		readJSON(t, conn, &msg)
		modelCh <- msg.Setup.Model
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := lyria.New("key", lyria.WithModel("custom-model"), lyria.WithBaseURL(wsURL(srv)))
	handle, err := p.Connect(context.Background(), musicgen.SessionConfig{}, musicgen.Callbacks{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	select {
	case model := <-modelCh:
		if want := "models/custom-model"; model != want {
			t.Errorf("model = %q; want %q", model, want)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for model in setup message")
	}
}

// ── TestCapabilities ───────────────────────────────────────────────────────────

func TestCapabilities_MatchesLyriaOutput(t *testing.T) {
	t.Parallel()
	p := lyria.New("key")
	caps := p.Capabilities()
	if caps.SampleRate != 48000 {
		t.Errorf("SampleRate = %d; want 48000", caps.SampleRate)
	}
	if caps.Channels != 2 {
		t.Errorf("Channels = %d; want 2", caps.Channels)
	}
	if caps.MaxPrompts == 0 {
		t.Error("MaxPrompts should be non-zero")
	}
}

// ── TestConnect ────────────────────────────────────────────────────────────────

func TestConnect_IncludesAPIKeyAndMethodInURL(t *testing.T) {
	t.Parallel()

	urlInfo := make(chan string, 1)

	srv := startLyriaServer(t, func(conn *websocket.Conn, r *http.Request) {
		urlInfo <- r.URL.Path + "?" + r.URL.RawQuery
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := lyria.New("secret-key", lyria.WithBaseURL(wsURL(srv)))
	handle, err := p.Connect(context.Background(), musicgen.SessionConfig{}, musicgen.Callbacks{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	select {
	case u := <-urlInfo:
		if !strings.Contains(u, "BidiGenerateMusic") {
			t.Errorf("URL %q should contain BidiGenerateMusic", u)
		}
		if !strings.Contains(u, "key=secret-key") {
			t.Errorf("URL %q should contain key=secret-key", u)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
}

func TestConnect_SendsGenerationConfig(t *testing.T) {
	t.Parallel()

	type configMsg struct {
		MusicGenerationConfig struct {
			BPM         int     `json:"bpm"`
			Temperature float64 `json:"temperature"`
			Guidance    float64 `json:"guidance"`
		} `json:"musicGenerationConfig"`
	}

	received := make(chan configMsg, 1)

	srv := startLyriaServer(t, func(conn *websocket.Conn, _ *http.Request) {
		// Consume setup, then read the generation config.
		var raw map[string]any
		readJSON(t, conn, &raw)
		var msg configMsg
		readJSON(t, conn, &msg)
		received <- msg
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	cfg := musicgen.SessionConfig{BPM: 128, Temperature: 1.2, Guidance: 4.5}
	handle, err := p.Connect(context.Background(), cfg, musicgen.Callbacks{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	select {
	case msg := <-received:
		if msg.MusicGenerationConfig.BPM != 128 {
			t.Errorf("bpm = %d; want 128", msg.MusicGenerationConfig.BPM)
		}
		if msg.MusicGenerationConfig.Temperature != 1.2 {
			t.Errorf("temperature = %v; want 1.2", msg.MusicGenerationConfig.Temperature)
		}
		if msg.MusicGenerationConfig.Guidance != 4.5 {
			t.Errorf("guidance = %v; want 4.5", msg.MusicGenerationConfig.Guidance)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for generation config")
	}
}

func TestConnect_ZeroConfigSkipsGenerationConfig(t *testing.T) {
	t.Parallel()

	frames := make(chan string, 4)

	srv := startLyriaServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)
		// Read the next client frame; should be the playbackControl, not a config.
		var next map[string]any
		readJSON(t, conn, &next)
		data, _ := json.Marshal(next)
		frames <- string(data)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	handle, err := p.Connect(context.Background(), musicgen.SessionConfig{}, musicgen.Callbacks{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	if err := handle.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}

	select {
	case frame := <-frames:
		if strings.Contains(frame, "musicGenerationConfig") {
			t.Errorf("zero config should not be sent; got %s", frame)
		}
		if !strings.Contains(frame, "playbackControl") {
			t.Errorf("expected playbackControl frame; got %s", frame)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for client frame")
	}
}

func TestConnect_CancelledContext_ReturnsError(t *testing.T) {
	t.Parallel()

	srv := startLyriaServer(t, func(conn *websocket.Conn, _ *http.Request) {
		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // already cancelled

	_, err := p.Connect(ctx, musicgen.SessionConfig{}, musicgen.Callbacks{})
	if err == nil {
		t.Fatal("Connect with cancelled context should return an error")
	}
}

// ── TestSetWeightedPrompts ─────────────────────────────────────────────────────

func TestSetWeightedPrompts_SendsClientContent(t *testing.T) {
	t.Parallel()

	type clientContentMsg struct {
		ClientContent struct {
			WeightedPrompts []struct {
				Text   string  `json:"text"`
				Weight float64 `json:"weight"`
			} `json:"weightedPrompts"`
		} `json:"clientContent"`
	}

	received := make(chan clientContentMsg, 1)

	srv := startLyriaServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		var msg clientContentMsg
		readJSON(t, conn, &msg)
		received <- msg

		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	handle, err := p.Connect(context.Background(), musicgen.SessionConfig{}, musicgen.Callbacks{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	prompts := []musicgen.WeightedPrompt{
		{Text: "minimal techno", Weight: 1.0},
		{Text: "warm analog pads", Weight: 0.5},
	}
	if err := handle.SetWeightedPrompts(prompts); err != nil {
		t.Fatalf("SetWeightedPrompts: %v", err)
	}

	select {
	case msg := <-received:
		wps := msg.ClientContent.WeightedPrompts
		if len(wps) != 2 {
			t.Fatalf("expected 2 weighted prompts; got %d", len(wps))
		}
		if wps[0].Text != "minimal techno" || wps[0].Weight != 1.0 {
			t.Errorf("prompt[0] = %+v", wps[0])
		}
		if wps[1].Text != "warm analog pads" || wps[1].Weight != 0.5 {
			t.Errorf("prompt[1] = %+v", wps[1])
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for clientContent message")
	}
}

func TestSetWeightedPrompts_AfterClose_ReturnsError(t *testing.T) {
	t.Parallel()

	srv := startLyriaServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	handle, err := p.Connect(context.Background(), musicgen.SessionConfig{}, musicgen.Callbacks{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := handle.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := handle.SetWeightedPrompts([]musicgen.WeightedPrompt{{Text: "jazz", Weight: 1}}); err == nil {
		t.Fatal("SetWeightedPrompts after Close should return an error")
	}
}

// ── TestSetConfig ──────────────────────────────────────────────────────────────

func TestSetConfig_SendsGenerationConfig(t *testing.T) {
	t.Parallel()

	received := make(chan string, 1)

	srv := startLyriaServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		var msg map[string]any
		readJSON(t, conn, &msg)
		data, _ := json.Marshal(msg)
		received <- string(data)

		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	handle, err := p.Connect(context.Background(), musicgen.SessionConfig{}, musicgen.Callbacks{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	if err := handle.SetConfig(musicgen.SessionConfig{BPM: 90}); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}

	select {
	case frame := <-received:
		if !strings.Contains(frame, "musicGenerationConfig") {
			t.Errorf("expected musicGenerationConfig frame; got %s", frame)
		}
		if !strings.Contains(frame, `"bpm":90`) {
			t.Errorf("expected bpm 90 in frame; got %s", frame)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for config frame")
	}
}

// ── TestPlaybackControl ────────────────────────────────────────────────────────

func TestPlaybackControl_SendsVerbs(t *testing.T) {
	t.Parallel()

	verbs := make(chan string, 3)

	srv := startLyriaServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		for range 3 {
			var msg struct {
				PlaybackControl string `json:"playbackControl"`
			}
			readJSON(t, conn, &msg)
			verbs <- msg.PlaybackControl
		}

		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	handle, err := p.Connect(context.Background(), musicgen.SessionConfig{}, musicgen.Callbacks{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	if err := handle.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if err := handle.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := handle.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	want := []string{"PLAY", "PAUSE", "STOP"}
	for i, w := range want {
		select {
		case got := <-verbs:
			if got != w {
				t.Errorf("verb[%d] = %q; want %q", i, got, w)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timeout waiting for verb %d", i)
		}
	}
}

// ── Callback tests ─────────────────────────────────────────────────────────────

func TestOnOpen_FiresOnSetupComplete(t *testing.T) {
	t.Parallel()

	srv := startLyriaServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	opened := make(chan struct{}, 1)
	p := newProvider(srv)
	handle, err := p.Connect(context.Background(), musicgen.SessionConfig{}, musicgen.Callbacks{
		OnOpen: func() { opened <- struct{}{} },
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	select {
	case <-opened:
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for OnOpen")
	}
}

func TestOnChunks_DeliversDecodedPCMWithEchoedPrompts(t *testing.T) {
	t.Parallel()

	wantPCM := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	encoded := base64.StdEncoding.EncodeToString(wantPCM)

	srv := startLyriaServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"audioChunks": []map[string]any{
					{
						"data":     encoded,
						"mimeType": "audio/l16;rate=48000",
						"sourceMetadata": map[string]any{
							"clientContent": map[string]any{
								"weightedPrompts": []map[string]any{
									{"text": "minimal techno", "weight": 1.0},
								},
							},
						},
					},
				},
			},
		})

		<-conn.CloseRead(context.Background()).Done()
	})

	chunksCh := make(chan []musicgen.AudioChunk, 1)
	p := newProvider(srv)
	handle, err := p.Connect(context.Background(), musicgen.SessionConfig{}, musicgen.Callbacks{
		OnChunks: func(chunks []musicgen.AudioChunk) { chunksCh <- chunks },
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	select {
	case chunks := <-chunksCh:
		if len(chunks) != 1 {
			t.Fatalf("expected 1 chunk; got %d", len(chunks))
		}
		c := chunks[0]
		if string(c.Data) != string(wantPCM) {
			t.Errorf("chunk data = %v; want %v", c.Data, wantPCM)
		}
		if c.SampleRate != 48000 || c.Channels != 2 {
			t.Errorf("format = %d Hz / %d ch; want 48000 / 2", c.SampleRate, c.Channels)
		}
		if len(c.EchoedPrompts) != 1 || c.EchoedPrompts[0] != "minimal techno" {
			t.Errorf("echoed prompts = %v; want [minimal techno]", c.EchoedPrompts)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for audio chunks")
	}
}

func TestOnChunks_SkipsMalformedChunks(t *testing.T) {
	t.Parallel()

	good := base64.StdEncoding.EncodeToString([]byte{0x01, 0x02})

	srv := startLyriaServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"audioChunks": []map[string]any{
					{"data": "!!!not-base64!!!"},
					{"data": good},
				},
			},
		})

		<-conn.CloseRead(context.Background()).Done()
	})

	chunksCh := make(chan []musicgen.AudioChunk, 1)
	p := newProvider(srv)
	handle, err := p.Connect(context.Background(), musicgen.SessionConfig{}, musicgen.Callbacks{
		OnChunks: func(chunks []musicgen.AudioChunk) { chunksCh <- chunks },
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	select {
	case chunks := <-chunksCh:
		if len(chunks) != 1 {
			t.Fatalf("expected 1 decodable chunk; got %d", len(chunks))
		}
		if string(chunks[0].Data) != string([]byte{0x01, 0x02}) {
			t.Errorf("chunk data = %v", chunks[0].Data)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for audio chunks")
	}
}

func TestOnFilteredPrompt_FiresWithReason(t *testing.T) {
	t.Parallel()

	srv := startLyriaServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		writeJSON(t, conn, map[string]any{
			"filteredPrompt": map[string]any{
				"text":           "explicit vocals",
				"filteredReason": "SAFETY",
			},
		})

		<-conn.CloseRead(context.Background()).Done()
	})

	type filtered struct{ text, reason string }
	filteredCh := make(chan filtered, 1)

	p := newProvider(srv)
	handle, err := p.Connect(context.Background(), musicgen.SessionConfig{}, musicgen.Callbacks{
		OnFilteredPrompt: func(text, reason string) { filteredCh <- filtered{text, reason} },
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	select {
	case f := <-filteredCh:
		if f.text != "explicit vocals" {
			t.Errorf("filtered text = %q; want %q", f.text, "explicit vocals")
		}
		if f.reason != "SAFETY" {
			t.Errorf("filtered reason = %q; want SAFETY", f.reason)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for filtered prompt")
	}
}

func TestOnError_FiresOnServerError(t *testing.T) {
	t.Parallel()

	srv := startLyriaServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		writeJSON(t, conn, map[string]any{
			"error": map[string]any{
				"code":    8,
				"message": "quota exceeded",
				"status":  "RESOURCE_EXHAUSTED",
			},
		})

		<-conn.CloseRead(context.Background()).Done()
	})

	errCh := make(chan error, 1)
	p := newProvider(srv)
	handle, err := p.Connect(context.Background(), musicgen.SessionConfig{}, musicgen.Callbacks{
		OnError: func(err error) { errCh <- err },
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	select {
	case got := <-errCh:
		if !strings.Contains(got.Error(), "quota exceeded") {
			t.Errorf("error = %v; want message to mention quota exceeded", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for error callback")
	}
}

func TestOnClose_FiresWhenServerDrops(t *testing.T) {
	t.Parallel()

	srv := startLyriaServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)
		conn.Close(websocket.StatusInternalError, "going away")
	})

	closedCh := make(chan error, 1)
	p := newProvider(srv)
	handle, err := p.Connect(context.Background(), musicgen.SessionConfig{}, musicgen.Callbacks{
		OnClose: func(err error) { closedCh <- err },
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	select {
	case err := <-closedCh:
		if err == nil {
			t.Error("OnClose after server drop should carry an error")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for OnClose")
	}
}

// ── TestClose_Idempotent ───────────────────────────────────────────────────────

func TestClose_Idempotent(t *testing.T) {
	t.Parallel()

	srv := startLyriaServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	handle, err := p.Connect(context.Background(), musicgen.SessionConfig{}, musicgen.Callbacks{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := handle.Close(); err != nil {
		t.Fatalf("first Close() returned error: %v", err)
	}
	if err := handle.Close(); err != nil {
		t.Fatalf("second Close() returned error: %v", err)
	}
}
