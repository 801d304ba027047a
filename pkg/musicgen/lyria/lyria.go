// Package lyria implements the musicgen.Provider interface for Google's
// Lyria RealTime music generation API.
//
// It establishes a bidirectional WebSocket connection to the Lyria endpoint
// and exchanges JSON messages according to the BidiGenerateMusic protocol.
// Audio arrives as base64-encoded PCM chunks (48 kHz, stereo, s16le); prompt
// rejections are surfaced via the OnFilteredPrompt callback.
package lyria

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/vibecast/pkg/musicgen"
	"github.com/coder/websocket"
)

// Compile-time assertions that Provider and session satisfy the musicgen interfaces.
var _ musicgen.Provider = (*Provider)(nil)
var _ musicgen.SessionHandle = (*session)(nil)

const (
	defaultModel   = "lyria-realtime-exp"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second

	// Lyria RealTime always produces 48 kHz interleaved stereo s16le PCM.
	outputSampleRate = 48000
	outputChannels   = 2
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the Lyria model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements musicgen.Provider for Google's Lyria RealTime API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a new Lyria Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Capabilities returns static metadata about the Lyria output stream.
func (p *Provider) Capabilities() musicgen.Capabilities {
	return musicgen.Capabilities{
		SampleRate: outputSampleRate,
		Channels:   outputChannels,
		MaxPrompts: 16,
	}
}

// Connect establishes a new Lyria session. The returned SessionHandle is
// ready to accept prompts immediately after the setup message is sent; the
// OnOpen callback fires once the service acknowledges setup.
func (p *Provider) Connect(ctx context.Context, cfg musicgen.SessionConfig, cb musicgen.Callbacks) (musicgen.SessionHandle, error) {
	wsURL := fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1alpha.GenerativeService.BidiGenerateMusic?key=%s",
		p.baseURL, p.apiKey,
	)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("lyria: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:   conn,
		cb:     cb,
		done:   make(chan struct{}),
		ctx:    sessCtx,
		cancel: sessCancel,
	}

	if err := sess.sendSetup(p.model); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("lyria: setup: %w", err)
	}

	if cfg != (musicgen.SessionConfig{}) {
		if err := sess.sendGenerationConfig(cfg); err != nil {
			sessCancel()
			conn.Close(websocket.StatusInternalError, "config failed")
			return nil, fmt.Errorf("lyria: generation config: %w", err)
		}
	}

	go sess.receiveLoop()
	go sess.keepaliveLoop()

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model string `json:"model"`
}

type clientContentMessage struct {
	ClientContent clientContent `json:"clientContent"`
}

type clientContent struct {
	WeightedPrompts []weightedPrompt `json:"weightedPrompts"`
}

type weightedPrompt struct {
	Text   string  `json:"text"`
	Weight float64 `json:"weight"`
}

type generationConfigMessage struct {
	MusicGenerationConfig musicGenerationConfig `json:"musicGenerationConfig"`
}

type musicGenerationConfig struct {
	BPM         int     `json:"bpm,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	Guidance    float64 `json:"guidance,omitempty"`
}

type playbackControlMessage struct {
	PlaybackControl string `json:"playbackControl"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	SetupComplete  *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent  *serverContent   `json:"serverContent,omitempty"`
	FilteredPrompt *filteredPrompt  `json:"filteredPrompt,omitempty"`
	Error          *lyriaError      `json:"error,omitempty"`
}

type lyriaError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type serverContent struct {
	AudioChunks []audioChunk `json:"audioChunks,omitempty"`
}

type audioChunk struct {
	Data           string          `json:"data"` // base64-encoded PCM
	MIMEType       string          `json:"mimeType,omitempty"`
	SourceMetadata *sourceMetadata `json:"sourceMetadata,omitempty"`
}

type sourceMetadata struct {
	ClientContent *clientContent `json:"clientContent,omitempty"`
}

type filteredPrompt struct {
	Text           string `json:"text"`
	FilteredReason string `json:"filteredReason,omitempty"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn *websocket.Conn
	cb   musicgen.Callbacks

	mu     sync.Mutex
	closed bool

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// sendSetup sends the initial BidiGenerateMusic setup message.
func (s *session) sendSetup(model string) error {
	return s.writeJSON(setupMessage{
		Setup: setupConfig{Model: fmt.Sprintf("models/%s", model)},
	})
}

// sendGenerationConfig sends the musicGenerationConfig message.
func (s *session) sendGenerationConfig(cfg musicgen.SessionConfig) error {
	return s.writeJSON(generationConfigMessage{
		MusicGenerationConfig: musicGenerationConfig{
			BPM:         cfg.BPM,
			Temperature: cfg.Temperature,
			Guidance:    cfg.Guidance,
		},
	})
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("lyria: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// receiveLoop reads messages from the WebSocket and dispatches them to the
// session callbacks. It fires OnClose exactly once when it exits.
func (s *session) receiveLoop() {
	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			// If the session context was cancelled, the close was local.
			if s.ctx.Err() != nil {
				s.fireClose(nil)
				return
			}
			s.fireClose(err)
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue // skip malformed frames
		}

		s.handleServerMessage(&msg)
	}
}

func (s *session) handleServerMessage(msg *serverMessage) {
	if msg.Error != nil && s.cb.OnError != nil {
		text := "unknown error"
		if msg.Error.Message != "" {
			text = msg.Error.Message
		}
		s.cb.OnError(fmt.Errorf("lyria: %s", text))
	}
	if msg.SetupComplete != nil && s.cb.OnOpen != nil {
		s.cb.OnOpen()
	}
	if msg.ServerContent != nil {
		s.handleServerContent(msg.ServerContent)
	}
	if msg.FilteredPrompt != nil && s.cb.OnFilteredPrompt != nil {
		s.cb.OnFilteredPrompt(msg.FilteredPrompt.Text, msg.FilteredPrompt.FilteredReason)
	}
}

func (s *session) handleServerContent(sc *serverContent) {
	if len(sc.AudioChunks) == 0 || s.cb.OnChunks == nil {
		return
	}

	chunks := make([]musicgen.AudioChunk, 0, len(sc.AudioChunks))
	for _, ac := range sc.AudioChunks {
		pcm, err := base64.StdEncoding.DecodeString(ac.Data)
		if err != nil || len(pcm) == 0 {
			continue
		}
		chunk := musicgen.AudioChunk{
			Data:       pcm,
			SampleRate: outputSampleRate,
			Channels:   outputChannels,
		}
		if ac.SourceMetadata != nil && ac.SourceMetadata.ClientContent != nil {
			for _, wp := range ac.SourceMetadata.ClientContent.WeightedPrompts {
				chunk.EchoedPrompts = append(chunk.EchoedPrompts, wp.Text)
			}
		}
		chunks = append(chunks, chunk)
	}

	if len(chunks) > 0 {
		s.cb.OnChunks(chunks)
	}
}

// keepaliveLoop sends WebSocket pings to keep the Lyria connection alive.
func (s *session) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			_ = s.conn.Ping(pingCtx)
			cancel()
		}
	}
}

// fireClose invokes the OnClose callback exactly once.
func (s *session) fireClose(err error) {
	s.closeOnce.Do(func() {
		if s.cb.OnClose != nil {
			s.cb.OnClose(err)
		}
	})
}

// ── SessionHandle methods ──────────────────────────────────────────────────────

// SetWeightedPrompts replaces the active prompt set for the running stream.
func (s *session) SetWeightedPrompts(prompts []musicgen.WeightedPrompt) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	wps := make([]weightedPrompt, len(prompts))
	for i, p := range prompts {
		wps[i] = weightedPrompt{Text: p.Text, Weight: p.Weight}
	}
	return s.writeJSON(clientContentMessage{
		ClientContent: clientContent{WeightedPrompts: wps},
	})
}

// SetConfig replaces the generation parameters for the running stream.
func (s *session) SetConfig(cfg musicgen.SessionConfig) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.sendGenerationConfig(cfg)
}

// Play instructs the service to start or resume audio production.
func (s *session) Play() error {
	return s.sendPlaybackControl("PLAY")
}

// Pause instructs the service to suspend audio production.
func (s *session) Pause() error {
	return s.sendPlaybackControl("PAUSE")
}

// Stop instructs the service to stop producing audio and discard its
// generation context.
func (s *session) Stop() error {
	return s.sendPlaybackControl("STOP")
}

func (s *session) sendPlaybackControl(verb string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.writeJSON(playbackControlMessage{PlaybackControl: verb})
}

func (s *session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("lyria: session closed")
	}
	return nil
}

// Close terminates the session and releases all resources. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()    // unblocks receiveLoop and keepaliveLoop
	close(s.done) // signals keepaliveLoop via done channel
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
