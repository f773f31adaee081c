package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/example/go-voicevox-core/internal/config"
	"github.com/example/go-voicevox-core/internal/engine"
	"github.com/example/go-voicevox-core/internal/onnx"
	"github.com/example/go-voicevox-core/internal/synth"
	"github.com/example/go-voicevox-core/internal/voicemodel"
	"github.com/example/go-voicevox-core/internal/vverror"
)

// ParseLogLevel converts a case-insensitive level string to slog.Level.
// An empty string returns slog.LevelInfo. Unknown strings return an error.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (want debug|info|warn|error)", s)
	}
}

// Synthesizer runs the blocking calls behind the synthesis endpoints.
// *synth.Async implements it.
type Synthesizer interface {
	Synthesize(ctx context.Context, query engine.AudioQuery, style voicemodel.StyleID, opts synth.SynthesisOptions) ([]byte, error)
	Morph(ctx context.Context, query engine.AudioQuery, base, target voicemodel.StyleID, rate float32) ([]byte, error)
	ReplaceMoraData(ctx context.Context, aps []engine.AccentPhrase, style voicemodel.StyleID) ([]engine.AccentPhrase, error)
}

// Catalog answers the cheap lookups. *synth.Synthesizer implements it.
type Catalog interface {
	Metas() []voicemodel.CharacterMeta
	SupportedDevices() onnx.Devices
	IsLoadedModelByStyle(style voicemodel.StyleID) bool
	MorphableTargets(base voicemodel.StyleID) (map[voicemodel.StyleID]bool, error)
	DefaultSynthesisOptions() synth.SynthesisOptions
}

// ---------------------------------------------------------------------------
// Functional options
// ---------------------------------------------------------------------------

type options struct {
	maxBodyBytes   int64
	workers        int
	requestTimeout time.Duration
	logger         *slog.Logger
}

func defaultOptions() options {
	return options{
		maxBodyBytes:   1 << 20,
		workers:        2,
		requestTimeout: 60 * time.Second,
		logger:         slog.Default(),
	}
}

// Option configures the HTTP handler.
type Option func(*options)

// WithMaxBodyBytes caps the accepted request body size.
func WithMaxBodyBytes(n int) Option {
	return func(o *options) { o.maxBodyBytes = int64(n) }
}

// WithWorkers sets the maximum number of concurrent synthesis requests.
// Zero disables the limit.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithRequestTimeout sets the per-request synthesis deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// WithLogger sets the slog.Logger used for request logging.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// ---------------------------------------------------------------------------
// handler
// ---------------------------------------------------------------------------

type handler struct {
	synth   Synthesizer
	catalog Catalog
	opts    options
	sem     chan struct{}
	log     *slog.Logger
}

// NewHandler returns an http.Handler serving the engine-compatible subset
// of the VOICEVOX HTTP API.
func NewHandler(s Synthesizer, catalog Catalog, optFns ...Option) http.Handler {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	h := &handler{
		synth:   s,
		catalog: catalog,
		opts:    opts,
		log:     opts.logger,
	}
	if opts.workers > 0 {
		h.sem = make(chan struct{}, opts.workers)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /speakers", h.handleSpeakers)
	mux.HandleFunc("GET /supported_devices", h.handleSupportedDevices)
	mux.HandleFunc("GET /is_initialized_speaker", h.handleIsInitialized)
	mux.HandleFunc("GET /morphable_targets", h.handleMorphableTargets)
	mux.HandleFunc("POST /synthesis", h.handleSynthesis)
	mux.HandleFunc("POST /synthesis_morphing", h.handleMorphing)
	mux.HandleFunc("POST /mora_data", h.handleMoraData)
	return mux
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": buildVersion(),
	})
}

func (h *handler) handleSpeakers(w http.ResponseWriter, _ *http.Request) {
	metas := h.catalog.Metas()
	if metas == nil {
		metas = []voicemodel.CharacterMeta{}
	}
	writeJSON(w, http.StatusOK, metas)
}

func (h *handler) handleSupportedDevices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.catalog.SupportedDevices())
}

func (h *handler) handleIsInitialized(w http.ResponseWriter, r *http.Request) {
	style, ok := styleParam(w, r, "speaker")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.catalog.IsLoadedModelByStyle(style))
}

type morphableTarget struct {
	IsMorphable bool `json:"is_morphable"`
}

func (h *handler) handleMorphableTargets(w http.ResponseWriter, r *http.Request) {
	base, ok := styleParam(w, r, "base_speaker")
	if !ok {
		return
	}
	targets, err := h.catalog.MorphableTargets(base)
	if err != nil {
		h.writeFailure(w, r, "morphable targets", err)
		return
	}
	out := make(map[string]morphableTarget, len(targets))
	for id, ok := range targets {
		out[strconv.FormatUint(uint64(id), 10)] = morphableTarget{IsMorphable: ok}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) handleSynthesis(w http.ResponseWriter, r *http.Request) {
	style, ok := styleParam(w, r, "speaker")
	if !ok {
		return
	}
	opts := h.catalog.DefaultSynthesisOptions()
	if raw := r.URL.Query().Get("enable_interrogative_upspeak"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "invalid enable_interrogative_upspeak: "+raw)
			return
		}
		opts.EnableInterrogativeUpspeak = v
	}

	query, ok := h.decodeQuery(w, r)
	if !ok {
		return
	}
	h.runWAV(w, r, "synthesis", slog.Uint64("speaker", uint64(style)), func(ctx context.Context) ([]byte, error) {
		return h.synth.Synthesize(ctx, query, style, opts)
	})
}

func (h *handler) handleMorphing(w http.ResponseWriter, r *http.Request) {
	base, ok := styleParam(w, r, "base_speaker")
	if !ok {
		return
	}
	target, ok := styleParam(w, r, "target_speaker")
	if !ok {
		return
	}
	raw := r.URL.Query().Get("morph_rate")
	rate, err := strconv.ParseFloat(raw, 32)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid morph_rate: "+raw)
		return
	}

	query, ok := h.decodeQuery(w, r)
	if !ok {
		return
	}
	attr := slog.Group("morph",
		slog.Uint64("base", uint64(base)),
		slog.Uint64("target", uint64(target)),
		slog.Float64("rate", rate),
	)
	h.runWAV(w, r, "morphing", attr, func(ctx context.Context) ([]byte, error) {
		return h.synth.Morph(ctx, query, base, target, float32(rate))
	})
}

func (h *handler) handleMoraData(w http.ResponseWriter, r *http.Request) {
	style, ok := styleParam(w, r, "speaker")
	if !ok {
		return
	}
	var aps []engine.AccentPhrase
	if !h.decodeBody(w, r, &aps) {
		return
	}
	if !h.acquire(w, r) {
		return
	}
	defer h.release()

	ctx, cancel := context.WithTimeout(r.Context(), h.opts.requestTimeout)
	defer cancel()

	out, err := h.synth.ReplaceMoraData(ctx, aps, style)
	if err != nil {
		h.writeFailure(w, r, "mora data", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// runWAV runs fn inside a worker slot under the request timeout and writes
// its WAV output.
func (h *handler) runWAV(w http.ResponseWriter, r *http.Request, what string, attr slog.Attr, fn func(context.Context) ([]byte, error)) {
	if !h.acquire(w, r) {
		return
	}
	defer h.release()

	ctx, cancel := context.WithTimeout(r.Context(), h.opts.requestTimeout)
	defer cancel()

	start := time.Now()
	wav, err := fn(ctx)
	durationMS := time.Since(start).Milliseconds()
	if err != nil {
		h.writeFailure(w, r, what, err, attr, slog.Int64("duration_ms", durationMS))
		return
	}

	h.log.InfoContext(r.Context(), what+" complete",
		attr,
		slog.Int64("duration_ms", durationMS),
		slog.Int("wav_bytes", len(wav)),
	)

	w.Header().Set("Content-Type", "audio/wav")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(wav)
}

// acquire takes a worker slot, honouring cancellation while waiting.
func (h *handler) acquire(w http.ResponseWriter, r *http.Request) bool {
	if h.sem == nil {
		return true
	}
	select {
	case h.sem <- struct{}{}:
		return true
	case <-r.Context().Done():
		writeError(w, http.StatusServiceUnavailable, "request cancelled while waiting for worker")
		return false
	}
}

func (h *handler) release() {
	if h.sem != nil {
		<-h.sem
	}
}

func (h *handler) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	data, ok := h.readBody(w, r)
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

// decodeQuery parses an AudioQuery body. Fields the client leaves out keep
// their defaults rather than zero values.
func (h *handler) decodeQuery(w http.ResponseWriter, r *http.Request) (engine.AudioQuery, bool) {
	data, ok := h.readBody(w, r)
	if !ok {
		return engine.AudioQuery{}, false
	}
	q, err := engine.DecodeAudioQuery(data)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid JSON: "+err.Error())
		return engine.AudioQuery{}, false
	}
	return q, true
}

func (h *handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.opts.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds maximum size of %d bytes", h.opts.maxBodyBytes))
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "reading body: "+err.Error())
		return nil, false
	}
	return data, true
}

func styleParam(w http.ResponseWriter, r *http.Request, name string) (voicemodel.StyleID, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		writeError(w, http.StatusUnprocessableEntity, name+" query parameter is required")
		return 0, false
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("invalid %s: %s", name, raw))
		return 0, false
	}
	return voicemodel.StyleID(v), true
}

// statusFor maps an engine error to an HTTP status.
func statusFor(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return http.StatusServiceUnavailable
	}
	switch vverror.KindOf(err) {
	case vverror.KindStyleNotFound, vverror.KindModelNotFound:
		return http.StatusNotFound
	case vverror.KindAlreadyLoadedModel, vverror.KindAlreadyLoadedStyle:
		return http.StatusConflict
	case vverror.KindInvalidQuery, vverror.KindSpeakerFeature:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *handler) writeFailure(w http.ResponseWriter, r *http.Request, what string, err error, attrs ...any) {
	status := statusFor(err)
	args := append(attrs, slog.Int("status", status), slog.String("error", err.Error()))
	if status >= http.StatusInternalServerError {
		h.log.ErrorContext(r.Context(), what+" failed", args...)
	} else {
		h.log.WarnContext(r.Context(), what+" rejected", args...)
	}
	if status == http.StatusGatewayTimeout {
		writeError(w, status, what+" timed out")
		return
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ---------------------------------------------------------------------------
// Server: wires handler into net/http.Server with graceful shutdown
// ---------------------------------------------------------------------------

// Server serves an Async synthesizer over HTTP.
type Server struct {
	cfg             config.Config
	async           *synth.Async
	logger          *slog.Logger
	shutdownTimeout time.Duration
}

func New(cfg config.Config, async *synth.Async) *Server {
	return &Server{
		cfg:             cfg,
		async:           async,
		logger:          slog.Default(),
		shutdownTimeout: time.Duration(cfg.Server.ShutdownTimeout) * time.Second,
	}
}

// WithShutdownTimeout overrides the graceful-shutdown drain period.
func (s *Server) WithShutdownTimeout(d time.Duration) *Server {
	s.shutdownTimeout = d
	return s
}

// WithLogger overrides the request logger.
func (s *Server) WithLogger(l *slog.Logger) *Server {
	s.logger = l
	return s
}

// Handler builds the request handler from the server's configuration.
func (s *Server) Handler() http.Handler {
	return NewHandler(s.async, s.async.Sync(),
		WithWorkers(s.cfg.Server.Workers),
		WithMaxBodyBytes(s.cfg.Server.MaxBodyBytes),
		WithRequestTimeout(time.Duration(s.cfg.Server.RequestTimeout)*time.Second),
		WithLogger(s.logger),
	)
}

func (s *Server) Start(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	s.logger.Info("listening", "addr", s.cfg.Server.ListenAddr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http listen: %w", err)
	}
}

func ProbeHTTP(addr string) error {
	resp, err := http.Get("http://" + addr + "/health") //nolint:noctx
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected health status: %s", resp.Status)
	}
	return nil
}
