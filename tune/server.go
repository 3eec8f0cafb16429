package tune

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server is the long-running sampling daemon. It samples digest statistics on
// a fixed interval, keeps snapshots in a retention store, reruns the advisor
// on every sample, and serves results over HTTP.
type Server struct {
	cfg       *Config
	collector *Collector
	analyzer  *Analyzer
	store     *SnapshotStore

	httpServer *http.Server
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	mu       sync.RWMutex
	running  bool
	findings []Finding
}

// NewServer creates a daemon around an open collector.
func NewServer(cfg *Config, collector *Collector) *Server {
	return &Server{
		cfg:       cfg,
		collector: collector,
		analyzer:  NewAnalyzer(cfg),
		store:     NewSnapshotStore(time.Duration(cfg.Daemon.Retention)),
	}
}

// Start launches the sampling loop and the HTTP listener.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("server is already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.httpServer = &http.Server{
		Addr:         s.cfg.Daemon.ListenAddr,
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.sampleLoop(ctx)
	}()
	go func() {
		defer s.wg.Done()
		err := s.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			log.Error("http server stopped", zap.Error(err))
		}
	}()

	s.running = true
	log.Info("daemon started",
		zap.String("listen", s.cfg.Daemon.ListenAddr),
		zap.Duration("interval", time.Duration(s.cfg.Daemon.SampleInterval)))
	return nil
}

// Stop shuts the daemon down and waits for the sampling loop to exit.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return errors.New("server is not running")
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}

	s.wg.Wait()
	s.store.Stop()
	log.Info("daemon stopped")
	return nil
}

// RunUntilSignal starts the daemon and blocks until SIGINT or SIGTERM.
func (s *Server) RunUntilSignal() error {
	if err := s.Start(); err != nil {
		return errors.Trace(err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("received signal, shutting down", zap.String("signal", sig.String()))

	return s.Stop()
}

func (s *Server) sampleLoop(ctx context.Context) {
	// First sample immediately so the API has data before one full interval
	// elapses.
	s.sample(ctx)

	ticker := time.NewTicker(time.Duration(s.cfg.Daemon.SampleInterval))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample(ctx)
		}
	}
}

func (s *Server) sample(ctx context.Context) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.Daemon.SampleInterval))
	defer cancel()

	statements, err := s.collector.TopStatementsByLatency(ctx, s.cfg.Collect.TopN)
	if err != nil {
		SampleErrorCounter.Inc()
		log.Error("sample statements", zap.Error(err))
		return
	}
	status, err := s.collector.CollectGlobalStatus(ctx)
	if err != nil {
		SampleErrorCounter.Inc()
		log.Error("sample global status", zap.Error(err))
		return
	}

	snapshot := NewSnapshot(start, statements, status)
	s.store.Add(snapshot)

	findings := s.analyzer.AnalyzeDigests(statements)
	findings = append(findings, s.analyzer.AnalyzeStatus(status)...)
	SortFindings(findings)

	s.mu.Lock()
	s.findings = findings
	s.mu.Unlock()

	s.updateMetrics(findings)

	elapsed := time.Since(start)
	SampleCounter.Inc()
	SampleDurationHistogram.Observe(elapsed.Seconds())
	log.Info("sample complete",
		zap.Int("statements", len(statements)),
		zap.Int("findings", len(findings)),
		zap.Duration("elapsed", elapsed))
}

func (s *Server) updateMetrics(findings []Finding) {
	SnapshotsRetainedGauge.Set(float64(s.store.Len()))

	counts := make(map[Severity]int)
	for _, f := range findings {
		counts[f.Severity()]++
	}
	for _, sev := range []Severity{SeverityInfo, SeverityWarning, SeverityCritical} {
		FindingsGauge.WithLabelValues(sev.String()).Set(float64(counts[sev]))
	}

	if delta := s.store.LatestDelta(); delta != nil {
		var (
			latency time.Duration
			calls   uint64
		)
		for _, d := range delta.Statements {
			latency += d.TotalTime
			calls += d.Calls
		}
		WorkloadLatencyGauge.Set(latency.Seconds())
		WorkloadCallsGauge.Set(float64(calls))
	}
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/top", s.handleTop).Methods(http.MethodGet)
	r.HandleFunc("/api/delta", s.handleDelta).Methods(http.MethodGet)
	r.HandleFunc("/api/findings", s.handleFindings).Methods(http.MethodGet)
	r.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

func (s *Server) handleTop(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.store.Latest()
	if snapshot == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "no sample collected yet")
		return
	}

	stmts := make([]StatementDigest, 0, len(snapshot.Statements))
	for _, d := range snapshot.Statements {
		stmts = append(stmts, d)
	}
	sortStatementsByLatency(stmts)
	writeJSON(w, map[string]any{
		"taken_at":   snapshot.TakenAt,
		"statements": stmts,
	})
}

// handleDelta serves the delta between the two newest samples, or, with
// ?since=RFC3339, between the newest sample and the one current at that time.
func (s *Server) handleDelta(w http.ResponseWriter, r *http.Request) {
	if since := r.URL.Query().Get("since"); since != "" {
		at, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "since must be RFC3339: "+err.Error())
			return
		}
		latest := s.store.Latest()
		base := s.store.At(at)
		if latest == nil || base == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "no retained sample at or before the requested time")
			return
		}
		writeJSON(w, latest.DeltaSince(base))
		return
	}

	delta := s.store.LatestDelta()
	if delta == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "need two samples for a delta")
		return
	}
	writeJSON(w, delta)
}

func (s *Server) handleFindings(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	findings := s.findings
	s.mu.RUnlock()
	writeJSON(w, map[string]any{"findings": findings})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.store.Latest()
	if snapshot == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "no sample collected yet")
		return
	}
	writeJSON(w, map[string]any{
		"taken_at":            snapshot.TakenAt,
		"status":              snapshot.Status,
		"buffer_pool_hit_pct": snapshot.Status.BufferPoolHitPct(),
		"tmp_disk_ratio":      snapshot.Status.TmpDiskRatio(),
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.collector.Ping(ctx); err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("write response", zap.Error(err))
	}
}

func writeJSONError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func sortStatementsByLatency(stmts []StatementDigest) {
	sort.Slice(stmts, func(i, j int) bool {
		if stmts[i].TotalTime != stmts[j].TotalTime {
			return stmts[i].TotalTime > stmts[j].TotalTime
		}
		return stmts[i].Digest < stmts[j].Digest
	})
}
