package health

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/EasterCompany/dex-voice-responder/cache"
	"github.com/EasterCompany/dex-voice-responder/config"
	logger "github.com/EasterCompany/dex-voice-responder/log"
	"github.com/bwmarrin/discordgo"
)

// StatusServer provides HTTP status endpoint for this service
type StatusServer struct {
	startTime time.Time
	port      int
	version   string
	session   *discordgo.Session
	store     cache.Cache
	redisCfg  *config.RedisConfig
	logger    logger.Logger

	// Metrics
	responsesSpoken  atomic.Uint64
	responsesSkipped atomic.Uint64
	voiceConnections atomic.Uint64
}

// NewStatusServer creates a new status server
func NewStatusServer(port int, version string, s *discordgo.Session, store cache.Cache, redisCfg *config.RedisConfig, log logger.Logger) *StatusServer {
	return &StatusServer{
		startTime: time.Now(),
		port:      port,
		version:   version,
		session:   s,
		store:     store,
		redisCfg:  redisCfg,
		logger:    log,
	}
}

// Start begins the HTTP status server
func (ss *StatusServer) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", ss.handleStatus)
	mux.HandleFunc("/health", ss.handleHealth)

	addr := fmt.Sprintf("127.0.0.1:%d", ss.port)
	ss.logger.Info(fmt.Sprintf("Starting status server on http://%s", addr))

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			ss.logger.Error("Status server stopped", err)
		}
	}()

	return nil
}

// handleStatus returns detailed service status
func (ss *StatusServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(ss.startTime)

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	cpuUsage, memUsage, err := GetSystemUsage()
	if err != nil {
		ss.logger.Error("Could not read system usage", err)
	}

	status := map[string]interface{}{
		"service":   "dex-voice-responder",
		"status":    "operational",
		"version":   ss.version,
		"uptime":    uptime.String(),
		"timestamp": time.Now().Format(time.RFC3339),
		"metrics": map[string]interface{}{
			"responses_spoken":  ss.responsesSpoken.Load(),
			"responses_skipped": ss.responsesSkipped.Load(),
			"voice_connections": ss.voiceConnections.Load(),
			"goroutines":        runtime.NumGoroutine(),
			"cpu_percent":       cpuUsage,
			"memory_percent":    memUsage,
			"memory_alloc_mb":   float64(m.Alloc) / 1024 / 1024,
			"memory_total_mb":   float64(m.TotalAlloc) / 1024 / 1024,
			"memory_sys_mb":     float64(m.Sys) / 1024 / 1024,
			"gc_runs":           m.NumGC,
		},
		"connections": map[string]interface{}{
			"discord":        GetDiscordStatus(ss.session),
			"cache":          GetCacheStatus(r.Context(), ss.store, ss.redisCfg),
			"voice_sessions": GetActiveVoiceSessions(ss.session),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		ss.logger.Error("Error encoding status", err)
	}
}

// handleHealth returns simple health check (for load balancers)
func (ss *StatusServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
	}); err != nil {
		ss.logger.Error("Error encoding health", err)
	}
}

// ResponseSpoken records one fully completed spoken response.
func (ss *StatusServer) ResponseSpoken() {
	ss.responsesSpoken.Add(1)
}

// ResponseSkipped records one response skipped on lock contention.
func (ss *StatusServer) ResponseSkipped() {
	ss.responsesSkipped.Add(1)
}

// IncrementVoiceConnections records a new voice channel join.
func (ss *StatusServer) IncrementVoiceConnections() {
	ss.voiceConnections.Add(1)
}
