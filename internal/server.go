package internal

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const Version = "2026AUG20"

var (
	ConfigPath  = flag.String("config", "", "Configuration file")
	IndexDir    = flag.String("indexes", "indexes", "Index store directory")
	BindAddress = flag.String("addr", "localhost:8081", "Listen address")
	UseSyslog   = flag.Bool("syslog", false, "Enable syslog")
	SyslogHost  = flag.String("syslog-host", "localhost", "Syslog host")
	SyslogIndex = flag.String("syslog-index", "supplyco", "Syslog index")
)

// Server is the query daemon: a read-only JSON API over the built
// index stores. It never writes an index; the collector does that, and
// the reopen ticker in main calls Refresh so a rebuilt store gets
// picked up without a restart.
type Server struct {
	Gateway        *http.ServeMux           `json:"-"`
	Matcher        *Matcher                 `json:"-"`
	Log            *log.Logger              `json:"-"`
	Memory         *sync.RWMutex            `json:"-"`
	ID             string                   `json:"id"`
	Details        Details                  `json:"details"`
	Hits           *prometheus.CounterVec   `json:"-"`
	LookupDuration *prometheus.HistogramVec `json:"-"`
}

type Details struct {
	Address   string             `json:"address"`
	IndexDir  string             `json:"index_dir"`
	StartTime time.Time          `json:"start_time"`
	Stats     map[string]float64 `json:"stats"`
}

func NewServer(id, address, indexDir string, incidents *IncidentList, logger *log.Logger) *Server {
	if id == "" {
		id = fmt.Sprintf("%v-%v", time.Now().Unix(), Version)
	}
	svr := &Server{
		Gateway: http.NewServeMux(),
		Matcher: NewMatcher(indexDir, incidents, logger),
		Log:     logger,
		Memory:  &sync.RWMutex{},
		ID:      id,
		Details: Details{
			Address:   address,
			IndexDir:  indexDir,
			StartTime: time.Now(),
			Stats:     make(map[string]float64),
		},
	}
	svr.Hits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "package_check_results",
			Help: "Package check outcomes by ecosystem and verdict",
		},
		[]string{"ecosystem", "verdict"},
	)
	svr.LookupDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "package_lookup_duration_ms",
			Help:    "Duration of index lookups in milliseconds",
			Buckets: []float64{1, 5, 10, 50, 100, 500, 1000},
		},
		[]string{"status"},
	)
	prometheus.MustRegister(svr.Hits)
	prometheus.MustRegister(svr.LookupDuration)

	svr.Gateway.HandleFunc("/check", svr.CheckHandler)
	svr.Gateway.HandleFunc("/package", svr.PackageHandler)
	svr.Gateway.HandleFunc("/metadata", svr.MetadataHandler)
	svr.Gateway.HandleFunc("/stats", svr.StatsHandler)
	svr.Gateway.Handle("/metrics", promhttp.Handler())
	return svr
}

// Refresh drops the cached store handles so freshly built index files
// are seen by the next query.
func (s *Server) Refresh() {
	s.Matcher.Reset()
	s.Log.Println("reopened index stores")
}

func (s *Server) bumpStat(key string, value float64) {
	s.Memory.Lock()
	defer s.Memory.Unlock()
	s.Details.Stats[key] += value
}

type CheckRequest struct {
	Ecosystem string `json:"ecosystem"`
	Name      string `json:"name"`
	Version   string `json:"version,omitempty"`
}

type CheckResponse struct {
	TransactionID string    `json:"transaction_id"`
	Malicious     bool      `json:"malicious"`
	Findings      []Finding `json:"findings,omitempty"`
}

// CheckHandler answers POST {ecosystem, name, version} and GET with the
// same fields as query parameters.
func (s *Server) CheckHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req CheckRequest
	switch r.Method {
	case http.MethodPost:
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error": "bad request body"}`, http.StatusBadRequest)
			return
		}
	case http.MethodGet:
		q := r.URL.Query()
		req = CheckRequest{
			Ecosystem: q.Get("ecosystem"),
			Name:      q.Get("name"),
			Version:   q.Get("version"),
		}
	default:
		http.Error(w, `{"error": "method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	if req.Ecosystem == "" || req.Name == "" {
		http.Error(w, `{"error": "ecosystem and name are required"}`, http.StatusBadRequest)
		return
	}

	findings, err := s.Matcher.Check(req.Ecosystem, req.Name, req.Version)
	elapsed := float64(time.Since(start).Milliseconds())
	if err != nil {
		s.LookupDuration.WithLabelValues("error").Observe(elapsed)
		s.Log.Printf("check %s/%s failed: %v", req.Ecosystem, req.Name, err)
		http.Error(w, `{"error": "lookup failed"}`, http.StatusInternalServerError)
		return
	}
	s.LookupDuration.WithLabelValues("ok").Observe(elapsed)

	verdict := "clean"
	if len(findings) > 0 {
		verdict = "malicious"
	}
	eco, _ := NormalizeEcosystem(req.Ecosystem)
	s.Hits.WithLabelValues(eco, verdict).Inc()
	s.bumpStat("checks", 1)
	if verdict == "malicious" {
		s.bumpStat("hits", 1)
	}

	s.writeJSON(w, CheckResponse{
		TransactionID: uuid.New().String(),
		Malicious:     len(findings) > 0,
		Findings:      findings,
	})
}

// PackageHandler returns the full stored record for a name, side
// tables included.
func (s *Server) PackageHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	eco, ok := NormalizeEcosystem(q.Get("ecosystem"))
	if !ok {
		http.Error(w, `{"error": "unknown ecosystem"}`, http.StatusBadRequest)
		return
	}
	name := strings.ToLower(strings.TrimSpace(q.Get("name")))
	if name == "" {
		http.Error(w, `{"error": "name is required"}`, http.StatusBadRequest)
		return
	}
	store := s.Matcher.store(eco)
	if store == nil {
		http.Error(w, `{"error": "no index for ecosystem"}`, http.StatusNotFound)
		return
	}
	rec, err := store.Lookup(name)
	if err != nil {
		s.Log.Printf("package lookup %s/%s failed: %v", eco, name, err)
		http.Error(w, `{"error": "lookup failed"}`, http.StatusInternalServerError)
		return
	}
	if rec == nil {
		http.Error(w, `{"error": "package not found"}`, http.StatusNotFound)
		return
	}
	s.writeJSON(w, rec)
}

// MetadataHandler reports per-ecosystem index metadata for every store
// that exists.
func (s *Server) MetadataHandler(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]map[string]string)
	for _, eco := range Ecosystems {
		store := s.Matcher.store(eco)
		if store == nil {
			continue
		}
		meta := make(map[string]string)
		for _, key := range []string{"schema_version", "ecosystem", "generated_at", "package_count"} {
			v, err := store.Metadata(key)
			if err != nil {
				s.Log.Printf("reading %s metadata: %v", eco, err)
				continue
			}
			meta[key] = v
		}
		out[eco] = meta
	}
	s.writeJSON(w, out)
}

func (s *Server) StatsHandler(w http.ResponseWriter, r *http.Request) {
	s.Memory.RLock()
	stats := make(map[string]float64, len(s.Details.Stats))
	for k, v := range s.Details.Stats {
		stats[k] = v
	}
	s.Memory.RUnlock()
	s.writeJSON(w, map[string]any{
		"id":      s.ID,
		"uptime":  time.Since(s.Details.StartTime).String(),
		"stats":   stats,
		"version": Version,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Log.Printf("writing response: %v", err)
	}
}
