package api

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"learnedindex/pkg/common"
	"learnedindex/pkg/core/store"
	"learnedindex/pkg/dataset"
	"learnedindex/pkg/logger"
	"learnedindex/pkg/modeldesc"
)

var log = logger.For("API")

const (
	defaultBenchIterations = 50000
	maxBenchIterations     = 1000000
)

type Server struct {
	store *store.Store
	srv   *http.Server
}

func NewServer(s *store.Store) *Server {
	return &Server{store: s}
}

// Handler routes every endpoint; Start serves it.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/eval", s.handleEval)
	mux.HandleFunc("/api/eval_many", s.handleEvalMany)
	mux.HandleFunc("/api/ingest", s.handleIngest)
	mux.HandleFunc("/api/rebuild", s.handleRebuild)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/benchmark", s.handleBenchmark)
	mux.HandleFunc("/api/export", s.handleExport)
	return cors(mux)
}

func (s *Server) Start(addr string) error {
	s.srv = &http.Server{Addr: addr, Handler: s.Handler()}
	log.Infof("Server listening on %s...", addr)
	if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("Encode response: %v", err)
	}
}

type lookupResult struct {
	Found bool            `json:"found"`
	Pos   common.Position `json:"pos"`
}

func (s *Server) handleEval(w http.ResponseWriter, r *http.Request) {
	keyStr := r.URL.Query().Get("key")
	key, err := strconv.ParseFloat(keyStr, 32)
	if err != nil {
		http.Error(w, "Invalid key", http.StatusBadRequest)
		return
	}

	start := time.Now()
	l := s.store.Eval(common.KeyType(key))
	duration := time.Since(start)

	resp := map[string]interface{}{
		"key":        key,
		"found":      l.Found,
		"latency_ns": duration.Nanoseconds(),
	}
	if l.Found {
		resp["pos"] = l.Pos
	} else if s.store.Staged(common.KeyType(key)) {
		resp["staged"] = true
	}
	writeJSON(w, http.StatusOK, resp)
}

type keysRequest struct {
	Keys []float32 `json:"keys"`
}

func decodeKeys(w http.ResponseWriter, r *http.Request) ([]common.KeyType, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return nil, false
	}
	var req keysRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid body", http.StatusBadRequest)
		return nil, false
	}
	keys := make([]common.KeyType, len(req.Keys))
	for i, k := range req.Keys {
		keys[i] = common.KeyType(k)
	}
	return keys, true
}

func (s *Server) handleEvalMany(w http.ResponseWriter, r *http.Request) {
	keys, ok := decodeKeys(w, r)
	if !ok {
		return
	}

	start := time.Now()
	out, err := s.store.EvalMany(r.Context(), keys)
	duration := time.Since(start)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	results := make([]lookupResult, len(out))
	hits := 0
	for i, l := range out {
		results[i] = lookupResult{Found: l.Found, Pos: l.Pos}
		if l.Found {
			hits++
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results":    results,
		"hits":       hits,
		"latency_ns": duration.Nanoseconds(),
	})
}

// handleIngest 接收 {"keys": [...]}; 空 body 加 ?random=N 时生成 N 个对数正态 key
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var keys []common.KeyType
	if n := r.URL.Query().Get("random"); n != "" && r.Method == http.MethodPost {
		count, err := strconv.Atoi(n)
		if err != nil || count <= 0 {
			http.Error(w, "Invalid random count", http.StatusBadRequest)
			return
		}
		keys = randomKeys(count)
	} else {
		var ok bool
		if keys, ok = decodeKeys(w, r); !ok {
			return
		}
	}

	if err := s.store.Ingest(keys); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	log.Debugf("Staged %d keys", len(keys))
	writeJSON(w, http.StatusOK, map[string]interface{}{"staged": len(keys)})
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	res, err := s.store.Rebuild(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Stats())
}

func (s *Server) handleBenchmark(w http.ResponseWriter, r *http.Request) {
	iterations := defaultBenchIterations
	if v := r.URL.Query().Get("iterations"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxBenchIterations {
			http.Error(w, "Invalid iterations", http.StatusBadRequest)
			return
		}
		iterations = n
	}

	res, err := s.store.Benchmark(iterations, rand.New(rand.NewSource(time.Now().UnixNano())))
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]string{"error": err.Error()})
		return
	}

	winner := "BTree"
	if res.IndexNs < res.BTreeNs {
		winner = res.IndexType
	}
	resp := map[string]interface{}{
		"iterations":   res.Iterations,
		"index_type":   res.IndexType,
		"index_avg_ns": fmt.Sprintf("%.2f ns", res.IndexNs),
		"btree_avg_ns": fmt.Sprintf("%.2f ns", res.BTreeNs),
		"speedup":      fmt.Sprintf("%.2fx", res.Speedup),
		"winner":       winner,
	}
	if res.BoundedSearchNs > 0 {
		resp["binary_search_avg_ns"] = fmt.Sprintf("%.2f ns", res.BinarySearchNs)
		resp["bounded_search_avg_ns"] = fmt.Sprintf("%.2f ns", res.BoundedSearchNs)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleExport 默认导出模型拟合 CSV; ?format=model 导出路由器参数 (YAML)
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("format") == "model" {
		params, err := s.store.ModelParams()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.Header().Set("Content-Disposition", "attachment;filename=model.yaml")
		if err := modeldesc.Encode(w, params); err != nil {
			log.Warnf("Export model: %v", err)
		}
		return
	}

	data := s.store.Export()
	if data == nil {
		http.Error(w, "current index has no model", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment;filename=learnedindex_model_fit.csv")

	w.Write([]byte("Key,RealPos,PredictedPos,Error\n"))
	for _, p := range data {
		line := fmt.Sprintf("%g,%d,%d,%d\n", p.Key, p.RealPos, p.PredictedPos, p.Error)
		w.Write([]byte(line))
	}
}

func randomKeys(count int) []common.KeyType {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return dataset.GenLogNormal(rng, count, dataset.DefaultSigma)
}
