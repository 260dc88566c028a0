package api

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learnedindex/pkg/common"
	"learnedindex/pkg/config"
	"learnedindex/pkg/core"
	"learnedindex/pkg/core/store"
	"learnedindex/pkg/dataset"
	"learnedindex/pkg/modeldesc"
)

func newTestServer(t *testing.T, kind string) (*Server, []common.KeyType) {
	t.Helper()
	keys := dataset.GenLogNormal(rand.New(rand.NewSource(1)), 1000, dataset.DefaultSigma)
	cfg := config.Default().Index
	cfg.Kind = kind
	cfg.BucketCount = 8
	st, err := store.New(context.Background(), cfg, keys, nil)
	require.NoError(t, err)
	return NewServer(st), keys
}

func do(t *testing.T, h http.Handler, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHandleEval(t *testing.T) {
	s, keys := newTestServer(t, core.KindForwarding)
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/api/eval?key="+formatKey(keys[10]), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	resp := decode(t, rec)
	assert.Equal(t, true, resp["found"])
	assert.Equal(t, keys[10], keys[int(resp["pos"].(float64))])

	resp = decode(t, do(t, h, http.MethodGet, "/api/eval?key=-3", nil))
	assert.Equal(t, false, resp["found"])
	assert.NotContains(t, resp, "pos")

	rec = do(t, h, http.MethodGet, "/api/eval?key=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleEvalMany(t *testing.T) {
	s, keys := newTestServer(t, core.KindLearned)
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/api/eval_many", map[string]interface{}{
		"keys": []float32{float32(keys[0]), -1, float32(keys[999])},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Results []lookupResult `json:"results"`
		Hits    int            `json:"hits"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 3)
	assert.Equal(t, 2, resp.Hits)
	assert.True(t, resp.Results[0].Found)
	assert.False(t, resp.Results[1].Found)
	assert.Equal(t, keys[999], keys[resp.Results[2].Pos])

	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodGet, "/api/eval_many", nil).Code)
	req := httptest.NewRequest(http.MethodPost, "/api/eval_many", strings.NewReader("{"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestThenRebuild(t *testing.T) {
	s, _ := newTestServer(t, core.KindForwarding)
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/api/ingest", map[string]interface{}{"keys": []float32{123.5}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode(t, rec)["staged"])

	rec = do(t, h, http.MethodPost, "/api/ingest?random=50", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(50), decode(t, rec)["staged"])

	resp := decode(t, do(t, h, http.MethodGet, "/api/eval?key=123.5", nil))
	assert.Equal(t, false, resp["found"])
	assert.Equal(t, true, resp["staged"])

	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodGet, "/api/rebuild", nil).Code)
	rec = do(t, h, http.MethodPost, "/api/rebuild", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode(t, rec)
	assert.Equal(t, float64(51), res["merged"])
	assert.Equal(t, float64(1051), res["keys"])

	resp = decode(t, do(t, h, http.MethodGet, "/api/eval?key=123.5", nil))
	assert.Equal(t, true, resp["found"])
	assert.NotContains(t, resp, "staged")

	stats := decode(t, do(t, h, http.MethodGet, "/api/stats", nil))
	assert.Equal(t, float64(1051), stats["dataset_keys"])
	assert.Equal(t, float64(1), stats["rebuilds"])
}

func TestHandleBenchmark(t *testing.T) {
	s, _ := newTestServer(t, core.KindForwarding)
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/api/benchmark?iterations=500", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, float64(500), resp["iterations"])
	assert.Equal(t, "Forwarding", resp["index_type"])
	assert.Contains(t, resp, "winner")

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/benchmark?iterations=0", nil).Code)
}

func TestHandleExport(t *testing.T) {
	s, keys := newTestServer(t, core.KindForwarding)
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/api/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	assert.Equal(t, "Key,RealPos,PredictedPos,Error", lines[0])
	assert.Len(t, lines, len(keys)+1)

	rec = do(t, h, http.MethodGet, "/api/export?format=model", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	params, err := modeldesc.Decode(rec.Body)
	require.NoError(t, err)
	assert.Len(t, params.Buckets, 8)

	bt, _ := newTestServer(t, core.KindBTree)
	assert.Equal(t, http.StatusBadRequest, do(t, bt.Handler(), http.MethodGet, "/api/export", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, bt.Handler(), http.MethodGet, "/api/export?format=model", nil).Code)
}

func formatKey(k common.KeyType) string {
	return strconv.FormatFloat(float64(k), 'g', -1, 32)
}
