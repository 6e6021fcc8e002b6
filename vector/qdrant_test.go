package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rushteam/feedkit/core"
	"github.com/rushteam/feedkit/pkg/retry"
	"github.com/rushteam/feedkit/store"
)

// fakeQdrant 是最小化的 Qdrant HTTP 假服务，按端点计数。
type fakeQdrant struct {
	mu          sync.Mutex
	collections map[string]bool
	getCalls    int32
	putColl     int32
	searchCalls int32
	batchCalls  int32
	upsertCalls int32
	failBatch   bool // 批量检索端点恒 500
	failFetch   bool // 按 ID 读取端点恒 500
}

func newFakeQdrant() *fakeQdrant {
	return &fakeQdrant{collections: make(map[string]bool)}
}

// handler 手工按 方法+路径 分发（go1.21 的 ServeMux 不支持方法/通配符模式）。
func (f *fakeQdrant) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) < 2 || parts[0] != "collections" {
			http.NotFound(w, r)
			return
		}
		name := parts[1]
		rest := strings.Join(parts[2:], "/")

		switch {
		case rest == "" && r.Method == http.MethodGet:
			atomic.AddInt32(&f.getCalls, 1)
			f.mu.Lock()
			exists := f.collections[name]
			f.mu.Unlock()
			if !exists {
				http.Error(w, `{"status":{"error":"Not found"}}`, http.StatusNotFound)
				return
			}
			fmt.Fprint(w, `{"result":{}}`)
		case rest == "" && r.Method == http.MethodPut:
			atomic.AddInt32(&f.putColl, 1)
			f.mu.Lock()
			f.collections[name] = true
			f.mu.Unlock()
			fmt.Fprint(w, `{"result":true}`)
		case rest == "points/search" && r.Method == http.MethodPost:
			atomic.AddInt32(&f.searchCalls, 1)
			fmt.Fprint(w, `{"result":[{"id":1,"score":0.9,"payload":{"content_id":"post-1"}}]}`)
		case rest == "points/search/batch" && r.Method == http.MethodPost:
			atomic.AddInt32(&f.batchCalls, 1)
			if f.failBatch {
				http.Error(w, `{"status":{"error":"boom"}}`, http.StatusInternalServerError)
				return
			}
			var body struct {
				Searches []struct {
					Vector []float64 `json:"vector"`
				} `json:"searches"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			// 每个查询向量返回一条命中，content_id 回显向量首元素，便于断言顺序
			results := make([][]map[string]any, len(body.Searches))
			for i, s := range body.Searches {
				results[i] = []map[string]any{{
					"id": 1, "score": 0.8,
					"payload": map[string]any{"content_id": fmt.Sprintf("vec-%.0f", s.Vector[0])},
				}}
			}
			json.NewEncoder(w).Encode(map[string]any{"result": results})
		case rest == "points" && r.Method == http.MethodPut:
			atomic.AddInt32(&f.upsertCalls, 1)
			fmt.Fprint(w, `{"result":{"status":"acknowledged"}}`)
		case rest == "points/delete" && r.Method == http.MethodPost:
			fmt.Fprint(w, `{"result":{}}`)
		case rest == "points" && r.Method == http.MethodPost:
			if f.failFetch {
				http.Error(w, `{"status":{"error":"boom"}}`, http.StatusInternalServerError)
				return
			}
			var body struct {
				IDs []uint64 `json:"ids"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			results := make([]map[string]any, len(body.IDs))
			for i, id := range body.IDs {
				results[i] = map[string]any{
					"id": id, "vector": []float64{1, 2, 3},
					"payload": map[string]any{"content_id": fmt.Sprintf("id-%d", id)},
				}
			}
			json.NewEncoder(w).Encode(map[string]any{"result": results})
		default:
			http.NotFound(w, r)
		}
	})
}

func newTestService(t *testing.T, f *fakeQdrant, opts ...QdrantOption) *QdrantService {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	base := []QdrantOption{
		WithTimeout(2 * time.Second),
		WithRetryPolicy(retry.Policy{MaxAttempts: 1}),
	}
	return NewQdrantService(srv.URL, "posts", append(base, opts...)...)
}

func TestEnsureCollectionIdempotent(t *testing.T) {
	f := newFakeQdrant()
	s := newTestService(t, f)
	ctx := context.Background()

	cfg := &core.CollectionConfig{Name: "posts", Dimension: 1024, Distance: "Cosine", HNSWM: 16}
	if err := s.EnsureCollection(ctx, cfg); err != nil {
		t.Fatalf("first EnsureCollection: %v", err)
	}
	if err := s.EnsureCollection(ctx, cfg); err != nil {
		t.Fatalf("second EnsureCollection: %v", err)
	}

	if got := atomic.LoadInt32(&f.putColl); got != 1 {
		t.Errorf("creation calls = %d, want exactly 1", got)
	}
	if got := atomic.LoadInt32(&f.getCalls); got != 2 {
		t.Errorf("existence checks = %d, want 2", got)
	}
}

func TestBatchSearchPartitioning(t *testing.T) {
	f := newFakeQdrant()
	s := newTestService(t, f, WithBatchSizes(10, 100))

	vectors := make([][]float64, 25)
	for i := range vectors {
		vectors[i] = []float64{float64(i), 0.5}
	}

	results, err := s.BatchSearch(context.Background(), &core.VectorBatchSearchRequest{
		Vectors: vectors, Limit: 5,
	})
	if err != nil {
		t.Fatalf("BatchSearch: %v", err)
	}

	// 25 个向量、子批大小 10 → 恰好 3 次网络调用
	if got := atomic.LoadInt32(&f.batchCalls); got != 3 {
		t.Errorf("network calls = %d, want 3", got)
	}
	// 恰好 25 个结果列表，且与输入同序
	if len(results) != 25 {
		t.Fatalf("result lists = %d, want 25", len(results))
	}
	for i, r := range results {
		if len(r.Hits) != 1 {
			t.Fatalf("result %d hits = %d, want 1", i, len(r.Hits))
		}
		want := fmt.Sprintf("vec-%d", i)
		if r.Hits[0].ID != want {
			t.Errorf("result %d id = %q, want %q", i, r.Hits[0].ID, want)
		}
	}
}

func TestBatchSearchPartialFailure(t *testing.T) {
	f := newFakeQdrant()
	f.failBatch = true
	s := newTestService(t, f, WithBatchSizes(10, 100))

	vectors := make([][]float64, 15)
	for i := range vectors {
		vectors[i] = []float64{float64(i)}
	}

	results, err := s.BatchSearch(context.Background(), &core.VectorBatchSearchRequest{
		Vectors: vectors, Limit: 5,
	})
	if err != nil {
		t.Fatalf("BatchSearch should not fail on sub-batch errors: %v", err)
	}
	if len(results) != 15 {
		t.Fatalf("result lists = %d, want 15", len(results))
	}
	for i, r := range results {
		if r == nil || len(r.Hits) != 0 {
			t.Errorf("result %d should be empty on failed sub-batch", i)
		}
	}
}

func TestSearchCacheInvalidatedByUpsert(t *testing.T) {
	f := newFakeQdrant()
	cacheStore := store.NewMemoryStore()
	defer cacheStore.Close()
	s := newTestService(t, f, WithSearchCache(cacheStore, 300))
	ctx := context.Background()

	req := &core.VectorSearchRequest{Vector: []float64{1, 2, 3}, Limit: 5}

	if _, err := s.Search(ctx, req); err != nil {
		t.Fatalf("first search: %v", err)
	}
	if _, err := s.Search(ctx, req); err != nil {
		t.Fatalf("second search: %v", err)
	}
	// 第二次命中缓存，不发起网络请求
	if got := atomic.LoadInt32(&f.searchCalls); got != 1 {
		t.Fatalf("search calls before upsert = %d, want 1 (cache hit)", got)
	}

	err := s.Upsert(ctx, &core.VectorRecord{ID: "post-9", Vector: []float64{0.1, 0.2, 0.3}})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// 写入后缓存整体失效，检索重新回源
	if _, err := s.Search(ctx, req); err != nil {
		t.Fatalf("search after upsert: %v", err)
	}
	if got := atomic.LoadInt32(&f.searchCalls); got != 2 {
		t.Errorf("search calls after upsert = %d, want 2 (cache invalidated)", got)
	}
}

func TestFetchRestoresOriginalIDs(t *testing.T) {
	f := newFakeQdrant()
	s := newTestService(t, f)

	records, err := s.Fetch(context.Background(), []string{"a", "b", "c"}, true)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("records = %d, want 3", len(records))
	}
	for _, r := range records {
		if len(r.Vector) == 0 {
			t.Errorf("record %s missing vector", r.ID)
		}
	}
}

func TestFetchUnavailableWhenAllSubBatchesFail(t *testing.T) {
	f := newFakeQdrant()
	f.failFetch = true
	s := newTestService(t, f)

	// 全部子批失败不是 partial results，而是索引整体不可用
	_, err := s.Fetch(context.Background(), []string{"a", "b", "c"}, true)
	if !core.IsUnavailable(err) {
		t.Fatalf("err = %v, want UNAVAILABLE when every sub-batch fails", err)
	}
}

func TestPointIDDeterministic(t *testing.T) {
	if pointID("post-123") != pointID("post-123") {
		t.Error("pointID must be deterministic")
	}
	if pointID("post-123") == pointID("post-124") {
		t.Error("distinct ids should map to distinct points")
	}
}

func TestSearchUnavailableAfterRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewQdrantService(srv.URL, "posts",
		WithRetryPolicy(retry.Policy{MaxAttempts: 2, InitialInterval: time.Millisecond}))

	_, err := s.Search(context.Background(), &core.VectorSearchRequest{Vector: []float64{1}, Limit: 5})
	if !core.IsUnavailable(err) {
		t.Fatalf("err = %v, want UNAVAILABLE domain error", err)
	}
}
