package behavior

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/rushteam/feedkit/core"
	"github.com/rushteam/feedkit/store"
)

func newTestTracker(t *testing.T, opts ...Option) *Tracker {
	t.Helper()
	// 拉长定时器周期，flush 只由容量或显式调用触发
	tr := NewTracker(append([]Option{WithFlushInterval(time.Hour)}, opts...)...)
	t.Cleanup(func() { tr.Close() })
	return tr
}

func TestBufferAutoFlushAtCapacity(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		tr.TrackInteraction(ctx, core.InteractionEvent{
			UserID:      "user-1",
			ContentID:   fmt.Sprintf("post-%d", i),
			Kind:        core.InteractionView,
			ContentType: "text",
		})
	}

	// 容量触发的 flush 必须排空缓冲
	if got := tr.BufferLen("user-1"); got != 0 {
		t.Errorf("buffer length = %d, want 0 after capacity flush", got)
	}
	p := tr.Profile(ctx, "user-1")
	if p.TotalInteractions != 100 {
		t.Errorf("total interactions = %d, want 100", p.TotalInteractions)
	}
}

func TestBufferBelowCapacityNotFlushed(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	for i := 0; i < 99; i++ {
		tr.TrackInteraction(ctx, core.InteractionEvent{
			UserID:    "user-1",
			ContentID: fmt.Sprintf("post-%d", i),
			Kind:      core.InteractionView,
		})
	}
	if got := tr.BufferLen("user-1"); got != 99 {
		t.Errorf("buffer length = %d, want 99", got)
	}
}

func TestInvalidEventsDropped(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	tr.TrackInteraction(ctx, core.InteractionEvent{ContentID: "post-1", Kind: core.InteractionView})
	tr.TrackInteraction(ctx, core.InteractionEvent{UserID: "user-1", Kind: core.InteractionView})

	if tr.BufferLen("user-1") != 0 || tr.BufferLen("") != 0 {
		t.Error("events missing user or content id must be dropped")
	}
}

func TestAffinitySmoothing(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	tr.TrackInteraction(ctx, core.InteractionEvent{
		UserID: "user-1", ContentID: "p1", Kind: core.InteractionSave, ContentType: "image",
	})
	p := tr.Profile(ctx, "user-1")

	// 首次 save（权重 1.0）：0.9×0 + 0.1×1.0 = 0.1
	if got := p.ContentTypeAffinity["image"]; math.Abs(got-0.1) > 1e-9 {
		t.Errorf("affinity after one save = %v, want 0.1", got)
	}

	tr.TrackInteraction(ctx, core.InteractionEvent{
		UserID: "user-1", ContentID: "p2", Kind: core.InteractionSave, ContentType: "image",
	})
	p = tr.Profile(ctx, "user-1")

	// 第二次：0.9×0.1 + 0.1×1.0 = 0.19
	if got := p.ContentTypeAffinity["image"]; math.Abs(got-0.19) > 1e-9 {
		t.Errorf("affinity after two saves = %v, want 0.19", got)
	}
}

func TestRecentWeightsAccumulate(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	tr.TrackInteraction(ctx, core.InteractionEvent{
		UserID: "u", ContentID: "p1", Kind: core.InteractionLike, Topics: []string{"hiking"},
	})
	tr.TrackInteraction(ctx, core.InteractionEvent{
		UserID: "u", ContentID: "p1", Kind: core.InteractionComment,
	})
	p := tr.Profile(ctx, "u")

	// like 0.6 + comment 0.8，零龄事件衰减因子 ≈ 1
	if got := p.RecentWeights["p1"]; got < 1.35 || got > 1.4 {
		t.Errorf("recent weight = %v, want ~1.4", got)
	}
	if p.TopicAffinity["hiking"] == 0 {
		t.Error("topic affinity not updated")
	}
}

func TestProfileCached(t *testing.T) {
	cache := store.NewMemoryStore()
	defer cache.Close()
	tr := newTestTracker(t, WithCache(cache))
	ctx := context.Background()

	tr.TrackInteraction(ctx, core.InteractionEvent{
		UserID: "u", ContentID: "p1", Kind: core.InteractionSave, ContentType: "text",
	})
	first := tr.Profile(ctx, "u")
	if first.TotalInteractions != 1 {
		t.Fatalf("total = %d, want 1", first.TotalInteractions)
	}

	// 画像已入缓存
	if _, err := cache.Get(ctx, "behavior:profile:u"); err != nil {
		t.Errorf("profile not cached: %v", err)
	}
}

func TestCloseFlushesRemaining(t *testing.T) {
	tr := NewTracker(WithFlushInterval(time.Hour))
	ctx := context.Background()

	tr.TrackInteraction(ctx, core.InteractionEvent{
		UserID: "u", ContentID: "p1", Kind: core.InteractionView,
	})
	tr.Close()

	if got := tr.BufferLen("u"); got != 0 {
		t.Errorf("buffer length after close = %d, want 0", got)
	}
}

func TestInsightsContentTypeDominance(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	// 连续 save 把 video 偏好推过 0.5（1-0.9^n，n=60 时 ≈ 0.998）
	for i := 0; i < 60; i++ {
		tr.TrackInteraction(ctx, core.InteractionEvent{
			UserID: "u", ContentID: fmt.Sprintf("p-%d", i), Kind: core.InteractionSave, ContentType: "video",
		})
	}

	insights := tr.Insights(ctx, "u")
	var found bool
	for _, in := range insights {
		if in.Kind == "content_type_dominance" {
			found = true
			if in.Confidence <= 0 || in.Confidence > 1 {
				t.Errorf("confidence = %v, want (0,1]", in.Confidence)
			}
		}
	}
	if !found {
		t.Error("expected content_type_dominance insight")
	}
}

func TestInteractedUsersDeduplicated(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		tr.TrackInteraction(ctx, core.InteractionEvent{
			UserID: "u", ContentID: fmt.Sprintf("p-%d", i), Kind: core.InteractionLike, AuthorID: "alice",
		})
	}
	// 自己的内容不计入社交摘要
	tr.TrackInteraction(ctx, core.InteractionEvent{
		UserID: "u", ContentID: "own", Kind: core.InteractionCreate, AuthorID: "u",
	})

	p := tr.Profile(ctx, "u")
	if len(p.Social.InteractedUsers) != 1 || p.Social.InteractedUsers[0] != "alice" {
		t.Errorf("interacted users = %v, want [alice]", p.Social.InteractedUsers)
	}
}

func TestAvgSessionLength(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	// 同一会话内 4 次交互
	for i := 0; i < 4; i++ {
		tr.TrackInteraction(ctx, core.InteractionEvent{
			UserID: "u", ContentID: fmt.Sprintf("p-%d", i), Kind: core.InteractionView, SessionID: "s1",
		})
	}
	p := tr.Profile(ctx, "u")
	if p.Engagement.AvgSessionLength != 4 {
		t.Errorf("avg session length = %d, want 4", p.Engagement.AvgSessionLength)
	}
}

func TestInsightsSocialDensity(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	// 与 25 个不同作者交互，超过宽社交圈阈值
	for i := 0; i < 25; i++ {
		tr.TrackInteraction(ctx, core.InteractionEvent{
			UserID:    "u",
			ContentID: fmt.Sprintf("p-%d", i),
			Kind:      core.InteractionLike,
			AuthorID:  fmt.Sprintf("author-%d", i),
		})
	}

	insights := tr.Insights(ctx, "u")
	var found bool
	for _, in := range insights {
		if in.Kind == "social_density" {
			found = true
		}
	}
	if !found {
		t.Error("expected social_density insight for a wide author circle")
	}
}

func TestInsightsEmptyProfile(t *testing.T) {
	tr := newTestTracker(t)
	if insights := tr.Insights(context.Background(), "nobody"); insights != nil {
		t.Errorf("insights for empty profile = %v, want nil", insights)
	}
}

func TestPersonalizedRerankBlending(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	// 无画像信号：融合分 = 0.7×外部分，顺序不变
	items := []*core.ContentItem{
		{ID: "a", Score: 0.9, ContentType: "text"},
		{ID: "b", Score: 0.5, ContentType: "text"},
	}
	out := tr.PersonalizedRerank(ctx, "nobody", items)
	if out[0].ID != "a" || out[1].ID != "b" {
		t.Errorf("order changed without behavior signal: %s, %s", out[0].ID, out[1].ID)
	}
	if math.Abs(out[0].Score-0.63) > 1e-9 {
		t.Errorf("blended score = %v, want 0.63", out[0].Score)
	}
}

func TestPersonalizedRerankDiversityCap(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	// 单次交互触达 5 个话题：variety 5 / sqrt(2) → 多样性偏好封顶为 1
	tr.TrackInteraction(ctx, core.InteractionEvent{
		UserID: "u", ContentID: "p0", Kind: core.InteractionView,
		ContentType: "text", Topics: []string{"a", "b", "c", "d"},
	})
	if p := tr.Profile(ctx, "u"); p.DiversityPreference <= diversityThreshold {
		t.Fatalf("diversity = %v, want > %v", p.DiversityPreference, diversityThreshold)
	}

	items := []*core.ContentItem{
		{ID: "t1", Score: 0.9, ContentType: "text"},
		{ID: "t2", Score: 0.8, ContentType: "text"},
		{ID: "t3", Score: 0.7, ContentType: "text"},
		{ID: "i1", Score: 0.1, ContentType: "image"},
	}
	out := tr.PersonalizedRerank(ctx, "u", items)

	if len(out) != 4 {
		t.Fatalf("rerank dropped items: %d, want 4", len(out))
	}
	// 同类型连续不超过 2
	run, lastType := 0, ""
	for i, it := range out {
		if it.ContentType == lastType {
			run++
		} else {
			run, lastType = 1, it.ContentType
		}
		if run > maxConsecutiveSameType {
			t.Fatalf("run of %s exceeds %d at position %d", lastType, maxConsecutiveSameType, i)
		}
	}
}

func TestCapConsecutiveDefersNotDrops(t *testing.T) {
	items := []*core.ContentItem{
		{ID: "1", ContentType: "text"},
		{ID: "2", ContentType: "text"},
		{ID: "3", ContentType: "text"},
		{ID: "4", ContentType: "image"},
		{ID: "5", ContentType: "text"},
	}
	out := capConsecutive(items, 2)
	if len(out) != len(items) {
		t.Fatalf("capConsecutive changed length: %d, want %d", len(out), len(items))
	}
	// 超限的 "3" 被后移
	want := []string{"1", "2", "4", "5", "3"}
	for i, it := range out {
		if it.ID != want[i] {
			t.Errorf("position %d = %s, want %s", i, it.ID, want[i])
		}
	}
}
