package behavior

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rushteam/feedkit/core"
)

// Tracker 是行为追踪子系统：按用户缓冲交互事件，缓冲满或定时器触发时
// 刷入行为画像（指数平滑的类型/话题偏好、互动节奏、时间衰减计数）。
//
// 旁路契约：追踪是 best-effort 侧信道，所有错误内部记日志并吞掉，
// 绝不向调用方传播——主请求的成败与追踪无关。
// 同一用户的 flush 串行执行，不与该用户缓冲的并发读写交叠。
type Tracker struct {
	cache  core.Store // 画像缓存（可选）
	logger zerolog.Logger

	capacity      int           // 单用户缓冲容量，到达即触发 flush
	flushInterval time.Duration // 定时 flush 周期
	profileTTL    int           // 画像缓存 TTL（秒）

	mu       sync.Mutex
	buffers  map[string][]core.InteractionEvent
	profiles map[string]*core.BehaviorProfile

	ticker *time.Ticker
	stop   chan struct{}
	once   sync.Once
}

// NewTracker 创建行为追踪器并启动定时 flush 协程。
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		logger:        zerolog.Nop(),
		capacity:      100,
		flushInterval: 30 * time.Second,
		profileTTL:    1800,
		buffers:       make(map[string][]core.InteractionEvent),
		profiles:      make(map[string]*core.BehaviorProfile),
		stop:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}

	t.ticker = time.NewTicker(t.flushInterval)
	go t.flushLoop()
	return t
}

type Option func(*Tracker)

// WithCache 注入画像缓存。
func WithCache(store core.Store) Option {
	return func(t *Tracker) { t.cache = store }
}

// WithLogger 注入日志。
func WithLogger(logger zerolog.Logger) Option {
	return func(t *Tracker) { t.logger = logger }
}

// WithCapacity 设置单用户缓冲容量。
func WithCapacity(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.capacity = n
		}
	}
}

// WithFlushInterval 设置定时 flush 周期。
func WithFlushInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.flushInterval = d
		}
	}
}

// WithProfileTTL 设置画像缓存 TTL（秒）。
func WithProfileTTL(ttl int) Option {
	return func(t *Tracker) {
		if ttl > 0 {
			t.profileTTL = ttl
		}
	}
}

func (t *Tracker) flushLoop() {
	for {
		select {
		case <-t.ticker.C:
			t.FlushAll(context.Background())
		case <-t.stop:
			t.ticker.Stop()
			return
		}
	}
}

// TrackInteraction 追加事件到用户缓冲；缓冲满时自动 flush。
// 错误内部消化，不传播。
func (t *Tracker) TrackInteraction(ctx context.Context, ev core.InteractionEvent) {
	if ev.UserID == "" || ev.ContentID == "" {
		t.logger.Debug().Msg("interaction dropped: missing user or content id")
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if ev.SessionID == "" {
		ev.SessionID = uuid.NewString()
	}

	t.mu.Lock()
	t.buffers[ev.UserID] = append(t.buffers[ev.UserID], ev)
	full := len(t.buffers[ev.UserID]) >= t.capacity
	if full {
		t.flushUserLocked(ctx, ev.UserID)
	}
	t.mu.Unlock()
}

// FlushAll 刷入全部用户缓冲（定时器与关停路径共用）。
func (t *Tracker) FlushAll(ctx context.Context) {
	t.mu.Lock()
	for userID := range t.buffers {
		t.flushUserLocked(ctx, userID)
	}
	t.mu.Unlock()
}

// flushUserLocked 把用户缓冲的事件逐条并入画像并清空缓冲。调用方持锁。
func (t *Tracker) flushUserLocked(ctx context.Context, userID string) {
	events := t.buffers[userID]
	if len(events) == 0 {
		return
	}
	delete(t.buffers, userID)

	profile := t.profiles[userID]
	if profile == nil {
		profile = core.NewBehaviorProfile(userID)
		t.profiles[userID] = profile
	}
	for _, ev := range events {
		applyEvent(profile, ev)
	}
	applySessionLength(profile, events)
	recomputeDiversity(profile)
	profile.UpdatedAt = time.Now()

	t.cacheProfile(ctx, profile)
}

// applyEvent 把单个事件并入画像。
func applyEvent(p *core.BehaviorProfile, ev core.InteractionEvent) {
	weight := core.InteractionWeight(ev.Kind)

	// 指数平滑：新值 = 0.9×旧值 + 0.1×行为权重
	if ev.ContentType != "" {
		p.ContentTypeAffinity[ev.ContentType] = 0.9*p.ContentTypeAffinity[ev.ContentType] + 0.1*weight
	}
	for _, topic := range ev.Topics {
		p.TopicAffinity[topic] = 0.9*p.TopicAffinity[topic] + 0.1*weight
	}

	// 时间衰减计数：已有计数按 exp(-age/1d) 衰减后再累加
	age := time.Since(ev.Timestamp)
	if age < 0 {
		age = 0
	}
	decay := math.Exp(-age.Hours() / 24)
	for id, w := range p.RecentWeights {
		p.RecentWeights[id] = w * decay
	}
	p.RecentWeights[ev.ContentID] += weight * decay

	// 互动节奏
	if ev.Kind == core.InteractionView && ev.Duration > 0 {
		if p.Engagement.AvgViewDuration == 0 {
			p.Engagement.AvgViewDuration = ev.Duration
		} else {
			p.Engagement.AvgViewDuration = (p.Engagement.AvgViewDuration*9 + ev.Duration) / 10
		}
	}
	hour := ev.Timestamp.Hour()
	found := false
	for _, h := range p.Engagement.PreferredHours {
		if h == hour {
			found = true
			break
		}
	}
	if !found && len(p.Engagement.PreferredHours) < 6 {
		p.Engagement.PreferredHours = append(p.Engagement.PreferredHours, hour)
	}

	// 社交摘要：交互过的作者，去重、有界
	if ev.AuthorID != "" && ev.AuthorID != p.UserID {
		known := false
		for _, u := range p.Social.InteractedUsers {
			if u == ev.AuthorID {
				known = true
				break
			}
		}
		if !known && len(p.Social.InteractedUsers) < interactedUsersCap {
			p.Social.InteractedUsers = append(p.Social.InteractedUsers, ev.AuthorID)
		}
	}

	p.TotalInteractions++
	p.Engagement.Velocity = 0.9*p.Engagement.Velocity + 0.1
}

// interactedUsersCap 社交摘要记录的作者数上限。
const interactedUsersCap = 200

// applySessionLength 按本批事件的 SessionID 聚合会话长度并指数平滑并入画像。
// 会话跨批时按批内近似（偏低）。
func applySessionLength(p *core.BehaviorProfile, events []core.InteractionEvent) {
	sessions := make(map[string]int)
	for _, ev := range events {
		sessions[ev.SessionID]++
	}
	if len(sessions) == 0 {
		return
	}
	total := 0
	for _, n := range sessions {
		total += n
	}
	avg := total / len(sessions)
	if p.Engagement.AvgSessionLength == 0 {
		p.Engagement.AvgSessionLength = avg
	} else {
		p.Engagement.AvgSessionLength = (p.Engagement.AvgSessionLength*9 + avg) / 10
	}
}

// recomputeDiversity 按触达的类型/话题多样性相对交互量重算多样性偏好。
func recomputeDiversity(p *core.BehaviorProfile) {
	if p.TotalInteractions == 0 {
		p.DiversityPreference = 0
		return
	}
	variety := float64(len(p.ContentTypeAffinity) + len(p.TopicAffinity))
	d := variety / math.Sqrt(float64(p.TotalInteractions)+1)
	if d > 1 {
		d = 1
	}
	p.DiversityPreference = d
}

// Profile 返回用户行为画像：缓存优先，未命中则从内存画像重建并回填缓存。
// 首次读取时懒创建空画像。
func (t *Tracker) Profile(ctx context.Context, userID string) *core.BehaviorProfile {
	if t.cache != nil {
		if data, err := t.cache.Get(ctx, "behavior:profile:"+userID); err == nil {
			var p core.BehaviorProfile
			if json.Unmarshal(data, &p) == nil {
				return &p
			}
		}
	}

	t.mu.Lock()
	// 先把该用户的待刷事件并入，保证读到最新
	t.flushUserLocked(ctx, userID)
	profile := t.profiles[userID]
	if profile == nil {
		profile = core.NewBehaviorProfile(userID)
		t.profiles[userID] = profile
	}
	snapshot := cloneProfile(profile)
	t.mu.Unlock()

	t.cacheProfile(ctx, snapshot)
	return snapshot
}

func (t *Tracker) cacheProfile(ctx context.Context, p *core.BehaviorProfile) {
	if t.cache == nil {
		return
	}
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := t.cache.Set(ctx, "behavior:profile:"+p.UserID, data, t.profileTTL); err != nil {
		t.logger.Debug().Err(err).Str("user_id", p.UserID).Msg("profile cache write failed")
	}
}

func cloneProfile(p *core.BehaviorProfile) *core.BehaviorProfile {
	out := *p
	out.ContentTypeAffinity = make(map[string]float64, len(p.ContentTypeAffinity))
	for k, v := range p.ContentTypeAffinity {
		out.ContentTypeAffinity[k] = v
	}
	out.TopicAffinity = make(map[string]float64, len(p.TopicAffinity))
	for k, v := range p.TopicAffinity {
		out.TopicAffinity[k] = v
	}
	out.RecentWeights = make(map[string]float64, len(p.RecentWeights))
	for k, v := range p.RecentWeights {
		out.RecentWeights[k] = v
	}
	out.Social.InteractedUsers = append([]string(nil), p.Social.InteractedUsers...)
	out.Engagement.PreferredHours = append([]int(nil), p.Engagement.PreferredHours...)
	return &out
}

// BufferLen 返回用户当前缓冲长度（测试/观测用）。
func (t *Tracker) BufferLen(userID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buffers[userID])
}

// Close 停止定时器并刷入剩余缓冲。
func (t *Tracker) Close() error {
	t.once.Do(func() { close(t.stop) })
	t.FlushAll(context.Background())
	return nil
}
