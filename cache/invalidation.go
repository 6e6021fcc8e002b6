package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/rs/zerolog"

	"github.com/rushteam/feedkit/core"
	"github.com/rushteam/feedkit/pkg/metrics"
)

// EventType 是变更事件的语义分类。
type EventType string

const (
	EventContentUpdate EventType = "content_update"
	EventUserAction    EventType = "user_action"
	EventSystemEvent   EventType = "system_event"
)

// Event 是一次成功写操作映射出的语义事件。
type Event struct {
	Type        EventType
	Action      string // create / update / delete / like / save / view ...
	ContentType string
	UserID      string
	ContentID   string
	Timestamp   time.Time
}

// Strategy 是失效策略。
type Strategy string

const (
	// StrategyImmediate 立即失效，并级联失效依赖 pattern
	StrategyImmediate Strategy = "immediate"
	// StrategyBatched 累积到固定延迟窗口后一次性清扫（高频低紧急事件，如单个点赞）
	StrategyBatched Strategy = "batched"
)

// Rule 是一条失效规则：触发条件（CEL 表达式，输入变量 event）、
// 目标 pattern（支持 {userId} / {contentId} / {contentType} 占位符）与策略。
// 静态配置，逐事件求值，不随请求持久化。
type Rule struct {
	Name      string   `yaml:"name"`
	Condition string   `yaml:"condition"` // CEL，空串恒真
	Pattern   string   `yaml:"pattern"`
	Cascade   []string `yaml:"cascade,omitempty"` // immediate 策略的级联 pattern
	Priority  int      `yaml:"priority"`
	Strategy  Strategy `yaml:"strategy"`
	Monitor   bool     `yaml:"monitor,omitempty"`
}

// Engine 是无状态规则求值器 + 批量清扫器。
//
// 旁路契约：失效失败只记日志并吞掉，绝不让发起写操作的请求失败。
// 漏失效可容忍（最终一致）；清扫中途崩溃不得破坏缓存存储。
type Engine struct {
	store     core.Store
	logger    zerolog.Logger
	collector *metrics.Collector

	rules    []compiledRule
	batchWin time.Duration

	mu      sync.Mutex
	pending map[string]struct{} // 去重后的待清扫 pattern

	ticker *time.Ticker
	stop   chan struct{}
	once   sync.Once
}

type compiledRule struct {
	rule Rule
	prg  cel.Program // nil 表示无条件触发
}

// NewEngine 编译规则并启动批量清扫协程。规则编译失败立即报错（配置错误早暴露）。
func NewEngine(store core.Store, rules []Rule, opts ...Option) (*Engine, error) {
	e := &Engine{
		store:    store,
		logger:   zerolog.Nop(),
		batchWin: 5 * time.Second,
		pending:  make(map[string]struct{}),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	env, err := cel.NewEnv(cel.Variable("event", cel.DynType))
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}
	for _, r := range rules {
		cr := compiledRule{rule: r}
		if r.Condition != "" {
			ast, issues := env.Compile(r.Condition)
			if issues != nil && issues.Err() != nil {
				return nil, fmt.Errorf("rule %q: compile condition: %w", r.Name, issues.Err())
			}
			prg, err := env.Program(ast)
			if err != nil {
				return nil, fmt.Errorf("rule %q: program: %w", r.Name, err)
			}
			cr.prg = prg
		}
		e.rules = append(e.rules, cr)
	}

	e.ticker = time.NewTicker(e.batchWin)
	go e.sweepLoop()
	return e, nil
}

type Option func(*Engine)

// WithLogger 注入日志。
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithCollector 注入指标采集器。
func WithCollector(c *metrics.Collector) Option {
	return func(e *Engine) { e.collector = c }
}

// WithBatchWindow 设置批量清扫延迟窗口。
func WithBatchWindow(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.batchWin = d
		}
	}
}

// OnEvent 对事件求值全部规则并执行失效。错误内部消化。
func (e *Engine) OnEvent(ctx context.Context, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	input := map[string]any{
		"event": map[string]any{
			"type":         string(ev.Type),
			"action":       ev.Action,
			"content_type": ev.ContentType,
			"user_id":      ev.UserID,
			"content_id":   ev.ContentID,
		},
	}

	for _, cr := range e.rules {
		if cr.prg != nil {
			out, _, err := cr.prg.Eval(input)
			if err != nil {
				e.logger.Warn().Err(err).Str("rule", cr.rule.Name).Msg("rule evaluation failed")
				continue
			}
			matched, ok := out.Value().(bool)
			if !ok || !matched {
				continue
			}
		}

		pattern := substitute(cr.rule.Pattern, ev)
		switch cr.rule.Strategy {
		case StrategyBatched:
			e.mu.Lock()
			e.pending[pattern] = struct{}{}
			e.mu.Unlock()
		default:
			e.invalidate(ctx, pattern, cr.rule.Monitor)
			for _, cascade := range cr.rule.Cascade {
				e.invalidate(ctx, substitute(cascade, ev), cr.rule.Monitor)
			}
			if e.collector != nil {
				e.collector.Invalidations.WithLabelValues(string(StrategyImmediate)).Inc()
			}
		}
	}
}

func (e *Engine) invalidate(ctx context.Context, pattern string, monitor bool) {
	n, err := e.store.InvalidatePattern(ctx, pattern)
	if err != nil {
		// 失效失败只记日志：最终一致可容忍，主请求不受影响
		e.logger.Warn().Err(err).Str("pattern", pattern).Msg("cache invalidation failed")
		return
	}
	if monitor {
		e.logger.Info().Str("pattern", pattern).Int("deleted", n).Msg("cache invalidated")
	}
}

func (e *Engine) sweepLoop() {
	for {
		select {
		case <-e.ticker.C:
			e.Sweep(context.Background())
		case <-e.stop:
			e.ticker.Stop()
			return
		}
	}
}

// Sweep 执行一次批量清扫：取走累积的 pattern 并逐个失效。
func (e *Engine) Sweep(ctx context.Context) {
	e.mu.Lock()
	if len(e.pending) == 0 {
		e.mu.Unlock()
		return
	}
	batch := e.pending
	e.pending = make(map[string]struct{})
	e.mu.Unlock()

	for pattern := range batch {
		e.invalidate(ctx, pattern, false)
	}
	if e.collector != nil {
		e.collector.Invalidations.WithLabelValues(string(StrategyBatched)).Inc()
	}
}

// PendingLen 返回待清扫 pattern 数（测试/观测用）。
func (e *Engine) PendingLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Close 停止清扫协程并排空剩余批次。
func (e *Engine) Close() error {
	e.once.Do(func() { close(e.stop) })
	e.Sweep(context.Background())
	return nil
}

// substitute 用事件字段替换 pattern 占位符。
func substitute(pattern string, ev Event) string {
	r := strings.NewReplacer(
		"{userId}", ev.UserID,
		"{contentId}", ev.ContentID,
		"{contentType}", ev.ContentType,
	)
	return r.Replace(pattern)
}
