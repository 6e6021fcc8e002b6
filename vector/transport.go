package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/rushteam/feedkit/core"
	"github.com/rushteam/feedkit/pkg/retry"
)

// transport 是 Qdrant HTTP 传输层：统一走熔断器 + 重试包装。
//
// 重试边界：
//   - 连接级失败、5xx：重试（指数退避，预算见 retry.Policy）
//   - 格式良好的 4xx 应用错误（校验失败等）：不重试，立即返回
// 熔断器打开期间直接返回 core.ErrVectorUnavailable，调用方走降级路径。
type transport struct {
	baseURL string
	apiKey  string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	policy  retry.Policy
	logger  zerolog.Logger
}

func newTransport(baseURL, apiKey string, timeout time.Duration, policy retry.Policy, logger zerolog.Logger) *transport {
	settings := gobreaker.Settings{
		Name: "qdrant",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		Timeout: 15 * time.Second,
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// 4xx 应用错误不计入熔断失败
			se, ok := err.(*statusError)
			return ok && se.Status < 500
		},
	}
	return &transport{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker[[]byte](settings),
		policy:  policy,
		logger:  logger,
	}
}

// statusError 表示服务端返回的非 2xx 应用错误。
type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("qdrant: status=%d body=%s", e.Status, e.Body)
}

// do 发送一次请求并把响应 JSON 解码到 out（out 可为 nil）。
func (t *transport) do(ctx context.Context, method, path string, body any, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	respBody, err := t.breaker.Execute(func() ([]byte, error) {
		var data []byte
		retryErr := t.policy.Do(ctx, func() error {
			var opErr error
			data, opErr = t.roundTrip(ctx, method, path, payload)
			if opErr == nil {
				return nil
			}
			if se, ok := opErr.(*statusError); ok && se.Status < 500 {
				// 应用级错误不重试，也不计入熔断失败
				return retry.Permanent(opErr)
			}
			return opErr
		})
		return data, retryErr
	})
	if err != nil {
		if se, ok := err.(*statusError); ok && se.Status < 500 {
			return se
		}
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return core.ErrVectorUnavailable
		}
		t.logger.Warn().Err(err).Str("path", path).Msg("qdrant request failed after retries")
		return core.ErrVectorUnavailable
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (t *transport) roundTrip(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		req.Header.Set("api-key", t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &statusError{Status: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}
