package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger は疎通確認ができる依存先。*sql.DBとRedisクライアントのアダプタが満たす。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingerFunc は関数をPingerとして扱うアダプタ。
type PingerFunc func(ctx context.Context) error

// PingContext はfを呼び出す。
func (f PingerFunc) PingContext(ctx context.Context) error { return f(ctx) }

// NewHealthHandler は依存先すべての疎通を確認するハンドラーを返す。
// 1つでも失敗すれば503と失敗した依存先の名前を返す。
// GET /health
func NewHealthHandler(deps map[string]Pinger, timeout time.Duration) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		checks := make(map[string]string, len(deps))
		status := http.StatusOK
		for name, p := range deps {
			if err := p.PingContext(ctx); err != nil {
				slog.Warn("ヘルスチェックに失敗しました",
					slog.String("dependency", name),
					slog.String("error", err.Error()),
				)
				checks[name] = "error"
				status = http.StatusServiceUnavailable
				continue
			}
			checks[name] = "ok"
		}

		overall := "ok"
		if status != http.StatusOK {
			overall = "unavailable"
		}
		writeJSON(w, status, map[string]any{"status": overall, "checks": checks})
	})
}
