package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func testLimiterConfig(generalBurst, mutationBurst int) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    generalBurst,
		MutationRate:    1,
		MutationBurst:   mutationBurst,
		CleanupInterval: time.Minute,
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func requestAs(userID string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/hr/work-records", nil)
	if userID != "" {
		req = req.WithContext(ContextWithUserID(req.Context(), userID))
	}
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimitMiddleware_AllowsBurstThenRejects(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(3, 10))
	defer rl.Stop()
	h := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 3; i++ {
		if w := serve(h, requestAs("user-1")); w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, w.Code)
		}
	}

	w := serve(h, requestAs("user-1"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	sec, err := strconv.Atoi(w.Header().Get("Retry-After"))
	if err != nil || sec < 1 {
		t.Errorf("Retry-After = %q, want positive seconds", w.Header().Get("Retry-After"))
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Code != "RATE_LIMIT_EXCEEDED" || body.Category != "system" {
		t.Errorf("body = %+v", body)
	}
}

func TestRateLimitMiddleware_IsolatesUsers(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(1, 10))
	defer rl.Stop()
	h := rl.GeneralMiddleware()(okHandler())

	serve(h, requestAs("user-a"))
	if w := serve(h, requestAs("user-a")); w.Code != http.StatusTooManyRequests {
		t.Errorf("user-a second request: status = %d, want 429", w.Code)
	}
	if w := serve(h, requestAs("user-b")); w.Code != http.StatusOK {
		t.Errorf("user-b: status = %d, want 200", w.Code)
	}
	if got := rl.GeneralLimiterCount(); got != 2 {
		t.Errorf("GeneralLimiterCount() = %d, want 2", got)
	}
}

func TestRateLimitMiddleware_NoUserIDReturns401(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(5, 5))
	defer rl.Stop()

	for _, mw := range []func(http.Handler) http.Handler{rl.GeneralMiddleware(), rl.MutationMiddleware()} {
		if w := serve(mw(okHandler()), requestAs("")); w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
	}
}

func TestMutationMiddleware_IndependentFromGeneral(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(10, 1))
	defer rl.Stop()
	general := rl.GeneralMiddleware()(okHandler())
	mutation := rl.GeneralMiddleware()(rl.MutationMiddleware()(okHandler()))

	if w := serve(mutation, requestAs("user-1")); w.Code != http.StatusOK {
		t.Fatalf("first mutation: status = %d", w.Code)
	}
	if w := serve(mutation, requestAs("user-1")); w.Code != http.StatusTooManyRequests {
		t.Errorf("second mutation: status = %d, want 429", w.Code)
	}
	// 登録・削除の制限に達しても参照系は通る
	if w := serve(general, requestAs("user-1")); w.Code != http.StatusOK {
		t.Errorf("general: status = %d, want 200", w.Code)
	}
	if got := rl.MutationLimiterCount(); got != 1 {
		t.Errorf("MutationLimiterCount() = %d, want 1", got)
	}
}

func TestRateLimiter_CleanupRemovesIdleEntries(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(5, 5))
	defer rl.Stop()

	start := time.Now()
	rl.general.get("idle", start.Add(-10*time.Minute))
	rl.general.get("active", start)
	rl.mutation.get("idle", start.Add(-10*time.Minute))

	rl.cleanup(start)

	if got := rl.GeneralLimiterCount(); got != 1 {
		t.Errorf("GeneralLimiterCount() = %d, want 1", got)
	}
	if got := rl.MutationLimiterCount(); got != 0 {
		t.Errorf("MutationLimiterCount() = %d, want 0", got)
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(1, 1))
	rl.Stop()
	rl.Stop()
}

func TestPerMinute(t *testing.T) {
	cfg := PerMinute(60, 6)
	if cfg.GeneralRate != 1 || cfg.GeneralBurst != 60 {
		t.Errorf("general = %v/%d", cfg.GeneralRate, cfg.GeneralBurst)
	}
	if cfg.MutationBurst != 6 {
		t.Errorf("MutationBurst = %d, want 6", cfg.MutationBurst)
	}

	def := PerMinute(0, 0)
	if def.GeneralBurst != 120 || def.MutationBurst != 10 {
		t.Errorf("zero values should keep defaults, got %+v", def)
	}
}
