package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/workday/internal/model"
)

// --- モック定義 ---

type mockAuthService struct {
	getLoginURLFn    func(state string) string
	handleCallbackFn func(ctx context.Context, code string) (*model.Session, error)
	logoutFn         func(ctx context.Context, sessionID string) error
	getCurrentUserFn func(ctx context.Context, sessionID string) (*model.User, error)
}

func (m *mockAuthService) GetLoginURL(state string) string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return ""
}

func (m *mockAuthService) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	if m.handleCallbackFn != nil {
		return m.handleCallbackFn(ctx, code)
	}
	return nil, nil
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

func (m *mockAuthService) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if m.getCurrentUserFn != nil {
		return m.getCurrentUserFn(ctx, sessionID)
	}
	return nil, nil
}

// --- テストヘルパー ---

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

var testAuthConfig = AuthHandlerConfig{
	BaseURL:       "http://localhost:3000",
	SessionMaxAge: 86400,
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decodeAPIError(t *testing.T, body *bytes.Buffer) map[string]string {
	t.Helper()
	var m map[string]string
	if err := json.NewDecoder(body).Decode(&m); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return m
}

// --- テスト ---

func TestAuthHandler_Login_RedirectsWithStateCookie(t *testing.T) {
	var gotState string
	svc := &mockAuthService{
		getLoginURLFn: func(state string) string {
			gotState = state
			return "https://workday.auth.ap-northeast-1.amazoncognito.com/oauth2/authorize?state=" + state
		},
	}
	h := NewAuthHandler(svc, testAuthConfig, slog.Default())

	w := httptest.NewRecorder()
	h.Login(w, httptest.NewRequest(http.MethodGet, "/auth/login", nil))

	resp := w.Result()
	if resp.StatusCode != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d, want 307", resp.StatusCode)
	}
	if !strings.Contains(resp.Header.Get("Location"), "amazoncognito.com") {
		t.Errorf("Location = %q", resp.Header.Get("Location"))
	}
	c := findCookie(resp, "oauth_state")
	if c == nil || c.Value != gotState || len(gotState) != 32 {
		t.Fatalf("state cookie = %+v, state = %q", c, gotState)
	}
	if !c.HttpOnly || c.MaxAge != 600 {
		t.Errorf("state cookie attributes = %+v", c)
	}
}

func TestAuthHandler_Callback_Success_SetsSessionCookie(t *testing.T) {
	svc := &mockAuthService{
		handleCallbackFn: func(ctx context.Context, code string) (*model.Session, error) {
			if code != "test-code" {
				t.Errorf("code = %q", code)
			}
			return &model.Session{ID: "session-id-abc", UserID: "user-1", ExpiresAt: time.Now().Add(time.Hour)}, nil
		},
	}
	h := NewAuthHandler(svc, testAuthConfig, slog.Default())

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?code=test-code&state=test-state", nil)
	req.AddCookie(&http.Cookie{Name: "oauth_state", Value: "test-state"})
	w := httptest.NewRecorder()
	h.Callback(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d, want 307", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "http://localhost:3000" {
		t.Errorf("Location = %q", loc)
	}
	sc := findCookie(resp, "session_id")
	if sc == nil || sc.Value != "session-id-abc" || !sc.HttpOnly || sc.MaxAge != 86400 {
		t.Fatalf("session cookie = %+v", sc)
	}
	if sc.SameSite != http.SameSiteLaxMode {
		t.Errorf("SameSite = %v", sc.SameSite)
	}
	if st := findCookie(resp, "oauth_state"); st == nil || st.MaxAge >= 0 {
		t.Errorf("state cookie should be cleared, got %+v", st)
	}
}

func TestAuthHandler_Callback_Rejects(t *testing.T) {
	tests := []struct {
		name       string
		url        string
		cookie     string
		svcErr     error
		wantStatus int
		wantCode   string
	}{
		{"stateなし", "/auth/callback?code=c", "s", nil, http.StatusBadRequest, model.ErrCodeInvalidOAuthState},
		{"state不一致", "/auth/callback?code=c&state=wrong", "right", nil, http.StatusBadRequest, model.ErrCodeInvalidOAuthState},
		{"Cookieなし", "/auth/callback?code=c&state=s", "", nil, http.StatusBadRequest, model.ErrCodeInvalidOAuthState},
		{"codeなし", "/auth/callback?state=s", "s", nil, http.StatusBadRequest, model.ErrCodeMissingAuthCode},
		{"トークン検証失敗", "/auth/callback?code=c&state=s", "s", errors.New("invalid id_token"), http.StatusUnauthorized, "LOGIN_FAILED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockAuthService{
				handleCallbackFn: func(ctx context.Context, code string) (*model.Session, error) {
					return nil, tt.svcErr
				},
			}
			h := NewAuthHandler(svc, testAuthConfig, slog.Default())

			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: "oauth_state", Value: tt.cookie})
			}
			w := httptest.NewRecorder()
			h.Callback(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if body := decodeAPIError(t, w.Body); body["code"] != tt.wantCode {
				t.Errorf("code = %q, want %q", body["code"], tt.wantCode)
			}
		})
	}
}

func TestAuthHandler_Logout_ClearsCookieEvenOnError(t *testing.T) {
	var buf bytes.Buffer
	var deleted string
	svc := &mockAuthService{
		logoutFn: func(ctx context.Context, sessionID string) error {
			deleted = sessionID
			return errors.New("db down")
		},
	}
	h := NewAuthHandler(svc, testAuthConfig, newTestLogger(&buf))

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "session-123"})
	w := httptest.NewRecorder()
	h.Logout(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusSeeOther {
		t.Errorf("status = %d, want 303", resp.StatusCode)
	}
	if deleted != "session-123" {
		t.Errorf("deleted session = %q", deleted)
	}
	if c := findCookie(resp, "session_id"); c == nil || c.MaxAge >= 0 {
		t.Errorf("session cookie should be cleared, got %+v", c)
	}
	if !strings.Contains(buf.String(), "db down") {
		t.Errorf("logout error should be logged: %s", buf.String())
	}
}

func TestAuthHandler_Logout_NoSessionStillRedirects(t *testing.T) {
	called := false
	h := NewAuthHandler(&mockAuthService{
		logoutFn: func(ctx context.Context, sessionID string) error {
			called = true
			return nil
		},
	}, testAuthConfig, slog.Default())

	w := httptest.NewRecorder()
	h.Logout(w, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))

	if w.Code != http.StatusSeeOther {
		t.Errorf("status = %d, want 303", w.Code)
	}
	if called {
		t.Error("Logout should not be called without a session cookie")
	}
}

func TestAuthHandler_Me(t *testing.T) {
	svc := &mockAuthService{
		getCurrentUserFn: func(ctx context.Context, sessionID string) (*model.User, error) {
			if sessionID != "valid" {
				return nil, errors.New("session not found")
			}
			return &model.User{ID: "user-1", Email: "user@example.com", Name: "Taro"}, nil
		},
	}
	h := NewAuthHandler(svc, testAuthConfig, slog.Default())

	t.Run("ログイン済み", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
		req.AddCookie(&http.Cookie{Name: "session_id", Value: "valid"})
		w := httptest.NewRecorder()
		h.Me(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		var body map[string]string
		json.NewDecoder(w.Body).Decode(&body)
		if body["id"] != "user-1" || body["email"] != "user@example.com" || body["name"] != "Taro" {
			t.Errorf("body = %v", body)
		}
	})

	for _, cookie := range []string{"", "expired"} {
		t.Run("未ログイン/"+cookie, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
			if cookie != "" {
				req.AddCookie(&http.Cookie{Name: "session_id", Value: cookie})
			}
			w := httptest.NewRecorder()
			h.Me(w, req)
			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", w.Code)
			}
		})
	}
}
