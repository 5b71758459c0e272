package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/workday/internal/middleware"
	"github.com/hitoshi/workday/internal/model"
)

// writeJSON はステータスコードとJSONボディを書き込む。
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("レスポンスの書き込みに失敗しました", slog.String("error", err.Error()))
	}
}

// maxRequestBody はJSONリクエストボディの上限。
const maxRequestBody = 64 << 10

// decodeJSON はリクエストボディをdstに読み込む。未知のフィールドは拒否する。
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// requireUserID はセッションミドルウェアが注入したユーザーIDを返す。
// 取得できない場合は401を書き込んでfalseを返す。
func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, &model.APIError{
			Code:     "UNAUTHORIZED",
			Message:  "ログインが必要です。",
			Category: "auth",
			Action:   "ログインしてください。",
		})
		return "", false
	}
	return userID, true
}

// setStateCookie はOAuthのstateを保持する短命なCookieを設定する。maxAgeが負なら削除する。
func setStateCookie(w http.ResponseWriter, name, path, value string, maxAge int, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// checkState はクエリのstateとCookieの値が一致するかを返す。
func checkState(r *http.Request, cookieName string) bool {
	state := r.URL.Query().Get("state")
	cookie, err := r.Cookie(cookieName)
	return err == nil && state != "" && cookie.Value == state
}
