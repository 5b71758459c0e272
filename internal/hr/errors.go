// Package hr はfreee人事労務との連携機能を提供する。
// アクセストークンの更新調停、勤怠APIクライアント、勤怠記録の一括登録・削除を含む。
package hr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnknownUser はトークンストアに連携情報が存在しない場合のエラー。
	ErrUnknownUser = errors.New("freee連携情報が登録されていません")
	// ErrTokenRefreshExhausted はトークン更新ロックを規定回数内に取得できなかった場合のエラー。
	// 呼び出し側で時間をおいて再試行できる。
	ErrTokenRefreshExhausted = errors.New("アクセストークンの更新ロックを取得できませんでした")
	// ErrEmployeeNotFound は対象事業所または従業員IDが見つからない場合のエラー。
	ErrEmployeeNotFound = errors.New("対象事業所の従業員情報が見つかりません")
	// ErrNotFound はfreee APIが404を返した場合にerrors.Isで一致する。
	ErrNotFound = errors.New("freee APIのリソースが見つかりません")
)

// StatusError はfreee APIが2xx以外を返した場合のエラー。
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

// Error はerrorインターフェースを実装する。
func (e *StatusError) Error() string {
	return fmt.Sprintf("freee API %s %s がステータス %d を返しました: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Is は404の場合にErrNotFoundと一致させる。
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// IsServerError はerrが5xxのStatusErrorかどうかを返す。
func IsServerError(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode >= 500
}
