// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, hr, news, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeHRNotLinked       = "HR_NOT_LINKED"
	ErrCodeEmployeeNotFound  = "EMPLOYEE_NOT_FOUND"
	ErrCodeTokenRefreshBusy  = "TOKEN_REFRESH_BUSY"
	ErrCodeUpstream          = "UPSTREAM_ERROR"
	ErrCodeCategoryNotFound  = "CATEGORY_NOT_FOUND"
	ErrCodeUnknownStoryList  = "UNKNOWN_STORY_LIST"
	ErrCodeUserNotFound      = "USER_NOT_FOUND"
	ErrCodeInvalidOAuthState = "INVALID_OAUTH_STATE"
	ErrCodeMissingAuthCode   = "MISSING_AUTH_CODE"
)

// NewValidationError は入力値検証エラーを生成する。
func NewValidationError(detail string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力値が不正です: %s", detail),
		Category: "validation",
		Action:   "日付は YYYY-MM-DD、時刻は HH:MM 形式で入力してください。",
	}
}

// NewHRNotLinkedError はfreee連携が未完了の場合のエラーを生成する。
func NewHRNotLinkedError() *APIError {
	return &APIError{
		Code:     ErrCodeHRNotLinked,
		Message:  "freee人事労務との連携が完了していません。",
		Category: "hr",
		Action:   "freee連携ボタンから認可を行ってください。",
	}
}

// NewEmployeeNotFoundError は連携済みアカウントに対象事業所の従業員情報がない場合のエラーを生成する。
func NewEmployeeNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeEmployeeNotFound,
		Message:  "対象事業所の従業員情報が見つかりません。",
		Category: "hr",
		Action:   "freeeで事業所を選択し直して、再度連携してください。",
	}
}

// NewTokenRefreshBusyError はトークン更新が他のリクエストと競合し続けた場合のエラーを生成する。
func NewTokenRefreshBusyError() *APIError {
	return &APIError{
		Code:     ErrCodeTokenRefreshBusy,
		Message:  "アクセストークンの更新が混み合っています。",
		Category: "hr",
		Action:   "数秒待ってから再度お試しください。",
	}
}

// NewUpstreamError は外部APIの呼び出し失敗エラーを生成する。
func NewUpstreamError(service string) *APIError {
	return &APIError{
		Code:     ErrCodeUpstream,
		Message:  fmt.Sprintf("%s の呼び出しに失敗しました。", service),
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewCategoryNotFoundError は未定義のニュースカテゴリが指定された場合のエラーを生成する。
func NewCategoryNotFoundError(category string) *APIError {
	return &APIError{
		Code:     ErrCodeCategoryNotFound,
		Message:  fmt.Sprintf("カテゴリが見つかりません: %s", category),
		Category: "news",
		Action:   "カテゴリ一覧から選択してください。",
	}
}

// NewUnknownStoryListError はHacker Newsの一覧種別が不正な場合のエラーを生成する。
func NewUnknownStoryListError(list string) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownStoryList,
		Message:  fmt.Sprintf("不明な一覧種別です: %s", list),
		Category: "news",
		Action:   "top、new、best、ask、show、job のいずれかを指定してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewInvalidOAuthStateError はOAuthのstate検証に失敗した場合のエラーを生成する。
func NewInvalidOAuthStateError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidOAuthState,
		Message:  "認可リクエストの検証に失敗しました。",
		Category: "auth",
		Action:   "最初からやり直してください。",
	}
}

// NewMissingAuthCodeError は認可コードがない場合のエラーを生成する。
func NewMissingAuthCodeError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingAuthCode,
		Message:  "認可コードがありません。",
		Category: "auth",
		Action:   "最初からやり直してください。",
	}
}
