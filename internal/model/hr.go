package model

import (
	"time"

	"github.com/hitoshi/workday/internal/oauth"
	"github.com/hitoshi/workday/internal/timeval"
)

// HRUser はfreee連携済みユーザーの認可情報と所属事業所を表す。
// アプリケーションのユーザーIDごとに1件だけ存在し、保存のたびに全体を上書きする。
type HRUser struct {
	ID        int64       `json:"id"`
	Companies []Company   `json:"companies"`
	OAuth     oauth.Token `json:"oauth"`
	UpdatedAt int64       `json:"updated_at"` // Unixミリ秒
}

// Company はfreeeの事業所とその事業所における自分の従業員情報。
type Company struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Role        string  `json:"role"`
	ExternalCID int64   `json:"external_cid"`
	EmployeeID  *int64  `json:"employee_id,omitempty"`
	DisplayName *string `json:"display_name,omitempty"`
}

// Employee は画面表示と勤怠APIの呼び出しに使う従業員情報。
type Employee struct {
	EmployeeID   int64      `json:"employee_id"`
	EmployeeName string     `json:"employee_name"`
	CompanyID    int64      `json:"company_id"`
	CompanyName  string     `json:"company_name"`
	ExternalCID  int64      `json:"external_cid"`
	Role         string     `json:"role"`
	UpdatedAt    *time.Time `json:"last_sync_date,omitempty"`
}

// WorkRecord は1日分の勤怠記録。リクエストごとに組み立て、ローカルには保存しない。
type WorkRecord struct {
	WorkDay      timeval.DateOnly `json:"work_day"`
	ClockInAt    timeval.TimeOnly `json:"clock_in_at"`
	ClockOutAt   timeval.TimeOnly `json:"clock_out_at"`
	BreakRecords []BreakRecord    `json:"break_records"`
}

// BreakRecord は休憩時間。
type BreakRecord struct {
	ClockInAt  timeval.TimeOnly `json:"clock_in_at"`
	ClockOutAt timeval.TimeOnly `json:"clock_out_at"`
}
