package hr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/hitoshi/workday/internal/model"
	"github.com/hitoshi/workday/internal/timeval"
)

const (
	// DefaultBaseURL はfreee人事労務APIのベースURL。
	DefaultBaseURL = "https://api.freee.co.jp/hr"
	// maxErrorBodySize はエラーレスポンスから保持するボディの最大バイト数。
	maxErrorBodySize = 4096
)

// MeResponse は GET /api/v1/users/me のレスポンス。
type MeResponse struct {
	ID        int64           `json:"id"`
	Companies []model.Company `json:"companies"`
}

// WorkRecordSummary は月次勤怠サマリ。work_records=true で日別の勤怠を含む。
type WorkRecordSummary struct {
	Year          int                 `json:"year"`
	Month         int                 `json:"month"`
	StartDate     string              `json:"start_date"`
	EndDate       string              `json:"end_date"`
	WorkDays      float64             `json:"work_days"`
	TotalWorkMins int                 `json:"total_work_mins"`
	WorkRecords   []SummaryWorkRecord `json:"work_records"`
}

// SummaryWorkRecord はサマリに含まれる1日分の勤怠。未打刻の日は ClockInAt/ClockOutAt がnil。
type SummaryWorkRecord struct {
	Date         string               `json:"date"`
	DayPattern   string               `json:"day_pattern"`
	ClockInAt    *string              `json:"clock_in_at"`
	ClockOutAt   *string              `json:"clock_out_at"`
	BreakRecords []SummaryBreakRecord `json:"break_records"`
	IsEditable   bool                 `json:"is_editable"`
	Note         string               `json:"note"`
}

// SummaryBreakRecord はサマリに含まれる休憩。
type SummaryBreakRecord struct {
	ClockInAt  string `json:"clock_in_at"`
	ClockOutAt string `json:"clock_out_at"`
}

// WorkRecordPayload は PUT /api/v1/employees/{id}/work_records/{date} のリクエストボディ。
// 時刻は "YYYY-MM-DD HH:MM" 形式。
type WorkRecordPayload struct {
	CompanyID    int64                `json:"company_id"`
	BreakRecords []BreakRecordPayload `json:"break_records"`
	ClockInAt    string               `json:"clock_in_at"`
	ClockOutAt   string               `json:"clock_out_at"`
}

// BreakRecordPayload は勤怠登録リクエストの休憩。
type BreakRecordPayload struct {
	ClockInAt  string `json:"clock_in_at"`
	ClockOutAt string `json:"clock_out_at"`
}

// NewWorkRecordPayload はWorkRecordからfreee APIのリクエストボディを組み立てる。
func NewWorkRecordPayload(companyID int64, record model.WorkRecord) *WorkRecordPayload {
	day := record.WorkDay.String()
	stamp := func(t timeval.TimeOnly) string {
		return day + " " + t.String()
	}

	breaks := make([]BreakRecordPayload, 0, len(record.BreakRecords))
	for _, b := range record.BreakRecords {
		breaks = append(breaks, BreakRecordPayload{
			ClockInAt:  stamp(b.ClockInAt),
			ClockOutAt: stamp(b.ClockOutAt),
		})
	}

	return &WorkRecordPayload{
		CompanyID:    companyID,
		BreakRecords: breaks,
		ClockInAt:    stamp(record.ClockInAt),
		ClockOutAt:   stamp(record.ClockOutAt),
	}
}

// Client はfreee人事労務APIのクライアント。
// 呼び出しごとにアクセストークンを受け取り、トークンの管理はしない。
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient はClientの新しいインスタンスを生成する。baseURLが空の場合はDefaultBaseURLを使う。
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// GetMe はトークンの持ち主のユーザー情報と所属事業所を取得する。
func (c *Client) GetMe(ctx context.Context, accessToken string) (*MeResponse, error) {
	var me MeResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/users/me", nil, accessToken, nil, &me); err != nil {
		return nil, err
	}
	return &me, nil
}

// GetWorkRecordSummary は指定年月の勤怠サマリを日別勤怠付きで取得する。
func (c *Client) GetWorkRecordSummary(ctx context.Context, employeeID int64, year, month int, companyID int64, accessToken string) (*WorkRecordSummary, error) {
	path := fmt.Sprintf("/api/v1/employees/%d/work_record_summaries/%d/%d", employeeID, year, month)
	query := url.Values{
		"company_id":   {strconv.FormatInt(companyID, 10)},
		"work_records": {"true"},
	}
	var summary WorkRecordSummary
	if err := c.do(ctx, http.MethodGet, path, query, accessToken, nil, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// PutWorkRecord は指定日の勤怠を登録または上書きする。
func (c *Client) PutWorkRecord(ctx context.Context, employeeID int64, date timeval.DateOnly, accessToken string, payload *WorkRecordPayload) error {
	path := fmt.Sprintf("/api/v1/employees/%d/work_records/%s", employeeID, date)
	return c.do(ctx, http.MethodPut, path, nil, accessToken, payload, nil)
}

// DeleteWorkRecord は指定日の勤怠を削除する。
func (c *Client) DeleteWorkRecord(ctx context.Context, employeeID int64, date timeval.DateOnly, companyID int64, accessToken string) error {
	path := fmt.Sprintf("/api/v1/employees/%d/work_records/%s", employeeID, date)
	query := url.Values{"company_id": {strconv.FormatInt(companyID, 10)}}
	return c.do(ctx, http.MethodDelete, path, query, accessToken, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, accessToken string, in, out any) error {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("リクエストボディのエンコードに失敗しました: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("freee APIの呼び出しに失敗しました",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("freee API %s %s の呼び出しに失敗しました: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		c.logger.Warn("freee APIがエラーステータスを返しました",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("http_status", resp.StatusCode),
		)
		return &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("freee APIのレスポンスのパースに失敗しました: %w", err)
	}
	return nil
}
