package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/workday/internal/hr"
	"github.com/hitoshi/workday/internal/middleware"
	"github.com/hitoshi/workday/internal/model"
	"github.com/hitoshi/workday/internal/timeval"
)

const (
	hrStateCookie   = "hr_oauth_state"
	hrCallbackPath  = "/api/hr/authorize/callback"
	yearMonthLayout = "2006-01"
)

var hhmmPattern = regexp.MustCompile(`^([01]?[0-9]|2[0-3]):[0-5][0-9]$`)

// HRServiceInterface はfreee連携と勤怠参照のサービス。
type HRServiceInterface interface {
	AuthorizationURL(redirectURI, state string) string
	CompleteAuthorization(ctx context.Context, userID, code, redirectURI string) (*model.Employee, error)
	Me(ctx context.Context, userID string) (*model.Employee, error)
	WorkRecords(ctx context.Context, userID string, year int, month time.Month) ([]model.WorkRecord, error)
}

// WorkRecordOrchestrator は勤怠記録の一括登録・削除。
type WorkRecordOrchestrator interface {
	CreateWorkRecords(ctx context.Context, userID string, r hr.DateRange, hours hr.WorkHours) (int, error)
	DeleteWorkRecords(ctx context.Context, userID string, r hr.DateRange) (int, error)
}

// HRHandlerConfig はHRハンドラーの設定。
type HRHandlerConfig struct {
	BaseURL      string
	CookieSecure bool
	// RetryAfter はトークン更新が混み合っている場合に返すRetry-After秒数。
	RetryAfter int
	// MaxRangeDays は一括登録・削除で指定できる期間の最大日数（両端含む）。0以下なら制限しない。
	MaxRangeDays int
}

// HRHandler はfreee人事労務連携のHTTPハンドラー。
type HRHandler struct {
	service      HRServiceInterface
	orchestrator WorkRecordOrchestrator
	config       HRHandlerConfig
	validate     *validator.Validate
	logger       *slog.Logger
}

// NewHRHandler はHRHandlerを生成する。
func NewHRHandler(service HRServiceInterface, orchestrator WorkRecordOrchestrator, config HRHandlerConfig, logger *slog.Logger) *HRHandler {
	if config.RetryAfter <= 0 {
		config.RetryAfter = 3
	}
	return &HRHandler{
		service:      service,
		orchestrator: orchestrator,
		config:       config,
		validate:     newWorkRecordValidator(),
		logger:       logger,
	}
}

// newWorkRecordValidator は時刻用のhhmmタグを登録したvalidatorを返す。
func newWorkRecordValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		return name
	})
	_ = v.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
		return hhmmPattern.MatchString(fl.Field().String())
	})
	return v
}

// createWorkRecordsRequest は勤怠一括登録のリクエストボディ。
type createWorkRecordsRequest struct {
	WorkFromDate        string `json:"workFromDate" validate:"required,datetime=2006-01-02"`
	WorkToDate          string `json:"workToDate" validate:"required,datetime=2006-01-02"`
	WorkStartHours      string `json:"workStartHours" validate:"required,hhmm"`
	WorkEndHours        string `json:"workEndHours" validate:"required,hhmm"`
	WorkBreakStartHours string `json:"workBreakStartHours" validate:"required,hhmm"`
	WorkBreakEndHours   string `json:"workBreakEndHours" validate:"required,hhmm"`
}

// deleteWorkRecordsRequest は勤怠一括削除のリクエストボディ。
type deleteWorkRecordsRequest struct {
	WorkFromDate string `json:"workFromDate" validate:"required,datetime=2006-01-02"`
	WorkToDate   string `json:"workToDate" validate:"required,datetime=2006-01-02"`
}

type workRecordsResponse struct {
	YearMonth   string             `json:"yearMonth"`
	Employee    *model.Employee    `json:"employee"`
	WorkRecords []model.WorkRecord `json:"workRecords"`
}

// Authorize はfreeeの認可画面へリダイレクトする。
// GET /api/hr/authorize
func (h *HRHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		h.logger.Error("stateの生成に失敗しました", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	setStateCookie(w, hrStateCookie, "/api/hr", state, 600, h.config.CookieSecure)
	http.Redirect(w, r, h.service.AuthorizationURL(h.redirectURI(), state), http.StatusTemporaryRedirect)
}

// AuthorizeCallback は認可コードを受け取り、連携情報を保存してトップへ戻す。
// GET /api/hr/authorize/callback?code=xxx&state=yyy
func (h *HRHandler) AuthorizeCallback(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	if !checkState(r, hrStateCookie) {
		h.logger.Warn("freee認可のstateが一致しません", slog.String("user_id", userID))
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidOAuthStateError())
		return
	}
	setStateCookie(w, hrStateCookie, "/api/hr", "", -1, h.config.CookieSecure)

	code := r.URL.Query().Get("code")
	if code == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewMissingAuthCodeError())
		return
	}

	if _, err := h.service.CompleteAuthorization(r.Context(), userID, code, h.redirectURI()); err != nil {
		// 連携情報は保存済みで、対象事業所だけが見つからない場合もトップへ戻す
		if !errors.Is(err, hr.ErrEmployeeNotFound) {
			h.writeHRError(w, userID, err)
			return
		}
	}
	http.Redirect(w, r, h.config.BaseURL, http.StatusTemporaryRedirect)
}

// Me は連携済みの従業員情報を返す。
// GET /api/hr/me
func (h *HRHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	employee, err := h.service.Me(r.Context(), userID)
	if err != nil {
		h.writeHRError(w, userID, err)
		return
	}
	writeJSON(w, http.StatusOK, employee)
}

// ListWorkRecords は指定年月の勤怠記録を返す。freeeのサマリは締め月で引くため翌月を指定する。
// GET /api/hr/work-records?yearMonth=YYYY-MM
func (h *HRHandler) ListWorkRecords(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	ym := r.URL.Query().Get("yearMonth")
	t, err := parseYearMonth(ym)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("yearMonth は YYYY-MM 形式で指定してください"))
		return
	}

	employee, err := h.service.Me(r.Context(), userID)
	if err != nil {
		h.writeHRError(w, userID, err)
		return
	}
	year, month := hr.ClosingMonth(t.Year(), t.Month())
	records, err := h.service.WorkRecords(r.Context(), userID, year, month)
	if err != nil {
		h.writeHRError(w, userID, err)
		return
	}
	if records == nil {
		records = []model.WorkRecord{}
	}
	writeJSON(w, http.StatusOK, workRecordsResponse{
		YearMonth:   t.Format(yearMonthLayout),
		Employee:    employee,
		WorkRecords: records,
	})
}

// CreateWorkRecords は期間内の営業日に同じ勤務時間で勤怠を一括登録する。
// POST /api/hr/work-records
func (h *HRHandler) CreateWorkRecords(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	var req createWorkRecordsRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	dr, err := parseDateRange(req.WorkFromDate, req.WorkToDate, h.config.MaxRangeDays)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError(err.Error()))
		return
	}
	hours, err := parseWorkHours(req)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError(err.Error()))
		return
	}

	created, err := h.orchestrator.CreateWorkRecords(r.Context(), userID, dr, hours)
	if err != nil {
		h.writeHRError(w, userID, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"created":   created,
		"yearMonth": yearMonthOf(dr.From),
	})
}

// DeleteWorkRecords は期間内の営業日の勤怠を一括削除する。存在しない日は読み飛ばす。
// DELETE /api/hr/work-records
func (h *HRHandler) DeleteWorkRecords(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	var req deleteWorkRecordsRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	dr, err := parseDateRange(req.WorkFromDate, req.WorkToDate, h.config.MaxRangeDays)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError(err.Error()))
		return
	}

	deleted, err := h.orchestrator.DeleteWorkRecords(r.Context(), userID, dr)
	if err != nil {
		h.writeHRError(w, userID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deleted":   deleted,
		"yearMonth": yearMonthOf(dr.From),
	})
}

func (h *HRHandler) redirectURI() string {
	return strings.TrimSuffix(h.config.BaseURL, "/") + hrCallbackPath
}

// decodeAndValidate はJSONボディを読み込んで検証する。失敗時は400を書き込む。
func (h *HRHandler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(r, dst); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("リクエストボディがJSONではありません"))
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field())
			}
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError(strings.Join(fields, ", ")))
			return false
		}
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError(err.Error()))
		return false
	}
	return true
}

// writeHRError はHR処理のエラーをHTTPステータスに変換して書き込む。
func (h *HRHandler) writeHRError(w http.ResponseWriter, userID string, err error) {
	switch {
	case errors.Is(err, hr.ErrUnknownUser):
		middleware.WriteErrorResponse(w, http.StatusConflict, model.NewHRNotLinkedError())
	case errors.Is(err, hr.ErrEmployeeNotFound):
		middleware.WriteErrorResponse(w, http.StatusConflict, model.NewEmployeeNotFoundError())
	case errors.Is(err, hr.ErrTokenRefreshExhausted):
		w.Header().Set("Retry-After", strconv.Itoa(h.config.RetryAfter))
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewTokenRefreshBusyError())
	default:
		h.logger.Error("freee人事労務APIの呼び出しに失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusBadGateway, model.NewUpstreamError("freee人事労務API"))
	}
}

func parseYearMonth(s string) (time.Time, error) {
	return time.Parse(yearMonthLayout, s)
}

func yearMonthOf(d timeval.DateOnly) string {
	return fmt.Sprintf("%04d-%02d", d.Year(), int(d.Month()))
}

// parseDateRange は開始日と終了日を解析する。
// 開始日が終了日より後の場合と、期間がmaxDays日を超える場合はエラー。
func parseDateRange(from, to string, maxDays int) (hr.DateRange, error) {
	f, err := timeval.ParseDateOnly(from)
	if err != nil {
		return hr.DateRange{}, fmt.Errorf("workFromDate: %w", err)
	}
	t, err := timeval.ParseDateOnly(to)
	if err != nil {
		return hr.DateRange{}, fmt.Errorf("workToDate: %w", err)
	}
	if t.Before(f) {
		return hr.DateRange{}, errors.New("workFromDate は workToDate 以前の日付にしてください")
	}
	if maxDays > 0 && f.AddDays(maxDays-1).Before(t) {
		return hr.DateRange{}, fmt.Errorf("期間は%d日以内にしてください", maxDays)
	}
	return hr.DateRange{From: f, To: t}, nil
}

// parseWorkHours は勤務・休憩時刻を解析し、開始が終了より前であることを確認する。
func parseWorkHours(req createWorkRecordsRequest) (hr.WorkHours, error) {
	var hours hr.WorkHours
	fields := []struct {
		name string
		src  string
		dst  *timeval.TimeOnly
	}{
		{"workStartHours", req.WorkStartHours, &hours.ClockIn},
		{"workEndHours", req.WorkEndHours, &hours.ClockOut},
		{"workBreakStartHours", req.WorkBreakStartHours, &hours.BreakStart},
		{"workBreakEndHours", req.WorkBreakEndHours, &hours.BreakEnd},
	}
	for _, f := range fields {
		t, err := timeval.ParseTimeOnly(f.src)
		if err != nil {
			return hr.WorkHours{}, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = t
	}
	if !hours.ClockIn.Before(hours.ClockOut) {
		return hr.WorkHours{}, errors.New("workStartHours は workEndHours より前にしてください")
	}
	if !hours.BreakStart.Before(hours.BreakEnd) {
		return hr.WorkHours{}, errors.New("workBreakStartHours は workBreakEndHours より前にしてください")
	}
	return hours, nil
}
