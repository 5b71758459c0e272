package hr

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/workday/internal/model"
	"github.com/hitoshi/workday/internal/oauth"
	"github.com/hitoshi/workday/internal/timeval"
)

// APIClient はfreee人事労務APIの呼び出しインターフェース。
type APIClient interface {
	GetMe(ctx context.Context, accessToken string) (*MeResponse, error)
	GetWorkRecordSummary(ctx context.Context, employeeID int64, year, month int, companyID int64, accessToken string) (*WorkRecordSummary, error)
	PutWorkRecord(ctx context.Context, employeeID int64, date timeval.DateOnly, accessToken string, payload *WorkRecordPayload) error
	DeleteWorkRecord(ctx context.Context, employeeID int64, date timeval.DateOnly, companyID int64, accessToken string) error
}

// AuthClient はfreeeのOAuth認可フローのインターフェース。
type AuthClient interface {
	AuthorizationURL(redirectURI, state string) string
	ExchangeCode(ctx context.Context, code, redirectURI string) (*oauth.Token, error)
}

// AccessTokenProvider はユーザーの有効なアクセストークンを返す。
type AccessTokenProvider interface {
	AccessToken(ctx context.Context, userID string) (string, error)
}

// Service はfreee連携と勤怠参照のビジネスロジックを提供する。
type Service struct {
	api         APIClient
	auth        AuthClient
	store       TokenStore
	tokens      AccessTokenProvider
	companyName string
	logger      *slog.Logger
	now         func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// companyNameが空でない場合、その名前の事業所を優先して従業員情報を選ぶ。
func NewService(api APIClient, auth AuthClient, store TokenStore, tokens AccessTokenProvider, companyName string, logger *slog.Logger) *Service {
	return &Service{
		api:         api,
		auth:        auth,
		store:       store,
		tokens:      tokens,
		companyName: companyName,
		logger:      logger,
		now:         time.Now,
	}
}

// AuthorizationURL はfreeeの認可画面のURLを返す。
func (s *Service) AuthorizationURL(redirectURI, state string) string {
	return s.auth.AuthorizationURL(redirectURI, state)
}

// CompleteAuthorization は認可コードをトークンに交換し、ユーザー情報と合わせて保存する。
// 既存の連携情報は全体が上書きされる。
func (s *Service) CompleteAuthorization(ctx context.Context, userID, code, redirectURI string) (*model.Employee, error) {
	token, err := s.auth.ExchangeCode(ctx, code, redirectURI)
	if err != nil {
		return nil, fmt.Errorf("freeeの認可コード交換に失敗しました: %w", err)
	}

	me, err := s.api.GetMe(ctx, token.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("freeeユーザー情報の取得に失敗しました: %w", err)
	}

	user := &model.HRUser{
		ID:        me.ID,
		Companies: me.Companies,
		OAuth:     *token,
		UpdatedAt: s.now().UnixMilli(),
	}
	if err := s.store.Save(ctx, userID, user); err != nil {
		return nil, fmt.Errorf("freee連携情報の保存に失敗しました: %w", err)
	}

	s.logger.Info("freee連携を完了しました",
		slog.String("user_id", userID),
		slog.Int64("freee_user_id", me.ID),
		slog.Int("companies", len(me.Companies)),
	)
	return SelectEmployee(user, s.companyName)
}

// Me は連携済みユーザーの従業員情報を返す。
func (s *Service) Me(ctx context.Context, userID string) (*model.Employee, error) {
	user, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, userID)
	}
	return SelectEmployee(user, s.companyName)
}

// WorkRecords は締め月year/monthの勤怠記録を返す。出勤・退勤のどちらかがない日は含まない。
func (s *Service) WorkRecords(ctx context.Context, userID string, year int, month time.Month) ([]model.WorkRecord, error) {
	employee, err := s.Me(ctx, userID)
	if err != nil {
		return nil, err
	}
	token, err := s.tokens.AccessToken(ctx, userID)
	if err != nil {
		return nil, err
	}

	summary, err := s.api.GetWorkRecordSummary(ctx, employee.EmployeeID, year, int(month), employee.CompanyID, token)
	if err != nil {
		return nil, err
	}

	records := make([]model.WorkRecord, 0, len(summary.WorkRecords))
	for _, r := range summary.WorkRecords {
		if r.ClockInAt == nil || r.ClockOutAt == nil {
			continue
		}
		record, err := toWorkRecord(r)
		if err != nil {
			s.logger.Warn("勤怠記録の変換に失敗したためスキップします",
				slog.String("date", r.Date),
				slog.String("error", err.Error()),
			)
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

func toWorkRecord(r SummaryWorkRecord) (model.WorkRecord, error) {
	day, err := timeval.ParseDateOnly(r.Date)
	if err != nil {
		return model.WorkRecord{}, err
	}
	clockIn, err := timeval.ParseTimeOnly(*r.ClockInAt)
	if err != nil {
		return model.WorkRecord{}, err
	}
	clockOut, err := timeval.ParseTimeOnly(*r.ClockOutAt)
	if err != nil {
		return model.WorkRecord{}, err
	}

	breaks := make([]model.BreakRecord, 0, len(r.BreakRecords))
	for _, b := range r.BreakRecords {
		in, err := timeval.ParseTimeOnly(b.ClockInAt)
		if err != nil {
			return model.WorkRecord{}, err
		}
		out, err := timeval.ParseTimeOnly(b.ClockOutAt)
		if err != nil {
			return model.WorkRecord{}, err
		}
		breaks = append(breaks, model.BreakRecord{ClockInAt: in, ClockOutAt: out})
	}

	return model.WorkRecord{
		WorkDay:      day,
		ClockInAt:    clockIn,
		ClockOutAt:   clockOut,
		BreakRecords: breaks,
	}, nil
}

// ClosingMonth は表示対象の年月に対応する勤怠サマリの締め月（翌月）を返す。
func ClosingMonth(year int, month time.Month) (int, time.Month) {
	t := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC)
	return t.Year(), t.Month()
}

// SelectEmployee は連携情報から勤怠操作の対象となる事業所と従業員を選ぶ。
// 優先順位は companyName に一致する事業所、トークンの company_id の事業所、従業員IDを持つ最初の事業所。
func SelectEmployee(user *model.HRUser, companyName string) (*model.Employee, error) {
	pick := func(match func(c model.Company) bool) *model.Company {
		for i := range user.Companies {
			c := &user.Companies[i]
			if c.EmployeeID != nil && match(*c) {
				return c
			}
		}
		return nil
	}

	var company *model.Company
	if companyName != "" {
		company = pick(func(c model.Company) bool { return c.Name == companyName })
	}
	if company == nil && user.OAuth.CompanyID != 0 {
		company = pick(func(c model.Company) bool { return c.ID == user.OAuth.CompanyID })
	}
	if company == nil {
		company = pick(func(model.Company) bool { return true })
	}
	if company == nil {
		return nil, ErrEmployeeNotFound
	}

	employee := &model.Employee{
		EmployeeID:  *company.EmployeeID,
		CompanyID:   company.ID,
		CompanyName: company.Name,
		ExternalCID: company.ExternalCID,
		Role:        company.Role,
	}
	if company.DisplayName != nil {
		employee.EmployeeName = *company.DisplayName
	}
	if user.UpdatedAt > 0 {
		updatedAt := time.UnixMilli(user.UpdatedAt)
		employee.UpdatedAt = &updatedAt
	}
	return employee, nil
}
