package hr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/workday/internal/metrics"
	"github.com/hitoshi/workday/internal/model"
	"github.com/hitoshi/workday/internal/semaphore"
	"github.com/hitoshi/workday/internal/timeval"
)

// BusinessDayLister は期間内の営業日を返す。
type BusinessDayLister interface {
	ListBusinessDays(ctx context.Context, from, to time.Time) ([]timeval.DateOnly, error)
}

// EmployeeResolver はユーザーの勤怠操作対象の従業員を返す。
type EmployeeResolver interface {
	Me(ctx context.Context, userID string) (*model.Employee, error)
}

// WorkRecordWriter は勤怠記録の登録・削除を行うAPIクライアント。
type WorkRecordWriter interface {
	PutWorkRecord(ctx context.Context, employeeID int64, date timeval.DateOnly, accessToken string, payload *WorkRecordPayload) error
	DeleteWorkRecord(ctx context.Context, employeeID int64, date timeval.DateOnly, companyID int64, accessToken string) error
}

// DateRange は両端を含む日付の範囲。
type DateRange struct {
	From timeval.DateOnly
	To   timeval.DateOnly
}

// WorkHours は一括登録で全日に適用する勤務時間と休憩時間。
type WorkHours struct {
	ClockIn    timeval.TimeOnly
	ClockOut   timeval.TimeOnly
	BreakStart timeval.TimeOnly
	BreakEnd   timeval.TimeOnly
}

// CreateFailureHook は一括登録が失敗したときに、それまでに成功した日付とともに呼ばれる。
type CreateFailureHook func(ctx context.Context, userID string, succeeded []timeval.DateOnly, err error)

// OrchestratorConfig は一括処理の並行数と待機時間の設定。
type OrchestratorConfig struct {
	CreateConcurrency int
	CreateDelay       time.Duration
	DeleteConcurrency int
	DeleteDelay       time.Duration
	// DeleteRetryDelays は5xx時の再試行前の待機時間。要素数が再試行回数になる。
	DeleteRetryDelays []time.Duration
}

// DefaultOrchestratorConfig はデフォルトの一括処理設定を返す。
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		CreateConcurrency: 30,
		CreateDelay:       time.Second,
		DeleteConcurrency: 10,
		DeleteDelay:       2 * time.Second,
		DeleteRetryDelays: []time.Duration{100 * time.Millisecond, 200 * time.Millisecond},
	}
}

// Orchestrator は期間内の営業日に対する勤怠記録の登録・削除を並行数を制限して実行する。
// ゲートはインスタンス内の全リクエストで共有される。
type Orchestrator struct {
	calendar    BusinessDayLister
	employees   EmployeeResolver
	api         WorkRecordWriter
	tokens      AccessTokenProvider
	createGate  *semaphore.Gate
	deleteGate  *semaphore.Gate
	retryDelays []time.Duration
	logger      *slog.Logger
	metrics     metrics.MetricsCollector
	newTimer    func() backoff.Timer

	onCreateFailure CreateFailureHook
}

// NewOrchestrator はOrchestratorの新しいインスタンスを生成する。
func NewOrchestrator(
	calendar BusinessDayLister,
	employees EmployeeResolver,
	api WorkRecordWriter,
	tokens AccessTokenProvider,
	config OrchestratorConfig,
	logger *slog.Logger,
	collector metrics.MetricsCollector,
) *Orchestrator {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Orchestrator{
		calendar:    calendar,
		employees:   employees,
		api:         api,
		tokens:      tokens,
		createGate:  semaphore.New(config.CreateConcurrency, config.CreateDelay),
		deleteGate:  semaphore.New(config.DeleteConcurrency, config.DeleteDelay),
		retryDelays: config.DeleteRetryDelays,
		logger:      logger,
		metrics:     collector,
		newTimer:    func() backoff.Timer { return nil },
	}
}

// SetCreateFailureHook は一括登録失敗時のフックを設定する。
func (o *Orchestrator) SetCreateFailureHook(hook CreateFailureHook) {
	o.onCreateFailure = hook
}

// BuildWorkRecords は各日付に同じ出退勤時刻と1件の休憩を持つ勤怠記録を作る。
func BuildWorkRecords(days []timeval.DateOnly, hours WorkHours) []model.WorkRecord {
	records := make([]model.WorkRecord, 0, len(days))
	for _, d := range days {
		records = append(records, model.WorkRecord{
			WorkDay:    d,
			ClockInAt:  hours.ClockIn,
			ClockOutAt: hours.ClockOut,
			BreakRecords: []model.BreakRecord{
				{ClockInAt: hours.BreakStart, ClockOutAt: hours.BreakEnd},
			},
		})
	}
	return records
}

// CreateWorkRecords は期間内の営業日に勤怠記録を登録し、登録できた件数を返す。
// 全件の完了を待ち、失敗があれば最初のエラーを返す。成功した日は取り消さない。
func (o *Orchestrator) CreateWorkRecords(ctx context.Context, userID string, r DateRange, hours WorkHours) (int, error) {
	ctx = context.WithoutCancel(ctx)

	days, err := o.calendar.ListBusinessDays(ctx, r.From.Time(time.UTC), r.To.Time(time.UTC))
	if err != nil {
		return 0, fmt.Errorf("営業日の取得に失敗しました: %w", err)
	}
	if len(days) == 0 {
		return 0, nil
	}
	employee, err := o.employees.Me(ctx, userID)
	if err != nil {
		return 0, err
	}

	var (
		g         errgroup.Group
		mu        sync.Mutex
		succeeded []timeval.DateOnly
	)
	for _, record := range BuildWorkRecords(days, hours) {
		if err := o.createGate.Acquire(ctx); err != nil {
			return len(succeeded), err
		}
		g.Go(func() error {
			defer o.createGate.Release()
			if err := o.createOne(ctx, userID, employee, record); err != nil {
				return err
			}
			mu.Lock()
			succeeded = append(succeeded, record.WorkDay)
			mu.Unlock()
			return nil
		})
	}

	err = g.Wait()
	if err != nil {
		sort.Slice(succeeded, func(i, j int) bool { return succeeded[i].Before(succeeded[j]) })
		o.logger.Error("勤怠記録の一括登録に失敗しました",
			slog.String("user_id", userID),
			slog.Int("requested", len(days)),
			slog.Int("succeeded", len(succeeded)),
			slog.String("error", err.Error()),
		)
		if o.onCreateFailure != nil {
			o.onCreateFailure(ctx, userID, succeeded, err)
		}
		return len(succeeded), err
	}

	o.logger.Info("勤怠記録を一括登録しました",
		slog.String("user_id", userID),
		slog.Int("count", len(succeeded)),
	)
	return len(succeeded), nil
}

func (o *Orchestrator) createOne(ctx context.Context, userID string, employee *model.Employee, record model.WorkRecord) error {
	token, err := o.tokens.AccessToken(ctx, userID)
	if err != nil {
		o.metrics.RecordWorkRecordOp("create", metrics.ResultFailure)
		return err
	}
	payload := NewWorkRecordPayload(employee.CompanyID, record)
	if err := o.api.PutWorkRecord(ctx, employee.EmployeeID, record.WorkDay, token, payload); err != nil {
		o.metrics.RecordWorkRecordOp("create", metrics.ResultFailure)
		return fmt.Errorf("%s の勤怠記録の登録に失敗しました: %w", record.WorkDay, err)
	}
	o.metrics.RecordWorkRecordOp("create", metrics.ResultSuccess)
	return nil
}

// DeleteWorkRecords は期間内の営業日の勤怠記録を削除し、削除できた件数を返す。
// 404と再試行後も続く5xxはログに残してスキップする。それ以外のエラーは最初の1件を返す。
func (o *Orchestrator) DeleteWorkRecords(ctx context.Context, userID string, r DateRange) (int, error) {
	ctx = context.WithoutCancel(ctx)

	days, err := o.calendar.ListBusinessDays(ctx, r.From.Time(time.UTC), r.To.Time(time.UTC))
	if err != nil {
		return 0, fmt.Errorf("営業日の取得に失敗しました: %w", err)
	}
	if len(days) == 0 {
		return 0, nil
	}
	employee, err := o.employees.Me(ctx, userID)
	if err != nil {
		return 0, err
	}

	var (
		g       errgroup.Group
		mu      sync.Mutex
		deleted int
	)
	for _, day := range days {
		if err := o.deleteGate.Acquire(ctx); err != nil {
			return deleted, err
		}
		g.Go(func() error {
			defer o.deleteGate.Release()
			ok, err := o.deleteOne(ctx, userID, employee, day)
			if err != nil {
				return err
			}
			if ok {
				mu.Lock()
				deleted++
				mu.Unlock()
			}
			return nil
		})
	}

	err = g.Wait()
	o.logger.Info("勤怠記録を一括削除しました",
		slog.String("user_id", userID),
		slog.Int("requested", len(days)),
		slog.Int("deleted", deleted),
	)
	return deleted, err
}

// deleteOne は1日分を削除する。5xxの間はretryDelaysに従って再試行する。
// スキップした場合はfalseとnilを返す。
func (o *Orchestrator) deleteOne(ctx context.Context, userID string, employee *model.Employee, day timeval.DateOnly) (bool, error) {
	attempt := 0
	op := func() error {
		err := o.deleteOnce(ctx, userID, employee, day)
		if err != nil && !IsServerError(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(_ error, wait time.Duration) {
		attempt++
		o.logger.Debug("勤怠記録の削除を再試行します",
			slog.String("date", day.String()),
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
		)
	}
	b := backoff.WithContext(&delayList{delays: o.retryDelays}, ctx)
	err := backoff.RetryNotifyWithTimer(op, b, notify, o.newTimer())
	if cerr := ctx.Err(); cerr != nil && errors.Is(err, cerr) {
		return false, err
	}

	switch {
	case err == nil:
		o.metrics.RecordWorkRecordOp("delete", metrics.ResultSuccess)
		return true, nil
	case errors.Is(err, ErrNotFound):
		o.metrics.RecordWorkRecordOp("delete", metrics.ResultSkipped)
		o.logger.Info("勤怠記録が存在しないためスキップします", slog.String("date", day.String()))
		return false, nil
	case IsServerError(err):
		o.metrics.RecordWorkRecordOp("delete", metrics.ResultSkipped)
		o.logger.Warn("勤怠記録の削除でサーバーエラーが続いたためスキップします",
			slog.String("date", day.String()),
			slog.String("error", err.Error()),
		)
		return false, nil
	default:
		o.metrics.RecordWorkRecordOp("delete", metrics.ResultFailure)
		return false, fmt.Errorf("%s の勤怠記録の削除に失敗しました: %w", day, err)
	}
}

// delayList は決められた待機時間を順に返し、尽きたら再試行をやめるbackoff.BackOff。
type delayList struct {
	delays []time.Duration
	next   int
}

// NextBackOff は次の待機時間を返す。
func (d *delayList) NextBackOff() time.Duration {
	if d.next >= len(d.delays) {
		return backoff.Stop
	}
	wait := d.delays[d.next]
	d.next++
	return wait
}

// Reset は最初の待機時間に戻す。
func (d *delayList) Reset() { d.next = 0 }

func (o *Orchestrator) deleteOnce(ctx context.Context, userID string, employee *model.Employee, day timeval.DateOnly) error {
	token, err := o.tokens.AccessToken(ctx, userID)
	if err != nil {
		return err
	}
	return o.api.DeleteWorkRecord(ctx, employee.EmployeeID, day, employee.CompanyID, token)
}
