// Package calendar は日本の営業日（土日・祝日を除く日）を計算する。
// 祝日は holidays-jp のAPIから取得し、一定時間メモリにキャッシュする。
package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/workday/internal/timeval"
)

const (
	// DefaultHolidaysURL は祝日一覧APIのURL。レスポンスは {"YYYY-MM-DD": "祝日名"} 形式。
	DefaultHolidaysURL = "https://holidays-jp.github.io/api/v1/date.json"
	// DefaultCacheTTL は祝日一覧のキャッシュ有効期間。
	DefaultCacheTTL = 24 * time.Hour
)

// jst は日本標準時。夏時間がないため固定オフセットで扱う。
var jst = time.FixedZone("JST", 9*60*60)

// ToJSTDate は時刻を日本時間の日付に変換する。
func ToJSTDate(t time.Time) timeval.DateOnly {
	return timeval.DateOnlyFromTime(t.In(jst))
}

// Weekdays はfromからtoまで（両端含む）の月〜金の日付を昇順で返す。
// from が to より後の場合は空を返す。
func Weekdays(from, to timeval.DateOnly) []timeval.DateOnly {
	var days []timeval.DateOnly
	for d := from; !to.Before(d); d = d.AddDays(1) {
		switch d.Weekday() {
		case time.Saturday, time.Sunday:
			continue
		}
		days = append(days, d)
	}
	return days
}

// Service は祝日を考慮した営業日一覧を提供する。
type Service struct {
	holidaysURL string
	httpClient  *http.Client
	ttl         time.Duration
	logger      *slog.Logger
	now         func() time.Time

	group     singleflight.Group
	mu        sync.RWMutex
	holidays  map[timeval.DateOnly]string
	fetchedAt time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(holidaysURL string, httpClient *http.Client, ttl time.Duration, logger *slog.Logger) *Service {
	if holidaysURL == "" {
		holidaysURL = DefaultHolidaysURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Service{
		holidaysURL: holidaysURL,
		httpClient:  httpClient,
		ttl:         ttl,
		logger:      logger,
		now:         time.Now,
	}
}

// ListBusinessDays はfromからtoまで（日本時間の日付、両端含む）の営業日を昇順で返す。
// from > to の場合は祝日を取得せずに空を返す。
func (s *Service) ListBusinessDays(ctx context.Context, from, to time.Time) ([]timeval.DateOnly, error) {
	weekdays := Weekdays(ToJSTDate(from), ToJSTDate(to))
	if len(weekdays) == 0 {
		return nil, nil
	}

	holidays, err := s.Holidays(ctx)
	if err != nil {
		return nil, err
	}

	days := make([]timeval.DateOnly, 0, len(weekdays))
	for _, d := range weekdays {
		if _, ok := holidays[d]; ok {
			continue
		}
		days = append(days, d)
	}
	return days, nil
}

// Holidays は祝日一覧を返す。キャッシュが有効期間内ならAPIを呼ばない。
// 再取得に失敗した場合、古いキャッシュがあればそれを返す。
func (s *Service) Holidays(ctx context.Context) (map[timeval.DateOnly]string, error) {
	s.mu.RLock()
	cached, fetchedAt := s.holidays, s.fetchedAt
	s.mu.RUnlock()

	if cached != nil && s.now().Sub(fetchedAt) < s.ttl {
		return cached, nil
	}

	// 取得は相乗りした呼び出し元全員で共有する。呼び出し元のキャンセルでは止めない。
	v, err, _ := s.group.Do("holidays", func() (interface{}, error) {
		holidays, err := s.fetch(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.holidays = holidays
		s.fetchedAt = s.now()
		s.mu.Unlock()
		return holidays, nil
	})
	if err != nil {
		if cached != nil {
			s.logger.Warn("祝日一覧の再取得に失敗したため、キャッシュを使用します",
				slog.String("error", err.Error()),
			)
			return cached, nil
		}
		return nil, err
	}
	return v.(map[timeval.DateOnly]string), nil
}

func (s *Service) fetch(ctx context.Context) (map[timeval.DateOnly]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.holidaysURL, nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("祝日一覧の取得に失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("祝日一覧APIがステータス %d を返しました", resp.StatusCode)
	}

	var raw map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("祝日一覧のパースに失敗しました: %w", err)
	}

	holidays := make(map[timeval.DateOnly]string, len(raw))
	for key, name := range raw {
		d, err := timeval.ParseDateOnly(key)
		if err != nil {
			s.logger.Warn("祝日一覧に不正な日付が含まれています", slog.String("date", key))
			continue
		}
		holidays[d] = name
	}

	s.logger.Info("祝日一覧を取得しました", slog.Int("count", len(holidays)))
	return holidays, nil
}
