// Package timeval は日付のみ・時刻のみを表す値オブジェクトを提供する。
package timeval

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidDate は実在しない日付、または解析できない日付文字列を表す。
var ErrInvalidDate = errors.New("invalid date")

// DateOnly はタイムゾーンを持たない暦日を表す。
// ゼロ値は無効な日付として扱う。生成はNewDateOnly / ParseDateOnly / DateOnlyFromTimeを使うこと。
type DateOnly struct {
	year  int
	month time.Month
	day   int
}

// NewDateOnly は年月日からDateOnlyを生成する。
// time.Dateで正規化した結果が入力と一致しない場合（2月30日など）はエラーを返す。
func NewDateOnly(year int, month time.Month, day int) (DateOnly, error) {
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if t.Year() != year || t.Month() != month || t.Day() != day || year < 1 || year > 9999 {
		return DateOnly{}, fmt.Errorf("%w: %04d-%02d-%02d", ErrInvalidDate, year, int(month), day)
	}
	return DateOnly{year: year, month: month, day: day}, nil
}

// MustDateOnly はNewDateOnlyのpanic版。テストと定数定義向け。
func MustDateOnly(year int, month time.Month, day int) DateOnly {
	d, err := NewDateOnly(year, month, day)
	if err != nil {
		panic(err)
	}
	return d
}

// DateOnlyFromTime はtime.Timeのロケーションにおける暦日を取り出す。
func DateOnlyFromTime(t time.Time) DateOnly {
	return DateOnly{year: t.Year(), month: t.Month(), day: t.Day()}
}

// ParseDateOnly は "YYYY-MM-DD" で始まる文字列を解析する。
// "2024-04-01T09:00:00+09:00" のように後ろに時刻が続いていてもよい。
func ParseDateOnly(s string) (DateOnly, error) {
	s = strings.TrimSpace(s)
	if len(s) < 10 || s[4] != '-' || s[7] != '-' {
		return DateOnly{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	year, errY := strconv.Atoi(s[0:4])
	month, errM := strconv.Atoi(s[5:7])
	day, errD := strconv.Atoi(s[8:10])
	if errY != nil || errM != nil || errD != nil {
		return DateOnly{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return NewDateOnly(year, time.Month(month), day)
}

// Year は年を返す。
func (d DateOnly) Year() int { return d.year }

// Month は月を返す。
func (d DateOnly) Month() time.Month { return d.month }

// Day は日を返す。
func (d DateOnly) Day() int { return d.day }

// IsZero はゼロ値かどうかを返す。
func (d DateOnly) IsZero() bool { return d.year == 0 }

// String は "YYYY-MM-DD" 形式の文字列を返す。
func (d DateOnly) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.year, int(d.month), d.day)
}

// Time は指定ロケーションにおける当日0時を返す。
func (d DateOnly) Time(loc *time.Location) time.Time {
	return time.Date(d.year, d.month, d.day, 0, 0, 0, 0, loc)
}

// Weekday は曜日を返す。
func (d DateOnly) Weekday() time.Weekday {
	return d.Time(time.UTC).Weekday()
}

// AddDays はn日後（負数なら前）の日付を返す。
func (d DateOnly) AddDays(n int) DateOnly {
	return DateOnlyFromTime(d.Time(time.UTC).AddDate(0, 0, n))
}

// Before はdがotherより前の日付かどうかを返す。
func (d DateOnly) Before(other DateOnly) bool {
	return d.Time(time.UTC).Before(other.Time(time.UTC))
}

// MarshalJSON は "YYYY-MM-DD" 文字列としてエンコードする。
func (d DateOnly) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON は "YYYY-MM-DD" 文字列からデコードする。
func (d *DateOnly) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDateOnly(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
