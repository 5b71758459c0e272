package timeval

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidTime は範囲外、または解析できない時刻文字列を表す。
var ErrInvalidTime = errors.New("invalid time")

// TimeOnly は日付を持たない時刻を表す。文字列表現は "HH:MM"。
type TimeOnly struct {
	hour   int
	minute int
	second int
}

// NewTimeOnly は時・分・秒からTimeOnlyを生成する。
func NewTimeOnly(hour, minute, second int) (TimeOnly, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 || second < 0 || second > 59 {
		return TimeOnly{}, fmt.Errorf("%w: %d:%d:%d", ErrInvalidTime, hour, minute, second)
	}
	return TimeOnly{hour: hour, minute: minute, second: second}, nil
}

// MustTimeOnly はNewTimeOnlyのpanic版。
func MustTimeOnly(hour, minute int) TimeOnly {
	t, err := NewTimeOnly(hour, minute, 0)
	if err != nil {
		panic(err)
	}
	return t
}

// ParseTimeOnly は "HH:MM"、"HH:MM:SS"、または "YYYY-MM-DDTHH:MM:SS+09:00" 形式の文字列を解析する。
// 日時文字列の場合は "T" 以降の時刻部分のみを使う。秒は常に0に切り捨てる。
func ParseTimeOnly(s string) (TimeOnly, error) {
	s = strings.TrimSpace(s)
	if _, after, ok := strings.Cut(s, "T"); ok {
		s = after
	} else if _, after, ok := strings.Cut(s, " "); ok {
		s = after
	}
	// タイムゾーン指定子を除去
	if i := strings.IndexAny(s, "Z+-"); i >= 0 {
		s = s[:i]
	}

	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return TimeOnly{}, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return TimeOnly{}, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || len(parts[1]) != 2 {
		return TimeOnly{}, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	if len(parts) == 3 {
		// 秒は検証のみ行い、値は保持しない
		sec, err := strconv.Atoi(strings.SplitN(parts[2], ".", 2)[0])
		if err != nil || sec < 0 || sec > 59 {
			return TimeOnly{}, fmt.Errorf("%w: %q", ErrInvalidTime, s)
		}
	}
	return NewTimeOnly(hour, minute, 0)
}

// Hour は時を返す。
func (t TimeOnly) Hour() int { return t.hour }

// Minute は分を返す。
func (t TimeOnly) Minute() int { return t.minute }

// Second は秒を返す。
func (t TimeOnly) Second() int { return t.second }

// String は "HH:MM" 形式の文字列を返す。
func (t TimeOnly) String() string {
	return fmt.Sprintf("%02d:%02d", t.hour, t.minute)
}

// Before はtがotherより前の時刻かどうかを返す。
func (t TimeOnly) Before(other TimeOnly) bool {
	if t.hour != other.hour {
		return t.hour < other.hour
	}
	if t.minute != other.minute {
		return t.minute < other.minute
	}
	return t.second < other.second
}

// MarshalJSON は "HH:MM" 文字列としてエンコードする。
func (t TimeOnly) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON は時刻文字列からデコードする。
func (t *TimeOnly) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseTimeOnly(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
