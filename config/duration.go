package config

import (
	"bytes"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

// Duration 配置文件中的时长
//
// JSON 中可写为时长字符串（"300ms"、"10s"）或纳秒整数。
// rpc.timeout 等允许不限时的字段可写 "none"，等价于 0。
// null 保留字段原值，负值被拒绝。
type Duration time.Duration

// unbounded 表示不限时的字符串写法
const unbounded = "none"

// UnmarshalJSON 解析字符串或整数形式的时长
func (d *Duration) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}

	var v time.Duration
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		switch s {
		case unbounded:
			v = 0
		default:
			if v, err = time.ParseDuration(s); err != nil {
				return fmt.Errorf("%w: duration %q: %v", ErrInvalidValue, s, err)
			}
		}
	} else {
		var n int64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("%w: duration must be a string like \"10s\" or integer nanoseconds, got %s", ErrInvalidValue, data)
		}
		v = time.Duration(n)
	}

	if v < 0 {
		return fmt.Errorf("%w: negative duration %s", ErrInvalidValue, v)
	}
	*d = Duration(v)
	return nil
}

// MarshalJSON 0 输出为 "none"，其余输出为时长字符串
func (d Duration) MarshalJSON() ([]byte, error) {
	if d == 0 {
		return json.Marshal(unbounded)
	}
	return json.Marshal(time.Duration(d).String())
}

// Duration 返回 time.Duration 值
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	if d == 0 {
		return unbounded
	}
	return time.Duration(d).String()
}
