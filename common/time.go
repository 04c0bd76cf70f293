package common

import (
	"time"
)

// UnixMills 取得毫秒
func UnixMills(t time.Time) int64 {
	return t.UnixNano() / int64(time.Millisecond)
}

// UnixMillsTime 将毫秒转为time.Time
func UnixMillsTime(tmillis int64) time.Time {
	return time.Unix(tmillis/1000, (tmillis%1000)*int64(time.Millisecond))
}
