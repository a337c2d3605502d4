package events

import "time"

const (
	// defaultInitialBackoff は再接続の初回待ち時間。
	defaultInitialBackoff = time.Second
	// defaultMaxBackoff は再接続の最大待ち時間。
	defaultMaxBackoff = 30 * time.Second
)

// CalculateBackoff は連続失敗回数に基づいて再接続までの待ち時間を計算する。
// initialから2倍ずつ増加し、maxを超えない。
func CalculateBackoff(consecutiveFailures int, initial, max time.Duration) time.Duration {
	delay := initial
	for i := 0; i < consecutiveFailures; i++ {
		delay *= 2
		if delay > max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
