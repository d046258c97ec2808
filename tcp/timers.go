package tcp

import (
	"time"

	"github.com/ucip/netstack/timer"
)

// jiffyMillis fixes the wheel's tick rate at one Jiffy per millisecond.
// spec.md §4.2 only requires a monotonic wrap-safe tick; every duration
// this package schedules is converted through this single constant so the
// rate only needs to be picked once.
const jiffyMillis = 1 * time.Millisecond

func jiffiesOf(d time.Duration) timer.Jiffy {
	if d < 0 {
		d = 0
	}
	return timer.Jiffy(d / jiffyMillis)
}

// rearm reschedules a permanent timer for delay from now.
func (m *Manager) rearm(t *timer.Timer, delay time.Duration, handler func()) {
	m.wheel.Schedule(t, m.wheel.Now()+jiffiesOf(delay), handler)
}

func (m *Manager) disarm(t *timer.Timer) {
	m.wheel.Cancel(t)
}

// backoff implements spec.md §4.7.5: 1<<n for n<=4, else n*n — the
// sequence 1,2,4,8,16,25,36,49,64,81,100...
func backoff(n int) int {
	if n <= 4 {
		return 1 << uint(n)
	}
	return n * n
}

// rto computes the next resend deadline from the current backoff count and
// RTT estimate (spec.md §4.7.4 step "(Re)arm the resend timer").
func (c *Conn) rto() time.Duration {
	granularity := 10 * time.Millisecond
	base := 2*c.mdev + c.srtt + granularity
	return time.Duration(backoff(c.backoff)) * base
}
