package approval

import "time"

// Clock — источник времени трекера. Подменяется в тестах, чтобы
// проверять сроки и эскалацию без реального ожидания.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// systemClock — часы на time.Now/time.After.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
