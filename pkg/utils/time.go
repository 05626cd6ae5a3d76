package utils

import "time"

// DayStartUTC возвращает 00:00:00 UTC дня, в который попадает t
func DayStartUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
