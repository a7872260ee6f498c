package alarm

import (
	"strconv"
	"strings"
	"time"
)

type SlotTime struct {
	Hour   int
	Minute int
}

func (s SlotTime) String() string {
	return pad2(s.Hour) + ":" + pad2(s.Minute)
}

func pad2(v int) string {
	if v < 10 {
		return "0" + strconv.Itoa(v)
	}
	return strconv.Itoa(v)
}

// ParseSlotTime reads a 24-hour "HH:MM" string. It never fails: a missing
// minute means :00, unreadable parts read as zero and out-of-range values are
// clamped, so one bad entry cannot sink a whole scheduling pass.
func ParseSlotTime(value string) SlotTime {
	hourPart, minutePart, _ := strings.Cut(strings.TrimSpace(value), ":")
	return SlotTime{
		Hour:   clamp(atoiOrZero(hourPart), 0, 23),
		Minute: clamp(atoiOrZero(minutePart), 0, 59),
	}
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// NextFireTime returns the first instant strictly after now at which the slot
// should ring in loc. Today's occurrence is used when it is still ahead,
// otherwise the slot rolls forward one calendar day at a time until it lands
// on one of weekdays (0 = Sunday). An empty or all-invalid weekdays list
// means every day.
func NextFireTime(now time.Time, loc *time.Location, slot SlotTime, weekdays []int) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	year, month, day := local.Date()
	candidate := time.Date(year, month, day, slot.Hour, slot.Minute, 0, 0, loc)
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 1)
	}

	allowed := weekdaySet(weekdays)
	if len(allowed) == 0 {
		return candidate
	}
	for i := 0; i < 7 && !allowed[candidate.Weekday()]; i++ {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

func weekdaySet(days []int) map[time.Weekday]bool {
	set := make(map[time.Weekday]bool, len(days))
	for _, d := range days {
		if d < 0 || d > 6 {
			continue
		}
		set[time.Weekday(d)] = true
	}
	return set
}
