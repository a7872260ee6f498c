package handlers

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/smith3v/tg-med-reminder/pkg/alarm"
	"github.com/smith3v/tg-med-reminder/pkg/db"
	"gorm.io/datatypes"
)

const addUsage = "Usage: /add <name>; <dosage> <unit>; <HH:MM[=amount]>,...[; <days>][; key=value...]\n" +
	"Example: /add Metformin; 500 mg; 08:00,20:00=2; mon,wed,fri; stock=60; note=with food\n" +
	"Use \"as needed\" instead of times for a medication without reminders.\n" +
	"Optional fields: stock, type, color, note."

const editUsage = "Usage: /edit <number from /meds>; <HH:MM[=amount]>,...[; <days>]\n" +
	"Example: /edit 1; 09:00,21:00; daily"

const stockUsage = "Usage: /stock <number from /meds> <count|off>"

var (
	errMissingName = errors.New("medication name is missing")
	errMissingTime = errors.New("at least one time is required")
	errMedNumber   = errors.New("medication number is missing")

	slotTimePattern = regexp.MustCompile(`^(\d{1,2})(?::(\d{2}))?$`)

	dayIndexes = map[string]int{
		"sun": 0, "sunday": 0,
		"mon": 1, "monday": 1,
		"tue": 2, "tuesday": 2,
		"wed": 3, "wednesday": 3,
		"thu": 4, "thursday": 4,
		"fri": 5, "friday": 5,
		"sat": 6, "saturday": 6,
	}
)

// parseAddCommand turns "/add name; dosage unit; times[; days][; key=value...]"
// into an unsaved medication with a single schedule.
func parseAddCommand(text string) (*db.Medication, error) {
	parts := splitArgs(commandArgument(text, "/add"))

	med := &db.Medication{Name: parts[0]}
	if med.Name == "" {
		return nil, errMissingName
	}
	if len(parts) > 1 {
		fields := strings.Fields(parts[1])
		if len(fields) > 0 {
			med.Dosage = fields[0]
			med.DosageUnit = strings.Join(fields[1:], " ")
		}
	}
	if len(parts) < 3 {
		return nil, errMissingTime
	}

	days := ""
	for _, part := range parts[3:] {
		key, value, ok := optionField(part)
		if !ok {
			if days != "" {
				return nil, fmt.Errorf("unexpected field %q", part)
			}
			days = part
			continue
		}
		if err := applyOption(med, key, value); err != nil {
			return nil, err
		}
	}

	sched, err := parseSchedule(parts[2], days)
	if err != nil {
		return nil, err
	}
	med.Schedules = []db.Schedule{sched}
	return med, nil
}

// parseEditCommand reads "/edit n; times[; days]" into the 1-based list
// number and the replacement schedule.
func parseEditCommand(text string) (int, db.Schedule, error) {
	parts := splitArgs(commandArgument(text, "/edit"))
	n, err := strconv.Atoi(parts[0])
	if err != nil || n < 1 {
		return 0, db.Schedule{}, errMedNumber
	}
	if len(parts) < 2 {
		return 0, db.Schedule{}, errMissingTime
	}
	if len(parts) > 3 {
		return 0, db.Schedule{}, fmt.Errorf("unexpected field %q", parts[3])
	}
	days := ""
	if len(parts) == 3 {
		days = parts[2]
	}
	sched, err := parseSchedule(parts[1], days)
	if err != nil {
		return 0, db.Schedule{}, err
	}
	return n, sched, nil
}

// parseStockCommand reads "/stock n count"; "off" stops tracking.
func parseStockCommand(text string) (int, *int, error) {
	fields := strings.Fields(commandArgument(text, "/stock"))
	if len(fields) != 2 {
		return 0, nil, errors.New("expected a medication number and a count")
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n < 1 {
		return 0, nil, errMedNumber
	}
	if strings.EqualFold(fields[1], "off") {
		return n, nil, nil
	}
	count, err := strconv.Atoi(fields[1])
	if err != nil || count < 0 {
		return 0, nil, fmt.Errorf("invalid count %q", fields[1])
	}
	return n, &count, nil
}

func parseSchedule(timesPart, daysPart string) (db.Schedule, error) {
	var sched db.Schedule
	if strings.TrimSpace(timesPart) == "" {
		return sched, errMissingTime
	}
	if isAsNeeded(timesPart) {
		sched.AsNeeded = true
	} else {
		times, amounts, err := parseTimes(timesPart)
		if err != nil {
			return sched, err
		}
		sched.Times = datatypes.JSONSlice[string](times)
		sched.Amounts = datatypes.JSONSlice[string](amounts)
	}
	days, err := parseDays(daysPart)
	if err != nil {
		return sched, err
	}
	sched.WeekDays = datatypes.JSONSlice[int](days)
	return sched, nil
}

func splitArgs(body string) []string {
	parts := strings.Split(body, ";")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

var optionKeys = map[string]string{
	"stock":        "stock",
	"type":         "type",
	"color":        "color",
	"colour":       "color",
	"note":         "note",
	"instructions": "note",
}

func optionField(part string) (string, string, bool) {
	key, value, ok := strings.Cut(part, "=")
	if !ok {
		return "", "", false
	}
	canonical, known := optionKeys[strings.ToLower(strings.TrimSpace(key))]
	if !known {
		return "", "", false
	}
	return canonical, strings.TrimSpace(value), true
}

func applyOption(med *db.Medication, key, value string) error {
	if value == "" {
		return fmt.Errorf("%s needs a value", key)
	}
	switch key {
	case "stock":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid stock %q", value)
		}
		med.Stock = &n
	case "type":
		med.Type = value
	case "color":
		med.Color = &value
	case "note":
		med.Instructions = &value
	}
	return nil
}

func isAsNeeded(value string) bool {
	switch strings.ToLower(strings.Join(strings.Fields(value), "")) {
	case "asneeded", "prn":
		return true
	}
	return false
}

// parseTimes reads "08:00,20:00=2" into canonical times and a parallel
// amount list; an amount left out stays empty and falls back to the dosage.
func parseTimes(value string) ([]string, []string, error) {
	var times, amounts []string
	hasAmount := false
	for _, entry := range strings.Split(value, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		timePart, amount, _ := strings.Cut(entry, "=")
		canonical, err := canonicalTime(strings.TrimSpace(timePart))
		if err != nil {
			return nil, nil, err
		}
		amount = strings.TrimSpace(amount)
		if amount != "" {
			hasAmount = true
		}
		times = append(times, canonical)
		amounts = append(amounts, amount)
	}
	if len(times) == 0 {
		return nil, nil, errMissingTime
	}
	if !hasAmount {
		amounts = nil
	}
	return times, amounts, nil
}

func canonicalTime(value string) (string, error) {
	m := slotTimePattern.FindStringSubmatch(value)
	if m == nil {
		return "", fmt.Errorf("invalid time %q, use HH:MM", value)
	}
	hour, _ := strconv.Atoi(m[1])
	minute := 0
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	if hour > 23 || minute > 59 {
		return "", fmt.Errorf("invalid time %q, use HH:MM", value)
	}
	return alarm.SlotTime{Hour: hour, Minute: minute}.String(), nil
}

// parseDays accepts day names or 0-6 (Sunday is 0). "daily" means no filter.
func parseDays(value string) ([]int, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" || value == "daily" || value == "every day" {
		return nil, nil
	}
	seen := make(map[int]bool)
	var days []int
	for _, token := range strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == ' ' }) {
		day, ok := dayIndexes[token]
		if !ok {
			n, err := strconv.Atoi(token)
			if err != nil || n < 0 || n > 6 {
				return nil, fmt.Errorf("unknown day %q", token)
			}
			day = n
		}
		if !seen[day] {
			seen[day] = true
			days = append(days, day)
		}
	}
	return days, nil
}

func commandArgument(text, command string) string {
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), command))
}
