package ui

import (
	"fmt"
	"strings"

	"github.com/go-telegram/bot/models"
	"github.com/smith3v/tg-med-reminder/pkg/db"
)

// TimezonePresets are offered as one-tap buttons on the settings screen.
var TimezonePresets = []string{
	"UTC",
	"Europe/London",
	"Europe/Amsterdam",
	"Europe/Moscow",
	"America/New_York",
	"America/Los_Angeles",
	"Asia/Tokyo",
}

var weekdayNames = []string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

// RenderReminder builds the message for a fired alarm.
func RenderReminder(alarm db.PendingAlarm) (string, *models.InlineKeyboardMarkup, error) {
	takenData, err := BuildTakenCallback(alarm.MedicationID, alarm.ScheduleIndex, alarm.SlotTime)
	if err != nil {
		return "", nil, err
	}

	amount := strings.TrimSpace(strings.TrimSpace(alarm.Dosage) + " " + strings.TrimSpace(alarm.DosageUnit))
	text := fmt.Sprintf("⏰ Time to take %s", alarm.MedicationName)
	if amount != "" {
		text += ": " + amount
	}

	keyboard := &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "✅ Taken", CallbackData: takenData},
			},
		},
	}
	return text, keyboard, nil
}

func RenderPermissionPrompt() (string, *models.InlineKeyboardMarkup, error) {
	grantData, err := BuildGrantCallback()
	if err != nil {
		return "", nil, err
	}
	text := "To ring at the exact minute of each dose I need your permission to send exact reminders.\n" +
		"Your medications are saved; reminders start as soon as you allow them."
	keyboard := &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "Allow exact reminders", CallbackData: grantData},
			},
		},
	}
	return text, keyboard, nil
}

func RenderSettings(settings db.UserSettings) (string, *models.InlineKeyboardMarkup, error) {
	exact := "not allowed"
	if settings.ExactAlarmsAllowed {
		exact = "allowed"
	}
	text := fmt.Sprintf("Settings\n- Timezone: %s\n- Exact reminders: %s", settings.Timezone, exact)

	var rows [][]models.InlineKeyboardButton
	var row []models.InlineKeyboardButton
	for _, zone := range TimezonePresets {
		data, err := BuildTimezoneCallback(zone)
		if err != nil {
			return "", nil, err
		}
		row = append(row, models.InlineKeyboardButton{Text: zoneLabel(zone, settings.Timezone), CallbackData: data})
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	if !settings.ExactAlarmsAllowed {
		grantData, err := BuildGrantCallback()
		if err != nil {
			return "", nil, err
		}
		rows = append(rows, []models.InlineKeyboardButton{{Text: "Allow exact reminders", CallbackData: grantData}})
	}

	return text, &models.InlineKeyboardMarkup{InlineKeyboard: rows}, nil
}

// RenderMedicationList numbers medications from 1 in the given order; the
// commands acting on one medication take the same numbers.
func RenderMedicationList(meds []db.Medication) string {
	if len(meds) == 0 {
		return "No medications yet. Add one with /add."
	}
	var sb strings.Builder
	sb.WriteString("Your medications:\n")
	for i, med := range meds {
		fmt.Fprintf(&sb, "%d. %s", i+1, med.Name)
		var details []string
		if dose := strings.TrimSpace(med.Dosage + " " + med.DosageUnit); dose != "" {
			details = append(details, dose)
		}
		if med.Type != "" {
			details = append(details, med.Type)
		}
		if med.Color != nil && *med.Color != "" {
			details = append(details, *med.Color)
		}
		if len(details) > 0 {
			fmt.Fprintf(&sb, " (%s)", strings.Join(details, ", "))
		}
		if med.Stock != nil {
			fmt.Fprintf(&sb, ", %d left", *med.Stock)
		}
		sb.WriteString("\n")
		if med.Instructions != nil && *med.Instructions != "" {
			sb.WriteString("   " + *med.Instructions + "\n")
		}
		for _, sched := range med.Schedules {
			sb.WriteString("   " + FormatSchedule(sched) + "\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func FormatSchedule(sched db.Schedule) string {
	if sched.AsNeeded {
		return "as needed"
	}
	if len(sched.Times) == 0 {
		return "no times"
	}
	times := make([]string, len(sched.Times))
	for j, t := range sched.Times {
		times[j] = t
		if j < len(sched.Amounts) && strings.TrimSpace(sched.Amounts[j]) != "" {
			times[j] += " ×" + strings.TrimSpace(sched.Amounts[j])
		}
	}
	return strings.Join(times, ", ") + " " + formatWeekdays(sched.WeekDays)
}

func formatWeekdays(days []int) string {
	var names []string
	for _, d := range days {
		if d >= 0 && d < len(weekdayNames) {
			names = append(names, weekdayNames[d])
		}
	}
	if len(names) == 0 || len(names) == len(weekdayNames) {
		return "every day"
	}
	return "on " + strings.Join(names, " ")
}

func zoneLabel(zone, current string) string {
	if zone == current {
		return zone + " ✅"
	}
	return zone
}
