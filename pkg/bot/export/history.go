package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/smith3v/tg-med-reminder/pkg/db"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

const removedMedication = "(removed)"

var historyHeader = []string{"taken_at", "medication", "slot", "dosage"}

// BuildHistoryCSV renders intake logs as a spreadsheet-friendly CSV with
// timestamps in loc. Logs of medications missing from names are kept and
// labelled as removed.
func BuildHistoryCSV(logs []db.IntakeLog, names map[uuid.UUID]string, loc *time.Location) ([]byte, error) {
	if loc == nil {
		loc = time.UTC
	}
	var buf bytes.Buffer
	if _, err := buf.Write(utf8BOM); err != nil {
		return nil, err
	}

	writer := csv.NewWriter(&buf)
	writer.UseCRLF = true

	if err := writer.Write(historyHeader); err != nil {
		return nil, err
	}
	for _, entry := range logs {
		name, ok := names[entry.MedicationID]
		if !ok {
			name = removedMedication
		}
		record := []string{
			entry.TakenAt.In(loc).Format("2006-01-02 15:04"),
			name,
			entry.SlotTime,
			entry.Dosage,
		}
		if err := writer.Write(record); err != nil {
			return nil, err
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MedicationNames indexes display names by medication id.
func MedicationNames(meds []db.Medication) map[uuid.UUID]string {
	names := make(map[uuid.UUID]string, len(meds))
	for _, m := range meds {
		names[m.ID] = m.Name
	}
	return names
}

func HistoryFilename(now time.Time) string {
	return fmt.Sprintf("intake-history-%s.csv", now.Format("20060102"))
}

func SortLogsForExport(logs []db.IntakeLog) {
	sort.Slice(logs, func(i, j int) bool {
		if logs[i].TakenAt.Equal(logs[j].TakenAt) {
			return logs[i].ID < logs[j].ID
		}
		return logs[i].TakenAt.Before(logs[j].TakenAt)
	})
}
