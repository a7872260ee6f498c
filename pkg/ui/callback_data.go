package ui

import (
	"errors"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	PermissionPrefix   = "p:"
	TakenPrefix        = "t:"
	TimezonePrefix     = "z:"
	MaxCallbackDataLen = 64
)

type Kind string

const (
	KindGrant    Kind = "grant"
	KindTaken    Kind = "taken"
	KindTimezone Kind = "tz"
)

// Action is a decoded inline-button press.
type Action struct {
	Kind          Kind
	MedicationID  uuid.UUID
	ScheduleIndex int
	SlotTime      string
	Timezone      string
}

var (
	errInvalidPrefix       = errors.New("invalid callback prefix")
	errInvalidAction       = errors.New("invalid callback action")
	errInvalidValue        = errors.New("invalid callback value")
	errCallbackDataTooLong = errors.New("callback data too long")
)

func BuildGrantCallback() (string, error) {
	return validateCallbackData(PermissionPrefix + string(KindGrant))
}

// BuildTakenCallback encodes one reminder slot. The slot time goes last so it
// may itself contain colons.
func BuildTakenCallback(medicationID uuid.UUID, scheduleIndex int, slotTime string) (string, error) {
	if medicationID == uuid.Nil || scheduleIndex < 0 || slotTime == "" {
		return "", errInvalidValue
	}
	data := TakenPrefix + medicationID.String() + ":" + strconv.Itoa(scheduleIndex) + ":" + slotTime
	return validateCallbackData(data)
}

func BuildTimezoneCallback(zone string) (string, error) {
	if zone == "" || strings.ContainsAny(zone, " :") {
		return "", errInvalidValue
	}
	return validateCallbackData(TimezonePrefix + zone)
}

func ParseCallbackData(data string) (Action, error) {
	if data == "" {
		return Action{}, errInvalidAction
	}
	if len(data) > MaxCallbackDataLen {
		return Action{}, errCallbackDataTooLong
	}

	switch {
	case strings.HasPrefix(data, PermissionPrefix):
		if strings.TrimPrefix(data, PermissionPrefix) != string(KindGrant) {
			return Action{}, errInvalidAction
		}
		return Action{Kind: KindGrant}, nil
	case strings.HasPrefix(data, TakenPrefix):
		return parseTakenAction(strings.TrimPrefix(data, TakenPrefix))
	case strings.HasPrefix(data, TimezonePrefix):
		zone := strings.TrimPrefix(data, TimezonePrefix)
		if zone == "" || strings.ContainsAny(zone, " :") {
			return Action{}, errInvalidValue
		}
		return Action{Kind: KindTimezone, Timezone: zone}, nil
	default:
		return Action{}, errInvalidPrefix
	}
}

func parseTakenAction(rest string) (Action, error) {
	parts := strings.SplitN(rest, ":", 3)
	if len(parts) != 3 {
		return Action{}, errInvalidAction
	}
	id, err := uuid.Parse(parts[0])
	if err != nil || id == uuid.Nil {
		return Action{}, errInvalidValue
	}
	if !isASCIIUnsignedInt(parts[1]) {
		return Action{}, errInvalidValue
	}
	index, err := strconv.Atoi(parts[1])
	if err != nil {
		return Action{}, errInvalidValue
	}
	if parts[2] == "" {
		return Action{}, errInvalidValue
	}
	return Action{Kind: KindTaken, MedicationID: id, ScheduleIndex: index, SlotTime: parts[2]}, nil
}

func validateCallbackData(data string) (string, error) {
	if data == "" {
		return "", errInvalidAction
	}
	if len(data) > MaxCallbackDataLen {
		return "", errCallbackDataTooLong
	}
	return data, nil
}

func isASCIIUnsignedInt(value string) bool {
	if value == "" {
		return false
	}
	for i := 0; i < len(value); i++ {
		if value[i] < '0' || value[i] > '9' {
			return false
		}
	}
	return true
}
