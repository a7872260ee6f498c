package alarm

import (
	"strconv"
	"unicode/utf16"
)

// RequestCode derives the integer that addresses one reminder slot in the
// alarm table. It hashes medicationKey, the decimal schedule index and the
// slot time concatenated, using a 31-multiplier polynomial over UTF-16 code
// units that wraps at 32 bits, so it is stable across restarts and matches
// codes registered by earlier releases. Collisions are possible and accepted.
func RequestCode(medicationKey string, scheduleIndex int, slotTime string) int32 {
	key := medicationKey + strconv.Itoa(scheduleIndex) + slotTime
	var h int32
	for _, unit := range utf16.Encode([]rune(key)) {
		h = 31*h + int32(unit)
	}
	return h
}
