package lawicel

import (
	"fmt"
	"strconv"
	"strings"
)

// CANRateCommand returns the setup command for a bit-rate in kbit/s. The
// standard rates map to the Sn presets, the rest are SJA1000 BTR0/BTR1
// values for a 16MHz clock.
func CANRateCommand(kbit float64) (string, error) {
	switch kbit {
	case 10:
		return "S0", nil
	case 20:
		return "S1", nil
	case 33.3:
		return "s0e1c", nil
	case 47.619:
		// BTR0 0xCB, BTR1 0x9A
		return "scb9a", nil
	case 50:
		return "S2", nil
	case 100:
		return "S3", nil
	case 125:
		return "S4", nil
	case 250:
		return "S5", nil
	case 500:
		return "S6", nil
	case 615.384:
		return "s4037", nil
	case 800:
		return "S7", nil
	case 1000:
		return "S8", nil
	default:
		return "", fmt.Errorf("%w: %g", ErrUnknownRate, kbit)
	}
}

// ParseCANRate accepts "500", "500k", "500K" and "1M" style rates and
// returns kbit/s.
func ParseCANRate(s string) (float64, error) {
	s = strings.TrimSpace(s)
	mult := 1.0
	switch {
	case strings.HasSuffix(s, "k"), strings.HasSuffix(s, "K"):
		s = s[:len(s)-1]
	case strings.HasSuffix(s, "M"):
		s = s[:len(s)-1]
		mult = 1000
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrUnknownRate, s)
	}
	return v * mult, nil
}

// AcceptanceFilters calculates the code and mask commands for the SJA1000
// dual filter mode so that every identifier in idList passes. An empty list
// accepts everything. A list holding only 0 means leave the filter alone
// and returns empty commands.
func AcceptanceFilters(idList []uint32) (string, string) {
	if len(idList) == 1 && idList[0] == 0 {
		return "", ""
	}
	if len(idList) == 0 {
		return "M00000000", "mFFFFFFFF"
	}

	first := idList[0] & 0x7FF
	var diff uint32
	for _, canID := range idList {
		diff |= (canID & 0x7FF) ^ first
	}

	// Each filter half holds the 11 bit id in bits 15..5, the rtr bit and
	// data nibble below it are don't care.
	code := first << 5
	mask := diff<<5 | 0x1F
	code |= code << 16
	mask |= mask << 16

	return fmt.Sprintf("M%08X", code), fmt.Sprintf("m%08X", mask)
}
