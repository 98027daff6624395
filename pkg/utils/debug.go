package utils

import (
	"fmt"
	"os"
)

// IsDebugLogEnabled returns whether debug logging is enabled
func IsDebugLogEnabled() bool {
	return os.Getenv("DEBUG_LOGGING") == "true"
}

// HexDump creates a hex dump of the given data for debugging purposes
func HexDump(data []byte, maxBytes int) string {
	if len(data) == 0 {
		return "[empty]"
	}

	if len(data) > maxBytes {
		data = data[:maxBytes]
	}

	var result string
	result = fmt.Sprintf("Hex dump of %d bytes:\n", len(data))

	for i := 0; i < len(data); i += 16 {
		result += fmt.Sprintf("%04x: ", i)

		hexPart := ""
		for j := 0; j < 16; j++ {
			if i+j < len(data) {
				hexPart += fmt.Sprintf("%02x ", data[i+j])
			} else {
				hexPart += "   "
			}
			if j == 7 {
				hexPart += " "
			}
		}
		result += hexPart

		result += "  |"
		for j := 0; j < 16; j++ {
			if i+j < len(data) {
				b := data[i+j]
				if b >= 32 && b <= 126 {
					result += string(b)
				} else {
					result += "."
				}
			} else {
				result += " "
			}
		}
		result += "|\n"
	}

	return result
}
