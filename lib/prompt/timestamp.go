// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package prompt

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatTimestamp renders an offset as MM:SS, or HH:MM:SS from one
// hour on. Negative offsets render as 00:00.
func FormatTimestamp(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60
	if hours > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, secs)
	}
	return fmt.Sprintf("%02d:%02d", minutes, secs)
}

// ParseTimestamp converts M:SS, MM:SS, or H:MM:SS to seconds. Seconds
// and (when hours are present) minutes must be below 60.
func ParseTimestamp(text string) (int, error) {
	parts := strings.Split(strings.TrimSpace(text), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("prompt: timestamp %q: want M:SS or H:MM:SS", text)
	}

	values := make([]int, len(parts))
	for i, part := range parts {
		if part == "" {
			return 0, fmt.Errorf("prompt: timestamp %q: empty component", text)
		}
		value, err := strconv.Atoi(part)
		if err != nil || value < 0 {
			return 0, fmt.Errorf("prompt: timestamp %q: invalid component %q", text, part)
		}
		values[i] = value
	}

	last := len(values) - 1
	if values[last] >= 60 || len(parts[last]) != 2 {
		return 0, fmt.Errorf("prompt: timestamp %q: seconds out of range", text)
	}
	if len(values) == 3 {
		if values[1] >= 60 || len(parts[1]) != 2 {
			return 0, fmt.Errorf("prompt: timestamp %q: minutes out of range", text)
		}
		return values[0]*3600 + values[1]*60 + values[2], nil
	}
	return values[0]*60 + values[1], nil
}
