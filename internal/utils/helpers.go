package utils

import (
	"strings"
)

// ParseDeviceID extracts the device id from a "<prefix>/<deviceId>/<kind>" topic
func ParseDeviceID(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 {
		return ""
	}
	return parts[len(parts)-2]
}

// Paginate converts a 1-based page and a limit into a bounded limit and offset
func Paginate(page, limit, maxLimit int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if maxLimit > 0 && limit > maxLimit {
		limit = maxLimit
	}
	if page < 1 {
		page = 1
	}
	return limit, (page - 1) * limit
}
