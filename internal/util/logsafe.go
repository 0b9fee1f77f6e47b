// Package util holds helpers for keeping secrets and large payloads out of logs.
package util

import "fmt"

// DefaultLogMaxLen caps provider response bodies copied into errors and logs.
const DefaultLogMaxLen = 512

// TruncateLog shortens s to maxLen bytes and notes the original size.
func TruncateLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + fmt.Sprintf("... [truncated, %d bytes total]", len(s))
}

// TruncateBytes truncates b with DefaultLogMaxLen.
func TruncateBytes(b []byte) string {
	return TruncateLog(string(b), DefaultLogMaxLen)
}

// MaskToken keeps only the last four characters of a credential.
func MaskToken(t string) string {
	switch {
	case t == "":
		return "<none>"
	case len(t) <= 8:
		return "****"
	default:
		return "****" + t[len(t)-4:]
	}
}
