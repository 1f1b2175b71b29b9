package tgui

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// MaxCallbackDataLen is Telegram's callback_data size limit in bytes.
const MaxCallbackDataLen = 64

var ErrCallbackDataTooLong = errors.New("tgui: callback_data too long")

// CallbackData formats "prefix:payload" and enforces the size limit.
func CallbackData(prefix, payload string) (string, error) {
	data := strings.TrimSpace(prefix) + ":" + payload
	if len(data) > MaxCallbackDataLen {
		return "", ErrCallbackDataTooLong
	}
	return data, nil
}

// TruncRunes returns s truncated to at most n runes, ending in "…" when cut.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n-1 {
			return s[:i] + "…"
		}
		count++
	}
	return s
}
