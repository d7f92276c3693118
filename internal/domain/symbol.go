package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidSymbol 交易对格式错误（期望 BASE/QUOTE）
var ErrInvalidSymbol = errors.New("invalid symbol")

// SplitSymbol 拆分交易对，例如 "BTC/USD" -> ("BTC", "USD")
func SplitSymbol(symbol string) (base, quote string, err error) {
	parts := strings.Split(symbol, "/")
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), nil
}

// MergeSymbol 合并交易对
func MergeSymbol(base, quote string) string {
	return base + "/" + quote
}
