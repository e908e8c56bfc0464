package format

import (
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// TokenDecimals is the precision of SOMI and the governance token.
const TokenDecimals = 18

// Amount renders a base-unit integer string (wei) as a token amount with at
// most four fractional digits, trailing zeros trimmed.
func Amount(wei string, decimals int32) (string, error) {
	if strings.TrimSpace(wei) == "" {
		return "0", nil
	}
	d, err := decimal.NewFromString(wei)
	if err != nil {
		return "", fmt.Errorf("invalid amount %q: %w", wei, err)
	}
	return AmountDecimal(d, decimals), nil
}

func AmountDecimal(wei decimal.Decimal, decimals int32) string {
	return wei.Shift(-decimals).Truncate(4).String()
}

// Symbol appends a token symbol to a formatted amount, e.g. "1.25 SOMI".
func Symbol(amount, symbol string) string {
	return amount + " " + symbol
}

// Timestamp converts a source timestamp to time. Values below 1e12 are
// seconds, anything larger is milliseconds.
func Timestamp(ts int64) time.Time {
	if ts >= 1e12 || ts <= -1e12 {
		return time.UnixMilli(ts).UTC()
	}
	return time.Unix(ts, 0).UTC()
}

// Parse accepts any date layout the indexer or relayer sends.
func Parse(s string) (time.Time, error) {
	t, err := dateparse.ParseAny(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse time %q: %w", s, err)
	}
	return t.UTC(), nil
}

// Duration renders a rental length the way the dashboards show it: "3d 4h",
// "2h 15m", "45m" or "30s".
func Duration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	days := int(d / (24 * time.Hour))
	hours := int(d % (24 * time.Hour) / time.Hour)
	minutes := int(d % time.Hour / time.Minute)

	switch {
	case days > 0:
		if hours == 0 {
			return fmt.Sprintf("%dd", days)
		}
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		if minutes == 0 {
			return fmt.Sprintf("%dh", hours)
		}
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm", minutes)
	}
	return fmt.Sprintf("%ds", int(d/time.Second))
}

// TimeAgo renders t relative to now: "just now", "5m ago", "3h ago", "2d ago".
func TimeAgo(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d/time.Hour))
	}
	return fmt.Sprintf("%dd ago", int(d/(24*time.Hour)))
}

// ShortAddress renders 0x1234...abcd. Strings that are not hex addresses are
// returned unchanged.
func ShortAddress(addr string) string {
	if !common.IsHexAddress(addr) {
		return addr
	}
	hex := common.HexToAddress(addr).Hex()
	return hex[:6] + "..." + hex[len(hex)-4:]
}
