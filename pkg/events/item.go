package events

import "github.com/ericvolp12/rental-monitor/pkg/format"

// FilterCategory groups event kinds the way the event monitor filters them.
func (e Event) FilterCategory() string {
	switch e.Kind {
	case KindNFTListedForRent, KindNFTRented, KindRentalCompleted:
		return "rental"
	case KindSOMIPaymentReceived:
		return "payment"
	case KindStreamCreated, KindStreamWithdrawn, KindMilestoneReached:
		return "stream"
	case KindReputationUpdated, KindUserVerified:
		return "reputation"
	case KindNewBlock:
		return "chain"
	}
	return ""
}

// FilterStatus is empty: events are immutable facts.
func (e Event) FilterStatus() string { return "" }

// Time is in unix ms so second and millisecond sources sort together.
func (e Event) Time() int64 { return format.Timestamp(e.Timestamp).UnixMilli() }

func (e Event) SearchFields() []string { return Describe(e) }

func (e Event) Number(key string) (float64, bool) {
	switch key {
	case "blockNumber", "block":
		return float64(e.BlockNumber), true
	case "timestamp":
		return float64(e.Time()), true
	}
	return 0, false
}

func (e Event) Text(key string) (string, bool) {
	switch key {
	case "kind":
		return string(e.Kind), true
	case "contract":
		return e.Contract, true
	case "id":
		return e.ID, true
	}
	return "", false
}
