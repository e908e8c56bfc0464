package source

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ericvolp12/rental-monitor/pkg/format"
	"github.com/shopspring/decimal"
)

// Timestamp is a unix time in seconds. Indexers send it as a number, a
// numeric string (BigInt) or occasionally a formatted date.
type Timestamp int64

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*t = 0
		return nil
	}

	raw := string(b)
	if b[0] == '"' {
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
	}
	if raw == "" {
		*t = 0
		return nil
	}

	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		// milliseconds
		if n > 1e12 {
			n /= 1000
		}
		*t = Timestamp(n)
		return nil
	}

	parsed, err := format.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid timestamp: %w", err)
	}
	*t = Timestamp(parsed.Unix())
	return nil
}

type Rental struct {
	ID           string          `json:"id"`
	NFTContract  string          `json:"nftContract"`
	TokenID      string          `json:"tokenId"`
	Name         string          `json:"name"`
	Category     string          `json:"category"`
	Owner        string          `json:"owner"`
	Renter       string          `json:"renter"`
	Status       string          `json:"status"`
	PricePerHour decimal.Decimal `json:"pricePerHour"`
	TotalPrice   decimal.Decimal `json:"totalPrice"`
	Duration     int64           `json:"duration,string"`
	StartTime    Timestamp       `json:"startTime"`
	EndTime      Timestamp       `json:"endTime"`
	CreatedAt    Timestamp       `json:"createdAt"`
}

type RentalStatistics struct {
	TotalRentals    int64           `json:"totalRentals,string"`
	ActiveRentals   int64           `json:"activeRentals,string"`
	TotalVolume     decimal.Decimal `json:"totalVolume"`
	AverageDuration int64           `json:"averageDuration,string"`
	UniqueRenters   int64           `json:"uniqueRenters,string"`
}

type Proposal struct {
	ID          string          `json:"id"`
	ProposalID  int64           `json:"proposalId,string"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Proposer    string          `json:"proposer"`
	Category    string          `json:"category"`
	Status      string          `json:"status"`
	YesVotes    decimal.Decimal `json:"yesVotes"`
	NoVotes     decimal.Decimal `json:"noVotes"`
	StartTime   Timestamp       `json:"startTime"`
	EndTime     Timestamp       `json:"endTime"`
	CreatedAt   Timestamp       `json:"createdAt"`
	Executed    bool            `json:"executed"`
}

type DAOStats struct {
	TotalProposals   int64           `json:"totalProposals,string"`
	ActiveProposals  int64           `json:"activeProposals,string"`
	TotalVoters      int64           `json:"totalVoters,string"`
	TotalVotingPower decimal.Decimal `json:"totalVotingPower"`
}

type Activity struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	User        string    `json:"user"`
	Description string    `json:"description"`
	Amount      string    `json:"amount,omitempty"`
	Timestamp   Timestamp `json:"timestamp"`
}

// Page carries the pagination arguments every collection query accepts.
type Page struct {
	First          int
	Skip           int
	OrderBy        string
	OrderDirection string
}
