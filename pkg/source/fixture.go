package source

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"
)

var fixtureCategories = []string{"Gaming", "Art", "Music", "Metaverse", "Utility"}

// Fixture is a deterministic in-memory DataSource. Records are derived from
// their index so two fixtures built with the same sizes are identical.
type Fixture struct {
	mu        sync.Mutex
	rentals   []Rental
	proposals []Proposal
	activity  []Activity
	err       error

	calls atomic.Int64
}

// baseTime is 2024-01-01T00:00:00Z.
const baseTime = 1704067200

func NewFixture(rentals, proposals int) *Fixture {
	f := &Fixture{}

	for i := 0; i < rentals; i++ {
		status := "active"
		switch i % 3 {
		case 1:
			status = "completed"
		case 2:
			status = "listed"
		}
		price := decimal.New(int64(i%7+1), 16) // 0.0N SOMI per hour
		f.rentals = append(f.rentals, Rental{
			ID:           fmt.Sprintf("rental-%d", i),
			NFTContract:  fmt.Sprintf("0x%040x", 0xA000+i%4),
			TokenID:      fmt.Sprint(i),
			Name:         fmt.Sprintf("NFT #%d", i),
			Category:     fixtureCategories[i%len(fixtureCategories)],
			Owner:        fmt.Sprintf("0x%040x", 0xB000+i%5),
			Renter:       fmt.Sprintf("0x%040x", 0xC000+i%6),
			Status:       status,
			PricePerHour: price,
			TotalPrice:   price.Mul(decimal.NewFromInt(int64(24 * (i%3 + 1)))),
			Duration:     int64(3600 * 24 * (i%3 + 1)),
			StartTime:    Timestamp(baseTime + i*3600),
			EndTime:      Timestamp(baseTime + i*3600 + 3600*24*(i%3+1)),
			CreatedAt:    Timestamp(baseTime + i*3600),
		})

		f.activity = append(f.activity, Activity{
			ID:          fmt.Sprintf("activity-%d", i),
			Type:        "rental",
			User:        fmt.Sprintf("0x%040x", 0xC000+i%6),
			Description: fmt.Sprintf("rented NFT #%d", i),
			Amount:      price.String(),
			Timestamp:   Timestamp(baseTime + i*3600),
		})
	}

	for i := 0; i < proposals; i++ {
		status := "active"
		if i%4 == 3 {
			status = "executed"
		}
		f.proposals = append(f.proposals, Proposal{
			ID:          fmt.Sprint(i + 1),
			ProposalID:  int64(i + 1),
			Title:       fmt.Sprintf("Proposal %d", i+1),
			Description: fmt.Sprintf("Adjust marketplace parameter %d", i+1),
			Proposer:    fmt.Sprintf("0x%040x", 0xD000+i),
			Category:    fixtureCategories[i%len(fixtureCategories)],
			Status:      status,
			YesVotes:    decimal.NewFromInt(int64(10 * i)),
			NoVotes:     decimal.NewFromInt(int64(i)),
			StartTime:   Timestamp(baseTime + i*86400),
			EndTime:     Timestamp(baseTime + (i+7)*86400),
			CreatedAt:   Timestamp(baseTime + i*86400),
			Executed:    status == "executed",
		})
	}

	return f
}

// Calls reports how many reads were served.
func (f *Fixture) Calls() int64 {
	return f.calls.Load()
}

// SetError makes every subsequent read fail with err; nil restores reads.
func (f *Fixture) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// UpdateProposal applies fn to the stored proposal with the given id.
func (f *Fixture) UpdateProposal(id int64, fn func(*Proposal)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.proposals {
		if f.proposals[i].ProposalID == id {
			fn(&f.proposals[i])
			return nil
		}
	}
	return fmt.Errorf("proposal %d: %w", id, ErrNotFound)
}

// AddRental appends a rental, as a confirmed rent transaction would.
func (f *Fixture) AddRental(r Rental) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rentals = append(f.rentals, r)
}

func (f *Fixture) read() error {
	f.calls.Add(1)
	return f.err
}

func (f *Fixture) Rentals(ctx context.Context, page Page) ([]Rental, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.read(); err != nil {
		return nil, err
	}
	return Window(f.rentals, page), nil
}

// RecentRentals returns the newest rentals first.
func (f *Fixture) RecentRentals(ctx context.Context, first int) ([]Rental, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.read(); err != nil {
		return nil, err
	}
	out := make([]Rental, 0, len(f.rentals))
	for i := len(f.rentals) - 1; i >= 0; i-- {
		out = append(out, f.rentals[i])
	}
	return Window(out, Page{First: first}), nil
}

func (f *Fixture) RentalStatistics(ctx context.Context) (RentalStatistics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.read(); err != nil {
		return RentalStatistics{}, err
	}

	stats := RentalStatistics{TotalRentals: int64(len(f.rentals)), TotalVolume: decimal.Zero}
	renters := map[string]struct{}{}
	var totalDuration int64
	for _, r := range f.rentals {
		if r.Status == "active" {
			stats.ActiveRentals++
		}
		stats.TotalVolume = stats.TotalVolume.Add(r.TotalPrice)
		totalDuration += r.Duration
		renters[r.Renter] = struct{}{}
	}
	if len(f.rentals) > 0 {
		stats.AverageDuration = totalDuration / int64(len(f.rentals))
	}
	stats.UniqueRenters = int64(len(renters))
	return stats, nil
}

func (f *Fixture) Proposals(ctx context.Context, page Page) ([]Proposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.read(); err != nil {
		return nil, err
	}
	return Window(f.proposals, page), nil
}

func (f *Fixture) DAOStats(ctx context.Context) (DAOStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.read(); err != nil {
		return DAOStats{}, err
	}

	stats := DAOStats{TotalProposals: int64(len(f.proposals)), TotalVotingPower: decimal.Zero}
	for _, p := range f.proposals {
		if p.Status == "active" {
			stats.ActiveProposals++
		}
		stats.TotalVotingPower = stats.TotalVotingPower.Add(p.YesVotes).Add(p.NoVotes)
	}
	stats.TotalVoters = int64(len(f.proposals))
	return stats, nil
}

func (f *Fixture) ActivityFeed(ctx context.Context, page Page) ([]Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.read(); err != nil {
		return nil, err
	}
	return Window(f.activity, page), nil
}
