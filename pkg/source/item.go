package source

// Projection accessors. Search covers name, category and address fields.

func (r Rental) SearchFields() []string {
	return []string{r.Name, r.Category, r.Owner, r.Renter, r.NFTContract, r.TokenID}
}
func (r Rental) FilterCategory() string { return r.Category }
func (r Rental) FilterStatus() string   { return r.Status }
func (r Rental) Time() int64            { return int64(r.CreatedAt) }

func (r Rental) Number(key string) (float64, bool) {
	switch key {
	case "price", "pricePerHour":
		return r.PricePerHour.InexactFloat64(), true
	case "totalPrice":
		return r.TotalPrice.InexactFloat64(), true
	case "duration":
		return float64(r.Duration), true
	}
	return 0, false
}

func (r Rental) Text(key string) (string, bool) {
	switch key {
	case "name":
		return r.Name, true
	case "category":
		return r.Category, true
	case "owner":
		return r.Owner, true
	}
	return "", false
}

func (p Proposal) SearchFields() []string {
	return []string{p.Title, p.Description, p.Category, p.Proposer}
}
func (p Proposal) FilterCategory() string { return p.Category }
func (p Proposal) FilterStatus() string   { return p.Status }
func (p Proposal) Time() int64            { return int64(p.CreatedAt) }

func (p Proposal) Number(key string) (float64, bool) {
	switch key {
	case "yesVotes", "votes":
		return p.YesVotes.InexactFloat64(), true
	case "noVotes":
		return p.NoVotes.InexactFloat64(), true
	case "totalVotes":
		return p.YesVotes.Add(p.NoVotes).InexactFloat64(), true
	case "endTime":
		return float64(p.EndTime), true
	}
	return 0, false
}

func (p Proposal) Text(key string) (string, bool) {
	switch key {
	case "title":
		return p.Title, true
	case "category":
		return p.Category, true
	}
	return "", false
}

func (a Activity) SearchFields() []string {
	return []string{a.Type, a.User, a.Description}
}
func (a Activity) FilterCategory() string { return a.Type }
func (a Activity) FilterStatus() string   { return "" }
func (a Activity) Time() int64            { return int64(a.Timestamp) }

func (a Activity) Number(key string) (float64, bool) {
	if key == "timestamp" {
		return float64(a.Timestamp), true
	}
	return 0, false
}

func (a Activity) Text(key string) (string, bool) {
	switch key {
	case "type":
		return a.Type, true
	case "user":
		return a.User, true
	}
	return "", false
}
