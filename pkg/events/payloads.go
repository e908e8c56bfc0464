package events

import (
	"encoding/json"
	"fmt"
)

// Payload is implemented only by the payload structs in this package, so a
// type switch over it covers every kind.
type Payload interface {
	kind() Kind
}

type NFTListedForRent struct {
	Owner        string `json:"owner"`
	NFTContract  string `json:"nftContract"`
	TokenID      string `json:"tokenId"`
	PricePerHour string `json:"pricePerHour"`
	MaxDuration  int64  `json:"maxDuration"`
	Category     string `json:"category,omitempty"`
}

type NFTRented struct {
	Renter      string `json:"renter"`
	NFTContract string `json:"nftContract"`
	TokenID     string `json:"tokenId"`
	Duration    int64  `json:"duration"`
	TotalPrice  string `json:"totalPrice"`
}

type RentalCompleted struct {
	RentalID string `json:"rentalId"`
	Renter   string `json:"renter"`
	Owner    string `json:"owner"`
}

type SOMIPaymentReceived struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type StreamCreated struct {
	StreamID  string `json:"streamId"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Deposit   string `json:"deposit"`
	StartTime int64  `json:"startTime"`
	StopTime  int64  `json:"stopTime"`
}

type StreamWithdrawn struct {
	StreamID  string `json:"streamId"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

type MilestoneReached struct {
	StreamID  string `json:"streamId"`
	Milestone int    `json:"milestone"`
}

type ReputationUpdated struct {
	User     string `json:"user"`
	OldScore int64  `json:"oldScore"`
	NewScore int64  `json:"newScore"`
}

type UserVerified struct {
	User  string `json:"user"`
	Level string `json:"level,omitempty"`
}

type NewBlock struct {
	Number uint64 `json:"number"`
	Hash   string `json:"hash,omitempty"`
}

func (NFTListedForRent) kind() Kind    { return KindNFTListedForRent }
func (NFTRented) kind() Kind           { return KindNFTRented }
func (RentalCompleted) kind() Kind     { return KindRentalCompleted }
func (SOMIPaymentReceived) kind() Kind { return KindSOMIPaymentReceived }
func (StreamCreated) kind() Kind       { return KindStreamCreated }
func (StreamWithdrawn) kind() Kind     { return KindStreamWithdrawn }
func (MilestoneReached) kind() Kind    { return KindMilestoneReached }
func (ReputationUpdated) kind() Kind   { return KindReputationUpdated }
func (UserVerified) kind() Kind        { return KindUserVerified }
func (NewBlock) kind() Kind            { return KindNewBlock }

// PayloadKind reports the kind a payload belongs to.
func PayloadKind(p Payload) Kind {
	if p == nil {
		return ""
	}
	return p.kind()
}

func decodePayload(kind Kind, data json.RawMessage) (Payload, error) {
	var (
		p   Payload
		err error
	)
	switch kind {
	case KindNFTListedForRent:
		p, err = decode[NFTListedForRent](data)
	case KindNFTRented:
		p, err = decode[NFTRented](data)
	case KindRentalCompleted:
		p, err = decode[RentalCompleted](data)
	case KindSOMIPaymentReceived:
		p, err = decode[SOMIPaymentReceived](data)
	case KindStreamCreated:
		p, err = decode[StreamCreated](data)
	case KindStreamWithdrawn:
		p, err = decode[StreamWithdrawn](data)
	case KindMilestoneReached:
		p, err = decode[MilestoneReached](data)
	case KindReputationUpdated:
		p, err = decode[ReputationUpdated](data)
	case KindUserVerified:
		p, err = decode[UserVerified](data)
	case KindNewBlock:
		p, err = decode[NewBlock](data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformedFrame, kind, err)
	}
	return p, nil
}

func decode[T Payload](data json.RawMessage) (Payload, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Describe returns the searchable text fields of an event: its kind, contract
// and the addresses or identifiers carried in the payload.
func Describe(e Event) []string {
	fields := []string{string(e.Kind), e.Contract, e.TxHash}
	switch p := e.Payload.(type) {
	case NFTListedForRent:
		fields = append(fields, p.Owner, p.NFTContract, p.TokenID, p.Category)
	case NFTRented:
		fields = append(fields, p.Renter, p.NFTContract, p.TokenID)
	case RentalCompleted:
		fields = append(fields, p.RentalID, p.Renter, p.Owner)
	case SOMIPaymentReceived:
		fields = append(fields, p.From, p.To)
	case StreamCreated:
		fields = append(fields, p.StreamID, p.Sender, p.Recipient)
	case StreamWithdrawn:
		fields = append(fields, p.StreamID, p.Recipient)
	case MilestoneReached:
		fields = append(fields, p.StreamID)
	case ReputationUpdated:
		fields = append(fields, p.User)
	case UserVerified:
		fields = append(fields, p.User, p.Level)
	case NewBlock:
		fields = append(fields, p.Hash)
	}
	return fields
}
