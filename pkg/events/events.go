package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

type Kind string

const (
	KindNFTListedForRent    Kind = "NFTListedForRent"
	KindNFTRented           Kind = "NFTRented"
	KindRentalCompleted     Kind = "RentalCompleted"
	KindSOMIPaymentReceived Kind = "SOMIPaymentReceived"
	KindStreamCreated       Kind = "StreamCreated"
	KindStreamWithdrawn     Kind = "StreamWithdrawn"
	KindMilestoneReached    Kind = "MilestoneReached"
	KindReputationUpdated   Kind = "ReputationUpdated"
	KindUserVerified        Kind = "UserVerified"
	KindNewBlock            Kind = "NewBlock"
)

// Kinds lists every event kind the push channel emits.
var Kinds = []Kind{
	KindNFTListedForRent,
	KindNFTRented,
	KindRentalCompleted,
	KindSOMIPaymentReceived,
	KindStreamCreated,
	KindStreamWithdrawn,
	KindMilestoneReached,
	KindReputationUpdated,
	KindUserVerified,
	KindNewBlock,
}

func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Event is a single notification from the push channel or a poll response.
// Events are values and are never mutated after they are parsed.
type Event struct {
	ID          string  `json:"id"`
	Kind        Kind    `json:"kind"`
	Timestamp   int64   `json:"timestamp"`
	Contract    string  `json:"contract"`
	BlockNumber uint64  `json:"blockNumber"`
	TxHash      string  `json:"transactionHash"`
	Payload     Payload `json:"payload"`
}

// Key identifies an event for deduplication. Two events with the same id but
// different kinds are distinct.
func (e Event) Key() string {
	return string(e.Kind) + ":" + e.ID
}

// Data renders the event back into frame data that Parse accepts.
func (e Event) Data() (json.RawMessage, error) {
	fields := map[string]any{}
	if e.Payload != nil {
		b, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.UseNumber()
		if err := dec.Decode(&fields); err != nil {
			return nil, fmt.Errorf("failed to decode payload: %w", err)
		}
	}

	fields["id"] = e.ID
	fields["timestamp"] = e.Timestamp
	fields["contract"] = e.Contract
	fields["blockNumber"] = e.BlockNumber
	fields["transactionHash"] = e.TxHash

	return json.Marshal(fields)
}

var (
	ErrUnknownKind    = errors.New("unknown event kind")
	ErrMissingField   = errors.New("missing required field")
	ErrMalformedFrame = errors.New("malformed frame")
)

// Frame is the envelope every push channel message arrives in.
type Frame struct {
	Event Kind            `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type envelope struct {
	ID          string      `json:"id"`
	Timestamp   json.Number `json:"timestamp"`
	Contract    string      `json:"contract"`
	BlockNumber uint64      `json:"blockNumber"`
	TxHash      string      `json:"transactionHash"`
}

// ParseFrame decodes a raw push channel message into a typed Event.
func ParseFrame(raw []byte) (Event, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return Parse(f.Event, f.Data)
}

// Parse validates the shared envelope fields and decodes the kind specific payload.
func Parse(kind Kind, data json.RawMessage) (Event, error) {
	if !kind.Valid() {
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if len(data) == 0 {
		return Event{}, fmt.Errorf("%w: data", ErrMissingField)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	if env.Timestamp == "" {
		return Event{}, fmt.Errorf("%w: timestamp", ErrMissingField)
	}
	ts, err := env.Timestamp.Int64()
	if err != nil {
		return Event{}, fmt.Errorf("%w: timestamp %q is not an integer", ErrMalformedFrame, env.Timestamp)
	}
	if env.Contract == "" {
		return Event{}, fmt.Errorf("%w: contract", ErrMissingField)
	}

	payload, err := decodePayload(kind, data)
	if err != nil {
		return Event{}, err
	}

	id := env.ID
	if id == "" {
		id = defaultID(kind, env, payload)
	}
	if id == "" {
		return Event{}, fmt.Errorf("%w: id", ErrMissingField)
	}

	return Event{
		ID:          id,
		Kind:        kind,
		Timestamp:   ts,
		Contract:    env.Contract,
		BlockNumber: env.BlockNumber,
		TxHash:      env.TxHash,
		Payload:     payload,
	}, nil
}

// defaultID derives an id for frames that do not carry one. Block headers are
// keyed by number; everything else by the emitting transaction.
func defaultID(kind Kind, env envelope, p Payload) string {
	if b, ok := p.(NewBlock); ok && kind == KindNewBlock {
		return fmt.Sprintf("%d", b.Number)
	}
	return env.TxHash
}
