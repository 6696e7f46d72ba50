package telephony

import (
	"context"
	"errors"
)

// Carrier is the outbound control surface of a telephony provider.
// Inbound control arrives as webhooks and is answered with a Document.
type Carrier interface {
	Name() string
	HealthCheck(ctx context.Context) error
	PlaceCall(ctx context.Context, req PlaceCallRequest) (PlaceCallResult, error)
}

var (
	ErrCarrierNotConfigured = errors.New("telephony: carrier not configured")
	ErrCarrierRejected      = errors.New("telephony: carrier rejected request")
)

// PlaceCallRequest asks the carrier to originate a leg and fetch its
// instructions from URL once answered.
type PlaceCallRequest struct {
	To                  string
	From                string
	URL                 string
	StatusCallback      string
	StatusCallbackEvent []string
	TimeoutSeconds      int
	Record              bool
}

type PlaceCallResult struct {
	CarrierCallID string
	Status        string
}
