package device

import (
	"context"
	"fmt"
)

// CharacteristicRef is a resolved, cacheable reference to a characteristic on one link.
// It stays valid only for the lifetime of the link it was resolved on.
type CharacteristicRef struct {
	ServiceID        string // normalized
	CharacteristicID string // normalized
	Handle           uint16
	Char             Characteristic
}

func (r *CharacteristicRef) String() string {
	return fmt.Sprintf("%s/%s@0x%04x", ShortenUUID(r.ServiceID), ShortenUUID(r.CharacteristicID), r.Handle)
}

// Resolve locates characteristic charID inside service serviceID on the given link.
// Identifiers match by equality after normalization; no name matching is attempted.
// Returns a ResolutionError if either the service or the characteristic is absent.
func Resolve(ctx context.Context, link Link, serviceID, charID string) (*CharacteristicRef, error) {
	ids, err := ValidateUUID(serviceID, charID)
	if err != nil {
		return nil, err
	}
	svcUUID, charUUID := ids[0], ids[1]

	services, err := link.Services(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}

	var svc Service
	for _, s := range services {
		if NormalizeUUID(s.UUID()) == svcUUID {
			svc = s
			break
		}
	}
	if svc == nil {
		return nil, &ResolutionError{Resource: "service", UUIDs: []string{serviceID}}
	}

	chars, err := link.Characteristics(ctx, svc)
	if err != nil {
		return nil, fmt.Errorf("failed to list characteristics of service %s: %w", serviceID, err)
	}

	for _, c := range chars {
		if NormalizeUUID(c.UUID()) == charUUID {
			return &CharacteristicRef{
				ServiceID:        svcUUID,
				CharacteristicID: charUUID,
				Handle:           c.Handle(),
				Char:             c,
			}, nil
		}
	}

	return nil, &ResolutionError{Resource: "characteristic", UUIDs: []string{serviceID, charID}}
}
