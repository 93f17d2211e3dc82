package server

import "github.com/google/uuid"

// RequestIDProvider issues identifiers for incoming requests.
type RequestIDProvider interface {
	NewID() (string, error)
}

type uuidRequestIDProvider struct{}

// NewUUIDRequestIDProvider constructs a RequestIDProvider that issues UUIDv7 identifiers.
func NewUUIDRequestIDProvider() RequestIDProvider {
	return &uuidRequestIDProvider{}
}

func (p *uuidRequestIDProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
