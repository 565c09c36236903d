package id

import (
	"context"
	"strings"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	defaultLength = 8
	hexAlphabet   = "0123456789abcdef"
)

// Generator produces short, lowercase hex identifiers.
type Generator struct {
	length int
}

// New returns a Generator with the provided length. If length <= 0, a sane default is used.
func New(length int) *Generator {
	if length <= 0 {
		length = defaultLength
	}
	return &Generator{length: length}
}

// Generate returns a new identifier.
func (g *Generator) Generate(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	return gonanoid.Generate(hexAlphabet, g.length)
}

// UUIDGenerator takes the leading hex digits of a random UUID.
type UUIDGenerator struct {
	length int
}

// NewUUID returns a UUIDGenerator. length is capped at 32 hex digits.
func NewUUID(length int) *UUIDGenerator {
	if length <= 0 {
		length = defaultLength
	}
	if length > 32 {
		length = 32
	}
	return &UUIDGenerator{length: length}
}

// Generate returns a new identifier.
func (g *UUIDGenerator) Generate(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	u, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(u.String(), "-", "")[:g.length], nil
}
