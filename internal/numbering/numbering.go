// Package numbering hands out human-readable document numbers such as SAL-20260301-0007.
// Sequences are atomic per prefix and day, so two concurrent documents never read the same
// maximum and collide.
package numbering

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Document prefixes.
const (
	PrefixSale       = "SAL"
	PrefixPurchase   = "PUR"
	PrefixDelivery   = "DLV"
	PrefixSettlement = "STL"
)

// Sequencer increments and returns the counter stored under key. The first call for a key
// returns 1.
type Sequencer interface {
	Next(ctx context.Context, key string) (int64, error)
}

// Generator produces the next number for a prefix.
type Generator interface {
	Next(ctx context.Context, prefix string) (string, error)
}

// DailyGenerator formats PREFIX-YYYYMMDD-NNNN with one sequence per prefix and day.
type DailyGenerator struct {
	seq   Sequencer
	clock shared.Clock
	width int
}

// New builds a DailyGenerator.
func New(seq Sequencer, clock shared.Clock) *DailyGenerator {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	return &DailyGenerator{seq: seq, clock: clock, width: 4}
}

// Next implements Generator.
func (g *DailyGenerator) Next(ctx context.Context, prefix string) (string, error) {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		return "", shared.Invalid("prefix", "required")
	}
	day := g.clock.Now().Format("20060102")
	n, err := g.seq.Next(ctx, prefix+":"+day)
	if err != nil {
		return "", fmt.Errorf("numbering: next %s: %w", prefix, err)
	}
	return fmt.Sprintf("%s-%s-%0*d", prefix, day, g.width, n), nil
}

// MaxAttempts bounds how often Assign asks for a fresh number.
const MaxAttempts = 5

// Assign draws numbers until insert accepts one. insert reports a taken number by returning
// an error matching shared.ErrDuplicate; any other error stops immediately.
func Assign(ctx context.Context, gen Generator, prefix string, insert func(ctx context.Context, number string) error) (string, error) {
	var lastErr error
	for attempt := 0; attempt < MaxAttempts; attempt++ {
		number, err := gen.Next(ctx, prefix)
		if err != nil {
			return "", err
		}
		err = insert(ctx, number)
		if err == nil {
			return number, nil
		}
		if !errors.Is(err, shared.ErrDuplicate) {
			return "", err
		}
		lastErr = err
	}
	return "", fmt.Errorf("numbering: %s exhausted %d attempts: %w", prefix, MaxAttempts, lastErr)
}
