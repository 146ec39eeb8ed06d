package item

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/curatrack/curatrack/internal/extract"
)

// IDGenerator generates unique ids for items
type IDGenerator interface {
	Generate() string
}

// UUIDGenerator is the production IDGenerator
type UUIDGenerator struct{}

func (g *UUIDGenerator) Generate() string {
	return uuid.NewString()
}

// Overrides carries user-supplied field values. User input always wins over
// extracted values.
type Overrides struct {
	Title      *string
	ExpiryDate *time.Time
}

// Builder assembles canonical Item records from extraction results and user
// edits. It is side-effect-free; callers persist the result.
type Builder struct {
	idGenerator IDGenerator
}

// NewBuilder creates a Builder with the production id generator
func NewBuilder() *Builder {
	return &Builder{idGenerator: &UUIDGenerator{}}
}

// NewBuilderWithDeps creates a Builder with a custom id generator for testing
func NewBuilderWithDeps(idGen IDGenerator) *Builder {
	return &Builder{idGenerator: idGen}
}

// Build creates a new Draft item from an extraction result plus user
// overrides. Timestamps are left zero; the store sets them on write.
func (b *Builder) Build(extraction extract.Result, sourceText string, overrides Overrides) (*Item, error) {
	title := extraction.Title
	if title == "" {
		title = extract.FallbackTitle
	}
	if overrides.Title != nil {
		title = *overrides.Title
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, &ValidationError{Field: "title", Reason: "must not be empty"}
	}

	var expiry *time.Time
	if best, ok := extract.Best(extraction.ExpiryCandidates); ok {
		d := best.Date
		expiry = &d
	}
	if overrides.ExpiryDate != nil {
		d := Midnight(*overrides.ExpiryDate)
		expiry = &d
	}

	return &Item{
		ID:         b.idGenerator.Generate(),
		Title:      title,
		ExpiryDate: expiry,
		SourceText: sourceText,
		State:      StateDraft,
	}, nil
}

// Merge applies user overrides to an existing item. It never changes State
// (lifecycle transitions are explicit store operations), SourceText, identity
// or CreatedAt.
func (b *Builder) Merge(existing *Item, overrides Overrides) (*Item, error) {
	merged := *existing

	if overrides.Title != nil {
		title := strings.TrimSpace(*overrides.Title)
		if title == "" {
			return nil, &ValidationError{Field: "title", Reason: "must not be empty"}
		}
		merged.Title = title
	}
	if overrides.ExpiryDate != nil {
		d := Midnight(*overrides.ExpiryDate)
		merged.ExpiryDate = &d
	}

	return &merged, nil
}
