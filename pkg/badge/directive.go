package badge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/statsgallery/sponsorship/pkg/funds"
	"github.com/statsgallery/sponsorship/pkg/sponsorship"
)

// Directive actions.
const (
	ActionCreate = "create"
	ActionExtend = "extend"
)

// directiveSchemaJSON is the shape contract for the JSON carried in a
// badge proposal's message.
const directiveSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["action", "badge_id", "days"],
  "additionalProperties": false,
  "properties": {
    "action": {"enum": ["create", "extend"]},
    "badge_id": {"type": "string", "pattern": "^[a-z0-9][a-z0-9-]{0,63}$"},
    "group_id": {"type": "string", "maxLength": 64},
    "name": {"type": "string", "minLength": 1, "maxLength": 128},
    "description": {"type": "string", "maxLength": 1024},
    "days": {"type": "integer", "minimum": 1},
    "start_at": {"type": "string", "format": "date-time"}
  },
  "if": {"properties": {"action": {"const": "create"}}},
  "then": {"required": ["name"]}
}`

type directiveSchema struct {
	compiled *jsonschema.Schema
}

func compileDirectiveSchema() (*directiveSchema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const url = "https://sponsorship.schemas.local/badge/directive.schema.json"
	if err := c.AddResource(url, strings.NewReader(directiveSchemaJSON)); err != nil {
		return nil, fmt.Errorf("badge schema load failed: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("badge schema compile failed: %w", err)
	}
	return &directiveSchema{compiled: compiled}, nil
}

// Directive is the parsed badge instruction carried in a proposal's
// message.
type Directive struct {
	Action      string     `json:"action"`
	BadgeID     string     `json:"badge_id"`
	GroupID     string     `json:"group_id,omitempty"`
	Name        string     `json:"name,omitempty"`
	Description string     `json:"description,omitempty"`
	Days        int        `json:"days"`
	StartAt     *time.Time `json:"start_at,omitempty"`
}

// ParseDirective validates the message against the directive schema and
// decodes it.
func (i *Issuer) ParseDirective(message string) (*Directive, error) {
	if strings.TrimSpace(message) == "" {
		return nil, fmt.Errorf("%w: empty message", ErrBadDirective)
	}
	var raw interface{}
	if err := json.Unmarshal([]byte(message), &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadDirective, err)
	}
	if err := i.schema.compiled.Validate(raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadDirective, err)
	}
	var d Directive
	if err := json.Unmarshal([]byte(message), &d); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadDirective, err)
	}
	return &d, nil
}

// Price returns the deposit a directive demands. Creation is priced at
// the larger of the floor and the daily rate; extensions cost exactly
// the daily rate.
func (i *Issuer) Price(d *Directive) funds.Amount {
	daily := funds.Amount(int64(d.Days)) * i.cfg.RatePerDay
	if d.Action == ActionCreate && daily < i.cfg.MinCreationDeposit {
		return i.cfg.MinCreationDeposit
	}
	return daily
}

// VetSubmission screens a badge submission before any funds move: the
// directive must parse, its action must match the submission tag, the
// badge book must admit it, and the deposit must cover the price.
// Submissions under non-badge tags pass through untouched.
func (i *Issuer) VetSubmission(ctx context.Context, sub sponsorship.Submission) error {
	if sub.Tag != TagCreate && sub.Tag != TagExtend {
		return nil
	}

	d, err := i.ParseDirective(sub.Message)
	if err != nil {
		return err
	}
	if err := i.checkTag(d, sub.Tag); err != nil {
		return err
	}

	i.mu.Lock()
	err = i.check(d)
	i.mu.Unlock()
	if err != nil {
		return err
	}

	if price := i.Price(d); sub.Deposit < price {
		return fmt.Errorf("%w: badge pricing requires %s, received %s", sponsorship.ErrInsufficientDeposit, price, sub.Deposit)
	}
	return nil
}

func (i *Issuer) checkTag(d *Directive, tag string) error {
	want := TagCreate
	if d.Action == ActionExtend {
		want = TagExtend
	}
	if tag != want {
		return fmt.Errorf("%w: action %q requires tag %q, got %q", ErrTagMismatch, d.Action, want, tag)
	}
	return nil
}
