// Package policy screens sponsorship submissions with CEL rules. The
// screen carries a fixed set of system rules plus any operator rules
// and fails closed on rule errors.
package policy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/statsgallery/sponsorship/pkg/sponsorship"
)

// ErrScreenRejected is returned when a rule evaluates to false.
var ErrScreenRejected = errors.New("submission rejected by policy screen")

// Screen implements sponsorship.Vetter using CEL with caching.
type Screen struct {
	env      *cel.Env
	prgCache map[string]cel.Program
	mu       sync.RWMutex
	clock    func() time.Time

	systemRules []string
	rules       []string
}

// NewScreen creates a screen with the standard environment. Operator
// rules are CEL expressions over "submission" and "now"; they run after
// the built-in system rules and must all evaluate to true.
func NewScreen(rules ...string) (*Screen, error) {
	env, err := cel.NewEnv(
		cel.Variable("submission", cel.DynType),
		cel.Variable("now", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("cel environment: %w", err)
	}

	// System rules hold regardless of operator configuration.
	sysRules := []string{
		// Descriptions must contain something other than whitespace.
		`submission.description.matches("\\S")`,
		// Tags follow the registry grammar.
		`submission.tag.matches("^[a-z0-9-]{1,32}$")`,
		// Deposits are always positive.
		`submission.deposit > 0`,
	}

	return &Screen{
		env:         env,
		prgCache:    make(map[string]cel.Program),
		clock:       time.Now,
		systemRules: sysRules,
		rules:       rules,
	}, nil
}

// WithClock pins the time source, which tests use to make the "now"
// variable in rule expressions deterministic.
func (s *Screen) WithClock(clock func() time.Time) *Screen {
	s.clock = clock
	return s
}

// VetSubmission checks the submission against every rule. System rules
// report their index; operator rules report their text.
func (s *Screen) VetSubmission(ctx context.Context, sub sponsorship.Submission) error {
	input := map[string]any{
		"now": s.clock().Unix(),
		"submission": map[string]any{
			"submitter":   string(sub.Submitter),
			"description": sub.Description,
			"tag":         sub.Tag,
			"message":     sub.Message,
			"deposit":     int64(sub.Deposit),
			"ttl_seconds": int64(sub.TTL / time.Second),
		},
	}

	for i, rule := range s.systemRules {
		allowed, err := s.evaluateExpr(rule, input)
		if err != nil {
			return fmt.Errorf("system rule %d: %w", i, err)
		}
		if !allowed {
			return fmt.Errorf("%w: system rule %d violated", ErrScreenRejected, i)
		}
	}

	for _, rule := range s.rules {
		allowed, err := s.evaluateExpr(rule, input)
		if err != nil {
			return fmt.Errorf("screen rule %q: %w", rule, err)
		}
		if !allowed {
			return fmt.Errorf("%w: rule %q", ErrScreenRejected, rule)
		}
	}
	return nil
}

func (s *Screen) evaluateExpr(expr string, input map[string]any) (bool, error) {
	s.mu.RLock()
	prg, hit := s.prgCache[expr]
	s.mu.RUnlock()

	if !hit {
		s.mu.Lock()
		// Double check
		if prg, hit = s.prgCache[expr]; !hit {
			ast, issues := s.env.Compile(expr)
			if issues != nil && issues.Err() != nil {
				s.mu.Unlock()
				return false, fmt.Errorf("compile: %w", issues.Err())
			}
			p, err := s.env.Program(ast,
				cel.InterruptCheckFrequency(100),
				cel.CostLimit(10000),
			)
			if err != nil {
				s.mu.Unlock()
				return false, fmt.Errorf("program: %w", err)
			}
			s.prgCache[expr] = p
			prg = p
		}
		s.mu.Unlock()
	}

	out, _, err := prg.Eval(input)
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("rule evaluated to %T, want bool", out.Value())
	}
	return val, nil
}
