// Package condition resolves condition nodes over collected session fields.
package condition

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/aretw0/parley/internal/form"
	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/pkg/domain"
)

// Operators understood by branch predicates.
const (
	OpEq       = "eq"
	OpNe       = "ne"
	OpGt       = "gt"
	OpGte      = "gte"
	OpLt       = "lt"
	OpLte      = "lte"
	OpContains = "contains"
	OpPrefix   = "prefix"
	OpIn       = "in"
	OpExists   = "exists"
	OpMissing  = "missing"
	OpMatches  = "matches"
)

var symbols = map[string]string{
	"==": OpEq, "!=": OpNe, ">": OpGt, ">=": OpGte, "<": OpLt, "<=": OpLte,
}

// Evaluator decides host-defined predicates, for When expressions Parse cannot read.
type Evaluator func(ctx context.Context, expr string, fields map[string]string) (bool, error)

// Resolver picks the exit of a condition node.
type Resolver struct {
	custom Evaluator
	logger *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// NewResolver creates a resolver. custom may be nil.
func NewResolver(custom Evaluator, opts ...Option) *Resolver {
	r := &Resolver{custom: custom, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Known reports whether op is a branch operator. An empty op means eq.
func Known(op string) bool {
	switch op {
	case "", OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpContains, OpPrefix, OpIn, OpExists, OpMissing, OpMatches:
		return true
	}
	return false
}

// Resolve evaluates with the built-in predicates only.
func Resolve(node *domain.Node, s *domain.Session) (string, error) {
	return NewResolver(nil).Resolve(context.Background(), node, s)
}

// Resolve returns the target of the first branch whose predicate holds,
// or node.Next when none does. A predicate that cannot be evaluated does not hold.
func (r *Resolver) Resolve(ctx context.Context, node *domain.Node, s *domain.Session) (string, error) {
	for i, b := range node.Branches {
		ok, err := r.holds(ctx, b, s.Fields)
		if err != nil {
			r.logger.WarnContext(ctx, "Branch predicate failed, skipping branch",
				"session_id", s.ID, "node_id", node.ID, "branch", i, "err", err)
			continue
		}
		if ok {
			return b.Next, nil
		}
	}
	if node.Next == "" {
		return "", fmt.Errorf("node %s: no branch matched and no else target", node.ID)
	}
	return node.Next, nil
}

func (r *Resolver) holds(ctx context.Context, b domain.Branch, fields map[string]string) (bool, error) {
	if b.When != "" {
		parsed, err := Parse(b.When)
		if err != nil {
			if r.custom != nil {
				return r.custom(ctx, b.When, fields)
			}
			return false, err
		}
		parsed.Next = b.Next
		b = parsed
	}
	return Eval(b, fields)
}

// Eval applies a structured predicate. Unknown operators are an error.
func Eval(b domain.Branch, fields map[string]string) (bool, error) {
	actual, present := fields[b.Field]

	switch b.Op {
	case OpExists:
		return present && strings.TrimSpace(actual) != "", nil
	case OpMissing:
		return !present || strings.TrimSpace(actual) == "", nil
	case OpEq, "":
		return compare(actual, b.Value) == 0, nil
	case OpNe:
		return compare(actual, b.Value) != 0, nil
	case OpGt:
		return present && compare(actual, b.Value) > 0, nil
	case OpGte:
		return present && compare(actual, b.Value) >= 0, nil
	case OpLt:
		return present && compare(actual, b.Value) < 0, nil
	case OpLte:
		return present && compare(actual, b.Value) <= 0, nil
	case OpContains:
		return strings.Contains(strings.ToLower(actual), strings.ToLower(b.Value)), nil
	case OpPrefix:
		return strings.HasPrefix(strings.ToLower(actual), strings.ToLower(b.Value)), nil
	case OpIn:
		for _, v := range strings.Split(b.Value, ",") {
			if compare(actual, strings.TrimSpace(v)) == 0 {
				return true, nil
			}
		}
		return false, nil
	case OpMatches:
		re, err := regexp.Compile(b.Value)
		if err != nil {
			return false, fmt.Errorf("invalid pattern %q: %w", b.Value, err)
		}
		return re.MatchString(actual), nil
	}
	return false, fmt.Errorf("unknown operator %q", b.Op)
}

// compare orders numerically when both sides are numbers, lexically otherwise.
func compare(a, b string) int {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if x, ok := form.ParseNumber(a); ok {
		if y, ok := form.ParseNumber(b); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(a, b)
}

// Parse reads "field op value" into a Branch. Both symbolic (>=) and named
// (gte) operators are accepted; exists and missing take no value.
// Quotes around the value are stripped.
func Parse(expr string) (domain.Branch, error) {
	parts := strings.Fields(strings.TrimSpace(expr))
	if len(parts) < 2 {
		return domain.Branch{}, fmt.Errorf("cannot parse condition %q", expr)
	}

	op := strings.ToLower(parts[1])
	if named, ok := symbols[op]; ok {
		op = named
	}
	b := domain.Branch{Field: parts[0], Op: op}

	switch op {
	case OpExists, OpMissing:
		if len(parts) != 2 {
			return domain.Branch{}, fmt.Errorf("operator %s takes no value in %q", op, expr)
		}
		return b, nil
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpContains, OpPrefix, OpIn, OpMatches:
	default:
		return domain.Branch{}, fmt.Errorf("unknown operator %q in %q", parts[1], expr)
	}
	if len(parts) < 3 {
		return domain.Branch{}, fmt.Errorf("missing value in %q", expr)
	}
	b.Value = unquote(strings.Join(parts[2:], " "))
	return b, nil
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		if u, err := strconv.Unquote(`"` + s[1:len(s)-1] + `"`); err == nil {
			return u
		}
		return s[1 : len(s)-1]
	}
	return s
}
