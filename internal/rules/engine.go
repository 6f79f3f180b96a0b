// Package rules provides the CEL-Go based rule evaluation engine.
package rules

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine evaluates transactions against the fixed deny chain. The
// chain is compiled once at construction; compiled CEL programs are
// safe for concurrent use, so a single Engine serves all requests
// without locking.
type Engine struct {
	chain    []Spec
	programs []cel.Program
}

// NewEngine compiles the deny chain and returns an engine ready for
// concurrent use.
func NewEngine() (*Engine, error) {
	// CEL environment typed to the feature set: counts are ints,
	// rates and amounts are doubles.
	env, err := cel.NewEnv(
		cel.Variable("transaction_amount", cel.DoubleType),
		cel.Variable("distinct_cards_2_weeks", cel.IntType),
		cel.Variable("txns_by_user_last_1h_hour", cel.IntType),
		cel.Variable("num_cbk_card_bin_7d_percent", cel.DoubleType),
		cel.Variable("avg_txns_by_user_1h", cel.DoubleType),
		cel.Variable("avg_transaction_amount_7d", cel.DoubleType),
		cel.Variable("user_cbk_count_lifetime_percent", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	chain := Chain()
	programs := make([]cel.Program, len(chain))
	for i, spec := range chain {
		program, err := compileRule(env, spec)
		if err != nil {
			return nil, err
		}
		programs[i] = program
	}

	return &Engine{
		chain:    chain,
		programs: programs,
	}, nil
}

func compileRule(env *cel.Env, spec Spec) (cel.Program, error) {
	ast, issues := env.Compile(spec.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", spec.Name, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", spec.Name, ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", spec.Name, err)
	}

	return program, nil
}

// Evaluate runs a transaction and its fully-merged profile through the
// deny chain, top to bottom, first match wins. Evaluation failures
// resolve to a fail-closed denial; an error never escapes as a
// non-verdict. Pure and stateless: identical inputs yield identical
// verdicts.
func (e *Engine) Evaluate(tx *domain.Transaction, profile domain.Profile) domain.Verdict {
	activation := map[string]any{
		"transaction_amount":              tx.Amount,
		"distinct_cards_2_weeks":          profile.DistinctCards2Weeks,
		"txns_by_user_last_1h_hour":       profile.TxnsLastHour,
		"num_cbk_card_bin_7d_percent":     profile.CardBinCbkRate7d,
		"avg_txns_by_user_1h":             profile.AvgTxnsPerHour,
		"avg_transaction_amount_7d":       profile.AvgAmount7d,
		"user_cbk_count_lifetime_percent": profile.LifetimeCbkRate,
	}

	for i, program := range e.programs {
		out, _, err := program.Eval(activation)
		if err != nil {
			return domain.FailClosed(fmt.Errorf("rule %s: %w", e.chain[i].Name, err))
		}

		matched, ok := out.(types.Bool)
		if !ok {
			return domain.FailClosed(fmt.Errorf("rule %s: non-boolean result %v", e.chain[i].Name, out.Value()))
		}

		if bool(matched) {
			return domain.Deny(e.chain[i].Name, e.chain[i].Reason)
		}
	}

	return domain.Approved()
}

// RulesCount returns the number of deny rules in the chain.
func (e *Engine) RulesCount() int {
	return len(e.chain)
}
