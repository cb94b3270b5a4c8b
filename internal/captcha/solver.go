// Package captcha solves the image and SMS challenges guarding the
// authenticated provider. Solving is polymorphic over an ordered list
// of strategies, each with its own timeout and confidence threshold;
// the first confident result wins.
package captcha

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Kind distinguishes challenge types.
type Kind string

const (
	// KindImage is a graphical captcha; the payload is the image bytes.
	KindImage Kind = "image"
	// KindSMS is a phone verification code; the payload is the phone
	// number the code was sent to.
	KindSMS Kind = "sms"
)

// Solution is one strategy's answer.
type Solution struct {
	Text       string
	Confidence float64 // 0..1, engine-specific
	Strategy   string  // which strategy produced the answer
}

// Solver is one solving strategy.
type Solver interface {
	Name() string
	Solve(ctx context.Context, payload []byte, kind Kind) (Solution, error)
}

// UnsolvedError reports that every configured strategy failed.
type UnsolvedError struct {
	Kind     Kind
	Attempts []string // "strategy: reason" per failed strategy
}

func (e *UnsolvedError) Error() string {
	return fmt.Sprintf("captcha unsolved (%s): %s", e.Kind, strings.Join(e.Attempts, "; "))
}

// step binds a solver to its timeout and acceptance threshold.
type step struct {
	solver        Solver
	timeout       time.Duration
	minConfidence float64
}

// Chain iterates strategies in configured order.
type Chain struct {
	steps  []step
	logger *zap.Logger
}

// NewChain creates an empty chain.
func NewChain(logger *zap.Logger) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{logger: logger}
}

// Use appends a strategy. Results below minConfidence are rejected and
// the next strategy is tried.
func (c *Chain) Use(s Solver, timeout time.Duration, minConfidence float64) *Chain {
	c.steps = append(c.steps, step{solver: s, timeout: timeout, minConfidence: minConfidence})
	return c
}

// Solve tries each strategy in order and returns the first accepted
// solution. All strategies exhausted yields an UnsolvedError carrying
// the per-strategy failure reasons.
func (c *Chain) Solve(ctx context.Context, payload []byte, kind Kind) (Solution, error) {
	unsolved := &UnsolvedError{Kind: kind}

	for _, st := range c.steps {
		if err := ctx.Err(); err != nil {
			return Solution{}, err
		}

		stepCtx, cancel := context.WithTimeout(ctx, st.timeout)
		sol, err := st.solver.Solve(stepCtx, payload, kind)
		cancel()

		if err != nil {
			c.logger.Warn("captcha strategy failed",
				zap.String("strategy", st.solver.Name()),
				zap.String("kind", string(kind)),
				zap.Error(err))
			unsolved.Attempts = append(unsolved.Attempts, fmt.Sprintf("%s: %v", st.solver.Name(), err))
			continue
		}
		if sol.Confidence < st.minConfidence {
			c.logger.Warn("captcha result below confidence threshold",
				zap.String("strategy", st.solver.Name()),
				zap.Float64("confidence", sol.Confidence),
				zap.Float64("threshold", st.minConfidence))
			unsolved.Attempts = append(unsolved.Attempts,
				fmt.Sprintf("%s: confidence %.2f below %.2f", st.solver.Name(), sol.Confidence, st.minConfidence))
			continue
		}

		sol.Strategy = st.solver.Name()
		return sol, nil
	}

	if len(unsolved.Attempts) == 0 {
		unsolved.Attempts = []string{"no strategies configured"}
	}
	return Solution{}, unsolved
}

// ValidText reports whether a solved code has a plausible shape:
// 4 to 6 alphanumeric characters.
func ValidText(text string) bool {
	if len(text) < 4 || len(text) > 6 {
		return false
	}
	for _, r := range text {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		default:
			return false
		}
	}
	return true
}
