package captcha

import "context"

// StubSolver returns a fixed answer, or a fixed error, for testing the
// chain and the session manager without network.
type StubSolver struct {
	Strategy   string
	Text       string
	Confidence float64
	Err        error
	Calls      int
}

// Name implements Solver.
func (s *StubSolver) Name() string { return s.Strategy }

// Solve implements Solver.
func (s *StubSolver) Solve(ctx context.Context, _ []byte, _ Kind) (Solution, error) {
	s.Calls++
	if err := ctx.Err(); err != nil {
		return Solution{}, err
	}
	if s.Err != nil {
		return Solution{}, s.Err
	}
	return Solution{Text: s.Text, Confidence: s.Confidence}, nil
}
