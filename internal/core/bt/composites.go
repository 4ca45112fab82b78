package bt

import (
	"fmt"
	"strconv"
	"strings"
)

// Sequence ticks children left to right until one fails or is running. A
// running child is resumed on the next tick without re-ticking its left
// siblings.
type Sequence struct{ CompositeNode }

func NewSequence(children ...Node) *Sequence {
	s := &Sequence{}
	s.Init("Sequence")
	s.SetChildren(children...)
	return s
}

func (s *Sequence) Tick(tc *TickContext) Status {
	mem := tc.Scratch(s)
	for i := mem.Index; i < len(s.children); i++ {
		switch tc.Tick(s.children[i]) {
		case StatusRunning:
			mem.Index = i
			return StatusRunning
		case StatusFailure:
			mem.Index = 0
			return StatusFailure
		}
	}
	mem.Index = 0
	return StatusSuccess
}

// Selector ticks children left to right until one succeeds or is running.
type Selector struct{ CompositeNode }

func NewSelector(children ...Node) *Selector {
	s := &Selector{}
	s.Init("Selector")
	s.SetChildren(children...)
	return s
}

func (s *Selector) Tick(tc *TickContext) Status {
	mem := tc.Scratch(s)
	for i := mem.Index; i < len(s.children); i++ {
		switch tc.Tick(s.children[i]) {
		case StatusRunning:
			mem.Index = i
			return StatusRunning
		case StatusSuccess:
			mem.Index = 0
			return StatusSuccess
		}
	}
	mem.Index = 0
	return StatusFailure
}

type PolicyMode int

const (
	PolicyAll PolicyMode = iota
	PolicyAny
	PolicyCount
)

// Policy is a Parallel threshold: all children, any child, or at least
// Count children.
type Policy struct {
	Mode  PolicyMode
	Count int
}

var (
	RequireAll = Policy{Mode: PolicyAll}
	RequireAny = Policy{Mode: PolicyAny}
)

func RequireCount(n int) Policy { return Policy{Mode: PolicyCount, Count: n} }

func (p Policy) threshold(children int) int {
	switch p.Mode {
	case PolicyAll:
		return children
	case PolicyAny:
		return 1
	default:
		return p.Count
	}
}

func (p Policy) String() string {
	switch p.Mode {
	case PolicyAll:
		return "all"
	case PolicyAny:
		return "any"
	default:
		return strconv.Itoa(p.Count)
	}
}

func (p Policy) export() any {
	if p.Mode == PolicyCount {
		return p.Count
	}
	return p.String()
}

// ParsePolicy accepts "all", "any", a count, or {mode, count}.
func ParsePolicy(v any) (Policy, error) {
	switch c := v.(type) {
	case string:
		switch s := strings.ToLower(strings.TrimSpace(c)); s {
		case "all":
			return RequireAll, nil
		case "any", "one":
			return RequireAny, nil
		default:
			n, err := strconv.Atoi(s)
			if err != nil {
				return Policy{}, fmt.Errorf("policy %q: want all, any or a count", c)
			}
			return RequireCount(n), nil
		}
	case map[string]any:
		mode, _ := c["mode"].(string)
		if mode != "" && mode != "count" {
			return ParsePolicy(mode)
		}
		n, ok := toFloat(c["count"])
		if !ok {
			return Policy{}, fmt.Errorf("policy: count %v is not a number", c["count"])
		}
		return RequireCount(int(n)), nil
	default:
		n, ok := toFloat(v)
		if !ok || n != float64(int(n)) {
			return Policy{}, fmt.Errorf("policy: unsupported value %v (%T)", v, v)
		}
		return RequireCount(int(n)), nil
	}
}

// Parallel ticks every child on every tick. The success threshold is checked
// first, then the failure threshold; when neither can be reached any more
// the result is Failure. Children still running when the parallel finishes
// are halted.
type Parallel struct {
	CompositeNode
	Success Policy
	Failure Policy
}

func NewParallel(success, failure Policy, children ...Node) *Parallel {
	p := &Parallel{Success: success, Failure: failure}
	p.Init("Parallel")
	p.SetChildren(children...)
	return p
}

func (p *Parallel) Tick(tc *TickContext) Status {
	var succeeded, failed int
	var running []Node
	for _, c := range p.children {
		switch tc.Tick(c) {
		case StatusSuccess:
			succeeded++
		case StatusFailure:
			failed++
		default:
			running = append(running, c)
		}
	}

	n := len(p.children)
	var st Status
	switch {
	case succeeded >= p.Success.threshold(n):
		st = StatusSuccess
	case failed >= p.Failure.threshold(n):
		st = StatusFailure
	case len(running) == 0:
		st = StatusFailure
	default:
		return StatusRunning
	}
	for _, c := range running {
		tc.Halt(c)
	}
	return st
}

func (p *Parallel) Configure(params map[string]any) error {
	for k, v := range params {
		policy, err := ParsePolicy(v)
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		switch k {
		case "success":
			p.Success = policy
		case "failure":
			p.Failure = policy
		default:
			return fmt.Errorf("unknown parameter %q", k)
		}
	}
	return nil
}

func (p *Parallel) Params() map[string]any {
	return map[string]any{"success": p.Success.export(), "failure": p.Failure.export()}
}

func (p *Parallel) Validate(*Schema) error {
	n := len(p.children)
	check := func(name string, policy Policy) error {
		if policy.Mode == PolicyCount && (policy.Count < 1 || policy.Count > n) {
			return fmt.Errorf("%w: %s count %d outside 1..%d", ErrInvalidParam, name, policy.Count, n)
		}
		return nil
	}
	if err := check("success", p.Success); err != nil {
		return err
	}
	return check("failure", p.Failure)
}
