package bt

import (
	"fmt"
	"time"
)

// Decorator nodes: Inverter, Succeeder, Failer, Repeat, RepeatUntilFailure,
// Retry, Cooldown, Timeout, Delay, Probability.

func seconds(f float64) time.Duration { return time.Duration(f * float64(time.Second)) }

// Inverter flips Success and Failure; Running passes through.
type Inverter struct{ DecoratorNode }

func NewInverter(child Node) *Inverter {
	d := &Inverter{}
	d.Init("Inverter")
	d.child = child
	return d
}

func (d *Inverter) Tick(tc *TickContext) Status {
	switch st := tc.Tick(d.child); st {
	case StatusSuccess:
		return StatusFailure
	case StatusFailure:
		return StatusSuccess
	default:
		return st
	}
}

// Succeeder returns Success once the child is done.
type Succeeder struct{ DecoratorNode }

func NewSucceeder(child Node) *Succeeder {
	d := &Succeeder{}
	d.Init("Succeeder")
	d.child = child
	return d
}

func (d *Succeeder) Tick(tc *TickContext) Status {
	if tc.Tick(d.child) == StatusRunning {
		return StatusRunning
	}
	return StatusSuccess
}

// Failer returns Failure once the child is done.
type Failer struct{ DecoratorNode }

func NewFailer(child Node) *Failer {
	d := &Failer{}
	d.Init("Failer")
	d.child = child
	return d
}

func (d *Failer) Tick(tc *TickContext) Status {
	if tc.Tick(d.child) == StatusRunning {
		return StatusRunning
	}
	return StatusFailure
}

// Repeat runs its child "times" times, one child iteration per tick, and
// fails as soon as the child fails. times = 0 repeats forever.
type Repeat struct{ DecoratorNode }

func NewRepeat(times int, child Node) *Repeat {
	d := &Repeat{}
	d.Init("Repeat")
	d.Declare("times", TypeInt, times)
	d.child = child
	return d
}

func (d *Repeat) Tick(tc *TickContext) Status {
	mem := tc.Scratch(d)
	switch tc.Tick(d.child) {
	case StatusRunning:
		return StatusRunning
	case StatusFailure:
		mem.Count = 0
		return StatusFailure
	}
	mem.Count++
	if times := tc.Var(d, "times").Int(); times > 0 && mem.Count >= times {
		mem.Count = 0
		return StatusSuccess
	}
	return StatusRunning
}

func (d *Repeat) Validate(*Schema) error {
	return nonNegative(d.Variable("times"))
}

// RepeatUntilFailure keeps re-running a succeeding child and succeeds once
// the child fails.
type RepeatUntilFailure struct{ DecoratorNode }

func NewRepeatUntilFailure(child Node) *RepeatUntilFailure {
	d := &RepeatUntilFailure{}
	d.Init("RepeatUntilFailure")
	d.child = child
	return d
}

func (d *RepeatUntilFailure) Tick(tc *TickContext) Status {
	if tc.Tick(d.child) == StatusFailure {
		return StatusSuccess
	}
	return StatusRunning
}

// Retry re-runs a failing child up to "attempts" times in total, one attempt
// per tick.
type Retry struct{ DecoratorNode }

func NewRetry(attempts int, child Node) *Retry {
	d := &Retry{}
	d.Init("Retry")
	d.Declare("attempts", TypeInt, attempts)
	d.child = child
	return d
}

func (d *Retry) Tick(tc *TickContext) Status {
	mem := tc.Scratch(d)
	switch tc.Tick(d.child) {
	case StatusRunning:
		return StatusRunning
	case StatusSuccess:
		mem.Count = 0
		return StatusSuccess
	}
	mem.Count++
	if mem.Count >= tc.Var(d, "attempts").Int() {
		mem.Count = 0
		return StatusFailure
	}
	return StatusRunning
}

func (d *Retry) Validate(*Schema) error {
	return nonNegative(d.Variable("attempts"))
}

// Cooldown fails without ticking its child until "duration" seconds have
// passed since the child last finished. With SuccessOnly only a successful
// run starts the cooldown.
type Cooldown struct {
	DecoratorNode
	SuccessOnly bool
}

func NewCooldown(duration float64, child Node) *Cooldown {
	d := &Cooldown{}
	d.Init("Cooldown")
	d.Declare("duration", TypeFloat, duration)
	d.child = child
	return d
}

func (d *Cooldown) Tick(tc *TickContext) Status {
	mem := tc.Scratch(d)
	now := tc.Now()
	if !mem.Stamp.IsZero() && now.Sub(mem.Stamp) < seconds(tc.Var(d, "duration").Float()) {
		return StatusFailure
	}
	st := tc.Tick(d.child)
	if st == StatusSuccess || (st == StatusFailure && !d.SuccessOnly) {
		mem.Stamp = now
	}
	return st
}

func (d *Cooldown) Configure(params map[string]any) error {
	for k, v := range params {
		switch k {
		case "success_only":
			b, ok := v.(bool)
			if !ok {
				return fmt.Errorf("success_only: %v is not a bool", v)
			}
			d.SuccessOnly = b
		default:
			return fmt.Errorf("unknown parameter %q", k)
		}
	}
	return nil
}

func (d *Cooldown) Params() map[string]any {
	if !d.SuccessOnly {
		return nil
	}
	return map[string]any{"success_only": true}
}

// Timeout fails and halts its child once it has been running for
// "duration" seconds.
type Timeout struct{ DecoratorNode }

func NewTimeout(duration float64, child Node) *Timeout {
	d := &Timeout{}
	d.Init("Timeout")
	d.Declare("duration", TypeFloat, duration)
	d.child = child
	return d
}

func (d *Timeout) Tick(tc *TickContext) Status {
	mem := tc.Scratch(d)
	now := tc.Now()
	if mem.Start.IsZero() {
		mem.Start = now
	} else if now.Sub(mem.Start) >= seconds(tc.Var(d, "duration").Float()) {
		tc.Halt(d.child)
		mem.Start = time.Time{}
		return StatusFailure
	}
	st := tc.Tick(d.child)
	if st != StatusRunning {
		mem.Start = time.Time{}
	}
	return st
}

// Delay is Running for "duration" seconds after entry, then ticks its child
// until it finishes.
type Delay struct{ DecoratorNode }

func NewDelay(duration float64, child Node) *Delay {
	d := &Delay{}
	d.Init("Delay")
	d.Declare("duration", TypeFloat, duration)
	d.child = child
	return d
}

func (d *Delay) Tick(tc *TickContext) Status {
	mem := tc.Scratch(d)
	now := tc.Now()
	if mem.Start.IsZero() {
		mem.Start = now
	}
	if now.Sub(mem.Start) < seconds(tc.Var(d, "duration").Float()) {
		return StatusRunning
	}
	st := tc.Tick(d.child)
	if st != StatusRunning {
		mem.Start = time.Time{}
	}
	return st
}

// Probability ticks its child with the given "chance" and fails otherwise.
// The roll happens once when the decorator is entered and holds until the
// child finishes.
type Probability struct{ DecoratorNode }

func NewProbability(chance float64, child Node) *Probability {
	d := &Probability{}
	d.Init("Probability")
	d.Declare("chance", TypeFloat, chance)
	d.child = child
	return d
}

func (d *Probability) Tick(tc *TickContext) Status {
	mem := tc.Scratch(d)
	if !mem.Rolled {
		chance := tc.Var(d, "chance").Float()
		switch {
		case chance <= 0:
			mem.Passed = false
		case chance >= 1:
			mem.Passed = true
		default:
			mem.Passed = tc.Float64() < chance
		}
		mem.Rolled = true
	}
	if !mem.Passed {
		mem.Rolled = false
		return StatusFailure
	}
	st := tc.Tick(d.child)
	if st != StatusRunning {
		mem.Rolled = false
	}
	return st
}

func nonNegative(v *Variable) error {
	if v == nil || v.IsLinked() {
		return nil
	}
	if n, ok := v.Value().(int); ok && n < 0 {
		return fmt.Errorf("%w: %s must not be negative", ErrInvalidParam, v.Name())
	}
	return nil
}
