package bt

import (
	"fmt"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/zeusync/behaviortree/internal/core/observability/log"
)

// Wait is Running until "duration" seconds have passed since entry.
type Wait struct{ ActionNode }

func NewWait(duration float64) *Wait {
	a := &Wait{}
	a.Init("Wait")
	a.Declare("duration", TypeFloat, duration)
	return a
}

func (a *Wait) Tick(tc *TickContext) Status {
	mem := tc.Scratch(a)
	if mem.Start.IsZero() {
		mem.Start = tc.Now()
	}
	if tc.Now().Sub(mem.Start) < seconds(tc.Var(a, "duration").Float()) {
		return StatusRunning
	}
	mem.Start = time.Time{}
	return StatusSuccess
}

// SetVariable writes a literal into a blackboard key.
type SetVariable struct {
	ActionNode
	Key   string
	Value any
}

func NewSetVariable(key string, value any) *SetVariable {
	a := &SetVariable{Key: key, Value: value}
	a.Init("SetVariable")
	return a
}

func (a *SetVariable) Tick(tc *TickContext) Status {
	bb := tc.Blackboard()
	t, _ := bb.Type(a.Key)
	v, err := Coerce(t, a.Value)
	if err != nil {
		return StatusFailure
	}
	if err := bb.Set(a.Key, v); err != nil {
		return StatusFailure
	}
	return StatusSuccess
}

func (a *SetVariable) Configure(params map[string]any) error {
	for k, v := range params {
		switch k {
		case "key":
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("key: %v is not a string", v)
			}
			a.Key = s
		case "value":
			a.Value = v
		default:
			return fmt.Errorf("unknown parameter %q", k)
		}
	}
	return nil
}

func (a *SetVariable) Params() map[string]any {
	return map[string]any{"key": a.Key, "value": exportValue(a.Value)}
}

func (a *SetVariable) Validate(schema *Schema) error {
	e, ok := schema.Lookup(a.Key)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnresolvedLink, a.Key)
	}
	if _, err := Coerce(e.Type, a.Value); err != nil {
		return fmt.Errorf("%w: key %q: %v", ErrTypeMismatch, a.Key, err)
	}
	return nil
}

// Log writes a message through the context logger and succeeds.
type Log struct {
	ActionNode
	Message string
	Level   log.Level
}

func NewLog(message string) *Log {
	a := &Log{Message: message, Level: log.LevelInfo}
	a.Init("Log")
	return a
}

func (a *Log) Tick(tc *TickContext) Status {
	tc.Logger().Log(a.Level, a.Message,
		log.String("node", string(a.id)),
		log.Uint64("tick", tc.Context().Ticks()),
	)
	return StatusSuccess
}

func (a *Log) Configure(params map[string]any) error {
	for k, v := range params {
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("%s: %v is not a string", k, v)
		}
		switch k {
		case "message":
			a.Message = s
		case "level":
			level, err := log.ParseLevel(s)
			if err != nil {
				return err
			}
			a.Level = level
		default:
			return fmt.Errorf("unknown parameter %q", k)
		}
	}
	return nil
}

func (a *Log) Params() map[string]any {
	return map[string]any{"message": a.Message, "level": a.Level.String()}
}

// Succeed always succeeds.
type Succeed struct{ ActionNode }

func NewSucceed() *Succeed {
	a := &Succeed{}
	a.Init("Success")
	return a
}

func (*Succeed) Tick(*TickContext) Status { return StatusSuccess }

// Fail always fails.
type Fail struct{ ActionNode }

func NewFail() *Fail {
	a := &Fail{}
	a.Init("Failure")
	return a
}

func (*Fail) Tick(*TickContext) Status { return StatusFailure }

// IsTrue succeeds when its bool "value" is true. It is normally linked to a
// blackboard key.
type IsTrue struct{ ConditionNode }

func NewIsTrue(key string) *IsTrue {
	c := &IsTrue{}
	c.Init("IsTrue")
	v := c.Declare("value", TypeBool, false)
	if key != "" {
		v.Link(key)
	}
	return c
}

func (c *IsTrue) Tick(tc *TickContext) Status {
	return StatusOf(tc.Var(c, "value").Bool())
}

// Compare tests "left" against "right" with Op.
type Compare struct {
	ConditionNode
	Op string
}

var compareOps = map[string]func(a, b float64) bool{
	"<":  func(a, b float64) bool { return a < b },
	"<=": func(a, b float64) bool { return a <= b },
	"==": func(a, b float64) bool { return a == b },
	"!=": func(a, b float64) bool { return a != b },
	">=": func(a, b float64) bool { return a >= b },
	">":  func(a, b float64) bool { return a > b },
}

func NewCompare(op string, left, right float64) *Compare {
	c := &Compare{Op: op}
	c.Init("Compare")
	c.Declare("left", TypeFloat, left)
	c.Declare("right", TypeFloat, right)
	return c
}

func (c *Compare) Tick(tc *TickContext) Status {
	fn, ok := compareOps[c.Op]
	if !ok {
		return StatusFailure
	}
	return StatusOf(fn(tc.Var(c, "left").Float(), tc.Var(c, "right").Float()))
}

func (c *Compare) Configure(params map[string]any) error {
	for k, v := range params {
		if k != "op" {
			return fmt.Errorf("unknown parameter %q", k)
		}
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("op: %v is not a string", v)
		}
		c.Op = s
	}
	return nil
}

func (c *Compare) Params() map[string]any { return map[string]any{"op": c.Op} }

func (c *Compare) Validate(*Schema) error {
	if _, ok := compareOps[c.Op]; !ok {
		return fmt.Errorf("%w: unknown operator %q", ErrInvalidParam, c.Op)
	}
	return nil
}

// Expression evaluates a boolean expr-lang expression over the blackboard.
// Blackboard keys are the expression's variables.
type Expression struct {
	ConditionNode
	Source  string
	program *vm.Program
}

func NewExpression(source string) (*Expression, error) {
	c := &Expression{}
	c.Init("Expression")
	if err := c.Configure(map[string]any{"expr": source}); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Expression) Tick(tc *TickContext) Status {
	if c.program == nil {
		return StatusFailure
	}
	out, err := expr.Run(c.program, tc.Blackboard().Snapshot())
	if err != nil {
		tc.Logger().Warn("expression evaluation failed",
			log.String("node", string(c.id)),
			log.String("expr", c.Source),
			log.Error(err),
		)
		return StatusFailure
	}
	ok, _ := out.(bool)
	return StatusOf(ok)
}

func (c *Expression) Configure(params map[string]any) error {
	for k, v := range params {
		if k != "expr" {
			return fmt.Errorf("unknown parameter %q", k)
		}
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("expr: %v is not a string", v)
		}
		program, err := expr.Compile(s,
			expr.Env(map[string]any{}),
			expr.AsBool(),
			expr.AllowUndefinedVariables(),
		)
		if err != nil {
			return fmt.Errorf("expr %q: %w", s, err)
		}
		c.Source, c.program = s, program
	}
	return nil
}

func (c *Expression) Params() map[string]any { return map[string]any{"expr": c.Source} }

// Validate compiles the expression against the blackboard schema so that
// misspelt keys are reported at load.
func (c *Expression) Validate(schema *Schema) error {
	if c.program == nil {
		return fmt.Errorf("%w: expression is empty", ErrInvalidParam)
	}
	env := make(map[string]any, schema.Len())
	for _, e := range schema.Entries() {
		env[e.Key] = e.Default
	}
	if _, err := expr.Compile(c.Source, expr.Env(env), expr.AsBool()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParam, err)
	}
	return nil
}
