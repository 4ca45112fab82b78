package agent

import (
	"context"
	"fmt"

	"github.com/zeusync/behaviortree/internal/core/bt"
)

// Sensor refreshes blackboard keys from the world before each tick.
type Sensor interface {
	Name() string
	Update(ctx context.Context, bb *bt.Blackboard) error
}

// SensorFunc adapts a function to Sensor.
type SensorFunc struct {
	SensorName string
	Fn         func(ctx context.Context, bb *bt.Blackboard) error
}

func (s SensorFunc) Name() string { return s.SensorName }

func (s SensorFunc) Update(ctx context.Context, bb *bt.Blackboard) error { return s.Fn(ctx, bb) }

// DistanceSensor writes the distance between two vector2 keys into a float key.
type DistanceSensor struct {
	name string
	from string
	to   string
	out  string
}

func NewDistanceSensor(name, from, to, out string) *DistanceSensor {
	return &DistanceSensor{name: name, from: from, to: to, out: out}
}

func (d *DistanceSensor) Name() string { return d.name }

func (d *DistanceSensor) Update(_ context.Context, bb *bt.Blackboard) error {
	a, err := bt.Get[bt.Vec2](bb, d.from)
	if err != nil {
		return fmt.Errorf("distance sensor: %w", err)
	}
	b, err := bt.Get[bt.Vec2](bb, d.to)
	if err != nil {
		return fmt.Errorf("distance sensor: %w", err)
	}
	return bt.Set(bb, d.out, a.Distance(b))
}

// ThresholdSensor writes whether a numeric key is at least threshold into a
// bool key.
type ThresholdSensor struct {
	name      string
	key       string
	out       string
	threshold float64
}

func NewThresholdSensor(name, key, out string, threshold float64) *ThresholdSensor {
	return &ThresholdSensor{name: name, key: key, out: out, threshold: threshold}
}

func (s *ThresholdSensor) Name() string { return s.name }

func (s *ThresholdSensor) Update(_ context.Context, bb *bt.Blackboard) error {
	v, err := bb.Get(s.key)
	if err != nil {
		return fmt.Errorf("threshold sensor: %w", err)
	}
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	default:
		return fmt.Errorf("threshold sensor: key %q is not numeric", s.key)
	}
	return bt.Set(bb, s.out, f >= s.threshold)
}
