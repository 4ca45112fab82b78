package bt

// RegisterBuiltins registers the kinds shipped with the engine.
func RegisterBuiltins(r *Registry) {
	r.MustRegister("Sequence", Metadata{Path: "Composites", Description: "Runs children in order until one fails"},
		func() Node { return NewSequence() })
	r.MustRegister("Selector", Metadata{Path: "Composites", Description: "Runs children in order until one succeeds"},
		func() Node { return NewSelector() })
	r.MustRegister("Parallel", Metadata{Path: "Composites", Description: "Runs all children every tick"},
		func() Node { return NewParallel(RequireAll, RequireAny) })

	r.MustRegister("Inverter", Metadata{Path: "Decorators"}, func() Node { return NewInverter(nil) })
	r.MustRegister("Succeeder", Metadata{Path: "Decorators"}, func() Node { return NewSucceeder(nil) })
	r.MustRegister("Failer", Metadata{Path: "Decorators"}, func() Node { return NewFailer(nil) })
	r.MustRegister("Repeat", Metadata{Path: "Decorators", Description: "Repeats its child; times 0 is forever"},
		func() Node { return NewRepeat(0, nil) })
	r.MustRegister("RepeatUntilFailure", Metadata{Name: "Repeat Until Failure", Path: "Decorators"},
		func() Node { return NewRepeatUntilFailure(nil) })
	r.MustRegister("Retry", Metadata{Path: "Decorators"}, func() Node { return NewRetry(3, nil) })
	r.MustRegister("Cooldown", Metadata{Path: "Decorators/Time"}, func() Node { return NewCooldown(1, nil) })
	r.MustRegister("Timeout", Metadata{Path: "Decorators/Time"}, func() Node { return NewTimeout(1, nil) })
	r.MustRegister("Delay", Metadata{Path: "Decorators/Time"}, func() Node { return NewDelay(1, nil) })
	r.MustRegister("Timer", Metadata{Path: "Decorators/Time", Description: "Legacy name of Delay", Hide: true},
		func() Node { return NewDelay(1, nil) })
	r.MustRegister("Probability", Metadata{Path: "Decorators"}, func() Node { return NewProbability(0.5, nil) })

	r.MustRegister("Wait", Metadata{Path: "Actions/Time"}, func() Node { return NewWait(1) })
	r.MustRegister("SetVariable", Metadata{Name: "Set Variable", Path: "Actions/Blackboard"},
		func() Node { return NewSetVariable("", nil) })
	r.MustRegister("Log", Metadata{Path: "Actions/Debug"}, func() Node { return NewLog("") })
	r.MustRegister("Success", Metadata{Path: "Actions/Debug"}, func() Node { return NewSucceed() })
	r.MustRegister("Failure", Metadata{Path: "Actions/Debug"}, func() Node { return NewFail() })

	r.MustRegister("IsTrue", Metadata{Name: "Is True", Path: "Conditions/Blackboard"},
		func() Node { return NewIsTrue("") })
	r.MustRegister("Compare", Metadata{Path: "Conditions/Blackboard"},
		func() Node { return NewCompare("==", 0, 0) })
	r.MustRegister("Expression", Metadata{Path: "Conditions/Blackboard", Description: "Boolean expression over blackboard keys"},
		func() Node { return &Expression{} })
}
