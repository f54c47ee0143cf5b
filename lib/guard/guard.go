package guard

import (
	"go.uber.org/zap"

	"github.com/ardentperf/pg-idle-test/lib/instrumentation/prom"
)

// Evaluator decides whether a released session may go back to the idle set. Pools take one as a
// configuration parameter and call it exactly once per release, before the session can be handed
// to anyone else.
type Evaluator interface {
	Evaluate(s Session) Decision
}

type EvaluatorFunc func(s Session) Decision

func (T EvaluatorFunc) Evaluate(s Session) Decision {
	return T(s)
}

type Config struct {
	// Name labels metrics and logs, usually the pool name.
	Name string

	Logger *zap.Logger

	// OnDecision is called with every decision. It runs on the releasing goroutine and must not
	// block.
	OnDecision func(Decision)
}

// Guard probes a released session and applies Decide. It keeps no state between calls and is safe
// for concurrent use.
type Guard struct {
	config Config
}

func New(config Config) *Guard {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &Guard{
		config: config,
	}
}

func (T *Guard) Evaluate(s Session) Decision {
	decision := T.decide(s)
	T.emit(decision)
	return decision
}

func (T *Guard) decide(s Session) (decision Decision) {
	defer func() {
		if r := recover(); r != nil {
			decision = Discard(StatusUnknown, ReasonProbeFailed)
			T.config.Logger.Error("session guard panicked", zap.String("pool", T.config.Name), zap.Any("panic", r))
		}
	}()

	closed := isClosed(s)
	status, err := Probe(s)
	if err != nil && !closed {
		T.config.Logger.Debug("session probe failed", zap.String("pool", T.config.Name), zap.Error(err))
	}
	return Decide(status, closed)
}

func (T *Guard) emit(decision Decision) {
	defer func() {
		if r := recover(); r != nil {
			T.config.Logger.Error("decision callback panicked", zap.String("pool", T.config.Name), zap.Any("panic", r))
		}
	}()

	prom.Guard.Decisions(prom.GuardLabels{
		Pool:    T.config.Name,
		Outcome: decision.Reason().Outcome(),
	}).Inc()

	switch decision.Reason() {
	case ReasonNone:
	case ReasonOpenTransaction:
		T.config.Logger.Warn(
			"discarding session released with an open transaction",
			zap.String("pool", T.config.Name),
			zap.Stringer("status", decision.Status()),
		)
	default:
		T.config.Logger.Debug(
			"discarding session",
			zap.String("pool", T.config.Name),
			zap.String("reason", string(decision.Reason())),
		)
	}

	if T.config.OnDecision != nil {
		T.config.OnDecision(decision)
	}
}

var _ Evaluator = (*Guard)(nil)
var _ Evaluator = EvaluatorFunc(nil)
