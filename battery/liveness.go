package battery

import (
	"context"
	"time"

	"github.com/looplab/fsm"
)

// Состояния источника данных
const (
	LivenessUnknown = "unknown"
	LivenessOnline  = "online"
	LivenessStale   = "stale"
)

const (
	eventFresh  = "fresh"
	eventExpire = "expire"
)

// Liveness следит за возрастом данных и переводит источник между
// состояниями unknown, online и stale
type Liveness struct {
	status     Status
	staleAfter time.Duration
	machine    *fsm.FSM
	onChange   func(from, to string)
}

// NewLiveness создает монитор для status. onChange может быть nil.
func NewLiveness(status Status, staleAfter time.Duration, onChange func(from, to string)) *Liveness {
	l := &Liveness{status: status, staleAfter: staleAfter, onChange: onChange}

	events := fsm.Events{
		{Name: eventFresh, Src: []string{LivenessUnknown, LivenessStale}, Dst: LivenessOnline},
		{Name: eventExpire, Src: []string{LivenessUnknown, LivenessOnline}, Dst: LivenessStale},
	}
	callbacks := fsm.Callbacks{
		"enter_state": func(_ context.Context, e *fsm.Event) {
			if l.onChange != nil {
				l.onChange(e.Src, e.Dst)
			}
		},
	}
	l.machine = fsm.NewFSM(LivenessUnknown, events, callbacks)
	return l
}

// Current текущее состояние
func (l *Liveness) Current() string {
	return l.machine.Current()
}

// Check сравнивает возраст данных с порогом и при необходимости меняет
// состояние. Пока данные ни разу не стали действительными, состояние unknown.
func (l *Liveness) Check(ctx context.Context) (string, error) {
	if !l.status.IsValid() {
		return l.machine.Current(), nil
	}

	event := eventFresh
	if l.status.Age() > l.staleAfter {
		event = eventExpire
	}
	if l.machine.Can(event) {
		if err := l.machine.Event(ctx, event); err != nil {
			return l.machine.Current(), err
		}
	}
	return l.machine.Current(), nil
}

// Run проверяет состояние с периодом interval до отмены ctx
func (l *Liveness) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = l.Check(ctx)
		}
	}
}
