package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/rcliao/story-engine/internal/model"
	"github.com/rcliao/story-engine/internal/store"
)

var transientStates = []model.State{
	model.StateLocking,
	model.StateSummarizing,
	model.StateNarrating,
	model.StateResetting,
}

// Recover returns sessions left in a transient state by a crash to the
// stable state their operation started from. An interrupted reset is
// completed instead. It reports how many sessions were repaired.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	stuck, err := e.store.ListSessions(ctx, store.ListParams{States: transientStates, Limit: -1})
	if err != nil {
		return 0, err
	}

	repaired := 0
	for _, s := range stuck {
		ok, err := e.recoverOne(ctx, s.ID)
		if err != nil {
			return repaired, err
		}
		if ok {
			repaired++
		}
	}
	return repaired, nil
}

func (e *Engine) recoverOne(ctx context.Context, id string) (bool, error) {
	release, err := e.locks.acquire(ctx, id)
	if err != nil {
		return false, err
	}
	defer release()

	sess, err := e.store.GetSession(ctx, id)
	if err != nil {
		return false, err
	}
	if !sess.State.Transient() {
		return false, nil
	}

	e.logger.Warn("recovering interrupted session",
		zap.String("session_id", sess.ID),
		zap.String("state", string(sess.State)))

	if sess.State == model.StateResetting {
		return true, e.completeReset(ctx, sess)
	}
	from := sess.State
	sess.State = from.Stable()
	return true, e.apply(ctx, sess, from, &store.Change{})
}
