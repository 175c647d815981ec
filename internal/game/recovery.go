package game

import (
	"context"

	"gamebot/internal/eventbus"
	logx "gamebot/pkg/logx"
)

// Recover re-arms sessions persisted by a previous process. It runs once at
// boot, before any tick. Unreadable or malformed records count as absent;
// sessions whose deadline already passed are revealed and deleted.
func (s *Scheduler) Recover(ctx context.Context) error {
	recovered, expired := 0, 0
	for _, key := range s.Channels() {
		if err := ctx.Err(); err != nil {
			return err
		}
		st := s.channels[key]
		k := s.key(key)

		if rot, ok, err := s.store.LoadRotation(ctx, k); err != nil {
			s.log.Warn("rotation unreadable", logx.String("channel", key), logx.Err(err))
		} else if ok {
			s.log.Debug("rotation loaded", logx.String("channel", key), logx.String("date", rot.DateKey), logx.Int("remaining", len(rot.Queue)))
		}

		rec, ok, err := s.store.LoadSession(ctx, k)
		if err != nil {
			s.log.Warn("session unreadable; treating as absent", logx.String("channel", key), logx.Err(err))
			continue
		}
		if !ok {
			continue
		}
		sess, err := sessionFromRecord(key, rec)
		if err != nil {
			s.log.Warn("session record undecodable; treating as absent", logx.String("channel", key), logx.String("kind", rec.Kind), logx.Err(err))
			continue
		}

		now := s.clock.Now()
		st.mu.Lock()
		if st.active != nil {
			st.mu.Unlock()
			continue
		}
		if st.lastStart.Before(sess.StartedAt) {
			st.lastStart = sess.StartedAt
		}
		if !now.Before(sess.EndsAt) {
			out := s.resolveLocked(ctx, st, sess, StatusTimedOut, Player{}, now)
			st.mu.Unlock()
			s.finishTimeout(st, out)
			expired++
			continue
		}
		st.active = sess
		s.armLocked(st, sess, now)
		st.mu.Unlock()

		recovered++
		remaining := sess.EndsAt.Sub(now)
		s.log.Info("session recovered",
			logx.String("channel", key),
			logx.String("session", sess.ID),
			logx.String("kind", sess.Challenge.Kind()),
			logx.Duration("remaining", remaining),
			logx.Bool("hint_pending", sess.hint.Pending()),
		)
		publish(s.bus, eventbus.SessionRecovered, eventbus.SessionEvent{Channel: key, Session: sess.ID, Kind: sess.Challenge.Kind(), Duration: remaining})
	}
	if recovered > 0 || expired > 0 {
		s.log.Info("recovery complete", logx.Int("recovered", recovered), logx.Int("expired", expired))
	}
	return nil
}
