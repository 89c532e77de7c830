package relay

import (
	"context"

	"github.com/temoto/telerelay/tele"
)

// Backlog first, oldest first, each row independently; then fresh envelope.
func (self *Engine) cyclePlain(ctx context.Context, r *Report, conn tele.Connection, payload []byte) error {
	for _, m := range self.list(ctx, r) {
		if ctx.Err() != nil {
			// interrupted, rest of backlog stays for next run
			break
		}
		if err := self.publish(ctx, conn, m.Payload); err != nil {
			r.addError(err)
			self.log.Errorf("relay retry id=%d err=%v", m.ID, err)
			continue
		}
		self.delete(ctx, r, []int64{m.ID})
		self.outcome(r, ActionRetried, m.ID, m.Payload)
	}

	if err := self.publish(ctx, conn, payload); err != nil {
		r.addError(err)
		self.log.Errorf("relay publish err=%v", err)
		return self.store(ctx, r, payload)
	}
	self.outcome(r, ActionSent, 0, payload)
	return nil
}
