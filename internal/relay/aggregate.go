package relay

import (
	"context"
	"math"

	"github.com/juju/errors"
	"github.com/temoto/telerelay/tele"
	"github.com/temoto/telerelay/tele/codec"
)

// Average backlog with fresh reading, publish one envelope.
// Success deletes contributing rows. Failure keeps backlog and buffers fresh envelope as is.
func (self *Engine) cycleAggregate(ctx context.Context, r *Report, conn tele.Connection, env tele.Envelope, payload []byte) error {
	current, err := env.Decode()
	if err != nil {
		// own fresh envelope must decode
		err = errors.Annotate(tele.WrapKind(err, tele.ErrInternal), "relay aggregate current")
		r.addError(err)
		self.log.Errorf("%v", err)
		return self.store(ctx, r, payload)
	}

	backlog := self.list(ctx, r)
	readings := make([]tele.Reading, 0, len(backlog)+1)
	ids := make([]int64, 0, len(backlog))
	for _, m := range backlog {
		reading, err := decodeMessage(m.Payload)
		if err != nil {
			r.addError(err)
			self.log.Errorf("relay skip id=%d err=%v", m.ID, err)
			self.outcome(r, ActionSkipped, m.ID, m.Payload)
			continue
		}
		readings = append(readings, reading)
		ids = append(ids, m.ID)
	}
	readings = append(readings, current)

	agg, err := aggregate(readings, env.Timestamp)
	if err != nil {
		err = errors.Annotate(tele.WrapKind(err, tele.ErrInternal), "relay aggregate")
		r.addError(err)
		self.log.Errorf("%v", err)
		return self.store(ctx, r, payload)
	}
	aggPayload, err := agg.Marshal()
	if err != nil {
		err = tele.WrapKind(err, tele.ErrInternal)
		r.addError(err)
		return self.store(ctx, r, payload)
	}

	if err = self.publish(ctx, conn, aggPayload); err != nil {
		r.addError(err)
		self.log.Errorf("relay publish aggregate err=%v", err)
		// aggregate itself is not buffered, only its raw inputs remain
		return self.store(ctx, r, payload)
	}
	if len(ids) == 0 {
		self.outcome(r, ActionSent, 0, aggPayload)
		return nil
	}
	self.delete(ctx, r, ids)
	self.outcome(r, ActionAggregated, 0, aggPayload, ids...)
	return nil
}

func decodeMessage(b []byte) (tele.Reading, error) {
	env, err := tele.ParseEnvelope(b)
	if err != nil {
		return tele.Reading{}, err
	}
	return env.Decode()
}

// aggregate device id is from first reading, mixed devices are not separated.
func aggregate(rs []tele.Reading, timestamp string) (tele.Envelope, error) {
	if len(rs) == 0 {
		return tele.Envelope{}, errors.New("aggregate of nothing")
	}
	var sumT, sumH float64
	for _, r := range rs {
		sumT += r.Temperature
		sumH += r.Humidity
	}
	n := float64(len(rs))
	t, h := round1(sumT/n), round1(sumH/n)
	payload, err := codec.Encode(t, h)
	if err != nil {
		return tele.Envelope{}, err
	}
	return tele.Envelope{DeviceID: rs[0].DeviceID, Payload: payload, Timestamp: timestamp}, nil
}

func round1(x float64) float64 { return math.Round(x*10) / 10 }
