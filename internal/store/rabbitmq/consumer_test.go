package rabbitmq

import (
	"context"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

type fakeAck struct {
	acks, nacks int
	requeued    bool
}

func (f *fakeAck) Ack(uint64, bool) error { f.acks++; return nil }

func (f *fakeAck) Nack(_ uint64, _ bool, requeue bool) error {
	f.nacks++
	f.requeued = f.requeued || requeue
	return nil
}

func (f *fakeAck) Reject(_ uint64, requeue bool) error { return f.Nack(0, false, requeue) }

func deliver(t *testing.T, body string, h Handler) (*fakeAck, []string) {
	t.Helper()
	ack := &fakeAck{}
	var seen []string
	c := &Consumer{log: zerolog.Nop()}
	c.handle(context.Background(), 0, amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: []byte(body)},
		func(ctx context.Context, jobID string) error {
			seen = append(seen, jobID)
			return h(ctx, jobID)
		})
	return ack, seen
}

func TestHandle_AcksSuccess(t *testing.T) {
	ack, seen := deliver(t, `{"job_id":"01J0000000000000000000000A"}`, func(context.Context, string) error { return nil })
	if len(seen) != 1 || seen[0] != "01J0000000000000000000000A" {
		t.Fatalf("handler saw %v", seen)
	}
	if ack.acks != 1 || ack.nacks != 0 {
		t.Fatalf("expected a single ack, got %+v", ack)
	}
}

func TestHandle_DeadLettersFailures(t *testing.T) {
	ok := func(context.Context, string) error { return nil }
	cases := []struct {
		name    string
		body    string
		h       Handler
		handled int
	}{
		{"handler error", `{"job_id":"j1"}`, func(context.Context, string) error { return errors.New("boom") }, 1},
		{"bad json", `{job_id`, ok, 0},
		{"missing job id", `{"other":"x"}`, ok, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ack, seen := deliver(t, tc.body, tc.h)
			if len(seen) != tc.handled {
				t.Fatalf("expected %d handler calls, got %d", tc.handled, len(seen))
			}
			// requeue=false routes the message to the dead letter exchange
			if ack.acks != 0 || ack.nacks != 1 || ack.requeued {
				t.Fatalf("expected one nack without requeue, got %+v", ack)
			}
		})
	}
}
