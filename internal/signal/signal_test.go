package signal

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"testing"
)

type memRecorder struct{ seen []string }

func (m *memRecorder) RecordSignal(_ context.Context, channel string) error {
	m.seen = append(m.seen, channel)
	return nil
}

func TestPublishFansOutInOrder(t *testing.T) {
	var buf bytes.Buffer
	rec := &memRecorder{}
	d := NewDispatcher(rec, log.New(&buf, "", 0))
	var order []string
	d.Subscribe("ship.damaged", func(context.Context, string) error {
		order = append(order, "quest")
		return errors.New("quest part missing")
	})
	d.Subscribe("ship.damaged", func(context.Context, string) error {
		order = append(order, "letter")
		return nil
	})

	d.Publish(context.Background(), "ship.damaged")
	d.Publish(context.Background(), "nobody.listens")
	d.Publish(context.Background(), "")

	if strings.Join(order, ",") != "quest,letter" {
		t.Fatalf("handler order %v", order)
	}
	if d.Published("ship.damaged") != 1 || d.Published("nobody.listens") != 1 {
		t.Fatalf("publish counts wrong")
	}
	if len(rec.seen) != 2 {
		t.Fatalf("recorder saw %v", rec.seen)
	}
	if !strings.Contains(buf.String(), "quest part missing") {
		t.Fatalf("handler error not logged: %q", buf.String())
	}
}
