package events

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"adc-service/internal/model"
)

func receive(t *testing.T, ch <-chan model.DeviceEvent) model.DeviceEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("subscriber channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return model.DeviceEvent{}
}

func TestEventBusRouting(t *testing.T) {
	bus := NewEventBus(zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		bus.Run(ctx)
		close(done)
	}()

	all := bus.Subscribe()
	acq := bus.Subscribe(model.EventAcquisitionCompleted, model.EventAcquisitionFailed)

	bus.Publish(model.NewDeviceEvent(model.EventDeviceConnected, "adc-1", model.SeverityInfo, nil))
	bus.Publish(model.NewDeviceEvent(model.EventAcquisitionFailed, "adc-1", model.SeverityError, model.JSONObject{"frames": 3}))

	if ev := receive(t, all); ev.EventType != model.EventDeviceConnected {
		t.Fatalf("first event = %s", ev.EventType)
	}
	if ev := receive(t, all); ev.EventType != model.EventAcquisitionFailed {
		t.Fatalf("second event = %s", ev.EventType)
	}
	ev := receive(t, acq)
	if ev.EventType != model.EventAcquisitionFailed || ev.Data["frames"] != 3 {
		t.Fatalf("filtered event = %+v", ev)
	}

	cancel()
	<-done
	if _, ok := <-all; ok {
		t.Fatal("subscriber channel still open after shutdown")
	}
	// Publishing after shutdown is a no-op.
	bus.Publish(model.NewDeviceEvent(model.EventDeviceError, "adc-1", model.SeverityError, nil))
	if _, ok := <-bus.Subscribe(); ok {
		t.Fatal("Subscribe after shutdown returned an open channel")
	}
}

func TestSubjects(t *testing.T) {
	ev := model.NewDeviceEvent(model.EventAcquisitionProgress, "lab.adc *1", model.SeverityInfo, nil)
	if got := DeviceSubject("adc", ev); got != "adc.events.lab_adc__1.acquisition_progress" {
		t.Fatalf("DeviceSubject = %q", got)
	}
	if got := AllSubject("adc"); got != "adc.events.all" {
		t.Fatalf("AllSubject = %q", got)
	}
}

func TestPublisherFunc(t *testing.T) {
	var got []model.EventType
	var p Publisher = PublisherFunc(func(ev model.DeviceEvent) { got = append(got, ev.EventType) })
	p.Publish(model.NewDeviceEvent(model.EventDeviceConnected, "x", model.SeverityInfo, nil))
	if len(got) != 1 {
		t.Fatalf("got %v", got)
	}
}
