package cl

import (
	"github.com/gomlx/kernelrt/device"
	"github.com/pkg/errors"
)

// Event is the completion handle of an enqueued command.
type Event struct {
	driver Driver
	event  EventHandle
}

var _ device.Event = (*Event)(nil)

// Native returns the native event, or 0 if it was released.
func (e *Event) Native() EventHandle {
	if e == nil {
		return 0
	}
	return e.event
}

// Await implements device.Event.
func (e *Event) Await() error {
	if e == nil || e.event == 0 {
		return errors.New("cl.Event is nil or has been released")
	}
	return check(e.driver.WaitForEvents([]EventHandle{e.event}), "clWaitForEvents")
}

// release the native event. It is a no-op if already released.
func (e *Event) release() error {
	if e == nil || e.event == 0 {
		return nil
	}
	status := e.driver.ReleaseEvent(e.event)
	e.event = 0
	return check(status, "clReleaseEvent")
}

// waitList converts dependencies to native events.
func waitList(deps []device.Event) ([]EventHandle, error) {
	if len(deps) == 0 {
		return nil, nil
	}
	events := make([]EventHandle, 0, len(deps))
	for i, dep := range deps {
		e, ok := dep.(*Event)
		if !ok {
			return nil, errors.Errorf("cl: dependency #%d is a %T, not a *cl.Event", i, dep)
		}
		if e.Native() == 0 {
			return nil, errors.Errorf("cl: dependency #%d has been released", i)
		}
		events = append(events, e.event)
	}
	return events, nil
}
