package ze

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DefaultEventPoolSize is the capacity of the event pool of an API, if not configured otherwise.
const DefaultEventPoolSize = 256

// EventPool is a fixed capacity ring of host-visible events, all created upfront.
//
// GetEvent advances the cursor before returning, so the first event returned is the one at index 1 (mod
// capacity). Events are reissued on wraparound without checking whether their previous use completed: the
// caller must keep at most Capacity() operations in flight, or wait on an event before it comes around again.
//
// Resize destroys all events, invalidating any event previously returned.
//
// EventPool is not safe for concurrent use.
type EventPool struct {
	driver  Driver
	context ContextHandle
	pool    EventPoolHandle
	events  []EventHandle
	cursor  int
}

// NewEventPool creates a pool with capacity events.
func NewEventPool(driver Driver, context ContextHandle, capacity int) (*EventPool, error) {
	p := &EventPool{driver: driver, context: context}
	if err := p.create(capacity); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *EventPool) create(capacity int) error {
	if capacity <= 0 {
		return errors.Errorf("ze: invalid event pool capacity %d", capacity)
	}
	pool, result := p.driver.EventPoolCreate(p.context, EventPoolFlagHostVisible, uint32(capacity))
	if err := check(result, "zeEventPoolCreate"); err != nil {
		return err
	}
	p.pool = pool
	p.events = make([]EventHandle, 0, capacity)
	p.cursor = 0
	for ii := range capacity {
		event, result := p.driver.EventCreate(pool, uint32(ii))
		if err := check(result, "zeEventCreate"); err != nil {
			if err2 := p.Destroy(); err2 != nil {
				klog.Errorf("ze: failed to destroy partially created event pool: %+v", err2)
			}
			return errors.WithMessagef(err, "creating event #%d of %d", ii, capacity)
		}
		p.events = append(p.events, event)
	}
	klog.V(1).Infof("ze: created event pool 0x%x with %d events", uintptr(pool), capacity)
	return nil
}

// Capacity returns the number of events in the pool.
func (p *EventPool) Capacity() int {
	return len(p.events)
}

// Event returns the event at index, without moving the cursor.
func (p *EventPool) Event(index int) EventHandle {
	return p.events[index]
}

// GetEvent advances the cursor and returns the event it points to.
func (p *EventPool) GetEvent() (EventHandle, error) {
	if len(p.events) == 0 {
		return 0, errors.New("ze.EventPool.GetEvent() called on a destroyed pool")
	}
	p.cursor = (p.cursor + 1) % len(p.events)
	return p.events[p.cursor], nil
}

// Resize destroys all the events of the pool and creates a new pool with the given capacity.
// Any event previously returned by GetEvent becomes invalid.
func (p *EventPool) Resize(capacity int) error {
	if err := p.Destroy(); err != nil {
		return err
	}
	return p.create(capacity)
}

// Destroy destroys all events and the native pool. It is a no-op if already destroyed.
func (p *EventPool) Destroy() error {
	if p.pool == 0 {
		return nil
	}
	var err error
	for _, event := range p.events {
		if err2 := check(p.driver.EventDestroy(event), "zeEventDestroy"); err2 != nil && err == nil {
			err = err2
		}
	}
	p.events = nil
	if err2 := check(p.driver.EventPoolDestroy(p.pool), "zeEventPoolDestroy"); err2 != nil && err == nil {
		err = err2
	}
	p.pool = 0
	p.cursor = 0
	return err
}
