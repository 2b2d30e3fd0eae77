package transport

import (
	"sync"
)

type subscriber struct {
	id       Subscription
	handlers Handlers
}

// dispatcher delivers a transport's events from one goroutine; raise never blocks.
type dispatcher struct {
	mu      sync.Mutex
	subs    []subscriber
	nextID  Subscription
	queue   []Event
	wake    chan struct{}
	done    chan struct{}
	started bool
	closed  bool
}

func newDispatcher() *dispatcher {
	return &dispatcher{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (d *dispatcher) Subscribe(h Handlers) Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	d.subs = append(d.subs, subscriber{id: d.nextID, handlers: h})
	return d.nextID
}

func (d *dispatcher) Unsubscribe(sub Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, s := range d.subs {
		if s.id == sub {
			d.subs = append(d.subs[:i:i], d.subs[i+1:]...)
			return
		}
	}
}

// start launches the delivery goroutine; it is a no-op after the first call or after close.
func (d *dispatcher) start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	go d.run()
}

// raise queues an event. Events raised after close are dropped.
func (d *dispatcher) raise(ev Event) {
	d.mu.Lock()
	if d.closed || !d.started {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, ev)
	d.mu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// close drops pending events, delivers final (if any) and waits for the goroutine to exit.
func (d *dispatcher) close(final *Event) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	started := d.started
	d.queue = nil
	if final != nil && started {
		d.queue = append(d.queue, *final)
	}
	d.mu.Unlock()
	if !started {
		return
	}
	select {
	case d.wake <- struct{}{}:
	default:
	}
	<-d.done
}

func (d *dispatcher) run() {
	defer close(d.done)
	for range d.wake {
		for {
			d.mu.Lock()
			if len(d.queue) == 0 {
				closed := d.closed
				d.mu.Unlock()
				if closed {
					return
				}
				break
			}
			ev := d.queue[0]
			d.queue = d.queue[1:]
			subs := append([]subscriber(nil), d.subs...)
			d.mu.Unlock()
			deliver(subs, ev)
		}
	}
}

func deliver(subs []subscriber, ev Event) {
	for _, s := range subs {
		h := s.handlers
		switch ev.Kind {
		case EventConnect:
			if h.OnConnect != nil {
				h.OnConnect()
			}
		case EventDisconnect:
			if h.OnDisconnect != nil {
				h.OnDisconnect()
			}
		case EventMessage:
			if h.OnMessage != nil {
				h.OnMessage(ev.Message)
			}
		case EventMessageChunk:
			if h.OnChunk != nil {
				h.OnChunk(ev.Chunk)
			}
		case EventPrescriptiveMeta:
			if h.OnAdvisory != nil {
				h.OnAdvisory(ev.Advisory)
			}
		}
	}
}
