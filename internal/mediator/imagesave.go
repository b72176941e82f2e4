// Package mediator carries the host side events and sinks the solver
// talks to: the before-image-saved hook, application status and user
// notifications.
package mediator

import (
	"context"
	"sync"

	evbus "github.com/asaskevich/EventBus"

	"solveeverylight/internal/imaging"
)

// TopicBeforeImageSaved is published before an image is written to disk.
const TopicBeforeImageSaved = "image:before-saved"

// BeforeImageSavedEvent is the payload of TopicBeforeImageSaved. Handlers
// may append headers to Image; Rendered is the pending preview, if any.
type BeforeImageSavedEvent struct {
	Image    *imaging.Frame
	Rendered <-chan []byte
}

// BeforeImageSavedHandler handles one save event.
type BeforeImageSavedHandler func(ctx context.Context, ev BeforeImageSavedEvent)

// ImageSaveMediator dispatches save events to registered handlers.
// BeforeImageSaved returns only after every handler has finished.
type ImageSaveMediator struct {
	bus evbus.Bus

	mu       sync.Mutex
	nextID   uint64
	handlers map[uint64]BeforeImageSavedHandler
	order    []uint64
}

// NewImageSaveMediator returns a mediator on a fresh bus.
func NewImageSaveMediator() *ImageSaveMediator {
	return NewImageSaveMediatorOn(evbus.New())
}

// NewImageSaveMediatorOn attaches to an existing bus.
func NewImageSaveMediatorOn(bus evbus.Bus) *ImageSaveMediator {
	m := &ImageSaveMediator{bus: bus, handlers: make(map[uint64]BeforeImageSavedHandler)}
	// a single bus subscriber fans out to our own registry so handlers can
	// be removed individually
	_ = bus.Subscribe(TopicBeforeImageSaved, m.dispatch)
	return m
}

// Subscribe registers h and returns the function that removes it.
func (m *ImageSaveMediator) Subscribe(h BeforeImageSavedHandler) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.handlers[id] = h
	m.order = append(m.order, id)
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { m.remove(id) })
	}
}

func (m *ImageSaveMediator) remove(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// Subscribers reports how many handlers are registered.
func (m *ImageSaveMediator) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}

// BeforeImageSaved publishes ev and waits for all handlers.
func (m *ImageSaveMediator) BeforeImageSaved(ctx context.Context, ev BeforeImageSavedEvent) {
	// the bus calls handlers through reflect, which cannot pass a nil interface
	if ctx == nil {
		ctx = context.Background()
	}
	m.bus.Publish(TopicBeforeImageSaved, ctx, ev)
}

func (m *ImageSaveMediator) dispatch(ctx context.Context, ev BeforeImageSavedEvent) {
	m.mu.Lock()
	hs := make([]BeforeImageSavedHandler, 0, len(m.order))
	for _, id := range m.order {
		hs = append(hs, m.handlers[id])
	}
	m.mu.Unlock()

	for _, h := range hs {
		h(ctx, ev)
	}
}
