package mediator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solveeverylight/internal/imaging"
)

func TestBeforeImageSavedRunsHandlersInOrder(t *testing.T) {
	m := NewImageSaveMediator()
	var got []string
	m.Subscribe(func(ctx context.Context, ev BeforeImageSavedEvent) { got = append(got, "a:"+ev.Image.ID) })
	m.Subscribe(func(ctx context.Context, ev BeforeImageSavedEvent) { got = append(got, "b:"+ev.Image.ID) })

	m.BeforeImageSaved(context.Background(), BeforeImageSavedEvent{Image: &imaging.Frame{ID: "1"}})
	assert.Equal(t, []string{"a:1", "b:1"}, got)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	m := NewImageSaveMediator()
	calls := 0
	unsub := m.Subscribe(func(context.Context, BeforeImageSavedEvent) { calls++ })
	keep := 0
	m.Subscribe(func(context.Context, BeforeImageSavedEvent) { keep++ })
	require.Equal(t, 2, m.Subscribers())

	unsub()
	unsub()
	assert.Equal(t, 1, m.Subscribers())

	m.BeforeImageSaved(context.Background(), BeforeImageSavedEvent{Image: &imaging.Frame{}})
	assert.Zero(t, calls)
	assert.Equal(t, 1, keep)
}

func TestHandlerMutationsVisibleToPublisher(t *testing.T) {
	m := NewImageSaveMediator()
	m.Subscribe(func(_ context.Context, ev BeforeImageSavedEvent) {
		ev.Image.AddHeader(imaging.StringHeader("TEST", "T", ""))
	})
	img := &imaging.Frame{}
	m.BeforeImageSaved(context.Background(), BeforeImageSavedEvent{Image: img})
	assert.Len(t, img.HeadersByKey("TEST"), 1)
}

func TestBeforeImageSavedWithNilContext(t *testing.T) {
	m := NewImageSaveMediator()
	var got context.Context
	m.Subscribe(func(ctx context.Context, ev BeforeImageSavedEvent) { got = ctx })

	var ctx context.Context
	require.NotPanics(t, func() {
		m.BeforeImageSaved(ctx, BeforeImageSavedEvent{Image: &imaging.Frame{}})
	})
	assert.Equal(t, context.Background(), got)
}

func TestStatusMediator(t *testing.T) {
	var seen []ApplicationStatus
	m := NewStatusMediator(StatusFunc(func(s ApplicationStatus) { seen = append(seen, s) }))

	m.StatusUpdate(ApplicationStatus{Source: "Plugin X", Status: "Plate solving"})
	assert.Len(t, m.Current(), 1)
	m.StatusUpdate(ApplicationStatus{Source: "Plugin X"})
	assert.Empty(t, m.Current())
	assert.Len(t, seen, 2)
}

func TestNotificationFeed(t *testing.T) {
	f := NewNotificationFeed(2)
	var live []Notification
	f.Listen(func(n Notification) { live = append(live, n) })

	f.ShowWarning("one")
	f.ShowError("two")
	f.ShowError("three")

	assert.Len(t, live, 3)
	assert.Equal(t, []Notification{{Level: "error", Text: "two"}, {Level: "error", Text: "three"}}, f.Recent())
}

func TestNotificationListenerMayListen(t *testing.T) {
	f := NewNotificationFeed(5)
	late := 0
	f.Listen(func(Notification) {
		f.Listen(func(Notification) { late++ })
	})

	f.ShowWarning("first")
	assert.Zero(t, late, "listeners added during delivery wait for the next notification")
	f.ShowWarning("second")
	assert.Equal(t, 1, late)
}

func TestMultiNotifier(t *testing.T) {
	a, b := NewNotificationFeed(5), NewNotificationFeed(5)
	MultiNotifier{a, b}.ShowWarning("w")
	assert.Len(t, a.Recent(), 1)
	assert.Len(t, b.Recent(), 1)
}
