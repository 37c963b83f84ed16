package pipeline

import "testing"

func TestEventBusLabelFilter(t *testing.T) {
	bus := NewEventBus()

	var all, leopards int
	bus.Subscribe(AlertHandlerFunc(func(*AlertEvent) { all++ }))
	unsubscribe := bus.SubscribeLabel("Leopard", AlertHandlerFunc(func(*AlertEvent) { leopards++ }))

	bus.Publish(&AlertEvent{Label: "Leopard"})
	bus.Publish(&AlertEvent{Label: "Cattle"})
	bus.Publish(nil)

	if all != 2 || leopards != 1 {
		t.Fatalf("all=%d leopards=%d, want 2/1", all, leopards)
	}

	unsubscribe()
	bus.Publish(&AlertEvent{Label: "Leopard"})
	if leopards != 1 {
		t.Fatalf("handler called after unsubscribe")
	}
	if got := bus.SubscriberCount(); got != 1 {
		t.Fatalf("subscribers = %d, want 1", got)
	}
}

func TestEventBusChannelDropsWhenFull(t *testing.T) {
	bus := NewEventBus()
	ch, unsubscribe := bus.SubscribeChannel(1)

	bus.Publish(&AlertEvent{Label: "Cheetah"})
	bus.Publish(&AlertEvent{Label: "Wild Boar"})

	if ev := <-ch; ev.Label != "Cheetah" {
		t.Fatalf("got %s, want Cheetah", ev.Label)
	}
	select {
	case ev := <-ch:
		t.Fatalf("unexpected buffered event %s", ev.Label)
	default:
	}

	unsubscribe()
	if _, ok := <-ch; ok {
		t.Fatal("channel not closed on unsubscribe")
	}
	unsubscribe()
}
