package telegram

import (
	"context"
	"fmt"
	"html"
	"log"
	"sync"
	"time"

	"aranyani/internal/annotate"
	"aranyani/internal/device"
	"aranyani/internal/pipeline"
)

// Notifier announces accepted alerts and device warnings in the ranger chat.
// Messages are queued and sent from a single worker so the capture cycle
// never waits on Telegram.
type Notifier struct {
	bot    *TelegramBot
	nodeID string
	queue  chan announcement
	wg     sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	sent    uint64
	failed  uint64
	dropped uint64
}

// announcement is either an alert or a plain text warning
type announcement struct {
	event *pipeline.AlertEvent
	text  string
}

func (a announcement) String() string {
	if a.event != nil {
		return fmt.Sprintf("%s (%s)", a.event.ID, a.event.Label)
	}
	return "device warning"
}

// NewNotifier creates a notifier with a bounded queue
func NewNotifier(bot *TelegramBot, nodeID string, queueSize int) *Notifier {
	if queueSize <= 0 {
		queueSize = 8
	}
	n := &Notifier{
		bot:    bot,
		nodeID: nodeID,
		queue:  make(chan announcement, queueSize),
	}

	n.wg.Add(1)
	go n.run()
	return n
}

// OnAlert implements pipeline.AlertHandler
func (n *Notifier) OnAlert(event *pipeline.AlertEvent) {
	n.enqueue(announcement{event: event})
}

// OnLowBattery implements device.LowBatteryHandler
func (n *Notifier) OnLowBattery(status device.Status) {
	n.enqueue(announcement{text: FormatLowBattery(n.nodeID, status)})
}

func (n *Notifier) enqueue(a announcement) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed || !n.bot.IsEnabled() {
		return
	}

	select {
	case n.queue <- a:
	default:
		n.dropped++
		log.Printf("[Telegram] Queue full, dropping %s", a)
	}
}

func (n *Notifier) run() {
	defer n.wg.Done()

	for a := range n.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		var err error
		if a.event != nil {
			err = n.announce(ctx, a.event)
		} else {
			err = n.bot.SendMessage(ctx, a.text)
		}
		cancel()

		n.mu.Lock()
		if err != nil {
			n.failed++
		} else {
			n.sent++
		}
		n.mu.Unlock()

		if err != nil {
			log.Printf("[Telegram] Failed to announce %s: %v", a, err)
		}
	}
}

func (n *Notifier) announce(ctx context.Context, event *pipeline.AlertEvent) error {
	caption := FormatAlert(event)

	if len(event.Image) == 0 {
		return n.bot.SendMessage(ctx, caption)
	}

	photo, err := annotate.Stamp(event.Image, event)
	if err != nil {
		log.Printf("[Telegram] Sending unstamped photo: %v", err)
		photo = event.Image
	}
	return n.bot.SendPhoto(ctx, photo, caption)
}

// Stats returns sent, failed and dropped counts
func (n *Notifier) Stats() (sent, failed, dropped uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sent, n.failed, n.dropped
}

// Close stops accepting alerts and waits for queued ones to be sent
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	close(n.queue)
	n.mu.Unlock()

	n.wg.Wait()
}

// FormatAlert renders the HTML caption for an alert
func FormatAlert(event *pipeline.AlertEvent) string {
	zoneName, _ := event.Timestamp.Zone()
	msg := fmt.Sprintf(
		"🚨 <b>%s detected</b>\n\n"+
			"🎯 Confidence: %.1f%%\n"+
			"📡 Node: %s\n"+
			"📍 <a href=\"https://maps.google.com/?q=%.6f,%.6f\">%.5f, %.5f</a>\n"+
			"🕐 Time: %s %s",
		html.EscapeString(event.Label),
		event.Confidence,
		html.EscapeString(event.NodeID),
		event.Location.Latitude, event.Location.Longitude,
		event.Location.Latitude, event.Location.Longitude,
		event.Timestamp.Format("2 Jan 2006, 15:04:05"), zoneName,
	)

	if len(event.Predictions) > 1 {
		runnerUp := event.Predictions[1]
		msg += fmt.Sprintf("\n\n2nd: %s %.1f%%", html.EscapeString(runnerUp.Label), runnerUp.Confidence)
	}
	return msg
}

// FormatLowBattery renders the HTML low battery warning
func FormatLowBattery(nodeID string, status device.Status) string {
	msg := fmt.Sprintf(
		"🪫 <b>Low battery</b>\n\n"+
			"📡 Node: %s\n"+
			"🔋 Battery: %d%%",
		html.EscapeString(nodeID), status.BatteryLevel,
	)
	if status.LowPowerMode {
		msg += "\n⚡ Low power mode is on"
	}
	if status.ConnectionType != "" {
		msg += fmt.Sprintf("\n📶 Network: %s", status.ConnectionType)
	}
	return msg
}

var (
	_ pipeline.AlertHandler    = (*Notifier)(nil)
	_ device.LowBatteryHandler = (*Notifier)(nil)
)
