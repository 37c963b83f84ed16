package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"aranyani/internal/database"
	"aranyani/internal/device"
	"aranyani/internal/pipeline"
)

// Controller is the scheduler surface exposed to chat commands
type Controller interface {
	Start() error
	Stop()
	State() pipeline.SchedulerState
}

// StatusSource reports pipeline counters
type StatusSource interface {
	Stats() pipeline.SentinelStats
}

// DeviceMonitor reports the latest power and network reading
type DeviceMonitor interface {
	Status() (device.Status, bool)
}

// AlertLog lists recent dispatches
type AlertLog interface {
	ListDispatches(nodeID string, since *time.Time, limit int) ([]*database.DispatchRecord, error)
}

// Update represents a Telegram update
type Update struct {
	UpdateID int64            `json:"update_id"`
	Message  *TelegramMessage `json:"message,omitempty"`
}

// TelegramMessage is the subset of a Telegram message used for commands
type TelegramMessage struct {
	MessageID int64         `json:"message_id"`
	Chat      *TelegramChat `json:"chat,omitempty"`
	Date      int64         `json:"date"`
	Text      string        `json:"text,omitempty"`
}

// TelegramChat represents a Telegram chat
type TelegramChat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// CommandHandler lets rangers arm, disarm and inspect the sentinel from the
// authorized chat
type CommandHandler struct {
	bot        *TelegramBot
	controller Controller
	status     StatusSource
	alerts     AlertLog
	snapshots  pipeline.FrameSource
	device     DeviceMonitor
	nodeID     string
	startTime  time.Time

	mu           sync.Mutex
	lastUpdateID int64
}

// CommandHandlerConfig wires the handler's collaborators. Alerts,
// Snapshots and Device may be nil.
type CommandHandlerConfig struct {
	Bot        *TelegramBot
	Controller Controller
	Status     StatusSource
	Alerts     AlertLog
	Snapshots  pipeline.FrameSource
	Device     DeviceMonitor
	NodeID     string
}

// NewCommandHandler creates a new command handler
func NewCommandHandler(config CommandHandlerConfig) *CommandHandler {
	return &CommandHandler{
		bot:        config.Bot,
		controller: config.Controller,
		status:     config.Status,
		alerts:     config.Alerts,
		snapshots:  config.Snapshots,
		device:     config.Device,
		nodeID:     config.NodeID,
		startTime:  time.Now(),
	}
}

// StartPolling polls for updates until ctx is cancelled
func (ch *CommandHandler) StartPolling(ctx context.Context, interval time.Duration) error {
	if err := ch.bot.ready(); err != nil {
		return err
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}

	log.Printf("[Telegram] Command polling started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[Telegram] Command polling stopped")
			return nil
		case <-ticker.C:
			if err := ch.pollUpdates(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("[Telegram] Failed to poll updates: %v", err)
			}
		}
	}
}

// pollUpdates fetches and processes pending updates
func (ch *CommandHandler) pollUpdates(ctx context.Context) error {
	ch.mu.Lock()
	offset := ch.lastUpdateID + 1
	ch.mu.Unlock()

	result, err := ch.bot.call(ctx, "getUpdates", map[string]interface{}{
		"offset":          offset,
		"timeout":         1,
		"allowed_updates": []string{"message"},
	})
	if err != nil {
		return err
	}

	var updates []Update
	if err := json.Unmarshal(result, &updates); err != nil {
		return fmt.Errorf("failed to parse updates: %w", err)
	}

	for _, update := range updates {
		ch.mu.Lock()
		if update.UpdateID > ch.lastUpdateID {
			ch.lastUpdateID = update.UpdateID
		}
		ch.mu.Unlock()

		if update.Message != nil {
			ch.handleMessage(ctx, update.Message)
		}
	}
	return nil
}

// handleMessage processes an incoming message
func (ch *CommandHandler) handleMessage(ctx context.Context, msg *TelegramMessage) {
	if msg.Chat == nil {
		return
	}

	// Only the configured chat may control the node
	if strconv.FormatInt(msg.Chat.ID, 10) != ch.bot.ChatID() {
		log.Printf("[Telegram] Ignoring message from unauthorized chat %d", msg.Chat.ID)
		return
	}
	if !strings.HasPrefix(msg.Text, "/") {
		return
	}

	parts := strings.Fields(msg.Text)
	command := strings.ToLower(parts[0])
	args := parts[1:]
	if at := strings.Index(command, "@"); at != -1 {
		command = command[:at]
	}

	log.Printf("[Telegram] Processing command: %s", command)

	if command == "/snapshot" {
		err := ch.sendSnapshot(ctx)
		switch {
		case errors.Is(err, pipeline.ErrCaptureBusy):
			ch.reply(ctx, "📷 Camera is busy with a capture cycle, try again in a moment.")
		case err != nil:
			ch.reply(ctx, fmt.Sprintf("⚠️ Snapshot failed: %s", err))
		}
		return
	}

	ch.reply(ctx, ch.execute(command, args))
}

// execute runs a text command and returns the reply
func (ch *CommandHandler) execute(command string, args []string) string {
	switch command {
	case "/start", "/help":
		return ch.handleHelp()
	case "/status":
		return ch.handleStatus()
	case "/arm":
		return ch.handleArm()
	case "/disarm":
		return ch.handleDisarm()
	case "/alerts":
		return ch.handleAlerts(args)
	default:
		return fmt.Sprintf("Unknown command: %s\nUse /help to see available commands.", command)
	}
}

func (ch *CommandHandler) reply(ctx context.Context, text string) {
	if text == "" {
		return
	}
	if err := ch.bot.SendMessage(ctx, text); err != nil {
		log.Printf("[Telegram] Failed to send reply: %v", err)
	}
}

func (ch *CommandHandler) handleHelp() string {
	return "📋 <b>Available Commands</b>\n\n" +
		"/status - Sentinel status\n" +
		"/arm - Start capture\n" +
		"/disarm - Stop capture\n" +
		"/alerts [n] - Recent alerts\n" +
		"/snapshot - Current camera frame\n" +
		"/help - Show this help"
}

func (ch *CommandHandler) handleStatus() string {
	stats := ch.status.Stats()

	motion := "quiet"
	if stats.MotionActive {
		motion = "active"
	}
	model := "not loaded"
	if stats.ModelReady {
		model = "ready"
	}
	last := "none"
	if stats.LastAlertAt != nil {
		last = fmt.Sprintf("%s, %s ago", stats.LastAlertLabel, formatDuration(time.Since(*stats.LastAlertAt)))
	}

	msg := fmt.Sprintf(
		"📊 <b>%s</b>\n\n"+
			"⚙️ Scheduler: %s\n"+
			"🧠 Model: %s\n"+
			"👁️ Motion: %s\n"+
			"🖼️ Frames: %d (candidates %d)\n"+
			"🚨 Alerts: %d (excluded %d, cooling %d)\n"+
			"🕐 Last alert: %s\n"+
			"⏱️ Uptime: %s",
		ch.nodeID,
		ch.controller.State(),
		model,
		motion,
		stats.Frames, stats.Candidates,
		stats.Accepted, stats.Excluded, stats.Cooling,
		last,
		formatDuration(time.Since(ch.startTime)),
	)

	if ch.device != nil {
		if ds, ok := ch.device.Status(); ok {
			msg += "\n" + formatDevice(ds)
		}
	}
	return msg
}

func formatDevice(ds device.Status) string {
	power := "mains"
	if ds.HasBattery {
		icon := "🔋"
		if ds.LowBattery {
			icon = "🪫"
		}
		power = fmt.Sprintf("%s %d%%", icon, ds.BatteryLevel)
		if ds.Charging {
			power += " (charging)"
		}
	}
	network := "offline"
	if ds.Connected {
		network = ds.ConnectionType
	}
	return fmt.Sprintf("Power: %s\n📶 Network: %s", power, network)
}

func (ch *CommandHandler) handleArm() string {
	if err := ch.controller.Start(); err != nil {
		if errors.Is(err, pipeline.ErrAlreadyRunning) {
			return "ℹ️ Sentinel is already armed."
		}
		return fmt.Sprintf("⚠️ Failed to arm: %s", err)
	}
	return "✅ Sentinel armed."
}

func (ch *CommandHandler) handleDisarm() string {
	if ch.controller.State() == pipeline.StateIdle {
		return "ℹ️ Sentinel is not armed."
	}
	ch.controller.Stop()
	return "⏹️ Sentinel disarmed."
}

func (ch *CommandHandler) handleAlerts(args []string) string {
	if ch.alerts == nil {
		return "ℹ️ Alert history is not available."
	}

	limit := 5
	if len(args) > 0 {
		if n, err := strconv.Atoi(args[0]); err == nil && n > 0 && n <= 20 {
			limit = n
		}
	}

	records, err := ch.alerts.ListDispatches(ch.nodeID, nil, limit)
	if err != nil {
		return fmt.Sprintf("⚠️ Failed to load alerts: %s", err)
	}
	if len(records) == 0 {
		return "📋 <b>Recent Alerts</b>\n\nNo alerts recorded."
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📋 <b>Recent Alerts</b> (last %d)\n\n", len(records)))
	for i, rec := range records {
		zoneName, _ := rec.DetectedAt.Zone()
		status := "✅"
		if !rec.Success {
			status = "❌"
		}
		sb.WriteString(fmt.Sprintf("%d. %s %s %.0f%%\n   %s %s\n",
			i+1, status, rec.Label, rec.Confidence,
			rec.DetectedAt.Format("Jan 2, 15:04"), zoneName))
	}
	return sb.String()
}

func (ch *CommandHandler) sendSnapshot(ctx context.Context) error {
	if ch.snapshots == nil {
		return fmt.Errorf("no camera attached")
	}
	sample, err := ch.snapshots.Capture(ctx)
	if err != nil {
		return err
	}
	caption := fmt.Sprintf("📷 %s at %s", ch.nodeID, sample.CapturedAt.Format("15:04:05"))
	return ch.bot.SendPhoto(ctx, sample.Data, caption)
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
