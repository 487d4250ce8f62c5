// Package bridge implements the message relay core: the filtering,
// deduplication and correlation logic that decides, for each inbound event,
// whether it is forwarded, suppressed or treated as a delivery acknowledgment.
package bridge

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"corrade-discord-bridge/config"
	"corrade-discord-bridge/internal/logger"
	"corrade-discord-bridge/internal/metrics"
)

const (
	// relayCommand is the Corrade command used to send group messages.
	relayCommand = "tell"

	// notificationTypeGroup marks a broker payload as a group chat notification.
	notificationTypeGroup = "group"

	// The reserved sender identity Corrade uses for platform-generated
	// system messages, for example when no group member is online.
	systemSenderFirstName = "Second"
	systemSenderLastName  = "Life"

	sourcePlatformTag  = "SL"
	gatewayPlatformTag = "Discord"
)

// ChannelKindText is the only channel kind whose messages are relayed.
const ChannelKindText = "text"

// relayedMessageRegex matches group messages that this bridge itself relayed
// from Discord earlier. Forwarding such a message back to Discord would
// create an infinite echo loop.
var relayedMessageRegex = regexp.MustCompile(`(?m)^.+?#[0-9]+? \[Discord\]:.+?$`)

// ChatMessage is a Discord gateway message event flattened for the engine.
type ChatMessage struct {
	AuthorName          string
	AuthorDiscriminator string
	AuthorBot           bool
	Content             string
	Attachments         []string // attachment URLs in message order
	ChannelID           string
	ChannelName         string
	ChannelKind         string
	ServerName          string
}

// Publisher sends a payload to the broker group topic.
type Publisher interface {
	Publish(payload []byte) error
}

// ChannelSender sends plain text to a Discord channel.
type ChannelSender interface {
	SendText(channelID, text string) error
}

const (
	directionBrokerToDiscord = "broker_to_discord"
	directionDiscordToBroker = "discord_to_broker"
)

// EngineStats tracks relay counters.
type EngineStats struct {
	BrokerReceived uint64
	ChatReceived   uint64
	Relayed        uint64
	Suppressed     uint64
	Acked          uint64
}

type eventKind int

const (
	eventBroker eventKind = iota
	eventChat
	eventChannelResolved
)

type event struct {
	kind      eventKind
	payload   []byte
	chat      ChatMessage
	channelID string
}

// Engine is the relay rule engine. All decision logic runs on a single
// goroutine draining the event queue, so the pending table and the resolved
// channel handle are mutated sequentially without locks.
type Engine struct {
	group     config.GroupConfig
	server    string
	publisher Publisher
	sender    ChannelSender
	pending   *PendingTable
	channelID string // resolved Discord channel handle, empty until resolution
	events    chan event
	done      chan struct{}
	closeOnce sync.Once
	logger    *logger.Logger
	metrics   *metrics.Metrics
	wg        sync.WaitGroup
	stats     EngineStats
}

// NewEngine creates a relay engine wired to the given sinks.
func NewEngine(cfg *config.Config, publisher Publisher, sender ChannelSender, log *logger.Logger, m *metrics.Metrics) *Engine {
	return &Engine{
		group:     cfg.Corrade.Group,
		server:    cfg.Discord.Server,
		publisher: publisher,
		sender:    sender,
		pending:   NewPendingTable(),
		events:    make(chan event, 256),
		done:      make(chan struct{}),
		logger:    log,
		metrics:   m,
	}
}

// Start launches the engine event loop.
func (e *Engine) Start() {
	e.wg.Add(1)
	go e.run()
}

// Close stops the event loop and waits for it to drain.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.done)
	})
	e.wg.Wait()
}

func (e *Engine) run() {
	defer e.wg.Done()

	for {
		select {
		case <-e.done:
			return
		case ev := <-e.events:
			e.dispatch(ev)
		}
	}
}

func (e *Engine) dispatch(ev event) {
	switch ev.kind {
	case eventBroker:
		e.processBrokerMessage(ev.payload)
	case eventChat:
		e.processChatMessage(ev.chat)
	case eventChannelResolved:
		e.processChannelResolved(ev.channelID)
	}
}

// HandleBrokerMessage enqueues a raw broker payload for processing.
func (e *Engine) HandleBrokerMessage(payload []byte) {
	e.enqueue(event{kind: eventBroker, payload: payload})
}

// HandleChatMessage enqueues a Discord message event for processing.
func (e *Engine) HandleChatMessage(msg ChatMessage) {
	e.enqueue(event{kind: eventChat, chat: msg})
}

// SetChannel enqueues the resolved Discord channel handle. The handle is
// single-assignment: once set it never changes for the process lifetime.
func (e *Engine) SetChannel(channelID string) {
	e.enqueue(event{kind: eventChannelResolved, channelID: channelID})
}

func (e *Engine) enqueue(ev event) {
	select {
	case e.events <- ev:
	case <-e.done:
	}
}

// GetStats returns the current relay counters.
func (e *Engine) GetStats() EngineStats {
	return EngineStats{
		BrokerReceived: atomic.LoadUint64(&e.stats.BrokerReceived),
		ChatReceived:   atomic.LoadUint64(&e.stats.ChatReceived),
		Relayed:        atomic.LoadUint64(&e.stats.Relayed),
		Suppressed:     atomic.LoadUint64(&e.stats.Suppressed),
		Acked:          atomic.LoadUint64(&e.stats.Acked),
	}
}

func (e *Engine) processChannelResolved(channelID string) {
	if e.channelID != "" {
		e.logger.Debug("discord channel already resolved, ignoring",
			"channel", channelID)
		return
	}
	e.channelID = channelID
	e.logger.Info("discord channel id retrieved successfully",
		"channel", channelID)
}

// processBrokerMessage implements the inbound-from-broker decision sequence.
// First match wins.
func (e *Engine) processBrokerMessage(payload []byte) {
	atomic.AddUint64(&e.stats.BrokerReceived, 1)

	// If the Discord channel is not yet known then do not process the notification.
	if e.channelID == "" {
		e.logger.Error("message received from corrade but discord channel could not be retrieved, please check your configuration")
		e.suppress(directionBrokerToDiscord, "channel_unresolved")
		return
	}

	n := ParseNotification(payload)

	// A command other than the relay-send command is a status report for a
	// message this bridge published earlier, not a chat notification.
	if command, ok := n["command"]; ok && command != relayCommand {
		e.processStatusReport(n)
		return
	}

	if n["type"] != notificationTypeGroup {
		e.logger.Info("skipping message without notification type")
		e.suppress(directionBrokerToDiscord, "not_group_notification")
		return
	}

	if !strings.EqualFold(n["group"], e.group.Name) {
		e.logger.Info("ignoring message for group not defined within the configuration",
			"group", n["group"])
		e.suppress(directionBrokerToDiscord, "foreign_group")
		return
	}

	// Ignore system messages; for example, when no group member is online.
	if n["firstname"] == systemSenderFirstName && n["lastname"] == systemSenderLastName {
		e.logger.Info("ignoring system message")
		e.suppress(directionBrokerToDiscord, "system_message")
		return
	}

	// If this is a message relayed by the bridge to the group, then ignore
	// it to prevent echoing the message multiple times.
	if relayedMessageRegex.MatchString(n["message"]) {
		e.logger.Info("ignoring relayed message")
		e.suppress(directionBrokerToDiscord, "relayed_echo")
		return
	}

	text := fmt.Sprintf("%s %s [%s]: %s",
		n["firstname"], n["lastname"], sourcePlatformTag, n["message"])

	if err := e.sender.SendText(e.channelID, text); err != nil {
		e.logger.Error("failed to forward message to discord",
			"channel", e.channelID,
			"error", err)
		return
	}

	atomic.AddUint64(&e.stats.Relayed, 1)
	e.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.IncRelayed(directionBrokerToDiscord)
	})
	e.logger.Debug("relayed group message to discord",
		"channel", e.channelID)
}

// processStatusReport correlates a delivery status report back to a pending
// outbound message. A status report is never itself forwarded.
func (e *Engine) processStatusReport(n Notification) {
	// Do not process reports without a success status.
	if !n.Has("success") {
		return
	}

	id, ok := n["id"]
	if !ok {
		e.logger.Warn("found message that does not belong to us",
			"notification", n)
		e.safeMetricsUpdate(func(m *metrics.Metrics) {
			m.IncAcks("orphaned")
		})
		return
	}

	payload, found := e.pending.Remove(id)
	if !found {
		e.logger.Warn("found message that does not belong to us",
			"id", id)
		e.safeMetricsUpdate(func(m *metrics.Metrics) {
			m.IncAcks("orphaned")
		})
		return
	}

	atomic.AddUint64(&e.stats.Acked, 1)
	e.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.SetPendingAcks(float64(e.pending.Len()))
	})

	// No retry in either case; the pending record is discarded.
	if n["success"] == "True" {
		e.logger.Info("successfully sent message", "id", id)
		e.safeMetricsUpdate(func(m *metrics.Metrics) {
			m.IncAcks("success")
		})
		return
	}

	e.logger.Warn("tell command failed",
		"id", id,
		"payload", payload.Encode())
	e.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.IncAcks("failure")
	})
}

// processChatMessage implements the inbound-from-gateway decision sequence.
// First match wins.
func (e *Engine) processChatMessage(msg ChatMessage) {
	atomic.AddUint64(&e.stats.ChatReceived, 1)

	// Ignore messages from bots (including self) to prevent relay loops.
	if msg.AuthorBot {
		e.logger.Info("not relaying discord message from discord bot",
			"author", msg.AuthorName)
		e.suppress(directionDiscordToBroker, "bot_author")
		return
	}

	content := msg.Content
	for _, attachment := range msg.Attachments {
		content = content + " " + attachment
	}

	if len(content) == 0 {
		e.logger.Info("not relaying empty discord message")
		e.suppress(directionDiscordToBroker, "empty_message")
		return
	}

	// Ignore messages that are not from the configured channel. This also
	// covers the unresolved case: no channel id equals the empty handle.
	if msg.ChannelID != e.channelID || e.channelID == "" {
		e.logger.Info("not relaying discord message from channel other than the configured channel",
			"channel", msg.ChannelName)
		e.suppress(directionDiscordToBroker, "wrong_channel")
		return
	}

	if msg.ServerName != e.server {
		e.logger.Info("not relaying discord message from different server than the configured server",
			"server", msg.ServerName)
		e.suppress(directionDiscordToBroker, "wrong_server")
		return
	}

	// Discard anything but text channels.
	if msg.ChannelKind != ChannelKindText {
		e.logger.Info("not relaying discord message from channel that is not text",
			"kind", msg.ChannelKind)
		e.suppress(directionDiscordToBroker, "not_text_channel")
		return
	}

	reply := fmt.Sprintf("%s#%s [%s]: %s",
		msg.AuthorName, msg.AuthorDiscriminator, gatewayPlatformTag, content)

	// Generate a correlation identifier so the status report sent back by
	// Corrade can be matched to this message.
	id := uuid.NewString()

	payload := url.Values{}
	payload.Set("command", relayCommand)
	payload.Set("group", e.group.Name)
	payload.Set("password", e.group.Password)
	payload.Set("entity", "group")
	payload.Set("target", e.group.UUID)
	payload.Set("message", reply)
	payload.Set("id", id)

	// Store the payload and check its success status later.
	e.pending.Insert(id, payload)
	e.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.SetPendingAcks(float64(e.pending.Len()))
	})

	if err := e.publisher.Publish([]byte(payload.Encode())); err != nil {
		e.logger.Error("failed to publish message to corrade",
			"id", id,
			"error", err)
		return
	}

	atomic.AddUint64(&e.stats.Relayed, 1)
	e.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.IncRelayed(directionDiscordToBroker)
	})
	e.logger.Debug("relayed discord message to corrade", "id", id)
}

func (e *Engine) suppress(direction, reason string) {
	atomic.AddUint64(&e.stats.Suppressed, 1)
	e.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.IncSuppressed(direction, reason)
	})
}

func (e *Engine) safeMetricsUpdate(fn func(m *metrics.Metrics)) {
	if e.metrics != nil {
		fn(e.metrics)
	}
}
