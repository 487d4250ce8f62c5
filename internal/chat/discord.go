// Package chat implements the Discord side of the bridge over the Gateway
// WebSocket using discordgo.
package chat

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"

	"corrade-discord-bridge/config"
	"corrade-discord-bridge/internal/bridge"
	"corrade-discord-bridge/internal/logger"
	"corrade-discord-bridge/internal/metrics"
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	Open() error
	Close() error
	AddHandler(handler interface{}) func()
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	Channel(channelID string) (*discordgo.Channel, error)
	Guild(guildID string) (*discordgo.Guild, error)
	Guilds() []*discordgo.Guild
}

// realSession wraps *discordgo.Session to implement the session interface.
type realSession struct {
	s *discordgo.Session
}

func (r *realSession) Open() error  { return r.s.Open() }
func (r *realSession) Close() error { return r.s.Close() }
func (r *realSession) AddHandler(handler interface{}) func() {
	return r.s.AddHandler(handler)
}
func (r *realSession) ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageSend(channelID, content, options...)
}
func (r *realSession) Channel(channelID string) (*discordgo.Channel, error) {
	return r.s.State.Channel(channelID)
}
func (r *realSession) Guild(guildID string) (*discordgo.Guild, error) {
	return r.s.State.Guild(guildID)
}
func (r *realSession) Guilds() []*discordgo.Guild {
	return r.s.State.Guilds
}

// Events receives gateway events destined for the relay engine.
type Events interface {
	// HandleChatMessage delivers a message event for relay evaluation.
	HandleChatMessage(msg bridge.ChatMessage)

	// SetChannel delivers the resolved channel handle, exactly once.
	SetChannel(channelID string)
}

// Adapter connects to the Discord gateway, resolves the configured channel
// and converts message events for the relay engine.
type Adapter struct {
	sess    session
	token   string
	server  string
	channel string
	events  Events
	logger  *logger.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	connected bool
	resolved  atomic.Bool
}

// Opts holds parameters for creating a Discord adapter.
type Opts struct {
	Config  *config.DiscordConfig
	Logger  *logger.Logger
	Metrics *metrics.Metrics

	// For testing: inject a mock session instead of the real gateway.
	Session session
}

// New creates a Discord adapter.
func New(opts Opts) (*Adapter, error) {
	if opts.Session == nil && opts.Config.Token == "" {
		return nil, fmt.Errorf("discord bot token is required")
	}

	return &Adapter{
		sess:    opts.Session,
		token:   opts.Config.Token,
		server:  opts.Config.Server,
		channel: opts.Config.Channel,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}, nil
}

// Connect establishes the gateway connection and registers event handlers.
// Inbound events are delivered to the given Events sink.
func (a *Adapter) Connect(events Events) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connected {
		return nil
	}
	a.events = events

	// Create a real session if not injected (production path).
	if a.sess == nil {
		dg, err := discordgo.New("Bot " + a.token)
		if err != nil {
			return fmt.Errorf("failed to create discord session: %w", err)
		}
		dg.Identify.Intents = discordgo.IntentsGuilds |
			discordgo.IntentsGuildMessages |
			discordgo.IntentsMessageContent
		a.sess = &realSession{s: dg}
	}

	a.sess.AddHandler(a.handleReady)
	a.sess.AddHandler(a.handleGuildCreate)
	a.sess.AddHandler(a.handleMessageCreate)
	a.sess.AddHandler(a.handleDisconnect)
	a.sess.AddHandler(a.handleResumed)

	if err := a.sess.Open(); err != nil {
		return fmt.Errorf("failed to login to discord: %w", err)
	}

	a.connected = true
	a.logger.Info("logged-in to discord")
	return nil
}

// SendText delivers plain text to a channel. The REST call runs on its own
// goroutine so the engine loop never blocks on Discord; failures are logged.
func (a *Adapter) SendText(channelID, text string) error {
	go func() {
		if _, err := a.sess.ChannelMessageSend(channelID, text); err != nil {
			a.logger.Error("failed to send message to discord",
				"channel", channelID,
				"error", err)
		}
	}()
	return nil
}

// Close shuts down the gateway connection.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil
	}
	a.connected = false
	return a.sess.Close()
}

// handleReady runs when the gateway signals readiness. The configured
// channel is resolved by name against the configured server.
func (a *Adapter) handleReady(s *discordgo.Session, r *discordgo.Ready) {
	a.logger.Info("connected to discord")

	a.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.SetDiscordConnectionStatus(true)
	})

	a.resolveChannel(true)
}

// handleGuildCreate retries resolution while unresolved: guild channel
// lists arrive in guild-create events that may follow the ready event.
func (a *Adapter) handleGuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	if a.resolved.Load() {
		return
	}
	a.resolveChannel(false)
}

// resolveChannel scans all visible channels for the first whose name and
// parent server name match the configuration. Once resolved the handle
// never changes for the process lifetime; if it is never found the
// broker-to-discord direction stays disabled until restart.
func (a *Adapter) resolveChannel(logMissing bool) {
	if a.resolved.Load() {
		return
	}

	a.logger.Info("querying channels")
	for _, guild := range a.sess.Guilds() {
		for _, ch := range guild.Channels {
			a.logger.Info("found channel",
				"channel", ch.Name,
				"server", guild.Name)

			if ch.Name == a.channel && guild.Name == a.server {
				a.resolved.Store(true)
				a.events.SetChannel(ch.ID)
				return
			}
		}
	}

	if logMissing {
		a.logger.Error("the channel could not be found on discord",
			"channel", a.channel,
			"server", a.server)
	}
}

// handleMessageCreate converts a gateway message event for the engine. All
// relay decisions, including bot filtering, belong to the engine.
func (a *Adapter) handleMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}

	msg := bridge.ChatMessage{
		AuthorName:          m.Author.Username,
		AuthorDiscriminator: m.Author.Discriminator,
		AuthorBot:           m.Author.Bot,
		Content:             m.Content,
		ChannelID:           m.ChannelID,
	}

	for _, attachment := range m.Attachments {
		msg.Attachments = append(msg.Attachments, attachment.URL)
	}

	if ch, err := a.sess.Channel(m.ChannelID); err == nil {
		msg.ChannelName = ch.Name
		msg.ChannelKind = channelKind(ch.Type)
		if guild, err := a.sess.Guild(ch.GuildID); err == nil {
			msg.ServerName = guild.Name
		}
	}

	a.events.HandleChatMessage(msg)
}

func (a *Adapter) handleDisconnect(s *discordgo.Session, d *discordgo.Disconnect) {
	a.logger.Error("reconnecting to discord")

	a.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.SetDiscordConnectionStatus(false)
		m.IncDiscordReconnects()
	})
}

func (a *Adapter) handleResumed(s *discordgo.Session, r *discordgo.Resumed) {
	a.logger.Info("discord gateway session resumed")

	a.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.SetDiscordConnectionStatus(true)
	})
}

func (a *Adapter) safeMetricsUpdate(fn func(m *metrics.Metrics)) {
	if a.metrics != nil {
		fn(a.metrics)
	}
}

// channelKind maps discordgo channel types onto the engine's channel kinds.
func channelKind(t discordgo.ChannelType) string {
	switch t {
	case discordgo.ChannelTypeGuildText:
		return bridge.ChannelKindText
	case discordgo.ChannelTypeGuildVoice:
		return "voice"
	case discordgo.ChannelTypeGuildCategory:
		return "category"
	case discordgo.ChannelTypeGuildNews:
		return "news"
	case discordgo.ChannelTypeDM, discordgo.ChannelTypeGroupDM:
		return "dm"
	default:
		return "other"
	}
}
