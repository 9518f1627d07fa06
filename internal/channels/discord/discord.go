package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/plugd/internal/agent"
	"github.com/nextlevelbuilder/plugd/internal/bus"
	"github.com/nextlevelbuilder/plugd/internal/config"
	"github.com/nextlevelbuilder/plugd/internal/router"
)

// Handler receives admitted inbound messages.
type Handler func(ctx context.Context, msg bus.InboundMessage)

// Gateway connects to the Discord gateway, filters inbound traffic,
// and delivers agent output with chunking and pacing.
type Gateway struct {
	session *discordgo.Session
	cfg     config.DiscordConfig
	router  *router.Router
	handler Handler
	log     *slog.Logger
	limiter *rate.Limiter

	botID string
}

func New(cfg config.DiscordConfig, rtr *router.Router, handler Handler, log *slog.Logger) (*Gateway, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("discord token not configured")
	}
	if log == nil {
		log = slog.Default()
	}

	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent

	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = 2000
	}

	return &Gateway{
		session: session,
		cfg:     cfg,
		router:  rtr,
		handler: handler,
		log:     log,
		limiter: rate.NewLimiter(rate.Every(300*time.Millisecond), 1),
	}, nil
}

// Start opens the gateway connection and begins dispatching messages.
func (g *Gateway) Start(ctx context.Context) error {
	g.session.AddHandler(g.onReady)
	g.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		g.onMessage(ctx, m)
	})

	if err := g.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	return nil
}

func (g *Gateway) Close() error {
	return g.session.Close()
}

func (g *Gateway) onReady(s *discordgo.Session, r *discordgo.Ready) {
	g.botID = r.User.ID
	if g.cfg.StatusMessage != "" {
		if err := s.UpdateWatchStatus(0, g.cfg.StatusMessage); err != nil {
			g.log.Debug("set presence", "error", err)
		}
	}
	g.log.Info("discord gateway ready", "bot", r.User.Username, "guilds", len(r.Guilds))
}

func (g *Gateway) onMessage(ctx context.Context, m *discordgo.MessageCreate) {
	content, ok := g.admit(m)
	if !ok {
		return
	}

	msg := bus.InboundMessage{
		ChannelID:  m.ChannelID,
		MessageID:  m.ID,
		AuthorID:   m.Author.ID,
		AuthorName: displayName(m),
		Content:    content,
		IsDM:       m.GuildID == "",
		GuildID:    m.GuildID,
	}

	if err := g.session.ChannelTyping(m.ChannelID); err != nil {
		g.log.Debug("typing indicator", "error", err)
	}

	// Handle off the gateway reader goroutine; the orchestrator's
	// per-channel gate drops concurrent turns.
	go g.handler(ctx, msg)
}

// admit applies the inbound filter and returns the cleaned content.
func (g *Gateway) admit(m *discordgo.MessageCreate) (string, bool) {
	if m.Author == nil || m.Author.ID == g.botID {
		return "", false
	}

	routed := g.router != nil && g.router.IsRouted(m.ChannelID)

	if m.Author.Bot {
		// Webhook dispatches may drive routed channels, but never our
		// own report-back posts.
		if m.WebhookID == "" || !routed || strings.HasSuffix(m.Author.Username, " Report") {
			return "", false
		}
	}

	mentioned := g.mentionsBot(m)
	isDM := m.GuildID == ""

	if isDM {
		if g.cfg.DMPolicy != "open" && !contains(g.cfg.DMAllowlist, m.Author.ID) {
			return "", false
		}
	} else {
		if len(g.cfg.GuildIDs) > 0 && !contains(g.cfg.GuildIDs, m.GuildID) {
			return "", false
		}
		if g.router != nil && g.router.Active() && !routed && g.router.Route(m.ChannelID) == nil {
			return "", false
		}
		if routed && mentioned {
			// Routed channels carry dispatch traffic; an @mention there
			// is addressed to the coordinator, not to us.
			return "", false
		}

		var persona *config.PersonaConfig
		if g.router != nil {
			persona = g.router.Route(m.ChannelID)
		}
		if router.RequireMention(persona, g.cfg.RequireMention) && !mentioned && !routed {
			return "", false
		}
		if !router.Authorized(persona, m.Author.ID) {
			return "", false
		}
	}

	content := strings.TrimSpace(g.stripMention(m.Content))
	if content == "" {
		return "", false
	}
	return content, true
}

func (g *Gateway) mentionsBot(m *discordgo.MessageCreate) bool {
	for _, u := range m.Mentions {
		if u.ID == g.botID {
			return true
		}
	}
	return false
}

func (g *Gateway) stripMention(content string) string {
	content = strings.ReplaceAll(content, "<@"+g.botID+">", "")
	content = strings.ReplaceAll(content, "<@!"+g.botID+">", "")
	return content
}

func displayName(m *discordgo.MessageCreate) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Send splits content into platform-sized chunks and delivers them.
// The first chunk replies to the triggering message when ReplyToID is
// set; later chunks are plain sends with ~500ms spacing.
func (g *Gateway) Send(ctx context.Context, msg bus.OutboundMessage) error {
	chunks := agent.SplitMessage(msg.Content, g.cfg.MaxMessageLength)
	for i, chunk := range chunks {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(500 * time.Millisecond):
			}
		}

		var err error
		if i == 0 && msg.ReplyToID != "" {
			_, err = g.session.ChannelMessageSendReply(msg.ChannelID, chunk, &discordgo.MessageReference{
				MessageID: msg.ReplyToID,
				ChannelID: msg.ChannelID,
			})
		} else {
			_, err = g.session.ChannelMessageSend(msg.ChannelID, chunk)
		}
		if err != nil {
			return fmt.Errorf("send chunk %d/%d to %s: %w", i+1, len(chunks), msg.ChannelID, err)
		}
	}
	return nil
}

// Deliver pushes a notification into a channel without threading.
// Used by sub-agent completion and cron payloads.
func (g *Gateway) Deliver(ctx context.Context, channelID, content string) {
	if err := g.Send(ctx, bus.OutboundMessage{ChannelID: channelID, Content: content}); err != nil {
		g.log.Warn("deliver failed", "channel_id", channelID, "error", err)
	}
}
