// Package discord connects the dispatcher to a Discord bot account.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/nicebartender/cmebot/bot"
)

// Handler receives inbound requests. *bot.Dispatcher satisfies it.
type Handler interface {
	Handle(ctx context.Context, req bot.Request)
	SetSelfID(id string)
}

// Session wraps a discordgo session. It implements bot.Session.
type Session struct {
	dg *discordgo.Session
}

// New builds a session for a bot token. It does not connect.
func New(token string) (*Session, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentGuildMessages |
		discordgo.IntentDirectMessages |
		discordgo.IntentMessageContent
	return &Session{dg: dg}, nil
}

// Open registers h and connects to the gateway. ctx is passed to every
// handled request.
func (s *Session) Open(ctx context.Context, h Handler) error {
	s.dg.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		if r.User == nil {
			return
		}
		h.SetSelfID(r.User.ID)
		slog.Info("discord: logged in", "user", r.User.Username, "id", r.User.ID)
	})
	s.dg.AddHandler(func(dg *discordgo.Session, m *discordgo.MessageCreate) {
		req, ok := requestFromMessage(m, selfID(dg))
		if !ok {
			return
		}
		h.Handle(ctx, req)
	})

	if err := s.dg.Open(); err != nil {
		return fmt.Errorf("discord open: %w", err)
	}
	return nil
}

func (s *Session) Close() error {
	return s.dg.Close()
}

func selfID(dg *discordgo.Session) string {
	if dg == nil || dg.State == nil || dg.State.User == nil {
		return ""
	}
	return dg.State.User.ID
}

func requestFromMessage(m *discordgo.MessageCreate, self string) (bot.Request, bool) {
	if m == nil || m.Message == nil || m.Author == nil {
		return bot.Request{}, false
	}
	received := m.Timestamp
	if received.IsZero() {
		received = time.Now()
	}
	return bot.Request{
		UserID:     m.Author.ID,
		ChannelID:  m.ChannelID,
		Text:       m.Content,
		ReceivedAt: received,
		FromSelf:   self != "" && m.Author.ID == self,
	}, true
}

// Send implements bot.Session.
func (s *Session) Send(ctx context.Context, channelID string, msg bot.Message) (string, error) {
	data := &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{toEmbed(msg)},
	}

	if msg.Attachment != nil {
		f, err := os.Open(msg.Attachment.Path)
		if err != nil {
			return "", fmt.Errorf("open attachment: %w", err)
		}
		defer f.Close()
		data.Files = []*discordgo.File{{
			Name:        msg.Attachment.Name,
			ContentType: "image/png",
			Reader:      f,
		}}
	}

	sent, err := s.dg.ChannelMessageSendComplex(channelID, data, discordgo.WithContext(ctx))
	if err != nil {
		return "", err
	}
	return sent.ID, nil
}

// Delete implements bot.Session.
func (s *Session) Delete(ctx context.Context, channelID, messageID string) error {
	return s.dg.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx))
}

func toEmbed(msg bot.Message) *discordgo.MessageEmbed {
	n := msg.Notice
	embed := &discordgo.MessageEmbed{
		Title:       n.Title,
		Description: n.Description,
		Color:       n.Severity.Color(),
	}
	for _, f := range n.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Inline,
		})
	}
	if msg.Attachment != nil {
		embed.Image = &discordgo.MessageEmbedImage{URL: "attachment://" + msg.Attachment.Name}
	}
	return embed
}
