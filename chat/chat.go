package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/dushky/requesty-pie/backend/songrequest"
	"github.com/dushky/requesty-pie/backend/telemetry"
	"github.com/dushky/requesty-pie/backend/twitchapi"
)

const trackLinkPrefix = "https://open.spotify.com/"

// Submitter accepts a song request on behalf of a chat user.
type Submitter interface {
	Submit(ctx context.Context, trackID, requester string) (songrequest.Submission, error)
}

// Listener connects to Twitch IRC and turns !sr commands into song requests.
// Feedback goes through the Helix chat API when the bot user id is known
// (threaded replies), otherwise through plain IRC.
type Listener struct {
	Channel     string
	BotUsername string
	OAuthToken  string
	BotUserID   string

	Submitter Submitter
	Helix     *twitchapi.HelixClient
}

// ParseCommand extracts the Spotify track id from a !sr chat message.
// The link must be an open.spotify.com track link; the id runs from the
// /track/ segment to the query string.
func ParseCommand(message string) (string, bool) {
	fields := strings.Fields(message)
	if len(fields) < 2 || fields[0] != "!sr" {
		return "", false
	}
	link := fields[1]
	if !strings.HasPrefix(link, trackLinkPrefix) {
		return "", false
	}
	_, rest, found := strings.Cut(link, "/track/")
	if !found {
		return "", false
	}
	id, _, _ := strings.Cut(rest, "?")
	if id == "" {
		return "", false
	}
	return id, true
}

// Run connects to IRC and blocks until the context is cancelled or the
// connection fails. Each valid !sr command is submitted and acknowledged in
// chat; invalid links and unknown tracks get a short error reply.
func (l *Listener) Run(ctx context.Context) error {
	client := twitch.NewClient(l.BotUsername, l.OAuthToken)

	broadcasterID := ""
	if l.Helix != nil && l.BotUserID != "" {
		id, err := l.Helix.GetUserID(ctx, l.Channel)
		if err != nil {
			slog.Warn("broadcaster lookup failed, falling back to IRC replies",
				slog.String("channel", l.Channel), slog.Any("err", err))
		} else {
			broadcasterID = id
		}
	}

	client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		if !strings.HasPrefix(msg.Message, "!sr") {
			return
		}
		telemetry.CountChatCommand()
		trackID, ok := ParseCommand(msg.Message)
		if !ok {
			telemetry.CountRejectedSubmission()
			l.reply(ctx, client, broadcasterID, msg, "That doesn't look like a Spotify track link.")
			return
		}
		sub, err := l.Submitter.Submit(ctx, trackID, msg.User.Name)
		if err != nil {
			telemetry.CountRejectedSubmission()
			if errors.Is(err, songrequest.ErrNotFound) {
				l.reply(ctx, client, broadcasterID, msg, "Couldn't find that track on Spotify.")
			} else {
				slog.Error("song request submit failed",
					slog.String("track_id", trackID),
					slog.String("requester", msg.User.Name),
					slog.Any("err", err))
				l.reply(ctx, client, broadcasterID, msg, "Something went wrong, try again later.")
			}
			return
		}
		l.reply(ctx, client, broadcasterID, msg,
			"Song request received: "+sub.TrackName+" by "+sub.Artists)
	})

	// Handle context cancellation by closing the client
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		client.Disconnect()
		close(done)
	}()

	client.Join(l.Channel)
	if err := client.Connect(); err != nil {
		slog.Error("twitch chat connect error", slog.Any("err", err))
		return err
	}
	<-done
	return nil
}

// reply sends chat feedback, preferring a threaded Helix reply.
func (l *Listener) reply(ctx context.Context, client *twitch.Client, broadcasterID string, msg twitch.PrivateMessage, text string) {
	if l.Helix != nil && broadcasterID != "" && l.BotUserID != "" {
		err := l.Helix.SendChatMessage(ctx, broadcasterID, l.BotUserID, text, msg.ID)
		if err == nil {
			return
		}
		telemetry.CountChatFeedbackError()
		slog.Warn("helix chat reply failed, falling back to IRC", slog.Any("err", err))
	}
	client.Say(l.Channel, "@"+msg.User.Name+" "+text)
}
