// Package notify はニュースの新着をSlackへ投稿する。
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"
)

// Poster はチャンネルへのメッセージ投稿のインターフェース。
type Poster interface {
	Post(ctx context.Context, channel, displayName, text string) error
}

// SlackPoster はslack-goのchat.postMessageで投稿するPoster。
type SlackPoster struct {
	client *slack.Client
	logger *slog.Logger
}

// NewSlackPoster はボットトークンからSlackPosterを生成する。
// apiURLが空でなければAPIの接続先を差し替える（末尾は/）。
func NewSlackPoster(token, apiURL string, logger *slog.Logger) *SlackPoster {
	var opts []slack.Option
	if apiURL != "" {
		opts = append(opts, slack.OptionAPIURL(apiURL))
	}
	return &SlackPoster{
		client: slack.New(token, opts...),
		logger: logger,
	}
}

// Post はdisplayNameを投稿者名としてtextを投稿する。
func (p *SlackPoster) Post(ctx context.Context, channel, displayName, text string) error {
	respChannel, ts, err := p.client.PostMessageContext(ctx, channel,
		slack.MsgOptionText(text, false),
		slack.MsgOptionUsername(displayName),
	)
	if err != nil {
		return fmt.Errorf("Slackへの投稿に失敗: %w", err)
	}
	p.logger.Info("Slackへ投稿しました",
		slog.String("channel", respChannel),
		slog.String("username", displayName),
		slog.String("ts", ts),
	)
	return nil
}

var _ Poster = (*SlackPoster)(nil)
