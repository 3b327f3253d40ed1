package delivery

import (
	"context"
	"time"

	goslack "github.com/slack-go/slack"

	"github.com/opsmail/emailpipeline/pkg/notification"
	pipelineerrors "github.com/opsmail/emailpipeline/pkg/shared/errors"
)

// SlackDeliveryService posts each notification as a message to a single
// Slack channel, grounded on codeready-toolchain-tarsy's pkg/slack.Client
// wrapper around github.com/slack-go/slack (PostMessageContext, per-call
// timeout).
type SlackDeliveryService struct {
	api       *goslack.Client
	channelID string
	timeout   time.Duration
}

// NewSlackDeliveryService builds a SlackDeliveryService posting to
// channelID with token, bounding each post to timeout (defaults to 10s).
func NewSlackDeliveryService(token, channelID string, timeout time.Duration) *SlackDeliveryService {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SlackDeliveryService{api: goslack.New(token), channelID: channelID, timeout: timeout}
}

var _ notification.Service = (*SlackDeliveryService)(nil)

// Deliver posts n as a single Slack message. Network/API failures are
// wrapped as retryable, since a transient Slack outage should not drop the
// underlying SLA event.
func (s *SlackDeliveryService) Deliver(ctx context.Context, n notification.Notification) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	blocks := []goslack.Block{
		goslack.NewSectionBlock(goslack.NewTextBlockObject(goslack.MarkdownType, "*"+n.Subject+"*\n"+n.Body, false, false), nil, nil),
	}
	if _, _, err := s.api.PostMessageContext(ctx, s.channelID, goslack.MsgOptionBlocks(blocks...)); err != nil {
		return &notification.RetryableError{Op: "failed to post slack message", Err: pipelineerrors.NetworkError("post message", "slack", err)}
	}
	return nil
}
