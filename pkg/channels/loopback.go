package channels

import (
	"context"
	"fmt"
	"io"

	"github.com/seynadio/chatbridge/pkg/bus"
)

// LoopbackChannel backs the interactive REPL: inbound text is injected
// programmatically and outbound messages are written to an io.Writer.
type LoopbackChannel struct {
	*BaseChannel
	out io.Writer
}

func NewLoopbackChannel(msgBus *bus.MessageBus, out io.Writer) *LoopbackChannel {
	return &LoopbackChannel{
		BaseChannel: NewBaseChannel("loopback", msgBus, nil),
		out:         out,
	}
}

func (c *LoopbackChannel) Start(ctx context.Context) error {
	c.setRunning(true)
	return nil
}

func (c *LoopbackChannel) Stop(ctx context.Context) error {
	c.setRunning(false)
	return nil
}

// Inject publishes one line of user input as an inbound text message.
// Lines starting with "/" become commands.
func (c *LoopbackChannel) Inject(text string) {
	kind := bus.InboundText
	if len(text) > 1 && text[0] == '/' {
		kind = bus.InboundCommand
		text = text[1:]
	}
	c.PublishInbound(bus.InboundMessage{
		SenderID: "local",
		ChatID:   "repl",
		Content:  text,
		Kind:     kind,
	})
}

func (c *LoopbackChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	switch msg.Kind {
	case bus.OutboundTyping:
		return nil
	case bus.OutboundPhoto:
		_, err := fmt.Fprintf(c.out, "[image] %s\n", msg.ImageURL)
		return err
	case bus.OutboundVoice:
		_, err := fmt.Fprintf(c.out, "[voice reply, %d bytes]\n", len(msg.AudioBytes))
		return err
	}
	_, err := fmt.Fprintln(c.out, msg.Content)
	return err
}

var _ Channel = (*LoopbackChannel)(nil)
