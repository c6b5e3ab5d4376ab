package agent

import (
	"regexp"
	"strings"
)

// ReplyKind distinguishes answers that are prose from answers that are
// a rendered image.
type ReplyKind int

const (
	ReplyText ReplyKind = iota
	ReplyImage
)

// Reply is the agent's final answer for one message.
type Reply struct {
	Kind     ReplyKind
	Text     string
	ImageURL string
}

// Hosted image URLs the image tool hands back. The blob-storage
// pattern covers DALL-E output; the extension pattern covers generic
// image hosts.
var (
	dalleBlobRe = regexp.MustCompile(`^https://oaidalleapiprodscus\.blob\.\S+$`)
	imageExtRe  = regexp.MustCompile(`(?i)^https?://\S+\.(png|jpe?g|gif|webp)(\?\S*)?$`)
)

// ClassifyAnswer decides whether the model's (or a direct tool's) final
// content is an image link that should be delivered as a photo.
func ClassifyAnswer(content string) Reply {
	trimmed := strings.TrimSpace(content)
	if dalleBlobRe.MatchString(trimmed) || imageExtRe.MatchString(trimmed) {
		return Reply{Kind: ReplyImage, ImageURL: trimmed}
	}
	return Reply{Kind: ReplyText, Text: trimmed}
}
