package tools

import (
	"context"
	"fmt"
)

// ImageGenerator is the rendering surface; the remote client implements
// it with an image generation endpoint.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

// ImageTool renders an image for a prompt. Its result is direct: the
// hosted URL is the answer, and letting the model rewrite it would only
// corrupt the link.
type ImageTool struct {
	generator ImageGenerator
}

func NewImageTool(generator ImageGenerator) *ImageTool {
	if generator == nil {
		return nil
	}
	return &ImageTool{generator: generator}
}

func (t *ImageTool) Name() string {
	return "generate_image"
}

func (t *ImageTool) Description() string {
	return "Generate an image from a text description. Returns the URL of the rendered image."
}

func (t *ImageTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"prompt": map[string]interface{}{
				"type":        "string",
				"description": "Description of the image to generate",
			},
		},
		"required": []string{"prompt"},
	}
}

func (t *ImageTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	prompt, ok := args["prompt"].(string)
	if !ok || prompt == "" {
		return ErrorResult("prompt is required")
	}

	url, err := t.generator.GenerateImage(ctx, prompt)
	if err != nil {
		return ErrorResult(fmt.Sprintf("image generation failed: %v", err)).WithError(err)
	}
	return DirectResult(url)
}
