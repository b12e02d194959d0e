package extract

import (
	"context"
	"fmt"

	"github.com/kalambet/policyguard/internal/engine"
)

// VisionPrompt asks the model to transcribe an invoice image.
const VisionPrompt = "Extract ALL text from this invoice image. Include vendor details, invoice number, dates, line items, amounts, taxes and totals. Preserve the original layout where possible."

// EngineVision reads images through a vision-capable chat model.
type EngineVision struct {
	Engine engine.Engine
	Model  string
}

func (v EngineVision) ReadImage(ctx context.Context, mimeType string, data []byte) (string, error) {
	resp, err := v.Engine.Chat(ctx, v.Model, []engine.Message{{
		Role:    "user",
		Content: VisionPrompt,
		Images:  []engine.Image{{MIMEType: mimeType, Data: data}},
	}}, nil)
	if err != nil {
		return "", fmt.Errorf("vision model %s: %w", v.Model, err)
	}
	return resp, nil
}
