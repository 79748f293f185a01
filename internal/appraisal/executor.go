package appraisal

import (
	"context"
	"fmt"
	"strings"
)

// StageExecutor makes exactly one model call per stage. A failed call, an empty answer or
// output that fails the stage's parser is returned as-is; nothing is retried.
type StageExecutor struct {
	caller LLMCaller
}

func NewStageExecutor(caller LLMCaller) *StageExecutor {
	return &StageExecutor{caller: caller}
}

// Run returns the stage text made available to later stages and, for stages with a
// parser, the parsed value.
func (e *StageExecutor) Run(ctx context.Context, st PipelineStage, prompt string, photos []string) (string, any, error) {
	structured := st.Parse != nil || st.Type == StageTypeJSONConfig
	if structured {
		prompt += "\n\nRespond with only valid JSON matching the schema."
	}
	if !st.UsePhotos {
		photos = nil
	}

	raw, err := e.caller.Complete(ctx, prompt, photos)
	if err != nil {
		return "", nil, fmt.Errorf("%s transport failure: %w", st.Key, err)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil, fmt.Errorf("%s failed: empty response", st.Key)
	}
	if !structured {
		return raw, nil, nil
	}

	clean := stripCodeFences(raw)
	if st.Parse == nil {
		return clean, nil, nil
	}
	parsed, err := st.Parse(clean)
	if err != nil {
		return "", nil, fmt.Errorf("%s failed validation: %w", st.Key, err)
	}
	return clean, parsed, nil
}
