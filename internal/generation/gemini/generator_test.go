package gemini

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/cuongbtq/resume-pipeline/internal/generation"
	"github.com/cuongbtq/resume-pipeline/internal/ratelimit"
)

type fakeModels struct {
	responses []*genai.GenerateContentResponse
	errs      []error
	calls     int
	lastModel string
	lastCfg   *genai.GenerateContentConfig
}

func (f *fakeModels) GenerateContent(_ context.Context, model string, _ []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	i := f.calls
	f.calls++
	f.lastModel = model
	f.lastCfg = cfg
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	var resp *genai.GenerateContentResponse
	if i < len(f.responses) {
		resp = f.responses[i]
	}
	return resp, err
}

func textResponse(parts ...string) *genai.GenerateContentResponse {
	content := &genai.Content{Role: "model"}
	for _, p := range parts {
		content.Parts = append(content.Parts, &genai.Part{Text: p})
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: content, FinishReason: genai.FinishReasonStop}},
	}
}

func newTestGenerator(models modelsAPI) *Generator {
	return newGenerator(Config{
		APIKey:      "key",
		Model:       "gemini-2.0-flash",
		Temperature: 0.2,
	}, models, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestGenerate_Success(t *testing.T) {
	models := &fakeModels{responses: []*genai.GenerateContentResponse{textResponse(`[{"id":`, `"a"}]`)}}
	g := newTestGenerator(models)

	got, err := g.Generate(context.Background(), "prompt")

	require.NoError(t, err)
	assert.Equal(t, `[{"id":"a"}]`, got)
	assert.Equal(t, "gemini-2.0-flash", models.lastModel)
	assert.Equal(t, "application/json", models.lastCfg.ResponseMIMEType)
}

func TestGenerate_CallFailureIsNotRetried(t *testing.T) {
	models := &fakeModels{errs: []error{errors.New("429 quota exceeded"), nil}, responses: []*genai.GenerateContentResponse{nil, textResponse("[]")}}
	g := newTestGenerator(models)

	_, err := g.Generate(context.Background(), "prompt")

	require.Error(t, err)
	assert.ErrorIs(t, err, generation.ErrTransientFailure)
	assert.Contains(t, err.Error(), "429 quota exceeded")
	assert.Equal(t, 1, models.calls)
}

func TestGenerate_OneRequestPerPermit(t *testing.T) {
	models := &fakeModels{errs: []error{errors.New("429 quota exceeded"), errors.New("429 quota exceeded")}}
	g := newTestGenerator(models)
	limiter := ratelimit.New(ratelimit.Config{RequestsPerDay: 1})
	ctx := context.Background()

	require.NoError(t, limiter.Wait(ctx))
	_, err := g.Generate(ctx, "prompt")
	require.Error(t, err)

	assert.Equal(t, 1, models.calls)
	assert.Equal(t, limiter.Usage().RequestsToday, models.calls)
	assert.ErrorIs(t, limiter.Wait(ctx), ratelimit.ErrRateLimitExceeded)
}

func TestGenerate_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	models := &fakeModels{errs: []error{context.Canceled}}
	g := newTestGenerator(models)

	_, err := g.Generate(ctx, "prompt")

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, models.calls)
}

func TestGenerate_ResponseErrors(t *testing.T) {
	tests := []struct {
		name string
		resp *genai.GenerateContentResponse
		want error
	}{
		{name: "nil response", resp: nil, want: generation.ErrInvalidResponse},
		{name: "no candidates", resp: &genai.GenerateContentResponse{}, want: generation.ErrInvalidResponse},
		{
			name: "safety finish",
			resp: &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonSafety}}},
			want: generation.ErrContentBlocked,
		},
		{
			name: "prompt blocked",
			resp: &genai.GenerateContentResponse{PromptFeedback: &genai.GenerateContentResponsePromptFeedback{BlockReason: genai.BlockedReasonSafety}},
			want: generation.ErrContentBlocked,
		},
		{name: "blank text", resp: textResponse("  "), want: generation.ErrInvalidResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			models := &fakeModels{responses: []*genai.GenerateContentResponse{tt.resp}}
			g := newTestGenerator(models)

			_, err := g.Generate(context.Background(), "prompt")

			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, 1, models.calls)
		})
	}
}

func TestGenerate_EmptyPrompt(t *testing.T) {
	g := newTestGenerator(&fakeModels{})
	_, err := g.Generate(context.Background(), "  ")
	assert.ErrorIs(t, err, generation.ErrEmptyPrompt)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "valid", cfg: Config{APIKey: "k", Model: "m", Temperature: 0.3}},
		{name: "missing key", cfg: Config{Model: "m"}, wantErr: true},
		{name: "missing model", cfg: Config{APIKey: "k"}, wantErr: true},
		{name: "temperature too high", cfg: Config{APIKey: "k", Model: "m", Temperature: 3}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validate(tt.cfg)
			if tt.wantErr {
				assert.ErrorIs(t, err, generation.ErrInvalidConfig)
				return
			}
			assert.NoError(t, err)
		})
	}
}
