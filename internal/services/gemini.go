package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"promptly-backend/internal/models"
	"promptly-backend/internal/orchestrator"
)

const DefaultGeminiModel = "gemini-1.5-flash"

// GeminiService opens streaming chat sessions against the Gemini API.
type GeminiService struct {
	client   *genai.Client
	model    *genai.GenerativeModel
	rateChan chan struct{} // Token bucket
	logger   *slog.Logger
}

func NewGeminiService(ctx context.Context, apiKey, modelName string, concurrentReqs int, opts ...option.ClientOption) (*GeminiService, error) {
	client, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	if modelName == "" {
		modelName = DefaultGeminiModel
	}
	model := client.GenerativeModel(modelName)
	model.SetTemperature(0.7)
	model.SetTopP(0.95)

	if concurrentReqs < 1 {
		concurrentReqs = 1
	}
	// Token bucket for rate limiting
	rateChan := make(chan struct{}, concurrentReqs)
	for i := 0; i < concurrentReqs; i++ {
		rateChan <- struct{}{}
	}

	return &GeminiService{
		client:   client,
		model:    model,
		rateChan: rateChan,
		logger:   slog.Default().With("component", "gemini", "model", modelName),
	}, nil
}

func (s *GeminiService) Close() {
	s.client.Close()
}

// acquireRate blocks until a rate slot is available
func (s *GeminiService) acquireRate(ctx context.Context) error {
	select {
	case <-s.rateChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Minute):
		return fmt.Errorf("timeout waiting for Gemini rate slot")
	}
}

func (s *GeminiService) releaseRate() {
	s.rateChan <- struct{}{}
}

// StartSession opens a chat session whose history replays the given turns.
func (s *GeminiService) StartSession(_ context.Context, history []models.Turn) (orchestrator.ModelSession, error) {
	cs := s.model.StartChat()
	cs.History = SeedHistory(history)
	return &geminiSession{svc: s, cs: cs}, nil
}

// SeedHistory converts stored turns to Gemini contents. Only the role and the
// first text part of each turn are replayed; images are not.
func SeedHistory(turns []models.Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		contents = append(contents, &genai.Content{
			Role:  t.Role,
			Parts: []genai.Part{genai.Text(t.FirstText())},
		})
	}
	return contents
}

// geminiSession is driven by one turn at a time; it is not safe for
// concurrent SendStream calls.
type geminiSession struct {
	svc *GeminiService
	cs  *genai.ChatSession

	// mark is the history length before the last SendStream. The chat
	// session records the question when the request starts and the reply
	// only at the end of the stream.
	mark int
}

func (g *geminiSession) SendStream(ctx context.Context, text string, img *orchestrator.Image) (orchestrator.Stream, error) {
	g.mark = len(g.cs.History)
	if err := g.svc.acquireRate(ctx); err != nil {
		return nil, &UpstreamError{Op: "generate", Err: err}
	}

	parts := make([]genai.Part, 0, 2)
	if img != nil && len(img.Data) > 0 {
		parts = append(parts, genai.Blob{MIMEType: img.MimeType, Data: img.Data})
	}
	parts = append(parts, genai.Text(text))

	g.svc.logger.Debug("sending message", "history_len", len(g.cs.History), "has_image", img != nil)
	stream := &geminiStream{session: g, iter: g.cs.SendMessageStream(ctx, parts...)}
	// The slot is freed at the end of the stream or when ctx ends, whichever
	// comes first.
	stream.release = func() { stream.once.Do(g.svc.releaseRate) }
	context.AfterFunc(ctx, stream.release)
	return stream, nil
}

// Rollback truncates the history to where the last SendStream found it.
func (g *geminiSession) Rollback() {
	if len(g.cs.History) > g.mark {
		clear(g.cs.History[g.mark:])
		g.cs.History = g.cs.History[:g.mark]
	}
}

type geminiStream struct {
	session *geminiSession
	iter    *genai.GenerateContentResponseIterator
	release func()
	once    sync.Once
}

func (s *geminiStream) Next() (string, error) {
	resp, err := s.iter.Next()
	if errors.Is(err, iterator.Done) {
		s.release()
		return "", io.EOF
	}
	if err != nil {
		s.release()
		s.session.Rollback()
		return "", &UpstreamError{Op: "generate", Err: err}
	}
	return extractText(resp), nil
}

func extractText(resp *genai.GenerateContentResponse) string {
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					text.WriteString(string(t))
				}
			}
		}
	}
	return text.String()
}
