package activity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockGenerator struct {
	mock.Mock
}

func (m *mockGenerator) GenerateCoverLetter(ctx context.Context, req CoverLetterRequest) (string, error) {
	args := m.Called(ctx, req)

	return args.String(0), args.Error(1)
}

type generatorFunc func(ctx context.Context, req CoverLetterRequest) (string, error)

func (f generatorFunc) GenerateCoverLetter(ctx context.Context, req CoverLetterRequest) (string, error) {
	return f(ctx, req)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newExecutor(generator CoverLetterGenerator, config Config) *Executor {
	return NewExecutor(generator, LogSender{Logger: discardLogger()}, config, nil, discardLogger())
}

func TestRetryPolicy_Delay(t *testing.T) {
	policy := DefaultRetryPolicy()

	tests := []struct {
		attempt int
		base    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{8, time.Minute},
		{20, time.Minute},
	}

	for _, tt := range tests {
		for range 20 {
			delay := policy.Delay(tt.attempt)
			low := time.Duration(float64(tt.base) * 0.8)
			high := min(time.Duration(float64(tt.base)*1.2), time.Minute)

			assert.GreaterOrEqual(t, delay, low, "attempt %d", tt.attempt)
			assert.LessOrEqual(t, delay, high, "attempt %d", tt.attempt)
		}
	}
}

func TestRetryPolicy_Exhausted(t *testing.T) {
	policy := DefaultRetryPolicy()

	assert.False(t, policy.Exhausted(4))
	assert.True(t, policy.Exhausted(5))

	noJitter := RetryPolicy{InitialInterval: 2 * time.Second, Multiplier: 2, MaxInterval: time.Minute, MaxAttempts: 3}
	assert.Equal(t, 2*time.Second, noJitter.Delay(1))
	assert.Equal(t, 4*time.Second, noJitter.Delay(2))
}

func TestErrors(t *testing.T) {
	transient := &Error{Type: TypeSendReminderEmail, Attempt: 1, Err: errors.New("503")}
	permanent := &Error{Type: TypeGenerateCoverLetter, Attempt: 1, Err: Permanent(errors.New("no key"))}

	assert.ErrorIs(t, transient, ErrTransient)
	assert.False(t, IsPermanent(transient))
	assert.NotErrorIs(t, permanent, ErrTransient)
	assert.True(t, IsPermanent(permanent))
	assert.Contains(t, permanent.Error(), "permanent")
}

func TestExecutor_GenerateCoverLetter(t *testing.T) {
	generator := &mockGenerator{}
	req := CoverLetterRequest{ApplicationID: "app-1", Company: "Acme"}
	generator.On("GenerateCoverLetter", mock.Anything, req).Return("  Dear Acme  ", nil).Once()

	out, err := newExecutor(generator, DefaultConfig()).Execute(context.Background(), TypeGenerateCoverLetter, 1, req)
	require.NoError(t, err)
	assert.Equal(t, "Dear Acme", out)
	generator.AssertExpectations(t)
}

func TestExecutor_Failures(t *testing.T) {
	tests := []struct {
		name          string
		generator     generatorFunc
		wantTransient bool
	}{
		{
			name: "provider error is transient",
			generator: func(context.Context, CoverLetterRequest) (string, error) {
				return "", errors.New("rate limited")
			},
			wantTransient: true,
		},
		{
			name: "empty text is transient",
			generator: func(context.Context, CoverLetterRequest) (string, error) {
				return "   ", nil
			},
			wantTransient: true,
		},
		{
			name: "timeout is transient",
			generator: func(ctx context.Context, _ CoverLetterRequest) (string, error) {
				<-ctx.Done()

				return "", ctx.Err()
			},
			wantTransient: true,
		},
		{
			name: "permanent error",
			generator: func(context.Context, CoverLetterRequest) (string, error) {
				return "", Permanent(errors.New("missing API key"))
			},
		},
	}

	config := DefaultConfig()
	config.CoverLetterTimeout = 20 * time.Millisecond

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newExecutor(tt.generator, config).GenerateCoverLetter(context.Background(), 2, CoverLetterRequest{})
			require.Error(t, err)

			var activityErr *Error
			require.ErrorAs(t, err, &activityErr)
			assert.Equal(t, 2, activityErr.Attempt)
			assert.Equal(t, tt.wantTransient, errors.Is(err, ErrTransient))
			assert.Equal(t, !tt.wantTransient, IsPermanent(err))
		})
	}
}

func TestExecutor_UnknownTypeAndInput(t *testing.T) {
	executor := newExecutor(UnavailableGenerator{}, DefaultConfig())

	_, err := executor.Execute(context.Background(), "Bogus", 1, nil)
	assert.True(t, IsPermanent(err))

	_, err = executor.Execute(context.Background(), TypeSendReminderEmail, 1, CoverLetterRequest{})
	assert.True(t, IsPermanent(err))

	_, err = executor.Execute(context.Background(), TypeGenerateCoverLetter, 1, CoverLetterRequest{})
	assert.True(t, IsPermanent(err))

	out, err := executor.Execute(context.Background(), TypeSendReminderEmail, 1, ReminderRequest{Company: "Acme"})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestExecutor_ConcurrencyCap(t *testing.T) {
	var (
		inFlight atomic.Int32
		peak     atomic.Int32
	)

	generator := generatorFunc(func(context.Context, CoverLetterRequest) (string, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)

		for {
			current := peak.Load()
			if n <= current || peak.CompareAndSwap(current, n) {
				break
			}
		}

		time.Sleep(10 * time.Millisecond)

		return "letter", nil
	})

	config := DefaultConfig()
	config.MaxConcurrentCoverLetters = 2
	executor := newExecutor(generator, config)

	var wg sync.WaitGroup

	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := executor.GenerateCoverLetter(context.Background(), 1, CoverLetterRequest{})
			assert.NoError(t, err)
		}()
	}

	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestReminderMessage(t *testing.T) {
	subject, body, err := ReminderMessage(ReminderRequest{ApplicationID: "app-1", Company: "Acme", Role: "SRE"})
	require.NoError(t, err)

	assert.Equal(t, "Reminder: Follow up on your application to Acme", subject)
	assert.Contains(t, body, "the SRE position at Acme")
	assert.Contains(t, body, "Application ID: app-1")
}

func TestCoverLetterPrompt(t *testing.T) {
	prompt := CoverLetterPrompt(CoverLetterRequest{Company: "Acme", Role: "SRE", JobDescription: "pager", Resume: "uptime"})

	assert.Contains(t, prompt, "Company: Acme")
	assert.Contains(t, prompt, "Position: SRE")
	assert.Contains(t, prompt, "300-400 words")
}

func TestExtractText(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{genai.Text("Dear "), genai.Text("Acme ")}},
		}},
	}

	text, err := extractText(resp)
	require.NoError(t, err)
	assert.Equal(t, "Dear Acme", text)

	_, err = extractText(&genai.GenerateContentResponse{})
	assert.Error(t, err)
}
