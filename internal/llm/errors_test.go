package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestError_IsMatchesKind(t *testing.T) {
	err := fmt.Errorf("assistant: %w", statusError(ProviderOpenAI, 429, "slow down"))
	require.ErrorIs(t, err, ErrHTTPStatus)
	require.NotErrorIs(t, err, ErrNetwork)
	require.Equal(t, KindHTTPStatus, KindOf(err))
	require.Equal(t, "llm openai: http_status 429: slow down", errors.Unwrap(err).Error())
}

func TestError_CancelledUnwrapsCause(t *testing.T) {
	err := NewCancelledError(ProviderOllama, context.Canceled)
	require.ErrorIs(t, err, ErrCancelled)
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, StreamChunk{Done: true, Err: err}.Cancelled())
	require.False(t, StreamChunk{Done: true, Err: NewAllocationError("x")}.Cancelled())
}

func TestProviderMessage(t *testing.T) {
	cases := map[string]string{
		`{"error":{"message":"bad key","type":"auth"}}`:              "bad key",
		`{"type":"error","error":{"type":"overloaded_error"}}`:       "overloaded_error",
		`{"error":"model not found"}`:                                "model not found",
		`{"message":"plain"}`:                                        "plain",
		`not json`:                                                   "",
		`{"error":null}`:                                             "",
	}
	for body, want := range cases {
		require.Equal(t, want, providerMessage([]byte(body)), body)
	}
}

func TestRetryAfter(t *testing.T) {
	require.Equal(t, 2*time.Second, retryAfter("2"))
	require.Zero(t, retryAfter(""))
	require.Zero(t, retryAfter("soon"))
}

func TestIsRetriableError(t *testing.T) {
	require.False(t, isRetriableError(context.Canceled))
	require.False(t, isRetriableError(errors.New("refused")))
	require.True(t, isRetriableStatus(429))
	require.False(t, isRetriableStatus(503))
}

func TestParseProvider(t *testing.T) {
	p, err := ParseProvider(" Anthropic ")
	require.NoError(t, err)
	require.Equal(t, ProviderAnthropic, p)

	_, err = ParseProvider("gemini")
	require.ErrorIs(t, err, ErrConfig)
}
