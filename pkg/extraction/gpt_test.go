package extraction

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-calendar/core"
)

func completionServer(t *testing.T, status int, body any) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-test", req.Model)
		assert.Len(t, req.Messages, 2)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(server.Close)

	return server
}

func completion(content string) map[string]any {
	return map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	}
}

func TestGPTClient_Extract(t *testing.T) {
	t.Parallel()

	content := "```json\n" + `{
		"event_type": "Showing",
		"title": "Показ квартиры",
		"client_name": "Анна",
		"date": "2026-03-03",
		"time": "15:30",
		"duration_minutes": "90",
		"address": "ул. Ленина, 5",
		"price": "12 500 000",
		"area": 54.5,
		"rooms": -1,
		"floor": null,
		"features": ["балкон"],
		"confidence": 85
	}` + "\n```"

	server := completionServer(t, http.StatusOK, completion(content))

	loc := time.UTC
	client := NewGPTClient("test-key", "gpt-test", server.URL, loc)

	record, err := client.Extract(context.Background(), "показ завтра в 15:30")
	require.NoError(t, err)

	assert.Equal(t, core.ExtractionGPT, record.Source)
	assert.Equal(t, 4, record.Priority)
	assert.InDelta(t, 0.85, record.Confidence, 1e-9)

	f := record.Fields
	assert.Equal(t, core.KindShowing, f.EventType)
	assert.Equal(t, "Показ квартиры", f.Title)
	assert.Equal(t, "Анна", f.ClientName)
	assert.Equal(t, "ул. Ленина, 5", f.Address)
	require.NotNil(t, f.StartTime)
	assert.True(t, time.Date(2026, 3, 3, 15, 30, 0, 0, loc).Equal(*f.StartTime))
	require.NotNil(t, f.DurationMinutes)
	assert.Equal(t, 90, *f.DurationMinutes)
	require.NotNil(t, f.Price)
	assert.InDelta(t, 12_500_000, *f.Price, 1e-9)
	require.NotNil(t, f.Area)
	assert.InDelta(t, 54.5, *f.Area, 1e-9)
	assert.Nil(t, f.Rooms)
	assert.Nil(t, f.Floor)
	assert.Equal(t, []string{"балкон"}, f.Features)
}

func TestGPTClient_ExtractDefaults(t *testing.T) {
	t.Parallel()

	server := completionServer(t, http.StatusOK, completion(`{"event_type": "party", "date": "2026-03-05", "time": null, "duration_minutes": 50000000, "rooms": 1e30}`))
	client := NewGPTClient("test-key", "gpt-test", server.URL, time.UTC)

	record, err := client.Extract(context.Background(), "что-то в четверг")
	require.NoError(t, err)

	assert.Empty(t, record.Fields.EventType)
	assert.Nil(t, record.Fields.DurationMinutes)
	assert.Nil(t, record.Fields.Rooms)
	assert.InDelta(t, 0.5, record.Confidence, 1e-9)
	require.NotNil(t, record.Fields.StartTime)
	assert.True(t, time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC).Equal(*record.Fields.StartTime))
}

func TestGPTClient_ExtractErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   int
		body     any
		contains string
	}{
		{
			name:     "api error",
			status:   http.StatusUnauthorized,
			body:     map[string]any{"error": map[string]string{"type": "invalid_request_error", "message": "bad key"}},
			contains: "api error 401: invalid_request_error: bad key",
		},
		{
			name:     "no choices",
			status:   http.StatusOK,
			body:     map[string]any{"choices": []any{}},
			contains: "empty response content",
		},
		{
			name:     "content is not json",
			status:   http.StatusOK,
			body:     completion("I could not find an event"),
			contains: "unmarshal extraction",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := completionServer(t, tt.status, tt.body)
			client := NewGPTClient("test-key", "gpt-test", server.URL, time.UTC)

			_, err := client.Extract(context.Background(), "text")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestGPTClient_SystemPromptCarriesDates(t *testing.T) {
	t.Parallel()

	client := NewGPTClient("k", "m", "", time.UTC)
	client.now = func() time.Time { return time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC) }

	prompt := client.systemPrompt()

	assert.Contains(t, prompt, "Today: 2026-03-02 (Monday)")
	assert.Contains(t, prompt, "Tomorrow: 2026-03-03")
	assert.Equal(t, defaultBaseURL, client.baseURL)
}
