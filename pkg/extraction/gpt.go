package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"agent-calendar/core"
)

const defaultBaseURL = "https://api.openai.com/v1"

// GPTClient turns free text into an extraction record through an
// OpenAI-compatible chat completion endpoint.
type GPTClient struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	loc     *time.Location
	now     func() time.Time
}

func NewGPTClient(apiKey string, model string, baseURL string, loc *time.Location) *GPTClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	if loc == nil {
		loc = time.UTC
	}

	return &GPTClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 60 * time.Second},
		loc:     loc,
		now:     time.Now,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// gptFields mirrors the JSON object the prompt asks for. Models return
// numbers as strings often enough that every number is lenient.
type gptFields struct {
	EventType       string     `json:"event_type"`
	Title           string     `json:"title"`
	ClientName      string     `json:"client_name"`
	Location        string     `json:"location"`
	Date            string     `json:"date"`
	Time            string     `json:"time"`
	DurationMinutes flexNumber `json:"duration_minutes"`
	Description     string     `json:"description"`
	PropertyType    string     `json:"property_type"`
	Address         string     `json:"address"`
	Price           flexNumber `json:"price"`
	Area            flexNumber `json:"area"`
	Rooms           flexNumber `json:"rooms"`
	Floor           flexNumber `json:"floor"`
	Contact         string     `json:"contact"`
	Features        []string   `json:"features"`
	Confidence      flexNumber `json:"confidence"`
}

func (c *GPTClient) Extract(ctx context.Context, text string) (core.ExtractionRecord, error) {
	content, err := c.complete(ctx, []chatMessage{
		{Role: "system", Content: c.systemPrompt()},
		{Role: "user", Content: text},
	})
	if err != nil {
		return core.ExtractionRecord{}, err
	}

	var fields gptFields

	err = json.Unmarshal([]byte(stripFences(content)), &fields)
	if err != nil {
		return core.ExtractionRecord{}, fmt.Errorf("unmarshal extraction: %w", err)
	}

	return c.toRecord(fields), nil
}

func (c *GPTClient) complete(ctx context.Context, messages []chatMessage) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:          c.model,
		Messages:       messages,
		Temperature:    0.1,
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("api call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp errorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			return "", fmt.Errorf("api error %d: %s: %s", resp.StatusCode, errResp.Error.Type, errResp.Error.Message)
		}

		return "", fmt.Errorf("api error %d: %s", resp.StatusCode, string(respBody))
	}

	var apiResp chatResponse

	err = json.Unmarshal(respBody, &apiResp)
	if err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}

	if len(apiResp.Choices) == 0 {
		return "", fmt.Errorf("empty response content")
	}

	return apiResp.Choices[0].Message.Content, nil
}

func (c *GPTClient) systemPrompt() string {
	now := c.now().In(c.loc)

	return fmt.Sprintf(`You extract calendar events and property details from messages written by real estate agents.

Context:
- Today: %s (%s)
- Current time: %s
- Tomorrow: %s
- Time zone: %s

Event types: meeting, call, showing, viewing, deal, task.
"morning" means 10:00, "afternoon" 14:00, "evening" 18:00. Showings last 90 minutes.
When a day is given without a time, use 10:00.

Answer with a single JSON object and nothing else:
{
  "event_type": "meeting|call|showing|viewing|deal|task or null",
  "title": "short title or null",
  "client_name": "client name or null",
  "location": "meeting place or null",
  "date": "YYYY-MM-DD or null",
  "time": "HH:MM or null",
  "duration_minutes": number or null,
  "description": "details or null",
  "property_type": "apartment, house, commercial or null",
  "address": "address or district or null",
  "price": number in rubles or null,
  "area": number in square meters or null,
  "rooms": number or null (0 for a studio),
  "floor": number or null,
  "contact": "phone or other contact or null",
  "features": ["feature", ...],
  "confidence": number between 0 and 1
}`,
		now.Format("2006-01-02"), now.Weekday(), now.Format("15:04"),
		now.AddDate(0, 0, 1).Format("2006-01-02"), c.loc.String())
}

func (c *GPTClient) toRecord(f gptFields) core.ExtractionRecord {
	fields := core.ExtractedFields{
		Title:        truncateRunes(strings.TrimSpace(f.Title), 200),
		ClientName:   truncateRunes(strings.TrimSpace(f.ClientName), 255),
		Location:     truncateRunes(strings.TrimSpace(f.Location), 500),
		Description:  truncateRunes(strings.TrimSpace(f.Description), 2000),
		PropertyType: truncateRunes(strings.TrimSpace(f.PropertyType), 100),
		Address:      truncateRunes(strings.TrimSpace(f.Address), 500),
		Contact:      truncateRunes(strings.TrimSpace(f.Contact), 255),
		Features:     f.Features,
		Price:        nonNegative(f.Price.asFloat()),
		Area:         nonNegative(f.Area.asFloat()),
		Rooms:        nonNegative(f.Rooms.asInt()),
		Floor:        f.Floor.asInt(),
	}

	switch kind := core.EventKind(strings.ToLower(strings.TrimSpace(f.EventType))); kind {
	case core.KindMeeting, core.KindCall, core.KindShowing, core.KindViewing, core.KindDeal, core.KindTask:
		fields.EventType = kind
	}

	if d := f.DurationMinutes.asInt(); d != nil && *d > 0 && *d <= core.MaxDurationMinutes {
		fields.DurationMinutes = d
	}

	if start, ok := c.startTime(f.Date, f.Time); ok {
		fields.StartTime = &start
	}

	confidence := 0.5
	if v := f.Confidence.asFloat(); v != nil {
		confidence = *v
	}

	// some models answer in percent
	if confidence > 1 && confidence <= 100 {
		confidence /= 100
	}

	confidence = min(max(confidence, 0), 1)

	return core.NewExtractionRecord(core.ExtractionGPT, fields, confidence)
}

func (c *GPTClient) startTime(date string, clock string) (time.Time, bool) {
	day, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(date), c.loc)
	if err != nil {
		return time.Time{}, false
	}

	hour, minute := 10, 0

	if t, err := time.Parse("15:04", strings.TrimSpace(clock)); err == nil {
		hour, minute = t.Hour(), t.Minute()
	}

	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, c.loc), true
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	return strings.TrimSpace(s)
}

type flexNumber struct {
	value float64
	valid bool
}

func (n *flexNumber) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" || raw == "" {
		return nil
	}

	if strings.HasPrefix(raw, `"`) {
		var s string

		err := json.Unmarshal(data, &s)
		if err != nil {
			return err
		}

		raw = strings.ReplaceAll(strings.ReplaceAll(strings.TrimSpace(s), " ", ""), ",", ".")
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		// unparseable values are treated as missing
		return nil
	}

	n.value, n.valid = v, true

	return nil
}

func (n flexNumber) asFloat() *float64 {
	if !n.valid {
		return nil
	}

	v := n.value

	return &v
}

func (n flexNumber) asInt() *int {
	if !n.valid || math.Abs(n.value) > math.MaxInt32 {
		return nil
	}

	v := int(n.value)

	return &v
}

func nonNegative[T int | float64](v *T) *T {
	if v == nil || *v < 0 {
		return nil
	}

	return v
}
