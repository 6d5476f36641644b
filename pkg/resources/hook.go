package resources

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/rs/zerolog"
	otelog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
)

var severities = map[zerolog.Level]struct {
	severity otelog.Severity
	text     string
}{
	zerolog.TraceLevel: {otelog.SeverityTrace, "TRACE"},
	zerolog.DebugLevel: {otelog.SeverityDebug, "DEBUG"},
	zerolog.InfoLevel:  {otelog.SeverityInfo, "INFO"},
	zerolog.WarnLevel:  {otelog.SeverityWarn, "WARN"},
	zerolog.ErrorLevel: {otelog.SeverityError, "ERROR"},
	zerolog.FatalLevel: {otelog.SeverityFatal, "FATAL"},
	zerolog.PanicLevel: {otelog.SeverityFatal4, "FATAL"},
}

// skippedFields are already carried by the record itself.
var skippedFields = map[string]bool{
	zerolog.TimestampFieldName: true,
	zerolog.LevelFieldName:     true,
	zerolog.MessageFieldName:   true,
}

// LogBridge copies every zerolog event to the global OTel logger provider.
// Stdout output is untouched.
type LogBridge struct {
	logger otelog.Logger
}

func NewLogBridge(name string, version string) *LogBridge {
	return &LogBridge{
		logger: global.GetLoggerProvider().Logger(name, otelog.WithInstrumentationVersion(version)),
	}
}

func (b *LogBridge) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	fields := eventFields(e)

	var rec otelog.Record

	sev, ok := severities[level]
	if !ok {
		sev = severities[zerolog.InfoLevel]
	}

	rec.SetTimestamp(timestampOf(fields))
	rec.SetObservedTimestamp(time.Now())
	rec.SetSeverity(sev.severity)
	rec.SetSeverityText(sev.text)
	rec.SetBody(otelog.StringValue(msg))

	for k, v := range fields {
		if skippedFields[k] {
			continue
		}

		rec.AddAttributes(attributeOf(k, v))
	}

	b.logger.Emit(e.GetCtx(), rec)
}

// eventFields decodes what has been written to the event so far. zerolog
// keeps the buffer unexported and unterminated until the event is sent.
func eventFields(e *zerolog.Event) map[string]any {
	if e == nil {
		return nil
	}

	buf := reflect.ValueOf(e).Elem().FieldByName("buf")
	if !buf.IsValid() || buf.Kind() != reflect.Slice || buf.Type().Elem().Kind() != reflect.Uint8 {
		return nil
	}

	raw := bytes.TrimSpace(append([]byte(nil), buf.Bytes()...))
	if len(raw) == 0 {
		return nil
	}

	if raw[len(raw)-1] != '}' {
		raw = append(raw, '}')
	}

	var fields map[string]any

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	if decoder.Decode(&fields) != nil {
		return nil
	}

	return fields
}

func attributeOf(key string, value any) otelog.KeyValue {
	switch v := value.(type) {
	case string:
		return otelog.String(key, v)
	case bool:
		return otelog.Bool(key, v)
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return otelog.Int64(key, i)
		}

		f, _ := v.Float64()

		return otelog.Float64(key, f)
	default:
		return otelog.String(key, fmt.Sprint(v))
	}
}

func timestampOf(fields map[string]any) time.Time {
	s, ok := fields[zerolog.TimestampFieldName].(string)
	if !ok {
		return time.Now()
	}

	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		ts, err := time.Parse(layout, s)
		if err == nil {
			return ts
		}
	}

	return time.Now()
}
