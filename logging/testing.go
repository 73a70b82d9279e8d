package logging

import (
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

type testAppender struct {
	tb testing.TB
}

// NewTestAppender returns an appender that writes through tb.Log, so that log lines from
// parallel tests are attributed to the right test.
func NewTestAppender(tb testing.TB) Appender {
	return &testAppender{tb}
}

func (tapp *testAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	tapp.tb.Helper()
	parts := []string{
		entry.Time.Format(DefaultTimeFormatStr),
		strings.ToUpper(entry.Level.String()),
		entry.LoggerName,
	}
	if entry.Caller.Defined {
		parts = append(parts, callerToString(&entry.Caller))
	}
	parts = append(parts, entry.Message)
	if len(fields) == 0 {
		tapp.tb.Log(strings.Join(parts, "\t"))
		return nil
	}

	// The json encoder keeps fields in call order, unlike a map.
	buf, err := zapcore.NewJSONEncoder(zapcore.EncoderConfig{SkipLineEnding: true}).EncodeEntry(zapcore.Entry{}, fields)
	if err != nil {
		tapp.tb.Log(strings.Join(parts, "\t"))
		return err
	}
	defer buf.Free()
	parts = append(parts, buf.String())
	tapp.tb.Log(strings.Join(parts, "\t"))
	return nil
}

func (tapp *testAppender) Sync() error {
	return nil
}
