package worker

import (
	"bytes"
	"strings"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

func TestAsynqLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewAsynqLogger(zerolog.New(&buf))

	l.Warn("queue ", "generate", " is paused")

	out := buf.String()
	if !strings.Contains(out, `"message":"queue generate is paused"`) || !strings.Contains(out, `"component":"asynq"`) {
		t.Fatalf("log line = %s", out)
	}
}

func TestAsynqLevel(t *testing.T) {
	tests := []struct {
		in   zerolog.Level
		want asynq.LogLevel
	}{
		{zerolog.TraceLevel, asynq.DebugLevel},
		{zerolog.DebugLevel, asynq.DebugLevel},
		{zerolog.InfoLevel, asynq.InfoLevel},
		{zerolog.WarnLevel, asynq.WarnLevel},
		{zerolog.ErrorLevel, asynq.ErrorLevel},
		{zerolog.FatalLevel, asynq.ErrorLevel},
	}
	for _, tt := range tests {
		if got := AsynqLevel(tt.in); got != tt.want {
			t.Errorf("AsynqLevel(%s) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
