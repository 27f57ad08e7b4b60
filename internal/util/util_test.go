package util

import (
	"context"
	"testing"
	"time"

	constants "github.com/CodeAndHammer/heungbuja/internal/constants"
)

func TestFormatUptime(t *testing.T) {
	cases := []struct {
		dur      time.Duration
		expected string
	}{
		{time.Second * 5, "5 seconds"},
		{time.Second * 65, "1 minute, 5 seconds"},
		{time.Second * 3665, "1 hour, 1 minute, 5 seconds"},
		{time.Second * 3600, "1 hour, 0 minutes, 0 seconds"},
		{time.Second * 60, "1 minute, 0 seconds"},
		{time.Second * 1, "1 second"},
	}
	for _, c := range cases {
		got := FormatUptime(c.dur)
		if got != c.expected {
			t.Errorf("FormatUptime(%v) = %q, want %q", c.dur, got, c.expected)
		}
	}
}

func TestPlural(t *testing.T) {
	if plural(1) != "" {
		t.Errorf("plural(1) = %q, want \"\"", plural(1))
	}
	if plural(2) != "s" {
		t.Errorf("plural(2) = %q, want \"s\"", plural(2))
	}
	if plural(0) != "s" {
		t.Errorf("plural(0) = %q, want \"s\"", plural(0))
	}
}

func TestRound2(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{88.888888, 88.89},
		{69.444444, 69.44},
		{50, 50},
		{0, 0},
		{12.345678, 12.35},
	}
	for _, c := range cases {
		if got := Round2(c.in); got != c.want {
			t.Errorf("Round2(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestCtxCarriesRequestID(t *testing.T) {
	SetupLogger("debug", false)
	ctx := context.WithValue(context.Background(), constants.RequestIDKey, "req-1")
	if Ctx(ctx) == nil {
		t.Fatal("expected a logger")
	}
	var empty context.Context
	if Ctx(empty) == nil {
		t.Fatal("expected a logger for nil context")
	}
}
