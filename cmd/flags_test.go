package cmd

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/x-cli-team/x-cli-sub003/internal/session"
)

func TestParseProviderModel(t *testing.T) {
	tests := []struct {
		in       string
		provider string
		model    string
		wantErr  bool
	}{
		{"", "", "", false},
		{"openai", "openai", "", false},
		{"OpenAI:gpt-4.1", "openai", "gpt-4.1", false},
		{" gemini : gemini-2.5-pro ", "gemini", "gemini-2.5-pro", false},
		{"bogus:model", "", "", true},
	}
	for _, tt := range tests {
		provider, model, err := parseProviderModel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("parseProviderModel(%q) err=%v, wantErr=%v", tt.in, err, tt.wantErr)
		}
		if provider != tt.provider || model != tt.model {
			t.Errorf("parseProviderModel(%q) = %q, %q; want %q, %q", tt.in, provider, model, tt.provider, tt.model)
		}
	}
}

func TestOverridesModelFlagWins(t *testing.T) {
	f := CommonFlags{Provider: "openai:gpt-4.1", Model: "gpt-4.1-mini", Yes: true, MaxTurns: 3}
	o, err := f.overrides()
	if err != nil {
		t.Fatal(err)
	}
	if o.Provider != "openai" || o.Model != "gpt-4.1-mini" {
		t.Errorf("got provider=%q model=%q", o.Provider, o.Model)
	}
	if !o.NoConfirm || o.MaxTurns != 3 {
		t.Errorf("flags not carried: %+v", o)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want session.Status
	}{
		{nil, session.StatusComplete},
		{context.Canceled, session.StatusInterrupted},
		{fmt.Errorf("stream: %w", context.Canceled), session.StatusInterrupted},
		{errors.New("rate limited"), session.StatusError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestExitCode(t *testing.T) {
	if got := exitCode(errInterrupted); got != 130 {
		t.Errorf("exitCode(interrupted) = %d, want 130", got)
	}
	if got := exitCode(errors.New("boom")); got != 1 {
		t.Errorf("exitCode(other) = %d, want 1", got)
	}
}
