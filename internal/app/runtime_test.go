package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/aomori/sobriquet/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Config{
		Environment:           "test",
		HTTPAddr:              "127.0.0.1:0",
		DBPath:                filepath.Join(t.TempDir(), "runtime_test.sqlite"),
		ProfileIDSalt:         "runtime-test-salt",
		BotDisplayName:        "sobriquetd",
		QueueMaxSize:          8,
		QueuePollSec:          1,
		ErrorBackoffSec:       1,
		StopTimeoutSec:        2,
		AnalysisProbability:   1.0,
		AnalysisHistoryLim:    30,
		SobriquetMinLength:    2,
		SobriquetMaxLength:    16,
		MaxSobriquetsInPrompt: 5,
		ProbabilitySmoothing:  1.0,
		RecentSpeakersLimit:   8,
		MaintenanceTimezone:   "UTC",
		LLMProvider:           "openai",
		LLMBaseURL:            "http://127.0.0.1:1",
		LLMModel:              "test-model",
		LLMTimeoutSec:         1,
	}
	return cfg
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewRuntimeAssemblesComponents(t *testing.T) {
	runtime, err := New(testConfig(t), testLogger())
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	defer runtime.Close()

	if runtime.pipeline.Disabled() {
		t.Fatal("valid config must leave the pipeline enabled")
	}
	if runtime.Service() == nil {
		t.Fatal("service must be exposed")
	}
}

func TestNewRuntimeDisablesPipelineOnInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.ProfileIDSalt = ""

	runtime, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("invalid config must not abort construction: %v", err)
	}
	defer runtime.Close()

	if !runtime.pipeline.Disabled() {
		t.Fatal("missing salt must disable the pipeline")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	runtime, err := New(testConfig(t), testLogger())
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	defer runtime.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runtime.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned error on clean shutdown: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runtime did not shut down on cancel")
	}
}
