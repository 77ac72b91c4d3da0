package config_test

import (
	"testing"

	"github.com/quietriver/earshot/internal/config"
	"github.com/quietriver/earshot/pkg/engine"
	enginemock "github.com/quietriver/earshot/pkg/engine/mock"
)

func TestEnumValidity(t *testing.T) {
	t.Parallel()
	if !config.LogInfo.IsValid() || config.LogLevel("loud").IsValid() {
		t.Error("LogLevel.IsValid misbehaves")
	}
	if !config.EngineWhisperCPP.IsValid() || config.EngineKind("dictation").IsValid() {
		t.Error("EngineKind.IsValid misbehaves")
	}
	if !config.OverflowDropNewest.IsValid() || config.OverflowPolicy("drop-random").IsValid() {
		t.Error("OverflowPolicy.IsValid misbehaves")
	}
	if !config.PendingBadger.IsValid() || config.PendingBackend("postgres").IsValid() {
		t.Error("PendingBackend.IsValid misbehaves")
	}
}

func TestEngineEntryConfigured(t *testing.T) {
	t.Parallel()
	if (config.EngineEntry{}).Configured() {
		t.Error("empty entry reported configured")
	}
	if !(config.EngineEntry{Kind: config.EngineOpenAI}).Configured() {
		t.Error("entry with kind reported unconfigured")
	}
}

func TestRegistry_CreateEngine(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	reg.RegisterEngine(config.EngineWhisperCPP, func(e config.EngineEntry) (engine.Adapter, error) {
		return &enginemock.Adapter{NameValue: "fake-" + e.Model}, nil
	})

	eng, err := reg.CreateEngine(config.EngineEntry{Kind: config.EngineWhisperCPP, Model: "base"})
	if err != nil {
		t.Fatalf("CreateEngine: %v", err)
	}
	if eng.Name() != "fake-base" {
		t.Errorf("Name = %q", eng.Name())
	}
}

func TestRegistry_UnregisteredKind(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	_, err := reg.CreateEngine(config.EngineEntry{Kind: config.EngineOpenAI})
	if err == nil {
		t.Fatal("expected error for unregistered kind, got nil")
	}
}
