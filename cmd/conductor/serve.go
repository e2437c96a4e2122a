package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/voxloop/conductor/core"
	convctx "github.com/voxloop/conductor/core/context"
	"github.com/voxloop/conductor/internal/audioio/malgo"
	"github.com/voxloop/conductor/internal/config"
	"github.com/voxloop/conductor/internal/httpapi"
	"github.com/voxloop/conductor/internal/llmclient/groq"
	memorystore "github.com/voxloop/conductor/internal/memory"
	"github.com/voxloop/conductor/internal/persistence"
	sttdeepgram "github.com/voxloop/conductor/internal/sttclient/deepgram"
	"github.com/voxloop/conductor/internal/telemetry"
	ttsdeepgram "github.com/voxloop/conductor/internal/ttsclient/deepgram"
	"github.com/voxloop/conductor/internal/vad"
)

const personaPrompt = "You are a helpful, concise voice assistant. Keep replies short enough to speak naturally."

// broadcastPlayer tees every played frame to the /ws/audio subscribers so
// remote listeners hear the same output PCM as the local sink.
type broadcastPlayer struct {
	core.Player
	broadcast func(pcm []byte)
}

func (b *broadcastPlayer) Play(ctx context.Context, frame core.AudioFrame) error {
	if b.broadcast != nil && !frame.EndOfUtterance && len(frame.PCM) > 0 {
		b.broadcast(frame.PCM)
	}
	return b.Player.Play(ctx, frame)
}

func newServeCmd() *cobra.Command {
	var memoryEndpointEnabled bool
	var logDir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the voice conversation orchestrator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), memoryEndpointEnabled, logDir)
		},
	}
	cmd.Flags().BoolVar(&memoryEndpointEnabled, "enable-memory-endpoint", false, "expose GET /memory (process memory snapshot)")
	cmd.Flags().StringVar(&logDir, "log-dir", "./conversations", "directory for daily conversation JSONL logs")
	return cmd
}

func runServe(ctx context.Context, memoryEndpointEnabled bool, logDir string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("conductor: %w", err)
	}

	shutdownTelemetry, err := telemetry.Init("conductor", "0.1.0")
	if err != nil {
		return fmt.Errorf("conductor: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	sessionID := uuid.NewString()

	// --- Collaborators, dependency order per startup: Memory first. ---
	mem := memorystore.NewStore(memorystore.WithTargetTokens(cfg.RetrievedContextTargetTokens))

	convLog, err := persistence.NewLog(logDir)
	if err != nil {
		return fmt.Errorf("conductor: %w", err)
	}

	stt := sttdeepgram.NewClient(cfg.DeepgramAPIKey)
	stt.Language = cfg.STTLanguage
	stt.SampleRate = cfg.SampleRate

	tts := ttsdeepgram.NewClient(cfg.DeepgramAPIKey)
	tts.Voice = cfg.TTSVoiceID
	if cfg.TTSOutputFormat != "" {
		tts.Encoding = cfg.TTSOutputFormat
	}

	llm := groq.NewClient(cfg.GroqAPIKey, cfg.LLMModel, "")
	llm.MaxTokens = cfg.LLMMaxTokens
	llm.Effort = cfg.LLMEffort

	device, err := malgo.NewPlayer(24000)
	if err != nil {
		return fmt.Errorf("conductor: open playback device: %w", err)
	}
	defer device.Close()
	player := &broadcastPlayer{Player: device}

	detector := vad.NewEnergyDetector(
		vad.WithThresholds(cfg.VADThresholdNormal, cfg.VADThresholdSpeaking))

	// --- Core wiring. ---
	machine := core.NewMachine()
	store := convctx.NewStore(personaPrompt, func() string {
		return "current time: " + time.Now().Format(time.RFC3339)
	}, cfg.SlidingWindowTurns)
	registry := core.NewRegistry()

	turn := core.NewTurnProcessor(machine, store, registry, llm, tts, player, mem, nil)
	turn.Apply(
		core.WithMaxToolIterations(cfg.MaxToolIterations),
		core.WithActiveTimeout(time.Duration(cfg.ActiveTimeoutSeconds)*time.Second),
		core.WithPersistence(convLog, sessionID),
	)
	orch := core.NewOrchestrator(machine, store, registry, turn, detector, stt, mem)

	tools := core.OrchestrationTools(orch, turn)
	turn.Apply(core.WithTools(tools))

	httpServer := httpapi.NewServer(cfg.HTTPAddr, orch, memoryEndpointEnabled)
	player.broadcast = httpServer.Broadcast

	if retrieved, err := mem.PreLoad(ctx, personaPrompt); err == nil && retrieved != "" {
		store.SetRetrievedContext(retrieved)
	}

	if err := orch.Startup(ctx); err != nil {
		return fmt.Errorf("conductor: startup: %w", err)
	}

	if err := player.Start(ctx); err != nil {
		return fmt.Errorf("conductor: start playback: %w", err)
	}

	mic, err := malgo.NewMicrophone(cfg.SampleRate, cfg.MicrophoneDeviceIndex, orch.OnAudioFrame)
	if err != nil {
		return fmt.Errorf("conductor: open capture device: %w", err)
	}
	if err := mic.Start(); err != nil {
		return fmt.Errorf("conductor: start capture: %w", err)
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() { serverErr <- httpServer.ListenAndServe(sigCtx) }()

	<-sigCtx.Done()

	// Shutdown reverses startup: disable microphone first, then tear
	// down collaborators, so no background task observes a torn-down
	// resource mid-flight.
	_ = mic.Stop()
	mic.Close()

	if err := orch.Shutdown(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "conductor: shutdown: %v\n", err)
	}

	if err := convLog.ExportCSV(logDir + "/export.csv"); err != nil {
		fmt.Fprintf(os.Stderr, "conductor: csv export: %v\n", err)
	}
	_ = convLog.Close()

	return <-serverErr
}
