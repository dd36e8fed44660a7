package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/quillstream/quill/internal/config"
	"github.com/quillstream/quill/internal/protocol/wire"
	"github.com/quillstream/quill/internal/session"
	"github.com/quillstream/quill/internal/storage"
	"github.com/quillstream/quill/internal/stream"
	"github.com/quillstream/quill/internal/transport"
	"github.com/quillstream/quill/pkg/logger"
)

const connectTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "quill: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logger.New(logger.Options{Debug: cfg.Debug, FilePath: cfg.LogFile})
	defer func() { _ = log.Sync() }()

	if cfg.TokenExpired(time.Now()) {
		log.Warn("configured token appears expired; the server may reject the connection")
	}

	threadID := resolveThreadID(cfg.QuillHome, log)

	dec := stream.New(cfg.MaxDecoderBuffer, log.Named("decoder"))
	engine := session.New(threadID, dec, log.Named("session"))
	engine.Subscribe(printTransitions())

	client := transport.NewClient(cfg.ServerURL, cfg.Token, threadID, log.Named("transport"))
	client.OnEnvelope(engine.HandleEnvelope)

	if err := client.Connect(); err != nil {
		return err
	}
	defer client.Close()

	if !client.WaitForConnect(connectTimeout) {
		return fmt.Errorf("no connection to %s within %s", cfg.ServerURL, connectTimeout)
	}
	engine.AttachSender(client)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return promptLoop(ctx, engine)
	})
	g.Go(func() error {
		<-ctx.Done()
		engine.Disconnect()
		return client.Close()
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// resolveThreadID restores the persisted thread or starts a fresh one.
func resolveThreadID(quillHome string, log *zap.Logger) string {
	if info, ok, err := storage.LoadThreadInfo(quillHome); err == nil && ok {
		log.Info("resuming thread", zap.String("thread_id", info.ThreadID))
		return info.ThreadID
	}
	threadID := uuid.NewString()
	if err := storage.SaveThreadInfo(quillHome, storage.ThreadInfo{ThreadID: threadID}); err != nil {
		log.Warn("could not persist thread id", zap.Error(err))
	}
	return threadID
}

// promptLoop reads user input and submits it as outbound actions.
func promptLoop(ctx context.Context, engine *session.Engine) error {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var ok bool
		switch {
		case line == "/cancel":
			ok = engine.SubmitAction(wire.ActionCancel, nil)
		case line == "/approve":
			ok = engine.SubmitAction(wire.ActionApprove, nil)
		case strings.HasPrefix(line, "/start "):
			ok = engine.SubmitAction(wire.ActionStart, map[string]any{
				"topic": strings.TrimPrefix(line, "/start "),
			})
		case strings.HasPrefix(line, "/edit "):
			rest := strings.TrimPrefix(line, "/edit ")
			sectionID, instruction, _ := strings.Cut(rest, " ")
			ok = engine.SubmitAction(wire.ActionEditSection, map[string]any{
				"section_id":  sectionID,
				"instruction": instruction,
			})
		case strings.HasPrefix(line, "/regenerate "):
			ok = engine.SubmitAction(wire.ActionRegenerate, map[string]any{
				"section_id": strings.TrimPrefix(line, "/regenerate "),
			})
		default:
			ok = engine.SubmitAction(wire.ActionMessage, map[string]any{"content": line})
		}
		if !ok {
			fmt.Fprintln(os.Stderr, "not connected; input dropped")
		}
	}
	return scanner.Err()
}

// printTransitions is a minimal renderer: it reports phase changes, pending
// questions, and the finished report on stdout.
func printTransitions() session.Subscriber {
	var lastPhase session.Phase
	var lastQuestion string
	var printedFinal bool

	return func(snap session.Snapshot) {
		if snap.Phase != lastPhase {
			lastPhase = snap.Phase
			fmt.Printf("-- phase: %s\n", snap.Phase)
		}
		if q := snap.LastQuestion; q != nil && q.Text != lastQuestion {
			lastQuestion = q.Text
			fmt.Printf("?? %s [%s]\n", q.Text, strings.Join(q.Options, " / "))
		}
		if snap.Final != nil && !printedFinal {
			printedFinal = true
			fmt.Println("== report complete ==")
			fmt.Println(snap.Final.Markdown)
		}
	}
}
