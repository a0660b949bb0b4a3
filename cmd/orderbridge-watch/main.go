package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"orderbridge/internal/stream"
)

func main() {
	_ = godotenv.Load()

	plain := flag.Bool("plain", false, "print events line by line instead of the dashboard")
	flag.Parse()

	addr := "localhost:9090"
	if a := os.Getenv("ORDERBRIDGE_ADDR"); a != "" {
		addr = a
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *plain {
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
		if err := stream.NewClient(addr, logger).Watch(ctx, printEvent); err != nil {
			logger.Error("watch error", "error", err)
			os.Exit(1)
		}
		fmt.Println("\nshutdown")
		return
	}

	// The dashboard owns the terminal; client logs would corrupt it.
	client := stream.NewClient(addr, slog.New(slog.NewTextHandler(io.Discard, nil)))
	p := tea.NewProgram(newModel(addr, cancel), tea.WithAltScreen())

	go func() {
		err := client.Watch(ctx, func(ev stream.Event) { p.Send(eventMsg(ev)) })
		p.Send(watchEndMsg{err: err})
	}()

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
