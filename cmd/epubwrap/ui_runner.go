package main

import (
	"context"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"epubwrap/internal/config"
	"epubwrap/internal/ui"
	"epubwrap/internal/validator"
)

type batchOutcome struct {
	reports []validator.Report
	err     error
}

// runBatchWithUI validates archives while a Bubble Tea view shows progress
// on stderr. The view exits when the batch is done.
func runBatchWithUI(ctx context.Context, e *env, src config.Source, archives []string, jobs int) ([]validator.Report, error) {
	events := make(chan validator.Event, 256)
	svc, err := e.service(src, validator.WithProgress(validator.ChannelSink{Ch: events}))
	if err != nil {
		return nil, err
	}
	defer svc.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	outcomeCh := make(chan batchOutcome, 1)
	go func() {
		reports, err := svc.ValidateAll(ctx, archives, jobs)
		outcomeCh <- batchOutcome{reports: reports, err: err}
		close(events)
	}()

	model := ui.NewProgressModel("validating", archives, events)
	program := tea.NewProgram(model, tea.WithOutput(os.Stderr), tea.WithContext(ctx))
	_, uiErr := program.Run()
	// дочитываем события, чтобы не встал пул
	go func() {
		for range events {
		}
	}()

	var outcome batchOutcome
	select {
	case outcome = <-outcomeCh:
	default:
		// view закрыли раньше времени (Ctrl+C): прерываем пачку
		cancel()
		outcome = <-outcomeCh
		if outcome.err == nil {
			outcome.err = context.Canceled
		}
	}
	if uiErr != nil && outcome.err == nil {
		return outcome.reports, uiErr
	}
	return outcome.reports, outcome.err
}
