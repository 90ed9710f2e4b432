package main

import (
	"context"
	"flag"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/timmy/gradeflow/internal/app"
	"github.com/timmy/gradeflow/internal/config"
	"github.com/timmy/gradeflow/internal/domain"
	"github.com/timmy/gradeflow/internal/logger"
	"github.com/timmy/gradeflow/internal/progress"
)

func main() {
	appLogger := logger.New(&logger.Config{
		Level:       "warn",
		Format:      "text",
		ServiceName: "gradeflow-cli",
	})
	logger.SetDefaultLogger(appLogger)

	configPath := flag.String("config", "", "Path to config file")
	filePath := flag.String("file", "", "Assignment file to upload")
	text := flag.String("text", "", "Answer text to grade instead of a file")
	jobID := flag.String("job", "", "Grade an already uploaded job")
	studentID := flag.String("student-id", "", "Student id")
	studentName := flag.String("student-name", "", "Student name")
	background := flag.String("background", "", "Background notes for the grader")
	templateID := flag.String("template", "", "Grading template id")
	instructions := flag.String("instructions", "", "Extra grading instructions")
	model := flag.String("model", "", "Grading model override")
	preview := flag.Bool("preview", false, "Use the preview flow (results are not persisted)")
	timeout := flag.Duration("timeout", 0, "Cancel grading after this long (0 disables)")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	if *verbose {
		appLogger = logger.New(&logger.Config{Level: "debug", Format: "text", ServiceName: "gradeflow-cli"})
		logger.SetDefaultLogger(appLogger)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	job := domain.JobConfig{
		TextContent:   *text,
		ExistingJobID: *jobID,
		StudentID:     *studentID,
		StudentName:   *studentName,
		Background:    *background,
		TemplateID:    *templateID,
		Instructions:  *instructions,
		Model:         *model,
		Preview:       *preview,
	}
	if *filePath != "" {
		data, err := os.ReadFile(*filePath)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to read assignment file")
		}
		job.File = &domain.FilePayload{
			Name:        filepath.Base(*filePath),
			ContentType: mime.TypeByExtension(filepath.Ext(*filePath)),
			Data:        data,
		}
	}
	if err := job.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(2)
	}

	comp, err := app.Build(cfg, appLogger)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize grading components")
	}
	defer comp.Close()
	controller := comp.Controller

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		fmt.Fprintln(os.Stderr, "\ncancelling...")
		controller.Cancel()
	}()
	if *timeout > 0 {
		t := time.AfterFunc(*timeout, func() {
			fmt.Fprintf(os.Stderr, "\ntimed out after %s, cancelling...\n", *timeout)
			controller.Cancel()
		})
		defer t.Stop()
	}

	stopWatch := make(chan struct{})
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		watch(controller, cfg.Progress.TickInterval, stopWatch)
	}()

	gradedID, ok := controller.Start(context.Background(), job)
	close(stopWatch)
	<-watchDone

	state := controller.State()
	controller.Close()

	switch {
	case ok:
		fmt.Printf("\ngraded job %s in %s\n", gradedID, formatMs(state.TotalElapsedMs))
		for _, p := range state.PhaseTimes {
			fmt.Printf("  %-12s %s\n", p.Phase.Label(), formatMs(p.ElapsedMs))
		}
	case state.Error != "":
		fmt.Fprintf(os.Stderr, "\ngrading failed: %s\n", state.Error)
		os.Exit(1)
	default:
		fmt.Fprintln(os.Stderr, "grading cancelled")
		os.Exit(130)
	}
}

// watch prints a status line whenever the step changes and refreshes the timer in place.
func watch(c *progress.Controller, interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		interval = progress.DefaultTickInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var since int64
	var lastStep domain.Step
	for {
		for _, ev := range c.Events(since) {
			since = ev.Seq
			if ev.State.Step != lastStep && ev.State.Step != domain.StepNone {
				lastStep = ev.State.Step
				fmt.Printf("\n%s", lastStep.Label())
			}
		}
		if lastStep != "" && lastStep != domain.StepCompleted {
			fmt.Printf("\r%s %s   ", lastStep.Label(), formatMs(c.State().TotalElapsedMs))
		}

		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

func formatMs(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).Round(100 * time.Millisecond).String()
}
