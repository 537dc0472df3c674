// Command casectl submits a case to a casebridge server and waits for the
// report.
//
//	casectl -server http://localhost:8080 -prompt "describe file" notes.txt scan.pdf
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kiranshivaraju/casebridge/pkg/client"
	"github.com/kiranshivaraju/casebridge/pkg/models"
)

// Exit codes.
const (
	exitOK       = 0
	exitFailed   = 1 // job failed or request rejected
	exitTimedOut = 2 // job may still complete
	exitUsage    = 64
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("casectl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	server := fs.String("server", envOr("CASEBRIDGE_URL", "http://localhost:8080"), "server base URL")
	promptText := fs.String("prompt", "", "question about the case")
	jobID := fs.String("id", "", "optional job id (idempotency key)")
	historyFile := fs.String("history", "", "JSON file with prior turns [{role, text}]")
	timeout := fs.Duration("timeout", 15*time.Minute, "how long to wait for the report")
	noWait := fs.Bool("no-wait", false, "print the job id and exit without waiting")
	status := fs.String("status", "", "print the status of an existing job and exit")
	verbose := fs.Bool("v", false, "log each poll")

	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := client.New(*server)

	if *status != "" {
		st, err := c.Status(ctx, *status)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return exitFailed
		}
		return printStatus(stdout, stderr, st)
	}

	req := client.SubmitRequest{JobID: *jobID, Prompt: *promptText}
	for _, path := range fs.Args() {
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(stderr, "reading %s: %v\n", path, err)
			return exitUsage
		}
		req.Files = append(req.Files, client.File{Name: filepath.Base(path), Data: data})
	}
	if *historyFile != "" {
		h, err := readHistory(*historyFile)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return exitUsage
		}
		req.History = h
	}
	if req.Prompt == "" && len(req.Files) == 0 {
		fmt.Fprintln(stderr, "nothing to submit: pass -prompt or at least one file")
		fs.Usage()
		return exitUsage
	}

	id, err := c.Submit(ctx, req)
	if err != nil {
		fmt.Fprintf(stderr, "submit: %v\n", err)
		return exitFailed
	}
	slog.Info("job submitted", "job_id", id)

	if *noWait {
		fmt.Fprintln(stdout, id)
		return exitOK
	}

	st, err := c.Wait(ctx, id, client.WaitOptions{
		Timeout: *timeout,
		OnPoll: func(s client.JobStatus) {
			slog.Info("polled", "job_id", s.JobID, "status", s.Status)
		},
	})
	if err != nil {
		var terr *client.TimeoutError
		if errors.As(err, &terr) {
			fmt.Fprintf(stderr, "%v\ncheck later with: casectl -status %s\n", err, id)
			return exitTimedOut
		}
		fmt.Fprintf(stderr, "waiting for %s: %v\n", id, err)
		return exitFailed
	}
	return printStatus(stdout, stderr, st)
}

func printStatus(stdout, stderr io.Writer, st *client.JobStatus) int {
	switch st.Status {
	case models.JobStatusCompleted:
		if st.Result != nil {
			fmt.Fprintln(stdout, *st.Result)
		}
		return exitOK
	case models.JobStatusFailed:
		msg := "unknown error"
		if st.Error != nil {
			msg = *st.Error
		}
		fmt.Fprintf(stderr, "job %s failed: %s\n", st.JobID, msg)
		return exitFailed
	default:
		fmt.Fprintf(stdout, "job %s is %s\n", st.JobID, st.Status)
		return exitOK
	}
}

func readHistory(path string) ([]models.Turn, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	var turns []models.Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, fmt.Errorf("parsing history %s: %w", path, err)
	}
	return turns, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
