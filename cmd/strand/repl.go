// strand - client engine for a local inference backend.
//
// Copyright (c) 2025 Evan Hallam
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/peterh/liner"

	"github.com/ehallam/strand/internal/backend"
	"github.com/ehallam/strand/internal/config"
	"github.com/ehallam/strand/internal/model"
	"github.com/ehallam/strand/internal/session"
	"github.com/ehallam/strand/internal/store"
	"github.com/ehallam/strand/internal/supervisor"
	"github.com/ehallam/strand/internal/util"
)

// repl is the interactive chat loop. Line editing and history come from
// liner; streaming output is driven by controller state changes.
type repl struct {
	controller  *session.Controller
	client      *backend.Client
	catalog     *model.Catalog
	sup         *supervisor.Supervisor
	snapshots   *store.SnapshotStore
	line        *liner.State
	historyFile string
	buckets     *model.BucketCache
}

func newREPL(controller *session.Controller, client *backend.Client, catalog *model.Catalog, sup *supervisor.Supervisor, snapshots *store.SnapshotStore) *repl {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	historyFile := ""
	if dir, err := config.ConfigDir(); err == nil {
		if err := config.EnsureConfigDir(); err == nil {
			historyFile = filepath.Join(dir, "chat_history")
			if f, err := os.Open(historyFile); err == nil {
				line.ReadHistory(f)
				f.Close()
			}
		}
	}

	return &repl{
		controller:  controller,
		client:      client,
		catalog:     catalog,
		sup:         sup,
		snapshots:   snapshots,
		line:        line,
		historyFile: historyFile,
		buckets:     model.NewBucketCache(),
	}
}

func (r *repl) Close() {
	if r.historyFile != "" {
		if f, err := os.Create(r.historyFile); err == nil {
			r.line.WriteHistory(f)
			f.Close()
		}
	}
	r.line.Close()
}

// Run drives the prompt loop until /quit, EOF, or context cancellation.
func (r *repl) Run(ctx context.Context) error {
	fmt.Printf("strand %s - type a message, or /help for commands\n\n", Version)

	for {
		if ctx.Err() != nil {
			return nil
		}

		input, err := r.line.Prompt("> ")
		if err == liner.ErrPromptAborted {
			fmt.Println("(use /quit to exit)")
			continue
		}
		if err == io.EOF {
			fmt.Println()
			return nil
		}
		if err != nil {
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		r.line.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			if quit := r.handleCommand(ctx, input); quit {
				return nil
			}
			continue
		}

		r.runTurn(ctx, input)
	}
}

// runTurn submits a prompt and blocks printing deltas until the turn
// settles. Ctrl+C during a stream cancels the turn, not the program.
func (r *repl) runTurn(ctx context.Context, prompt string) {
	idle := make(chan struct{}, 1)
	unsubscribe := r.controller.Subscribe(func(change session.StateChange) {
		if change.Delta != "" {
			fmt.Print(change.Delta)
		}
		if change.State == session.StateIdle {
			select {
			case idle <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	if err := r.controller.Submit(ctx, prompt, session.SubmitOptions{}); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	turnCtx, stopNotify := signalContext(ctx)
	defer stopNotify()

	select {
	case <-idle:
	case <-turnCtx.Done():
		r.controller.Cancel()
		<-idle
	}
	fmt.Println()
	r.printOutcome()
}

// printOutcome reports anything the stream itself did not already print.
func (r *repl) printOutcome() {
	if status := r.controller.Status(); status != "" {
		fmt.Printf("[%s]\n", status)
	}
	last := r.controller.Sequence().LastMessage()
	if last == nil {
		return
	}
	switch {
	case last.Role == model.RoleError:
		fmt.Printf("Error: %s\n", last.Content)
	case last.Role == model.RoleAssistant && last.Origin == model.OriginComplete && last.TokensPerSecond > 0:
		fmt.Printf("[%.1fs to first token, %.1f tok/s]\n", last.TTFT.Seconds(), last.TokensPerSecond)
	}
}

// handleCommand dispatches a slash command. Returns true to exit the loop.
func (r *repl) handleCommand(ctx context.Context, input string) bool {
	fields := strings.Fields(input)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/quit", "/exit", "/q":
		return true
	case "/help":
		r.printHelp()
	case "/new":
		if err := r.controller.SetSequence(model.NewSequence()); err != nil {
			fmt.Printf("Error: %v\n", err)
		} else {
			fmt.Println("Started a new conversation.")
		}
	case "/cancel":
		r.controller.Cancel()
	case "/models":
		r.printModels()
	case "/model":
		r.setModel(args)
	case "/list":
		r.printSequences(ctx, len(args) > 0 && args[0] == "pinned")
	case "/open":
		r.openSequence(ctx, args)
	case "/jobs":
		r.printJobs()
	default:
		fmt.Printf("Unknown command %s (try /help)\n", cmd)
	}
	return false
}

func (r *repl) printHelp() {
	fmt.Println(`Commands:
  /new           start a new conversation
  /cancel        stop the current response
  /models        list discovered models
  /model NAME    set the model for this session
  /list [pinned] list saved conversations
  /open ID       open a saved conversation
  /jobs          show supervised processes
  /quit          exit`)
}

func (r *repl) printModels() {
	models := r.catalog.Models()
	if len(models) == 0 {
		fmt.Println("No models discovered yet.")
		return
	}
	active := r.activeModel()
	for _, m := range models {
		marker := "  "
		if m.DisplayName == active {
			marker = "* "
		}
		fmt.Printf("%s%s (%s/%s)\n", marker, m.DisplayName, m.ProviderType, m.ProviderID)
	}
}

func (r *repl) activeModel() string {
	if seq := r.controller.Sequence(); seq.Model != "" {
		return seq.Model
	}
	return config.Global().Inference.DefaultModel
}

func (r *repl) setModel(args []string) {
	if len(args) == 0 {
		fmt.Printf("Current model: %s\n", r.activeModel())
		return
	}
	name := args[0]
	if _, ok := r.catalog.ModelByDisplayName(name); !ok {
		fmt.Printf("Warning: %q is not in the discovered catalog\n", name)
	}
	updated := *config.Global()
	updated.Inference.DefaultModel = name
	config.SetGlobal(&updated)
	fmt.Printf("Model set to %s\n", name)
}

func (r *repl) printSequences(ctx context.Context, pinnedOnly bool) {
	records, err := r.loadSequences(ctx, pinnedOnly)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	if len(records) == 0 {
		fmt.Println("No saved conversations.")
		return
	}
	renderSequenceList(os.Stdout, records, r.buckets)
}

// loadSequences prefers the local snapshot and falls back to the backend
// when none is available.
func (r *repl) loadSequences(ctx context.Context, pinnedOnly bool) ([]backend.SequenceRecord, error) {
	if r.snapshots != nil {
		if pinnedOnly {
			return r.snapshots.LoadPinned()
		}
		return r.snapshots.LoadAll()
	}

	fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	cfg := config.Global()
	return r.client.ListSequences(fetchCtx, backend.ListSequencesOptions{
		Limit:        cfg.List.Limit,
		LookbackDays: cfg.List.LookbackDays,
		PinnedOnly:   pinnedOnly,
	})
}

// renderSequenceList groups sequences under day-bucket headings, newest
// first, with pinned entries marked.
func renderSequenceList(w io.Writer, records []backend.SequenceRecord, buckets *model.BucketCache) {
	buckets.Reset()
	lastBucket := ""
	for _, rec := range records {
		bucket := buckets.Label(rec.UpdatedAt)
		if bucket != lastBucket {
			fmt.Fprintf(w, "\n%s\n", bucket)
			lastBucket = bucket
		}
		pin := " "
		if rec.Pinned {
			pin = "*"
		}
		fmt.Fprintf(w, "  %s %4d  %s\n", pin, rec.SequenceID, util.TruncateRunes(util.SingleLine(rec.Label), 60))
	}
	fmt.Fprintln(w)
}

func (r *repl) openSequence(ctx context.Context, args []string) {
	if len(args) == 0 {
		fmt.Println("Usage: /open ID")
		return
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		fmt.Printf("Invalid sequence ID %q\n", args[0])
		return
	}

	fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	rec, err := r.client.GetSequence(fetchCtx, id)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	seq := model.SequenceFromRecord(rec)
	if err := r.controller.SetSequence(seq); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	fmt.Printf("Opened %q (%d messages)\n", seq.Label, seq.MessageCount())
	for _, msg := range seq.Messages {
		prefix := "you"
		if msg.Role != model.RoleUser {
			prefix = string(msg.Role)
		}
		fmt.Printf("[%s] %s\n", prefix, util.TruncateRunes(util.SingleLine(msg.Content), 100))
	}
}

func (r *repl) printJobs() {
	jobs := r.sup.Jobs()
	if len(jobs) == 0 {
		fmt.Println("No supervised processes.")
		return
	}
	for _, job := range jobs {
		fmt.Printf("  %s  %-8s  %s\n", job.ID, job.State(), job.Command())
	}
}
