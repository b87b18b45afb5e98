package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/okian/facescan/internal/adapters/capture"
	service "github.com/okian/facescan/internal/app"
	"github.com/okian/facescan/internal/config"
	"github.com/okian/facescan/internal/domain/model"
	"github.com/okian/facescan/internal/domain/session"
	"github.com/okian/facescan/internal/domain/types"
	"github.com/okian/facescan/pkg/logger"
)

// Version is the application version.
const Version = "0.1.0"

const (
	drainTimeout = 5 * time.Second
	detailsGrace = time.Second
)

// scanOptions holds the flags of the scan command.
type scanOptions struct {
	Mode     string
	Decision string
	Window   time.Duration
	Verbose  bool
}

func newRootCmd() *cobra.Command {
	var opts scanOptions
	cmd := &cobra.Command{
		Use:     "scan [image_path]",
		Short:   "Match one face against the case database",
		Version: Version,
		Args:    cobra.MaximumNArgs(1),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			_ = godotenv.Load()
			w := io.Discard
			if opts.Verbose {
				w = os.Stderr
			}
			return logger.Init(logger.WithWriter(w))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			cfg, err := config.Load(cmd.Context())
			if err != nil {
				return err
			}
			_ = logger.SetLevelString(cfg.LogLevel)
			var source capture.Source
			if len(args) == 1 {
				if _, err := os.Stat(args[0]); err != nil {
					return fmt.Errorf("input image: %w", err)
				}
				source = capture.NewFileSource(args[0], capture.NewEncoder(cfg.MaxImageSize, cfg.JPEGQuality))
			}
			return runScan(cmd.Context(), cfg, source, opts, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	cmd.Flags().StringVarP(&opts.Mode, "mode", "m", "", "Transport: request or streaming (default from config)")
	cmd.Flags().StringVarP(&opts.Decision, "decision", "d", "ask", "What to do with a match: ask, confirm or reject")
	cmd.Flags().DurationVarP(&opts.Window, "window", "w", 30*time.Second, "How long a streaming scan runs before it is stopped")
	cmd.Flags().BoolVarP(&opts.Verbose, "verbose", "v", false, "Write logs to stderr")
	return cmd
}

// runScan drives one session to resolution.
func runScan(ctx context.Context, cfg *config.Config, source capture.Source, opts scanOptions, in io.Reader, out, errOut io.Writer) error {
	decide, err := parseDecision(opts.Decision)
	if err != nil {
		return err
	}
	var mode model.TransportMode
	if opts.Mode != "" {
		if mode, err = model.ParseTransportMode(opts.Mode); err != nil {
			return err
		}
	}

	rt, err := service.Assemble(cfg, source)
	if err != nil {
		return err
	}
	if err := rt.Start(ctx); err != nil {
		return err
	}
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		_ = rt.Stop(drainCtx)
	}()
	ctrl := rt.Controller

	if err := ctrl.StartSession(ctx, mode); err != nil {
		return err
	}
	if err := ctrl.Capture(ctx); err != nil {
		return err
	}
	snap, err := ctrl.WaitFor(ctx, func(s types.Snapshot) bool {
		return s.State == session.StatePreview || s.Error != ""
	})
	if err != nil {
		return err
	}
	if snap.State != session.StatePreview {
		return fmt.Errorf("capture: %s", snap.Error)
	}
	fmt.Fprintf(out, "Captured %dx%d still from %s\n", snap.Image.Width, snap.Image.Height, snap.Image.PreviewRef)

	if err := ctrl.Submit(ctx); err != nil {
		return err
	}
	snap, err = awaitVerdict(ctx, ctrl, snap.Mode, opts.Window, errOut)
	if err != nil {
		return err
	}

	switch snap.State {
	case session.StateMatchFound:
		snap = awaitDetails(ctx, ctrl, snap, cfg.DirectoryTimeout()+detailsGrace)
		printMatch(out, snap)
		d, err := decide(in, out)
		if err != nil {
			return err
		}
		if d == model.DecisionConfirmed {
			err = ctrl.Confirm(ctx)
		} else {
			err = ctrl.Reject(ctx)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Recorded %s for %s\n", d, snap.Outcome.MatchedRecordID)
		return nil
	case session.StateNoMatch:
		msg := "No matching record found."
		if snap.Outcome != nil {
			msg = snap.Outcome.Message
		}
		fmt.Fprintln(out, msg)
		if snap.Guidance == model.GuidanceRetake {
			fmt.Fprintln(out, "Take a new photo with the face clearly visible.")
		}
		return ctrl.Dismiss(ctx)
	}
	return fmt.Errorf("session %s (%s): %s; guidance: %s", snap.State, snap.CancelReason, snap.Error, guidanceText(snap.Guidance))
}

// awaitVerdict renders progress until the session leaves processing. A
// streaming scan is stopped once window passes.
func awaitVerdict(ctx context.Context, ctrl *service.Controller, mode model.TransportMode, window time.Duration, errOut io.Writer) (types.Snapshot, error) {
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription("Matching"),
		progressbar.OptionSetWriter(errOut),
		progressbar.OptionClearOnFinish(),
	)
	defer func() { _ = bar.Finish() }()

	waitCtx := ctx
	if mode == model.ModeStreaming && window > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, window)
		defer cancel()
	}
	snap, err := ctrl.WaitFor(waitCtx, func(s types.Snapshot) bool {
		_ = bar.Set(int(s.Progress * 100))
		return s.State != session.StateProcessing
	})
	if err == nil || ctx.Err() != nil || !errors.Is(err, context.DeadlineExceeded) {
		return snap, err
	}
	if err := ctrl.StopScan(ctx); err != nil {
		return snap, err
	}
	return ctrl.Snapshot(), nil
}

// awaitDetails waits up to bound for the case lookup behind a surfaced match
// to settle, so the match is shown with its details or their failure.
func awaitDetails(ctx context.Context, ctrl *service.Controller, snap types.Snapshot, bound time.Duration) types.Snapshot {
	if !snap.Busy {
		return snap
	}
	waitCtx, cancel := context.WithTimeout(ctx, bound)
	defer cancel()
	settled, err := ctrl.WaitFor(waitCtx, func(s types.Snapshot) bool {
		return s.State != session.StateMatchFound || !s.Busy
	})
	if err != nil || settled.Outcome == nil {
		return ctrl.Snapshot()
	}
	return settled
}

func printMatch(out io.Writer, snap types.Snapshot) {
	v := snap.Outcome
	fmt.Fprintf(out, "%s %s (confidence %s)\n", v.Message, v.MatchedRecordID, v.ConfidenceLabel)
	switch d := v.Details; {
	case d != nil:
		fmt.Fprintf(out, "  Name:      %s\n  Age:       %d\n  Status:    %s\n  Last seen: %s\n", d.Name, d.Age, d.Status, d.LastSeen)
	case v.DetailsError != "":
		fmt.Fprintf(out, "  Case details unavailable: %s\n", v.DetailsError)
	default:
		fmt.Fprintln(out, "  Case details unavailable: lookup did not finish")
	}
}

type decider func(in io.Reader, out io.Writer) (model.Decision, error)

func parseDecision(s string) (decider, error) {
	switch strings.ToLower(s) {
	case "confirm":
		return func(io.Reader, io.Writer) (model.Decision, error) { return model.DecisionConfirmed, nil }, nil
	case "reject":
		return func(io.Reader, io.Writer) (model.Decision, error) { return model.DecisionRejected, nil }, nil
	case "ask", "":
		return ask, nil
	}
	return nil, fmt.Errorf("unknown decision %q: want ask, confirm or reject", s)
}

// ask prompts until the operator answers y or n.
func ask(in io.Reader, out io.Writer) (model.Decision, error) {
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "Is this the same person? [y/n] ")
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return "", err
			}
			return "", errors.New("no answer on stdin")
		}
		switch strings.ToLower(strings.TrimSpace(sc.Text())) {
		case "y", "yes":
			return model.DecisionConfirmed, nil
		case "n", "no":
			return model.DecisionRejected, nil
		}
	}
}

func guidanceText(g model.Guidance) string {
	switch g {
	case model.GuidanceRetry:
		return "check the connection and retry"
	case model.GuidanceRetake:
		return "retake the photo"
	}
	return "none"
}
