package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aretw0/canopy"
	"github.com/aretw0/canopy/internal/presentation/tui"
	"github.com/aretw0/canopy/internal/sanitize"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/observability"
	"github.com/aretw0/canopy/pkg/predictor"
	"github.com/aretw0/canopy/pkg/session"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var runCmd = &cobra.Command{
	Use:   "run [request]",
	Short: "Route a request through the tree",
	Long: `Runs a request through the decision tree and prints the events as they happen.

The request is taken from the arguments, or read from stdin when it is piped.
Without either, an interactive prompt reads one request per line.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var opts []canopy.Option
		if script, _ := cmd.Flags().GetStringSlice("script"); len(script) > 0 {
			opts = append(opts, canopy.WithPredictor(predictor.Tools(script...)))
		}

		logger, err := newLogger(cmd)
		if err != nil {
			return err
		}
		opts = append(opts, canopy.WithLifecycleHooks(observability.LogHooks(logger)))

		a, err := setup(cmd, opts...)
		if err != nil {
			return err
		}

		sessions, closeStore, err := a.file.OpenSessions(a.logger)
		if err != nil {
			return err
		}
		defer closeStore()

		out := cmd.OutOrStdout()
		asJSON, _ := cmd.Flags().GetBool("json")
		rich := !asJSON && isTerminal(out)
		printer := tui.NewPrinter(out, rich)
		printer.Verbose, _ = cmd.Flags().GetBool("verbose")
		conversation, _ := cmd.Flags().GetString("conversation")

		r := &requestRunner{
			router:       a.router,
			sessions:     sessions,
			conversation: conversation,
			printer:      printer,
			asJSON:       asJSON,
			out:          out,
		}

		if len(args) > 0 {
			return r.run(cmd.Context(), strings.Join(args, " "))
		}

		in := cmd.InOrStdin()
		if !isTerminal(in) {
			data, err := io.ReadAll(in)
			if err != nil {
				return err
			}
			return r.run(cmd.Context(), strings.TrimSpace(string(data)))
		}

		if banner, _ := cmd.Flags().GetBool("banner"); banner && rich {
			tui.PrintBanner(out)
		}
		return r.interactive(cmd.Context(), in)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringSlice("script", nil, "Choose these tools in order instead of using the predictor")
	runCmd.Flags().String("conversation", "", "Persist the run under this conversation id")
	runCmd.Flags().Bool("json", false, "Print events as JSON lines")
	runCmd.Flags().BoolP("verbose", "v", false, "Print result objects")
	runCmd.Flags().Bool("banner", true, "Show the banner in interactive mode")
}

type requestRunner struct {
	router       *canopy.Router
	sessions     *session.Manager
	conversation string
	printer      *tui.Printer
	asJSON       bool
	out          io.Writer
}

func (r *requestRunner) run(ctx context.Context, request string) error {
	request, err := sanitize.Request(request)
	if err != nil {
		return err
	}

	var state *domain.RunState
	drive := func(ctx context.Context) error {
		state = r.router.NewRun(request)
		state.ConversationID = r.conversation
		for ev := range r.router.Stream(ctx, state) {
			r.emit(ev)
		}
		if r.conversation == "" {
			return nil
		}
		return r.sessions.Store().Save(context.WithoutCancel(ctx), r.conversation, state)
	}

	if r.conversation != "" {
		err = r.sessions.WithLock(ctx, r.conversation, drive)
	} else {
		err = drive(ctx)
	}
	if err != nil {
		return err
	}

	if r.asJSON {
		return json.NewEncoder(r.out).Encode(state)
	}
	r.printer.Summary(state)
	return state.Err
}

func (r *requestRunner) emit(ev domain.Event) {
	if r.asJSON {
		_ = json.NewEncoder(r.out).Encode(ev)
		return
	}
	r.printer.Print(ev)
}

// interactive reads one request per line until EOF, "exit" or "quit".
// A failed run is reported and the prompt continues.
func (r *requestRunner) interactive(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(r.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(r.out)
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		switch input {
		case "":
			continue
		case "exit", "quit":
			fmt.Fprintln(r.out, "Bye!")
			return nil
		}
		if _, err := sanitize.Request(input); err != nil {
			fmt.Fprintln(r.out, "✗", err)
			continue
		}
		// Failures are already reported in the summary.
		_ = r.run(ctx, input)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
