// internal/commands/ask.go
package chorus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/k0kubun/pp"
	"github.com/spf13/cobra"

	"github.com/mwiater/chorus/internal/chat"
	"github.com/mwiater/chorus/internal/dispatch"
	"github.com/mwiater/chorus/internal/providers"
	"github.com/mwiater/chorus/internal/server"
	"github.com/mwiater/chorus/internal/util"
)

// askOptions holds the flags of the ask command.
type askOptions struct {
	models      []string
	stream      bool
	jsonOutput  bool
	maxTokens   int
	temperature float64
	setTemp     bool
	width       int
}

var askOpts askOptions

// askCmd sends one message to every selected model and prints the replies.
var askCmd = &cobra.Command{
	Use:   "ask [message]",
	Short: "Send one message to several models and print every reply",
	Long: `The 'ask' command sends a single message to every selected model concurrently.
By default it waits for all models and prints the replies in the order the models were given;
with --stream each reply is printed as soon as its model settles.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		askOpts.setTemp = cmd.Flags().Changed("temperature")
		message := strings.Join(args, " ")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		return chat.Run(ctx, GetConfig(), askOpts.models, func(ctx context.Context, s *chat.Session) error {
			return runAsk(ctx, cmd.OutOrStdout(), s, message, askOpts)
		})
	},
}

func init() {
	askCmd.Flags().StringSliceVarP(&askOpts.models, "models", "m", nil, "comma-separated model ids (defaults to defaultModels)")
	askCmd.Flags().BoolVar(&askOpts.stream, "stream", false, "print each reply as soon as its model settles")
	askCmd.Flags().BoolVar(&askOpts.jsonOutput, "json", false, "print the round as JSON")
	askCmd.Flags().IntVar(&askOpts.maxTokens, "max-tokens", 0, "override the per-model token cap")
	askCmd.Flags().Float64Var(&askOpts.temperature, "temperature", 0, "override the sampling temperature (0-2)")
	askCmd.Flags().IntVar(&askOpts.width, "width", 100, "wrap replies to this many columns (0 disables wrapping)")
	rootCmd.AddCommand(askCmd)
}

// runAsk runs one round for message and writes the replies to out.
func runAsk(ctx context.Context, out io.Writer, s *chat.Session, message string, opts askOptions) error {
	req := s.Request(message)
	req.MaxTokens = opts.maxTokens
	if opts.setTemp {
		t := opts.temperature
		req.Temperature = &t
	}

	var round *dispatch.Round
	if opts.stream && !opts.jsonOutput {
		var mu sync.Mutex
		h, err := s.Dispatcher.Incremental(ctx, s.Resolver(), req, func(u dispatch.Update) {
			mu.Lock()
			defer mu.Unlock()
			printResult(out, u.Result, opts.width)
		})
		if err != nil {
			return err
		}
		round = h.Round()
	} else {
		var err error
		round, err = s.Dispatcher.Batch(ctx, s.Resolver(), req)
		if err != nil {
			return err
		}
		if !opts.jsonOutput {
			for _, res := range round.Results() {
				printResult(out, res, opts.width)
			}
		}
	}

	if opts.jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(server.NewChatResponse(round))
	}

	if DebugEnabled() {
		pp.Fprintln(out, round)
	}
	failures := len(round.Failures())
	fmt.Fprintf(out, "%d of %d model(s) answered in %.1fs\n", len(round.Entries)-failures, len(round.Entries), round.Elapsed().Seconds())
	return nil
}

// printResult writes one model's reply block.
func printResult(out io.Writer, res providers.Result, width int) {
	header := color.New(color.FgMagenta, color.Bold).SprintFunc()
	failed := color.New(color.FgRed).SprintFunc()
	faint := color.New(color.Faint).SprintFunc()

	fmt.Fprintln(out, header("== "+res.Model+" =="))
	if !res.OK() {
		fmt.Fprintln(out, failed(fmt.Sprintf("Error (%s): %s", res.ErrorKind, res.ErrorMessage)))
		fmt.Fprintln(out)
		return
	}
	fmt.Fprintln(out, util.WrapToWidth(res.Content, width))
	if res.Usage != nil && res.Usage.TotalTokens > 0 {
		fmt.Fprintln(out, faint(fmt.Sprintf("tokens: %d prompt, %d completion, %d total", res.Usage.PromptTokens, res.Usage.CompletionTokens, res.Usage.TotalTokens)))
	}
	fmt.Fprintln(out)
}
