package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nexuscore/nexuscore/internal/agent"
	agentcontext "github.com/nexuscore/nexuscore/internal/agent/context"
	"github.com/nexuscore/nexuscore/internal/agent/tape"
	"github.com/nexuscore/nexuscore/internal/bus"
	"github.com/nexuscore/nexuscore/internal/tools"
	"github.com/nexuscore/nexuscore/pkg/models"
)

func buildReplayCmd() *cobra.Command {
	var input string
	cmd := &cobra.Command{
		Use:   "replay <tape-file>",
		Short: "Re-run a recorded turn against its captured responses, without a live provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd, args[0], input)
		},
	}
	cmd.Flags().StringVar(&input, "input", "replay", "User input to drive the replayed turn with")
	return cmd
}

// runReplay loads a tape recorded by tape.Recorder and drives one turn of
// the loop against it, substituting a tape.Replayer for the live provider
// so the turn's tool-call/parse/continuation handling can be exercised
// offline. The replayed turn never touches the workspace: the registry has
// no tools registered, so any recorded tool call simply surfaces as
// "tool not found" rather than re-executing against disk.
func runReplay(cmd *cobra.Command, tapePath, input string) error {
	out := cmd.OutOrStdout()

	t, err := tape.Load(tapePath)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "replay: loaded %d provider call(s) recorded %s for session %q\n",
		len(t.Calls), t.CreatedAt.Format(time.RFC3339), t.SessionID)

	replayer := tape.NewReplayer(t)
	b := bus.New()
	registry := tools.NewRegistry(nil)
	builder := agentcontext.NewBuilder(agentcontext.Budgets{
		ContextLimit:  8192,
		OutputReserve: 1024,
	}, agentcontext.NewEstimator(4, 0, nil))

	loop := agent.NewLoop(agent.LoopConfig{Model: replayer.Name()}, replayer, registry, nil, builder, b, nil, nil, nil)
	loop.Start(cmd.Context())
	defer loop.Stop()

	done := make(chan models.AgentResponseContent, 1)
	unsub := b.Subscribe(models.EventAgentResponse, func(ctx context.Context, event models.Event) error {
		if content, ok := event.Content.(models.AgentResponseContent); ok {
			done <- content
		}
		return nil
	})
	defer unsub()

	if _, err := b.Emit(cmd.Context(), models.Event{
		Type:      models.EventUserInput,
		SessionID: t.SessionID,
		Content:   models.UserInputContent{RequestID: "replay", Text: input},
	}); err != nil {
		return fmt.Errorf("replay: emit user input: %w", err)
	}

	select {
	case resp := <-done:
		fmt.Fprintf(out, "finishReason: %s\n\n%s\n", resp.FinishReason, resp.Text)
		if replayer.Exhausted() {
			fmt.Fprintln(out, "\nreplay: tape fully consumed")
		}
		return nil
	case <-time.After(10 * time.Second):
		return fmt.Errorf("replay: timed out waiting for agent:response")
	}
}
