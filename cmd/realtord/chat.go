package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cbhirsch/real-estate-agent-chatbot/internal/config"
	"github.com/cbhirsch/real-estate-agent-chatbot/internal/engine"
	"github.com/cbhirsch/real-estate-agent-chatbot/internal/llm"
	"github.com/cbhirsch/real-estate-agent-chatbot/internal/prompt"
	"github.com/cbhirsch/real-estate-agent-chatbot/internal/session"
)

func newChatCmd() *cobra.Command {
	var (
		message   string
		sessionID string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Send one message to the assistant and print the reply",
		Long:  "One-shot invocation: build the engine with an in-memory store, run a single turn, print the reply.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if message == "" {
				return fmt.Errorf("--message is required")
			}

			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}

			client, model := llm.NewClientForModel(cfg.Model)

			persona, err := cfg.Persona()
			if err != nil {
				return err
			}
			assembler := prompt.New(persona, cfg.History.MaxTurns, cfg.History.MaxChars)

			eng := engine.New(session.NewMemoryStore(), client, assembler, model, cfg.MaxTokens,
				engine.WithLogger(newLogger(cfg, os.Stderr)),
				engine.WithTurnTimeout(cfg.TurnTimeout.Std()),
			)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			result, err := eng.AdvanceTurn(ctx, engine.TurnCommand{
				SessionID: sessionID,
				Message:   message,
			})
			if err != nil {
				return fmt.Errorf("turn failed: %w", err)
			}

			fmt.Println(result.Reply)
			if verbose {
				fmt.Fprintf(os.Stderr, "session_id: %s, tokens: %d in / %d out\n",
					result.SessionID, result.Usage.InputTokens, result.Usage.OutputTokens)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&message, "message", "", "Message to send to the assistant")
	cmd.Flags().StringVar(&sessionID, "session", "", "Session ID (defaults to a fresh session)")

	return cmd
}
