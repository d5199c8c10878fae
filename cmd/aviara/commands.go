package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"aviara-chat/internal/domain"
	"aviara-chat/internal/session"
)

func newRootCmd() *cobra.Command {
	v := viper.New()
	root := &cobra.Command{
		Use:   "aviara",
		Short: "Chat with a language model from the terminal",
		Long: `aviara keeps a local history of conversations with a language model.

Quick Start:
  aviara send "Hello"        # ask in the active conversation
  aviara retry               # regenerate a failed reply
  aviara list                # list conversations
  aviara export --format md  # export the active conversation`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindConfig(v, cmd.Root().PersistentFlags())
		},
	}
	registerFlags(root.PersistentFlags())

	root.AddCommand(
		newSendCmd(v),
		newEditCmd(v),
		newRetryCmd(v),
		newNewCmd(v),
		newSelectCmd(v),
		newListCmd(v),
		newShowCmd(v),
		newRenameCmd(v),
		newDeleteCmd(v),
		newExportCmd(v),
	)
	return root
}

type runFunc func(ctx context.Context, cmd *cobra.Command, e *session.Engine, p *printer, args []string) error

// withEngine opens the configured store and provider, restores the active
// conversation and runs fn.
func withEngine(v *viper.Viper, fn runFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := loadConfig(v)
		p, err := newPrinter(cmd.OutOrStdout(), cfg.Style)
		if err != nil {
			return err
		}
		a, err := openApp(ctx, cfg, newLogger(cfg.Verbose))
		if err != nil {
			return err
		}
		defer func() { _ = a.close() }()
		return fn(ctx, cmd, a.engine, p, args)
	}
}

func newSendCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "send <prompt>",
		Short: "Send a prompt in the active conversation",
		Args:  cobra.MinimumNArgs(1),
		RunE: withEngine(v, func(ctx context.Context, _ *cobra.Command, e *session.Engine, p *printer, args []string) error {
			if err := e.Submit(ctx, strings.Join(args, " ")); err != nil {
				return describe(err)
			}
			printActiveReply(e, p)
			return nil
		}),
	}
}

func newEditCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "edit <index> <text>",
		Short: "Replace a prompt and discard everything after it",
		Args:  cobra.MinimumNArgs(2),
		RunE: withEngine(v, func(ctx context.Context, _ *cobra.Command, e *session.Engine, p *printer, args []string) error {
			index, err := parseIndex(args[0])
			if err != nil {
				return err
			}
			if err := e.Edit(ctx, index, strings.Join(args[1:], " ")); err != nil {
				return describe(err)
			}
			printActiveReply(e, p)
			return nil
		}),
	}
}

func newRetryCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [index]",
		Short: "Regenerate a failed reply (the last one by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: withEngine(v, func(ctx context.Context, _ *cobra.Command, e *session.Engine, p *printer, args []string) error {
			active, ok := e.Active()
			if !ok {
				return describe(&session.Error{Code: session.ErrorNoActiveChat})
			}
			index := len(active.Messages) - 1
			if len(args) == 1 {
				var err error
				if index, err = parseIndex(args[0]); err != nil {
					return err
				}
			}
			if err := e.Retry(ctx, index); err != nil {
				return describe(err)
			}
			printActiveReply(e, p)
			return nil
		}),
	}
}

func newNewCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "new",
		Short: "Start a new conversation",
		Args:  cobra.NoArgs,
		RunE: withEngine(v, func(ctx context.Context, cmd *cobra.Command, e *session.Engine, _ *printer, _ []string) error {
			if err := e.NewChat(ctx); err != nil {
				return describe(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Started a new conversation.")
			return nil
		}),
	}
}

func newSelectCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "select <id>",
		Short: "Make a stored conversation active",
		Args:  cobra.ExactArgs(1),
		RunE: withEngine(v, func(ctx context.Context, _ *cobra.Command, e *session.Engine, p *printer, args []string) error {
			if err := e.SelectChat(ctx, args[0]); err != nil {
				return describe(err)
			}
			if active, ok := e.Active(); ok {
				p.chat(active)
			}
			return nil
		}),
	}
}

func newListCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List conversations, newest first",
		Args:  cobra.NoArgs,
		RunE: withEngine(v, func(ctx context.Context, _ *cobra.Command, e *session.Engine, p *printer, _ []string) error {
			activeID := ""
			if active, ok := e.Active(); ok {
				activeID = active.ID
			}
			p.chatList(e.Chats(ctx), activeID)
			return nil
		}),
	}
}

func newShowCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "show [id]",
		Short: "Print a conversation (the active one by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: withEngine(v, func(ctx context.Context, _ *cobra.Command, e *session.Engine, p *printer, args []string) error {
			chat, err := resolveChat(ctx, e, args)
			if err != nil {
				return err
			}
			p.chat(chat)
			return nil
		}),
	}
}

func newRenameCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id> <title>",
		Short: "Rename a conversation",
		Args:  cobra.MinimumNArgs(2),
		RunE: withEngine(v, func(ctx context.Context, cmd *cobra.Command, e *session.Engine, _ *printer, args []string) error {
			title := strings.Join(args[1:], " ")
			if err := e.RenameChat(ctx, args[0], title); err != nil {
				return describe(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Renamed %s to %q.\n", args[0], strings.TrimSpace(title))
			return nil
		}),
	}
}

func newDeleteCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: withEngine(v, func(ctx context.Context, cmd *cobra.Command, e *session.Engine, _ *printer, args []string) error {
			if err := e.DeleteChat(ctx, args[0]); err != nil {
				return describe(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s.\n", args[0])
			return nil
		}),
	}
}

func newExportCmd(v *viper.Viper) *cobra.Command {
	var (
		format string
		output string
	)
	cmd := &cobra.Command{
		Use:   "export [id]",
		Short: "Export a conversation (the active one by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: withEngine(v, func(ctx context.Context, cmd *cobra.Command, e *session.Engine, _ *printer, args []string) error {
			chat, err := resolveChat(ctx, e, args)
			if err != nil {
				return err
			}
			f, err := e.ExportChatAs(ctx, chat.ID, format)
			if err != nil {
				return describe(err)
			}
			if output == "-" {
				_, err := cmd.OutOrStdout().Write(f.Data)
				return err
			}
			path := filepath.Join(output, f.Name)
			if err := os.WriteFile(path, f.Data, 0o600); err != nil {
				return fmt.Errorf("write export: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported to %s\n", path)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&format, "format", "f", "json", "export format: json, yaml or md")
	cmd.Flags().StringVarP(&output, "output", "o", ".", "output directory, or - for stdout")
	return cmd
}

func resolveChat(ctx context.Context, e *session.Engine, args []string) (domain.Chat, error) {
	if len(args) == 0 {
		active, ok := e.Active()
		if !ok {
			return domain.Chat{}, describe(&session.Error{Code: session.ErrorNoActiveChat})
		}
		return active, nil
	}
	for _, c := range e.Chats(ctx) {
		if c.ID == args[0] {
			return c, nil
		}
	}
	return domain.Chat{}, describe(&session.Error{Code: session.ErrorNotFound})
}

func printActiveReply(e *session.Engine, p *printer) {
	if active, ok := e.Active(); ok {
		p.lastTurn(active)
	}
}

func parseIndex(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid turn index %q", s)
	}
	return n, nil
}

// describe turns engine rejections into short user-facing errors.
func describe(err error) error {
	var sErr *session.Error
	if !errors.As(err, &sErr) {
		return err
	}
	switch sErr.Code {
	case session.ErrorBusy:
		return errors.New("another request is still in flight")
	case session.ErrorBlankPrompt:
		return errors.New("prompt must not be empty")
	case session.ErrorBlankTitle:
		return errors.New("title must not be empty")
	case session.ErrorNoActiveChat:
		return errors.New("no active conversation")
	case session.ErrorNotRetryable:
		return errors.New("that turn is not a failed reply")
	case session.ErrorNotEditable:
		return errors.New("that turn is not a prompt")
	case session.ErrorNotFound:
		return errors.New("conversation not found")
	default:
		return err
	}
}
