// Command advisorctl is a terminal client for the advisor chat API.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bullground.com/advisor-chat/internal/client"
	"bullground.com/advisor-chat/internal/core"
	"bullground.com/advisor-chat/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type cli struct {
	v   *viper.Viper
	out io.Writer
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New(), out: os.Stdout}

	root := &cobra.Command{
		Use:           "advisorctl",
		Short:         "Talk to the financial advisor chat API from a terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("url", "http://localhost:8080", "API base URL")
	root.PersistentFlags().String("token", "", "access token (defaults to the one saved by login)")
	root.PersistentFlags().Bool("verbose", false, "log malformed stream records")
	for _, name := range []string{"url", "token", "verbose"} {
		if err := c.v.BindPFlag(name, root.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}
	c.v.SetEnvPrefix("advisor")
	c.v.AutomaticEnv()

	root.AddCommand(
		c.loginCmd(),
		c.signupCmd(),
		c.sendCmd(),
		c.chatCmd(),
		c.conversationsCmd(),
		c.historyCmd(),
		c.renameCmd(),
		c.deleteCmd(),
	)
	return root
}

func (c *cli) client() *client.Client {
	level := "error"
	if c.v.GetBool("verbose") {
		level = "warn"
	}
	token := c.v.GetString("token")
	if token == "" {
		token = loadToken()
	}
	return client.New(c.v.GetString("url"),
		client.WithToken(token),
		client.WithLogger(logger.New(logger.Config{Level: level, Pretty: true, Output: os.Stderr})),
	)
}

func tokenPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "advisorctl", "token"), nil
}

func loadToken() string {
	path, err := tokenPath()
	if err != nil {
		return ""
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func saveToken(token string) error {
	path, err := tokenPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(token+"\n"), 0o600)
}

func credentialFlags(cmd *cobra.Command) (email, password *string) {
	email = cmd.Flags().String("email", "", "account email")
	password = cmd.Flags().String("password", "", "account password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return email, password
}

func (c *cli) loginCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "login", Short: "Log in and save the access token"}
	email, password := credentialFlags(cmd)
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		cl := c.client()
		session, err := cl.Login(cmd.Context(), *email, *password)
		if err != nil {
			return err
		}
		if err := saveToken(cl.Token()); err != nil {
			return fmt.Errorf("save token: %w", err)
		}
		fmt.Fprintf(c.out, "Logged in as %s\n", session.User.Email)
		return nil
	}
	return cmd
}

func (c *cli) signupCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "signup", Short: "Create an account and save the access token"}
	email, password := credentialFlags(cmd)
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		cl := c.client()
		session, err := cl.Signup(cmd.Context(), *email, *password)
		if err != nil {
			return err
		}
		if err := saveToken(cl.Token()); err != nil {
			return fmt.Errorf("save token: %w", err)
		}
		fmt.Fprintf(c.out, "Registered %s\n", session.User.Email)
		return nil
	}
	return cmd
}

func (c *cli) sendCmd() *cobra.Command {
	var conversationID string
	cmd := &cobra.Command{
		Use:   "send <message>",
		Short: "Send one message and print the full reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := c.client().SendMessage(cmd.Context(), conversationID, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "[%s]\n%s\n", out.ConversationID, out.AssistantMessage.Content)
			return nil
		},
	}
	cmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "continue an existing conversation")
	return cmd
}

func (c *cli) chatCmd() *cobra.Command {
	var (
		conversationID string
		delay          time.Duration
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive streaming chat",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cl := c.client()
			scanner := bufio.NewScanner(os.Stdin)
			scanner.Buffer(make([]byte, 0, 64*1024), core.MaxMessageLength*4)

			fmt.Fprintln(c.out, "Type a message, or an empty line to quit.")
			for {
				fmt.Fprint(c.out, "> ")
				if !scanner.Scan() {
					return scanner.Err()
				}
				text := strings.TrimSpace(scanner.Text())
				if text == "" {
					return nil
				}

				id, err := c.streamReply(cmd.Context(), cl, conversationID, text, delay)
				if err != nil {
					return err
				}
				conversationID = id
			}
		},
	}
	cmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "continue an existing conversation")
	cmd.Flags().DurationVar(&delay, "delay", client.DefaultTypewriterDelay, "delay between rendered characters")
	return cmd
}

// streamReply renders one streamed reply with the typing animation and
// returns the conversation id reported by the server.
func (c *cli) streamReply(ctx context.Context, cl *client.Client, conversationID, text string, delay time.Duration) (string, error) {
	stream, err := cl.StreamMessage(ctx, conversationID, text)
	if err != nil {
		return conversationID, err
	}
	defer stream.Close()

	tw := client.NewTypewriter(client.NewWriterRenderer(c.out), delay)
	finished := false
	finish := func(final string) {
		if !finished {
			tw.Finish(final)
			finished = true
		}
	}
	defer finish("")

	for {
		ev, err := stream.Next()
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(c.out)
			return conversationID, nil
		}
		if err != nil {
			finish("")
			return conversationID, err
		}

		switch ev.Type {
		case core.EventMetadata:
			conversationID = ev.ConversationID
		case core.EventChunk:
			tw.Push(ev.Text)
		case core.EventError:
			finish("")
			fmt.Fprintf(c.out, "\n[%s] %s\n", ev.Code, ev.Message)
		case core.EventDone:
			if ev.AssistantMessage == nil {
				finish("")
				continue
			}
			if finished {
				fmt.Fprint(c.out, ev.AssistantMessage.Content)
				continue
			}
			finish(ev.AssistantMessage.Content)
		}
	}
}

func pageFlags(cmd *cobra.Command) (limit, offset *int) {
	limit = cmd.Flags().Int("limit", 0, "page size (server default when 0)")
	offset = cmd.Flags().Int("offset", 0, "page offset")
	return limit, offset
}

func (c *cli) conversationsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "conversations", Short: "List your conversations, most recent first"}
	limit, offset := pageFlags(cmd)
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		page, err := c.client().ListConversations(cmd.Context(), *limit, *offset)
		if err != nil {
			return err
		}
		for _, conv := range page.Conversations {
			title := "(untitled)"
			if conv.Title != nil {
				title = *conv.Title
			}
			fmt.Fprintf(c.out, "%s  %s  %s\n", conv.ID, conv.UpdatedAt.Local().Format(time.DateTime), title)
		}
		fmt.Fprintf(c.out, "%d of %d\n", len(page.Conversations), page.Total)
		return nil
	}
	return cmd
}

func (c *cli) historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <conversation-id>",
		Short: "Print the messages of a conversation",
		Args:  cobra.ExactArgs(1),
	}
	limit, offset := pageFlags(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		page, err := c.client().Messages(cmd.Context(), args[0], *limit, *offset)
		if err != nil {
			return err
		}
		for _, msg := range page.Messages {
			fmt.Fprintf(c.out, "%s (%s):\n%s\n\n", msg.Role, msg.CreatedAt.Local().Format(time.DateTime), msg.Content)
		}
		return nil
	}
	return cmd
}

func (c *cli) renameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <conversation-id> <title>",
		Short: "Rename a conversation",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			conv, err := c.client().RenameConversation(cmd.Context(), args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Renamed %s to %q\n", conv.ID, *conv.Title)
			return nil
		},
	}
}

func (c *cli) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <conversation-id>",
		Short: "Delete a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.client().DeleteConversation(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(c.out, "Deleted", args[0])
			return nil
		},
	}
}
