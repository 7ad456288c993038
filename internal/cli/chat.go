package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"portal-backend/internal/chat"
	"portal-backend/internal/client"
	"portal-backend/internal/models"
	"portal-backend/internal/session"

	"github.com/spf13/cobra"
)

var (
	chatAPI          string
	chatToken        string
	chatEmail        string
	chatPassword     string
	chatConversation string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat from the terminal as a client or staff member",
	Long: `Connects to a running server over HTTP and the websocket change feed.
Clients talk in their own conversation. Staff get the live conversation list
and open threads with /open.

Commands:
  /list            show the conversation list (staff)
  /open <id>       open a conversation (staff)
  /archive, /reopen change the open conversation's status (staff)
  /quit            leave`,
	Example: `  portalctl chat --email maria@example.com --password secret
  portalctl chat --token "$(portalctl token --user $ADMIN_ID --role admin)"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		c := client.New(chatAPI, chatToken)
		if chatEmail != "" {
			if _, err := c.Login(ctx, chatEmail, chatPassword); err != nil {
				return fmt.Errorf("login: %w", err)
			}
		}
		if c.Token() == "" {
			return errors.New("--token or --email/--password is required")
		}
		me, err := c.Me(ctx)
		if err != nil {
			return fmt.Errorf("resolve identity: %w", err)
		}

		out := cmd.OutOrStdout()
		lines := scanLines(ctx, cmd.InOrStdin())
		if me.IsAdmin() {
			return runStaffChat(ctx, c, me, out, lines)
		}
		return runClientChat(ctx, c, me, out, lines)
	},
}

func init() {
	chatCmd.Flags().StringVar(&chatAPI, "api", "", "server base URL (default $PORTAL_API_URL or http://localhost:8080)")
	chatCmd.Flags().StringVar(&chatToken, "token", "", "access token")
	chatCmd.Flags().StringVar(&chatEmail, "email", "", "sign in with this email")
	chatCmd.Flags().StringVar(&chatPassword, "password", "", "password for --email")
	chatCmd.Flags().StringVar(&chatConversation, "conversation", "", "conversation to open on start (staff)")
}

// scanLines delivers trimmed input lines until EOF or ctx ends.
func scanLines(ctx context.Context, in io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case ch <- strings.TrimSpace(sc.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

func runClientChat(ctx context.Context, c *client.Client, me *models.Identity, out io.Writer, lines <-chan string) error {
	t := newTranscript(out)
	page, err := session.NewClientPage(ctx, c.ClientBackend(), c.Feed(false), me.UserID, t.update, logger)
	if err != nil {
		return err
	}
	defer page.Close()

	fmt.Fprintf(out, "Signed in as %s. Type a message, /quit to leave.\n", me.Email)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok || line == "/quit" {
				return nil
			}
			if strings.HasPrefix(line, "/") {
				fmt.Fprintln(out, "! unknown command")
				continue
			}
			submit(out, page, line)
		}
	}
}

func runStaffChat(ctx context.Context, c *client.Client, me *models.Identity, out io.Writer, lines <-chan string) error {
	inbox, err := session.NewAdminInbox(ctx, c.AdminBackend(), c.Feed(true), me.UserID, "", nil, logger)
	if err != nil {
		return err
	}
	defer inbox.Close()

	t := newTranscript(out)
	open := func(id string) {
		// The old thread must stop printing before the transcript forgets it.
		if old := inbox.Thread(); old != nil {
			old.Close()
		}
		t.reset()
		if _, err := inbox.Open(id, t.update); err != nil {
			fmt.Fprintf(out, "! open %s: %v\n", id, err)
		}
	}

	fmt.Fprintf(out, "Signed in as staff %s.\n", me.Email)
	printRows(out, inbox.List.Rows())
	if chatConversation != "" {
		open(chatConversation)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok || line == "/quit" {
				return nil
			}
			cmd, arg, _ := strings.Cut(line, " ")
			switch cmd {
			case "/list":
				printRows(out, inbox.List.Rows())
			case "/open":
				if arg == "" {
					fmt.Fprintln(out, "! usage: /open <conversation id>")
					continue
				}
				open(strings.TrimSpace(arg))
			case "/archive", "/reopen":
				thread := inbox.Thread()
				if thread == nil {
					fmt.Fprintln(out, "! no conversation open")
					continue
				}
				id := thread.Snapshot().ConversationID
				var conv *models.Conversation
				if cmd == "/archive" {
					conv, err = c.ArchiveConversation(ctx, id)
				} else {
					conv, err = c.ReopenConversation(ctx, id)
				}
				if err != nil {
					fmt.Fprintf(out, "! %v\n", err)
					continue
				}
				fmt.Fprintf(out, "* conversation %s is %s\n", conv.ID, conv.Status)
			default:
				if strings.HasPrefix(line, "/") {
					fmt.Fprintln(out, "! unknown command")
					continue
				}
				thread := inbox.Thread()
				if thread == nil {
					fmt.Fprintln(out, "! open a conversation first")
					continue
				}
				submit(out, thread, line)
			}
		}
	}
}

func submit(out io.Writer, c *session.Controller, line string) {
	if _, err := c.Submit(line); err != nil {
		if errors.Is(err, chat.ErrValidation) {
			return
		}
		fmt.Fprintf(out, "! %v\n", err)
	}
}
