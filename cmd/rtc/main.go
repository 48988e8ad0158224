package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/reviewthread/internal/client"
	"github.com/reviewthread/internal/overlay"
	"github.com/reviewthread/pkg/models"
)

func main() {
	app := &cli.App{
		Name:  "rtc",
		Usage: "ReviewThread CLI - work with review conversations from the terminal",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "api-url",
				Value:   "http://localhost:8844",
				Usage:   "ReviewThread API base URL",
				EnvVars: []string{"RTC_API_URL"},
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "access token (required for anything that writes)",
				EnvVars: []string{"RTC_TOKEN"},
			},
			&cli.StringFlag{
				Name:    "attempt",
				Usage:   "attempt UUID the conversations belong to",
				EnvVars: []string{"RTC_ATTEMPT"},
			},
			&cli.StringFlag{
				Name:    "output",
				Value:   "pretty",
				Usage:   "output format: pretty or json",
				EnvVars: []string{"RTC_OUTPUT"},
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Value:   30 * time.Second,
				Usage:   "maximum time to wait for the server",
				EnvVars: []string{"RTC_TIMEOUT"},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "enable verbose output",
				EnvVars: []string{"RTC_VERBOSE"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List conversations on the attempt",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "unresolved",
						Aliases: []string{"u"},
						Usage:   "only conversations still open",
					},
				},
				Action: runList,
			},
			{
				Name:      "show",
				Usage:     "Show one conversation with its full thread",
				ArgsUsage: "CONVERSATION_ID",
				Action:    runShow,
			},
			{
				Name:      "comment",
				Usage:     "Comment at a diff position, appending when a conversation already sits there",
				ArgsUsage: "FILE:SIDE:LINE MESSAGE...",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "diff-file",
						Usage:   "unified diff to snapshot the commented line from",
						EnvVars: []string{"RTC_DIFF_FILE"},
					},
				},
				Action: runComment,
			},
			{
				Name:      "resolve",
				Usage:     "Resolve a conversation with a summary",
				ArgsUsage: "CONVERSATION_ID",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "summary",
						Aliases:  []string{"m"},
						Usage:    "what settled the discussion",
						Required: true,
					},
				},
				Action: runResolve,
			},
			{
				Name:      "unresolve",
				Usage:     "Reopen a resolved conversation",
				ArgsUsage: "CONVERSATION_ID",
				Action:    runUnresolve,
			},
			{
				Name:      "delete",
				Usage:     "Delete a conversation, or one message with --message",
				ArgsUsage: "CONVERSATION_ID",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "message",
						Usage: "delete only this message UUID",
					},
				},
				Action: runDelete,
			},
			{
				Name:  "events",
				Usage: "Poll the attempt's event feed",
				Flags: []cli.Flag{
					&cli.Int64Flag{
						Name:  "since",
						Usage: "only events after this event ID",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "maximum events per page",
					},
				},
				Action: runEvents,
			},
			{
				Name:  "external",
				Usage: "List imported provider comments",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "file",
						Usage: "only comments on this file",
					},
				},
				Action: runExternal,
			},
			{
				Name:      "overlay",
				Usage:     "Merge conversations and imported comments for one file",
				ArgsUsage: "FILE",
				Action:    runOverlay,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newClient(c *cli.Context) (*client.Client, uuid.UUID, error) {
	attemptID, err := uuid.Parse(c.String("attempt"))
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("invalid attempt ID (set --attempt or RTC_ATTEMPT): %w", err)
	}
	return client.NewClient(c.String("api-url"), c.String("token")), attemptID, nil
}

func commandContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.Duration("timeout"))
}

// parseAnchor reads FILE:SIDE:LINE, splitting from the right so file paths
// may contain colons.
func parseAnchor(arg string) (models.Anchor, error) {
	lineIdx := strings.LastIndex(arg, ":")
	if lineIdx <= 0 {
		return models.Anchor{}, fmt.Errorf("anchor must be FILE:SIDE:LINE, got %q", arg)
	}
	line, err := strconv.ParseInt(arg[lineIdx+1:], 10, 64)
	if err != nil {
		return models.Anchor{}, fmt.Errorf("invalid line number in anchor %q: %w", arg, err)
	}

	sideIdx := strings.LastIndex(arg[:lineIdx], ":")
	if sideIdx <= 0 {
		return models.Anchor{}, fmt.Errorf("anchor must be FILE:SIDE:LINE, got %q", arg)
	}
	side, ok := models.ParseDiffSide(arg[sideIdx+1 : lineIdx])
	if !ok {
		return models.Anchor{}, fmt.Errorf("side must be old or new, got %q", arg[sideIdx+1:lineIdx])
	}

	return models.Anchor{FilePath: arg[:sideIdx], Side: side, LineNumber: line}, nil
}

func render(c *cli.Context, data interface{}, pretty func()) error {
	switch c.String("output") {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(data)
	case "pretty":
		pretty()
		return nil
	default:
		return fmt.Errorf("invalid output format: %s (must be json or pretty)", c.String("output"))
	}
}

func runList(c *cli.Context) error {
	sdk, attemptID, err := newClient(c)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(c)
	defer cancel()

	var conversations []*models.Conversation
	if c.Bool("unresolved") {
		conversations, err = sdk.Unresolved(ctx, attemptID)
	} else {
		conversations, err = sdk.Conversations(ctx, attemptID)
	}
	if err != nil {
		return fmt.Errorf("failed to list conversations: %w", err)
	}

	return render(c, conversations, func() {
		if len(conversations) == 0 {
			fmt.Println("No conversations.")
			return
		}
		for _, conv := range conversations {
			fmt.Println(strings.Repeat("-", 80))
			printConversationHeader(conv)
		}
		fmt.Println(strings.Repeat("-", 80))
		fmt.Printf("%d conversation(s)\n", len(conversations))
	})
}

func runShow(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("missing required argument: conversation ID")
	}
	conversationID, err := uuid.Parse(c.Args().Get(0))
	if err != nil {
		return fmt.Errorf("invalid conversation ID: %w", err)
	}

	sdk, attemptID, err := newClient(c)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(c)
	defer cancel()

	conv, err := sdk.ConversationFresh(ctx, attemptID, conversationID)
	if err != nil {
		return fmt.Errorf("failed to fetch conversation: %w", err)
	}

	return render(c, conv, func() {
		fmt.Println(strings.Repeat("=", 80))
		printConversationHeader(conv)
		if conv.CodeLine != nil {
			fmt.Printf("  > %s\n", *conv.CodeLine)
		}
		fmt.Println(strings.Repeat("=", 80))
		for _, msg := range conv.Messages {
			fmt.Printf("\n[%s] %s (%s)\n", msg.CreatedAt.Format(time.RFC3339), msg.Author, msg.ID)
			for _, line := range strings.Split(msg.Content, "\n") {
				fmt.Printf("    %s\n", line)
			}
		}
		if conv.IsResolved && conv.ResolutionSummary != nil {
			fmt.Printf("\nResolved: %s\n", *conv.ResolutionSummary)
		}
	})
}

func runComment(c *cli.Context) error {
	if c.NArg() < 2 {
		return fmt.Errorf("usage: comment FILE:SIDE:LINE MESSAGE...")
	}

	anchor, err := parseAnchor(c.Args().Get(0))
	if err != nil {
		return err
	}

	message := strings.Join(c.Args().Slice()[1:], " ")
	sdk, attemptID, err := newClient(c)
	if err != nil {
		return err
	}

	if diffFile := c.String("diff-file"); diffFile != "" {
		diffText, err := os.ReadFile(diffFile)
		if err != nil {
			return fmt.Errorf("failed to read diff file: %w", err)
		}
		if err := sdk.LoadDiff(string(diffText)); err != nil {
			return fmt.Errorf("failed to parse diff: %w", err)
		}
		if c.Bool("verbose") {
			log.Printf("Loaded diff from %s", diffFile)
		}
	}

	ctx, cancel := commandContext(c)
	defer cancel()

	sdk.SetDraft(anchor, message)
	conv, err := sdk.SubmitDraft(ctx, attemptID, anchor)
	if err != nil {
		return fmt.Errorf("failed to post comment: %w", err)
	}
	if conv == nil {
		fmt.Println("Nothing to save.")
		return nil
	}

	if len(conv.Messages) > 1 {
		fmt.Printf("Appended to conversation %s (%d messages)\n", conv.ID, len(conv.Messages))
	} else {
		fmt.Printf("Opened conversation %s at %s:%s:%d\n", conv.ID, anchor.FilePath, anchor.Side, anchor.LineNumber)
	}
	return nil
}

func runResolve(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("missing required argument: conversation ID")
	}
	conversationID, err := uuid.Parse(c.Args().Get(0))
	if err != nil {
		return fmt.Errorf("invalid conversation ID: %w", err)
	}

	sdk, attemptID, err := newClient(c)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(c)
	defer cancel()

	conv, err := sdk.Resolve(ctx, attemptID, conversationID, c.String("summary"))
	if err != nil {
		return fmt.Errorf("failed to resolve: %w", err)
	}

	fmt.Printf("Resolved conversation %s\n", conv.ID)
	return nil
}

func runUnresolve(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("missing required argument: conversation ID")
	}
	conversationID, err := uuid.Parse(c.Args().Get(0))
	if err != nil {
		return fmt.Errorf("invalid conversation ID: %w", err)
	}

	sdk, attemptID, err := newClient(c)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(c)
	defer cancel()

	conv, err := sdk.Unresolve(ctx, attemptID, conversationID)
	if err != nil {
		return fmt.Errorf("failed to unresolve: %w", err)
	}

	fmt.Printf("Reopened conversation %s\n", conv.ID)
	return nil
}

func runDelete(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("missing required argument: conversation ID")
	}
	conversationID, err := uuid.Parse(c.Args().Get(0))
	if err != nil {
		return fmt.Errorf("invalid conversation ID: %w", err)
	}

	sdk, attemptID, err := newClient(c)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(c)
	defer cancel()

	if messageArg := c.String("message"); messageArg != "" {
		messageID, err := uuid.Parse(messageArg)
		if err != nil {
			return fmt.Errorf("invalid message ID: %w", err)
		}

		conv, deleted, err := sdk.DeleteMessage(ctx, attemptID, conversationID, messageID)
		if err != nil {
			return fmt.Errorf("failed to delete message: %w", err)
		}
		if deleted {
			fmt.Println("Deleted the last message; the conversation is gone.")
		} else {
			fmt.Printf("Deleted message; %d message(s) remain\n", len(conv.Messages))
		}
		return nil
	}

	if err := sdk.Delete(ctx, attemptID, conversationID); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}

	fmt.Printf("Deleted conversation %s\n", conversationID)
	return nil
}

func runEvents(c *cli.Context) error {
	sdk, attemptID, err := newClient(c)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(c)
	defer cancel()

	feed, err := sdk.Events(ctx, attemptID, c.Int64("since"), c.Int("limit"))
	if err != nil {
		return fmt.Errorf("failed to fetch events: %w", err)
	}

	return render(c, feed, func() {
		for _, ev := range feed.Events {
			actor := ""
			if ev.Actor != nil {
				actor = " by " + *ev.Actor
			}
			fmt.Printf("#%d  %s  %s%s\n", ev.ID, ev.Timestamp.Format(time.RFC3339), ev.EventType, actor)
		}
		fmt.Printf("%d event(s), next cursor %d\n", feed.Count, feed.LastID)
	})
}

func runExternal(c *cli.Context) error {
	sdk, attemptID, err := newClient(c)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(c)
	defer cancel()

	comments, err := sdk.ExternalComments(ctx, attemptID, c.String("file"))
	if err != nil {
		return fmt.Errorf("failed to fetch external comments: %w", err)
	}

	return render(c, comments, func() {
		if len(comments) == 0 {
			fmt.Println("No external comments.")
			return
		}
		for _, ec := range comments {
			fmt.Println(strings.Repeat("-", 80))
			fmt.Printf("%s:%s:%d  %s\n", ec.FilePath, ec.Side, ec.LineNumber, ec.Author)
			for _, line := range strings.Split(ec.Body, "\n") {
				fmt.Printf("    %s\n", line)
			}
		}
		fmt.Println(strings.Repeat("-", 80))
		fmt.Printf("%d external comment(s)\n", len(comments))
	})
}

func runOverlay(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("missing required argument: file path")
	}
	filePath := c.Args().Get(0)

	sdk, attemptID, err := newClient(c)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(c)
	defer cancel()

	ov, err := sdk.Overlay(ctx, attemptID, filePath)
	if err != nil {
		return fmt.Errorf("failed to assemble overlay: %w", err)
	}

	return render(c, ov, func() {
		renderOverlayPretty(filePath, ov)
	})
}

func printConversationHeader(conv *models.Conversation) {
	status := "open"
	if conv.IsResolved {
		status = "resolved"
	}
	fmt.Printf("%s  %s:%s:%d  [%s]  %d message(s)\n",
		conv.ID, conv.FilePath, conv.Side, conv.LineNumber, status, len(conv.Messages))
}

func renderOverlayPretty(filePath string, ov *overlay.FileOverlay) {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("OVERLAY: %s\n", filePath)
	fmt.Println(strings.Repeat("=", 80))

	total := 0
	for _, side := range []models.DiffSide{models.SideOld, models.SideNew} {
		slots := ov.Side(side)
		lines := make([]int64, 0, len(slots))
		for line := range slots {
			lines = append(lines, line)
		}
		sort.Slice(lines, func(i, j int) bool { return lines[i] < lines[j] })

		for _, line := range lines {
			entry := slots[line]
			total++

			fmt.Printf("\n[%s:%d] %s\n", side, line, entry.Kind)
			switch entry.Kind {
			case overlay.KindConversation:
				conv := entry.Conversation
				status := "open"
				if conv.IsResolved {
					status = "resolved"
				}
				fmt.Printf("    conversation %s (%s, %d message(s))\n", conv.ID, status, len(conv.Messages))
				if len(conv.Messages) > 0 {
					fmt.Printf("    %s: %s\n", conv.Messages[0].Author, conv.Messages[0].Content)
				}
			case overlay.KindReviewComment:
				fmt.Printf("    %s: %s\n", entry.ReviewComment.Author, entry.ReviewComment.Body)
			case overlay.KindExternalComment:
				fmt.Printf("    %s: %s\n", entry.ExternalComment.Author, entry.ExternalComment.Body)
			}
		}
	}

	if total == 0 {
		fmt.Println("\nNo entries on this file.")
		return
	}
	fmt.Printf("\n%d entr%s on this file\n", total, pluralY(total))
}

func pluralY(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}
