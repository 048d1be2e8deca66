package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/matheus3301/inbox/internal/api"
	"github.com/matheus3301/inbox/internal/model"
	"github.com/matheus3301/inbox/internal/profile"
	"github.com/matheus3301/inbox/internal/rpc"
	"github.com/spf13/pflag"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func main() {
	profileFlag := pflag.StringP("profile", "p", "", "profile name (overrides config default)")
	jsonFlag := pflag.Bool("json", false, "output in JSON format")
	emailFlag := pflag.String("email", "", "list conversations of this email instead of the daemon identity")
	nameFlag := pflag.String("name", "", "receiver display name (send, create, edit)")
	timeout := pflag.Duration("timeout", 10*time.Second, "request timeout for one-shot commands")
	pflag.Usage = printUsage
	pflag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fatal(err)
	}

	args := pflag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c, err := rpc.New(profile.SocketPath(profileName))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for profile %q: %v\n", profileName, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	out := printer{json: *jsonFlag}

	// watch and events stream until interrupted.
	switch args[0] {
	case "watch":
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		cmdWatch(ctx, c, args[1:], *emailFlag, out)
		return
	case "events":
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		ns := ""
		if len(args) > 1 {
			ns = args[1]
		}
		cmdEvents(ctx, c, ns, out)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch args[0] {
	case "status":
		cmdStatus(ctx, c, out)
	case "conversations":
		resp, err := c.Conversations(ctx, *emailFlag)
		check(err)
		out.list(resp)
	case "more-conversations":
		need(args, 2, "more-conversations <page>")
		resp, err := c.LoadMoreConversations(ctx, *emailFlag, atoi(args[1]))
		check(err)
		out.list(resp)
	case "messages":
		need(args, 2, "messages <conversation-id>")
		resp, err := c.Messages(ctx, parseID(args[1]))
		check(err)
		out.list(resp)
	case "more-messages":
		need(args, 3, "more-messages <conversation-id> <page>")
		resp, err := c.LoadMoreMessages(ctx, parseID(args[1]), atoi(args[2]))
		check(err)
		out.list(resp)
	case "find":
		need(args, 2, "find <email> [<email>]")
		a, b := "", args[1]
		if len(args) > 2 {
			a, b = args[1], args[2]
		}
		resp, err := c.FindConversation(ctx, a, b)
		check(err)
		if out.json {
			outputJSON(resp)
			return
		}
		if !resp.Found {
			fmt.Println("No conversation")
			return
		}
		out.conversations([]model.Conversation{*resp.Conversation})
	case "send":
		need(args, 3, "send <email> <message...>")
		conv, err := c.Send(ctx, writeRequest(0, args[1], *nameFlag, args[2:]))
		check(err)
		out.conversation(conv)
	case "create":
		need(args, 3, "create <email> <message...>")
		conv, err := c.CreateConversation(ctx, writeRequest(0, args[1], *nameFlag, args[2:]))
		check(err)
		out.conversation(conv)
	case "edit":
		need(args, 4, "edit <conversation-id> <email> <message...>")
		conv, err := c.EditConversation(ctx, writeRequest(parseID(args[1]), args[2], *nameFlag, args[3:]))
		check(err)
		out.conversation(conv)
	case "channels":
		resp, err := c.PushChannels(ctx)
		check(err)
		if out.json {
			outputJSON(resp)
			return
		}
		out.channels(resp.Channels)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: inboxctl [--profile <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                              Show daemon status and cache entries")
	fmt.Fprintln(os.Stderr, "  conversations                       List conversations")
	fmt.Fprintln(os.Stderr, "  more-conversations <page>           Load another conversations page")
	fmt.Fprintln(os.Stderr, "  messages <id>                       List messages of a conversation")
	fmt.Fprintln(os.Stderr, "  more-messages <id> <page>           Load another messages page")
	fmt.Fprintln(os.Stderr, "  find [<email>] <email>              Find the conversation between two users")
	fmt.Fprintln(os.Stderr, "  send <email> <message...>           Write to a user, opening a conversation if needed")
	fmt.Fprintln(os.Stderr, "  create <email> <message...>         Open a conversation")
	fmt.Fprintln(os.Stderr, "  edit <id> <email> <message...>      Write to an existing conversation")
	fmt.Fprintln(os.Stderr, "  channels                            List push channels")
	fmt.Fprintln(os.Stderr, "  watch conversations                 Stream the conversation list")
	fmt.Fprintln(os.Stderr, "  watch messages <id>                 Stream a message list")
	fmt.Fprintln(os.Stderr, "  events [namespace]                  Stream daemon events")
	fmt.Fprintln(os.Stderr, "")
	pflag.PrintDefaults()
}

func cmdStatus(ctx context.Context, c *rpc.Client, out printer) {
	resp, err := c.Status(ctx)
	check(err)
	if out.json {
		outputJSON(resp)
		return
	}
	fmt.Printf("Profile:  %s\n", resp.Profile)
	fmt.Printf("Identity: %s\n", resp.Identity)
	fmt.Printf("Uptime:   %s\n", time.Duration(resp.UptimeMs)*time.Millisecond)
	fmt.Printf("Dropped:  %d\n", resp.BusDropped)
	fmt.Println()
	for _, e := range resp.Entries {
		out.entry(e)
	}
	if len(resp.Channels) > 0 {
		fmt.Println()
		out.channels(resp.Channels)
	}
}

func cmdWatch(ctx context.Context, c *rpc.Client, args []string, email string, out printer) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: inboxctl watch <conversations|messages <id>>")
		os.Exit(1)
	}
	req := api.WatchEntryRequest{Query: args[0], Email: email}
	switch args[0] {
	case api.QueryConversations:
	case api.QueryMessages:
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: inboxctl watch messages <id>")
			os.Exit(1)
		}
		req.ConversationID = parseID(args[1])
	default:
		fmt.Fprintf(os.Stderr, "unknown watch query: %s\n", args[0])
		os.Exit(1)
	}

	err := c.WatchEntry(ctx, req, func(resp api.ListResponse) error {
		out.list(resp)
		if !out.json {
			fmt.Println()
		}
		return nil
	})
	checkStream(err)
}

func cmdEvents(ctx context.Context, c *rpc.Client, namespace string, out printer) {
	err := c.WatchEvents(ctx, namespace, func(evt api.EventEnvelope) error {
		if out.json {
			outputJSON(evt)
			return nil
		}
		ts := time.UnixMilli(evt.OccurredAtUnixMs).Format(time.TimeOnly)
		payload, _ := json.Marshal(evt.Payload)
		fmt.Printf("%s  %-28s %s\n", ts, evt.Kind, payload)
		return nil
	})
	checkStream(err)
}

func writeRequest(id model.ID, email, name string, words []string) api.WriteRequest {
	return api.WriteRequest{
		ConversationID: id,
		To:             model.User{Email: email, Name: name},
		Message:        strings.Join(words, " "),
	}
}

type printer struct {
	json bool
}

func (p printer) list(resp api.ListResponse) {
	if p.json {
		outputJSON(resp)
		return
	}
	p.entry(resp.Entry)
	if resp.Conversations != nil {
		p.conversations(resp.Conversations)
	}
	if resp.Messages != nil {
		p.messages(resp.Messages)
	}
}

func (p printer) entry(e api.EntryInfo) {
	stale := ""
	if e.Stale {
		stale = " (stale)"
	}
	fmt.Printf("%s  %s%s  total=%d\n", e.Key, e.Status, stale, e.Total)
	if e.Error != "" {
		fmt.Printf("  error: %s\n", e.Error)
	}
}

func (p printer) conversation(c model.Conversation) {
	if p.json {
		outputJSON(c)
		return
	}
	p.conversations([]model.Conversation{c})
}

func (p printer) conversations(items []model.Conversation) {
	for _, c := range items {
		names := make([]string, 0, len(c.Users))
		for _, u := range c.Users {
			names = append(names, u.Email)
		}
		fmt.Printf("%6d  %s  %-40s %s\n", c.ID, stamp(c.Timestamp), strings.Join(names, ", "), c.Message)
	}
}

func (p printer) messages(items []model.Message) {
	for _, m := range items {
		fmt.Printf("%6d  %s  %-24s %s\n", m.ID, stamp(m.Timestamp), m.Sender.Email, m.Message)
	}
}

func (p printer) channels(chs []api.ChannelInfo) {
	for _, ch := range chs {
		fmt.Printf("%s/%s  %s  refs=%d attempts=%d\n", ch.Topic, ch.Filter, ch.State, ch.Refs, ch.Attempts)
	}
}

func stamp(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).Format(time.DateTime)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func need(args []string, n int, usage string) {
	if len(args) < n {
		fmt.Fprintf(os.Stderr, "usage: inboxctl %s\n", usage)
		os.Exit(1)
	}
}

func parseID(s string) model.ID {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		fatal(fmt.Errorf("invalid id %q", s))
	}
	return model.ID(n)
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		fatal(fmt.Errorf("invalid page %q", s))
	}
	return n
}

func check(err error) {
	if err != nil {
		fatal(err)
	}
}

// checkStream treats an interrupt as a clean exit.
func checkStream(err error) {
	if err == nil || errors.Is(err, context.Canceled) || status.Code(err) == codes.Canceled {
		return
	}
	fatal(err)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
