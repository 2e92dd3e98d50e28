package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/zulandar/rehearsal/internal/agent"
	"github.com/zulandar/rehearsal/internal/invite"
	"github.com/zulandar/rehearsal/internal/simulator"
)

const chatHelp = `Commands:
  /accept   accept the connection invite
  /reject   reject the connection invite
  /agent    let the agent send the first message
  /me       write the first message yourself
  /skip     skip the agent's wait
  /reset    restart the conversation
  /state    print the session as JSON
  /quit     leave
Anything else is sent to the agent as the lead's message.`

func newChatCmd() *cobra.Command {
	var (
		configPath string
		agentID    string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Rehearse a conversation in the terminal",
		Long:  "Plays the configured lead against an agent interactively. Type /help for commands.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChatCmd(cmd, configPath, agentID)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Rehearsal config file")
	cmd.Flags().StringVarP(&agentID, "agent", "a", "", "agent ID to rehearse against (required)")
	cmd.MarkFlagRequired("agent")
	return cmd
}

func runChatCmd(cmd *cobra.Command, configPath, agentID string) error {
	cfg, log, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	store, err := agent.NewStore(gormDB)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	agentCfg, err := store.Get(ctx, agentID)
	if err != nil {
		return err
	}
	ex, err := buildExchange(cfg.Service, nil, log)
	if err != nil {
		return err
	}
	notifier, closeNotifier, err := buildNotifier(ctx, cfg.Notify, gormDB, log)
	if err != nil {
		return err
	}
	defer closeNotifier()

	o, err := simulator.New(simulator.Opts{
		Agent:    agentCfg,
		Lead:     cfg.Lead,
		Exchange: ex,
		Copy:     cfg.Copy,
		Log:      log,
		Notifier: notifier,
	})
	if err != nil {
		return err
	}
	defer o.Close()

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	return runChat(ctx, o, cmd.InOrStdin(), cmd.OutOrStdout(), interactive)
}

// runChat drives o from line-oriented input until /quit, end of input or
// ctx cancellation. With prompt set, a "> " prompt is printed before each
// read.
func runChat(ctx context.Context, o *simulator.Orchestrator, in io.Reader, out io.Writer, prompt bool) error {
	a := o.Agent()
	fmt.Fprintf(out, "Rehearsing with %s (%s) as %s. Type /help for commands.\n", a.Name, a.ID, o.Lead().Name)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	v := &chatView{out: out}
	if err := o.Open(ctx); err != nil {
		return err
	}
	v.render(o.Snapshot())

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		if prompt {
			fmt.Fprint(out, "> ")
		}
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}
		if line == "" {
			continue
		}

		var err error
		switch line {
		case "/quit", "/exit":
			return nil
		case "/help":
			fmt.Fprintln(out, chatHelp)
			continue
		case "/state":
			data, _ := json.MarshalIndent(o.Snapshot(), "", "  ")
			fmt.Fprintln(out, string(data))
			continue
		case "/accept":
			err = o.AcceptInvite(ctx)
		case "/reject":
			err = o.RejectInvite(ctx)
		case "/agent":
			err = o.LetAgentStart(ctx)
		case "/me":
			err = o.LetHumanStart(ctx)
		case "/skip":
			err = o.SkipWait(ctx)
		case "/reset":
			err = o.Reset(ctx)
		default:
			if strings.HasPrefix(line, "/") {
				fmt.Fprintf(out, "unknown command %s (try /help)\n", line)
				continue
			}
			err = o.Send(ctx, line)
		}
		if err != nil {
			fmt.Fprintf(out, "! %s\n", chatError(err))
			continue
		}
		v.render(o.Snapshot())
	}
}

// chatError turns a refused operation into a hint for the operator.
func chatError(err error) string {
	switch {
	case errors.Is(err, invite.ErrPending):
		return "the lead has not accepted the invite yet (/accept or /reject)"
	case errors.Is(err, invite.ErrRejected):
		return "the lead rejected the invite; /reset to start over"
	case errors.Is(err, simulator.ErrWaitActive):
		return "the agent is waiting; /skip to resume"
	case errors.Is(err, simulator.ErrNoWait):
		return "the agent is not waiting"
	default:
		return err.Error()
	}
}

// chatView prints the part of the session the operator has not seen yet.
type chatView struct {
	out       io.Writer
	printed   int
	escalated bool
}

func (v *chatView) render(s simulator.Session) {
	if len(s.Messages) < v.printed {
		fmt.Fprintln(v.out, "--- conversation restarted ---")
		v.printed = 0
		v.escalated = false
	}
	for _, m := range s.Messages[v.printed:] {
		fmt.Fprintln(v.out, formatMessage(m))
	}
	v.printed = len(s.Messages)

	if s.Escalation.Triggered && !v.escalated && s.Escalation.Reason != nil {
		fmt.Fprintf(v.out, "*** escalated (%s): %s\n", s.Escalation.Reason.Kind, s.Escalation.Reason.Value)
		v.escalated = true
	}
	switch {
	case s.Invite.State == invite.StatePending:
		fmt.Fprintln(v.out, "(invite pending: /accept or /reject)")
	case s.Invite.ShowAcceptOptions:
		fmt.Fprintln(v.out, "(connected: /agent lets the agent start, /me to write first)")
	case s.Wait != nil && s.Wait.Short():
		fmt.Fprintf(v.out, "(agent waiting %s: /skip to resume)\n", s.Wait)
	case s.Wait != nil:
		fmt.Fprintf(v.out, "(agent waiting %s, %s: /skip to resume now)\n", s.Wait, s.Wait.Duration())
	}
}

func formatMessage(m simulator.Message) string {
	who := map[simulator.Sender]string{
		simulator.SenderBot:    "agent",
		simulator.SenderUser:   "lead",
		simulator.SenderSystem: "system",
	}[m.Sender]

	var tags []string
	if m.IsInvite {
		tags = append(tags, "invite")
	}
	if m.IsPostAccept {
		tags = append(tags, "post-accept")
	}
	if m.IsError {
		tags = append(tags, "error")
	}
	if m.WaitSkipped {
		tags = append(tags, "wait skipped")
	}
	if m.NodeLabel != "" {
		tags = append(tags, m.NodeLabel)
	}
	if m.KeywordTrigger != "" {
		tags = append(tags, "keyword: "+m.KeywordTrigger)
	}
	if a := m.Annotations; a != nil {
		if a.StepNumber > 0 {
			tags = append(tags, fmt.Sprintf("step %d", a.StepNumber))
		}
		if a.Sentiment != "" {
			tags = append(tags, a.Sentiment)
		}
	}

	line := fmt.Sprintf("[%s] %s", who, m.Content)
	if len(tags) > 0 {
		line += "  (" + strings.Join(tags, ", ") + ")"
	}
	return line
}
