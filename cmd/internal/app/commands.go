package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"wayfarer/cmd/internal/chat"
	"wayfarer/cmd/internal/notify"
	v1 "wayfarer/contracts/chat/v1"
)

func (a *App) cmdLogin(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: wayfarer login <token>")
	}
	id, err := a.ids.Login(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("logged in as %s", id.UserID)
	if id.Name != "" {
		fmt.Printf(" (%s)", id.Name)
	}
	if !id.ExpiresAt.IsZero() {
		fmt.Printf(", token expires %s", id.ExpiresAt.Format(time.RFC3339))
	}
	fmt.Println()
	return nil
}

func (a *App) cmdLogout(ctx context.Context) error {
	if err := a.ids.Logout(ctx); err != nil {
		return err
	}
	fmt.Println("logged out")
	return nil
}

func (a *App) cmdWhoami(ctx context.Context) error {
	id, err := a.ids.Current(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("user:    %s\n", id.UserID)
	if id.Name != "" {
		fmt.Printf("name:    %s\n", id.Name)
	}
	if !id.ExpiresAt.IsZero() {
		fmt.Printf("expires: %s\n", id.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

func (a *App) cmdConversations(ctx context.Context) error {
	convs, err := a.api.Conversations(ctx)
	if err != nil {
		return err
	}
	if len(convs) == 0 {
		fmt.Println("no conversations")
		return nil
	}
	for _, c := range convs {
		line := fmt.Sprintf("#%d  %s", c.ID, c.PartnerName)
		if c.TourName != "" {
			line += "  [" + c.TourName + "]"
		}
		if c.UnreadCount > 0 {
			line += fmt.Sprintf("  (%d unread)", c.UnreadCount)
		}
		if c.LastMessage != "" {
			line += "  " + truncate(c.LastMessage, 60)
		}
		fmt.Println(line)
	}
	return nil
}

func (a *App) cmdChat(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: wayfarer chat <conversation-id>")
	}
	convID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || convID <= 0 {
		return fmt.Errorf("bad conversation id %q", args[0])
	}

	// A failed connect is not fatal: the session still reconciles over REST.
	if err := a.connect(ctx); err != nil {
		a.log.Warn("chat.push.unavailable", "err", err)
	}

	session := chat.NewSession(convID, chat.Config{
		Manager:   a.manager,
		Router:    a.router,
		API:       a.api,
		Logger:    a.log,
		Metrics:   a.metrics.Feed("chat"),
		PollEvery: a.cfg.ChatPollEvery,
	})
	defer session.Close()

	if err := session.Open(func(m v1.Message) {
		printMessage(m)
	}); err != nil {
		return err
	}

	if err := session.MarkRead(ctx); err != nil {
		a.log.Debug("chat.mark_read.failed", "err", err)
	}

	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			text := strings.TrimSpace(sc.Text())
			if text == "" {
				continue
			}
			if _, err := session.Send(ctx, text, ""); err != nil {
				fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
			}
		}
	}()

	<-ctx.Done()
	return nil
}

func (a *App) cmdNotify(ctx context.Context) error {
	if err := a.connect(ctx); err != nil {
		a.log.Warn("notify.push.unavailable", "err", err)
	}

	feed := notify.NewFeed(notify.Config{
		Manager:   a.manager,
		Router:    a.router,
		API:       a.api,
		Users:     a.ids,
		Logger:    a.log,
		Metrics:   a.metrics.Feed("notify"),
		PollEvery: a.cfg.NotifyPollEvery,
	})
	defer feed.Close()

	if err := feed.Refresh(ctx); err != nil {
		a.log.Debug("notify.refresh.failed", "err", err)
	}
	for _, n := range feed.List() {
		printNotification(n)
	}

	err := feed.Open(
		func(n v1.Notification) { printNotification(n) },
		func(count int64) { fmt.Printf("-- %d unread notifications --\n", count) },
	)
	if err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}

func (a *App) cmdSend(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: wayfarer send <conversation-id> <text>")
	}
	convID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || convID <= 0 {
		return fmt.Errorf("bad conversation id %q", args[0])
	}
	m, err := a.api.SendMessage(ctx, v1.SendMessageRequest{
		ConversationID: convID,
		Content:        strings.Join(args[1:], " "),
	})
	if err != nil {
		return err
	}
	fmt.Printf("sent message %d\n", m.ID)
	return nil
}

func (a *App) cmdStatus(ctx context.Context) error {
	connectErr := a.connect(ctx)
	st := a.manager.Status()
	fmt.Printf("state:         %s\n", st.State)
	fmt.Printf("attempts:      %d\n", st.Attempts)
	fmt.Printf("subscriptions: %d\n", st.Subscriptions)
	if connectErr != nil {
		fmt.Printf("error:         %v\n", connectErr)
	}
	return nil
}

func printMessage(m v1.Message) {
	who := m.SenderName
	if who == "" {
		who = m.SenderID
	}
	if m.IsCurrentUser {
		who = "me"
	}
	ts := ""
	if !m.CreatedAt.IsZero() {
		ts = m.CreatedAt.Format("15:04") + " "
	}
	body := m.Content
	if body == "" && m.ImageURL != "" {
		body = "[image] " + m.ImageURL
	}
	fmt.Printf("%s%s: %s\n", ts, who, body)
}

func printNotification(n v1.Notification) {
	mark := " "
	if !n.IsRead {
		mark = "*"
	}
	ts := ""
	if !n.CreatedAt.IsZero() {
		ts = n.CreatedAt.Format("Jan 02 15:04") + "  "
	}
	fmt.Printf("%s %s%-18s %s", mark, ts, n.Type, n.Title)
	if n.Message != "" {
		fmt.Printf(": %s", truncate(n.Message, 80))
	}
	fmt.Println()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
