package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/wolfman30/homepro-connect/internal/apiclient"
	"github.com/wolfman30/homepro-connect/internal/apierr"
	"github.com/wolfman30/homepro-connect/internal/app"
	"github.com/wolfman30/homepro-connect/internal/attachments"
	"github.com/wolfman30/homepro-connect/internal/bookings"
	"github.com/wolfman30/homepro-connect/internal/catalog"
	"github.com/wolfman30/homepro-connect/internal/chat"
	"github.com/wolfman30/homepro-connect/internal/realtime"
	"github.com/wolfman30/homepro-connect/internal/session"
)

type cmdEnv struct {
	app    *app.App
	in     *bufio.Reader
	out    io.Writer
	errOut io.Writer
}

func newLineReader(r io.Reader) *bufio.Reader {
	if r == nil {
		r = strings.NewReader("")
	}
	return bufio.NewReader(r)
}

// prompt writes label and reads one trimmed line.
func (e *cmdEnv) prompt(label string) (string, error) {
	fmt.Fprint(e.out, label)
	line, err := e.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

type command struct {
	help string
	run  func(ctx context.Context, e *cmdEnv, args []string) error
}

var commands = map[string]command{
	"login":         {"sign in with -email and -password", cmdLogin},
	"register":      {"create an account", cmdRegister},
	"logout":        {"sign out (-all also forgets the theme)", cmdLogout},
	"whoami":        {"show the signed-in profile", cmdWhoami},
	"profile":       {"update -name, -email, -phone or -password", cmdProfile},
	"providers":     {"list providers (-q, -category, -price)", cmdProviders},
	"categories":    {"list provider categories", cmdCategories},
	"bookings":      {"list bookings (-status, -search)", cmdBookings},
	"show":          {"show one booking", cmdShow},
	"book":          {"request a booking with -provider and -when", cmdBook},
	"accept":        {"accept a pending booking", transitionCmd("accept", (*bookings.Repository).Accept)},
	"decline":       {"decline a pending booking", transitionCmd("decline", (*bookings.Repository).Decline)},
	"complete":      {"mark a booking completed", transitionCmd("complete", (*bookings.Repository).Complete)},
	"cancel":        {"cancel a booking", transitionCmd("cancel", (*bookings.Repository).Cancel)},
	"undo":          {"move a completed booking back to scheduled", transitionCmd("undo", (*bookings.Repository).Undo)},
	"status":        {"set a booking status (admin)", cmdStatus},
	"reschedule":    {"move a booking to a new time", cmdReschedule},
	"delete":        {"delete a booking (-yes skips the prompt)", cmdDelete},
	"remind":        {"email a reminder for a booking now", cmdRemind},
	"provider":      {"provider tools: profile [-set json], avatar <file>, availability [-set json]", cmdProvider},
	"admin":         {"admin views: stats, users, providers, bookings [-status]", cmdAdmin},
	"notifications": {"show notifications (-read id, -clear)", cmdNotifications},
	"theme":         {"show or set the theme (light|dark)", cmdTheme},
	"chat":          {"join the chat room; /file and /voice send attachments", cmdChat},
}

var commandOrder = []string{
	"login", "register", "logout", "whoami", "profile",
	"providers", "categories",
	"bookings", "show", "book", "accept", "decline", "complete", "cancel", "undo", "status", "reschedule", "delete", "remind",
	"provider", "admin",
	"notifications", "theme", "chat",
}

func newFlags(e *cmdEnv, name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(e.errOut)
	return fs
}

func cmdLogin(ctx context.Context, e *cmdEnv, args []string) error {
	fs := newFlags(e, "login")
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	sess, err := e.app.Session.Login(ctx, *email, *password)
	if err != nil {
		// A rejected sign-in carries the server's reason.
		var apiErr *apierr.Error
		if errors.As(err, &apiErr) && apiErr.Kind == apierr.KindAuthRequired && apiErr.Message != "" {
			return apierr.Validation("login", apiErr.Message)
		}
		return err
	}
	fmt.Fprintf(e.out, "Signed in as %s (%s)\n", sess.User.Name, sess.User.Role)
	return nil
}

func cmdRegister(ctx context.Context, e *cmdEnv, args []string) error {
	fs := newFlags(e, "register")
	name := fs.String("name", "", "display name")
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	role := fs.String("role", string(session.RoleCustomer), "customer or provider")
	if err := fs.Parse(args); err != nil {
		return err
	}
	sess, err := e.app.Session.Register(ctx, session.RegisterRequest{
		Name:     *name,
		Email:    *email,
		Password: *password,
		Role:     session.Role(*role),
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "Welcome, %s\n", sess.User.Name)
	return nil
}

func cmdLogout(ctx context.Context, e *cmdEnv, args []string) error {
	fs := newFlags(e, "logout")
	all := fs.Bool("all", false, "clear every saved key")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *all {
		return e.app.Session.Clear(ctx)
	}
	if err := e.app.Session.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(e.out, "Signed out")
	return nil
}

func cmdWhoami(ctx context.Context, e *cmdEnv, _ []string) error {
	u, err := e.app.Session.Profile(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "%s <%s> %s\n", u.Name, u.Email, u.Role)
	return nil
}

func cmdProfile(ctx context.Context, e *cmdEnv, args []string) error {
	fs := newFlags(e, "profile")
	var upd session.ProfileUpdate
	fs.StringVar(&upd.Name, "name", "", "new display name")
	fs.StringVar(&upd.Email, "email", "", "new email")
	fs.StringVar(&upd.Phone, "phone", "", "new phone")
	fs.StringVar(&upd.Password, "password", "", "new password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	u, err := e.app.Session.UpdateProfile(ctx, upd)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "Updated %s <%s>\n", u.Name, u.Email)
	return nil
}

func cmdProviders(ctx context.Context, e *cmdEnv, args []string) error {
	fs := newFlags(e, "providers")
	var c catalog.Criteria
	fs.StringVar(&c.Query, "q", "", "name or description contains")
	fs.StringVar(&c.Category, "category", "all", "category filter")
	fs.StringVar(&c.Price, "price", "all", "price filter")
	if err := fs.Parse(args); err != nil {
		return err
	}
	e.app.Catalog.Load(ctx)
	if e.app.Catalog.FromFallback() {
		fmt.Fprintln(e.errOut, "Could not reach the server; showing sample providers.")
	}
	r := e.app.Catalog.Render(c)
	if len(r.Cards) == 0 {
		fmt.Fprintln(e.out, r.Placeholder)
		return nil
	}
	for _, card := range r.Cards {
		fmt.Fprintf(e.out, "%-6s %-24s %-28s %s %s\n", card.ProviderID, card.Title, card.Subtitle, card.Rating, card.Price)
	}
	return nil
}

func cmdCategories(ctx context.Context, e *cmdEnv, _ []string) error {
	e.app.Catalog.Load(ctx)
	for _, opt := range e.app.Catalog.Categories() {
		fmt.Fprintf(e.out, "%-16s %s\n", opt.Value, opt.Label)
	}
	return nil
}

func cmdBookings(ctx context.Context, e *cmdEnv, args []string) error {
	fs := newFlags(e, "bookings")
	status := fs.String("status", "all", "status filter")
	search := fs.String("search", "", "service, customer or provider contains")
	if err := fs.Parse(args); err != nil {
		return err
	}
	list, err := e.app.Bookings.List(ctx, bookings.Filter{Status: bookings.Status(*status), Search: *search})
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(e.out, "No bookings.")
		return nil
	}
	role := e.app.Session.User().Role
	for _, b := range list {
		printCard(e.out, b.Card(role))
	}
	return nil
}

func printCard(w io.Writer, c bookings.Card) {
	actions := make([]string, 0, len(c.Actions))
	for _, a := range c.Actions {
		actions = append(actions, string(a))
	}
	who := c.Provider
	if c.Customer != "" {
		who = strings.TrimSpace(who + " / " + c.Customer)
	}
	fmt.Fprintf(w, "%s  %-10s %-22s %-20s %s  [%s]\n", c.ID, c.Status, c.Title, c.When, who, strings.Join(actions, " "))
}

func cmdBook(ctx context.Context, e *cmdEnv, args []string) error {
	fs := newFlags(e, "book")
	req := bookings.CreateRequest{}
	fs.StringVar(&req.ProviderID, "provider", "", "provider id")
	fs.StringVar(&req.When, "when", "", "local date and time, e.g. 2026-05-01T14:00")
	fs.StringVar(&req.Service, "service", "", "service, defaults to the provider's")
	fs.StringVar(&req.Notes, "notes", "", "notes for the provider")
	fs.IntVar(&req.DurationMinutes, "duration", 0, "duration in minutes")
	fs.BoolVar(&req.CalendarSyncRequested, "sync", false, "request calendar sync")
	if err := fs.Parse(args); err != nil {
		return err
	}
	e.app.Catalog.Load(ctx)
	if p, ok := e.app.Catalog.Find(req.ProviderID); ok {
		req.ProviderName = p.Name
		if req.Service == "" {
			req.Service = p.Service
		}
		if req.DurationMinutes == 0 {
			req.DurationMinutes = p.ServiceDuration
		}
	}
	b, err := e.app.Bookings.Create(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "Booking %s requested (%s)\n", b.ID, b.Status)
	return nil
}

func oneID(name string, args []string) (string, error) {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		return "", apierr.Validation(name, "usage: homepro "+name+" <booking-id>")
	}
	return args[0], nil
}

func transitionCmd(name string, fn func(*bookings.Repository, context.Context, string) error) func(context.Context, *cmdEnv, []string) error {
	return func(ctx context.Context, e *cmdEnv, args []string) error {
		id, err := oneID(name, args)
		if err != nil {
			return err
		}
		if err := fn(e.app.Bookings, ctx, id); err != nil {
			return err
		}
		return reportBooking(e, id)
	}
}

func reportBooking(e *cmdEnv, id string) error {
	if b, ok := e.app.Bookings.Get(id); ok {
		printCard(e.out, b.Card(e.app.Session.User().Role))
		return nil
	}
	fmt.Fprintf(e.out, "Booking %s updated\n", id)
	return nil
}

func cmdStatus(ctx context.Context, e *cmdEnv, args []string) error {
	if len(args) != 2 {
		return apierr.Validation("status", "usage: homepro status <booking-id> <status>")
	}
	if err := e.app.Bookings.UpdateStatus(ctx, args[0], bookings.Status(args[1])); err != nil {
		return err
	}
	return reportBooking(e, args[0])
}

func cmdReschedule(ctx context.Context, e *cmdEnv, args []string) error {
	if len(args) != 2 {
		return apierr.Validation("reschedule", "usage: homepro reschedule <booking-id> <when>")
	}
	if err := e.app.Bookings.Reschedule(ctx, args[0], args[1]); err != nil {
		return err
	}
	return reportBooking(e, args[0])
}

func cmdDelete(ctx context.Context, e *cmdEnv, args []string) error {
	fs := newFlags(e, "delete")
	yes := fs.Bool("yes", false, "do not ask for confirmation")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := oneID("delete", fs.Args())
	if err != nil {
		return err
	}
	confirm := bookings.ConfirmFunc(func(_ context.Context, prompt string) bool {
		if *yes {
			return true
		}
		answer, err := e.prompt(prompt + " [y/N] ")
		if err != nil {
			return false
		}
		answer = strings.ToLower(answer)
		return answer == "y" || answer == "yes"
	})
	err = e.app.Bookings.Delete(ctx, id, confirm)
	if errors.Is(err, bookings.ErrNotConfirmed) {
		fmt.Fprintln(e.out, "Kept booking", id)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(e.out, "Deleted booking", id)
	return nil
}

func cmdNotifications(ctx context.Context, e *cmdEnv, args []string) error {
	fs := newFlags(e, "notifications")
	clearAll := fs.Bool("clear", false, "delete every notification")
	read := fs.String("read", "", "mark one notification read")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := e.app.Session.RequireToken("notifications"); err != nil {
		return err
	}
	switch {
	case *clearAll:
		if err := e.app.API.ClearNotifications(ctx); err != nil {
			return err
		}
		fmt.Fprintln(e.out, "Notifications cleared")
		return nil
	case *read != "":
		return e.app.API.MarkNotificationRead(ctx, *read)
	}
	items, err := e.app.API.Notifications(ctx)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Fprintln(e.out, "No notifications.")
	}
	for _, n := range items {
		mark := " "
		if !n.Read {
			mark = "*"
		}
		fmt.Fprintf(e.out, "%s %s  %s\n", mark, n.ID, n.Message)
	}
	return nil
}

func cmdTheme(ctx context.Context, e *cmdEnv, args []string) error {
	if len(args) == 0 {
		fmt.Fprintln(e.out, e.app.Session.Theme(ctx))
		return nil
	}
	theme := session.Theme(strings.ToLower(args[0]))
	if theme != session.ThemeLight && theme != session.ThemeDark {
		return apierr.Validation("theme", "theme must be light or dark")
	}
	return e.app.Session.SetTheme(ctx, theme)
}

func cmdChat(ctx context.Context, e *cmdEnv, _ []string) error {
	ch, err := e.app.Chat(ctx)
	if err != nil {
		return err
	}
	tl := ch.Timeline()
	tl.OnChange(func(c chat.Change) {
		switch c.Kind {
		case chat.ChangeMessage:
			if m, ok := tl.Message(c.MessageID); ok && !tl.Mine(m) {
				fmt.Fprintln(e.out, formatMessage(m))
			}
		case chat.ChangePresence:
			fmt.Fprintf(e.out, "* %d online\n", tl.Online())
		case chat.ChangeTyping:
			if s := tl.Indicator(); s != "" {
				fmt.Fprintln(e.out, "*", s)
			}
		}
	})
	for _, m := range tl.Messages() {
		fmt.Fprintln(e.out, formatMessage(m))
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		for {
			line, err := e.in.ReadString('\n')
			if line = strings.TrimSpace(line); line != "" {
				select {
				case lines <- line:
				case <-ch.Done():
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ch.Done():
			return ch.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := chatLine(ctx, ch, line); err != nil {
				fmt.Fprintln(e.errOut, apierr.UserMessage(err))
			}
		}
	}
}

type chatChannel interface {
	SendMessage(ctx context.Context, text string, files []attachments.File) (realtime.SendAck, error)
	SendVoice(ctx context.Context, f attachments.File) (realtime.SendAck, error)
	Typing(ctx context.Context, isTyping bool) error
	Close() error
}

func chatLine(ctx context.Context, ch chatChannel, line string) error {
	switch {
	case line == "/quit":
		return ch.Close()
	case strings.HasPrefix(line, "/file "):
		f, closeFn, err := openAttachment(strings.TrimSpace(strings.TrimPrefix(line, "/file ")))
		if err != nil {
			return err
		}
		defer closeFn()
		_, err = ch.SendMessage(ctx, "", []attachments.File{f})
		return err
	case strings.HasPrefix(line, "/voice "):
		f, closeFn, err := openAttachment(strings.TrimSpace(strings.TrimPrefix(line, "/voice ")))
		if err != nil {
			return err
		}
		defer closeFn()
		_, err = ch.SendVoice(ctx, f)
		return err
	default:
		_ = ch.Typing(ctx, false)
		_, err := ch.SendMessage(ctx, line, nil)
		return err
	}
}

func openAttachment(path string) (attachments.File, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return attachments.File{}, nil, apierr.Validation("chat.attach", fmt.Sprintf("cannot open %s", path))
	}
	name := filepath.Base(path)
	return attachments.File{Name: name, MIME: mime.TypeByExtension(filepath.Ext(name)), Body: f}, func() { _ = f.Close() }, nil
}

func formatMessage(m chat.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: %s", m.CreatedAt.Local().Format("15:04"), m.From, m.Text)
	for _, a := range m.Attachments {
		b.WriteString(" ")
		b.WriteString(chat.AttachmentLabel(a))
	}
	if m.Status != "" {
		fmt.Fprintf(&b, " (%s)", m.Status)
	}
	return b.String()
}

// fetchBooking loads one booking from the server.
func fetchBooking(ctx context.Context, e *cmdEnv, op, id string) (bookings.Booking, error) {
	if _, err := e.app.Session.RequireToken(op); err != nil {
		return bookings.Booking{}, err
	}
	raw, err := e.app.API.GetBooking(ctx, id)
	if err != nil {
		return bookings.Booking{}, err
	}
	var b bookings.Booking
	if err := json.Unmarshal(raw, &b); err != nil {
		return bookings.Booking{}, apierr.Transport(op, fmt.Errorf("decode booking: %w", err))
	}
	return b, nil
}

func cmdShow(ctx context.Context, e *cmdEnv, args []string) error {
	id, err := oneID("show", args)
	if err != nil {
		return err
	}
	b, err := fetchBooking(ctx, e, "show", id)
	if err != nil {
		return err
	}
	printCard(e.out, b.Card(e.app.Session.User().Role))
	if b.Notes != "" {
		fmt.Fprintf(e.out, "  notes: %s\n", b.Notes)
	}
	return nil
}

func cmdRemind(ctx context.Context, e *cmdEnv, args []string) error {
	id, err := oneID("remind", args)
	if err != nil {
		return err
	}
	b, err := fetchBooking(ctx, e, "remind", id)
	if err != nil {
		return err
	}
	if err := e.app.Reminders.Remind(ctx, e.app.Session.User(), b); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "Reminder sent for %s on %s\n", b.Service, b.When.Local().Format("Mon Jan 2 15:04"))
	return nil
}

func subcommand(name string, args []string, subs ...string) (string, []string, error) {
	usage := fmt.Sprintf("usage: homepro %s %s", name, strings.Join(subs, "|"))
	if len(args) == 0 {
		return "", nil, apierr.Validation(name, usage)
	}
	for _, s := range subs {
		if args[0] == s {
			return s, args[1:], nil
		}
	}
	return "", nil, apierr.Validation(name, usage)
}

func cmdProvider(ctx context.Context, e *cmdEnv, args []string) error {
	sub, rest, err := subcommand("provider", args, "profile", "avatar", "availability")
	if err != nil {
		return err
	}
	if _, err := e.app.Session.RequireToken("provider " + sub); err != nil {
		return err
	}
	switch sub {
	case "profile":
		return providerProfile(ctx, e, rest)
	case "avatar":
		return providerAvatar(ctx, e, rest)
	default:
		return providerAvailability(ctx, e, rest)
	}
}

func providerProfile(ctx context.Context, e *cmdEnv, args []string) error {
	fs := newFlags(e, "provider profile")
	set := fs.String("set", "", `JSON fields to change, e.g. {"price":"95"}`)
	if err := fs.Parse(args); err != nil {
		return err
	}
	var (
		raw json.RawMessage
		err error
	)
	if *set != "" {
		if !json.Valid([]byte(*set)) {
			return apierr.Validation("provider profile", "-set must be a JSON object")
		}
		raw, err = e.app.API.UpdateMyProvider(ctx, json.RawMessage(*set))
	} else {
		raw, err = e.app.API.MyProvider(ctx)
	}
	if err != nil {
		return err
	}
	return printJSON(e.out, raw)
}

func providerAvatar(ctx context.Context, e *cmdEnv, args []string) error {
	if len(args) != 1 {
		return apierr.Validation("provider avatar", "usage: homepro provider avatar <file>")
	}
	f, err := os.Open(args[0])
	if err != nil {
		return apierr.Validation("provider avatar", fmt.Sprintf("cannot open %s", args[0]))
	}
	defer f.Close()
	url, err := e.app.API.UploadAvatar(ctx, filepath.Base(args[0]), f)
	if err != nil {
		return err
	}
	fmt.Fprintln(e.out, "Avatar:", url)
	return nil
}

func providerAvailability(ctx context.Context, e *cmdEnv, args []string) error {
	fs := newFlags(e, "provider availability")
	set := fs.String("set", "", `weekly schedule, e.g. {"mon":[{"from":"09:00","to":"17:00"}]}`)
	if err := fs.Parse(args); err != nil {
		return err
	}
	var (
		avail apiclient.Availability
		err   error
	)
	if *set != "" {
		var want apiclient.Availability
		if json.Unmarshal([]byte(*set), &want) != nil {
			return apierr.Validation("provider availability", "-set must map days to [{from,to}] ranges")
		}
		avail, err = e.app.API.UpdateAvailability(ctx, want)
	} else {
		avail, err = e.app.API.Availability(ctx)
	}
	if err != nil {
		return err
	}
	if len(avail) == 0 {
		fmt.Fprintln(e.out, "No availability set.")
		return nil
	}
	days := make([]string, 0, len(avail))
	for d := range avail {
		days = append(days, d)
	}
	sort.Strings(days)
	for _, d := range days {
		ranges := make([]string, 0, len(avail[d]))
		for _, r := range avail[d] {
			ranges = append(ranges, r.From+"-"+r.To)
		}
		fmt.Fprintf(e.out, "%-4s %s\n", d, strings.Join(ranges, ", "))
	}
	return nil
}

func cmdAdmin(ctx context.Context, e *cmdEnv, args []string) error {
	sub, rest, err := subcommand("admin", args, "stats", "users", "providers", "bookings")
	if err != nil {
		return err
	}
	if _, err := e.app.Session.RequireToken("admin " + sub); err != nil {
		return err
	}
	switch sub {
	case "stats":
		stats, err := e.app.API.AdminStats(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(e.out, "users      %d\nproviders  %d\nbookings   %d\nrevenue    %.2f\n", stats.Users, stats.Providers, stats.Bookings, stats.Revenue)
		keys := make([]string, 0, len(stats.Extra))
		for k := range stats.Extra {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(e.out, "%-10s %v\n", k, stats.Extra[k])
		}
		return nil
	case "users":
		items, err := e.app.API.AdminUsers(ctx)
		if err != nil {
			return err
		}
		return printRows(e.out, items, "No users.", func(row map[string]any) string {
			return fmt.Sprintf("%-8v %-20v %-28v %v", row["_id"], row["name"], row["email"], row["role"])
		})
	case "providers":
		items, err := e.app.API.AdminProviders(ctx)
		if err != nil {
			return err
		}
		return printRows(e.out, items, "No providers.", func(row map[string]any) string {
			return fmt.Sprintf("%-6v %-24v %v", row["_id"], row["name"], row["category"])
		})
	default:
		fs := newFlags(e, "admin bookings")
		status := fs.String("status", "all", "status filter")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		items, err := e.app.API.AdminBookings(ctx, *status)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Fprintln(e.out, "No bookings.")
			return nil
		}
		for _, raw := range items {
			var b bookings.Booking
			if err := json.Unmarshal(raw, &b); err != nil {
				return apierr.Transport("admin bookings", fmt.Errorf("decode booking: %w", err))
			}
			printCard(e.out, b.Card(session.RoleAdmin))
		}
		return nil
	}
}

func printRows(w io.Writer, items []json.RawMessage, empty string, format func(map[string]any) string) error {
	if len(items) == 0 {
		fmt.Fprintln(w, empty)
		return nil
	}
	for _, raw := range items {
		var row map[string]any
		if err := json.Unmarshal(raw, &row); err != nil {
			return apierr.Transport("admin", fmt.Errorf("decode row: %w", err))
		}
		fmt.Fprintln(w, strings.TrimRight(format(row), " "))
	}
	return nil
}

func printJSON(w io.Writer, raw json.RawMessage) error {
	out, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return apierr.Transport("print", err)
	}
	fmt.Fprintln(w, string(out))
	return nil
}
