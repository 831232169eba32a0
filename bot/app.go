package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	goredis "github.com/redis/go-redis/v9"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/meetbot/bot/chatrelay"
	"github.com/m3rciful/meetbot/bot/dialog"
	"github.com/m3rciful/meetbot/bot/meeting"
	"github.com/m3rciful/meetbot/bot/session"
	"github.com/m3rciful/meetbot/core/bootstrap"
	"github.com/m3rciful/meetbot/core/logger"
	coretelegram "github.com/m3rciful/meetbot/core/telegram"
	"github.com/m3rciful/meetbot/core/telegram/callbacks"
	"github.com/m3rciful/meetbot/core/telegram/commands"
	"github.com/m3rciful/meetbot/core/telegram/format"
	tghelpers "github.com/m3rciful/meetbot/core/telegram/helpers"
	"github.com/m3rciful/meetbot/core/telegram/router"
	"github.com/m3rciful/meetbot/service/chatlog"
	"github.com/m3rciful/meetbot/service/meetings"
	"github.com/m3rciful/meetbot/service/places"
	"github.com/m3rciful/meetbot/service/search"
	"github.com/m3rciful/meetbot/service/users"
)

// App is the assembled dating bot.
type App struct {
	cfg   *Config
	db    *sqlx.DB
	redis *goredis.Client

	store     *session.Store
	messenger *Messenger

	users    *users.Service
	meetings *meetings.Service
	search   *search.Service
	chatlog  *chatlog.Service
	places   *places.Service

	machine  *dialog.Machine
	workflow *meeting.Workflow
	relay    *chatrelay.Manager
}

// New bootstraps infrastructure and wires the application graph.
func New(cfg *Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bot: nil config provided")
	}

	res, err := bootstrap.Run(bootstrap.Options{
		Config:   &cfg.Core,
		Database: cfg.Database,
	})
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:       cfg,
		db:        res.DB,
		store:     session.NewStore(),
		messenger: NewMessenger(),
	}

	if cfg.Redis.Addr != "" {
		a.redis = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	a.users = users.NewService(users.NewPostgresRepository(a.db))
	a.meetings = meetings.NewService(meetings.NewPostgresRepository(a.db))
	a.search = search.NewService(search.NewPostgresRepository(a.db), search.Config{
		DefaultRadiusKM: cfg.Search.DefaultRadiusKM,
		MaxRadiusKM:     cfg.Search.MaxRadiusKM,
		MaxCandidates:   cfg.Search.MaxCandidates,
	})
	a.chatlog = chatlog.NewService(a.db)
	if cfg.Places.APIKey != "" {
		a.places = places.NewService(places.Config{
			APIKey:   cfg.Places.APIKey,
			BaseURL:  cfg.Places.BaseURL,
			Results:  cfg.Places.Results,
			CacheTTL: cfg.Places.CacheTTL(),
		}, nil, a.redis)
	}

	a.workflow = meeting.NewWorkflow(a.store, a.meetings, a.users, a.messenger)
	a.relay = chatrelay.NewManager(a.store, a.messenger, a.chatlog, a.users)

	var placeLookup dialog.Places
	if a.places != nil {
		placeLookup = a.places
	}
	a.machine = dialog.NewMachine(a.store, a.users, a.workflow, a.relay, a.search, placeLookup, a.messenger)

	return a, nil
}

// Close releases infrastructure owned by the app.
func (a *App) Close() error {
	var first error
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			first = err
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// expireLoop periodically marks unanswered meeting requests as expired.
// Runs until the bot's root context is cancelled.
func (a *App) expireLoop(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.meetings.ExpireStale(ctx)
			if err != nil {
				logger.Warn(ctx, "bot.app", "meetings.expire.fail", slog.String("err", err.Error()))
				continue
			}
			if n > 0 {
				logger.Info(ctx, "bot.app", "meetings.expire", slog.Int64("count", n))
			}
		}
	}
}

// fsmAdapter exposes the dialog machine to the text router.
type fsmAdapter struct {
	machine *dialog.Machine
}

func (f fsmAdapter) InProgress(userID int64) bool {
	return f.machine.InProgress(userID)
}

func (f fsmAdapter) ManagerHandler(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	return f.machine.HandleText(ctx, c.Chat().ID, c.Text())
}

// TelegramRunOptions builds the Telegram runtime wiring for the app.
func (a *App) TelegramRunOptions() (coretelegram.RunOptions, error) {
	reg := coretelegram.NewRegistry()
	a.registerCommands(reg)
	if err := a.registerCallbacks(reg); err != nil {
		return coretelegram.RunOptions{}, err
	}
	reg.SetTextFallback(a.handleTextFallback)

	routes := router.CommandRoutes(reg, router.CommandRouteOptions{
		AdminID: a.cfg.Core.Telegram.AdminID,
	})
	routes = append(routes, router.TextRoutes(fsmAdapter{machine: a.machine}, reg, router.TextOptions{})...)
	routes = append(routes,
		coretelegram.Route{Endpoint: tele.OnPhoto, Handler: a.handlePhoto},
		coretelegram.Route{Endpoint: tele.OnLocation, Handler: a.handleLocation},
	)
	routes = append(routes, router.CallbackRoute(reg, router.CallbackOptions{}))

	return coretelegram.RunOptions{
		Config:      &a.cfg.Core,
		Registry:    reg,
		Middlewares: coretelegram.DefaultMiddlewares(&a.cfg.Core, nil),
		Routes:      routes,
		OnStart: func(ctx context.Context, rt coretelegram.Runtime) error {
			a.messenger.Attach(rt.Bot)
			go a.expireLoop(ctx)
			return nil
		},
		OnStop: func(_ context.Context, _ coretelegram.Runtime) error {
			return a.Close()
		},
	}, nil
}

func (a *App) registerCommands(reg *coretelegram.Registry) {
	reg.RegisterCommand("/start", commands.Command{
		Handler:     a.handleStart,
		Description: "Create your profile",
	})
	reg.RegisterCommand("/help", commands.Command{
		Handler:     a.handleHelp,
		Description: "Show available commands",
	})
	reg.RegisterCommand("/profile", commands.Command{
		Handler:     a.handleProfile,
		Description: "Show your profile",
	})
	reg.RegisterCommand("/edit_profile", commands.Command{
		Handler:     a.handleEditProfile,
		Description: "Fill in your profile again",
	})
	reg.RegisterCommand("/photo", commands.Command{
		Handler:     a.handlePhotoCommand,
		Description: "Update your profile photo",
	})
	reg.RegisterCommand("/search", commands.Command{
		Handler:     a.handleSearch,
		Description: "Find people nearby",
	})
	reg.RegisterCommand("/end_chat", commands.Command{
		Handler:     a.handleEndChat,
		Description: "Leave the current chat",
	})
	reg.RegisterCommand("/place", commands.Command{
		Handler:     a.handlePlace,
		Description: "Suggest a meeting place",
	})
	reg.RegisterCommand("/history", commands.Command{
		Handler:     a.handleHistory,
		Description: "Show the current chat history",
	})
}

func (a *App) registerCallbacks(reg *coretelegram.Registry) error {
	register := func(key string, h tele.HandlerFunc) error {
		return reg.RegisterCallback(key, h)
	}

	if err := register(dialog.CallbackMeet, func(c tele.Context) error {
		ctx := tghelpers.BuildContext(c)
		targetID, err := callbacks.PayloadInt64(c)
		if err != nil {
			return tghelpers.SendText(c, "❌ Something went wrong. Run /search again.")
		}
		return a.machine.RequestMeeting(ctx, c.Chat().ID, targetID)
	}); err != nil {
		return err
	}
	if err := register(dialog.CallbackNext, func(c tele.Context) error {
		ctx := tghelpers.BuildContext(c)
		return a.machine.NextCandidate(ctx, c.Chat().ID)
	}); err != nil {
		return err
	}
	if err := register(dialog.CallbackDuration, func(c tele.Context) error {
		ctx := tghelpers.BuildContext(c)
		hours, err := callbacks.PayloadInt(c)
		if err != nil {
			return tghelpers.SendText(c, "❌ Pick one of the offered durations.")
		}
		return a.machine.SetDuration(ctx, c.Chat().ID, hours)
	}); err != nil {
		return err
	}
	if err := register(dialog.CallbackRadius, func(c tele.Context) error {
		ctx := tghelpers.BuildContext(c)
		km, err := callbacks.PayloadInt(c)
		if err != nil {
			return tghelpers.SendText(c, "❌ Pick one of the offered radii.")
		}
		return a.machine.SetRadius(ctx, c.Chat().ID, km)
	}); err != nil {
		return err
	}
	if err := register(meeting.CallbackAccept, func(c tele.Context) error {
		ctx := tghelpers.BuildContext(c)
		requestID, err := callbacks.PayloadInt64(c)
		if err != nil {
			return tghelpers.SendText(c, "❌ This request is no longer available.")
		}
		return a.workflow.Accept(ctx, c.Chat().ID, requestID)
	}); err != nil {
		return err
	}
	if err := register(meeting.CallbackDecline, func(c tele.Context) error {
		ctx := tghelpers.BuildContext(c)
		requestID, err := callbacks.PayloadInt64(c)
		if err != nil {
			return tghelpers.SendText(c, "❌ This request is no longer available.")
		}
		return a.workflow.Decline(ctx, c.Chat().ID, requestID)
	}); err != nil {
		return err
	}
	if err := register(meeting.CallbackSkipPhoto, func(c tele.Context) error {
		ctx := tghelpers.BuildContext(c)
		return a.workflow.SkipPhoto(ctx, c.Chat().ID)
	}); err != nil {
		return err
	}
	return nil
}

func (a *App) handleStart(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	sender := c.Sender()
	if err := a.users.Ensure(ctx, c.Chat().ID, sender.FirstName, sender.Username); err != nil {
		return tghelpers.SendText(c, "❌ Something went wrong. Please try again.")
	}

	u, err := a.users.ByChatID(ctx, c.Chat().ID)
	if err == nil && strings.TrimSpace(u.Description) != "" {
		return tghelpers.SendText(c, fmt.Sprintf(
			"👋 Welcome back, %s!\n🏆 Your profile is %d%% complete.\nUse /search to find people nearby.",
			sender.FirstName, users.CompletionPercentage(u)))
	}

	a.store.SetStage(c.Chat().ID, session.StageAwaitingDescription)
	return tghelpers.SendText(c,
		"👋 Welcome! Let's set up your profile.\n📝 Tell me a bit about yourself.")
}

func (a *App) handleHelp(c tele.Context) error {
	return tghelpers.SendText(c, strings.Join([]string{
		"Available commands:",
		"/start — create your profile",
		"/profile — show your profile",
		"/edit_profile — fill in your profile again",
		"/photo — update your profile photo",
		"/search — find people nearby",
		"/end_chat — leave the current chat",
		"/place <query> — suggest a meeting place",
		"/history — show the current chat history",
	}, "\n"))
}

func (a *App) handleProfile(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	u, err := tghelpers.CurrentUser(ctx, a.users, c.Sender().ID)
	if err != nil {
		return tghelpers.SendText(c, "You have no profile yet. Start with /start.")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "👤 *%s*", mdEscape(u.FirstName))
	if u.Age > 0 {
		fmt.Fprintf(&b, ", %d", u.Age)
	}
	b.WriteByte('\n')
	if u.Description != "" {
		fmt.Fprintf(&b, "📝 %s\n", mdEscape(u.Description))
	}
	if u.Interests != "" {
		fmt.Fprintf(&b, "💡 %s\n", mdEscape(u.Interests))
	}
	fmt.Fprintf(&b, "🏆 Profile completeness: %d%%", users.CompletionPercentage(u))

	if u.PhotoFileID != "" {
		photo := &tele.Photo{File: tele.File{FileID: u.PhotoFileID}, Caption: b.String()}
		return c.Send(photo, &tele.SendOptions{ParseMode: tele.ModeMarkdown})
	}
	return tghelpers.SendMD(c, b.String())
}

func (a *App) handleEditProfile(c tele.Context) error {
	a.store.SetStage(c.Chat().ID, session.StageAwaitingDescription)
	return tghelpers.SendText(c, "📝 Tell me a bit about yourself.")
}

func (a *App) handlePhotoCommand(c tele.Context) error {
	a.store.SetStage(c.Chat().ID, session.StageAwaitingPhoto)
	return tghelpers.SendText(c, "📸 Send me your new profile photo.")
}

func (a *App) handleSearch(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	if _, ok := a.store.ChatPartner(c.Chat().ID); ok {
		return tghelpers.SendText(c, "You are in a chat right now. Finish it with /end_chat first.")
	}
	return a.machine.PromptLocationSettings(ctx, c.Chat().ID)
}

func (a *App) handleEndChat(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	return a.relay.End(ctx, c.Chat().ID)
}

func (a *App) handleHistory(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	cs, ok := a.store.Session(c.Chat().ID)
	if !ok {
		return tghelpers.SendText(c, "You have no active chat.")
	}

	msgs, err := a.chatlog.History(ctx, cs.ID)
	if err != nil {
		return tghelpers.SendText(c, "❌ Could not load the chat history.")
	}
	if len(msgs) == 0 {
		return tghelpers.SendText(c, "No messages in this chat yet.")
	}

	var b strings.Builder
	b.WriteString("🗂 Chat history:\n")
	for _, m := range msgs {
		who := "You"
		if m.SenderID != c.Chat().ID {
			who = "Partner"
		}
		switch m.Kind {
		case chatlog.KindPhoto:
			fmt.Fprintf(&b, "%s: 📷 photo\n", who)
		default:
			fmt.Fprintf(&b, "%s: %s\n", who, m.Text)
		}
	}
	return tghelpers.SendText(c, b.String())
}

func (a *App) handlePlace(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	return a.machine.SuggestPlaces(ctx, c.Chat().ID, strings.TrimSpace(c.Message().Payload))
}

func (a *App) handlePhoto(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	photo := c.Message().Photo
	if photo == nil {
		return nil
	}
	return a.machine.HandlePhoto(ctx, c.Chat().ID, photo.FileID)
}

func (a *App) handleLocation(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	loc := c.Message().Location
	if loc == nil {
		return nil
	}
	return a.machine.HandleLocation(ctx, c.Chat().ID, float64(loc.Lat), float64(loc.Lng))
}

// handleTextFallback resolves the literal accept/decline commands carried by
// plain-text fallback notifications.
func (a *App) handleTextFallback(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	text := strings.TrimSpace(c.Text())

	if id, ok := parseSuffixedCommand(text, "/accept_"); ok {
		return a.workflow.Accept(ctx, c.Chat().ID, id)
	}
	if id, ok := parseSuffixedCommand(text, "/decline_"); ok {
		return a.workflow.Decline(ctx, c.Chat().ID, id)
	}

	return tghelpers.SendText(c, "ℹ️ I did not understand that. See /help for the command list.")
}

func mdEscape(s string) string {
	out, err := format.EscapeMarkdown(s, format.MarkdownV1, "")
	if err != nil {
		return s
	}
	return out
}

func parseSuffixedCommand(text, prefix string) (int64, bool) {
	if !strings.HasPrefix(text, prefix) {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(text, prefix), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
