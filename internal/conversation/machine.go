// Package conversation turns text, voice notes, photos and button presses
// into task store operations, holding per-user state between turns.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jmm-1987/agente/internal/logging"
	"github.com/jmm-1987/agente/internal/parser"
	"github.com/jmm-1987/agente/internal/resolver"
	"github.com/jmm-1987/agente/internal/store"
	"github.com/jmm-1987/agente/internal/transcription"
	"github.com/jmm-1987/agente/internal/workerpool"
)

// User identifies who sent an update.
type User struct {
	ID     int64
	ChatID int64
	Name   string
}

// Option is a button offered with a reply. Data comes back to
// HandleCallback when it is pressed.
type Option struct {
	Label string
	Data  string
}

// Reply is one message for the user.
type Reply struct {
	Text    string
	Options []Option
	// Columns lays Options out in rows of this many; zero means one per row.
	Columns int
}

func say(text string) []Reply {
	return []Reply{{Text: text}}
}

// TaskStore is the persistence a Machine needs.
type TaskStore interface {
	CreateTask(ctx context.Context, t *store.Task) error
	GetTask(ctx context.Context, id int64) (*store.Task, error)
	ListTasks(ctx context.Context, f store.TaskFilter) ([]*store.Task, error)
	CountTasks(ctx context.Context, f store.TaskFilter) (int, error)
	CompleteTask(ctx context.Context, id int64, solution string) error
	DeleteTask(ctx context.Context, id int64) error
	AppendAmpliacion(ctx context.Context, id int64, text string) error
	SetTaskDate(ctx context.Context, id int64, date *time.Time) error
	SetPriority(ctx context.Context, id int64, p store.Priority) error
	CreateClient(ctx context.Context, name string, aliases ...string) (*store.Client, error)
	GetClient(ctx context.Context, id int64) (*store.Client, error)
	GetClientByName(ctx context.Context, name string) (*store.Client, error)
	ListCategories(ctx context.Context) ([]store.Category, error)
	GetCategory(ctx context.Context, name string) (*store.Category, error)
	AddImage(ctx context.Context, img *store.TaskImage) error
}

// CommandParser parses one utterance.
type CommandParser interface {
	Parse(ctx context.Context, text string) (*parser.Command, error)
}

// Transcriber turns a voice note into text.
type Transcriber interface {
	Ingest(ctx context.Context, fileRef string) (string, error)
	EngineLoaded() bool
}

// Blobs stores image bytes.
type Blobs interface {
	Save(ctx context.Context, ext string, r io.Reader) (string, error)
	Remove(ctx context.Context, path string) error
}

// Config tunes a Machine.
type Config struct {
	// TranscriptionTimeout bounds the wait for a voice note, queueing
	// included.
	TranscriptionTimeout time.Duration
	// MaxVoiceDuration rejects voice notes by their declared length before
	// downloading them.
	MaxVoiceDuration time.Duration
	// ListLimit is the number of tasks shown in a listing.
	ListLimit int
	// TitleMatchThreshold is the minimum 0-100 score for a task title to
	// be offered when closing, rescheduling or reprioritizing by name.
	TitleMatchThreshold int
	Location            *time.Location
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		TranscriptionTimeout: 5 * time.Minute,
		MaxVoiceDuration:     300 * time.Second,
		ListLimit:            10,
		TitleMatchThreshold:  70,
		Location:             time.Local,
	}
}

// Deps are the collaborators of a Machine. Voice and Pool are needed for
// voice notes; Files and Blobs for copying photos locally.
type Deps struct {
	Store    TaskStore
	Parser   CommandParser
	Sessions SessionStore
	Voice    Transcriber
	Pool     *workerpool.Pool
	Files    transcription.FileFetcher
	Blobs    Blobs
	Scorer   resolver.Scorer
}

// Machine is the conversation state machine. It is safe for concurrent
// use; updates of one user may race and the last write wins.
type Machine struct {
	store    TaskStore
	parser   CommandParser
	sessions SessionStore
	voice    Transcriber
	pool     *workerpool.Pool
	files    transcription.FileFetcher
	blobs    Blobs
	scorer   resolver.Scorer

	cfg Config
	loc *time.Location
	now func() time.Time
	log *slog.Logger
}

// New creates a Machine. Nil Sessions or Scorer select the in-memory store
// and the default scorer.
func New(d Deps, cfg Config) *Machine {
	if d.Sessions == nil {
		d.Sessions = NewMemorySessions(DefaultSessionConfig())
	}
	if d.Scorer == nil {
		d.Scorer = resolver.NewIndelScorer()
	}
	if cfg.ListLimit < 1 {
		cfg.ListLimit = 10
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	return &Machine{
		store:    d.Store,
		parser:   d.Parser,
		sessions: d.Sessions,
		voice:    d.Voice,
		pool:     d.Pool,
		files:    d.Files,
		blobs:    d.Blobs,
		scorer:   d.Scorer,
		cfg:      cfg,
		loc:      loc,
		now:      time.Now,
		log:      logging.WithComponent("conversation"),
	}
}

// HandleText processes a typed message.
func (m *Machine) HandleText(ctx context.Context, u User, text string) []Reply {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var (
		replies []Reply
		err     error
	)
	switch text {
	case ButtonPending:
		replies, err = m.listPending(ctx, u)
	case ButtonClose:
		replies, err = m.closeMenu(ctx, u)
	case ButtonAmplify:
		replies, err = m.amplifyMenu(ctx, u)
	default:
		switch strings.ToLower(text) {
		case "/start", "/help", "ayuda", "help":
			return say(helpText)
		case "/cancel", "cancelar", "cancela":
			return m.Cancel(u)
		}
		replies, err = m.route(ctx, u, text)
	}
	return m.finish(ctx, "text", replies, err)
}

// VoiceNotice is the message to show while a voice note is processed.
func (m *Machine) VoiceNotice() Reply {
	if m.voice != nil && !m.voice.EngineLoaded() {
		return Reply{Text: msgVoiceFirstLoad}
	}
	return Reply{Text: msgVoiceProcessing}
}

// HandleVoice transcribes a voice note on the worker pool and processes
// the transcript like typed text. duration is the length the transport
// declared, zero if unknown.
func (m *Machine) HandleVoice(ctx context.Context, u User, fileRef string, duration time.Duration) []Reply {
	if m.voice == nil || m.pool == nil {
		return say("❌ Los mensajes de voz no están habilitados.")
	}
	if limit := m.cfg.MaxVoiceDuration; limit > 0 && duration > limit {
		return say(fmt.Sprintf("❌ Audio demasiado largo (%ds). Máximo: %ds",
			int(duration.Seconds()), int(limit.Seconds())))
	}

	transcript, err := workerpool.Do(ctx, m.pool, m.cfg.TranscriptionTimeout, func(jctx context.Context) (string, error) {
		return m.voice.Ingest(jctx, fileRef)
	})
	if err != nil {
		return m.finish(ctx, "voice", nil, err)
	}

	replies, err := m.route(ctx, u, transcript)
	heard := Reply{Text: "🗣️ «" + transcript + "»"}
	return m.finish(ctx, "voice", append([]Reply{heard}, replies...), err)
}

// HandlePhoto asks which open task a photo belongs to.
func (m *Machine) HandlePhoto(ctx context.Context, u User, fileRef string) []Reply {
	replies, err := m.askTaskForImage(ctx, u, fileRef)
	return m.finish(ctx, "photo", replies, err)
}

// HandleCallback processes a button press.
func (m *Machine) HandleCallback(ctx context.Context, u User, data string) []Reply {
	replies, err := m.callback(ctx, u, data)
	return m.finish(ctx, "callback", replies, err)
}

// StartAmplification selects the task the next message is appended to.
func (m *Machine) StartAmplification(ctx context.Context, u User, taskID int64) []Reply {
	replies, err := m.startAmplification(ctx, u, taskID)
	return m.finish(ctx, "amplify", replies, err)
}

// Cancel drops any pending exchange of u.
func (m *Machine) Cancel(u User) []Reply {
	_, pending := m.sessions.Get(u.ID)
	m.sessions.Delete(u.ID)
	if !pending {
		return say("ℹ️ No hay ninguna operación en curso.")
	}
	return say(msgCancelled)
}

// State returns the current state of u.
func (m *Machine) State(u User) State {
	if s, ok := m.sessions.Get(u.ID); ok {
		return s.State
	}
	return StateIdle
}

// route hands text to the pending exchange, if it expects text, or parses
// it as a new command.
func (m *Machine) route(ctx context.Context, u User, text string) ([]Reply, error) {
	if sess, ok := m.sessions.Get(u.ID); ok {
		switch sess.State {
		case StateAwaitingAmplificationText:
			return m.amplify(ctx, u, sess.TaskID, text)
		case StateAwaitingCategory:
			return m.categoryReply(ctx, u, sess, text)
		default:
			// A new command abandons a pending button choice.
			m.sessions.Delete(u.ID)
		}
	}

	cmd, err := m.parser.Parse(ctx, text)
	if err != nil {
		return nil, err
	}
	return m.dispatch(ctx, u, cmd)
}

func (m *Machine) callback(ctx context.Context, u User, data string) ([]Reply, error) {
	action, arg, _ := strings.Cut(data, ":")
	switch action {
	case "cancel":
		return m.Cancel(u), nil
	case "menu":
		switch arg {
		case "pending":
			return m.listPending(ctx, u)
		case "close":
			return m.closeMenu(ctx, u)
		case "amplify":
			return m.amplifyMenu(ctx, u)
		}
	case "client":
		return m.clientChoice(ctx, u, arg)
	case "category":
		return m.categoryChoice(ctx, u, arg)
	case "close":
		if arg == "cancel" {
			return say(msgCancelled), nil
		}
		id, err := parseID(arg)
		if err != nil {
			return nil, err
		}
		return m.closeTask(ctx, u, id)
	case "delete":
		id, err := parseID(arg)
		if err != nil {
			return nil, err
		}
		return m.deleteTask(ctx, u, id)
	case "amplify":
		id, err := parseID(arg)
		if err != nil {
			return nil, err
		}
		return m.startAmplification(ctx, u, id)
	case "image":
		id, err := parseID(arg)
		if err != nil {
			return nil, err
		}
		return m.imageChoice(ctx, u, id)
	case "reschedule":
		idArg, unixArg, _ := strings.Cut(arg, ":")
		id, err := parseID(idArg)
		if err != nil {
			return nil, err
		}
		unix, err := parseID(unixArg)
		if err != nil {
			return nil, err
		}
		return m.applyReschedule(ctx, u, id, time.Unix(unix, 0).In(m.loc))
	case "priority":
		idArg, p, _ := strings.Cut(arg, ":")
		id, err := parseID(idArg)
		if err != nil {
			return nil, err
		}
		prio := store.Priority(p)
		if !prio.Valid() {
			return nil, fmt.Errorf("priority %q: %w", p, ErrUserInput)
		}
		return m.applyPriority(ctx, u, id, prio)
	}
	return nil, fmt.Errorf("callback %q: %w", data, ErrUserInput)
}

// finish logs err and appends its user message to replies.
func (m *Machine) finish(ctx context.Context, op string, replies []Reply, err error) []Reply {
	if err == nil {
		return replies
	}
	log := logging.WithContext(ctx).With(slog.String("component", "conversation"), slog.String("op", op))
	if errors.Is(err, ErrUserInput) || errors.Is(err, ErrStaleAction) {
		log.Debug("input rejected", slog.Any("error", err))
	} else {
		log.Error("request failed", slog.Any("error", err))
	}
	return append(replies, Reply{Text: userMessage(err)})
}

// ownedTask loads a task of u. Tasks of other users are reported as
// missing.
func (m *Machine) ownedTask(ctx context.Context, u User, id int64) (*store.Task, error) {
	t, err := m.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.OwnerID != u.ID {
		return nil, fmt.Errorf("task %d: %w", id, store.ErrNotFound)
	}
	return t, nil
}

// clientName returns the name to show for the client of t and whether it
// is linked to the registry.
func (m *Machine) clientName(ctx context.Context, t *store.Task) (string, bool) {
	if t.ClientID != nil {
		c, err := m.store.GetClient(ctx, *t.ClientID)
		if err == nil {
			return c.Name, true
		}
		m.log.Warn("client lookup failed", slog.Int64("client_id", *t.ClientID), slog.Any("error", err))
	}
	return t.ClientNameRaw, false
}

// today returns local midnight.
func (m *Machine) today() time.Time {
	n := m.now().In(m.loc)
	return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, m.loc)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("id %q: %w", s, ErrUserInput)
	}
	return id, nil
}
