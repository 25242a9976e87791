package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jmm-1987/agente/internal/intent"
	"github.com/jmm-1987/agente/internal/parser"
	"github.com/jmm-1987/agente/internal/resolver"
	"github.com/jmm-1987/agente/internal/store"
	"github.com/jmm-1987/agente/internal/textnorm"
	"github.com/jmm-1987/agente/internal/transcription"
)

const (
	// maxChoices bounds the buttons of a task selection.
	maxChoices = 5
	// maxMenuTasks bounds the buttons of the close and image menus.
	maxMenuTasks = 10
	// maxAmplifyTasks bounds the buttons of the addendum menu.
	maxAmplifyTasks = 20
)

var (
	wordToday    = intent.WordPattern([]string{"hoy"})
	wordTomorrow = intent.WordPattern([]string{"mañana"})
	wordWeek     = intent.WordPattern([]string{"semana"})
	wordRaise    = intent.WordPattern([]string{"sube", "subir", "súbela", "subela"})
)

func (m *Machine) dispatch(ctx context.Context, u User, cmd *parser.Command) ([]Reply, error) {
	switch cmd.Intent {
	case intent.IntentList:
		return m.list(ctx, u, cmd)
	case intent.IntentClose:
		return m.closeCommand(ctx, u, cmd)
	case intent.IntentReschedule:
		return m.reschedule(ctx, u, cmd)
	case intent.IntentChangePriority:
		return m.changePriority(ctx, u, cmd)
	default:
		return m.create(ctx, u, cmd)
	}
}

// create starts a task. A client that needs confirmation or creation is
// asked for first, then the category.
func (m *Machine) create(ctx context.Context, u User, cmd *parser.Command) ([]Reply, error) {
	p := &PendingTask{
		Title:         cmd.Entities.Title,
		Description:   cmd.OriginalText,
		Priority:      cmd.Entities.Priority,
		Date:          cmd.Entities.Date,
		Mention:       cmd.Entities.ClientMention,
		ClientNameRaw: cmd.Entities.ClientMention,
	}
	if p.Title == "" {
		p.Title = cmd.OriginalText
	}

	if match := cmd.Client; match != nil {
		switch match.Action {
		case resolver.ActionAuto:
			id := match.ClientID
			p.ClientID = &id
		case resolver.ActionConfirm:
			p.Candidates = match.Candidates
			m.sessions.Put(u.ID, Session{State: StateAwaitingClientConfirmation, Task: p})
			return []Reply{clientPrompt(p)}, nil
		case resolver.ActionCreate:
			m.sessions.Put(u.ID, Session{State: StateAwaitingClientConfirmation, Task: p})
			return []Reply{{
				Text: fmt.Sprintf("❓ No encontré el cliente '%s'.\n¿Quieres crearlo?", p.Mention),
				Options: []Option{
					{Label: "➕ Crear cliente", Data: "client:new"},
					{Label: "❌ Continuar sin cliente", Data: "client:skip"},
				},
				Columns: 2,
			}}, nil
		}
	}
	return m.askCategory(ctx, u, p)
}

func clientPrompt(p *PendingTask) Reply {
	r := Reply{Text: fmt.Sprintf("🤔 ¿A qué cliente te refieres?\n\nCliente mencionado: %s", p.Mention)}
	for _, c := range p.Candidates {
		r.Options = append(r.Options, Option{
			Label: fmt.Sprintf("✅ %s (%d%%)", c.Name, c.Score),
			Data:  fmt.Sprintf("client:%d", c.ClientID),
		})
	}
	r.Options = append(r.Options,
		Option{Label: "➕ Crear cliente nuevo", Data: "client:new"},
		Option{Label: "❌ Continuar sin cliente", Data: "client:skip"})
	return r
}

func (m *Machine) clientChoice(ctx context.Context, u User, arg string) ([]Reply, error) {
	sess, ok := m.sessions.Get(u.ID)
	if !ok || sess.State != StateAwaitingClientConfirmation || sess.Task == nil {
		return nil, fmt.Errorf("client choice: %w", ErrStaleAction)
	}
	p := sess.Task

	var head string
	switch arg {
	case "new":
		c, err := m.store.CreateClient(ctx, p.Mention)
		if errors.Is(err, store.ErrDuplicateClient) {
			c, err = m.store.GetClientByName(ctx, p.Mention)
		}
		if err != nil {
			return nil, err
		}
		p.ClientID = &c.ID
		head = fmt.Sprintf("✅ Cliente '%s' creado.", c.Name)
	case "skip":
		p.ClientID, p.ClientNameRaw = nil, ""
		head = "✅ Continuando sin cliente."
	default:
		id, err := parseID(arg)
		if err != nil {
			return nil, err
		}
		c, err := m.store.GetClient(ctx, id)
		if err != nil {
			return nil, err
		}
		p.ClientID = &c.ID
		head = "✅ Cliente confirmado: " + c.Name
	}
	p.Candidates = nil

	replies, err := m.askCategory(ctx, u, p)
	return append([]Reply{{Text: head}}, replies...), err
}

func (m *Machine) askCategory(ctx context.Context, u User, p *PendingTask) ([]Reply, error) {
	cats, err := m.store.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	m.sessions.Put(u.ID, Session{State: StateAwaitingCategory, Task: p})
	return []Reply{categoryPrompt(msgCategoryPrompt, cats)}, nil
}

func categoryPrompt(text string, cats []store.Category) Reply {
	r := Reply{Text: text, Columns: 2}
	for _, c := range cats {
		r.Options = append(r.Options, Option{Label: c.Label(), Data: "category:" + c.Name})
	}
	return r
}

// categoryReply reads a category from free text or a transcript. An
// unknown answer asks again and keeps the state.
func (m *Machine) categoryReply(ctx context.Context, u User, sess Session, text string) ([]Reply, error) {
	cats, err := m.store.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	c, ok := matchCategory(text, cats)
	if !ok {
		m.sessions.Put(u.ID, sess)
		return []Reply{categoryPrompt(msgCategoryUnknown, cats)}, nil
	}
	return m.createTask(ctx, u, sess.Task, c)
}

func (m *Machine) categoryChoice(ctx context.Context, u User, name string) ([]Reply, error) {
	sess, ok := m.sessions.Get(u.ID)
	if !ok || sess.State != StateAwaitingCategory || sess.Task == nil {
		return nil, fmt.Errorf("category choice: %w", ErrStaleAction)
	}
	c, err := m.store.GetCategory(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("category %q: %w", name, ErrUserInput)
	}
	if err != nil {
		return nil, err
	}
	return m.createTask(ctx, u, sess.Task, *c)
}

// createTask persists p. The session is kept when the insert fails so the
// user can press the category again.
func (m *Machine) createTask(ctx context.Context, u User, p *PendingTask, cat store.Category) ([]Reply, error) {
	t := &store.Task{
		OwnerID:       u.ID,
		OwnerName:     u.Name,
		Title:         p.Title,
		Description:   p.Description,
		Priority:      p.Priority,
		TaskDate:      p.Date,
		ClientID:      p.ClientID,
		ClientNameRaw: p.ClientNameRaw,
		Category:      cat.Name,
	}
	if err := m.store.CreateTask(ctx, t); err != nil {
		return nil, err
	}
	m.sessions.Delete(u.ID)

	var sb strings.Builder
	sb.WriteString("✅ Tarea creada:\n\n📝 " + t.Title)
	if name, linked := m.clientName(ctx, t); name != "" {
		if linked {
			sb.WriteString("\n👤 Cliente: " + name)
		} else {
			sb.WriteString("\n👤 Cliente: " + name + " (sin asociar)")
		}
	}
	if t.TaskDate != nil {
		sb.WriteString("\n📅 Fecha: " + formatDate(t.TaskDate, m.loc, true))
	}
	sb.WriteString("\n📂 Categoría: " + cat.Label())
	fmt.Fprintf(&sb, "\n%s Prioridad: %s", priorityEmoji(t.Priority), priorityName(t.Priority))

	return []Reply{{
		Text:    sb.String(),
		Options: []Option{{Label: "❌ Cancelar", Data: fmt.Sprintf("delete:%d", t.ID)}},
	}}, nil
}

func priorityName(p store.Priority) string {
	if p == store.PriorityUrgent {
		return "urgente"
	}
	return "normal"
}

func (m *Machine) deleteTask(ctx context.Context, u User, id int64) ([]Reply, error) {
	if _, err := m.ownedTask(ctx, u, id); err != nil {
		return nil, err
	}
	if err := m.store.DeleteTask(ctx, id); err != nil {
		return nil, err
	}
	return say("❌ Tarea cancelada y eliminada."), nil
}

// list shows open tasks, limited to today, tomorrow or the coming week
// when the command names one.
func (m *Machine) list(ctx context.Context, u User, cmd *parser.Command) ([]Reply, error) {
	f := store.TaskFilter{OwnerID: u.ID, Status: store.StatusOpen}
	title := "📋 Tareas pendientes"
	today := m.today()

	folded := textnorm.Fold(cmd.OriginalText)
	switch {
	case wordToday.MatchString(folded):
		f.From, f.To = today, today.AddDate(0, 0, 1)
		title += " para hoy"
	case wordTomorrow.MatchString(folded):
		f.From, f.To = today.AddDate(0, 0, 1), today.AddDate(0, 0, 2)
		title += " para mañana"
	case wordWeek.MatchString(folded):
		f.From, f.To = today, today.AddDate(0, 0, 7)
		title += " de esta semana"
	}
	return m.listTasks(ctx, f, title)
}

func (m *Machine) listPending(ctx context.Context, u User) ([]Reply, error) {
	return m.listTasks(ctx, store.TaskFilter{OwnerID: u.ID, Status: store.StatusOpen}, "📋 Tareas pendientes")
}

func (m *Machine) listTasks(ctx context.Context, f store.TaskFilter, title string) ([]Reply, error) {
	total, err := m.store.CountTasks(ctx, f)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return say(msgNoOpenTasks), nil
	}

	f.Limit = m.cfg.ListLimit
	tasks, err := m.store.ListTasks(ctx, f)
	if err != nil {
		return nil, err
	}

	lines := []string{fmt.Sprintf("%s (%d):", title, total), ""}
	for i, t := range tasks {
		name, _ := m.clientName(ctx, t)
		lines = append(lines, taskLine(i+1, t, name, m.loc))
	}
	if total > len(tasks) {
		lines = append(lines, "", fmt.Sprintf("... y %d más", total-len(tasks)))
	}
	return say(strings.Join(lines, "\n")), nil
}

func (m *Machine) openTasks(ctx context.Context, u User, limit int) ([]*store.Task, error) {
	return m.store.ListTasks(ctx, store.TaskFilter{OwnerID: u.ID, Status: store.StatusOpen, Limit: limit})
}

// closeCommand completes a task. With an auto-matched client the choice is
// among that client's tasks. Without any client mention a single open task
// is closed directly; otherwise tasks are matched by title.
func (m *Machine) closeCommand(ctx context.Context, u User, cmd *parser.Command) ([]Reply, error) {
	if match := cmd.Client; match != nil && match.Action == resolver.ActionAuto {
		tasks, err := m.store.ListTasks(ctx, store.TaskFilter{
			OwnerID: u.ID, Status: store.StatusOpen, ClientID: match.ClientID, Limit: maxChoices,
		})
		if err != nil {
			return nil, err
		}
		switch len(tasks) {
		case 0:
			return say(fmt.Sprintf("❌ No hay tareas abiertas para el cliente %s.", match.ClientName)), nil
		case 1:
			return []Reply{{
				Text: "¿Cerrar esta tarea?\n\n📝 " + tasks[0].Title,
				Options: []Option{
					{Label: "✅ Sí, cerrar", Data: fmt.Sprintf("close:%d", tasks[0].ID)},
					{Label: "❌ No", Data: "close:cancel"},
				},
				Columns: 2,
			}}, nil
		}
		return []Reply{taskChoice(
			fmt.Sprintf("Hay %d tareas abiertas para este cliente. ¿Cuál quieres cerrar?", len(tasks)),
			tasks, "close")}, nil
	}

	open, err := m.openTasks(ctx, u, 0)
	if err != nil {
		return nil, err
	}
	if len(open) == 0 {
		return say(msgNothingToClose), nil
	}

	if cmd.Entities.ClientMention == "" {
		if len(open) == 1 {
			return m.completeTask(ctx, open[0])
		}
		if matches := m.matchTitles(cmd.Entities.Title, open); len(matches) > 0 {
			return []Reply{scoredChoice("¿Qué tarea quieres cerrar?", matches, "close")}, nil
		}
		return []Reply{taskChoice(
			fmt.Sprintf("Tienes %d tareas pendientes. ¿Cuál quieres cerrar?", len(open)),
			open, "close")}, nil
	}

	matches := m.matchTitles(cmd.Entities.Title, open)
	if len(matches) == 0 {
		return say(fmt.Sprintf("❌ No encontré tareas que coincidan con '%s'.", cmd.Entities.Title)), nil
	}
	return []Reply{scoredChoice("¿Qué tarea quieres cerrar?", matches, "close")}, nil
}

func (m *Machine) closeTask(ctx context.Context, u User, id int64) ([]Reply, error) {
	t, err := m.ownedTask(ctx, u, id)
	if err != nil {
		return nil, err
	}
	return m.completeTask(ctx, t)
}

func (m *Machine) completeTask(ctx context.Context, t *store.Task) ([]Reply, error) {
	if err := m.store.CompleteTask(ctx, t.ID, ""); err != nil {
		return nil, err
	}
	return say("✅ Tarea completada:\n📝 " + t.Title), nil
}

func (m *Machine) closeMenu(ctx context.Context, u User) ([]Reply, error) {
	tasks, err := m.openTasks(ctx, u, maxMenuTasks)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return say(msgNothingToClose), nil
	}
	r := Reply{Text: fmt.Sprintf("✅ Selecciona la tarea que quieres completar:\n\nTienes %d tarea(s) pendiente(s).", len(tasks))}
	for _, t := range tasks {
		r.Options = append(r.Options, Option{
			Label: priorityEmoji(t.Priority) + " " + shortTitle(t.Title, 35),
			Data:  fmt.Sprintf("close:%d", t.ID),
		})
	}
	return []Reply{r}, nil
}

// reschedule moves a task to the date of the command.
func (m *Machine) reschedule(ctx context.Context, u User, cmd *parser.Command) ([]Reply, error) {
	if cmd.Entities.Date == nil {
		return say("❓ No entendí la nueva fecha. Ejemplo: 'reprograma la tarea revisar caldera al lunes a las 10'."), nil
	}
	date := *cmd.Entities.Date

	tasks, err := m.targets(ctx, u, cmd)
	if err != nil || len(tasks) == 0 {
		return m.noTargets(cmd, err)
	}
	if len(tasks) == 1 {
		return m.setDate(ctx, tasks[0], date)
	}
	r := Reply{Text: fmt.Sprintf("¿Qué tarea quieres pasar al %s?", formatDate(&date, m.loc, true))}
	for _, t := range tasks {
		r.Options = append(r.Options, Option{
			Label: "📝 " + shortTitle(t.Title, 40),
			Data:  fmt.Sprintf("reschedule:%d:%d", t.ID, date.Unix()),
		})
	}
	return []Reply{r}, nil
}

func (m *Machine) applyReschedule(ctx context.Context, u User, id int64, date time.Time) ([]Reply, error) {
	t, err := m.ownedTask(ctx, u, id)
	if err != nil {
		return nil, err
	}
	return m.setDate(ctx, t, date)
}

func (m *Machine) setDate(ctx context.Context, t *store.Task, date time.Time) ([]Reply, error) {
	if t.Status != store.StatusOpen {
		return nil, fmt.Errorf("reschedule task %d: %w", t.ID, store.ErrInvalidTransition)
	}
	if err := m.store.SetTaskDate(ctx, t.ID, &date); err != nil {
		return nil, err
	}
	return say(fmt.Sprintf("🔄 Tarea reprogramada:\n📝 %s\n📅 Nueva fecha: %s", t.Title, formatDate(&date, m.loc, true))), nil
}

// changePriority sets the priority named in the command. "sube" without
// a priority word means urgent.
func (m *Machine) changePriority(ctx context.Context, u User, cmd *parser.Command) ([]Reply, error) {
	p := cmd.Entities.Priority
	if p != store.PriorityUrgent && wordRaise.MatchString(textnorm.Fold(cmd.OriginalText)) {
		p = store.PriorityUrgent
	}

	tasks, err := m.targets(ctx, u, cmd)
	if err != nil || len(tasks) == 0 {
		return m.noTargets(cmd, err)
	}
	if len(tasks) == 1 {
		return m.setPriority(ctx, tasks[0], p)
	}
	r := Reply{Text: fmt.Sprintf("¿A qué tarea quieres poner prioridad %s?", priorityName(p))}
	for _, t := range tasks {
		r.Options = append(r.Options, Option{
			Label: priorityEmoji(t.Priority) + " " + shortTitle(t.Title, 40),
			Data:  fmt.Sprintf("priority:%d:%s", t.ID, p),
		})
	}
	return []Reply{r}, nil
}

func (m *Machine) applyPriority(ctx context.Context, u User, id int64, p store.Priority) ([]Reply, error) {
	t, err := m.ownedTask(ctx, u, id)
	if err != nil {
		return nil, err
	}
	return m.setPriority(ctx, t, p)
}

func (m *Machine) setPriority(ctx context.Context, t *store.Task, p store.Priority) ([]Reply, error) {
	if t.Status != store.StatusOpen {
		return nil, fmt.Errorf("reprioritize task %d: %w", t.ID, store.ErrInvalidTransition)
	}
	if err := m.store.SetPriority(ctx, t.ID, p); err != nil {
		return nil, err
	}
	return say(fmt.Sprintf("⚡ Prioridad actualizada:\n📝 %s\n%s Prioridad: %s", t.Title, priorityEmoji(p), priorityName(p))), nil
}

// targets finds the open tasks a reschedule or priority command refers
// to: those of an auto-matched client, else those matching the title.
func (m *Machine) targets(ctx context.Context, u User, cmd *parser.Command) ([]*store.Task, error) {
	if match := cmd.Client; match != nil && match.Action == resolver.ActionAuto {
		return m.store.ListTasks(ctx, store.TaskFilter{
			OwnerID: u.ID, Status: store.StatusOpen, ClientID: match.ClientID, Limit: maxChoices,
		})
	}
	open, err := m.openTasks(ctx, u, 0)
	if err != nil {
		return nil, err
	}
	matches := m.matchTitles(cmd.Entities.Title, open)
	out := make([]*store.Task, len(matches))
	for i, s := range matches {
		out[i] = s.task
	}
	return out, nil
}

func (m *Machine) noTargets(cmd *parser.Command, err error) ([]Reply, error) {
	if err != nil {
		return nil, err
	}
	return say(fmt.Sprintf("❌ No encontré tareas que coincidan con '%s'.", cmd.Entities.Title)), nil
}

type scoredTask struct {
	task  *store.Task
	score int
}

// matchTitles scores title against each task title and returns up to
// maxChoices tasks at or above the threshold, best first. A title fully
// contained in the other scores 100.
func (m *Machine) matchTitles(title string, tasks []*store.Task) []scoredTask {
	key := textnorm.NormalizeName(title)
	if key == "" {
		return nil
	}
	var out []scoredTask
	for _, t := range tasks {
		name := textnorm.NormalizeName(t.Title)
		score := m.scorer.Score(key, name)
		if len(key) >= 4 && len(name) >= 4 && (strings.Contains(name, key) || strings.Contains(key, name)) {
			score = 100
		}
		if score >= m.cfg.TitleMatchThreshold {
			out = append(out, scoredTask{task: t, score: score})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })
	if len(out) > maxChoices {
		out = out[:maxChoices]
	}
	return out
}

func taskChoice(text string, tasks []*store.Task, action string) Reply {
	r := Reply{Text: text}
	for i, t := range tasks {
		if i == maxChoices {
			break
		}
		r.Options = append(r.Options, Option{
			Label: "📝 " + shortTitle(t.Title, 40),
			Data:  fmt.Sprintf("%s:%d", action, t.ID),
		})
	}
	return r
}

func scoredChoice(text string, matches []scoredTask, action string) Reply {
	r := Reply{Text: text}
	for _, s := range matches {
		r.Options = append(r.Options, Option{
			Label: fmt.Sprintf("📝 %s (%d%%)", shortTitle(s.task.Title, 40), s.score),
			Data:  fmt.Sprintf("%s:%d", action, s.task.ID),
		})
	}
	return r
}

func (m *Machine) amplifyMenu(ctx context.Context, u User) ([]Reply, error) {
	tasks, err := m.openTasks(ctx, u, maxAmplifyTasks)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return say("✅ No tienes tareas abiertas para ampliar."), nil
	}
	r := Reply{Text: fmt.Sprintf("📝 Selecciona la tarea que quieres ampliar:\n\n"+
		"Después de seleccionar, envía un mensaje de voz o texto con la ampliación.\n\n"+
		"Tienes %d tarea(s).", len(tasks))}
	for _, t := range tasks {
		r.Options = append(r.Options, Option{
			Label: priorityEmoji(t.Priority) + " " + shortTitle(t.Title, 30),
			Data:  fmt.Sprintf("amplify:%d", t.ID),
		})
	}
	return []Reply{r}, nil
}

func (m *Machine) startAmplification(ctx context.Context, u User, id int64) ([]Reply, error) {
	t, err := m.ownedTask(ctx, u, id)
	if err != nil {
		return nil, err
	}
	if t.Status == store.StatusCompleted {
		return nil, fmt.Errorf("amplify task %d: %w", id, store.ErrInvalidTransition)
	}
	m.sessions.Put(u.ID, Session{State: StateAwaitingAmplificationText, TaskID: id})
	return say("📝 Tarea seleccionada:\n\n📋 " + t.Title +
		"\n\n🎤 Ahora envía un mensaje de voz o texto con la ampliación para esta tarea."), nil
}

// amplify appends text to the selected task. A failed write keeps the
// state so the next message retries it.
func (m *Machine) amplify(ctx context.Context, u User, id int64, text string) ([]Reply, error) {
	t, err := m.ownedTask(ctx, u, id)
	if err != nil {
		m.sessions.Delete(u.ID)
		return nil, err
	}
	if err := m.store.AppendAmpliacion(ctx, id, text); err != nil {
		return nil, err
	}
	m.sessions.Delete(u.ID)
	return say(fmt.Sprintf("✅ Ampliación añadida a la tarea:\n\n📝 %s\n\n📄 Ampliación:\n%s", t.Title, text)), nil
}

func (m *Machine) askTaskForImage(ctx context.Context, u User, fileRef string) ([]Reply, error) {
	tasks, err := m.openTasks(ctx, u, maxMenuTasks)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return say("❌ No tienes tareas abiertas disponibles. Crea una tarea primero."), nil
	}
	m.sessions.Put(u.ID, Session{State: StateAwaitingTaskSelectionForImage, PhotoRef: fileRef})

	r := Reply{Text: "📷 Imagen recibida. ¿A qué tarea abierta quieres asignarla?"}
	for _, t := range tasks {
		r.Options = append(r.Options, Option{
			Label: "📝 " + shortTitle(t.Title, 35),
			Data:  fmt.Sprintf("image:%d", t.ID),
		})
	}
	return []Reply{r}, nil
}

func (m *Machine) imageChoice(ctx context.Context, u User, id int64) ([]Reply, error) {
	sess, ok := m.sessions.Get(u.ID)
	if !ok || sess.State != StateAwaitingTaskSelectionForImage || sess.PhotoRef == "" {
		return nil, fmt.Errorf("image choice: %w", ErrStaleAction)
	}
	t, err := m.ownedTask(ctx, u, id)
	if err != nil {
		return nil, err
	}
	if err := m.attachImage(ctx, t.ID, sess.PhotoRef); err != nil {
		return nil, err
	}
	m.sessions.Delete(u.ID)
	return say("✅ Imagen asignada a la tarea:\n\n📝 " + t.Title), nil
}

// attachImage records fileRef on the task, copying the image locally when
// a fetcher and blob store are configured.
func (m *Machine) attachImage(ctx context.Context, taskID int64, fileRef string) error {
	img := &store.TaskImage{TaskID: taskID, FileRef: fileRef}
	if m.files != nil && m.blobs != nil {
		rc, err := m.files.Fetch(ctx, fileRef)
		if err != nil {
			return &transcription.Error{Kind: transcription.KindFetchFailure, Message: "could not download the image", Err: err}
		}
		path, err := m.blobs.Save(ctx, "jpg", rc)
		_ = rc.Close()
		if err != nil {
			return fmt.Errorf("save image: %w", err)
		}
		img.StoragePath = path
	}

	if err := m.store.AddImage(ctx, img); err != nil {
		if img.StoragePath != "" {
			if rerr := m.blobs.Remove(ctx, img.StoragePath); rerr != nil {
				m.log.Warn("failed to remove orphan image", slog.String("path", img.StoragePath), slog.Any("error", rerr))
			}
		}
		return err
	}
	return nil
}
