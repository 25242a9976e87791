package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmm-1987/agente/internal/logging"
	"github.com/jmm-1987/agente/internal/parser"
	"github.com/jmm-1987/agente/internal/resolver"
	"github.com/jmm-1987/agente/internal/store"
	"github.com/jmm-1987/agente/internal/transcription"
	"github.com/jmm-1987/agente/internal/workerpool"
)

// Wednesday.
var testNow = time.Date(2026, 10, 21, 15, 0, 0, 0, time.UTC)

type fakeVoice struct {
	mu     sync.Mutex
	text   string
	err    error
	block  chan struct{}
	calls  int
	loaded bool
}

func (f *fakeVoice) Ingest(ctx context.Context, fileRef string) (string, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return f.text, f.err
}

func (f *fakeVoice) EngineLoaded() bool { return f.loaded }

func (f *fakeVoice) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeFiles struct {
	data string
	err  error
}

func (f *fakeFiles) Fetch(ctx context.Context, fileRef string) (io.ReadCloser, error) {
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(strings.NewReader(f.data)), nil
}

type harness struct {
	m     *Machine
	st    *store.Store
	voice *fakeVoice
	files *fakeFiles
	user  User
}

func newHarness(t *testing.T, tweak ...func(*Config)) *harness {
	t.Helper()
	logging.Discard()

	dir := t.TempDir()
	blobs, err := store.NewLocalBlobs(filepath.Join(dir, "images"))
	if err != nil {
		t.Fatalf("NewLocalBlobs: %v", err)
	}
	st, err := store.Open(store.DefaultConfig(dir), blobs)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	// A high auto threshold leaves room to exercise confirmation.
	res := resolver.New(st, nil, resolver.Config{AutoThreshold: 99, ConfirmThreshold: 70, MaxCandidates: 3})
	ex := parser.NewExtractor(
		parser.WithClock(func() time.Time { return testNow }),
		parser.WithLocation(time.UTC),
		parser.WithDateParser(nil))

	pool := workerpool.New(1)
	t.Cleanup(pool.Close)

	cfg := DefaultConfig()
	cfg.Location = time.UTC
	for _, fn := range tweak {
		fn(&cfg)
	}

	h := &harness{
		st:    st,
		voice: &fakeVoice{},
		files: &fakeFiles{data: "jpeg bytes"},
		user:  User{ID: 42, ChatID: 42, Name: "Ana"},
	}
	h.m = New(Deps{
		Store:    st,
		Parser:   parser.New(ex, nil, res),
		Sessions: NewMemorySessions(DefaultSessionConfig()),
		Voice:    h.voice,
		Pool:     pool,
		Files:    h.files,
		Blobs:    blobs,
	}, cfg)
	h.m.now = func() time.Time { return testNow }
	return h
}

func (h *harness) text(s string) []Reply {
	return h.m.HandleText(context.Background(), h.user, s)
}

func (h *harness) press(data string) []Reply {
	return h.m.HandleCallback(context.Background(), h.user, data)
}

func (h *harness) client(t *testing.T, name string) *store.Client {
	t.Helper()
	c, err := h.st.CreateClient(context.Background(), name)
	if err != nil {
		t.Fatalf("CreateClient(%q): %v", name, err)
	}
	return c
}

func (h *harness) task(t *testing.T, title string, mod ...func(*store.Task)) *store.Task {
	t.Helper()
	task := &store.Task{OwnerID: h.user.ID, OwnerName: h.user.Name, Title: title}
	for _, fn := range mod {
		fn(task)
	}
	if err := h.st.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("CreateTask(%q): %v", title, err)
	}
	return task
}

func (h *harness) reload(t *testing.T, id int64) *store.Task {
	t.Helper()
	task, err := h.st.GetTask(context.Background(), id)
	if err != nil {
		t.Fatalf("GetTask(%d): %v", id, err)
	}
	return task
}

func (h *harness) onlyTask(t *testing.T) *store.Task {
	t.Helper()
	tasks, err := h.st.ListTasks(context.Background(), store.TaskFilter{OwnerID: h.user.ID})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("got %d tasks, want 1", len(tasks))
	}
	return tasks[0]
}

func allText(replies []Reply) string {
	parts := make([]string, len(replies))
	for i, r := range replies {
		parts[i] = r.Text
	}
	return strings.Join(parts, "\n---\n")
}

func hasOption(replies []Reply, data string) bool {
	for _, r := range replies {
		for _, o := range r.Options {
			if o.Data == data {
				return true
			}
		}
	}
	return false
}

func TestCreateTaskWithAutoMatchedClient(t *testing.T) {
	h := newHarness(t)
	acme := h.client(t, "Acme")

	replies := h.text("crear tarea llamar al cliente Acme urgente mañana")
	if !strings.Contains(allText(replies), msgCategoryPrompt) {
		t.Fatalf("replies = %q, want category prompt", allText(replies))
	}
	if !hasOption(replies, "category:averias") {
		t.Error("category options missing")
	}
	if got := h.m.State(h.user); got != StateAwaitingCategory {
		t.Fatalf("State = %s, want %s", got, StateAwaitingCategory)
	}

	replies = h.press("category:averias")
	if !strings.Contains(allText(replies), "Tarea creada") {
		t.Fatalf("replies = %q, want confirmation", allText(replies))
	}
	if got := h.m.State(h.user); got != StateIdle {
		t.Errorf("State = %s, want idle", got)
	}

	task := h.onlyTask(t)
	if task.ClientID == nil || *task.ClientID != acme.ID {
		t.Errorf("ClientID = %v, want %d", task.ClientID, acme.ID)
	}
	if task.Priority != store.PriorityUrgent {
		t.Errorf("Priority = %s, want urgent", task.Priority)
	}
	if task.Category != "averias" {
		t.Errorf("Category = %q, want averias", task.Category)
	}
	want := time.Date(2026, 10, 22, 9, 0, 0, 0, time.UTC)
	if task.TaskDate == nil || !task.TaskDate.Equal(want) {
		t.Errorf("TaskDate = %v, want %v", task.TaskDate, want)
	}
	if !strings.Contains(task.Title, "llamar") {
		t.Errorf("Title = %q, want it to contain llamar", task.Title)
	}
	if task.Description != "crear tarea llamar al cliente Acme urgente mañana" {
		t.Errorf("Description = %q, want the original text", task.Description)
	}
	if !hasOption(replies, fmt.Sprintf("delete:%d", task.ID)) {
		t.Error("confirmation should offer cancelling the task")
	}
}

func TestCreateTaskConfirmClient(t *testing.T) {
	h := newHarness(t)
	ald := h.client(t, "Alditraex")

	replies := h.text("crear tarea revisar caldera del cliente Alditrax")
	if got := h.m.State(h.user); got != StateAwaitingClientConfirmation {
		t.Fatalf("State = %s, want %s (replies %q)", got, StateAwaitingClientConfirmation, allText(replies))
	}
	for _, data := range []string{fmt.Sprintf("client:%d", ald.ID), "client:new", "client:skip"} {
		if !hasOption(replies, data) {
			t.Errorf("option %q missing", data)
		}
	}

	h.press(fmt.Sprintf("client:%d", ald.ID))
	if got := h.m.State(h.user); got != StateAwaitingCategory {
		t.Fatalf("State = %s, want %s", got, StateAwaitingCategory)
	}

	// The category can be answered in words.
	replies = h.text("pues averías")
	if !strings.Contains(allText(replies), "Tarea creada") {
		t.Fatalf("replies = %q, want confirmation", allText(replies))
	}
	task := h.onlyTask(t)
	if task.ClientID == nil || *task.ClientID != ald.ID {
		t.Errorf("ClientID = %v, want %d", task.ClientID, ald.ID)
	}
	if task.Category != "averias" {
		t.Errorf("Category = %q, want averias", task.Category)
	}
}

func TestCreateTaskWithNewClient(t *testing.T) {
	h := newHarness(t)

	replies := h.text("crear tarea enviar presupuesto al cliente Zeta")
	if !strings.Contains(allText(replies), "No encontré el cliente 'Zeta'") {
		t.Fatalf("replies = %q, want create-client offer", allText(replies))
	}

	replies = h.press("client:new")
	if !strings.Contains(allText(replies), "Cliente 'Zeta' creado") {
		t.Errorf("replies = %q, want client created", allText(replies))
	}
	c, err := h.st.GetClientByName(context.Background(), "zeta")
	if err != nil {
		t.Fatalf("client not created: %v", err)
	}

	h.press("category:clientes")
	task := h.onlyTask(t)
	if task.ClientID == nil || *task.ClientID != c.ID {
		t.Errorf("ClientID = %v, want %d", task.ClientID, c.ID)
	}
}

func TestCreateTaskSkipClient(t *testing.T) {
	h := newHarness(t)

	h.text("crear tarea enviar presupuesto al cliente Zeta")
	h.press("client:skip")
	h.press("category:administracion")

	task := h.onlyTask(t)
	if task.ClientID != nil || task.ClientNameRaw != "" {
		t.Errorf("task client = %v/%q, want none", task.ClientID, task.ClientNameRaw)
	}
	clients, _ := h.st.ListClients(context.Background())
	if len(clients) != 0 {
		t.Errorf("got %d clients, want 0", len(clients))
	}
}

func TestCategoryUnknownAnswerAsksAgain(t *testing.T) {
	h := newHarness(t)
	h.text("crear tarea revisar persianas")

	replies := h.text("no lo sé")
	if !strings.Contains(allText(replies), msgCategoryUnknown) {
		t.Errorf("replies = %q, want re-prompt", allText(replies))
	}
	if got := h.m.State(h.user); got != StateAwaitingCategory {
		t.Errorf("State = %s, want %s", got, StateAwaitingCategory)
	}

	h.press("category:servicios")
	if task := h.onlyTask(t); task.Category != "servicios" {
		t.Errorf("Category = %q, want servicios", task.Category)
	}
}

func TestStaleCallbacks(t *testing.T) {
	h := newHarness(t)

	for _, data := range []string{"category:averias", "client:new", "image:1"} {
		replies := h.press(data)
		if !strings.Contains(allText(replies), "ya no es válida") {
			t.Errorf("press(%q) = %q, want stale message", data, allText(replies))
		}
	}

	replies := h.press("bogus:1")
	if !strings.Contains(allText(replies), "No entendí") {
		t.Errorf("unknown callback reply = %q", allText(replies))
	}
}

func TestListTasksFilters(t *testing.T) {
	h := newHarness(t)
	at := func(d time.Time) func(*store.Task) {
		return func(t *store.Task) { t.TaskDate = &d }
	}
	h.task(t, "tarea de hoy", at(time.Date(2026, 10, 21, 18, 0, 0, 0, time.UTC)))
	h.task(t, "tarea de mañana", at(time.Date(2026, 10, 22, 9, 0, 0, 0, time.UTC)))
	h.task(t, "tarea del mes que viene", at(time.Date(2026, 11, 20, 9, 0, 0, 0, time.UTC)))
	h.task(t, "sin fecha")
	done := h.task(t, "ya hecha", at(time.Date(2026, 10, 21, 10, 0, 0, 0, time.UTC)))
	if err := h.st.CompleteTask(context.Background(), done.ID, ""); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		text    string
		want    []string
		notWant []string
	}{
		{"lista las tareas de hoy", []string{"(1)", "tarea de hoy"}, []string{"tarea de mañana", "ya hecha"}},
		{"muestra las tareas de mañana", []string{"(1)", "tarea de mañana"}, []string{"tarea de hoy"}},
		{"dame las tareas de esta semana", []string{"(2)", "tarea de hoy", "tarea de mañana"}, []string{"mes que viene"}},
		{"listar tareas pendientes", []string{"(4)", "sin fecha", "mes que viene"}, []string{"ya hecha"}},
	}
	for _, tt := range tests {
		got := allText(h.text(tt.text))
		for _, w := range tt.want {
			if !strings.Contains(got, w) {
				t.Errorf("%q: reply %q missing %q", tt.text, got, w)
			}
		}
		for _, w := range tt.notWant {
			if strings.Contains(got, w) {
				t.Errorf("%q: reply %q should not contain %q", tt.text, got, w)
			}
		}
	}
}

func TestListTasksOverflow(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 12; i++ {
		h.task(t, fmt.Sprintf("tarea número %d", i))
	}
	got := allText(h.text("listar tareas pendientes"))
	if !strings.Contains(got, "... y 2 más") {
		t.Errorf("reply = %q, want overflow line", got)
	}
	if strings.Count(got, "\n") < 10 {
		t.Errorf("reply = %q, want 10 rows", got)
	}
}

func TestListTasksEmpty(t *testing.T) {
	h := newHarness(t)
	if got := allText(h.text("listar tareas pendientes")); got != msgNoOpenTasks {
		t.Errorf("reply = %q, want %q", got, msgNoOpenTasks)
	}
}

func TestCloseSingleOpenTask(t *testing.T) {
	h := newHarness(t)
	task := h.task(t, "revisar caldera")

	got := allText(h.text("cierra la tarea"))
	if !strings.Contains(got, "Tarea completada") {
		t.Errorf("reply = %q, want completion", got)
	}
	if st := h.reload(t, task.ID).Status; st != store.StatusCompleted {
		t.Errorf("Status = %s, want completed", st)
	}
}

func TestCloseByTitle(t *testing.T) {
	h := newHarness(t)
	caldera := h.task(t, "revisar caldera")
	h.task(t, "enviar presupuesto")

	replies := h.text("cerrar tarea revisar caldera")
	data := fmt.Sprintf("close:%d", caldera.ID)
	if !hasOption(replies, data) {
		t.Fatalf("replies = %+v, want option %s", replies, data)
	}
	if len(replies[0].Options) != 1 {
		t.Errorf("got %d options, want only the matching task", len(replies[0].Options))
	}

	h.press(data)
	if st := h.reload(t, caldera.ID).Status; st != store.StatusCompleted {
		t.Errorf("Status = %s, want completed", st)
	}

	// Pressing again reports the task is no longer open.
	if got := allText(h.press(data)); !strings.Contains(got, "ya no está abierta") {
		t.Errorf("second close = %q", got)
	}
}

func TestCloseByClient(t *testing.T) {
	h := newHarness(t)
	acme := h.client(t, "Acme")
	forAcme := func(t *store.Task) { t.ClientID = &acme.ID }
	first := h.task(t, "cambiar filtro", forAcme)
	h.task(t, "otra cosa")

	replies := h.text("da por hecha la tarea del cliente Acme")
	if !hasOption(replies, fmt.Sprintf("close:%d", first.ID)) || !hasOption(replies, "close:cancel") {
		t.Fatalf("replies = %+v, want confirm prompt for task %d", replies, first.ID)
	}

	second := h.task(t, "llevar repuesto", forAcme)
	replies = h.text("da por hecha la tarea del cliente Acme")
	if !strings.Contains(allText(replies), "Hay 2 tareas") {
		t.Errorf("replies = %q, want selection of 2", allText(replies))
	}
	if !hasOption(replies, fmt.Sprintf("close:%d", second.ID)) {
		t.Error("second task not offered")
	}

	if got := allText(h.press("close:cancel")); got != msgCancelled {
		t.Errorf("cancel = %q", got)
	}
}

func TestCloseMenuButton(t *testing.T) {
	h := newHarness(t)
	if got := allText(h.text(ButtonClose)); got != msgNothingToClose {
		t.Errorf("empty menu = %q", got)
	}
	task := h.task(t, "revisar caldera")
	replies := h.text(ButtonClose)
	if !hasOption(replies, fmt.Sprintf("close:%d", task.ID)) {
		t.Errorf("replies = %+v, want task option", replies)
	}
}

func TestCallbacksCannotTouchOtherUsersTasks(t *testing.T) {
	h := newHarness(t)
	other := &store.Task{OwnerID: 7, Title: "ajena"}
	if err := h.st.CreateTask(context.Background(), other); err != nil {
		t.Fatal(err)
	}

	for _, data := range []string{
		fmt.Sprintf("close:%d", other.ID),
		fmt.Sprintf("delete:%d", other.ID),
		fmt.Sprintf("amplify:%d", other.ID),
		fmt.Sprintf("priority:%d:urgent", other.ID),
	} {
		if got := allText(h.press(data)); got != msgTaskNotFound {
			t.Errorf("press(%q) = %q, want %q", data, got, msgTaskNotFound)
		}
	}
	if task := h.reload(t, other.ID); task.Status != store.StatusOpen || task.Priority != store.PriorityNormal {
		t.Errorf("other user's task changed: %+v", task)
	}
}

func TestDeleteCallback(t *testing.T) {
	h := newHarness(t)
	task := h.task(t, "por error")

	h.press(fmt.Sprintf("delete:%d", task.ID))
	if _, err := h.st.GetTask(context.Background(), task.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetTask after delete = %v, want ErrNotFound", err)
	}
}

func TestAmplification(t *testing.T) {
	h := newHarness(t)
	task := h.task(t, "revisar caldera")

	replies := h.text(ButtonAmplify)
	if !hasOption(replies, fmt.Sprintf("amplify:%d", task.ID)) {
		t.Fatalf("replies = %+v, want amplify option", replies)
	}

	h.press(fmt.Sprintf("amplify:%d", task.ID))
	if got := h.m.State(h.user); got != StateAwaitingAmplificationText {
		t.Fatalf("State = %s, want %s", got, StateAwaitingAmplificationText)
	}
	// Text that looks like a command is still the addendum.
	h.text("crear tarea cambiar también el filtro")
	if got := h.m.State(h.user); got != StateIdle {
		t.Errorf("State = %s, want idle", got)
	}

	h.m.StartAmplification(context.Background(), h.user, task.ID)
	h.text("presión a 1,5 bar")

	want := "crear tarea cambiar también el filtro\n\npresión a 1,5 bar"
	if got := h.reload(t, task.ID).Ampliacion; got != want {
		t.Errorf("Ampliacion = %q, want %q", got, want)
	}
}

func TestPhotoAttachment(t *testing.T) {
	h := newHarness(t)
	task := h.task(t, "revisar caldera")

	replies := h.m.HandlePhoto(context.Background(), h.user, "photo-ref-1")
	if !hasOption(replies, fmt.Sprintf("image:%d", task.ID)) {
		t.Fatalf("replies = %+v, want image option", replies)
	}
	if got := h.m.State(h.user); got != StateAwaitingTaskSelectionForImage {
		t.Fatalf("State = %s, want %s", got, StateAwaitingTaskSelectionForImage)
	}

	got := allText(h.press(fmt.Sprintf("image:%d", task.ID)))
	if !strings.Contains(got, "Imagen asignada") {
		t.Fatalf("reply = %q", got)
	}

	images := h.reload(t, task.ID).Images
	if len(images) != 1 {
		t.Fatalf("got %d images, want 1", len(images))
	}
	if images[0].FileRef != "photo-ref-1" {
		t.Errorf("FileRef = %q", images[0].FileRef)
	}
	data, err := os.ReadFile(images[0].StoragePath)
	if err != nil {
		t.Fatalf("stored image: %v", err)
	}
	if string(data) != "jpeg bytes" {
		t.Errorf("stored bytes = %q", data)
	}
}

func TestPhotoWithoutOpenTasks(t *testing.T) {
	h := newHarness(t)
	got := allText(h.m.HandlePhoto(context.Background(), h.user, "ref"))
	if !strings.Contains(got, "No tienes tareas abiertas") {
		t.Errorf("reply = %q", got)
	}
	if st := h.m.State(h.user); st != StateIdle {
		t.Errorf("State = %s, want idle", st)
	}
}

func TestPhotoFetchFailureKeepsSelection(t *testing.T) {
	h := newHarness(t)
	task := h.task(t, "revisar caldera")
	h.files.err = errors.New("telegram down")

	h.m.HandlePhoto(context.Background(), h.user, "ref")
	got := allText(h.press(fmt.Sprintf("image:%d", task.ID)))
	if !strings.Contains(got, "No se pudo descargar") {
		t.Errorf("reply = %q", got)
	}
	if len(h.reload(t, task.ID).Images) != 0 {
		t.Error("image recorded despite fetch failure")
	}
	if st := h.m.State(h.user); st != StateAwaitingTaskSelectionForImage {
		t.Errorf("State = %s, want selection kept for a retry", st)
	}
}

func TestReschedule(t *testing.T) {
	h := newHarness(t)
	task := h.task(t, "revisar caldera")
	h.task(t, "enviar presupuesto")

	got := allText(h.text("reprograma revisar caldera al lunes"))
	if !strings.Contains(got, "Tarea reprogramada") {
		t.Fatalf("reply = %q", got)
	}
	want := time.Date(2026, 10, 26, 9, 0, 0, 0, time.UTC)
	if d := h.reload(t, task.ID).TaskDate; d == nil || !d.Equal(want) {
		t.Errorf("TaskDate = %v, want %v", d, want)
	}
}

func TestRescheduleCallback(t *testing.T) {
	h := newHarness(t)
	task := h.task(t, "revisar caldera")
	when := time.Date(2026, 11, 2, 10, 30, 0, 0, time.UTC)

	h.press(fmt.Sprintf("reschedule:%d:%d", task.ID, when.Unix()))
	if d := h.reload(t, task.ID).TaskDate; d == nil || !d.Equal(when) {
		t.Errorf("TaskDate = %v, want %v", d, when)
	}
}

func TestRescheduleWithoutDate(t *testing.T) {
	h := newHarness(t)
	h.task(t, "revisar caldera")
	got := allText(h.text("reprograma revisar caldera"))
	if !strings.Contains(got, "No entendí la nueva fecha") {
		t.Errorf("reply = %q", got)
	}
}

func TestChangePriority(t *testing.T) {
	h := newHarness(t)
	task := h.task(t, "revisar caldera")

	got := allText(h.text("sube la prioridad de revisar caldera"))
	if !strings.Contains(got, "Prioridad actualizada") {
		t.Fatalf("reply = %q", got)
	}
	if p := h.reload(t, task.ID).Priority; p != store.PriorityUrgent {
		t.Errorf("Priority = %s, want urgent", p)
	}

	h.press(fmt.Sprintf("priority:%d:normal", task.ID))
	if p := h.reload(t, task.ID).Priority; p != store.PriorityNormal {
		t.Errorf("Priority = %s, want normal", p)
	}

	if got := allText(h.press(fmt.Sprintf("priority:%d:altisima", task.ID))); !strings.Contains(got, "No entendí") {
		t.Errorf("bad priority reply = %q", got)
	}
}

func TestCancel(t *testing.T) {
	h := newHarness(t)
	h.text("crear tarea revisar persianas")

	if got := allText(h.text("cancelar")); got != msgCancelled {
		t.Errorf("cancel = %q, want %q", got, msgCancelled)
	}
	if st := h.m.State(h.user); st != StateIdle {
		t.Errorf("State = %s, want idle", st)
	}
	if got := allText(h.press("cancel")); !strings.Contains(got, "No hay ninguna operación") {
		t.Errorf("second cancel = %q", got)
	}
}

func TestHelp(t *testing.T) {
	h := newHarness(t)
	for _, in := range []string{"/start", "/help", "Ayuda"} {
		if got := allText(h.text(in)); got != helpText {
			t.Errorf("%q gave %q", in, got)
		}
	}
	if got := h.text("   "); got != nil {
		t.Errorf("blank text gave %+v", got)
	}
}

func TestVoiceRoutesTranscript(t *testing.T) {
	h := newHarness(t)
	h.client(t, "Acme")
	h.voice.text = "crear tarea llamar al cliente Acme"

	replies := h.m.HandleVoice(context.Background(), h.user, "voice-1", 12*time.Second)
	if len(replies) < 2 || !strings.Contains(replies[0].Text, h.voice.text) {
		t.Fatalf("replies = %+v, want transcript echo first", replies)
	}
	if st := h.m.State(h.user); st != StateAwaitingCategory {
		t.Errorf("State = %s, want %s", st, StateAwaitingCategory)
	}
}

func TestVoiceAnswersPendingCategory(t *testing.T) {
	h := newHarness(t)
	h.text("crear tarea revisar persianas")
	h.voice.text = "servicios"

	h.m.HandleVoice(context.Background(), h.user, "voice-1", 2*time.Second)
	if task := h.onlyTask(t); task.Category != "servicios" {
		t.Errorf("Category = %q, want servicios", task.Category)
	}
}

func TestVoiceTooLongIsRejectedBeforeDownload(t *testing.T) {
	h := newHarness(t)
	got := allText(h.m.HandleVoice(context.Background(), h.user, "voice-1", 400*time.Second))
	if !strings.Contains(got, "Audio demasiado largo (400s). Máximo: 300s") {
		t.Errorf("reply = %q", got)
	}
	if n := h.voice.callCount(); n != 0 {
		t.Errorf("transcriber called %d times, want 0", n)
	}
}

func TestVoiceTimeout(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.TranscriptionTimeout = 20 * time.Millisecond })
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	h.voice.block = release

	got := allText(h.m.HandleVoice(context.Background(), h.user, "voice-1", time.Second))
	if got != msgVoiceTimeout {
		t.Errorf("reply = %q, want %q", got, msgVoiceTimeout)
	}
}

func TestVoiceErrorsBecomeMessages(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{transcription.ErrEmptyTranscript, "No se detectó voz"},
		{transcription.ErrModelUnavailable, "agente doctor"},
		{fmt.Errorf("ingest: %w", transcription.ErrDurationExceeded), "Audio demasiado largo"},
	}
	for _, tt := range tests {
		h := newHarness(t)
		h.voice.err = tt.err
		got := allText(h.m.HandleVoice(context.Background(), h.user, "voice-1", time.Second))
		if !strings.Contains(got, tt.want) {
			t.Errorf("%v: reply = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestVoiceNotice(t *testing.T) {
	h := newHarness(t)
	if got := h.m.VoiceNotice().Text; got != msgVoiceFirstLoad {
		t.Errorf("cold notice = %q", got)
	}
	h.voice.loaded = true
	if got := h.m.VoiceNotice().Text; got != msgVoiceProcessing {
		t.Errorf("warm notice = %q", got)
	}
}

func TestMatchCategory(t *testing.T) {
	cats := store.DefaultCategories
	tests := []struct {
		text string
		want string
	}{
		{"averías", "averias"},
		{"una avería", "averias"},
		{"Administración", "administracion"},
		{"admin", "administracion"},
		{"cliente", "clientes"},
		{"servicio técnico", "servicios"},
		{"SERVICIOS.", "servicios"},
		{"ninguna", ""},
		{"ad", ""},
	}
	for _, tt := range tests {
		c, ok := matchCategory(tt.text, cats)
		got := ""
		if ok {
			got = c.Name
		}
		if got != tt.want {
			t.Errorf("matchCategory(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{workerpool.ErrTimeout, msgVoiceTimeout},
		{fmt.Errorf("create task: %w", store.ErrStoreBusy), "base de datos está ocupada"},
		{fmt.Errorf("task 3: %w", store.ErrNotFound), msgTaskNotFound},
		{transcription.ErrTranscodeFailure, "ffmpeg"},
		{transcription.ErrUnsupportedFormat, "Formato de audio"},
		{ErrStaleAction, "ya no es válida"},
		{errors.New("boom"), "Ha ocurrido un error"},
	}
	for _, tt := range tests {
		if got := userMessage(tt.err); !strings.Contains(got, tt.want) {
			t.Errorf("userMessage(%v) = %q, want it to contain %q", tt.err, got, tt.want)
		}
	}
}
