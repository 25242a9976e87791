package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmm-1987/agente/internal/briefs"
	"github.com/jmm-1987/agente/internal/config"
	"github.com/jmm-1987/agente/internal/health"
	"github.com/jmm-1987/agente/internal/intent"
	"github.com/jmm-1987/agente/internal/parser"
	"github.com/jmm-1987/agente/internal/resolver"
	"github.com/jmm-1987/agente/internal/store"
	"github.com/jmm-1987/agente/internal/testutil"
)

func TestRootCommandHasSubcommands(t *testing.T) {
	root := newRootCmd()

	for _, name := range []string{"serve", "doctor", "parse", "transcribe", "clients", "categories", "tasks", "brief", "config", "version"} {
		if findSubcommand(root, name) == nil {
			t.Errorf("missing command: %s", name)
		}
	}
	if root.PersistentFlags().Lookup("config") == nil {
		t.Error("missing persistent flag: --config")
	}
}

func TestCommandFlags(t *testing.T) {
	tests := []struct {
		cmd   *cobra.Command
		flags []struct{ name, shorthand string }
	}{
		{newServeCmd(), []struct{ name, shorthand string }{{"webhook", ""}}},
		{newDoctorCmd(), []struct{ name, shorthand string }{{"verbose", "v"}}},
		{newParseCmd(), []struct{ name, shorthand string }{{"no-store", ""}, {"json", ""}}},
		{newTranscribeCmd(), []struct{ name, shorthand string }{{"timeout", ""}}},
		{newTasksCmd(), []struct{ name, shorthand string }{{"owner", ""}, {"status", ""}, {"client", ""}, {"limit", "n"}}},
		{newClientsAddCmd(), []struct{ name, shorthand string }{{"alias", ""}}},
		{newBriefCmd(), []struct{ name, shorthand string }{{"dry-run", ""}}},
	}

	for _, tt := range tests {
		for _, ef := range tt.flags {
			flag := tt.cmd.Flags().Lookup(ef.name)
			if flag == nil {
				t.Errorf("%s: missing flag: --%s", tt.cmd.Name(), ef.name)
				continue
			}
			if ef.shorthand != "" && flag.Shorthand != ef.shorthand {
				t.Errorf("%s: flag --%s: expected shorthand -%s, got -%s", tt.cmd.Name(), ef.name, ef.shorthand, flag.Shorthand)
			}
		}
	}
}

func TestWebhookPath(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://bot.example.com/tg/hook", "/tg/hook"},
		{"https://bot.example.com", "/webhook"},
		{"://bad", "/webhook"},
	}
	for _, tt := range tests {
		if got := webhookPath(tt.url); got != tt.want {
			t.Errorf("webhookPath(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestParseID(t *testing.T) {
	if id, err := parseID("42"); err != nil || id != 42 {
		t.Errorf("parseID(42) = %d, %v", id, err)
	}
	for _, bad := range []string{"", "0", "-3", "abc"} {
		if _, err := parseID(bad); err == nil {
			t.Errorf("parseID(%q) should fail", bad)
		}
	}
}

func TestRecommendationsErrorsFirst(t *testing.T) {
	report := &health.HealthReport{
		Dependencies: []health.Check{
			{Name: "ffmpeg", Status: health.StatusWarning, Fix: "apt install ffmpeg"},
		},
		Config: []health.ConfigCheck{
			{Name: "allowed_ids", Status: health.StatusWarning, Fix: "set telegram.allowed_ids"},
			{Name: "telegram", Status: health.StatusError, Fix: "set telegram.bot_token"},
			{Name: "config", Status: health.StatusOK},
		},
	}

	recs := recommendations(report, 5)
	if len(recs) != 3 {
		t.Fatalf("recommendations = %v, want 3 entries", recs)
	}
	if !strings.HasPrefix(recs[0], "telegram:") {
		t.Errorf("first recommendation = %q, want the telegram error", recs[0])
	}

	if got := recommendations(report, 2); len(got) != 2 {
		t.Errorf("recommendations capped at 2 = %v", got)
	}
}

func TestPrintReport(t *testing.T) {
	report := &health.HealthReport{
		Dependencies: []health.Check{{Name: "ffmpeg", Status: health.StatusOK, Message: "6.1"}},
		Config:       []health.ConfigCheck{{Name: "telegram", Status: health.StatusError, Message: "bot_token not set", Fix: "set telegram.bot_token"}},
		Features:     []health.FeatureStatus{{Name: "Webhook", Status: health.StatusDisabled, Note: "long polling"}},
	}

	var buf bytes.Buffer
	printReport(&buf, report, true)
	out := buf.String()

	for _, want := range []string{"ffmpeg", "6.1", "bot_token not set", "→ set telegram.bot_token", "(long polling)", "Not ready - 1 critical error(s)"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

func TestMaskSecrets(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Telegram.BotToken = testutil.FakeTelegramBotToken
	cfg.Speech.OpenAIAPIKey = ""

	maskSecrets(cfg)

	if cfg.Telegram.BotToken != "********" {
		t.Errorf("BotToken = %q, want masked", cfg.Telegram.BotToken)
	}
	if cfg.Speech.OpenAIAPIKey != "" {
		t.Errorf("OpenAIAPIKey = %q, want empty left empty", cfg.Speech.OpenAIAPIKey)
	}
}

func TestPrintParse(t *testing.T) {
	date := time.Date(2026, 10, 22, 9, 0, 0, 0, time.UTC)
	c := &parser.Command{
		Intent:       intent.IntentCreate,
		OriginalText: "crea tarea urgente para Alditrax mañana a las 9",
		Entities: parser.Entities{
			Date:          &date,
			Priority:      store.PriorityUrgent,
			ClientMention: "Alditrax",
			Title:         "revisar caldera",
		},
		Client: &resolver.Match{
			Found:  true,
			Action: resolver.ActionConfirm,
			Candidates: []resolver.Candidate{
				{ClientID: 1, Name: "Alditraex", Score: 88},
			},
		},
	}

	var buf bytes.Buffer
	printParse(&buf, c)
	out := buf.String()

	for _, want := range []string{"CREATE", "2026-10-22 09:00", "urgent", "revisar caldera", "Alditrax", "confirm: Alditraex 88%"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	if err := writeParseJSON(&buf, c); err != nil {
		t.Fatalf("writeParseJSON: %v", err)
	}
	if !strings.Contains(buf.String(), `"intent": "CREATE"`) {
		t.Errorf("json output = %s", buf.String())
	}
}

func TestPrintTasksAndClients(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(store.DefaultConfig(t.TempDir()), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer func() { _ = st.Close() }()

	c, err := st.CreateClient(ctx, "Alditraex", "aldi")
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	task := &store.Task{OwnerID: 7, OwnerName: "Ana", Title: "revisar caldera", Priority: store.PriorityUrgent, ClientID: &c.ID, ClientNameRaw: c.Name}
	if err := st.CreateTask(ctx, task); err != nil {
		t.Fatalf("create task: %v", err)
	}

	clients, err := st.ListClients(ctx)
	if err != nil {
		t.Fatalf("list clients: %v", err)
	}
	var buf bytes.Buffer
	printClients(&buf, clients)
	if out := buf.String(); !strings.Contains(out, "Alditraex") || !strings.Contains(out, "aldi") {
		t.Errorf("clients output:\n%s", out)
	}

	tasks, err := st.ListTasks(ctx, store.TaskFilter{Status: store.StatusOpen})
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	buf.Reset()
	printTasks(&buf, tasks)
	out := buf.String()
	for _, want := range []string{"revisar caldera", "Ana", "urgent", "Alditraex"} {
		if !strings.Contains(out, want) {
			t.Errorf("tasks output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	printTasks(&buf, nil)
	if buf.String() != "No tasks\n" {
		t.Errorf("empty tasks output = %q", buf.String())
	}
}

func TestTasksSubcommands(t *testing.T) {
	cmd := newTasksCmd()
	for _, name := range []string{"complete", "cancel", "delete", "solution", "category", "client"} {
		if findSubcommand(cmd, name) == nil {
			t.Errorf("tasks: missing subcommand: %s", name)
		}
	}
}

func runTaskEdit(t *testing.T, st *store.Store, name string, id int64, rest ...string) (string, error) {
	t.Helper()
	for _, e := range taskEdits {
		if strings.Fields(e.use)[0] == name {
			return e.run(context.Background(), st, id, rest)
		}
	}
	t.Fatalf("no task edit %q", name)
	return "", nil
}

func TestTaskEdits(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(store.DefaultConfig(t.TempDir()), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer func() { _ = st.Close() }()

	c, err := st.CreateClient(ctx, "Alditraex")
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	newTask := func(title string) int64 {
		task := &store.Task{OwnerID: 7, OwnerName: "Ana", Title: title}
		if err := st.CreateTask(ctx, task); err != nil {
			t.Fatalf("create task: %v", err)
		}
		return task.ID
	}
	a, b, d := newTask("revisar caldera"), newTask("llamar a Pepe"), newTask("enviar presupuesto")

	tests := []struct {
		edit    string
		id      int64
		rest    []string
		want    string
		wantErr error
	}{
		{"solution", a, []string{"cambiar", "termopar"}, "✓ Task 1 solution updated", nil},
		{"category", a, []string{"averias"}, "✓ Task 1 category: averias", nil},
		{"category", a, []string{"inventada"}, "", store.ErrNotFound},
		{"client", a, []string{"1"}, "✓ Task 1 client: Alditraex", nil},
		{"client", a, []string{"99"}, "", store.ErrNotFound},
		{"complete", a, []string{"cambiado", "el", "termopar"}, "✓ Task 1 completed", nil},
		{"complete", a, nil, "", store.ErrInvalidTransition},
		{"cancel", b, nil, "✓ Task 2 cancelled", nil},
		{"cancel", b, nil, "", store.ErrInvalidTransition},
		{"delete", d, nil, "✓ Task 3 deleted", nil},
		{"delete", d, nil, "", store.ErrNotFound},
		{"solution", 99, []string{"nada"}, "", store.ErrNotFound},
	}
	for _, tt := range tests {
		got, err := runTaskEdit(t, st, tt.edit, tt.id, tt.rest...)
		if tt.wantErr != nil {
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("%s %d %v: err = %v, want %v", tt.edit, tt.id, tt.rest, err, tt.wantErr)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s %d %v: %v", tt.edit, tt.id, tt.rest, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%s %d %v = %q, want %q", tt.edit, tt.id, tt.rest, got, tt.want)
		}
	}

	task, err := st.GetTask(ctx, a)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.Status != store.StatusCompleted {
		t.Errorf("status = %s, want %s", task.Status, store.StatusCompleted)
	}
	if task.Solution != "cambiado el termopar" {
		t.Errorf("solution = %q, want %q", task.Solution, "cambiado el termopar")
	}
	if task.Category != "averias" {
		t.Errorf("category = %q, want averias", task.Category)
	}
	if task.ClientID == nil || *task.ClientID != c.ID || task.ClientNameRaw != "Alditraex" {
		t.Errorf("client = %v %q, want %d Alditraex", task.ClientID, task.ClientNameRaw, c.ID)
	}

	if _, err := runTaskEdit(t, st, "category", b, "-"); err != nil {
		t.Fatalf("clear category: %v", err)
	}
	if task, _ := st.GetTask(ctx, b); task.Category != "" {
		t.Errorf("cleared category = %q, want empty", task.Category)
	}
}

func TestBuildApp(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	cfg.Store.Path = filepath.Join(dir, "tareas.db")
	cfg.Images.Dir = filepath.Join(dir, "images")
	cfg.Telegram.BotToken = testutil.FakeTelegramBotToken

	a, err := buildApp(cfg)
	if err != nil {
		t.Fatalf("buildApp: %v", err)
	}
	if a.bot == nil || a.client == nil {
		t.Error("buildApp left the bot unset")
	}
	if a.store.Path() != cfg.Store.Path {
		t.Errorf("store path = %q, want %q", a.store.Path(), cfg.Store.Path)
	}
	if a.briefs == nil || a.briefs.Status().Timezone != "UTC" {
		t.Error("buildApp left the brief scheduler unset")
	}
	if err := a.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestBriefDryRun(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(store.DefaultConfig(t.TempDir()), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer func() { _ = st.Close() }()

	due := time.Now().Add(-time.Hour)
	if err := st.CreateTask(ctx, &store.Task{OwnerID: 7, OwnerName: "Ana", Title: "revisar caldera", TaskDate: &due}); err != nil {
		t.Fatalf("create task: %v", err)
	}

	cfg := config.DefaultConfig()
	var out bytes.Buffer
	sender := &printSender{w: &out}
	results, err := newBriefScheduler(cfg, st, sender, time.Local).RunNow(ctx)
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}

	for _, want := range []string{"--- chat 7 ---", "Buenos días, Ana", "revisar caldera"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}

	var summary bytes.Buffer
	if err := reportBriefs(&summary, results); err != nil {
		t.Errorf("reportBriefs: %v", err)
	}
	if summary.String() != "1 sent, 0 skipped, 0 failed\n" {
		t.Errorf("summary = %q", summary.String())
	}
}

func TestReportBriefsFailure(t *testing.T) {
	var buf bytes.Buffer
	err := reportBriefs(&buf, []briefs.DeliveryResult{
		{OwnerID: 1, Success: true},
		{OwnerID: 2, Error: errors.New("blocked")},
	})
	if err == nil {
		t.Error("reportBriefs should fail when a brief was not delivered")
	}
	if buf.String() != "1 sent, 0 skipped, 1 failed\n" {
		t.Errorf("summary = %q", buf.String())
	}
}

func findSubcommand(root *cobra.Command, name string) *cobra.Command {
	for _, c := range root.Commands() {
		if c.Name() == name {
			return c
		}
	}
	return nil
}
