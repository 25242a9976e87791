package briefs

import (
	"context"
	"strings"
	"testing"
	"time"
)

func anaBrief(t *testing.T) *Brief {
	t.Helper()
	g := NewGenerator(&fakeLister{tasks: agendaTasks()}, DefaultBriefConfig(), time.UTC)
	briefs, err := g.Generate(context.Background(), *at(19, 8))
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	return briefs[1]
}

func TestPlainTextFormatter(t *testing.T) {
	out, err := NewPlainTextFormatter(time.UTC).Format(anaBrief(t))
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}

	for _, want := range []string{
		"☀️ Buenos días, Ana - lunes 19/10/2026\n",
		"Tienes 6 tareas abiertas, 2 urgentes.\n",
		"⏰ Atrasadas (1)\n  🟡 revisar caldera - 17/10 - 👤 Alditraex\n",
		"📌 Hoy (2)\n  🔴 llamar al técnico - 09:00\n  🟡 pagar factura\n",
		"🗓️ Próximos días (1)\n  🟡 enviar planos - miércoles 21/10\n",
		"Sin fecha: 1\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "renovar seguro") {
		t.Errorf("output lists a task beyond the upcoming window:\n%s", out)
	}
	if strings.Contains(out, "Nada pendiente") {
		t.Errorf("non-empty brief says nothing is due:\n%s", out)
	}
}

func TestPlainTextFormatterEmpty(t *testing.T) {
	brief := &Brief{
		OwnerID: 3,
		Period:  BriefPeriod{Start: *at(20, 0), End: *at(21, 0)},
		Upcoming: []TaskSummary{
			{ID: 9, Title: "visita obra", Date: at(22, 12)},
		},
		Metrics: BriefMetrics{OpenCount: 1},
	}

	out, err := NewPlainTextFormatter(time.UTC).Format(brief)
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	for _, want := range []string{
		"☀️ Buenos días - martes 20/10/2026\n",
		"Tienes 1 tarea abierta, 0 urgentes.\n",
		"Nada pendiente para hoy",
		"visita obra",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	for _, absent := range []string{"Atrasadas", "Hoy (", "Sin fecha"} {
		if strings.Contains(out, absent) {
			t.Errorf("output should not contain %q:\n%s", absent, out)
		}
	}
}

func TestPlainTextFormatterNil(t *testing.T) {
	if _, err := NewPlainTextFormatter(time.UTC).Format(nil); err == nil {
		t.Error("Format(nil) should fail")
	}
}

func TestPlural(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{0, "urgentes"},
		{1, "urgente"},
		{2, "urgentes"},
	}
	for _, tt := range tests {
		if got := plural(tt.n, "urgente", "urgentes"); got != tt.want {
			t.Errorf("plural(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}
