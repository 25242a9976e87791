package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmm-1987/agente/internal/store"
	"github.com/jmm-1987/agente/internal/textnorm"
	"github.com/jmm-1987/agente/internal/transcription"
	"github.com/jmm-1987/agente/internal/workerpool"
)

var (
	// ErrUserInput is a reply the machine could not interpret. The user is
	// asked again.
	ErrUserInput = errors.New("unrecognized user input")

	// ErrStaleAction is a button pressed for a conversation that is over.
	ErrStaleAction = errors.New("action no longer valid")
)

// Menu buttons the transport keeps visible under the input box.
const (
	ButtonPending = "📋 Mostrar tareas pendientes"
	ButtonClose   = "✅ Cerrar tareas"
	ButtonAmplify = "📝 Ampliar tareas"
)

// MenuButtons lists the persistent menu in display order.
var MenuButtons = []string{ButtonPending, ButtonClose, ButtonAmplify}

const helpText = "👋 ¡Hola! Soy tu bot de agenda.\n\n" +
	"📝 Cómo usarme:\n" +
	"• Envía un mensaje de voz o texto para crear tareas\n" +
	"• Ejemplos:\n" +
	"  - 'Crear tarea llamar al cliente Alditraex mañana'\n" +
	"  - 'Listar tareas pendientes'\n" +
	"  - 'Da por hecha la tarea del cliente Alditraex'\n" +
	"  - 'Reprograma la tarea revisar caldera al lunes a las 10'\n\n" +
	"📷 Envía una foto para adjuntarla a una tarea abierta.\n" +
	"💬 Escribe 'cancelar' para abandonar una operación."

const (
	msgCategoryPrompt  = "📂 ¿A qué categoría pertenece esta tarea?"
	msgCategoryUnknown = "❓ No entendí la categoría. Por favor, selecciona una de las opciones disponibles."
	msgCancelled       = "❌ Operación cancelada."
	msgTaskNotFound    = "❌ Tarea no encontrada."
	msgNoOpenTasks     = "✅ No tienes tareas pendientes."
	msgNothingToClose  = "📋 No tienes tareas pendientes para cerrar."
	msgVoiceTimeout    = "❌ El procesamiento del audio tardó demasiado tiempo. Por favor, intenta con un audio más corto."
	msgVoiceFirstLoad  = "🎤 Procesando audio...\n⏳ Primera vez: cargando modelo (puede tardar 2-3 minutos). Las siguientes veces serán más rápidas."
	msgVoiceProcessing = "🎤 Procesando audio..."
)

// userMessage turns err into a short Spanish message. Details stay in the
// logs.
func userMessage(err error) string {
	var terr *transcription.Error
	if errors.As(err, &terr) {
		switch terr.Kind {
		case transcription.KindDurationExceeded:
			return "❌ Audio demasiado largo. Envía un audio más corto."
		case transcription.KindUnsupportedFormat:
			return "❌ Formato de audio no soportado."
		case transcription.KindTranscodeFailure:
			return "❌ No se pudo convertir el audio. Comprueba que ffmpeg está instalado."
		case transcription.KindModelUnavailable:
			return "❌ El motor de transcripción no está disponible. Ejecuta 'agente doctor' en el servidor."
		case transcription.KindEmptyTranscript:
			return "❌ No se detectó voz en el audio. Habla más cerca del micrófono e inténtalo de nuevo."
		case transcription.KindFetchFailure:
			return "❌ No se pudo descargar el archivo. Inténtalo de nuevo."
		}
	}

	switch {
	case errors.Is(err, workerpool.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return msgVoiceTimeout
	case errors.Is(err, workerpool.ErrClosed):
		return "❌ El servicio se está reiniciando. Inténtalo en un momento."
	case errors.Is(err, store.ErrStoreBusy):
		return "⏳ La base de datos está ocupada. Inténtalo de nuevo en unos segundos."
	case errors.Is(err, store.ErrNotFound):
		return msgTaskNotFound
	case errors.Is(err, store.ErrInvalidTransition):
		return "ℹ️ La tarea ya no está abierta."
	case errors.Is(err, store.ErrDuplicateClient):
		return "❌ Ese cliente ya existe."
	case errors.Is(err, store.ErrInvalidValue):
		return "❌ Datos no válidos para la tarea."
	case errors.Is(err, ErrStaleAction):
		return "❌ Esta opción ya no es válida. Vuelve a empezar."
	case errors.Is(err, ErrUserInput):
		return "❓ No entendí la respuesta. Usa los botones o inténtalo de nuevo."
	}
	return "❌ Ha ocurrido un error. Inténtalo de nuevo."
}

func priorityEmoji(p store.Priority) string {
	if p == store.PriorityUrgent {
		return "🔴"
	}
	return "🟡"
}

// shortTitle cuts a title for a button label.
func shortTitle(title string, n int) string {
	if len([]rune(title)) <= n {
		return title
	}
	return textnorm.Truncate(title, n) + "..."
}

func formatDate(t *time.Time, loc *time.Location, withClock bool) string {
	if t == nil {
		return ""
	}
	if withClock {
		return t.In(loc).Format("02/01/2006 15:04")
	}
	return t.In(loc).Format("02/01/2006")
}

// taskLine renders one row of a task listing.
func taskLine(i int, t *store.Task, client string, loc *time.Location) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d. %s %s", i, priorityEmoji(t.Priority), t.Title)
	if t.TaskDate != nil {
		sb.WriteString(" - 📅 " + formatDate(t.TaskDate, loc, false))
	}
	if client != "" {
		sb.WriteString(" - 👤 " + client)
	}
	return sb.String()
}

// matchCategory finds the category named in a free-text reply. A word
// matches a category when it equals its name or display name, or is a
// prefix of either at least five letters long ("admin", "averia",
// "cliente").
func matchCategory(text string, cats []store.Category) (store.Category, bool) {
	for _, word := range strings.Fields(textnorm.Fold(text)) {
		word = strings.Trim(word, ".,;:!?¡¿\"'")
		if word == "" {
			continue
		}
		for _, c := range cats {
			for _, key := range []string{textnorm.Fold(c.Name), textnorm.Fold(c.DisplayName)} {
				if key == "" {
					continue
				}
				if word == key || (len(word) >= 5 && strings.HasPrefix(key, word)) {
					return c, true
				}
			}
		}
	}
	return store.Category{}, false
}
