package progress

import (
	"fmt"
	"strconv"
)

// Describe renders an event as the short status line chat front ends show.
func Describe(evt Event) string {
	chapter := strconv.FormatFloat(evt.ChapterNumber, 'f', -1, 64)
	switch evt.Kind {
	case KindJobStarted:
		return "📦 Criando ZIP..."
	case KindChapterStarted:
		return fmt.Sprintf("📦 Processando Cap %s (%d/%d)", chapter, evt.ChapterIndex, evt.TotalChapters)
	case KindPageFetched, KindPageFailed:
		return fmt.Sprintf("📦 Cap %s: página %d/%d", chapter, evt.PageIndex, evt.TotalPages)
	case KindChapterDone:
		return fmt.Sprintf("📦 Cap %s concluído (%d/%d)", chapter, evt.ChapterIndex, evt.TotalChapters)
	case KindChapterEmpty:
		return fmt.Sprintf("⚠️ Cap %s sem páginas, pulando", chapter)
	case KindArchiveReady:
		return "⬆️ Enviando..."
	case KindCompleted:
		return "✅ Enviado com sucesso!"
	case KindCanceled:
		return "❌ Cancelado."
	case KindFailed:
		return "❌ Falha: " + evt.Reason
	default:
		return string(evt.Kind)
	}
}
