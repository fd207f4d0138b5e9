package notify

import (
	"fmt"
	"sort"
	"strings"

	"notewatch/internal/content"
	"notewatch/pkg/tgui"
)

const itemBodyPreviewRunes = 160

// FormatBatch renders one Telegram HTML message per category. Categories are
// emitted in enum order so messages arrive in a stable sequence; items keep
// their newest-first order.
func FormatBatch(batch content.Batch) []string {
	cats := make([]content.Category, 0, len(batch))
	for cat := range batch {
		cats = append(cats, cat)
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })

	msgs := make([]string, 0, len(cats))
	for _, cat := range cats {
		items := batch[cat]
		var b strings.Builder
		fmt.Fprintf(&b, "%s — %d new\n", tgui.B(categoryTitle(cat)), len(items))
		for _, it := range items {
			line := fmt.Sprintf("\n%s %s", tgui.Code(fmt.Sprintf("#%d", it.ID)), tgui.B(it.Title))
			if it.Author != "" {
				line += " " + tgui.I("by "+it.Author).String()
			}
			if body := strings.TrimSpace(it.Body); body != "" {
				line += "\n" + tgui.Esc(tgui.TruncRunes(body, itemBodyPreviewRunes)).String()
			}
			if b.Len()+len(line) > tgui.MaxMessageLen {
				b.WriteString("\n…")
				break
			}
			b.WriteString(line)
		}
		msgs = append(msgs, b.String())
	}
	return msgs
}

func categoryTitle(cat content.Category) string {
	switch cat {
	case content.CategoryNotice:
		return "Notices"
	case content.CategoryReport:
		return "Reports"
	case content.CategoryAlbum:
		return "Albums"
	case content.CategoryMenu:
		return "Menu"
	case content.CategorySchedule:
		return "Schedule"
	default:
		name := cat.String()
		if name == "" {
			return name
		}
		return strings.ToUpper(name[:1]) + name[1:]
	}
}
