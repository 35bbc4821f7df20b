package assembler

import (
	"fmt"
	"strings"

	"github.com/oceanbase/recall-go/pkg/model"
)

// Render formats the context as a prompt block, one memory per entry in
// selection order. An empty context renders as "".
func Render(wc *model.WorkingContext) string {
	if wc == nil || wc.Empty() {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Relevant Memories\n")
	for _, e := range wc.Entries {
		fmt.Fprintf(&b, "- [%s/%s] %s", e.Item.Layer, e.Item.Kind, strings.TrimSpace(e.Item.Content))
		if len(e.Item.Tags) > 0 {
			fmt.Fprintf(&b, " (tags: %s)", strings.Join(e.Item.Tags, ", "))
		}
		fmt.Fprintf(&b, " importance=%.2f\n", e.Importance)
	}
	return b.String()
}
