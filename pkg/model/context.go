package model

// ContextEntry is one selected item in a working context.
type ContextEntry struct {
	Item       *MemoryItem `json:"item"`
	Tokens     int         `json:"tokens"`
	Relevance  float64     `json:"relevance"`
	Importance float64     `json:"importance"`
	IBScore    float64     `json:"ib_score"`
}

// WorkingContext is the token-budgeted set of items handed to the caller.
// It is built per query and never persisted.
type WorkingContext struct {
	Entries    []ContextEntry `json:"entries"`
	TokensUsed int            `json:"tokens_used"`
	Budget     int            `json:"budget"`
}

// Items returns the selected items in selection order.
func (w *WorkingContext) Items() []*MemoryItem {
	out := make([]*MemoryItem, 0, len(w.Entries))
	for _, e := range w.Entries {
		out = append(out, e.Item)
	}
	return out
}

// Empty reports whether no item was selected.
func (w *WorkingContext) Empty() bool {
	return len(w.Entries) == 0
}
