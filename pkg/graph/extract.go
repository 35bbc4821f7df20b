package graph

import (
	"strings"

	"github.com/oceanbase/recall-go/pkg/model"
	"github.com/oceanbase/recall-go/pkg/text"
)

// RelationCoOccurs links entities mentioned in the same memory item.
const RelationCoOccurs = "co_occurs_with"

// DefaultMaxEntities bounds the entities taken from one item.
const DefaultMaxEntities = 6

// Entities returns the candidate entity labels of s in order of appearance:
// quoted phrases, then capitalized runs, then (when fewer than two were
// found) salient terms of four or more letters. Labels are unique ignoring case.
func Entities(s string, max int) []string {
	if max <= 0 {
		max = DefaultMaxEntities
	}

	seen := make(map[string]struct{})
	var out []string
	add := func(label string) {
		key := labelKey(label)
		if key == "" || len(out) >= max {
			return
		}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, strings.TrimSpace(label))
	}

	for _, p := range text.QuotedPhrases(s) {
		add(p)
	}
	for _, r := range text.CapitalizedRuns(s) {
		add(r)
	}
	if len(out) < 2 {
		for _, t := range text.Terms(s) {
			if len(t) >= 4 {
				add(t)
			}
		}
	}
	return out
}

// ExtractEntities turns the entities of item into graph actions: one AddNode
// per entity and a co-occurrence edge between every pair, in order of
// appearance. Items with fewer than one entity produce no actions.
func ExtractEntities(item *model.MemoryItem, max int) []Action {
	labels := Entities(item.Content, max)
	if len(labels) == 0 {
		return nil
	}

	actions := make([]Action, 0, len(labels)+len(labels)*(len(labels)-1)/2)
	for _, label := range labels {
		actions = append(actions, AddNode(model.GraphNode{
			Label:      label,
			Type:       "entity",
			Importance: item.Importance,
			MemoryIDs:  []string{item.ID},
		}))
	}
	for i := 0; i < len(labels); i++ {
		for j := i + 1; j < len(labels); j++ {
			actions = append(actions, AddEdgeByLabel(labels[i], RelationCoOccurs, labels[j]))
		}
	}
	return actions
}
