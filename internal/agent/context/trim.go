package context

import (
	"github.com/wayfarer-ai/wayfarer/internal/longterm"
	"github.com/wayfarer-ai/wayfarer/pkg/models"
)

// DefaultKeepLastTurns is the number of most-recent turns TrimToArchive
// always keeps active, matching the recall tool's "recent context stays
// local" assumption.
const DefaultKeepLastTurns = 8

// ArchiveAppender is the subset of *longterm.Archive that TrimToArchive
// needs, so callers can pass a fake in tests without touching disk.
type ArchiveAppender interface {
	AppendAll(recs []longterm.Record) error
}

// TrimToArchive enforces the long-term-context trim policy: the system
// prompt and the first user message are always kept, the last
// keepLastTurns turns are always kept, and anything older is archived (not
// discarded) in oldest-first, message-pair order so conversational
// alternation survives the cut. A pair is a run of messages ending in an
// assistant message (that assistant reply plus the user message and any
// tool calls/results that led to it), so a trimmed turn never leaves a
// dangling tool result or an assistant reply without its prompt.
//
// keepLastTurns <= 0 falls back to DefaultKeepLastTurns. Trimming only
// runs once the conversation's estimated size exceeds charBudget;
// otherwise messages is returned unchanged.
func TrimToArchive(messages []*models.Message, archive ArchiveAppender, charBudget, keepLastTurns int) ([]*models.Message, error) {
	if len(messages) == 0 || charBudget <= 0 {
		return messages, nil
	}
	if keepLastTurns <= 0 {
		keepLastTurns = DefaultKeepLastTurns
	}
	remaining := estimateContextChars(messages)
	if remaining <= charBudget {
		return messages, nil
	}

	headEnd := protectedHeadEnd(messages)
	tailStart := recentTurnsStart(messages, keepLastTurns)
	if headEnd >= tailStart {
		return messages, nil
	}

	groups := turnGroups(messages[headEnd:tailStart], headEnd)

	archived := make([]bool, len(messages))
	var toArchive []*models.Message
	for _, g := range groups {
		if remaining <= charBudget {
			break
		}
		for _, idx := range g {
			toArchive = append(toArchive, messages[idx])
			archived[idx] = true
			remaining -= estimateMessageChars(messages[idx])
		}
	}
	if len(toArchive) == 0 {
		return messages, nil
	}

	if archive != nil {
		recs := make([]longterm.Record, 0, len(toArchive))
		for _, m := range toArchive {
			recs = append(recs, messageToRecord(m))
		}
		if err := archive.AppendAll(recs); err != nil {
			return nil, err
		}
	}

	kept := make([]*models.Message, 0, len(messages)-len(toArchive))
	for i, m := range messages {
		if !archived[i] {
			kept = append(kept, m)
		}
	}
	return kept, nil
}

// protectedHeadEnd returns the index one past the always-kept leading
// region: a leading system message (if present) and the first user
// message, whichever reaches further.
func protectedHeadEnd(messages []*models.Message) int {
	headEnd := 0
	if messages[0] != nil && messages[0].Role == models.RoleSystem {
		headEnd = 1
	}
	if idx := findFirstUserIndex(messages); idx >= 0 && idx+1 > headEnd {
		headEnd = idx + 1
	}
	return headEnd
}

// recentTurnsStart returns the index where the last keepLastTurns
// assistant turns begin; everything from that index onward is always kept.
func recentTurnsStart(messages []*models.Message, keepLastTurns int) int {
	remaining := keepLastTurns
	cutoff := len(messages)
	for i := len(messages) - 1; i >= 0 && remaining > 0; i-- {
		if messages[i] != nil && messages[i].Role == models.RoleAssistant {
			remaining--
			cutoff = i
		}
	}
	return cutoff
}

// turnGroups partitions messages[offset:offset+len(region)] into
// oldest-first groups of absolute indices, one group per run of messages up
// through (and including) an assistant message. A trailing run with no
// assistant message forms its own final group, so nothing is dropped.
func turnGroups(region []*models.Message, offset int) [][]int {
	var groups [][]int
	var current []int
	for i, m := range region {
		idx := offset + i
		current = append(current, idx)
		if m != nil && m.Role == models.RoleAssistant {
			groups = append(groups, current)
			current = nil
		}
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}

func messageToRecord(m *models.Message) longterm.Record {
	rec := longterm.Record{
		Role:      string(m.Role),
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
	if len(m.ToolCalls) > 0 {
		rec.ToolCallID = m.ToolCalls[0].ID
	} else if len(m.ToolResults) > 0 {
		rec.ToolCallID = m.ToolResults[0].ToolCallID
	}
	return rec
}
