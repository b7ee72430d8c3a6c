package services

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/yungbote/storychain-backend/internal/types"
)

// BuildFusionPrompt composes the generation prompt from the mission's own
// prompt plus aggregate entry attributes. Deterministic for a given entry
// set so a re-lock after a failed job submits the same request.
func BuildFusionPrompt(mission *types.Mission, entries []*types.Entry) string {
	parts := []string{strings.TrimSpace(mission.Prompt)}

	tags := topTags(entries, 5)
	if len(tags) > 0 {
		parts = append(parts, "Scenes feature "+strings.Join(tags, ", ")+".")
	}
	palette := aggregatePalette(entries, 4)
	if len(palette) > 0 {
		parts = append(parts, "Color palette: "+strings.Join(palette, ", ")+".")
	}
	return strings.Join(parts, " ")
}

// topTags returns the most frequent analysis tags across entries,
// ties broken alphabetically for determinism.
func topTags(entries []*types.Entry, limit int) []string {
	counts := map[string]int{}
	for _, e := range entries {
		for _, tag := range decodeStrings(e.Tags) {
			counts[tag]++
		}
	}
	tags := make([]string, 0, len(counts))
	for t := range counts {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool {
		if counts[tags[i]] != counts[tags[j]] {
			return counts[tags[i]] > counts[tags[j]]
		}
		return tags[i] < tags[j]
	})
	if len(tags) > limit {
		tags = tags[:limit]
	}
	return tags
}

func aggregatePalette(entries []*types.Entry, limit int) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, e := range entries {
		for _, hex := range decodeStrings(e.Palette) {
			if _, ok := seen[hex]; ok {
				continue
			}
			seen[hex] = struct{}{}
			out = append(out, hex)
			if len(out) >= limit {
				return out
			}
		}
	}
	return out
}

func decodeStrings(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
