package services

import (
	"encoding/json"
	"testing"

	"gorm.io/datatypes"

	"github.com/yungbote/storychain-backend/internal/types"
)

func entryWith(tags []string, palette []string) *types.Entry {
	e := &types.Entry{}
	if tags != nil {
		raw, _ := json.Marshal(tags)
		e.Tags = datatypes.JSON(raw)
	}
	if palette != nil {
		raw, _ := json.Marshal(palette)
		e.Palette = datatypes.JSON(raw)
	}
	return e
}

func TestBuildFusionPromptIsDeterministic(t *testing.T) {
	mission := &types.Mission{Prompt: "Golden hour around the block."}
	entries := []*types.Entry{
		entryWith([]string{"sunset", "dog", "street"}, []string{"#ff8800", "#3366aa"}),
		entryWith([]string{"sunset", "coffee"}, []string{"#3366aa", "#ffffff"}),
	}

	first := BuildFusionPrompt(mission, entries)
	second := BuildFusionPrompt(mission, entries)
	if first != second {
		t.Fatalf("prompt not deterministic:\n%s\n%s", first, second)
	}
	want := "Golden hour around the block. Scenes feature sunset, coffee, dog, street. Color palette: #ff8800, #3366aa, #ffffff."
	if first != want {
		t.Fatalf("prompt: want=%q got=%q", want, first)
	}
}

func TestBuildFusionPromptWithoutAnalysis(t *testing.T) {
	mission := &types.Mission{Prompt: "Just the prompt."}
	entries := []*types.Entry{entryWith(nil, nil)}
	got := BuildFusionPrompt(mission, entries)
	if got != "Just the prompt." {
		t.Fatalf("prompt: want=%q got=%q", "Just the prompt.", got)
	}
}

func TestTopTagsFrequencyThenAlphabetical(t *testing.T) {
	entries := []*types.Entry{
		entryWith([]string{"b", "a", "c"}, nil),
		entryWith([]string{"b", "a"}, nil),
		entryWith([]string{"b"}, nil),
	}
	got := topTags(entries, 2)
	if len(got) != 2 || got[0] != "b" || got[1] != "a" {
		t.Fatalf("topTags: want=[b a] got=%v", got)
	}
}
