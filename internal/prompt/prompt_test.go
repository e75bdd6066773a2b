package prompt

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"InterviewPrep/internal/content"
)

type fakeSource struct {
	items map[string][]content.Item
	reads int
}

func (f *fakeSource) Items(section string) []content.Item {
	f.reads++
	return f.items[section]
}

func makeItems(section string, n int) []content.Item {
	items := make([]content.Item, n)
	for i := range items {
		items[i] = content.Item{
			ID:      fmt.Sprintf("%s:%d", section, i),
			Section: section,
			Title:   fmt.Sprintf("%s-title-%d", section, i),
			Detail:  fmt.Sprintf("%s-detail-%d", section, i),
		}
	}
	return items
}

func newFakeSource() *fakeSource {
	return &fakeSource{items: map[string][]content.Item{
		content.SectionPythonCompetencies:   makeItems(content.SectionPythonCompetencies, 15),
		content.SectionHLDScenarios:         makeItems(content.SectionHLDScenarios, 8),
		content.SectionDSADesignMapping:     makeItems(content.SectionDSADesignMapping, 12),
		content.SectionModernLLMEngineering: makeItems(content.SectionModernLLMEngineering, 11),
		content.SectionKey2026Topics:        makeItems(content.SectionKey2026Topics, 13),
		content.SectionResumeScreening:      makeItems(content.SectionResumeScreening, 20),
		content.SectionGeneralTopics:        makeItems(content.SectionGeneralTopics, 3),
	}}
}

func TestBuild_Rules(t *testing.T) {
	p := Build(newFakeSource(), TypePython, "hard", 4)

	assert.True(t, strings.HasPrefix(p, "You are a senior technical interviewer"))
	assert.Contains(t, p, "conducting a hard-level mock interview")
	assert.Contains(t, p, "You will ask 4 questions total, one at a time.")
	assert.Contains(t, p, `"Question 2 of 4"`)
	assert.Contains(t, p, `say "INTERVIEW_COMPLETE" and provide nothing else`)
}

func TestBuild_PythonPrefix(t *testing.T) {
	p := Build(newFakeSource(), TypePython, "medium", 5)

	assert.Contains(t, p, "Reference material for your questions:\nPython topics to draw from:\n- python_competencies-title-0")
	assert.Contains(t, p, "- python_competencies-title-9")
	assert.NotContains(t, p, "python_competencies-title-10")
	assert.NotContains(t, p, "System Design scenarios:")
}

func TestBuild_SystemDesign(t *testing.T) {
	p := Build(newFakeSource(), TypeSystemDesign, "medium", 5)

	assert.Contains(t, p, "- hld_scenarios-title-4")
	assert.NotContains(t, p, "hld_scenarios-title-5")
	assert.Contains(t, p, "- dsa_design_mapping-title-0 → dsa_design_mapping-detail-0")
	assert.NotContains(t, p, "dsa_design_mapping-title-10")
}

func TestBuild_GenAIKeyTopicsUnbounded(t *testing.T) {
	p := Build(newFakeSource(), TypeGenAI, "medium", 5)

	assert.Contains(t, p, "GenAI/LLM topics:")
	assert.NotContains(t, p, "modern_llm_engineering-title-10")
	assert.Contains(t, p, "- key_2026_topics-title-12: key_2026_topics-detail-12")
}

func TestBuild_MixedIncludesEverySection(t *testing.T) {
	p := Build(newFakeSource(), TypeMixed, "easy", 10)

	for _, heading := range []string{
		"Python topics to draw from:",
		"System Design scenarios:",
		"DSA → Design mappings:",
		"GenAI/LLM topics:",
		"Key 2026 topics:",
		"ML/DL questions:",
		"General topic questions:",
	} {
		assert.Contains(t, p, heading)
	}
	assert.Less(t, strings.Index(p, "Python topics"), strings.Index(p, "General topic questions"))
}

func TestBuild_NoContent(t *testing.T) {
	p := Build(content.Empty(), TypeMixed, "medium", 5)
	assert.NotContains(t, p, "Reference material")
	assert.True(t, strings.HasSuffix(p, "provide nothing else.\n"))
}

func TestBuild_Deterministic(t *testing.T) {
	src := newFakeSource()
	first := Build(src, TypeMLDL, "medium", 5)
	second := Build(src, TypeMLDL, "medium", 5)
	assert.Equal(t, first, second)
	assert.Len(t, src.items[content.SectionResumeScreening], 20)
}

func TestValidators(t *testing.T) {
	assert.True(t, ValidType("system_design"))
	assert.False(t, ValidType("frontend"))
	assert.True(t, ValidDifficulty("hard"))
	assert.False(t, ValidDifficulty("extreme"))
}
