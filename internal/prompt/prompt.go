package prompt

import (
	"fmt"
	"slices"
	"strings"

	"InterviewPrep/internal/content"
)

// CompletionMarker is the literal the interviewer emits once every question has been covered
const CompletionMarker = "INTERVIEW_COMPLETE"

// Interview types
const (
	TypePython       = "python"
	TypeSystemDesign = "system_design"
	TypeGenAI        = "genai"
	TypeMLDL         = "ml_dl"
	TypeMixed        = "mixed"
)

// Types lists the supported interview types
func Types() []string {
	return []string{TypePython, TypeSystemDesign, TypeGenAI, TypeMLDL, TypeMixed}
}

// ValidType reports whether t is a supported interview type
func ValidType(t string) bool {
	return slices.Contains(Types(), t)
}

// Difficulties lists the supported difficulty levels
func Difficulties() []string {
	return []string{"easy", "medium", "hard"}
}

// ValidDifficulty reports whether d is a supported difficulty level
func ValidDifficulty(d string) bool {
	return slices.Contains(Difficulties(), d)
}

// Source supplies topic excerpts by section key
type Source interface {
	Items(section string) []content.Item
}

const rulesTemplate = `You are a senior technical interviewer at a top-tier tech company (FAANG level).
You are conducting a %[1]s-level mock interview for a Senior Python GenAI Engineer position.
You will ask %[2]d questions total, one at a time.

Interview rules:
1. Ask ONE question at a time and wait for the candidate's response.
2. After each answer, briefly evaluate it (strengths, gaps), then ask a follow-up or the next question.
3. Start with a brief introduction and your first question.
4. Probe deeper when answers are surface-level by asking "why?", "how would you handle X?", "what are the tradeoffs?"
5. Be encouraging but honest. Point out gaps when you see them.
6. Keep track of the question number (e.g., "Question 2 of %[2]d").
7. When all questions are done, say "%[3]s" and provide nothing else.
`

// excerpt describes one block of reference material
type excerpt struct {
	types   []string
	section string
	heading string
	limit   int // 0 means every item
	format  func(content.Item) string
}

func titleOnly(it content.Item) string { return "- " + it.Title }

var excerpts = []excerpt{
	{[]string{TypePython, TypeMixed}, content.SectionPythonCompetencies, "Python topics to draw from:", 10, titleOnly},
	{[]string{TypeSystemDesign, TypeMixed}, content.SectionHLDScenarios, "System Design scenarios:", 5, titleOnly},
	{[]string{TypeSystemDesign, TypeMixed}, content.SectionDSADesignMapping, "DSA → Design mappings:", 10,
		func(it content.Item) string { return "- " + it.Title + " → " + it.Detail }},
	{[]string{TypeGenAI, TypeMixed}, content.SectionModernLLMEngineering, "GenAI/LLM topics:", 10, titleOnly},
	{[]string{TypeGenAI, TypeMixed}, content.SectionKey2026Topics, "Key 2026 topics:", 0,
		func(it content.Item) string { return "- " + it.Title + ": " + it.Detail }},
	{[]string{TypeMLDL, TypeMixed}, content.SectionResumeScreening, "ML/DL questions:", 10, titleOnly},
	{[]string{TypeMLDL, TypeMixed}, content.SectionGeneralTopics, "General topic questions:", 10, titleOnly},
}

// Build assembles the interviewer system prompt. It is deterministic for identical inputs
// and only reads from src.
func Build(src Source, interviewType, difficulty string, numQuestions int) string {
	var b strings.Builder
	fmt.Fprintf(&b, rulesTemplate, difficulty, numQuestions, CompletionMarker)

	var parts []string
	for _, ex := range excerpts {
		if !slices.Contains(ex.types, interviewType) {
			continue
		}
		items := src.Items(ex.section)
		if len(items) == 0 {
			continue
		}
		if ex.limit > 0 && len(items) > ex.limit {
			items = items[:ex.limit]
		}

		lines := make([]string, 0, len(items))
		for _, it := range items {
			lines = append(lines, ex.format(it))
		}
		parts = append(parts, ex.heading+"\n"+strings.Join(lines, "\n"))
	}

	if len(parts) > 0 {
		b.WriteString("\n\nReference material for your questions:\n")
		b.WriteString(strings.Join(parts, "\n\n"))
	}
	return b.String()
}
