package content

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Section keys read by the prompt builder and exposed by the API
const (
	SectionResearchPapers       = "research_papers"
	SectionModernLLMEngineering = "modern_llm_engineering"
	SectionKey2026Topics        = "key_2026_topics"
	SectionDSADesignMapping     = "dsa_design_mapping"
	SectionHLDScenarios         = "hld_scenarios"
	SectionHardDSAFollowUps     = "hard_dsa_followups"
	SectionResumeScreening      = "resume_screening"
	SectionGeneralTopics        = "general_topics"
	SectionPythonCompetencies   = "python_competencies"
)

// Item is one indexed piece of study content
type Item struct {
	ID       string `json:"item_id"`
	Section  string `json:"section"`
	Title    string `json:"title"`
	Subtitle string `json:"subtitle,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// Section summarizes one indexed section
type Section struct {
	Key         string `json:"section_key"`
	Title       string `json:"title"`
	Description string `json:"description"`
	ItemCount   int    `json:"item_count"`
}

// Store holds the indexed content file. It is safe for concurrent use and can be reloaded.
type Store struct {
	path   string
	logger *slog.Logger

	mu       sync.RWMutex
	sections []Section
	items    map[string][]Item
}

// Load reads and indexes the content file at path
func Load(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{path: path, logger: logger}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Empty returns a store with no content. Prompts built from it carry only the fixed rules.
func Empty() *Store {
	return &Store{logger: slog.Default(), items: map[string][]Item{}}
}

// Reload re-reads the content file. On failure the previous index is kept.
func (s *Store) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read content file: %w", err)
	}

	sections, items, err := index(data)
	if err != nil {
		return fmt.Errorf("failed to index content file: %w", err)
	}

	s.mu.Lock()
	s.sections = sections
	s.items = items
	s.mu.Unlock()

	s.logger.Info("content loaded", "path", s.path, "sections", len(sections))
	return nil
}

// Items returns the ordered items of a section. Unknown sections yield nil.
func (s *Store) Items(section string) []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := s.items[section]
	if len(items) == 0 {
		return nil
	}
	out := make([]Item, len(items))
	copy(out, items)
	return out
}

// Sections returns the section summaries in index order
func (s *Store) Sections() []Section {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Section, len(s.sections))
	copy(out, s.sections)
	return out
}

// Item looks up one item by its composite ID
func (s *Store) Item(id string) (Item, bool) {
	section, _, ok := strings.Cut(id, ":")
	if !ok {
		return Item{}, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, it := range s.items[section] {
		if it.ID == id {
			return it, true
		}
	}
	return Item{}, false
}

// Search returns up to limit items whose title, subtitle or detail contain query, ignoring case.
// Results follow index order. A limit of zero or less means no limit.
func (s *Store) Search(query string, limit int) []Item {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Item
	for _, sec := range s.sections {
		for _, it := range s.items[sec.Key] {
			if !matches(it, q) {
				continue
			}
			out = append(out, it)
			if limit > 0 && len(out) == limit {
				return out
			}
		}
	}
	return out
}

func matches(it Item, q string) bool {
	return strings.Contains(strings.ToLower(it.Title), q) ||
		strings.Contains(strings.ToLower(it.Subtitle), q) ||
		strings.Contains(strings.ToLower(it.Detail), q)
}

// Stats totals the index
type Stats struct {
	TotalSections int       `json:"total_sections"`
	TotalItems    int       `json:"total_items"`
	Sections      []Section `json:"sections"`
}

// Stats reports section and item counts
func (s *Store) Stats() Stats {
	sections := s.Sections()
	st := Stats{TotalSections: len(sections), Sections: sections}
	for _, sec := range sections {
		st.TotalItems += sec.ItemCount
	}
	return st
}

// rawContent mirrors the parts of the content file that get indexed
type rawContent struct {
	ResearchPapers []struct {
		ID        any    `json:"id"`
		Title     string `json:"title"`
		Topic     string `json:"topic"`
		Relevance string `json:"relevance"`
	} `json:"research_papers_must_read"`

	CoreConcepts struct {
		ModernLLMEngineering []json.RawMessage `json:"modern_llm_engineering"`
		Key2026Topics        []struct {
			Concept string `json:"concept"`
			Detail  string `json:"detail"`
		} `json:"key_2026_topics"`
	} `json:"core_concepts"`

	SystemDesignMastery struct {
		DSAToDesignMapping []struct {
			ID           any    `json:"id"`
			DSAProblem   string `json:"dsa_problem"`
			SystemDesign string `json:"system_design"`
		} `json:"dsa_to_design_mapping"`
		HighLevelDesignScenarios []struct {
			Scenario string   `json:"scenario"`
			Probes   []string `json:"probes"`
		} `json:"high_level_design_scenarios"`
		HardDSAFollowUps []struct {
			Problem  string `json:"problem"`
			FollowUp string `json:"follow_up"`
		} `json:"hard_dsa_follow_ups"`
	} `json:"system_design_mastery"`

	InterviewVivaQuestions struct {
		ResumeScreeningMLQuiz json.RawMessage `json:"resume_screening_ml_quiz"`
		GeneralTopicQuestions json.RawMessage `json:"general_topic_questions"`
	} `json:"interview_viva_questions"`

	PythonSeniorCompetencies json.RawMessage `json:"python_senior_competencies"`
}

type indexer struct {
	sections []Section
	items    map[string][]Item
}

func (ix *indexer) section(key, title, description string, items []Item) {
	ix.sections = append(ix.sections, Section{Key: key, Title: title, Description: description, ItemCount: len(items)})
	ix.items[key] = items
}

func index(data []byte) ([]Section, map[string][]Item, error) {
	var raw rawContent
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, err
	}

	ix := &indexer{items: make(map[string][]Item)}

	var items []Item
	for _, p := range raw.ResearchPapers {
		items = append(items, Item{
			ID:      fmt.Sprintf("%s:%v", SectionResearchPapers, p.ID),
			Section: SectionResearchPapers, Title: p.Title, Subtitle: p.Topic, Detail: p.Relevance,
		})
	}
	ix.section(SectionResearchPapers, "Research Papers", "Must-read foundational AI/ML papers", items)

	items = nil
	for i, c := range raw.CoreConcepts.ModernLLMEngineering {
		items = append(items, Item{
			ID:      fmt.Sprintf("%s:%d", SectionModernLLMEngineering, i),
			Section: SectionModernLLMEngineering, Title: titleOf(c, "topic"),
		})
	}
	ix.section(SectionModernLLMEngineering, "Modern LLM Engineering", "Core concepts for LLM engineering", items)

	items = nil
	for i, t := range raw.CoreConcepts.Key2026Topics {
		items = append(items, Item{
			ID:      fmt.Sprintf("%s:%d", SectionKey2026Topics, i),
			Section: SectionKey2026Topics, Title: t.Concept, Detail: t.Detail,
		})
	}
	ix.section(SectionKey2026Topics, "Key 2026 Topics", "Critical concepts for 2026 interviews", items)

	items = nil
	for _, m := range raw.SystemDesignMastery.DSAToDesignMapping {
		items = append(items, Item{
			ID:      fmt.Sprintf("%s:%v", SectionDSADesignMapping, m.ID),
			Section: SectionDSADesignMapping, Title: m.DSAProblem, Detail: m.SystemDesign,
		})
	}
	ix.section(SectionDSADesignMapping, "DSA → System Design", "DSA problems mapped to real system design patterns", items)

	items = nil
	for i, sc := range raw.SystemDesignMastery.HighLevelDesignScenarios {
		items = append(items, Item{
			ID:      fmt.Sprintf("%s:%d", SectionHLDScenarios, i),
			Section: SectionHLDScenarios, Title: sc.Scenario, Detail: strings.Join(sc.Probes, ", "),
		})
	}
	ix.section(SectionHLDScenarios, "HLD Scenarios", "High-level design interview scenarios with probes", items)

	items = nil
	for i, f := range raw.SystemDesignMastery.HardDSAFollowUps {
		items = append(items, Item{
			ID:      fmt.Sprintf("%s:%d", SectionHardDSAFollowUps, i),
			Section: SectionHardDSAFollowUps, Title: f.Problem, Detail: f.FollowUp,
		})
	}
	ix.section(SectionHardDSAFollowUps, "Hard DSA Follow-ups", "Advanced follow-up questions for DSA problems", items)

	grouped := []struct {
		key, title, description, titleKey string
		raw                               json.RawMessage
	}{
		{SectionResumeScreening, "Resume Screening Quiz", "ML quiz questions from resume screening rounds", "question",
			raw.InterviewVivaQuestions.ResumeScreeningMLQuiz},
		{SectionGeneralTopics, "General Topic Questions", "Interview questions across all major topics", "question",
			raw.InterviewVivaQuestions.GeneralTopicQuestions},
		{SectionPythonCompetencies, "Python Senior Competencies", "Skills expected from a Senior Python engineer", "topic",
			raw.PythonSeniorCompetencies},
	}
	for _, g := range grouped {
		groups, err := orderedGroups(g.raw)
		if err != nil {
			return nil, nil, fmt.Errorf("section %s: %w", g.key, err)
		}
		items = nil
		for _, grp := range groups {
			for i, entry := range grp.entries {
				items = append(items, Item{
					ID:       fmt.Sprintf("%s:%s:%d", g.key, grp.key, i),
					Section:  g.key,
					Title:    titleOf(entry, g.titleKey),
					Subtitle: humanize(grp.key),
				})
			}
		}
		ix.section(g.key, g.title, g.description, items)
	}

	return ix.sections, ix.items, nil
}

type group struct {
	key     string
	entries []json.RawMessage
}

// orderedGroups decodes an object of arrays keeping the key order of the file
func orderedGroups(raw json.RawMessage) ([]group, error) {
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected object, got %v", tok)
	}

	var groups []group
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := keyTok.(string)

		var entries []json.RawMessage
		if err := dec.Decode(&entries); err != nil {
			return nil, fmt.Errorf("group %s: %w", key, err)
		}
		groups = append(groups, group{key: key, entries: entries})
	}
	return groups, nil
}

// titleOf reads an entry that is either a plain string or an object carrying the title under key
func titleOf(raw json.RawMessage, key string) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err == nil {
		if v, ok := obj[key].(string); ok {
			return v
		}
	}
	return strings.TrimSpace(string(raw))
}

var titleCaser = cases.Title(language.English)

// humanize turns a snake_case key into a title, e.g. classical_ml -> Classical Ml
func humanize(key string) string {
	return titleCaser.String(strings.ReplaceAll(key, "_", " "))
}
