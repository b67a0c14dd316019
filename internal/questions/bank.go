// Package questions routes topic intents from the conversational model to
// a curated question bank via keyword matching. Absence of data is always
// a normal outcome here, never an error: the model must be able to keep
// interviewing whatever comes back.
package questions

import (
	"fmt"
	"strings"
)

// maxQuestions bounds how many candidates a single retrieval returns.
const maxQuestions = 10

// KeywordTable maps a topic key to the keywords that select bank
// questions for it. The table is configuration data: callers may inject
// their own to tune matching accuracy without touching the algorithm.
type KeywordTable map[string][]string

// DefaultKeywordTable returns the curated topic→keyword mapping for
// U.S. student-visa interviews.
func DefaultKeywordTable() KeywordTable {
	return KeywordTable{
		"academic":    {"study", "university", "program", "degree", "major", "curriculum", "education", "school", "professor"},
		"financial":   {"sponsor", "fund", "tuition", "expense", "income", "bank", "money", "pay", "financial", "afford"},
		"ties":        {"return", "home country", "after graduation", "plans", "ties", "property", "family", "job", "career"},
		"immigration": {"visa", "refused", "denied", "overstay", "relatives", "green card", "petition", "immigration"},
		"english":     {"english", "toefl", "ielts", "language", "proficiency"},
		"documents":   {"i-20", "ds-160", "sevis", "documents", "paperwork", "gap", "inconsisten"},
		"work":        {"work", "opt", "cpt", "employment", "job", "intern", "h-1b"},
	}
}

// OutcomeKind distinguishes matched results from the documented sentinels.
type OutcomeKind string

const (
	OutcomeMatched OutcomeKind = "matched"
	OutcomeNoBank  OutcomeKind = "no_bank"
	OutcomeNoMatch OutcomeKind = "no_match"
)

// Outcome is the result of a question retrieval. Questions is populated
// only when Kind is OutcomeMatched.
type Outcome struct {
	Kind      OutcomeKind
	Topic     string
	Questions []string
}

// Message renders the outcome as tool-facing text.
func (o Outcome) Message() string {
	switch o.Kind {
	case OutcomeNoBank:
		return "No question bank available. Please ask questions based on the visa requirements."
	case OutcomeNoMatch:
		return fmt.Sprintf("No specific questions found for '%s'. Consider asking general questions about this area.", o.Topic)
	default:
		var sb strings.Builder
		fmt.Fprintf(&sb, "Relevant questions for %s:\n", o.Topic)
		for _, q := range o.Questions {
			fmt.Fprintf(&sb, "- %s\n", q)
		}
		sb.WriteString("\nSelect the most appropriate questions based on the conversation flow. You don't need to ask all of them.")
		return sb.String()
	}
}

// Bank retrieves questions from a fixed bank by topic.
type Bank struct {
	questions []string
	table     KeywordTable
}

// NewBank creates a Bank over the given questions. A nil table selects
// DefaultKeywordTable.
func NewBank(bank []string, table KeywordTable) *Bank {
	if table == nil {
		table = DefaultKeywordTable()
	}
	return &Bank{questions: bank, table: table}
}

// Retrieve returns up to maxQuestions bank questions matching the topic,
// in original bank order. Topic keys match by substring in either
// direction; an unrecognized topic falls back to matching against the
// raw topic string itself.
func (b *Bank) Retrieve(topic string) Outcome {
	if len(b.questions) == 0 {
		return Outcome{Kind: OutcomeNoBank, Topic: topic}
	}

	keywords := b.keywordsFor(strings.ToLower(topic))

	var matched []string
	for _, q := range b.questions {
		if len(matched) == maxQuestions {
			break
		}
		lower := strings.ToLower(q)
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				matched = append(matched, q)
				break
			}
		}
	}

	if len(matched) == 0 {
		return Outcome{Kind: OutcomeNoMatch, Topic: topic}
	}
	return Outcome{Kind: OutcomeMatched, Topic: topic, Questions: matched}
}

func (b *Bank) keywordsFor(topic string) []string {
	var keywords []string
	for key, words := range b.table {
		if strings.Contains(topic, key) || strings.Contains(key, topic) {
			keywords = append(keywords, words...)
		}
	}
	if len(keywords) == 0 {
		keywords = []string{topic}
	}
	return keywords
}
