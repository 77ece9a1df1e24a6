package grammar

import (
	"regexp"
	"strings"
)

// section locates a numbered markdown heading and the heading that ends it.
// RE2 has no lookahead, so the end is found with a second search.
type section struct {
	start *regexp.Regexp
	end   *regexp.Regexp
}

var (
	faqSection = section{
		start: regexp.MustCompile(`#{2,3}\s*5\.\s*自動生成FAQ[^\n]*\n`),
		end:   regexp.MustCompile(`#{2,3}\s*6`),
	}
	promptSection = section{
		start: regexp.MustCompile(`#{2,3}\s*4\.\s*プロンプト改善提案[^\n]*\n`),
		end:   regexp.MustCompile(`#{2,3}\s*5`),
	}
	gapsSection = section{
		start: regexp.MustCompile(`#{2,3}\s*3\.\s*ナレッジベースの不足領域[^\n]*\n`),
		end:   regexp.MustCompile(`#{2,3}\s*4`),
	}
)

// extract returns the trimmed body of the section, or nil when the heading is
// missing or the body is blank.
func (s section) extract(text string) *string {
	loc := s.start.FindStringIndex(text)
	if loc == nil {
		return nil
	}
	body := text[loc[1]:]
	if end := s.end.FindStringIndex(body); end != nil {
		body = body[:end[0]]
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return nil
	}
	return &body
}

// Sections are the parts of a weekly analysis that are stored separately.
type Sections struct {
	FAQAdditions      *string
	PromptSuggestions *string
	KnowledgeGaps     *string
}

func ExtractSections(analysis string) Sections {
	return Sections{
		FAQAdditions:      faqSection.extract(analysis),
		PromptSuggestions: promptSection.extract(analysis),
		KnowledgeGaps:     gapsSection.extract(analysis),
	}
}
