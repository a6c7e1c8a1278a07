package processor

import (
	"sort"
	"strings"
	"unicode"
)

type ProcessorConfig struct {
	// MaxSentences bounds the extractive summary length.
	MaxSentences int
	// MinSentenceLength drops fragments shorter than this from scoring.
	MinSentenceLength int
	CustomStopwords   []string
	// FallbackLength is how much leading text is used when no summary can be built.
	FallbackLength int
}

// Processor builds extractive summaries of article text.
type Processor struct {
	config    ProcessorConfig
	stopwords map[string]bool
}

func NewWithConfig(config ProcessorConfig) Processor {
	if config.MaxSentences == 0 {
		config.MaxSentences = 3
	}
	if config.MinSentenceLength == 0 {
		config.MinSentenceLength = 20
	}
	if config.FallbackLength == 0 {
		config.FallbackLength = 500
	}

	stopwords := make(map[string]bool)
	for _, w := range getStopwords() {
		stopwords[w] = true
	}
	for _, w := range config.CustomStopwords {
		stopwords[strings.ToLower(w)] = true
	}

	return Processor{
		config:    config,
		stopwords: stopwords,
	}
}

// Summarize picks the highest-scoring sentences of text, in their original
// order. Sentences score by the average frequency of their content words.
// When no sentence qualifies, the leading text is returned instead.
func (p *Processor) Summarize(text string) string {
	sentences := p.splitIntoSentences(cleanText(text))

	var candidates []int
	for i, s := range sentences {
		if len(s) >= p.config.MinSentenceLength {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return p.Fallback(text)
	}
	if len(candidates) <= p.config.MaxSentences {
		return joinSentences(sentences, candidates)
	}

	freq := make(map[string]int)
	for _, i := range candidates {
		for _, w := range p.contentWords(sentences[i]) {
			freq[w]++
		}
	}

	scores := make(map[int]float64, len(candidates))
	for _, i := range candidates {
		words := p.contentWords(sentences[i])
		if len(words) == 0 {
			continue
		}
		total := 0
		for _, w := range words {
			total += freq[w]
		}
		scores[i] = float64(total) / float64(len(words))
	}

	ranked := append([]int(nil), candidates...)
	sort.SliceStable(ranked, func(a, b int) bool {
		return scores[ranked[a]] > scores[ranked[b]]
	})
	picked := ranked[:p.config.MaxSentences]
	sort.Ints(picked)
	return joinSentences(sentences, picked)
}

// Fallback returns the first FallbackLength characters of text followed by "...".
func (p *Processor) Fallback(text string) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= p.config.FallbackLength {
		return text
	}
	return string(runes[:p.config.FallbackLength]) + "..."
}

func cleanText(text string) string {
	// Keep line breaks as sentence boundaries, collapse other whitespace
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func joinSentences(sentences []string, idx []int) string {
	parts := make([]string, 0, len(idx))
	for _, i := range idx {
		parts = append(parts, sentences[i])
	}
	return strings.Join(parts, " ")
}

func (p *Processor) splitIntoSentences(text string) []string {
	sentenceEnders := []string{". ", "! ", "? ", ".\n", "!\n", "?\n", "\n"}
	var sentences []string

	current := strings.Builder{}

	for i := 0; i < len(text); i++ {
		current.WriteByte(text[i])

		// Check for sentence endings
		for _, ender := range sentenceEnders {
			if strings.HasSuffix(current.String(), ender) {
				if s := strings.TrimSpace(current.String()); s != "" {
					sentences = append(sentences, s)
				}
				current.Reset()
				break
			}
		}
	}

	// Add any remaining text
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}

	return sentences
}

func (p *Processor) contentWords(sentence string) []string {
	var words []string
	for _, w := range strings.FieldsFunc(strings.ToLower(sentence), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(w) < 2 || p.stopwords[w] {
			continue
		}
		words = append(words, w)
	}
	return words
}

// Common English stopwords
func getStopwords() []string {
	return []string{
		"a", "an", "and", "are", "as", "at", "be", "by", "for",
		"from", "has", "he", "in", "is", "it", "its", "of", "on",
		"that", "the", "to", "was", "were", "will", "with",
		"this", "these", "those", "or", "but", "not", "can", "you",
		"we", "they", "their", "our", "your", "which", "also", "more",
	}
}
