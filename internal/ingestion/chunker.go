// Package ingestion handles document processing: chunking, metadata propagation, and pipeline orchestration.
package ingestion

import (
	"strconv"
	"strings"
	"unicode"

	"docqa/internal/repository"
)

// Chunk represents a piece of chunked content
type Chunk struct {
	Content  string
	Index    int
	Metadata map[string]string
}

// Chunker splits extracted document text into chunks. Sizes are measured in
// words, a reasonable token proxy for the embedding models in use.
type Chunker struct {
	config repository.ChunkerConfig
}

// NewChunker creates a new Chunker with the given configuration
func NewChunker(config repository.ChunkerConfig) *Chunker {
	// Apply defaults if not set
	if config.TargetSize <= 0 {
		config.TargetSize = 512
	}
	if config.MaxSize <= 0 {
		config.MaxSize = 1024
	}
	if config.Overlap < 0 {
		config.Overlap = 50
	}
	if config.Method == "" {
		config.Method = "semantic"
	}

	return &Chunker{config: config}
}

// Chunk splits content into chunks based on the configured method
func (c *Chunker) Chunk(content string) []Chunk {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	switch c.config.Method {
	case "fixed":
		return c.chunkFixed(content)
	case "sentence":
		return c.chunkSentence(content)
	case "semantic":
		return c.chunkSemantic(content)
	default:
		// Default to semantic if unknown method
		return c.chunkSemantic(content)
	}
}

// ============================================================================
// Fixed Chunking
// ============================================================================

// chunkFixed splits content into fixed-size chunks with overlap
func (c *Chunker) chunkFixed(content string) []Chunk {
	words := strings.Fields(content)
	if len(words) == 0 {
		return nil
	}

	var chunks []Chunk
	targetWords := c.config.TargetSize
	overlapWords := c.config.Overlap

	for i := 0; i < len(words); {
		end := i + targetWords
		if end > len(words) {
			end = len(words)
		}

		chunkWords := words[i:end]
		chunks = append(chunks, Chunk{
			Content: strings.Join(chunkWords, " "),
			Index:   len(chunks),
			Metadata: map[string]string{
				"method":     "fixed",
				"word_count": strconv.Itoa(len(chunkWords)),
			},
		})

		// Move forward by target minus overlap
		step := targetWords - overlapWords
		if step <= 0 {
			step = targetWords / 2
			if step <= 0 {
				step = 1
			}
		}
		i += step

		if end >= len(words) {
			break
		}
	}

	return chunks
}

// ============================================================================
// Sentence Chunking
// ============================================================================

// chunkSentence groups sentences until target size is reached
func (c *Chunker) chunkSentence(content string) []Chunk {
	sentences := splitSentences(content)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []Chunk
	var currentSentences []string
	currentWordCount := 0

	flush := func() {
		if len(currentSentences) == 0 {
			return
		}
		chunks = append(chunks, c.newSentenceChunk(currentSentences, len(chunks)))
		currentSentences, currentWordCount = c.sentenceOverlap(currentSentences)
	}

	for _, sentence := range sentences {
		sentenceWords := len(strings.Fields(sentence))

		// A single sentence longer than max gets split by words.
		if sentenceWords > c.config.MaxSize {
			if currentWordCount > 0 {
				chunks = append(chunks, c.newSentenceChunk(currentSentences, len(chunks)))
				currentSentences = nil
				currentWordCount = 0
			}
			chunks = append(chunks, c.splitLongSentence(sentence, len(chunks))...)
			continue
		}

		if currentWordCount+sentenceWords > c.config.MaxSize && currentWordCount > 0 {
			flush()
		}

		currentSentences = append(currentSentences, sentence)
		currentWordCount += sentenceWords

		if currentWordCount >= c.config.TargetSize {
			flush()
		}
	}

	if len(currentSentences) > 0 {
		chunks = append(chunks, c.newSentenceChunk(currentSentences, len(chunks)))
	}

	return chunks
}

func (c *Chunker) newSentenceChunk(sentences []string, index int) Chunk {
	content := strings.TrimSpace(strings.Join(sentences, " "))
	return Chunk{
		Content: content,
		Index:   index,
		Metadata: map[string]string{
			"method":         "sentence",
			"sentence_count": strconv.Itoa(len(sentences)),
			"word_count":     strconv.Itoa(len(strings.Fields(content))),
		},
	}
}

// sentenceOverlap returns the trailing sentences to carry into the next chunk
func (c *Chunker) sentenceOverlap(sentences []string) ([]string, int) {
	if c.config.Overlap <= 0 || len(sentences) == 0 {
		return nil, 0
	}

	var overlapSentences []string
	overlapWords := 0

	for i := len(sentences) - 1; i >= 0 && overlapWords < c.config.Overlap; i-- {
		overlapSentences = append([]string{sentences[i]}, overlapSentences...)
		overlapWords += len(strings.Fields(sentences[i]))
	}

	return overlapSentences, overlapWords
}

// splitLongSentence splits a sentence that exceeds max size
func (c *Chunker) splitLongSentence(sentence string, startIndex int) []Chunk {
	words := strings.Fields(sentence)
	var chunks []Chunk

	for i := 0; i < len(words); {
		end := i + c.config.TargetSize
		if end > len(words) {
			end = len(words)
		}

		chunkWords := words[i:end]
		chunks = append(chunks, Chunk{
			Content: strings.Join(chunkWords, " "),
			Index:   startIndex + len(chunks),
			Metadata: map[string]string{
				"method":     "sentence",
				"word_count": strconv.Itoa(len(chunkWords)),
				"split":      "true",
			},
		})

		step := c.config.TargetSize - c.config.Overlap
		if step <= 0 {
			step = c.config.TargetSize / 2
			if step <= 0 {
				step = 1
			}
		}
		i += step

		if end >= len(words) {
			break
		}
	}

	return chunks
}

// ============================================================================
// Semantic Chunking (Paragraph-Aware)
// ============================================================================

// chunkSemantic groups paragraphs into chunks, keeping paragraph boundaries
// intact where possible. PDF extraction usually preserves blank lines between
// paragraphs, which makes paragraphs the most reliable semantic unit.
func (c *Chunker) chunkSemantic(content string) []Chunk {
	paragraphs := splitParagraphs(content)
	if len(paragraphs) == 0 {
		return nil
	}

	var chunks []Chunk
	var current []string
	currentWords := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		text := strings.TrimSpace(strings.Join(current, "\n\n"))
		chunks = append(chunks, Chunk{
			Content: text,
			Index:   len(chunks),
			Metadata: map[string]string{
				"method":          "semantic",
				"paragraph_count": strconv.Itoa(len(current)),
				"word_count":      strconv.Itoa(len(strings.Fields(text))),
			},
		})
		current = nil
		currentWords = 0
	}

	for _, para := range paragraphs {
		paraWords := len(strings.Fields(para))

		// Oversized paragraphs are split by sentences.
		if paraWords > c.config.MaxSize {
			flush()
			chunks = append(chunks, c.splitLargeParagraph(para, len(chunks))...)
			continue
		}

		if currentWords+paraWords > c.config.TargetSize && currentWords > 0 {
			flush()
		}

		current = append(current, para)
		currentWords += paraWords
	}
	flush()

	if c.config.Overlap > 0 {
		chunks = c.addOverlap(chunks)
	}

	for i := range chunks {
		chunks[i].Index = i
	}

	return chunks
}

// splitLargeParagraph splits a paragraph that exceeds max size by sentences
func (c *Chunker) splitLargeParagraph(para string, startIndex int) []Chunk {
	sentences := splitSentences(para)

	var chunks []Chunk
	var current []string
	currentWords := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		text := strings.TrimSpace(strings.Join(current, " "))
		chunks = append(chunks, Chunk{
			Content: text,
			Index:   startIndex + len(chunks),
			Metadata: map[string]string{
				"method":     "semantic",
				"word_count": strconv.Itoa(len(strings.Fields(text))),
				"split":      "true",
			},
		})
		current = nil
		currentWords = 0
	}

	for _, sentence := range sentences {
		sentenceWords := len(strings.Fields(sentence))
		if currentWords+sentenceWords > c.config.TargetSize && currentWords > 0 {
			flush()
		}
		current = append(current, sentence)
		currentWords += sentenceWords
	}
	flush()

	return chunks
}

// addOverlap prefixes each chunk with the tail of the previous one
func (c *Chunker) addOverlap(chunks []Chunk) []Chunk {
	if len(chunks) <= 1 {
		return chunks
	}

	result := make([]Chunk, len(chunks))
	result[0] = chunks[0]

	for i := 1; i < len(chunks); i++ {
		prevWords := strings.Fields(chunks[i-1].Content)
		overlapCount := c.config.Overlap
		if overlapCount > len(prevWords) {
			overlapCount = len(prevWords)
		}

		overlapText := strings.Join(prevWords[len(prevWords)-overlapCount:], " ")

		metadata := make(map[string]string, len(chunks[i].Metadata)+2)
		for k, v := range chunks[i].Metadata {
			metadata[k] = v
		}
		metadata["has_overlap"] = "true"
		metadata["overlap_words"] = strconv.Itoa(overlapCount)

		result[i] = Chunk{
			Content:  "[...] " + overlapText + "\n\n" + chunks[i].Content,
			Index:    chunks[i].Index,
			Metadata: metadata,
		}
	}

	return result
}

// ============================================================================
// Text Splitting
// ============================================================================

// splitParagraphs splits text on blank lines
func splitParagraphs(text string) []string {
	var paragraphs []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para != "" {
			paragraphs = append(paragraphs, para)
		}
	}
	return paragraphs
}

// splitSentences splits text into sentences on . ! ? boundaries, with a
// small abbreviation list to avoid false splits.
func splitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		current.WriteRune(r)

		if r == '.' || r == '!' || r == '?' {
			if i+1 >= len(runes) || unicode.IsSpace(runes[i+1]) {
				sentence := strings.TrimSpace(current.String())
				if sentence != "" && !isAbbreviation(sentence) {
					sentences = append(sentences, sentence)
					current.Reset()
				}
			}
		}
	}

	remaining := strings.TrimSpace(current.String())
	if remaining != "" {
		sentences = append(sentences, remaining)
	}

	return sentences
}

// isAbbreviation checks if a sentence ends with a common abbreviation
func isAbbreviation(text string) bool {
	abbreviations := []string{
		"mr.", "mrs.", "ms.", "dr.", "prof.",
		"inc.", "ltd.", "corp.",
		"etc.", "e.g.", "i.e.",
		"vs.", "v.",
		"st.", "ave.", "blvd.",
		"no.", "vol.", "pg.", "fig.",
	}

	lower := strings.ToLower(text)
	for _, abbr := range abbreviations {
		if strings.HasSuffix(lower, abbr) {
			return true
		}
	}
	return false
}
