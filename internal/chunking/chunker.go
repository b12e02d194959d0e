// Package chunking splits extracted policy text into bounded, overlapping
// chunks and labels each with the section heading it belongs to.
package chunking

// charsPerPage approximates how much text one document page holds.
const charsPerPage = 500

// Chunk is a piece of policy text ready for embedding.
type Chunk struct {
	SourceDocument string
	Content        string
	Section        string
	Index          int
	Page           int
}

// Chunker turns document text into labelled chunks.
type Chunker struct {
	splitter *Splitter
}

// New creates a Chunker with the given maximum chunk size and overlap.
func New(chunkSize, overlap int) (*Chunker, error) {
	s, err := NewSplitter(chunkSize, overlap)
	if err != nil {
		return nil, err
	}
	return &Chunker{splitter: s}, nil
}

// Chunk splits text from sourceName. Output is deterministic for identical
// input and configuration; Index increases monotonically from zero.
func (c *Chunker) Chunk(text, sourceName string) []Chunk {
	pieces := c.splitter.Split(text)
	chunks := make([]Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = Chunk{
			SourceDocument: sourceName,
			Content:        p,
			Section:        DetectSection(p),
			Index:          i,
			Page:           i*c.splitter.ChunkSize/charsPerPage + 1,
		}
	}
	return chunks
}

// Sections returns the distinct section labels in first-seen order.
func Sections(chunks []Chunk) []string {
	seen := make(map[string]bool, len(chunks))
	out := make([]string, 0, len(chunks))
	for _, ch := range chunks {
		if seen[ch.Section] {
			continue
		}
		seen[ch.Section] = true
		out = append(out, ch.Section)
	}
	return out
}
