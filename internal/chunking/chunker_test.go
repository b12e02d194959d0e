package chunking

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func words(n int) string {
	w := make([]string, n)
	for i := range w {
		w[i] = fmt.Sprintf("w%04d", i)
	}
	return strings.Join(w, " ")
}

// sharedOverlap returns the length of the longest prefix of next that is a
// suffix of prev.
func sharedOverlap(prev, next string) int {
	for k := min(len(prev), len(next)); k > 0; k-- {
		if strings.HasSuffix(prev, next[:k]) {
			return k
		}
	}
	return 0
}

func TestSplit_RespectsMaxLength(t *testing.T) {
	s, err := NewSplitter(100, 10)
	require.NoError(t, err)

	text := "Intro paragraph about expenses.\n\n" +
		strings.Repeat("x", 1000) + "\n\n" +
		words(80) + "\nA line. Another sentence. " + strings.Repeat("long ", 60)

	chunks := s.Split(text)
	require.NotEmpty(t, chunks)
	for i, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 100, "chunk %d too long", i)
		assert.NotEmpty(t, c)
	}
}

func TestSplit_ConsecutiveChunksOverlap(t *testing.T) {
	s, err := NewSplitter(100, 20)
	require.NoError(t, err)

	chunks := s.Split(words(200))
	require.Greater(t, len(chunks), 5)
	for i := 1; i < len(chunks); i++ {
		assert.GreaterOrEqual(t, sharedOverlap(chunks[i-1], chunks[i]), 20, "chunks %d and %d", i-1, i)
	}
}

func TestSplit_CoversAllText(t *testing.T) {
	s, err := NewSplitter(120, 15)
	require.NoError(t, err)

	text := words(150)
	joined := strings.Join(s.Split(text), "\n")
	for i := 0; i < 150; i++ {
		assert.Contains(t, joined, fmt.Sprintf("w%04d", i))
	}
}

func TestSplit_PrefersParagraphBoundaries(t *testing.T) {
	s, err := NewSplitter(100, 10)
	require.NoError(t, err)

	p1 := strings.Repeat("a", 60)
	p2 := strings.Repeat("b", 60)
	assert.Equal(t, []string{p1, p2}, s.Split(p1+"\n\n"+p2))
}

func TestSplit_Unicode(t *testing.T) {
	s, err := NewSplitter(50, 5)
	require.NoError(t, err)

	for _, c := range s.Split(strings.Repeat("é", 237)) {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 50)
		assert.True(t, utf8.ValidString(c))
	}
}

func TestSplit_ShortTextSingleChunk(t *testing.T) {
	s, err := NewSplitter(800, 100)
	require.NoError(t, err)
	assert.Equal(t, []string{"Meals are reimbursed up to 500 per day."}, s.Split("  Meals are reimbursed up to 500 per day.  "))
}

func TestNewSplitter_Validation(t *testing.T) {
	_, err := NewSplitter(0, 0)
	assert.Error(t, err)
	_, err = NewSplitter(100, 100)
	assert.Error(t, err)
	_, err = NewSplitter(100, -1)
	assert.Error(t, err)
}

func TestChunk_Deterministic(t *testing.T) {
	c, err := New(200, 25)
	require.NoError(t, err)

	text := "SECTION 1: Travel Policy\n" + words(120) + "\n\nApproval Matrix\n" + words(90)
	assert.Equal(t, c.Chunk(text, "policy.pdf"), c.Chunk(text, "policy.pdf"))
}

func TestChunk_IndexAndPage(t *testing.T) {
	c, err := New(800, 100)
	require.NoError(t, err)

	chunks := c.Chunk(words(500), "handbook.txt")
	require.Greater(t, len(chunks), 3)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
		assert.Equal(t, "handbook.txt", ch.SourceDocument)
	}
	assert.Equal(t, 1, chunks[0].Page)
	assert.Equal(t, 2, chunks[1].Page)
	assert.Equal(t, 4, chunks[2].Page)
}

func TestDetectSection(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"numbered section", "SECTION 3: Travel Policy\nEmployees may book economy class.", "SECTION 3: Travel Policy"},
		{"numbered section mid chunk", "continued text.\nSection 12 - Meals\nBreakfast is covered.", "Section 12 - Meals"},
		{"chapter", "Chapter 2: Hotels\nStandard rooms only.", "Chapter 2: Hotels"},
		{"article", "Article 7 - Conduct\nBe nice.", "Article 7 - Conduct"},
		{"named policy heading", "intro text\nMeal Policy\nDinners are capped at 1500 INR.", "Meal Policy"},
		{"limits heading", "Category Limits\nHotel: 5000 per night.", "Category Limits"},
		{"approval heading", "Approval Matrix  \r\nManagers sign up to 50000.", "Approval Matrix"},
		{"policy name in a sentence", "All staff must follow the meal policy when dining.", "All staff must follow the meal policy when dining."},
		{"limits in a sentence", "Category Limits apply per trip.", "Category Limits apply per trip."},
		{"approval in a long sentence", "Refer to the Approval Matrix for sign-off. " + strings.Repeat("x", 80), DefaultSection},
		{"heading then prose mentioning limit", "Hotel Accommodation Rules\nRooms are reimbursed up to the limit of 5000 per night.", "Hotel Accommodation Rules"},
		{"heading then prose mentioning a policy", "Hotel Accommodation Rules\nFollow the travel policy when booking rooms.", "Hotel Accommodation Rules"},
		{"heading line later in chunk", "Hotel Accommodation Rules\nRooms up to 5000.\nLimits\nAbove that needs approval.", "Limits"},
		{"general", "General Provisions\nThese apply to everyone.", "General Provisions"},
		{"short first line", "Per diem rates\nEmployees receive a fixed amount.", "Per diem rates"},
		{"no partial word match", "Unlimited coffee is available to staff members.", "Unlimited coffee is available to staff members."},
		{"long first line", strings.Repeat("lorem ipsum ", 20), DefaultSection},
		{"tiny first line", "ok\nnothing else here", DefaultSection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectSection(tt.text))
		})
	}
}

func TestSections_UniqueInOrder(t *testing.T) {
	chunks := []Chunk{{Section: "A"}, {Section: "B"}, {Section: "A"}, {Section: "C"}, {Section: "B"}}
	assert.Equal(t, []string{"A", "B", "C"}, Sections(chunks))
}
