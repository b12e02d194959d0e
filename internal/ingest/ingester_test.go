package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/policyguard/internal/chunking"
	"github.com/kalambet/policyguard/internal/extract"
	"github.com/kalambet/policyguard/internal/retrieval"
	"github.com/kalambet/policyguard/internal/storage"
)

type fakeEmbedder struct {
	failOnCall int // 1-based; 0 never fails
	calls      int
	batchSizes []int
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	f.batchSizes = append(f.batchSizes, len(texts))
	if f.failOnCall == f.calls {
		return nil, errors.New("rate limited")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, float32(i), 0.5}
	}
	return out, nil
}

func openStore(t *testing.T) *retrieval.SQLiteStore {
	t.Helper()
	st, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return retrieval.NewSQLiteStore(st.DB())
}

func newTestIngester(t *testing.T, store retrieval.KnowledgeStore, emb BatchEmbedder, cfg Config) *Ingester {
	t.Helper()
	ch, err := chunking.New(200, 20)
	require.NoError(t, err)
	return New(extract.New(nil), ch, emb, store, cfg)
}

func policyText(sections int) string {
	var sb strings.Builder
	for i := 1; i <= sections; i++ {
		fmt.Fprintf(&sb, "SECTION %d: Rule Set %d\n", i, i)
		sb.WriteString(strings.Repeat("Employees must keep itemised receipts for every claim. ", 4))
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func textUpload(text string) Upload {
	return Upload{FileName: "travel-policy.txt", MIMEType: "text/plain", Data: []byte(text), CompanyID: "acme", UploadedBy: "hr@acme.test"}
}

func TestIngest_Success(t *testing.T) {
	store := openStore(t)
	emb := &fakeEmbedder{}
	ing := newTestIngester(t, store, emb, Config{BatchSize: 3})

	res, err := ing.Ingest(context.Background(), textUpload(policyText(4)))
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.NotEmpty(t, res.DocumentID)
	assert.Greater(t, res.ChunksCreated, 3)
	assert.Equal(t, fmt.Sprintf("Successfully processed %d policy sections from travel-policy.txt", res.ChunksCreated), res.Message)
	assert.Contains(t, res.Sections, "SECTION 1: Rule Set 1")

	for _, n := range emb.batchSizes {
		assert.LessOrEqual(t, n, 3)
	}

	docs, err := store.ListDocuments(context.Background(), "acme")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, retrieval.StatusActive, docs[0].Status)
	assert.Equal(t, res.ChunksCreated, docs[0].TotalChunks)
	assert.Equal(t, 1, docs[0].Version)
	assert.Equal(t, "hr@acme.test", docs[0].UploadedBy)

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, res.ChunksCreated, n)
}

func TestIngest_BatchFailureRollsBack(t *testing.T) {
	store := openStore(t)
	emb := &fakeEmbedder{failOnCall: 2}
	ing := newTestIngester(t, store, emb, Config{BatchSize: 2})

	res, err := ing.Ingest(context.Background(), textUpload(policyText(4)))
	require.Error(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "rate limited")

	docs, err := store.ListDocuments(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, docs)

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "chunks from the first batch must be removed")
}

func TestIngest_SameDocumentTwiceIsIndependent(t *testing.T) {
	store := openStore(t)
	ing := newTestIngester(t, store, &fakeEmbedder{}, Config{})
	text := policyText(2)

	first, err := ing.Ingest(context.Background(), textUpload(text))
	require.NoError(t, err)

	up := textUpload(text)
	up.CompanyID = "globex"
	second, err := ing.Ingest(context.Background(), up)
	require.NoError(t, err)
	assert.NotEqual(t, first.DocumentID, second.DocumentID)

	require.NoError(t, store.DeleteDocument(context.Background(), first.DocumentID))

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, second.ChunksCreated, n)
}

func TestIngest_ReuploadBumpsVersion(t *testing.T) {
	store := openStore(t)
	ing := newTestIngester(t, store, &fakeEmbedder{}, Config{})

	_, err := ing.Ingest(context.Background(), textUpload(policyText(2)))
	require.NoError(t, err)
	_, err = ing.Ingest(context.Background(), textUpload(policyText(3)))
	require.NoError(t, err)

	docs, err := store.ListDocuments(context.Background(), "acme")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	versions := []int{docs[0].Version, docs[1].Version}
	assert.ElementsMatch(t, []int{1, 2}, versions)
}

func TestIngest_InputErrors(t *testing.T) {
	tests := []struct {
		name string
		up   Upload
		code InputErrorCode
	}{
		{"image", Upload{FileName: "scan.png", MIMEType: "image/png", Data: []byte("x")}, CodeUnsupportedType},
		{"spreadsheet", Upload{FileName: "a.xlsx", MIMEType: "application/vnd.ms-excel", Data: []byte("x")}, CodeUnsupportedType},
		{"too large", Upload{FileName: "a.txt", MIMEType: "text/plain", Data: make([]byte, 2048)}, CodeTooLarge},
		{"too short", Upload{FileName: "a.txt", MIMEType: "text/plain", Data: []byte("Travel: economy only.")}, CodeTooShort},
		{"empty", Upload{FileName: "a.txt", MIMEType: "text/plain", Data: []byte("   ")}, CodeTooShort},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emb := &fakeEmbedder{}
			ing := newTestIngester(t, openStore(t), emb, Config{MaxBytes: 1024})

			res, err := ing.Ingest(context.Background(), tt.up)

			var inputErr *InputError
			require.ErrorAs(t, err, &inputErr)
			assert.Equal(t, tt.code, inputErr.Code)
			assert.False(t, res.Success)
			assert.NotEmpty(t, res.Error)
			assert.Zero(t, emb.calls)
		})
	}
}

func TestIngestText(t *testing.T) {
	store := openStore(t)
	ing := newTestIngester(t, store, &fakeEmbedder{}, Config{})

	res, err := ing.IngestText(context.Background(), policyText(1), "pasted-policy", "acme", "")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "pasted-policy", res.FileName)
}

func TestIngest_ChunkMetadata(t *testing.T) {
	store := openStore(t)
	ing := newTestIngester(t, store, &fakeEmbedder{}, Config{})

	res, err := ing.Ingest(context.Background(), textUpload(policyText(2)))
	require.NoError(t, err)

	chunks, err := store.Sample(context.Background(), "acme", 100)
	require.NoError(t, err)
	require.Len(t, chunks, res.ChunksCreated)
	for _, c := range chunks {
		assert.Equal(t, res.DocumentID, c.DocumentID)
		assert.Equal(t, "travel-policy.txt", c.Metadata["source_file"])
		assert.Contains(t, c.Metadata, "page")
		assert.Contains(t, c.Metadata, "ingested_at")
	}
}
