package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/kalambet/policyguard/internal/invoice"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

// TestMigrationsOrdered verifies migrations are applied in ascending numeric order.
func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(versions) == 0 {
		t.Fatal("expected at least one applied migration")
	}

	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

// TestIndexesExist verifies that the indexes are created by the migration.
func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{"idx_policy_documents_company", "idx_policy_chunks_company", "idx_invoice_analyses_created"}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %q not found in sqlite_master", idx)
		}
	}
}

// TestChunksCascadeWithDocument verifies that deleting a document removes its chunks.
func TestChunksCascadeWithDocument(t *testing.T) {
	s := openTestStore(t)

	_, err := s.db.Exec(`INSERT INTO policy_documents (id, file_name, created_at) VALUES ('d1', 'travel.pdf', '2025-01-01T00:00:00Z')`)
	if err != nil {
		t.Fatalf("INSERT policy_documents: %v", err)
	}
	_, err = s.db.Exec(`INSERT INTO policy_chunks (id, document_id, document_name, section, content, chunk_index, embedding, created_at)
		VALUES ('c1', 'd1', 'travel.pdf', 'General Policy', 'Economy only.', 0, X'00000000', '2025-01-01T00:00:00Z')`)
	if err != nil {
		t.Fatalf("INSERT policy_chunks: %v", err)
	}

	if _, err := s.db.Exec(`DELETE FROM policy_documents WHERE id = 'd1'`); err != nil {
		t.Fatalf("DELETE: %v", err)
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM policy_chunks`).Scan(&count); err != nil {
		t.Fatalf("COUNT: %v", err)
	}
	if count != 0 {
		t.Errorf("chunk count = %d after document delete, want 0", count)
	}
}

// TestChunkIndexUniquePerDocument verifies a document cannot hold two chunks at one index.
func TestChunkIndexUniquePerDocument(t *testing.T) {
	s := openTestStore(t)

	s.db.Exec(`INSERT INTO policy_documents (id, file_name, created_at) VALUES ('d1', 'a.txt', '2025-01-01T00:00:00Z')`)
	insert := `INSERT INTO policy_chunks (id, document_id, document_name, section, content, chunk_index, embedding, created_at)
		VALUES (?, 'd1', 'a.txt', 's', 'c', 0, X'00000000', '2025-01-01T00:00:00Z')`
	if _, err := s.db.Exec(insert, "c1"); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if _, err := s.db.Exec(insert, "c2"); err == nil {
		t.Error("expected unique constraint violation for duplicate chunk_index")
	}
}

func testResult(id string, status invoice.Status, risk int) invoice.AnalysisResult {
	amount := 1250.5
	return invoice.AnalysisResult{
		InvoiceID: id,
		Status:    status,
		Validation: invoice.ValidationResult{
			IsValid:         true,
			ExtractedFields: invoice.Fields{Amount: &amount},
			ConfidenceScore: 90,
		},
		Compliance: invoice.PolicyCompliance{
			IsCompliant:            true,
			RiskScore:              10,
			Violations:             []invoice.Violation{},
			Recommendations:        []string{},
			RelevantPolicySections: []string{"Meal Policy"},
		},
		OverallRiskScore: risk,
		Summary:          "Invoice passed all checks and is approved for processing.",
		ProcessedAt:      time.Now().UTC().Truncate(time.Second),
	}
}

// TestSaveAndGetAnalysis saves an analysis and retrieves it by invoice ID.
func TestSaveAndGetAnalysis(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	want := testResult("INV-001", invoice.StatusApproved, 10)
	if err := s.SaveAnalysis(ctx, AnalysisRecord{CompanyID: "acme", FileName: "lunch.pdf", Result: want}); err != nil {
		t.Fatalf("SaveAnalysis: %v", err)
	}

	got, err := s.GetAnalysis(ctx, "INV-001")
	if err != nil {
		t.Fatalf("GetAnalysis: %v", err)
	}
	if got.ID != "INV-001" || got.CompanyID != "acme" || got.FileName != "lunch.pdf" {
		t.Errorf("record = %+v", got)
	}
	if got.Result.Status != invoice.StatusApproved {
		t.Errorf("Status = %q, want approved", got.Result.Status)
	}
	if got.Result.Validation.ExtractedFields.Amount == nil || *got.Result.Validation.ExtractedFields.Amount != 1250.5 {
		t.Errorf("Amount = %v, want 1250.5", got.Result.Validation.ExtractedFields.Amount)
	}
	if !got.Result.ProcessedAt.Equal(want.ProcessedAt) {
		t.Errorf("ProcessedAt = %v, want %v", got.Result.ProcessedAt, want.ProcessedAt)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

// TestSaveAnalysis_Immutable verifies that an invoice ID cannot be saved twice.
func TestSaveAnalysis_Immutable(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	r := testResult("INV-dup", invoice.StatusFlagged, 55)
	if err := s.SaveAnalysis(ctx, AnalysisRecord{Result: r}); err != nil {
		t.Fatalf("SaveAnalysis: %v", err)
	}
	if err := s.SaveAnalysis(ctx, AnalysisRecord{Result: r}); err == nil {
		t.Error("expected error when saving the same invoice twice")
	}
}

// TestGetAnalysisNotFound verifies that retrieving a non-existent ID returns ErrNotFound.
func TestGetAnalysisNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetAnalysis(context.Background(), "does-not-exist")
	if err != ErrNotFound {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

// TestListAnalyses verifies newest-first ordering and paging.
func TestListAnalyses(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		rec := AnalysisRecord{
			Result:    testResult(fmt.Sprintf("INV-%d", i), invoice.StatusNeedsReview, 45),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.SaveAnalysis(ctx, rec); err != nil {
			t.Fatalf("SaveAnalysis %d: %v", i, err)
		}
	}

	page, err := s.ListAnalyses(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListAnalyses: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("got %d records, want 2", len(page))
	}
	if page[0].ID != "INV-4" || page[1].ID != "INV-3" {
		t.Errorf("first page = [%s %s], want [INV-4 INV-3]", page[0].ID, page[1].ID)
	}

	rest, err := s.ListAnalyses(ctx, 10, 2)
	if err != nil {
		t.Fatalf("ListAnalyses offset: %v", err)
	}
	if len(rest) != 3 || rest[2].ID != "INV-0" {
		t.Errorf("second page = %d records, want 3 ending with INV-0", len(rest))
	}
}
