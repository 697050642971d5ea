package database

import (
	"testing"
)

func TestMergeSuggestion_PendingKeyUnique(t *testing.T) {
	db := setupTestDB(t)

	first := MergeSuggestion{
		PrimaryIncidentID:    "p1",
		DuplicateIncidentIDs: StringList{"d2", "d1"},
		SimilarityScore:      0.9,
		ProposedBy:           ProposedBySystem,
	}
	if err := db.Create(&first).Error; err != nil {
		t.Fatalf("failed to create suggestion: %v", err)
	}
	if first.Status != SuggestionStatusPending {
		t.Errorf("expected pending status, got %s", first.Status)
	}
	if first.PendingKey == nil || *first.PendingKey != "p1:d1,d2" {
		t.Errorf("unexpected pending key: %v", first.PendingKey)
	}

	second := MergeSuggestion{
		PrimaryIncidentID:    "p1",
		DuplicateIncidentIDs: StringList{"d1", "d2"},
		ProposedBy:           "user-1",
	}
	if err := db.Create(&second).Error; err == nil {
		t.Error("expected unique violation for a second pending suggestion on the same pair")
	}

	// Once reviewed the key is released and a fresh pending suggestion is allowed
	if err := db.Model(&first).Updates(map[string]interface{}{
		"status":      SuggestionStatusRejected,
		"pending_key": nil,
	}).Error; err != nil {
		t.Fatalf("failed to reject: %v", err)
	}
	third := MergeSuggestion{
		PrimaryIncidentID:    "p1",
		DuplicateIncidentIDs: StringList{"d1", "d2"},
		ProposedBy:           ProposedBySystem,
	}
	if err := db.Create(&third).Error; err != nil {
		t.Errorf("expected new pending suggestion after rejection, got %v", err)
	}
}

func TestMergeSuggestion_Names(t *testing.T) {
	s := MergeSuggestion{PrimaryIncidentID: "a", DuplicateIncidentIDs: StringList{"b", "c"}}
	for _, id := range []string{"a", "b", "c"} {
		if !s.Names(id) {
			t.Errorf("expected suggestion to name %s", id)
		}
	}
	if s.Names("d") {
		t.Error("suggestion should not name d")
	}
}

func TestIncidentMerge_Persist(t *testing.T) {
	db := setupTestDB(t)

	im := IncidentMerge{
		SourceIncidentID: "dup-1",
		TargetIncidentID: "primary-1",
		SuggestionID:     "sugg-1",
		MergeConfidence:  0.88,
		MergeReason:      "Same pothole",
		MergedBy:         "user-12345",
		Details:          JSONB{"comments_moved": float64(2)},
	}
	if err := db.Create(&im).Error; err != nil {
		t.Fatalf("failed to create merge record: %v", err)
	}

	var loaded IncidentMerge
	if err := db.First(&loaded, im.ID).Error; err != nil {
		t.Fatalf("failed to load merge record: %v", err)
	}
	if loaded.SourceIncidentID != "dup-1" || loaded.TargetIncidentID != "primary-1" {
		t.Errorf("unexpected ids: %+v", loaded)
	}
	if loaded.MergedBy != "user-12345" {
		t.Errorf("expected MergedBy 'user-12345', got '%s'", loaded.MergedBy)
	}
	if loaded.Details["comments_moved"] != float64(2) {
		t.Errorf("details did not round-trip: %v", loaded.Details)
	}
}
