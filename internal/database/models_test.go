package database

import (
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func TestJSONB_Scan(t *testing.T) {
	tests := []struct {
		name    string
		input   interface{}
		wantErr bool
	}{
		{name: "nil value", input: nil},
		{name: "valid JSON bytes", input: []byte(`{"key": "value"}`)},
		{name: "valid JSON string", input: `{"key": "value"}`},
		{name: "invalid JSON", input: []byte(`not json`), wantErr: true},
		{name: "wrong type", input: 42, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var j JSONB
			err := j.Scan(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("Scan() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStringList_ScanValue(t *testing.T) {
	var nilList StringList
	v, err := nilList.Value()
	if err != nil {
		t.Fatalf("Value() error = %v", err)
	}
	if v != "[]" {
		t.Errorf("Value() of nil list = %v, want []", v)
	}

	var l StringList
	if err := l.Scan(`["a","b"]`); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(l) != 2 || l[0] != "a" || l[1] != "b" {
		t.Errorf("Scan() = %v, want [a b]", l)
	}

	if err := l.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) error = %v", err)
	}
	if len(l) != 0 {
		t.Errorf("Scan(nil) should reset the list, got %v", l)
	}
}

func TestStringList_Union(t *testing.T) {
	got := StringList{"A", "B"}.Union([]string{"B", "C", ""}, []string{"A", "D"})
	want := []string{"A", "B", "C", "D"}
	if len(got) != len(want) {
		t.Fatalf("Union() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Union()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestStringList_Without(t *testing.T) {
	got := StringList{"A", "B", "C"}.Without("B", "X")
	if len(got) != 2 || got[0] != "A" || got[1] != "C" {
		t.Errorf("Without() = %v, want [A C]", got)
	}
}

func TestSeverity_Ordering(t *testing.T) {
	if !(SeverityLow.Rank() < SeverityMedium.Rank() &&
		SeverityMedium.Rank() < SeverityHigh.Rank() &&
		SeverityHigh.Rank() < SeverityCritical.Rank()) {
		t.Error("severity ranks are not ordered low < medium < high < critical")
	}
	if Severity("extreme").IsValid() {
		t.Error("unknown severity should be invalid")
	}

	tests := []struct {
		in   []Severity
		want Severity
	}{
		{[]Severity{SeverityLow, SeverityCritical}, SeverityCritical},
		{[]Severity{SeverityMedium, SeverityLow}, SeverityMedium},
		{[]Severity{SeverityHigh}, SeverityHigh},
		{nil, ""},
	}
	for _, tt := range tests {
		if got := MaxSeverity(tt.in...); got != tt.want {
			t.Errorf("MaxSeverity(%v) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestIncidentStatus_Terminal(t *testing.T) {
	tests := []struct {
		status   IncidentStatus
		terminal bool
	}{
		{IncidentStatusReported, false},
		{IncidentStatusAcknowledged, false},
		{IncidentStatusInvestigating, false},
		{IncidentStatusResolved, true},
		{IncidentStatusClosed, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if !tt.status.IsValid() {
				t.Errorf("%s should be valid", tt.status)
			}
			if tt.status.IsTerminal() != tt.terminal {
				t.Errorf("IsTerminal() = %v, want %v", tt.status.IsTerminal(), tt.terminal)
			}
		})
	}
	if IncidentStatus("pending").IsValid() {
		t.Error("unknown status should be invalid")
	}
}

func TestCategory_IsValid(t *testing.T) {
	for _, c := range ValidCategories() {
		if !c.IsValid() {
			t.Errorf("%s should be valid", c)
		}
	}
	if Category("volcano").IsValid() {
		t.Error("unknown category should be invalid")
	}
}

func TestIncident_IsUnderActiveWork(t *testing.T) {
	tests := []struct {
		name     string
		incident Incident
		want     bool
	}{
		{"investigating", Incident{Status: IncidentStatusInvestigating}, true},
		{"acknowledged and assigned", Incident{Status: IncidentStatusAcknowledged, AssignedTo: "crew-7"}, true},
		{"acknowledged unassigned", Incident{Status: IncidentStatusAcknowledged}, false},
		{"reported and assigned", Incident{Status: IncidentStatusReported, AssignedTo: "crew-7"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.incident.IsUnderActiveWork(); got != tt.want {
				t.Errorf("IsUnderActiveWork() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIncident_DisplayNumber(t *testing.T) {
	inc := Incident{Number: 42}
	if got := inc.DisplayNumber(); got != "INC-000042" {
		t.Errorf("DisplayNumber() = %s, want INC-000042", got)
	}
}

func TestIncident_BeforeCreateDefaults(t *testing.T) {
	db := setupTestDB(t)

	inc := Incident{
		Number:     1,
		Title:      "Pothole on Main St",
		Category:   CategoryPothole,
		Severity:   SeverityMedium,
		ReporterID: "citizen-1",
		Upvoters:   StringList{"u1", "u2"},
	}
	if err := db.Create(&inc).Error; err != nil {
		t.Fatalf("failed to create incident: %v", err)
	}

	if inc.ID == "" {
		t.Error("expected ID to be generated")
	}
	if inc.Status != IncidentStatusReported {
		t.Errorf("expected status reported, got %s", inc.Status)
	}
	if inc.Version != 1 {
		t.Errorf("expected version 1, got %d", inc.Version)
	}
	if inc.ReportedAt.IsZero() {
		t.Error("expected ReportedAt to be set")
	}
	if inc.UpvoteCount != 2 {
		t.Errorf("expected upvote count 2, got %d", inc.UpvoteCount)
	}
}

func TestIncident_ListColumnsRoundTrip(t *testing.T) {
	db := setupTestDB(t)

	now := time.Now().UTC().Truncate(time.Second)
	lat, lng := 40.7128, -74.0060
	inc := Incident{
		Number:     7,
		Title:      "Broken streetlight",
		Category:   CategoryStreetlight,
		Severity:   SeverityHigh,
		ReporterID: "citizen-1",
		Latitude:   &lat,
		Longitude:  &lng,
		Comments: CommentList{
			{ID: "c1", AuthorID: "citizen-2", Text: "Still dark", CreatedAt: now},
		},
		PhotoURLs:   StringList{"https://img.example/1.jpg"},
		Attachments: AttachmentList{{FileName: "report.pdf", URL: "https://files.example/report.pdf", Type: "application/pdf"}},
	}
	if err := db.Create(&inc).Error; err != nil {
		t.Fatalf("failed to create incident: %v", err)
	}

	var loaded Incident
	if err := db.First(&loaded, "id = ?", inc.ID).Error; err != nil {
		t.Fatalf("failed to load incident: %v", err)
	}
	if !loaded.HasLocation() {
		t.Error("expected location to persist")
	}
	if len(loaded.Comments) != 1 || loaded.Comments[0].Text != "Still dark" {
		t.Errorf("comments did not round-trip: %+v", loaded.Comments)
	}
	if !loaded.Comments[0].CreatedAt.Equal(now) {
		t.Errorf("comment timestamp = %v, want %v", loaded.Comments[0].CreatedAt, now)
	}
	if len(loaded.PhotoURLs) != 1 {
		t.Errorf("photo urls did not round-trip: %v", loaded.PhotoURLs)
	}
	if len(loaded.Attachments) != 1 || loaded.Attachments[0].FileName != "report.pdf" {
		t.Errorf("attachments did not round-trip: %+v", loaded.Attachments)
	}
	if loaded.Upvoters == nil || len(loaded.Upvoters) != 0 {
		t.Errorf("expected empty upvoters, got %v", loaded.Upvoters)
	}
}

func TestTableNames(t *testing.T) {
	tests := []struct {
		model     interface{ TableName() string }
		tableName string
	}{
		{Incident{}, "incidents"},
		{MergeSuggestion{}, "merge_suggestions"},
		{IncidentMerge{}, "incident_merges"},
		{DedupJobSettings{}, "dedup_job_settings"},
	}

	for _, tt := range tests {
		t.Run(tt.tableName, func(t *testing.T) {
			if got := tt.model.TableName(); got != tt.tableName {
				t.Errorf("TableName() = %s, want %s", got, tt.tableName)
			}
		})
	}
}

func TestGetOrCreateDedupJobSettings(t *testing.T) {
	db := setupTestDB(t)

	settings, err := GetOrCreateDedupJobSettings(db)
	if err != nil {
		t.Fatalf("failed to get settings: %v", err)
	}
	if !settings.AutoSuggestEnabled || settings.RescanIntervalMinutes != 15 {
		t.Errorf("unexpected defaults: %+v", settings)
	}

	settings.RescanIntervalMinutes = 5
	settings.SweepEnabled = false
	if err := UpdateDedupJobSettings(db, settings); err != nil {
		t.Fatalf("failed to update settings: %v", err)
	}

	again, err := GetOrCreateDedupJobSettings(db)
	if err != nil {
		t.Fatalf("failed to reload settings: %v", err)
	}
	if again.ID != settings.ID {
		t.Errorf("expected singleton row %d, got %d", settings.ID, again.ID)
	}
	if again.RescanIntervalMinutes != 5 || again.SweepEnabled {
		t.Errorf("update was not persisted: %+v", again)
	}

	var count int64
	db.Model(&DedupJobSettings{}).Count(&count)
	if count != 1 {
		t.Errorf("expected 1 settings row, got %d", count)
	}
}
