package integrity

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"migration-guard/internal/config"
	"migration-guard/internal/export"
	"migration-guard/internal/logging"
)

func verifierConfig() *config.Config {
	cfg := &config.Config{}
	cfg.SetDefaults()
	cfg.Database.Database = "clinic"
	return cfg
}

func newTestVerifier(t *testing.T, cfg *config.Config) (*Verifier, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	return NewVerifier(db, cfg, logging.NewDefaultLogger()), mock, func() { db.Close() }
}

func countRows(n int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"count"}).AddRow(n)
}

func TestVerify_AllChecksPass(t *testing.T) {
	cfg := verifierConfig()
	cfg.Integrity.CriticalTables = []string{"patients_patient"}
	cfg.Integrity.ForeignKeys = []config.ForeignKeyRule{
		{Table: "patients_visit", Column: "patient_id", RefTable: "patients_patient", RefColumn: "id"},
	}
	cfg.Integrity.Timestamps = []config.TimestampRule{
		{Table: "patients_visit", Column: "admitted_at"},
	}
	cfg.Integrity.BusinessRules = []config.BusinessRule{
		{Name: "active_patients_have_visits", Query: "SELECT COUNT(*) FROM patients_patient p WHERE p.active = 1 AND NOT EXISTS (SELECT 1 FROM patients_visit v WHERE v.patient_id = p.id)"},
	}

	v, mock, done := newTestVerifier(t, cfg)
	defer done()

	mock.ExpectPing()
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM patients_patient").WillReturnRows(countRows(42))
	mock.ExpectQuery("LEFT JOIN patients_patient").WillReturnRows(countRows(0))
	mock.ExpectQuery("IS NULL OR").WillReturnRows(countRows(0))
	mock.ExpectQuery("NOT EXISTS").WillReturnRows(countRows(0))

	report := v.Verify(context.Background(), nil)

	assert.Equal(t, StatusPassed, report.OverallStatus)
	assert.Equal(t, 6, report.ChecksPassed)
	assert.Zero(t, report.ChecksFailed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVerify_EmptyCriticalTableFails(t *testing.T) {
	cfg := verifierConfig()
	cfg.Integrity.CriticalTables = []string{"patients_patient"}

	v, mock, done := newTestVerifier(t, cfg)
	defer done()

	mock.ExpectPing()
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM patients_patient").WillReturnRows(countRows(0))

	report := v.Verify(context.Background(), nil)

	assert.Equal(t, StatusFailed, report.OverallStatus)
	require.Equal(t, 1, report.ChecksFailed)
	assert.Contains(t, report.Details[1].Details, "patients_patient is empty")
}

func TestVerify_OrphanedRowsFail(t *testing.T) {
	cfg := verifierConfig()
	cfg.Integrity.ForeignKeys = []config.ForeignKeyRule{
		{Table: "patients_visit", Column: "patient_id", RefTable: "patients_patient", RefColumn: "id"},
	}

	v, mock, done := newTestVerifier(t, cfg)
	defer done()

	mock.ExpectPing()
	mock.ExpectQuery("LEFT JOIN patients_patient").WillReturnRows(countRows(7))

	report := v.Verify(context.Background(), nil)

	assert.Equal(t, StatusFailed, report.OverallStatus)
	failed := findCheck(t, report, "foreign_keys")
	assert.False(t, failed.Passed)
	assert.Contains(t, failed.Details, "7 orphaned row(s)")
}

func TestVerify_CheckerErrorIsFailedCheckNotCrash(t *testing.T) {
	cfg := verifierConfig()
	cfg.Integrity.CriticalTables = []string{"patients_patient"}

	v, mock, done := newTestVerifier(t, cfg)
	defer done()

	mock.ExpectPing()
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM patients_patient").
		WillReturnError(assert.AnError)

	report := v.Verify(context.Background(), nil)

	assert.Equal(t, StatusFailed, report.OverallStatus)
	failed := findCheck(t, report, "critical_tables")
	assert.False(t, failed.Passed)
	assert.Len(t, report.Details, 6, "every check must still report")
}

func TestVerify_SnapshotComparisonTolerance(t *testing.T) {
	tests := []struct {
		name     string
		exported int
		live     int
		flagged  bool
	}{
		{"small drift under 10 rows tolerated", 100, 92, false},
		{"exactly 10 rows tolerated", 50, 40, false},
		{"within 10 percent tolerated", 1000, 910, false},
		{"500 of 1000 flagged", 1000, 500, true},
		{"11 rows on tiny table flagged", 20, 9, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := verifierConfig()
			v, mock, done := newTestVerifier(t, cfg)
			defer done()

			snapshot := &export.Snapshot{
				Apps: map[string]map[string]export.TableExport{
					"patients": {"patients_patient": {Count: tt.exported}},
				},
			}

			mock.ExpectPing()
			mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM patients_patient").
				WillReturnRows(countRows(tt.live))

			report := v.Verify(context.Background(), snapshot)
			check := findCheck(t, report, "export_comparison")
			assert.Equal(t, tt.flagged, !check.Passed)
		})
	}
}

func TestVerify_FailedTableInSnapshotSkipped(t *testing.T) {
	cfg := verifierConfig()
	v, mock, done := newTestVerifier(t, cfg)
	defer done()

	snapshot := &export.Snapshot{
		Apps: map[string]map[string]export.TableExport{
			"patients": {"patients_broken": {Count: 0, Error: "table crashed during export"}},
		},
	}

	mock.ExpectPing()

	report := v.Verify(context.Background(), snapshot)
	check := findCheck(t, report, "export_comparison")
	assert.True(t, check.Passed)
}

func TestSignificantDifference(t *testing.T) {
	assert.False(t, SignificantDifference(100, 100))
	assert.False(t, SignificantDifference(100, 90))
	assert.True(t, SignificantDifference(100, 88))
	assert.False(t, SignificantDifference(0, 10))
	assert.True(t, SignificantDifference(0, 11))
	assert.True(t, SignificantDifference(1000, 500))
}

func findCheck(t *testing.T, report *Report, name string) CheckResult {
	t.Helper()
	for _, d := range report.Details {
		if d.Name == name {
			return d
		}
	}
	t.Fatalf("check %s not found in report", name)
	return CheckResult{}
}
