package postgres

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/laitim2001/freight-mapping-engine/internal/core/domain"
)

func newSuggestionStoreWithMock(t *testing.T) (*SuggestionStore, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return &SuggestionStore{db: db}, mock, func() { _ = db.Close() }
}

func suggestionRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "organization_id", "field_name", "proposed_pattern", "proposed_pattern_type",
		"supporting_correction_count", "status", "reviewed_by", "decision_reason", "merged_rule_id", "created_at", "decided_at",
	})
}

func TestTransitionAppliesCompareAndSet(t *testing.T) {
	store, mock, done := newSuggestionStoreWithMock(t)
	defer done()

	mock.ExpectQuery("UPDATE rule_suggestions SET").
		WithArgs("sg-1", "PENDING", "REJECTED", "alice", "noise", nil, fixedNow).
		WillReturnRows(suggestionRows().AddRow("sg-1", "org-1", "freight_charges", "sea frt", "KEYWORD",
			10, "REJECTED", "alice", "noise", "", fixedNow, fixedNow))

	sg, err := store.Transition(context.Background(), "sg-1", domain.SuggestionPending, domain.SuggestionRejected,
		domain.SuggestionPatch{ReviewedBy: "alice", DecisionReason: "noise", DecidedAt: fixedNow})
	if err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	if sg.Status != domain.SuggestionRejected || sg.DecidedAt == nil || !sg.DecidedAt.Equal(fixedNow) {
		t.Fatalf("unexpected suggestion: %+v", sg)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestTransitionFromWrongStatusIsInvalid(t *testing.T) {
	store, mock, done := newSuggestionStoreWithMock(t)
	defer done()

	mock.ExpectQuery("UPDATE rule_suggestions SET").
		WillReturnRows(suggestionRows())
	mock.ExpectQuery("FROM rule_suggestions WHERE id").
		WithArgs("sg-1").
		WillReturnRows(suggestionRows().AddRow("sg-1", "org-1", "freight_charges", "sea frt", "KEYWORD",
			10, "REJECTED", "alice", "noise", "", fixedNow, fixedNow))

	_, err := store.Transition(context.Background(), "sg-1", domain.SuggestionPending, domain.SuggestionApproved, domain.SuggestionPatch{})
	if !domain.IsKind(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestTransitionUnknownSuggestionIsNotFound(t *testing.T) {
	store, mock, done := newSuggestionStoreWithMock(t)
	defer done()

	mock.ExpectQuery("UPDATE rule_suggestions SET").WillReturnRows(suggestionRows())
	mock.ExpectQuery("FROM rule_suggestions WHERE id").WillReturnRows(suggestionRows())

	_, err := store.Transition(context.Background(), "missing", domain.SuggestionPending, domain.SuggestionApproved, domain.SuggestionPatch{})
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListPassesOptionalFilters(t *testing.T) {
	store, mock, done := newSuggestionStoreWithMock(t)
	defer done()

	mock.ExpectQuery("FROM rule_suggestions").
		WithArgs("org-1", "PENDING").
		WillReturnRows(suggestionRows().AddRow("sg-1", "org-1", "freight_charges", "sea frt", "KEYWORD",
			10, "PENDING", "", "", "", fixedNow, nil))

	items, err := store.List(context.Background(), domain.SuggestionFilter{OrganizationID: "org-1", Status: domain.SuggestionPending})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(items) != 1 || items[0].DecidedAt != nil || items[0].ProposedPatternType != domain.PatternKeyword {
		t.Fatalf("unexpected items: %+v", items)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
