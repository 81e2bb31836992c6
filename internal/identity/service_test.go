package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

type stubProfiles struct {
	name string
	err  error
}

func (s *stubProfiles) GetProfile(context.Context, string) (string, error) {
	return s.name, s.err
}

func TestMergeConflictRefused(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()
	svc := NewService(&Store{pool: mock}, nil, nil, nil)
	source, target := uuid.New(), uuid.New()
	chat := "U1"
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT id, chat_user_id").
		WithArgs(source).
		WillReturnRows(newPatientRows().AddRow(source, &chat, "Sato Hanako", "", "", "1990-01-01", "", "active", nil, now, now))
	mock.ExpectQuery("SELECT id, chat_user_id").
		WithArgs(target).
		WillReturnRows(newPatientRows().AddRow(target, &chat, "Suzuki Hanako", "", "", "1991-02-02", "", "active", nil, now, now))

	if _, err := svc.Merge(context.Background(), source, target); !errors.Is(err, ErrMergeConflict) {
		t.Fatalf("expected ErrMergeConflict, got %v", err)
	}
}

func TestMergeRetiredSourceRefused(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()
	svc := NewService(&Store{pool: mock}, nil, nil, nil)
	source, target := uuid.New(), uuid.New()
	chat := "U1"
	now := time.Now().UTC()

	// The source was already folded into another patient; a second merge
	// would silently rewrite merged_into.
	mock.ExpectQuery("SELECT id, chat_user_id").
		WithArgs(source).
		WillReturnRows(newPatientRows().AddRow(source, &chat, "", "", "", "", "", StatusMerged, &target, now, now))
	mock.ExpectQuery("SELECT id, chat_user_id").
		WithArgs(target).
		WillReturnRows(newPatientRows().AddRow(target, &chat, "", "", "", "", "", StatusActive, nil, now, now))

	if _, err := svc.Merge(context.Background(), source, target); !errors.Is(err, ErrMergeConflict) {
		t.Fatalf("expected ErrMergeConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMergeSelfRefused(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()
	svc := NewService(&Store{pool: mock}, nil, nil, nil)
	id := uuid.New()

	if _, err := svc.Merge(context.Background(), id, id); !errors.Is(err, ErrSelfMerge) {
		t.Fatalf("expected ErrSelfMerge, got %v", err)
	}
}

func TestConflictingPolicy(t *testing.T) {
	placeholder := &Patient{}
	named := &Patient{Name: "Yamada Taro", Phone: "090-1111-2222"}
	sameName := &Patient{Name: "Yamada Taro"}
	otherName := &Patient{Name: "Tanaka Jiro"}

	if conflicting(placeholder, named) {
		t.Error("placeholder into substantive must be mergeable")
	}
	if conflicting(named, sameName) {
		t.Error("matching fields must be mergeable")
	}
	if !conflicting(named, otherName) {
		t.Error("differing names must conflict")
	}
}

func TestResolveBackfillsProfileName(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()
	svc := NewService(&Store{pool: mock}, &stubProfiles{name: "Taro"}, nil, nil)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs("U55").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("SELECT id FROM patients").
		WithArgs("U55").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))
	mock.ExpectExec("INSERT INTO patients").
		WithArgs(pgxmock.AnyArg(), "U55").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectExec("UPDATE patients").
		WithArgs(pgxmock.AnyArg(), "Taro", "", "", "", "").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	id, err := svc.ResolveOrCreate(context.Background(), "U55")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id == uuid.Nil {
		t.Fatal("expected patient id")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
