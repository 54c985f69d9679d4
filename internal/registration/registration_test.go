package registration

import (
	"context"
	"errors"
	"testing"

	"qms/clinic-queue-service/internal/models"
	"qms/clinic-queue-service/internal/store/memory"

	"golang.org/x/crypto/bcrypt"
)

type fakeAccountStore struct {
	createAccount func(ctx context.Context, account models.Account) error
	createPatient func(ctx context.Context, patient models.Patient) error
	deleteAccount func(ctx context.Context, accountID string) error
}

func (f fakeAccountStore) CreateAccount(ctx context.Context, account models.Account) error {
	return f.createAccount(ctx, account)
}

func (f fakeAccountStore) CreatePatient(ctx context.Context, patient models.Patient) error {
	return f.createPatient(ctx, patient)
}

func (f fakeAccountStore) DeleteAccount(ctx context.Context, accountID string) error {
	return f.deleteAccount(ctx, accountID)
}

func TestRegisterPatientCreatesProfile(t *testing.T) {
	st := memory.NewStore()
	svc := NewService(st, bcrypt.MinCost)

	result, err := svc.Register(context.Background(), Input{
		Email:    "ana@example.com",
		Password: "s3cret-pass",
		Role:     models.RolePatient,
		FullName: "Ana",
		Phone:    "+628123456789",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if result.Patient == nil {
		t.Fatalf("expected patient profile")
	}
	if result.Patient.AccountID != result.Account.AccountID || result.Patient.Email != "ana@example.com" {
		t.Fatalf("unexpected patient %+v", result.Patient)
	}
	if result.Account.PasswordHash == "s3cret-pass" || bcrypt.CompareHashAndPassword([]byte(result.Account.PasswordHash), []byte("s3cret-pass")) != nil {
		t.Fatalf("expected hashed password")
	}

	stored, err := st.GetPatient(context.Background(), result.Patient.PatientID)
	if err != nil {
		t.Fatalf("get patient: %v", err)
	}
	if stored.FullName != "Ana" {
		t.Fatalf("unexpected stored patient %+v", stored)
	}
}

func TestRegisterStaffHasNoProfile(t *testing.T) {
	svc := NewService(memory.NewStore(), bcrypt.MinCost)

	result, err := svc.Register(context.Background(), Input{
		Email:    "desk@example.com",
		Password: "s3cret-pass",
		Role:     models.RoleStaff,
		ClinicID: "clinic-1",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if result.Patient != nil {
		t.Fatalf("staff must not get a patient profile")
	}
	if result.Account.ClinicID != "clinic-1" || result.Account.Role != models.RoleStaff {
		t.Fatalf("unexpected account %+v", result.Account)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc := NewService(memory.NewStore(), bcrypt.MinCost)
	input := Input{Email: "ana@example.com", Password: "s3cret-pass", Role: models.RolePatient, FullName: "Ana"}
	if _, err := svc.Register(context.Background(), input); err != nil {
		t.Fatalf("register: %v", err)
	}
	input.Email = "ANA@example.com"
	if _, err := svc.Register(context.Background(), input); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc := NewService(memory.NewStore(), bcrypt.MinCost)
	cases := []struct {
		name  string
		input Input
	}{
		{name: "bad email", input: Input{Email: "nope", Password: "s3cret-pass", Role: models.RolePatient, FullName: "Ana"}},
		{name: "short password", input: Input{Email: "a@example.com", Password: "short", Role: models.RolePatient, FullName: "Ana"}},
		{name: "unknown role", input: Input{Email: "a@example.com", Password: "s3cret-pass", Role: models.Role(9)}},
		{name: "patient without name", input: Input{Email: "a@example.com", Password: "s3cret-pass", Role: models.RolePatient}},
		{name: "staff without clinic", input: Input{Email: "a@example.com", Password: "s3cret-pass", Role: models.RoleStaff}},
		{name: "bad phone", input: Input{Email: "a@example.com", Password: "s3cret-pass", Role: models.RolePatient, FullName: "Ana", Phone: "call me"}},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Register(context.Background(), tt.input); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestRegisterRemovesAccountWhenProfileFails(t *testing.T) {
	var created, deleted string
	svc := NewService(fakeAccountStore{
		createAccount: func(ctx context.Context, account models.Account) error {
			created = account.AccountID
			return nil
		},
		createPatient: func(ctx context.Context, patient models.Patient) error {
			return errors.New("disk full")
		},
		deleteAccount: func(ctx context.Context, accountID string) error {
			deleted = accountID
			return nil
		},
	}, bcrypt.MinCost)

	_, err := svc.Register(context.Background(), Input{Email: "ana@example.com", Password: "s3cret-pass", Role: models.RolePatient, FullName: "Ana"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if created == "" || deleted != created {
		t.Fatalf("expected account %q to be removed, removed %q", created, deleted)
	}
}
