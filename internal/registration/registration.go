// Package registration creates accounts and, for patients, the linked
// patient profile. Both records are written explicitly by Register; nothing
// in the storage layer creates a profile on its own.
package registration

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"qms/clinic-queue-service/internal/models"
	"qms/clinic-queue-service/internal/store"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidInput = errors.New("invalid registration")
	ErrEmailTaken   = errors.New("email already registered")
)

type Input struct {
	Email    string      `validate:"required,email,max=254"`
	Password string      `validate:"required,min=8,max=72"`
	Role     models.Role `validate:"required"`
	ClinicID string      `validate:"max=64"`
	FullName string      `validate:"max=200"`
	Phone    string      `validate:"omitempty,e164"`
}

type Result struct {
	Account models.Account  `json:"account"`
	Patient *models.Patient `json:"patient,omitempty"`
}

type Service struct {
	accounts store.AccountStore
	cost     int
	now      func() time.Time
	validate *validator.Validate
}

// NewService hashes passwords with the given bcrypt cost; zero means
// bcrypt.DefaultCost.
func NewService(accounts store.AccountStore, cost int) *Service {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	return &Service{
		accounts: accounts,
		cost:     cost,
		now:      time.Now,
		validate: validator.New(),
	}
}

func (s *Service) Register(ctx context.Context, input Input) (Result, error) {
	input.Email = strings.TrimSpace(input.Email)
	input.ClinicID = strings.TrimSpace(input.ClinicID)
	input.FullName = strings.TrimSpace(input.FullName)
	input.Phone = strings.TrimSpace(input.Phone)

	switch input.Role {
	case models.RolePatient:
		if input.FullName == "" {
			return Result{}, fmt.Errorf("%w: full name is required for patients", ErrInvalidInput)
		}
	case models.RoleStaff:
		if input.ClinicID == "" {
			return Result{}, fmt.Errorf("%w: clinic id is required for staff", ErrInvalidInput)
		}
	default:
		return Result{}, fmt.Errorf("%w: unknown role", ErrInvalidInput)
	}
	if err := s.validate.Struct(input); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), s.cost)
	if err != nil {
		return Result{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	account := models.Account{
		AccountID:    uuid.NewString(),
		Email:        input.Email,
		Role:         input.Role,
		PasswordHash: string(hash),
		CreatedAt:    now,
	}
	if input.Role == models.RoleStaff {
		account.ClinicID = input.ClinicID
	}
	if err := s.accounts.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, store.ErrAccountExists) {
			return Result{}, ErrEmailTaken
		}
		return Result{}, fmt.Errorf("create account: %w", err)
	}
	log.Printf("account registered account=%s role=%s", account.AccountID, account.Role)

	result := Result{Account: account}
	if input.Role != models.RolePatient {
		return result, nil
	}

	patient := models.Patient{
		PatientID: uuid.NewString(),
		AccountID: account.AccountID,
		FullName:  input.FullName,
		Email:     input.Email,
		Phone:     input.Phone,
		CreatedAt: now,
	}
	if err := s.accounts.CreatePatient(ctx, patient); err != nil {
		if cleanupErr := s.accounts.DeleteAccount(ctx, account.AccountID); cleanupErr != nil {
			log.Printf("registration cleanup error account=%s: %v", account.AccountID, cleanupErr)
		}
		return Result{}, fmt.Errorf("create patient: %w", err)
	}
	result.Patient = &patient
	return result, nil
}
