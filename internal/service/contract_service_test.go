package service

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/escolaplus/escola-api/internal/models"
	appErrors "github.com/escolaplus/escola-api/pkg/errors"
)

type mockContractRepo struct {
	contracts map[string]models.Contract
	live      map[string]bool
	promoted  bool
}

func newMockContractRepo() *mockContractRepo {
	return &mockContractRepo{contracts: make(map[string]models.Contract), live: make(map[string]bool)}
}

func (m *mockContractRepo) Create(ctx context.Context, contract *models.Contract) error {
	if contract.ID == "" {
		contract.ID = "ct-1"
	}
	if contract.Status == "" {
		contract.Status = models.ContractStatusPending
	}
	m.contracts[contract.ID] = *contract
	return nil
}

func (m *mockContractRepo) FindByID(ctx context.Context, id string) (*models.Contract, error) {
	if c, ok := m.contracts[id]; ok {
		return &c, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockContractRepo) FindDetailByID(ctx context.Context, id string) (*models.ContractDetail, error) {
	if c, ok := m.contracts[id]; ok {
		return &models.ContractDetail{Contract: c, StudentID: "s1", StudentRA: "RA100"}, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockContractRepo) ExistsLiveByEnrollment(ctx context.Context, enrollmentID string) (bool, error) {
	return m.live[enrollmentID], nil
}

func (m *mockContractRepo) Sign(ctx context.Context, id, signedDocumentPath, ip string, signedAt time.Time) (bool, error) {
	c, ok := m.contracts[id]
	if !ok || c.Status != models.ContractStatusPending {
		return false, nil
	}
	c.Status = models.ContractStatusUnderReview
	c.SignedDocumentPath = &signedDocumentPath
	c.SignatureIP = &ip
	c.SignatureTimestamp = &signedAt
	m.contracts[id] = c
	return true, nil
}

func (m *mockContractRepo) ValidateAndPromote(ctx context.Context, id string) (bool, error) {
	c, ok := m.contracts[id]
	if !ok || c.Status != models.ContractStatusUnderReview {
		return false, nil
	}
	c.Status = models.ContractStatusValidated
	c.Validated = true
	m.contracts[id] = c
	m.promoted = true
	return true, nil
}

func (m *mockContractRepo) Delete(ctx context.Context, id string) error {
	delete(m.contracts, id)
	return nil
}

type mockContractUsers struct {
	user *models.User
}

func (m *mockContractUsers) FindByStudentID(ctx context.Context, studentID string) (*models.User, error) {
	if m.user == nil {
		return nil, sql.ErrNoRows
	}
	return m.user, nil
}

type mockDocStore struct {
	saved   map[string][]byte
	deleted []string
}

func (m *mockDocStore) SaveStream(filename string, r io.Reader) (string, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if m.saved == nil {
		m.saved = make(map[string][]byte)
	}
	m.saved[filename] = buf
	return filename, nil
}

func (m *mockDocStore) Open(filename string) (*os.File, error) {
	return nil, os.ErrNotExist
}

func (m *mockDocStore) Delete(filename string) error {
	m.deleted = append(m.deleted, filename)
	return nil
}

type mockTokenIssuer struct {
	issued      bool
	provisional bool
	revoked     []string
}

func (m *mockTokenIssuer) IssueAccessToken(user *models.User, provisional bool) (string, int64, error) {
	m.issued = true
	m.provisional = provisional
	return "token-123", 3600, nil
}

func (m *mockTokenIssuer) RevokeSessions(ctx context.Context, userID string) error {
	m.revoked = append(m.revoked, userID)
	return nil
}

func pendingStudentClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "u1", Username: "RA100", Role: models.RolePendingStudent}
}

func newContractFixture() (*ContractService, *mockContractRepo, *mockDocStore, *mockTokenIssuer) {
	repo := newMockContractRepo()
	store := &mockDocStore{}
	tokens := &mockTokenIssuer{}
	users := &mockContractUsers{user: &models.User{ID: "u1", Username: "RA100", Role: models.RolePendingStudent, Active: true}}
	svc := NewContractService(repo, users, store, tokens, zap.NewNop())
	return svc, repo, store, tokens
}

func TestContractCreateRejectsSecondLiveContract(t *testing.T) {
	svc, repo, _, _ := newContractFixture()
	repo.live["e1"] = true

	_, err := svc.Create(context.Background(), "e1", "2025/e1.pdf")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestContractSignHappyPath(t *testing.T) {
	svc, repo, store, tokens := newContractFixture()
	repo.contracts["ct-1"] = models.Contract{ID: "ct-1", EnrollmentID: "e1", Status: models.ContractStatusPending}

	result, err := svc.Sign(context.Background(), pendingStudentClaims(), "ct-1",
		bytes.NewReader([]byte("%PDF-1.4 signed")), "203.0.113.7")
	require.NoError(t, err)

	assert.Equal(t, models.ContractStatusUnderReview, result.Contract.Status)
	require.NotNil(t, result.Contract.SignatureIP)
	assert.Equal(t, "203.0.113.7", *result.Contract.SignatureIP)
	assert.NotNil(t, result.Contract.SignatureTimestamp)
	assert.Contains(t, store.saved, "ct-1/signed.pdf")

	assert.Equal(t, "token-123", result.AccessToken)
	assert.True(t, tokens.provisional)
}

func TestContractSignByWrongStudentForbidden(t *testing.T) {
	svc, repo, _, _ := newContractFixture()
	repo.contracts["ct-1"] = models.Contract{ID: "ct-1", EnrollmentID: "e1", Status: models.ContractStatusPending}

	stranger := &models.JWTClaims{UserID: "u2", Username: "RA200", Role: models.RolePendingStudent}
	_, err := svc.Sign(context.Background(), stranger, "ct-1", bytes.NewReader(nil), "203.0.113.7")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestContractSignTwiceConflicts(t *testing.T) {
	svc, repo, _, _ := newContractFixture()
	repo.contracts["ct-1"] = models.Contract{ID: "ct-1", EnrollmentID: "e1", Status: models.ContractStatusUnderReview}

	_, err := svc.Sign(context.Background(), pendingStudentClaims(), "ct-1", bytes.NewReader(nil), "203.0.113.7")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestContractValidatePromotesAccount(t *testing.T) {
	svc, repo, _, tokens := newContractFixture()
	repo.contracts["ct-1"] = models.Contract{ID: "ct-1", EnrollmentID: "e1", Status: models.ContractStatusUnderReview}

	contract, err := svc.Validate(context.Background(), "ct-1")
	require.NoError(t, err)

	assert.Equal(t, models.ContractStatusValidated, contract.Status)
	assert.True(t, contract.Validated)
	assert.True(t, repo.promoted)

	// Sessions issued before the promotion still carry the restricted role.
	assert.Equal(t, []string{"u1"}, tokens.revoked)
}

func TestContractValidateUnsignedConflicts(t *testing.T) {
	svc, repo, _, _ := newContractFixture()
	repo.contracts["ct-1"] = models.Contract{ID: "ct-1", EnrollmentID: "e1", Status: models.ContractStatusPending}

	_, err := svc.Validate(context.Background(), "ct-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestContractValidateIsIdempotent(t *testing.T) {
	svc, repo, _, tokens := newContractFixture()
	repo.contracts["ct-1"] = models.Contract{ID: "ct-1", EnrollmentID: "e1", Status: models.ContractStatusValidated, Validated: true}

	contract, err := svc.Validate(context.Background(), "ct-1")
	require.NoError(t, err)
	assert.Equal(t, models.ContractStatusValidated, contract.Status)
	assert.Empty(t, tokens.revoked)
}

func TestContractValidateMissing(t *testing.T) {
	svc, _, _, _ := newContractFixture()

	_, err := svc.Validate(context.Background(), "nope")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestContractGetAccessControl(t *testing.T) {
	svc, repo, _, _ := newContractFixture()
	repo.contracts["ct-1"] = models.Contract{ID: "ct-1", EnrollmentID: "e1", Status: models.ContractStatusPending}

	_, err := svc.Get(context.Background(), pendingStudentClaims(), "ct-1")
	require.NoError(t, err)

	stranger := &models.JWTClaims{UserID: "u2", Username: "RA200", Role: models.RoleStudent}
	_, err = svc.Get(context.Background(), stranger, "ct-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}
