package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/escolaplus/escola-api/internal/models"
	appErrors "github.com/escolaplus/escola-api/pkg/errors"
)

type contractRepository interface {
	Create(ctx context.Context, contract *models.Contract) error
	FindByID(ctx context.Context, id string) (*models.Contract, error)
	FindDetailByID(ctx context.Context, id string) (*models.ContractDetail, error)
	ExistsLiveByEnrollment(ctx context.Context, enrollmentID string) (bool, error)
	Sign(ctx context.Context, id, signedDocumentPath, ip string, signedAt time.Time) (bool, error)
	ValidateAndPromote(ctx context.Context, id string) (bool, error)
	Delete(ctx context.Context, id string) error
}

type contractUserReader interface {
	FindByStudentID(ctx context.Context, studentID string) (*models.User, error)
}

type contractDocumentStore interface {
	SaveStream(filename string, r io.Reader) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
}

type accessTokenIssuer interface {
	IssueAccessToken(user *models.User, provisional bool) (string, int64, error)
	RevokeSessions(ctx context.Context, userID string) error
}

// SignResult carries the updated contract plus the re-issued access token so
// the signer's session reflects the new paperwork state immediately.
type SignResult struct {
	Contract    *models.Contract `json:"contract"`
	AccessToken string           `json:"access_token,omitempty"`
	ExpiresIn   int64            `json:"expires_in,omitempty"`
}

// ContractService manages the tuition agreement lifecycle.
type ContractService struct {
	repo   contractRepository
	users  contractUserReader
	store  contractDocumentStore
	tokens accessTokenIssuer
	logger *zap.Logger
	now    func() time.Time
}

// NewContractService constructs a ContractService.
func NewContractService(repo contractRepository, users contractUserReader, store contractDocumentStore, tokens accessTokenIssuer, logger *zap.Logger) *ContractService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContractService{
		repo:   repo,
		users:  users,
		store:  store,
		tokens: tokens,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create registers a new PENDING contract for the enrollment. An enrollment
// may hold at most one contract that is not yet validated.
func (s *ContractService) Create(ctx context.Context, enrollmentID, documentPath string) (*models.Contract, error) {
	exists, err := s.repo.ExistsLiveByEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing contracts")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "enrollment already has a contract awaiting signature or review")
	}

	contract := &models.Contract{
		EnrollmentID: enrollmentID,
		DocumentPath: documentPath,
		Status:       models.ContractStatusPending,
	}
	if err := s.repo.Create(ctx, contract); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create contract")
	}
	return contract, nil
}

// Get returns the contract, restricted to staff or the owning student.
func (s *ContractService) Get(ctx context.Context, claims *models.JWTClaims, id string) (*models.ContractDetail, error) {
	detail, err := s.loadDetail(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.requireContractAccess(claims, detail); err != nil {
		return nil, err
	}
	return detail, nil
}

// Sign stamps the student's signature onto a PENDING contract: the uploaded
// signed document is stored, the signer's IP and timestamp are recorded, and a
// provisional access token is re-issued so the session carries the new state.
func (s *ContractService) Sign(ctx context.Context, claims *models.JWTClaims, id string, signedDocument io.Reader, ip string) (*SignResult, error) {
	detail, err := s.loadDetail(ctx, id)
	if err != nil {
		return nil, err
	}

	if claims == nil || (claims.Role != models.RolePendingStudent && claims.Role != models.RoleStudent) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the enrolled student may sign")
	}
	user, err := s.users.FindByStudentID(ctx, detail.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "no account linked to this enrollment")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load signer account")
	}
	if user.ID != claims.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "contract belongs to another student")
	}

	switch detail.Status {
	case models.ContractStatusValidated:
		return nil, appErrors.Clone(appErrors.ErrConflict, "contract already validated")
	case models.ContractStatusUnderReview:
		return nil, appErrors.Clone(appErrors.ErrConflict, "contract already signed and under review")
	}

	signedAt := s.now()
	signedPath := fmt.Sprintf("%s/signed.pdf", id)
	if _, err := s.store.SaveStream(signedPath, signedDocument); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store signed document")
	}

	ok, err := s.repo.Sign(ctx, id, signedPath, ip, signedAt)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign contract")
	}
	if !ok {
		// Lost a race with another signature attempt; drop the orphaned upload.
		if delErr := s.store.Delete(signedPath); delErr != nil {
			s.logger.Warn("failed to remove orphaned signed document", zap.String("contract_id", id), zap.Error(delErr))
		}
		return nil, appErrors.Clone(appErrors.ErrConflict, "contract is no longer awaiting signature")
	}

	contract, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload contract")
	}

	result := &SignResult{Contract: contract}
	token, expiresIn, err := s.tokens.IssueAccessToken(user, true)
	if err != nil {
		s.logger.Warn("failed to issue provisional token after signature", zap.String("contract_id", id), zap.Error(err))
	} else {
		result.AccessToken = token
		result.ExpiresIn = expiresIn
	}
	return result, nil
}

// Validate approves a signed contract and promotes the owning account from
// PENDING_STUDENT to STUDENT. Validating an already validated contract is a
// no-op success.
func (s *ContractService) Validate(ctx context.Context, id string) (*models.Contract, error) {
	detail, err := s.loadDetail(ctx, id)
	if err != nil {
		return nil, err
	}

	switch detail.Status {
	case models.ContractStatusValidated:
		return &detail.Contract, nil
	case models.ContractStatusPending:
		return nil, appErrors.Clone(appErrors.ErrConflict, "contract has not been signed yet")
	}

	ok, err := s.repo.ValidateAndPromote(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate contract")
	}
	if !ok {
		// A concurrent validation may have won; idempotent when it did.
		current, loadErr := s.loadContract(ctx, id)
		if loadErr != nil {
			return nil, loadErr
		}
		if current.Status == models.ContractStatusValidated {
			return current, nil
		}
		return nil, appErrors.Clone(appErrors.ErrConflict, "contract is not awaiting validation")
	}

	// Outstanding sessions still carry the restricted role; revoke them so the
	// next login reflects the promotion.
	s.revokeOwnerSessions(ctx, detail)

	return s.loadContract(ctx, id)
}

// Delete removes a contract record. Used by the enrollment saga's compensating
// cleanup when billing setup fails irrecoverably.
func (s *ContractService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete contract")
	}
	return nil
}

func (s *ContractService) revokeOwnerSessions(ctx context.Context, detail *models.ContractDetail) {
	user, err := s.users.FindByStudentID(ctx, detail.StudentID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("failed to load account for session revocation",
				zap.String("contract_id", detail.ID), zap.Error(err))
		}
		return
	}
	if err := s.tokens.RevokeSessions(ctx, user.ID); err != nil {
		s.logger.Warn("failed to revoke sessions after contract validation",
			zap.String("contract_id", detail.ID), zap.String("user_id", user.ID), zap.Error(err))
	}
}

// Document opens the stored agreement for download. The signed version is
// served once it exists, otherwise the generated original.
func (s *ContractService) Document(ctx context.Context, claims *models.JWTClaims, id string) (*os.File, error) {
	detail, err := s.loadDetail(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.requireContractAccess(claims, detail); err != nil {
		return nil, err
	}

	path := detail.DocumentPath
	if detail.SignedDocumentPath != nil && *detail.SignedDocumentPath != "" {
		path = *detail.SignedDocumentPath
	}
	file, err := s.store.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "contract document not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open contract document")
	}
	return file, nil
}

func (s *ContractService) loadContract(ctx context.Context, id string) (*models.Contract, error) {
	contract, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "contract not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch contract")
	}
	return contract, nil
}

func (s *ContractService) loadDetail(ctx context.Context, id string) (*models.ContractDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "contract not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch contract")
	}
	return detail, nil
}

func (s *ContractService) requireContractAccess(claims *models.JWTClaims, detail *models.ContractDetail) error {
	if claims == nil {
		return appErrors.Clone(appErrors.ErrUnauthorized, "")
	}
	switch claims.Role {
	case models.RoleAdmin, models.RoleTeacher:
		return nil
	case models.RoleStudent, models.RolePendingStudent:
		if claims.Username == detail.StudentRA {
			return nil
		}
	}
	return appErrors.Clone(appErrors.ErrForbidden, "contract belongs to another student")
}
