package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/escolaplus/escola-api/internal/models"
	appErrors "github.com/escolaplus/escola-api/pkg/errors"
)

type mockStudentRepo struct {
	students map[string]*models.Student
	nextID   int
}

func newMockStudentRepo() *mockStudentRepo {
	return &mockStudentRepo{students: make(map[string]*models.Student)}
}

func (m *mockStudentRepo) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	var out []models.Student
	for _, s := range m.students {
		out = append(out, *s)
	}
	return out, len(out), nil
}

func (m *mockStudentRepo) FindByID(ctx context.Context, id string) (*models.Student, error) {
	if s, ok := m.students[id]; ok {
		copied := *s
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockStudentRepo) FindByRA(ctx context.Context, ra string) (*models.Student, error) {
	for _, s := range m.students {
		if s.RA == ra {
			copied := *s
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockStudentRepo) ExistsRA(ctx context.Context, ra, excludeID string) (bool, error) {
	for _, s := range m.students {
		if s.RA == ra && s.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockStudentRepo) Create(ctx context.Context, student *models.Student) error {
	m.nextID++
	student.ID = fmt.Sprintf("s%d", m.nextID)
	copied := *student
	m.students[student.ID] = &copied
	return nil
}

func (m *mockStudentRepo) Update(ctx context.Context, student *models.Student) error {
	if _, ok := m.students[student.ID]; !ok {
		return sql.ErrNoRows
	}
	copied := *student
	m.students[student.ID] = &copied
	return nil
}

func (m *mockStudentRepo) Delete(ctx context.Context, id string) (bool, error) {
	if _, ok := m.students[id]; !ok {
		return false, nil
	}
	delete(m.students, id)
	return true, nil
}

type mockStudentAccounts struct {
	accounts   map[string]*models.User
	failCreate bool
}

func newMockStudentAccounts() *mockStudentAccounts {
	return &mockStudentAccounts{accounts: make(map[string]*models.User)}
}

func (m *mockStudentAccounts) FindByStudentID(ctx context.Context, studentID string) (*models.User, error) {
	if u, ok := m.accounts[studentID]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockStudentAccounts) Create(ctx context.Context, user *models.User) error {
	if m.failCreate {
		return fmt.Errorf("account store unavailable")
	}
	m.accounts[*user.StudentID] = user
	return nil
}

func newStudentFixture() (*StudentService, *mockStudentRepo, *mockStudentAccounts) {
	repo := newMockStudentRepo()
	accounts := newMockStudentAccounts()
	return NewStudentService(repo, accounts, nil, nil), repo, accounts
}

func studentRequest(fullName, ra string) StudentRequest {
	father := "Carlos Souza"
	cpf := "123.456.789-00"
	return StudentRequest{FullName: fullName, RA: ra, FatherName: &father, FatherCPF: &cpf}
}

func TestStudentCreateProvisionsGatedAccount(t *testing.T) {
	svc, _, accounts := newStudentFixture()

	student, err := svc.Create(context.Background(), studentRequest("Alice Souza", "RA100"))
	require.NoError(t, err)
	assert.True(t, student.Active)

	account, ok := accounts.accounts[student.ID]
	require.True(t, ok)
	assert.Equal(t, "RA100", account.Username)
	assert.Equal(t, models.RolePendingStudent, account.Role)
	assert.True(t, account.Active)
}

func TestStudentCreateDuplicateRAConflicts(t *testing.T) {
	svc, _, _ := newStudentFixture()

	_, err := svc.Create(context.Background(), studentRequest("Alice Souza", "RA100"))
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), studentRequest("Bruno Lima", "RA100"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestStudentCreateRequiresGuardianPair(t *testing.T) {
	svc, repo, _ := newStudentFixture()
	father := "Carlos Souza"
	mother := "Maria Souza"
	cpf := "987.654.321-00"

	cases := []struct {
		name string
		req  StudentRequest
	}{
		{"no guardian at all", StudentRequest{FullName: "Alice Souza", RA: "RA100"}},
		{"father name without cpf", StudentRequest{FullName: "Alice Souza", RA: "RA100", FatherName: &father}},
		{"mother cpf without name", StudentRequest{FullName: "Alice Souza", RA: "RA100", MotherCPF: &cpf}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tc.req)
			require.Error(t, err)
			assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
			assert.Empty(t, repo.students)
		})
	}

	// A complete mother pair satisfies the rule even with no father data.
	student, err := svc.Create(context.Background(), StudentRequest{
		FullName: "Alice Souza", RA: "RA100", MotherName: &mother, MotherCPF: &cpf,
	})
	require.NoError(t, err)
	assert.Contains(t, repo.students, student.ID)
}

func TestStudentUpdateRequiresGuardianPair(t *testing.T) {
	svc, _, _ := newStudentFixture()

	alice, err := svc.Create(context.Background(), studentRequest("Alice Souza", "RA100"))
	require.NoError(t, err)

	_, err = svc.Update(context.Background(), alice.ID, StudentRequest{FullName: "Alice Souza", RA: "RA100"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestStudentCreateSurvivesAccountFailure(t *testing.T) {
	svc, repo, accounts := newStudentFixture()
	accounts.failCreate = true

	// Account provisioning is best effort; the student record still lands.
	student, err := svc.Create(context.Background(), studentRequest("Alice Souza", "RA100"))
	require.NoError(t, err)
	assert.Contains(t, repo.students, student.ID)
	assert.Empty(t, accounts.accounts)
}

func TestStudentUpdateChecksNewRA(t *testing.T) {
	svc, _, _ := newStudentFixture()

	alice, err := svc.Create(context.Background(), studentRequest("Alice Souza", "RA100"))
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), studentRequest("Bruno Lima", "RA200"))
	require.NoError(t, err)

	_, err = svc.Update(context.Background(), alice.ID, studentRequest("Alice Souza", "RA200"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)

	// Keeping the current RA does not trip the uniqueness check.
	updated, err := svc.Update(context.Background(), alice.ID, studentRequest("Alice S. Souza", "RA100"))
	require.NoError(t, err)
	assert.Equal(t, "Alice S. Souza", updated.FullName)
}

func TestStudentDelete(t *testing.T) {
	svc, _, _ := newStudentFixture()

	student, err := svc.Create(context.Background(), studentRequest("Alice Souza", "RA100"))
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), student.ID))

	err = svc.Delete(context.Background(), student.ID)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestStudentImportReportsPerRow(t *testing.T) {
	svc, _, _ := newStudentFixture()

	_, err := svc.Create(context.Background(), studentRequest("Existing", "RA300"))
	require.NoError(t, err)

	result, err := svc.Import(context.Background(), ImportRequest{Students: []StudentRequest{
		studentRequest("Alice Souza", "RA100"),
		studentRequest("Bruno Lima", "RA100"),  // duplicate within the batch
		studentRequest("Clara Nunes", "RA300"), // already registered
		studentRequest("X", "RA400"),           // name too short
		{FullName: "Elena Dias", RA: "RA600"},  // no guardian
		studentRequest("Diego Costa", "RA500"),
	}})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Created)
	assert.Equal(t, 4, result.Failed)
	require.Len(t, result.Rows, 6)

	assert.True(t, result.Rows[0].Created)
	assert.NotEmpty(t, result.Rows[0].ID)
	assert.Equal(t, "duplicate registration number within the batch", result.Rows[1].Reason)
	assert.Equal(t, "registration number already in use", result.Rows[2].Reason)
	assert.False(t, result.Rows[3].Created)
	assert.NotEmpty(t, result.Rows[3].Reason)
	assert.Equal(t, "at least one guardian name and CPF pair is required", result.Rows[4].Reason)
	assert.True(t, result.Rows[5].Created)
}
