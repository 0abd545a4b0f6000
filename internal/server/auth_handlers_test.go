package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"coldfront/internal/middleware"
	"coldfront/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// MockUserRepository is a mock of the UserRepository interface
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUserRepository) GrantPermission(ctx context.Context, userID uint, codename string) error {
	args := m.Called(ctx, userID, codename)
	return args.Error(0)
}

func (m *MockUserRepository) Access(ctx context.Context, userID uint) (*models.UserAccess, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.UserAccess), args.Error(1)
}

func hashPassword(t *testing.T, pw string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func TestIssueToken(t *testing.T) {
	agent := &models.User{ID: 7, Username: "agent", Password: hashPassword(t, "correct horse"), IsActive: true}
	retired := &models.User{ID: 8, Username: "retired", Password: hashPassword(t, "correct horse"), IsActive: false}

	tests := []struct {
		name       string
		body       map[string]string
		setupMock  func(m *MockUserRepository)
		wantStatus int
	}{
		{
			name: "valid credentials",
			body: map[string]string{"username": "agent", "password": "correct horse"},
			setupMock: func(m *MockUserRepository) {
				m.On("GetByUsername", mock.Anything, "agent").Return(agent, nil)
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "wrong password",
			body: map[string]string{"username": "agent", "password": "battery staple"},
			setupMock: func(m *MockUserRepository) {
				m.On("GetByUsername", mock.Anything, "agent").Return(agent, nil)
			},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "unknown user",
			body: map[string]string{"username": "ghost", "password": "x"},
			setupMock: func(m *MockUserRepository) {
				m.On("GetByUsername", mock.Anything, "ghost").Return(nil, nil)
			},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "inactive user",
			body: map[string]string{"username": "retired", "password": "correct horse"},
			setupMock: func(m *MockUserRepository) {
				m.On("GetByUsername", mock.Anything, "retired").Return(retired, nil)
			},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "missing password",
			body:       map[string]string{"username": "agent"},
			setupMock:  func(m *MockUserRepository) {},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "repository failure",
			body: map[string]string{"username": "agent", "password": "x"},
			setupMock: func(m *MockUserRepository) {
				m.On("GetByUsername", mock.Anything, "agent").Return(nil, models.NewInternalError(errors.New("connection reset")))
			},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockUserRepository)
			tt.setupMock(repo)
			s := &Server{config: testConfig(), userRepo: repo}

			app := fiber.New()
			app.Post("/auth/token", s.IssueToken)

			body, _ := json.Marshal(tt.body)
			req := httptest.NewRequest(http.MethodPost, "/auth/token", bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			resp, err := app.Test(req)
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			repo.AssertExpectations(t)

			if tt.wantStatus == http.StatusOK {
				var got tokenResponse
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
				assert.Equal(t, "Bearer", got.TokenType)
				userID, err := middleware.ParseToken(testJWTSecret, got.AccessToken)
				require.NoError(t, err)
				assert.Equal(t, agent.ID, userID)
			}
			if tt.wantStatus == http.StatusInternalServerError {
				var got models.ErrorResponse
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
				assert.Equal(t, "Internal server error", got.Error)
			}
		})
	}
}

func TestRequireAccess(t *testing.T) {
	repo := new(MockUserRepository)
	repo.On("Access", mock.Anything, uint(1)).Return(&models.UserAccess{
		UserID: 1, IsActive: true, Permissions: []string{models.PermManageStorageRequests},
	}, nil)
	repo.On("Access", mock.Anything, uint(2)).Return(&models.UserAccess{UserID: 2, IsActive: true}, nil)
	repo.On("Access", mock.Anything, uint(3)).Return(nil, models.NewNotFoundError("User", 3))
	s := &Server{config: testConfig(), userRepo: repo}

	app := fiber.New()
	app.Get("/as/:uid", func(c *fiber.Ctx) error {
		uid, _ := c.ParamsInt("uid")
		c.Locals("userID", uint(uid))
		return c.Next()
	}, s.requireAccess(models.UserAccess.CanManageStorageRequests), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	for uid, want := range map[string]int{
		"1": http.StatusOK,
		"2": http.StatusForbidden,
		"3": http.StatusUnauthorized,
	} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/as/"+uid, nil))
		require.NoError(t, err)
		assert.Equal(t, want, resp.StatusCode, "user %s", uid)
		_ = resp.Body.Close()
	}
}
