package user

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"conify/internal/common"
	"conify/internal/config"
)

const testSecret = "test-secret"

func setupTestDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	cleanup := func() {
		db.Close()
	}

	return gormDB, mock, cleanup
}

var selectUser = regexp.QuoteMeta("SELECT * FROM `users` WHERE (user_id = ? AND status = ?)")

func TestUserRepository_GetUserByID(t *testing.T) {
	tests := []struct {
		name      string
		mockSetup func(sqlmock.Sqlmock)
		wantErr   error
		handle    string
	}{
		{
			name: "active user",
			mockSetup: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows([]string{"user_id", "handle", "email", "status"}).
					AddRow(7, "alice", "a@x.com", "active")
				mock.ExpectQuery(selectUser).WillReturnRows(rows)
			},
			handle: "alice",
		},
		{
			name: "missing or inactive user",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(selectUser).WillReturnRows(sqlmock.NewRows([]string{"user_id"}))
			},
			wantErr: common.ErrNotFound,
		},
		{
			name: "database error",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(selectUser).WillReturnError(assert.AnError)
			},
			wantErr: assert.AnError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, cleanup := setupTestDB(t)
			defer cleanup()
			tt.mockSetup(mock)

			u, err := NewUserRepository(db).GetUserByID(context.Background(), 7)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, u)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.handle, u.Handle)
				assert.True(t, u.IsActive())
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func token(t *testing.T, userID int64, handle string) string {
	t.Helper()
	tok, err := common.GenerateToken([]byte(testSecret), userID, handle, time.Hour)
	require.NoError(t, err)
	return tok
}

func TestResolver_Resolve(t *testing.T) {
	cfg := &config.Config{Auth: config.AuthConfig{JWTSecret: testSecret}}

	t.Run("valid token for active user", func(t *testing.T) {
		db, mock, cleanup := setupTestDB(t)
		defer cleanup()
		mock.ExpectQuery(selectUser).WillReturnRows(
			sqlmock.NewRows([]string{"user_id", "handle", "status"}).AddRow(7, "alice", "active"))

		r := NewResolver(cfg, NewUserRepository(db), zap.NewNop())
		id, err := r.Resolve(context.Background(), token(t, 7, "old-handle"))
		require.NoError(t, err)
		assert.Equal(t, common.Identity{UserID: 7, Name: "alice"}, id)
		assert.True(t, id.Authenticated())
	})

	t.Run("inactive account", func(t *testing.T) {
		db, mock, cleanup := setupTestDB(t)
		defer cleanup()
		mock.ExpectQuery(selectUser).WillReturnRows(sqlmock.NewRows([]string{"user_id"}))

		r := NewResolver(cfg, NewUserRepository(db), zap.NewNop())
		_, err := r.Resolve(context.Background(), token(t, 7, "alice"))
		assert.ErrorIs(t, err, common.ErrUnauthenticated)
	})

	t.Run("bad credentials never reach the database", func(t *testing.T) {
		r := NewResolver(cfg, nil, zap.NewNop())

		_, err := r.Resolve(context.Background(), "")
		assert.ErrorIs(t, err, common.ErrUnauthenticated)

		_, err = r.Resolve(context.Background(), "not-a-jwt")
		assert.ErrorIs(t, err, common.ErrUnauthenticated)

		forged, err := common.GenerateToken([]byte("other-secret"), 7, "alice", time.Hour)
		require.NoError(t, err)
		_, err = r.Resolve(context.Background(), forged)
		assert.ErrorIs(t, err, common.ErrUnauthenticated)

		expired, err := common.GenerateToken([]byte(testSecret), 7, "alice", -time.Minute)
		require.NoError(t, err)
		_, err = r.Resolve(context.Background(), expired)
		assert.ErrorIs(t, err, common.ErrUnauthenticated)
	})

	t.Run("claims trusted without repository", func(t *testing.T) {
		r := NewResolver(cfg, nil, zap.NewNop())
		id, err := r.Resolve(context.Background(), token(t, 9, "bob"))
		require.NoError(t, err)
		assert.Equal(t, common.UserIdentity(9, "bob"), id)
	})
}
