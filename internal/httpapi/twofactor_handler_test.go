package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feen-dev/feen-gateway/internal/config"
	"github.com/feen-dev/feen-gateway/internal/model"
	"github.com/feen-dev/feen-gateway/internal/process"
	"github.com/feen-dev/feen-gateway/internal/store/postgres"
	"github.com/feen-dev/feen-gateway/internal/vault"
)

type fakeUserRepo struct{ byID map[string]*model.User }

func (f *fakeUserRepo) Create(_ context.Context, u *model.User) error {
	f.byID[u.ID] = u
	return nil
}
func (f *fakeUserRepo) Get(_ context.Context, id string) (*model.User, error) {
	u, ok := f.byID[id]
	if !ok {
		return nil, postgres.ErrNotFound
	}
	return u, nil
}
func (f *fakeUserRepo) GetByEmail(_ context.Context, email string) (*model.User, error) {
	for _, u := range f.byID {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, postgres.ErrNotFound
}
func (f *fakeUserRepo) SetDisabled(_ context.Context, id string, disabled bool) error {
	f.byID[id].Disabled = disabled
	return nil
}
func (f *fakeUserRepo) SetTOTP(_ context.Context, id string, secret *string, enabled bool, hashes []string) error {
	u := f.byID[id]
	u.TOTPSecret = secret
	u.TOTPEnabled = enabled
	u.BackupCodeHashes = hashes
	return nil
}

func newTwoFactorProcess(t *testing.T, user *model.User) (*process.Context, *fakeUserRepo) {
	t.Helper()
	users := &fakeUserRepo{byID: map[string]*model.User{user.ID: user}}
	proc := &process.Context{
		Config: config.Defaults(),
		Store:  &postgres.Store{Users: users, AuditLogs: &fakeAuditRepo{}},
	}
	return proc, users
}

func TestEnrollTwoFactorIssuesSecretWithoutEnabling(t *testing.T) {
	user := &model.User{ID: "user-1", Email: "user@example.com"}
	proc, users := newTwoFactorProcess(t, user)

	c, w := newAuthedRequest(t, http.MethodPost, "/2fa/enroll", nil, "user-1")

	enrollTwoFactor(proc)(c)

	require.Equal(t, http.StatusOK, w.Code)
	var resp enrollTwoFactorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Secret)
	assert.Len(t, resp.BackupCodes, 10)
	assert.False(t, users.byID["user-1"].TOTPEnabled, "enroll alone must not enable 2fa")
}

func TestVerifyTwoFactorEnablesOnFirstValidCode(t *testing.T) {
	secret := "JBSWY3DPEHPK3PXP"
	user := &model.User{ID: "user-1", Email: "user@example.com", TOTPSecret: &secret}
	proc, users := newTwoFactorProcess(t, user)

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)

	c, w := newAuthedRequest(t, http.MethodPost, "/2fa/verify", verifyTwoFactorRequest{Code: code}, "user-1")

	verifyTwoFactor(proc)(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, users.byID["user-1"].TOTPEnabled)
}

func TestVerifyTwoFactorRejectsBadCode(t *testing.T) {
	secret := "JBSWY3DPEHPK3PXP"
	user := &model.User{ID: "user-1", Email: "user@example.com", TOTPSecret: &secret}
	proc, _ := newTwoFactorProcess(t, user)

	c, w := newAuthedRequest(t, http.MethodPost, "/2fa/verify", verifyTwoFactorRequest{Code: "000000"}, "user-1")

	verifyTwoFactor(proc)(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVerifyTwoFactorFallsBackToBackupCodeAndConsumesIt(t *testing.T) {
	secret := "JBSWY3DPEHPK3PXP"
	codes, hashes, err := vault.GenerateBackupCodes(3)
	require.NoError(t, err)
	user := &model.User{
		ID: "user-1", Email: "user@example.com",
		TOTPSecret: &secret, TOTPEnabled: true, BackupCodeHashes: hashes,
	}
	proc, users := newTwoFactorProcess(t, user)

	c, w := newAuthedRequest(t, http.MethodPost, "/2fa/verify", verifyTwoFactorRequest{Code: codes[0]}, "user-1")

	verifyTwoFactor(proc)(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, users.byID["user-1"].BackupCodeHashes, 2, "used code is removed from the remaining set")

	// Reusing the same backup code must fail.
	c2, w2 := newAuthedRequest(t, http.MethodPost, "/2fa/verify", verifyTwoFactorRequest{Code: codes[0]}, "user-1")
	verifyTwoFactor(proc)(c2)
	assert.Equal(t, http.StatusBadRequest, w2.Code)
}

func TestDisableTwoFactorClearsSecretAndCodes(t *testing.T) {
	secret := "JBSWY3DPEHPK3PXP"
	user := &model.User{ID: "user-1", Email: "user@example.com", TOTPSecret: &secret, TOTPEnabled: true}
	proc, users := newTwoFactorProcess(t, user)

	c, w := newAuthedRequest(t, http.MethodPost, "/2fa/disable", nil, "user-1")

	disableTwoFactor(proc)(c)
	c.Writer.WriteHeaderNow()

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Nil(t, users.byID["user-1"].TOTPSecret)
	assert.False(t, users.byID["user-1"].TOTPEnabled)
}

