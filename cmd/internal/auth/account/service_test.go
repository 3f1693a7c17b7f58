package account

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"assist/cmd/identity"
	"assist/cmd/internal/apperror"
	"assist/cmd/internal/audit"
	"assist/cmd/security/password"
	"assist/cmd/security/token"
)

type fixture struct {
	svc   *Service
	store *identity.MemoryStore
	codec token.Codec
	sink  *audit.MemorySink
	now   time.Time
}

func testHasher() password.Config {
	cfg := password.DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	cfg.BcryptCost = 4
	return cfg
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := token.DefaultConfig()
	cfg.Secret = []byte("0123456789abcdef0123456789abcdef")
	codec, err := token.New(cfg)
	require.NoError(t, err)

	f := &fixture{
		store: identity.NewMemoryStore(),
		codec: codec,
		sink:  &audit.MemorySink{},
		now:   time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	svc, err := NewService(f.store, testHasher(), codec,
		audit.NewRecorder(nil, audit.WithSinks(f.sink)),
		WithClock(func() time.Time { return f.now }),
	)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) register(t *testing.T, email, pw, role string) Session {
	t.Helper()
	sess, err := f.svc.Register(context.Background(), RegisterInput{
		Email:       email,
		Password:    pw,
		DisplayName: "Alice",
		Role:        role,
	})
	require.NoError(t, err)
	return sess
}

func requireCode(t *testing.T, err error, status int, code string) {
	t.Helper()
	require.Error(t, err)
	e := apperror.As(err)
	require.Equal(t, code, e.Code)
	require.Equal(t, status, e.Status())
}

func TestRegisterThenLogin(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	reg := f.register(t, "alice@example.com", "secret1", "user")
	require.Equal(t, "user", reg.Profile.Role)
	require.Equal(t, "user", reg.Claims.Role)
	require.NotEmpty(t, reg.Token)

	login, err := f.svc.Login(ctx, " Alice@Example.com ", "secret1")
	require.NoError(t, err)
	require.Equal(t, reg.Profile.ID, login.Claims.SubjectID)
	require.Equal(t, "user", login.Profile.Role)
	require.NotNil(t, login.Profile.LastLoginAt)

	claims, err := f.codec.Verify(login.Token, f.now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, reg.Profile.ID, claims.SubjectID)

	require.Equal(t, []string{"auth.register.success", "auth.login.success"}, f.sink.Actions())
}

func TestLogin_UnknownEmailAndWrongPasswordLookAlike(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "bob@example.com", "secret1", "")

	_, errUnknown := f.svc.Login(ctx, "nobody@example.com", "secret1")
	_, errWrong := f.svc.Login(ctx, "bob@example.com", "wrong-password")

	requireCode(t, errUnknown, 401, CodeInvalidCredentials)
	requireCode(t, errWrong, 401, CodeInvalidCredentials)
	require.Equal(t, apperror.As(errUnknown).Message, apperror.As(errWrong).Message)

	// Audit distinguishes the causes internally.
	evs := f.sink.Events()
	require.Len(t, evs, 3)
	require.Equal(t, "not_found", evs[1].Meta["reason"])
	require.Equal(t, "bad_password", evs[2].Meta["reason"])
	require.Empty(t, evs[1].SubjectID)
	require.NotEmpty(t, evs[2].SubjectID)
}

func TestLogin_MissingFields(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.svc.Login(context.Background(), "", "x")
	requireCode(t, err, 400, CodeInvalidRequest)

	ev, ok := f.sink.Last("auth.login.fail")
	require.True(t, ok)
	require.Equal(t, "missing_fields", ev.Meta["reason"])
}

func TestLogin_InactiveIdentityRejected(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	reg := f.register(t, "carol@example.com", "secret1", "")
	require.NoError(t, f.svc.SetActive(ctx, reg.Profile.ID, false))

	_, err := f.svc.Login(ctx, "carol@example.com", "secret1")
	requireCode(t, err, 401, CodeInvalidCredentials)

	_, err = f.svc.GetProfile(ctx, reg.Profile.ID)
	requireCode(t, err, 404, CodeNotFound)

	_, err = f.svc.Refresh(ctx, reg.Profile.ID)
	requireCode(t, err, 401, CodeSessionInvalid)
}

func TestLogin_RehashesWeakerDigest(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	bcryptCfg := testHasher()
	bcryptCfg.Algorithm = password.AlgorithmBcrypt
	bcryptCfg.Policy.MaxLength = 72
	legacy, err := bcryptCfg.Hash("secret1")
	require.NoError(t, err)

	rec, err := f.store.Create(ctx, identity.CreateInput{
		Email:        "legacy@example.com",
		PasswordHash: legacy,
		Role:         identity.RoleUser,
		DisplayName:  "Legacy",
	})
	require.NoError(t, err)

	_, err = f.svc.Login(ctx, "legacy@example.com", "secret1")
	require.NoError(t, err)

	after, err := f.store.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	require.Contains(t, after.PasswordHash, "$argon2id$")

	_, err = f.svc.Login(ctx, "legacy@example.com", "secret1")
	require.NoError(t, err)
}

func TestRegister_Validation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   RegisterInput
		code string
	}{
		{"missing email", RegisterInput{Password: "secret1", DisplayName: "A"}, CodeInvalidRequest},
		{"missing display name", RegisterInput{Email: "a@example.com", Password: "secret1"}, CodeInvalidRequest},
		{"bad email", RegisterInput{Email: "not-an-email", Password: "secret1", DisplayName: "A"}, CodeInvalidEmail},
		{"email with name", RegisterInput{Email: "Ann <a@example.com>", Password: "secret1", DisplayName: "A"}, CodeInvalidEmail},
		{"no tld", RegisterInput{Email: "a@localhost", Password: "secret1", DisplayName: "A"}, CodeInvalidEmail},
		{"short password", RegisterInput{Email: "a@example.com", Password: "12345", DisplayName: "A"}, CodeWeakPassword},
		{"unknown role", RegisterInput{Email: "a@example.com", Password: "secret1", DisplayName: "A", Role: "root"}, CodeInvalidRole},
		{"self admin", RegisterInput{Email: "a@example.com", Password: "secret1", DisplayName: "A", Role: "admin"}, CodeInvalidRole},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)

			_, err := f.svc.Register(context.Background(), tc.in)
			requireCode(t, err, 400, tc.code)

			ev, ok := f.sink.Last("auth.register.fail")
			require.True(t, ok)
			require.NotEmpty(t, ev.Meta["reason"])
		})
	}
}

func TestRegister_ShortPasswordMessage(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.svc.Register(context.Background(), RegisterInput{Email: "a@example.com", Password: "abc", DisplayName: "A"})
	require.Equal(t, "password too short", apperror.As(err).Message)
}

func TestRegister_DuplicateEmailConflicts(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	first := f.register(t, "dup@example.com", "secret1", "")
	require.NoError(t, f.svc.SetActive(ctx, first.Profile.ID, false))

	_, err := f.svc.Register(ctx, RegisterInput{Email: "DUP@example.com", Password: "secret2", DisplayName: "B"})
	requireCode(t, err, 409, CodeEmailInUse)
}

func TestRegister_ProfessionalAllowedAdminConfigurable(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	pro := f.register(t, "pro@example.com", "secret1", "Professional")
	require.Equal(t, "professional", pro.Claims.Role)

	svc, err := NewService(f.store, testHasher(), f.codec, nil, WithSelfAssignableRoles(identity.RoleAdmin))
	require.NoError(t, err)
	adm, err := svc.Register(context.Background(), RegisterInput{Email: "adm@example.com", Password: "secret1", DisplayName: "Adm", Role: "admin"})
	require.NoError(t, err)
	require.Equal(t, "admin", adm.Claims.Role)
}

func TestUpdateProfile_AllowList(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	reg := f.register(t, "dee@example.com", "secret1", "")

	p, err := f.svc.UpdateProfile(ctx, reg.Profile.ID, map[string]any{
		"display_name": " Dee ",
		"avatar_url":   "https://cdn.example.com/d.png",
		"role":         "admin",
		"email":        "evil@example.com",
	})
	require.NoError(t, err)
	require.Equal(t, "Dee", p.DisplayName)
	require.Equal(t, "https://cdn.example.com/d.png", *p.AvatarURL)
	require.Equal(t, "user", p.Role)
	require.Equal(t, "dee@example.com", p.Email)

	ev, ok := f.sink.Last("identity.profile.update.success")
	require.True(t, ok)
	require.Equal(t, []string{"display_name", "avatar_url"}, ev.Meta["fields"])

	p, err = f.svc.UpdateProfile(ctx, reg.Profile.ID, map[string]any{"avatar_url": nil})
	require.NoError(t, err)
	require.Nil(t, p.AvatarURL)
}

func TestUpdateProfile_NoValidFields(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	reg := f.register(t, "eve@example.com", "secret1", "")

	for _, fields := range []map[string]any{
		{},
		{"role": "admin"},
		{"display_name": "   "},
		{"display_name": 42},
	} {
		_, err := f.svc.UpdateProfile(context.Background(), reg.Profile.ID, fields)
		requireCode(t, err, 400, CodeNoValidFields)
	}

	ev, ok := f.sink.Last("identity.profile.update.fail")
	require.True(t, ok)
	require.Equal(t, "no_valid_fields", ev.Meta["reason"])
}

func TestChangePassword(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	reg := f.register(t, "fin@example.com", "secret1", "")

	err := f.svc.ChangePassword(ctx, reg.Profile.ID, "wrong", "secret2")
	requireCode(t, err, 400, CodeInvalidCurrentPassword)

	err = f.svc.ChangePassword(ctx, reg.Profile.ID, "secret1", "123")
	requireCode(t, err, 400, CodeWeakPassword)

	err = f.svc.ChangePassword(ctx, "01ARZ3NDEKTSV4RRFFQ69G5FAV", "secret1", "secret2")
	requireCode(t, err, 404, CodeNotFound)

	require.NoError(t, f.svc.ChangePassword(ctx, reg.Profile.ID, "secret1", "secret2"))

	_, err = f.svc.Login(ctx, "fin@example.com", "secret1")
	requireCode(t, err, 401, CodeInvalidCredentials)
	_, err = f.svc.Login(ctx, "fin@example.com", "secret2")
	require.NoError(t, err)

	var fails, successes int
	for _, a := range f.sink.Actions() {
		switch a {
		case "identity.password.change.fail":
			fails++
		case "identity.password.change.success":
			successes++
		}
	}
	require.Equal(t, 3, fails)
	require.Equal(t, 1, successes)
}

func TestRefresh_ReflectsCurrentRole(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	reg := f.register(t, "alice@example.com", "secret1", "user")
	_, err := f.svc.AssignRole(ctx, reg.Profile.ID, "admin")
	require.NoError(t, err)

	// The already-issued claim is unchanged.
	old, err := f.codec.Verify(reg.Token, f.now)
	require.NoError(t, err)
	require.Equal(t, "user", old.Role)

	f.now = f.now.Add(2 * time.Second)
	fresh, err := f.svc.Refresh(ctx, reg.Profile.ID)
	require.NoError(t, err)
	require.Equal(t, "admin", fresh.Claims.Role)
	require.True(t, fresh.Claims.IssuedAt.After(old.IssuedAt))
	require.NotEqual(t, reg.Token, fresh.Token)
}

func TestAssignRole_Invalid(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	reg := f.register(t, "gil@example.com", "secret1", "")

	_, err := f.svc.AssignRole(context.Background(), reg.Profile.ID, "superuser")
	requireCode(t, err, 400, CodeInvalidRole)

	_, err = f.svc.AssignRole(context.Background(), "missing", "admin")
	requireCode(t, err, 404, CodeNotFound)
}

func TestLogout_Audited(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.svc.Logout(context.Background(), "s-1")
	ev, ok := f.sink.Last("auth.logout")
	require.True(t, ok)
	require.Equal(t, "s-1", ev.SubjectID)
}
