package account

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"assist/cmd/identity"
	"assist/cmd/internal/apperror"
	"assist/cmd/internal/audit"
	"assist/cmd/security/password"
	"assist/cmd/security/token"
)

// Service implements the identity operations.
type Service struct {
	log    *slog.Logger
	store  identity.Store
	hasher password.Config
	codec  token.Codec
	audit  *audit.Recorder
	now    func() time.Time

	selfRoles map[identity.Role]bool
	dummyHash string
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSelfAssignableRoles sets which roles registration may request (default: user, professional).
func WithSelfAssignableRoles(roles ...identity.Role) Option {
	return func(s *Service) {
		s.selfRoles = make(map[identity.Role]bool, len(roles))
		for _, r := range roles {
			if r.Valid() {
				s.selfRoles[r] = true
			}
		}
	}
}

// NewService wires the identity service.
func NewService(store identity.Store, hasher password.Config, codec token.Codec, rec *audit.Recorder, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("account: nil store")
	}
	if codec == nil {
		return nil, errors.New("account: nil token codec")
	}
	if err := hasher.Check(); err != nil {
		return nil, err
	}

	s := &Service{
		log:    slog.Default(),
		store:  store,
		hasher: hasher,
		codec:  codec,
		audit:  rec,
		now:    func() time.Time { return time.Now().UTC() },
		selfRoles: map[identity.Role]bool{
			identity.RoleUser:         true,
			identity.RoleProfessional: true,
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	// Dummy hash for timing-resistant login checks.
	if h, err := hasher.Hash("dummy-password-for-timing-only"); err == nil {
		s.dummyHash = h
	}
	return s, nil
}

// Login verifies credentials and issues a session. Unknown email and wrong password fail identically.
func (s *Service) Login(ctx context.Context, email, pw string) (Session, error) {
	const action = ActionLogin
	email = identity.NormalizeEmail(email)

	if email == "" || pw == "" {
		s.fail(ctx, action, "", "missing_fields", map[string]any{"email": email})
		return Session{}, apperror.Validation(CodeInvalidRequest, "email and password are required")
	}

	rec, err := s.store.FindActiveByEmail(ctx, email)
	if err != nil {
		if identity.IsNotFound(err) {
			if s.dummyHash != "" {
				_ = s.hasher.Verify(pw, s.dummyHash)
			}
			s.fail(ctx, action, "", "not_found", map[string]any{"email": email})
			return Session{}, errInvalidCredentials
		}
		s.fail(ctx, action, "", "store_error", map[string]any{"email": email})
		return Session{}, s.internal("account.login.lookup.fail", err)
	}

	if !s.hasher.Verify(pw, rec.PasswordHash) {
		s.fail(ctx, action, rec.ID, "bad_password", map[string]any{"email": email})
		return Session{}, errInvalidCredentials
	}

	now := s.now()
	s.maybeRehash(ctx, rec, pw, now)
	if err := s.store.TouchLastLogin(ctx, rec.ID, now); err != nil {
		s.log.Warn("account.login.touch.fail", "err", err, "subject_id", rec.ID)
	} else {
		rec.LastLoginAt = &now
	}

	sess, err := s.issue(rec, now)
	if err != nil {
		s.fail(ctx, action, rec.ID, "issue_error", nil)
		return Session{}, s.internal("account.login.issue.fail", err)
	}

	s.record(ctx, action+".success", rec.ID, map[string]any{"email": email, "role": string(rec.Role)})
	return sess, nil
}

// Register creates an active identity and issues its first session.
func (s *Service) Register(ctx context.Context, in RegisterInput) (Session, error) {
	const action = ActionRegister
	email := identity.NormalizeEmail(in.Email)
	displayName := strings.TrimSpace(in.DisplayName)
	meta := map[string]any{"email": email}

	if email == "" || in.Password == "" || displayName == "" {
		s.fail(ctx, action, "", "missing_fields", meta)
		return Session{}, apperror.Validation(CodeInvalidRequest, "email, password and display_name are required")
	}
	if !validEmail(email) {
		s.fail(ctx, action, "", "invalid_email", meta)
		return Session{}, apperror.Validation(CodeInvalidEmail, "invalid email")
	}

	role := identity.RoleUser
	if strings.TrimSpace(in.Role) != "" {
		r, ok := identity.ParseRole(in.Role)
		if !ok || !s.selfRoles[r] {
			meta["role"] = in.Role
			s.fail(ctx, action, "", "invalid_role", meta)
			return Session{}, apperror.Validation(CodeInvalidRole, "invalid role")
		}
		role = r
	}
	meta["role"] = string(role)

	if err := s.hasher.Validate(in.Password); err != nil {
		s.fail(ctx, action, "", "weak_password", meta)
		return Session{}, passwordPolicyError(err)
	}

	exists, err := s.store.ExistsByEmail(ctx, email)
	if err != nil {
		s.fail(ctx, action, "", "store_error", meta)
		return Session{}, s.internal("account.register.lookup.fail", err)
	}
	if exists {
		s.fail(ctx, action, "", "email_in_use", meta)
		return Session{}, errEmailInUse
	}

	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		s.fail(ctx, action, "", "hash_error", meta)
		return Session{}, s.internal("account.register.hash.fail", err)
	}

	now := s.now()
	rec, err := s.store.Create(ctx, identity.CreateInput{
		Email:        email,
		PasswordHash: digest,
		Role:         role,
		DisplayName:  displayName,
		Now:          now,
	})
	if err != nil {
		if identity.IsConflict(err) {
			s.fail(ctx, action, "", "email_in_use", meta)
			return Session{}, errEmailInUse
		}
		s.fail(ctx, action, "", "store_error", meta)
		return Session{}, s.internal("account.register.create.fail", err)
	}

	sess, err := s.issue(rec, now)
	if err != nil {
		s.fail(ctx, action, rec.ID, "issue_error", meta)
		return Session{}, s.internal("account.register.issue.fail", err)
	}

	s.record(ctx, action+".success", rec.ID, meta)
	return sess, nil
}

// GetProfile returns the profile of an active identity.
func (s *Service) GetProfile(ctx context.Context, subjectID string) (Profile, error) {
	rec, err := s.activeByID(ctx, subjectID, false)
	if err != nil {
		return Profile{}, s.classifyLookup("account.profile.get.fail", err)
	}
	return toProfile(rec), nil
}

// UpdateProfile applies the allow-listed fields in fields (display_name, avatar_url).
// Other keys and wrongly-typed values are dropped; if nothing remains the call fails.
func (s *Service) UpdateProfile(ctx context.Context, subjectID string, fields map[string]any) (Profile, error) {
	const action = ActionProfileUpdate

	upd, applied := profileUpdateFrom(fields)
	if upd.Empty() {
		s.fail(ctx, action, subjectID, "no_valid_fields", nil)
		return Profile{}, errNoValidFields
	}
	meta := map[string]any{"fields": applied}

	if _, err := s.activeByID(ctx, subjectID, true); err != nil {
		s.fail(ctx, action, subjectID, reasonFor(err), meta)
		return Profile{}, s.classifyLookup("account.profile.update.fail", err)
	}

	rec, err := s.store.UpdateProfile(ctx, subjectID, upd, s.now())
	if err != nil {
		s.fail(ctx, action, subjectID, reasonFor(err), meta)
		if identity.IsInvalidInput(err) {
			return Profile{}, errNoValidFields
		}
		return Profile{}, s.classifyLookup("account.profile.update.fail", err)
	}

	s.record(ctx, action+".success", subjectID, meta)
	return toProfile(rec), nil
}

// ChangePassword replaces the password after verifying the current one.
func (s *Service) ChangePassword(ctx context.Context, subjectID, current, next string) error {
	const action = ActionPasswordChange

	if current == "" || next == "" {
		s.fail(ctx, action, subjectID, "missing_fields", nil)
		return apperror.Validation(CodeInvalidRequest, "current and new password are required")
	}

	rec, err := s.activeByID(ctx, subjectID, true)
	if err != nil {
		s.fail(ctx, action, subjectID, reasonFor(err), nil)
		return s.classifyLookup("account.password.lookup.fail", err)
	}

	if !s.hasher.Verify(current, rec.PasswordHash) {
		s.fail(ctx, action, subjectID, "bad_current_password", nil)
		return errWrongCurrent
	}
	if err := s.hasher.Validate(next); err != nil {
		s.fail(ctx, action, subjectID, "weak_password", nil)
		return passwordPolicyError(err)
	}

	digest, err := s.hasher.Hash(next)
	if err != nil {
		s.fail(ctx, action, subjectID, "hash_error", nil)
		return s.internal("account.password.hash.fail", err)
	}
	if err := s.store.UpdatePasswordHash(ctx, subjectID, digest, s.now()); err != nil {
		s.fail(ctx, action, subjectID, reasonFor(err), nil)
		return s.classifyLookup("account.password.update.fail", err)
	}

	s.record(ctx, action+".success", subjectID, nil)
	return nil
}

// Refresh issues a brand-new session from the identity's current stored state.
// The presented claim is not modified; it stays valid until its own expiry.
func (s *Service) Refresh(ctx context.Context, subjectID string) (Session, error) {
	const action = "auth.refresh"

	rec, err := s.activeByID(ctx, subjectID, true)
	if err != nil {
		s.fail(ctx, action, subjectID, reasonFor(err), nil)
		if identity.IsNotFound(err) {
			return Session{}, errSessionInvalid
		}
		return Session{}, s.internal("account.refresh.lookup.fail", err)
	}

	sess, err := s.issue(rec, s.now())
	if err != nil {
		s.fail(ctx, action, subjectID, "issue_error", nil)
		return Session{}, s.internal("account.refresh.issue.fail", err)
	}

	s.record(ctx, action+".success", subjectID, map[string]any{"role": string(rec.Role)})
	return sess, nil
}

// Logout records the logout. Tokens are stateless; the transport clears its copy.
func (s *Service) Logout(ctx context.Context, subjectID string) {
	s.record(ctx, "auth.logout", subjectID, nil)
}

// AssignRole changes an identity's role. Tokens already issued keep their old role until refreshed.
func (s *Service) AssignRole(ctx context.Context, subjectID, role string) (Profile, error) {
	const action = "identity.role.change"

	r, ok := identity.ParseRole(role)
	if !ok {
		s.fail(ctx, action, subjectID, "invalid_role", map[string]any{"role": role})
		return Profile{}, apperror.Validation(CodeInvalidRole, "invalid role")
	}

	rec, err := s.store.SetRole(ctx, subjectID, r, s.now())
	if err != nil {
		s.fail(ctx, action, subjectID, reasonFor(err), map[string]any{"role": string(r)})
		return Profile{}, s.classifyLookup("account.role.change.fail", err)
	}

	s.record(ctx, action+".success", subjectID, map[string]any{"role": string(r)})
	return toProfile(rec), nil
}

// SetActive enables or disables an identity. Disabled identities cannot log in or refresh.
func (s *Service) SetActive(ctx context.Context, subjectID string, active bool) error {
	const action = "identity.active.change"
	meta := map[string]any{"active": active}

	if err := s.store.SetActive(ctx, subjectID, active, s.now()); err != nil {
		s.fail(ctx, action, subjectID, reasonFor(err), meta)
		return s.classifyLookup("account.active.change.fail", err)
	}

	s.record(ctx, action+".success", subjectID, meta)
	return nil
}

// RecordMalformed audits a request for action whose body could not be decoded.
func (s *Service) RecordMalformed(ctx context.Context, action, subjectID string) {
	s.fail(ctx, action, subjectID, "invalid_json", nil)
}

// ---- helpers ----

func (s *Service) issue(rec identity.Identity, now time.Time) (Session, error) {
	raw, claims, err := s.codec.Issue(token.Subject{
		ID:    rec.ID,
		Email: rec.Email,
		Role:  string(rec.Role),
	}, now)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: raw, Claims: claims, Profile: toProfile(rec)}, nil
}

// activeByID loads an active identity. fresh bypasses the store's read cache; every path that
// issues a token or writes uses it so role and active changes from other processes apply at once.
func (s *Service) activeByID(ctx context.Context, subjectID string, fresh bool) (identity.Identity, error) {
	if strings.TrimSpace(subjectID) == "" {
		return identity.Identity{}, identity.NotFoundError{Op: "account.activeByID", Resource: "identity"}
	}
	var (
		rec identity.Identity
		err error
	)
	if fresh {
		rec, err = identity.FindByIDFresh(ctx, s.store, subjectID)
	} else {
		rec, err = s.store.FindByID(ctx, subjectID)
	}
	if err != nil {
		return identity.Identity{}, err
	}
	if !rec.Active {
		return identity.Identity{}, identity.OpError{Op: "account.activeByID", Kind: identity.ErrNotFound, Msg: "inactive"}
	}
	return rec, nil
}

func (s *Service) maybeRehash(ctx context.Context, rec identity.Identity, pw string, now time.Time) {
	if !s.hasher.NeedsRehash(rec.PasswordHash) {
		return
	}
	digest, err := s.hasher.Hash(pw)
	if err != nil {
		s.log.Warn("account.login.rehash.fail", "err", err, "subject_id", rec.ID)
		return
	}
	if err := s.store.UpdatePasswordHash(ctx, rec.ID, digest, now); err != nil {
		s.log.Warn("account.login.rehash.fail", "err", err, "subject_id", rec.ID)
	}
}

func (s *Service) classifyLookup(event string, err error) error {
	if identity.IsNotFound(err) {
		return errNotFound
	}
	return s.internal(event, err)
}

func (s *Service) internal(event string, err error) error {
	e := apperror.Internal(err)
	s.log.Error(event, "err", err, "trace_id", e.TraceID)
	return e
}

func (s *Service) record(ctx context.Context, action, subjectID string, meta map[string]any) {
	s.audit.Record(ctx, audit.Event{Action: action, SubjectID: subjectID, Meta: meta})
}

func (s *Service) fail(ctx context.Context, action, subjectID, reason string, meta map[string]any) {
	m := make(map[string]any, len(meta)+1)
	for k, v := range meta {
		m[k] = v
	}
	m["reason"] = reason
	s.record(ctx, action+".fail", subjectID, m)
}

func reasonFor(err error) string {
	switch {
	case identity.IsNotFound(err):
		return "not_found"
	case identity.IsInvalidInput(err):
		return "invalid_input"
	default:
		return "store_error"
	}
}

func passwordPolicyError(err error) error {
	switch {
	case errors.Is(err, password.ErrPasswordTooShort):
		return apperror.Validation(CodeWeakPassword, "password too short")
	case errors.Is(err, password.ErrPasswordTooLong):
		return apperror.Validation(CodeWeakPassword, "password too long")
	default:
		return apperror.Validation(CodeWeakPassword, "password too weak")
	}
}

// validEmail accepts a bare RFC 5322 address (no display name) with a dotted domain.
func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return false
	}
	at := strings.LastIndexByte(email, '@')
	return at > 0 && strings.Contains(email[at+1:], ".")
}

func profileUpdateFrom(fields map[string]any) (identity.ProfileUpdate, []string) {
	var (
		upd     identity.ProfileUpdate
		applied []string
	)
	if v, ok := fields["display_name"].(string); ok && strings.TrimSpace(v) != "" {
		name := strings.TrimSpace(v)
		upd.DisplayName = &name
		applied = append(applied, "display_name")
	}
	if raw, present := fields["avatar_url"]; present {
		switch v := raw.(type) {
		case nil:
			empty := ""
			upd.AvatarURL = &empty
			applied = append(applied, "avatar_url")
		case string:
			url := strings.TrimSpace(v)
			upd.AvatarURL = &url
			applied = append(applied, "avatar_url")
		}
	}
	return upd, applied
}
