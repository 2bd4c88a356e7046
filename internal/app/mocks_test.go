package app_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/openctemio/membership/internal/app"
	"github.com/openctemio/membership/pkg/domain/access"
	"github.com/openctemio/membership/pkg/domain/organization"
	"github.com/openctemio/membership/pkg/domain/shared"
	"github.com/openctemio/membership/pkg/logger"
)

var errBoom = errors.New("boom")

func intPtr(v int) *int { return &v }

// ============================================================================
// Organization store
// ============================================================================

type orgStore struct {
	states map[shared.ID]organization.State
}

func newOrgStore() *orgStore {
	return &orgStore{states: make(map[shared.ID]organization.State)}
}

func (s *orgStore) GetByID(_ context.Context, id shared.ID) (*organization.Organization, error) {
	st, ok := s.states[id]
	if !ok {
		return nil, fmt.Errorf("%w: organization not found", shared.ErrNotFound)
	}
	return organization.Reconstitute(st), nil
}

func (s *orgStore) ListIDs(_ context.Context) ([]shared.ID, error) {
	ids := make([]shared.ID, 0, len(s.states))
	for id := range s.states {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *orgStore) MarkOwnersNotified(_ context.Context, id shared.ID, at time.Time) error {
	st := s.states[id]
	st.OwnersNotifiedOfAutoscaling = &at
	s.states[id] = st
	return nil
}

func (s *orgStore) SetMaxAutoscaleSeats(_ context.Context, id shared.ID, max *int) error {
	st := s.states[id]
	st.MaxAutoscaleSeats = max
	s.states[id] = st
	return nil
}

// ============================================================================
// Membership store
// ============================================================================

type membershipStore struct {
	states map[shared.ID]organization.MembershipState
	// accountEmails are the account emails of users, matched by SelectKnownEmails.
	accountEmails map[shared.ID]string

	createErr    error
	setStatusErr error
	deleteErr    error
	upsertErr    error

	createCalls    int
	setStatusCalls int
	deleteCalls    int
	upsertCalls    int
}

func newMembershipStore() *membershipStore {
	return &membershipStore{
		states:        make(map[shared.ID]organization.MembershipState),
		accountEmails: make(map[shared.ID]string),
	}
}

func (s *membershipStore) put(m *organization.Membership) {
	s.states[m.ID()] = m.Snapshot()
}

func (s *membershipStore) inOrg(orgID shared.ID) []organization.MembershipState {
	var out []organization.MembershipState
	for _, st := range s.states {
		if st.OrganizationID.Equals(orgID) {
			out = append(out, st)
		}
	}
	return out
}

func (s *membershipStore) GetByID(_ context.Context, id shared.ID) (*organization.Membership, error) {
	st, ok := s.states[id]
	if !ok {
		return nil, fmt.Errorf("%w: membership not found", shared.ErrNotFound)
	}
	return organization.ReconstituteMembership(st), nil
}

func (s *membershipStore) GetMany(_ context.Context, ids []shared.ID) ([]*organization.Membership, error) {
	var out []*organization.Membership
	for _, id := range ids {
		if st, ok := s.states[id]; ok {
			out = append(out, organization.ReconstituteMembership(st))
		}
	}
	return out, nil
}

func (s *membershipStore) GetByOrganizationAndUser(_ context.Context, orgID, userID shared.ID) (*organization.Membership, error) {
	for _, st := range s.inOrg(orgID) {
		if st.UserID != nil && st.UserID.Equals(userID) {
			return organization.ReconstituteMembership(st), nil
		}
	}
	return nil, fmt.Errorf("%w: membership not found", shared.ErrNotFound)
}

func (s *membershipStore) ListByOrganization(_ context.Context, orgID shared.ID, f organization.MembershipFilter) ([]*organization.Membership, error) {
	var out []*organization.Membership
	for _, st := range s.inOrg(orgID) {
		if f.Role != nil && st.Role != *f.Role {
			continue
		}
		if f.Status != nil && st.Status != *f.Status {
			continue
		}
		out = append(out, organization.ReconstituteMembership(st))
	}
	return out, nil
}

func (s *membershipStore) ListByUsers(_ context.Context, userIDs []shared.ID) ([]*organization.Membership, error) {
	want := make(map[shared.ID]bool, len(userIDs))
	for _, id := range userIDs {
		want[id] = true
	}
	var out []*organization.Membership
	for _, st := range s.states {
		if st.UserID != nil && want[*st.UserID] {
			out = append(out, organization.ReconstituteMembership(st))
		}
	}
	return out, nil
}

func (s *membershipStore) CreateMany(_ context.Context, ms []*organization.Membership) error {
	s.createCalls++
	if s.createErr != nil {
		return s.createErr
	}
	for _, m := range ms {
		s.put(m)
	}
	return nil
}

func (s *membershipStore) Upsert(_ context.Context, m *organization.Membership) error {
	s.upsertCalls++
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.put(m)
	return nil
}

func (s *membershipStore) DeleteMany(_ context.Context, ids []shared.ID) error {
	s.deleteCalls++
	if s.deleteErr != nil {
		return s.deleteErr
	}
	for _, id := range ids {
		delete(s.states, id)
	}
	return nil
}

func (s *membershipStore) SetStatus(_ context.Context, id shared.ID, status organization.Status) error {
	s.setStatusCalls++
	if s.setStatusErr != nil {
		return s.setStatusErr
	}
	st, ok := s.states[id]
	if !ok {
		return shared.ErrNotFound
	}
	st.Status = status
	s.states[id] = st
	return nil
}

func (s *membershipStore) SelectKnownEmails(_ context.Context, orgID shared.ID, candidates []string) ([]string, error) {
	var known []string
	for _, st := range s.inOrg(orgID) {
		stored := ""
		if st.Email != nil {
			stored = *st.Email
		} else if st.UserID != nil {
			stored = s.accountEmails[*st.UserID]
		}
		if stored == "" {
			continue
		}
		for _, c := range candidates {
			if strings.EqualFold(c, stored) {
				known = append(known, stored)
				break
			}
		}
	}
	return known, nil
}

func (s *membershipStore) CountOccupiedSeats(_ context.Context, orgID shared.ID) (organization.OccupiedSeats, error) {
	var occ organization.OccupiedSeats
	for _, st := range s.inOrg(orgID) {
		m := organization.ReconstituteMembership(st)
		if m.OccupiesSeat() {
			occ.PasswordManager++
		}
		if m.OccupiesSecretsManagerSeat() {
			occ.SecretsManager++
		}
	}
	return occ, nil
}

func (s *membershipStore) HasConfirmedOwnersExcept(_ context.Context, orgID shared.ID, excluded []shared.ID) (bool, error) {
	skip := make(map[shared.ID]bool, len(excluded))
	for _, id := range excluded {
		skip[id] = true
	}
	for _, st := range s.inOrg(orgID) {
		if st.Role == organization.RoleOwner && st.Status == organization.StatusConfirmed && !skip[st.ID] {
			return true, nil
		}
	}
	return false, nil
}

// ============================================================================
// Policies and users
// ============================================================================

// policyStore derives policy details from the memberships of organizations
// that enable a policy, the way the database join does.
type policyStore struct {
	memberships *membershipStore
	enabled     map[shared.ID]map[organization.PolicyType]bool
	calls       int
}

func (p *policyStore) enable(orgID shared.ID, t organization.PolicyType) {
	if p.enabled[orgID] == nil {
		p.enabled[orgID] = make(map[organization.PolicyType]bool)
	}
	p.enabled[orgID][t] = true
}

func (p *policyStore) ListApplicable(_ context.Context, userIDs []shared.ID, t organization.PolicyType) ([]organization.PolicyDetail, error) {
	p.calls++
	want := make(map[shared.ID]bool, len(userIDs))
	for _, id := range userIDs {
		want[id] = true
	}
	var out []organization.PolicyDetail
	for _, st := range p.memberships.states {
		if st.UserID == nil || !want[*st.UserID] || !p.enabled[st.OrganizationID][t] {
			continue
		}
		out = append(out, organization.PolicyDetail{
			OrganizationID:   st.OrganizationID,
			UserID:           *st.UserID,
			PolicyType:       t,
			Enabled:          true,
			MembershipStatus: st.Status,
			MembershipRole:   st.Role,
		})
	}
	return out, nil
}

type userDirectory struct {
	emails         map[shared.ID]string
	twoFactor      map[shared.ID]bool
	emailCalls     int
	twoFactorCalls int
	invalidated    []shared.ID
}

func (u *userDirectory) Invalidate(_ context.Context, ids ...shared.ID) error {
	u.invalidated = append(u.invalidated, ids...)
	return nil
}

func (u *userDirectory) EmailsByIDs(_ context.Context, ids []shared.ID) (map[shared.ID]string, error) {
	u.emailCalls++
	out := make(map[shared.ID]string)
	for _, id := range ids {
		if e, ok := u.emails[id]; ok {
			out[id] = e
		}
	}
	return out, nil
}

func (u *userDirectory) TwoFactorEnabled(_ context.Context, ids []shared.ID) (map[shared.ID]bool, error) {
	u.twoFactorCalls++
	out := make(map[shared.ID]bool)
	for _, id := range ids {
		out[id] = u.twoFactor[id]
	}
	return out, nil
}

// ============================================================================
// Subscription, tokens, mail, events, push
// ============================================================================

// subscriptions applies seat deltas to the organization store.
type subscriptions struct {
	orgs  *orgStore
	calls []organization.SeatDelta
	// failAt makes the n-th call (1-based) fail.
	failAt map[int]error
}

func (s *subscriptions) UpdateSeats(_ context.Context, orgID shared.ID, delta organization.SeatDelta) (organization.SeatTotals, error) {
	s.calls = append(s.calls, delta)
	if err := s.failAt[len(s.calls)]; err != nil {
		return organization.SeatTotals{}, err
	}
	st := s.orgs.states[orgID]
	if st.Seats != nil {
		st.Seats = intPtr(*st.Seats + delta.PasswordManager)
	}
	if st.SmSeats != nil {
		st.SmSeats = intPtr(*st.SmSeats + delta.SecretsManager)
	}
	s.orgs.states[orgID] = st
	return organization.SeatTotals{Seats: st.Seats, SmSeats: st.SmSeats}, nil
}

func (s *subscriptions) net() organization.SeatDelta {
	var total organization.SeatDelta
	for i, d := range s.calls {
		if s.failAt[i+1] == nil {
			total = total.Add(d)
		}
	}
	return total
}

type tokenIssuer struct {
	err    error
	issued int
	claims map[string]organization.InviteClaims
}

func (t *tokenIssuer) Issue(m *organization.Membership) (organization.InviteToken, error) {
	if t.err != nil {
		return organization.InviteToken{}, t.err
	}
	t.issued++
	tok := organization.InviteToken{
		MembershipID: m.ID(),
		Email:        m.EmailOrEmpty(),
		Token:        "token-" + m.ID().String(),
		ExpiresAt:    time.Now().Add(5 * 24 * time.Hour),
	}
	t.claims[tok.Token] = organization.InviteClaims{
		MembershipID:   m.ID(),
		OrganizationID: m.OrganizationID(),
		Email:          tok.Email,
		ExpiresAt:      tok.ExpiresAt,
	}
	return tok, nil
}

func (t *tokenIssuer) Verify(token string) (organization.InviteClaims, error) {
	c, ok := t.claims[token]
	if !ok {
		return organization.InviteClaims{}, fmt.Errorf("%w: invalid invitation token", shared.ErrValidation)
	}
	return c, nil
}

type mailer struct {
	batches []organization.InviteEmailBatch
	notices []organization.SeatNotice
	err     error
}

func (m *mailer) SendInviteEmails(_ context.Context, b organization.InviteEmailBatch) error {
	m.batches = append(m.batches, b)
	return m.err
}

func (m *mailer) SendSeatNotice(_ context.Context, n organization.SeatNotice) error {
	m.notices = append(m.notices, n)
	return nil
}

type eventLog struct {
	batches [][]organization.MembershipEvent
	err     error
}

func (e *eventLog) LogMembershipEvents(_ context.Context, events []organization.MembershipEvent) error {
	e.batches = append(e.batches, events)
	return e.err
}

func (e *eventLog) all() []organization.MembershipEvent {
	var out []organization.MembershipEvent
	for _, b := range e.batches {
		out = append(out, b...)
	}
	return out
}

type pusher struct {
	pushed []shared.ID
	err    error
}

func (p *pusher) PushSyncOrgKeys(_ context.Context, userID shared.ID) error {
	p.pushed = append(p.pushed, userID)
	return p.err
}

// ============================================================================
// Fixture
// ============================================================================

type fixture struct {
	orgID shared.ID

	orgs        *orgStore
	memberships *membershipStore
	policies    *policyStore
	users       *userDirectory
	subs        *subscriptions
	tokens      *tokenIssuer
	mailer      *mailer
	events      *eventLog
	pusher      *pusher

	autoscaler *app.SeatAutoscaler
	gate       *app.PolicyGate
	invites    *app.InvitationService
	members    *app.MembershipService
}

type fixtureOptions struct {
	plan      organization.PlanType
	seats     *int
	maxSeats  *int
	smSeats   *int
	features  app.StaticFeatureFlags
	noCustom  bool
	byProvide bool
}

func newFixture(t *testing.T, o fixtureOptions) *fixture {
	t.Helper()
	if o.plan == "" {
		o.plan = organization.PlanTeamsMonthly
	}

	orgs := newOrgStore()
	orgID := shared.NewID()
	orgs.states[orgID] = organization.State{
		ID:                    orgID,
		Name:                  "Acme",
		PlanType:              o.plan,
		Seats:                 o.seats,
		MaxAutoscaleSeats:     o.maxSeats,
		UseSecretsManager:     o.smSeats != nil,
		SmSeats:               o.smSeats,
		UsesPolicies:          true,
		UsesCustomPermissions: !o.noCustom,
		ManagedByProvider:     o.byProvide,
	}

	ms := newMembershipStore()
	f := &fixture{
		orgID:       orgID,
		orgs:        orgs,
		memberships: ms,
		policies:    &policyStore{memberships: ms, enabled: make(map[shared.ID]map[organization.PolicyType]bool)},
		users:       &userDirectory{emails: make(map[shared.ID]string), twoFactor: make(map[shared.ID]bool)},
		tokens:      &tokenIssuer{claims: make(map[string]organization.InviteClaims)},
		mailer:      &mailer{},
		events:      &eventLog{},
		pusher:      &pusher{},
	}
	f.subs = &subscriptions{orgs: orgs, failAt: make(map[int]error)}

	log := logger.NewNop()
	f.autoscaler = app.NewSeatAutoscaler(orgs, ms, f.subs, log, app.WithSeatNotices(f.users, f.mailer))
	f.gate = app.NewPolicyGate(ms, f.policies, f.users, log)
	f.invites = app.NewInvitationService(orgs, ms, f.autoscaler, f.tokens, f.mailer, f.events, log)
	f.members = app.NewMembershipService(orgs, ms, f.users, f.gate, f.autoscaler, f.tokens, f.events, log,
		app.WithKeySync(f.pusher, o.features), app.WithTwoFactorRefresh(f.users))
	return f
}

type memberSpec struct {
	role     organization.Role
	status   organization.Status
	email    string
	accessSM bool
	// confirmedBefore applies to revoked members: the email was cleared.
	confirmedBefore bool
	twoFactor       bool
}

// addMember stores a membership and, when it has a user, the user's account.
func (f *fixture) addMember(s memberSpec) (*organization.Membership, *shared.ID) {
	if s.role == "" {
		s.role = organization.RoleUser
	}
	if s.email == "" {
		s.email = shared.NewID().String()[:8] + "@example.com"
	}

	st := organization.MembershipState{
		ID:                   shared.NewID(),
		OrganizationID:       f.orgID,
		Role:                 s.role,
		Status:               s.status,
		AccessSecretsManager: s.accessSM,
		CreatedAt:            time.Now().UTC(),
		RevisionDate:         time.Now().UTC(),
	}
	hasUser := s.status != organization.StatusInvited && (s.status != organization.StatusRevoked || s.confirmedBefore)
	keepsEmail := s.status == organization.StatusInvited || s.status == organization.StatusAccepted ||
		(s.status == organization.StatusRevoked && !s.confirmedBefore)

	var userID *shared.ID
	if hasUser {
		id := shared.NewID()
		userID = &id
		st.UserID = userID
		st.Key = "org-key"
		f.users.emails[id] = s.email
		f.users.twoFactor[id] = s.twoFactor
		f.memberships.accountEmails[id] = s.email
	}
	if keepsEmail {
		email := s.email
		st.Email = &email
	}
	m := organization.ReconstituteMembership(st)
	f.memberships.put(m)
	return m, userID
}

func (f *fixture) status(id shared.ID) organization.Status {
	return f.memberships.states[id].Status
}

func (f *fixture) seats() int {
	return *f.orgs.states[f.orgID].Seats
}

func ownerActor(userID *shared.ID) app.Actor {
	return app.UserActor(*userID, access.Privileges{Role: organization.RoleOwner})
}

func adminActor() app.Actor {
	return app.UserActor(shared.NewID(), access.Privileges{Role: organization.RoleAdmin})
}
