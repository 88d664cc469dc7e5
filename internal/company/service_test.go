package company

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"matchbase.io/internal/apperr"
	"matchbase.io/internal/auth"
	"matchbase.io/internal/notify"
)

type recordingSender struct {
	mu   sync.Mutex
	msgs []notify.Message
	err  error
}

func (r *recordingSender) Send(_ context.Context, msg notify.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return r.err
}

func (r *recordingSender) sent() []notify.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Message(nil), r.msgs...)
}

type fixture struct {
	svc     *Service
	store   *MemoryStore
	sender  *recordingSender
	owner   auth.Principal
	other   auth.Principal
	admin   auth.Principal
	info    Information
	company Company
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := NewMemoryStore()
	sender := &recordingSender{}
	svc, err := NewService(store, WithSender(sender))
	require.NoError(t, err)

	company, _, err := svc.RegisterCompany(ctx, "sub-owner", RegisterCompanyInput{Name: "Acme KK", Email: "owner@acme.test", UserName: "Owner"})
	require.NoError(t, err)
	_, _, err = svc.RegisterCompany(ctx, "sub-other", RegisterCompanyInput{Name: "Other KK", Email: "owner@other.test", UserName: "Other"})
	require.NoError(t, err)
	_, err = svc.RegisterAdmin(ctx, "sub-admin-1", "admin1@matchbase.test", "Admin One")
	require.NoError(t, err)
	_, err = svc.RegisterAdmin(ctx, "sub-admin-2", "admin2@matchbase.test", "Admin Two")
	require.NoError(t, err)

	f := &fixture{svc: svc, store: store, sender: sender, company: company}
	f.owner, err = svc.ResolvePrincipal(ctx, "sub-owner")
	require.NoError(t, err)
	f.other, err = svc.ResolvePrincipal(ctx, "sub-other")
	require.NoError(t, err)
	f.admin, err = svc.ResolvePrincipal(ctx, "sub-admin-1")
	require.NoError(t, err)

	f.info, err = svc.PutInformation(ctx, f.owner, company.ID, InformationInput{
		TypeOfBusiness: "manufacturing",
		Country:        "JP",
		Area:           "kanto",
		Years:          "10-20",
		OtherDetails:   "succession",
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) create(t *testing.T, p auth.Principal, status Status) Summary {
	t.Helper()
	s, err := f.svc.CreateSummary(context.Background(), p, f.info.ID, CreateSummaryInput{
		Status: string(status), Country: "JP", Title: "Precision parts maker", TypeOfBusiness: "manufacturing",
	})
	require.NoError(t, err)
	return s
}

func requireCoded(t *testing.T, err error, want *apperr.Error) {
	t.Helper()
	require.Error(t, err)
	require.True(t, errors.Is(err, want), "got %v, want %v", err, want)
}

func TestCreateSummaryRejectsSecond(t *testing.T) {
	for _, status := range []Status{StatusDraft, StatusDraftFromAdmin, StatusRequest} {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t)
			f.create(t, f.admin, StatusDraftFromAdmin)

			_, err := f.svc.CreateSummary(context.Background(), f.admin, f.info.ID, CreateSummaryInput{
				Status: string(status), Country: "JP", Title: "Again", TypeOfBusiness: "manufacturing",
			})
			requireCoded(t, err, ErrSummaryExists)
			coded, _ := apperr.As(err)
			require.Equal(t, apperr.KindInvalidArgument, coded.Kind)
		})
	}
}

func TestCreateSummaryDuplicateFromStoreIsMapped(t *testing.T) {
	f := newFixture(t)
	first := f.create(t, f.owner, StatusDraft)

	// Simulate a racing insert that passed the existence check.
	err := f.store.WithinTx(context.Background(), func(ctx context.Context, repo Repository) error {
		return repo.InsertSummary(ctx, Summary{ID: "other", CompanyInformationID: first.CompanyInformationID})
	})
	require.ErrorIs(t, err, ErrDuplicate)
}

func TestCreateSummaryRoleRestrictions(t *testing.T) {
	cases := []struct {
		name   string
		who    func(*fixture) auth.Principal
		status Status
		ok     bool
	}{
		{"owner draft", func(f *fixture) auth.Principal { return f.owner }, StatusDraft, true},
		{"owner submitted", func(f *fixture) auth.Principal { return f.owner }, StatusSubmitted, true},
		{"owner request", func(f *fixture) auth.Principal { return f.owner }, StatusRequest, false},
		{"owner draft from admin", func(f *fixture) auth.Principal { return f.owner }, StatusDraftFromAdmin, false},
		{"admin draft from admin", func(f *fixture) auth.Principal { return f.admin }, StatusDraftFromAdmin, true},
		{"admin request", func(f *fixture) auth.Principal { return f.admin }, StatusRequest, true},
		{"admin submitted", func(f *fixture) auth.Principal { return f.admin }, StatusSubmitted, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.CreateSummary(context.Background(), tc.who(f), f.info.ID, CreateSummaryInput{
				Status: string(tc.status), Country: "JP", Title: "t", TypeOfBusiness: "b",
			})
			if tc.ok {
				require.NoError(t, err)
				return
			}
			requireCoded(t, err, ErrForbiddenStatus)
		})
	}
}

func TestCreateSummaryForeignCompanyForbidden(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateSummary(context.Background(), f.other, f.info.ID, CreateSummaryInput{
		Status: string(StatusDraft), Country: "JP", Title: "t", TypeOfBusiness: "b",
	})
	requireCoded(t, err, ErrNotOwner)

	_, err = f.svc.CreateSummary(context.Background(), f.admin, "missing", CreateSummaryInput{
		Status: string(StatusDraft), Country: "JP", Title: "t", TypeOfBusiness: "b",
	})
	requireCoded(t, err, ErrInformationNotFound)
}

func TestCreateSummaryRequestNotifiesCompanyAndAdmins(t *testing.T) {
	f := newFixture(t)
	f.create(t, f.admin, StatusRequest)

	msgs := f.sender.sent()
	require.Len(t, msgs, 1)
	require.Equal(t, notify.KindSummaryRequest, msgs[0].Kind)
	require.ElementsMatch(t, []string{"owner@acme.test", "admin1@matchbase.test", "admin2@matchbase.test"}, msgs[0].To)
}

func TestUserUpdateStatusRules(t *testing.T) {
	for _, status := range []Status{StatusRequest, StatusDraftFromAdmin, StatusPosted} {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t)
			s := f.create(t, f.owner, StatusDraft)
			_, err := f.svc.UserUpdateSummary(context.Background(), f.owner, s.ID, UpdateSummaryInput{Status: string(status)})
			require.Error(t, err)
			coded, ok := apperr.As(err)
			require.True(t, ok)
			// POSTED never passes the payload validator.
			if status == StatusPosted {
				require.Equal(t, apperr.KindValidation, coded.Kind)
				return
			}
			require.Equal(t, apperr.KindForbidden, coded.Kind)
			requireCoded(t, err, ErrForbiddenStatus)
		})
	}
}

func TestUserUpdateSubmittedNotifiesOncePerRecipient(t *testing.T) {
	f := newFixture(t)
	s := f.create(t, f.owner, StatusDraft)
	title := "Updated title"

	updated, err := f.svc.UserUpdateSummary(context.Background(), f.owner, s.ID, UpdateSummaryInput{Status: string(StatusSubmitted), Title: &title})
	require.NoError(t, err)
	require.Equal(t, StatusSubmitted, updated.Status)
	require.Equal(t, title, updated.Title)
	require.False(t, updated.IsPublic)

	msgs := f.sender.sent()
	require.Len(t, msgs, 1)
	require.Equal(t, notify.KindSummarySubmitted, msgs[0].Kind)
	require.ElementsMatch(t, []string{"owner@acme.test", "admin1@matchbase.test", "admin2@matchbase.test"}, msgs[0].To)
}

func TestUserUpdateRequiresOwnership(t *testing.T) {
	f := newFixture(t)
	s := f.create(t, f.owner, StatusDraft)

	_, err := f.svc.UserUpdateSummary(context.Background(), f.other, s.ID, UpdateSummaryInput{Status: string(StatusSubmitted)})
	requireCoded(t, err, ErrNotOwner)

	_, err = f.svc.UserUpdateSummary(context.Background(), f.admin, s.ID, UpdateSummaryInput{Status: string(StatusDraft)})
	requireCoded(t, err, ErrRoleForbidden)
}

func TestAdminUpdateStatusRules(t *testing.T) {
	f := newFixture(t)
	s := f.create(t, f.admin, StatusDraftFromAdmin)

	_, err := f.svc.AdminUpdateSummary(context.Background(), f.admin, s.ID, UpdateSummaryInput{Status: string(StatusSubmitted)})
	requireCoded(t, err, ErrForbiddenStatus)

	_, err = f.svc.AdminUpdateSummary(context.Background(), f.admin, s.ID, UpdateSummaryInput{Status: string(StatusPosted)})
	coded, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.KindValidation, coded.Kind)

	_, err = f.svc.AdminUpdateSummary(context.Background(), f.owner, s.ID, UpdateSummaryInput{Status: string(StatusDraft)})
	requireCoded(t, err, ErrRoleForbidden)

	updated, err := f.svc.AdminUpdateSummary(context.Background(), f.admin, s.ID, UpdateSummaryInput{Status: string(StatusRequest)})
	require.NoError(t, err)
	require.Equal(t, StatusRequest, updated.Status)
	require.Len(t, f.sender.sent(), 1)
}

func TestUpdateMissingSummaryIsNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.UserUpdateSummary(context.Background(), f.owner, "missing", UpdateSummaryInput{Status: string(StatusSubmitted)})
	requireCoded(t, err, ErrSummaryNotFound)
	coded, _ := apperr.As(err)
	require.Equal(t, apperr.KindNotFound, coded.Kind)

	_, err = f.svc.AdminUpdateSummary(context.Background(), f.admin, "missing", UpdateSummaryInput{Status: string(StatusDraft)})
	requireCoded(t, err, ErrSummaryNotFound)
}

func TestNotificationFailureKeepsTransition(t *testing.T) {
	f := newFixture(t)
	f.sender.err = errors.New("smtp down")
	s := f.create(t, f.owner, StatusDraft)

	updated, err := f.svc.UserUpdateSummary(context.Background(), f.owner, s.ID, UpdateSummaryInput{Status: string(StatusSubmitted)})
	require.NoError(t, err)
	require.Equal(t, StatusSubmitted, updated.Status)

	detail, err := f.svc.GetSummary(context.Background(), f.admin, s.ID)
	require.NoError(t, err)
	require.Equal(t, StatusSubmitted, detail.Status)
	require.Len(t, f.sender.sent(), 1)
}

func TestAddToMaster(t *testing.T) {
	f := newFixture(t)
	s := f.create(t, f.owner, StatusDraft)

	_, err := f.svc.AddToMaster(context.Background(), f.admin, s.ID)
	requireCoded(t, err, ErrNotEligible)

	_, err = f.svc.UserUpdateSummary(context.Background(), f.owner, s.ID, UpdateSummaryInput{Status: string(StatusSubmitted)})
	require.NoError(t, err)

	_, err = f.svc.AddToMaster(context.Background(), f.owner, s.ID)
	requireCoded(t, err, ErrRoleForbidden)

	posted, err := f.svc.AddToMaster(context.Background(), f.admin, s.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPosted, posted.Status)
	require.True(t, posted.IsPublic)

	_, err = f.svc.AddToMaster(context.Background(), f.admin, "missing")
	requireCoded(t, err, ErrSummaryNotFound)
}

func TestReopeningPostedSummaryUnpublishes(t *testing.T) {
	ctx := context.Background()
	for _, tc := range []struct {
		name   string
		reopen func(f *fixture, id string) (Summary, error)
	}{
		{"user", func(f *fixture, id string) (Summary, error) {
			title := "Unreviewed edit"
			return f.svc.UserUpdateSummary(ctx, f.owner, id, UpdateSummaryInput{Status: string(StatusDraft), Title: &title})
		}},
		{"admin", func(f *fixture, id string) (Summary, error) {
			return f.svc.AdminUpdateSummary(ctx, f.admin, id, UpdateSummaryInput{Status: string(StatusRequest)})
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			s := f.create(t, f.owner, StatusDraft)
			_, err := f.svc.UserUpdateSummary(ctx, f.owner, s.ID, UpdateSummaryInput{Status: string(StatusSubmitted)})
			require.NoError(t, err)
			_, err = f.svc.AddToMaster(ctx, f.admin, s.ID)
			require.NoError(t, err)

			list, err := f.svc.ListSummaries(ctx, f.other, ListFilter{})
			require.NoError(t, err)
			require.Len(t, list, 1)

			reopened, err := tc.reopen(f, s.ID)
			require.NoError(t, err)
			require.False(t, reopened.IsPublic)

			list, err = f.svc.ListSummaries(ctx, f.other, ListFilter{})
			require.NoError(t, err)
			require.Empty(t, list)
			_, err = f.svc.GetSummary(ctx, f.other, s.ID)
			requireCoded(t, err, ErrSummaryNotFound)
		})
	}
}

func TestVisibility(t *testing.T) {
	f := newFixture(t)
	s := f.create(t, f.owner, StatusDraft)
	ctx := context.Background()

	_, err := f.svc.GetSummary(ctx, f.other, s.ID)
	requireCoded(t, err, ErrSummaryNotFound)

	list, err := f.svc.ListSummaries(ctx, f.other, ListFilter{})
	require.NoError(t, err)
	require.Empty(t, list)

	list, err = f.svc.ListSummaries(ctx, f.owner, ListFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = f.svc.UserUpdateSummary(ctx, f.owner, s.ID, UpdateSummaryInput{Status: string(StatusSubmitted)})
	require.NoError(t, err)
	_, err = f.svc.AddToMaster(ctx, f.admin, s.ID)
	require.NoError(t, err)

	list, err = f.svc.ListSummaries(ctx, f.other, ListFilter{Country: []string{"JP"}, Keyword: "precision"})
	require.NoError(t, err)
	require.Len(t, list, 1)

	list, err = f.svc.ListSummaries(ctx, f.other, ListFilter{Years: []string{"0-5"}})
	require.NoError(t, err)
	require.Empty(t, list)

	require.NoError(t, f.svc.AuthorizeSummary(ctx, f.other, s.ID, false))
	requireCoded(t, f.svc.AuthorizeSummary(ctx, f.other, s.ID, true), ErrNotOwner)
}

func TestPutTranslation(t *testing.T) {
	f := newFixture(t)
	s := f.create(t, f.owner, StatusDraft)
	ctx := context.Background()

	first, err := f.svc.PutTranslation(ctx, f.owner, s.ID, "en", TranslationInput{Title: "Parts maker"})
	require.NoError(t, err)
	second, err := f.svc.PutTranslation(ctx, f.admin, s.ID, "en", TranslationInput{Title: "Precision parts maker"})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	_, err = f.svc.PutTranslation(ctx, f.owner, s.ID, "not a tag!", TranslationInput{Title: "x"})
	requireCoded(t, err, ErrInvalidLanguage)

	_, err = f.svc.PutTranslation(ctx, f.other, s.ID, "ja", TranslationInput{Title: "x"})
	requireCoded(t, err, ErrSummaryNotFound)

	detail, err := f.svc.GetSummary(ctx, f.owner, s.ID)
	require.NoError(t, err)
	require.Len(t, detail.Translations, 1)
	require.Equal(t, "Precision parts maker", detail.Translations[0].Title)
}

func TestRegistration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.RegisterCompany(ctx, "sub-owner", RegisterCompanyInput{Name: "Dup", Email: "dup@acme.test", UserName: "Dup"})
	requireCoded(t, err, ErrAlreadyRegistered)

	_, err = f.svc.ResolvePrincipal(ctx, "sub-unknown")
	requireCoded(t, err, auth.ErrNotRegistered)

	_, _, err = f.svc.RegisterCompany(ctx, "sub-new", RegisterCompanyInput{Name: "", Email: "bad"})
	coded, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.KindValidation, coded.Kind)
}

func TestInformationAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.GetInformation(ctx, f.other, f.company.ID)
	requireCoded(t, err, ErrCompanyForbidden)

	info, err := f.svc.GetInformation(ctx, f.admin, f.company.ID)
	require.NoError(t, err)
	require.Equal(t, f.info.ID, info.ID)

	updated, err := f.svc.PutInformation(ctx, f.admin, f.company.ID, InformationInput{
		TypeOfBusiness: "it", Country: "US", SellSharesPercentage: f64(51), SellSharesAmount: i64(100),
	})
	require.NoError(t, err)
	require.Equal(t, f.info.ID, updated.ID)
	require.Equal(t, "", updated.OtherDetails)

	_, err = f.svc.PutInformation(ctx, f.admin, "missing", InformationInput{TypeOfBusiness: "it", Country: "US", OtherDetails: "x"})
	requireCoded(t, err, ErrCompanyNotFound)
}

func TestMemoryStoreRollsBack(t *testing.T) {
	store := NewMemoryStore()
	boom := errors.New("boom")
	err := store.WithinTx(context.Background(), func(ctx context.Context, repo Repository) error {
		require.NoError(t, repo.CreateCompany(ctx, Company{ID: "c1"}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = store.WithinTx(context.Background(), func(ctx context.Context, repo Repository) error {
		_, err := repo.CompanyByID(ctx, "c1")
		return err
	})
	require.ErrorIs(t, err, ErrNotFound)
}
