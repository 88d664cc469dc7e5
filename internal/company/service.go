package company

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"matchbase.io/internal/apperr"
	"matchbase.io/internal/audit"
	"matchbase.io/internal/auth"
	"matchbase.io/internal/ids"
	"matchbase.io/internal/notify"
	"matchbase.io/internal/obs"
)

// Service runs company and summary operations. Each call is one unit of
// work; notifications go out after the unit of work commits.
type Service struct {
	store  Store
	sender notify.Sender
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

// ServiceOption configures optional collaborators.
type ServiceOption func(*Service) error

// WithSender sets the notification sender.
func WithSender(s notify.Sender) ServiceOption {
	return func(svc *Service) error {
		if s == nil {
			return errors.New("company: nil sender")
		}
		svc.sender = s
		return nil
	}
}

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) ServiceOption {
	return func(svc *Service) error {
		if l != nil {
			svc.logger = l
		}
		return nil
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ServiceOption {
	return func(svc *Service) error {
		if now != nil {
			svc.now = now
		}
		return nil
	}
}

func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("company: store is required")
	}
	svc := &Service{
		store:  store,
		sender: discardSender{},
		logger: zap.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  ids.New,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

type discardSender struct{}

func (discardSender) Send(context.Context, notify.Message) error { return nil }

// RegisterCompany creates a company and its first user for subjectID.
func (s *Service) RegisterCompany(ctx context.Context, subjectID string, in RegisterCompanyInput) (Company, User, error) {
	if err := validateInput(apperr.ComponentCompany, 10, in); err != nil {
		return Company{}, User{}, err
	}
	now := s.now()
	company := Company{ID: s.newID(), Name: in.Name, Email: in.Email, CreatedAt: now, UpdatedAt: now}
	user := User{
		ID:        s.newID(),
		SubjectID: subjectID,
		CompanyID: company.ID,
		Email:     in.Email,
		Name:      in.UserName,
		Role:      auth.RoleCompany,
		CreatedAt: now,
	}

	err := s.store.WithinTx(ctx, func(ctx context.Context, repo Repository) error {
		if _, err := repo.UserBySubject(ctx, subjectID); err == nil {
			return ErrAlreadyRegistered
		} else if !errors.Is(err, ErrNotFound) {
			return persistErr(err, apperr.ComponentCompany, siteLoad, nil)
		}
		if err := repo.CreateCompany(ctx, company); err != nil {
			return persistErr(err, apperr.ComponentCompany, siteSave, nil)
		}
		if err := repo.CreateUser(ctx, user); err != nil {
			if errors.Is(err, ErrDuplicate) {
				return ErrAlreadyRegistered.Wrapf(err)
			}
			return persistErr(err, apperr.ComponentCompany, siteSave, nil)
		}
		return nil
	})
	if err != nil {
		return Company{}, User{}, txErr(err, apperr.ComponentCompany)
	}
	_ = audit.LogEvent(ctx, "company.registered", map[string]any{"company_id": company.ID, "user_id": user.ID})
	return company, user, nil
}

// RegisterAdmin creates an admin user for subjectID.
func (s *Service) RegisterAdmin(ctx context.Context, subjectID, email, name string) (User, error) {
	user := User{
		ID:        s.newID(),
		SubjectID: subjectID,
		Email:     email,
		Name:      name,
		Role:      auth.RoleAdmin,
		CreatedAt: s.now(),
	}
	err := s.store.WithinTx(ctx, func(ctx context.Context, repo Repository) error {
		if err := repo.CreateUser(ctx, user); err != nil {
			if errors.Is(err, ErrDuplicate) {
				return ErrAlreadyRegistered.Wrapf(err)
			}
			return persistErr(err, apperr.ComponentCompany, siteSave, nil)
		}
		return nil
	})
	if err != nil {
		return User{}, txErr(err, apperr.ComponentCompany)
	}
	return user, nil
}

// ResolvePrincipal implements auth.Resolver.
func (s *Service) ResolvePrincipal(ctx context.Context, subjectID string) (auth.Principal, error) {
	var user User
	err := s.store.WithinTx(ctx, func(ctx context.Context, repo Repository) error {
		u, err := repo.UserBySubject(ctx, subjectID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return auth.ErrNotRegistered
			}
			return persistErr(err, apperr.ComponentAuth, siteLoad, nil)
		}
		user = u
		return nil
	})
	if err != nil {
		return auth.Principal{}, txErr(err, apperr.ComponentAuth)
	}
	return user.Principal(), nil
}

// GetInformation returns the company's information row.
func (s *Service) GetInformation(ctx context.Context, p auth.Principal, companyID string) (Information, error) {
	if !p.IsAdmin() && !p.OwnsCompany(companyID) {
		return Information{}, ErrCompanyForbidden
	}
	var info Information
	err := s.store.WithinTx(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		info, err = repo.InformationByCompany(ctx, companyID)
		return persistErr(err, apperr.ComponentCompany, siteLoad, ErrInformationNotFound)
	})
	return info, txErr(err, apperr.ComponentCompany)
}

// PutInformation creates or replaces the company's information row.
func (s *Service) PutInformation(ctx context.Context, p auth.Principal, companyID string, in InformationInput) (Information, error) {
	if !p.IsAdmin() && !p.OwnsCompany(companyID) {
		return Information{}, ErrCompanyForbidden
	}
	if err := validateInput(apperr.ComponentCompany, 11, in); err != nil {
		return Information{}, err
	}

	var saved Information
	err := s.store.WithinTx(ctx, func(ctx context.Context, repo Repository) error {
		if _, err := repo.CompanyByID(ctx, companyID); err != nil {
			return persistErr(err, apperr.ComponentCompany, siteLoad, ErrCompanyNotFound)
		}
		now := s.now()
		info := Information{ID: s.newID(), CompanyID: companyID, CreatedAt: now}
		existing, err := repo.InformationByCompany(ctx, companyID)
		switch {
		case err == nil:
			info.ID = existing.ID
			info.CreatedAt = existing.CreatedAt
		case !errors.Is(err, ErrNotFound):
			return persistErr(err, apperr.ComponentCompany, siteLoad, nil)
		}
		info.TypeOfBusiness = in.TypeOfBusiness
		info.Country = in.Country
		info.Area = in.Area
		info.Years = in.Years
		info.NumberOfEmployees = in.NumberOfEmployees
		info.AnnualRevenue = in.AnnualRevenue
		info.SellSharesPercentage = in.SellSharesPercentage
		info.SellSharesAmount = in.SellSharesAmount
		info.IssueSharesPercentage = in.IssueSharesPercentage
		info.IssueSharesAmount = in.IssueSharesAmount
		info.OtherDetails = in.OtherDetails
		info.UpdatedAt = now
		if err := repo.SaveInformation(ctx, info); err != nil {
			return persistErr(err, apperr.ComponentCompany, siteSave, nil)
		}
		saved = info
		return nil
	})
	if err != nil {
		return Information{}, txErr(err, apperr.ComponentCompany)
	}
	_ = audit.LogEvent(ctx, "company.information_saved", map[string]any{"company_id": companyID, "information_id": saved.ID})
	return saved, nil
}

// deliver sends msg and swallows failures; the triggering operation has
// already committed.
func (s *Service) deliver(ctx context.Context, msg *notify.Message) {
	if msg == nil || len(msg.To) == 0 {
		return
	}
	if err := s.sender.Send(ctx, *msg); err != nil {
		obs.ObserveNotificationFailure(msg.Kind)
		s.logger.Warn("notification failed",
			zap.String("kind", msg.Kind),
			zap.Int("recipients", len(msg.To)),
			zap.String("request_id", audit.RequestIDFromContext(ctx)),
			zap.Error(err))
	}
}
