package company

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"matchbase.io/internal/auth"
)

// MemoryStore is an in-process Store. A unit of work holds the store lock
// for its whole duration and is rolled back by restoring a snapshot.
type MemoryStore struct {
	mu   sync.Mutex
	data *memoryData
}

type memoryData struct {
	companies    map[string]Company
	users        map[string]User
	informations map[string]Information
	summaries    map[string]Summary
	translations map[string]Translation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: &memoryData{
		companies:    map[string]Company{},
		users:        map[string]User{},
		informations: map[string]Information{},
		summaries:    map[string]Summary{},
		translations: map[string]Translation{},
	}}
}

func (m *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := m.data.clone()
	if err := fn(ctx, &memoryRepo{d: m.data}); err != nil {
		m.data = snapshot
		return err
	}
	return nil
}

func (d *memoryData) clone() *memoryData {
	return &memoryData{
		companies:    cloneMap(d.companies),
		users:        cloneMap(d.users),
		informations: cloneMap(d.informations),
		summaries:    cloneMap(d.summaries),
		translations: cloneMap(d.translations),
	}
}

func cloneMap[V any](in map[string]V) map[string]V {
	out := make(map[string]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

type memoryRepo struct {
	d *memoryData
}

func (r *memoryRepo) CreateCompany(_ context.Context, c Company) error {
	if _, ok := r.d.companies[c.ID]; ok {
		return fmt.Errorf("company %s: %w", c.ID, ErrDuplicate)
	}
	r.d.companies[c.ID] = c
	return nil
}

func (r *memoryRepo) CompanyByID(_ context.Context, id string) (Company, error) {
	c, ok := r.d.companies[id]
	if !ok {
		return Company{}, ErrNotFound
	}
	return c, nil
}

func (r *memoryRepo) CreateUser(_ context.Context, u User) error {
	for _, existing := range r.d.users {
		if existing.SubjectID == u.SubjectID {
			return fmt.Errorf("user subject %s: %w", u.SubjectID, ErrDuplicate)
		}
	}
	r.d.users[u.ID] = u
	return nil
}

func (r *memoryRepo) UserBySubject(_ context.Context, subjectID string) (User, error) {
	for _, u := range r.d.users {
		if u.SubjectID == subjectID {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (r *memoryRepo) UsersByCompany(_ context.Context, companyID string) ([]User, error) {
	var out []User
	for _, u := range r.d.users {
		if u.CompanyID == companyID {
			out = append(out, u)
		}
	}
	sortUsers(out)
	return out, nil
}

func (r *memoryRepo) Admins(_ context.Context) ([]User, error) {
	var out []User
	for _, u := range r.d.users {
		if u.Role == auth.RoleAdmin {
			out = append(out, u)
		}
	}
	sortUsers(out)
	return out, nil
}

func sortUsers(us []User) {
	sort.Slice(us, func(i, j int) bool { return us[i].ID < us[j].ID })
}

func (r *memoryRepo) InformationByID(_ context.Context, id string) (Information, error) {
	info, ok := r.d.informations[id]
	if !ok {
		return Information{}, ErrNotFound
	}
	return info, nil
}

func (r *memoryRepo) InformationByCompany(_ context.Context, companyID string) (Information, error) {
	for _, info := range r.d.informations {
		if info.CompanyID == companyID {
			return info, nil
		}
	}
	return Information{}, ErrNotFound
}

func (r *memoryRepo) SaveInformation(_ context.Context, info Information) error {
	for id, existing := range r.d.informations {
		if existing.CompanyID == info.CompanyID && id != info.ID {
			return fmt.Errorf("information for company %s: %w", info.CompanyID, ErrDuplicate)
		}
	}
	r.d.informations[info.ID] = info
	return nil
}

func (r *memoryRepo) SummaryByID(_ context.Context, id string) (Summary, error) {
	s, ok := r.d.summaries[id]
	if !ok {
		return Summary{}, ErrNotFound
	}
	return s, nil
}

func (r *memoryRepo) SummaryByInformation(_ context.Context, informationID string) (Summary, error) {
	for _, s := range r.d.summaries {
		if s.CompanyInformationID == informationID {
			return s, nil
		}
	}
	return Summary{}, ErrNotFound
}

func (r *memoryRepo) InsertSummary(_ context.Context, s Summary) error {
	for _, existing := range r.d.summaries {
		if existing.CompanyInformationID == s.CompanyInformationID {
			return fmt.Errorf("summary for information %s: %w", s.CompanyInformationID, ErrDuplicate)
		}
	}
	r.d.summaries[s.ID] = s
	return nil
}

func (r *memoryRepo) UpdateSummary(_ context.Context, s Summary) error {
	if _, ok := r.d.summaries[s.ID]; !ok {
		return ErrNotFound
	}
	r.d.summaries[s.ID] = s
	return nil
}

func (r *memoryRepo) ListSummaries(_ context.Context, f ListFilter) ([]Summary, error) {
	f = f.normalized()
	var matched []Summary
	for _, s := range r.d.summaries {
		if f.Matches(s, r.d.informations[s.CompanyInformationID]) {
			matched = append(matched, s)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
		}
		return matched[i].ID > matched[j].ID
	})
	if f.Offset >= len(matched) {
		return []Summary{}, nil
	}
	matched = matched[f.Offset:]
	if len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, nil
}

func (r *memoryRepo) TranslationsBySummary(_ context.Context, summaryID string) ([]Translation, error) {
	var out []Translation
	for _, t := range r.d.translations {
		if t.SummaryID == summaryID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Language < out[j].Language })
	return out, nil
}

func (r *memoryRepo) TranslationByLanguage(_ context.Context, summaryID, language string) (Translation, error) {
	for _, t := range r.d.translations {
		if t.SummaryID == summaryID && t.Language == language {
			return t, nil
		}
	}
	return Translation{}, ErrNotFound
}

func (r *memoryRepo) InsertTranslation(ctx context.Context, t Translation) error {
	if _, err := r.TranslationByLanguage(ctx, t.SummaryID, t.Language); err == nil {
		return fmt.Errorf("translation %s/%s: %w", t.SummaryID, t.Language, ErrDuplicate)
	}
	r.d.translations[t.ID] = t
	return nil
}

func (r *memoryRepo) UpdateTranslation(_ context.Context, t Translation) error {
	if _, ok := r.d.translations[t.ID]; !ok {
		return ErrNotFound
	}
	r.d.translations[t.ID] = t
	return nil
}
