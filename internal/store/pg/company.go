package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"matchbase.io/internal/auth"
	"matchbase.io/internal/company"
)

type repo struct {
	q querier
}

var _ company.Repository = (*repo)(nil)

func (r *repo) CreateCompany(ctx context.Context, c company.Company) error {
	_, err := r.q.ExecContext(ctx, `
		insert into companies (id, name, email, created_at, updated_at)
		values ($1, $2, $3, $4, $5)
	`, c.ID, c.Name, c.Email, c.CreatedAt, c.UpdatedAt)
	return mapErr(err, "insert company")
}

func (r *repo) CompanyByID(ctx context.Context, id string) (company.Company, error) {
	var c company.Company
	err := r.q.QueryRowContext(ctx, `
		select id, name, email, created_at, updated_at
		from companies
		where id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Email, &c.CreatedAt, &c.UpdatedAt)
	return c, mapErr(err, "select company")
}

const userColumns = `id, subject_id, company_id, email, name, role, created_at`

func (r *repo) CreateUser(ctx context.Context, u company.User) error {
	_, err := r.q.ExecContext(ctx, `
		insert into users (`+userColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, u.ID, u.SubjectID, nullIfEmpty(u.CompanyID), u.Email, u.Name, string(u.Role), u.CreatedAt)
	return mapErr(err, "insert user")
}

func (r *repo) UserBySubject(ctx context.Context, subjectID string) (company.User, error) {
	row := r.q.QueryRowContext(ctx, `select `+userColumns+` from users where subject_id = $1`, subjectID)
	u, err := scanUser(row)
	return u, mapErr(err, "select user")
}

func (r *repo) UsersByCompany(ctx context.Context, companyID string) ([]company.User, error) {
	return r.users(ctx, `select `+userColumns+` from users where company_id = $1 order by id`, companyID)
}

func (r *repo) Admins(ctx context.Context) ([]company.User, error) {
	return r.users(ctx, `select `+userColumns+` from users where role = $1 order by id`, string(auth.RoleAdmin))
}

func (r *repo) users(ctx context.Context, query string, args ...any) ([]company.User, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err, "select users")
	}
	defer rows.Close()
	var out []company.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, mapErr(err, "scan user")
		}
		out = append(out, u)
	}
	return out, mapErr(rows.Err(), "iterate users")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (company.User, error) {
	var (
		u         company.User
		companyID sql.NullString
		role      string
	)
	if err := s.Scan(&u.ID, &u.SubjectID, &companyID, &u.Email, &u.Name, &role, &u.CreatedAt); err != nil {
		return company.User{}, err
	}
	u.CompanyID = companyID.String
	u.Role = auth.Role(role)
	return u, nil
}

const informationColumns = `id, company_id, type_of_business, country, area, years, number_of_employees,
	annual_revenue, sell_shares_percentage, sell_shares_amount, issue_shares_percentage,
	issue_shares_amount, other_details, created_at, updated_at`

func (r *repo) InformationByID(ctx context.Context, id string) (company.Information, error) {
	row := r.q.QueryRowContext(ctx, `select `+informationColumns+` from company_informations where id = $1`, id)
	info, err := scanInformation(row)
	return info, mapErr(err, "select company information")
}

func (r *repo) InformationByCompany(ctx context.Context, companyID string) (company.Information, error) {
	row := r.q.QueryRowContext(ctx, `select `+informationColumns+` from company_informations where company_id = $1`, companyID)
	info, err := scanInformation(row)
	return info, mapErr(err, "select company information")
}

func (r *repo) SaveInformation(ctx context.Context, info company.Information) error {
	_, err := r.q.ExecContext(ctx, `
		insert into company_informations (`+informationColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		on conflict (id) do update set
			type_of_business = excluded.type_of_business,
			country = excluded.country,
			area = excluded.area,
			years = excluded.years,
			number_of_employees = excluded.number_of_employees,
			annual_revenue = excluded.annual_revenue,
			sell_shares_percentage = excluded.sell_shares_percentage,
			sell_shares_amount = excluded.sell_shares_amount,
			issue_shares_percentage = excluded.issue_shares_percentage,
			issue_shares_amount = excluded.issue_shares_amount,
			other_details = excluded.other_details,
			updated_at = excluded.updated_at
	`, info.ID, info.CompanyID, info.TypeOfBusiness, info.Country, info.Area, info.Years,
		info.NumberOfEmployees, info.AnnualRevenue,
		nullFloat(info.SellSharesPercentage), nullInt(info.SellSharesAmount),
		nullFloat(info.IssueSharesPercentage), nullInt(info.IssueSharesAmount),
		info.OtherDetails, info.CreatedAt, info.UpdatedAt)
	return mapErr(err, "upsert company information")
}

func scanInformation(s scanner) (company.Information, error) {
	var (
		info                    company.Information
		sellPct, issuePct       sql.NullFloat64
		sellAmount, issueAmount sql.NullInt64
	)
	err := s.Scan(&info.ID, &info.CompanyID, &info.TypeOfBusiness, &info.Country, &info.Area, &info.Years,
		&info.NumberOfEmployees, &info.AnnualRevenue, &sellPct, &sellAmount, &issuePct, &issueAmount,
		&info.OtherDetails, &info.CreatedAt, &info.UpdatedAt)
	if err != nil {
		return company.Information{}, err
	}
	if sellPct.Valid {
		info.SellSharesPercentage = &sellPct.Float64
	}
	if sellAmount.Valid {
		info.SellSharesAmount = &sellAmount.Int64
	}
	if issuePct.Valid {
		info.IssueSharesPercentage = &issuePct.Float64
	}
	if issueAmount.Valid {
		info.IssueSharesAmount = &issueAmount.Int64
	}
	return info, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

const summaryColumns = `s.id, s.company_information_id, s.status, s.country, s.title, s.content,
	s.type_of_business, s.is_public, s.created_at, s.updated_at`

func (r *repo) SummaryByID(ctx context.Context, id string) (company.Summary, error) {
	row := r.q.QueryRowContext(ctx, `select `+summaryColumns+` from company_summaries s where s.id = $1`, id)
	sum, err := scanSummary(row)
	return sum, mapErr(err, "select summary")
}

func (r *repo) SummaryByInformation(ctx context.Context, informationID string) (company.Summary, error) {
	row := r.q.QueryRowContext(ctx, `select `+summaryColumns+` from company_summaries s where s.company_information_id = $1`, informationID)
	sum, err := scanSummary(row)
	return sum, mapErr(err, "select summary")
}

func (r *repo) InsertSummary(ctx context.Context, s company.Summary) error {
	_, err := r.q.ExecContext(ctx, `
		insert into company_summaries (id, company_information_id, status, country, title, content,
			type_of_business, is_public, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, s.ID, s.CompanyInformationID, string(s.Status), s.Country, s.Title, s.Content,
		s.TypeOfBusiness, s.IsPublic, s.CreatedAt, s.UpdatedAt)
	return mapErr(err, "insert summary")
}

func (r *repo) UpdateSummary(ctx context.Context, s company.Summary) error {
	res, err := r.q.ExecContext(ctx, `
		update company_summaries
		set status = $2, country = $3, title = $4, content = $5, type_of_business = $6,
			is_public = $7, updated_at = $8
		where id = $1
	`, s.ID, string(s.Status), s.Country, s.Title, s.Content, s.TypeOfBusiness, s.IsPublic, s.UpdatedAt)
	if err != nil {
		return mapErr(err, "update summary")
	}
	return requireOne(res, "update summary")
}

func (r *repo) ListSummaries(ctx context.Context, f company.ListFilter) ([]company.Summary, error) {
	query, args := listQuery(f)
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err, "list summaries")
	}
	defer rows.Close()
	out := []company.Summary{}
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, mapErr(err, "scan summary")
		}
		out = append(out, sum)
	}
	return out, mapErr(rows.Err(), "iterate summaries")
}

// listQuery builds the filtered summary query. Each filter slice becomes an
// IN list with one placeholder per value.
func listQuery(f company.ListFilter) (string, []any) {
	var (
		b    strings.Builder
		args []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	in := func(column string, values []string) {
		if len(values) == 0 {
			return
		}
		ph := make([]string, len(values))
		for i, v := range values {
			ph[i] = arg(v)
		}
		fmt.Fprintf(&b, " and %s in (%s)", column, strings.Join(ph, ", "))
	}

	b.WriteString(`select ` + summaryColumns + `
		from company_summaries s
		join company_informations ci on ci.id = s.company_information_id
		where true`)
	if f.VisibleOnly {
		fmt.Fprintf(&b, " and (s.is_public or ci.company_id = %s)", arg(f.ViewerCompanyID))
	}
	in("s.type_of_business", f.TypeOfBusiness)
	in("s.country", f.Country)
	in("ci.years", f.Years)
	in("ci.area", f.Area)
	in("ci.number_of_employees", f.NumberOfEmployees)
	in("ci.annual_revenue", f.AnnualRevenue)
	if kw := strings.TrimSpace(f.Keyword); kw != "" {
		p := arg("%" + escapeLike(kw) + "%")
		fmt.Fprintf(&b, " and (s.title ilike %s or s.content ilike %s)", p, p)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = company.DefaultListLimit
	}
	fmt.Fprintf(&b, " order by s.updated_at desc, s.id desc limit %s offset %s", arg(limit), arg(max(f.Offset, 0)))
	return b.String(), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func scanSummary(s scanner) (company.Summary, error) {
	var (
		sum    company.Summary
		status string
	)
	err := s.Scan(&sum.ID, &sum.CompanyInformationID, &status, &sum.Country, &sum.Title, &sum.Content,
		&sum.TypeOfBusiness, &sum.IsPublic, &sum.CreatedAt, &sum.UpdatedAt)
	if err != nil {
		return company.Summary{}, err
	}
	sum.Status = company.Status(status)
	return sum, nil
}

const translationColumns = `id, summary_id, language, title, content, created_at, updated_at`

func (r *repo) TranslationsBySummary(ctx context.Context, summaryID string) ([]company.Translation, error) {
	rows, err := r.q.QueryContext(ctx, `
		select `+translationColumns+`
		from company_summary_translations
		where summary_id = $1
		order by language
	`, summaryID)
	if err != nil {
		return nil, mapErr(err, "select translations")
	}
	defer rows.Close()
	var out []company.Translation
	for rows.Next() {
		var t company.Translation
		if err := rows.Scan(&t.ID, &t.SummaryID, &t.Language, &t.Title, &t.Content, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, mapErr(err, "scan translation")
		}
		out = append(out, t)
	}
	return out, mapErr(rows.Err(), "iterate translations")
}

func (r *repo) TranslationByLanguage(ctx context.Context, summaryID, language string) (company.Translation, error) {
	var t company.Translation
	err := r.q.QueryRowContext(ctx, `
		select `+translationColumns+`
		from company_summary_translations
		where summary_id = $1 and language = $2
	`, summaryID, language).Scan(&t.ID, &t.SummaryID, &t.Language, &t.Title, &t.Content, &t.CreatedAt, &t.UpdatedAt)
	return t, mapErr(err, "select translation")
}

func (r *repo) InsertTranslation(ctx context.Context, t company.Translation) error {
	_, err := r.q.ExecContext(ctx, `
		insert into company_summary_translations (`+translationColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, t.ID, t.SummaryID, t.Language, t.Title, t.Content, t.CreatedAt, t.UpdatedAt)
	return mapErr(err, "insert translation")
}

func (r *repo) UpdateTranslation(ctx context.Context, t company.Translation) error {
	res, err := r.q.ExecContext(ctx, `
		update company_summary_translations
		set title = $2, content = $3, updated_at = $4
		where id = $1
	`, t.ID, t.Title, t.Content, t.UpdatedAt)
	if err != nil {
		return mapErr(err, "update translation")
	}
	return requireOne(res, "update translation")
}
