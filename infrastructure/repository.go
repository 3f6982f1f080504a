package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sort"
	"strings"

	"cv-copilot/domain"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store hands out the gorm backed repositories.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Evaluations() domain.EvaluationRepository {
	return &evaluationRepo{newTable[domain.Evaluation](s.db, "evaluation")}
}

func (s *Store) Uploads() domain.UploadRepository {
	return &uploadRepo{newTable[domain.Upload](s.db, "upload")}
}

func (s *Store) JobPostings() domain.JobPostingRepository {
	return &jobPostingRepo{newTable[domain.JobPosting](s.db, "job posting")}
}

func (s *Store) CVDetails() domain.CVDetailRepository {
	return &cvDetailRepo{newTable[domain.CVDetail](s.db, "cv detail")}
}

func (s *Store) Chats() domain.ChatRepository {
	return &chatRepo{newTable[domain.ChatMessage](s.db, "chat message")}
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// table implements the generic document store queries for one entity.
// Filter, projection and sort names are checked against the entity's columns.
type table[T any] struct {
	db      *gorm.DB
	entity  string
	columns map[string]bool
}

func newTable[T any](db *gorm.DB, entity string) table[T] {
	columns := map[string]bool{}
	stmt := &gorm.Statement{DB: db}
	if err := stmt.Parse(new(T)); err == nil {
		for _, name := range stmt.Schema.DBNames {
			columns[name] = true
		}
	}
	return table[T]{db: db, entity: entity, columns: columns}
}

func (t table[T]) create(ctx context.Context, value any) error {
	op := "create " + t.entity
	if err := t.db.WithContext(ctx).Create(value).Error; err != nil {
		return mapError(op, err)
	}
	return nil
}

func (t table[T]) findByID(ctx context.Context, id string) (*T, error) {
	op := "find " + t.entity
	var out T
	err := t.db.WithContext(ctx).Where(clause.Eq{Column: clause.Column{Name: "id"}, Value: id}).Take(&out).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NotFoundf(op, "%s %s not found", t.entity, id)
		}
		return nil, mapError(op, err)
	}
	return &out, nil
}

func (t table[T]) find(ctx context.Context, opts domain.FindOptions) ([]T, error) {
	op := "find " + t.entity + "s"
	q, err := t.query(ctx, opts)
	if err != nil {
		return nil, domain.Validation(op, err)
	}
	var out []T
	if err := q.Find(&out).Error; err != nil {
		return nil, mapError(op, err)
	}
	return out, nil
}

func (t table[T]) query(ctx context.Context, opts domain.FindOptions) (*gorm.DB, error) {
	q := t.db.WithContext(ctx).Model(new(T))

	keys := make([]string, 0, len(opts.Filter))
	for key := range opts.Filter {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if !t.columns[key] {
			return nil, fmt.Errorf("unknown filter field %q", key)
		}
		column := clause.Column{Name: key}
		if values, ok := listValues(opts.Filter[key]); ok {
			q = q.Where(clause.IN{Column: column, Values: values})
			continue
		}
		q = q.Where(clause.Eq{Column: column, Value: opts.Filter[key]})
	}

	if len(opts.Fields) > 0 {
		for _, field := range opts.Fields {
			if !t.columns[field] {
				return nil, fmt.Errorf("unknown field %q", field)
			}
		}
		q = q.Select(opts.Fields)
	}

	for _, s := range opts.Sort {
		if !t.columns[s.Field] {
			return nil, fmt.Errorf("unknown sort field %q", s.Field)
		}
		q = q.Order(clause.OrderByColumn{Column: clause.Column{Name: s.Field}, Desc: s.Desc})
	}

	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	return q, nil
}

func (t table[T]) updateFields(ctx context.Context, id string, fields map[string]any) (int64, error) {
	op := "update " + t.entity
	for key := range fields {
		if !t.columns[key] || key == "id" {
			return 0, domain.Validationf(op, "unknown field %q", key)
		}
	}
	res := t.db.WithContext(ctx).Model(new(T)).Where(clause.Eq{Column: clause.Column{Name: "id"}, Value: id}).Updates(fields)
	if res.Error != nil {
		return 0, mapError(op, res.Error)
	}
	return res.RowsAffected, nil
}

// listValues reports whether v is a slice (other than bytes) and returns its elements.
func listValues(v any) ([]any, bool) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice || rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// mapError tags database failures with a domain error kind.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if domain.KindOf(err) != nil {
		return err
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return domain.NotFound(op, err)
	case isDuplicateKey(err):
		return domain.Conflict(op, err)
	}
	return domain.Dependency(op, err)
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *mysqlDriver.MySQLError
	if errors.As(err, &myErr) && myErr.Number == 1062 {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") || strings.Contains(msg, "duplicate key")
}

type evaluationRepo struct {
	table[domain.Evaluation]
}

func (r *evaluationRepo) Create(ctx context.Context, ev *domain.Evaluation) error {
	return r.create(ctx, ev)
}

func (r *evaluationRepo) FindByID(ctx context.Context, id string) (*domain.Evaluation, error) {
	return r.findByID(ctx, id)
}

func (r *evaluationRepo) Find(ctx context.Context, opts domain.FindOptions) ([]domain.Evaluation, error) {
	return r.find(ctx, opts)
}

func (r *evaluationRepo) UpdateFields(ctx context.Context, id string, fields map[string]any) error {
	_, err := r.updateFields(ctx, id, fields)
	return err
}

func (r *evaluationRepo) Transition(ctx context.Context, id string, from, to domain.EvaluationStatus) (bool, error) {
	res := r.db.WithContext(ctx).Model(new(domain.Evaluation)).
		Where(clause.Eq{Column: clause.Column{Name: "id"}, Value: id}).
		Where(clause.Eq{Column: clause.Column{Name: "status"}, Value: string(from)}).
		Update("status", string(to))
	if res.Error != nil {
		return false, mapError("transition evaluation", res.Error)
	}
	return res.RowsAffected == 1, nil
}

type uploadRepo struct {
	table[domain.Upload]
}

func (r *uploadRepo) Create(ctx context.Context, upload *domain.Upload) error {
	return r.create(ctx, upload)
}

func (r *uploadRepo) FindByID(ctx context.Context, id string) (*domain.Upload, error) {
	return r.findByID(ctx, id)
}

func (r *uploadRepo) Find(ctx context.Context, opts domain.FindOptions) ([]domain.Upload, error) {
	return r.find(ctx, opts)
}

type jobPostingRepo struct {
	table[domain.JobPosting]
}

func (r *jobPostingRepo) Create(ctx context.Context, job *domain.JobPosting) error {
	return r.create(ctx, job)
}

func (r *jobPostingRepo) FindByID(ctx context.Context, id string) (*domain.JobPosting, error) {
	return r.findByID(ctx, id)
}

func (r *jobPostingRepo) Find(ctx context.Context, opts domain.FindOptions) ([]domain.JobPosting, error) {
	return r.find(ctx, opts)
}

func (r *jobPostingRepo) Update(ctx context.Context, id string, fields map[string]any) (*domain.JobPosting, error) {
	if _, err := r.findByID(ctx, id); err != nil {
		return nil, err
	}
	if _, err := r.updateFields(ctx, id, fields); err != nil {
		return nil, err
	}
	return r.findByID(ctx, id)
}

func (r *jobPostingRepo) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where(clause.Eq{Column: clause.Column{Name: "id"}, Value: id}).Delete(&domain.JobPosting{})
	if res.Error != nil {
		return mapError("delete job posting", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.NotFoundf("delete job posting", "job posting %s not found", id)
	}
	return nil
}

type cvDetailRepo struct {
	table[domain.CVDetail]
}

func (r *cvDetailRepo) CreateBatch(ctx context.Context, details []domain.CVDetail) error {
	if len(details) == 0 {
		return nil
	}
	return r.create(ctx, &details)
}

func (r *cvDetailRepo) FindByID(ctx context.Context, id string) (*domain.CVDetail, error) {
	return r.findByID(ctx, id)
}

func (r *cvDetailRepo) Find(ctx context.Context, opts domain.FindOptions) ([]domain.CVDetail, error) {
	return r.find(ctx, opts)
}

type chatRepo struct {
	table[domain.ChatMessage]
}

func (r *chatRepo) Record(ctx context.Context, msg *domain.ChatMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	return r.create(ctx, msg)
}

func (r *chatRepo) History(ctx context.Context, chatID int64, limit int) ([]domain.ChatMessage, error) {
	messages, err := r.find(ctx, domain.FindOptions{
		Filter: map[string]any{"chat_id": chatID},
		Sort: []domain.SortField{
			{Field: "created_at", Desc: true},
			{Field: "update_id", Desc: true},
			{Field: "role"},
		},
		Limit: limit,
	})
	if err != nil {
		return nil, err
	}
	slices.Reverse(messages)
	return messages, nil
}
