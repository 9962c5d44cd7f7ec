package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

type TemplatesStore interface {
	Get(ctx context.Context, id int64) (*ACLTemplate, error)
	List(ctx context.Context) ([]ACLTemplate, error)
	Create(ctx context.Context, name string, document json.RawMessage) (int64, error)
	Update(ctx context.Context, id int64, name string, document json.RawMessage) error
	Delete(ctx context.Context, id int64) error
}

type templatesStore struct {
	db *sql.DB
}

func NewTemplatesStore(db *sql.DB) TemplatesStore {
	return &templatesStore{db: db}
}

func (s *templatesStore) Get(ctx context.Context, id int64) (*ACLTemplate, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, document, created_at FROM acl_templates WHERE id=?`, id)
	return scanTemplate(row)
}

func scanTemplate(row rowScanner) (*ACLTemplate, error) {
	t := ACLTemplate{}
	var doc string
	if err := row.Scan(&t.ID, &t.Name, &doc, &t.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	t.Document = json.RawMessage(doc)
	return &t, nil
}

func (s *templatesStore) List(ctx context.Context) ([]ACLTemplate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, document, created_at FROM acl_templates ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ACLTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *templatesStore) Create(ctx context.Context, name string, document json.RawMessage) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO acl_templates(name, document, created_at) VALUES(?,?,?)`,
		name, string(document), time.Now().UTC())
	if err != nil {
		return 0, wrapWriteError(err)
	}
	return res.LastInsertId()
}

func (s *templatesStore) Update(ctx context.Context, id int64, name string, document json.RawMessage) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE acl_templates SET name=?, document=? WHERE id=?`,
		name, string(document), id)
	if err != nil {
		return wrapWriteError(err)
	}
	return requireRow(res)
}

// Delete removes a template and nulls the reference on every user pointing
// at it, so those users fall back to their role defaults.
func (s *templatesStore) Delete(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE users SET acl_template_id=NULL, updated_at=? WHERE acl_template_id=?`,
		time.Now().UTC(), id); err != nil {
		tx.Rollback()
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM acl_templates WHERE id=?`, id)
	if err != nil {
		tx.Rollback()
		return err
	}
	if err := requireRow(res); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
