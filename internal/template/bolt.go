package template

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/pickup/internal/storage"
)

var (
	bucketTemplates        = []byte("email_templates")
	bucketTemplatesCreated = []byte("email_templates_by_created")
	bucketTemplatesActive  = []byte("email_templates_active")
)

// BoltStore stores templates in BoltDB.
//
// Besides the primary bucket it maintains two indexes keyed by creation
// time: one over all templates and one over active templates.
type BoltStore struct {
	db     *bolt.DB
	logger *slog.Logger
}

// NewBoltStore creates the template buckets and rebuilds the indexes when
// they are missing.
func NewBoltStore(db *bolt.DB, logger *slog.Logger) (*BoltStore, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketTemplates); err != nil {
			return err
		}
		if tx.Bucket(bucketTemplatesCreated) != nil && tx.Bucket(bucketTemplatesActive) != nil {
			return nil
		}
		return reindexTemplates(tx)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create template buckets: %w", err)
	}
	return &BoltStore{db: db, logger: logger}, nil
}

func reindexTemplates(tx *bolt.Tx) error {
	for _, name := range [][]byte{bucketTemplatesCreated, bucketTemplatesActive} {
		if tx.Bucket(name) != nil {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
		}
	}
	created, err := tx.CreateBucket(bucketTemplatesCreated)
	if err != nil {
		return err
	}
	active, err := tx.CreateBucket(bucketTemplatesActive)
	if err != nil {
		return err
	}

	return tx.Bucket(bucketTemplates).ForEach(func(k, v []byte) error {
		var tmpl Template
		if err := json.Unmarshal(v, &tmpl); err != nil {
			return nil
		}
		key := storage.IndexKey(tmpl.CreatedAt, tmpl.ID)
		if err := created.Put(key, k); err != nil {
			return err
		}
		if tmpl.IsActive {
			return active.Put(key, k)
		}
		return nil
	})
}

// Active implements Store
func (s *BoltStore) Active(ctx context.Context) (*Template, error) {
	return resolveActive(ctx, s, s.logger)
}

func (s *BoltStore) activeIndexed(ctx context.Context) (*Template, error) {
	var tmpl *Template

	err := s.db.View(func(tx *bolt.Tx) error {
		active := tx.Bucket(bucketTemplatesActive)
		if active == nil {
			return storage.ErrIndexUnavailable
		}
		templates := tx.Bucket(bucketTemplates)

		c := active.Cursor()
		for k, id := c.Last(); k != nil; k, id = c.Prev() {
			data := templates.Get(id)
			if data == nil {
				continue
			}
			var t Template
			if err := json.Unmarshal(data, &t); err != nil {
				continue
			}
			if t.IsActive {
				tmpl = &t
				return nil
			}
		}
		return nil
	})

	return tmpl, err
}

// List implements Store
func (s *BoltStore) List(ctx context.Context) []*Template {
	templates, err := s.listAll(ctx)
	if err != nil {
		s.logger.Error("template query failed completely", "error", err)
		return []*Template{}
	}
	return templates
}

func (s *BoltStore) listAll(ctx context.Context) ([]*Template, error) {
	return storage.FetchAllThenSort[*Template](ctx, s, createdAt, storage.Descending, 0, s.logger)
}

// Ordered reads templates through the creation-time index
func (s *BoltStore) Ordered(ctx context.Context, dir storage.Direction, limit int) ([]*Template, error) {
	var templates []*Template

	err := s.db.View(func(tx *bolt.Tx) error {
		index := tx.Bucket(bucketTemplatesCreated)
		if index == nil {
			return storage.ErrIndexUnavailable
		}
		primary := tx.Bucket(bucketTemplates)
		if index.Stats().KeyN != primary.Stats().KeyN {
			return fmt.Errorf("%w: index out of sync", storage.ErrIndexUnavailable)
		}

		c := index.Cursor()
		first, next := c.Last, c.Prev
		if dir == storage.Ascending {
			first, next = c.First, c.Next
		}

		for k, id := first(); k != nil; k, id = next() {
			data := primary.Get(id)
			if data == nil {
				return fmt.Errorf("%w: dangling entry %s", storage.ErrIndexUnavailable, k)
			}
			tmpl := &Template{}
			if err := json.Unmarshal(data, tmpl); err != nil {
				return fmt.Errorf("failed to decode template %s: %w", id, err)
			}
			templates = append(templates, tmpl)
			if limit > 0 && len(templates) >= limit {
				break
			}
		}
		return nil
	})

	return templates, err
}

// Scan reads every template in key order
func (s *BoltStore) Scan(ctx context.Context) ([]*Template, error) {
	var templates []*Template

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTemplates).ForEach(func(k, v []byte) error {
			tmpl := &Template{}
			if err := json.Unmarshal(v, tmpl); err != nil {
				s.logger.Warn("skipping undecodable template", "id", string(k), "error", err)
				return nil
			}
			templates = append(templates, tmpl)
			return nil
		})
	})

	return templates, err
}

// Get implements Store
func (s *BoltStore) Get(ctx context.Context, id string) (*Template, error) {
	var tmpl *Template

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTemplates).Get([]byte(id))
		if data == nil {
			return nil
		}
		tmpl = &Template{}
		return json.Unmarshal(data, tmpl)
	})

	return tmpl, err
}

// Create implements Store
func (s *BoltStore) Create(ctx context.Context, tmpl *Template) error {
	if err := tmpl.Validate(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return putNew(tx, tmpl)
	})
}

func putNew(tx *bolt.Tx, tmpl *Template) error {
	tmpl.ID = uuid.New().String()
	tmpl.CreatedAt = time.Now().UTC()
	tmpl.UpdatedAt = tmpl.CreatedAt

	data, err := json.Marshal(tmpl)
	if err != nil {
		return fmt.Errorf("failed to marshal template: %w", err)
	}

	if err := tx.Bucket(bucketTemplates).Put([]byte(tmpl.ID), data); err != nil {
		return err
	}
	return putIndexes(tx, tmpl)
}

func putIndexes(tx *bolt.Tx, tmpl *Template) error {
	key := storage.IndexKey(tmpl.CreatedAt, tmpl.ID)

	if created := tx.Bucket(bucketTemplatesCreated); created != nil {
		if err := created.Put(key, []byte(tmpl.ID)); err != nil {
			return err
		}
	}

	active := tx.Bucket(bucketTemplatesActive)
	if active == nil {
		return nil
	}
	if tmpl.IsActive {
		return active.Put(key, []byte(tmpl.ID))
	}
	return active.Delete(key)
}

// Update implements Store
func (s *BoltStore) Update(ctx context.Context, id string, p Patch) (*Template, error) {
	var tmpl *Template

	err := s.db.Update(func(tx *bolt.Tx) error {
		templates := tx.Bucket(bucketTemplates)
		data := templates.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}

		tmpl = &Template{}
		if err := json.Unmarshal(data, tmpl); err != nil {
			return err
		}

		p.Apply(tmpl)
		tmpl.UpdatedAt = time.Now().UTC()

		updated, err := json.Marshal(tmpl)
		if err != nil {
			return fmt.Errorf("failed to marshal template: %w", err)
		}
		if err := templates.Put([]byte(id), updated); err != nil {
			return err
		}
		return putIndexes(tx, tmpl)
	})
	if err != nil {
		return nil, err
	}

	return tmpl, nil
}

// Delete implements Store
func (s *BoltStore) Delete(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		templates := tx.Bucket(bucketTemplates)
		data := templates.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}

		var tmpl Template
		if err := json.Unmarshal(data, &tmpl); err == nil {
			key := storage.IndexKey(tmpl.CreatedAt, tmpl.ID)
			for _, name := range [][]byte{bucketTemplatesCreated, bucketTemplatesActive} {
				if b := tx.Bucket(name); b != nil {
					if err := b.Delete(key); err != nil {
						return err
					}
				}
			}
		}

		return templates.Delete([]byte(id))
	})
}

// Initialize implements Store
func (s *BoltStore) Initialize(ctx context.Context) (*Template, bool, error) {
	var tmpl *Template

	err := s.db.Update(func(tx *bolt.Tx) error {
		if k, _ := tx.Bucket(bucketTemplates).Cursor().First(); k != nil {
			return nil
		}
		tmpl = Default()
		return putNew(tx, tmpl)
	})
	if err != nil {
		return nil, false, err
	}

	return tmpl, tmpl != nil, nil
}
