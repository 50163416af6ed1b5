package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/viniciushammett/threshold-learner/internal/learner"
)

var (
	bHistory = []byte("history")         // key=ts RFC3339Nano/id, val=json learner.HistoryEntry
	bRecs    = []byte("recommendations") // key=parameter, val=json learner.Recommendation
	bSamples = []byte("samples")         // key=parameter, val=json []learner.Sample
)

var ErrNotFound = errors.New("store: not found")

type Store struct{ db *bolt.DB }

func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bHistory, bRecs, bSamples} {
			if _, e := tx.CreateBucketIfNotExists(b); e != nil {
				return e
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// -------- Histórico de otimizações --------

func historyKey(e learner.HistoryEntry) []byte {
	return []byte(e.Timestamp.UTC().Format(time.RFC3339Nano) + "/" + e.ID) // ordenável por tempo
}

func (s *Store) PutHistory(e learner.HistoryEntry) error {
	j, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bHistory).Put(historyKey(e), j)
	})
}

// ListHistory returns up to limit entries, newest first. limit <= 0 means all.
func (s *Store) ListHistory(limit int) ([]learner.HistoryEntry, error) {
	out := []learner.HistoryEntry{}
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bHistory).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var e learner.HistoryEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("history %s: %w", k, err)
			}
			out = append(out, e)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	return out, err
}

// PruneHistory keeps only the newest keep entries.
func (s *Store) PruneHistory(keep int) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bHistory)
		excess := b.Stats().KeyN - keep
		var stale [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil && len(stale) < excess; k, _ = c.Next() {
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

// -------- Recomendações --------

func (s *Store) PutRecommendations(recs map[string]learner.Recommendation) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bRecs)
		for p, r := range recs {
			j, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("recommendation %s: %w", p, err)
			}
			if err := b.Put([]byte(p), j); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) LoadRecommendations() ([]learner.Recommendation, error) {
	var out []learner.Recommendation
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bRecs).ForEach(func(k, v []byte) error {
			var r learner.Recommendation
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("recommendation %s: %w", k, err)
			}
			out = append(out, r)
			return nil
		})
	})
	return out, err
}

func (s *Store) Recommendation(parameter string) (learner.Recommendation, error) {
	var r learner.Recommendation
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bRecs).Get([]byte(parameter))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &r)
	})
	return r, err
}

// -------- Amostras (snapshot para restaurar buffers) --------

// PutSamples replaces the stored snapshot of parameter.
func (s *Store) PutSamples(parameter string, samples []learner.Sample) error {
	j, err := json.Marshal(samples)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bSamples).Put([]byte(parameter), j)
	})
}

// AppendSamples merges samples into the stored snapshot of parameter.
func (s *Store) AppendSamples(parameter string, samples []learner.Sample) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bSamples)
		var cur []learner.Sample
		if v := b.Get([]byte(parameter)); v != nil {
			if err := json.Unmarshal(v, &cur); err != nil {
				return fmt.Errorf("samples %s: %w", parameter, err)
			}
		}
		j, err := json.Marshal(append(cur, samples...))
		if err != nil {
			return err
		}
		return b.Put([]byte(parameter), j)
	})
}

func (s *Store) LoadSamples() (map[string][]learner.Sample, error) {
	out := map[string][]learner.Sample{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bSamples).ForEach(func(k, v []byte) error {
			var ss []learner.Sample
			if err := json.Unmarshal(v, &ss); err != nil {
				return fmt.Errorf("samples %s: %w", k, err)
			}
			out[string(k)] = ss
			return nil
		})
	})
	return out, err
}
