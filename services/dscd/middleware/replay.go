package middleware

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	tokenKeyPrefix    = "jti:"
	observedKeyPrefix = "observed:"
)

// ReplayStore remembers token ids used for state changing requests.
type ReplayStore interface {
	// Observe records the token id and reports whether it was already used.
	Observe(ctx context.Context, subject, tokenID string, at time.Time) (bool, error)
	// Prune forgets ids observed before cutoff.
	Prune(ctx context.Context, cutoff time.Time) error
	Close() error
}

// LevelDBReplayStore persists observed token ids in LevelDB.
type LevelDBReplayStore struct {
	db *leveldb.DB
}

// NewLevelDBReplayStore opens (or creates) the store at path. An empty path
// keeps the store in memory.
func NewLevelDBReplayStore(path string) (*LevelDBReplayStore, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		db, err := leveldb.Open(storage.NewMemStorage(), nil)
		if err != nil {
			return nil, fmt.Errorf("open in-memory replay store: %w", err)
		}
		return &LevelDBReplayStore{db: db}, nil
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve replay store path: %w", err)
	}
	db, err := leveldb.OpenFile(abs, nil)
	if err != nil {
		return nil, fmt.Errorf("open replay store: %w", err)
	}
	return &LevelDBReplayStore{db: db}, nil
}

// Close releases the underlying LevelDB resources.
func (p *LevelDBReplayStore) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

func (p *LevelDBReplayStore) Observe(ctx context.Context, subject, tokenID string, at time.Time) (bool, error) {
	if p == nil || p.db == nil {
		return false, fmt.Errorf("replay store not configured")
	}
	subject = strings.TrimSpace(subject)
	tokenID = strings.TrimSpace(tokenID)
	if subject == "" || tokenID == "" {
		return false, fmt.Errorf("replay record incomplete")
	}
	composite := subject + "|" + tokenID
	key := []byte(tokenKeyPrefix + composite)
	_, err := p.db.Get(key, nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
	case err != nil:
		return false, fmt.Errorf("load token id: %w", err)
	default:
		return true, nil
	}

	nanos := at.UTC().UnixNano()
	batch := new(leveldb.Batch)
	batch.Put(key, encodeUnixNano(nanos))
	batch.Put([]byte(observedKey(nanos, composite)), nil)
	if err := p.db.Write(batch, nil); err != nil {
		return false, fmt.Errorf("record token id: %w", err)
	}
	return false, nil
}

func (p *LevelDBReplayStore) Prune(ctx context.Context, cutoff time.Time) error {
	if p == nil || p.db == nil {
		return fmt.Errorf("replay store not configured")
	}
	cutoffKey := []byte(observedKey(cutoff.UTC().UnixNano(), ""))
	iter := p.db.NewIterator(&util.Range{Start: []byte(observedKeyPrefix), Limit: cutoffKey}, nil)
	defer iter.Release()

	batch := new(leveldb.Batch)
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		composite, _, ok := parseObservedKey(iter.Key())
		if !ok {
			continue
		}
		batch.Delete(append([]byte(nil), iter.Key()...))
		batch.Delete([]byte(tokenKeyPrefix + composite))
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("iterate observed token ids: %w", err)
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := p.db.Write(batch, nil); err != nil {
		return fmt.Errorf("prune token ids: %w", err)
	}
	return nil
}

// RunPruner prunes ids older than window every interval until ctx ends.
func RunPruner(ctx context.Context, store ReplayStore, window, interval time.Duration, now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = store.Prune(ctx, now().Add(-window))
		}
	}
}

func observedKey(nanos int64, composite string) string {
	return fmt.Sprintf("%s%020d:%s", observedKeyPrefix, nanos, composite)
}

func parseObservedKey(key []byte) (string, int64, bool) {
	parts := strings.SplitN(string(key), ":", 3)
	if len(parts) != 3 {
		return "", 0, false
	}
	nanos, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return parts[2], nanos, true
}

func encodeUnixNano(nanos int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(nanos))
	return buf
}
