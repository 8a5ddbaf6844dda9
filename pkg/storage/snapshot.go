package storage

import (
	"fmt"
	"io"
	"os"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Backup streams a consistent point-in-time copy of the whole state file,
// using bbolt's own hot-backup support (Tx.WriteTo) rather than a
// bucket-by-bucket JSON walk. This backs the Sink's raft FSMSnapshot.
func (s *BoltStore) Backup(w io.Writer) error {
	return s.db.View(func(tx *bolt.Tx) error {
		_, err := tx.WriteTo(w)
		return err
	})
}

// Restore replaces the entire state file with a snapshot previously
// produced by Backup. It closes and reopens the underlying bbolt handle, so
// callers must not hold any other reference to the old *BoltStore's db
// across this call.
func (s *BoltStore) Restore(r io.Reader) error {
	path := s.db.Path()
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close state file before restore: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("recreate state file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("write restored state: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("finalize restored state file: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return fmt.Errorf("reopen restored state file: %w", err)
	}
	s.db = db
	return nil
}
