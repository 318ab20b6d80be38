package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"voting-ledger/models"
)

const snapshotTimeLayout = "20060102150405.000000000"

// LedgerSnapshot is a self-contained export of one election's public ledger.
// It can be audited offline without access to the store.
type LedgerSnapshot struct {
	ElectionID   string                `json:"election_id"`
	ElectionName string                `json:"election_name"`
	Status       models.ElectionStatus `json:"status"`
	MerkleRoot   string                `json:"merkle_root"`
	Leaves       []string              `json:"leaves"`
	Blocks       []models.Block        `json:"blocks"`
	ExportedAt   time.Time             `json:"exported_at"`
}

// SnapshotStore writes timestamped ledger snapshots and keeps the most recent
// few per election.
type SnapshotStore struct {
	dataDir string
	keep    int
	mutex   sync.RWMutex
}

type snapshotFile struct {
	path      string
	timestamp int64
}

type snapshotFiles []snapshotFile

func (f snapshotFiles) Len() int           { return len(f) }
func (f snapshotFiles) Less(i, j int) bool { return f[i].timestamp < f[j].timestamp }
func (f snapshotFiles) Swap(i, j int)      { f[i], f[j] = f[j], f[i] }

func NewSnapshotStore(dataDir string, keep int) (*SnapshotStore, error) {
	absPath, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get absolute path")
	}
	if err := os.MkdirAll(absPath, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create snapshot directory")
	}
	if keep <= 0 {
		keep = 5
	}
	return &SnapshotStore{dataDir: absPath, keep: keep}, nil
}

func snapshotPattern(electionID string) string {
	return fmt.Sprintf("ledger_%s_*.json", electionID)
}

// listFiles returns the snapshot files matching pattern, oldest first.
func (s *SnapshotStore) listFiles(pattern string) (snapshotFiles, error) {
	files, err := filepath.Glob(filepath.Join(s.dataDir, pattern))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list files")
	}

	var out snapshotFiles
	for _, file := range files {
		base := filepath.Base(file)
		parts := strings.Split(base, "_")
		if len(parts) < 3 {
			continue
		}
		timestampStr := strings.TrimSuffix(parts[len(parts)-1], ".json")
		timestamp, err := time.Parse(snapshotTimeLayout, timestampStr)
		if err != nil {
			logrus.WithField("file", base).WithError(err).Warn("invalid timestamp in snapshot filename")
			continue
		}
		out = append(out, snapshotFile{path: file, timestamp: timestamp.UnixNano()})
	}
	sort.Sort(out)
	return out, nil
}

// Save writes snap to a new file and prunes older snapshots of the same
// election. The file is written to a temporary name first and renamed.
func (s *SnapshotStore) Save(snap *LedgerSnapshot) (string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	timestamp := snap.ExportedAt.UTC().Format(snapshotTimeLayout)
	filename := filepath.Join(s.dataDir, fmt.Sprintf("ledger_%s_%s.json", snap.ElectionID, timestamp))

	data, err := json.MarshalIndent(snap, "", "    ")
	if err != nil {
		return "", errors.Wrap(err, "failed to encode snapshot")
	}
	tmp := filename + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", errors.Wrap(err, "failed to write snapshot")
	}
	if err := os.Rename(tmp, filename); err != nil {
		return "", errors.Wrap(err, "failed to rename snapshot")
	}

	if err := s.cleanupOldFiles(snapshotPattern(snap.ElectionID), s.keep); err != nil {
		logrus.WithError(err).Warn("failed to clean up old snapshots")
	}

	logrus.WithFields(logrus.Fields{
		"election": snap.ElectionID,
		"leaves":   len(snap.Leaves),
		"file":     filename,
	}).Info("saved ledger snapshot")
	return filename, nil
}

// LoadLatest returns the newest snapshot for the election, or nil if none.
func (s *SnapshotStore) LoadLatest(electionID string) (*LedgerSnapshot, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	files, err := s.listFiles(snapshotPattern(electionID))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, nil
	}
	return LoadSnapshot(files[len(files)-1].path)
}

// LoadSnapshot decodes a snapshot file written by Save.
func LoadSnapshot(path string) (*LedgerSnapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open file %s", path)
	}
	defer file.Close()

	var snap LedgerSnapshot
	if err := json.NewDecoder(file).Decode(&snap); err != nil {
		return nil, errors.Wrapf(err, "failed to decode snapshot from %s", path)
	}
	return &snap, nil
}

func (s *SnapshotStore) cleanupOldFiles(pattern string, keep int) error {
	files, err := s.listFiles(pattern)
	if err != nil {
		return err
	}
	if len(files) <= keep {
		return nil
	}

	// Remove older files, keeping the most recent 'keep' files
	for i := 0; i < len(files)-keep; i++ {
		if err := os.Remove(files[i].path); err != nil {
			logrus.WithField("file", files[i].path).WithError(err).Warn("failed to remove old snapshot")
		} else {
			logrus.WithField("file", files[i].path).Debug("removed old snapshot")
		}
	}
	return nil
}
