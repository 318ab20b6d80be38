package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"voting-ledger/models"
)

var (
	bucketElections   = []byte("elections")
	bucketCandidates  = []byte("candidates")
	bucketVoters      = []byte("voters")
	bucketCommitments = []byte("voter_commitments")
	bucketSessions    = []byte("sessions")
	bucketActive      = []byte("active_sessions")
	bucketExpiry      = []byte("session_expiry")
	bucketBallots     = []byte("ballots")
	bucketReceipts    = []byte("receipts")
	bucketLeaves      = []byte("leaves")
	bucketBlocks      = []byte("blocks")
	bucketKeys        = []byte("keys")
	bucketResults     = []byte("results")
	bucketAudit       = []byte("audit")

	topLevelBuckets = [][]byte{
		bucketElections, bucketCandidates, bucketVoters, bucketCommitments,
		bucketSessions, bucketActive, bucketExpiry, bucketBallots, bucketReceipts,
		bucketLeaves, bucketBlocks, bucketKeys, bucketResults, bucketAudit,
	}
)

type Options struct {
	// NoSync skips fsync on commit. Only for tests and benchmarks.
	NoSync  bool
	Timeout time.Duration
}

// Store is the durable document store behind the core. Every write goes
// through one bbolt read-write transaction, which is the unit of atomicity for
// the conditional updates the service performs.
type Store struct {
	db   *bolt.DB
	path string
}

func Open(path string, opts Options) (*Store, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get absolute path")
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create data directory")
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = time.Second
	}
	db, err := bolt.Open(absPath, 0600, &bolt.Options{Timeout: timeout, NoSync: opts.NoSync})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open store %s", absPath)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range topLevelBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return errors.Wrapf(err, "failed to create bucket %s", name)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	logrus.WithField("path", absPath).Info("opened store")
	return &Store{db: db, path: absPath}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Path() string {
	return s.path
}

// Update runs fn in a read-write transaction. Returning an error rolls back
// every write made by fn.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(btx *bolt.Tx) error {
		return fn(&Tx{tx: btx})
	})
}

func (s *Store) View(ctx context.Context, fn func(tx *Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(btx *bolt.Tx) error {
		return fn(&Tx{tx: btx})
	})
}

// Tx exposes typed accessors over one bbolt transaction.
type Tx struct {
	tx *bolt.Tx
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func compositeKey(parts ...string) []byte {
	var out []byte
	for i, p := range parts {
		if i > 0 {
			out = append(out, 0)
		}
		out = append(out, p...)
	}
	return out
}

func putJSON(b *bolt.Bucket, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "failed to encode record")
	}
	return b.Put(key, data)
}

// getJSON decodes the value at key into v and reports whether it existed.
func getJSON(b *bolt.Bucket, key []byte, v interface{}) (bool, error) {
	if b == nil {
		return false, nil
	}
	data := b.Get(key)
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, errors.Wrap(err, "failed to decode record")
	}
	return true, nil
}

// sub returns the per-election bucket nested under a top-level bucket. In a
// read-only transaction a missing bucket yields nil.
func (t *Tx) sub(top []byte, electionID string) (*bolt.Bucket, error) {
	parent := t.tx.Bucket(top)
	if b := parent.Bucket([]byte(electionID)); b != nil || !t.tx.Writable() {
		return b, nil
	}
	b, err := parent.CreateBucketIfNotExists([]byte(electionID))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create %s bucket for %s", top, electionID)
	}
	return b, nil
}

func deleteSub(parent *bolt.Bucket, electionID string) error {
	if parent.Bucket([]byte(electionID)) == nil {
		return nil
	}
	return parent.DeleteBucket([]byte(electionID))
}

// Elections

func (t *Tx) GetElection(id string) (*models.Election, error) {
	var e models.Election
	ok, err := getJSON(t.tx.Bucket(bucketElections), []byte(id), &e)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(models.ErrNotFound, "election %s", id)
	}
	return &e, nil
}

func (t *Tx) PutElection(e *models.Election) error {
	return putJSON(t.tx.Bucket(bucketElections), []byte(e.ID), e)
}

func (t *Tx) DeleteElection(id string) error {
	return t.tx.Bucket(bucketElections).Delete([]byte(id))
}

func (t *Tx) ListElections() ([]*models.Election, error) {
	var out []*models.Election
	err := t.tx.Bucket(bucketElections).ForEach(func(k, v []byte) error {
		var e models.Election
		if err := json.Unmarshal(v, &e); err != nil {
			return errors.Wrapf(err, "failed to decode election %s", k)
		}
		out = append(out, &e)
		return nil
	})
	return out, err
}

// Candidates

func (t *Tx) PutCandidate(c *models.Candidate) error {
	b, err := t.sub(bucketCandidates, c.ElectionID)
	if err != nil {
		return err
	}
	return putJSON(b, []byte(c.ID), c)
}

func (t *Tx) GetCandidate(electionID, id string) (*models.Candidate, error) {
	b, err := t.sub(bucketCandidates, electionID)
	if err != nil {
		return nil, err
	}
	var c models.Candidate
	ok, err := getJSON(b, []byte(id), &c)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(models.ErrNotFound, "candidate %s", id)
	}
	return &c, nil
}

func (t *Tx) ListCandidates(electionID string) ([]*models.Candidate, error) {
	b, err := t.sub(bucketCandidates, electionID)
	if err != nil || b == nil {
		return nil, err
	}
	var out []*models.Candidate
	err = b.ForEach(func(k, v []byte) error {
		var c models.Candidate
		if err := json.Unmarshal(v, &c); err != nil {
			return errors.Wrapf(err, "failed to decode candidate %s", k)
		}
		out = append(out, &c)
		return nil
	})
	return out, err
}

func (t *Tx) DeleteCandidates(electionID string) error {
	return deleteSub(t.tx.Bucket(bucketCandidates), electionID)
}

// Voters

// InsertVoter stores a new voter. One commitment may register only once per
// election.
func (t *Tx) InsertVoter(v *models.VoterIdentity) error {
	idx := t.tx.Bucket(bucketCommitments)
	key := compositeKey(v.ElectionID, v.Commitment)
	if idx.Get(key) != nil {
		return errors.Wrapf(models.ErrAlreadyRegistered, "election %s", v.ElectionID)
	}
	if err := idx.Put(key, []byte(v.ID)); err != nil {
		return err
	}
	return t.PutVoter(v)
}

func (t *Tx) PutVoter(v *models.VoterIdentity) error {
	return putJSON(t.tx.Bucket(bucketVoters), []byte(v.ID), v)
}

func (t *Tx) GetVoter(id string) (*models.VoterIdentity, error) {
	var v models.VoterIdentity
	ok, err := getJSON(t.tx.Bucket(bucketVoters), []byte(id), &v)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(models.ErrNotFound, "voter %s", id)
	}
	return &v, nil
}

// ListVoters returns every voter registered for the election, scanning the
// commitment index by election prefix.
func (t *Tx) ListVoters(electionID string) ([]*models.VoterIdentity, error) {
	prefix := append(compositeKey(electionID), 0)
	var out []*models.VoterIdentity
	c := t.tx.Bucket(bucketCommitments).Cursor()
	for k, id := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, id = c.Next() {
		v, err := t.GetVoter(string(id))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Sessions

func expiryKey(s *models.VotingSession) []byte {
	return append(itob(uint64(s.ExpiresAt.UnixNano())), s.ID...)
}

// PutSession writes the session and keeps the active and expiry indexes in
// step with its status.
func (t *Tx) PutSession(s *models.VotingSession) error {
	sessions := t.tx.Bucket(bucketSessions)
	active := t.tx.Bucket(bucketActive)
	expiry := t.tx.Bucket(bucketExpiry)

	var old models.VotingSession
	found, err := getJSON(sessions, []byte(s.ID), &old)
	if err != nil {
		return err
	}
	if found && old.IsActive() {
		if err := expiry.Delete(expiryKey(&old)); err != nil {
			return err
		}
		key := compositeKey(old.VoterID, old.ElectionID)
		if string(active.Get(key)) == old.ID {
			if err := active.Delete(key); err != nil {
				return err
			}
		}
	}

	if s.IsActive() {
		if err := active.Put(compositeKey(s.VoterID, s.ElectionID), []byte(s.ID)); err != nil {
			return err
		}
		if err := expiry.Put(expiryKey(s), []byte(s.ID)); err != nil {
			return err
		}
	}
	return putJSON(sessions, []byte(s.ID), s)
}

func (t *Tx) GetSession(id string) (*models.VotingSession, error) {
	var s models.VotingSession
	ok, err := getJSON(t.tx.Bucket(bucketSessions), []byte(id), &s)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(models.ErrNotFound, "session %s", id)
	}
	return &s, nil
}

// ActiveSession returns the voter's active session in the election, or nil.
func (t *Tx) ActiveSession(voterID, electionID string) (*models.VotingSession, error) {
	id := t.tx.Bucket(bucketActive).Get(compositeKey(voterID, electionID))
	if id == nil {
		return nil, nil
	}
	return t.GetSession(string(id))
}

// ExpiredSessionIDs lists up to limit active sessions whose deadline is
// before now, oldest first.
func (t *Tx) ExpiredSessionIDs(now time.Time, limit int) []string {
	var ids []string
	c := t.tx.Bucket(bucketExpiry).Cursor()
	cutoff := uint64(now.UnixNano())
	for k, v := c.First(); k != nil && len(ids) < limit; k, v = c.Next() {
		if binary.BigEndian.Uint64(k[:8]) >= cutoff {
			break
		}
		ids = append(ids, string(v))
	}
	return ids
}

// Ballots and receipts

// InsertBallot stores the ballot under its nullifier. A second ballot with the
// same nullifier in the same election is rejected.
func (t *Tx) InsertBallot(b *models.Ballot) error {
	bucket, err := t.sub(bucketBallots, b.ElectionID)
	if err != nil {
		return err
	}
	if bucket.Get([]byte(b.Nullifier)) != nil {
		return errors.Wrapf(models.ErrDuplicateVote, "election %s", b.ElectionID)
	}
	if err := putJSON(bucket, []byte(b.Nullifier), b); err != nil {
		return err
	}
	return t.tx.Bucket(bucketReceipts).Put([]byte(b.ReceiptID), compositeKey(b.ElectionID, b.Nullifier))
}

func (t *Tx) HasBallot(electionID, nullifier string) (bool, error) {
	b, err := t.sub(bucketBallots, electionID)
	if err != nil || b == nil {
		return false, err
	}
	return b.Get([]byte(nullifier)) != nil, nil
}

func (t *Tx) ListBallots(electionID string) ([]*models.Ballot, error) {
	b, err := t.sub(bucketBallots, electionID)
	if err != nil || b == nil {
		return nil, err
	}
	var out []*models.Ballot
	err = b.ForEach(func(k, v []byte) error {
		var ballot models.Ballot
		if err := json.Unmarshal(v, &ballot); err != nil {
			return errors.Wrap(err, "failed to decode ballot")
		}
		out = append(out, &ballot)
		return nil
	})
	return out, err
}

func (t *Tx) BallotByReceipt(receiptID string) (*models.Ballot, error) {
	ref := t.tx.Bucket(bucketReceipts).Get([]byte(receiptID))
	if ref == nil {
		return nil, errors.Wrapf(models.ErrNotFound, "receipt %s", receiptID)
	}
	parts := bytes.SplitN(ref, []byte{0}, 2)
	if len(parts) != 2 {
		return nil, errors.Errorf("malformed receipt index for %s", receiptID)
	}
	electionID, nullifier := string(parts[0]), string(parts[1])

	b, err := t.sub(bucketBallots, electionID)
	if err != nil {
		return nil, err
	}
	var ballot models.Ballot
	ok, err := getJSON(b, []byte(nullifier), &ballot)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(models.ErrNotFound, "ballot for receipt %s", receiptID)
	}
	return &ballot, nil
}

// Ledger

// AppendLeaf stores leaf at 1-based position. Positions must be contiguous.
func (t *Tx) AppendLeaf(electionID string, position int, leaf string) error {
	b, err := t.sub(bucketLeaves, electionID)
	if err != nil {
		return err
	}
	var last uint64
	if k, _ := b.Cursor().Last(); k != nil {
		last = binary.BigEndian.Uint64(k)
	}
	if last != uint64(position-1) {
		return errors.Wrapf(models.ErrLedgerCorruption, "leaf position %d after %d leaves", position, last)
	}
	return b.Put(itob(uint64(position)), []byte(leaf))
}

func (t *Tx) Leaves(electionID string) ([]string, error) {
	b, err := t.sub(bucketLeaves, electionID)
	if err != nil || b == nil {
		return nil, err
	}
	var out []string
	err = b.ForEach(func(_, v []byte) error {
		out = append(out, string(v))
		return nil
	})
	return out, err
}

func (t *Tx) PutBlock(b *models.Block) error {
	bucket, err := t.sub(bucketBlocks, b.ElectionID)
	if err != nil {
		return err
	}
	if bucket.Get(itob(b.BlockID)) != nil {
		return errors.Wrapf(models.ErrLedgerCorruption, "block %d already exists", b.BlockID)
	}
	return putJSON(bucket, itob(b.BlockID), b)
}

func (t *Tx) Blocks(electionID string) ([]models.Block, error) {
	bucket, err := t.sub(bucketBlocks, electionID)
	if err != nil || bucket == nil {
		return nil, err
	}
	var out []models.Block
	err = bucket.ForEach(func(_, v []byte) error {
		var blk models.Block
		if err := json.Unmarshal(v, &blk); err != nil {
			return errors.Wrap(err, "failed to decode block")
		}
		out = append(out, blk)
		return nil
	})
	return out, err
}

// LastBlock returns the chain tail, or nil for an empty chain.
func (t *Tx) LastBlock(electionID string) (*models.Block, error) {
	bucket, err := t.sub(bucketBlocks, electionID)
	if err != nil || bucket == nil {
		return nil, err
	}
	_, v := bucket.Cursor().Last()
	if v == nil {
		return nil, nil
	}
	var blk models.Block
	if err := json.Unmarshal(v, &blk); err != nil {
		return nil, errors.Wrap(err, "failed to decode block")
	}
	return &blk, nil
}

// Keys

func (t *Tx) GetKeys(electionID string) (*models.ElectionKeyMaterial, error) {
	var k models.ElectionKeyMaterial
	ok, err := getJSON(t.tx.Bucket(bucketKeys), []byte(electionID), &k)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(models.ErrNotFound, "keys for election %s", electionID)
	}
	return &k, nil
}

func (t *Tx) PutKeys(k *models.ElectionKeyMaterial) error {
	return putJSON(t.tx.Bucket(bucketKeys), []byte(k.ElectionID), k)
}

func (t *Tx) DeleteKeys(electionID string) error {
	return t.tx.Bucket(bucketKeys).Delete([]byte(electionID))
}

// Results

// InsertResult writes the result once. Existing results are never replaced.
func (t *Tx) InsertResult(r *models.Result) error {
	b := t.tx.Bucket(bucketResults)
	if b.Get([]byte(r.ElectionID)) != nil {
		return errors.Wrapf(models.ErrAlreadyPublished, "election %s", r.ElectionID)
	}
	return putJSON(b, []byte(r.ElectionID), r)
}

func (t *Tx) GetResult(electionID string) (*models.Result, error) {
	var r models.Result
	ok, err := getJSON(t.tx.Bucket(bucketResults), []byte(electionID), &r)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(models.ErrNotFound, "result for election %s", electionID)
	}
	return &r, nil
}

// Audit log

func (t *Tx) AppendAudit(e *models.AuditEntry) error {
	b, err := t.sub(bucketAudit, e.ElectionID)
	if err != nil {
		return err
	}
	seq, err := b.NextSequence()
	if err != nil {
		return err
	}
	return putJSON(b, itob(seq), e)
}

func (t *Tx) AuditEntries(electionID string) ([]*models.AuditEntry, error) {
	b, err := t.sub(bucketAudit, electionID)
	if err != nil || b == nil {
		return nil, err
	}
	var out []*models.AuditEntry
	err = b.ForEach(func(_, v []byte) error {
		var e models.AuditEntry
		if err := json.Unmarshal(v, &e); err != nil {
			return errors.Wrap(err, "failed to decode audit entry")
		}
		out = append(out, &e)
		return nil
	})
	return out, err
}
