// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/bureau-foundation/mailroom/lib/gitx"
	"github.com/bureau-foundation/mailroom/mail"
)

const (
	chainDir     = "chain"
	headFileName = "HEAD.json"
	tmpDirName   = ".tmp"
)

// recordFilePattern matches committed record files. Everything else
// under the tree (in-flight temp files, stray editor droppings) is
// ignored by readers. Sequence numbers are zero-padded to eight
// digits and grow past the padding, so the reader accepts any width
// the writer can produce.
var recordFilePattern = regexp.MustCompile(`^\d{8,}\.json$`)

// CommitID is a git commit hash recording the durability point of one
// or more staged batches.
type CommitID string

// Config configures an Archive.
type Config struct {
	// Dir is the archive repository directory. Created (and
	// git-initialized) if it does not exist.
	Dir string

	// Slug is the project slug. It anchors the record path scheme and
	// binds exported bundles to this project.
	Slug string
}

// Batch is one logical operation's worth of records, appended
// atomically: a reader sees all of a batch's records or none of them.
// Records must carry consecutive sequence numbers extending the
// current chain head.
type Batch struct {
	// Op is the operation wire name. Records with an empty Op inherit
	// it; it also names the batch in commit messages.
	Op string

	// PrevHash, when non-empty, is the chain head hash the caller
	// observed. A mismatch fails the append with a SequenceError
	// before anything is written.
	PrevHash string

	// Records are staged in order. Seq must be set by the caller;
	// PrevHash, Hash, and AgentSlug are assigned during staging.
	Records []Record
}

// Staged is the result of writing a batch's files to the archive
// tree. The records are durable once a subsequent Commit returns;
// until then they are visible to readers but not yet in git history.
type Staged struct {
	// Head is the chain position after this batch.
	Head Head

	// Records are the finalized records, hashes assigned.
	Records []Record

	note string
}

// Note returns the one-line description of this batch for use as a
// commit message.
func (s *Staged) Note() string {
	return s.note
}

// Archive is one project's append-only history. Appends are
// validated against the in-memory chain head and serialized by the
// caller (the project exclusivity lock); reads go to the committed
// files on disk and never block appends.
type Archive struct {
	repo     *gitx.Repository
	slug     string
	dir      string
	tmpDir   string
	headPath string
	lockPath string

	mu   sync.Mutex
	head Head
}

// Open opens the archive at cfg.Dir, creating and initializing the
// git repository and chain head on first use. Open is idempotent; it
// assumes this process owns the project root (no cross-process
// creation race).
func Open(ctx context.Context, cfg Config) (*Archive, error) {
	if cfg.Dir == "" {
		return nil, errors.New("archive: Config.Dir is required")
	}
	if cfg.Slug == "" {
		return nil, errors.New("archive: Config.Slug is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating archive directory: %w", err)
	}

	repo, err := gitx.Init(ctx, cfg.Dir, "mailroom", "mailroom@localhost")
	if err != nil {
		return nil, fmt.Errorf("initializing archive repository: %w", err)
	}

	a := &Archive{
		repo:     repo,
		slug:     cfg.Slug,
		dir:      cfg.Dir,
		tmpDir:   filepath.Join(cfg.Dir, tmpDirName),
		headPath: filepath.Join(cfg.Dir, chainDir, headFileName),
		lockPath: filepath.Join(cfg.Dir, ".git", "archive.lock"),
	}
	if err := os.MkdirAll(a.tmpDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating archive temp directory: %w", err)
	}

	head, err := readHeadFile(a.headPath)
	switch {
	case err == nil:
		a.head = head
	case errors.Is(err, fs.ErrNotExist):
		if err := a.writeGenesis(ctx); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}
	return a, nil
}

// Dir returns the archive repository directory.
func (a *Archive) Dir() string {
	return a.dir
}

// Slug returns the project slug this archive belongs to.
func (a *Archive) Slug() string {
	return a.slug
}

// Head returns the committed chain position. It reads the head file
// from disk, so it reflects whatever the most recent completed stage
// left behind, without coordinating with writers.
func (a *Archive) Head() (Head, error) {
	return readHeadFile(a.headPath)
}

// Stage validates a batch against the chain head and writes its
// record files and the updated head to the archive tree. Every file
// is written atomically and the head file is written last, so readers
// keyed off the head never observe a partial batch. Sequence problems
// surface as *SequenceError with nothing written; disk problems as
// *WriteError with the batch's files removed again.
//
// Staging advances the chain immediately. Durability in git history
// comes from a later Commit, which callers batch through the commit
// queue; Append does both in one call.
func (a *Archive) Stage(batch Batch) (*Staged, error) {
	if batch.Op == "" {
		return nil, errors.New("archive: batch op is required")
	}
	if len(batch.Records) == 0 {
		return nil, errors.New("archive: batch has no records")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if batch.PrevHash != "" && batch.PrevHash != a.head.Hash {
		return nil, &SequenceError{
			ExpectedSeq:  a.head.Seq + 1,
			GotSeq:       batch.Records[0].Seq,
			ExpectedHash: a.head.Hash,
			GotHash:      batch.PrevHash,
		}
	}

	records := make([]Record, len(batch.Records))
	copy(records, batch.Records)

	chainHash := a.head.Hash
	for i := range records {
		record := &records[i]
		if want := a.head.Seq + 1 + int64(i); record.Seq != want {
			return nil, &SequenceError{
				ExpectedSeq:  want,
				GotSeq:       record.Seq,
				ExpectedHash: a.head.Hash,
			}
		}
		if record.Op == "" {
			record.Op = batch.Op
		}
		if err := validateRecord(record); err != nil {
			return nil, err
		}
		if record.Agent != "" {
			record.AgentSlug = mail.AgentSlug(record.Agent)
		}
		record.PrevHash = chainHash
		hash, err := recordHash(*record)
		if err != nil {
			return nil, err
		}
		record.Hash = hash
		chainHash = hash
	}

	written := make([]string, 0, len(records))
	cleanup := func() {
		for _, path := range written {
			os.Remove(path)
		}
	}

	for i := range records {
		record := &records[i]
		data, err := json.MarshalIndent(record, "", "  ")
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("encoding record %d: %w", record.Seq, err)
		}
		data = append(data, '\n')

		absolute := filepath.Join(a.dir, filepath.FromSlash(record.relativePath(a.slug)))
		if err := os.MkdirAll(filepath.Dir(absolute), 0o755); err != nil {
			cleanup()
			return nil, &WriteError{Path: absolute, Err: err}
		}
		if err := a.writeFileAtomic(absolute, data); err != nil {
			cleanup()
			return nil, err
		}
		written = append(written, absolute)
	}

	newHead := Head{Seq: records[len(records)-1].Seq, Hash: chainHash}
	if err := a.writeHeadFile(newHead); err != nil {
		cleanup()
		return nil, err
	}
	a.head = newHead

	return &Staged{
		Head:    newHead,
		Records: records,
		note:    batchNote(batch.Op, records),
	}, nil
}

// Commit records everything staged since the last commit as one git
// commit and returns its hash. The notes (typically Staged.Note
// values) become the commit message; several batches coalesced into
// one commit keep their individual notes in the body.
//
// The git index is guarded by flock, so an operator running git in
// the archive while the daemon commits cannot corrupt it.
func (a *Archive) Commit(ctx context.Context, notes ...string) (CommitID, error) {
	subject := "archive checkpoint"
	body := ""
	switch len(notes) {
	case 0:
	case 1:
		subject = notes[0]
	default:
		subject = fmt.Sprintf("coalesce %d appends", len(notes))
		body = strings.Join(notes, "\n")
	}

	if _, err := a.repo.RunLocked(ctx, a.lockPath, "add", "-A"); err != nil {
		return "", &WriteError{Path: "git add", Err: err}
	}
	args := []string{"commit", "--quiet", "--allow-empty", "-m", subject}
	if body != "" {
		args = append(args, "-m", body)
	}
	if _, err := a.repo.RunLocked(ctx, a.lockPath, args...); err != nil {
		return "", &WriteError{Path: "git commit", Err: err}
	}

	id, err := a.repo.Run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", &WriteError{Path: "git rev-parse", Err: err}
	}
	return CommitID(strings.TrimSpace(id)), nil
}

// Append stages a batch and commits it in one call. Callers that
// coalesce commits use Stage and the commit queue instead.
func (a *Archive) Append(ctx context.Context, batch Batch) (CommitID, error) {
	staged, err := a.Stage(batch)
	if err != nil {
		return "", err
	}
	return a.Commit(ctx, staged.Note())
}

// ReadRecord returns the record at the given chain position.
func (a *Archive) ReadRecord(seq int64) (Record, error) {
	head, err := a.Head()
	if err != nil {
		return Record{}, err
	}
	if seq < 1 || seq > head.Seq {
		return Record{}, fmt.Errorf("archive: record %d: %w", seq, ErrNotFound)
	}
	files, err := a.recordFiles(head.Seq)
	if err != nil {
		return Record{}, err
	}
	for _, file := range files {
		if file.seq == seq {
			return readRecordFile(file.path)
		}
	}
	return Record{}, fmt.Errorf("archive: record %d: %w", seq, ErrNotFound)
}

// List returns every record up to the current chain head, in chain
// order.
func (a *Archive) List() ([]Record, error) {
	head, err := a.Head()
	if err != nil {
		return nil, err
	}
	files, err := a.recordFiles(head.Seq)
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(files))
	for _, file := range files {
		record, err := readRecordFile(file.path)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// VerifyChain walks the full chain, recomputing every record hash and
// prev-hash link against the head. A nil return means the on-disk
// history is exactly what the hashes committed to.
func (a *Archive) VerifyChain() error {
	head, err := a.Head()
	if err != nil {
		return err
	}
	records, err := a.List()
	if err != nil {
		return err
	}
	if int64(len(records)) != head.Seq {
		return fmt.Errorf("archive: chain head is %d but %d records are on disk", head.Seq, len(records))
	}

	prevHash := ""
	for i, record := range records {
		if want := int64(i) + 1; record.Seq != want {
			return fmt.Errorf("archive: chain gap: record %d found where seq %d expected", record.Seq, want)
		}
		if record.PrevHash != prevHash {
			return fmt.Errorf("archive: record %d prev hash %q does not match preceding record %q",
				record.Seq, record.PrevHash, prevHash)
		}
		computed, err := recordHash(record)
		if err != nil {
			return err
		}
		if computed != record.Hash {
			return fmt.Errorf("archive: record %d content does not match its hash", record.Seq)
		}
		prevHash = record.Hash
	}
	if prevHash != head.Hash {
		return fmt.Errorf("archive: chain head hash %q does not match last record %q", head.Hash, prevHash)
	}
	return nil
}

// writeGenesis lays down the empty chain and its initial commit.
func (a *Archive) writeGenesis(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Join(a.dir, chainDir), 0o755); err != nil {
		return fmt.Errorf("creating chain directory: %w", err)
	}
	// The temp directory must never reach git history.
	ignorePath := filepath.Join(a.dir, ".gitignore")
	if err := a.writeFileAtomic(ignorePath, []byte(tmpDirName+"/\n")); err != nil {
		return err
	}
	if err := a.writeHeadFile(Head{}); err != nil {
		return err
	}
	if _, err := a.Commit(ctx, "archive initialized"); err != nil {
		return err
	}
	return nil
}

func (a *Archive) writeHeadFile(head Head) error {
	data, err := json.MarshalIndent(head, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding chain head: %w", err)
	}
	data = append(data, '\n')
	return a.writeFileAtomic(a.headPath, data)
}

// writeFileAtomic writes data via a temp file and rename, so readers
// see either the old content or the new, never a torn write.
func (a *Archive) writeFileAtomic(path string, data []byte) error {
	tmpFile, err := os.CreateTemp(a.tmpDir, "stage-*")
	if err != nil {
		return &WriteError{Path: path, Err: err}
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return &WriteError{Path: path, Err: err}
	}
	if err := tmpFile.Close(); err != nil {
		return &WriteError{Path: path, Err: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return &WriteError{Path: path, Err: err}
	}
	success = true
	return nil
}

// recordFile locates one committed record on disk.
type recordFile struct {
	seq  int64
	path string
}

// recordFiles walks the record tree and returns the files at or below
// maxSeq, sorted by sequence. Files beyond maxSeq are in-flight
// stages (or leftovers from an interrupted one) and are not part of
// the committed history yet.
func (a *Archive) recordFiles(maxSeq int64) ([]recordFile, error) {
	root := filepath.Join(a.dir, "projects")
	var files []recordFile
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		name := entry.Name()
		if !recordFilePattern.MatchString(name) {
			return nil
		}
		seq, err := strconv.ParseInt(strings.TrimSuffix(name, ".json"), 10, 64)
		if err != nil {
			return nil
		}
		if seq < 1 || seq > maxSeq {
			return nil
		}
		files = append(files, recordFile{seq: seq, path: path})
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("walking archive records: %w", err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].seq < files[j].seq })
	return files, nil
}

func readRecordFile(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, fmt.Errorf("reading archive record: %w", err)
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return Record{}, fmt.Errorf("decoding archive record %s: %w", path, err)
	}
	return record, nil
}

func readHeadFile(path string) (Head, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Head{}, fmt.Errorf("reading chain head: %w", err)
	}
	var head Head
	if err := json.Unmarshal(data, &head); err != nil {
		return Head{}, fmt.Errorf("decoding chain head: %w", err)
	}
	return head, nil
}

func validateRecord(record *Record) error {
	if !record.Kind.valid() {
		return fmt.Errorf("archive: record %d has unknown kind %q", record.Seq, record.Kind)
	}
	if record.Kind == KindProject {
		if record.Agent != "" {
			return fmt.Errorf("archive: record %d: project records carry no agent", record.Seq)
		}
	} else if record.Agent == "" {
		return fmt.Errorf("archive: record %d (%s) is missing the acting agent", record.Seq, record.Kind)
	}
	if record.Timestamp.IsZero() {
		return fmt.Errorf("archive: record %d has no timestamp", record.Seq)
	}
	if len(record.Payload) > 0 && !json.Valid(record.Payload) {
		return fmt.Errorf("archive: record %d payload is not valid JSON", record.Seq)
	}
	return nil
}

// batchNote builds the one-line commit description for a batch.
func batchNote(op string, records []Record) string {
	first := records[0].Seq
	last := records[len(records)-1].Seq
	note := fmt.Sprintf("%s seq %d", op, first)
	if last != first {
		note = fmt.Sprintf("%s seq %d-%d", op, first, last)
	}
	if actor := records[0].Agent; actor != "" {
		note += " by " + actor
	}
	return note
}
