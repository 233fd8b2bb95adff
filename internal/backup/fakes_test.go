package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/GreedyKomodoDragon/s3-backup/internal/config"
	"github.com/GreedyKomodoDragon/s3-backup/internal/dump"
	"github.com/GreedyKomodoDragon/s3-backup/internal/notify"
	"github.com/GreedyKomodoDragon/s3-backup/internal/storage"
)

type fakeProviders map[config.Engine]dump.Provider

func (f fakeProviders) For(engine config.Engine) (dump.Provider, error) {
	p, ok := f[engine]
	if !ok {
		return nil, fmt.Errorf("%w %q", dump.ErrUnknownEngine, engine)
	}
	return p, nil
}

// fakeProvider writes "<database> dump" into dir, or fails for the
// databases listed in fail.
type fakeProvider struct {
	dir     string
	fail    map[string]bool
	empty   map[string]bool
	onDump  func(database string)
	dumped  []string
	results []dump.Result
}

func (p *fakeProvider) Dump(_ context.Context, inst config.Instance, database string) (dump.Result, error) {
	p.dumped = append(p.dumped, database)
	if p.onDump != nil {
		p.onDump(database)
	}
	if p.fail[database] {
		return dump.Result{}, &dump.Failure{Engine: inst.Engine, Database: database, Err: errors.New("exit status 2")}
	}

	filename := database + "-2024-03-07-05-00.sql"
	path := filepath.Join(p.dir, filename)
	content := []byte(database + " dump")
	if p.empty[database] {
		content = nil
	}
	if err := os.WriteFile(path, content, 0o600); err != nil {
		return dump.Result{}, err
	}

	result := dump.Result{Filename: filename, Path: path}
	p.results = append(p.results, result)
	return result, nil
}

type storeCall struct {
	Bucket     string
	Database   string
	Filename   string
	FileExists bool
}

// fakeStore records uploads for every bucket it was opened for.
type fakeStore struct {
	mu        sync.Mutex
	calls     []storeCall
	fail      map[string]error
	retention map[string]error
	openErr   map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{fail: map[string]error{}, retention: map[string]error{}, openErr: map[string]error{}}
}

func (s *fakeStore) factory() StoreFactory {
	return func(_ context.Context, target config.StorageTarget) (Store, error) {
		if err := s.openErr[target.Bucket]; err != nil {
			return nil, err
		}
		return &bucketStore{parent: s, bucket: target.Bucket}, nil
	}
}

type bucketStore struct {
	parent *fakeStore
	bucket string
}

func (b *bucketStore) Store(_ context.Context, database, filename, path string) (*storage.Outcome, error) {
	s := b.parent
	s.mu.Lock()
	defer s.mu.Unlock()

	_, statErr := os.Stat(path)
	s.calls = append(s.calls, storeCall{Bucket: b.bucket, Database: database, Filename: filename, FileExists: statErr == nil})

	if err := s.fail[database]; err != nil {
		return nil, err
	}
	return &storage.Outcome{
		Bucket:       b.bucket,
		Key:          storage.Key(database, filename),
		Location:     "s3://" + b.bucket + "/" + storage.Key(database, filename),
		RetentionErr: s.retention[database],
	}, nil
}

type event struct {
	Kind     string
	Database string
	Engine   config.Engine
	Filename string
	Message  string
	Count    int
}

type recordingSink struct {
	mu     sync.Mutex
	events []event
}

func (r *recordingSink) NotifyFailure(_ context.Context, f notify.Failure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{Kind: "failure", Database: f.Database, Engine: f.Engine, Filename: f.Filename, Message: f.Error})
}

func (r *recordingSink) NotifySuccess(_ context.Context, s notify.Success) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{Kind: "success", Database: fmt.Sprint(s.Databases), Engine: s.Engine, Count: s.Count})
}

func (r *recordingSink) NotifyWarning(_ context.Context, w notify.Warning) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{Kind: "warning", Database: w.Database, Message: w.Message})
}

func (r *recordingSink) kinds(kind string) []event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event
	for _, e := range r.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
