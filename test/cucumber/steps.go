package cucumber

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/GreedyKomodoDragon/s3-backup/internal/backup"
	"github.com/GreedyKomodoDragon/s3-backup/internal/config"
	"github.com/GreedyKomodoDragon/s3-backup/internal/dump"
	"github.com/GreedyKomodoDragon/s3-backup/internal/notify"
	"github.com/GreedyKomodoDragon/s3-backup/internal/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cucumber/godog"
)

var dumpTime = time.Date(2024, time.March, 7, 5, 0, 0, 0, time.UTC)

// TestContext holds the state of one scenario
type TestContext struct {
	dir              string
	cfg              *config.Config
	failingInstances map[string]bool
	s3               *memoryS3
	sink             *recordingSink
	report           backup.Report
	runErr           error
}

// NewTestContext creates a new test context
func NewTestContext() *TestContext {
	return &TestContext{
		cfg: &config.Config{
			S3Default: config.S3Config{Bucket: "backups"},
		},
		failingInstances: map[string]bool{},
		s3:               newMemoryS3(),
		sink:             &recordingSink{},
	}
}

// InitializeTestSuite initializes the cucumber test suite
func InitializeTestSuite(ctx *godog.TestSuiteContext) {
	ctx.BeforeSuite(func() {
		fmt.Println("Starting backup sweep scenarios")
	})

	ctx.AfterSuite(func() {
		fmt.Println("Finished backup sweep scenarios")
	})
}

// InitializeScenario initializes each cucumber scenario
func InitializeScenario(ctx *godog.ScenarioContext) {
	testCtx := NewTestContext()

	ctx.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		dir, err := os.MkdirTemp("", "s3-backup-scenario-")
		testCtx.dir = dir
		testCtx.cfg.DumpDir = dir
		return ctx, err
	})

	ctx.After(func(ctx context.Context, _ *godog.Scenario, err error) (context.Context, error) {
		return ctx, os.RemoveAll(testCtx.dir)
	})

	// Setup steps
	ctx.Step(`^an instance "([^"]*)" with engine "([^"]*)" and databases "([^"]*)"$`, testCtx.anInstance)
	ctx.Step(`^every dump of instance "([^"]*)" fails$`, testCtx.everyDumpOfInstanceFails)
	ctx.Step(`^the object store rejects uploads for "([^"]*)"$`, testCtx.theObjectStoreRejectsUploadsFor)
	ctx.Step(`^the object store cannot abort uploads$`, testCtx.theObjectStoreCannotAbortUploads)
	ctx.Step(`^every upload uses multipart$`, testCtx.everyUploadUsesMultipart)
	ctx.Step(`^success notifications are enabled$`, testCtx.successNotificationsAreEnabled)

	// Action steps
	ctx.Step(`^a backup sweep runs$`, testCtx.aBackupSweepRuns)

	// Verification steps
	ctx.Step(`^databases "([^"]*)" are uploaded$`, testCtx.databasesAreUploaded)
	ctx.Step(`^exactly one failure notification is sent for each of "([^"]*)"$`, testCtx.oneFailureNotificationEach)
	ctx.Step(`^the failure notification for "([^"]*)" names its dump file$`, testCtx.failureNotificationNamesDumpFile)
	ctx.Step(`^no local dump files remain$`, testCtx.noLocalDumpFilesRemain)
	ctx.Step(`^the sweep reports (\d+) succeeded and (\d+) failed$`, testCtx.theSweepReports)
	ctx.Step(`^a success notification lists "([^"]*)"$`, testCtx.aSuccessNotificationLists)
	ctx.Step(`^a warning notification is sent for "([^"]*)"$`, testCtx.aWarningNotificationIsSentFor)
}

func splitList(list string) []string {
	var out []string
	for _, item := range strings.Split(list, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (tc *TestContext) anInstance(name, engine, databases string) error {
	tc.cfg.Instances = append(tc.cfg.Instances, config.Instance{
		Name:      name,
		Engine:    config.Engine(engine),
		Host:      "127.0.0.1",
		Databases: splitList(databases),
	})
	return nil
}

func (tc *TestContext) everyDumpOfInstanceFails(name string) error {
	tc.failingInstances[name] = true
	return nil
}

func (tc *TestContext) theObjectStoreRejectsUploadsFor(database string) error {
	tc.s3.reject[database] = true
	return nil
}

func (tc *TestContext) theObjectStoreCannotAbortUploads() error {
	tc.s3.abortFails = true
	return nil
}

func (tc *TestContext) everyUploadUsesMultipart() error {
	tc.cfg.S3Default.MultipartThreshold = 1
	return nil
}

func (tc *TestContext) successNotificationsAreEnabled() error {
	tc.cfg.NotifyOnSuccess = true
	return nil
}

func (tc *TestContext) aBackupSweepRuns() error {
	logger := slog.New(slog.DiscardHandler)

	registry := dump.NewRegistry()
	for _, engine := range []config.Engine{config.EngineMySQL, config.EnginePostgres, config.EngineMongo} {
		registry.Register(engine, &scenarioProvider{tc: tc})
	}

	openStore := func(_ context.Context, target config.StorageTarget) (backup.Store, error) {
		uploader := storage.NewUploader(tc.s3, target, logger)
		return storage.NewObjectManager(uploader, nil, 0, logger), nil
	}

	orchestrator := backup.NewOrchestrator(tc.cfg, registry, openStore, tc.sink, logger)
	tc.report, tc.runErr = orchestrator.Run(context.Background())
	return tc.runErr
}

func (tc *TestContext) databasesAreUploaded(databases string) error {
	want := splitList(databases)
	got := tc.s3.uploadedDatabases()
	if !slices.Equal(want, got) {
		return fmt.Errorf("expected uploads for %v, got %v", want, got)
	}
	return nil
}

func (tc *TestContext) oneFailureNotificationEach(databases string) error {
	for _, db := range splitList(databases) {
		if n := len(tc.sink.find("failure", db)); n != 1 {
			return fmt.Errorf("expected exactly one failure notification for %s, got %d", db, n)
		}
	}
	return nil
}

func (tc *TestContext) failureNotificationNamesDumpFile(database string) error {
	failures := tc.sink.find("failure", database)
	if len(failures) == 0 {
		return fmt.Errorf("no failure notification for %s", database)
	}
	want := dump.Filename(database, dumpTime, "sql")
	if failures[0].filename != want {
		return fmt.Errorf("expected filename %q, got %q", want, failures[0].filename)
	}
	return nil
}

func (tc *TestContext) noLocalDumpFilesRemain() error {
	entries, err := os.ReadDir(tc.dir)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		return fmt.Errorf("local dump files left behind: %v", names)
	}
	return nil
}

func (tc *TestContext) theSweepReports(succeeded, failed int) error {
	if tc.report.Succeeded != succeeded || tc.report.Failed != failed {
		return fmt.Errorf("expected %d succeeded and %d failed, got %+v", succeeded, failed, tc.report)
	}
	return nil
}

func (tc *TestContext) aSuccessNotificationLists(databases string) error {
	for _, n := range tc.sink.notes {
		if n.kind == "success" && n.database == strings.Join(splitList(databases), ", ") {
			return nil
		}
	}
	return fmt.Errorf("no success notification listing %s", databases)
}

func (tc *TestContext) aWarningNotificationIsSentFor(database string) error {
	if len(tc.sink.find("warning", database)) == 0 {
		return fmt.Errorf("no warning notification for %s", database)
	}
	return nil
}

// scenarioProvider writes a small dump unless its instance is marked failing.
type scenarioProvider struct {
	tc *TestContext
}

func (p *scenarioProvider) Dump(_ context.Context, inst config.Instance, database string) (dump.Result, error) {
	if p.tc.failingInstances[inst.Name] {
		return dump.Result{}, &dump.Failure{Engine: inst.Engine, Database: database, Err: errors.New("connection refused")}
	}

	filename := dump.Filename(database, dumpTime, "sql")
	path := filepath.Join(p.tc.dir, filename)
	if err := os.WriteFile(path, []byte("-- dump of "+database+"\n"), 0o600); err != nil {
		return dump.Result{}, err
	}
	return dump.Result{Filename: filename, Path: path}, nil
}

type note struct {
	kind     string
	database string
	filename string
}

type recordingSink struct {
	mu    sync.Mutex
	notes []note
}

func (r *recordingSink) NotifyFailure(_ context.Context, f notify.Failure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, note{kind: "failure", database: f.Database, filename: f.Filename})
}

func (r *recordingSink) NotifySuccess(_ context.Context, s notify.Success) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, note{kind: "success", database: strings.Join(s.Databases, ", ")})
}

func (r *recordingSink) NotifyWarning(_ context.Context, w notify.Warning) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, note{kind: "warning", database: w.Database})
}

func (r *recordingSink) find(kind, database string) []note {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []note
	for _, n := range r.notes {
		if n.kind == kind && n.database == database {
			out = append(out, n)
		}
	}
	return out
}

// memoryS3 is an in-memory object store speaking the upload API.
type memoryS3 struct {
	mu         sync.Mutex
	reject     map[string]bool
	abortFails bool
	uploaded   []string
}

func newMemoryS3() *memoryS3 {
	return &memoryS3{reject: map[string]bool{}}
}

func (m *memoryS3) rejected(key *string) bool {
	database, _, _ := strings.Cut(aws.ToString(key), "/")
	return m.reject[database]
}

func (m *memoryS3) uploadedDatabases() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.uploaded))
	for i, key := range m.uploaded {
		out[i], _, _ = strings.Cut(key, "/")
	}
	return out
}

func (m *memoryS3) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if _, err := io.Copy(io.Discard, params.Body); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rejected(params.Key) {
		return nil, errors.New("503 SlowDown")
	}
	m.uploaded = append(m.uploaded, aws.ToString(params.Key))
	return &s3.PutObjectOutput{ETag: aws.String(`"put"`)}, nil
}

func (m *memoryS3) CreateMultipartUpload(_ context.Context, _ *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String("upload-1")}, nil
}

func (m *memoryS3) UploadPart(_ context.Context, params *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	if _, err := io.Copy(io.Discard, params.Body); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rejected(params.Key) {
		return nil, errors.New("connection reset by peer")
	}
	return &s3.UploadPartOutput{ETag: aws.String(fmt.Sprintf(`"part-%d"`, aws.ToInt32(params.PartNumber)))}, nil
}

func (m *memoryS3) CompleteMultipartUpload(_ context.Context, params *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploaded = append(m.uploaded, aws.ToString(params.Key))
	return &s3.CompleteMultipartUploadOutput{ETag: aws.String(`"multi"`)}, nil
}

func (m *memoryS3) AbortMultipartUpload(_ context.Context, _ *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.abortFails {
		return nil, errors.New("500 InternalError")
	}
	return &s3.AbortMultipartUploadOutput{}, nil
}
