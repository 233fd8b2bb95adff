package dump

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/GreedyKomodoDragon/s3-backup/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	output string
	err    error
	calls  []Command
}

func (f *fakeRunner) Run(_ context.Context, cmd Command, stdout io.Writer) error {
	f.calls = append(f.calls, cmd)
	if f.output != "" {
		if _, err := io.WriteString(stdout, f.output); err != nil {
			return err
		}
	}
	return f.err
}

var fixedNow = time.Date(2024, time.March, 7, 5, 9, 0, 0, time.UTC)

func newTestProvider(t *testing.T, newProvider func(string, Runner, *slog.Logger) *ToolProvider, runner Runner) (*ToolProvider, string) {
	t.Helper()
	dir := t.TempDir()
	p := newProvider(dir, runner, slog.New(slog.DiscardHandler))
	p.now = func() time.Time { return fixedNow }
	return p, dir
}

func TestMySQLProviderDump(t *testing.T) {
	runner := &fakeRunner{output: "CREATE TABLE orders;\n"}
	p, dir := newTestProvider(t, NewMySQLProvider, runner)

	inst := config.Instance{Engine: config.EngineMySQL, Host: "db.internal", Port: "3306", User: "backup", Password: "s3cret"}
	result, err := p.Dump(context.Background(), inst, "shop")
	require.NoError(t, err)

	assert.Equal(t, "shop-2024-03-07-05-09.sql", result.Filename)
	assert.Equal(t, filepath.Join(dir, result.Filename), result.Path)

	data, err := os.ReadFile(result.Path)
	require.NoError(t, err)
	assert.Equal(t, "CREATE TABLE orders;\n", string(data))

	require.Len(t, runner.calls, 1)
	cmd := runner.calls[0]
	assert.Equal(t, "mysqldump", cmd.Name)
	assert.Equal(t, []string{"-h", "db.internal", "-P", "3306", "-u", "backup", "shop"}, cmd.Args)
	assert.Equal(t, []string{"MYSQL_PWD=s3cret"}, cmd.Env)
	assert.NotContains(t, cmd.String(), "s3cret")
}

func TestPostgresProviderInDocker(t *testing.T) {
	runner := &fakeRunner{output: "-- PostgreSQL database dump\n"}
	p, _ := newTestProvider(t, NewPostgresProvider, runner)

	inst := config.Instance{Engine: config.EnginePostgres, IsDocker: true, DockerContainer: "pg-main", User: "postgres", Password: "pw"}
	result, err := p.Dump(context.Background(), inst, "billing")
	require.NoError(t, err)
	assert.Equal(t, "billing-2024-03-07-05-09.sql", result.Filename)

	require.Len(t, runner.calls, 1)
	cmd := runner.calls[0]
	assert.Equal(t, "docker", cmd.Name)
	assert.Equal(t, []string{"exec", "-e", "PGPASSWORD", "pg-main", "pg_dump", "-U", "postgres", "billing"}, cmd.Args)
	assert.Equal(t, []string{"PGPASSWORD=pw"}, cmd.Env)
}

func TestMongoProviderDump(t *testing.T) {
	runner := &fakeRunner{output: "archive"}
	p, _ := newTestProvider(t, NewMongoProvider, runner)

	inst := config.Instance{Engine: config.EngineMongo, Host: "mongo", Port: "27017", User: "root", Password: "pw"}
	result, err := p.Dump(context.Background(), inst, "events")
	require.NoError(t, err)
	assert.Equal(t, "events-2024-03-07-05-09.gz", result.Filename)

	cmd := runner.calls[0]
	assert.Equal(t, "mongodump", cmd.Name)
	assert.Equal(t, []string{
		"--host", "mongo", "--port", "27017",
		"-u", "root", "-p", "pw", "--authenticationDatabase", "admin",
		"--db", "events", "--archive", "--gzip",
	}, cmd.Args)
}

func TestProviderFailureRemovesPartialFile(t *testing.T) {
	toolErr := &CommandError{Command: "mysqldump", Err: errors.New("exit status 2"), Stderr: "Access denied"}
	runner := &fakeRunner{output: "half a dump", err: toolErr}
	p, dir := newTestProvider(t, NewMySQLProvider, runner)

	_, err := p.Dump(context.Background(), config.Instance{Engine: config.EngineMySQL}, "shop")
	require.Error(t, err)

	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, config.EngineMySQL, failure.Engine)
	assert.Equal(t, "shop", failure.Database)

	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Contains(t, err.Error(), "Access denied")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestProviderCreatesDumpDirectory(t *testing.T) {
	runner := &fakeRunner{output: "x"}
	dir := filepath.Join(t.TempDir(), "nested", "dumps")
	p := NewPostgresProvider(dir, runner, slog.New(slog.DiscardHandler))

	result, err := p.Dump(context.Background(), config.Instance{Engine: config.EnginePostgres}, "app")
	require.NoError(t, err)
	assert.FileExists(t, result.Path)
}

func TestInDocker(t *testing.T) {
	cmd := inDocker("mysql-1", Command{Name: "mysqldump", Args: []string{"shop"}})
	assert.Equal(t, "docker", cmd.Name)
	assert.Equal(t, []string{"exec", "mysql-1", "mysqldump", "shop"}, cmd.Args)
	assert.Empty(t, cmd.Env)
}

func TestCommandErrorMessage(t *testing.T) {
	err := &CommandError{Command: "pg_dump", Err: errors.New("exit status 1")}
	assert.Equal(t, "pg_dump: exit status 1", err.Error())

	err.Stderr = "database does not exist"
	assert.Equal(t, "pg_dump: exit status 1: database does not exist", err.Error())
}

func TestTail(t *testing.T) {
	assert.Equal(t, "abc", tail("  abc\n", 10))
	assert.Equal(t, "def", tail("abcdef", 3))
}

func TestRegistry(t *testing.T) {
	r := NewDefaultRegistry(t.TempDir(), &fakeRunner{}, slog.New(slog.DiscardHandler))

	for _, engine := range []config.Engine{config.EngineMySQL, config.EnginePostgres, config.EngineMongo, config.EngineRedis} {
		p, err := r.For(engine)
		require.NoError(t, err, engine)
		assert.NotNil(t, p)
	}

	_, err := r.For("oracle")
	assert.ErrorIs(t, err, ErrUnknownEngine)
}
