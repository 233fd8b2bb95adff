package dump

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/GreedyKomodoDragon/s3-backup/internal/config"
	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisHost = "127.0.0.1"
	defaultRedisPort = "6379"
)

// RedisProvider snapshots a Redis server by registering as a replica and
// saving the RDB payload of the full resynchronisation. The snapshot always
// covers the whole server; the database name only labels the file.
type RedisProvider struct {
	dir         string
	dialTimeout time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

func NewRedisProvider(dir string, logger *slog.Logger) *RedisProvider {
	return &RedisProvider{
		dir:         dir,
		dialTimeout: 10 * time.Second,
		now:         time.Now,
		logger:      logger,
	}
}

func (p *RedisProvider) Dump(ctx context.Context, inst config.Instance, database string) (Result, error) {
	fail := func(err error) (Result, error) {
		return Result{}, &Failure{Engine: config.EngineRedis, Database: database, Err: err}
	}

	host, port := inst.Host, inst.Port
	if host == "" {
		host = defaultRedisHost
	}
	if port == "" {
		port = defaultRedisPort
	}
	addr := net.JoinHostPort(host, port)

	if err := p.ping(ctx, addr, inst); err != nil {
		return fail(err)
	}

	dir, err := ensureDir(p.dir)
	if err != nil {
		return fail(err)
	}
	filename := Filename(database, p.now(), "rdb")
	path := filepath.Join(dir, filename)

	file, err := os.Create(path)
	if err != nil {
		return fail(fmt.Errorf("failed to create dump file: %w", err))
	}

	size, snapErr := p.snapshot(ctx, addr, inst, file)
	closeErr := file.Close()
	if err := errors.Join(snapErr, closeErr); err != nil {
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			p.logger.Warn("Failed to remove partial dump file", "file", path, "error", rmErr)
		}
		return fail(err)
	}

	p.logger.Debug("Redis snapshot saved", "addr", addr, "filename", filename, "size_bytes", size)
	return Result{Filename: filename, Path: path}, nil
}

// ping checks connectivity and credentials before a replication session is opened.
func (p *RedisProvider) ping(ctx context.Context, addr string, inst config.Instance) error {
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		Username:    inst.User,
		Password:    inst.Password,
		DialTimeout: p.dialTimeout,
	})
	defer client.Close()

	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return nil
}

func (p *RedisProvider) snapshot(ctx context.Context, addr string, inst config.Instance, w io.Writer) (int64, error) {
	client := &replicationClient{addr: addr, username: inst.User, password: inst.Password}
	if err := client.Connect(ctx, p.dialTimeout); err != nil {
		return 0, err
	}
	defer client.Close()

	if err := client.Authenticate(); err != nil {
		return 0, err
	}

	replID, offset, err := client.SendPSYNC()
	if err != nil {
		return 0, err
	}
	p.logger.Debug("Received FULLRESYNC", "replication_id", replID, "replication_offset", offset)

	return client.CopyRDBSnapshot(w)
}

// replicationClient speaks just enough of the replication protocol to
// receive one RDB snapshot.
type replicationClient struct {
	addr     string
	username string
	password string
	conn     net.Conn
	reader   *bufio.Reader
	stop     func() bool
}

// Connect dials the server. The connection is closed when ctx is cancelled,
// which unblocks any pending read.
func (r *replicationClient) Connect(ctx context.Context, timeout time.Duration) error {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", r.addr)
	if err != nil {
		return fmt.Errorf("failed to connect to redis at %s: %w", r.addr, err)
	}

	r.conn = conn
	r.reader = bufio.NewReader(conn)
	r.stop = context.AfterFunc(ctx, func() { conn.Close() })
	return nil
}

func (r *replicationClient) Close() error {
	if r.conn == nil {
		return nil
	}
	r.stop()
	err := r.conn.Close()
	r.conn = nil
	r.reader = nil
	return err
}

// writeCommand sends args as a RESP array so values may contain spaces.
func (r *replicationClient) writeCommand(args ...string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "*%d\r\n", len(args))
	for _, arg := range args {
		fmt.Fprintf(&b, "$%d\r\n%s\r\n", len(arg), arg)
	}
	_, err := io.WriteString(r.conn, b.String())
	return err
}

func (r *replicationClient) readLine() (string, error) {
	line, err := r.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Authenticate performs AUTH if a password is configured
func (r *replicationClient) Authenticate() error {
	if r.password == "" {
		return nil
	}

	args := []string{"AUTH", r.password}
	if r.username != "" {
		args = []string{"AUTH", r.username, r.password}
	}
	if err := r.writeCommand(args...); err != nil {
		return fmt.Errorf("failed to send AUTH command: %w", err)
	}

	response, err := r.readLine()
	if err != nil {
		return fmt.Errorf("failed to read AUTH response: %w", err)
	}
	if !strings.HasPrefix(response, "+OK") {
		return fmt.Errorf("authentication failed: %s", response)
	}
	return nil
}

// SendPSYNC requests a full resynchronisation and parses
// +FULLRESYNC <replid> <offset>.
func (r *replicationClient) SendPSYNC() (string, int64, error) {
	if err := r.writeCommand("PSYNC", "?", "-1"); err != nil {
		return "", 0, fmt.Errorf("failed to send PSYNC command: %w", err)
	}

	response, err := r.readLine()
	if err != nil {
		return "", 0, fmt.Errorf("failed to read PSYNC response: %w", err)
	}
	if !strings.HasPrefix(response, "+FULLRESYNC") {
		return "", 0, fmt.Errorf("unexpected PSYNC response: %s", response)
	}

	parts := strings.Fields(response)
	if len(parts) != 3 {
		return "", 0, fmt.Errorf("invalid FULLRESYNC format: %s", response)
	}

	offset, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("invalid offset in FULLRESYNC: %w", err)
	}
	return parts[1], offset, nil
}

// CopyRDBSnapshot streams the RDB bulk payload ($<length>\r\n<data>) into w.
// The master sends bare newlines as keepalives while it prepares the payload.
func (r *replicationClient) CopyRDBSnapshot(w io.Writer) (int64, error) {
	var prefix byte
	for {
		b, err := r.reader.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("failed to read RDB prefix: %w", err)
		}
		if b != '\n' {
			prefix = b
			break
		}
	}
	if prefix != '$' {
		return 0, fmt.Errorf("expected '$' for RDB bulk string, got '%c'", prefix)
	}

	lengthStr, err := r.readLine()
	if err != nil {
		return 0, fmt.Errorf("failed to read RDB length: %w", err)
	}
	length, err := strconv.ParseInt(lengthStr, 10, 64)
	if err != nil || length < 0 {
		return 0, fmt.Errorf("invalid RDB length %q", lengthStr)
	}

	n, err := io.CopyN(w, r.reader, length)
	if err != nil {
		return n, fmt.Errorf("failed to read RDB data after %d of %d bytes: %w", n, length, err)
	}
	return n, nil
}
