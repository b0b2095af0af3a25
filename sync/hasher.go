package sync

import (
	"bytes"
	"context"
	"crypto/sha1" //nolint:gosec // SHA-1 is the remote's content hash family
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/flynn/go-shlex"
)

// hashChunkSize is the read size of the in-process hasher.
const hashChunkSize = 256 * 1024

// DefaultHashCommand is the external utility probed at startup.
const DefaultHashCommand = "sha1sum"

// Hasher computes the content digest of a local file. Every implementation
// returns lower-case hex SHA-1 so results compare with remote hashes.
type Hasher interface {
	Hash(ctx context.Context, path string) (string, error)
	Name() string
}

// HasherConfig selects the Hasher implementation.
type HasherConfig struct {
	Command         string // argv prefix, file path is appended; "" uses DefaultHashCommand
	DisableExternal bool
}

// NewHasher returns the external-command hasher when the command exists and
// agrees with the in-process hasher on a probe file, otherwise the
// in-process hasher.
func NewHasher(ctx context.Context, cfg HasherConfig) Hasher {
	l := sub("hasher")
	builtin := streamHasher{}
	if cfg.DisableExternal {
		l.Info("using in-process hasher", "reason", "external disabled")
		return builtin
	}

	command := cfg.Command
	if command == "" {
		command = DefaultHashCommand
	}
	argv, err := shlex.Split(command)
	if err != nil || len(argv) == 0 {
		l.Warn("invalid hash command, using in-process hasher", "command", command, "err", err)
		return builtin
	}
	bin, err := exec.LookPath(argv[0])
	if err != nil {
		l.Info("hash command not found, using in-process hasher", "command", argv[0])
		return builtin
	}

	ext := commandHasher{argv: append([]string{bin}, argv[1:]...)}
	if err := probe(ctx, ext, builtin); err != nil {
		l.Warn("hash command failed probe, using in-process hasher", "command", command, "err", err)
		return builtin
	}
	l.Info("using external hasher", "command", command)
	return ext
}

// probe hashes a small temp file with both implementations and requires
// identical output.
func probe(ctx context.Context, ext, builtin Hasher) error {
	f, err := os.CreateTemp("", "mirror-hash-probe-*")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())
	if _, err := f.WriteString("drivemirror hash probe\n"); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	want, err := builtin.Hash(ctx, f.Name())
	if err != nil {
		return err
	}
	got, err := ext.Hash(ctx, f.Name())
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("digest mismatch: %s != %s", got, want)
	}
	return nil
}

// streamHasher reads the file in fixed-size chunks.
type streamHasher struct{}

func (streamHasher) Name() string { return "builtin-sha1" }

func (streamHasher) Hash(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", localErr("open", path, err)
	}
	defer f.Close()

	h := sha1.New() //nolint:gosec
	buf := make([]byte, hashChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, readErr := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return "", localErr("read", path, readErr)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// commandHasher runs an external sha1sum-compatible utility and takes the
// first field of its output.
type commandHasher struct {
	argv []string
}

func (c commandHasher) Name() string { return filepath.Base(c.argv[0]) }

func (c commandHasher) Hash(ctx context.Context, path string) (string, error) {
	args := append(append([]string{}, c.argv[1:]...), path)
	cmd := exec.CommandContext(ctx, c.argv[0], args...) //nolint:gosec
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return "", localErr("hash", path, fmt.Errorf("%s: %w: %s", c.Name(), err, strings.TrimSpace(stderr.String())))
	}
	fields := strings.Fields(string(out))
	if len(fields) == 0 {
		return "", localErr("hash", path, fmt.Errorf("%s: empty output", c.Name()))
	}
	return strings.ToLower(strings.TrimPrefix(fields[0], `\`)), nil
}
