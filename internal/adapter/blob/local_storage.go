package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rl1809/fish-market/internal/core/domain"
)

// URLPrefix is the public path slips are served from.
const URLPrefix = "/uploads/"

// LocalSlipStorage writes payment slips to a directory on local disk.
type LocalSlipStorage struct {
	dir string
	now func() time.Time
}

func NewLocalSlipStorage(dir string) (*LocalSlipStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &LocalSlipStorage{dir: dir, now: time.Now}, nil
}

func (s *LocalSlipStorage) Dir() string {
	return s.dir
}

// Save writes the slip as payment-<customer>-<unix-ms>-<rand><ext> and
// returns its public reference. A body longer than slip.Size is rejected.
func (s *LocalSlipStorage) Save(ctx context.Context, customerID string, slip domain.SlipUpload) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	ext := strings.ToLower(filepath.Ext(slip.Filename))
	name := fmt.Sprintf("payment-%s-%d-%d%s", fileSafe(customerID), s.now().UnixMilli(), rand.Intn(1_000_000_000), ext)

	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create slip file: %w", err)
	}

	// one byte past the declared size tells a lying Size from an exact one
	n, err := io.Copy(f, io.LimitReader(slip.Body, slip.Size+1))
	if err == nil && n > slip.Size {
		err = domain.ErrSlipTooLarge
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(filepath.Join(s.dir, name))
		return "", fmt.Errorf("write slip file: %w", err)
	}

	return URLPrefix + name, nil
}

func fileSafe(s string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
	if len(safe) > 64 {
		safe = safe[:64]
	}
	return safe
}

// Delete removes a slip by reference. A missing file is not an error.
func (s *LocalSlipStorage) Delete(ctx context.Context, ref string) error {
	name := path.Base(strings.TrimPrefix(ref, URLPrefix))
	if name == "." || name == "/" || name == "" {
		return fmt.Errorf("invalid slip reference %q", ref)
	}

	err := os.Remove(filepath.Join(s.dir, name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove slip file: %w", err)
	}
	return nil
}
