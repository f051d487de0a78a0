// Package authctx prepares the cookie bundle handed to the media engine.
package authctx

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/fetchgate/internal/media"
)

const cookieFileName = "cookies.txt"

// Config names the cookie sources. Content wins over a file path.
type Config struct {
	CookieContent string
	CookieFile    string
	WorkDir       string
}

// FileProvider materializes cookies into WorkDir before each use so an
// operator can rotate the source without a restart.
type FileProvider struct {
	cfg    Config
	mu     sync.Mutex
	logger *zap.Logger
}

// NewFileProvider constructs a FileProvider.
func NewFileProvider(cfg Config, logger *zap.Logger) *FileProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileProvider{cfg: cfg, logger: logger}
}

// AuthContext returns the current bundle, or an empty one when no cookies are
// configured or preparation failed.
func (p *FileProvider) AuthContext(_ context.Context) media.AuthContext {
	p.mu.Lock()
	defer p.mu.Unlock()

	path, err := p.prepare()
	if err != nil {
		p.logger.Error("prepare cookie file failed", zap.Error(err))
		return media.AuthContext{}
	}
	return media.AuthContext{CookieFile: path}
}

func (p *FileProvider) prepare() (string, error) {
	local := filepath.Join(p.cfg.WorkDir, cookieFileName)

	if p.cfg.CookieContent == "" && p.cfg.CookieFile == "" {
		return "", nil
	}
	if err := os.MkdirAll(p.cfg.WorkDir, 0o700); err != nil {
		return "", fmt.Errorf("create auth work dir: %w", err)
	}

	if p.cfg.CookieContent != "" {
		if err := os.WriteFile(local, []byte(p.cfg.CookieContent), 0o600); err != nil {
			return "", fmt.Errorf("write cookie content: %w", err)
		}
		return local, nil
	}

	data, err := os.ReadFile(p.cfg.CookieFile)
	if err != nil {
		return "", fmt.Errorf("read cookie file: %w", err)
	}
	if err := os.WriteFile(local, data, 0o600); err != nil {
		return "", fmt.Errorf("copy cookie file: %w", err)
	}
	return local, nil
}

// Static always returns the same bundle.
type Static media.AuthContext

// AuthContext implements media.AuthProvider.
func (s Static) AuthContext(context.Context) media.AuthContext {
	return media.AuthContext(s)
}
