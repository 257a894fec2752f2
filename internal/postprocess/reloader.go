package postprocess

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// Reloader serves the most recently loaded rules file. A failed reload keeps
// the previous rules.
type Reloader struct {
	path           string
	iterationLimit int
	logger         *zap.SugaredLogger
	current        atomic.Pointer[Rules]
}

func NewReloader(path string, iterationLimit int, logger *zap.SugaredLogger) (*Reloader, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	rules, err := Load(path, iterationLimit)
	if err != nil {
		return nil, err
	}

	r := &Reloader{path: path, iterationLimit: iterationLimit, logger: logger}
	r.current.Store(rules)
	return r, nil
}

func (r *Reloader) Path() string {
	return r.path
}

func (r *Reloader) Apply(text string) (string, error) {
	return r.current.Load().Apply(text)
}

func (r *Reloader) Reload() error {
	rules, err := Load(r.path, r.iterationLimit)
	if err != nil {
		r.logger.Warnw("keeping previous substitution rules", "path", r.path, "error", err)
		return err
	}
	r.current.Store(rules)
	r.logger.Infow("substitution rules reloaded", "path", r.path, "rules", rules.Len())
	return nil
}
