//go:build !sqlite
// +build !sqlite

package history

import (
	"errors"

	"timekeep/logx"
)

func openSQLite(cfg Config, log logx.Logger) (Recorder, error) {
	_ = cfg
	_ = log
	return nil, errors.New("sqlite history not built: build with -tags sqlite")
}
