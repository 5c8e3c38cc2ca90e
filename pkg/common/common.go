package common

import (
	"os"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	idNode     *snowflake.Node
	idNodeOnce sync.Once
)

// UUIDint64 returns a time-ordered unique id suitable for primary keys.
func UUIDint64() int64 {
	idNodeOnce.Do(func() {
		node, err := snowflake.NewNode(1)
		if err != nil {
			panic(err)
		}
		idNode = node
	})
	return idNode.Generate().Int64()
}

// RemoveTree deletes a directory tree, best-effort. A missing path is not an error.
// When the recursive removal fails, a second pass removes what it can entry by entry.
func RemoveTree(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		zap.L().Debug("remove tree: path does not exist", zap.String("path", path))
		return nil
	}
	err := os.RemoveAll(path)
	if err == nil {
		zap.L().Info("remove tree: removed", zap.String("path", path))
		return nil
	}
	zap.L().Warn("remove tree: recursive removal failed, retrying per entry", zap.String("path", path), zap.Error(err))

	entries, rerr := os.ReadDir(path)
	if rerr != nil {
		return errors.Wrapf(err, "remove %s", path)
	}
	for _, e := range entries {
		p := path + string(os.PathSeparator) + e.Name()
		if ferr := os.RemoveAll(p); ferr != nil {
			zap.L().Warn("remove tree: entry not removed", zap.String("path", p), zap.Error(ferr))
		}
	}
	if ferr := os.Remove(path); ferr != nil && !os.IsNotExist(ferr) {
		return errors.Wrapf(ferr, "remove %s", path)
	}
	return nil
}
