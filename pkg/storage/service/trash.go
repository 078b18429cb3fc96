package service

import (
	"context"
	"path"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/mwantia/gostore/pkg/storage/driver"
	"github.com/mwantia/gostore/pkg/storage/kind"
)

// staged pairs an object key with its location below the trash prefix.
type staged struct {
	key   string
	trash string
}

// trashFor places keys below one fresh trash directory.
func (s *Service) trashFor(keys ...string) []staged {
	dir := path.Join(s.trashPrefix, uuid.NewString())

	entries := make([]staged, 0, len(keys))
	for _, key := range keys {
		entries = append(entries, staged{key: key, trash: path.Join(dir, key)})
	}
	return entries
}

// stage moves every object into the trash. On failure the objects moved so
// far are restored before the error is returned.
func (s *Service) stage(ctx context.Context, entries []staged) error {
	if len(entries) == 0 {
		return nil
	}

	done := 0
	err := s.pool.With(ctx, func(c driver.Client) error {
		for _, entry := range entries {
			if err := c.Copy(ctx, entry.trash, entry.key); err != nil {
				return err
			}
			if err := c.Delete(ctx, entry.key); err != nil {
				_ = c.Delete(context.WithoutCancel(ctx), entry.trash)
				return err
			}
			done++
		}
		return nil
	})
	if err != nil {
		s.unstage(ctx, entries[:done])
		return transferErr(err, "failed to stage %d objects for deletion", len(entries))
	}
	return nil
}

// unstage moves staged objects back to their original keys.
func (s *Service) unstage(ctx context.Context, entries []staged) {
	if len(entries) == 0 {
		return
	}

	ctx = context.WithoutCancel(ctx)
	err := s.pool.With(ctx, func(c driver.Client) error {
		for _, entry := range entries {
			if err := c.Copy(ctx, entry.key, entry.trash); err != nil {
				s.log.Error("Failed to restore '%s' from '%s': %v", entry.key, entry.trash, err)
				continue
			}
			if err := c.Delete(ctx, entry.trash); err != nil {
				s.log.Warn("Failed to remove restored trash object '%s': %v", entry.trash, err)
			}
		}
		return nil
	})
	if err != nil {
		s.log.Error("Failed to restore %d staged objects: %v", len(entries), err)
	}
}

// purge removes committed deletions from the trash. Failures only leave
// garbage below the trash prefix and are logged.
func (s *Service) purge(ctx context.Context, entries []staged) {
	if len(entries) == 0 {
		return
	}

	ctx = context.WithoutCancel(ctx)
	err := s.pool.With(ctx, func(c driver.Client) error {
		for _, entry := range entries {
			if err := c.Delete(ctx, entry.trash); err != nil {
				s.log.Warn("Failed to purge trash object '%s': %v", entry.trash, err)
			}
		}
		return nil
	})
	if err != nil {
		s.log.Warn("Failed to purge %d trash objects: %v", len(entries), err)
	}

	// Object stores have no directories, local disk keeps empty ones.
	if s.kind == kind.LocalDisk {
		s.removeDirs(ctx, trashDirs(s.trashPrefix, entries))
	}
}

// trashDirs lists the directories created below the trash prefix by
// entries, deepest first.
func trashDirs(prefix string, entries []staged) []string {
	seen := make(map[string]struct{})
	for _, entry := range entries {
		for dir := path.Dir(entry.trash); strings.HasPrefix(dir, prefix+"/"); dir = path.Dir(dir) {
			seen[dir] = struct{}{}
		}
	}

	dirs := make([]string, 0, len(seen))
	for dir := range seen {
		dirs = append(dirs, dir)
	}
	sort.Slice(dirs, func(i, j int) bool {
		return strings.Count(dirs[i], "/") > strings.Count(dirs[j], "/")
	})
	return dirs
}

// removeDirs removes directories or folder markers, deepest first.
func (s *Service) removeDirs(ctx context.Context, keys []string) {
	ctx = context.WithoutCancel(ctx)
	err := s.pool.With(ctx, func(c driver.Client) error {
		for _, key := range keys {
			if err := c.Rmdir(ctx, key); err != nil {
				s.log.Warn("Failed to remove directory '%s': %v", key, err)
			}
		}
		return nil
	})
	if err != nil {
		s.log.Warn("Failed to remove %d directories: %v", len(keys), err)
	}
}
