package dotdir

import (
	"context"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// CanonicalProjectRoot resolves a directory to its "main" repository root.
//
// If dir is inside a git worktree, the common git directory differs from the
// worktree's own git directory; in that case the parent of the common
// directory is the main checkout and is returned. Non-repositories and any
// git failures resolve to dir unchanged.
func CanonicalProjectRoot(dir string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	commonDir, err := gitOutput(ctx, dir, "rev-parse", "--git-common-dir")
	if err != nil || commonDir == "" {
		return dir
	}

	gitDir, err := gitOutput(ctx, dir, "rev-parse", "--git-dir")
	if err != nil || gitDir == "" {
		return dir
	}

	if !filepath.IsAbs(commonDir) {
		commonDir = filepath.Join(dir, commonDir)
	}
	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(dir, gitDir)
	}

	if filepath.Clean(commonDir) == filepath.Clean(gitDir) {
		return dir
	}

	return filepath.Dir(filepath.Clean(commonDir))
}

func gitOutput(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
