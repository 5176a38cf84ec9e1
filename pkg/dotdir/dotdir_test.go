package dotdir_test

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/openmem/pkg/dotdir"
)

func TestDotdir(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Dotdir Suite")
}

var _ = Describe("Manager", func() {
	var tmpDir string
	var m *dotdir.Manager

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		m = dotdir.NewManager()
	})

	It("creates the project .open-mem directory", func() {
		dir, err := m.ProjectDir(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(filepath.Base(dir)).To(Equal(".open-mem"))

		info, err := os.Stat(dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(info.IsDir()).To(BeTrue())
	})

	It("derives well-known paths inside a directory", func() {
		dir, err := m.ProjectDir(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(m.DatabasePath(dir)).To(Equal(filepath.Join(dir, "memory.db")))
		Expect(m.ConfigPath(dir)).To(Equal(filepath.Join(dir, "config.json")))
		Expect(m.TriggerPath(dir)).To(Equal(filepath.Join(dir, "trigger")))
		Expect(m.LockPath(dir)).To(Equal(filepath.Join(dir, "memory.db.lock")))
	})

	It("respects a user-dir override", func() {
		dir, err := m.UserDir(filepath.Join(tmpDir, "custom"))
		Expect(err).NotTo(HaveOccurred())
		Expect(dir).To(ContainSubstring("custom"))
	})
})

var _ = Describe("CanonicalProjectRoot", func() {
	var tmpDir string

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
	})

	git := func(dir string, args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=t", "GIT_AUTHOR_EMAIL=t@t",
			"GIT_COMMITTER_NAME=t", "GIT_COMMITTER_EMAIL=t@t",
		)
		out, err := cmd.CombinedOutput()
		Expect(err).NotTo(HaveOccurred(), string(out))
	}

	It("returns a non-repository directory unchanged", func() {
		Expect(dotdir.CanonicalProjectRoot(tmpDir)).To(Equal(tmpDir))
	})

	It("returns the main repository root unchanged", func() {
		repo := filepath.Join(tmpDir, "repo")
		Expect(os.MkdirAll(repo, 0o755)).To(Succeed())
		git(repo, "init")
		Expect(dotdir.CanonicalProjectRoot(repo)).To(Equal(repo))
	})

	It("resolves a worktree to the main repository root", func() {
		repo := filepath.Join(tmpDir, "repo")
		Expect(os.MkdirAll(repo, 0o755)).To(Succeed())
		git(repo, "init")
		Expect(os.WriteFile(filepath.Join(repo, "f"), []byte("x"), 0o644)).To(Succeed())
		git(repo, "add", "f")
		git(repo, "commit", "-m", "init")

		wt := filepath.Join(tmpDir, "wt")
		git(repo, "worktree", "add", wt)

		// Compare base names: git may resolve platform temp-dir symlinks
		// (e.g. /var -> /private/var on macOS).
		resolved := dotdir.CanonicalProjectRoot(wt)
		Expect(filepath.Base(resolved)).To(Equal("repo"))
		Expect(filepath.Base(filepath.Dir(resolved))).To(Equal(filepath.Base(tmpDir)))
	})
})
