package scanner

import (
	"errors"

	"github.com/go-git/go-git/v5"
)

// Revision returns the HEAD commit of the git repository containing dir, or
// "" when dir is not inside a repository or HEAD is unborn. It is recorded in
// build reports only and never feeds node ids or cache keys.
func Revision(dir string) (string, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return "", nil
		}
		return "", err
	}
	head, err := repo.Head()
	if err != nil {
		return "", nil //nolint:nilerr // unborn HEAD has no revision
	}
	return head.Hash().String(), nil
}
