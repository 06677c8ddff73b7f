// Package gitmeta reads repository metadata for template variables.
package gitmeta

import (
	git "github.com/go-git/go-git/v5"
	"github.com/rs/zerolog/log"
)

// Read returns {origin, commit, branch} for the repository containing
// path, injected into templates as _git. Not being a git repository is
// not an error, the scaffold is simply absent.
func Read(path string) (map[string]any, bool) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		log.Debug().Err(err).Str("path", path).Msg("Not a git repo, skipping _git metadata")
		return nil, false
	}

	meta := map[string]any{}

	remotes, err := repo.Remotes()
	if err == nil {
		for _, remote := range remotes {
			if remote.Config().Name == "origin" && len(remote.Config().URLs) > 0 {
				meta["origin"] = remote.Config().URLs[0]
				break
			}
		}
	}

	head, err := repo.Head()
	if err != nil {
		log.Debug().Err(err).Str("path", path).Msg("Repo has no HEAD, skipping _git metadata")
		return nil, false
	}
	meta["commit"] = head.Hash().String()
	if head.Name().IsBranch() {
		meta["branch"] = head.Name().Short()
	}

	return meta, true
}
