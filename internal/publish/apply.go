package publish

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/gitleaks/go-gitdiff/gitdiff"
	"github.com/google/go-github/v82/github"
)

// ApplyError indicates the diff no longer applies cleanly to the
// repository's current content (stale base). The repository is skipped and
// reported, not retried: the fix needs a fresh recipe run or manual help.
type ApplyError struct {
	Path string
	Err  error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("diff does not apply to %s: %v", e.Path, e.Err)
}

func (e *ApplyError) Unwrap() error {
	return e.Err
}

const (
	modeFile       = "100644"
	modeExecutable = "100755"
	typeBlob       = "blob"
)

// contentFetcher returns the current content of path at the publish base, or
// ok=false when the file does not exist there.
type contentFetcher func(ctx context.Context, path string) (content string, ok bool, err error)

// buildTreeEntries turns a unified diff into git tree entries against the
// publish base: patched content for modified and added files, explicit
// deletions (nil SHA) for removed ones. Renames become a delete plus an add.
func buildTreeEntries(ctx context.Context, diff string, fetch contentFetcher) ([]*github.TreeEntry, error) {
	parsed, err := gitdiff.Parse(strings.NewReader(diff))
	if err != nil {
		return nil, &ApplyError{Path: "(diff)", Err: err}
	}
	var files []*gitdiff.File
	for file := range parsed {
		files = append(files, file)
	}
	if len(files) == 0 {
		return nil, &ApplyError{Path: "(diff)", Err: fmt.Errorf("diff contains no files")}
	}

	var entries []*github.TreeEntry
	for _, file := range files {
		if file.IsDelete {
			entries = append(entries, deleteEntry(file.OldName))
			continue
		}

		var base string
		if !file.IsNew {
			content, ok, err := fetch(ctx, file.OldName)
			if err != nil {
				return nil, fmt.Errorf("failed to fetch %s: %w", file.OldName, err)
			}
			if !ok {
				return nil, &ApplyError{Path: file.OldName, Err: fmt.Errorf("file missing from base")}
			}
			base = content
		}

		var patched bytes.Buffer
		if err := gitdiff.Apply(&patched, bytes.NewReader([]byte(base)), file); err != nil {
			return nil, &ApplyError{Path: file.OldName, Err: err}
		}

		if file.IsRename && file.OldName != file.NewName {
			entries = append(entries, deleteEntry(file.OldName))
		}

		entries = append(entries, &github.TreeEntry{
			Path:    github.Ptr(file.NewName),
			Mode:    github.Ptr(entryMode(file)),
			Type:    github.Ptr(typeBlob),
			Content: github.Ptr(patched.String()),
		})
	}
	return entries, nil
}

func deleteEntry(path string) *github.TreeEntry {
	// A tree entry with neither SHA nor Content deletes the file.
	return &github.TreeEntry{
		Path: github.Ptr(path),
		Mode: github.Ptr(modeFile),
		Type: github.Ptr(typeBlob),
	}
}

func entryMode(file *gitdiff.File) string {
	if file.NewMode&0111 != 0 {
		return modeExecutable
	}
	return modeFile
}
