// Package repair traverses the files Merkle tree, detects files that are
// missing, drifted, or corrupt, and restores them from a healthy source
// when one is provided.
//
// Grounded on the teacher's lib/sync package's retry-and-report idiom (the
// same copy-then-verify helper replicate uses), with
// github.com/cenkalti/backoff/v4 retries via internal/retry.
package repair

import (
	"bytes"
	"context"
	"fmt"

	"github.com/mediavault/engine/internal/engineerr"
	"github.com/mediavault/engine/internal/filesdb"
	"github.com/mediavault/engine/internal/merkle"
	"github.com/mediavault/engine/internal/retry"
	"github.com/mediavault/engine/internal/storage"
)

// contentPrefixes lists the storage prefixes repair scans for files that
// exist on disk but aren't yet tracked by any leaf ("new").
var contentPrefixes = []string{"asset/", "display/", "thumb/"}

// Options configures a repair run.
type Options struct {
	// Full forces every leaf's content to be re-hashed, even when its
	// size/mtime still match — catches silent bit rot that a stat-only
	// check would miss.
	Full bool
	// Source is the healthy replica repair fetches corrupt/missing files
	// from. A nil Source means repair can only detect damage, not fix it:
	// every corrupt/missing leaf is reported Unrepaired.
	Source storage.Storage
	Progress func(msg string)
}

func (o Options) progress(msg string) {
	if o.Progress != nil {
		o.Progress(msg)
	}
}

// Report is the `{modified, new, removed, repaired, unrepaired}` result of
// a repair run, each a list of the affected file names.
type Report struct {
	Modified   []string
	New        []string
	Removed    []string
	Repaired   []string
	Unrepaired []string
}

// Repair traverses local's files tree and reconciles it against what's
// actually on disk (and, if Source is set, against the healthy replica).
func Repair(ctx context.Context, local storage.Storage, opts Options) (*Report, error) {
	files, ok, err := filesdb.Load(ctx, local)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, engineerr.New(engineerr.KindFatal, "repair.Repair", "local", fmt.Errorf("local has no files tree"))
	}

	report := &Report{}

	// Leaves is a live slice backing the tree; snapshot the names up front
	// since repairLeaf mutates the tree (UpsertLeaf/PruneLeaf) as it goes.
	names := make([]string, len(files.Tree.Leaves))
	for i, n := range files.Tree.Leaves {
		names[i] = n.Name
	}

	for _, name := range names {
		leaf, ok := files.Find(name)
		if !ok {
			continue // pruned earlier in this same run (shouldn't happen, but safe)
		}
		if err := repairLeaf(ctx, local, files, leaf, opts, report); err != nil {
			return nil, err
		}
	}

	if opts.Source != nil {
		if err := pruneExtraneous(ctx, local, files, opts, report); err != nil {
			return nil, err
		}
	}

	if err := discoverUntracked(ctx, local, files, opts, report); err != nil {
		return nil, err
	}

	if err := files.Save(ctx); err != nil {
		return nil, err
	}
	return report, nil
}

func repairLeaf(ctx context.Context, local storage.Storage, files *filesdb.FilesDB, leaf *merkle.Node, opts Options, report *Report) error {
	info, statErr := local.Info(ctx, leaf.Name)
	missing := statErr == storage.ErrNotFound
	if statErr != nil && !missing {
		return engineerr.New(engineerr.KindTransient, "repair.repairLeaf", leaf.Name, statErr)
	}

	driftedStat := !missing && (info.Length != leaf.Size || !info.LastModified.Equal(leaf.LastModified))
	if !missing && !driftedStat && !opts.Full {
		return nil // nothing about this leaf looks suspicious
	}

	var corrupt bool
	var gotHash merkle.Hash
	if !missing {
		h, err := hashFile(ctx, local, leaf.Name)
		if err != nil {
			return err
		}
		gotHash = h
		corrupt = gotHash != leaf.ContentHash
	}

	switch {
	case missing || corrupt:
		if opts.Source == nil {
			report.Unrepaired = append(report.Unrepaired, leaf.Name)
			opts.progress(fmt.Sprintf("unrepairable (no source): %s", leaf.Name))
			return nil
		}
		if err := copyAndVerify(ctx, opts.Source, local, leaf.Name, leaf.ContentHash); err != nil {
			report.Unrepaired = append(report.Unrepaired, leaf.Name)
			opts.progress(fmt.Sprintf("repair failed for %s: %v", leaf.Name, err))
			return nil
		}
		repairedInfo, err := local.Info(ctx, leaf.Name)
		size, mtime := leaf.Size, leaf.LastModified
		if err == nil {
			size, mtime = repairedInfo.Length, repairedInfo.LastModified
		}
		if err := files.UpsertLeaf(ctx, leaf.Name, leaf.ContentHash, size, mtime); err != nil {
			return err
		}
		report.Repaired = append(report.Repaired, leaf.Name)
		opts.progress(fmt.Sprintf("repaired %s", leaf.Name))
	default:
		// Stat drifted but content hash still matches: refresh the leaf's
		// recorded size/mtime so future runs don't re-flag it.
		if err := files.UpsertLeaf(ctx, leaf.Name, leaf.ContentHash, info.Length, info.LastModified); err != nil {
			return err
		}
		report.Modified = append(report.Modified, leaf.Name)
	}
	return nil
}

// pruneExtraneous removes leaves tracked locally that the healthy source
// doesn't have either — entries orphaned by an interrupted write that
// reconciling against real content can never fix.
func pruneExtraneous(ctx context.Context, local storage.Storage, files *filesdb.FilesDB, opts Options, report *Report) error {
	srcFiles, ok, err := filesdb.Load(ctx, opts.Source)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	for _, name := range snapshotNames(files) {
		if _, inSource := srcFiles.Find(name); inSource {
			continue
		}
		if containsName(report.Repaired, name) || containsName(report.Unrepaired, name) {
			continue // already handled as a content problem this run
		}
		if err := local.Delete(ctx, name); err != nil {
			return engineerr.New(engineerr.KindTransient, "repair.pruneExtraneous", name, err)
		}
		merkle.PruneTree(files.Tree, name)
		files.Tree.Rebuild()
		report.Removed = append(report.Removed, name)
		opts.progress(fmt.Sprintf("removed orphaned leaf %s", name))
	}
	return nil
}

// discoverUntracked finds files present on local disk under the known
// content prefixes that the tree doesn't track yet, hashes them, and adds
// them as new leaves.
func discoverUntracked(ctx context.Context, local storage.Storage, files *filesdb.FilesDB, opts Options, report *Report) error {
	for _, prefix := range contentPrefixes {
		names, err := local.List(ctx, prefix)
		if err != nil {
			return engineerr.New(engineerr.KindTransient, "repair.discoverUntracked", prefix, err)
		}
		for _, name := range names {
			if _, tracked := files.Find(name); tracked {
				continue
			}
			h, err := hashFile(ctx, local, name)
			if err != nil {
				return err
			}
			info, err := local.Info(ctx, name)
			if err != nil {
				return engineerr.New(engineerr.KindTransient, "repair.discoverUntracked", name, err)
			}
			if err := files.AddLeaf(ctx, name, h, info.Length, info.LastModified); err != nil {
				return err
			}
			report.New = append(report.New, name)
			opts.progress(fmt.Sprintf("discovered untracked file %s", name))
		}
	}
	return nil
}

func snapshotNames(files *filesdb.FilesDB) []string {
	names := make([]string, len(files.Tree.Leaves))
	for i, n := range files.Tree.Leaves {
		names[i] = n.Name
	}
	return names
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func hashFile(ctx context.Context, st storage.Storage, name string) (merkle.Hash, error) {
	r, err := st.ReadStream(ctx, name)
	if err != nil {
		return merkle.Hash{}, engineerr.New(engineerr.KindTransient, "repair.hashFile", name, err)
	}
	defer r.Close()
	h, err := merkle.HashStream(r)
	if err != nil {
		return merkle.Hash{}, engineerr.New(engineerr.KindIntegrity, "repair.hashFile", name, err)
	}
	return h, nil
}

// copyAndVerify mirrors replicate's helper of the same shape: stream name
// from src into dst, retrying transient I/O errors, then confirm the
// written bytes hash to wantHash.
func copyAndVerify(ctx context.Context, src, dst storage.Storage, name string, wantHash merkle.Hash) error {
	var data []byte
	err := retry.Do(ctx, retry.Default, func() error {
		r, err := src.ReadStream(ctx, name)
		if err != nil {
			return err
		}
		defer r.Close()
		buf := &bytes.Buffer{}
		if _, err := buf.ReadFrom(r); err != nil {
			return err
		}
		data = buf.Bytes()
		return nil
	})
	if err != nil {
		return engineerr.New(engineerr.KindTransient, "repair.copyAndVerify", name, fmt.Errorf("read source: %w", err))
	}

	info, _ := src.Info(ctx, name)
	contentType := ""
	if info != nil {
		contentType = info.ContentType
	}
	err = retry.Do(ctx, retry.Default, func() error {
		return dst.Write(ctx, name, contentType, data)
	})
	if err != nil {
		return engineerr.New(engineerr.KindTransient, "repair.copyAndVerify", name, fmt.Errorf("write destination: %w", err))
	}

	got := merkle.HashBytes(data)
	if got != wantHash {
		return engineerr.New(engineerr.KindFatal, "repair.copyAndVerify", name,
			fmt.Errorf("hash mismatch after copy: want %x, got %x", wantHash, got))
	}
	return nil
}
