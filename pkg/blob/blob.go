// Package blob locates and stores the gradient, checkpoint and plan objects
// exchanged between devices, aggregators and model updaters.
package blob

import (
	"context"
	"errors"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

const Scheme = "blob"

var ErrNotFound = errors.New("blob not found")

// Description addresses one object, or a folder when Object ends with '/'.
type Description struct {
	Host   string `json:"host"`
	Object string `json:"object"`
}

func (d Description) URL() string {
	return Scheme + "://" + d.Host + "/" + d.Object
}

func (d Description) Folder() bool {
	return strings.HasSuffix(d.Object, "/")
}

type Store interface {
	// List returns the names under folder relative to it, collapsing nested
	// names to their first path segment followed by '/'.
	List(ctx context.Context, folder Description) ([]string, error)
	Download(ctx context.Context, file Description) ([]byte, error)
	Upload(ctx context.Context, file Description, content []byte) error
	// Exists reports whether every file exists.
	Exists(ctx context.Context, files ...Description) (bool, error)
	// Delete removes a folder and everything under it.
	Delete(ctx context.Context, folder Description) error
}

// ListByPartition lists folder+partition for every partition concurrently and
// joins the results, keeping the partition prefix on each name. Any failed
// partition fails the whole listing.
func ListByPartition(ctx context.Context, store Store, folder Description, partitions []string) ([]string, error) {
	g, ctx := errgroup.WithContext(ctx)
	results := make([][]string, len(partitions))

	for i, partition := range partitions {
		g.Go(func() error {
			names, err := store.List(ctx, Description{Host: folder.Host, Object: folder.Object + partition})
			if err != nil {
				return err
			}
			for j, name := range names {
				names[j] = partition + name
			}
			results[i] = names

			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var names []string
	for _, r := range results {
		names = append(names, r...)
	}

	return names, nil
}

// ListFolders runs ListByPartition over several folders and returns the
// child folder names without their trailing '/', sorted.
func ListFolders(ctx context.Context, store Store, folders []Description, partitions []string) ([]string, error) {
	g, ctx := errgroup.WithContext(ctx)
	results := make([][]string, len(folders))

	for i, folder := range folders {
		g.Go(func() error {
			names, err := ListByPartition(ctx, store, folder, partitions)
			results[i] = names

			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var names []string
	for _, r := range results {
		for _, name := range r {
			if !strings.HasSuffix(name, "/") {
				continue
			}
			name = strings.TrimSuffix(name, "/")
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	sort.Strings(names)

	return names, nil
}

// Collapse turns object names relative to a folder into sorted
// current-directory listing entries.
func Collapse(relative []string) []string {
	seen := make(map[string]struct{}, len(relative))
	var names []string
	for _, name := range relative {
		if name == "" {
			continue
		}
		if i := strings.Index(name, "/"); i >= 0 {
			name = name[:i+1]
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}
