package badger_test

import (
	"context"
	"testing"

	"github.com/absmach/fedround/pkg/blob"
	"github.com/absmach/fedround/pkg/blob/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *badger.Store {
	t.Helper()

	store, err := badger.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	objects := []string{
		"pop/1/2/d/0a/gradient",
		"pop/1/2/d/1b/gradient",
		"pop/1/2/s/0/1/batch/gradient",
	}
	for _, o := range objects {
		require.NoError(t, store.Upload(ctx, blob.Description{Host: "bucket-0", Object: o}, []byte(o)))
	}
	require.NoError(t, store.Upload(ctx, blob.Description{Host: "bucket-1", Object: "pop/1/2/d/2c/gradient"}, []byte("x")))

	cases := []struct {
		desc   string
		folder blob.Description
		names  []string
	}{
		{
			desc:   "device folders",
			folder: blob.Description{Host: "bucket-0", Object: "pop/1/2/d/"},
			names:  []string{"0a/", "1b/"},
		},
		{
			desc:   "partitioned prefix",
			folder: blob.Description{Host: "bucket-0", Object: "pop/1/2/d/1"},
			names:  []string{"b/"},
		},
		{
			desc:   "other host",
			folder: blob.Description{Host: "bucket-1", Object: "pop/1/2/d/"},
			names:  []string{"2c/"},
		},
		{
			desc:   "empty folder",
			folder: blob.Description{Host: "bucket-0", Object: "pop/9/"},
			names:  nil,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			names, err := store.List(ctx, tc.folder)
			require.NoError(t, err)
			assert.Equal(t, tc.names, names)
		})
	}

	got, err := store.Download(ctx, blob.Description{Host: "bucket-0", Object: objects[0]})
	require.NoError(t, err)
	assert.Equal(t, []byte(objects[0]), got)

	_, err = store.Download(ctx, blob.Description{Host: "bucket-0", Object: "missing"})
	assert.ErrorIs(t, err, blob.ErrNotFound)

	ok, err := store.Exists(ctx, blob.Description{Host: "bucket-0", Object: objects[1]}, blob.Description{Host: "bucket-0", Object: "missing"})
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Delete(ctx, blob.Description{Host: "bucket-0", Object: "pop/1/2/d/"}))
	names, err := store.List(ctx, blob.Description{Host: "bucket-0", Object: "pop/1/2/"})
	require.NoError(t, err)
	assert.Equal(t, []string{"s/"}, names)
}
