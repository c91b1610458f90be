package names

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

var testAddr = common.HexToAddress("0x00000000000000000000000000000000000000a1")

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)

	name, found, err := s.Get(context.Background(), testAddr)
	require.NoError(t, err)
	require.False(t, found)
	require.Equal(t, "", name)
}

func TestPutOnce(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Put(ctx, testAddr, "Alice"))
	require.ErrorIs(t, s.Put(ctx, testAddr, "Bob"), ErrNameExists)

	name, found, err := s.Get(ctx, testAddr)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "Alice", name)
}

func TestPutConcurrent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	const writers = 32
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.Put(ctx, testAddr, "writer")
		}(i)
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, ErrNameExists)
	}
	require.Equal(t, 1, succeeded)
	require.Empty(t, s.locks)
}

func TestKeysAreChecksummed(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	addr := common.HexToAddress("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	require.NoError(t, s.Put(ctx, addr, "Alice"))

	has, err := s.db.Has([]byte("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"), nil)
	require.NoError(t, err)
	require.True(t, has)

	count, err := s.Count()
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestOpenPersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "names")

	s, err := Open(path, true)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, testAddr, "Alice"))
	require.NoError(t, s.Close())

	s, err = Open(path, false)
	require.NoError(t, err)
	defer s.Close()

	name, found, err := s.Get(ctx, testAddr)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "Alice", name)

	count, err := s.Count()
	require.NoError(t, err)
	require.Equal(t, 1, count)
}
