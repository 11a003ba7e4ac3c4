package id

import (
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/axiom/internal/shared/fserr"
)

func TestPrefixes(t *testing.T) {
	assert.True(t, strings.HasPrefix(NewContextID().String(), "ctx_"))
	assert.True(t, strings.HasPrefix(NewStreamID().String(), "stream_"))
	assert.True(t, strings.HasPrefix(NewConnID().String(), "conn_"))

	assert.NoError(t, NewContextID().Check())
	assert.NoError(t, NewStreamID().Check())
}

func TestCheckRejectsMalformed(t *testing.T) {
	stream := NewStreamID()
	_, ulidPart, _ := strings.Cut(string(stream), "_")

	tests := []struct {
		name string
		err  error
	}{
		{"empty context", ContextID("").Check()},
		{"stream id as context", ContextID(stream).Check()},
		{"bare ulid", ContextID(ulidPart).Check()},
		{"bad ulid", ContextID("ctx_not-a-ulid").Check()},
		{"context id as stream", StreamID(NewContextID()).Check()},
		{"lowercase prefix only", StreamID("stream_").Check()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, fserr.Is(tt.err, fserr.KindInvalid), "got %v", tt.err)
		})
	}
}

func TestIDsSortInCreationOrder(t *testing.T) {
	const n = 200
	ids := make([]string, n)
	for i := range ids {
		ids[i] = string(NewContextID())
	}
	assert.True(t, sort.StringsAreSorted(ids))
}

func TestConcurrentUnique(t *testing.T) {
	const workers, each = 8, 250

	var mu sync.Mutex
	seen := make(map[StreamID]struct{}, workers*each)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]StreamID, each)
			for i := range local {
				local[i] = NewStreamID()
			}
			mu.Lock()
			for _, sid := range local {
				seen[sid] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Len(t, seen, workers*each)
}
