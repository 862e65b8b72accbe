package credentials

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rutvikpatel14/session-intelligence-go/wire"
)

func TestStore_PairRotatesTogether(t *testing.T) {
	s := New()
	s.SetPair("T1", "C1")
	assert.Equal(t, "T1", s.AccessToken())
	assert.Equal(t, "C1", s.CSRFToken())

	s.SetPair("T2", "C2")
	assert.Equal(t, "T2", s.AccessToken())
	assert.Equal(t, "C2", s.CSRFToken())
}

func TestStore_ClearWipesEverything(t *testing.T) {
	s := New()
	s.SetPair("T1", "C1")
	s.SetUser(&wire.User{ID: "u-1", Email: "a@example.com", Role: wire.RoleUser})

	s.Clear()

	assert.Empty(t, s.AccessToken())
	assert.Empty(t, s.CSRFToken())
	assert.Nil(t, s.User())
}

func TestStore_UserIsCopied(t *testing.T) {
	s := New()
	original := &wire.User{ID: "u-1", Email: "a@example.com", Role: wire.RoleAdmin}
	s.SetUser(original)

	got := s.User()
	require.NotNil(t, got)
	got.Email = "mutated@example.com"

	assert.Equal(t, "a@example.com", s.User().Email)
}

// Readers racing Clear and SetPair must always see both tokens set or both
// empty, never one of each. Run with -race.
func TestStore_PairConsistentUnderClear(t *testing.T) {
	s := New()
	s.SetPair("T1", "C1")

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				access, csrf := s.Pair()
				if (access == "") != (csrf == "") {
					t.Errorf("observed torn pair: access=%q csrf=%q", access, csrf)
					return
				}
			}
		}()
	}

	for range 100 {
		s.SetPair("T1", "C1")
		s.Clear()
	}
	close(stop)
	wg.Wait()

	assert.Empty(t, s.AccessToken())
	assert.Empty(t, s.CSRFToken())
}
