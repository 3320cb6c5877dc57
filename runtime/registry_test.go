package runtime

import (
	"chat-hub/domain"
	"chat-hub/errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func alice() domain.Principal {
	return domain.Principal{Key: "alice", Name: "Alice"}
}

func TestRegistry_Bind_One_Session(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	conn := domain.ConnID(uuid.NewString())

	// Given an empty registry
	req.Zero(registry.Count())

	// When a principal binds
	sess, displaced, err := registry.Bind(conn, alice())

	// Then one session exists and nothing was displaced
	req.NoError(err)
	req.Nil(displaced)
	req.Equal(conn, sess.Conn)
	req.Equal("alice", sess.Principal.Key)
	req.Equal(1, registry.Count())
	req.NotNil(registry.Lookup(conn))
}

func TestRegistry_Bind_Same_Key_Displaces_Prior_Session(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	connA := domain.ConnID("conn-a")
	connB := domain.ConnID("conn-b")

	// Given alice bound on connection A
	_, _, err := registry.Bind(connA, alice())
	req.NoError(err)

	// When alice binds again from connection B
	sess, displaced, err := registry.Bind(connB, alice())

	// Then the prior session is returned as displaced
	req.NoError(err)
	req.NotNil(displaced)
	req.Equal(connA, displaced.Conn)

	// And exactly one session survives, pointing at B
	req.Equal(1, registry.Count())
	req.Nil(registry.Lookup(connA))
	req.Equal(sess, *registry.Lookup(connB))
}

func TestRegistry_Bind_Twice_On_One_Connection_Fails(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	conn := domain.ConnID("conn-a")

	_, _, err := registry.Bind(conn, alice())
	req.NoError(err)

	// A second bind on the same connection is a caller error
	_, _, err = registry.Bind(conn, domain.Principal{Key: "bob", Name: "Bob"})
	req.ErrorIs(err, errors.ErrAlreadyBound)

	// The original session is untouched
	req.Equal(1, registry.Count())
	req.Equal("alice", registry.Lookup(conn).Principal.Key)
}

func TestRegistry_Unbind_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	conn := domain.ConnID("conn-a")
	_, _, err := registry.Bind(conn, alice())
	req.NoError(err)

	// First unbind returns the session
	sess := registry.Unbind(conn)
	req.NotNil(sess)
	req.Equal("alice", sess.Principal.Key)
	req.Zero(registry.Count())

	// Second unbind returns nothing
	req.Nil(registry.Unbind(conn))
	req.Zero(registry.Count())
}

func TestRegistry_Unbind_Displaced_Connection_Keeps_Winner(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	connA := domain.ConnID("conn-a")
	connB := domain.ConnID("conn-b")

	_, _, err := registry.Bind(connA, alice())
	req.NoError(err)
	_, displaced, err := registry.Bind(connB, alice())
	req.NoError(err)
	req.NotNil(displaced)

	// The loser's transport close must not evict the winner's binding
	req.Nil(registry.Unbind(connA))
	req.NotNil(registry.Lookup(connB))
	req.Equal(1, registry.Count())
}

func TestRegistry_Presence_Count(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()

	conns := []domain.ConnID{"c1", "c2", "c3"}
	keys := []string{"alice", "bob", "clara"}
	for i, conn := range conns {
		_, _, err := registry.Bind(conn, domain.Principal{Key: keys[i], Name: keys[i]})
		req.NoError(err)
	}
	req.Equal(3, registry.Count())

	registry.Unbind("c2")
	req.Equal(2, registry.Count())
}

func TestRegistry_Concurrent_Bind_Same_Key_One_Survivor(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()

	const contenders = 16
	var wg sync.WaitGroup
	displacements := make(chan domain.ConnID, contenders)

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			conn := domain.ConnID(uuid.NewString())
			_, displaced, err := registry.Bind(conn, alice())
			require.NoError(t, err)
			if displaced != nil {
				displacements <- displaced.Conn
			}
		}(i)
	}
	wg.Wait()
	close(displacements)

	// Exactly one session survives, every other bind was displaced
	req.Equal(1, registry.Count())
	req.Len(displacements, contenders-1)
}
