package supervisor

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldSpawnInstanceFirstRequest(t *testing.T) {
	pool := NewInstancePool(3)
	assert.False(t, pool.ShouldSpawnInstance(0))
	assert.True(t, pool.ShouldSpawnInstance(1))
}

func TestShouldSpawnInstanceAtMaxCapacity(t *testing.T) {
	pool := NewInstancePool(2)
	pool.AddInstance(uuid.New())
	pool.AddInstance(uuid.New())

	assert.False(t, pool.ShouldSpawnInstance(5))
}

func TestShouldSpawnInstanceWithIdleInstance(t *testing.T) {
	pool := NewInstancePool(3)
	id := uuid.New()
	pool.AddInstance(id)
	pool.MarkIdle(id)

	assert.False(t, pool.ShouldSpawnInstance(1))
}

func TestShouldSpawnInstanceAllBusy(t *testing.T) {
	pool := NewInstancePool(3)
	id := uuid.New()
	pool.AddInstance(id)
	pool.MarkBusy(id)

	assert.True(t, pool.ShouldSpawnInstance(1))
}

func TestMarkBusyAndIdle(t *testing.T) {
	pool := NewInstancePool(3)
	id := uuid.New()
	pool.AddInstance(id)

	pool.MarkIdle(id)
	pool.mu.RLock()
	assert.Equal(t, InstanceIdle, pool.instances[id].Status)
	pool.mu.RUnlock()

	pool.MarkBusy(id)
	pool.mu.RLock()
	inst := pool.instances[id]
	assert.Equal(t, InstanceBusy, inst.Status)
	assert.Equal(t, uint64(1), inst.RequestsProcessed)
	pool.mu.RUnlock()
}

func TestRemoveInstance(t *testing.T) {
	pool := NewInstancePool(3)
	id := uuid.New()
	pool.AddInstance(id)
	assert.Equal(t, 1, pool.InstanceCount())

	removed, ok := pool.RemoveInstance(id)
	require.True(t, ok)
	assert.Equal(t, id, removed.ID)
	assert.Equal(t, 0, pool.InstanceCount())
}
