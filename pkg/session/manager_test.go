package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/canopy"
	"github.com/aretw0/canopy/internal/testutils"
	"github.com/aretw0/canopy/pkg/adapters/memory"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/graph"
	"github.com/aretw0/canopy/pkg/ports"
	"github.com/aretw0/canopy/pkg/predictor"
	"github.com/aretw0/canopy/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(t *testing.T, tool ports.Capability) *canopy.Router {
	t.Helper()
	r := canopy.New(canopy.WithPredictor(predictor.First{}))
	_, err := r.AddNode(graph.NodeSpec{ID: "base", Root: true})
	require.NoError(t, err)
	_, err = r.AdmitTool(testutils.SpecOf(tool), nil, "base")
	require.NoError(t, err)
	return r
}

func TestManager_RunPersists(t *testing.T) {
	store := memory.NewStore()
	mgr := session.NewManager(store)
	r := newRouter(t, testutils.NewTool("finish", true))
	ctx := context.Background()

	state, err := mgr.Run(ctx, r, "conv-1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "conv-1", state.ConversationID)

	loaded, err := mgr.Load(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, state.ID, loaded.ID)
	assert.Equal(t, domain.StatusTerminated, loaded.Status)
	assert.Equal(t, []string{"finish"}, loaded.ToolSequence())

	ids, err := mgr.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"conv-1"}, ids)

	require.NoError(t, mgr.Delete(ctx, "conv-1"))
	_, err = mgr.Load(ctx, "conv-1")
	assert.True(t, session.IsNotFound(err))
}

func TestManager_StreamSavesOnEarlyStop(t *testing.T) {
	store := memory.NewStore()
	mgr := session.NewManager(store)
	chatty := testutils.NewTool("chatty", false)
	chatty.Run = func(context.Context, ports.RunView, map[string]any) ports.Stream {
		return ports.Emit(domain.Text("one"), domain.Text("two"), domain.Text("three"))
	}
	r := newRouter(t, chatty)

	for range mgr.Stream(context.Background(), r, "conv-2", "hello") {
		break
	}

	loaded, err := store.Load(context.Background(), "conv-2")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, loaded.Status)
}

func TestManager_SerialisesConversation(t *testing.T) {
	var active, maxActive int
	var mu sync.Mutex
	slow := testutils.NewTool("slow", true)
	slow.Run = func(context.Context, ports.RunView, map[string]any) ports.Stream {
		return func(yield func(domain.Event, error) bool) {
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			time.Sleep(10 * time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}
	}
	r := newRouter(t, slow)
	mgr := session.NewManager(memory.NewStore())

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := mgr.Run(context.Background(), r, "same", "hi")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxActive)
}

func TestManager_FailedRunReturnsError(t *testing.T) {
	gated := &testutils.Gated{
		Tool:        testutils.Tool{Desc: domain.CapabilityDescriptor{Name: "gated", Terminal: true}},
		AvailableFn: func(ports.RunView) (bool, error) { return false, nil },
	}
	r := newRouter(t, gated)
	mgr := session.NewManager(memory.NewStore())

	state, err := mgr.Run(context.Background(), r, "conv-3", "hi")
	assert.ErrorIs(t, err, domain.ErrNoToolAvailable)
	require.NotNil(t, state)
	assert.Equal(t, domain.StatusFailed, state.Status)
}
