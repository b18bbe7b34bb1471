package microfw

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartStopEmitsStartedExactlyOnce(t *testing.T) {
	t.Parallel()
	fw := NewFramework(nil)
	require.NoError(t, fw.Init())

	l := &recordingListener{}
	_, err := fw.GetFrameworkContext().AddFrameworkListener(l)
	require.NoError(t, err)

	require.NoError(t, fw.Start())
	require.NoError(t, fw.Stop())

	require.Len(t, l.framework, 1)
	assert.Equal(t, FrameworkStarted, l.framework[0].Type)
	assert.Equal(t, "Framework Started", l.framework[0].Message)
	assert.Equal(t, int64(0), l.framework[0].Module.ID())
}

func TestRemovedListenerReceivesNothing(t *testing.T) {
	t.Parallel()
	fw := NewFramework(nil)
	require.NoError(t, fw.Init())
	ctx := fw.GetFrameworkContext()

	l := &recordingListener{}
	_, err := ctx.AddFrameworkListener(l)
	require.NoError(t, err)
	require.True(t, ctx.RemoveFrameworkListener(l))

	// Token-based removal covers identity-less listeners.
	count := 0
	tok, err := ctx.AddFrameworkListener(FrameworkListenerFunc(func(FrameworkEvent) { count++ }))
	require.NoError(t, err)
	require.True(t, ctx.RemoveFrameworkListenerToken(tok))

	require.NoError(t, fw.Start())

	assert.Empty(t, l.framework)
	assert.Zero(t, count)
}

func TestDoubleInitFails(t *testing.T) {
	t.Parallel()
	fw := NewFramework(nil)

	require.NoError(t, fw.Init())
	assert.ErrorIs(t, fw.Init(), ErrIllegalState)

	require.NoError(t, fw.Start())
	assert.ErrorIs(t, fw.Init(), ErrIllegalState)

	require.NoError(t, fw.Stop())
	assert.NoError(t, fw.Init(), "re-init after stop begins a fresh generation")
}

func TestListenersDoNotSurviveStop(t *testing.T) {
	t.Parallel()
	fw := NewFramework(nil)
	require.NoError(t, fw.Start())

	l := &recordingListener{}
	_, err := fw.GetFrameworkContext().AddFrameworkListener(l)
	require.NoError(t, err)

	require.NoError(t, fw.Stop())
	evt := fw.WaitForStop(0)
	require.Equal(t, FrameworkStopped, evt.Type)

	require.NoError(t, fw.Start())

	assert.Empty(t, l.framework, "a listener added before Stop must not be invoked by a later Start")
}

func TestWaitForStop(t *testing.T) {
	t.Parallel()
	fw := NewFramework(nil)
	require.NoError(t, fw.Start())

	// Timeout elapses while the framework is still running.
	evt := fw.WaitForStop(20 * time.Millisecond)
	assert.Equal(t, FrameworkWaitTimedOut, evt.Type)

	done := make(chan FrameworkEvent, 1)
	go func() {
		done <- fw.WaitForStop(0)
	}()

	require.NoError(t, fw.Stop())

	select {
	case evt := <-done:
		assert.Equal(t, FrameworkStopped, evt.Type)
	case <-time.After(5 * time.Second):
		t.Fatal("WaitForStop did not return after Stop")
	}

	// After shutdown every wait returns immediately.
	evt = fw.WaitForStop(20 * time.Millisecond)
	assert.Equal(t, FrameworkStopped, evt.Type)
}

func TestStopStopsActiveModulesInReverseInstallOrder(t *testing.T) {
	t.Parallel()
	fw, _ := startedFramework(t)

	var mu sync.Mutex
	var stops []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		m, err := fw.InstallModule(ModuleInfo{
			Name: name,
			Symbols: NewActivatorSymbols(name, func() ModuleActivator {
				return &orderedActivator{name: name, stops: &stops, mu: &mu}
			}),
		})
		require.NoError(t, err)
		require.NoError(t, m.Start())
	}

	require.NoError(t, fw.Stop())
	assert.Equal(t, []string{"third", "second", "first"}, stops)
}

type orderedActivator struct {
	name  string
	stops *[]string
	mu    *sync.Mutex
}

func (a *orderedActivator) Load(*ModuleContext) error { return nil }

func (a *orderedActivator) Unload(*ModuleContext) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	*a.stops = append(*a.stops, a.name)
	return nil
}

func TestThrowingServiceListenerBecomesFrameworkError(t *testing.T) {
	t.Parallel()
	_, ctx := startedFramework(t)

	_, err := ctx.AddServiceListener(ServiceListenerFunc(func(ServiceEvent) {
		panic("you sunk my battleship")
	}), "")
	require.NoError(t, err)

	var errorEvents []FrameworkEvent
	_, err = ctx.AddFrameworkListener(FrameworkListenerFunc(func(e FrameworkEvent) {
		if e.Type == FrameworkError {
			errorEvents = append(errorEvents, e)
		}
	}))
	require.NoError(t, err)

	_, err = ctx.RegisterService([]string{"any"}, &greeter{}, nil)
	require.NoError(t, err)

	require.Len(t, errorEvents, 1)
	require.NotNil(t, errorEvents[0].Err)
	assert.Contains(t, errorEvents[0].Err.Error(), "you sunk my battleship")
}

func TestThrowingFrameworkListenerDoesNotRecurse(t *testing.T) {
	t.Parallel()

	var sink bytes.Buffer
	cfg := NewFrameworkConfig().Set(PropFrameworkLog, &sink)
	fw := NewFramework(cfg)
	require.NoError(t, fw.Init())

	invocations := 0
	_, err := fw.GetFrameworkContext().AddFrameworkListener(FrameworkListenerFunc(func(FrameworkEvent) {
		invocations++
		panic("whoopsie!")
	}))
	require.NoError(t, err)

	require.NoError(t, fw.Start())

	assert.Equal(t, 1, invocations, "the listener fires once per event, not recursively")
	assert.Contains(t, sink.String(), "A Framework Listener threw an exception:")
}

func TestReentryFromErrorListenerIsDeadlockFree(t *testing.T) {
	t.Parallel()
	fw, ctx := startedFramework(t)

	_, err := ctx.AddModuleListener(ModuleListenerFunc(func(ModuleEvent) {
		panic("boom")
	}))
	require.NoError(t, err)

	workerDone := make(chan struct{}, 1)
	var once sync.Once
	_, err = ctx.AddFrameworkListener(FrameworkListenerFunc(func(e FrameworkEvent) {
		if e.Type != FrameworkError {
			return
		}
		once.Do(func() {
			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = fw.Start()
			}()
			wg.Wait()
			workerDone <- struct{}{}
		})
	}))
	require.NoError(t, err)

	// Installing a module fires INSTALLED, the module listener panics,
	// the resulting ERROR reaches the framework listener, whose worker
	// goroutine re-enters the framework. Nothing may deadlock.
	installDone := make(chan error, 1)
	go func() {
		_, ierr := fw.InstallModule(ModuleInfo{Name: "reentrant"})
		installDone <- ierr
	}()

	select {
	case ierr := <-installDone:
		require.NoError(t, ierr)
	case <-time.After(5 * time.Second):
		t.Fatal("InstallModule deadlocked")
	}

	select {
	case <-workerDone:
	case <-time.After(5 * time.Second):
		t.Fatal("worker calling Start() did not return")
	}
}

func TestListenerInsertionOrderIsDeliveryOrder(t *testing.T) {
	t.Parallel()
	_, ctx := startedFramework(t)

	var order []string
	for _, name := range []string{"a", "b", "c"} {
		name := name
		_, err := ctx.AddServiceListener(ServiceListenerFunc(func(e ServiceEvent) {
			if e.Type == ServiceRegistered {
				order = append(order, name)
			}
		}), "")
		require.NoError(t, err)
	}

	_, err := ctx.RegisterService([]string{"ordered"}, &greeter{}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestListenerMayReenterFrameworkOperations(t *testing.T) {
	t.Parallel()
	_, ctx := startedFramework(t)

	var nested []ServiceReference
	_, err := ctx.AddServiceListener(ServiceListenerFunc(func(e ServiceEvent) {
		if e.Type != ServiceRegistered {
			return
		}
		// Re-enter the registry from inside dispatch.
		refs, rerr := ctx.GetServiceReferences("reentrant-svc", "")
		if rerr == nil {
			nested = refs
		}
	}), "")
	require.NoError(t, err)

	_, err = ctx.RegisterService([]string{"reentrant-svc"}, &greeter{}, nil)
	require.NoError(t, err)

	assert.Len(t, nested, 1, "a listener must be able to query the registry during dispatch")
}

func TestFrameworkLogSinkReceivesWarnings(t *testing.T) {
	t.Parallel()

	var sink bytes.Buffer
	cfg := NewFrameworkConfig().Set(PropFrameworkLog, &sink)
	fw := NewFramework(cfg)
	require.NoError(t, fw.Start())

	m, err := fw.InstallModule(ModuleInfo{Name: "warned"})
	require.NoError(t, err)
	require.NoError(t, m.Start())
	require.NoError(t, m.Start())

	assert.True(t, strings.Contains(sink.String(), "Module warned already started."),
		"log sink should carry the already-started warning, got: %s", sink.String())
}

func TestConcurrentRegistrationsAreSerialized(t *testing.T) {
	t.Parallel()
	_, ctx := startedFramework(t)

	const n = 32
	var wg sync.WaitGroup
	ids := make(chan int64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg, err := ctx.RegisterService([]string{"concurrent"}, &greeter{}, nil)
			if err == nil {
				ids <- reg.ServiceID()
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool)
	for id := range ids {
		assert.False(t, seen[id], "service ids must be unique under concurrency")
		seen[id] = true
	}
	assert.Len(t, seen, n)

	refs, err := ctx.GetServiceReferences("concurrent", "")
	require.NoError(t, err)
	assert.Len(t, refs, n)
}
