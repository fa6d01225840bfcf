package main

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countReleases makes every settings object decoded by d count its releases.
func countReleases(d *Dispatcher) *atomic.Int32 {
	var n atomic.Int32
	d.decode = func(raw string) (*Settings, error) {
		s, err := ParseSettings(raw)
		if err != nil {
			return nil, err
		}
		s.onRelease = func() { n.Add(1) }
		return s, nil
	}
	return &n
}

func TestDispatch_ActionCompletesTrue(t *testing.T) {
	rig := newTestRig(t, 0)

	var gotInstance atomic.Int64
	seg := Segment{
		Kind: SegmentAction,
		Name: "Sound",
		Run: func(ctx context.Context, s *Settings, instanceID int64) (bool, error) {
			gotInstance.Store(instanceID)
			return false, nil // ignored for actions
		},
	}

	rig.dispatcher.Trigger(seg, trigger(7, 1, `{"browse":"/tmp/a.wav"}`))

	sig := rig.host.nextSignal(t, time.Second)
	assert.Equal(t, "advss_completion", sig.Name)
	assert.Equal(t, int64(7), sig.Data.Int(fieldCompletionID))
	assert.True(t, sig.Data.Bool(fieldResult))
	assert.Equal(t, int64(1), gotInstance.Load())

	rig.host.noSignal(t, 50*time.Millisecond)
}

func TestDispatch_ConditionReportsCallbackValue(t *testing.T) {
	rig := newTestRig(t, 0)

	seg := Segment{
		Kind: SegmentCondition,
		Name: "IsReady",
		Run: func(context.Context, *Settings, int64) (bool, error) {
			return false, nil
		},
	}

	rig.dispatcher.Trigger(seg, trigger(9, 3, "{}"))

	sig := rig.host.nextSignal(t, time.Second)
	assert.Equal(t, int64(9), sig.Data.Int(fieldCompletionID))
	assert.False(t, sig.Data.Bool(fieldResult))
	require.True(t, sig.Data.Has(fieldResult))
}

func TestDispatch_ConcurrentInvocationsKeepTheirIDs(t *testing.T) {
	rig := newTestRig(t, 0)

	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(2)

	seg := Segment{
		Kind: SegmentCondition,
		Name: "Slow",
		Run: func(ctx context.Context, s *Settings, instanceID int64) (bool, error) {
			started.Done()
			<-release
			return s.String("want") == "yes", nil
		},
	}

	rig.dispatcher.Trigger(seg, trigger(1, 10, `{"want":"yes"}`))
	rig.dispatcher.Trigger(seg, trigger(2, 20, `{"want":"no"}`))

	// Both run at the same time; Trigger never waited for a callback.
	started.Wait()
	close(release)

	results := map[int64]bool{}
	for i := 0; i < 2; i++ {
		sig := rig.host.nextSignal(t, time.Second)
		results[sig.Data.Int(fieldCompletionID)] = sig.Data.Bool(fieldResult)
	}
	assert.Equal(t, map[int64]bool{1: true, 2: false}, results)
}

func TestDispatch_TriggerDoesNotBlock(t *testing.T) {
	rig := newTestRig(t, 0)

	release := make(chan struct{})
	seg := Segment{
		Kind: SegmentAction,
		Name: "Blocking",
		Run: func(context.Context, *Settings, int64) (bool, error) {
			<-release
			return true, nil
		},
	}

	done := make(chan struct{})
	go func() {
		rig.dispatcher.Trigger(seg, trigger(1, 1, ""))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Trigger blocked on the callback")
	}

	close(release)
	rig.host.nextSignal(t, time.Second)
}

func TestDispatch_SettingsReleasedExactlyOnce(t *testing.T) {
	tests := []struct {
		name string
		run  SegmentFunc
		want bool
	}{
		{
			name: "normal return",
			run:  func(context.Context, *Settings, int64) (bool, error) { return true, nil },
			want: true,
		},
		{
			name: "error",
			run: func(context.Context, *Settings, int64) (bool, error) {
				return true, errors.New("boom")
			},
			want: false,
		},
		{
			name: "panic",
			run: func(context.Context, *Settings, int64) (bool, error) {
				panic("callback exploded")
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rig := newTestRig(t, 0)
			releases := countReleases(rig.dispatcher)

			seg := Segment{Kind: SegmentCondition, Name: "Check", Run: tt.run}
			rig.dispatcher.Trigger(seg, trigger(5, 1, `{"a":1}`))

			sig := rig.host.nextSignal(t, time.Second)
			assert.Equal(t, int64(5), sig.Data.Int(fieldCompletionID))
			assert.Equal(t, tt.want, sig.Data.Bool(fieldResult))

			require.NoError(t, rig.dispatcher.Wait(context.Background()))
			assert.Equal(t, int32(1), releases.Load())
		})
	}
}

func TestDispatch_ActionErrorCompletesFalse(t *testing.T) {
	rig := newTestRig(t, 0)

	seg := Segment{
		Kind: SegmentAction,
		Name: "Failing",
		Run: func(context.Context, *Settings, int64) (bool, error) {
			return false, errors.New("player missing")
		},
	}
	rig.dispatcher.Trigger(seg, trigger(11, 1, "{}"))

	sig := rig.host.nextSignal(t, time.Second)
	assert.Equal(t, int64(11), sig.Data.Int(fieldCompletionID))
	assert.False(t, sig.Data.Bool(fieldResult))
}

func TestDispatch_DecodeFailureCompletesFalse(t *testing.T) {
	rig := newTestRig(t, 0)

	var ran atomic.Bool
	seg := Segment{
		Kind: SegmentAction,
		Name: "Sound",
		Run: func(context.Context, *Settings, int64) (bool, error) {
			ran.Store(true)
			return true, nil
		},
	}
	rig.dispatcher.Trigger(seg, trigger(3, 1, `{not json`))

	sig := rig.host.nextSignal(t, time.Second)
	assert.Equal(t, int64(3), sig.Data.Int(fieldCompletionID))
	assert.False(t, sig.Data.Bool(fieldResult))
	assert.False(t, ran.Load())
	rig.host.noSignal(t, 50*time.Millisecond)
}

func TestDispatch_TimeoutCompletesFalseOnce(t *testing.T) {
	rig := newTestRig(t, 30*time.Millisecond)
	releases := countReleases(rig.dispatcher)

	unblock := make(chan struct{})
	var sawCancel atomic.Bool
	seg := Segment{
		Kind: SegmentCondition,
		Name: "Stuck",
		Run: func(ctx context.Context, _ *Settings, _ int64) (bool, error) {
			select {
			case <-ctx.Done():
				sawCancel.Store(true)
			case <-unblock:
			}
			<-unblock
			return true, nil
		},
	}
	rig.dispatcher.Trigger(seg, trigger(21, 1, "{}"))

	sig := rig.host.nextSignal(t, time.Second)
	assert.Equal(t, int64(21), sig.Data.Int(fieldCompletionID))
	assert.False(t, sig.Data.Bool(fieldResult))
	waitUntil(t, time.Second, sawCancel.Load)

	// The late result is discarded, and the settings are released once the
	// callback finally returns.
	close(unblock)
	rig.host.noSignal(t, 50*time.Millisecond)
	waitUntil(t, time.Second, func() bool { return releases.Load() == 1 })
}

func TestDispatch_MissingCompletionSignalIsDropped(t *testing.T) {
	rig := newTestRig(t, 0)

	var ran atomic.Bool
	seg := Segment{
		Kind: SegmentAction,
		Name: "Sound",
		Run: func(context.Context, *Settings, int64) (bool, error) {
			ran.Store(true)
			return true, nil
		},
	}
	rig.dispatcher.Trigger(seg, CallData{fieldCompletionID: int64(1)})

	rig.host.noSignal(t, 50*time.Millisecond)
	assert.False(t, ran.Load())
}

func TestDispatch_InlineSettingsObject(t *testing.T) {
	rig := newTestRig(t, 0)

	seg := Segment{
		Kind: SegmentCondition,
		Name: "Inline",
		Run: func(_ context.Context, s *Settings, _ int64) (bool, error) {
			return s.String("mode") == "fast", nil
		},
	}
	data := trigger(4, 1, "")
	data[fieldSettings] = map[string]any{"mode": "fast"}
	rig.dispatcher.Trigger(seg, data)

	sig := rig.host.nextSignal(t, time.Second)
	assert.True(t, sig.Data.Bool(fieldResult))
}

func TestDispatch_Metrics(t *testing.T) {
	rig := newTestRig(t, 0)

	seg := Segment{
		Kind: SegmentCondition,
		Name: "Counted",
		Run:  func(context.Context, *Settings, int64) (bool, error) { return true, nil },
	}
	rig.dispatcher.Trigger(seg, trigger(1, 1, ""))
	rig.host.nextSignal(t, time.Second)
	require.NoError(t, rig.dispatcher.Wait(context.Background()))

	assert.Equal(t, 1.0, testutil.ToFloat64(rig.metrics.invocations.WithLabelValues("condition", "Counted", "true")))
	assert.Equal(t, 0.0, testutil.ToFloat64(rig.metrics.inFlight))
}

func TestDispatch_WaitHonorsContext(t *testing.T) {
	rig := newTestRig(t, 0)

	release := make(chan struct{})
	seg := Segment{
		Kind: SegmentAction,
		Name: "Long",
		Run: func(context.Context, *Settings, int64) (bool, error) {
			<-release
			return true, nil
		},
	}
	rig.dispatcher.Trigger(seg, trigger(1, 1, ""))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, rig.dispatcher.Wait(ctx), context.DeadlineExceeded)

	close(release)
	rig.host.nextSignal(t, time.Second)
}

func TestDispatch_TriggerAfterWaitCompletesFalse(t *testing.T) {
	rig := newTestRig(t, 0)
	require.NoError(t, rig.dispatcher.Wait(context.Background()))

	var ran atomic.Bool
	seg := Segment{
		Kind: SegmentAction,
		Name: "Late",
		Run: func(context.Context, *Settings, int64) (bool, error) {
			ran.Store(true)
			return true, nil
		},
	}
	rig.dispatcher.Trigger(seg, trigger(3, 1, ""))

	sig := rig.host.nextSignal(t, time.Second)
	assert.Equal(t, int64(3), sig.Data.Int(fieldCompletionID))
	assert.False(t, sig.Data.Bool(fieldResult))
	assert.False(t, ran.Load())
}

func TestDispatch_TriggerConcurrentWithWait(t *testing.T) {
	seg := Segment{Kind: SegmentAction, Name: "Racy", Run: okRun}

	for i := 0; i < 200; i++ {
		rig := newTestRig(t, 0)

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			rig.dispatcher.Trigger(seg, trigger(int64(i), 1, ""))
		}()
		require.NoError(t, rig.dispatcher.Wait(context.Background()))
		wg.Wait()

		// Either the worker was tracked by Wait or the trigger was refused;
		// in both cases exactly one completion has been emitted by now.
		sig := rig.host.nextSignal(t, time.Second)
		assert.Equal(t, int64(i), sig.Data.Int(fieldCompletionID))
		rig.host.noSignal(t, 0)
	}
}

func TestOutcomeResult(t *testing.T) {
	assert.True(t, outcome{value: false}.result(SegmentAction))
	assert.False(t, outcome{value: true, err: errCallbackPanic}.result(SegmentAction))
	assert.True(t, outcome{value: true}.result(SegmentCondition))
	assert.False(t, outcome{value: false}.result(SegmentCondition))
	assert.False(t, outcome{value: true, err: errCallbackTimeout}.result(SegmentCondition))
}
