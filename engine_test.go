package admission

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/sync/errgroup"

	"github.com/failsafe-go/admission/internal/mocks"
	"github.com/failsafe-go/admission/internal/testutil"
	"github.com/failsafe-go/admission/priority"
)

func newTestEngine(t *testing.T, config Config, opts ...Option) (*Engine, *testutil.TestClock) {
	clock := testutil.NewTestClock(time.Unix(1000, 0))
	e, err := New(config, append([]Option{WithClock(clock)}, opts...)...)
	require.NoError(t, err)
	return e, clock
}

// linearWatermark returns the watermark for an admit fraction before any traffic has been sampled.
func linearWatermark(admitFraction float64) int {
	return int(admitFraction * priority.MaxOrdinal)
}

func TestEngine_Admit(t *testing.T) {
	t.Run("should admit everything without feedback", func(t *testing.T) {
		e, _ := newTestEngine(t, Config{})

		for ordinal := 0; ordinal <= priority.MaxOrdinal; ordinal++ {
			assert.True(t, e.Admit(priority.Value(ordinal)))
		}
		for _, kind := range Kinds() {
			assert.Equal(t, priority.MaxOrdinal, e.Watermark(kind))
		}
	})

	t.Run("should sample shed decisions", func(t *testing.T) {
		// Given
		e, _ := newTestEngine(t, Config{})
		e.Feedback(CPU, .99)

		// When
		assert.True(t, e.Admit(priority.MustEncode(priority.Critical, 0)))
		assert.False(t, e.Admit(priority.MustEncode(priority.BestEffort, 99)))

		// Then
		status := e.Status()
		assert.Equal(t, int64(2), status.WindowRequested)
		assert.Equal(t, int64(1), status.WindowAdmitted)
	})

	t.Run("should treat invalid values as the lowest priority", func(t *testing.T) {
		e, _ := newTestEngine(t, Config{})
		e.Feedback(CPU, .99)

		assert.False(t, e.Admit(priority.Value(-5)))
		assert.False(t, e.Admit(priority.Value(1000)))
	})
}

func TestEngine_AdmitContext(t *testing.T) {
	// Given
	e, _ := newTestEngine(t, Config{})
	e.Feedback(CPU, .99)

	// When / Then
	assert.False(t, e.AdmitContext(context.Background()))
	assert.True(t, e.AdmitContext(priority.ContextWithValue(context.Background(), priority.MustEncode(priority.Critical, 5))))
	assert.True(t, e.AdmitContext(priority.ContextWithGroup(context.Background(), priority.Critical)))
}

func TestEngine_FeedbackCPU(t *testing.T) {
	t.Run("should tighten multiplicatively when above the target", func(t *testing.T) {
		// Given
		e, _ := newTestEngine(t, Config{})

		// When
		e.Feedback(CPU, .99)

		// Then the overshoot is .19/.8
		expected := 1 - .5*(.19/.8)
		assert.InDelta(t, expected, e.AdmitFraction(CPU), 1e-9)
		assert.Equal(t, linearWatermark(expected), e.Watermark(CPU))
		assert.Equal(t, priority.MaxOrdinal, e.Watermark(QueueDelay))
	})

	t.Run("should floor the admit fraction", func(t *testing.T) {
		e, _ := newTestEngine(t, Config{})

		for i := 0; i < 50; i++ {
			e.Feedback(CPU, .99)
		}

		assert.Equal(t, .05, e.AdmitFraction(CPU))
		assert.Equal(t, linearWatermark(.05), e.Watermark(CPU))
	})

	t.Run("should relax additively when below the target", func(t *testing.T) {
		// Given
		e, _ := newTestEngine(t, Config{})
		for i := 0; i < 50; i++ {
			e.Feedback(CPU, .99)
		}

		// When
		e.Feedback(CPU, .2)
		e.Feedback(CPU, .2)
		e.Feedback(CPU, .2)
		e.Feedback(CPU, .2)

		// Then recovery is gradual
		assert.Less(t, e.AdmitFraction(CPU), .25)

		// When
		for i := 0; i < 500; i++ {
			e.Feedback(CPU, .2)
		}

		// Then
		assert.Equal(t, 1.0, e.AdmitFraction(CPU))
		assert.Equal(t, priority.MaxOrdinal, e.Watermark(CPU))
	})
}

func TestEngine_FeedbackQueueDelay(t *testing.T) {
	t.Run("should tighten when the queue delay exceeds the target", func(t *testing.T) {
		e, _ := newTestEngine(t, Config{})

		e.FeedbackQueueDelay(500 * time.Millisecond)

		assert.Equal(t, .5, e.AdmitFraction(QueueDelay))
		assert.Equal(t, linearWatermark(.5), e.Watermark(QueueDelay))
	})

	t.Run("should relax by the increase step when the queue delay is below the target", func(t *testing.T) {
		// Given
		e, clock := newTestEngine(t, Config{SmoothingAlpha: 1})
		e.Feedback(QueueDelay, 500)

		// When
		clock.Advance(time.Second)
		e.Feedback(QueueDelay, 1)

		// Then
		assert.InDelta(t, .55, e.AdmitFraction(QueueDelay), 1e-9)
	})

	t.Run("should not tighten when a rising queue delay is below the target", func(t *testing.T) {
		// Given
		e, clock := newTestEngine(t, Config{})
		e.Feedback(QueueDelay, 10)

		// When
		clock.Advance(10 * time.Millisecond)
		e.Feedback(QueueDelay, 40)

		// Then
		assert.Equal(t, 1.0, e.AdmitFraction(QueueDelay))
		assert.Equal(t, priority.MaxOrdinal, e.Watermark(QueueDelay))
	})

	t.Run("should not relax when a falling queue delay is above the target", func(t *testing.T) {
		// Given
		e, clock := newTestEngine(t, Config{})
		e.Feedback(QueueDelay, 500)
		require.Equal(t, .5, e.AdmitFraction(QueueDelay))

		// When
		clock.Advance(10 * time.Millisecond)
		e.Feedback(QueueDelay, 300)

		// Then
		assert.LessOrEqual(t, e.AdmitFraction(QueueDelay), .5)
	})

	t.Run("should keep tightening while feedback spaced 10ms apart stays above the target", func(t *testing.T) {
		// Given
		e, clock := newTestEngine(t, Config{})

		// When
		previous := 1.0
		for i := 0; i < 10; i++ {
			e.Feedback(QueueDelay, 200)
			clock.Advance(10 * time.Millisecond)

			// Then
			assert.LessOrEqual(t, e.AdmitFraction(QueueDelay), previous)
			previous = e.AdmitFraction(QueueDelay)
		}
		assert.Less(t, previous, 1.0)
	})
}

func TestEngine_Observer(t *testing.T) {
	t.Run("should notify admissions and sheds", func(t *testing.T) {
		// Given
		ctrl := gomock.NewController(t)
		observer := mocks.NewMockObserver(ctrl)
		e, _ := newTestEngine(t, Config{}, WithObserver(observer))
		e.Feedback(QueueDelay, 500)

		// Then
		observer.EXPECT().Enter(priority.Value(100)).Times(1)
		observer.EXPECT().ShedByQueue(priority.Value(300)).Times(1)
		observer.EXPECT().ShedByCPU(gomock.Any()).Times(0)

		// When
		assert.True(t, e.Admit(priority.Value(100)))
		assert.False(t, e.Admit(priority.Value(300)))
	})

	t.Run("should attribute CPU sheds before queue sheds", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		observer := mocks.NewMockObserver(ctrl)
		e, _ := newTestEngine(t, Config{}, WithObserver(observer))
		e.Feedback(QueueDelay, 500)
		e.Feedback(CPU, .99)

		observer.EXPECT().ShedByCPU(priority.Value(priority.MaxOrdinal)).Times(1)

		assert.False(t, e.Admit(priority.Value(priority.MaxOrdinal)))
	})

	t.Run("should report error rate sheds as queue sheds", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		observer := mocks.NewMockObserver(ctrl)
		e, _ := newTestEngine(t, Config{}, WithObserver(observer))
		e.Feedback(ErrorRate, .5)

		observer.EXPECT().ShedByQueue(priority.Value(400)).Times(1)

		assert.Equal(t, linearWatermark(.5), e.Watermark(ErrorRate))
		assert.False(t, e.Admit(priority.Value(400)))
	})

	t.Run("should close the observer once", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		observer := mocks.NewMockObserver(ctrl)
		e, _ := newTestEngine(t, Config{}, WithObserver(observer))

		observer.EXPECT().Close().Times(1)

		e.Close()
		e.Close()
	})
}

func TestEngine_InvalidFeedback(t *testing.T) {
	// Given
	e, _ := newTestEngine(t, Config{})

	// When
	e.Feedback(Kind(9), 1000)
	e.Feedback(CPU, math.NaN())
	e.Feedback(QueueDelay, math.Inf(1))

	// Then
	for _, kindStatus := range e.Status().Kinds {
		assert.Equal(t, uint64(0), kindStatus.Updates)
	}
	assert.Equal(t, -1, e.Watermark(Kind(9)))
	assert.Equal(t, 0.0, e.AdmitFraction(Kind(-1)))
}

func TestEngine_Rollover(t *testing.T) {
	t.Run("should compute watermarks from the sampled priorities", func(t *testing.T) {
		// Given traffic from the two most important groups only
		e, _ := newTestEngine(t, Config{WindowRequestCycle: 200})
		for i := 0; i < 200; i++ {
			e.Admit(priority.Value(i))
		}

		// When
		e.Feedback(QueueDelay, 500)

		// Then half of the observed traffic is admitted
		assert.InDelta(t, 100, e.Watermark(QueueDelay), 5)
		status := e.Status()
		assert.Equal(t, int64(1), status.Rollovers)
		assert.Equal(t, int64(0), status.WindowRequested)
	})

	t.Run("should widen the time cycle when the request cycle fills", func(t *testing.T) {
		e, _ := newTestEngine(t, Config{WindowRequestCycle: 10})
		for i := 0; i < 10; i++ {
			e.Admit(priority.Random())
		}
		assert.Equal(t, 1250*time.Millisecond, e.Status().WindowTimeCycle)

		for i := 0; i < 20; i++ {
			e.Admit(priority.Random())
		}
		assert.Equal(t, 1953125*time.Microsecond, e.Status().WindowTimeCycle)
	})

	t.Run("should narrow the time cycle when traffic is light", func(t *testing.T) {
		// Given
		e, clock := newTestEngine(t, Config{})
		e.Admit(priority.Random())

		// When
		clock.Advance(time.Second)
		e.Admit(priority.Random())

		// Then
		status := e.Status()
		assert.Equal(t, int64(1), status.Rollovers)
		assert.Equal(t, int64(1), status.WindowRequested)
		assert.Equal(t, 800*time.Millisecond, status.WindowTimeCycle)
	})
}

func TestEngine_Concurrent(t *testing.T) {
	// Given
	e, _ := newTestEngine(t, Config{WindowRequestCycle: 100})

	// When
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			for j := 0; j < 1000; j++ {
				e.Admit(priority.Random())
			}
			return nil
		})
	}
	g.Go(func() error {
		for j := 0; j < 200; j++ {
			e.Feedback(CPU, rand.Float64())
			e.Feedback(QueueDelay, rand.Float64()*100)
		}
		return nil
	})
	require.NoError(t, g.Wait())

	// Then every sample is accounted for exactly once
	status := e.Status()
	assert.Equal(t, int64(80), status.Rollovers)
	assert.Equal(t, int64(0), status.WindowRequested)
	assert.LessOrEqual(t, status.Watermark, priority.MaxOrdinal)
}

func TestEngine_Reset(t *testing.T) {
	// Given
	e, _ := newTestEngine(t, Config{})
	e.Feedback(CPU, .99)
	e.Admit(priority.Random())

	// When
	e.Reset()

	// Then
	status := e.Status()
	assert.Equal(t, priority.MaxOrdinal, status.Watermark)
	assert.Equal(t, int64(0), status.WindowRequested)
	assert.Equal(t, 1.0, e.AdmitFraction(CPU))
}

func TestEngine_RetryBudget(t *testing.T) {
	t.Run("should clamp the ratio", func(t *testing.T) {
		e, _ := newTestEngine(t, Config{RetryBudget: 5, RetryBudgetTTL: time.Minute})

		assert.Equal(t, 1.0, e.RetryBudget().Ratio())
		assert.Equal(t, time.Minute, e.RetryBudget().TTL())
	})

	t.Run("should replace a zero ratio with the default", func(t *testing.T) {
		e, _ := newTestEngine(t, Config{RetryBudget: 0})

		assert.Equal(t, DefaultConfig().RetryBudget, e.RetryBudget().Ratio())
		assert.Equal(t, DefaultConfig().RetryBudget, e.Config().RetryBudget)
	})
}

func TestConfig_WithDefaults(t *testing.T) {
	t.Run("should replace zero values", func(t *testing.T) {
		assert.Equal(t, DefaultConfig(), Config{}.WithDefaults())
	})

	t.Run("should replace invalid values", func(t *testing.T) {
		config := Config{
			WindowTimeCycle:    -time.Second,
			WindowRequestCycle: -1,
			SmoothingAlpha:     2,
			CPUTarget:          1.5,
			MinAdmitRate:       -.1,
		}.WithDefaults()

		assert.Equal(t, time.Second, config.WindowTimeCycle)
		assert.Equal(t, int64(1024), config.WindowRequestCycle)
		assert.Equal(t, .2, config.SmoothingAlpha)
		assert.Equal(t, .8, config.CPUTarget)
		assert.Equal(t, .05, config.MinAdmitRate)
	})

	t.Run("should keep valid values", func(t *testing.T) {
		config := Config{
			WindowRequestCycle: 10,
			QueueDelayTarget:   time.Second,
			ZThreshold:         3,
		}.WithDefaults()

		assert.Equal(t, int64(10), config.WindowRequestCycle)
		assert.Equal(t, time.Second, config.QueueDelayTarget)
		assert.Equal(t, 3.0, config.ZThreshold)
		assert.Equal(t, 1000.0, config.target(QueueDelay))
	})
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		input    string
		expected Kind
	}{
		{"queue_delay", QueueDelay},
		{"Queue-Delay", QueueDelay},
		{"cpu", CPU},
		{" error_rate ", ErrorRate},
	}
	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			kind, err := ParseKind(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, kind)
		})
	}

	_, err := ParseKind("memory")
	assert.ErrorIs(t, err, ErrUnknownKind)
	assert.Equal(t, "kind(7)", Kind(7).String())
}
