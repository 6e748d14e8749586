package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"k8s.io/apimachinery/pkg/util/intstr"
)

func TestResolveFenceposts(t *testing.T) {
	tests := []struct {
		name                string
		maxSurge            intstr.IntOrString
		maxUnavailable      intstr.IntOrString
		desired             int32
		expectedSurge       int32
		expectedUnavailable int32
	}{
		{
			name:                "integers pass through",
			maxSurge:            intstr.FromInt32(1),
			maxUnavailable:      intstr.FromInt32(2),
			desired:             10,
			expectedSurge:       1,
			expectedUnavailable: 2,
		},
		{
			name:                "surge rounds up, unavailable rounds down",
			maxSurge:            intstr.FromString("25%"),
			maxUnavailable:      intstr.FromString("25%"),
			desired:             10,
			expectedSurge:       3,
			expectedUnavailable: 2,
		},
		{
			name:                "same percentage at replicas=1 cannot deadlock",
			maxSurge:            intstr.FromString("25%"),
			maxUnavailable:      intstr.FromString("25%"),
			desired:             1,
			expectedSurge:       1,
			expectedUnavailable: 0,
		},
		{
			name:                "both rounding to zero forces unavailable to 1",
			maxSurge:            intstr.FromString("0%"),
			maxUnavailable:      intstr.FromString("10%"),
			desired:             1,
			expectedSurge:       0,
			expectedUnavailable: 1,
		},
		{
			name:                "unavailable clamped to desired",
			maxSurge:            intstr.FromInt32(0),
			maxUnavailable:      intstr.FromInt32(9),
			desired:             2,
			expectedSurge:       0,
			expectedUnavailable: 2,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			surge, unavailable, err := ResolveFenceposts(&test.maxSurge, &test.maxUnavailable, test.desired)
			assert.NoError(t, err)
			assert.Equal(t, test.expectedSurge, surge)
			assert.Equal(t, test.expectedUnavailable, unavailable)
		})
	}
}

func TestRollingUpdateNextStep(t *testing.T) {
	tests := []struct {
		name           string
		desired        int32
		maxSurge       intstr.IntOrString
		maxUnavailable intstr.IntOrString
		target         Counts
		previous       Counts

		expected Decision
	}{
		{
			name:           "surge path creates one before any delete",
			desired:        4,
			maxSurge:       intstr.FromInt32(1),
			maxUnavailable: intstr.FromInt32(1),
			target:         Counts{},
			previous:       Counts{Total: 4, Ready: 4, Available: 4},
			expected:       Decision{CreateTarget: 1},
		},
		{
			name:           "no delete while the surged pod is still unavailable",
			desired:        4,
			maxSurge:       intstr.FromInt32(1),
			maxUnavailable: intstr.FromInt32(1),
			target:         Counts{Total: 1},
			previous:       Counts{Total: 4, Ready: 4, Available: 4},
			expected:       Decision{},
		},
		{
			name:           "delete one previous once the surged pod is available",
			desired:        4,
			maxSurge:       intstr.FromInt32(1),
			maxUnavailable: intstr.FromInt32(1),
			target:         Counts{Total: 1, Ready: 1, Available: 1},
			previous:       Counts{Total: 4, Ready: 4, Available: 4},
			expected:       Decision{DeletePrevious: 1},
		},
		{
			name:           "terminating previous pod blocks the next surge",
			desired:        4,
			maxSurge:       intstr.FromInt32(1),
			maxUnavailable: intstr.FromInt32(1),
			target:         Counts{Total: 1, Ready: 1, Available: 1},
			previous:       Counts{Total: 4, Terminating: 1, Ready: 3, Available: 3},
			expected:       Decision{},
		},
		{
			name:           "zero surge deletes before creating",
			desired:        2,
			maxSurge:       intstr.FromInt32(0),
			maxUnavailable: intstr.FromInt32(1),
			target:         Counts{},
			previous:       Counts{Total: 2, Ready: 2, Available: 2},
			expected:       Decision{DeletePrevious: 1},
		},
		{
			name:           "create resumes once the deleted pod is gone",
			desired:        2,
			maxSurge:       intstr.FromInt32(0),
			maxUnavailable: intstr.FromInt32(1),
			target:         Counts{},
			previous:       Counts{Total: 1, Ready: 1, Available: 1},
			expected:       Decision{CreateTarget: 1},
		},
		{
			name:           "not-ready previous pods go without consuming budget",
			desired:        4,
			maxSurge:       intstr.FromInt32(1),
			maxUnavailable: intstr.FromInt32(0),
			target:         Counts{Total: 4, Ready: 4, Available: 4},
			previous:       Counts{Total: 1},
			expected:       Decision{DeletePrevious: 1},
		},
		{
			name:           "plain scale up ignores surge throttling",
			desired:        8,
			maxSurge:       intstr.FromInt32(1),
			maxUnavailable: intstr.FromInt32(1),
			target:         Counts{Total: 4, Ready: 4, Available: 4},
			previous:       Counts{},
			expected:       Decision{CreateTarget: 4},
		},
		{
			name:           "plain scale down deletes the full excess",
			desired:        2,
			maxSurge:       intstr.FromInt32(1),
			maxUnavailable: intstr.FromInt32(1),
			target:         Counts{Total: 4, Ready: 4, Available: 4},
			previous:       Counts{},
			expected:       Decision{DeleteTarget: 2},
		},
		{
			name:           "scale to zero drains previous availability-bounded",
			desired:        0,
			maxSurge:       intstr.FromString("25%"),
			maxUnavailable: intstr.FromString("25%"),
			target:         Counts{},
			previous:       Counts{Total: 1, Ready: 1, Available: 1},
			expected:       Decision{DeletePrevious: 1},
		},
		{
			name:           "converged",
			desired:        4,
			maxSurge:       intstr.FromInt32(1),
			maxUnavailable: intstr.FromInt32(1),
			target:         Counts{Total: 4, Ready: 4, Available: 4},
			previous:       Counts{},
			expected:       Decision{Done: true},
		},
		{
			name:           "target scaled but not yet available is not converged",
			desired:        4,
			maxSurge:       intstr.FromInt32(1),
			maxUnavailable: intstr.FromInt32(1),
			target:         Counts{Total: 4, Ready: 2, Available: 2},
			previous:       Counts{},
			expected:       Decision{},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := RollingUpdate{}.NextStep(Input{
				DesiredReplicas: test.desired,
				MaxSurge:        test.maxSurge,
				MaxUnavailable:  test.maxUnavailable,
				Target:          test.target,
				Previous:        test.previous,
			})
			assert.Equal(t, test.expected, got)
		})
	}
}

// The rolling scenario of replicas=4, maxSurge=1, maxUnavailable=1 stepped
// end to end: surge one, wait for availability, retire one old pod, repeat.
func TestRollingUpdateFullScenario(t *testing.T) {
	in := Input{
		DesiredReplicas: 4,
		MaxSurge:        intstr.FromInt32(1),
		MaxUnavailable:  intstr.FromInt32(1),
		Previous:        Counts{Total: 4, Ready: 4, Available: 4},
	}
	engine := RollingUpdate{}

	for step := 0; step < 4; step++ {
		d := engine.NextStep(in)
		assert.Equal(t, int32(1), d.CreateTarget, "step %d should surge one pod", step)
		assert.Zero(t, d.DeletePrevious, "step %d must not delete while surging", step)
		in.Target.Total++

		// The new pod becomes available.
		in.Target.Ready++
		in.Target.Available++

		d = engine.NextStep(in)
		assert.Zero(t, d.CreateTarget)
		assert.Equal(t, int32(1), d.DeletePrevious, "step %d should retire one old pod", step)
		// Termination is confirmed.
		in.Previous.Total--
		in.Previous.Ready--
		in.Previous.Available--
	}

	d := engine.NextStep(in)
	assert.True(t, d.Done)
	assert.True(t, d.IsNoop())
}

// replicas=1 with 25%/25% must make progress: surge resolves to 1 and the
// update completes in a bounded number of steps.
func TestRollingUpdatePercentageDeadlockFreedom(t *testing.T) {
	in := Input{
		DesiredReplicas: 1,
		MaxSurge:        intstr.FromString("25%"),
		MaxUnavailable:  intstr.FromString("25%"),
		Previous:        Counts{Total: 1, Ready: 1, Available: 1},
	}
	engine := RollingUpdate{}

	d := engine.NextStep(in)
	assert.Equal(t, Decision{CreateTarget: 1}, d)
	in.Target = Counts{Total: 1, Ready: 1, Available: 1}

	d = engine.NextStep(in)
	assert.Equal(t, Decision{DeletePrevious: 1}, d)
	in.Previous = Counts{}

	assert.True(t, engine.NextStep(in).Done)
}

func TestRecreateNextStep(t *testing.T) {
	tests := []struct {
		name     string
		desired  int32
		target   Counts
		previous Counts
		expected Decision
	}{
		{
			name:     "deletes all previous pods first",
			desired:  3,
			target:   Counts{},
			previous: Counts{Total: 3, Ready: 3, Available: 3},
			expected: Decision{DeletePrevious: 3},
		},
		{
			name:     "creates nothing while previous pods are terminating",
			desired:  3,
			target:   Counts{},
			previous: Counts{Total: 2, Terminating: 2},
			expected: Decision{},
		},
		{
			name:     "creates all target pods once previous is gone",
			desired:  3,
			target:   Counts{},
			previous: Counts{},
			expected: Decision{CreateTarget: 3},
		},
		{
			name:     "converged",
			desired:  3,
			target:   Counts{Total: 3, Ready: 3, Available: 3},
			previous: Counts{},
			expected: Decision{Done: true},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := Recreate{}.NextStep(Input{
				DesiredReplicas: test.desired,
				MaxSurge:        intstr.FromInt32(0),
				MaxUnavailable:  intstr.FromInt32(1),
				Target:          test.target,
				Previous:        test.previous,
			})
			assert.Equal(t, test.expected, got)

			// Recreate never interleaves creates and deletes across revisions.
			assert.False(t, got.CreateTarget > 0 && got.DeletePrevious > 0)
		})
	}
}
