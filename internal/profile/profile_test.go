package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultsHasAllFourRoles(t *testing.T) {
	d := Defaults()
	for _, name := range []string{Planner, Implementer, Conservative, Consultant} {
		_, ok := d[name]
		assert.True(t, ok, "missing profile %q", name)
	}
}

func TestDefaultsPlannerIsWarmerThanImplementer(t *testing.T) {
	d := Defaults()
	assert.Greater(t, d[Planner].Temperature, d[Implementer].Temperature)
}

func TestDefaultsConsultantIsNearDeterministic(t *testing.T) {
	d := Defaults()
	assert.LessOrEqual(t, d[Consultant].Temperature, 0.1)
}
