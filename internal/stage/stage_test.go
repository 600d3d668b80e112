package stage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderIsLinear(t *testing.T) {
	all := All()
	require.Len(t, all, 7)
	assert.Equal(t, Initial(), all[0])
	for i, s := range all {
		assert.Equal(t, i, Ordinal(s))
		if i == len(all)-1 {
			assert.True(t, IsTerminal(s))
			assert.Empty(t, AllowedNext(s))
			continue
		}
		assert.False(t, IsTerminal(s))
		assert.Equal(t, []Stage{all[i+1]}, AllowedNext(s))
	}
	assert.Equal(t, []Stage{Completed}, TerminalStages())
}

func TestEnsureTransition(t *testing.T) {
	assert.NoError(t, EnsureTransition(New, Intake))
	assert.NoError(t, EnsureTransition(ServiceDay, Completed))

	for _, tc := range []struct{ from, to Stage }{
		{New, Documents},
		{Intake, New},
		{Intake, Intake},
		{Completed, New},
		{Quote, Stage("ARCHIVED")},
	} {
		err := EnsureTransition(tc.from, tc.to)
		require.Error(t, err, "%s -> %s", tc.from, tc.to)
		assert.True(t, errors.Is(err, ErrInvalidTransition))
		var te TransitionError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, tc.from, te.From)
	}
}

func TestLookupNormalizes(t *testing.T) {
	st, ok := Lookup(" service_day ")
	assert.True(t, ok)
	assert.Equal(t, ServiceDay, st)

	_, ok = Lookup("ANY")
	assert.False(t, ok)
	assert.Equal(t, New, Parse("nonsense"))
	assert.Equal(t, 0, Ordinal("nonsense"))

	_, err := Require("nonsense")
	assert.ErrorIs(t, err, ErrUnknownStage)
}

func TestRolePermissions(t *testing.T) {
	assert.True(t, CanRoleTransition(New, RoleCoordinator))
	assert.True(t, CanRoleTransition(Documents, "Arranger"))
	assert.False(t, CanRoleTransition(Documents, RoleCoordinator))
	assert.False(t, CanRoleTransition(ServiceDay, RoleArranger))
	assert.True(t, CanRoleTransition(ServiceDay, RoleDirector))
	assert.False(t, CanRoleTransition(Completed, RoleAdmin))
	assert.False(t, CanRoleTransition(New, "intern"))
}

func TestAllowedNextReturnsCopy(t *testing.T) {
	next := AllowedNext(New)
	next[0] = Completed
	assert.Equal(t, []Stage{Intake}, AllowedNext(New))
}
