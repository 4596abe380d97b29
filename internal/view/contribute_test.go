package view

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContributeFormTransitions(t *testing.T) {
	f := NewContributeForm(common.HexToAddress("0xC0FFEE"))
	assert.False(t, f.Visible())

	f, cmds := UpdateContribute(f, ContributeSubmitted{Value: "0.5"})
	assert.Equal(t, []Cmd{Cancel{Key: contributeTimer}, SendContribute{Value: "0.5"}}, cmds)
	assert.True(t, f.Op.Pending())

	_, cmds = UpdateContribute(f, ContributeSubmitted{Value: "1"})
	assert.Empty(t, cmds, "double submit while pending")

	f, cmds = UpdateContribute(f, ContributeDone{})
	require.Len(t, cmds, 1)
	sched := cmds[0].(Schedule)
	assert.Equal(t, ContributeTTL, sched.After)
	assert.Equal(t, StatusSuccess, f.Op.Status)
	assert.Equal(t, ContributeSuccessMessage, f.Op.Message)
	assert.Empty(t, f.Value)

	f, _ = UpdateContribute(f, sched.Msg)
	assert.Equal(t, StatusIdle, f.Op.Status)
}

func TestContributeErrorKeepsValue(t *testing.T) {
	f := NewContributeForm(common.Address{})
	f, _ = UpdateContribute(f, ContributeSubmitted{Value: "0.0001"})
	f, cmds := UpdateContribute(f, ContributeDone{Err: errors.New("execution reverted: contribution below minimum")})

	assert.Equal(t, StatusError, f.Op.Status)
	assert.Equal(t, "0.0001", f.Value)
	require.Len(t, cmds, 1)

	// resubmitting cancels the pending clear
	f, cmds = UpdateContribute(f, ContributeSubmitted{Value: "1"})
	assert.Equal(t, Cancel{Key: contributeTimer}, cmds[0])
	_, none := UpdateContribute(f, ClearContribute{Seq: f.Op.Seq - 1})
	assert.Empty(t, none)
}
