package engine

import (
	"testing"

	"github.com/dmitrijs2005/refsync/internal/client/models"
	"github.com/stretchr/testify/assert"
)

func TestDiff(t *testing.T) {
	local := map[string]models.LocalState{
		"SAME0001": {Key: "SAME0001", Version: 5, State: models.SyncStateSynced},
		"OLD00001": {Key: "OLD00001", Version: 3, State: models.SyncStateSynced},
		"FAILED01": {Key: "FAILED01", Version: 5, State: models.SyncStateNeedsSync},
		"PLACEHLD": {Key: "PLACEHLD", State: models.SyncStateDirty},
		"GONE0001": {Key: "GONE0001", Version: 2, State: models.SyncStateSynced},
		"EDITED01": {Key: "EDITED01", Version: 2, State: models.SyncStateSynced, Pending: true},
	}
	remote := map[string]int64{
		"SAME0001": 5,
		"OLD00001": 7,
		"FAILED01": 5,
		"NEW00001": 6,
	}

	tests := []struct {
		name string
		full bool
		want DiffResult
	}{
		{
			name: "incremental",
			want: DiffResult{
				UpToDate: []string{"SAME0001"},
				Download: []string{"FAILED01", "NEW00001", "OLD00001", "PLACEHLD"},
			},
		},
		{
			name: "full",
			full: true,
			want: DiffResult{
				UpToDate:           []string{"SAME0001"},
				Download:           []string{"FAILED01", "NEW00001", "OLD00001", "PLACEHLD"},
				Missing:            []string{"GONE0001"},
				ConflictingDeletes: []string{"EDITED01"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Diff(local, remote, tt.full))
		})
	}
}

func TestDiff_PendingRecordIsNotRefetched(t *testing.T) {
	local := map[string]models.LocalState{
		"EDITED01": {Key: "EDITED01", Version: 4, State: models.SyncStateNeedsSync, Pending: true},
	}
	res := Diff(local, map[string]int64{"EDITED01": 4}, false)
	assert.Equal(t, []string{"EDITED01"}, res.UpToDate)
	assert.Empty(t, res.Download)
}

func TestDiff_Empty(t *testing.T) {
	assert.Equal(t, DiffResult{}, Diff(nil, nil, true))
}
